package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// Environment reports configuration presence on /health. It never carries
// secret values.
type Environment struct {
	CredentialConfigured bool     `json:"credential_configured"`
	Provider             string   `json:"provider"`
	Model                string   `json:"model"`
	AllowedOrigins       []string `json:"allowed_origins"`
	FrontendURL          string   `json:"frontend_url,omitempty"`
	MaintainFormat       bool     `json:"maintain_format"`
}

// HealthHandler serves liveness and health checks.
type HealthHandler struct {
	env Environment
}

// NewHealthHandler builds the handler.
func NewHealthHandler(env Environment) *HealthHandler {
	return &HealthHandler{env: env}
}

// HandleRoot is the liveness check.
func (h *HealthHandler) HandleRoot(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// HandleHealth reports status and configuration presence.
func (h *HealthHandler) HandleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":      "ok",
		"environment": h.env,
	})
}
