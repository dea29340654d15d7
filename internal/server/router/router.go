package router

import (
	"log/slog"

	"github.com/gin-gonic/gin"

	"github.com/supaocr/server/internal/server/middleware"
)

// ConvertHandler defines the interface for the conversion handler.
type ConvertHandler interface {
	HandleConvert(c *gin.Context)
}

// HealthHandler defines the interface for the health check handlers.
type HealthHandler interface {
	HandleRoot(c *gin.Context)
	HandleHealth(c *gin.Context)
}

// Options carries router-level settings.
type Options struct {
	AllowedOrigins []string
	Logger         *slog.Logger
}

// New wires up handlers to the Gin engine.
func New(opts Options, convert ConvertHandler, health HealthHandler) *gin.Engine {
	r := gin.New()

	// Request ID first so recovery and access logs can report it
	r.Use(
		middleware.WithRequestID(),
		middleware.WithRecovery(opts.Logger),
		middleware.WithAccessLog(opts.Logger),
		middleware.WithCORS(opts.AllowedOrigins, opts.Logger),
	)

	r.GET("/", health.HandleRoot)
	r.GET("/health", health.HandleHealth)
	r.POST("/convert", convert.HandleConvert)

	return r
}
