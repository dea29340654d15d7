package middleware

import (
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"github.com/supaocr/server/internal/requestid"
)

// WithCORS allows the configured origins. "*" allows every origin, without
// credentials. Entries that are not http(s) URLs are dropped.
func WithCORS(origins []string, logger *slog.Logger) gin.HandlerFunc {
	if logger == nil {
		logger = slog.Default()
	}
	cfg := cors.Config{
		AllowMethods:     []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete, http.MethodHead, http.MethodOptions},
		AllowHeaders:     []string{"Origin", "Content-Type", "Content-Length", "Accept", "Authorization", requestid.Header},
		ExposeHeaders:    []string{requestid.Header},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}

	for _, o := range origins {
		switch {
		case o == "*":
			cfg.AllowAllOrigins = true
		case strings.HasPrefix(o, "http://"), strings.HasPrefix(o, "https://"):
			cfg.AllowOrigins = append(cfg.AllowOrigins, strings.TrimRight(o, "/"))
		default:
			logger.Warn("cors.origin_ignored", "origin", o)
		}
	}
	if cfg.AllowAllOrigins {
		cfg.AllowOrigins = nil
		cfg.AllowCredentials = false
	}
	if !cfg.AllowAllOrigins && len(cfg.AllowOrigins) == 0 {
		// Nothing usable: deny cross-origin requests rather than panic in cors.New.
		return func(c *gin.Context) { c.Next() }
	}
	return cors.New(cfg)
}
