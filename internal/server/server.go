package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/gin-gonic/gin"

	"github.com/supaocr/server/internal/config"
	"github.com/supaocr/server/internal/ocr"
	"github.com/supaocr/server/internal/ocr/openai"
	"github.com/supaocr/server/internal/ocr/vertex"
	"github.com/supaocr/server/internal/server/handler"
	"github.com/supaocr/server/internal/server/router"
	"github.com/supaocr/server/internal/server/service"
	"github.com/supaocr/server/internal/staging"
)

// Run starts the HTTP server.
func Run(cfg *config.Config, logger *slog.Logger) error {
	if logger == nil {
		logger = slog.Default()
	}

	// Set Gin mode based on environment
	if cfg.Server.Mode == "prod" {
		gin.SetMode(gin.ReleaseMode)
	} else {
		gin.SetMode(gin.DebugMode)
	}

	if err := CheckConfig(cfg, logger); err != nil {
		return err
	}

	// Build dependency chain
	model, err := NewModel(context.Background(), cfg.OCR, logger)
	if err != nil {
		// Degraded mode: the server answers health checks and every conversion
		// reports ConfigurationError.
		logger.Error("ocr.model_unavailable", "provider", cfg.OCR.Provider, "error", err)
	}
	if c, ok := model.(io.Closer); ok {
		defer c.Close()
	}

	svc := NewService(cfg, model, logger)
	r := NewEngine(cfg, svc, logger)

	// Start server
	addr := ":" + cfg.Server.Port
	logger.Info("server.listening",
		"addr", addr,
		"provider", cfg.OCR.Provider,
		"model", cfg.OCR.Model,
		"allowed_origins", cfg.Server.AllowedOrigins,
	)
	return r.Run(addr)
}

// CheckConfig validates cfg and logs credential diagnostics. A missing
// credential only fails startup when STRICT_CONFIG is set.
func CheckConfig(cfg *config.Config, logger *slog.Logger) error {
	for _, w := range cfg.KeyWarnings() {
		logger.Warn("config.key_warning", "warning", w)
	}
	if cfg.OCR.Provider == config.ProviderOpenAI && cfg.OCR.OpenAIKey != "" {
		logger.Info("config.key_loaded", "key", cfg.MaskedKey())
	}

	err := cfg.Validate()
	if err == nil {
		return nil
	}
	if errors.Is(err, config.ErrMissingCredential) && !cfg.Server.StrictConfig {
		logger.Warn("config.degraded", "error", err)
		return nil
	}
	return fmt.Errorf("invalid configuration: %w", err)
}

// NewModel builds the vision model for the configured provider. It returns
// a nil model and an error when the provider cannot be constructed.
func NewModel(ctx context.Context, cfg config.OCRConfig, logger *slog.Logger) (ocr.Model, error) {
	switch cfg.Provider {
	case config.ProviderOpenAI:
		if cfg.OpenAIKey == "" {
			return nil, config.ErrMissingCredential
		}
		return openai.NewClient(openai.Config{
			APIKey:  cfg.OpenAIKey,
			BaseURL: cfg.OpenAIBaseURL,
			Model:   cfg.Model,
		}, logger), nil
	case config.ProviderVertex:
		if cfg.VertexProjectID == "" {
			return nil, config.ErrMissingCredential
		}
		client, err := vertex.NewClient(ctx, vertex.Config{
			ProjectID:       cfg.VertexProjectID,
			Region:          cfg.VertexRegion,
			Model:           cfg.Model,
			CredentialsFile: cfg.CredentialsFile,
		}, logger)
		if err != nil {
			return nil, err
		}
		return client, nil
	default:
		return nil, fmt.Errorf("unknown OCR provider %q", cfg.Provider)
	}
}

// NewService wires the stager and the OCR processor into a conversion
// service. model may be nil.
func NewService(cfg *config.Config, model ocr.Model, logger *slog.Logger) *service.ConversionService {
	processor := ocr.NewProcessor(model, logger)
	if cfg.OCR.Concurrency > 0 {
		processor.Concurrency = cfg.OCR.Concurrency
	}
	processor.WorkDir = cfg.Server.UploadDir

	stager := staging.NewStager(cfg.Server.UploadDir, logger)
	return service.NewConversionService(processor, stager, service.Options{
		Model:          cfg.OCR.Model,
		MaintainFormat: cfg.OCR.MaintainFormat,
		Timeout:        cfg.OCR.ConvertTimeout,
	}, logger)
}

// NewEngine builds the handlers and the router around svc.
func NewEngine(cfg *config.Config, svc handler.ConversionService, logger *slog.Logger) *gin.Engine {
	convertHandler := handler.NewConvertHandler(svc, cfg.Server.MaxUploadBytes, logger)
	healthHandler := handler.NewHealthHandler(handler.Environment{
		CredentialConfigured: cfg.CredentialConfigured(),
		Provider:             cfg.OCR.Provider,
		Model:                cfg.OCR.Model,
		AllowedOrigins:       cfg.Server.AllowedOrigins,
		FrontendURL:          cfg.Server.FrontendURL,
		MaintainFormat:       cfg.OCR.MaintainFormat,
	})

	return router.New(router.Options{
		AllowedOrigins: cfg.Server.AllowedOrigins,
		Logger:         logger,
	}, convertHandler, healthHandler)
}
