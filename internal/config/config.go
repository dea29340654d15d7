package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Supported OCR providers.
const (
	ProviderOpenAI = "openai"
	ProviderVertex = "vertex"
)

const (
	DefaultModel          = "gpt-4o-mini"
	DefaultVertexModel    = "gemini-1.5-pro"
	DefaultAllowedOrigin  = "https://supaocr.vercel.app"
	DefaultMaxUploadBytes = 50 << 20
)

// ErrMissingCredential is reported when the selected provider has no credential.
var ErrMissingCredential = errors.New("missing OCR backend credential")

// Config holds all process configuration. It is built once in main and
// passed down explicitly.
type Config struct {
	Server ServerConfig
	OCR    OCRConfig
	Log    LogConfig
}

// ServerConfig holds HTTP-related configuration.
type ServerConfig struct {
	Port           string
	Mode           string
	AllowedOrigins []string
	FrontendURL    string
	UploadDir      string
	MaxUploadBytes int64
	StrictConfig   bool
}

// OCRConfig holds backend selection and credentials.
type OCRConfig struct {
	Provider        string
	Model           string
	OpenAIKey       string
	OpenAIBaseURL   string
	VertexProjectID string
	VertexRegion    string
	CredentialsFile string
	Concurrency     int
	MaintainFormat  bool
	ConvertTimeout  time.Duration
}

// LogConfig controls the slog handler.
type LogConfig struct {
	Level  string
	Format string
}

// Load reads an optional .env file and then the environment.
func Load() *Config {
	// A missing .env is normal outside local development.
	_ = godotenv.Load()
	return FromEnv()
}

// FromEnv builds a Config from the current environment only.
func FromEnv() *Config {
	provider := strings.ToLower(getEnv("OCR_PROVIDER", ProviderOpenAI))
	return &Config{
		Server: ServerConfig{
			Port:           getEnv("PORT", "8000"),
			Mode:           getEnv("MODE", "dev"),
			AllowedOrigins: getEnvAsList("ALLOWED_ORIGINS", []string{DefaultAllowedOrigin}),
			FrontendURL:    getEnv("FRONTEND_URL", ""),
			UploadDir:      getEnv("UPLOAD_DIR", os.TempDir()),
			MaxUploadBytes: getEnvAsInt64("MAX_UPLOAD_BYTES", DefaultMaxUploadBytes),
			StrictConfig:   getEnvAsBool("STRICT_CONFIG", false),
		},
		OCR: OCRConfig{
			Provider:        provider,
			Model:           getEnv("OCR_MODEL", DefaultModelFor(provider)),
			OpenAIKey:       getEnv("OPENAI_API_KEY", ""),
			OpenAIBaseURL:   getEnv("OPENAI_BASE_URL", ""),
			VertexProjectID: getEnv("VERTEX_PROJECT_ID", ""),
			VertexRegion:    getEnv("VERTEX_REGION", "us-central1"),
			CredentialsFile: getEnv("GOOGLE_APPLICATION_CREDENTIALS", ""),
			Concurrency:     getEnvAsInt("OCR_CONCURRENCY", 10),
			MaintainFormat:  getEnvAsBool("OCR_MAINTAIN_FORMAT", true),
			ConvertTimeout:  getEnvAsDuration("CONVERT_TIMEOUT", 0),
		},
		Log: LogConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "json"),
		},
	}
}

// DefaultModelFor returns the model used when OCR_MODEL is unset.
func DefaultModelFor(provider string) string {
	if provider == ProviderVertex {
		return DefaultVertexModel
	}
	return DefaultModel
}

// Validate checks that the selected provider can be constructed.
func (c *Config) Validate() error {
	switch c.OCR.Provider {
	case ProviderOpenAI:
		if c.OCR.OpenAIKey == "" {
			return fmt.Errorf("%w: OPENAI_API_KEY is required", ErrMissingCredential)
		}
	case ProviderVertex:
		if c.OCR.VertexProjectID == "" {
			return fmt.Errorf("%w: VERTEX_PROJECT_ID is required", ErrMissingCredential)
		}
	default:
		return fmt.Errorf("unknown OCR_PROVIDER %q", c.OCR.Provider)
	}
	if c.Server.MaxUploadBytes <= 0 {
		return fmt.Errorf("MAX_UPLOAD_BYTES must be positive, got %d", c.Server.MaxUploadBytes)
	}
	return nil
}

// CredentialConfigured reports whether the selected provider has a credential.
func (c *Config) CredentialConfigured() bool {
	switch c.OCR.Provider {
	case ProviderOpenAI:
		return c.OCR.OpenAIKey != ""
	case ProviderVertex:
		return c.OCR.VertexProjectID != ""
	}
	return false
}

// KeyWarnings returns diagnostics about the OpenAI key format. They are
// informational only; the key is still used as given.
func (c *Config) KeyWarnings() []string {
	if c.OCR.Provider != ProviderOpenAI {
		return nil
	}
	key := c.OCR.OpenAIKey
	switch {
	case key == "":
		return []string{"no OpenAI API key found"}
	case !strings.HasPrefix(key, "sk-"):
		return []string{"invalid OpenAI key format, expected prefix sk-"}
	case strings.Contains(key, "proj"):
		return []string{"project-scoped OpenAI key detected"}
	}
	return nil
}

// MaskedKey returns the first characters of the key for log lines.
func (c *Config) MaskedKey() string {
	key := c.OCR.OpenAIKey
	if len(key) <= 8 {
		return strings.Repeat("*", len(key))
	}
	return key[:8] + "..."
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvAsInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.ParseInt(value, 10, 64); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

func getEnvAsList(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	var out []string
	for _, item := range strings.Split(value, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	if len(out) == 0 {
		return defaultValue
	}
	return out
}
