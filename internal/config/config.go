package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v10"
	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
)

// Config holds all configuration for the pack build service
type Config struct {
	Server struct {
		Port         int           `env:"PORT" envDefault:"8080" validate:"min=1,max=65535"`
		ReadTimeout  time.Duration `env:"READ_TIMEOUT" envDefault:"30s"`
		WriteTimeout time.Duration `env:"WRITE_TIMEOUT" envDefault:"2m"`
		BodyLimit    int           `env:"BODY_LIMIT" envDefault:"67108864" validate:"min=1"` // 64MB
	}

	GitHub struct {
		APIURL         string        `env:"GITHUB_API_URL" envDefault:"https://api.github.com" validate:"required,url"`
		Token          string        `env:"GITHUB_TOKEN"`
		Timeout        time.Duration `env:"GITHUB_TIMEOUT" envDefault:"30s"`
		MaxArchiveSize int64         `env:"GITHUB_MAX_ARCHIVE_SIZE" envDefault:"268435456" validate:"min=1"` // 256MB
	}

	Build struct {
		MaxConcurrentFetches int64         `env:"BUILD_MAX_CONCURRENT_FETCHES" envDefault:"16" validate:"min=1,max=256"`
		Timeout              time.Duration `env:"BUILD_TIMEOUT" envDefault:"5m"`
		RegistryFile         string        `env:"VERSION_REGISTRY_FILE"`
	}

	Cache struct {
		MaxSize int           `env:"CACHE_MAX_SIZE" envDefault:"256" validate:"min=1"`
		TTL     time.Duration `env:"CACHE_TTL" envDefault:"10m"`
	}

	Storage struct {
		DataDir      string `env:"DATA_DIR" envDefault:"./data"`
		KeepBuilds   bool   `env:"KEEP_BUILDS" envDefault:"false"`
		MaxArtifacts int    `env:"MAX_STORED_BUILDS" envDefault:"100" validate:"min=0"`
	}

	Security struct {
		CORSOrigins []string `env:"CORS_ORIGINS" envSeparator:"," validate:"cors_origins"`
	}

	Logging struct {
		Level  string `env:"LOG_LEVEL" envDefault:"info" validate:"oneof=debug info warn error"`
		Format string `env:"LOG_FORMAT" envDefault:"json" validate:"oneof=json text"`
	}
}

// Load loads configuration from environment variables and .env files
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{}

	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse environment variables: %w", err)
	}

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// Validate validates the configuration using struct tags
func Validate(cfg *Config) error {
	validator := validator.New()

	if err := validator.RegisterValidation("cors_origins", validateCORSOrigins); err != nil {
		return fmt.Errorf("failed to register cors_origins validation: %w", err)
	}

	if err := validator.Struct(cfg); err != nil {
		return formatValidationError(err)
	}

	return validateCustomRules(cfg)
}

// validateCORSOrigins validates CORS origins format
func validateCORSOrigins(fl validator.FieldLevel) bool {
	origins := fl.Field().Interface().([]string)
	for _, origin := range origins {
		origin = strings.TrimSpace(origin)
		if origin == "" {
			continue
		}
		if origin != "*" && !strings.HasPrefix(origin, "http://") && !strings.HasPrefix(origin, "https://") {
			return false
		}
	}
	return true
}

// validateCustomRules performs additional validation beyond struct tags
func validateCustomRules(cfg *Config) error {
	if cfg.Server.ReadTimeout < time.Millisecond {
		return fmt.Errorf("read timeout must be at least 1ms")
	}
	if cfg.Server.WriteTimeout < time.Millisecond {
		return fmt.Errorf("write timeout must be at least 1ms")
	}
	if cfg.GitHub.Timeout < time.Second {
		return fmt.Errorf("github timeout must be at least 1 second")
	}
	if cfg.Build.Timeout < time.Second {
		return fmt.Errorf("build timeout must be at least 1 second")
	}
	if cfg.Storage.KeepBuilds && cfg.Storage.DataDir == "" {
		return fmt.Errorf("data directory cannot be empty when builds are kept")
	}
	if cfg.Build.RegistryFile != "" {
		if _, err := os.Stat(cfg.Build.RegistryFile); err != nil {
			return fmt.Errorf("version registry file: %w", err)
		}
	}
	return nil
}

// EnsureDirectories creates all required directories
func (cfg *Config) EnsureDirectories() error {
	if !cfg.Storage.KeepBuilds || cfg.Storage.DataDir == "" {
		return nil
	}
	if err := os.MkdirAll(cfg.BuildsDir(), 0755); err != nil {
		return fmt.Errorf("cannot create directory %s: %w", cfg.BuildsDir(), err)
	}
	return nil
}

// BuildsDir is where stored build archives live
func (cfg *Config) BuildsDir() string {
	return strings.TrimRight(cfg.Storage.DataDir, "/") + "/builds"
}

// formatValidationError formats validation errors into readable messages
func formatValidationError(err error) error {
	if validationErrors, ok := err.(validator.ValidationErrors); ok {
		var messages []string
		for _, e := range validationErrors {
			switch e.Tag() {
			case "required":
				messages = append(messages, fmt.Sprintf("%s is required", e.Field()))
			case "min":
				messages = append(messages, fmt.Sprintf("%s must be at least %s", e.Field(), e.Param()))
			case "max":
				messages = append(messages, fmt.Sprintf("%s must be at most %s", e.Field(), e.Param()))
			case "oneof":
				messages = append(messages, fmt.Sprintf("%s must be one of: %s", e.Field(), e.Param()))
			case "url":
				messages = append(messages, fmt.Sprintf("%s must be a valid URL", e.Field()))
			case "cors_origins":
				messages = append(messages, fmt.Sprintf("%s contains invalid origin format", e.Field()))
			default:
				messages = append(messages, fmt.Sprintf("%s failed validation: %s", e.Field(), e.Tag()))
			}
		}
		return fmt.Errorf("validation errors: %s", strings.Join(messages, "; "))
	}
	return err
}
