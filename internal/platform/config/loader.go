package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"boxcount-server-go/internal/platform/errors"
)

// Loader reads configuration in layers: built-in defaults, an optional
// config.yaml, then environment variables (optionally seeded from .env).
type Loader struct {
	path      string
	useDotEnv bool
}

// NewLoader creates a loader that reads config.yaml from the working directory.
func NewLoader() *Loader {
	return &Loader{
		path:      "config.yaml",
		useDotEnv: true,
	}
}

// WithPath overrides the configuration file location.
func (l *Loader) WithPath(path string) *Loader {
	if path != "" {
		l.path = path
	}
	return l
}

// WithDotEnv toggles loading variables from a .env file before reading config.
func (l *Loader) WithDotEnv(enabled bool) *Loader {
	l.useDotEnv = enabled
	return l
}

// Result captures the loaded configuration and its origin.
type Result struct {
	Config *Config
	Path   string
}

// Load assembles the configuration and validates it. A missing config file is
// not an error; missing model credentials for the openai provider is.
func (l *Loader) Load() (*Result, error) {
	if l.useDotEnv {
		_ = godotenv.Load()
	}

	cfg := DefaultConfig()
	origin := "defaults"

	if data, err := os.ReadFile(l.path); err == nil {
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, errors.Wrap(errors.KindConfig, "config.load",
				fmt.Sprintf("failed to parse %s", l.path), err)
		}
		origin = l.path
	} else if !os.IsNotExist(err) {
		return nil, errors.Wrap(errors.KindConfig, "config.load",
			fmt.Sprintf("failed to read %s", l.path), err)
	}

	applyEnvOverrides(cfg)

	if err := l.validate(cfg); err != nil {
		return nil, err
	}

	return &Result{
		Config: cfg,
		Path:   origin,
	}, nil
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
	if v := os.Getenv("API_KEY"); v != "" {
		cfg.Server.AuthToken = v
	}
	if v := os.Getenv("OPENAI_API_KEY"); v != "" {
		cfg.Vision.APIKey = v
	}
	if v := os.Getenv("OPENAI_BASE_URL"); v != "" {
		cfg.Vision.BaseURL = v
	}
}

func (l *Loader) validate(cfg *Config) error {
	if cfg.Server.Port <= 0 || cfg.Server.Port > 65535 {
		return errors.New(errors.KindConfig, "config.validate",
			fmt.Sprintf("invalid server port: %d", cfg.Server.Port))
	}

	switch strings.ToLower(cfg.Vision.Type) {
	case "openai":
		if cfg.Vision.APIKey == "" {
			return errors.New(errors.KindConfig, "config.validate",
				"OPENAI_API_KEY must be set for the openai vision provider")
		}
	case "ollama":
		// No credentials required; the gateway falls back to the local default URL.
	default:
		return errors.New(errors.KindConfig, "config.validate",
			fmt.Sprintf("unsupported vision provider type: %s", cfg.Vision.Type))
	}

	if cfg.Vision.ModelName == "" {
		return errors.New(errors.KindConfig, "config.validate", "vision model_name is required")
	}
	if cfg.Upload.MaxFileSize <= 0 {
		return errors.New(errors.KindConfig, "config.validate",
			fmt.Sprintf("invalid upload max_file_size: %d", cfg.Upload.MaxFileSize))
	}

	return nil
}
