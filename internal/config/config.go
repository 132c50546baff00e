package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v2"
)

// envPrefix namespaces environment overrides, e.g. HERMES_SERVER_PORT.
const envPrefix = "HERMES"

// ErrNotFound is returned by Load when the config file does not exist.
// Callers decide whether a missing file is fatal; the dispatch core
// never handles it.
var ErrNotFound = errors.New("config: file not found")

// Config is the complete application configuration.
type Config struct {
	Server    ServerConfig    `yaml:"server" envconfig:"SERVER"`
	CORS      CORSConfig      `yaml:"cors" envconfig:"CORS"`
	Logging   LoggingConfig   `yaml:"logging" envconfig:"LOGGING"`
	RateLimit RateLimitConfig `yaml:"rate_limit" envconfig:"RATE_LIMIT"`
}

// ServerConfig contains the listener and lifecycle settings.
type ServerConfig struct {
	Host            string        `yaml:"host" envconfig:"HOST"`
	Port            int           `yaml:"port" envconfig:"PORT" validate:"min=0,max=65535"`
	BasePath        string        `yaml:"base_path" envconfig:"BASE_PATH" validate:"omitempty,startswith=/"`
	CertFile        string        `yaml:"cert_file" envconfig:"CERT_FILE" validate:"required_with=KeyFile"`
	KeyFile         string        `yaml:"key_file" envconfig:"KEY_FILE" validate:"required_with=CertFile"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" envconfig:"SHUTDOWN_TIMEOUT"`
}

// CORSConfig mirrors the dispatch CORS policy settings.
type CORSConfig struct {
	Enabled     bool     `yaml:"enabled" envconfig:"ENABLED"`
	Origins     []string `yaml:"origins" envconfig:"ORIGINS"`
	Methods     []string `yaml:"methods" envconfig:"METHODS"`
	Headers     []string `yaml:"headers" envconfig:"HEADERS"`
	Credentials bool     `yaml:"credentials" envconfig:"CREDENTIALS"`
}

// LoggingConfig contains logging configuration.
type LoggingConfig struct {
	Level    string `yaml:"level" envconfig:"LEVEL" validate:"omitempty,oneof=debug info warn error"`
	Output   string `yaml:"output" envconfig:"OUTPUT" validate:"omitempty,oneof=stdout file both"`
	FilePath string `yaml:"file_path" envconfig:"FILE_PATH"`
}

// RateLimitConfig gates the built-in rate limit middleware.
type RateLimitConfig struct {
	Enabled bool    `yaml:"enabled" envconfig:"ENABLED"`
	RPS     float64 `yaml:"rps" envconfig:"RPS" validate:"gte=0"`
	Burst   int     `yaml:"burst" envconfig:"BURST" validate:"gte=0"`
}

var validate = validator.New()

// Load reads configuration from the YAML file at path, applies
// environment overrides (HERMES_* variables take precedence over file
// values, which is how the port override from the hosting environment
// is picked up), fills remaining defaults and validates the result.
//
// A missing file surfaces as ErrNotFound; a malformed one as a wrapped
// parse error.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, path)
		}
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}

	if err := envconfig.Process(envPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("config: env overrides: %w", err)
	}
	applyDefaults(&cfg)

	if err := validate.Struct(&cfg); err != nil {
		return nil, fmt.Errorf("config: validation failed: %w", err)
	}
	return &cfg, nil
}

// applyDefaults fills zero values that neither the file nor the
// environment set.
func applyDefaults(cfg *Config) {
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Server.ShutdownTimeout == 0 {
		cfg.Server.ShutdownTimeout = 30 * time.Second
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Output == "" {
		cfg.Logging.Output = "stdout"
	}
	if cfg.Logging.FilePath == "" {
		cfg.Logging.FilePath = "logs/hermes.log"
	}
	if cfg.RateLimit.RPS == 0 {
		cfg.RateLimit.RPS = 100
	}
	if cfg.RateLimit.Burst == 0 {
		cfg.RateLimit.Burst = 50
	}
}

// Default returns the built-in configuration used when no config file
// is present.
func Default() *Config {
	var cfg Config
	applyDefaults(&cfg)
	return &cfg
}
