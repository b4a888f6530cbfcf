package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"time"

	"github.com/caarlos0/env/v10"
	"github.com/joho/godotenv"
)

// ErrInvalidConfig is returned when a parsed value is outside its allowed range.
var ErrInvalidConfig = errors.New("invalid configuration")

// Config holds all runtime settings for the API server.
type Config struct {
	// Port the HTTP server listens on. The dashboard expects 8000.
	Port     string `env:"PORT"      envDefault:"8000"`
	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`

	// ProjectID enables Cloud Logging trace correlation when set.
	// GCP_PROJECT and GCLOUD_PROJECT are accepted as fallbacks.
	ProjectID string `env:"GOOGLE_CLOUD_PROJECT"`

	HTTP HTTPConfig
}

// HTTPConfig holds http.Server limits and the shutdown budget.
type HTTPConfig struct {
	ReadTimeout       time.Duration `env:"HTTP_READ_TIMEOUT"        envDefault:"5s"`
	ReadHeaderTimeout time.Duration `env:"HTTP_READ_HEADER_TIMEOUT" envDefault:"2s"`
	WriteTimeout      time.Duration `env:"HTTP_WRITE_TIMEOUT"       envDefault:"10s"`
	IdleTimeout       time.Duration `env:"HTTP_IDLE_TIMEOUT"        envDefault:"60s"`
	ShutdownTimeout   time.Duration `env:"SHUTDOWN_TIMEOUT"         envDefault:"10s"`
	MaxHeaderBytes    int           `env:"HTTP_MAX_HEADER_BYTES"    envDefault:"65536"`
	MaxRequestBytes   int64         `env:"MAX_REQUEST_BYTES"        envDefault:"1048576"`
}

// Load reads an optional dotenv file (ENV_FILE, default ".env") and then parses
// the process environment. Variables already set in the environment win over
// values from the file.
func Load() (Config, error) {
	path := os.Getenv("ENV_FILE")
	if path == "" {
		path = ".env"
	}
	if err := godotenv.Load(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Config{}, fmt.Errorf("load env file %s: %w", path, err)
	}

	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse environment: %w", err)
	}
	if cfg.ProjectID == "" {
		cfg.ProjectID = firstNonEmpty(os.Getenv("GCP_PROJECT"), os.Getenv("GCLOUD_PROJECT"))
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks value ranges that struct tags cannot express.
func (c Config) Validate() error {
	port, err := strconv.Atoi(c.Port)
	if err != nil || port < 1 || port > 65535 {
		return fmt.Errorf("%w: PORT %q must be a number between 1 and 65535", ErrInvalidConfig, c.Port)
	}
	durations := map[string]time.Duration{
		"HTTP_READ_TIMEOUT":        c.HTTP.ReadTimeout,
		"HTTP_READ_HEADER_TIMEOUT": c.HTTP.ReadHeaderTimeout,
		"HTTP_WRITE_TIMEOUT":       c.HTTP.WriteTimeout,
		"HTTP_IDLE_TIMEOUT":        c.HTTP.IdleTimeout,
		"SHUTDOWN_TIMEOUT":         c.HTTP.ShutdownTimeout,
	}
	for name, d := range durations {
		if d <= 0 {
			return fmt.Errorf("%w: %s must be positive, got %s", ErrInvalidConfig, name, d)
		}
	}
	if c.HTTP.MaxHeaderBytes <= 0 {
		return fmt.Errorf("%w: HTTP_MAX_HEADER_BYTES must be positive", ErrInvalidConfig)
	}
	if c.HTTP.MaxRequestBytes <= 0 {
		return fmt.Errorf("%w: MAX_REQUEST_BYTES must be positive", ErrInvalidConfig)
	}
	return nil
}

// Addr returns the listen address for http.Server.
func (c Config) Addr() string {
	return ":" + c.Port
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
