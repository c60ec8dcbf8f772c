package config

import (
	"fmt"

	env "github.com/Netflix/go-env"
)

// Config is the service configuration, loaded from the environment.
type Config struct {
	Port            int    `env:"PORT,default=8080"`
	DatabaseDSN     string `env:"DATABASE_DSN,required=true"`
	LogLevel        string `env:"LOG_LEVEL,default=info"`
	MaxUploadMB     int    `env:"MAX_UPLOAD_MB,default=10"`
	BatchSize       int    `env:"BATCH_SIZE,default=100"`
	SessionTTLMin   int    `env:"SESSION_TTL_MIN,default=30"`
	ProcessTimeout  int    `env:"PROCESS_TIMEOUT_MIN,default=10"`
	CleanupInterval int    `env:"CLEANUP_INTERVAL_MIN,default=5"`
	FieldSchemaPath string `env:"FIELD_SCHEMA_PATH"` // optional YAML override of the sanitizer column mapping
	AllowOrigins    string `env:"ALLOW_ORIGINS,default=*"`
}

// Load reads configuration from the environment.
func Load() (*Config, error) {
	var cfg Config
	if _, err := env.UnmarshalFromEnviron(&cfg); err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return &cfg, nil
}

// Addr is the listen address for the HTTP server.
func (c *Config) Addr() string {
	return fmt.Sprintf(":%d", c.Port)
}

// BodyLimit is the Echo body-limit string for uploads.
func (c *Config) BodyLimit() string {
	return fmt.Sprintf("%dM", c.MaxUploadMB+2) // headroom for multipart framing
}

// MaxUploadBytes is the hard cap on an uploaded workbook.
func (c *Config) MaxUploadBytes() int64 {
	return int64(c.MaxUploadMB) * 1024 * 1024
}
