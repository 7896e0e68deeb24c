// internal/config/config.go
package config

import (
	"errors"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"

	apperrors "collab-sync/internal/errors"
)

// Config holds all configuration for the application.
type Config struct {
	LogLevel          string        `mapstructure:"LOG_LEVEL"`
	DBURL             string        `mapstructure:"DB_URL"`
	GithubToken       string        `mapstructure:"GITHUB_TOKEN"`
	HTTPAddr          string        `mapstructure:"HTTP_ADDR"`
	QueueSize         int           `mapstructure:"QUEUE_SIZE"`
	WorkerConcurrency int           `mapstructure:"WORKER_CONCURRENCY"`
	SyncInterval      time.Duration `mapstructure:"SYNC_INTERVAL"`
	ShutdownGrace     time.Duration `mapstructure:"SHUTDOWN_GRACE"`
}

// LoadConfig reads configuration from file and/or environment variables.
func LoadConfig() (*Config, error) {
	// Set default values
	viper.SetDefault("LOG_LEVEL", "info")
	viper.SetDefault("HTTP_ADDR", ":8080")
	viper.SetDefault("QUEUE_SIZE", 256)
	viper.SetDefault("WORKER_CONCURRENCY", 5)
	viper.SetDefault("SYNC_INTERVAL", "15m")
	viper.SetDefault("SHUTDOWN_GRACE", "2s")

	// Load from .env file if it exists
	viper.SetConfigName(".env")
	viper.SetConfigType("env")
	viper.AddConfigPath(".")
	_ = viper.ReadInConfig() // Ignore error if file not found

	// Bind environment variables
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	// Validate required fields
	if cfg.DBURL == "" {
		return nil, errors.New("DB_URL is a required configuration field")
	}
	if cfg.GithubToken == "" {
		return nil, errors.New("GITHUB_TOKEN is a required configuration field")
	}

	return &cfg, nil
}

// Credentials resolves a tracked repository's credential reference to an
// access token. A non-empty ref names an environment variable; an empty ref
// falls back to the configured default token.
type Credentials struct {
	Default string
}

func (c Credentials) Token(ref string) (string, error) {
	if ref != "" {
		if tok := os.Getenv(ref); tok != "" {
			return tok, nil
		}
		return "", apperrors.ErrMissingCredential
	}
	if c.Default == "" {
		return "", apperrors.ErrMissingCredential
	}
	return c.Default, nil
}
