// Package config loads service settings from the environment and experiment
// definitions from YAML files.
package config

import (
	"time"

	"github.com/caarlos0/env/v10"

	"github.com/copyleftdev/seqopt/internal/logging"
)

// Config holds the settings of the seqopt server.
type Config struct {
	Environment string `env:"ENV" envDefault:"development"`
	HTTP        struct {
		Port            int           `env:"HTTP_PORT" envDefault:"8080"`
		ReadTimeout     time.Duration `env:"HTTP_READ_TIMEOUT" envDefault:"30s"`
		WriteTimeout    time.Duration `env:"HTTP_WRITE_TIMEOUT" envDefault:"5m"`
		IdleTimeout     time.Duration `env:"HTTP_IDLE_TIMEOUT" envDefault:"120s"`
		ShutdownTimeout time.Duration `env:"HTTP_SHUTDOWN_TIMEOUT" envDefault:"30s"`
		RequestTimeout  time.Duration `env:"HTTP_REQUEST_TIMEOUT" envDefault:"2m"`
	}
	Logging struct {
		Level      string `env:"LOG_LEVEL"`
		Format     string `env:"LOG_FORMAT" envDefault:"json"`
		Output     string `env:"LOG_OUTPUT" envDefault:"stderr"`
		MaxSizeMB  int    `env:"LOG_MAX_SIZE_MB" envDefault:"100"`
		MaxBackups int    `env:"LOG_MAX_BACKUPS" envDefault:"5"`
		MaxAgeDays int    `env:"LOG_MAX_AGE_DAYS" envDefault:"28"`
		Compress   bool   `env:"LOG_COMPRESS" envDefault:"false"`
	}
	Sessions struct {
		// MaxSessions caps open ask/tell sessions; zero means unlimited.
		MaxSessions int `env:"SESSION_MAX" envDefault:"1000"`
		// IdleTTL evicts sessions without activity; zero disables eviction.
		IdleTTL time.Duration `env:"SESSION_IDLE_TTL" envDefault:"1h"`
	}
	Suite struct {
		// File is an experiment file whose tasks are served for remote
		// evaluation. Empty serves no tasks.
		File string `env:"SUITE_FILE"`
	}
}

// Load parses the environment. Variables carry the SEQOPT_ prefix, for
// example SEQOPT_HTTP_PORT.
func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.ParseWithOptions(cfg, env.Options{Prefix: "SEQOPT_"}); err != nil {
		return nil, err
	}

	// Set default logging level based on environment
	if cfg.Logging.Level == "" {
		if cfg.Environment == "development" {
			cfg.Logging.Level = "debug"
		} else {
			cfg.Logging.Level = "info"
		}
	}

	return cfg, nil
}

// LoggingConfig converts the logging settings for logging.NewLogger.
func (c *Config) LoggingConfig() *logging.Config {
	return &logging.Config{
		Level:      c.Logging.Level,
		Format:     c.Logging.Format,
		Output:     c.Logging.Output,
		MaxSizeMB:  c.Logging.MaxSizeMB,
		MaxBackups: c.Logging.MaxBackups,
		MaxAgeDays: c.Logging.MaxAgeDays,
		Compress:   c.Logging.Compress,
	}
}
