package logging

import (
	"io"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/natefinch/lumberjack.v2"
)

// Config holds the configuration for the logger.
type Config struct {
	// Level is the minimum log level to output (DEBUG, INFO, WARN, ERROR, FATAL)
	Level string `yaml:"level"`
	// Format is the output format (json, text)
	Format string `yaml:"format"`
	// Output is the output destination (stdout, stderr, or file path)
	Output string `yaml:"output"`

	// Rotation settings used when Output is a file path.
	MaxSizeMB  int  `yaml:"max_size_mb"`
	MaxBackups int  `yaml:"max_backups"`
	MaxAgeDays int  `yaml:"max_age_days"`
	Compress   bool `yaml:"compress"`
}

// DefaultConfig returns the default logging configuration.
func DefaultConfig() *Config {
	return &Config{
		Level:      "info",
		Format:     FormatJSON,
		Output:     "stderr",
		MaxSizeMB:  100,
		MaxBackups: 5,
		MaxAgeDays: 28,
	}
}

// NewLogger creates a new logger with the given configuration. The returned
// closer releases the log file and is a no-op for the standard streams.
func NewLogger(cfg *Config) (*Logger, io.Closer, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}

	output, err := getOutput(cfg)
	if err != nil {
		return nil, nil, err
	}

	logger := New(ParseLevel(cfg.Level), output)
	if strings.EqualFold(cfg.Format, FormatText) {
		logger = logger.WithFormat(FormatText)
	}
	if lj, ok := output.(*lumberjack.Logger); ok {
		return logger, lj, nil
	}
	return logger, nopCloser{}, nil
}

// ParseLevel converts a string log level to LogLevel, defaulting to InfoLevel.
func ParseLevel(level string) LogLevel {
	switch strings.ToUpper(level) {
	case "DEBUG":
		return DebugLevel
	case "INFO":
		return InfoLevel
	case "WARN", "WARNING":
		return WarnLevel
	case "ERROR":
		return ErrorLevel
	case "FATAL":
		return FatalLevel
	default:
		return InfoLevel
	}
}

// getOutput returns the writer for the configured destination. Files are
// rotated by lumberjack.
func getOutput(cfg *Config) (io.Writer, error) {
	switch cfg.Output {
	case "stdout":
		return os.Stdout, nil
	case "", "stderr":
		return os.Stderr, nil
	default:
		if err := os.MkdirAll(filepath.Dir(cfg.Output), 0o755); err != nil {
			return nil, err
		}
		return &lumberjack.Logger{
			Filename:   cfg.Output,
			MaxSize:    cfg.MaxSizeMB, // megabytes
			MaxBackups: cfg.MaxBackups,
			MaxAge:     cfg.MaxAgeDays, // days
			Compress:   cfg.Compress,
		}, nil
	}
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
