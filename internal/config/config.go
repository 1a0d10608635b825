// Package config provides configuration loading for backlogd.
package config

import (
	"fmt"
	"time"
)

// Config is the full backlogd configuration.
type Config struct {
	// SessionRoot is the directory holding session subdirectories.
	SessionRoot string `koanf:"session_root"`

	// ContinueOnError downgrades every error to non-fatal.
	ContinueOnError bool `koanf:"continue_on_error"`

	QA            QAConfig            `koanf:"qa"`
	Retry         RetryConfig         `koanf:"retry"`
	Logging       LoggingConfig       `koanf:"logging"`
	Collaborators CollaboratorsConfig `koanf:"collaborators"`
}

// CollaboratorsConfig names the external worker commands. Each entry is
// a shell command; see the collab package for the I/O conventions.
type CollaboratorsConfig struct {
	Decompose string `koanf:"decompose"`
	Execute   string `koanf:"execute"`
	Verify    string `koanf:"verify"`
}

// QAConfig configures the verification phase.
type QAConfig struct {
	// MaxBugs is the acceptance threshold: more bugs than this and the
	// run ends in QAFailed.
	MaxBugs int `koanf:"max_bugs"`
}

// RetryConfig configures collaborator-call retries.
type RetryConfig struct {
	MaxAttempts   int           `koanf:"max_attempts"`
	BaseDelay     time.Duration `koanf:"base_delay"`
	MaxDelay      time.Duration `koanf:"max_delay"`
	BackoffFactor float64       `koanf:"backoff_factor"`
	JitterFactor  float64       `koanf:"jitter_factor"`
}

// LoggingConfig configures the process logger.
type LoggingConfig struct {
	// Level is a zap level name: debug, info, warn, error.
	Level string `koanf:"level"`

	// Format is "json" or "console".
	Format string `koanf:"format"`
}

// Validate checks the configuration for invalid values.
func (c *Config) Validate() error {
	if c.SessionRoot == "" {
		return fmt.Errorf("session_root must not be empty")
	}
	if c.QA.MaxBugs < 0 {
		return fmt.Errorf("qa.max_bugs must not be negative")
	}
	if c.Retry.MaxAttempts < 1 {
		return fmt.Errorf("retry.max_attempts must be at least 1")
	}
	if c.Retry.BackoffFactor < 1 {
		return fmt.Errorf("retry.backoff_factor must be at least 1")
	}
	if c.Retry.JitterFactor < 0 || c.Retry.JitterFactor > 1 {
		return fmt.Errorf("retry.jitter_factor must be in [0, 1]")
	}
	if c.Retry.BaseDelay <= 0 || c.Retry.MaxDelay < c.Retry.BaseDelay {
		return fmt.Errorf("retry delays must satisfy 0 < base_delay <= max_delay")
	}
	switch c.Logging.Format {
	case "json", "console":
	default:
		return fmt.Errorf("logging.format must be json or console, got %q", c.Logging.Format)
	}
	return nil
}

// applyDefaults sets default values for missing configuration fields.
func applyDefaults(cfg *Config) {
	if cfg.SessionRoot == "" {
		cfg.SessionRoot = "plan"
	}
	if cfg.Retry.MaxAttempts == 0 {
		cfg.Retry.MaxAttempts = 3
	}
	if cfg.Retry.BaseDelay == 0 {
		cfg.Retry.BaseDelay = time.Second
	}
	if cfg.Retry.MaxDelay == 0 {
		cfg.Retry.MaxDelay = 30 * time.Second
	}
	if cfg.Retry.BackoffFactor == 0 {
		cfg.Retry.BackoffFactor = 2.0
	}
	if cfg.Retry.JitterFactor == 0 {
		cfg.Retry.JitterFactor = 0.2
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}
}
