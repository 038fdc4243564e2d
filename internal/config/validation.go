package config

import (
	"fmt"
	"net"
	"strings"
	"time"
)

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidationErrors is a collection of validation errors.
type ValidationErrors []ValidationError

func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return ""
	}
	msgs := make([]string, 0, len(e))
	for _, err := range e {
		msgs = append(msgs, err.Error())
	}
	return fmt.Sprintf("configuration validation failed:\n  - %s", strings.Join(msgs, "\n  - "))
}

// HasErrors returns true if there are any validation errors.
func (e ValidationErrors) HasErrors() bool {
	return len(e) > 0
}

// Validator validates configuration values.
type Validator struct {
	errors ValidationErrors
}

// NewValidator creates a new configuration validator.
func NewValidator() *Validator {
	return &Validator{errors: make(ValidationErrors, 0)}
}

func (v *Validator) addError(field, message string) {
	v.errors = append(v.errors, ValidationError{Field: field, Message: message})
}

// Validate validates the entire configuration and returns any errors.
func (v *Validator) Validate(cfg *Config) error {
	v.errors = make(ValidationErrors, 0)

	if cfg.Server.Address == "" {
		v.addError("server.address", "address is required")
	} else if _, _, err := net.SplitHostPort(cfg.Server.Address); err != nil {
		v.addError("server.address", "invalid address format, expected host:port or :port")
	}

	if cfg.Redis.Host == "" {
		v.addError("redis.host", "host is required")
	}
	if cfg.Redis.Port <= 0 || cfg.Redis.Port > 65535 {
		v.addError("redis.port", "port must be between 1 and 65535")
	}

	if cfg.MongoDB.URI == "" {
		v.addError("mongodb.uri", "uri is required")
	}
	if cfg.MongoDB.Database == "" {
		v.addError("mongodb.database", "database is required")
	}
	if cfg.MongoDB.Timeout <= 0 {
		v.addError("mongodb.timeout", "must be positive")
	}

	switch cfg.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		v.addError("log.level", "must be one of debug, info, warn, error")
	}
	switch cfg.Log.Output {
	case "", "stdout":
	case "file", "both":
		if cfg.Log.FilePath == "" {
			v.addError("log.file_path", "file_path is required when output is file or both")
		}
	default:
		v.addError("log.output", "must be one of stdout, file, both")
	}

	if _, err := time.LoadLocation(cfg.System.Timezone); err != nil {
		v.addError("system.timezone", "unknown timezone")
	}
	if cfg.System.NodeTimeout <= 0 {
		v.addError("system.node_timeout", "must be positive")
	}
	if cfg.System.TotalLogs <= 0 {
		v.addError("system.total_logs", "must be positive")
	}
	if cfg.Scheduler.ProgressInterval < time.Second {
		v.addError("scheduler.progress_interval", "must be at least 1s")
	}
	if cfg.Dedup.Workers <= 0 {
		v.addError("dedup.workers", "must be positive")
	}

	if v.errors.HasErrors() {
		return v.errors
	}
	return nil
}

// Validate is a shorthand for NewValidator().Validate(c).
func (c *Config) Validate() error {
	return NewValidator().Validate(c)
}
