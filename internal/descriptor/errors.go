package descriptor

import (
	"errors"
	"fmt"
)

// ConfigError signals a caller or setup bug rather than a runtime condition.
// It is never retried.
type ConfigError struct {
	ServerID string
	Field    string
	Reason   string
	Err      error
}

func newConfigError(serverID, field, reason string) *ConfigError {
	return &ConfigError{ServerID: serverID, Field: field, Reason: reason}
}

// NewConfigError wraps err as a configuration error for serverID
func NewConfigError(serverID, reason string, err error) *ConfigError {
	return &ConfigError{ServerID: serverID, Reason: reason, Err: err}
}

func (e *ConfigError) Error() string {
	msg := e.Reason
	if e.Field != "" {
		msg = fmt.Sprintf("%s: %s", e.Field, e.Reason)
	}
	if e.Err != nil && e.Reason == "" {
		msg = e.Err.Error()
	}
	if e.ServerID != "" {
		return fmt.Sprintf("invalid server %s configuration: %s", e.ServerID, msg)
	}
	return "invalid server configuration: " + msg
}

func (e *ConfigError) Unwrap() error {
	return e.Err
}

// IsConfigError reports whether err is or wraps a *ConfigError
func IsConfigError(err error) bool {
	var ce *ConfigError
	return errors.As(err, &ce)
}
