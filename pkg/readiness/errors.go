package readiness

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidConfiguration is returned synchronously when options are rejected.
	ErrInvalidConfiguration = errors.New("invalid readiness configuration")

	// ErrResourceUnavailable is reported by a PageResource that no longer exists
	// or can never answer again. Sessions finalize with ReasonError on it.
	ErrResourceUnavailable = errors.New("page resource unavailable")

	// ErrAlreadyStarted is returned when Start is called twice.
	ErrAlreadyStarted = errors.New("detection session already started")

	// ErrSessionClosed is returned when starting a cancelled session.
	ErrSessionClosed = errors.New("detection session closed")

	// errTooManyFailures finalizes a session after MaxQueryFailures consecutive transient failures.
	errTooManyFailures = errors.New("too many consecutive query failures")

	// errNotReady asks the retry loop for another attempt.
	errNotReady = errors.New("page not ready")
)

// ConfigError describes a rejected option.
type ConfigError struct {
	Field   string
	Message string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("%s: %s: %s", ErrInvalidConfiguration, e.Field, e.Message)
}

// Unwrap lets errors.Is match ErrInvalidConfiguration.
func (e *ConfigError) Unwrap() error {
	return ErrInvalidConfiguration
}

// IsUnavailable reports whether err means the resource is gone for good.
func IsUnavailable(err error) bool {
	return errors.Is(err, ErrResourceUnavailable)
}
