package azureauth

import (
	"errors"
	"fmt"
)

var (
	// ErrNotConfigured is returned when no credential source applies.
	ErrNotConfigured = errors.New("azure authentication not configured")
	// ErrDeviceCodeTimeout is returned when the user does not finish a
	// device code login before the code expires.
	ErrDeviceCodeTimeout = errors.New("device code authentication timed out")
	// ErrInvalidConfiguration wraps configuration problems.
	ErrInvalidConfiguration = errors.New("invalid azure auth configuration")
)

// AcquisitionError reports a failed token request from one source.
type AcquisitionError struct {
	Source  string // "client_secret", "managed_identity", "azure_cli", ...
	Message string
	Cause   error
}

func (e *AcquisitionError) Error() string {
	msg := fmt.Sprintf("azure token acquisition failed (%s): %s", e.Source, e.Message)
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	return msg
}

func (e *AcquisitionError) Unwrap() error { return e.Cause }

func invalidConfig(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrInvalidConfiguration, fmt.Sprintf(format, args...))
}
