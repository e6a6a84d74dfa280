package controller

import (
	"fmt"
	"time"
)

// ConnectionError indicates a device could not be reached or initialized,
// or that an operation requiring an open handle was called without one.
type ConnectionError struct {
	Serial string
	Err    error
}

func (e ConnectionError) Error() string {
	return fmt.Sprintf("connection to %s failed: %v", e.Serial, e.Err)
}

// Unwrap returns the underlying cause
func (e ConnectionError) Unwrap() error { return e.Err }

// CommunicationError indicates an open device failed or rejected an exchange
type CommunicationError struct {
	Serial string
	Op     string
	Err    error
}

func (e CommunicationError) Error() string {
	return fmt.Sprintf("%s: %s failed: %v", e.Serial, e.Op, e.Err)
}

// Unwrap returns the underlying cause
func (e CommunicationError) Unwrap() error { return e.Err }

// MovementError indicates a commanded motion failed outright or did not
// complete within its wait window.  Timeout is nonzero for the latter.
type MovementError struct {
	Serial  string
	Op      string
	Timeout time.Duration
	Err     error
}

func (e MovementError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s did not complete within %v", e.Serial, e.Op, e.Timeout)
	}
	return fmt.Sprintf("%s: %s failed: %v", e.Serial, e.Op, e.Err)
}

// Unwrap returns the underlying cause, nil for pure timeouts
func (e MovementError) Unwrap() error { return e.Err }

// ConfigurationError indicates invalid or missing configuration, for example
// a serial number with an unrecognized prefix or a channel out of range
type ConfigurationError struct {
	Msg string
}

func (e ConfigurationError) Error() string { return e.Msg }

// ErrUnsupported marks an operation that does not apply to a controller
// kind, for example homing an inertial driver.  It is a distinct result,
// not a failure of the device.
type ErrUnsupported struct {
	Kind string
	Op   string
}

func (e ErrUnsupported) Error() string {
	return fmt.Sprintf("%s does not support %s", e.Kind, e.Op)
}

// IsUnsupported reports whether err marks an inapplicable operation
func IsUnsupported(err error) bool {
	_, ok := err.(ErrUnsupported)
	return ok
}
