package switcher

import (
	"errors"
	"fmt"
)

// Sentinel errors. Check them with errors.Is:
//
//	if errors.Is(err, switcher.ErrUnreachable) {
//	    // device did not answer
//	}
var (
	// ErrInvalidRequest matches every *ValidationError.
	ErrInvalidRequest = errors.New("switcher: invalid request")

	// ErrUnreachable is returned when a device cannot be located or contacted.
	ErrUnreachable = errors.New("switcher: device unreachable")

	// ErrTimeout is returned when a device or the bridge did not answer in time.
	ErrTimeout = errors.New("switcher: device timeout")

	// ErrRejected is returned when a device refused the command.
	ErrRejected = errors.New("switcher: command rejected")

	// ErrNotFound is returned when a scan finished without finding a device.
	ErrNotFound = errors.New("switcher: no device found")

	// ErrUnavailable is returned when the control path itself is down
	// (for example the MQTT bridge is disconnected).
	ErrUnavailable = errors.New("switcher: control bridge unavailable")
)

// Validation error codes, returned verbatim in the "error" field of a 400.
const (
	CodeMissingDeviceID  = "missing_device_id"
	CodeInvalidDeviceID  = "invalid_device_id"
	CodeUnknownAction    = "unknown_action"
	CodeInvalidParameter = "invalid_parameter"
	CodeMissingParameter = "missing_parameter"
	CodeInvalidBody      = "invalid_body"
)

// ValidationError is a client-caused failure detected before any device call.
type ValidationError struct {
	Code    string
	Field   string
	Message string
}

// Error implements error.
func (e *ValidationError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("switcher: invalid request: %s: %s", e.Field, e.Message)
	}
	return "switcher: invalid request: " + e.Message
}

// Is lets errors.Is(err, ErrInvalidRequest) match any ValidationError.
func (e *ValidationError) Is(target error) bool {
	return target == ErrInvalidRequest
}

func invalid(code, field, format string, args ...any) *ValidationError {
	return &ValidationError{Code: code, Field: field, Message: fmt.Sprintf(format, args...)}
}

// ErrorKind classifies adapter failures.
type ErrorKind string

// Adapter failure kinds.
const (
	KindUnreachable ErrorKind = "unreachable"
	KindTimeout     ErrorKind = "timeout"
	KindRejected    ErrorKind = "rejected"
	KindNotFound    ErrorKind = "not_found"
	KindUnavailable ErrorKind = "unavailable"
)

// sentinel returns the package sentinel matching a kind, or nil.
func (k ErrorKind) sentinel() error {
	switch k {
	case KindUnreachable:
		return ErrUnreachable
	case KindTimeout:
		return ErrTimeout
	case KindRejected:
		return ErrRejected
	case KindNotFound:
		return ErrNotFound
	case KindUnavailable:
		return ErrUnavailable
	default:
		return nil
	}
}

// DeviceError is a collaborator- or network-caused failure.
type DeviceError struct {
	Kind   ErrorKind
	Op     Action
	Device string
	Err    error
}

// NewDeviceError builds a DeviceError. err may be nil.
func NewDeviceError(kind ErrorKind, op Action, device string, err error) *DeviceError {
	return &DeviceError{Kind: kind, Op: op, Device: device, Err: err}
}

// Error implements error.
func (e *DeviceError) Error() string {
	msg := fmt.Sprintf("switcher: %s %s", e.Op, e.Kind)
	if e.Device != "" {
		msg += " (device " + e.Device + ")"
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap returns the underlying cause.
func (e *DeviceError) Unwrap() error {
	return e.Err
}

// Is matches the sentinel for the error's kind.
func (e *DeviceError) Is(target error) bool {
	s := e.Kind.sentinel()
	return s != nil && target == s
}
