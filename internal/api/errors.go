package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/iyuvalk/switcher-breeze-rest/internal/switcher"
)

// Error is the body of every non-2xx response.
type Error struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}

// Error codes not produced by request validation.
const (
	ErrCodeUnauthorized      = "unauthorised"
	ErrCodeNotFound          = "not_found"
	ErrCodeMethodNotAllowed  = "method_not_allowed"
	ErrCodeInternal          = "internal_error"
	ErrCodeNoDevicesFound    = "no_devices_found"
	ErrCodeDeviceNotFound    = "device_not_found"
	ErrCodeDeviceUnreachable = "device_unreachable"
	ErrCodeDeviceTimeout     = "device_timeout"
	ErrCodeCommandRejected   = "command_rejected"
	ErrCodeBridgeUnavailable = "bridge_unavailable"
	ErrCodeJournalDisabled   = "journal_disabled"
)

// mapError classifies an adapter or validation outcome into an HTTP status
// and error code. Anything that is neither a *switcher.ValidationError nor a
// *switcher.DeviceError is an internal error.
//
// Parameters:
//   - err: Non-nil error returned while handling a request
//
// Returns:
//   - int: HTTP status code
//   - string: Value of the "error" field
func mapError(err error) (int, string) {
	var verr *switcher.ValidationError
	if errors.As(err, &verr) {
		return http.StatusBadRequest, verr.Code
	}

	var derr *switcher.DeviceError
	if !errors.As(err, &derr) {
		return http.StatusInternalServerError, ErrCodeInternal
	}

	switch derr.Kind {
	case switcher.KindUnreachable:
		return http.StatusGatewayTimeout, ErrCodeDeviceUnreachable
	case switcher.KindTimeout:
		return http.StatusGatewayTimeout, ErrCodeDeviceTimeout
	case switcher.KindRejected:
		return http.StatusBadGateway, ErrCodeCommandRejected
	case switcher.KindUnavailable:
		return http.StatusBadGateway, ErrCodeBridgeUnavailable
	case switcher.KindNotFound:
		// Scans name no device
		if derr.Device == "" {
			return http.StatusNotFound, ErrCodeNoDevicesFound
		}
		return http.StatusNotFound, ErrCodeDeviceNotFound
	default:
		return http.StatusInternalServerError, ErrCodeInternal
	}
}

// writeJSON writes a JSON response with the given status code and payload.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		//nolint:errcheck // Best-effort write to response; connection may be closed
		json.NewEncoder(w).Encode(v)
	}
}

// writeError writes a structured error response.
func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, Error{
		Error:   code,
		Message: message,
	})
}

// writeFailure maps err and writes the matching error response.
// Internal errors never expose their message to the client.
func writeFailure(w http.ResponseWriter, err error) {
	status, code := mapError(err)
	message := err.Error()
	if status == http.StatusInternalServerError {
		message = "internal server error"
	}
	var verr *switcher.ValidationError
	if errors.As(err, &verr) {
		message = verr.Message
	}
	writeError(w, status, code, message)
}

// writeUnauthorized writes a 401 error response.
func writeUnauthorized(w http.ResponseWriter, message string) {
	w.Header().Set("WWW-Authenticate", `Bearer realm="switcher-rest"`)
	writeError(w, http.StatusUnauthorized, ErrCodeUnauthorized, message)
}

// writeInternalError writes a 500 error response.
func writeInternalError(w http.ResponseWriter, message string) {
	writeError(w, http.StatusInternalServerError, ErrCodeInternal, message)
}
