// Package switcher holds the domain model of the REST facade: device
// references, commands, the validation that turns raw request data into
// commands, and the Adapter contract implemented by whatever actually talks
// to the Switcher devices.
//
// # Request flow
//
//	raw path/query/body ──▶ Parse* ──▶ Command ──▶ Adapter.Locate ──▶ Adapter.Send
//	                           │
//	                           └──▶ *ValidationError (no adapter call)
//
// The facade never keeps device results between requests. An Adapter may
// keep whatever it needs internally (the Simulator keeps device state because
// it stands in for the physical devices), but nothing here caches outcomes.
//
// # Errors
//
// Validation failures are *ValidationError and match ErrInvalidRequest.
// Adapter failures are *DeviceError and match one of ErrUnreachable,
// ErrTimeout, ErrRejected, ErrNotFound or ErrUnavailable.
package switcher
