package switcher

import (
	"context"
	"time"
)

// Adapter is the capability interface of the device control collaborator.
//
// Implementations own device discovery, the session handshake and command
// framing. Every method must honour ctx cancellation and return failures as
// *DeviceError so callers can classify them.
type Adapter interface {
	// Name identifies the implementation in logs and /health.
	Name() string

	// Discover listens for device announcements for up to window and
	// returns the first device found. KindNotFound when none answered.
	Discover(ctx context.Context, window time.Duration) (*DeviceStatus, error)

	// Locate resolves a reference to a session usable for this request only.
	Locate(ctx context.Context, ref DeviceRef) (*Session, error)

	// Send executes cmd against the located device. ActionStatus returns
	// the reading in Result.Status.
	Send(ctx context.Context, session *Session, cmd Command) (*Result, error)

	// ControlBreeze drives a Breeze unit through the given remote.
	ControlBreeze(ctx context.Context, cmd BreezeCommand) error
}
