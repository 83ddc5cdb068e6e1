// Package player drives the external playback SDK through its asynchronous
// readiness lifecycle. The adapter is a readiness oracle: it produces the
// device id that transport commands are issued against, but the commands
// themselves go through the room service, which authorizes them.
package player

import "context"

// Config is what the SDK's player constructor takes: a display name, an
// OAuth-token-supplying callback and an initial volume.
type Config struct {
	Name   string
	Token  func() string
	Volume float64
}

// PlaybackState is the SDK's view of the transport.
type PlaybackState struct {
	TrackURI   string `json:"track_uri"`
	Paused     bool   `json:"paused"`
	PositionMS int    `json:"position_ms"`
	DurationMS int    `json:"duration_ms"`
}

// ErrorKind mirrors the SDK's error event channels.
type ErrorKind string

const (
	ErrInitialization ErrorKind = "initialization_error"
	ErrAuthentication ErrorKind = "authentication_error"
	ErrAccount        ErrorKind = "account_error"
	ErrPlayback       ErrorKind = "playback_error"
)

// Events are the SDK event subscriptions. All callbacks may be invoked from
// the driver's own goroutine.
type Events struct {
	Ready        func(deviceID string)
	NotReady     func(deviceID string)
	StateChanged func(state PlaybackState)
	Error        func(kind ErrorKind, message string)
}

// Connection is a live SDK connection. Disconnect must be safe to call
// more than once.
type Connection interface {
	Disconnect() error
}

// Driver abstracts the external SDK runtime. Load performs the equivalent
// of script injection and invokes onReady once the runtime is up;
// Connect constructs the player and starts delivering events.
type Driver interface {
	Load(ctx context.Context, onReady func()) error
	Connect(cfg Config, ev Events) (Connection, error)
}
