package player

import (
	"context"
	"errors"
	"sync"

	"github.com/rs/zerolog"
)

// State is the adapter's position in the SDK lifecycle.
type State int

const (
	Uninitialized State = iota
	Loading
	Connecting
	Ready
	Disconnected
	Errored
)

func (s State) String() string {
	switch s {
	case Uninitialized:
		return "uninitialized"
	case Loading:
		return "loading"
	case Connecting:
		return "connecting"
	case Ready:
		return "ready"
	case Disconnected:
		return "disconnected"
	case Errored:
		return "errored"
	}
	return "unknown"
}

var (
	// ErrNoToken is returned when Start is called without a playback
	// capability token; only the host carries one.
	ErrNoToken = errors.New("player: playback capability token required")

	// ErrAlreadyStarted is returned when Start is called twice. Recovery
	// from the Errored state requires a fresh adapter.
	ErrAlreadyStarted = errors.New("player: adapter already started")
)

// Notification is pushed to the owner on every state change. Playback is
// non-nil only for state-changed events.
type Notification struct {
	State    State
	DeviceID string
	Cause    string
	Playback *PlaybackState
}

// Adapter runs the SDK readiness state machine:
//
//	Uninitialized -> Loading -> Connecting -> Ready <-> Disconnected
//	any state -> Errored
//
// The device id is captured on the SDK's ready event and retained through
// Disconnected, but it must not be used for transport while disconnected;
// the owner learns both facts from notifications.
type Adapter struct {
	driver Driver
	name   string
	volume float64
	log    zerolog.Logger
	notify func(Notification)

	mu       sync.Mutex
	state    State
	deviceID string
	cause    string
	conn     Connection
	closed   bool
}

func NewAdapter(driver Driver, name string, volume float64, logger zerolog.Logger, notify func(Notification)) *Adapter {
	if notify == nil {
		notify = func(Notification) {}
	}
	return &Adapter{
		driver: driver,
		name:   name,
		volume: volume,
		log:    logger.With().Str("component", "player").Logger(),
		notify: notify,
	}
}

// Start loads the SDK runtime for a host session. token supplies the
// playback capability token on demand (the SDK re-asks when it refreshes
// its connection).
func (a *Adapter) Start(ctx context.Context, token func() string) error {
	if token == nil || token() == "" {
		return ErrNoToken
	}

	a.mu.Lock()
	if a.state != Uninitialized {
		a.mu.Unlock()
		return ErrAlreadyStarted
	}
	a.state = Loading
	a.mu.Unlock()
	a.emit()

	err := a.driver.Load(ctx, func() {
		a.onRuntimeReady(Config{Name: a.name, Token: token, Volume: a.volume})
	})
	if err != nil {
		a.fail(ErrInitialization, err.Error())
		return err
	}
	return nil
}

func (a *Adapter) onRuntimeReady(cfg Config) {
	a.mu.Lock()
	if a.closed || a.state != Loading {
		a.mu.Unlock()
		return
	}
	a.state = Connecting
	a.mu.Unlock()
	a.emit()

	conn, err := a.driver.Connect(cfg, Events{
		Ready:        a.onReady,
		NotReady:     a.onNotReady,
		StateChanged: a.onStateChanged,
		Error:        a.onError,
	})
	if err != nil {
		a.fail(ErrInitialization, err.Error())
		return
	}

	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		_ = conn.Disconnect()
		return
	}
	a.conn = conn
	a.mu.Unlock()
}

func (a *Adapter) onReady(deviceID string) {
	a.mu.Lock()
	if a.closed || (a.state != Connecting && a.state != Disconnected) {
		a.mu.Unlock()
		return
	}
	a.state = Ready
	a.deviceID = deviceID
	a.mu.Unlock()

	a.log.Info().Str("device_id", deviceID).Msg("playback device ready")
	a.emit()
}

func (a *Adapter) onNotReady(deviceID string) {
	a.mu.Lock()
	if a.closed || a.state != Ready {
		a.mu.Unlock()
		return
	}
	// Device id retained for a later ready event, but reported unusable.
	a.state = Disconnected
	a.mu.Unlock()

	a.log.Warn().Str("device_id", deviceID).Msg("playback device went away")
	a.emit()
}

func (a *Adapter) onStateChanged(st PlaybackState) {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return
	}
	n := Notification{State: a.state, DeviceID: a.deviceID, Playback: &st}
	a.mu.Unlock()

	a.notify(n)
}

func (a *Adapter) onError(kind ErrorKind, message string) {
	a.fail(kind, message)
}

// fail moves the machine to Errored from any state and releases the live
// connection. No auto-retry: recovery requires a fresh adapter.
func (a *Adapter) fail(kind ErrorKind, message string) {
	a.mu.Lock()
	if a.closed || a.state == Errored {
		a.mu.Unlock()
		return
	}
	a.state = Errored
	a.cause = string(kind) + ": " + message
	conn := a.conn
	a.conn = nil
	a.mu.Unlock()

	if conn != nil {
		_ = conn.Disconnect()
	}
	a.log.Error().Str("kind", string(kind)).Str("message", message).Msg("playback error")
	a.emit()
}

// Close tears the adapter down, disconnecting a live connection if one
// exists. It is safe on every exit path, including after an error.
func (a *Adapter) Close() error {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return nil
	}
	a.closed = true
	conn := a.conn
	a.conn = nil
	a.mu.Unlock()

	if conn != nil {
		return conn.Disconnect()
	}
	return nil
}

// State returns the current lifecycle state.
func (a *Adapter) State() State {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state
}

// DeviceID returns the captured device id and whether it is currently
// usable for transport commands.
func (a *Adapter) DeviceID() (string, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.deviceID, a.state == Ready
}

// Cause returns the human-readable failure reason once Errored.
func (a *Adapter) Cause() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.cause
}

func (a *Adapter) emit() {
	a.mu.Lock()
	n := Notification{State: a.state, DeviceID: a.deviceID, Cause: a.cause}
	a.mu.Unlock()
	a.notify(n)
}
