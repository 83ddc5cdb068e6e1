package player

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/rs/zerolog"
)

// fakeDriver records the config it was connected with and exposes the
// event callbacks so tests can drive the lifecycle by hand.
type fakeDriver struct {
	mu         sync.Mutex
	loadErr    error
	connectErr error
	cfg        Config
	events     Events
	conn       *fakeConn
}

type fakeConn struct {
	mu           sync.Mutex
	disconnected int
}

func (c *fakeConn) Disconnect() error {
	c.mu.Lock()
	c.disconnected++
	c.mu.Unlock()
	return nil
}

func (c *fakeConn) disconnects() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.disconnected
}

func (d *fakeDriver) Load(_ context.Context, onReady func()) error {
	if d.loadErr != nil {
		return d.loadErr
	}
	onReady()
	return nil
}

func (d *fakeDriver) Connect(cfg Config, ev Events) (Connection, error) {
	if d.connectErr != nil {
		return nil, d.connectErr
	}
	d.mu.Lock()
	d.cfg = cfg
	d.events = ev
	d.conn = &fakeConn{}
	conn := d.conn
	d.mu.Unlock()
	return conn, nil
}

type recorder struct {
	mu     sync.Mutex
	states []State
}

func (r *recorder) notify(n Notification) {
	r.mu.Lock()
	r.states = append(r.states, n.State)
	r.mu.Unlock()
}

func (r *recorder) seen() []State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]State(nil), r.states...)
}

func newTestAdapter(t *testing.T, d *fakeDriver) (*Adapter, *recorder) {
	t.Helper()
	rec := &recorder{}
	a := NewAdapter(d, "Test Player", 0.5, zerolog.Nop(), rec.notify)
	t.Cleanup(func() { a.Close() })
	return a, rec
}

func token() string { return "access-token" }

func TestAdapterLifecycle(t *testing.T) {
	d := &fakeDriver{}
	a, rec := newTestAdapter(t, d)

	if a.State() != Uninitialized {
		t.Fatalf("initial state = %v", a.State())
	}

	if err := a.Start(context.Background(), token); err != nil {
		t.Fatalf("start: %v", err)
	}
	if a.State() != Connecting {
		t.Fatalf("state after load = %v, want connecting", a.State())
	}
	if d.cfg.Name != "Test Player" || d.cfg.Token() != "access-token" {
		t.Errorf("driver connected with wrong config: %+v", d.cfg)
	}

	d.events.Ready("device-42")
	if a.State() != Ready {
		t.Fatalf("state after ready = %v, want ready", a.State())
	}
	id, usable := a.DeviceID()
	if id != "device-42" || !usable {
		t.Errorf("DeviceID() = %q, %v; want device-42, true", id, usable)
	}

	d.events.NotReady("device-42")
	if a.State() != Disconnected {
		t.Fatalf("state after not_ready = %v, want disconnected", a.State())
	}
	id, usable = a.DeviceID()
	if id != "device-42" {
		t.Error("device id must be retained through disconnection")
	}
	if usable {
		t.Error("disconnected device must not be reported usable")
	}

	// The SDK can come back; the adapter follows it.
	d.events.Ready("device-42")
	if a.State() != Ready {
		t.Fatalf("state after re-ready = %v, want ready", a.State())
	}

	want := []State{Loading, Connecting, Ready, Disconnected, Ready}
	got := rec.seen()
	if len(got) != len(want) {
		t.Fatalf("notifications = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("notification %d = %v, want %v", i, got[i], want[i])
		}
	}
}

func TestAdapterStartRequiresToken(t *testing.T) {
	a, _ := newTestAdapter(t, &fakeDriver{})

	if err := a.Start(context.Background(), nil); !errors.Is(err, ErrNoToken) {
		t.Errorf("start without token = %v, want ErrNoToken", err)
	}
	if err := a.Start(context.Background(), func() string { return "" }); !errors.Is(err, ErrNoToken) {
		t.Errorf("start with empty token = %v, want ErrNoToken", err)
	}
	if a.State() != Uninitialized {
		t.Errorf("failed start must not advance the state, got %v", a.State())
	}
}

func TestAdapterStartTwice(t *testing.T) {
	d := &fakeDriver{}
	a, _ := newTestAdapter(t, d)

	if err := a.Start(context.Background(), token); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := a.Start(context.Background(), token); !errors.Is(err, ErrAlreadyStarted) {
		t.Errorf("second start = %v, want ErrAlreadyStarted", err)
	}
}

func TestAdapterErrorIsTerminal(t *testing.T) {
	d := &fakeDriver{}
	a, _ := newTestAdapter(t, d)

	if err := a.Start(context.Background(), token); err != nil {
		t.Fatalf("start: %v", err)
	}
	d.events.Ready("device-42")

	d.events.Error(ErrAuthentication, "token expired")
	if a.State() != Errored {
		t.Fatalf("state after error = %v, want errored", a.State())
	}
	if a.Cause() != "authentication_error: token expired" {
		t.Errorf("cause = %q", a.Cause())
	}
	if d.conn.disconnects() == 0 {
		t.Error("error must release the live connection")
	}

	// Terminal: later events are ignored.
	d.events.Ready("device-42")
	if a.State() != Errored {
		t.Errorf("errored adapter must ignore later events, got %v", a.State())
	}
	if _, usable := a.DeviceID(); usable {
		t.Error("errored adapter must not report a usable device")
	}
}

func TestAdapterLoadFailure(t *testing.T) {
	d := &fakeDriver{loadErr: errors.New("runtime unavailable")}
	a, _ := newTestAdapter(t, d)

	if err := a.Start(context.Background(), token); err == nil {
		t.Fatal("expected load failure")
	}
	if a.State() != Errored {
		t.Errorf("state after load failure = %v, want errored", a.State())
	}
}

func TestAdapterCloseDisconnects(t *testing.T) {
	d := &fakeDriver{}
	a, _ := newTestAdapter(t, d)

	if err := a.Start(context.Background(), token); err != nil {
		t.Fatalf("start: %v", err)
	}
	d.events.Ready("device-42")

	if err := a.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if d.conn.disconnects() != 1 {
		t.Errorf("disconnects = %d, want 1", d.conn.disconnects())
	}

	// Idempotent.
	if err := a.Close(); err != nil {
		t.Fatalf("second close: %v", err)
	}
	if d.conn.disconnects() != 1 {
		t.Errorf("second close must not disconnect again, got %d", d.conn.disconnects())
	}
}
