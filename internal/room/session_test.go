package room

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/party-room-system/internal/roomapi"
	"github.com/party-room-system/pkg/models"
)

// fakeService is an in-memory stand-in for the room service, serving just
// the routes the session touches.
type fakeService struct {
	mu           sync.Mutex
	state        models.RoomState
	participants []models.RoomParticipant
	joinStatus   int
	failState    bool
	joinCalls    int
	voteCalls    int
	playCalls    int
	stateCalls   int
	onVote       func(isLike bool)

	// When set, the next /state response is held until stateBlock is
	// closed; stateEntered signals that the response is being held.
	stateBlock   chan struct{}
	stateEntered chan struct{}
}

func (f *fakeService) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/rooms/", func(w http.ResponseWriter, r *http.Request) {
		if strings.HasSuffix(r.URL.Path, "/state") {
			f.handleState(w)
			return
		}

		f.mu.Lock()
		defer f.mu.Unlock()

		switch {
		case strings.HasSuffix(r.URL.Path, "/join"):
			f.joinCalls++
			if f.joinStatus != 0 {
				w.WriteHeader(f.joinStatus)
				json.NewEncoder(w).Encode(map[string]string{"error": "room is closed"})
				return
			}
			json.NewEncoder(w).Encode(models.JoinAck{Status: "joined", RoomCode: f.state.Room.Code})

		case strings.HasSuffix(r.URL.Path, "/participants"):
			json.NewEncoder(w).Encode(models.ParticipantList{
				RoomCode:     f.state.Room.Code,
				Participants: f.participants,
			})

		case strings.HasSuffix(r.URL.Path, "/vote"):
			f.voteCalls++
			var req struct {
				IsLike bool `json:"is_like"`
			}
			json.NewDecoder(r.Body).Decode(&req)
			if f.onVote != nil {
				f.onVote(req.IsLike)
			}
			json.NewEncoder(w).Encode(models.VoteAck{
				Status:        "vote_registered",
				RoomCode:      f.state.Room.Code,
				Likes:         f.state.Likes,
				LikeThreshold: f.state.Room.LikeThreshold,
				Play:          f.state.Likes >= f.state.Room.LikeThreshold,
			})

		case strings.HasSuffix(r.URL.Path, "/play"):
			f.playCalls++
			json.NewEncoder(w).Encode(models.PlaybackAck{Status: "playing"})

		case strings.HasSuffix(r.URL.Path, "/pause"):
			json.NewEncoder(w).Encode(models.PlaybackAck{Status: "paused"})

		case strings.HasSuffix(r.URL.Path, "/resume"):
			json.NewEncoder(w).Encode(models.PlaybackAck{Status: "playing"})

		default:
			w.WriteHeader(http.StatusNotFound)
		}
	})
	return mux
}

// handleState snapshots the state under the lock but blocks outside it, so
// a held response never stalls the other routes. Failure is decided at
// response time so a held response can resolve into a failure.
func (f *fakeService) handleState(w http.ResponseWriter) {
	f.mu.Lock()
	f.stateCalls++
	state := f.state
	if state.CurrentTrack != nil {
		tr := *state.CurrentTrack
		state.CurrentTrack = &tr
	}
	block := f.stateBlock
	entered := f.stateEntered
	f.stateBlock = nil
	f.stateEntered = nil
	f.mu.Unlock()

	if block != nil {
		if entered != nil {
			entered <- struct{}{}
		}
		<-block
	}

	f.mu.Lock()
	fail := f.failState
	f.mu.Unlock()
	if fail {
		w.WriteHeader(http.StatusInternalServerError)
		json.NewEncoder(w).Encode(map[string]string{"error": "database unavailable"})
		return
	}
	json.NewEncoder(w).Encode(state)
}

func newFakeService() *fakeService {
	now := time.Now()
	return &fakeService{
		state: models.RoomState{
			Room: models.RoomInfo{Code: "ABC123", LikeThreshold: 3, Active: true},
			CurrentTrack: &models.Track{
				URI:     "spotify:track:deadbeef",
				Name:    "Track One",
				Artists: "Some Artist",
			},
			Likes: 2,
		},
		participants: []models.RoomParticipant{
			{SpotifyID: "alice", DisplayName: "Alice", JoinedAt: now},
			{SpotifyID: "bob", DisplayName: "Bob", JoinedAt: now.Add(time.Minute)},
		},
	}
}

func newTestSession(t *testing.T, f *fakeService, spotifyID string) *Session {
	t.Helper()
	srv := httptest.NewServer(f.handler())
	t.Cleanup(srv.Close)

	api := roomapi.NewClient(srv.URL)
	user := models.User{SpotifyID: spotifyID, DisplayName: spotifyID}
	return NewSession(api, user, "ABC123", DefaultPollInterval, zerolog.Nop())
}

func TestSessionJoinAndHost(t *testing.T) {
	f := newFakeService()
	s := newTestSession(t, f, "alice")

	if err := s.Join(context.Background()); err != nil {
		t.Fatalf("join: %v", err)
	}

	snap := s.Snapshot()
	if !snap.Joined {
		t.Error("expected joined after successful join")
	}
	if !snap.IsHost {
		t.Error("alice joined first and should be host")
	}
	if snap.State == nil || snap.State.CurrentTrack == nil {
		t.Fatal("expected room state cached after join")
	}
	if snap.State.CurrentTrack.Name != "Track One" {
		t.Errorf("unexpected track %q", snap.State.CurrentTrack.Name)
	}
	if snap.ReadyToPlay {
		t.Error("2 of 3 likes should not be ready to play")
	}
	if snap.Progress < 0.66 || snap.Progress > 0.67 {
		t.Errorf("progress = %v, want 2/3", snap.Progress)
	}
}

func TestSessionJoinRejectedStaysUnjoined(t *testing.T) {
	f := newFakeService()
	f.joinStatus = http.StatusForbidden
	s := newTestSession(t, f, "bob")

	err := s.Join(context.Background())
	if err == nil {
		t.Fatal("expected join rejection")
	}
	if !roomapi.IsRejection(err) {
		t.Errorf("expected rejection, got %v", err)
	}

	snap := s.Snapshot()
	if snap.Joined {
		t.Error("rejected join must leave the session un-joined")
	}
	if snap.ErrorKind != ErrorRejection {
		t.Errorf("error kind = %v, want rejection", snap.ErrorKind)
	}

	if err := s.Run(context.Background()); !errors.Is(err, ErrNotJoined) {
		t.Errorf("Run before join = %v, want ErrNotJoined", err)
	}
}

func TestSessionVoteCrossesThreshold(t *testing.T) {
	f := newFakeService()
	f.onVote = func(isLike bool) {
		if isLike {
			f.state.Likes++
		}
	}
	s := newTestSession(t, f, "bob")

	if err := s.Join(context.Background()); err != nil {
		t.Fatalf("join: %v", err)
	}

	if err := s.Vote(context.Background(), true); err != nil {
		t.Fatalf("vote: %v", err)
	}

	snap := s.Snapshot()
	if snap.State.Likes != 3 {
		t.Errorf("likes = %d, want 3", snap.State.Likes)
	}
	if !snap.ReadyToPlay {
		t.Error("threshold met, expected ready to play")
	}
	if f.voteCalls != 1 {
		t.Errorf("vote calls = %d, want 1", f.voteCalls)
	}
}

func TestSessionVotePreconditions(t *testing.T) {
	f := newFakeService()
	s := newTestSession(t, f, "bob")

	if err := s.Vote(context.Background(), true); !errors.Is(err, ErrNotJoined) {
		t.Errorf("vote before join = %v, want ErrNotJoined", err)
	}

	f.mu.Lock()
	f.state.CurrentTrack = nil
	f.mu.Unlock()

	if err := s.Join(context.Background()); err != nil {
		t.Fatalf("join: %v", err)
	}
	if err := s.Vote(context.Background(), true); !errors.Is(err, ErrNoCurrentTrack) {
		t.Errorf("vote without track = %v, want ErrNoCurrentTrack", err)
	}
	if f.voteCalls != 0 {
		t.Errorf("precondition failures must not reach the service, got %d calls", f.voteCalls)
	}

	snap := s.Snapshot()
	if snap.ErrorKind != ErrorPrecondition {
		t.Errorf("error kind = %v, want precondition", snap.ErrorKind)
	}
}

func TestSessionRefreshFailureKeepsCache(t *testing.T) {
	f := newFakeService()
	s := newTestSession(t, f, "alice")

	if err := s.Join(context.Background()); err != nil {
		t.Fatalf("join: %v", err)
	}

	f.mu.Lock()
	f.failState = true
	f.mu.Unlock()

	if err := s.Refresh(context.Background()); err == nil {
		t.Fatal("expected refresh failure")
	}

	snap := s.Snapshot()
	if snap.State == nil || snap.State.CurrentTrack == nil {
		t.Fatal("failed refresh must keep the last good state")
	}
	if !snap.IsHost {
		t.Error("failed refresh must keep the host determination")
	}
	if snap.ErrorKind != ErrorTransport {
		t.Errorf("error kind = %v, want transport", snap.ErrorKind)
	}

	f.mu.Lock()
	f.failState = false
	f.state.Likes = 3
	f.mu.Unlock()

	if err := s.Refresh(context.Background()); err != nil {
		t.Fatalf("refresh: %v", err)
	}
	snap = s.Snapshot()
	if snap.LastError != nil {
		t.Errorf("successful refresh must clear the error, got %v", snap.LastError)
	}
	if snap.State.Likes != 3 {
		t.Errorf("likes = %d, want 3", snap.State.Likes)
	}
}

func TestSessionRefreshIsIdempotent(t *testing.T) {
	f := newFakeService()
	s := newTestSession(t, f, "bob")

	if err := s.Join(context.Background()); err != nil {
		t.Fatalf("join: %v", err)
	}

	first := s.Snapshot()
	if err := s.Refresh(context.Background()); err != nil {
		t.Fatalf("refresh: %v", err)
	}
	second := s.Snapshot()

	if first.State.Likes != second.State.Likes ||
		first.State.Room != second.State.Room ||
		*first.State.CurrentTrack != *second.State.CurrentTrack {
		t.Errorf("refresh without mutation changed the cache:\n%+v\n%+v", first.State, second.State)
	}
	if len(first.Participants) != len(second.Participants) {
		t.Errorf("participant count changed: %d -> %d", len(first.Participants), len(second.Participants))
	}
}

func TestSessionStaleRefreshDiscardedAfterMutation(t *testing.T) {
	f := newFakeService()
	f.onVote = func(isLike bool) {
		if isLike {
			f.state.Likes++
		}
	}
	s := newTestSession(t, f, "bob")

	if err := s.Join(context.Background()); err != nil {
		t.Fatalf("join: %v", err)
	}

	// Hold the next /state response open: this refresh reads the
	// pre-mutation tally but resolves after the vote.
	block := make(chan struct{})
	entered := make(chan struct{}, 1)
	f.mu.Lock()
	f.stateBlock = block
	f.stateEntered = entered
	f.mu.Unlock()

	done := make(chan error, 1)
	go func() { done <- s.Refresh(context.Background()) }()
	<-entered

	if err := s.Vote(context.Background(), true); err != nil {
		t.Fatalf("vote: %v", err)
	}
	if got := s.Snapshot().State.Likes; got != 3 {
		t.Fatalf("likes after vote = %d, want 3", got)
	}

	close(block)
	if err := <-done; err != nil {
		t.Fatalf("stale refresh: %v", err)
	}

	// The stale result carried likes=2; it must not overwrite the
	// post-mutation cache.
	if got := s.Snapshot().State.Likes; got != 3 {
		t.Errorf("stale refresh overwrote the cache: likes = %d, want 3", got)
	}
}

func TestSessionTickSuppressedWhileRefreshInFlight(t *testing.T) {
	f := newFakeService()
	s := newTestSession(t, f, "bob")

	if err := s.Join(context.Background()); err != nil {
		t.Fatalf("join: %v", err)
	}
	f.mu.Lock()
	before := f.stateCalls
	f.stateBlock = make(chan struct{})
	f.stateEntered = make(chan struct{}, 1)
	block, entered := f.stateBlock, f.stateEntered
	f.mu.Unlock()

	done := make(chan error, 1)
	go func() { done <- s.Refresh(context.Background()) }()
	<-entered

	// An interval tick arriving while a refresh is in flight is skipped
	// without issuing a request.
	if err := s.refresh(context.Background(), false); err != nil {
		t.Fatalf("suppressed tick must return nil, got %v", err)
	}
	f.mu.Lock()
	during := f.stateCalls
	f.mu.Unlock()
	if during != before+1 {
		t.Errorf("state calls during in-flight refresh = %d, want %d", during, before+1)
	}

	close(block)
	if err := <-done; err != nil {
		t.Fatalf("held refresh: %v", err)
	}

	// With the refresh resolved, the next tick polls again.
	if err := s.refresh(context.Background(), false); err != nil {
		t.Fatalf("tick after refresh: %v", err)
	}
	f.mu.Lock()
	after := f.stateCalls
	f.mu.Unlock()
	if after != during+1 {
		t.Errorf("state calls after refresh resolved = %d, want %d", after, during+1)
	}
}

func TestSessionCancelledRefreshIsDiscarded(t *testing.T) {
	f := newFakeService()
	s := newTestSession(t, f, "bob")

	if err := s.Join(context.Background()); err != nil {
		t.Fatalf("join: %v", err)
	}

	block := make(chan struct{})
	entered := make(chan struct{}, 1)
	f.mu.Lock()
	f.state.Likes = 5
	f.stateBlock = block
	f.stateEntered = entered
	f.mu.Unlock()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Refresh(ctx) }()
	<-entered

	cancel()
	err := <-done
	close(block)

	if err == nil {
		t.Fatal("refresh resolving after cancellation must not report success")
	}
	if !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v, want context.Canceled in the chain", err)
	}
	if got := s.Snapshot().State.Likes; got != 2 {
		t.Errorf("cancelled refresh applied its result: likes = %d, want 2", got)
	}
}

func TestSessionStaleFailedRefreshDoesNotRecordError(t *testing.T) {
	f := newFakeService()
	f.onVote = func(isLike bool) {
		if isLike {
			f.state.Likes++
		}
	}
	s := newTestSession(t, f, "bob")

	if err := s.Join(context.Background()); err != nil {
		t.Fatalf("join: %v", err)
	}

	block := make(chan struct{})
	entered := make(chan struct{}, 1)
	f.mu.Lock()
	f.stateBlock = block
	f.stateEntered = entered
	f.mu.Unlock()

	done := make(chan error, 1)
	go func() { done <- s.Refresh(context.Background()) }()
	<-entered

	if err := s.Vote(context.Background(), true); err != nil {
		t.Fatalf("vote: %v", err)
	}

	// The held refresh now resolves into a failure. Its generation is
	// stale, so neither the result nor the error may land.
	f.mu.Lock()
	f.failState = true
	f.mu.Unlock()
	close(block)

	if err := <-done; err != nil {
		t.Fatalf("stale failed refresh must be discarded, got %v", err)
	}

	snap := s.Snapshot()
	if snap.LastError != nil {
		t.Errorf("stale failed refresh recorded an error: %v", snap.LastError)
	}
	if snap.State.Likes != 3 {
		t.Errorf("likes = %d, want 3", snap.State.Likes)
	}
}

func TestSessionRejectsPlaceholderCode(t *testing.T) {
	f := newFakeService()
	srv := httptest.NewServer(f.handler())
	t.Cleanup(srv.Close)

	api := roomapi.NewClient(srv.URL)
	s := NewSession(api, models.User{SpotifyID: "bob"}, "undefined", DefaultPollInterval, zerolog.Nop())

	err := s.Join(context.Background())
	if !errors.Is(err, roomapi.ErrInvalidRoomCode) {
		t.Fatalf("join = %v, want ErrInvalidRoomCode", err)
	}
	if f.joinCalls != 0 {
		t.Errorf("placeholder code must never reach the service, got %d calls", f.joinCalls)
	}
	if Classify(err) != ErrorPrecondition {
		t.Errorf("kind = %v, want precondition", Classify(err))
	}
}

func TestSessionPlayGates(t *testing.T) {
	f := newFakeService()
	s := newTestSession(t, f, "alice")

	if err := s.Join(context.Background()); err != nil {
		t.Fatalf("join: %v", err)
	}

	if err := s.Play(context.Background()); !errors.Is(err, ErrNoDevice) {
		t.Errorf("play without device = %v, want ErrNoDevice", err)
	}

	s.SetDevice("device-1", true)
	if err := s.Play(context.Background()); !errors.Is(err, ErrThresholdNotMet) {
		t.Errorf("play below threshold = %v, want ErrThresholdNotMet", err)
	}
	if f.playCalls != 0 {
		t.Errorf("gated play must not reach the service, got %d calls", f.playCalls)
	}

	f.mu.Lock()
	f.state.Likes = 3
	f.mu.Unlock()
	if err := s.Refresh(context.Background()); err != nil {
		t.Fatalf("refresh: %v", err)
	}

	if err := s.Play(context.Background()); err != nil {
		t.Fatalf("play: %v", err)
	}
	if f.playCalls != 1 {
		t.Errorf("play calls = %d, want 1", f.playCalls)
	}
	if !s.Snapshot().Playing {
		t.Error("expected playing after successful play")
	}

	// A device loss clears the playing flag and gates transport again.
	s.SetDevice("device-1", false)
	snap := s.Snapshot()
	if snap.Playing {
		t.Error("device loss must clear the playing flag")
	}
	if err := s.Pause(context.Background()); !errors.Is(err, ErrNoDevice) {
		t.Errorf("pause without ready device = %v, want ErrNoDevice", err)
	}
}
