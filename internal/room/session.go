package room

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/party-room-system/internal/roomapi"
	"github.com/party-room-system/pkg/models"
)

// DefaultPollInterval is how often the session reconverges with the room
// service while joined.
const DefaultPollInterval = 3 * time.Second

// ErrNoUser is returned by Join when no local user record is present.
var ErrNoUser = errors.New("room: no local user")

// Session is the synchronization loop for one room: the single source of
// truth the presentation layer reads from. It owns the cached room state
// and participant list; every other component sees read-only snapshots.
//
// Consistency model: every mutating intent is followed by a forced refresh
// (read-after-write); interval refreshes converge writes made by other
// participants. A refresh that was in flight when a mutation landed is
// discarded via a generation counter so a stale read never overwrites the
// post-mutation state.
type Session struct {
	api      *roomapi.Client
	user     models.User
	code     string
	interval time.Duration
	log      zerolog.Logger

	mu           sync.Mutex
	state        *models.RoomState
	participants []models.RoomParticipant
	joined       bool
	host         bool
	lastErr      error
	deviceID     string
	deviceReady  bool
	playing      bool
	voteInFlight bool
	inFlight     int
	gen          uint64
}

func NewSession(api *roomapi.Client, user models.User, code string, interval time.Duration, logger zerolog.Logger) *Session {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	return &Session{
		api:      api,
		user:     user,
		code:     roomapi.NormalizeCode(code),
		interval: interval,
		log:      logger.With().Str("room", roomapi.NormalizeCode(code)).Logger(),
	}
}

// Code returns the normalized room code this session is bound to.
func (s *Session) Code() string { return s.code }

// Snapshot is an immutable view of the session for the presentation layer.
type Snapshot struct {
	RoomCode     string
	State        *models.RoomState
	Participants []models.RoomParticipant
	Joined       bool
	IsHost       bool
	DeviceID     string
	DeviceReady  bool
	Playing      bool
	VoteAllowed  bool
	ReadyToPlay  bool
	Progress     float64
	LastError    error
	ErrorKind    ErrorKind
}

// Snapshot returns a consistent copy of the cached view. Room state and
// participants are copied under one lock, so a refresh can never be
// observed half-applied.
func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap := Snapshot{
		RoomCode:    s.code,
		Joined:      s.joined,
		IsHost:      s.host,
		DeviceID:    s.deviceID,
		DeviceReady: s.deviceReady,
		Playing:     s.playing,
		VoteAllowed: VoteAllowed(s.state, s.joined, s.voteInFlight),
		LastError:   s.lastErr,
		ErrorKind:   Classify(s.lastErr),
	}

	if s.state != nil {
		st := *s.state
		if st.CurrentTrack != nil {
			tr := *st.CurrentTrack
			st.CurrentTrack = &tr
		}
		snap.State = &st
		snap.ReadyToPlay = ReadyToPlay(st.Likes, st.Room.LikeThreshold)
		snap.Progress = Progress(st.Likes, st.Room.LikeThreshold)
	}
	if len(s.participants) > 0 {
		snap.Participants = append([]models.RoomParticipant(nil), s.participants...)
	}
	return snap
}

// Refresh fetches room state and participants and replaces the cached
// copies atomically. On failure the previous cache is retained and the
// error recorded for display.
func (s *Session) Refresh(ctx context.Context) error {
	return s.refresh(ctx, true)
}

// refresh does the work of Refresh. Interval ticks (forced=false) are
// suppressed while another refresh is in flight; forced refreshes after a
// mutation always run, and the generation counter settles which result
// wins.
func (s *Session) refresh(ctx context.Context, forced bool) error {
	s.mu.Lock()
	if !forced && s.inFlight > 0 {
		s.mu.Unlock()
		return nil
	}
	s.inFlight++
	gen := s.gen
	s.mu.Unlock()

	state, err := s.api.GetRoomState(ctx, s.code)
	var parts *models.ParticipantList
	if err == nil {
		parts, err = s.api.GetParticipants(ctx, s.code)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.inFlight--

	if s.gen != gen {
		// A mutation landed while this refresh was in flight; its forced
		// refresh carries the newer state. Neither this result nor its
		// error applies anymore.
		return nil
	}
	if err != nil {
		// Keep the last good state and the previous host determination so
		// a transient failure does not blank the visible track or strip
		// host controls.
		s.lastErr = err
		return err
	}
	if ctx.Err() != nil {
		// Resolved after teardown; do not apply to a torn-down view.
		return ctx.Err()
	}

	s.state = state
	s.participants = parts.Participants
	s.host = IsHost(parts.Participants, s.user.SpotifyID)
	s.lastErr = nil
	return nil
}

// Join registers the local user as a participant and forces a refresh.
// The join flag is set only on success; a rejection leaves the session
// un-joined and polling never starts.
func (s *Session) Join(ctx context.Context) error {
	if s.user.SpotifyID == "" {
		return s.record(ErrNoUser)
	}

	if _, err := s.api.JoinRoom(ctx, s.code, s.user.SpotifyID); err != nil {
		return s.record(err)
	}

	s.mu.Lock()
	s.joined = true
	s.gen++
	s.lastErr = nil
	s.mu.Unlock()

	s.forceRefresh(ctx)
	return nil
}

// Vote submits a like/dislike for the current track. Double submission is
// suppressed while an earlier vote is outstanding.
func (s *Session) Vote(ctx context.Context, isLike bool) error {
	s.mu.Lock()
	switch {
	case !s.joined:
		s.mu.Unlock()
		return s.record(ErrNotJoined)
	case s.voteInFlight:
		s.mu.Unlock()
		return s.record(ErrVoteInFlight)
	case s.state == nil || s.state.CurrentTrack == nil || s.state.CurrentTrack.URI == "":
		s.mu.Unlock()
		return s.record(ErrNoCurrentTrack)
	}
	s.voteInFlight = true
	s.mu.Unlock()

	_, err := s.api.Vote(ctx, s.code, s.user.SpotifyID, isLike)

	s.mu.Lock()
	s.voteInFlight = false
	s.mu.Unlock()

	if err != nil {
		return s.record(err)
	}
	return s.afterMutation(ctx)
}

// RequestRandomTrack asks the service to pick a new current track. The
// affordance is host-gated in the presentation layer; the service is the
// final authority.
func (s *Session) RequestRandomTrack(ctx context.Context) error {
	if _, err := s.api.RandomTrack(ctx, s.code); err != nil {
		return s.record(err)
	}
	return s.afterMutation(ctx)
}

// AdvanceRound moves the room to the next round, invalidating the current
// tally.
func (s *Session) AdvanceRound(ctx context.Context) error {
	if _, err := s.api.NextRound(ctx, s.code); err != nil {
		return s.record(err)
	}
	return s.afterMutation(ctx)
}

// Play starts playback on the ready device. It requires both a Ready
// device id and a met threshold, and fails locally (no network call) when
// either is missing.
func (s *Session) Play(ctx context.Context) error {
	s.mu.Lock()
	if s.deviceID == "" || !s.deviceReady {
		s.mu.Unlock()
		return s.record(ErrNoDevice)
	}
	if s.state == nil || !ReadyToPlay(s.state.Likes, s.state.Room.LikeThreshold) {
		s.mu.Unlock()
		return s.record(ErrThresholdNotMet)
	}
	device := s.deviceID
	s.mu.Unlock()

	if _, err := s.api.Play(ctx, s.code, device); err != nil {
		return s.record(err)
	}

	s.mu.Lock()
	s.playing = true
	s.mu.Unlock()
	return s.afterMutation(ctx)
}

// Pause pauses playback on the ready device.
func (s *Session) Pause(ctx context.Context) error {
	return s.transport(ctx, s.api.Pause, false)
}

// Resume resumes playback on the ready device.
func (s *Session) Resume(ctx context.Context) error {
	return s.transport(ctx, s.api.Resume, true)
}

func (s *Session) transport(ctx context.Context, call func(context.Context, string, string) (*models.PlaybackAck, error), playing bool) error {
	s.mu.Lock()
	if s.deviceID == "" || !s.deviceReady {
		s.mu.Unlock()
		return s.record(ErrNoDevice)
	}
	device := s.deviceID
	s.mu.Unlock()

	if _, err := call(ctx, s.code, device); err != nil {
		return s.record(err)
	}

	s.mu.Lock()
	s.playing = playing
	s.mu.Unlock()
	return s.afterMutation(ctx)
}

// SetDevice feeds the playback adapter's readiness into the session. The
// device id is retained across a not-ready event, but transport intents
// check the ready flag before using it.
func (s *Session) SetDevice(deviceID string, ready bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if deviceID != "" {
		s.deviceID = deviceID
	}
	s.deviceReady = ready
	if !ready {
		s.playing = false
	}
}

// SetPlaying records the play/pause state reported by the device.
func (s *Session) SetPlaying(playing bool) {
	s.mu.Lock()
	s.playing = playing
	s.mu.Unlock()
}

// Run polls the service at the session's interval until ctx is cancelled.
// It must only be called after a successful Join. Refresh failures are
// isolated: each is recorded and overwritten by the next success.
func (s *Session) Run(ctx context.Context) error {
	s.mu.Lock()
	joined := s.joined
	s.mu.Unlock()
	if !joined {
		return ErrNotJoined
	}

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := s.refresh(ctx, false); err != nil && !errors.Is(err, context.Canceled) {
				s.log.Warn().Err(err).Str("kind", Classify(err).String()).Msg("refresh failed")
			}
		}
	}
}

// afterMutation bumps the generation so a refresh that started before the
// mutation can no longer apply, then forces a read of the post-mutation
// state. The intent itself already succeeded, so a refresh failure is
// recorded but not returned.
func (s *Session) afterMutation(ctx context.Context) error {
	s.mu.Lock()
	s.gen++
	s.lastErr = nil
	s.mu.Unlock()

	s.forceRefresh(ctx)
	return nil
}

func (s *Session) forceRefresh(ctx context.Context) {
	if err := s.refresh(ctx, true); err != nil && !errors.Is(err, context.Canceled) {
		s.log.Warn().Err(err).Msg("post-mutation refresh failed")
	}
}

func (s *Session) record(err error) error {
	s.mu.Lock()
	s.lastErr = err
	s.mu.Unlock()
	return err
}
