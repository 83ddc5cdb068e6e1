package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/party-room-system/internal/spotify"
	"github.com/party-room-system/pkg/database"
	"github.com/party-room-system/pkg/events"
	"github.com/party-room-system/pkg/models"
)

const (
	roomCachePrefix = "party:room:"
	roomCacheTTL    = 24 * time.Hour
	codeLength      = 6
)

// Rejection conditions, mapped to HTTP statuses by the handler.
var (
	ErrRoomNotFound    = errors.New("room not found")
	ErrUserNotFound    = errors.New("user not found")
	ErrNotParticipant  = errors.New("user is not a participant of this room")
	ErrNoCurrentTrack  = errors.New("no track is currently selected")
	ErrNoParticipants  = errors.New("room has no participants")
	ErrThresholdNotMet = errors.New("like threshold not met")
	ErrBadThreshold    = errors.New("like threshold must be positive")
)

type Service struct {
	db      *database.DB
	cache   *redis.Client
	events  *events.Publisher
	spotify *spotify.Client
	log     zerolog.Logger
}

func NewService(db *database.DB, cache *redis.Client, pub *events.Publisher, sp *spotify.Client, logger zerolog.Logger) *Service {
	return &Service{
		db:      db,
		cache:   cache,
		events:  pub,
		spotify: sp,
		log:     logger.With().Str("component", "room-service").Logger(),
	}
}

func (s *Service) CreateRoom(ctx context.Context, hostSpotifyID string, likeThreshold int) (*models.Room, error) {
	if likeThreshold <= 0 {
		return nil, ErrBadThreshold
	}

	host, err := s.db.GetUserBySpotifyID(hostSpotifyID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("failed to look up host: %w", err)
	}

	code, err := s.uniqueCode()
	if err != nil {
		return nil, err
	}

	room := &models.Room{
		ID:            uuid.New(),
		Code:          code,
		HostUserID:    host.ID,
		LikeThreshold: likeThreshold,
		Active:        true,
		CreatedAt:     time.Now(),
		UpdatedAt:     time.Now(),
	}
	if err := s.db.CreateRoom(room); err != nil {
		return nil, fmt.Errorf("failed to create room: %w", err)
	}

	// The host is the first participant, fixing host standing by join order.
	if err := s.db.AddParticipant(&models.Participant{
		ID:       uuid.New(),
		RoomID:   room.ID,
		UserID:   host.ID,
		JoinedAt: time.Now(),
	}); err != nil {
		return nil, fmt.Errorf("failed to add host participant: %w", err)
	}

	s.cacheRoom(ctx, room)
	return room, nil
}

func (s *Service) GetRoomByCode(ctx context.Context, code string) (*models.Room, error) {
	if s.cache != nil {
		raw, err := s.cache.Get(ctx, roomCachePrefix+code).Bytes()
		if err == nil {
			var room models.Room
			if err := json.Unmarshal(raw, &room); err == nil {
				return &room, nil
			}
		}
	}

	room, err := s.db.GetRoomByCode(code)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrRoomNotFound
		}
		return nil, fmt.Errorf("failed to get room: %w", err)
	}

	s.cacheRoom(ctx, room)
	return room, nil
}

func (s *Service) Join(ctx context.Context, code, spotifyID string) (*models.JoinAck, error) {
	room, err := s.GetRoomByCode(ctx, code)
	if err != nil {
		return nil, err
	}

	user, err := s.db.GetUserBySpotifyID(spotifyID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("failed to look up user: %w", err)
	}

	already, err := s.db.IsParticipant(room.ID, user.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to check membership: %w", err)
	}
	if already {
		return &models.JoinAck{Status: "already_in_room", RoomCode: room.Code}, nil
	}

	if err := s.db.AddParticipant(&models.Participant{
		ID:       uuid.New(),
		RoomID:   room.ID,
		UserID:   user.ID,
		JoinedAt: time.Now(),
	}); err != nil {
		return nil, fmt.Errorf("failed to add participant: %w", err)
	}

	if err := s.events.Publish(ctx, events.EventTypeParticipantJoined, room.Code, user.SpotifyID, nil); err != nil {
		s.log.Warn().Err(err).Msg("failed to publish join event")
	}

	return &models.JoinAck{Status: "joined", RoomCode: room.Code}, nil
}

func (s *Service) Participants(ctx context.Context, code string) (*models.ParticipantList, error) {
	room, err := s.GetRoomByCode(ctx, code)
	if err != nil {
		return nil, err
	}

	parts, err := s.db.GetParticipants(room.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to list participants: %w", err)
	}

	list := &models.ParticipantList{RoomCode: room.Code, Participants: make([]models.RoomParticipant, 0, len(parts))}
	for _, p := range parts {
		user, err := s.db.GetUserByID(p.UserID)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve participant user: %w", err)
		}
		list.Participants = append(list.Participants, models.RoomParticipant{
			UserID:      user.ID,
			SpotifyID:   user.SpotifyID,
			DisplayName: user.DisplayName,
			JoinedAt:    p.JoinedAt,
		})
	}
	return list, nil
}

func (s *Service) State(ctx context.Context, code string) (*models.RoomState, error) {
	// State reads mutable columns, so it always bypasses the cache.
	room, err := s.freshRoom(ctx, code)
	if err != nil {
		return nil, err
	}

	state := &models.RoomState{
		Room: models.RoomInfo{
			Code:          room.Code,
			LikeThreshold: room.LikeThreshold,
			Active:        room.Active,
		},
	}

	if room.CurrentTrackURI != "" {
		state.CurrentTrack = &models.Track{
			URI:      room.CurrentTrackURI,
			Name:     room.CurrentTrackName,
			Artists:  room.CurrentTrackArtists,
			ImageURL: room.CurrentTrackImage,
		}
		likes, err := s.db.CountLikes(room.ID, room.CurrentTrackURI)
		if err != nil {
			return nil, fmt.Errorf("failed to count likes: %w", err)
		}
		state.Likes = likes
	}
	return state, nil
}

func (s *Service) Vote(ctx context.Context, code, spotifyID string, isLike bool) (*models.VoteAck, error) {
	room, err := s.freshRoom(ctx, code)
	if err != nil {
		return nil, err
	}
	if room.CurrentTrackURI == "" {
		return nil, ErrNoCurrentTrack
	}

	user, err := s.db.GetUserBySpotifyID(spotifyID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("failed to look up user: %w", err)
	}

	member, err := s.db.IsParticipant(room.ID, user.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to check membership: %w", err)
	}
	if !member {
		return nil, ErrNotParticipant
	}

	if err := s.db.UpsertVote(&models.Vote{
		ID:        uuid.New(),
		RoomID:    room.ID,
		UserID:    user.ID,
		TrackURI:  room.CurrentTrackURI,
		IsLike:    isLike,
		CreatedAt: time.Now(),
	}); err != nil {
		return nil, fmt.Errorf("failed to store vote: %w", err)
	}

	likes, err := s.db.CountLikes(room.ID, room.CurrentTrackURI)
	if err != nil {
		return nil, fmt.Errorf("failed to count likes: %w", err)
	}

	if err := s.events.Publish(ctx, events.EventTypeVoteCast, room.Code, user.SpotifyID, events.VoteCastPayload{
		TrackURI: room.CurrentTrackURI,
		IsLike:   isLike,
		Likes:    likes,
	}); err != nil {
		s.log.Warn().Err(err).Msg("failed to publish vote event")
	}

	return &models.VoteAck{
		Status:        "vote_registered",
		RoomCode:      room.Code,
		TrackURI:      room.CurrentTrackURI,
		Likes:         likes,
		LikeThreshold: room.LikeThreshold,
		Play:          likes >= room.LikeThreshold,
	}, nil
}

// RandomTrack picks a random participant, then a random track from their
// listening history, and installs it as the room's current track.
func (s *Service) RandomTrack(ctx context.Context, code string) (*models.TrackSelection, error) {
	room, err := s.freshRoom(ctx, code)
	if err != nil {
		return nil, err
	}

	track, chosenBy, err := s.pickTrack(ctx, room)
	if err != nil {
		return nil, err
	}

	if err := s.installTrack(ctx, room, track, chosenBy); err != nil {
		return nil, err
	}

	return &models.TrackSelection{Status: "ok", RoomCode: room.Code, Track: track}, nil
}

// NextRound invalidates the current tally and selects the next track. When
// no track can be picked the round advances with an empty selection.
func (s *Service) NextRound(ctx context.Context, code string) (*models.TrackSelection, error) {
	room, err := s.freshRoom(ctx, code)
	if err != nil {
		return nil, err
	}

	if room.CurrentTrackURI != "" {
		if err := s.db.DeleteVotesForTrack(room.ID, room.CurrentTrackURI); err != nil {
			return nil, fmt.Errorf("failed to clear votes: %w", err)
		}
	}

	track, chosenBy, err := s.pickTrack(ctx, room)
	if err != nil {
		// Round still advances; the room just has no current track.
		s.log.Warn().Err(err).Str("room", room.Code).Msg("no track picked for next round")
		room.CurrentTrackURI = ""
		room.CurrentTrackName = ""
		room.CurrentTrackArtists = ""
		room.CurrentTrackImage = ""
		room.UpdatedAt = time.Now()
		if err := s.db.UpdateRoom(room); err != nil {
			return nil, fmt.Errorf("failed to update room: %w", err)
		}
		return &models.TrackSelection{Status: "advanced", RoomCode: room.Code}, nil
	}

	if err := s.installTrack(ctx, room, track, chosenBy); err != nil {
		return nil, err
	}

	if err := s.events.Publish(ctx, events.EventTypeRoundAdvanced, room.Code, "", nil); err != nil {
		s.log.Warn().Err(err).Msg("failed to publish round event")
	}

	return &models.TrackSelection{Status: "advanced", RoomCode: room.Code, Track: track}, nil
}

// Play verifies the threshold server-side and starts playback of the
// current track on the supplied device, using the host's capability token.
func (s *Service) Play(ctx context.Context, code, deviceID string) (*models.PlaybackAck, error) {
	room, err := s.freshRoom(ctx, code)
	if err != nil {
		return nil, err
	}
	if room.CurrentTrackURI == "" {
		return nil, ErrNoCurrentTrack
	}

	likes, err := s.db.CountLikes(room.ID, room.CurrentTrackURI)
	if err != nil {
		return nil, fmt.Errorf("failed to count likes: %w", err)
	}
	if likes < room.LikeThreshold {
		return nil, ErrThresholdNotMet
	}

	host, err := s.db.GetUserByID(room.HostUserID)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve host: %w", err)
	}

	if err := s.spotify.PlayTrack(ctx, host.AccessToken, deviceID, room.CurrentTrackURI); err != nil {
		return nil, fmt.Errorf("playback failed: %w", err)
	}

	if err := s.events.Publish(ctx, events.EventTypePlaybackStarted, room.Code, host.SpotifyID, events.PlaybackPayload{
		TrackURI: room.CurrentTrackURI,
		DeviceID: deviceID,
	}); err != nil {
		s.log.Warn().Err(err).Msg("failed to publish playback event")
	}

	return &models.PlaybackAck{Status: "playing", TrackURI: room.CurrentTrackURI}, nil
}

func (s *Service) Pause(ctx context.Context, code, deviceID string) (*models.PlaybackAck, error) {
	room, err := s.freshRoom(ctx, code)
	if err != nil {
		return nil, err
	}

	host, err := s.db.GetUserByID(room.HostUserID)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve host: %w", err)
	}

	if err := s.spotify.Pause(ctx, host.AccessToken, deviceID); err != nil {
		return nil, fmt.Errorf("pause failed: %w", err)
	}

	if err := s.events.Publish(ctx, events.EventTypePlaybackPaused, room.Code, host.SpotifyID, nil); err != nil {
		s.log.Warn().Err(err).Msg("failed to publish playback event")
	}

	return &models.PlaybackAck{Status: "paused"}, nil
}

func (s *Service) Resume(ctx context.Context, code, deviceID string) (*models.PlaybackAck, error) {
	room, err := s.freshRoom(ctx, code)
	if err != nil {
		return nil, err
	}

	host, err := s.db.GetUserByID(room.HostUserID)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve host: %w", err)
	}

	if err := s.spotify.Resume(ctx, host.AccessToken, deviceID); err != nil {
		return nil, fmt.Errorf("resume failed: %w", err)
	}

	return &models.PlaybackAck{Status: "playing", TrackURI: room.CurrentTrackURI}, nil
}

func (s *Service) pickTrack(ctx context.Context, room *models.Room) (*models.Track, string, error) {
	parts, err := s.db.GetParticipants(room.ID)
	if err != nil {
		return nil, "", fmt.Errorf("failed to list participants: %w", err)
	}
	if len(parts) == 0 {
		return nil, "", ErrNoParticipants
	}

	chosen := parts[rand.Intn(len(parts))]
	user, err := s.db.GetUserByID(chosen.UserID)
	if err != nil {
		return nil, "", fmt.Errorf("failed to resolve chosen participant: %w", err)
	}

	picked, err := s.spotify.PickRandomTrack(ctx, user.AccessToken)
	if err != nil {
		return nil, "", fmt.Errorf("failed to pick track: %w", err)
	}

	return &models.Track{
		URI:      picked.URI,
		Name:     picked.Name,
		Artists:  picked.ArtistNames(),
		ImageURL: picked.ImageURL(),
	}, user.SpotifyID, nil
}

func (s *Service) installTrack(ctx context.Context, room *models.Room, track *models.Track, chosenBy string) error {
	room.CurrentTrackURI = track.URI
	room.CurrentTrackName = track.Name
	room.CurrentTrackArtists = track.Artists
	room.CurrentTrackImage = track.ImageURL
	room.UpdatedAt = time.Now()

	if err := s.db.UpdateRoom(room); err != nil {
		return fmt.Errorf("failed to update room: %w", err)
	}

	if err := s.events.Publish(ctx, events.EventTypeTrackSelected, room.Code, chosenBy, events.TrackSelectedPayload{
		TrackURI:  track.URI,
		TrackName: track.Name,
		Artists:   track.Artists,
		ChosenBy:  chosenBy,
	}); err != nil {
		s.log.Warn().Err(err).Msg("failed to publish track event")
	}
	return nil
}

// freshRoom resolves the room directly from the database, bypassing the
// cache, for operations that read mutable columns.
func (s *Service) freshRoom(ctx context.Context, code string) (*models.Room, error) {
	room, err := s.db.GetRoomByCode(code)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrRoomNotFound
		}
		return nil, fmt.Errorf("failed to get room: %w", err)
	}
	return room, nil
}

func (s *Service) cacheRoom(ctx context.Context, room *models.Room) {
	if s.cache == nil {
		return
	}
	raw, err := json.Marshal(room)
	if err != nil {
		return
	}
	if err := s.cache.Set(ctx, roomCachePrefix+room.Code, raw, roomCacheTTL).Err(); err != nil {
		s.log.Warn().Err(err).Msg("failed to cache room")
	}
}

func (s *Service) uniqueCode() (string, error) {
	const charset = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	for attempt := 0; attempt < 10; attempt++ {
		code := make([]byte, codeLength)
		for i := range code {
			code[i] = charset[rand.Intn(len(charset))]
		}
		if _, err := s.db.GetRoomByCode(string(code)); errors.Is(err, gorm.ErrRecordNotFound) {
			return string(code), nil
		}
	}
	return "", fmt.Errorf("failed to generate unique room code")
}
