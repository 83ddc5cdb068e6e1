package models

import (
	"time"

	"github.com/google/uuid"
)

// User is a Spotify-authenticated participant. AccessToken is the playback
// capability token and is only populated for the user's own record (the
// room service never returns another participant's token).
type User struct {
	ID           uuid.UUID `json:"id" gorm:"primaryKey"`
	SpotifyID    string    `json:"spotify_id" gorm:"unique"`
	DisplayName  string    `json:"display_name"`
	Email        string    `json:"email,omitempty"`
	AccessToken  string    `json:"access_token,omitempty"`
	RefreshToken string    `json:"-"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// Room is the authoritative room record. The current track columns are
// replaced wholesale whenever a new track is selected; LikeThreshold is
// fixed at creation.
type Room struct {
	ID                  uuid.UUID `json:"id" gorm:"primaryKey"`
	Code                string    `json:"code" gorm:"unique"`
	HostUserID          uuid.UUID `json:"host_user_id"`
	LikeThreshold       int       `json:"like_threshold"`
	Active              bool      `json:"is_active"`
	CurrentTrackURI     string    `json:"current_track_uri"`
	CurrentTrackName    string    `json:"current_track_name"`
	CurrentTrackArtists string    `json:"current_track_artists"`
	CurrentTrackImage   string    `json:"current_track_image_url"`
	CreatedAt           time.Time `json:"created_at"`
	UpdatedAt           time.Time `json:"updated_at"`
}

// Participant links a user to a room. Rows are never deleted; join order
// is JoinedAt ascending and the earliest joiner is the host.
type Participant struct {
	ID       uuid.UUID `json:"id" gorm:"primaryKey"`
	RoomID   uuid.UUID `json:"room_id" gorm:"index"`
	UserID   uuid.UUID `json:"user_id"`
	JoinedAt time.Time `json:"joined_at"`
}

// Vote records one user's like/dislike for one track in one room. The
// service upserts on (room, user, track) so repeated votes replace rather
// than accumulate.
type Vote struct {
	ID        uuid.UUID `json:"id" gorm:"primaryKey"`
	RoomID    uuid.UUID `json:"room_id" gorm:"index:idx_vote,unique"`
	UserID    uuid.UUID `json:"user_id" gorm:"index:idx_vote,unique"`
	TrackURI  string    `json:"track_uri" gorm:"index:idx_vote,unique"`
	IsLike    bool      `json:"is_like"`
	CreatedAt time.Time `json:"created_at"`
}

// Track is the wire shape of a selected track.
type Track struct {
	URI      string `json:"uri"`
	Name     string `json:"name"`
	Artists  string `json:"artists"`
	ImageURL string `json:"image_url,omitempty"`
}

// RoomInfo is the read-only room summary embedded in state responses.
type RoomInfo struct {
	Code          string `json:"code"`
	LikeThreshold int    `json:"like_threshold"`
	Active        bool   `json:"is_active"`
}

// RoomState is the polled room snapshot: room summary, current track (nil
// when nothing is selected) and the like tally for that track.
type RoomState struct {
	Room         RoomInfo `json:"room"`
	CurrentTrack *Track   `json:"current_track"`
	Likes        int      `json:"likes"`
}

// RoomParticipant is one entry in the ordered participant list.
type RoomParticipant struct {
	UserID      uuid.UUID `json:"user_id"`
	SpotifyID   string    `json:"spotify_id"`
	DisplayName string    `json:"display_name"`
	JoinedAt    time.Time `json:"joined_at"`
}

// ParticipantList is the participants response, ordered by join time.
type ParticipantList struct {
	RoomCode     string            `json:"room_code"`
	Participants []RoomParticipant `json:"participants"`
}

// JoinAck confirms a join. Status is "joined" or "already_in_room".
type JoinAck struct {
	Status   string `json:"status"`
	RoomCode string `json:"room_code"`
}

// VoteAck reports the tally after a vote was registered.
type VoteAck struct {
	Status        string `json:"status"`
	RoomCode      string `json:"room_code"`
	TrackURI      string `json:"track_uri"`
	Likes         int    `json:"likes"`
	LikeThreshold int    `json:"like_threshold"`
	Play          bool   `json:"play"`
}

// TrackSelection is the response to random-track and next-round. Track is
// nil when the round advanced without a new selection.
type TrackSelection struct {
	Status   string `json:"status"`
	RoomCode string `json:"room_code"`
	Track    *Track `json:"track"`
}

// PlaybackAck is the status token returned by play/pause/resume.
type PlaybackAck struct {
	Status   string `json:"status"`
	TrackURI string `json:"track_uri,omitempty"`
}
