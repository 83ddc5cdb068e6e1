package room

import "github.com/party-room-system/pkg/models"

// IsHost reports whether localSpotifyID is the room's host: the earliest
// joiner, i.e. the head of the join-ordered participant list. Host standing
// is derived on every refresh, never stored.
func IsHost(participants []models.RoomParticipant, localSpotifyID string) bool {
	if len(participants) == 0 || localSpotifyID == "" {
		return false
	}
	return participants[0].SpotifyID == localSpotifyID
}
