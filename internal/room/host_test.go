package room

import (
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/party-room-system/pkg/models"
)

func participant(spotifyID string, joined time.Time) models.RoomParticipant {
	return models.RoomParticipant{
		UserID:      uuid.New(),
		SpotifyID:   spotifyID,
		DisplayName: spotifyID,
		JoinedAt:    joined,
	}
}

func TestIsHost(t *testing.T) {
	base := time.Now()
	parts := []models.RoomParticipant{
		participant("alice", base),
		participant("bob", base.Add(time.Minute)),
		participant("carol", base.Add(2*time.Minute)),
	}

	if !IsHost(parts, "alice") {
		t.Error("earliest joiner should be host")
	}
	if IsHost(parts, "bob") {
		t.Error("later joiner should not be host")
	}
	if IsHost(parts, "") {
		t.Error("empty spotify id should never be host")
	}
	if IsHost(nil, "alice") {
		t.Error("empty participant list has no host")
	}
}
