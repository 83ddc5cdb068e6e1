package room

import "github.com/party-room-system/pkg/models"

// ReadyToPlay reports whether the current track has met its vote threshold.
func ReadyToPlay(likes, threshold int) bool {
	return likes >= threshold
}

// Progress is the like tally as a fraction of the threshold, clamped to
// [0, 1]. A non-positive threshold yields 0 rather than dividing by zero.
func Progress(likes, threshold int) float64 {
	if threshold <= 0 || likes <= 0 {
		return 0
	}
	p := float64(likes) / float64(threshold)
	if p > 1 {
		return 1
	}
	return p
}

// VoteAllowed reports whether a vote may be submitted right now: there must
// be a current track, the user must have joined, and no earlier vote may
// still be in flight. One-vote-per-user is enforced remotely, not here.
func VoteAllowed(state *models.RoomState, joined, voteInFlight bool) bool {
	if !joined || voteInFlight {
		return false
	}
	return state != nil && state.CurrentTrack != nil && state.CurrentTrack.URI != ""
}
