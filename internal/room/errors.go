package room

import (
	"errors"

	"github.com/party-room-system/internal/roomapi"
)

// Local precondition failures. These are rejected before any network call
// and are never retried.
var (
	ErrNotJoined       = errors.New("room: not joined")
	ErrNoCurrentTrack  = errors.New("room: no current track")
	ErrVoteInFlight    = errors.New("room: a vote is already in flight")
	ErrNoDevice        = errors.New("room: no ready playback device")
	ErrThresholdNotMet = errors.New("room: like threshold not met")
)

// ErrorKind buckets a failure for presentation. Transport errors keep the
// last good snapshot on screen with a generic banner; rejections carry a
// specific message; precondition failures never left the client.
type ErrorKind int

const (
	ErrorNone ErrorKind = iota
	ErrorTransport
	ErrorRejection
	ErrorPrecondition
)

func (k ErrorKind) String() string {
	switch k {
	case ErrorNone:
		return "none"
	case ErrorTransport:
		return "transport"
	case ErrorRejection:
		return "rejection"
	case ErrorPrecondition:
		return "precondition"
	}
	return "unknown"
}

// Classify maps an error from a session intent onto the taxonomy.
func Classify(err error) ErrorKind {
	switch {
	case err == nil:
		return ErrorNone
	case errors.Is(err, ErrNotJoined),
		errors.Is(err, ErrNoCurrentTrack),
		errors.Is(err, ErrVoteInFlight),
		errors.Is(err, ErrNoDevice),
		errors.Is(err, ErrThresholdNotMet),
		errors.Is(err, roomapi.ErrInvalidRoomCode):
		return ErrorPrecondition
	case roomapi.IsRejection(err):
		return ErrorRejection
	default:
		return ErrorTransport
	}
}
