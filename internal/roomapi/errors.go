package roomapi

import (
	"errors"
	"net/http"
)

// ErrInvalidRoomCode is returned before any network call when the room code
// is empty, malformed, or the literal "undefined" placeholder a router
// produces when a path parameter never resolved.
var ErrInvalidRoomCode = errors.New("roomapi: invalid room code")

// Error is a well-formed error response from the room service.
type Error struct {
	StatusCode int
	Message    string
}

func (e *Error) Error() string {
	if e.Message != "" {
		return "room service: " + e.Message
	}
	return "room service: request failed with status " + http.StatusText(e.StatusCode)
}

// IsRejection reports whether err is a remote rejection: the service
// understood the request and refused it (4xx). Network failures and 5xx
// responses are transport errors and return false.
func IsRejection(err error) bool {
	var apiErr *Error
	return errors.As(err, &apiErr) &&
		apiErr.StatusCode >= 400 && apiErr.StatusCode < 500
}

// IsTransport reports whether err is a transport-level failure: no
// response, a decode failure, or a 5xx.
func IsTransport(err error) bool {
	if err == nil || errors.Is(err, ErrInvalidRoomCode) {
		return false
	}
	return !IsRejection(err)
}
