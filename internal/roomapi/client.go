package roomapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/party-room-system/pkg/models"
)

// Client is a typed request/response wrapper around the room service. It
// performs no caching and no retries; every call either returns the decoded
// response or an error classified by errors.go.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

func NewClient(baseURL string) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}
}

// NormalizeCode upper-cases a join code; codes are case-insensitive.
func NormalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// ValidRoomCode reports whether code can be sent to the service. The
// literal "undefined" is rejected explicitly: it is what a client-side
// router yields for a parameter that never resolved.
func ValidRoomCode(code string) bool {
	code = strings.TrimSpace(code)
	if code == "" || strings.EqualFold(code, "undefined") {
		return false
	}
	for _, r := range code {
		if (r < 'a' || r > 'z') && (r < 'A' || r > 'Z') && (r < '0' || r > '9') {
			return false
		}
	}
	return true
}

func (c *Client) checkCode(code string) (string, error) {
	if !ValidRoomCode(code) {
		return "", ErrInvalidRoomCode
	}
	return NormalizeCode(code), nil
}

type createRoomRequest struct {
	HostSpotifyID string `json:"host_spotify_id"`
	LikeThreshold int    `json:"like_threshold"`
}

func (c *Client) CreateRoom(ctx context.Context, hostSpotifyID string, likeThreshold int) (*models.Room, error) {
	if hostSpotifyID == "" {
		return nil, fmt.Errorf("roomapi: host spotify id is required")
	}

	var room models.Room
	err := c.do(ctx, http.MethodPost, "/rooms", createRoomRequest{
		HostSpotifyID: hostSpotifyID,
		LikeThreshold: likeThreshold,
	}, &room)
	if err != nil {
		return nil, err
	}
	return &room, nil
}

type joinRoomRequest struct {
	SpotifyID string `json:"spotify_id"`
}

func (c *Client) JoinRoom(ctx context.Context, code, spotifyID string) (*models.JoinAck, error) {
	code, err := c.checkCode(code)
	if err != nil {
		return nil, err
	}
	if spotifyID == "" {
		return nil, fmt.Errorf("roomapi: spotify id is required")
	}

	var ack models.JoinAck
	if err := c.do(ctx, http.MethodPost, "/rooms/"+code+"/join", joinRoomRequest{SpotifyID: spotifyID}, &ack); err != nil {
		return nil, err
	}
	return &ack, nil
}

func (c *Client) GetRoomState(ctx context.Context, code string) (*models.RoomState, error) {
	code, err := c.checkCode(code)
	if err != nil {
		return nil, err
	}

	var state models.RoomState
	if err := c.do(ctx, http.MethodGet, "/rooms/"+code+"/state", nil, &state); err != nil {
		return nil, err
	}
	return &state, nil
}

func (c *Client) GetParticipants(ctx context.Context, code string) (*models.ParticipantList, error) {
	code, err := c.checkCode(code)
	if err != nil {
		return nil, err
	}

	var list models.ParticipantList
	if err := c.do(ctx, http.MethodGet, "/rooms/"+code+"/participants", nil, &list); err != nil {
		return nil, err
	}
	return &list, nil
}

type voteRequest struct {
	SpotifyID string `json:"spotify_id"`
	IsLike    bool   `json:"is_like"`
}

func (c *Client) Vote(ctx context.Context, code, spotifyID string, isLike bool) (*models.VoteAck, error) {
	code, err := c.checkCode(code)
	if err != nil {
		return nil, err
	}
	if spotifyID == "" {
		return nil, fmt.Errorf("roomapi: spotify id is required")
	}

	var ack models.VoteAck
	if err := c.do(ctx, http.MethodPost, "/rooms/"+code+"/vote", voteRequest{SpotifyID: spotifyID, IsLike: isLike}, &ack); err != nil {
		return nil, err
	}
	return &ack, nil
}

func (c *Client) RandomTrack(ctx context.Context, code string) (*models.TrackSelection, error) {
	code, err := c.checkCode(code)
	if err != nil {
		return nil, err
	}

	var sel models.TrackSelection
	if err := c.do(ctx, http.MethodGet, "/rooms/"+code+"/random-track", nil, &sel); err != nil {
		return nil, err
	}
	return &sel, nil
}

func (c *Client) NextRound(ctx context.Context, code string) (*models.TrackSelection, error) {
	code, err := c.checkCode(code)
	if err != nil {
		return nil, err
	}

	var sel models.TrackSelection
	if err := c.do(ctx, http.MethodPost, "/rooms/"+code+"/next-round", nil, &sel); err != nil {
		return nil, err
	}
	return &sel, nil
}

type playbackRequest struct {
	DeviceID string `json:"device_id"`
}

func (c *Client) Play(ctx context.Context, code, deviceID string) (*models.PlaybackAck, error) {
	return c.playback(ctx, code, deviceID, "play")
}

func (c *Client) Pause(ctx context.Context, code, deviceID string) (*models.PlaybackAck, error) {
	return c.playback(ctx, code, deviceID, "pause")
}

func (c *Client) Resume(ctx context.Context, code, deviceID string) (*models.PlaybackAck, error) {
	return c.playback(ctx, code, deviceID, "resume")
}

func (c *Client) playback(ctx context.Context, code, deviceID, action string) (*models.PlaybackAck, error) {
	code, err := c.checkCode(code)
	if err != nil {
		return nil, err
	}
	if deviceID == "" {
		return nil, fmt.Errorf("roomapi: device id is required")
	}

	var ack models.PlaybackAck
	if err := c.do(ctx, http.MethodPost, "/rooms/"+code+"/"+action, playbackRequest{DeviceID: deviceID}, &ack); err != nil {
		return nil, err
	}
	return &ack, nil
}

// LoginURL asks the service for the identity provider's authorize URL.
func (c *Client) LoginURL(ctx context.Context) (string, error) {
	var resp struct {
		URL string `json:"url"`
	}
	if err := c.do(ctx, http.MethodGet, "/auth/login", nil, &resp); err != nil {
		return "", err
	}
	return resp.URL, nil
}

// Me looks up a user record by Spotify id.
func (c *Client) Me(ctx context.Context, spotifyID string) (*models.User, error) {
	if spotifyID == "" {
		return nil, fmt.Errorf("roomapi: spotify id is required")
	}

	var user models.User
	if err := c.do(ctx, http.MethodGet, "/auth/me?spotify_id="+url.QueryEscape(spotifyID), nil, &user); err != nil {
		return nil, err
	}
	return &user, nil
}

// Exchange trades an identity-provider authorization code for a user
// record, performing the token exchange server-side.
func (c *Client) Exchange(ctx context.Context, authCode string) (*models.User, error) {
	if authCode == "" {
		return nil, fmt.Errorf("roomapi: authorization code is required")
	}

	var user models.User
	if err := c.do(ctx, http.MethodGet, "/auth/exchange?code="+url.QueryEscape(authCode), nil, &user); err != nil {
		return nil, err
	}
	return &user, nil
}

func (c *Client) do(ctx context.Context, method, path string, body, out interface{}) error {
	var reqBody *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("roomapi: failed to marshal request: %w", err)
		}
		reqBody = bytes.NewReader(raw)
	} else {
		reqBody = bytes.NewReader(nil)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return fmt.Errorf("roomapi: failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("roomapi: request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return decodeError(resp)
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("roomapi: failed to decode response: %w", err)
	}
	return nil
}

func decodeError(resp *http.Response) error {
	var body struct {
		ErrorMsg string `json:"error"`
		Detail   string `json:"detail"`
	}
	// A body that fails to decode still yields a useful status-only error.
	_ = json.NewDecoder(resp.Body).Decode(&body)

	msg := body.ErrorMsg
	if msg == "" {
		msg = body.Detail
	}

	return &Error{StatusCode: resp.StatusCode, Message: msg}
}
