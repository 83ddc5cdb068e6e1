package spotify

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"math/rand"
	"net/http"
	"net/url"
	"strings"
	"time"
)

type Client struct {
	clientID     string
	clientSecret string
	redirectURI  string
	httpClient   *http.Client
}

type TokenResponse struct {
	AccessToken  string `json:"access_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int    `json:"expires_in"`
	RefreshToken string `json:"refresh_token"`
	Scope        string `json:"scope"`
}

type Profile struct {
	ID          string `json:"id"`
	DisplayName string `json:"display_name"`
	Email       string `json:"email"`
}

type Track struct {
	URI     string   `json:"uri"`
	Name    string   `json:"name"`
	Artists []Artist `json:"artists"`
	Album   Album    `json:"album"`
}

type Artist struct {
	Name string `json:"name"`
}

type Album struct {
	Images []Image `json:"images"`
}

type Image struct {
	URL    string `json:"url"`
	Height int    `json:"height"`
	Width  int    `json:"width"`
}

// ArtistNames joins the track's artists for display.
func (t Track) ArtistNames() string {
	names := make([]string, 0, len(t.Artists))
	for _, a := range t.Artists {
		names = append(names, a.Name)
	}
	return strings.Join(names, ", ")
}

// ImageURL returns the first album image, if any.
func (t Track) ImageURL() string {
	if len(t.Album.Images) == 0 {
		return ""
	}
	return t.Album.Images[0].URL
}

type topTracksResponse struct {
	Items []Track `json:"items"`
}

func NewClient(clientID, clientSecret, redirectURI string) *Client {
	return &Client{
		clientID:     clientID,
		clientSecret: clientSecret,
		redirectURI:  redirectURI,
		httpClient:   &http.Client{Timeout: 10 * time.Second},
	}
}

// AuthURL builds the authorize redirect. The streaming scope is what the
// Web Playback SDK needs to register a device.
func (c *Client) AuthURL(state string) string {
	params := url.Values{}
	params.Add("client_id", c.clientID)
	params.Add("response_type", "code")
	params.Add("redirect_uri", c.redirectURI)
	params.Add("scope", strings.Join([]string{
		"user-read-private",
		"user-read-email",
		"user-top-read",
		"streaming",
		"user-read-playback-state",
		"user-modify-playback-state",
	}, " "))
	params.Add("state", state)

	return "https://accounts.spotify.com/authorize?" + params.Encode()
}

func (c *Client) ExchangeToken(ctx context.Context, code string) (*TokenResponse, error) {
	data := url.Values{}
	data.Set("grant_type", "authorization_code")
	data.Set("code", code)
	data.Set("redirect_uri", c.redirectURI)

	return c.doTokenRequest(ctx, data)
}

func (c *Client) RefreshToken(ctx context.Context, refreshToken string) (*TokenResponse, error) {
	data := url.Values{}
	data.Set("grant_type", "refresh_token")
	data.Set("refresh_token", refreshToken)

	return c.doTokenRequest(ctx, data)
}

func (c *Client) doTokenRequest(ctx context.Context, data url.Values) (*TokenResponse, error) {
	req, err := http.NewRequestWithContext(ctx, "POST", "https://accounts.spotify.com/api/token", strings.NewReader(data.Encode()))
	if err != nil {
		return nil, err
	}

	auth := base64.StdEncoding.EncodeToString([]byte(c.clientID + ":" + c.clientSecret))
	req.Header.Add("Authorization", "Basic "+auth)
	req.Header.Add("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("spotify: token request failed with status %d", resp.StatusCode)
	}

	var token TokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&token); err != nil {
		return nil, err
	}
	return &token, nil
}

func (c *Client) GetProfile(ctx context.Context, accessToken string) (*Profile, error) {
	req, err := http.NewRequestWithContext(ctx, "GET", "https://api.spotify.com/v1/me", nil)
	if err != nil {
		return nil, err
	}
	req.Header.Add("Authorization", "Bearer "+accessToken)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("spotify: profile request failed with status %d", resp.StatusCode)
	}

	var profile Profile
	if err := json.NewDecoder(resp.Body).Decode(&profile); err != nil {
		return nil, err
	}
	return &profile, nil
}

func (c *Client) GetTopTracks(ctx context.Context, accessToken, timeRange string, limit int) ([]Track, error) {
	params := url.Values{}
	params.Add("time_range", timeRange) // short_term, medium_term, long_term
	params.Add("limit", fmt.Sprintf("%d", limit))

	req, err := http.NewRequestWithContext(ctx, "GET", "https://api.spotify.com/v1/me/top/tracks?"+params.Encode(), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Add("Authorization", "Bearer "+accessToken)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("spotify: top tracks request failed with status %d", resp.StatusCode)
	}

	var top topTracksResponse
	if err := json.NewDecoder(resp.Body).Decode(&top); err != nil {
		return nil, err
	}
	return top.Items, nil
}

// PickRandomTrack chooses one track from the user's listening history.
func (c *Client) PickRandomTrack(ctx context.Context, accessToken string) (*Track, error) {
	tracks, err := c.GetTopTracks(ctx, accessToken, "medium_term", 50)
	if err != nil {
		return nil, err
	}
	if len(tracks) == 0 {
		return nil, fmt.Errorf("spotify: user has no top tracks to pick from")
	}

	track := tracks[rand.Intn(len(tracks))]
	return &track, nil
}

// PlayTrack starts playback of trackURI on the given device.
func (c *Client) PlayTrack(ctx context.Context, accessToken, deviceID, trackURI string) error {
	payload := map[string]interface{}{
		"uris":        []string{trackURI},
		"position_ms": 0,
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	return c.doPlayerRequest(ctx, accessToken, "play", deviceID, strings.NewReader(string(raw)))
}

// Pause pauses playback on the given device.
func (c *Client) Pause(ctx context.Context, accessToken, deviceID string) error {
	return c.doPlayerRequest(ctx, accessToken, "pause", deviceID, nil)
}

// Resume continues playback on the given device without replacing the
// play queue.
func (c *Client) Resume(ctx context.Context, accessToken, deviceID string) error {
	return c.doPlayerRequest(ctx, accessToken, "play", deviceID, nil)
}

func (c *Client) doPlayerRequest(ctx context.Context, accessToken, action, deviceID string, body *strings.Reader) error {
	endpoint := "https://api.spotify.com/v1/me/player/" + action
	if deviceID != "" {
		endpoint += "?device_id=" + url.QueryEscape(deviceID)
	}

	var reader *strings.Reader
	if body == nil {
		reader = strings.NewReader("")
	} else {
		reader = body
	}

	req, err := http.NewRequestWithContext(ctx, "PUT", endpoint, reader)
	if err != nil {
		return err
	}
	req.Header.Add("Authorization", "Bearer "+accessToken)
	req.Header.Add("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusNoContent && resp.StatusCode != http.StatusOK {
		return fmt.Errorf("spotify: %s request failed with status %d", action, resp.StatusCode)
	}
	return nil
}
