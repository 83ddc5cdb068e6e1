package server

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/party-room-system/pkg/models"
)

// LoginURL returns the identity provider's authorize URL with a fresh
// state nonce.
func (s *Service) LoginURL() string {
	return s.spotify.AuthURL(uuid.New().String())
}

// Authenticate exchanges an authorization code for tokens, resolves the
// Spotify profile and upserts the user record. This is the server-side
// half of the identity callback.
func (s *Service) Authenticate(ctx context.Context, authCode string) (*models.User, error) {
	token, err := s.spotify.ExchangeToken(ctx, authCode)
	if err != nil {
		return nil, fmt.Errorf("token exchange failed: %w", err)
	}

	profile, err := s.spotify.GetProfile(ctx, token.AccessToken)
	if err != nil {
		return nil, fmt.Errorf("profile lookup failed: %w", err)
	}

	user := &models.User{
		SpotifyID:    profile.ID,
		DisplayName:  profile.DisplayName,
		Email:        profile.Email,
		AccessToken:  token.AccessToken,
		RefreshToken: token.RefreshToken,
	}
	if err := s.db.UpsertUserBySpotifyID(user); err != nil {
		return nil, fmt.Errorf("failed to store user: %w", err)
	}
	return user, nil
}

// Me looks a user up by Spotify id.
func (s *Service) Me(ctx context.Context, spotifyID string) (*models.User, error) {
	user, err := s.db.GetUserBySpotifyID(spotifyID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("failed to look up user: %w", err)
	}
	return user, nil
}
