// Package identity persists the local user record across restarts. It is
// the only component that touches durable identity state; everything else
// receives the record through injection.
package identity

import (
	"context"

	"github.com/party-room-system/pkg/models"
)

// Store loads, saves and clears the single local user record.
//
// Load returns (nil, nil) when no record exists. A stored value that fails
// to deserialize is treated the same as absence: the user falls back to the
// logged-out state instead of the client crashing on a corrupt record.
type Store interface {
	Load(ctx context.Context) (*models.User, error)
	Save(ctx context.Context, user *models.User) error
	Clear(ctx context.Context) error
}
