package identity

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/party-room-system/pkg/models"
)

const defaultKey = "party:user"

// RedisStore keeps the user record as a JSON value under a fixed key.
// Intended for headless host deployments where several restarts of the
// client share one durable store.
type RedisStore struct {
	client *redis.Client
	key    string
}

func NewRedisStore(client *redis.Client, key string) *RedisStore {
	if key == "" {
		key = defaultKey
	}
	return &RedisStore{client: client, key: key}
}

func (s *RedisStore) Load(ctx context.Context) (*models.User, error) {
	raw, err := s.client.Get(ctx, s.key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get user record: %w", err)
	}

	var user models.User
	if err := json.Unmarshal(raw, &user); err != nil {
		// Same policy as FileStore: corrupt record means logged out.
		return nil, nil
	}
	if user.SpotifyID == "" {
		return nil, nil
	}
	return &user, nil
}

func (s *RedisStore) Save(ctx context.Context, user *models.User) error {
	raw, err := json.Marshal(user)
	if err != nil {
		return fmt.Errorf("failed to marshal user: %w", err)
	}

	if err := s.client.Set(ctx, s.key, raw, 0).Err(); err != nil {
		return fmt.Errorf("failed to store user record: %w", err)
	}
	return nil
}

func (s *RedisStore) Clear(ctx context.Context) error {
	return s.client.Del(ctx, s.key).Err()
}
