package repositories

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/printfleet/fleetdir/internal/models"
	"github.com/redis/go-redis/v9"
)

const (
	presenceKeyPrefix = "presence:"
	presenceTTL       = 60 * time.Second // snapshot expires without a fresh heartbeat
)

// RedisPresenceCache keeps a TTL'd copy of each account's latest presence
// snapshot so directory reads don't have to touch the account store. The
// store row stays authoritative; a cache miss just means "look it up".
type RedisPresenceCache struct {
	client *redis.Client
}

func NewRedisPresenceCache(client *redis.Client) *RedisPresenceCache {
	return &RedisPresenceCache{client: client}
}

func (c *RedisPresenceCache) Set(ctx context.Context, accountID string, presence models.Presence) error {
	data, err := json.Marshal(presence)
	if err != nil {
		return fmt.Errorf("failed to marshal presence: %w", err)
	}

	if err := c.client.Set(ctx, presenceKey(accountID), data, presenceTTL).Err(); err != nil {
		return fmt.Errorf("failed to cache presence: %w", err)
	}
	return nil
}

func (c *RedisPresenceCache) Get(ctx context.Context, accountID string) (*models.Presence, error) {
	data, err := c.client.Get(ctx, presenceKey(accountID)).Result()
	if err == redis.Nil {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get cached presence: %w", err)
	}

	var presence models.Presence
	if err := json.Unmarshal([]byte(data), &presence); err != nil {
		return nil, fmt.Errorf("failed to unmarshal presence: %w", err)
	}
	return &presence, nil
}

func (c *RedisPresenceCache) Delete(ctx context.Context, accountID string) error {
	if err := c.client.Del(ctx, presenceKey(accountID)).Err(); err != nil {
		return fmt.Errorf("failed to delete cached presence: %w", err)
	}
	return nil
}

func presenceKey(accountID string) string {
	return presenceKeyPrefix + accountID
}
