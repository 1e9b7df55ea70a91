// Package statuscache mirrors the latest per-identity presence snapshot
// into Redis for cheap live lookups.
package statuscache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/BloodRedTape/UtcTracker/internal/domain"
)

// Snapshot is the cached view of an identity's live status.
type Snapshot struct {
	IdentityID     string        `json:"identity_id"`
	CurrentStatus  domain.Status `json:"current_status"`
	TelegramStatus domain.Status `json:"telegram_status"`
	DiscordStatus  domain.Status `json:"discord_status"`
	TZOffsetHours  *float64      `json:"tz_offset_hours,omitempty"`
	UpdatedAt      time.Time     `json:"updated_at"`
}

// Cache wraps a redis client with the presence key scheme.
type Cache struct {
	client *redis.Client
	ttl    time.Duration
}

// New constructs a Cache. TTL bounds staleness when the consumer stops
// refreshing an identity.
func New(client *redis.Client, ttl time.Duration) *Cache {
	return &Cache{client: client, ttl: ttl}
}

func statusKey(identityID string) string {
	return fmt.Sprintf("presence:identity:%s:status", identityID)
}

// SetStatus stores the identity's current snapshot.
func (c *Cache) SetStatus(ctx context.Context, identity domain.Identity) error {
	snapshot := Snapshot{
		IdentityID:     identity.ID,
		CurrentStatus:  identity.CurrentStatus,
		TelegramStatus: identity.TelegramStatus,
		DiscordStatus:  identity.DiscordStatus,
		TZOffsetHours:  identity.CurrentTZOffset,
		UpdatedAt:      time.Now().UTC(),
	}

	payload, err := json.Marshal(snapshot)
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}

	if err := c.client.Set(ctx, statusKey(identity.ID), payload, c.ttl).Err(); err != nil {
		return fmt.Errorf("set status key: %w", err)
	}
	return nil
}

// GetStatus fetches the cached snapshot. Returns (nil, nil) on a miss.
func (c *Cache) GetStatus(ctx context.Context, identityID string) (*Snapshot, error) {
	payload, err := c.client.Get(ctx, statusKey(identityID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get status key: %w", err)
	}

	var snapshot Snapshot
	if err := json.Unmarshal(payload, &snapshot); err != nil {
		return nil, fmt.Errorf("decode snapshot: %w", err)
	}
	return &snapshot, nil
}

// Invalidate removes a cached snapshot.
func (c *Cache) Invalidate(ctx context.Context, identityID string) error {
	return c.client.Del(ctx, statusKey(identityID)).Err()
}
