package redisclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/hackgods/clinic-booking/internal/slots"
)

// AvailabilityCache keeps doctors' availability windows as JSON strings.
type AvailabilityCache struct {
	client redis.UniversalClient
	ttl    time.Duration
}

func NewAvailabilityCache(client redis.UniversalClient, ttl time.Duration) *AvailabilityCache {
	return &AvailabilityCache{client: client, ttl: ttl}
}

func availabilityKey(doctorID uuid.UUID) string {
	return "availability:doctor:" + doctorID.String()
}

// Get returns nil, nil on a cache miss.
func (c *AvailabilityCache) Get(ctx context.Context, doctorID uuid.UUID) (*slots.Window, error) {
	raw, err := c.client.Get(ctx, availabilityKey(doctorID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("get availability: %w", err)
	}

	var w slots.Window
	if err := json.Unmarshal(raw, &w); err != nil {
		// a bad entry is treated as a miss and dropped
		_ = c.client.Del(ctx, availabilityKey(doctorID)).Err()
		return nil, nil
	}
	return &w, nil
}

// Put overwrites the entry. Writers use it after saving a new window.
func (c *AvailabilityCache) Put(ctx context.Context, doctorID uuid.UUID, w slots.Window) error {
	data, err := json.Marshal(w)
	if err != nil {
		return fmt.Errorf("marshal availability: %w", err)
	}
	if err := c.client.Set(ctx, availabilityKey(doctorID), data, c.ttl).Err(); err != nil {
		return fmt.Errorf("put availability: %w", err)
	}
	return nil
}

// Fill stores w only when no entry exists. Readers use it after a miss so a
// window they loaded before a concurrent update cannot replace the newer one.
func (c *AvailabilityCache) Fill(ctx context.Context, doctorID uuid.UUID, w slots.Window) error {
	data, err := json.Marshal(w)
	if err != nil {
		return fmt.Errorf("marshal availability: %w", err)
	}
	if err := c.client.SetNX(ctx, availabilityKey(doctorID), data, c.ttl).Err(); err != nil {
		return fmt.Errorf("fill availability: %w", err)
	}
	return nil
}

func (c *AvailabilityCache) Invalidate(ctx context.Context, doctorID uuid.UUID) error {
	if err := c.client.Del(ctx, availabilityKey(doctorID)).Err(); err != nil {
		return fmt.Errorf("invalidate availability: %w", err)
	}
	return nil
}
