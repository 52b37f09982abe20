package routing

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// CursorStore persists the last member of each round-robin group that answered.
type CursorStore interface {
	LastAnswered(ctx context.Context, groupID string) (string, error)
	SetLastAnswered(ctx context.Context, groupID, extensionID string) error
}

// KeyLocker runs fn while holding a shared-store lock on key.
type KeyLocker interface {
	WithLock(ctx context.Context, key string, fn func(context.Context) error) error
}

// RedisCursors stores one key per ring group. Writes take the group's lock so
// they serialize the same way call records do.
type RedisCursors struct {
	rdb    redis.UniversalClient
	locker KeyLocker
}

func NewRedisCursors(rdb redis.UniversalClient, locker KeyLocker) *RedisCursors {
	return &RedisCursors{rdb: rdb, locker: locker}
}

func cursorKey(groupID string) string { return "pbx:rr:" + groupID }

func cursorLockKey(groupID string) string { return "pbx:lock:rr:" + groupID }

func (c *RedisCursors) LastAnswered(ctx context.Context, groupID string) (string, error) {
	v, err := c.rdb.Get(ctx, cursorKey(groupID)).Result()
	if errors.Is(err, redis.Nil) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("routing: read cursor %s: %w", groupID, err)
	}
	return v, nil
}

func (c *RedisCursors) SetLastAnswered(ctx context.Context, groupID, extensionID string) error {
	write := func(ctx context.Context) error {
		return c.rdb.Set(ctx, cursorKey(groupID), extensionID, 0).Err()
	}
	if c.locker == nil {
		return write(ctx)
	}
	return c.locker.WithLock(ctx, cursorLockKey(groupID), write)
}
