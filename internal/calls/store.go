package calls

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

var ErrNotFound = errors.New("calls: not found")

// Store persists call records. Callers hold the per-call lock around
// read-modify-write sequences.
type Store interface {
	Get(ctx context.Context, callID string) (Call, error)
	// Create stores c only if no record exists; it reports whether it did.
	Create(ctx context.Context, c Call) (bool, error)
	Put(ctx context.Context, c Call) error
}

// RedisStore keeps call records as JSON strings.
type RedisStore struct {
	rdb redis.UniversalClient
	// TTL is zero by default; retention belongs to whoever archives records.
	TTL time.Duration
}

func NewRedisStore(rdb redis.UniversalClient, ttl time.Duration) *RedisStore {
	return &RedisStore{rdb: rdb, TTL: ttl}
}

func RecordKey(callID string) string { return "pbx:call:" + callID }

func (s *RedisStore) Get(ctx context.Context, callID string) (Call, error) {
	raw, err := s.rdb.Get(ctx, RecordKey(callID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return Call{}, ErrNotFound
	}
	if err != nil {
		return Call{}, fmt.Errorf("calls: get %s: %w", callID, err)
	}
	var c Call
	if err := json.Unmarshal(raw, &c); err != nil {
		return Call{}, fmt.Errorf("calls: decode %s: %w", callID, err)
	}
	return c, nil
}

func (s *RedisStore) Create(ctx context.Context, c Call) (bool, error) {
	raw, err := json.Marshal(c)
	if err != nil {
		return false, err
	}
	ok, err := s.rdb.SetNX(ctx, RecordKey(c.CallID), raw, s.TTL).Result()
	if err != nil {
		return false, fmt.Errorf("calls: create %s: %w", c.CallID, err)
	}
	return ok, nil
}

func (s *RedisStore) Put(ctx context.Context, c Call) error {
	raw, err := json.Marshal(c)
	if err != nil {
		return err
	}
	ttl := s.TTL
	if ttl <= 0 {
		ttl = redis.KeepTTL
	}
	if err := s.rdb.Set(ctx, RecordKey(c.CallID), raw, ttl).Err(); err != nil {
		return fmt.Errorf("calls: put %s: %w", c.CallID, err)
	}
	return nil
}
