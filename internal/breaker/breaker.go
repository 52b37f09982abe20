package breaker

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

type State string

const (
	StateClosed   State = "closed"
	StateOpen     State = "open"
	StateHalfOpen State = "half_open"
)

var (
	// ErrUpstreamUnavailable covers both a tripped circuit and a failed outbound call.
	ErrUpstreamUnavailable = errors.New("upstream unavailable")
	ErrOpen                = fmt.Errorf("%w: circuit open", ErrUpstreamUnavailable)
)

type Settings struct {
	FailureThreshold int
	RetryAfter       time.Duration
}

func (s Settings) withDefaults() Settings {
	out := s
	if out.FailureThreshold <= 0 {
		out.FailureThreshold = 5
	}
	if out.RetryAfter <= 0 {
		out.RetryAfter = 30 * time.Second
	}
	return out
}

// Snapshot is the circuit state as stored.
type Snapshot struct {
	Name     string    `json:"name"`
	State    State     `json:"state"`
	Failures int       `json:"failure_count"`
	OpenedAt time.Time `json:"opened_at,omitempty"`
}

// Breaker guards one named dependency. All processes sharing the Redis client see
// the same circuit.
type Breaker struct {
	rdb      redis.UniversalClient
	name     string
	settings Settings

	Now func() time.Time
}

func New(rdb redis.UniversalClient, name string, s Settings) *Breaker {
	return &Breaker{rdb: rdb, name: name, settings: s.withDefaults(), Now: time.Now}
}

func (b *Breaker) Name() string { return b.name }

func Key(name string) string { return "pbx:circuit:" + name }

// allowScript decides whether a call may proceed.
// Returns 1 to proceed, 0 to fail fast.
var allowScript = redis.NewScript(`
-- KEYS[1] = circuit hash
-- ARGV[1] = now (ms), ARGV[2] = retry_after (ms)
local state = redis.call('HGET', KEYS[1], 'state')
if not state or state == 'closed' then
  return 1
end
local opened = tonumber(redis.call('HGET', KEYS[1], 'opened_at') or '0')
local now = tonumber(ARGV[1])
if now - opened < tonumber(ARGV[2]) then
  return 0
end
-- retry interval elapsed: grant one probe and restart the clock so concurrent
-- callers keep failing fast until it reports back
redis.call('HSET', KEYS[1], 'state', 'half_open', 'opened_at', ARGV[1])
return 1
`)

var successScript = redis.NewScript(`
-- KEYS[1] = circuit hash
redis.call('HSET', KEYS[1], 'state', 'closed', 'failures', 0, 'opened_at', 0)
return 1
`)

// failureScript records a failure. Returns the resulting failure count.
var failureScript = redis.NewScript(`
-- KEYS[1] = circuit hash
-- ARGV[1] = now (ms), ARGV[2] = threshold
local state = redis.call('HGET', KEYS[1], 'state') or 'closed'
local failures = redis.call('HINCRBY', KEYS[1], 'failures', 1)
if state == 'half_open' or (state == 'closed' and failures >= tonumber(ARGV[2])) then
  redis.call('HSET', KEYS[1], 'state', 'open', 'opened_at', ARGV[1])
elseif state == 'closed' then
  redis.call('HSET', KEYS[1], 'state', 'closed')
end
return failures
`)

// Execute runs fn unless the circuit is open. Failures of fn are counted and
// returned wrapped in ErrUpstreamUnavailable.
func (b *Breaker) Execute(ctx context.Context, fn func(context.Context) error) error {
	_, err := Do(ctx, b, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, fn(ctx)
	}, nil)
	return err
}

// Fallback produces a substitute result when the dependency is unavailable.
type Fallback[T any] func(err error) (T, error)

// Do runs fn through the breaker. When the circuit is open fn is not invoked. If a
// fallback is given it replaces the error in both the open and failed cases.
// A call abandoned because the caller cancelled is neither a success nor a
// failure of the dependency; its error is returned as is.
func Do[T any](ctx context.Context, b *Breaker, fn func(context.Context) (T, error), fallback Fallback[T]) (T, error) {
	var zero T

	allowed, err := b.allow(ctx)
	if err != nil {
		return zero, err
	}
	if !allowed {
		if fallback != nil {
			return fallback(ErrOpen)
		}
		return zero, fmt.Errorf("%s: %w", b.name, ErrOpen)
	}

	out, callErr := fn(ctx)
	if errors.Is(callErr, context.Canceled) {
		return zero, fmt.Errorf("%s: %w", b.name, callErr)
	}
	if callErr != nil {
		if err := b.recordFailure(ctx); err != nil {
			return zero, err
		}
		wrapped := fmt.Errorf("%s: %w: %w", b.name, ErrUpstreamUnavailable, callErr)
		if fallback != nil {
			return fallback(wrapped)
		}
		return zero, wrapped
	}
	if err := b.recordSuccess(ctx); err != nil {
		return zero, err
	}
	return out, nil
}

func (b *Breaker) allow(ctx context.Context) (bool, error) {
	n, err := allowScript.Run(ctx, b.rdb, []string{Key(b.name)},
		b.Now().UnixMilli(), b.settings.RetryAfter.Milliseconds()).Int()
	if err != nil {
		return false, fmt.Errorf("breaker %s: %w", b.name, err)
	}
	return n == 1, nil
}

func (b *Breaker) recordSuccess(ctx context.Context) error {
	if err := successScript.Run(ctx, b.rdb, []string{Key(b.name)}).Err(); err != nil {
		return fmt.Errorf("breaker %s: %w", b.name, err)
	}
	return nil
}

func (b *Breaker) recordFailure(ctx context.Context) error {
	err := failureScript.Run(ctx, b.rdb, []string{Key(b.name)},
		b.Now().UnixMilli(), b.settings.FailureThreshold).Err()
	if err != nil {
		return fmt.Errorf("breaker %s: %w", b.name, err)
	}
	return nil
}

// Snapshot reads the stored state. A missing hash is a fresh closed circuit.
func (b *Breaker) Snapshot(ctx context.Context) (Snapshot, error) {
	vals, err := b.rdb.HGetAll(ctx, Key(b.name)).Result()
	if err != nil {
		return Snapshot{}, fmt.Errorf("breaker %s: %w", b.name, err)
	}
	s := Snapshot{Name: b.name, State: StateClosed}
	if v := vals["state"]; v != "" {
		s.State = State(v)
	}
	if v, err := strconv.Atoi(vals["failures"]); err == nil {
		s.Failures = v
	}
	if v, err := strconv.ParseInt(vals["opened_at"], 10, 64); err == nil && v > 0 {
		s.OpenedAt = time.UnixMilli(v).UTC()
	}
	return s, nil
}
