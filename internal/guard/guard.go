package guard

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"pbx-routing/internal/lock"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Outcome is the admission result for one webhook delivery.
type Outcome int

const (
	Admitted Outcome = iota
	AlreadyProcessed
	LockBusy
)

func (o Outcome) String() string {
	switch o {
	case Admitted:
		return "admitted"
	case AlreadyProcessed:
		return "already_processed"
	case LockBusy:
		return "lock_busy"
	default:
		return "unknown"
	}
}

type Options struct {
	// LockTTL must exceed the worst-case handler duration.
	LockTTL time.Duration
	// LockWait bounds how long a delivery waits for a busy call.
	LockWait time.Duration
	// IdempotencyTTL is how long processed markers survive.
	IdempotencyTTL time.Duration
}

func (o Options) withDefaults() Options {
	out := o
	if out.LockTTL <= 0 {
		out.LockTTL = 30 * time.Second
	}
	if out.LockWait <= 0 {
		out.LockWait = 250 * time.Millisecond
	}
	if out.IdempotencyTTL <= 0 {
		out.IdempotencyTTL = 6 * time.Hour
	}
	return out
}

// Guard serializes webhook handling per call and drops duplicate deliveries.
// It writes only idempotency markers and locks; it never touches call state.
type Guard struct {
	rdb  redis.UniversalClient
	opts Options

	NewToken func() string
}

func New(rdb redis.UniversalClient, opts Options) *Guard {
	return &Guard{rdb: rdb, opts: opts.withDefaults(), NewToken: uuid.NewString}
}

func IdempotencyKey(eventID string) string { return "pbx:idem:" + eventID }

func CallLockKey(callID string) string { return "pbx:lock:call:" + callID }

// Admission carries the outcome. Ticket is set only when Admitted; Prior holds the
// stored response of an earlier delivery when AlreadyProcessed.
type Admission struct {
	Outcome Outcome
	Ticket  *Ticket
	Prior   string
}

func (g *Guard) Admit(ctx context.Context, eventID, callID string) (Admission, error) {
	if eventID == "" || callID == "" {
		return Admission{}, errors.New("guard: event_id and call_id required")
	}

	prior, seen, err := g.marker(ctx, eventID)
	if err != nil {
		return Admission{}, err
	}
	if seen {
		return Admission{Outcome: AlreadyProcessed, Prior: prior}, nil
	}

	l := lock.NewLocker(g.rdb, CallLockKey(callID), g.NewToken())
	if err := l.WaitLock(ctx, g.opts.LockTTL, g.opts.LockWait); err != nil {
		if errors.Is(err, lock.ErrWaitTimeout) {
			return Admission{Outcome: LockBusy}, nil
		}
		return Admission{}, fmt.Errorf("guard: acquire %s: %w", callID, err)
	}

	// A concurrent duplicate may have committed while we waited.
	prior, seen, err = g.marker(ctx, eventID)
	if err != nil || seen {
		_ = l.Unlock(ctx)
		if err != nil {
			return Admission{}, err
		}
		return Admission{Outcome: AlreadyProcessed, Prior: prior}, nil
	}

	return Admission{
		Outcome: Admitted,
		Ticket:  &Ticket{g: g, eventID: eventID, locker: l},
	}, nil
}

func (g *Guard) marker(ctx context.Context, eventID string) (string, bool, error) {
	v, err := g.rdb.Get(ctx, IdempotencyKey(eventID)).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("guard: read marker: %w", err)
	}
	return v, true, nil
}

// Ticket is the admitted critical section for one event.
type Ticket struct {
	g       *Guard
	eventID string
	locker  *lock.Locker

	once sync.Once
	err  error
}

// Commit marks the event processed with its response and then releases the lock,
// so a retry arriving after release is still deduplicated.
func (t *Ticket) Commit(ctx context.Context, response string) error {
	t.once.Do(func() {
		if err := t.g.rdb.Set(ctx, IdempotencyKey(t.eventID), response, t.g.opts.IdempotencyTTL).Err(); err != nil {
			t.err = fmt.Errorf("guard: write marker: %w", err)
		}
		if err := t.locker.Unlock(ctx); err != nil && t.err == nil {
			t.err = fmt.Errorf("guard: release: %w", err)
		}
	})
	return t.err
}

// Release unlocks without marking, so the upstream retry is processed again.
func (t *Ticket) Release(ctx context.Context) error {
	t.once.Do(func() {
		if err := t.locker.Unlock(ctx); err != nil {
			t.err = fmt.Errorf("guard: release: %w", err)
		}
	})
	return t.err
}

// WithLock runs fn while holding key, using the same wait and ttl as call locks.
// Used for state that is shared across calls, such as ring group cursors.
func (g *Guard) WithLock(ctx context.Context, key string, fn func(context.Context) error) error {
	l := lock.NewLocker(g.rdb, key, g.NewToken())
	if err := l.WaitLock(ctx, g.opts.LockTTL, g.opts.LockWait); err != nil {
		return err
	}
	defer func() { _ = l.Unlock(ctx) }()
	return fn(ctx)
}
