package lock

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redismock/v9"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocker_Lock(t *testing.T) {
	db, mock := redismock.NewClientMock()
	l := NewLocker(db, "pbx:lock:call:CA1", "holder-1")

	mock.ExpectSetNX("pbx:lock:call:CA1", "holder-1", 30*time.Second).SetVal(true)

	assert.NoError(t, l.Lock(context.Background(), 30*time.Second))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestLocker_LockHeld(t *testing.T) {
	db, mock := redismock.NewClientMock()
	l := NewLocker(db, "pbx:lock:call:CA1", "holder-1")

	mock.ExpectSetNX("pbx:lock:call:CA1", "holder-1", 30*time.Second).SetVal(false)

	err := l.Lock(context.Background(), 30*time.Second)
	assert.True(t, errors.Is(err, ErrHeld))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestLocker_Unlock(t *testing.T) {
	db, mock := redismock.NewClientMock()
	l := NewLocker(db, "pbx:lock:call:CA1", "holder-1")

	mock.ExpectEval(unlockScript, []string{"pbx:lock:call:CA1"}, "holder-1").SetVal(int64(1))

	assert.NoError(t, l.Unlock(context.Background()))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestLocker_UnlockNotHolder(t *testing.T) {
	db, mock := redismock.NewClientMock()
	l := NewLocker(db, "pbx:lock:call:CA1", "holder-1")

	mock.ExpectEval(unlockScript, []string{"pbx:lock:call:CA1"}, "holder-1").SetVal(int64(0))

	err := l.Unlock(context.Background())
	assert.True(t, errors.Is(err, ErrNotHolder))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestLocker_Extend(t *testing.T) {
	db, mock := redismock.NewClientMock()
	l := NewLocker(db, "pbx:lock:call:CA1", "holder-1")

	mock.ExpectEval(extendScript, []string{"pbx:lock:call:CA1"}, "holder-1", "10000").SetVal(int64(1))

	assert.NoError(t, l.Extend(context.Background(), 10*time.Second))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestLocker_WaitLockTimesOut(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer rdb.Close()

	ctx := context.Background()
	holder := NewLocker(rdb, "k", "a")
	require.NoError(t, holder.Lock(ctx, time.Minute))

	waiter := NewLocker(rdb, "k", "b")
	start := time.Now()
	err := waiter.WaitLock(ctx, time.Minute, 60*time.Millisecond)
	assert.True(t, errors.Is(err, ErrWaitTimeout), "got %v", err)
	assert.Less(t, time.Since(start), time.Second)
}

func TestLocker_WaitLockAcquiresAfterRelease(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer rdb.Close()

	ctx := context.Background()
	holder := NewLocker(rdb, "k", "a")
	require.NoError(t, holder.Lock(ctx, time.Minute))

	go func() {
		time.Sleep(20 * time.Millisecond)
		_ = holder.Unlock(ctx)
	}()

	waiter := NewLocker(rdb, "k", "b")
	require.NoError(t, waiter.WaitLock(ctx, time.Minute, 2*time.Second))

	v, err := rdb.Get(ctx, "k").Result()
	require.NoError(t, err)
	assert.Equal(t, "b", v)
}
