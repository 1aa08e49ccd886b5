package distlock

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("failed to start miniredis: %v", err)
	}
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() {
		client.Close()
		mr.Close()
	})
	return mr, client
}

func TestRedisLockExclusive(t *testing.T) {
	ctx := context.Background()
	_, client := newRedis(t)
	locker := NewLocker(client, nil)

	first := locker.NewLock("submit:owner:key", time.Minute)
	second := locker.NewLock("submit:owner:key", time.Minute)

	if ok, err := first.Acquire(ctx); err != nil || !ok {
		t.Fatalf("first acquire: %v %v", ok, err)
	}
	if ok, err := second.Acquire(ctx); err != nil || ok {
		t.Fatalf("second acquire should fail: %v %v", ok, err)
	}
	if err := second.Release(ctx); err != nil {
		t.Fatalf("release by non-holder: %v", err)
	}
	if ok, _ := second.Acquire(ctx); ok {
		t.Fatalf("non-holder release must not free the lock")
	}
	if err := first.Release(ctx); err != nil {
		t.Fatalf("release: %v", err)
	}
	if ok, err := second.Acquire(ctx); err != nil || !ok {
		t.Fatalf("acquire after release: %v %v", ok, err)
	}
}

func TestRedisLockExpires(t *testing.T) {
	ctx := context.Background()
	mr, client := newRedis(t)
	lock := NewRedisLock(client, "job:1", time.Second)
	if ok, _ := lock.Acquire(ctx); !ok {
		t.Fatalf("acquire failed")
	}
	if err := lock.Extend(ctx, 5*time.Second); err != nil {
		t.Fatalf("extend: %v", err)
	}
	mr.FastForward(6 * time.Second)
	if err := lock.Extend(ctx, time.Second); err == nil {
		t.Fatalf("extend after expiry should fail")
	}
	other := NewRedisLock(client, "job:1", time.Second)
	if ok, _ := other.Acquire(ctx); !ok {
		t.Fatalf("expired lock should be free")
	}
}

func TestWaitHonoursContext(t *testing.T) {
	locker := NewLocalLocker()
	held := locker.NewLock("k", time.Minute)
	if ok, _ := held.Acquire(context.Background()); !ok {
		t.Fatalf("acquire failed")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	err := Wait(ctx, locker.NewLock("k", time.Minute), 5*time.Millisecond)
	if !errors.Is(err, ErrNotAcquired) {
		t.Fatalf("expected ErrNotAcquired, got %v", err)
	}
	if err := held.Release(context.Background()); err != nil {
		t.Fatalf("release: %v", err)
	}
	if err := Wait(context.Background(), locker.NewLock("k", time.Minute), 5*time.Millisecond); err != nil {
		t.Fatalf("wait after release: %v", err)
	}
}

func TestPGLockPinsConnection(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create sqlmock: %v", err)
	}
	defer db.Close()

	mock.ExpectQuery("SELECT pg_try_advisory_lock").
		WillReturnRows(sqlmock.NewRows([]string{"pg_try_advisory_lock"}).AddRow(true))
	mock.ExpectExec("SELECT pg_advisory_unlock").
		WillReturnResult(sqlmock.NewResult(0, 1))

	lock := PGLocker{DB: db}.NewLock("job:1", 0)
	ok, err := lock.Acquire(context.Background())
	if err != nil || !ok {
		t.Fatalf("acquire: %v %v", ok, err)
	}
	if err := lock.Release(context.Background()); err != nil {
		t.Fatalf("release: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}
