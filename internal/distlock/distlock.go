// Package distlock serializes work across server instances.
package distlock

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"hash/fnv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrNotAcquired is returned by Wait when the context ends before the lock
// frees up.
var ErrNotAcquired = errors.New("lock not acquired")

// Lock is a single acquisition attempt. Instances are not shared between
// goroutines.
type Lock interface {
	Acquire(ctx context.Context) (bool, error)
	Release(ctx context.Context) error
}

type Locker interface {
	NewLock(key string, ttl time.Duration) Lock
}

// NewLocker picks Redis when a client is configured, then PostgreSQL advisory
// locks, then an in-process table.
func NewLocker(client redis.UniversalClient, db *sql.DB) Locker {
	switch {
	case client != nil:
		return RedisLocker{Client: client}
	case db != nil:
		return PGLocker{DB: db}
	default:
		return NewLocalLocker()
	}
}

// Wait polls Acquire until it succeeds or ctx ends.
func Wait(ctx context.Context, lock Lock, every time.Duration) error {
	if every <= 0 {
		every = 50 * time.Millisecond
	}
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		ok, err := lock.Acquire(ctx)
		if err != nil {
			return err
		}
		if ok {
			return nil
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("%w: %v", ErrNotAcquired, ctx.Err())
		case <-ticker.C:
		}
	}
}

// PGLocker uses session-scoped advisory locks. The session is pinned to one
// pooled connection for the life of the lock so unlock runs where lock did.
type PGLocker struct {
	DB *sql.DB
}

func (p PGLocker) NewLock(key string, _ time.Duration) Lock {
	h := fnv.New64a()
	h.Write([]byte(key))
	return &pgLock{db: p.DB, id: int64(h.Sum64())}
}

type pgLock struct {
	db   *sql.DB
	id   int64
	conn *sql.Conn
}

func (l *pgLock) Acquire(ctx context.Context) (bool, error) {
	if l.conn != nil {
		return false, errors.New("advisory lock already held")
	}
	conn, err := l.db.Conn(ctx)
	if err != nil {
		return false, fmt.Errorf("pin connection: %w", err)
	}
	var acquired bool
	if err := conn.QueryRowContext(ctx, "SELECT pg_try_advisory_lock($1)", l.id).Scan(&acquired); err != nil {
		conn.Close()
		return false, fmt.Errorf("try advisory lock: %w", err)
	}
	if !acquired {
		conn.Close()
		return false, nil
	}
	l.conn = conn
	return true, nil
}

func (l *pgLock) Release(ctx context.Context) error {
	if l.conn == nil {
		return nil
	}
	defer func() {
		l.conn.Close()
		l.conn = nil
	}()
	if _, err := l.conn.ExecContext(ctx, "SELECT pg_advisory_unlock($1)", l.id); err != nil {
		return fmt.Errorf("advisory unlock: %w", err)
	}
	return nil
}

// LocalLocker serializes within one process. It backs the in-memory store.
type LocalLocker struct {
	mu   *sync.Mutex
	held map[string]time.Time
}

func NewLocalLocker() LocalLocker {
	return LocalLocker{mu: &sync.Mutex{}, held: map[string]time.Time{}}
}

func (l LocalLocker) NewLock(key string, ttl time.Duration) Lock {
	return &localLock{owner: l, key: key, ttl: ttl}
}

type localLock struct {
	owner LocalLocker
	key   string
	ttl   time.Duration
	held  bool
}

func (l *localLock) Acquire(context.Context) (bool, error) {
	l.owner.mu.Lock()
	defer l.owner.mu.Unlock()
	if expires, ok := l.owner.held[l.key]; ok && (l.ttl <= 0 || time.Now().Before(expires)) {
		return false, nil
	}
	l.owner.held[l.key] = time.Now().Add(l.ttl)
	l.held = true
	return true, nil
}

func (l *localLock) Release(context.Context) error {
	if !l.held {
		return nil
	}
	l.owner.mu.Lock()
	defer l.owner.mu.Unlock()
	delete(l.owner.held, l.key)
	l.held = false
	return nil
}
