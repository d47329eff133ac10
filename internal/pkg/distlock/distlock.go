package distlock

import (
	"context"
	"database/sql"
	"fmt"
	"hash/fnv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// DistLock is the interface for distributed locking.
// Implementations must be safe for use from a single goroutine;
// concurrent use across goroutines requires separate lock instances.
type DistLock interface {
	// Acquire tries to acquire the lock without blocking. Returns true if successful.
	Acquire(ctx context.Context) (bool, error)
	// Extend pushes the lock expiry out by ttl while it is still owned.
	Extend(ctx context.Context, ttl time.Duration) error
	// Release releases the lock if we still own it.
	Release(ctx context.Context) error
}

// Factory builds a lock for a key. Workers create one lock per job.
type Factory func(key string) DistLock

// NewFactory returns a Factory using the best available backend.
// If redisClient is non-nil, uses Redis (preferred for cross-host locking).
// Otherwise falls back to PostgreSQL advisory locks, and finally to
// in-process locks when neither is configured.
func NewFactory(redisClient *redis.Client, db *sql.DB, ttl time.Duration) Factory {
	switch {
	case redisClient != nil:
		return func(key string) DistLock { return NewRedisLock(redisClient, key, ttl) }
	case db != nil:
		return func(key string) DistLock { return NewPGAdvisoryLock(db, key) }
	}
	locks := NewLocalLocks()
	return locks.Lock
}

// CampaignKey names the lock serializing dispatcher runs for one campaign.
func CampaignKey(campaignID string) string {
	return "dispatch:campaign:" + campaignID
}

// =============================================================================
// PostgreSQL Advisory Lock (fallback when Redis is unavailable)
// =============================================================================
// pg_try_advisory_lock is session-scoped, so the lock pins one pooled
// connection from Acquire until Release. If the connection drops the server
// releases the lock, which gives crash-safety similar to a Redis TTL.

// PGAdvisoryLock implements DistLock using PostgreSQL advisory locks.
type PGAdvisoryLock struct {
	db     *sql.DB
	conn   *sql.Conn
	lockID int64
}

// NewPGAdvisoryLock creates a PG advisory lock with a deterministic lock ID
// derived from the given key string.
func NewPGAdvisoryLock(db *sql.DB, key string) *PGAdvisoryLock {
	h := fnv.New64a()
	h.Write([]byte(key))
	return &PGAdvisoryLock{
		db:     db,
		lockID: int64(h.Sum64()),
	}
}

// Acquire tries to acquire the advisory lock. Returns true if successful.
func (l *PGAdvisoryLock) Acquire(ctx context.Context) (bool, error) {
	conn, err := l.db.Conn(ctx)
	if err != nil {
		return false, fmt.Errorf("advisory lock conn: %w", err)
	}
	var acquired bool
	if err := conn.QueryRowContext(ctx, "SELECT pg_try_advisory_lock($1)", l.lockID).Scan(&acquired); err != nil {
		conn.Close()
		return false, fmt.Errorf("advisory lock: %w", err)
	}
	if !acquired {
		conn.Close()
		return false, nil
	}
	l.conn = conn
	return true, nil
}

// Extend is a no-op: advisory locks live as long as the session.
func (l *PGAdvisoryLock) Extend(context.Context, time.Duration) error { return nil }

// Release releases the advisory lock and returns the pinned connection.
func (l *PGAdvisoryLock) Release(ctx context.Context) error {
	if l.conn == nil {
		return nil
	}
	defer func() {
		l.conn.Close()
		l.conn = nil
	}()
	_, err := l.conn.ExecContext(ctx, "SELECT pg_advisory_unlock($1)", l.lockID)
	return err
}

// =============================================================================
// In-process locks (single instance / tests)
// =============================================================================

// LocalLocks hands out non-blocking mutexes keyed by name.
type LocalLocks struct {
	mu   sync.Mutex
	held map[string]bool
}

// NewLocalLocks creates an empty in-process lock table.
func NewLocalLocks() *LocalLocks {
	return &LocalLocks{held: make(map[string]bool)}
}

// Lock returns a DistLock bound to key. It satisfies Factory.
func (t *LocalLocks) Lock(key string) DistLock {
	return &localLock{table: t, key: key}
}

type localLock struct {
	table *LocalLocks
	key   string
	owned bool
}

func (l *localLock) Acquire(context.Context) (bool, error) {
	l.table.mu.Lock()
	defer l.table.mu.Unlock()
	if l.table.held[l.key] {
		return false, nil
	}
	l.table.held[l.key] = true
	l.owned = true
	return true, nil
}

func (l *localLock) Extend(context.Context, time.Duration) error { return nil }

func (l *localLock) Release(context.Context) error {
	if !l.owned {
		return nil
	}
	l.table.mu.Lock()
	delete(l.table.held, l.key)
	l.table.mu.Unlock()
	l.owned = false
	return nil
}
