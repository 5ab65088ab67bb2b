package postgres

import (
	"context"
	"hash/fnv"
	"time"

	"github.com/custodia-labs/conduit-core/internal/core/ports/driven"
)

// Verify interface compliance
var _ driven.DistributedLock = (*AdvisoryLock)(nil)

// AdvisoryLock implements DistributedLock using PostgreSQL advisory locks.
//
// Advisory locks are connection-scoped, not TTL-based: the ttl argument is
// ignored, Extend is a no-op, and the lock drops automatically if the holding
// connection dies. For multi-instance deployments prefer the Redis lock; this
// one exists so a single Postgres can run the whole system.
type AdvisoryLock struct {
	db *DB
}

// NewAdvisoryLock creates a new PostgreSQL advisory lock adapter.
func NewAdvisoryLock(db *DB) *AdvisoryLock {
	return &AdvisoryLock{db: db}
}

// lockID maps a lock name onto the 64-bit key space advisory locks use.
func lockID(name string) int64 {
	h := fnv.New64a()
	h.Write([]byte("conduit:lock:" + name))
	return int64(h.Sum64())
}

// Acquire attempts to take the named lock without blocking.
func (l *AdvisoryLock) Acquire(ctx context.Context, name string, ttl time.Duration) (bool, error) {
	var acquired bool
	err := l.db.QueryRowContext(ctx, "SELECT pg_try_advisory_lock($1)", lockID(name)).Scan(&acquired)
	if err != nil {
		return false, err
	}
	return acquired, nil
}

// Release releases the named lock. Releasing a lock that is not held is not
// an error.
func (l *AdvisoryLock) Release(ctx context.Context, name string) error {
	var released bool
	return l.db.QueryRowContext(ctx, "SELECT pg_advisory_unlock($1)", lockID(name)).Scan(&released)
}

// Extend is a no-op: advisory locks have no TTL to extend.
func (l *AdvisoryLock) Extend(ctx context.Context, name string, ttl time.Duration) error {
	return nil
}

// Ping checks if the PostgreSQL backend is healthy.
func (l *AdvisoryLock) Ping(ctx context.Context) error {
	return l.db.PingContext(ctx)
}
