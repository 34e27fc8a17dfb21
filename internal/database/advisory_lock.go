package database

import (
	"context"
	"errors"
	"fmt"
	"time"

	"livecommerce/internal/config"
	"livecommerce/internal/observability"

	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrAdvisoryLockTimeout is returned when the advisory lock stayed held past the wait budget.
var ErrAdvisoryLockTimeout = errors.New("advisory lock not acquired")

const advisoryPollInterval = 50 * time.Millisecond

// AdvisoryLocker takes session-level Postgres advisory locks keyed by name.
// Each held lock pins one pool connection until released.
type AdvisoryLocker struct {
	pool *pgxpool.Pool
	poll time.Duration
}

// NewAdvisoryLocker opens a dedicated pgx pool for advisory locks.
func NewAdvisoryLocker(ctx context.Context, cfg *config.Config) (*AdvisoryLocker, error) {
	pool, err := pgxpool.New(ctx, DSN(cfg))
	if err != nil {
		return nil, fmt.Errorf("open advisory lock pool: %w", err)
	}
	return &AdvisoryLocker{pool: pool, poll: advisoryPollInterval}, nil
}

// Acquire polls pg_try_advisory_lock until it succeeds or wait runs out.
// The returned func unlocks and hands the connection back to the pool.
func (l *AdvisoryLocker) Acquire(ctx context.Context, name string, wait time.Duration) (func(), error) {
	conn, err := l.pool.Acquire(ctx)
	if err != nil {
		observability.LockAcquisitions.WithLabelValues("db_slot", "error").Inc()
		return nil, fmt.Errorf("acquire advisory lock connection: %w", err)
	}

	deadline := time.Now().Add(wait)
	for {
		var locked bool
		if err := conn.QueryRow(ctx, "SELECT pg_try_advisory_lock(hashtext($1))", name).Scan(&locked); err != nil {
			conn.Release()
			observability.LockAcquisitions.WithLabelValues("db_slot", "error").Inc()
			return nil, fmt.Errorf("try advisory lock %s: %w", name, err)
		}
		if locked {
			observability.LockAcquisitions.WithLabelValues("db_slot", "acquired").Inc()
			return func() {
				unlockCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
				defer cancel()
				if _, err := conn.Exec(unlockCtx, "SELECT pg_advisory_unlock(hashtext($1))", name); err != nil {
					observability.GlobalLogger.WarnContext(unlockCtx, "failed to release advisory lock", "name", name, "error", err)
					// the session still holds the lock; drop the connection instead of reusing it
					_ = conn.Conn().Close(unlockCtx)
				}
				conn.Release()
			}, nil
		}
		if !time.Now().Before(deadline) {
			conn.Release()
			observability.LockAcquisitions.WithLabelValues("db_slot", "contended").Inc()
			return nil, ErrAdvisoryLockTimeout
		}

		select {
		case <-ctx.Done():
			conn.Release()
			return nil, ctx.Err()
		case <-time.After(l.poll):
		}
	}
}

// Ping checks the lock pool.
func (l *AdvisoryLocker) Ping(ctx context.Context) error {
	return l.pool.Ping(ctx)
}

// Close closes the pool.
func (l *AdvisoryLocker) Close() {
	l.pool.Close()
}
