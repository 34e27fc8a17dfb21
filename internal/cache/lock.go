package cache

import (
	"context"
	"errors"
	"time"

	"livecommerce/internal/observability"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// ErrLockNotAcquired is returned when the lock stayed held past the wait budget.
var ErrLockNotAcquired = errors.New("lock not acquired")

const lockPollInterval = 50 * time.Millisecond

// Only the holder that set the token may delete the key.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// Locker hands out short-lived SET NX PX locks.
type Locker struct {
	rdb *redis.Client
}

// NewLocker returns a Locker over rdb.
func NewLocker(rdb *redis.Client) *Locker {
	return &Locker{rdb: rdb}
}

// Lock is a held cache lock.
type Lock struct {
	rdb   *redis.Client
	key   string
	token string
}

// Acquire tries to take key for ttl, polling until wait elapses.
// A zero wait makes a single attempt.
func (l *Locker) Acquire(ctx context.Context, kind, key string, ttl, wait time.Duration) (*Lock, error) {
	token := uuid.NewString()
	deadline := time.Now().Add(wait)

	for {
		ok, err := l.rdb.SetNX(ctx, key, token, ttl).Result()
		if err != nil {
			observability.LockAcquisitions.WithLabelValues(kind, "error").Inc()
			return nil, err
		}
		if ok {
			observability.LockAcquisitions.WithLabelValues(kind, "acquired").Inc()
			return &Lock{rdb: l.rdb, key: key, token: token}, nil
		}
		if !time.Now().Before(deadline) {
			observability.LockAcquisitions.WithLabelValues(kind, "contended").Inc()
			return nil, ErrLockNotAcquired
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(lockPollInterval):
		}
	}
}

// Release drops the lock if it is still ours. Safe on a nil lock.
func (lk *Lock) Release(ctx context.Context) {
	if lk == nil {
		return
	}
	if err := releaseScript.Run(ctx, lk.rdb, []string{lk.key}, lk.token).Err(); err != nil && !errors.Is(err, redis.Nil) {
		observability.GlobalLogger.WarnContext(ctx, "failed to release cache lock", "key", lk.key, "error", err)
	}
}

// SetOnce sets key only if absent. Used for one-shot markers.
func SetOnce(ctx context.Context, rdb *redis.Client, key string, ttl time.Duration) (bool, error) {
	return rdb.SetNX(ctx, key, "sent", ttl).Result()
}
