package recording

import (
	"context"
	"errors"
	"strconv"
	"time"

	"livecommerce/internal/cache"
	"livecommerce/internal/config"
	"livecommerce/internal/observability"

	"github.com/redis/go-redis/v9"
)

// RetryQueue is a due-time ordered set of broadcast ids with a bounded
// attempt counter per id. Several processes may drain the same queue: an id
// is handled only by the worker whose ZREM removed it.
type RetryQueue struct {
	rdb    *redis.Client
	name   string
	key    string
	policy config.RetrySettings
	batch  int64
	now    func() time.Time
}

// NewRetryQueue returns a queue stored under key. name labels its metrics.
func NewRetryQueue(rdb *redis.Client, name, key string, policy config.RetrySettings, batch int) *RetryQueue {
	if batch <= 0 {
		batch = 20
	}
	return &RetryQueue{rdb: rdb, name: name, key: key, policy: policy, batch: int64(batch), now: time.Now}
}

// NewStartQueue is the queue of recording starts the provider rejected.
func NewStartQueue(rdb *redis.Client, cfg *config.Config) *RetryQueue {
	return NewRetryQueue(rdb, "start", cache.RecordingStartRetryQueueKey, cfg.StartRetry(), cfg.RetryQueueBatch)
}

// NewFinalizeQueue is the queue of recordings waiting to be finalized.
func NewFinalizeQueue(rdb *redis.Client, cfg *config.Config) *RetryQueue {
	return NewRetryQueue(rdb, "finalize", cache.RecordingRetryQueueKey, cfg.FinalizeRetry(), cfg.RetryQueueBatch)
}

// Schedule counts one more attempt and queues the id at base delay times the
// attempt number. Past the attempt limit the bookkeeping is cleared, nothing
// is queued and scheduled is false.
func (q *RetryQueue) Schedule(ctx context.Context, broadcastID uint) (attempt int, scheduled bool, err error) {
	attemptKey := cache.RetryAttemptKey(q.key, broadcastID)
	n, err := q.rdb.Incr(ctx, attemptKey).Result()
	if err != nil {
		return 0, false, err
	}
	if n == 1 {
		if err := q.rdb.Expire(ctx, attemptKey, q.policy.AttemptTTL).Err(); err != nil {
			return int(n), false, err
		}
	}
	if n > int64(q.policy.MaxAttempts) {
		observability.RetryEvents.WithLabelValues(q.name, "exhausted").Inc()
		return int(n), false, q.Clear(ctx, broadcastID)
	}

	due := q.now().Add(q.policy.BaseDelay * time.Duration(n))
	if err := q.rdb.ZAdd(ctx, q.key, redis.Z{Score: float64(due.UnixMilli()), Member: member(broadcastID)}).Err(); err != nil {
		return int(n), false, err
	}
	observability.RetryEvents.WithLabelValues(q.name, "scheduled").Inc()
	return int(n), true, nil
}

// PopDue claims up to one batch of ids whose due time has passed.
func (q *RetryQueue) PopDue(ctx context.Context) ([]uint, error) {
	due, err := q.rdb.ZRangeByScore(ctx, q.key, &redis.ZRangeBy{
		Min:   "0",
		Max:   strconv.FormatInt(q.now().UnixMilli(), 10),
		Count: q.batch,
	}).Result()
	if err != nil {
		return nil, err
	}

	claimed := make([]uint, 0, len(due))
	for _, m := range due {
		removed, err := q.rdb.ZRem(ctx, q.key, m).Result()
		if err != nil {
			return claimed, err
		}
		if removed != 1 {
			continue
		}
		id, err := strconv.ParseUint(m, 10, 64)
		if err != nil {
			continue
		}
		claimed = append(claimed, uint(id))
	}
	return claimed, nil
}

// Clear drops the id from the queue and resets its attempt counter.
func (q *RetryQueue) Clear(ctx context.Context, broadcastID uint) error {
	_, err := q.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.ZRem(ctx, q.key, member(broadcastID))
		pipe.Del(ctx, cache.RetryAttemptKey(q.key, broadcastID))
		return nil
	})
	return err
}

// Attempts returns the attempts counted so far.
func (q *RetryQueue) Attempts(ctx context.Context, broadcastID uint) (int, error) {
	n, err := q.rdb.Get(ctx, cache.RetryAttemptKey(q.key, broadcastID)).Int()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	return n, err
}

// Pending reports whether the id is waiting in the queue.
func (q *RetryQueue) Pending(ctx context.Context, broadcastID uint) (bool, error) {
	_, err := q.rdb.ZScore(ctx, q.key, member(broadcastID)).Result()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	return err == nil, err
}

func member(broadcastID uint) string {
	return strconv.FormatUint(uint64(broadcastID), 10)
}
