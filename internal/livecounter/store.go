// Package livecounter keeps the high-churn engagement state of a broadcast in Redis:
// multi-tab presence, the peak gauge, likes, reports, chats, sanctions and the
// VOD-phase reaction deltas that are later folded into the durable result.
package livecounter

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"livecommerce/internal/cache"
	"livecommerce/internal/models"

	"github.com/redis/go-redis/v9"
)

// Entering bumps the tab count and joins the active set on the first tab only.
var enterScript = redis.NewScript(`
local n = redis.call("HINCRBY", KEYS[1], ARGV[1], 1)
if n == 1 then
	redis.call("SADD", KEYS[2], ARGV[1])
end
redis.call("SADD", KEYS[3], ARGV[1])
for i = 1, 3 do
	redis.call("EXPIRE", KEYS[i], ARGV[2])
end
return n
`)

// Exiting leaves the active set once no tab is left.
var exitScript = redis.NewScript(`
local n = redis.call("HINCRBY", KEYS[1], ARGV[1], -1)
if n <= 0 then
	redis.call("HDEL", KEYS[1], ARGV[1])
	redis.call("SREM", KEYS[2], ARGV[1])
end
return n
`)

// Reporting adds the member to the reporters and bumps the count only when
// the member is new.
var reportScript = redis.NewScript(`
local added = redis.call("SADD", KEYS[1], ARGV[1])
redis.call("EXPIRE", KEYS[1], ARGV[2])
local count
if added == 1 then
	count = redis.call("INCR", KEYS[2])
	if count == 1 then
		redis.call("EXPIRE", KEYS[2], ARGV[2])
	end
else
	count = tonumber(redis.call("GET", KEYS[2])) or 0
end
return {added, count}
`)

// Store reads and writes the ephemeral counters of every broadcast.
type Store struct {
	rdb *redis.Client
	now func() time.Time
}

// NewStore returns a Store over rdb.
func NewStore(rdb *redis.Client) *Store {
	return &Store{rdb: rdb, now: time.Now}
}

// Enter registers one more open tab of viewerID and returns the viewer's tab count.
func (s *Store) Enter(ctx context.Context, broadcastID uint, viewerID string) (int64, error) {
	keys := []string{
		cache.SessionCountsKey(broadcastID),
		cache.ActiveViewersKey(broadcastID),
		cache.TotalViewersKey(broadcastID),
	}
	n, err := enterScript.Run(ctx, s.rdb, keys, viewerID, int(cache.PresenceTTL.Seconds())).Int64()
	if err != nil {
		return 0, fmt.Errorf("enter broadcast %d: %w", broadcastID, err)
	}
	return n, nil
}

// Exit closes one tab of viewerID and returns the tabs still open.
func (s *Store) Exit(ctx context.Context, broadcastID uint, viewerID string) (int64, error) {
	keys := []string{
		cache.SessionCountsKey(broadcastID),
		cache.ActiveViewersKey(broadcastID),
	}
	n, err := exitScript.Run(ctx, s.rdb, keys, viewerID).Int64()
	if err != nil {
		return 0, fmt.Errorf("exit broadcast %d: %w", broadcastID, err)
	}
	if n < 0 {
		n = 0
	}
	return n, nil
}

// Realtime is the number of viewers with at least one open tab.
func (s *Store) Realtime(ctx context.Context, broadcastID uint) (int64, error) {
	return s.rdb.SCard(ctx, cache.ActiveViewersKey(broadcastID)).Result()
}

// Unique is the number of distinct viewers that ever entered.
func (s *Store) Unique(ctx context.Context, broadcastID uint) (int64, error) {
	return s.rdb.SCard(ctx, cache.TotalViewersKey(broadcastID)).Result()
}

// UpdatePeak raises the peak gauge when the current presence beats it.
// It is a plain read-modify-write; a concurrent update may leave the peak slightly low.
func (s *Store) UpdatePeak(ctx context.Context, broadcastID uint) (bool, error) {
	current, err := s.Realtime(ctx, broadcastID)
	if err != nil {
		return false, err
	}
	peak, err := s.intValue(ctx, cache.MaxViewersKey(broadcastID))
	if err != nil {
		return false, err
	}
	if current <= peak {
		return false, nil
	}

	now := s.now().UTC()
	_, err = s.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, cache.MaxViewersKey(broadcastID), current, cache.PresenceTTL)
		pipe.Set(ctx, cache.MaxViewersTimeKey(broadcastID), now.Format(time.RFC3339Nano), cache.PresenceTTL)
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("update peak of broadcast %d: %w", broadcastID, err)
	}
	return true, nil
}

// Peak returns the peak gauge and when it was reached, nil if never recorded.
func (s *Store) Peak(ctx context.Context, broadcastID uint) (int64, *time.Time, error) {
	peak, err := s.intValue(ctx, cache.MaxViewersKey(broadcastID))
	if err != nil {
		return 0, nil, err
	}
	raw, err := s.rdb.Get(ctx, cache.MaxViewersTimeKey(broadcastID)).Result()
	if errors.Is(err, redis.Nil) {
		return peak, nil, nil
	}
	if err != nil {
		return 0, nil, err
	}
	at, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return peak, nil, nil
	}
	return peak, &at, nil
}

// ToggleLike flips the member's like and returns the new state and like count.
func (s *Store) ToggleLike(ctx context.Context, broadcastID, memberID uint) (bool, int64, error) {
	key := cache.LikeUsersKey(broadcastID)
	liked, err := s.toggleMember(ctx, key, memberKey(memberID))
	if err != nil {
		return false, 0, err
	}
	_ = s.rdb.Expire(ctx, key, cache.PresenceTTL).Err()
	count, err := s.rdb.SCard(ctx, key).Result()
	if err != nil {
		return liked, 0, err
	}
	return liked, count, nil
}

// Liked reports whether memberID currently likes the broadcast.
func (s *Store) Liked(ctx context.Context, broadcastID, memberID uint) (bool, error) {
	return s.rdb.SIsMember(ctx, cache.LikeUsersKey(broadcastID), memberKey(memberID)).Result()
}

// Report files one report per member and returns whether it was new plus the report count.
func (s *Store) Report(ctx context.Context, broadcastID, memberID uint) (bool, int64, error) {
	keys := []string{cache.ReportUsersKey(broadcastID), cache.ReportCountKey(broadcastID)}
	out, err := reportScript.Run(ctx, s.rdb, keys, memberKey(memberID), int(cache.PresenceTTL.Seconds())).Int64Slice()
	if err != nil {
		return false, 0, fmt.Errorf("report broadcast %d: %w", broadcastID, err)
	}
	if len(out) != 2 {
		return false, 0, fmt.Errorf("report broadcast %d: unexpected reply %v", broadcastID, out)
	}
	return out[0] == 1, out[1], nil
}

// RecordChat counts one chat message.
func (s *Store) RecordChat(ctx context.Context, broadcastID uint) (int64, error) {
	n, err := s.rdb.Incr(ctx, cache.ChatCountKey(broadcastID)).Result()
	if err != nil {
		return 0, err
	}
	if n == 1 {
		s.rdb.Expire(ctx, cache.ChatCountKey(broadcastID), cache.PresenceTTL)
	}
	return n, nil
}

// Sanction bars viewerID from the broadcast.
func (s *Store) Sanction(ctx context.Context, broadcastID uint, viewerID string) error {
	key := cache.SanctionsKey(broadcastID)
	if err := s.rdb.SAdd(ctx, key, viewerID).Err(); err != nil {
		return err
	}
	return s.rdb.Expire(ctx, key, cache.PresenceTTL).Err()
}

func (s *Store) IsSanctioned(ctx context.Context, broadcastID uint, viewerID string) (bool, error) {
	return s.rdb.SIsMember(ctx, cache.SanctionsKey(broadcastID), viewerID).Result()
}

// Snapshot reads every live counter that feeds the durable result.
func (s *Store) Snapshot(ctx context.Context, broadcastID uint) (models.ResultStats, error) {
	var stats models.ResultStats

	views, err := s.Unique(ctx, broadcastID)
	if err != nil {
		return stats, err
	}
	likes, err := s.rdb.SCard(ctx, cache.LikeUsersKey(broadcastID)).Result()
	if err != nil {
		return stats, err
	}
	reports, err := s.intValue(ctx, cache.ReportCountKey(broadcastID))
	if err != nil {
		return stats, err
	}
	chats, err := s.intValue(ctx, cache.ChatCountKey(broadcastID))
	if err != nil {
		return stats, err
	}
	peak, peakAt, err := s.Peak(ctx, broadcastID)
	if err != nil {
		return stats, err
	}

	stats.Views = int(views)
	stats.Likes = int(likes)
	stats.Reports = int(reports)
	stats.Chats = int(chats)
	stats.MaxViews = int(peak)
	stats.MaxViewsAt = peakAt
	return stats, nil
}

// RecordVodView counts a replay viewer once.
func (s *Store) RecordVodView(ctx context.Context, broadcastID uint, viewerID string) (bool, error) {
	if viewerID == "" {
		return false, nil
	}
	added, err := s.rdb.SAdd(ctx, cache.VodViewersKey(broadcastID), viewerID).Result()
	if err != nil || added == 0 {
		return false, err
	}
	if err := s.rdb.Incr(ctx, cache.VodViewDeltaKey(broadcastID)).Err(); err != nil {
		return true, err
	}
	return true, s.MarkVodDirty(ctx, broadcastID)
}

// ToggleVodLike flips a like on the replay and accumulates a ±1 delta.
func (s *Store) ToggleVodLike(ctx context.Context, broadcastID, memberID uint) (bool, error) {
	liked, err := s.toggleMember(ctx, cache.LikeUsersKey(broadcastID), memberKey(memberID))
	if err != nil {
		return false, err
	}
	delta := int64(-1)
	if liked {
		delta = 1
	}
	if err := s.rdb.IncrBy(ctx, cache.VodLikeDeltaKey(broadcastID), delta).Err(); err != nil {
		return liked, err
	}
	return liked, s.MarkVodDirty(ctx, broadcastID)
}

// ReportVod files one replay report per member.
func (s *Store) ReportVod(ctx context.Context, broadcastID, memberID uint) (bool, error) {
	added, err := s.rdb.SAdd(ctx, cache.ReportUsersKey(broadcastID), memberKey(memberID)).Result()
	if err != nil || added == 0 {
		return false, err
	}
	if err := s.rdb.Incr(ctx, cache.VodReportDeltaKey(broadcastID)).Err(); err != nil {
		return true, err
	}
	return true, s.MarkVodDirty(ctx, broadcastID)
}

// MarkVodDirty queues broadcastID for the next stats flush.
func (s *Store) MarkVodDirty(ctx context.Context, broadcastID uint) error {
	return s.rdb.SAdd(ctx, cache.VodStatsDirtyKey, strconv.FormatUint(uint64(broadcastID), 10)).Err()
}

// PopDirtyVodIDs takes up to n broadcast ids out of the dirty set.
func (s *Store) PopDirtyVodIDs(ctx context.Context, n int64) ([]uint, error) {
	members, err := s.rdb.SPopN(ctx, cache.VodStatsDirtyKey, n).Result()
	if err != nil {
		return nil, err
	}
	ids := make([]uint, 0, len(members))
	for _, m := range members {
		id, err := strconv.ParseUint(m, 10, 64)
		if err != nil {
			continue
		}
		ids = append(ids, uint(id))
	}
	return ids, nil
}

// ConsumeVodStats reads and zeroes the replay deltas.
func (s *Store) ConsumeVodStats(ctx context.Context, broadcastID uint) (models.VodStatsDelta, error) {
	var d models.VodStatsDelta
	views, err := s.consume(ctx, cache.VodViewDeltaKey(broadcastID))
	if err != nil {
		return d, err
	}
	likes, err := s.consume(ctx, cache.VodLikeDeltaKey(broadcastID))
	if err != nil {
		return d, err
	}
	reports, err := s.consume(ctx, cache.VodReportDeltaKey(broadcastID))
	if err != nil {
		return d, err
	}
	d.Views, d.Likes, d.Reports = int(views), int(likes), int(reports)
	return d, nil
}

// PersistReactionKeys strips the TTL from the like and report keys so they carry into the VOD phase.
func (s *Store) PersistReactionKeys(ctx context.Context, broadcastID uint) error {
	for _, key := range cache.ReactionKeys(broadcastID) {
		if err := s.rdb.Persist(ctx, key).Err(); err != nil {
			return err
		}
	}
	return nil
}

// DeleteRuntimeKeys drops presence, peak and sanction state.
func (s *Store) DeleteRuntimeKeys(ctx context.Context, broadcastID uint) error {
	return s.rdb.Del(ctx, cache.RuntimeKeys(broadcastID)...).Err()
}

// DeleteVodKeys drops every replay reaction key and the dirty marker.
func (s *Store) DeleteVodKeys(ctx context.Context, broadcastID uint) error {
	if err := s.rdb.Del(ctx, cache.VodKeys(broadcastID)...).Err(); err != nil {
		return err
	}
	return s.rdb.SRem(ctx, cache.VodStatsDirtyKey, strconv.FormatUint(uint64(broadcastID), 10)).Err()
}

func (s *Store) toggleMember(ctx context.Context, key, member string) (bool, error) {
	added, err := s.rdb.SAdd(ctx, key, member).Result()
	if err != nil {
		return false, err
	}
	if added == 1 {
		return true, nil
	}
	if err := s.rdb.SRem(ctx, key, member).Err(); err != nil {
		return true, err
	}
	return false, nil
}

func (s *Store) intValue(ctx context.Context, key string) (int64, error) {
	v, err := s.rdb.Get(ctx, key).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		var numErr *strconv.NumError
		if errors.As(err, &numErr) {
			return 0, nil
		}
		return 0, err
	}
	return v, nil
}

func (s *Store) consume(ctx context.Context, key string) (int64, error) {
	raw, err := s.rdb.GetSet(ctx, key, 0).Result()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, nil
	}
	return v, nil
}

func memberKey(memberID uint) string {
	return strconv.FormatUint(uint64(memberID), 10)
}
