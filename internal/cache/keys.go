package cache

import (
	"fmt"
	"time"
)

const (
	broadcastPrefix = "broadcast:%d:"

	// VodStatsDirtyKey is the set of broadcast ids with unflushed VOD reactions.
	VodStatsDirtyKey = "vod:stats:dirty"

	// RecordingRetryQueueKey orders finalize retries by due time.
	RecordingRetryQueueKey = "broadcast:recording:retry"
	// RecordingStartRetryQueueKey orders recording start retries by due time.
	RecordingStartRetryQueueKey = "broadcast:recording:start:retry"
)

const (
	// PresenceTTL bounds live presence and engagement keys.
	PresenceTTL = 24 * time.Hour
	// MediaConfigTTL bounds a seller's saved device settings.
	MediaConfigTTL = 24 * time.Hour
)

func broadcastKey(broadcastID uint, suffix string) string {
	return fmt.Sprintf(broadcastPrefix, broadcastID) + suffix
}

// ActiveViewersKey is the set of viewers currently inside.
func ActiveViewersKey(broadcastID uint) string { return broadcastKey(broadcastID, "active_uv") }

// SessionCountsKey maps viewer id to open tab count.
func SessionCountsKey(broadcastID uint) string { return broadcastKey(broadcastID, "session_counts") }

// TotalViewersKey is the set of every viewer that ever entered.
func TotalViewersKey(broadcastID uint) string { return broadcastKey(broadcastID, "total_uv") }

func LikeUsersKey(broadcastID uint) string   { return broadcastKey(broadcastID, "like_users") }
func ReportUsersKey(broadcastID uint) string { return broadcastKey(broadcastID, "report_users") }
func ReportCountKey(broadcastID uint) string { return broadcastKey(broadcastID, "reports") }
func ChatCountKey(broadcastID uint) string   { return broadcastKey(broadcastID, "chats") }
func SanctionsKey(broadcastID uint) string   { return broadcastKey(broadcastID, "sanctions") }
func MaxViewersKey(broadcastID uint) string  { return broadcastKey(broadcastID, "max_viewers") }

func MaxViewersTimeKey(broadcastID uint) string {
	return broadcastKey(broadcastID, "max_viewers_time")
}

// OriginalPriceKey is the hash of product id to pre-live price.
func OriginalPriceKey(broadcastID uint) string { return broadcastKey(broadcastID, "original_price") }

func MediaConfigKey(broadcastID, sellerID uint) string {
	return broadcastKey(broadcastID, fmt.Sprintf("media:%d", sellerID))
}

// ScheduleNoticeKey marks a one-shot schedule side effect as done.
func ScheduleNoticeKey(broadcastID uint, notice string) string {
	return broadcastKey(broadcastID, "notice:"+notice)
}

func VodViewersKey(broadcastID uint) string     { return fmt.Sprintf("vod:%d:viewers", broadcastID) }
func VodViewDeltaKey(broadcastID uint) string   { return fmt.Sprintf("vod:%d:view_delta", broadcastID) }
func VodLikeDeltaKey(broadcastID uint) string   { return fmt.Sprintf("vod:%d:like_delta", broadcastID) }
func VodReportDeltaKey(broadcastID uint) string { return fmt.Sprintf("vod:%d:report_delta", broadcastID) }

// RetryAttemptKey counts attempts of one broadcast in a retry queue.
func RetryAttemptKey(queueKey string, broadcastID uint) string {
	return fmt.Sprintf("%s:%d:attempts", queueKey, broadcastID)
}

// SellerCreateLockKey serializes reservations of one seller.
func SellerCreateLockKey(sellerID uint) string {
	return fmt.Sprintf("lock:seller:%d:broadcast_create", sellerID)
}

// SlotLockKey serializes admission into one slot.
func SlotLockKey(slot time.Time) string {
	return fmt.Sprintf("lock:broadcast_slot:%d", slot.Unix())
}

// SlotAdvisoryLockName is the database advisory lock name for a slot.
func SlotAdvisoryLockName(slot time.Time) string {
	return fmt.Sprintf("db-lock:broadcast-slot:%d", slot.Unix())
}

// RateLimitKey counts requests of one caller against one resource.
func RateLimitKey(resource, callerID string) string {
	return fmt.Sprintf("rl:%s:%s", resource, callerID)
}

// TransitionLockKey serializes status changes of one broadcast.
func TransitionLockKey(broadcastID uint) string {
	return fmt.Sprintf("lock:broadcast_transition:%d", broadcastID)
}

// BroadcastChannel is the pub/sub channel for room-wide events.
func BroadcastChannel(broadcastID uint) string {
	return fmt.Sprintf("events:broadcast:%d", broadcastID)
}

// BroadcastUserChannel is the pub/sub channel for events aimed at one user.
func BroadcastUserChannel(broadcastID, userID uint) string {
	return fmt.Sprintf("events:broadcast:%d:user:%d", broadcastID, userID)
}

// RuntimeKeys are the presence keys dropped once a broadcast stops being live.
func RuntimeKeys(broadcastID uint) []string {
	return []string{
		ActiveViewersKey(broadcastID),
		SessionCountsKey(broadcastID),
		TotalViewersKey(broadcastID),
		SanctionsKey(broadcastID),
		MaxViewersKey(broadcastID),
		MaxViewersTimeKey(broadcastID),
	}
}

// ReactionKeys survive into the VOD phase.
func ReactionKeys(broadcastID uint) []string {
	return []string{
		LikeUsersKey(broadcastID),
		ReportUsersKey(broadcastID),
		ReportCountKey(broadcastID),
	}
}

// VodKeys are every key that belongs to a VOD's reactions.
func VodKeys(broadcastID uint) []string {
	return append(ReactionKeys(broadcastID),
		ChatCountKey(broadcastID),
		VodViewersKey(broadcastID),
		VodViewDeltaKey(broadcastID),
		VodLikeDeltaKey(broadcastID),
		VodReportDeltaKey(broadcastID),
	)
}
