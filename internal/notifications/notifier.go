// Package notifications fans broadcast lifecycle events out to connected
// clients over Redis pub/sub and websockets, and optionally to a Kinesis stream.
package notifications

import (
	"context"
	"encoding/json"
	"fmt"
	"runtime/debug"
	"time"

	"livecommerce/internal/cache"
	"livecommerce/internal/observability"

	"github.com/redis/go-redis/v9"
)

// Event types published by the engine.
const (
	EventBroadcastCreated   = "BROADCAST_CREATED"
	EventBroadcastUpdated   = "BROADCAST_UPDATED"
	EventBroadcastCanceled  = "BROADCAST_CANCELED"
	EventBroadcastDeleted   = "BROADCAST_DELETED"
	EventBroadcastReady     = "BROADCAST_READY"
	EventBroadcastStarted   = "BROADCAST_STARTED"
	EventBroadcastEnded     = "BROADCAST_ENDED"
	EventBroadcastStopped   = "BROADCAST_STOPPED"
	EventScheduledEnd       = "BROADCAST_SCHEDULED_END"
	EventEndingSoon         = "BROADCAST_ENDING_SOON"
	EventStartReminder      = "BROADCAST_START_REMINDER"
	EventViewerCount        = "VIEWER_COUNT"
	EventLikeCount          = "LIKE_COUNT"
	EventReportCount        = "REPORT_COUNT"
	EventChatMessage        = "CHAT_MESSAGE"
	EventProductSoldOut     = "PRODUCT_SOLD_OUT"
	EventViewerSanctioned   = "SANCTIONED"
	EventBroadcastNoShow    = "BROADCAST_NO_SHOW"
	EventRecordingFinalized = "VOD_READY"
)

// Event is the envelope every subscriber receives.
type Event struct {
	Type        string    `json:"type"`
	BroadcastID uint      `json:"broadcast_id"`
	UserID      uint      `json:"user_id,omitempty"`
	Payload     any       `json:"payload,omitempty"`
	At          time.Time `json:"at"`
}

// Publisher delivers events. Delivery is best-effort.
type Publisher interface {
	Publish(ctx context.Context, broadcastID uint, event string, payload any) error
	PublishToUser(ctx context.Context, broadcastID, userID uint, event string, payload any) error
}

// Sink receives a copy of every published event.
type Sink interface {
	Put(ctx context.Context, ev Event) error
}

// Notifier publishes events into per-broadcast Redis channels.
type Notifier struct {
	rdb  *redis.Client
	sink Sink
	now  func() time.Time
}

// NewNotifier creates a new Notifier instance using the provided Redis client.
// A nil client turns publishing into a no-op.
func NewNotifier(rdb *redis.Client) *Notifier {
	return &Notifier{rdb: rdb, now: time.Now}
}

// WithSink mirrors every event into sink.
func (n *Notifier) WithSink(sink Sink) *Notifier {
	n.sink = sink
	return n
}

// Publish sends an event to everyone watching the broadcast.
func (n *Notifier) Publish(ctx context.Context, broadcastID uint, event string, payload any) error {
	ev := Event{Type: event, BroadcastID: broadcastID, Payload: payload, At: n.now().UTC()}
	return n.publish(ctx, cache.BroadcastChannel(broadcastID), ev)
}

// PublishToUser sends an event to one member's connections on the broadcast.
func (n *Notifier) PublishToUser(ctx context.Context, broadcastID, userID uint, event string, payload any) error {
	ev := Event{Type: event, BroadcastID: broadcastID, UserID: userID, Payload: payload, At: n.now().UTC()}
	return n.publish(ctx, cache.BroadcastUserChannel(broadcastID, userID), ev)
}

func (n *Notifier) publish(ctx context.Context, channel string, ev Event) error {
	if n.sink != nil {
		if err := n.sink.Put(ctx, ev); err != nil {
			observability.GlobalLogger.WarnContext(ctx, "event sink rejected event",
				"type", ev.Type, "broadcast_id", ev.BroadcastID, "error", err)
		}
	}
	if n.rdb == nil {
		return nil
	}
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	return n.rdb.Publish(ctx, channel, data).Err()
}

// StartSubscriber subscribes to every broadcast channel and calls onMessage
// for each incoming message until ctx is done.
func (n *Notifier) StartSubscriber(ctx context.Context, onMessage func(channel string, payload string)) error {
	if n.rdb == nil {
		return nil
	}
	sub := n.rdb.PSubscribe(ctx, "events:broadcast:*")
	ch := sub.Channel()

	go func() {
		defer func() { _ = sub.Close() }()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				func() {
					defer func() {
						if r := recover(); r != nil {
							observability.GlobalLogger.Error("panic in event subscriber",
								"panic", r, "stack", string(debug.Stack()))
						}
					}()
					onMessage(msg.Channel, msg.Payload)
				}()
			}
		}
	}()

	return nil
}

// PublishBestEffort publishes and only logs a failure.
func PublishBestEffort(ctx context.Context, p Publisher, broadcastID uint, event string, payload any) {
	if p == nil {
		return
	}
	if err := p.Publish(ctx, broadcastID, event, payload); err != nil {
		observability.GlobalLogger.WarnContext(ctx, "failed to publish broadcast event",
			"broadcast_id", broadcastID, "event", event, "error", err)
	}
}
