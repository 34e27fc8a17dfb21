// Package service holds the broadcast use cases: seller scheduling and live
// control, viewer presence and reactions, admin interventions and replays.
package service

import (
	"context"
	"errors"
	"time"

	"livecommerce/internal/admission"
	"livecommerce/internal/cache"
	"livecommerce/internal/config"
	"livecommerce/internal/models"
	"livecommerce/internal/observability"
	"livecommerce/internal/recording"
)

// Admitter guards reservation writes with the slot capacity rules.
type Admitter interface {
	Admit(ctx context.Context, req admission.Request, write admission.WriteFunc) error
	SlotStart(t time.Time) time.Time
}

// PriceOverlay switches pinned products between live and original prices.
type PriceOverlay interface {
	Apply(ctx context.Context, broadcastID uint) error
	RestoreAll(ctx context.Context, broadcastID uint) error
	RestoreProduct(ctx context.Context, productID uint) error
}

// Recorder drives recordings and their finalization.
type Recorder interface {
	StartRecording(ctx context.Context, b *models.Broadcast, reason string) error
	ScheduleFinalize(ctx context.Context, broadcastID uint, reason string)
	TriggerFallback(ctx context.Context, broadcastID uint, reason string)
}

// Snapshotter aggregates counters into the durable result.
type Snapshotter interface {
	Aggregate(ctx context.Context, b *models.Broadcast) (models.ResultStats, error)
	ProductSales(ctx context.Context, b *models.Broadcast) (map[uint]int64, error)
	SaveSnapshot(ctx context.Context, b *models.Broadcast) error
}

// Settings are the scheduling knobs the services need.
type Settings struct {
	SlotCapacity    int
	SlotLength      time.Duration
	OpenHour        int
	CloseHour       int
	ScheduledLength time.Duration
	ReadyWindow     time.Duration
	NoShowGrace     time.Duration
	NoticeTTL       time.Duration
	LockTTL         time.Duration
	ReminderLead    time.Duration
	EndingSoonLead  time.Duration
	// ScheduleLookaround bounds how far the schedule sweep looks back and ahead.
	ScheduleLookaround time.Duration
}

// SettingsFromConfig reads Settings from cfg.
func SettingsFromConfig(cfg *config.Config) Settings {
	return Settings{
		SlotCapacity:       cfg.SlotCapacity,
		SlotLength:         cfg.SlotLength(),
		OpenHour:           cfg.ReservableOpenHour,
		CloseHour:          cfg.ReservableCloseHour,
		ScheduledLength:    time.Duration(cfg.ScheduledLengthMin) * time.Minute,
		ReadyWindow:        time.Duration(cfg.ReadyWindowMinutes) * time.Minute,
		NoShowGrace:        time.Duration(cfg.NoShowGraceMinutes) * time.Minute,
		NoticeTTL:          time.Duration(cfg.NoticeMarkerTTLHours) * time.Hour,
		LockTTL:            cfg.LockTTL(),
		ReminderLead:       30 * time.Minute,
		EndingSoonLead:     time.Minute,
		ScheduleLookaround: 2 * time.Hour,
	}
}

// lockTransition takes the per-broadcast transition lock in a single attempt.
// A Redis failure is logged and the caller proceeds unlocked.
func lockTransition(ctx context.Context, locker *cache.Locker, broadcastID uint, ttl time.Duration) (*cache.Lock, error) {
	if locker == nil {
		return nil, nil
	}
	lock, err := locker.Acquire(ctx, "transition", cache.TransitionLockKey(broadcastID), ttl, 0)
	switch {
	case err == nil:
		return lock, nil
	case errors.Is(err, cache.ErrLockNotAcquired):
		return nil, models.NewTooManyRequestsError("broadcast")
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return nil, err
	default:
		observability.GlobalLogger.WarnContext(ctx, "transition lock unavailable",
			"broadcast_id", broadcastID, "error", err)
		return nil, nil
	}
}

// transition applies to and counts it.
func transition(b *models.Broadcast, to models.BroadcastStatus, opts models.TransitionOpts) error {
	from := b.Status
	if err := b.TransitionTo(to, opts); err != nil {
		return err
	}
	observability.BroadcastTransitions.WithLabelValues(string(from), string(to)).Inc()
	return nil
}

func requireOwner(b *models.Broadcast, sellerID uint) error {
	if b.SellerID != sellerID {
		return models.NewForbiddenError("broadcast belongs to another seller")
	}
	return nil
}

func providerErr(message string, err error) error {
	var appErr *models.AppError
	if errors.As(err, &appErr) {
		return err
	}
	return models.NewProviderError(message, err)
}

// recordingRole is the token role of a connection.
func recordingRole(host bool) recording.Role {
	if host {
		return recording.RoleHost
	}
	return recording.RoleSubscriber
}
