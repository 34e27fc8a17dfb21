// Package admission admits new and rescheduled reservations into 30-minute
// slots without ever exceeding the per-slot capacity or a seller's quota.
package admission

import (
	"context"
	"errors"
	"fmt"
	"time"

	"livecommerce/internal/cache"
	"livecommerce/internal/config"
	"livecommerce/internal/database"
	"livecommerce/internal/models"
	"livecommerce/internal/observability"
	"livecommerce/internal/repository"

	"go.opentelemetry.io/otel/attribute"
)

// DBLocker takes the authoritative cross-process slot lock.
type DBLocker interface {
	Acquire(ctx context.Context, name string, wait time.Duration) (func(), error)
}

// Limits are the admission knobs.
type Limits struct {
	SlotCapacity        int
	SellerReservedLimit int
	SlotLength          time.Duration
	LockWait            time.Duration
	LockTTL             time.Duration
}

// LimitsFromConfig reads the admission knobs from cfg.
func LimitsFromConfig(cfg *config.Config) Limits {
	return Limits{
		SlotCapacity:        cfg.SlotCapacity,
		SellerReservedLimit: cfg.SellerReservedLimit,
		SlotLength:          cfg.SlotLength(),
		LockWait:            cfg.LockWait(),
		LockTTL:             cfg.LockTTL(),
	}
}

// Request describes one reservation asking for a slot.
type Request struct {
	SellerID uint
	// ScheduledAt is truncated to the start of its slot.
	ScheduledAt time.Time
	// CheckSellerLimit is set when the write adds a RESERVED broadcast for the
	// seller, as opposed to moving one the seller already holds.
	CheckSellerLimit bool
}

// WriteFunc performs the reservation write inside the admission transaction.
type WriteFunc func(tx repository.BroadcastRepository) error

// Gate serializes admission per seller and per slot.
type Gate struct {
	locker *cache.Locker
	db     DBLocker
	repo   repository.BroadcastRepository
	limits Limits
}

// NewGate returns a Gate.
func NewGate(locker *cache.Locker, db DBLocker, repo repository.BroadcastRepository, limits Limits) *Gate {
	return &Gate{locker: locker, db: db, repo: repo, limits: limits}
}

// SlotStart aligns t to the start of its slot in UTC.
func (g *Gate) SlotStart(t time.Time) time.Time {
	return t.UTC().Truncate(g.limits.SlotLength)
}

// Admit takes the seller, slot and database locks in that order, checks the
// capacity, runs write and checks the capacity again. A write that lands the
// slot over capacity is rolled back with SLOT_FULL.
func (g *Gate) Admit(ctx context.Context, req Request, write WriteFunc) (err error) {
	slot := g.SlotStart(req.ScheduledAt)
	span, ctx := observability.NewSpan(ctx, "admission.admit")
	span.AddAttributes(
		attribute.Int64("seller.id", int64(req.SellerID)),
		attribute.String("slot", slot.Format(time.RFC3339)),
	)
	defer func() {
		span.SetError(err)
		span.End()
	}()

	sellerLock, err := g.cacheLock(ctx, "seller", cache.SellerCreateLockKey(req.SellerID))
	if err != nil {
		return err
	}
	defer sellerLock.Release(context.WithoutCancel(ctx))

	slotLock, err := g.cacheLock(ctx, "slot", cache.SlotLockKey(slot))
	if err != nil {
		return err
	}
	defer slotLock.Release(context.WithoutCancel(ctx))

	unlock, err := g.db.Acquire(ctx, cache.SlotAdvisoryLockName(slot), g.limits.LockWait)
	if err != nil {
		if errors.Is(err, database.ErrAdvisoryLockTimeout) {
			g.reject("db_lock")
			return models.NewTooManyRequestsError("reservation slot")
		}
		return models.NewInternalError(fmt.Errorf("slot advisory lock: %w", err))
	}
	defer unlock()

	if req.CheckSellerLimit {
		held, err := g.repo.CountBySellerAndStatus(ctx, req.SellerID, models.StatusReserved)
		if err != nil {
			return models.NewInternalError(err)
		}
		if held >= int64(g.limits.SellerReservedLimit) {
			g.reject("seller_limit")
			return models.NewReservationLimitError(g.limits.SellerReservedLimit)
		}
	}

	end := slot.Add(g.limits.SlotLength)
	occupied, err := g.repo.CountByTimeSlot(ctx, slot, end)
	if err != nil {
		return models.NewInternalError(err)
	}
	if occupied >= int64(g.limits.SlotCapacity) {
		g.reject("slot_full")
		return models.NewSlotFullError(slot.Format(time.RFC3339))
	}

	return g.repo.Transaction(ctx, func(tx repository.BroadcastRepository) error {
		if err := write(tx); err != nil {
			return err
		}
		after, err := tx.CountByTimeSlot(ctx, slot, end)
		if err != nil {
			return models.NewInternalError(err)
		}
		if after > int64(g.limits.SlotCapacity) {
			g.reject("slot_full_after_write")
			return models.NewSlotFullError(slot.Format(time.RFC3339))
		}
		return nil
	})
}

// cacheLock returns a nil lock when Redis itself failed; the database lock
// still guards the slot in that case.
func (g *Gate) cacheLock(ctx context.Context, kind, key string) (*cache.Lock, error) {
	lock, err := g.locker.Acquire(ctx, kind, key, g.limits.LockTTL, g.limits.LockWait)
	switch {
	case err == nil:
		return lock, nil
	case errors.Is(err, cache.ErrLockNotAcquired):
		g.reject(kind + "_lock")
		return nil, models.NewTooManyRequestsError("reservation slot")
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return nil, err
	default:
		observability.GlobalLogger.WarnContext(ctx, "cache lock unavailable, relying on database lock",
			"kind", kind, "key", key, "error", err)
		return nil, nil
	}
}

func (g *Gate) reject(reason string) {
	observability.AdmissionRejections.WithLabelValues(reason).Inc()
}
