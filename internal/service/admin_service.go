package service

import (
	"context"
	"strconv"
	"strings"
	"time"

	"livecommerce/internal/cache"
	"livecommerce/internal/livecounter"
	"livecommerce/internal/models"
	"livecommerce/internal/notifications"
	"livecommerce/internal/observability"
	"livecommerce/internal/recording"
	"livecommerce/internal/repository"
	"livecommerce/internal/validation"
)

// AdminDeps are the collaborators of AdminService.
type AdminDeps struct {
	Broadcasts repository.BroadcastRepository
	Views      repository.ViewHistoryRepository
	Counters   *livecounter.Store
	Prices     PriceOverlay
	Provider   recording.Provider
	Recorder   Recorder
	Snapshots  Snapshotter
	Events     notifications.Publisher
	Locker     *cache.Locker
}

// AdminService holds the operator interventions on broadcasts.
type AdminService struct {
	AdminDeps
	lockTTL time.Duration
	now     func() time.Time
}

// NewAdminService returns an AdminService.
func NewAdminService(deps AdminDeps, settings Settings) *AdminService {
	return &AdminService{AdminDeps: deps, lockTTL: settings.LockTTL, now: time.Now}
}

// ForceStop takes a broadcast off air. The recording is finalized through the
// fallback path since the provider session is closed immediately.
func (s *AdminService) ForceStop(ctx context.Context, broadcastID uint, reason string) error {
	reason, err := validation.Reason("stop", reason)
	if err != nil {
		return models.NewValidationError(err.Error())
	}

	lock, err := lockTransition(ctx, s.Locker, broadcastID, s.lockTTL)
	if err != nil {
		return err
	}
	defer lock.Release(context.WithoutCancel(ctx))

	b, err := s.Broadcasts.GetByID(ctx, broadcastID)
	if err != nil {
		return err
	}
	wasOnAir := b.Status == models.StatusOnAir
	now := s.now()
	if err := transition(b, models.StatusStopped, models.TransitionOpts{Reason: reason, At: now}); err != nil {
		return err
	}
	if err := s.Broadcasts.Save(ctx, b); err != nil {
		return models.NewInternalError(err)
	}

	log := observability.GlobalLogger.With("broadcast_id", b.ID)
	log.InfoContext(ctx, "broadcast stopped by admin", "reason", reason)

	if err := s.Prices.RestoreAll(ctx, b.ID); err != nil {
		log.ErrorContext(ctx, "failed to restore prices", "error", err)
	}
	if wasOnAir && s.Views != nil {
		if err := s.Views.CloseActive(ctx, b.ID, now); err != nil {
			log.WarnContext(ctx, "failed to close view histories", "error", err)
		}
	}
	// the snapshot reads the live counters, so it goes before they are dropped
	if err := s.Snapshots.SaveSnapshot(ctx, b); err != nil {
		log.WarnContext(ctx, "failed to save result snapshot", "error", err)
	}
	if err := s.Provider.CloseSession(ctx, b.SessionID()); err != nil {
		log.WarnContext(ctx, "failed to close media session", "error", err)
	}
	if err := s.Counters.DeleteRuntimeKeys(ctx, b.ID); err != nil {
		log.WarnContext(ctx, "failed to delete runtime keys", "error", err)
	}

	s.Recorder.ScheduleFinalize(ctx, b.ID, "force_stop")
	notifications.PublishBestEffort(ctx, s.Events, b.ID, notifications.EventBroadcastStopped,
		map[string]string{"reason": reason})
	return nil
}

// AdminCancel cancels a reservation on the seller's behalf.
func (s *AdminService) AdminCancel(ctx context.Context, broadcastID uint, reason string) error {
	reason, err := validation.Reason("cancel", reason)
	if err != nil {
		return models.NewValidationError(err.Error())
	}

	lock, err := lockTransition(ctx, s.Locker, broadcastID, s.lockTTL)
	if err != nil {
		return err
	}
	defer lock.Release(context.WithoutCancel(ctx))

	b, err := s.Broadcasts.GetByID(ctx, broadcastID)
	if err != nil {
		return err
	}
	if b.Status != models.StatusReserved {
		return models.NewInvalidTransitionError(b.Status, models.StatusCanceled)
	}
	if err := transition(b, models.StatusCanceled, models.TransitionOpts{Reason: reason, At: s.now()}); err != nil {
		return err
	}
	if err := s.Broadcasts.Save(ctx, b); err != nil {
		return models.NewInternalError(err)
	}
	notifications.PublishBestEffort(ctx, s.Events, b.ID, notifications.EventBroadcastCanceled,
		map[string]string{"reason": reason})
	return nil
}

// SanctionViewer bars a viewer from the broadcast and drops their media
// connection when one is given.
func (s *AdminService) SanctionViewer(ctx context.Context, broadcastID uint, viewerID, connectionID string) error {
	viewerID = strings.TrimSpace(viewerID)
	if viewerID == "" {
		return models.NewValidationError("viewer id is required")
	}
	b, err := s.Broadcasts.GetByID(ctx, broadcastID)
	if err != nil {
		return err
	}
	if !b.Status.IsLive() {
		return models.NewNotOnAirError(b.Status)
	}

	if err := s.Counters.Sanction(ctx, broadcastID, viewerID); err != nil {
		return models.NewInternalError(err)
	}
	if connectionID != "" && b.StreamKey != "" {
		if err := s.Provider.ForceDisconnect(ctx, b.SessionID(), connectionID); err != nil {
			observability.GlobalLogger.WarnContext(ctx, "failed to disconnect sanctioned viewer",
				"broadcast_id", broadcastID, "viewer_id", viewerID, "error", err)
		}
	}
	if _, err := s.Counters.Exit(ctx, broadcastID, viewerID); err != nil {
		observability.GlobalLogger.WarnContext(ctx, "failed to drop sanctioned viewer presence",
			"broadcast_id", broadcastID, "viewer_id", viewerID, "error", err)
	}

	if memberID, err := strconv.ParseUint(viewerID, 10, 64); err == nil && s.Events != nil {
		if err := s.Events.PublishToUser(ctx, broadcastID, uint(memberID), notifications.EventViewerSanctioned, nil); err != nil {
			observability.GlobalLogger.WarnContext(ctx, "failed to notify sanctioned viewer",
				"broadcast_id", broadcastID, "viewer_id", viewerID, "error", err)
		}
	}
	return nil
}
