package service

import (
	"context"
	"errors"
	"fmt"

	"livecommerce/internal/cache"
	"livecommerce/internal/models"
	"livecommerce/internal/notifications"
	"livecommerce/internal/observability"
)

// Notice markers. Each side effect of the schedule sweep runs once per marker.
const (
	noticeStartReminder = "start_30m"
	noticeEndingSoon    = "ending_soon"
	noticeEnded         = "ended"
)

var syncedStatuses = []models.BroadcastStatus{
	models.StatusOnAir, models.StatusReady, models.StatusEnded, models.StatusReserved,
}

// SyncSchedules moves broadcasts along their timetable: reservations become
// READY when their slot opens, no-shows are canceled, reminders go out and
// broadcasts past their scheduled length are ended and published as VOD.
func (s *BroadcastService) SyncSchedules(ctx context.Context) error {
	now := s.now()
	observability.LogAsyncOperationStart(ctx, "schedule_sync", nil)

	var errs []error
	if err := s.promoteReady(ctx); err != nil {
		errs = append(errs, err)
	}
	if err := s.cancelNoShows(ctx); err != nil {
		errs = append(errs, err)
	}

	schedules, err := s.Broadcasts.FindSchedules(ctx,
		now.Add(-s.settings.ScheduleLookaround), now.Add(s.settings.ScheduleLookaround), syncedStatuses)
	if err != nil {
		errs = append(errs, fmt.Errorf("find schedules: %w", err))
	}
	seen := make(map[uint]bool, len(schedules))
	for i := range schedules {
		b := &schedules[i]
		seen[b.ID] = true
		s.syncOne(ctx, b)
	}

	// on-air broadcasts that fell out of the lookaround window, e.g. after downtime
	overdue, err := s.Broadcasts.FindIDsForScheduledEnd(ctx, now.Add(-s.settings.ScheduledLength))
	if err != nil {
		errs = append(errs, fmt.Errorf("find overdue broadcasts: %w", err))
	}
	for _, id := range overdue {
		if !seen[id] {
			s.scheduledEnd(ctx, id)
		}
	}

	err = errors.Join(errs...)
	if err != nil {
		observability.LogAsyncOperationError(ctx, "schedule_sync", err, nil)
		return err
	}
	observability.LogAsyncOperationEnd(ctx, "schedule_sync", map[string]interface{}{"schedules": len(schedules)})
	return nil
}

func (s *BroadcastService) promoteReady(ctx context.Context) error {
	ids, err := s.Broadcasts.FindIDsForReadyTransition(ctx, s.now(), s.settings.ReadyWindow)
	if err != nil {
		return fmt.Errorf("find ready targets: %w", err)
	}
	for _, id := range ids {
		s.underLock(ctx, id, "ready", func(b *models.Broadcast) error {
			if b.Status != models.StatusReserved {
				return nil
			}
			if err := transition(b, models.StatusReady, models.TransitionOpts{At: s.now()}); err != nil {
				return err
			}
			if err := s.Broadcasts.Save(ctx, b); err != nil {
				return err
			}
			notifications.PublishBestEffort(ctx, s.Events, b.ID, notifications.EventBroadcastReady, nil)
			return nil
		})
	}
	return nil
}

func (s *BroadcastService) cancelNoShows(ctx context.Context) error {
	ids, err := s.Broadcasts.FindIDsForNoShow(ctx, s.now().Add(-s.settings.NoShowGrace))
	if err != nil {
		return fmt.Errorf("find no-show targets: %w", err)
	}
	for _, id := range ids {
		s.underLock(ctx, id, "no_show", func(b *models.Broadcast) error {
			if b.Status != models.StatusReserved && b.Status != models.StatusReady {
				return nil
			}
			opts := models.TransitionOpts{Reason: "broadcast start time violation", At: s.now()}
			if err := transition(b, models.StatusCanceled, opts); err != nil {
				return err
			}
			if err := s.Broadcasts.Save(ctx, b); err != nil {
				return err
			}
			notifications.PublishBestEffort(ctx, s.Events, b.ID, notifications.EventBroadcastNoShow, nil)
			return nil
		})
	}
	return nil
}

func (s *BroadcastService) syncOne(ctx context.Context, b *models.Broadcast) {
	now := s.now()

	if b.Status == models.StatusReserved {
		remindAt := b.ScheduledAt.Add(-s.settings.ReminderLead)
		if !remindAt.After(now) && b.ScheduledAt.After(now) && s.markOnce(ctx, b.ID, noticeStartReminder) {
			notifications.PublishBestEffort(ctx, s.Events, b.ID, notifications.EventStartReminder,
				map[string]interface{}{"scheduled_at": b.ScheduledAt})
		}
		return
	}

	end := b.ScheduledAt.Add(s.settings.ScheduledLength)
	if !end.After(now) {
		if b.Status == models.StatusOnAir || b.Status == models.StatusEnded {
			s.scheduledEnd(ctx, b.ID)
		}
		return
	}

	if s.Events != nil && b.Status == models.StatusOnAir && !end.Add(-s.settings.EndingSoonLead).After(now) &&
		s.markOnce(ctx, b.ID, noticeEndingSoon) {
		if err := s.Events.PublishToUser(ctx, b.ID, b.SellerID, notifications.EventEndingSoon, "1m"); err != nil {
			observability.GlobalLogger.WarnContext(ctx, "failed to notify seller of ending broadcast",
				"broadcast_id", b.ID, "error", err)
		}
	}
}

// scheduledEnd ends a broadcast that reached its scheduled length and
// publishes it as VOD right away. The VOD row follows once the recording is
// finalized. A busy transition lock leaves the broadcast for the next sweep;
// the ended notice is marked only after a transition has committed.
func (s *BroadcastService) scheduledEnd(ctx context.Context, broadcastID uint) {
	var wasLive bool
	if !s.underLock(ctx, broadcastID, "scheduled_end", func(b *models.Broadcast) error {
		if b.Status == models.StatusOnAir {
			if err := s.endLive(ctx, b); err != nil {
				return err
			}
			wasLive = true
		}
		return nil
	}) {
		return
	}
	if wasLive {
		s.Recorder.TriggerFallback(ctx, broadcastID, "scheduled_end")
	}

	published := s.underLock(ctx, broadcastID, "scheduled_end", func(b *models.Broadcast) error {
		if b.Status == models.StatusEnded {
			if err := transition(b, models.StatusVod, models.TransitionOpts{At: s.now()}); err != nil {
				return err
			}
			if err := s.Broadcasts.Save(ctx, b); err != nil {
				return err
			}
			if err := s.Prices.RestoreAll(ctx, b.ID); err != nil {
				observability.GlobalLogger.ErrorContext(ctx, "failed to restore prices",
					"broadcast_id", b.ID, "error", err)
			}
		}
		if err := s.Snapshots.SaveSnapshot(ctx, b); err != nil {
			observability.GlobalLogger.WarnContext(ctx, "failed to save result snapshot",
				"broadcast_id", b.ID, "error", err)
		}
		return nil
	})

	if (wasLive || published) && s.markOnce(ctx, broadcastID, noticeEnded) {
		notifications.PublishBestEffort(ctx, s.Events, broadcastID, notifications.EventScheduledEnd, "ended")
	}
}

// RecoverMissing looks for finished broadcasts without a VOD or a result and
// repairs what it can.
func (s *BroadcastService) RecoverMissing(ctx context.Context) (int, error) {
	statuses := []models.BroadcastStatus{models.StatusEnded, models.StatusStopped}
	ids, err := s.Broadcasts.FindMissingVodOrResult(ctx, statuses)
	if err != nil {
		return 0, fmt.Errorf("find broadcasts missing vod or result: %w", err)
	}
	for _, id := range ids {
		b, err := s.Broadcasts.GetByID(ctx, id)
		if err != nil {
			observability.GlobalLogger.WarnContext(ctx, "recovery lookup failed", "broadcast_id", id, "error", err)
			continue
		}
		state, err := s.Vods.GetByBroadcast(ctx, id)
		if err == nil && !state.Exists() {
			observability.GlobalLogger.InfoContext(ctx, "missing VOD detected, triggering fallback", "broadcast_id", id)
			s.Recorder.TriggerFallback(ctx, id, "missing_vod")
		}
		if _, err := s.Results.Get(ctx, id); models.IsCode(err, models.CodeNotFound) {
			observability.GlobalLogger.InfoContext(ctx, "missing result detected, saving snapshot", "broadcast_id", id)
			if err := s.Snapshots.SaveSnapshot(ctx, b); err != nil {
				observability.GlobalLogger.WarnContext(ctx, "failed to save result snapshot",
					"broadcast_id", id, "error", err)
			}
		}
	}
	return len(ids), nil
}

// underLock loads the broadcast under its transition lock and runs fn. It
// reports whether fn ran and succeeded. Failures are logged; sweeps keep
// going with the next broadcast.
func (s *BroadcastService) underLock(ctx context.Context, broadcastID uint, op string, fn func(b *models.Broadcast) error) bool {
	lock, err := lockTransition(ctx, s.Locker, broadcastID, s.settings.LockTTL)
	if err != nil {
		observability.GlobalLogger.InfoContext(ctx, "broadcast busy, retrying next sweep",
			"broadcast_id", broadcastID, "op", op)
		return false
	}
	defer lock.Release(context.WithoutCancel(ctx))

	b, err := s.Broadcasts.GetByID(ctx, broadcastID)
	if err != nil {
		observability.GlobalLogger.WarnContext(ctx, "sweep lookup failed",
			"broadcast_id", broadcastID, "op", op, "error", err)
		return false
	}
	if err := fn(b); err != nil {
		observability.LogAsyncOperationError(ctx, op, err, map[string]interface{}{"broadcast_id": broadcastID})
		return false
	}
	return true
}

// markOnce sets a notice marker and reports whether this call set it. When
// Redis is unreachable the action is skipped; the next sweep tries again.
func (s *BroadcastService) markOnce(ctx context.Context, broadcastID uint, notice string) bool {
	if s.Redis == nil {
		return true
	}
	ok, err := cache.SetOnce(ctx, s.Redis, cache.ScheduleNoticeKey(broadcastID, notice), s.settings.NoticeTTL)
	if err != nil {
		observability.GlobalLogger.WarnContext(ctx, "failed to set notice marker",
			"broadcast_id", broadcastID, "notice", notice, "error", err)
		return false
	}
	return ok
}
