package recording

import (
	"context"
	"errors"
	"fmt"

	"livecommerce/internal/models"
	"livecommerce/internal/observability"
)

// BroadcastLookup loads broadcasts by id.
type BroadcastLookup interface {
	GetByID(ctx context.Context, id uint) (*models.Broadcast, error)
}

// VodLookup reports whether a broadcast was already finalized.
type VodLookup interface {
	GetByBroadcast(ctx context.Context, broadcastID uint) (models.VodState, error)
}

// Finalizer turns a ready recording into a VOD and a result snapshot.
type Finalizer interface {
	Finalize(ctx context.Context, b *models.Broadcast, rec Recording) error
}

// Orchestrator starts recordings and makes sure every ended broadcast is
// eventually finalized, retrying through the two queues.
type Orchestrator struct {
	provider   Provider
	broadcasts BroadcastLookup
	vods       VodLookup
	finalizer  Finalizer
	starts     *RetryQueue
	finalizes  *RetryQueue
}

// NewOrchestrator returns an Orchestrator.
func NewOrchestrator(provider Provider, broadcasts BroadcastLookup, vods VodLookup, finalizer Finalizer, starts, finalizes *RetryQueue) *Orchestrator {
	return &Orchestrator{
		provider:   provider,
		broadcasts: broadcasts,
		vods:       vods,
		finalizer:  finalizer,
		starts:     starts,
		finalizes:  finalizes,
	}
}

// StartRecording asks the provider to record the broadcast. A start the
// provider cannot take yet is queued for retry and reported as success; once
// the retry budget is spent the provider error is returned.
func (o *Orchestrator) StartRecording(ctx context.Context, b *models.Broadcast, reason string) error {
	err := o.provider.StartRecording(ctx, b.SessionID())
	if err == nil {
		return o.starts.Clear(ctx, b.ID)
	}

	outcome := ClassifyStart(err)
	switch outcome {
	case StartRetriable:
		if o.scheduleStart(ctx, b.ID, reason, err) {
			return nil
		}
		return models.NewProviderError("recording could not be started, retries exhausted", err)
	case StartAlreadyActive:
		observability.GlobalLogger.InfoContext(ctx, "recording already active", "broadcast_id", b.ID)
		return o.starts.Clear(ctx, b.ID)
	case StartModuleDisabled:
		observability.GlobalLogger.ErrorContext(ctx, "recording module appears disabled",
			"broadcast_id", b.ID, "error", err)
		return models.NewProviderError("recording is not available on the media server", err)
	default:
		observability.GlobalLogger.ErrorContext(ctx, "recording start failed",
			"broadcast_id", b.ID, "status", StatusOf(err), "error", err)
		return models.NewProviderError("failed to start recording", err)
	}
}

// DrainStartQueue retries every start whose time has come.
func (o *Orchestrator) DrainStartQueue(ctx context.Context) (int, error) {
	ids, err := o.starts.PopDue(ctx)
	for _, id := range ids {
		o.retryStart(ctx, id)
	}
	return len(ids), err
}

func (o *Orchestrator) retryStart(ctx context.Context, broadcastID uint) {
	b, err := o.broadcasts.GetByID(ctx, broadcastID)
	if err != nil || b.Status != models.StatusOnAir {
		o.clear(ctx, o.starts, broadcastID)
		return
	}

	err = o.provider.StartRecording(ctx, b.SessionID())
	if err == nil {
		o.clear(ctx, o.starts, broadcastID)
		observability.GlobalLogger.InfoContext(ctx, "recording started after retry", "broadcast_id", broadcastID)
		return
	}
	switch ClassifyStart(err) {
	case StartRetriable:
		o.scheduleStart(ctx, broadcastID, "retry_queue", err)
	case StartAlreadyActive:
		o.clear(ctx, o.starts, broadcastID)
	default:
		o.clear(ctx, o.starts, broadcastID)
		observability.LogAsyncOperationError(ctx, "recording_start_retry", err, map[string]interface{}{
			"broadcast_id": broadcastID,
			"status":       StatusOf(err),
		})
	}
}

// scheduleStart reports whether a retry is queued.
func (o *Orchestrator) scheduleStart(ctx context.Context, broadcastID uint, reason string, cause error) bool {
	attempt, scheduled, err := o.starts.Schedule(ctx, broadcastID)
	fields := map[string]interface{}{
		"broadcast_id": broadcastID,
		"reason":       reason,
		"status":       StatusOf(cause),
		"attempt":      attempt,
	}
	switch {
	case err != nil:
		observability.LogAsyncOperationError(ctx, "recording_start_schedule", err, fields)
	case !scheduled:
		observability.LogAsyncOperationError(ctx, "recording_start_schedule",
			fmt.Errorf("start retries exhausted: %w", cause), fields)
	default:
		observability.LogAsyncOperationWarn(ctx, "recording_start_schedule", "recording start deferred", fields)
	}
	return err == nil && scheduled
}

// ScheduleFinalize queues a finalization check for a broadcast that just
// stopped being live, in case the provider's webhook never arrives.
func (o *Orchestrator) ScheduleFinalize(ctx context.Context, broadcastID uint, reason string) {
	o.scheduleFinalize(ctx, broadcastID, reason, "scheduled")
}

// DrainFinalizeQueue runs the fallback for every due id.
func (o *Orchestrator) DrainFinalizeQueue(ctx context.Context) (int, error) {
	ids, err := o.finalizes.PopDue(ctx)
	for _, id := range ids {
		o.TriggerFallback(ctx, id, "retry_queue")
	}
	return len(ids), err
}

// TriggerFallback polls the provider for the broadcast's recording. A ready
// recording is finalized now, a failed one is given up on and anything
// else is checked again later.
func (o *Orchestrator) TriggerFallback(ctx context.Context, broadcastID uint, reason string) {
	b, err := o.broadcasts.GetByID(ctx, broadcastID)
	if err != nil {
		if models.IsCode(err, models.CodeNotFound) {
			o.clear(ctx, o.finalizes, broadcastID)
			return
		}
		o.scheduleFinalize(ctx, broadcastID, reason, "lookup_error")
		return
	}
	done, err := o.finalized(ctx, broadcastID)
	if err != nil {
		o.scheduleFinalize(ctx, broadcastID, reason, "lookup_error")
		return
	}
	if done {
		// Only the closing steps are left; the recording is not needed.
		if err := o.finalize(ctx, b, Recording{}); err != nil {
			o.scheduleFinalize(ctx, broadcastID, reason, "finalize_error")
		}
		return
	}

	rec, err := o.provider.FindRecording(ctx, b.SessionID())
	if err != nil {
		observability.GlobalLogger.WarnContext(ctx, "recording status check failed",
			"broadcast_id", broadcastID, "reason", reason, "error", err)
		o.scheduleFinalize(ctx, broadcastID, reason, "error")
		return
	}
	if rec == nil {
		o.scheduleFinalize(ctx, broadcastID, reason, "not_found")
		return
	}

	switch rec.Status {
	case StatusReady:
		if err := o.finalize(ctx, b, *rec); err != nil {
			o.scheduleFinalize(ctx, broadcastID, reason, "finalize_error")
		}
	case StatusFailed:
		observability.GlobalLogger.WarnContext(ctx, "provider reported a failed recording",
			"broadcast_id", broadcastID, "recording_id", rec.ID)
		o.clear(ctx, o.finalizes, broadcastID)
	default:
		o.scheduleFinalize(ctx, broadcastID, reason, rec.Status)
	}
}

// HandleRecordingReady finalizes the broadcast behind a recording the
// provider announced as ready. Unknown sessions are ignored. A repeated
// announcement is passed on too, so a finalization that stopped after the
// VOD was created gets completed.
func (o *Orchestrator) HandleRecordingReady(ctx context.Context, rec Recording) error {
	broadcastID, ok := models.ParseSessionID(rec.SessionID)
	if !ok || rec.ID == "" {
		observability.GlobalLogger.WarnContext(ctx, "ignoring recording without a broadcast session",
			"session_id", rec.SessionID, "recording_id", rec.ID)
		return nil
	}
	b, err := o.broadcasts.GetByID(ctx, broadcastID)
	if err != nil {
		return err
	}
	if err := o.finalize(ctx, b, rec); err != nil {
		o.scheduleFinalize(ctx, broadcastID, "webhook", "finalize_error")
		return err
	}
	return nil
}

// Pending reports whether a finalization check is still queued.
func (o *Orchestrator) Pending(ctx context.Context, broadcastID uint) (bool, error) {
	return o.finalizes.Pending(ctx, broadcastID)
}

func (o *Orchestrator) finalize(ctx context.Context, b *models.Broadcast, rec Recording) error {
	if err := o.finalizer.Finalize(ctx, b, rec); err != nil {
		observability.LogAsyncOperationError(ctx, "vod_finalize", err, map[string]interface{}{
			"broadcast_id": b.ID,
			"recording_id": rec.ID,
		})
		return err
	}
	o.clear(ctx, o.finalizes, b.ID)
	o.clear(ctx, o.starts, b.ID)
	return nil
}

func (o *Orchestrator) finalized(ctx context.Context, broadcastID uint) (bool, error) {
	state, err := o.vods.GetByBroadcast(ctx, broadcastID)
	if err != nil {
		return false, err
	}
	return state.Exists(), nil
}

func (o *Orchestrator) scheduleFinalize(ctx context.Context, broadcastID uint, reason, status string) {
	attempt, scheduled, err := o.finalizes.Schedule(ctx, broadcastID)
	fields := map[string]interface{}{
		"broadcast_id": broadcastID,
		"reason":       reason,
		"status":       status,
		"attempt":      attempt,
	}
	switch {
	case err != nil:
		observability.LogAsyncOperationError(ctx, "recording_finalize_schedule", err, fields)
	case !scheduled:
		observability.LogAsyncOperationError(ctx, "recording_finalize_schedule",
			errors.New("finalize retries exhausted, recover manually"), fields)
	default:
		observability.GlobalLogger.InfoContext(ctx, "recording finalization scheduled", "broadcast_id", broadcastID,
			"reason", reason, "status", status, "attempt", attempt)
	}
}

func (o *Orchestrator) clear(ctx context.Context, q *RetryQueue, broadcastID uint) {
	if err := q.Clear(ctx, broadcastID); err != nil {
		observability.GlobalLogger.WarnContext(ctx, "failed to clear retry bookkeeping",
			"queue", q.name, "broadcast_id", broadcastID, "error", err)
		return
	}
	observability.RetryEvents.WithLabelValues(q.name, "cleared").Inc()
}
