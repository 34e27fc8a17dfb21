package vod

import (
	"context"
	"fmt"

	"livecommerce/internal/models"
	"livecommerce/internal/observability"
)

// FlushStats folds the replay deltas of one broadcast into its result and
// its VOD report counter. Only broadcasts in VOD status take deltas.
func (p *Pipeline) FlushStats(ctx context.Context, broadcastID uint) error {
	delta, err := p.Counters.ConsumeVodStats(ctx, broadcastID)
	if err != nil {
		return fmt.Errorf("consume vod stats: %w", err)
	}
	if delta.IsZero() {
		return nil
	}

	b, err := p.Broadcasts.GetByID(ctx, broadcastID)
	if models.IsCode(err, models.CodeNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if b.Status != models.StatusVod {
		return nil
	}

	result, err := p.Results.GetOrInit(ctx, broadcastID)
	if err != nil {
		return err
	}
	if result.CreatedAt.IsZero() && result.MaxViewsAt == nil {
		result.MaxViewsAt = p.resolveMaxViewsAt(b, nil)
	}
	result.ApplyVodStatsDelta(delta)
	if err := p.Results.Save(ctx, result); err != nil {
		return err
	}

	if delta.Reports == 0 {
		return nil
	}
	state, err := p.Vods.GetByBroadcast(ctx, broadcastID)
	if err != nil || !state.Exists() {
		return err
	}
	state.Vod.ApplyReportDelta(delta.Reports)
	return p.Vods.Save(ctx, state.Vod)
}

// FlushDirty drains one batch of the dirty set and returns how many
// broadcasts were flushed.
func (p *Pipeline) FlushDirty(ctx context.Context) (int, error) {
	ids, err := p.Counters.PopDirtyVodIDs(ctx, p.opts.DirtyBatch)
	if err != nil {
		return 0, fmt.Errorf("pop dirty vod ids: %w", err)
	}
	flushed := 0
	for _, id := range ids {
		if err := p.FlushStats(ctx, id); err != nil {
			observability.LogAsyncOperationError(ctx, "vod_stats_flush", err,
				map[string]interface{}{"broadcast_id": id})
			continue
		}
		flushed++
	}
	return flushed, nil
}

// PurgeExpired deletes the assets of VODs past the retention window and marks
// them deleted. Failures are logged per VOD and the sweep goes on.
func (p *Pipeline) PurgeExpired(ctx context.Context) (int, error) {
	cutoff := p.now().Add(-p.opts.Retention)
	expired, err := p.Vods.ListExpired(ctx, cutoff)
	if err != nil {
		return 0, err
	}

	purged := 0
	for i := range expired {
		v := &expired[i]
		if err := p.purge(ctx, v); err != nil {
			observability.LogAsyncOperationError(ctx, "vod_purge", err,
				map[string]interface{}{"vod_id": v.ID, "broadcast_id": v.BroadcastID})
			continue
		}
		purged++
	}
	return purged, nil
}

// Remove deletes the stored asset of a VOD, flushes its pending stats and
// marks it deleted.
func (p *Pipeline) Remove(ctx context.Context, v *models.Vod) error {
	return p.purge(ctx, v)
}

func (p *Pipeline) purge(ctx context.Context, v *models.Vod) error {
	if v.VodURL != "" && p.Store != nil {
		if err := p.Store.Delete(ctx, v.VodURL); err != nil {
			return models.NewStorageError("delete vod object", err)
		}
	}
	if err := p.FlushStats(ctx, v.BroadcastID); err != nil {
		observability.GlobalLogger.WarnContext(ctx, "vod stats flush before delete failed",
			"broadcast_id", v.BroadcastID, "error", err)
	}
	if err := p.Counters.DeleteVodKeys(ctx, v.BroadcastID); err != nil {
		observability.GlobalLogger.WarnContext(ctx, "failed to delete vod keys",
			"broadcast_id", v.BroadcastID, "error", err)
	}
	v.MarkDeleted()
	return p.Vods.Save(ctx, v)
}
