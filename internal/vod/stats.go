package vod

import (
	"context"
	"fmt"
	"time"

	"livecommerce/internal/models"
	"livecommerce/internal/observability"
)

// Aggregate collects the statistics of a broadcast from the live counters,
// the view history and the paid orders placed while it was on air.
func (p *Pipeline) Aggregate(ctx context.Context, b *models.Broadcast) (models.ResultStats, error) {
	stats, err := p.Counters.Snapshot(ctx, b.ID)
	if err != nil {
		return models.ResultStats{}, fmt.Errorf("read live counters: %w", err)
	}
	stats.MaxViewsAt = p.resolveMaxViewsAt(b, stats.MaxViewsAt)

	avg, err := p.Views.AverageWatchSeconds(ctx, b.ID)
	if err != nil {
		return models.ResultStats{}, fmt.Errorf("average watch time: %w", err)
	}
	stats.AvgWatchTime = avg

	from, to, ok := p.salesWindow(b)
	if !ok {
		return stats, nil
	}
	ids, err := p.productIDs(ctx, b.ID)
	if err != nil {
		return models.ResultStats{}, err
	}
	if len(ids) == 0 {
		return stats, nil
	}
	stats.Sales, err = p.Sales.TotalPaidSales(ctx, from, to, ids)
	if err != nil {
		return models.ResultStats{}, fmt.Errorf("paid sales: %w", err)
	}
	return stats, nil
}

// ProductSales returns the paid sales of each product of the broadcast while
// it was on air.
func (p *Pipeline) ProductSales(ctx context.Context, b *models.Broadcast) (map[uint]int64, error) {
	from, to, ok := p.salesWindow(b)
	if !ok {
		return map[uint]int64{}, nil
	}
	ids, err := p.productIDs(ctx, b.ID)
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return map[uint]int64{}, nil
	}
	return p.Sales.PaidSalesByProduct(ctx, from, to, ids)
}

// SaveSnapshot merges the current statistics into the stored result. The
// merge only ever raises values, so it can run any number of times.
func (p *Pipeline) SaveSnapshot(ctx context.Context, b *models.Broadcast) error {
	stats, err := p.Aggregate(ctx, b)
	if err != nil {
		return err
	}
	result, err := p.Results.GetOrInit(ctx, b.ID)
	if err != nil {
		return err
	}
	result.Merge(stats)
	if err := p.Results.Save(ctx, result); err != nil {
		return models.NewStorageError(fmt.Sprintf("save result of broadcast %d", b.ID), err)
	}
	observability.GlobalLogger.InfoContext(ctx, "broadcast result saved",
		"broadcast_id", b.ID, "total_views", result.TotalViews, "max_views", result.MaxViews)
	return nil
}

func (p *Pipeline) salesWindow(b *models.Broadcast) (time.Time, time.Time, bool) {
	if b.StartedAt == nil {
		return time.Time{}, time.Time{}, false
	}
	to := p.now()
	if b.EndedAt != nil {
		to = *b.EndedAt
	}
	return *b.StartedAt, to, true
}

func (p *Pipeline) productIDs(ctx context.Context, broadcastID uint) ([]uint, error) {
	bps, err := p.Broadcasts.ListProducts(ctx, broadcastID)
	if err != nil {
		return nil, fmt.Errorf("list products of broadcast %d: %w", broadcastID, err)
	}
	ids := make([]uint, 0, len(bps))
	for _, bp := range bps {
		ids = append(ids, bp.ProductID)
	}
	return ids, nil
}

// resolveMaxViewsAt falls back to the start, then the creation time, when no
// peak was ever recorded.
func (p *Pipeline) resolveMaxViewsAt(b *models.Broadcast, peak *time.Time) *time.Time {
	if peak != nil {
		return peak
	}
	if b.StartedAt != nil {
		t := *b.StartedAt
		return &t
	}
	if !b.CreatedAt.IsZero() {
		t := b.CreatedAt
		return &t
	}
	t := p.now()
	return &t
}
