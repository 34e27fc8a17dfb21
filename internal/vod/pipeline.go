// Package vod turns finished recordings into VODs and keeps their statistics
// in step with the broadcast result.
package vod

import (
	"context"
	"fmt"
	"time"

	"livecommerce/internal/config"
	"livecommerce/internal/livecounter"
	"livecommerce/internal/models"
	"livecommerce/internal/observability"
	"livecommerce/internal/recording"
	"livecommerce/internal/repository"
	"livecommerce/internal/storage"

	"go.opentelemetry.io/otel/attribute"
)

const contentTypeMP4 = "video/mp4"

// PriceRestorer puts the catalog prices of a broadcast back.
type PriceRestorer interface {
	RestoreAll(ctx context.Context, broadcastID uint) error
}

// Options tunes the pipeline.
type Options struct {
	UploadAttempts int
	UploadBackoff  time.Duration
	AdminDir       string
	Retention      time.Duration
	DirtyBatch     int64
}

// OptionsFromConfig reads the pipeline knobs from the application config.
func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		UploadAttempts: cfg.VodUploadAttempts,
		UploadBackoff:  time.Duration(cfg.VodUploadBackoffMillis) * time.Millisecond,
		AdminDir:       cfg.AdminVodDir,
		Retention:      time.Duration(cfg.VodRetentionDays) * 24 * time.Hour,
		DirtyBatch:     100,
	}
}

// Deps are the collaborators of the pipeline. Store and Assets may be nil, in
// which case VODs keep pointing at the provider URL.
type Deps struct {
	Broadcasts repository.BroadcastRepository
	Vods       repository.VodRepository
	Results    repository.ResultRepository
	Sales      repository.SalesRepository
	Views      repository.ViewHistoryRepository
	Counters   *livecounter.Store
	Prices     PriceRestorer
	Assets     recording.AssetSource
	Store      storage.ObjectStore
}

// Pipeline finalizes recordings. It implements recording.Finalizer.
type Pipeline struct {
	Deps
	opts  Options
	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

// NewPipeline returns a Pipeline.
func NewPipeline(deps Deps, opts Options) *Pipeline {
	if opts.UploadAttempts < 1 {
		opts.UploadAttempts = 1
	}
	if opts.DirtyBatch < 1 {
		opts.DirtyBatch = 100
	}
	return &Pipeline{Deps: deps, opts: opts, now: time.Now, sleep: sleepContext}
}

// ObjectKey is where the VOD of a recording is stored.
func ObjectKey(sellerID uint, recordingID string) string {
	return fmt.Sprintf("seller_%d/vods/%s.mp4", sellerID, recordingID)
}

// Finalize stores the recording, then creates the VOD together with the
// result snapshot. The statistics are read before anything is written, so a
// failure leaves nothing behind. For a broadcast that already has a VOD only
// the closing steps run again; they are all safe to repeat.
func (p *Pipeline) Finalize(ctx context.Context, b *models.Broadcast, rec recording.Recording) (err error) {
	span, ctx := observability.StartBroadcastSpan(ctx, "vod.finalize", b.ID)
	span.AddAttributes(attribute.String("recording.id", rec.ID))
	defer func() {
		span.SetError(err)
		span.End()
	}()

	fields := map[string]interface{}{"broadcast_id": b.ID, "recording_id": rec.ID}
	observability.LogAsyncOperationStart(ctx, "vod_finalize", fields)

	state, err := p.Vods.GetByBroadcast(ctx, b.ID)
	if err != nil {
		observability.VodFinalizations.WithLabelValues("failed").Inc()
		return err
	}
	if state.Exists() {
		observability.VodFinalizations.WithLabelValues("duplicate").Inc()
		return p.complete(ctx, b, fields)
	}

	stats, err := p.Aggregate(ctx, b)
	if err != nil {
		observability.VodFinalizations.WithLabelValues("failed").Inc()
		return err
	}

	url := p.upload(ctx, b, rec)
	stopped := b.Status == models.StatusStopped
	status := models.VodPublic
	if stopped || url == "" {
		status = models.VodPrivate
	}
	if stopped && url != "" {
		p.copyForAdmin(ctx, b, rec, url)
	}

	size := rec.Size
	if size == 0 && url != "" && p.Store != nil {
		if n, err := p.Store.GetObjectSize(ctx, url); err != nil {
			observability.LogAsyncOperationWarn(ctx, "vod_finalize", "object size lookup failed", fields)
		} else {
			size = n
		}
	}

	result, err := p.Results.GetOrInit(ctx, b.ID)
	if err != nil {
		observability.VodFinalizations.WithLabelValues("failed").Inc()
		return err
	}
	result.Merge(stats)

	vod := &models.Vod{
		BroadcastID:  b.ID,
		VodURL:       url,
		VodSize:      size,
		VodDuration:  int(rec.Duration),
		Status:       status,
		VodAdminLock: stopped,
	}
	created, err := p.Vods.CreateWithResult(ctx, vod, result)
	if err != nil {
		observability.VodFinalizations.WithLabelValues("failed").Inc()
		return models.NewStorageError(fmt.Sprintf("create vod for broadcast %d", b.ID), err)
	}
	if !created {
		observability.VodFinalizations.WithLabelValues("duplicate").Inc()
		return p.complete(ctx, b, fields)
	}
	if url != rec.URL && p.Assets != nil {
		if err := p.Assets.DeleteRecording(ctx, rec.ID); err != nil {
			observability.GlobalLogger.WarnContext(ctx, "failed to delete provider recording after upload",
				"recording_id", rec.ID, "error", err)
		}
	}
	if err := p.complete(ctx, b, fields); err != nil {
		return err
	}

	observability.VodFinalizations.WithLabelValues(string(status)).Inc()
	fields["status"] = status
	fields["vod_url"] = url
	observability.LogAsyncOperationEnd(ctx, "vod_finalize", fields)
	return nil
}

// complete hands the reaction keys over to the VOD phase, drops the live
// keys and moves an ended broadcast to VOD with its catalog prices restored.
func (p *Pipeline) complete(ctx context.Context, b *models.Broadcast, fields map[string]interface{}) error {
	if err := p.Counters.PersistReactionKeys(ctx, b.ID); err != nil {
		observability.LogAsyncOperationWarn(ctx, "vod_finalize", "failed to persist reaction keys", fields)
	}
	if err := p.Counters.DeleteRuntimeKeys(ctx, b.ID); err != nil {
		observability.LogAsyncOperationWarn(ctx, "vod_finalize", "failed to delete runtime keys", fields)
	}

	switch b.Status {
	case models.StatusEnded:
		if err := p.promote(ctx, b); err != nil {
			observability.LogAsyncOperationError(ctx, "vod_promote", err, fields)
			return err
		}
	case models.StatusVod:
		if err := p.restorePrices(ctx, b.ID); err != nil {
			observability.LogAsyncOperationError(ctx, "vod_promote", err, fields)
			return err
		}
	}
	return nil
}

// promote moves an ended broadcast to VOD and restores its catalog prices.
func (p *Pipeline) promote(ctx context.Context, b *models.Broadcast) error {
	from := b.Status
	if err := b.TransitionTo(models.StatusVod, models.TransitionOpts{At: p.now()}); err != nil {
		return err
	}
	if err := p.Broadcasts.Save(ctx, b); err != nil {
		return err
	}
	observability.BroadcastTransitions.WithLabelValues(string(from), string(models.StatusVod)).Inc()
	return p.restorePrices(ctx, b.ID)
}

func (p *Pipeline) restorePrices(ctx context.Context, broadcastID uint) error {
	if p.Prices == nil {
		return nil
	}
	if err := p.Prices.RestoreAll(ctx, broadcastID); err != nil {
		return fmt.Errorf("restore prices: %w", err)
	}
	return nil
}

// upload copies the recording into object storage and returns its URL. When
// every attempt fails the provider URL is kept. The provider copy is deleted
// by Finalize once the VOD is committed.
func (p *Pipeline) upload(ctx context.Context, b *models.Broadcast, rec recording.Recording) string {
	if p.Store == nil || p.Assets == nil || rec.ID == "" {
		return rec.URL
	}
	key := ObjectKey(b.SellerID, rec.ID)
	for attempt := 1; attempt <= p.opts.UploadAttempts; attempt++ {
		url, err := p.uploadOnce(ctx, rec.ID, key)
		if err == nil {
			return url
		}
		observability.GlobalLogger.WarnContext(ctx, "vod upload failed",
			"broadcast_id", b.ID, "recording_id", rec.ID, "attempt", attempt, "error", err)
		if attempt == p.opts.UploadAttempts {
			break
		}
		if err := p.sleep(ctx, p.opts.UploadBackoff*time.Duration(attempt)); err != nil {
			break
		}
	}
	observability.LogAsyncOperationWarn(ctx, "vod_upload", "falling back to the provider url",
		map[string]interface{}{"broadcast_id": b.ID, "recording_id": rec.ID})
	return rec.URL
}

func (p *Pipeline) uploadOnce(ctx context.Context, recordingID, key string) (string, error) {
	body, _, err := p.Assets.OpenRecording(ctx, recordingID)
	if err != nil {
		return "", err
	}
	defer body.Close()
	return p.Store.UploadStream(ctx, key, body, contentTypeMP4)
}

func (p *Pipeline) copyForAdmin(ctx context.Context, b *models.Broadcast, rec recording.Recording, url string) {
	if p.Store == nil || p.opts.AdminDir == "" {
		return
	}
	name := fmt.Sprintf("broadcast-%d-%s.mp4", b.ID, rec.ID)
	path, err := storage.CopyToFile(ctx, p.Store, url, p.opts.AdminDir, name)
	if err != nil {
		observability.LogAsyncOperationError(ctx, "vod_admin_copy", err,
			map[string]interface{}{"broadcast_id": b.ID, "url": url})
		return
	}
	observability.GlobalLogger.InfoContext(ctx, "stopped broadcast VOD copied for review",
		"broadcast_id", b.ID, "path", path)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
