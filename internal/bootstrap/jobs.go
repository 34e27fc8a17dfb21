package bootstrap

import (
	"context"

	"livecommerce/internal/config"
	"livecommerce/internal/featureflags"
	"livecommerce/internal/observability"
	"livecommerce/internal/scheduler"
)

// ScheduleSweeper advances reserved broadcasts along their schedule.
type ScheduleSweeper interface {
	SyncSchedules(ctx context.Context) error
	RecoverMissing(ctx context.Context) (int, error)
}

// QueueDrainer works off the recording retry queues.
type QueueDrainer interface {
	DrainStartQueue(ctx context.Context) (int, error)
	DrainFinalizeQueue(ctx context.Context) (int, error)
}

// VodMaintainer keeps VOD statistics and retention current.
type VodMaintainer interface {
	FlushDirty(ctx context.Context) (int, error)
	PurgeExpired(ctx context.Context) (int, error)
}

// Sweeps are the components the background jobs drive.
type Sweeps struct {
	Broadcasts ScheduleSweeper
	Recordings QueueDrainer
	Vods       VodMaintainer
}

// RegisterJobs adds the periodic jobs of the engine to runner.
func RegisterJobs(runner *scheduler.Runner, every config.Intervals, sweeps Sweeps) {
	runner.Add(scheduler.Job{
		Name:  "schedule_sync",
		Flag:  featureflags.JobScheduleSync,
		Every: every.ScheduleSync,
		Run:   sweeps.Broadcasts.SyncSchedules,
	})
	runner.Add(scheduler.Job{
		Name:  "recording_start_queue",
		Flag:  featureflags.JobStartQueue,
		Every: every.StartQueue,
		Run:   counted("recording_start_queue", sweeps.Recordings.DrainStartQueue),
	})
	runner.Add(scheduler.Job{
		Name:  "recording_finalize_queue",
		Flag:  featureflags.JobFinalizeQueue,
		Every: every.FinalizeQueue,
		Run:   counted("recording_finalize_queue", sweeps.Recordings.DrainFinalizeQueue),
	})
	runner.Add(scheduler.Job{
		Name:  "recording_recovery",
		Flag:  featureflags.JobRecovery,
		Every: every.Recovery,
		Run:   counted("recording_recovery", sweeps.Broadcasts.RecoverMissing),
	})
	runner.Add(scheduler.Job{
		Name:  "vod_stats_flush",
		Flag:  featureflags.JobVodStatsFlush,
		Every: every.VodStatsFlush,
		Run:   counted("vod_stats_flush", sweeps.Vods.FlushDirty),
	})
	runner.Add(scheduler.Job{
		Name:  "vod_purge",
		Flag:  featureflags.JobVodPurge,
		Daily: true,
		Hour:  every.VodPurgeHour,
		Run:   counted("vod_purge", sweeps.Vods.PurgeExpired),
	})
}

// counted adapts a sweep that reports how much it handled.
func counted(name string, fn func(ctx context.Context) (int, error)) func(ctx context.Context) error {
	return func(ctx context.Context) error {
		n, err := fn(ctx)
		if err != nil {
			return err
		}
		if n > 0 {
			observability.GlobalLogger.InfoContext(ctx, "job handled items", "job", name, "count", n)
		}
		return nil
	}
}
