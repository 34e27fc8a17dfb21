// Package scheduler runs the periodic sweeps of the engine on plain tickers.
// Every job is idempotent, so overlapping processes only repeat work.
package scheduler

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"livecommerce/internal/featureflags"
	"livecommerce/internal/observability"
)

// Job is one periodic unit of work.
type Job struct {
	Name string
	// Flag disables the job when set to off.
	Flag string
	// Every is the tick period. Ignored for daily jobs.
	Every time.Duration
	// Daily runs the job once a day at Hour:00 UTC.
	Daily bool
	Hour  int
	Run   func(ctx context.Context) error
}

// Runner owns the job goroutines.
type Runner struct {
	flags *featureflags.Manager
	now   func() time.Time

	mu   sync.Mutex
	jobs []Job

	wg       sync.WaitGroup
	stopOnce sync.Once
	stopCh   chan struct{}
}

// NewRunner returns a Runner that consults flags before every run.
func NewRunner(flags *featureflags.Manager) *Runner {
	return &Runner{
		flags:  flags,
		now:    time.Now,
		stopCh: make(chan struct{}),
	}
}

// Add registers a job. Jobs added after Start are not run.
func (r *Runner) Add(job Job) {
	r.mu.Lock()
	r.jobs = append(r.jobs, job)
	r.mu.Unlock()
}

// Jobs returns the registered job names.
func (r *Runner) Jobs() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	names := make([]string, 0, len(r.jobs))
	for _, j := range r.jobs {
		names = append(names, j.Name)
	}
	return names
}

// Start launches one goroutine per job. They exit on Stop or when ctx ends.
func (r *Runner) Start(ctx context.Context) {
	r.mu.Lock()
	jobs := append([]Job(nil), r.jobs...)
	r.mu.Unlock()

	for _, job := range jobs {
		if job.Run == nil || (!job.Daily && job.Every <= 0) {
			observability.GlobalLogger.Warn("skipping job without a schedule", "job", job.Name)
			continue
		}
		r.wg.Add(1)
		go r.loop(ctx, job)
	}
	observability.GlobalLogger.Info("scheduler started", "jobs", len(jobs))
}

// Stop ends every loop and waits for in-flight runs.
func (r *Runner) Stop() {
	r.stopOnce.Do(func() {
		close(r.stopCh)
	})
	r.wg.Wait()
}

// RunNow runs the named job once, honoring its flag.
func (r *Runner) RunNow(ctx context.Context, name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, job := range r.jobs {
		if job.Name == name {
			return r.run(ctx, job)
		}
	}
	return fmt.Errorf("unknown job %q", name)
}

func (r *Runner) loop(ctx context.Context, job Job) {
	defer r.wg.Done()

	for {
		timer := time.NewTimer(r.delay(job))
		select {
		case <-r.stopCh:
			timer.Stop()
			return
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
			_ = r.run(ctx, job)
		}
	}
}

func (r *Runner) delay(job Job) time.Duration {
	if !job.Daily {
		return job.Every
	}
	return NextDaily(r.now(), job.Hour).Sub(r.now())
}

// NextDaily returns the next hour:00 UTC strictly after now.
func NextDaily(now time.Time, hour int) time.Time {
	now = now.UTC()
	next := time.Date(now.Year(), now.Month(), now.Day(), hour, 0, 0, 0, time.UTC)
	if !next.After(now) {
		next = next.AddDate(0, 0, 1)
	}
	return next
}

func (r *Runner) run(ctx context.Context, job Job) (err error) {
	if job.Flag != "" && !r.flags.On(job.Flag) {
		observability.SchedulerRuns.WithLabelValues(job.Name, "disabled").Inc()
		return nil
	}

	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("job %s panicked: %v", job.Name, rec)
			observability.GlobalLogger.Error("panic in scheduled job",
				"job", job.Name, "panic", rec, "stack", string(debug.Stack()))
			observability.SchedulerRuns.WithLabelValues(job.Name, "panic").Inc()
		}
	}()

	span, ctx := observability.StartJobSpan(ctx, job.Name)
	defer span.End()

	if err = job.Run(ctx); err != nil {
		span.SetError(err)
		observability.LogAsyncOperationError(ctx, job.Name, err, nil)
		observability.SchedulerRuns.WithLabelValues(job.Name, "error").Inc()
		return err
	}
	observability.SchedulerRuns.WithLabelValues(job.Name, "ok").Inc()
	return nil
}
