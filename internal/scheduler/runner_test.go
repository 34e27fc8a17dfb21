package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"livecommerce/internal/featureflags"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunner_TicksUntilStopped(t *testing.T) {
	r := NewRunner(featureflags.NewManager(""))
	var runs int32
	r.Add(Job{Name: "tick", Every: 5 * time.Millisecond, Run: func(context.Context) error {
		atomic.AddInt32(&runs, 1)
		return nil
	}})

	r.Start(context.Background())
	require.Eventually(t, func() bool { return atomic.LoadInt32(&runs) >= 3 }, time.Second, 5*time.Millisecond)
	r.Stop()

	after := atomic.LoadInt32(&runs)
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, after, atomic.LoadInt32(&runs))
}

func TestRunner_FlagOffSkipsJob(t *testing.T) {
	r := NewRunner(featureflags.NewManager("job_vod_purge=off"))
	var runs int32
	r.Add(Job{Name: "purge", Flag: featureflags.JobVodPurge, Every: time.Hour, Run: func(context.Context) error {
		atomic.AddInt32(&runs, 1)
		return nil
	}})

	require.NoError(t, r.RunNow(context.Background(), "purge"))
	assert.Zero(t, atomic.LoadInt32(&runs))
}

func TestRunner_RecoversPanics(t *testing.T) {
	r := NewRunner(nil)
	r.Add(Job{Name: "boom", Every: time.Hour, Run: func(context.Context) error {
		panic("kaboom")
	}})
	r.Add(Job{Name: "fails", Every: time.Hour, Run: func(context.Context) error {
		return errors.New("db down")
	}})

	assert.Error(t, r.RunNow(context.Background(), "boom"))
	assert.EqualError(t, r.RunNow(context.Background(), "fails"), "db down")
	assert.Error(t, r.RunNow(context.Background(), "missing"))
	assert.ElementsMatch(t, []string{"boom", "fails"}, r.Jobs())
}

func TestNextDaily(t *testing.T) {
	tests := []struct {
		name string
		now  time.Time
		want time.Time
	}{
		{"before the hour", time.Date(2026, 5, 20, 1, 30, 0, 0, time.UTC), time.Date(2026, 5, 20, 3, 0, 0, 0, time.UTC)},
		{"exactly at the hour", time.Date(2026, 5, 20, 3, 0, 0, 0, time.UTC), time.Date(2026, 5, 21, 3, 0, 0, 0, time.UTC)},
		{"after the hour", time.Date(2026, 5, 20, 22, 0, 0, 0, time.UTC), time.Date(2026, 5, 21, 3, 0, 0, 0, time.UTC)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, NextDaily(tt.now, 3))
		})
	}
}
