package recording

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"livecommerce/internal/cache"
	"livecommerce/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubProvider struct {
	CreateSessionFn     func(ctx context.Context, sessionID string) (string, error)
	CreateAccessTokenFn func(ctx context.Context, sessionID string, role Role, data string) (string, error)
	StartRecordingFn    func(ctx context.Context, sessionID string) error
	StopRecordingFn     func(ctx context.Context, sessionID string) error
	FindRecordingFn     func(ctx context.Context, sessionID string) (*Recording, error)
	DeleteRecordingFn   func(ctx context.Context, recordingID string) error
	CloseSessionFn      func(ctx context.Context, sessionID string) error
	ForceDisconnectFn   func(ctx context.Context, sessionID, connectionID string) error
}

func (s *stubProvider) CreateSession(ctx context.Context, sessionID string) (string, error) {
	return s.CreateSessionFn(ctx, sessionID)
}

func (s *stubProvider) CreateAccessToken(ctx context.Context, sessionID string, role Role, data string) (string, error) {
	return s.CreateAccessTokenFn(ctx, sessionID, role, data)
}

func (s *stubProvider) StartRecording(ctx context.Context, sessionID string) error {
	return s.StartRecordingFn(ctx, sessionID)
}

func (s *stubProvider) StopRecording(ctx context.Context, sessionID string) error {
	return s.StopRecordingFn(ctx, sessionID)
}

func (s *stubProvider) FindRecording(ctx context.Context, sessionID string) (*Recording, error) {
	return s.FindRecordingFn(ctx, sessionID)
}

func (s *stubProvider) DeleteRecording(ctx context.Context, recordingID string) error {
	return s.DeleteRecordingFn(ctx, recordingID)
}

func (s *stubProvider) CloseSession(ctx context.Context, sessionID string) error {
	return s.CloseSessionFn(ctx, sessionID)
}

func (s *stubProvider) ForceDisconnect(ctx context.Context, sessionID, connectionID string) error {
	return s.ForceDisconnectFn(ctx, sessionID, connectionID)
}

type memBroadcasts map[uint]*models.Broadcast

func (m memBroadcasts) GetByID(_ context.Context, id uint) (*models.Broadcast, error) {
	b, ok := m[id]
	if !ok {
		return nil, models.NewNotFoundError("Broadcast", id)
	}
	return b, nil
}

// memFinalizer records finalizations and creates the VOD like the pipeline does.
type memFinalizer struct {
	mu    sync.Mutex
	vods  map[uint]bool
	calls []string
	// completions counts calls for broadcasts that already had a VOD.
	completions int
	fail        error
}

func (f *memFinalizer) Finalize(_ context.Context, b *models.Broadcast, rec Recording) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail != nil {
		return f.fail
	}
	if f.vods[b.ID] {
		f.completions++
		return nil
	}
	f.calls = append(f.calls, rec.ID)
	f.vods[b.ID] = true
	return nil
}

func (f *memFinalizer) GetByBroadcast(_ context.Context, broadcastID uint) (models.VodState, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.vods[broadcastID] {
		return models.HasVod(&models.Vod{BroadcastID: broadcastID}), nil
	}
	return models.NoVod(), nil
}

type orchestratorFixture struct {
	orch      *Orchestrator
	provider  *stubProvider
	finalizer *memFinalizer
	starts    *RetryQueue
	finalizes *RetryQueue
	clk       *clock
}

func newOrchestratorFixture(t *testing.T, broadcasts memBroadcasts) *orchestratorFixture {
	t.Helper()
	_, starts, clk := newTestQueue(t, cache.RecordingStartRetryQueueKey, startPolicy)
	finalizes := NewRetryQueue(starts.rdb, "finalize", cache.RecordingRetryQueueKey, finalizePolicy, 20)
	finalizes.now = clk.Now

	provider := &stubProvider{}
	finalizer := &memFinalizer{vods: map[uint]bool{}}
	orch := NewOrchestrator(provider, broadcasts, finalizer, finalizer, starts, finalizes)
	return &orchestratorFixture{orch: orch, provider: provider, finalizer: finalizer, starts: starts, finalizes: finalizes, clk: clk}
}

func onAir(id uint) *models.Broadcast {
	return &models.Broadcast{ID: id, SellerID: 1, Status: models.StatusOnAir, StreamKey: models.SessionIDFor(id)}
}

func TestStartRecordingRetriesUntilAccepted(t *testing.T) {
	f := newOrchestratorFixture(t, memBroadcasts{1: onAir(1)})
	ctx := context.Background()

	var mu sync.Mutex
	calls, successes := 0, 0
	f.provider.StartRecordingFn = func(_ context.Context, sessionID string) error {
		mu.Lock()
		defer mu.Unlock()
		assert.Equal(t, "broadcast-1", sessionID)
		calls++
		if calls <= 3 {
			return &ProviderError{Op: "start_recording", Status: 406, Body: "stream not ready"}
		}
		successes++
		return nil
	}

	require.NoError(t, f.orch.StartRecording(ctx, onAir(1), "publisher_stream_created"))
	for i := 0; i < 6; i++ {
		f.clk.Advance(time.Minute)
		_, err := f.orch.DrainStartQueue(ctx)
		require.NoError(t, err)
	}

	assert.Equal(t, 4, calls)
	assert.Equal(t, 1, successes)
	pending, err := f.starts.Pending(ctx, 1)
	require.NoError(t, err)
	assert.False(t, pending)
	attempts, err := f.starts.Attempts(ctx, 1)
	require.NoError(t, err)
	assert.Zero(t, attempts)
}

func TestStartRecordingGivesUpAfterTenAttempts(t *testing.T) {
	f := newOrchestratorFixture(t, memBroadcasts{1: onAir(1)})
	ctx := context.Background()

	calls := 0
	f.provider.StartRecordingFn = func(context.Context, string) error {
		calls++
		return &ProviderError{Op: "start_recording", Status: 503}
	}

	require.NoError(t, f.orch.StartRecording(ctx, onAir(1), "seller"))
	for i := 0; i < 30; i++ {
		f.clk.Advance(time.Minute)
		_, err := f.orch.DrainStartQueue(ctx)
		require.NoError(t, err)
	}

	// one direct call plus one per scheduled attempt
	assert.Equal(t, 11, calls)
	pending, err := f.starts.Pending(ctx, 1)
	require.NoError(t, err)
	assert.False(t, pending)
}

func TestStartRecordingReportsSpentRetryBudget(t *testing.T) {
	f := newOrchestratorFixture(t, memBroadcasts{1: onAir(1)})
	ctx := context.Background()
	f.provider.StartRecordingFn = func(context.Context, string) error {
		return &ProviderError{Op: "start_recording", Status: 503}
	}
	for i := 0; i < startPolicy.MaxAttempts; i++ {
		_, scheduled, err := f.starts.Schedule(ctx, 1)
		require.NoError(t, err)
		require.True(t, scheduled)
	}

	err := f.orch.StartRecording(ctx, onAir(1), "seller")
	assert.True(t, models.IsCode(err, models.CodeProviderError), "got %v", err)
	pending, err := f.starts.Pending(ctx, 1)
	require.NoError(t, err)
	assert.False(t, pending)
}

func TestFinalizeClearsStartRetries(t *testing.T) {
	b := onAir(6)
	b.Status = models.StatusEnded
	f := newOrchestratorFixture(t, memBroadcasts{6: b})
	ctx := context.Background()
	_, _, err := f.starts.Schedule(ctx, 6)
	require.NoError(t, err)

	require.NoError(t, f.orch.HandleRecordingReady(ctx, Recording{ID: "rec-6", SessionID: "broadcast-6", Status: StatusReady}))

	pending, err := f.starts.Pending(ctx, 6)
	require.NoError(t, err)
	assert.False(t, pending)
	attempts, err := f.starts.Attempts(ctx, 6)
	require.NoError(t, err)
	assert.Zero(t, attempts)
}

func TestStartRecordingOutcomes(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		wantCode string
		pending  bool
	}{
		{name: "accepted"},
		{name: "already active", err: &ProviderError{Status: 409}},
		{name: "network", err: &ProviderError{Err: errors.New("reset")}, pending: true},
		{name: "module disabled", err: &ProviderError{Status: 501}, wantCode: models.CodeProviderError},
		{name: "rejected", err: &ProviderError{Status: 400}, wantCode: models.CodeProviderError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newOrchestratorFixture(t, memBroadcasts{1: onAir(1)})
			f.provider.StartRecordingFn = func(context.Context, string) error { return tt.err }

			err := f.orch.StartRecording(context.Background(), onAir(1), "seller")
			if tt.wantCode != "" {
				assert.True(t, models.IsCode(err, tt.wantCode), "got %v", err)
			} else {
				assert.NoError(t, err)
			}
			pending, err := f.starts.Pending(context.Background(), 1)
			require.NoError(t, err)
			assert.Equal(t, tt.pending, pending)
		})
	}
}

func TestStartRetryDropsBroadcastNoLongerOnAir(t *testing.T) {
	ended := onAir(1)
	ended.Status = models.StatusEnded
	f := newOrchestratorFixture(t, memBroadcasts{1: ended})
	ctx := context.Background()
	f.provider.StartRecordingFn = func(context.Context, string) error {
		t.Fatal("provider must not be called")
		return nil
	}

	_, _, err := f.starts.Schedule(ctx, 1)
	require.NoError(t, err)
	f.clk.Advance(time.Minute)
	n, err := f.orch.DrainStartQueue(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	attempts, err := f.starts.Attempts(ctx, 1)
	require.NoError(t, err)
	assert.Zero(t, attempts)
}

func TestFallbackFinalizesReadyRecording(t *testing.T) {
	b := onAir(2)
	b.Status = models.StatusEnded
	f := newOrchestratorFixture(t, memBroadcasts{2: b})
	ctx := context.Background()

	status := StatusStopped
	f.provider.FindRecordingFn = func(_ context.Context, sessionID string) (*Recording, error) {
		return &Recording{ID: "rec-2", SessionID: sessionID, Status: status}, nil
	}

	f.orch.ScheduleFinalize(ctx, 2, "manual_end")
	f.clk.Advance(31 * time.Second)
	_, err := f.orch.DrainFinalizeQueue(ctx)
	require.NoError(t, err)
	assert.Empty(t, f.finalizer.calls)

	pending, err := f.orch.Pending(ctx, 2)
	require.NoError(t, err)
	assert.True(t, pending)

	status = StatusReady
	f.clk.Advance(2 * time.Minute)
	_, err = f.orch.DrainFinalizeQueue(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"rec-2"}, f.finalizer.calls)

	pending, err = f.orch.Pending(ctx, 2)
	require.NoError(t, err)
	assert.False(t, pending)

	// a late webhook for the same recording only repeats the closing steps
	require.NoError(t, f.orch.HandleRecordingReady(ctx, Recording{ID: "rec-2", SessionID: "broadcast-2", Status: StatusReady}))
	assert.Len(t, f.finalizer.calls, 1)
	assert.Equal(t, 1, f.finalizer.completions)
}

func TestFallbackGivesUpOnFailedRecording(t *testing.T) {
	f := newOrchestratorFixture(t, memBroadcasts{3: onAir(3)})
	ctx := context.Background()
	f.provider.FindRecordingFn = func(context.Context, string) (*Recording, error) {
		return &Recording{ID: "rec-3", SessionID: "broadcast-3", Status: StatusFailed}, nil
	}

	f.orch.TriggerFallback(ctx, 3, "missing_vod")
	pending, err := f.orch.Pending(ctx, 3)
	require.NoError(t, err)
	assert.False(t, pending)
	assert.Empty(t, f.finalizer.calls)
}

func TestFallbackRetriesAreBounded(t *testing.T) {
	f := newOrchestratorFixture(t, memBroadcasts{4: onAir(4)})
	ctx := context.Background()
	lookups := 0
	f.provider.FindRecordingFn = func(context.Context, string) (*Recording, error) {
		lookups++
		return nil, nil
	}

	f.orch.TriggerFallback(ctx, 4, "scheduled_end")
	for i := 0; i < 20; i++ {
		f.clk.Advance(5 * time.Minute)
		_, err := f.orch.DrainFinalizeQueue(ctx)
		require.NoError(t, err)
	}
	assert.Equal(t, 6, lookups)
	pending, err := f.orch.Pending(ctx, 4)
	require.NoError(t, err)
	assert.False(t, pending)
}

func TestFallbackCompletesBroadcastThatAlreadyHasVod(t *testing.T) {
	b := onAir(7)
	b.Status = models.StatusEnded
	f := newOrchestratorFixture(t, memBroadcasts{7: b})
	f.finalizer.vods[7] = true
	f.provider.FindRecordingFn = func(context.Context, string) (*Recording, error) {
		t.Fatal("the provider is not asked once the VOD exists")
		return nil, nil
	}
	ctx := context.Background()

	f.orch.ScheduleFinalize(ctx, 7, "scheduled_end")
	f.clk.Advance(31 * time.Second)
	_, err := f.orch.DrainFinalizeQueue(ctx)
	require.NoError(t, err)

	assert.Equal(t, 1, f.finalizer.completions)
	pending, err := f.orch.Pending(ctx, 7)
	require.NoError(t, err)
	assert.False(t, pending)
}

func TestHandleRecordingReadyIgnoresForeignSessions(t *testing.T) {
	f := newOrchestratorFixture(t, memBroadcasts{})
	require.NoError(t, f.orch.HandleRecordingReady(context.Background(), Recording{ID: "x", SessionID: "lobby"}))
	assert.Empty(t, f.finalizer.calls)
}

func TestHandleRecordingReadySchedulesRetryOnFailure(t *testing.T) {
	b := onAir(5)
	b.Status = models.StatusStopped
	f := newOrchestratorFixture(t, memBroadcasts{5: b})
	f.finalizer.fail = errors.New("s3 down")
	ctx := context.Background()

	err := f.orch.HandleRecordingReady(ctx, Recording{ID: "rec-5", SessionID: "broadcast-5", Status: StatusReady})
	require.Error(t, err)
	pending, err := f.orch.Pending(ctx, 5)
	require.NoError(t, err)
	assert.True(t, pending)
}
