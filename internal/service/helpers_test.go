package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"livecommerce/internal/admission"
	"livecommerce/internal/cache"
	"livecommerce/internal/livecounter"
	"livecommerce/internal/models"
	"livecommerce/internal/recording"
	"livecommerce/internal/repository"
	"livecommerce/internal/testutil"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"
)

// freeDBLock stands in for the Postgres advisory lock.
type freeDBLock struct{}

func (freeDBLock) Acquire(context.Context, string, time.Duration) (func(), error) {
	return func() {}, nil
}

type providerStub struct {
	mu             sync.Mutex
	createSession  func(context.Context, string) (string, error)
	stopRecording  func(context.Context, string) error
	closed         []string
	disconnected   []string
	tokenRoles     []recording.Role
	stopRecordings int
}

func (p *providerStub) CreateSession(ctx context.Context, sessionID string) (string, error) {
	if p.createSession != nil {
		return p.createSession(ctx, sessionID)
	}
	return sessionID, nil
}

func (p *providerStub) CreateAccessToken(_ context.Context, sessionID string, role recording.Role, _ string) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.tokenRoles = append(p.tokenRoles, role)
	return "tok-" + sessionID + "-" + string(role), nil
}

func (p *providerStub) StartRecording(context.Context, string) error { return nil }

func (p *providerStub) StopRecording(ctx context.Context, sessionID string) error {
	p.mu.Lock()
	p.stopRecordings++
	p.mu.Unlock()
	if p.stopRecording != nil {
		return p.stopRecording(ctx, sessionID)
	}
	return nil
}

func (p *providerStub) FindRecording(context.Context, string) (*recording.Recording, error) {
	return nil, nil
}

func (p *providerStub) DeleteRecording(context.Context, string) error { return nil }

func (p *providerStub) CloseSession(_ context.Context, sessionID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = append(p.closed, sessionID)
	return nil
}

func (p *providerStub) ForceDisconnect(_ context.Context, _, connectionID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.disconnected = append(p.disconnected, connectionID)
	return nil
}

type recorderStub struct {
	mu         sync.Mutex
	starts     []string
	finalizes  []string
	fallbacks  []string
	startError error
}

func (r *recorderStub) StartRecording(_ context.Context, _ *models.Broadcast, reason string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.starts = append(r.starts, reason)
	return r.startError
}

func (r *recorderStub) ScheduleFinalize(_ context.Context, _ uint, reason string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.finalizes = append(r.finalizes, reason)
}

func (r *recorderStub) TriggerFallback(_ context.Context, _ uint, reason string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.fallbacks = append(r.fallbacks, reason)
}

type priceStub struct {
	applied  []uint
	restored []uint
	products []uint
}

func (p *priceStub) Apply(_ context.Context, broadcastID uint) error {
	p.applied = append(p.applied, broadcastID)
	return nil
}

func (p *priceStub) RestoreAll(_ context.Context, broadcastID uint) error {
	p.restored = append(p.restored, broadcastID)
	return nil
}

func (p *priceStub) RestoreProduct(_ context.Context, productID uint) error {
	p.products = append(p.products, productID)
	return nil
}

type snapshotStub struct {
	aggregateFn func(context.Context, *models.Broadcast) (models.ResultStats, error)
	sales       map[uint]int64
	saved       []uint
}

func (s *snapshotStub) Aggregate(ctx context.Context, b *models.Broadcast) (models.ResultStats, error) {
	if s.aggregateFn != nil {
		return s.aggregateFn(ctx, b)
	}
	return models.ResultStats{}, nil
}

func (s *snapshotStub) ProductSales(context.Context, *models.Broadcast) (map[uint]int64, error) {
	return s.sales, nil
}

func (s *snapshotStub) SaveSnapshot(_ context.Context, b *models.Broadcast) error {
	s.saved = append(s.saved, b.ID)
	return nil
}

type published struct {
	BroadcastID uint
	UserID      uint
	Event       string
	Payload     any
}

// eventLog records everything published through it.
type eventLog struct {
	mu     sync.Mutex
	events []published
}

func (l *eventLog) Publish(_ context.Context, broadcastID uint, event string, payload any) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, published{BroadcastID: broadcastID, Event: event, Payload: payload})
	return nil
}

func (l *eventLog) PublishToUser(_ context.Context, broadcastID, userID uint, event string, payload any) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, published{BroadcastID: broadcastID, UserID: userID, Event: event, Payload: payload})
	return nil
}

func (l *eventLog) count(event string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	n := 0
	for _, e := range l.events {
		if e.Event == event {
			n++
		}
	}
	return n
}

func (l *eventLog) last(event string) (published, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for i := len(l.events) - 1; i >= 0; i-- {
		if l.events[i].Event == event {
			return l.events[i], true
		}
	}
	return published{}, false
}

var testSettings = Settings{
	SlotCapacity:       3,
	SlotLength:         30 * time.Minute,
	OpenHour:           10,
	CloseHour:          23,
	ScheduledLength:    30 * time.Minute,
	ReadyWindow:        3 * time.Minute,
	NoShowGrace:        10 * time.Minute,
	NoticeTTL:          2 * time.Hour,
	LockTTL:            5 * time.Second,
	ReminderLead:       30 * time.Minute,
	EndingSoonLead:     time.Minute,
	ScheduleLookaround: 2 * time.Hour,
}

// env is a service wired to sqlite and miniredis with stubbed edges.
type env struct {
	db       *gorm.DB
	mr       *miniredis.Miniredis
	rdb      *redis.Client
	svc      *BroadcastService
	admin    *AdminService
	provider *providerStub
	recorder *recorderStub
	prices   *priceStub
	snaps    *snapshotStub
	events   *eventLog
	counters *livecounter.Store
	locker   *cache.Locker
	clock    *time.Time
}

func newEnv(t *testing.T) *env {
	t.Helper()
	db := testutil.NewSQLiteDB(t)
	mr, rdb := testutil.NewRedis(t)

	broadcasts := repository.NewBroadcastRepository(db)
	locker := cache.NewLocker(rdb)
	gate := admission.NewGate(locker, freeDBLock{}, broadcasts, admission.Limits{
		SlotCapacity:        testSettings.SlotCapacity,
		SellerReservedLimit: 5,
		SlotLength:          testSettings.SlotLength,
		LockWait:            100 * time.Millisecond,
		LockTTL:             testSettings.LockTTL,
	})

	e := &env{
		db:       db,
		mr:       mr,
		rdb:      rdb,
		provider: &providerStub{},
		recorder: &recorderStub{},
		prices:   &priceStub{},
		snaps:    &snapshotStub{},
		events:   &eventLog{},
		counters: livecounter.NewStore(rdb),
		locker:   locker,
	}
	now := testutil.Slot(9, 0)
	e.clock = &now

	e.svc = NewBroadcastService(BroadcastDeps{
		Broadcasts: broadcasts,
		Products:   repository.NewProductRepository(db),
		Results:    repository.NewResultRepository(db),
		Vods:       repository.NewVodRepository(db),
		Views:      repository.NewViewHistoryRepository(db),
		Gate:       gate,
		Counters:   e.counters,
		Prices:     e.prices,
		Provider:   e.provider,
		Recorder:   e.recorder,
		Snapshots:  e.snaps,
		Events:     e.events,
		Locker:     locker,
		Redis:      rdb,
	}, testSettings)
	e.svc.now = func() time.Time { return *e.clock }

	e.admin = NewAdminService(AdminDeps{
		Broadcasts: broadcasts,
		Views:      repository.NewViewHistoryRepository(db),
		Counters:   e.counters,
		Prices:     e.prices,
		Provider:   e.provider,
		Recorder:   e.recorder,
		Snapshots:  e.snaps,
		Events:     e.events,
		Locker:     locker,
	}, testSettings)
	e.admin.now = func() time.Time { return *e.clock }
	return e
}

func (e *env) setNow(t time.Time) { *e.clock = t }

func (e *env) reload(t *testing.T, id uint) *models.Broadcast {
	t.Helper()
	var b models.Broadcast
	if err := e.db.First(&b, id).Error; err != nil {
		t.Fatalf("reload broadcast %d: %v", id, err)
	}
	return &b
}

func ptr[T any](v T) *T { return &v }
