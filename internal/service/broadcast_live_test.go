package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"livecommerce/internal/livecounter"
	"livecommerce/internal/models"
	"livecommerce/internal/notifications"
	"livecommerce/internal/recording"
	"livecommerce/internal/testutil"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStartBroadcast(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	b := testutil.CreateBroadcast(t, e.db, models.Broadcast{Status: models.StatusReady, ScheduledAt: testutil.Slot(14, 0)})

	e.setNow(testutil.Slot(13, 59))
	_, err := e.svc.StartBroadcast(ctx, 1, b.ID)
	assert.Equal(t, models.CodeValidation, models.ErrorCode(err), "cannot start early")

	e.setNow(testutil.Slot(14, 1))
	_, err = e.svc.StartBroadcast(ctx, 2, b.ID)
	assert.Equal(t, models.CodeForbidden, models.ErrorCode(err))

	access, err := e.svc.StartBroadcast(ctx, 1, b.ID)
	require.NoError(t, err)
	assert.Equal(t, b.SessionID(), access.SessionID)
	assert.NotEmpty(t, access.Token)

	stored := e.reload(t, b.ID)
	assert.Equal(t, models.StatusOnAir, stored.Status)
	assert.Equal(t, access.SessionID, stored.StreamKey)
	require.NotNil(t, stored.StartedAt)
	assert.Equal(t, []uint{b.ID}, e.prices.applied)
	assert.Equal(t, 1, e.events.count(notifications.EventBroadcastStarted))

	again, err := e.svc.StartBroadcast(ctx, 1, b.ID)
	require.NoError(t, err, "starting an on-air broadcast hands out a new token")
	assert.Equal(t, access.SessionID, again.SessionID)
	assert.Len(t, e.prices.applied, 1)
	assert.Equal(t, []recording.Role{recording.RoleHost, recording.RoleHost}, e.provider.tokenRoles)
}

func TestStartBroadcast_StatusGuards(t *testing.T) {
	e := newEnv(t)
	e.setNow(testutil.Slot(14, 1))
	ctx := context.Background()
	stopped := testutil.CreateBroadcast(t, e.db, models.Broadcast{Status: models.StatusStopped, StoppedReason: "policy"})
	reserved := testutil.CreateBroadcast(t, e.db, models.Broadcast{})

	_, err := e.svc.StartBroadcast(ctx, 1, stopped.ID)
	assert.Equal(t, models.CodeStoppedByAdmin, models.ErrorCode(err))

	_, err = e.svc.StartBroadcast(ctx, 1, reserved.ID)
	assert.Equal(t, models.CodeInvalidTransition, models.ErrorCode(err))
}

func TestStartBroadcast_ProviderFailureKeepsReady(t *testing.T) {
	e := newEnv(t)
	e.setNow(testutil.Slot(14, 1))
	e.provider.createSession = func(context.Context, string) (string, error) {
		return "", &recording.ProviderError{Op: "create session", Status: 503}
	}
	b := testutil.CreateBroadcast(t, e.db, models.Broadcast{Status: models.StatusReady})

	_, err := e.svc.StartBroadcast(context.Background(), 1, b.ID)
	assert.Equal(t, models.CodeProviderError, models.ErrorCode(err))
	assert.Equal(t, models.StatusReady, e.reload(t, b.ID).Status)
	assert.Empty(t, e.prices.applied)
}

func TestJoinAndLeave_MultiTab(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	e.setNow(testutil.Slot(14, 5))
	b := testutil.CreateBroadcast(t, e.db, models.Broadcast{Status: models.StatusOnAir, StreamKey: "broadcast-1"})

	first, err := e.svc.JoinBroadcast(ctx, b.ID, Viewer{MemberID: 42})
	require.NoError(t, err)
	assert.Equal(t, "42", first.ViewerID)
	assert.NotEmpty(t, first.Token)

	_, err = e.svc.JoinBroadcast(ctx, b.ID, Viewer{MemberID: 42})
	require.NoError(t, err)
	anon, err := e.svc.JoinBroadcast(ctx, b.ID, Viewer{})
	require.NoError(t, err)
	assert.NotEmpty(t, anon.ViewerID, "anonymous viewers get an id")

	realtime, err := e.counters.Realtime(ctx, b.ID)
	require.NoError(t, err)
	assert.EqualValues(t, 2, realtime)

	var open int64
	require.NoError(t, e.db.Model(&models.ViewHistory{}).Where("exited_at IS NULL").Count(&open).Error)
	assert.EqualValues(t, 2, open, "one history row per viewer, not per tab")

	require.NoError(t, e.svc.LeaveBroadcast(ctx, b.ID, "42"))
	realtime, _ = e.counters.Realtime(ctx, b.ID)
	assert.EqualValues(t, 2, realtime, "the other tab is still open")

	require.NoError(t, e.svc.LeaveBroadcast(ctx, b.ID, "42"))
	realtime, _ = e.counters.Realtime(ctx, b.ID)
	assert.EqualValues(t, 1, realtime)
	require.NoError(t, e.db.Model(&models.ViewHistory{}).Where("exited_at IS NULL").Count(&open).Error)
	assert.EqualValues(t, 1, open)

	last, ok := e.events.last(notifications.EventViewerCount)
	require.True(t, ok)
	assert.Equal(t, map[string]int64{"viewers": 1}, last.Payload)

	assert.Equal(t, models.CodeValidation, models.ErrorCode(e.svc.LeaveBroadcast(ctx, b.ID, "")))
}

func TestJoinBroadcast_Guards(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	reserved := testutil.CreateBroadcast(t, e.db, models.Broadcast{})
	stopped := testutil.CreateBroadcast(t, e.db, models.Broadcast{Status: models.StatusStopped, StoppedReason: "x"})
	ready := testutil.CreateBroadcast(t, e.db, models.Broadcast{Status: models.StatusReady})

	_, err := e.svc.JoinBroadcast(ctx, reserved.ID, Viewer{MemberID: 1})
	assert.Equal(t, models.CodeNotOnAir, models.ErrorCode(err))

	_, err = e.svc.JoinBroadcast(ctx, stopped.ID, Viewer{MemberID: 1})
	assert.Equal(t, models.CodeStoppedByAdmin, models.ErrorCode(err))

	access, err := e.svc.JoinBroadcast(ctx, ready.ID, Viewer{MemberID: 1})
	require.NoError(t, err, "viewers may wait in a READY broadcast")
	assert.Empty(t, access.Token, "no media token before the broadcast is on air")

	require.NoError(t, e.counters.Sanction(ctx, ready.ID, "9"))
	_, err = e.svc.JoinBroadcast(ctx, ready.ID, Viewer{MemberID: 9})
	assert.Equal(t, models.CodeViewerSanctioned, models.ErrorCode(err))
}

func TestEndBroadcast(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	e.setNow(testutil.Slot(14, 20))
	e.provider.stopRecording = func(context.Context, string) error { return errors.New("no active recording") }
	b := testutil.CreateBroadcast(t, e.db, models.Broadcast{Status: models.StatusOnAir, StreamKey: "s"})
	_, err := e.svc.JoinBroadcast(ctx, b.ID, Viewer{MemberID: 5})
	require.NoError(t, err)

	require.NoError(t, e.svc.EndBroadcast(ctx, 1, b.ID), "a failed recording stop is only logged")

	stored := e.reload(t, b.ID)
	assert.Equal(t, models.StatusEnded, stored.Status)
	require.NotNil(t, stored.EndedAt)
	assert.Equal(t, []string{"manual_end"}, e.recorder.finalizes)
	assert.Equal(t, []string{b.SessionID()}, e.provider.closed)
	assert.Equal(t, 1, e.events.count(notifications.EventBroadcastEnded))
	assert.Empty(t, e.prices.restored, "prices come back when the broadcast turns into a VOD")

	var open int64
	require.NoError(t, e.db.Model(&models.ViewHistory{}).Where("exited_at IS NULL").Count(&open).Error)
	assert.Zero(t, open)

	err = e.svc.EndBroadcast(ctx, 1, b.ID)
	assert.Equal(t, models.CodeInvalidTransition, models.ErrorCode(err))
}

func TestRecordingTriggers(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	live := testutil.CreateBroadcast(t, e.db, models.Broadcast{Status: models.StatusOnAir, StreamKey: "s"})
	ready := testutil.CreateBroadcast(t, e.db, models.Broadcast{Status: models.StatusReady})

	require.NoError(t, e.svc.StartRecording(ctx, 1, live.ID))
	assert.Equal(t, models.CodeNotOnAir, models.ErrorCode(e.svc.StartRecording(ctx, 1, ready.ID)))

	require.NoError(t, e.svc.HandleStreamCreated(ctx, live.SessionID()))
	require.NoError(t, e.svc.HandleStreamCreated(ctx, ready.SessionID()))
	require.NoError(t, e.svc.HandleStreamCreated(ctx, "someone-else"))

	assert.Equal(t, []string{"seller_request", "stream_created"}, e.recorder.starts)
}

func TestReactions(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	b := testutil.CreateBroadcast(t, e.db, models.Broadcast{Status: models.StatusOnAir, StreamKey: "s"})
	reserved := testutil.CreateBroadcast(t, e.db, models.Broadcast{})

	liked, err := e.svc.ToggleLike(ctx, b.ID, 3)
	require.NoError(t, err)
	assert.Equal(t, ReactionResult{Active: true, Count: 1}, *liked)
	unliked, err := e.svc.ToggleLike(ctx, b.ID, 3)
	require.NoError(t, err)
	assert.Equal(t, ReactionResult{Active: false, Count: 0}, *unliked)
	assert.Equal(t, 2, e.events.count(notifications.EventLikeCount))

	_, err = e.svc.Report(ctx, b.ID, 3)
	require.NoError(t, err)
	again, err := e.svc.Report(ctx, b.ID, 3)
	require.NoError(t, err)
	assert.EqualValues(t, 1, again.Count, "one report per member")
	assert.Equal(t, 1, e.events.count(notifications.EventReportCount))

	n, err := e.svc.RecordChat(ctx, b.ID)
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)

	_, err = e.svc.ToggleLike(ctx, reserved.ID, 3)
	assert.Equal(t, models.CodeNotOnAir, models.ErrorCode(err))
	_, err = e.svc.RecordChat(ctx, reserved.ID)
	assert.Equal(t, models.CodeNotOnAir, models.ErrorCode(err))
}

func TestMarkProductSoldOut(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	p := testutil.CreateProduct(t, e.db, models.Product{StockQty: 10})
	live := testutil.CreateBroadcast(t, e.db, models.Broadcast{Status: models.StatusOnAir, StreamKey: "s"})
	later := testutil.CreateBroadcast(t, e.db, models.Broadcast{})
	for _, id := range []uint{live.ID, later.ID} {
		require.NoError(t, e.db.Create(&models.BroadcastProduct{
			BroadcastID: id, ProductID: p.ID, BpQuantity: 1, DisplayOrder: 1, Status: models.BroadcastProductSelling,
		}).Error)
	}

	require.NoError(t, e.svc.MarkProductSoldOut(ctx, p.ID))

	assert.Equal(t, []uint{p.ID}, e.prices.products)
	liveProducts, err := e.svc.Broadcasts.ListProducts(ctx, live.ID)
	require.NoError(t, err)
	assert.Equal(t, models.BroadcastProductSoldOut, liveProducts[0].Status)
	laterProducts, err := e.svc.Broadcasts.ListProducts(ctx, later.ID)
	require.NoError(t, err)
	assert.Equal(t, models.BroadcastProductSelling, laterProducts[0].Status)

	ev, ok := e.events.last(notifications.EventProductSoldOut)
	require.True(t, ok)
	assert.Equal(t, live.ID, ev.BroadcastID)
}

func TestGetBroadcastStats(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	peak := testutil.Slot(14, 10)
	e.snaps.aggregateFn = func(context.Context, *models.Broadcast) (models.ResultStats, error) {
		return models.ResultStats{Views: 12, Likes: 4, MaxViews: 7, MaxViewsAt: &peak, Sales: 99000}, nil
	}
	e.snaps.sales = map[uint]int64{3: 99000}

	live := testutil.CreateBroadcast(t, e.db, models.Broadcast{Status: models.StatusOnAir, StreamKey: "s"})
	_, err := e.counters.Enter(ctx, live.ID, "1")
	require.NoError(t, err)

	stats, err := e.svc.GetBroadcastStats(ctx, live.ID)
	require.NoError(t, err)
	assert.True(t, stats.Realtime)
	assert.EqualValues(t, 1, stats.Viewers)
	assert.Equal(t, 12, stats.TotalViews)
	assert.Equal(t, 7, stats.MaxViews)
	assert.Equal(t, int64(99000), stats.ProductSales[3])
	assert.False(t, stats.IsEncoding)

	finished := testutil.CreateBroadcast(t, e.db, models.Broadcast{Status: models.StatusVod})
	stats, err = e.svc.GetBroadcastStats(ctx, finished.ID)
	require.NoError(t, err)
	assert.False(t, stats.Realtime)
	assert.Zero(t, stats.TotalViews, "no result yet reads as zeros")
	assert.True(t, stats.IsEncoding, "a VOD broadcast without a VOD row is still encoding")

	require.NoError(t, e.db.Create(&models.BroadcastResult{BroadcastID: finished.ID, TotalViews: 30, TotalLikes: 5}).Error)
	require.NoError(t, e.db.Create(&models.Vod{BroadcastID: finished.ID, Status: models.VodPublic, VodURL: "u"}).Error)
	stats, err = e.svc.GetBroadcastStats(ctx, finished.ID)
	require.NoError(t, err)
	assert.Equal(t, 30, stats.TotalViews)
	assert.Equal(t, 5, stats.Likes)
	assert.False(t, stats.IsEncoding)
	require.NotNil(t, stats.Vod)
	assert.Equal(t, models.VodPublic, stats.Vod.Status)
}

func TestMediaConfig(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	b := testutil.CreateBroadcast(t, e.db, models.Broadcast{Status: models.StatusReady})

	cfg, err := e.svc.GetMediaConfig(ctx, 1, b.ID)
	require.NoError(t, err)
	assert.Nil(t, cfg)

	bad := livecounter.MediaConfig{Volume: 150}
	assert.Equal(t, models.CodeValidation, models.ErrorCode(e.svc.SaveMediaConfig(ctx, 1, b.ID, bad)))
	assert.Equal(t, models.CodeForbidden, models.ErrorCode(e.svc.SaveMediaConfig(ctx, 2, b.ID, livecounter.MediaConfig{})))

	want := livecounter.MediaConfig{CameraID: "cam-1", MicrophoneID: "mic-2", CameraOn: true, Volume: 70}
	require.NoError(t, e.svc.SaveMediaConfig(ctx, 1, b.ID, want))
	cfg, err = e.svc.GetMediaConfig(ctx, 1, b.ID)
	require.NoError(t, err)
	require.NotNil(t, cfg)
	assert.Equal(t, want, *cfg)

	e.mr.FastForward(25 * time.Hour)
	cfg, err = e.svc.GetMediaConfig(ctx, 1, b.ID)
	require.NoError(t, err)
	assert.Nil(t, cfg, "media config expires after a day")
}
