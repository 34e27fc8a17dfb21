package service

import (
	"context"
	"testing"

	"livecommerce/internal/models"
	"livecommerce/internal/notifications"
	"livecommerce/internal/testutil"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestForceStop(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	e.setNow(testutil.Slot(14, 12))
	b := testutil.CreateBroadcast(t, e.db, models.Broadcast{Status: models.StatusOnAir, StreamKey: "s"})
	_, err := e.svc.JoinBroadcast(ctx, b.ID, Viewer{MemberID: 8})
	require.NoError(t, err)

	assert.Equal(t, models.CodeValidation, models.ErrorCode(e.admin.ForceStop(ctx, b.ID, "   ")))

	require.NoError(t, e.admin.ForceStop(ctx, b.ID, "prohibited goods"))

	stored := e.reload(t, b.ID)
	assert.Equal(t, models.StatusStopped, stored.Status)
	assert.Equal(t, "prohibited goods", stored.StoppedReason)
	require.NotNil(t, stored.EndedAt)

	assert.Equal(t, []uint{b.ID}, e.prices.restored)
	assert.Equal(t, []uint{b.ID}, e.snaps.saved)
	assert.Equal(t, []string{b.SessionID()}, e.provider.closed)
	assert.Equal(t, []string{"force_stop"}, e.recorder.finalizes)
	assert.Equal(t, 1, e.events.count(notifications.EventBroadcastStopped))

	realtime, err := e.counters.Realtime(ctx, b.ID)
	require.NoError(t, err)
	assert.Zero(t, realtime, "runtime keys are dropped")

	var open int64
	require.NoError(t, e.db.Model(&models.ViewHistory{}).Where("exited_at IS NULL").Count(&open).Error)
	assert.Zero(t, open)

	_, err = e.svc.JoinBroadcast(ctx, b.ID, Viewer{MemberID: 8})
	assert.Equal(t, models.CodeStoppedByAdmin, models.ErrorCode(err))

	err = e.admin.ForceStop(ctx, b.ID, "again")
	assert.Equal(t, models.CodeInvalidTransition, models.ErrorCode(err))
}

func TestAdminCancel(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	reserved := testutil.CreateBroadcast(t, e.db, models.Broadcast{})
	ready := testutil.CreateBroadcast(t, e.db, models.Broadcast{Status: models.StatusReady})

	assert.Equal(t, models.CodeValidation, models.ErrorCode(e.admin.AdminCancel(ctx, reserved.ID, "")))
	require.NoError(t, e.admin.AdminCancel(ctx, reserved.ID, "duplicate reservation"))

	stored := e.reload(t, reserved.ID)
	assert.Equal(t, models.StatusCanceled, stored.Status)
	assert.Equal(t, "duplicate reservation", stored.StoppedReason)

	err := e.admin.AdminCancel(ctx, ready.ID, "too late")
	assert.Equal(t, models.CodeInvalidTransition, models.ErrorCode(err))
	assert.Equal(t, 1, e.events.count(notifications.EventBroadcastCanceled))
}

func TestSanctionViewer(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	b := testutil.CreateBroadcast(t, e.db, models.Broadcast{Status: models.StatusOnAir, StreamKey: "s"})
	_, err := e.svc.JoinBroadcast(ctx, b.ID, Viewer{MemberID: 21})
	require.NoError(t, err)

	require.NoError(t, e.admin.SanctionViewer(ctx, b.ID, "21", "con_abc"))

	assert.Equal(t, []string{"con_abc"}, e.provider.disconnected)
	realtime, err := e.counters.Realtime(ctx, b.ID)
	require.NoError(t, err)
	assert.Zero(t, realtime)

	ev, ok := e.events.last(notifications.EventViewerSanctioned)
	require.True(t, ok)
	assert.Equal(t, uint(21), ev.UserID)

	_, err = e.svc.JoinBroadcast(ctx, b.ID, Viewer{MemberID: 21})
	assert.Equal(t, models.CodeViewerSanctioned, models.ErrorCode(err))

	require.NoError(t, e.admin.SanctionViewer(ctx, b.ID, "anon-1", ""), "anonymous viewers can be sanctioned too")
	assert.Len(t, e.provider.disconnected, 1)
	assert.Equal(t, 1, e.events.count(notifications.EventViewerSanctioned))

	ended := testutil.CreateBroadcast(t, e.db, models.Broadcast{Status: models.StatusEnded})
	assert.Equal(t, models.CodeNotOnAir, models.ErrorCode(e.admin.SanctionViewer(ctx, ended.ID, "21", "")))
}
