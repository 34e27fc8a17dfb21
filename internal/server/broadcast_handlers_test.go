package server

import (
	"fmt"
	"net/http"
	"testing"
	"time"

	"livecommerce/internal/middleware"
	"livecommerce/internal/models"
	"livecommerce/internal/service"
	"livecommerce/internal/testutil"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSellerRoutesRequireSellerRole(t *testing.T) {
	ts := newTestServer(t, "")
	in := service.BroadcastInput{Title: "x", ScheduledAt: time.Now().Add(48 * time.Hour)}

	resp := ts.do(t, http.MethodPost, "/api/seller/broadcasts", "", in, nil)
	assert.Equal(t, fiber.StatusUnauthorized, resp.StatusCode)

	resp = ts.do(t, http.MethodPost, "/api/seller/broadcasts", signToken(t, 5, middleware.RoleMember), in, nil)
	assert.Equal(t, fiber.StatusForbidden, resp.StatusCode)

	resp = ts.do(t, http.MethodPost, "/api/admin/broadcasts/1/stop", signToken(t, 5, middleware.RoleSeller), fiber.Map{"reason": "x"}, nil)
	assert.Equal(t, fiber.StatusForbidden, resp.StatusCode)
}

func TestCreateAndUpdateBroadcast(t *testing.T) {
	ts := newTestServer(t, "")
	seller := signToken(t, 1, middleware.RoleSeller)
	slot := time.Now().UTC().Add(48 * time.Hour).Truncate(30 * time.Minute)

	var created models.Broadcast
	resp := ts.do(t, http.MethodPost, "/api/seller/broadcasts", seller,
		service.BroadcastInput{Title: "autumn desks", ScheduledAt: slot.Add(10 * time.Minute)}, &created)
	require.Equal(t, fiber.StatusCreated, resp.StatusCode)
	assert.Equal(t, models.StatusReserved, created.Status)
	assert.True(t, slot.Equal(created.ScheduledAt))

	var errBody models.ErrorResponse
	resp = ts.do(t, http.MethodPut, fmt.Sprintf("/api/seller/broadcasts/%d", created.ID), signToken(t, 2, middleware.RoleSeller),
		service.BroadcastInput{Title: "mine now", ScheduledAt: slot}, &errBody)
	assert.Equal(t, fiber.StatusForbidden, resp.StatusCode)
	assert.Equal(t, models.CodeForbidden, errBody.Code)

	var updated models.Broadcast
	resp = ts.do(t, http.MethodPut, fmt.Sprintf("/api/seller/broadcasts/%d", created.ID), seller,
		service.BroadcastInput{Title: "winter desks", ScheduledAt: slot}, &updated)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	assert.Equal(t, "winter desks", updated.Title)

	resp = ts.do(t, http.MethodDelete, fmt.Sprintf("/api/seller/broadcasts/%d", created.ID), seller, nil, nil)
	assert.Equal(t, fiber.StatusNoContent, resp.StatusCode)
}

func TestCreateBroadcast_SlotFullIsConflict(t *testing.T) {
	ts := newTestServer(t, "")
	slot := time.Now().UTC().Add(72 * time.Hour).Truncate(30 * time.Minute)
	for seller := uint(2); seller <= 4; seller++ {
		testutil.CreateBroadcast(t, ts.db, models.Broadcast{SellerID: seller, ScheduledAt: slot})
	}

	var body models.ErrorResponse
	resp := ts.do(t, http.MethodPost, "/api/seller/broadcasts", signToken(t, 1, middleware.RoleSeller),
		service.BroadcastInput{Title: "late", ScheduledAt: slot}, &body)
	assert.Equal(t, fiber.StatusConflict, resp.StatusCode)
	assert.Equal(t, models.CodeSlotFull, body.Code)
}

func TestGetReservableSlots(t *testing.T) {
	ts := newTestServer(t, "")
	seller := signToken(t, 1, middleware.RoleSeller)
	day := time.Now().UTC().Add(48 * time.Hour).Format(time.DateOnly)

	var out struct {
		Date  string                     `json:"date"`
		Slots []service.SlotAvailability `json:"slots"`
	}
	resp := ts.do(t, http.MethodGet, "/api/seller/broadcasts/slots?date="+day, seller, nil, &out)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	assert.Equal(t, day, out.Date)
	assert.Len(t, out.Slots, 48, "a whole future day of 30 minute slots")

	resp = ts.do(t, http.MethodGet, "/api/seller/broadcasts/slots?date=tomorrow", seller, nil, nil)
	assert.Equal(t, fiber.StatusBadRequest, resp.StatusCode)
}

func TestLiveBroadcastFlow(t *testing.T) {
	ts := newTestServer(t, "")
	seller := signToken(t, 1, middleware.RoleSeller)
	member := signToken(t, 9, middleware.RoleMember)
	b := testutil.CreateBroadcast(t, ts.db, models.Broadcast{Status: models.StatusReady})
	base := fmt.Sprintf("/api/broadcasts/%d", b.ID)

	var notLive models.ErrorResponse
	resp := ts.do(t, http.MethodPost, base+"/join", "", nil, &notLive)
	assert.Equal(t, fiber.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, models.CodeNotOnAir, notLive.Code)

	var host service.SessionAccess
	resp = ts.do(t, http.MethodPost, fmt.Sprintf("/api/seller/broadcasts/%d/start", b.ID), seller, nil, &host)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	assert.Equal(t, b.SessionID(), host.SessionID)
	assert.NotEmpty(t, host.Token)

	var anon service.SessionAccess
	resp = ts.do(t, http.MethodPost, base+"/join", "", nil, &anon)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	assert.NotEmpty(t, anon.ViewerID, "anonymous viewers get an id to leave with")

	var memberAccess service.SessionAccess
	resp = ts.do(t, http.MethodPost, base+"/join", member, nil, &memberAccess)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	assert.Equal(t, "9", memberAccess.ViewerID)

	var liked service.ReactionResult
	resp = ts.do(t, http.MethodPost, base+"/like", member, nil, &liked)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	assert.True(t, liked.Active)
	assert.EqualValues(t, 1, liked.Count)

	resp = ts.do(t, http.MethodPost, base+"/like", "", nil, nil)
	assert.Equal(t, fiber.StatusUnauthorized, resp.StatusCode, "likes need a member")

	var stats service.BroadcastStats
	resp = ts.do(t, http.MethodGet, base+"/stats", "", nil, &stats)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	assert.True(t, stats.Realtime)
	assert.EqualValues(t, 2, stats.Viewers)

	resp = ts.do(t, http.MethodPost, base+"/leave", "", fiber.Map{"viewer_id": anon.ViewerID}, nil)
	assert.Equal(t, fiber.StatusNoContent, resp.StatusCode)
	resp = ts.do(t, http.MethodPost, base+"/leave", "", nil, nil)
	assert.Equal(t, fiber.StatusBadRequest, resp.StatusCode, "anonymous leave needs the viewer id")

	viewers, err := ts.counters.Realtime(t.Context(), b.ID)
	require.NoError(t, err)
	assert.EqualValues(t, 1, viewers)

	resp = ts.do(t, http.MethodPost, fmt.Sprintf("/api/seller/broadcasts/%d/end", b.ID), seller, nil, nil)
	assert.Equal(t, fiber.StatusNoContent, resp.StatusCode)

	var detail service.BroadcastDetail
	resp = ts.do(t, http.MethodGet, base, "", nil, &detail)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	assert.Equal(t, models.StatusEnded, detail.Status)
	assert.True(t, detail.IsEncoding)
}

func TestMediaConfigRoutes(t *testing.T) {
	ts := newTestServer(t, "")
	seller := signToken(t, 1, middleware.RoleSeller)
	b := testutil.CreateBroadcast(t, ts.db, models.Broadcast{})
	path := fmt.Sprintf("/api/seller/broadcasts/%d/media", b.ID)

	resp := ts.do(t, http.MethodGet, path, seller, nil, nil)
	assert.Equal(t, fiber.StatusNoContent, resp.StatusCode)

	resp = ts.do(t, http.MethodPut, path, seller, fiber.Map{"cameraId": "cam-1", "cameraOn": true, "volume": 140}, nil)
	assert.Equal(t, fiber.StatusBadRequest, resp.StatusCode)

	resp = ts.do(t, http.MethodPut, path, seller, fiber.Map{"cameraId": "cam-1", "cameraOn": true, "volume": 70}, nil)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)

	var got map[string]any
	resp = ts.do(t, http.MethodGet, path, seller, nil, &got)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	assert.Equal(t, "cam-1", got["cameraId"])
	assert.EqualValues(t, 70, got["volume"])
}

func TestAdminStopBlocksViewers(t *testing.T) {
	ts := newTestServer(t, "")
	admin := signToken(t, 100, middleware.RoleAdmin)
	b := testutil.CreateBroadcast(t, ts.db, models.Broadcast{Status: models.StatusOnAir, StreamKey: "s"})

	resp := ts.do(t, http.MethodPost, fmt.Sprintf("/api/admin/broadcasts/%d/stop", b.ID), admin, fiber.Map{"reason": ""}, nil)
	assert.Equal(t, fiber.StatusBadRequest, resp.StatusCode)

	resp = ts.do(t, http.MethodPost, fmt.Sprintf("/api/admin/broadcasts/%d/stop", b.ID), admin, fiber.Map{"reason": "counterfeit goods"}, nil)
	require.Equal(t, fiber.StatusNoContent, resp.StatusCode)

	var body models.ErrorResponse
	resp = ts.do(t, http.MethodPost, fmt.Sprintf("/api/broadcasts/%d/join", b.ID), "", nil, &body)
	assert.Equal(t, fiber.StatusForbidden, resp.StatusCode)
	assert.Equal(t, models.CodeStoppedByAdmin, body.Code)
}

func TestAdminSanctionBlocksRejoin(t *testing.T) {
	ts := newTestServer(t, "")
	admin := signToken(t, 100, middleware.RoleAdmin)
	member := signToken(t, 12, middleware.RoleMember)
	b := testutil.CreateBroadcast(t, ts.db, models.Broadcast{Status: models.StatusOnAir, StreamKey: "s"})
	join := fmt.Sprintf("/api/broadcasts/%d/join", b.ID)

	resp := ts.do(t, http.MethodPost, join, member, nil, nil)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)

	resp = ts.do(t, http.MethodPost, fmt.Sprintf("/api/admin/broadcasts/%d/sanctions", b.ID), admin,
		fiber.Map{"viewer_id": "12", "connection_id": "con_1"}, nil)
	require.Equal(t, fiber.StatusNoContent, resp.StatusCode)

	var body models.ErrorResponse
	resp = ts.do(t, http.MethodPost, join, member, nil, &body)
	assert.Equal(t, fiber.StatusForbidden, resp.StatusCode)
	assert.Equal(t, models.CodeViewerSanctioned, body.Code)
}
