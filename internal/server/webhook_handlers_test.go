package server

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"livecommerce/internal/models"
	"livecommerce/internal/testutil"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func (ts *testServer) webhook(t *testing.T, body, auth string) int {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/api/webhooks/openvidu", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if auth != "" {
		req.Header.Set("Authorization", auth)
	}
	resp, err := ts.app.Test(req, -1)
	require.NoError(t, err)
	_ = resp.Body.Close()
	return resp.StatusCode
}

func TestOpenViduWebhook_RecordingReady(t *testing.T) {
	ts := newTestServer(t, "")

	status := ts.webhook(t, `{"event":"recordingStatusChanged","id":"broadcast-7","sessionId":"broadcast-7","status":"ready","size":2048,"duration":61.5,"url":"https://media/rec.mp4"}`, "")
	assert.Equal(t, fiber.StatusOK, status)
	require.Len(t, ts.hooks.ready, 1)
	rec := ts.hooks.ready[0]
	assert.Equal(t, "broadcast-7", rec.SessionID)
	assert.EqualValues(t, 2048, rec.Size)
	assert.InDelta(t, 61.5, rec.Duration, 0.001)

	for _, body := range []string{
		`{"event":"recordingStatusChanged","sessionId":"broadcast-7","status":"stopped"}`,
		`{"event":"participantJoined","sessionId":"broadcast-7"}`,
		`not json`,
	} {
		assert.Equal(t, fiber.StatusOK, ts.webhook(t, body, ""), body)
	}
	assert.Len(t, ts.hooks.ready, 1, "only ready recordings are finalized")
}

func TestOpenViduWebhook_FailureStillAcknowledged(t *testing.T) {
	ts := newTestServer(t, "")
	ts.hooks.err = errors.New("upload failed")

	status := ts.webhook(t, `{"event":"recordingStatusChanged","id":"r","sessionId":"broadcast-1","status":"ready"}`, "")
	assert.Equal(t, fiber.StatusOK, status)
}

func TestOpenViduWebhook_Token(t *testing.T) {
	ts := newTestServer(t, "")
	ts.webhookToken = "Basic c2VjcmV0"
	body := `{"event":"recordingStatusChanged","id":"r","sessionId":"broadcast-1","status":"ready"}`

	assert.Equal(t, fiber.StatusUnauthorized, ts.webhook(t, body, ""))
	assert.Equal(t, fiber.StatusUnauthorized, ts.webhook(t, body, "Basic wrong"))
	assert.Empty(t, ts.hooks.ready)

	assert.Equal(t, fiber.StatusOK, ts.webhook(t, body, "Basic c2VjcmV0"))
	assert.Len(t, ts.hooks.ready, 1)
}

func TestOpenViduWebhook_StreamCreatedStartsRecording(t *testing.T) {
	ts := newTestServer(t, "")
	live := testutil.CreateBroadcast(t, ts.db, models.Broadcast{Status: models.StatusOnAir, StreamKey: "s"})
	ended := testutil.CreateBroadcast(t, ts.db, models.Broadcast{Status: models.StatusEnded})

	ts.webhook(t, `{"event":"streamCreated","sessionId":"`+live.SessionID()+`"}`, "")
	ts.webhook(t, `{"event":"streamCreated","sessionId":"`+ended.SessionID()+`"}`, "")
	ts.webhook(t, `{"event":"streamCreated","sessionId":"someone-else"}`, "")

	assert.Equal(t, []string{"stream_created"}, ts.recorder.starts)
}

func TestOpenViduWebhook_AutoRecordingOff(t *testing.T) {
	ts := newTestServer(t, "auto_recording=off")
	live := testutil.CreateBroadcast(t, ts.db, models.Broadcast{Status: models.StatusOnAir, StreamKey: "s"})

	assert.Equal(t, fiber.StatusOK, ts.webhook(t, `{"event":"streamCreated","sessionId":"`+live.SessionID()+`"}`, ""))
	assert.Empty(t, ts.recorder.starts)
}
