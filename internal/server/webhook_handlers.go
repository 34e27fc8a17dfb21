package server

import (
	"crypto/subtle"

	"livecommerce/internal/featureflags"
	"livecommerce/internal/models"
	"livecommerce/internal/observability"
	"livecommerce/internal/recording"

	"github.com/gofiber/fiber/v2"
)

// OpenVidu webhook events the engine reacts to.
const (
	webhookRecordingStatusChanged = "recordingStatusChanged"
	webhookStreamCreated          = "streamCreated"
)

type openViduEvent struct {
	Event string `json:"event"`
	recording.Recording
}

// OpenViduWebhook handles POST /api/webhooks/openvidu. Processing failures are
// logged and still answered with 200 so the provider does not redeliver; the
// retry queues cover them.
// @Summary Receive media server events
// @Tags Webhooks
// @Accept json
// @Produce json
// @Param event body openViduEvent true "OpenVidu event"
// @Success 200
// @Router /webhooks/openvidu [post]
func (s *Server) OpenViduWebhook(c *fiber.Ctx) error {
	if s.webhookToken != "" {
		got := []byte(c.Get(fiber.HeaderAuthorization))
		if subtle.ConstantTimeCompare(got, []byte(s.webhookToken)) != 1 {
			return models.RespondWithError(c, fiber.StatusUnauthorized,
				models.NewUnauthorizedError("invalid webhook credentials"))
		}
	}

	ctx := c.UserContext()
	var ev openViduEvent
	if err := c.BodyParser(&ev); err != nil {
		observability.GlobalLogger.WarnContext(ctx, "ignoring malformed openvidu webhook", "error", err)
		return c.SendStatus(fiber.StatusOK)
	}

	switch ev.Event {
	case webhookRecordingStatusChanged:
		if ev.Status != recording.StatusReady || s.recordings == nil {
			break
		}
		if err := s.recordings.HandleRecordingReady(ctx, ev.Recording); err != nil {
			observability.LogAsyncOperationError(ctx, "recording_webhook", err, map[string]interface{}{
				"session_id":   ev.SessionID,
				"recording_id": ev.ID,
			})
		}
	case webhookStreamCreated:
		if s.broadcasts == nil || !s.featureFlags.On(featureflags.AutoRecording) {
			break
		}
		if err := s.broadcasts.HandleStreamCreated(ctx, ev.SessionID); err != nil {
			observability.LogAsyncOperationError(ctx, "stream_created_webhook", err, map[string]interface{}{
				"session_id": ev.SessionID,
			})
		}
	}
	return c.SendStatus(fiber.StatusOK)
}
