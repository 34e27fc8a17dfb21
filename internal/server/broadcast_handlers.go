package server

import (
	"strconv"
	"strings"
	"time"

	"livecommerce/internal/livecounter"
	"livecommerce/internal/middleware"
	"livecommerce/internal/models"
	"livecommerce/internal/service"

	"github.com/gofiber/fiber/v2"
)

// CreateBroadcast handles POST /api/seller/broadcasts
// @Summary Reserve a broadcast slot
// @Tags Seller
// @Accept json
// @Produce json
// @Param in body service.BroadcastInput true "Broadcast data"
// @Success 201 {object} models.Broadcast
// @Security BearerAuth
// @Router /seller/broadcasts [post]
func (s *Server) CreateBroadcast(c *fiber.Ctx) error {
	var in service.BroadcastInput
	if err := bindJSON(c, &in); err != nil {
		return nil
	}
	b, err := s.broadcasts.CreateBroadcast(c.UserContext(), middleware.UserID(c), in)
	if err != nil {
		return respondError(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(b)
}

// UpdateBroadcast handles PUT /api/seller/broadcasts/:id
// @Summary Update a reserved broadcast
// @Tags Seller
// @Accept json
// @Produce json
// @Param id path int true "Broadcast ID"
// @Param in body service.BroadcastInput true "Broadcast data"
// @Success 200 {object} models.Broadcast
// @Security BearerAuth
// @Router /seller/broadcasts/{id} [put]
func (s *Server) UpdateBroadcast(c *fiber.Ctx) error {
	id, err := s.parseID(c, "id")
	if err != nil {
		return nil
	}
	var in service.BroadcastInput
	if err := bindJSON(c, &in); err != nil {
		return nil
	}
	b, err := s.broadcasts.UpdateBroadcast(c.UserContext(), middleware.UserID(c), id, in)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(b)
}

// CancelBroadcast handles DELETE /api/seller/broadcasts/:id
// @Summary Cancel a reserved broadcast
// @Tags Seller
// @Produce json
// @Param id path int true "Broadcast ID"
// @Success 204
// @Security BearerAuth
// @Router /seller/broadcasts/{id} [delete]
func (s *Server) CancelBroadcast(c *fiber.Ctx) error {
	id, err := s.parseID(c, "id")
	if err != nil {
		return nil
	}
	if err := s.broadcasts.CancelBroadcast(c.UserContext(), middleware.UserID(c), id); err != nil {
		return respondError(c, err)
	}
	return c.SendStatus(fiber.StatusNoContent)
}

// StartBroadcast handles POST /api/seller/broadcasts/:id/start
// @Summary Go on air
// @Tags Seller
// @Produce json
// @Param id path int true "Broadcast ID"
// @Success 200 {object} service.SessionAccess
// @Security BearerAuth
// @Router /seller/broadcasts/{id}/start [post]
func (s *Server) StartBroadcast(c *fiber.Ctx) error {
	id, err := s.parseID(c, "id")
	if err != nil {
		return nil
	}
	access, err := s.broadcasts.StartBroadcast(c.UserContext(), middleware.UserID(c), id)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(access)
}

// EndBroadcast handles POST /api/seller/broadcasts/:id/end
// @Summary End a live broadcast
// @Tags Seller
// @Produce json
// @Param id path int true "Broadcast ID"
// @Success 204
// @Security BearerAuth
// @Router /seller/broadcasts/{id}/end [post]
func (s *Server) EndBroadcast(c *fiber.Ctx) error {
	id, err := s.parseID(c, "id")
	if err != nil {
		return nil
	}
	if err := s.broadcasts.EndBroadcast(c.UserContext(), middleware.UserID(c), id); err != nil {
		return respondError(c, err)
	}
	return c.SendStatus(fiber.StatusNoContent)
}

// StartRecording handles POST /api/seller/broadcasts/:id/recording/start
// @Summary Start recording a live broadcast
// @Tags Seller
// @Produce json
// @Param id path int true "Broadcast ID"
// @Success 202
// @Security BearerAuth
// @Router /seller/broadcasts/{id}/recording/start [post]
func (s *Server) StartRecording(c *fiber.Ctx) error {
	id, err := s.parseID(c, "id")
	if err != nil {
		return nil
	}
	if err := s.broadcasts.StartRecording(c.UserContext(), middleware.UserID(c), id); err != nil {
		return respondError(c, err)
	}
	return c.SendStatus(fiber.StatusAccepted)
}

// GetMediaConfig handles GET /api/seller/broadcasts/:id/media
// @Summary Get the saved media devices
// @Tags Seller
// @Produce json
// @Param id path int true "Broadcast ID"
// @Success 200 {object} livecounter.MediaConfig
// @Security BearerAuth
// @Router /seller/broadcasts/{id}/media [get]
func (s *Server) GetMediaConfig(c *fiber.Ctx) error {
	id, err := s.parseID(c, "id")
	if err != nil {
		return nil
	}
	cfg, err := s.broadcasts.GetMediaConfig(c.UserContext(), middleware.UserID(c), id)
	if err != nil {
		return respondError(c, err)
	}
	if cfg == nil {
		return c.SendStatus(fiber.StatusNoContent)
	}
	return c.JSON(cfg)
}

// SaveMediaConfig handles PUT /api/seller/broadcasts/:id/media
// @Summary Save the media devices
// @Tags Seller
// @Accept json
// @Produce json
// @Param id path int true "Broadcast ID"
// @Param config body livecounter.MediaConfig true "Media devices"
// @Success 200 {object} livecounter.MediaConfig
// @Security BearerAuth
// @Router /seller/broadcasts/{id}/media [put]
func (s *Server) SaveMediaConfig(c *fiber.Ctx) error {
	id, err := s.parseID(c, "id")
	if err != nil {
		return nil
	}
	var cfg livecounter.MediaConfig
	if err := bindJSON(c, &cfg); err != nil {
		return nil
	}
	if err := s.broadcasts.SaveMediaConfig(c.UserContext(), middleware.UserID(c), id, cfg); err != nil {
		return respondError(c, err)
	}
	return c.JSON(cfg)
}

// GetReservableSlots handles GET /api/seller/broadcasts/slots?date=YYYY-MM-DD
// @Summary List reservable slots for a day
// @Tags Seller
// @Produce json
// @Param date query string false "Day as YYYY-MM-DD, today when empty"
// @Success 200 {object} map[string]interface{}
// @Security BearerAuth
// @Router /seller/broadcasts/slots [get]
func (s *Server) GetReservableSlots(c *fiber.Ctx) error {
	date := time.Now().UTC()
	if raw := strings.TrimSpace(c.Query("date")); raw != "" {
		parsed, err := time.Parse(time.DateOnly, raw)
		if err != nil {
			return models.RespondWithError(c, fiber.StatusBadRequest,
				models.NewValidationError("date must look like 2006-01-02"))
		}
		date = parsed
	}
	slots, err := s.broadcasts.GetReservableSlots(c.UserContext(), date)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(fiber.Map{"date": date.Format(time.DateOnly), "slots": slots})
}

// GetBroadcast handles GET /api/broadcasts/:id
// @Summary Get broadcast by ID
// @Tags Broadcasts
// @Produce json
// @Param id path int true "Broadcast ID"
// @Success 200 {object} service.BroadcastDetail
// @Router /broadcasts/{id} [get]
func (s *Server) GetBroadcast(c *fiber.Ctx) error {
	id, err := s.parseID(c, "id")
	if err != nil {
		return nil
	}
	detail, err := s.broadcasts.GetBroadcast(c.UserContext(), id)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(detail)
}

// GetBroadcastStats handles GET /api/broadcasts/:id/stats
// @Summary Get live counters of a broadcast
// @Tags Broadcasts
// @Produce json
// @Param id path int true "Broadcast ID"
// @Success 200 {object} service.BroadcastStats
// @Router /broadcasts/{id}/stats [get]
func (s *Server) GetBroadcastStats(c *fiber.Ctx) error {
	id, err := s.parseID(c, "id")
	if err != nil {
		return nil
	}
	stats, err := s.broadcasts.GetBroadcastStats(c.UserContext(), id)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(stats)
}

type presenceRequest struct {
	ViewerID string `json:"viewer_id"`
}

// viewerFrom identifies the caller: members by their id, anonymous viewers by
// the id they were handed on join.
func viewerFrom(c *fiber.Ctx) service.Viewer {
	var req presenceRequest
	if len(c.Body()) > 0 {
		_ = c.BodyParser(&req)
	}
	if req.ViewerID == "" {
		req.ViewerID = c.Query("viewer_id")
	}
	return service.Viewer{MemberID: middleware.UserID(c), ViewerID: strings.TrimSpace(req.ViewerID)}
}

// JoinBroadcast handles POST /api/broadcasts/:id/join
// @Summary Join a broadcast as a viewer
// @Tags Broadcasts
// @Accept json
// @Produce json
// @Param id path int true "Broadcast ID"
// @Param viewer body presenceRequest false "Anonymous viewer id"
// @Success 200 {object} service.SessionAccess
// @Router /broadcasts/{id}/join [post]
func (s *Server) JoinBroadcast(c *fiber.Ctx) error {
	id, err := s.parseID(c, "id")
	if err != nil {
		return nil
	}
	access, err := s.broadcasts.JoinBroadcast(c.UserContext(), id, viewerFrom(c))
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(access)
}

// LeaveBroadcast handles POST /api/broadcasts/:id/leave
// @Summary Leave a broadcast
// @Tags Broadcasts
// @Accept json
// @Produce json
// @Param id path int true "Broadcast ID"
// @Param viewer body presenceRequest false "Anonymous viewer id"
// @Success 204
// @Router /broadcasts/{id}/leave [post]
func (s *Server) LeaveBroadcast(c *fiber.Ctx) error {
	id, err := s.parseID(c, "id")
	if err != nil {
		return nil
	}
	viewer := viewerFrom(c)
	viewerID := viewer.ViewerID
	if viewer.MemberID != 0 {
		viewerID = strconv.FormatUint(uint64(viewer.MemberID), 10)
	}
	if err := s.broadcasts.LeaveBroadcast(c.UserContext(), id, viewerID); err != nil {
		return respondError(c, err)
	}
	return c.SendStatus(fiber.StatusNoContent)
}

// ToggleLike handles POST /api/broadcasts/:id/like
// @Summary Like or unlike a live broadcast
// @Tags Broadcasts
// @Produce json
// @Param id path int true "Broadcast ID"
// @Success 200 {object} service.ReactionResult
// @Security BearerAuth
// @Router /broadcasts/{id}/like [post]
func (s *Server) ToggleLike(c *fiber.Ctx) error {
	id, err := s.parseID(c, "id")
	if err != nil {
		return nil
	}
	res, err := s.broadcasts.ToggleLike(c.UserContext(), id, middleware.UserID(c))
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(res)
}

// ReportBroadcast handles POST /api/broadcasts/:id/report
// @Summary Report a live broadcast
// @Tags Broadcasts
// @Produce json
// @Param id path int true "Broadcast ID"
// @Success 200 {object} service.ReactionResult
// @Security BearerAuth
// @Router /broadcasts/{id}/report [post]
func (s *Server) ReportBroadcast(c *fiber.Ctx) error {
	id, err := s.parseID(c, "id")
	if err != nil {
		return nil
	}
	res, err := s.broadcasts.Report(c.UserContext(), id, middleware.UserID(c))
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(res)
}
