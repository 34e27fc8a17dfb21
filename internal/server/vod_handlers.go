package server

import (
	"strconv"

	"livecommerce/internal/middleware"
	"livecommerce/internal/models"

	"github.com/gofiber/fiber/v2"
)

type visibilityRequest struct {
	Status models.VodStatus `json:"status"`
}

// RecordVodView handles POST /api/vods/:id/view
// @Summary Count a replay view
// @Tags VODs
// @Accept json
// @Produce json
// @Param id path int true "Broadcast ID"
// @Param viewer body presenceRequest false "Anonymous viewer id"
// @Success 200 {object} map[string]bool
// @Router /vods/{id}/view [post]
func (s *Server) RecordVodView(c *fiber.Ctx) error {
	id, err := s.parseID(c, "id")
	if err != nil {
		return nil
	}
	counted, err := s.vods.RecordVodView(c.UserContext(), id, viewerFrom(c))
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(fiber.Map{"counted": counted})
}

// ToggleVodLike handles POST /api/vods/:id/like
// @Summary Like or unlike a VOD
// @Tags VODs
// @Produce json
// @Param id path int true "Broadcast ID"
// @Success 200 {object} service.ReactionResult
// @Security BearerAuth
// @Router /vods/{id}/like [post]
func (s *Server) ToggleVodLike(c *fiber.Ctx) error {
	id, err := s.parseID(c, "id")
	if err != nil {
		return nil
	}
	res, err := s.vods.ToggleVodLike(c.UserContext(), id, middleware.UserID(c))
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(res)
}

// ReportVod handles POST /api/vods/:id/report
// @Summary Report a VOD
// @Tags VODs
// @Produce json
// @Param id path int true "Broadcast ID"
// @Success 200 {object} service.ReactionResult
// @Security BearerAuth
// @Router /vods/{id}/report [post]
func (s *Server) ReportVod(c *fiber.Ctx) error {
	id, err := s.parseID(c, "id")
	if err != nil {
		return nil
	}
	res, err := s.vods.ReportVod(c.UserContext(), id, middleware.UserID(c))
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(res)
}

// ChangeVodVisibility handles PATCH /api/seller/vods/:id/visibility
// @Summary Change VOD visibility
// @Tags Seller
// @Accept json
// @Produce json
// @Param id path int true "Broadcast ID"
// @Param visibility body visibilityRequest true "New status"
// @Success 200 {object} models.Vod
// @Security BearerAuth
// @Router /seller/vods/{id}/visibility [patch]
func (s *Server) ChangeVodVisibility(c *fiber.Ctx) error {
	id, err := s.parseID(c, "id")
	if err != nil {
		return nil
	}
	var req visibilityRequest
	if err := bindJSON(c, &req); err != nil {
		return nil
	}
	v, err := s.vods.ChangeVisibility(c.UserContext(), middleware.UserID(c), id, req.Status)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(v)
}

// DeleteVod handles DELETE /api/seller/vods/:id
// @Summary Delete a VOD
// @Tags Seller
// @Produce json
// @Param id path int true "Broadcast ID"
// @Success 204
// @Security BearerAuth
// @Router /seller/vods/{id} [delete]
func (s *Server) DeleteVod(c *fiber.Ctx) error {
	id, err := s.parseID(c, "id")
	if err != nil {
		return nil
	}
	if err := s.vods.DeleteVod(c.UserContext(), middleware.UserID(c), id); err != nil {
		return respondError(c, err)
	}
	return c.SendStatus(fiber.StatusNoContent)
}

// StreamVod handles GET /api/vods/:id/stream, serving byte ranges for seeking.
// @Summary Stream a VOD
// @Tags VODs
// @Produce video/mp4
// @Param id path int true "Broadcast ID"
// @Param Range header string false "Byte range"
// @Success 206 {file} binary
// @Router /vods/{id}/stream [get]
func (s *Server) StreamVod(c *fiber.Ctx) error {
	id, err := s.parseID(c, "id")
	if err != nil {
		return nil
	}
	rangeHeader := c.Get(fiber.HeaderRange)
	stream, err := s.vods.StreamVod(c.UserContext(), id, rangeHeader)
	if err != nil {
		if rangeHeader != "" && models.IsCode(err, models.CodeValidation) {
			return models.RespondWithError(c, fiber.StatusRequestedRangeNotSatisfiable, err)
		}
		return respondError(c, err)
	}

	c.Set(fiber.HeaderAcceptRanges, "bytes")
	c.Set(fiber.HeaderContentType, "video/mp4")
	c.Set(fiber.HeaderContentLength, strconv.FormatInt(stream.ContentLength(), 10))
	if stream.Partial {
		c.Set(fiber.HeaderContentRange, stream.ContentRange())
		c.Status(fiber.StatusPartialContent)
	}
	return c.SendStream(stream.Body, int(stream.ContentLength()))
}
