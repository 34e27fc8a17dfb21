package server

import (
	"livecommerce/internal/middleware"
	"livecommerce/internal/observability"

	"github.com/gofiber/fiber/v2"
)

type reasonRequest struct {
	Reason string `json:"reason"`
}

type sanctionRequest struct {
	ViewerID     string `json:"viewer_id"`
	ConnectionID string `json:"connection_id"`
}

type lockRequest struct {
	Locked bool `json:"locked"`
}

// ForceStopBroadcast handles POST /api/admin/broadcasts/:id/stop
// @Summary Force a broadcast off the air
// @Tags Admin
// @Accept json
// @Produce json
// @Param id path int true "Broadcast ID"
// @Param reason body reasonRequest true "Stop reason"
// @Success 204
// @Security BearerAuth
// @Router /admin/broadcasts/{id}/stop [post]
func (s *Server) ForceStopBroadcast(c *fiber.Ctx) error {
	id, err := s.parseID(c, "id")
	if err != nil {
		return nil
	}
	var req reasonRequest
	if err := bindJSON(c, &req); err != nil {
		return nil
	}
	if err := s.admin.ForceStop(c.UserContext(), id, req.Reason); err != nil {
		return respondError(c, err)
	}
	observability.GlobalLogger.InfoContext(c.UserContext(), "broadcast stopped by admin",
		"broadcast_id", id, "admin_id", middleware.UserID(c), "reason", req.Reason)
	return c.SendStatus(fiber.StatusNoContent)
}

// AdminCancelBroadcast handles POST /api/admin/broadcasts/:id/cancel
// @Summary Cancel a broadcast before it starts
// @Tags Admin
// @Accept json
// @Produce json
// @Param id path int true "Broadcast ID"
// @Param reason body reasonRequest true "Cancel reason"
// @Success 204
// @Security BearerAuth
// @Router /admin/broadcasts/{id}/cancel [post]
func (s *Server) AdminCancelBroadcast(c *fiber.Ctx) error {
	id, err := s.parseID(c, "id")
	if err != nil {
		return nil
	}
	var req reasonRequest
	if err := bindJSON(c, &req); err != nil {
		return nil
	}
	if err := s.admin.AdminCancel(c.UserContext(), id, req.Reason); err != nil {
		return respondError(c, err)
	}
	return c.SendStatus(fiber.StatusNoContent)
}

// SanctionViewer handles POST /api/admin/broadcasts/:id/sanctions
// @Summary Bar a viewer from a broadcast
// @Tags Admin
// @Accept json
// @Produce json
// @Param id path int true "Broadcast ID"
// @Param sanction body sanctionRequest true "Viewer to bar"
// @Success 204
// @Security BearerAuth
// @Router /admin/broadcasts/{id}/sanctions [post]
func (s *Server) SanctionViewer(c *fiber.Ctx) error {
	id, err := s.parseID(c, "id")
	if err != nil {
		return nil
	}
	var req sanctionRequest
	if err := bindJSON(c, &req); err != nil {
		return nil
	}
	if err := s.admin.SanctionViewer(c.UserContext(), id, req.ViewerID, req.ConnectionID); err != nil {
		return respondError(c, err)
	}
	return c.SendStatus(fiber.StatusNoContent)
}

// MarkProductSoldOut handles POST /api/admin/products/:id/sold-out. The order
// side calls it when a product runs out.
// @Summary Mark a product sold out
// @Tags Admin
// @Produce json
// @Param id path int true "Product ID"
// @Success 204
// @Security BearerAuth
// @Router /admin/products/{id}/sold-out [post]
func (s *Server) MarkProductSoldOut(c *fiber.Ctx) error {
	id, err := s.parseID(c, "id")
	if err != nil {
		return nil
	}
	if err := s.broadcasts.MarkProductSoldOut(c.UserContext(), id); err != nil {
		return respondError(c, err)
	}
	return c.SendStatus(fiber.StatusNoContent)
}

// SetVodAdminLock handles PUT /api/admin/vods/:id/lock
// @Summary Lock or unlock a VOD
// @Tags Admin
// @Accept json
// @Produce json
// @Param id path int true "Broadcast ID"
// @Param lock body lockRequest true "Lock state"
// @Success 200 {object} models.Vod
// @Security BearerAuth
// @Router /admin/vods/{id}/lock [put]
func (s *Server) SetVodAdminLock(c *fiber.Ctx) error {
	id, err := s.parseID(c, "id")
	if err != nil {
		return nil
	}
	var req lockRequest
	if err := bindJSON(c, &req); err != nil {
		return nil
	}
	v, err := s.vods.SetAdminLock(c.UserContext(), id, req.Locked)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(v)
}
