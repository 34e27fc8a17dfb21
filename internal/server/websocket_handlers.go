package server

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"livecommerce/internal/middleware"
	"livecommerce/internal/models"
	"livecommerce/internal/notifications"
	"livecommerce/internal/observability"
	"livecommerce/internal/service"
	"livecommerce/internal/validation"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"
)

const (
	chatRateLimit = 20
	chatWindow    = 10 * time.Second
)

// socketMessage is what clients send over the broadcast socket.
type socketMessage struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// ChatPayload is the CHAT_MESSAGE event body.
type ChatPayload struct {
	ViewerID string    `json:"viewer_id"`
	MemberID uint      `json:"member_id,omitempty"`
	Message  string    `json:"message"`
	SentAt   time.Time `json:"sent_at"`
}

// BroadcastSocketHandler upgrades GET /ws/broadcasts/:id. Opening a socket
// enters presence and closing the last tab leaves it.
func (s *Server) BroadcastSocketHandler() fiber.Handler {
	upgrade := websocket.New(s.serveBroadcastSocket)
	return func(c *fiber.Ctx) error {
		if !websocket.IsWebSocketUpgrade(c) {
			return fiber.ErrUpgradeRequired
		}
		if s.hub == nil || s.broadcasts == nil {
			return models.RespondWithError(c, fiber.StatusServiceUnavailable,
				models.NewInternalError(nil))
		}
		id, err := s.parseID(c, "id")
		if err != nil {
			return nil
		}
		viewer := service.Viewer{MemberID: middleware.UserID(c), ViewerID: strings.TrimSpace(c.Query("viewer_id"))}
		access, err := s.broadcasts.JoinBroadcast(c.UserContext(), id, viewer)
		if err != nil {
			return respondError(c, err)
		}
		c.Locals("broadcastID", id)
		c.Locals("viewerID", access.ViewerID)
		return upgrade(c)
	}
}

func (s *Server) serveBroadcastSocket(conn *websocket.Conn) {
	ctx := context.Background()
	broadcastID, _ := conn.Locals("broadcastID").(uint)
	viewerID, _ := conn.Locals("viewerID").(string)
	memberID, _ := conn.Locals("userID").(uint)

	client, err := s.hub.Register(broadcastID, viewerID, memberID, conn)
	if err != nil {
		observability.NewWSLogger(s.hub.Name()).LogError(ctx, broadcastID, viewerID, err, "register")
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"error":"`+err.Error()+`"}`))
		_ = conn.Close()
		// The presence entered before the upgrade has no socket to close it.
		if lerr := s.broadcasts.LeaveBroadcast(ctx, broadcastID, viewerID); lerr != nil {
			observability.GlobalLogger.WarnContext(ctx, "failed to undo presence",
				"broadcast_id", broadcastID, "viewer_id", viewerID, "error", lerr)
		}
		return
	}

	hello, _ := json.Marshal(fiber.Map{"type": "joined", "broadcast_id": broadcastID, "viewer_id": viewerID})
	client.TrySend(hello)

	client.IncomingHandler = func(c *notifications.Client, raw []byte) {
		s.handleSocketMessage(ctx, c, raw)
	}

	go client.WritePump()
	client.ReadPump()
}

func (s *Server) handleSocketMessage(ctx context.Context, c *notifications.Client, raw []byte) {
	var msg socketMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		return
	}
	switch msg.Type {
	case "ping":
		c.TrySend([]byte(`{"type":"pong"}`))
	case "chat":
		text, err := validation.ChatMessage(msg.Message)
		if err != nil {
			c.TrySend([]byte(`{"type":"error","code":"VALIDATION_ERROR"}`))
			return
		}
		if c.MemberID == 0 {
			c.TrySend([]byte(`{"type":"error","code":"UNAUTHORIZED"}`))
			return
		}
		allowed, _ := middleware.CheckRateLimit(ctx, s.redis, "broadcast_chat", c.ViewerID, chatRateLimit, chatWindow)
		if !allowed {
			c.TrySend([]byte(`{"type":"error","code":"TOO_MANY_REQUESTS"}`))
			return
		}
		sanctioned, err := s.broadcasts.IsSanctioned(ctx, c.BroadcastID, c.ViewerID)
		if err == nil && sanctioned {
			c.TrySend([]byte(`{"type":"error","code":"VIEWER_SANCTIONED"}`))
			return
		}
		if _, err := s.broadcasts.RecordChat(ctx, c.BroadcastID); err != nil {
			code := models.ErrorCode(err)
			if code == "" {
				code = models.CodeInternal
			}
			c.TrySend([]byte(`{"type":"error","code":"` + code + `"}`))
			return
		}
		payload := ChatPayload{ViewerID: c.ViewerID, MemberID: c.MemberID, Message: text, SentAt: time.Now().UTC()}
		if s.notifier != nil {
			notifications.PublishBestEffort(ctx, s.notifier, c.BroadcastID, notifications.EventChatMessage, payload)
			return
		}
		// Without Redis the message only reaches this instance.
		body, _ := json.Marshal(notifications.Event{Type: notifications.EventChatMessage, BroadcastID: c.BroadcastID, Payload: payload, At: payload.SentAt})
		s.hub.Broadcast(c.BroadcastID, string(body))
	}
}

// onSocketLeave closes presence for a socket the hub removed.
func (s *Server) onSocketLeave(c *notifications.Client) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.broadcasts.LeaveBroadcast(ctx, c.BroadcastID, c.ViewerID); err != nil {
		observability.NewWSLogger(s.hub.Name()).LogError(ctx, c.BroadcastID, c.ViewerID, err, "leave")
	}
}
