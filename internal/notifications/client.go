package notifications

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"livecommerce/internal/observability"

	"github.com/gofiber/websocket/v2"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10

	// Viewers only send chat lines and pings.
	maxMessageSize = 4096

	sendBuffer = 256
)

// WSHub is the side of a hub a client talks back to.
type WSHub interface {
	UnregisterClient(c *Client)
	Name() string
}

// Client is one browser tab watching a broadcast.
type Client struct {
	Hub  WSHub
	Conn *websocket.Conn

	// Send queues outbound events. It is never closed; the write pump stops
	// when the read side ends.
	Send chan []byte

	BroadcastID uint
	// ViewerID is the member id, or a generated id for anonymous viewers.
	ViewerID string
	// MemberID is zero for anonymous viewers.
	MemberID uint

	// IncomingHandler receives every text frame from the tab.
	IncomingHandler func(*Client, []byte)

	done     chan struct{}
	doneOnce sync.Once
	dropped  atomic.Int64
}

func NewClient(hub WSHub, conn *websocket.Conn, broadcastID uint, viewerID string, memberID uint) *Client {
	return &Client{
		Hub:         hub,
		Conn:        conn,
		BroadcastID: broadcastID,
		ViewerID:    viewerID,
		MemberID:    memberID,
		Send:        make(chan []byte, sendBuffer),
		done:        make(chan struct{}),
	}
}

func (c *Client) finish() {
	c.doneOnce.Do(func() { close(c.done) })
}

// ReadPump reads frames until the tab goes away, then unregisters the client.
// It blocks and should run on the connection's own goroutine.
func (c *Client) ReadPump() {
	defer func() {
		c.finish()
		c.Hub.UnregisterClient(c)
		_ = c.Conn.Close()
	}()

	c.Conn.SetReadLimit(maxMessageSize)
	_ = c.Conn.SetReadDeadline(time.Now().Add(pongWait))
	c.Conn.SetPongHandler(func(string) error {
		return c.Conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, message, err := c.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure, websocket.CloseNormalClosure) {
				observability.NewWSLogger(c.Hub.Name()).LogError(context.Background(),
					c.BroadcastID, c.ViewerID, err, "read")
			}
			return
		}
		if c.IncomingHandler != nil {
			c.IncomingHandler(c, message)
		}
	}
}

// WritePump writes queued events and keepalive pings. Events already queued
// when a write starts go out under the same deadline.
func (c *Client) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.Conn.Close()
	}()

	for {
		select {
		case <-c.done:
			_ = c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			_ = c.Conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, ""))
			return

		case message := <-c.Send:
			_ = c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.Conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
			for n := len(c.Send); n > 0; n-- {
				if err := c.Conn.WriteMessage(websocket.TextMessage, <-c.Send); err != nil {
					return
				}
			}

		case <-ticker.C:
			_ = c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// TrySend queues message without blocking and reports whether it was queued.
// When the buffer is full the event is dropped and the tab is told how many
// it missed so it can re-fetch stats.
func (c *Client) TrySend(message []byte) bool {
	select {
	case <-c.done:
		observability.WebSocketBackpressureDrops.WithLabelValues(c.Hub.Name(), "closed").Inc()
		return false
	default:
	}

	select {
	case c.Send <- message:
		return true
	default:
	}

	missed := c.dropped.Add(1)
	observability.WebSocketBackpressureDrops.WithLabelValues(c.Hub.Name(), "full").Inc()
	if missed == 1 || missed%50 == 0 {
		observability.GlobalLogger.Warn("websocket buffer full, dropping events",
			"broadcast_id", c.BroadcastID, "viewer_id", c.ViewerID, "dropped", missed)
	}

	notice := []byte(fmt.Sprintf(`{"type":"MESSAGES_DROPPED","payload":{"reason":"buffer_full","dropped":%d}}`, missed))
	select {
	case c.Send <- notice:
	default:
	}
	return false
}

// Dropped is the number of events this tab has missed.
func (c *Client) Dropped() int64 {
	return c.dropped.Load()
}
