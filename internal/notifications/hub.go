package notifications

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"sync"

	"livecommerce/internal/observability"

	"github.com/gofiber/websocket/v2"
)

const (
	// Max tabs one viewer may hold open on a broadcast
	maxConnsPerViewer = 12
	// Max total connections
	maxTotalConns = 10000
)

// Hub maps broadcastID -> the websocket clients watching it.
type Hub struct {
	mu         sync.RWMutex
	rooms      map[uint]map[*Client]struct{}
	totalConns int
	shutdown   chan struct{}
	done       chan struct{}
	onLeave    func(c *Client)
	log        *observability.WSLogger
}

// NewHub creates a new Hub.
func NewHub() *Hub {
	return &Hub{
		rooms:    make(map[uint]map[*Client]struct{}),
		shutdown: make(chan struct{}),
		done:     make(chan struct{}),
		log:      observability.NewWSLogger("broadcast"),
	}
}

// Name returns a human-readable identifier for this hub.
func (h *Hub) Name() string { return "broadcast hub" }

// SetLeaveHandler registers fn to run after a client is removed.
func (h *Hub) SetLeaveHandler(fn func(c *Client)) {
	h.mu.Lock()
	h.onLeave = fn
	h.mu.Unlock()
}

// Register a connection of viewerID on a broadcast. Returns the Client or an
// error when a limit is exceeded.
func (h *Hub) Register(broadcastID uint, viewerID string, memberID uint, conn *websocket.Conn) (*Client, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.totalConns >= maxTotalConns {
		return nil, errors.New("server connection limit reached")
	}

	room, ok := h.rooms[broadcastID]
	if !ok {
		room = make(map[*Client]struct{})
		h.rooms[broadcastID] = room
	}

	tabs := 0
	for c := range room {
		if c.ViewerID == viewerID {
			tabs++
		}
	}
	if tabs >= maxConnsPerViewer {
		return nil, errors.New("viewer connection limit reached")
	}

	client := NewClient(h, conn, broadcastID, viewerID, memberID)
	room[client] = struct{}{}
	h.totalConns++
	observability.WebSocketConnectionsTotal.Inc()
	h.log.LogConnect(context.Background(), broadcastID, viewerID)
	return client, nil
}

// UnregisterClient removes a client. Calling it twice is harmless.
func (h *Hub) UnregisterClient(client *Client) {
	h.mu.Lock()
	removed := false
	if room, ok := h.rooms[client.BroadcastID]; ok {
		if _, exists := room[client]; exists {
			delete(room, client)
			h.totalConns--
			removed = true
		}
		if len(room) == 0 {
			delete(h.rooms, client.BroadcastID)
		}
	}
	onLeave := h.onLeave
	h.mu.Unlock()

	if !removed {
		return
	}
	observability.WebSocketConnectionsTotal.Dec()
	h.log.LogDisconnect(context.Background(), client.BroadcastID, client.ViewerID, "closed")
	if onLeave != nil {
		onLeave(client)
	}
}

// Broadcast sends message to every connection on the broadcast.
func (h *Hub) Broadcast(broadcastID uint, message string) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	data := []byte(message)
	for c := range h.rooms[broadcastID] {
		c.TrySend(data)
	}
}

// SendToMember sends message to one member's connections on the broadcast.
func (h *Hub) SendToMember(broadcastID, memberID uint, message string) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	data := []byte(message)
	for c := range h.rooms[broadcastID] {
		if c.MemberID == memberID {
			c.TrySend(data)
		}
	}
}

// Count returns how many connections watch the broadcast.
func (h *Hub) Count(broadcastID uint) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[broadcastID])
}

// StartWiring subscribes the hub to the Notifier's channels and forwards each
// event to the matching connections.
func (h *Hub) StartWiring(ctx context.Context, n *Notifier) error {
	return n.StartSubscriber(ctx, func(channel, payload string) {
		broadcastID, memberID, ok := parseChannel(channel)
		if !ok {
			observability.GlobalLogger.Warn("invalid event channel", "channel", channel)
			return
		}
		if memberID != 0 {
			h.SendToMember(broadcastID, memberID, payload)
			return
		}
		h.Broadcast(broadcastID, payload)
	})
}

// parseChannel reads events:broadcast:{id} and events:broadcast:{id}:user:{userId}.
func parseChannel(channel string) (broadcastID, memberID uint, ok bool) {
	rest, found := strings.CutPrefix(channel, "events:broadcast:")
	if !found {
		return 0, 0, false
	}
	idPart, userPart, hasUser := strings.Cut(rest, ":user:")
	id, err := strconv.ParseUint(idPart, 10, 64)
	if err != nil || id == 0 {
		return 0, 0, false
	}
	if !hasUser {
		return uint(id), 0, true
	}
	uid, err := strconv.ParseUint(userPart, 10, 64)
	if err != nil || uid == 0 {
		return 0, 0, false
	}
	return uint(id), uint(uid), true
}

// Shutdown stops every client. Each write pump sends a close frame and
// closes its connection; the read pumps then unregister, which runs the
// leave handler so presence is released.
func (h *Hub) Shutdown(_ context.Context) error {
	close(h.shutdown)

	h.mu.RLock()
	var clients []*Client
	for _, room := range h.rooms {
		for c := range room {
			clients = append(clients, c)
		}
	}
	h.mu.RUnlock()

	for _, c := range clients {
		c.finish()
	}
	observability.GlobalLogger.Info("websocket hub shut down", "clients", len(clients))

	close(h.done)
	return nil
}
