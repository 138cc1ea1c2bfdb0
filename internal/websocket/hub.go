package websocket

import (
	"context"
	"log/slog"
	"sync"

	"obrolan/server/internal/bus"
	"obrolan/server/internal/models"
)

// Viewer receives explicit "conversation open" signals
type Viewer interface {
	ViewerActive(ctx context.Context, user string, conv models.Conversation) error
	ViewerInactive(user string, conv models.Conversation)
}

// Hub maintains the set of active clients. A user may hold several
// connections; each one subscribes to the bus on its own.
type Hub struct {
	// Registered clients mapped by user ID
	Clients map[string]map[*Client]struct{}

	// Register requests from clients
	Register chan *Client

	// Unregister requests from clients
	Unregister chan *Client

	bus    *bus.Bus
	viewer Viewer
	ctx    context.Context
	log    *slog.Logger

	// Mutex for thread-safe operations
	mu sync.RWMutex
}

// NewHub creates a new WebSocket hub. ctx bounds every client it serves.
func NewHub(ctx context.Context, b *bus.Bus, viewer Viewer, logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		Clients:    make(map[string]map[*Client]struct{}),
		Register:   make(chan *Client),
		Unregister: make(chan *Client),
		bus:        b,
		viewer:     viewer,
		ctx:        ctx,
		log:        logger,
	}
}

// Run starts the hub's main loop. It returns when ctx is done, after
// closing every remaining client.
func (h *Hub) Run() {
	for {
		select {
		case client := <-h.Register:
			h.registerClient(client)
		case client := <-h.Unregister:
			h.unregisterClient(client)
		case <-h.ctx.Done():
			h.mu.Lock()
			for _, conns := range h.Clients {
				for client := range conns {
					client.close()
				}
			}
			h.Clients = make(map[string]map[*Client]struct{})
			h.mu.Unlock()
			return
		}
	}
}

// Join hands client to the hub loop. It returns false once the hub has
// stopped, in which case the caller owns the connection.
func (h *Hub) Join(client *Client) bool {
	select {
	case h.Register <- client:
		return true
	case <-h.ctx.Done():
		return false
	}
}

// registerClient adds a client and subscribes it to its user topic
func (h *Hub) registerClient(client *Client) {
	h.mu.Lock()
	conns, ok := h.Clients[client.ID]
	if !ok {
		conns = make(map[*Client]struct{})
		h.Clients[client.ID] = conns
	}
	conns[client] = struct{}{}
	n := len(conns)
	h.mu.Unlock()

	client.subscribe(bus.UserTopic(client.ID))
	h.log.Info("client connected", "user", client.ID, "connections", n)
}

// unregisterClient removes a client from the hub
func (h *Hub) unregisterClient(client *Client) {
	h.mu.Lock()
	conns, ok := h.Clients[client.ID]
	if ok {
		if _, ok = conns[client]; ok {
			delete(conns, client)
			if len(conns) == 0 {
				delete(h.Clients, client.ID)
			}
		}
	}
	h.mu.Unlock()

	if ok {
		client.close()
		h.log.Info("client disconnected", "user", client.ID)
	}
}

// IsUserOnline checks if a user is currently connected
func (h *Hub) IsUserOnline(userID string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()

	_, ok := h.Clients[userID]
	return ok
}

// GetOnlineUsers returns a list of currently online user IDs
func (h *Hub) GetOnlineUsers() []string {
	h.mu.RLock()
	defer h.mu.RUnlock()

	userIDs := make([]string, 0, len(h.Clients))
	for userID := range h.Clients {
		userIDs = append(userIDs, userID)
	}

	return userIDs
}

// GetOnlineCount returns the number of open connections
func (h *Hub) GetOnlineCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()

	n := 0
	for _, conns := range h.Clients {
		n += len(conns)
	}
	return n
}
