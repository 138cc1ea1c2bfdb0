package websocket

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"obrolan/server/internal/apperr"
	"obrolan/server/internal/bus"
	"obrolan/server/internal/models"

	"github.com/gofiber/contrib/websocket"
)

const (
	sendBuffer = 256
	pongWait   = 60 * time.Second
	pingPeriod = 54 * time.Second
	writeWait  = 10 * time.Second
)

// Client is one WebSocket connection of a user. It owns a bus subscription
// per topic it listens to and forwards events as frames.
type Client struct {
	ID   string // User ID
	Conn *websocket.Conn
	Hub  *Hub
	Send chan []byte

	ctx    context.Context
	cancel context.CancelFunc
	log    *slog.Logger

	mu    sync.Mutex
	subs  map[bus.Topic]*bus.Subscription
	views map[string]models.Conversation
	refs  map[string]int
}

// NewClient creates a new WebSocket client
func NewClient(userID string, conn *websocket.Conn, hub *Hub) *Client {
	ctx, cancel := context.WithCancel(hub.ctx)
	return &Client{
		ID:     userID,
		Conn:   conn,
		Hub:    hub,
		Send:   make(chan []byte, sendBuffer),
		ctx:    ctx,
		cancel: cancel,
		log:    hub.log.With("user", userID),
		subs:   make(map[bus.Topic]*bus.Subscription),
		views:  make(map[string]models.Conversation),
		refs:   make(map[string]int),
	}
}

// ReadPump handles incoming messages from the client
func (c *Client) ReadPump() {
	defer func() {
		select {
		case c.Hub.Unregister <- c:
		case <-c.Hub.ctx.Done():
		}
		c.Conn.Close()
	}()

	c.Conn.SetReadDeadline(time.Now().Add(pongWait))
	c.Conn.SetPongHandler(func(string) error {
		c.Conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := c.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.log.Warn("websocket read error", "err", err)
			}
			break
		}

		var incoming IncomingMessage
		if err := json.Unmarshal(message, &incoming); err != nil {
			c.sendError("bad_frame", "frame is not valid JSON")
			continue
		}

		c.handleIncomingMessage(incoming)
	}
}

// WritePump handles outgoing messages to the client
func (c *Client) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.Conn.Close()
	}()

	for {
		select {
		case message := <-c.Send:
			c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.Conn.WriteMessage(websocket.TextMessage, message); err != nil {
				c.log.Debug("websocket write error", "err", err)
				return
			}

		case <-ticker.C:
			c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}

		case <-c.ctx.Done():
			c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			c.Conn.WriteMessage(websocket.CloseMessage, []byte{})
			return
		}
	}
}

// handleIncomingMessage processes different types of incoming messages
func (c *Client) handleIncomingMessage(msg IncomingMessage) {
	conv, err := c.conversation(msg.Payload)
	if err != nil {
		c.sendAppError(err)
		return
	}

	switch msg.Type {
	case EventSubscribe:
		c.subscribe(bus.ConversationTopic(conv))
	case EventUnsubscribe:
		c.unsubscribe(bus.ConversationTopic(conv))
	case EventView:
		c.subscribe(bus.ConversationTopic(conv))
		c.view(conv)
	case EventLeave:
		c.leave(conv)
	default:
		c.sendError("unknown_type", "unknown frame type "+string(msg.Type))
	}
}

// conversation resolves a frame payload to a conversation this user belongs to
func (c *Client) conversation(payload map[string]interface{}) (models.Conversation, error) {
	const op = "websocket.conversation"

	kind, _ := payload["conversation"].(string)
	switch models.ConversationKind(kind) {
	case models.ConversationBroadcast:
		return models.Broadcast(), nil
	case models.ConversationPrivate:
		with, _ := payload["with"].(string)
		if with == "" || with == c.ID {
			return models.Conversation{}, apperr.Validation(op, "private conversation needs another participant")
		}
		return models.Private(c.ID, with), nil
	default:
		return models.Conversation{}, apperr.Validation(op, "conversation must be broadcast or private")
	}
}

// subscribe starts forwarding topic to this connection. Subscribing twice is a no-op.
func (c *Client) subscribe(topic bus.Topic) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.ctx.Err() != nil {
		return
	}
	if _, ok := c.subs[topic]; ok {
		return
	}
	sub := c.Hub.bus.Subscribe(topic)
	c.subs[topic] = sub
	go c.forward(sub)
}

func (c *Client) unsubscribe(topic bus.Topic) {
	c.mu.Lock()
	sub, ok := c.subs[topic]
	delete(c.subs, topic)
	c.mu.Unlock()

	if ok {
		sub.Close()
	}
}

// forward pumps one subscription into Send until it ends
func (c *Client) forward(sub *bus.Subscription) {
	for {
		select {
		case ev, ok := <-sub.C():
			if !ok {
				if sub.Dropped() {
					c.dropped(sub)
				}
				return
			}
			c.queue(WSMessage{Type: EventChange, Payload: ev, Timestamp: ev.Timestamp})
		case <-c.ctx.Done():
			return
		}
	}
}

// dropped reports an evicted subscription. The user topic is renewed at once
// since it is implicit; conversation topics wait for the client.
func (c *Client) dropped(sub *bus.Subscription) {
	topic := sub.Topic()
	c.mu.Lock()
	if c.subs[topic] == sub {
		delete(c.subs, topic)
	}
	c.mu.Unlock()

	_, isUser := topic.UserID()
	c.log.Warn("subscriber dropped", "topic", string(topic))
	if isUser {
		c.subscribe(topic)
	}
	c.queue(WSMessage{
		Type:      EventDropped,
		Payload:   DroppedPayload{Topic: string(topic), Resubscribed: isUser},
		Timestamp: time.Now(),
	})
}

func (c *Client) view(conv models.Conversation) {
	if err := c.Hub.viewer.ViewerActive(c.ctx, c.ID, conv); err != nil {
		c.sendAppError(err)
		return
	}
	c.mu.Lock()
	if c.ctx.Err() != nil {
		// closed while the view was being opened
		c.mu.Unlock()
		c.Hub.viewer.ViewerInactive(c.ID, conv)
		return
	}
	c.views[conv.Key()] = conv
	c.refs[conv.Key()]++
	c.mu.Unlock()
}

func (c *Client) leave(conv models.Conversation) {
	c.mu.Lock()
	n := c.refs[conv.Key()]
	if n == 0 {
		c.mu.Unlock()
		return
	}
	if n == 1 {
		delete(c.refs, conv.Key())
		delete(c.views, conv.Key())
	} else {
		c.refs[conv.Key()] = n - 1
	}
	c.mu.Unlock()

	c.Hub.viewer.ViewerInactive(c.ID, conv)
}

// close stops forwarding and releases every view this connection held
func (c *Client) close() {
	c.cancel()

	c.mu.Lock()
	subs := c.subs
	c.subs = make(map[bus.Topic]*bus.Subscription)
	views, refs := c.views, c.refs
	c.views = make(map[string]models.Conversation)
	c.refs = make(map[string]int)
	c.mu.Unlock()

	for _, sub := range subs {
		sub.Close()
	}
	for key, conv := range views {
		for i := 0; i < refs[key]; i++ {
			c.Hub.viewer.ViewerInactive(c.ID, conv)
		}
	}
}

// queue hands a frame to WritePump, waiting while the connection is alive
func (c *Client) queue(msg WSMessage) {
	data, err := json.Marshal(msg)
	if err != nil {
		c.log.Error("failed to marshal frame", "type", string(msg.Type), "err", err)
		return
	}
	select {
	case c.Send <- data:
	case <-c.ctx.Done():
	}
}

func (c *Client) sendError(code, message string) {
	c.queue(WSMessage{
		Type:      EventError,
		Payload:   ErrorPayload{Code: code, Message: message},
		Timestamp: time.Now(),
	})
}

func (c *Client) sendAppError(err error) {
	code := apperr.CodeOf(err)
	if code == "" {
		code = apperr.KindOf(err).String()
	}
	c.sendError(code, err.Error())
}
