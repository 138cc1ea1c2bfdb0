package websocket

import "time"

// EventType represents different WebSocket frame types
type EventType string

const (
	// Client frames
	EventSubscribe   EventType = "subscribe"
	EventUnsubscribe EventType = "unsubscribe"
	EventView        EventType = "view"
	EventLeave       EventType = "leave"

	// Server frames
	EventChange  EventType = "event"
	EventDropped EventType = "dropped"
	EventError   EventType = "error"
)

// WSMessage represents a WebSocket message structure
type WSMessage struct {
	Type      EventType   `json:"type"`
	Payload   interface{} `json:"payload"`
	Timestamp time.Time   `json:"timestamp"`
}

// DroppedPayload tells the client it fell behind on a topic. The client
// must reload history and subscribe again.
type DroppedPayload struct {
	Topic        string `json:"topic"`
	Resubscribed bool   `json:"resubscribed"`
}

// ErrorPayload represents error event payload
type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// IncomingMessage represents messages received from clients. Payload
// carries {"conversation": "broadcast"|"private", "with": userId}.
type IncomingMessage struct {
	Type    EventType              `json:"type"`
	Payload map[string]interface{} `json:"payload"`
}
