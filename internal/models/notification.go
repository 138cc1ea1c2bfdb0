package models

import (
	"encoding/json"
	"time"
)

// Notification types
const (
	NotificationPrivateMessage = "private_message"
	NotificationAlert          = "alert"
)

// Notification is a user-facing alert outside the chat read state
type Notification struct {
	ID        string          `json:"id" db:"id"`
	UserID    string          `json:"userId" db:"user_id"`
	Type      string          `json:"type" db:"type"`
	Message   string          `json:"message" db:"message"`
	IsRead    bool            `json:"isRead" db:"is_read"`
	CreatedAt time.Time       `json:"createdAt" db:"created_at"`
	Metadata  json.RawMessage `json:"metadata,omitempty" db:"metadata"`
}

// ReadCursor is a user's watermark into the broadcast stream
type ReadCursor struct {
	UserID     string    `json:"userId" db:"user_id"`
	LastReadAt time.Time `json:"lastReadAt" db:"last_read_at"`
}

// Badge aggregates every unread counter shown to a user
type Badge struct {
	BroadcastUnread     int `json:"broadcastUnread"`
	PrivateUnread       int `json:"privateUnread"`
	NotificationsUnread int `json:"notificationsUnread"`
}
