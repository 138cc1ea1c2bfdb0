package bus

import (
	"strings"
	"time"

	"obrolan/server/internal/models"
)

// EventType represents the kind of change carried by an event
type EventType string

const (
	// Conversation content events
	EventInsert EventType = "insert"
	EventUpdate EventType = "update"
	EventDelete EventType = "delete"

	// Per-user events
	EventUnread            EventType = "unread"
	EventNotification      EventType = "notification"
	EventNotificationCount EventType = "notification_count"
)

// Event is one change delivered to subscribers of a topic
type Event struct {
	Type      EventType `json:"type"`
	Topic     Topic     `json:"topic"`
	Payload   any       `json:"payload"`
	Tombstone bool      `json:"tombstone,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Topic keys the bus. Conversation topics carry message content, user topics
// carry unread counts and notifications for one user.
type Topic string

const (
	conversationPrefix = "conv:"
	userPrefix         = "user:"
)

// ConversationTopic returns the content topic of a conversation
func ConversationTopic(c models.Conversation) Topic {
	return Topic(conversationPrefix + c.Key())
}

// UserTopic returns the notification topic of a user
func UserTopic(userID string) Topic {
	return Topic(userPrefix + userID)
}

// UserID returns the owner of a user topic
func (t Topic) UserID() (string, bool) {
	s := string(t)
	if !strings.HasPrefix(s, userPrefix) || len(s) == len(userPrefix) {
		return "", false
	}
	return s[len(userPrefix):], true
}

// Conversation returns the selector of a conversation topic
func (t Topic) Conversation() (models.Conversation, bool) {
	s := string(t)
	if !strings.HasPrefix(s, conversationPrefix) {
		return models.Conversation{}, false
	}
	c, err := models.ParseConversation(s[len(conversationPrefix):])
	if err != nil {
		return models.Conversation{}, false
	}
	return c, true
}

// UnreadPayload is published on a user topic whenever a counter changes
type UnreadPayload struct {
	Conversation models.Conversation `json:"conversation"`
	Counterpart  string              `json:"counterpart,omitempty"`
	Count        int                 `json:"count"`
}

// NotificationCountPayload carries the user's unread notification total
type NotificationCountPayload struct {
	Unread int `json:"unread"`
}
