package store

import (
	"context"
	"time"

	"obrolan/server/internal/models"
)

const (
	DefaultLimit = 100
	MaxLimit     = 500

	DefaultNotificationLimit = 20
)

// Query selects a window of a conversation. With neither AfterID nor Since
// set it returns the most recent Limit messages; otherwise the first Limit
// messages strictly after the anchor. Results are always ascending by
// (created_at, seq).
type Query struct {
	AfterID string
	Since   time.Time
	Limit   int
}

// NormalizedLimit clamps Limit into [1, MaxLimit]
func (q Query) NormalizedLimit() int {
	if q.Limit <= 0 {
		return DefaultLimit
	}
	if q.Limit > MaxLimit {
		return MaxLimit
	}
	return q.Limit
}

func (q Query) anchored() bool {
	return q.AfterID != "" || !q.Since.IsZero()
}

// Summary describes one private conversation from a user's point of view
type Summary struct {
	Counterpart  string
	LastActivity time.Time
	Unread       int
}

// MessageRepository persists broadcast and private messages. Appends assign
// ID, CreatedAt and Seq and are linearized per conversation.
type MessageRepository interface {
	AppendBroadcast(ctx context.Context, m *models.BroadcastMessage) error
	AppendPrivate(ctx context.Context, m *models.PrivateMessage) error
	ListBroadcast(ctx context.Context, q Query) ([]models.BroadcastMessage, error)
	ListPrivate(ctx context.Context, conv models.Conversation, q Query) ([]models.PrivateMessage, error)
	GetPrivate(ctx context.Context, id string) (*models.PrivateMessage, error)
	// DeletePrivate removes the message if requester is its sender and
	// returns the removed record.
	DeletePrivate(ctx context.Context, id, requester string) (*models.PrivateMessage, error)

	CountBroadcastAfter(ctx context.Context, t time.Time) (int, error)
	CountUnreadPrivate(ctx context.Context, receiver, sender string) (int, error)
	CountUnreadPrivateTotal(ctx context.Context, receiver string) (int, error)
	// MarkPrivateRead flags every unread message from sender to receiver as
	// read and returns how many rows changed.
	MarkPrivateRead(ctx context.Context, receiver, sender string) (int64, error)
	PrivateSummaries(ctx context.Context, user string) ([]Summary, error)
}

// CursorRepository persists broadcast read cursors
type CursorRepository interface {
	// GetOrCreateCursor returns the user's cursor, creating it at now.
	GetOrCreateCursor(ctx context.Context, user string) (time.Time, error)
	// AdvanceCursor moves the cursor forward to ts and returns the stored
	// value, which is never lower than before.
	AdvanceCursor(ctx context.Context, user string, ts time.Time) (time.Time, error)
	// Now is the clock the repository stamps rows with.
	Now(ctx context.Context) (time.Time, error)
}

// NotificationRepository persists notifications
type NotificationRepository interface {
	CreateNotification(ctx context.Context, n *models.Notification) error
	ListNotifications(ctx context.Context, user string, limit int) ([]models.Notification, error)
	MarkNotificationRead(ctx context.Context, user, id string) error
	MarkAllNotificationsRead(ctx context.Context, user string) (int64, error)
	CountUnreadNotifications(ctx context.Context, user string) (int, error)
	// DeleteMessageNotifications removes the user's private_message
	// notifications that point at messageID
	DeleteMessageNotifications(ctx context.Context, user, messageID string) (int64, error)
}

// Repository is everything the messaging core persists
type Repository interface {
	MessageRepository
	CursorRepository
	NotificationRepository
}
