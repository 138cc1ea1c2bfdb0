package models

import "time"

// MessageKind is the content kind of a chat message
type MessageKind string

const (
	KindText  MessageKind = "text"
	KindImage MessageKind = "image"
	KindAudio MessageKind = "audio"
)

// Valid reports whether k is a known message kind
func (k MessageKind) Valid() bool {
	return k == KindText || k == KindImage || k == KindAudio
}

// IsMedia reports whether messages of this kind carry a media reference
func (k MessageKind) IsMedia() bool {
	return k == KindImage || k == KindAudio
}

// BroadcastMessage is a message in the room-wide stream
type BroadcastMessage struct {
	ID        string      `json:"id" db:"id"`
	AuthorID  string      `json:"authorId" db:"author_id"`
	Content   string      `json:"content" db:"content"`
	Kind      MessageKind `json:"kind" db:"kind"`
	MediaURL  *string     `json:"mediaUrl,omitempty" db:"media_url"`
	CreatedAt time.Time   `json:"createdAt" db:"created_at"`
	Seq       int64       `json:"seq" db:"seq"` // tie-breaker assigned by the store
}

// PrivateMessage is a message between exactly two users
type PrivateMessage struct {
	ID         string      `json:"id" db:"id"`
	SenderID   string      `json:"senderId" db:"sender_id"`
	ReceiverID string      `json:"receiverId" db:"receiver_id"`
	Content    *string     `json:"content,omitempty" db:"content"` // Null for media messages
	Kind       MessageKind `json:"kind" db:"kind"`
	MediaURL   *string     `json:"mediaUrl,omitempty" db:"media_url"`
	IsRead     bool        `json:"isRead" db:"is_read"`
	CreatedAt  time.Time   `json:"createdAt" db:"created_at"`
	Seq        int64       `json:"seq" db:"seq"`
}

// Conversation returns the selector of the thread this message belongs to
func (m *PrivateMessage) Conversation() Conversation {
	return Private(m.SenderID, m.ReceiverID)
}

// Counterpart returns the other participant as seen by userID
func (m *PrivateMessage) Counterpart(userID string) string {
	if m.SenderID == userID {
		return m.ReceiverID
	}
	return m.SenderID
}

// Tombstone is sent in place of a deleted message
type Tombstone struct {
	ID           string       `json:"id"`
	Conversation Conversation `json:"conversation"`
	DeletedBy    string       `json:"deletedBy"`
	DeletedAt    time.Time    `json:"deletedAt"`
	Tombstone    bool         `json:"tombstone"`
}

// ReadReceipt tells a sender that the receiver has read the thread
type ReadReceipt struct {
	ReaderID string    `json:"readerId"`
	SenderID string    `json:"senderId"`
	Count    int64     `json:"count"`
	ReadAt   time.Time `json:"readAt"`
}

// Before reports whether a sorts before b in (created_at, seq) order
func Before(aAt time.Time, aSeq int64, bAt time.Time, bSeq int64) bool {
	if aAt.Equal(bAt) {
		return aSeq < bSeq
	}
	return aAt.Before(bAt)
}
