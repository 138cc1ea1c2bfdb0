package models

import (
	"fmt"
	"net/url"
	"strings"
)

// ConversationKind tags a conversation selector
type ConversationKind string

const (
	ConversationBroadcast ConversationKind = "broadcast"
	ConversationPrivate   ConversationKind = "private"
)

// Conversation selects either the broadcast room or the private thread of an
// unordered pair of users. Private selectors are normalized so that A < B.
type Conversation struct {
	Kind ConversationKind `json:"kind"`
	A    string           `json:"a,omitempty"`
	B    string           `json:"b,omitempty"`
}

// Broadcast returns the selector of the room-wide stream
func Broadcast() Conversation {
	return Conversation{Kind: ConversationBroadcast}
}

// Private returns the selector for the thread between two users
func Private(userA, userB string) Conversation {
	if userB < userA {
		userA, userB = userB, userA
	}
	return Conversation{Kind: ConversationPrivate, A: userA, B: userB}
}

func (c Conversation) IsBroadcast() bool { return c.Kind == ConversationBroadcast }

// Includes reports whether userID may read this conversation
func (c Conversation) Includes(userID string) bool {
	if c.IsBroadcast() {
		return true
	}
	return c.A == userID || c.B == userID
}

// Other returns the participant that is not userID
func (c Conversation) Other(userID string) string {
	if c.A == userID {
		return c.B
	}
	return c.A
}

// Key is the stable identifier used for partitioning and topic names.
// Participant ids are escaped so distinct pairs never share a key.
func (c Conversation) Key() string {
	if c.IsBroadcast() {
		return "broadcast"
	}
	return "private:" + url.QueryEscape(c.A) + ":" + url.QueryEscape(c.B)
}

func (c Conversation) String() string { return c.Key() }

// ParseConversation is the inverse of Key
func ParseConversation(key string) (Conversation, error) {
	if key == "broadcast" {
		return Broadcast(), nil
	}
	parts := strings.Split(key, ":")
	if len(parts) != 3 || parts[0] != "private" || parts[1] == "" || parts[2] == "" {
		return Conversation{}, fmt.Errorf("invalid conversation key %q", key)
	}
	a, errA := url.QueryUnescape(parts[1])
	b, errB := url.QueryUnescape(parts[2])
	if errA != nil || errB != nil {
		return Conversation{}, fmt.Errorf("invalid conversation key %q", key)
	}
	return Private(a, b), nil
}
