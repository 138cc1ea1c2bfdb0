package messages

import (
	"context"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"obrolan/server/internal/apperr"
	"obrolan/server/internal/bus"
	"obrolan/server/internal/media"
	"obrolan/server/internal/models"
	"obrolan/server/internal/store"
)

// MaxContentLength bounds text message length in characters
const MaxContentLength = 4000

// Observer is told about every committed change, after fan-out
type Observer interface {
	OnBroadcastInsert(ctx context.Context, m models.BroadcastMessage)
	OnPrivateInsert(ctx context.Context, m models.PrivateMessage)
	OnPrivateDelete(ctx context.Context, m models.PrivateMessage)
}

// Draft is a message as submitted by a client
type Draft struct {
	Kind     models.MessageKind
	Content  string
	MediaURL string
}

// Store validates, persists and fans out chat messages. Every successful
// append or delete publishes exactly one event on the conversation topic.
type Store struct {
	repo      store.MessageRepository
	pub       bus.Publisher
	resolver  media.Resolver
	observers []Observer
	log       *slog.Logger
}

func New(repo store.MessageRepository, pub bus.Publisher, resolver media.Resolver, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{
		repo:     repo,
		pub:      pub,
		resolver: resolver,
		log:      logger,
	}
}

// Observe registers o for change notifications. Not safe to call concurrently
// with message traffic; wire observers at startup.
func (s *Store) Observe(o Observer) {
	s.observers = append(s.observers, o)
}

// normalize enforces the kind/media invariant and returns the content to store
func normalize(op string, d Draft) (content string, mediaURL *string, err error) {
	if d.Kind == "" {
		d.Kind = models.KindText
	}
	if !d.Kind.Valid() {
		return "", nil, apperr.Validation(op, "invalid message type %q, must be text, image, or audio", d.Kind)
	}

	if d.Kind == models.KindText {
		content = strings.TrimSpace(d.Content)
		if content == "" {
			return "", nil, apperr.Validation(op, "content is required for text messages")
		}
		if utf8.RuneCountInString(content) > MaxContentLength {
			return "", nil, apperr.Validation(op, "content exceeds %d characters", MaxContentLength)
		}
		if d.MediaURL != "" {
			return "", nil, apperr.Validation(op, "text messages cannot carry media")
		}
		return content, nil, nil
	}

	url := strings.TrimSpace(d.MediaURL)
	if url == "" {
		return "", nil, apperr.Validation(op, "%s messages require a media reference", d.Kind)
	}
	return "", &url, nil
}

// PostBroadcast appends a message to the room-wide stream
func (s *Store) PostBroadcast(ctx context.Context, author string, d Draft) (*models.BroadcastMessage, error) {
	const op = "messages.PostBroadcast"

	if author == "" {
		return nil, apperr.Authorization(op, "author is required")
	}
	content, mediaURL, err := normalize(op, d)
	if err != nil {
		return nil, err
	}
	kind := d.Kind
	if kind == "" {
		kind = models.KindText
	}

	m := &models.BroadcastMessage{
		AuthorID: author,
		Content:  content,
		Kind:     kind,
		MediaURL: mediaURL,
	}
	if err := s.repo.AppendBroadcast(ctx, m); err != nil {
		return nil, apperr.Wrap(op, err)
	}

	s.pub.Publish(ctx, bus.ConversationTopic(models.Broadcast()), bus.Event{
		Type:    bus.EventInsert,
		Payload: *m,
	})
	for _, o := range s.observers {
		o.OnBroadcastInsert(ctx, *m)
	}
	return m, nil
}

// PostPrivate appends a message to the thread between sender and receiver
func (s *Store) PostPrivate(ctx context.Context, sender, receiver string, d Draft) (*models.PrivateMessage, error) {
	const op = "messages.PostPrivate"

	if sender == "" {
		return nil, apperr.Authorization(op, "sender is required")
	}
	if receiver == "" {
		return nil, apperr.Validation(op, "receiver is required")
	}
	if receiver == sender {
		return nil, apperr.Validation(op, "cannot send a private message to yourself")
	}
	content, mediaURL, err := normalize(op, d)
	if err != nil {
		return nil, err
	}
	kind := d.Kind
	if kind == "" {
		kind = models.KindText
	}

	m := &models.PrivateMessage{
		SenderID:   sender,
		ReceiverID: receiver,
		Kind:       kind,
		MediaURL:   mediaURL,
	}
	if kind == models.KindText {
		m.Content = &content
	}
	if err := s.repo.AppendPrivate(ctx, m); err != nil {
		return nil, apperr.Wrap(op, err)
	}

	s.pub.Publish(ctx, bus.ConversationTopic(m.Conversation()), bus.Event{
		Type:    bus.EventInsert,
		Payload: *m,
	})
	for _, o := range s.observers {
		o.OnPrivateInsert(ctx, *m)
	}
	return m, nil
}

// upload runs local validation and the media upload. The caller appends
// only on success, so a failed upload never produces a message.
func (s *Store) upload(ctx context.Context, op, owner string, kind models.MessageKind, data []byte, contentType string) (string, error) {
	if err := media.Validate(kind, len(data), contentType); err != nil {
		return "", err
	}
	if s.resolver == nil {
		return "", apperr.WithCode(apperr.Transient(op, nil), apperr.CodeStoreUnavailable)
	}
	url, err := s.resolver.Upload(ctx, owner, kind, data, contentType)
	if err != nil {
		s.log.Warn("media upload failed", "owner", owner, "kind", string(kind), "err", err)
		return "", err
	}
	return url, nil
}

// PostBroadcastMedia uploads data and then appends an image or audio message
func (s *Store) PostBroadcastMedia(ctx context.Context, author string, kind models.MessageKind, data []byte, contentType string) (*models.BroadcastMessage, error) {
	url, err := s.upload(ctx, "messages.PostBroadcastMedia", author, kind, data, contentType)
	if err != nil {
		return nil, err
	}
	return s.PostBroadcast(ctx, author, Draft{Kind: kind, MediaURL: url})
}

// PostPrivateMedia uploads data and then appends an image or audio message
func (s *Store) PostPrivateMedia(ctx context.Context, sender, receiver string, kind models.MessageKind, data []byte, contentType string) (*models.PrivateMessage, error) {
	const op = "messages.PostPrivateMedia"
	if receiver == "" || receiver == sender {
		return nil, apperr.Validation(op, "invalid receiver")
	}
	url, err := s.upload(ctx, op, sender, kind, data, contentType)
	if err != nil {
		return nil, err
	}
	return s.PostPrivate(ctx, sender, receiver, Draft{Kind: kind, MediaURL: url})
}

// ListBroadcast returns a window of the room-wide stream
func (s *Store) ListBroadcast(ctx context.Context, q store.Query) ([]models.BroadcastMessage, error) {
	msgs, err := s.repo.ListBroadcast(ctx, q)
	return msgs, apperr.Wrap("messages.ListBroadcast", err)
}

// ListPrivate returns a window of conv. The requester must be a participant.
func (s *Store) ListPrivate(ctx context.Context, requester string, conv models.Conversation, q store.Query) ([]models.PrivateMessage, error) {
	const op = "messages.ListPrivate"
	if conv.IsBroadcast() || !conv.Includes(requester) {
		return nil, apperr.Authorization(op, "not a participant of this conversation")
	}
	msgs, err := s.repo.ListPrivate(ctx, conv, q)
	return msgs, apperr.Wrap(op, err)
}

// DeletePrivate removes a message authored by requester and publishes a tombstone
func (s *Store) DeletePrivate(ctx context.Context, id, requester string) error {
	const op = "messages.DeletePrivate"

	m, err := s.repo.DeletePrivate(ctx, id, requester)
	if err != nil {
		return apperr.Wrap(op, err)
	}

	conv := m.Conversation()
	s.pub.Publish(ctx, bus.ConversationTopic(conv), bus.Event{
		Type:      bus.EventDelete,
		Tombstone: true,
		Payload: models.Tombstone{
			ID:           m.ID,
			Conversation: conv,
			DeletedBy:    requester,
			DeletedAt:    time.Now(),
			Tombstone:    true,
		},
	})
	for _, o := range s.observers {
		o.OnPrivateDelete(ctx, *m)
	}
	return nil
}
