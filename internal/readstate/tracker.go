package readstate

import (
	"context"
	"log/slog"
	"time"

	"obrolan/server/internal/apperr"
	"obrolan/server/internal/bus"
	"obrolan/server/internal/models"
	"obrolan/server/internal/store"
)

// Tracker owns the per-user read position: the broadcast cursor and the
// is_read flags of private messages. Counts are always read back from the
// repository after a write completes.
type Tracker struct {
	repo store.Repository
	pub  bus.Publisher
	log  *slog.Logger
}

func New(repo store.Repository, pub bus.Publisher, logger *slog.Logger) *Tracker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Tracker{repo: repo, pub: pub, log: logger}
}

// GetCursor returns the user's broadcast cursor, creating it at the current
// time on first access. New users therefore start with no backlog.
func (t *Tracker) GetCursor(ctx context.Context, user string) (models.ReadCursor, error) {
	const op = "readstate.GetCursor"
	if user == "" {
		return models.ReadCursor{}, apperr.Authorization(op, "user is required")
	}
	at, err := t.repo.GetOrCreateCursor(ctx, user)
	if err != nil {
		return models.ReadCursor{}, apperr.Wrap(op, err)
	}
	return models.ReadCursor{UserID: user, LastReadAt: at}, nil
}

// AdvanceCursor moves the cursor to ts. Earlier or equal timestamps leave it
// unchanged. The refreshed broadcast count is published to the user.
func (t *Tracker) AdvanceCursor(ctx context.Context, user string, ts time.Time) (models.ReadCursor, error) {
	const op = "readstate.AdvanceCursor"
	if user == "" {
		return models.ReadCursor{}, apperr.Authorization(op, "user is required")
	}
	if ts.IsZero() {
		return models.ReadCursor{}, apperr.Validation(op, "timestamp is required")
	}

	before, err := t.repo.GetOrCreateCursor(ctx, user)
	if err != nil {
		return models.ReadCursor{}, apperr.Wrap(op, err)
	}
	at, err := t.repo.AdvanceCursor(ctx, user, ts)
	if err != nil {
		return models.ReadCursor{}, apperr.Wrap(op, err)
	}
	if at.After(before) {
		t.publishBroadcastUnread(ctx, user, at)
	}
	return models.ReadCursor{UserID: user, LastReadAt: at}, nil
}

// AdvanceToNow marks the whole broadcast stream as read. It never lands
// before the newest message, even when the store clock clamped that
// message's timestamp ahead of wall time.
func (t *Tracker) AdvanceToNow(ctx context.Context, user string) (models.ReadCursor, error) {
	const op = "readstate.AdvanceToNow"

	now, err := t.repo.Now(ctx)
	if err != nil {
		return models.ReadCursor{}, apperr.Wrap(op, err)
	}
	latest, err := t.repo.ListBroadcast(ctx, store.Query{Limit: 1})
	if err != nil {
		return models.ReadCursor{}, apperr.Wrap(op, err)
	}
	if len(latest) == 1 && latest[0].CreatedAt.After(now) {
		now = latest[0].CreatedAt
	}
	return t.AdvanceCursor(ctx, user, now)
}

// MarkPrivateRead flags every unread message from sender to receiver as read.
// It is idempotent. When anything changed, the sender gets a read receipt on
// the conversation topic and the receiver gets the new count.
func (t *Tracker) MarkPrivateRead(ctx context.Context, receiver, sender string) (int64, error) {
	const op = "readstate.MarkPrivateRead"
	if receiver == "" {
		return 0, apperr.Authorization(op, "receiver is required")
	}
	if sender == "" || sender == receiver {
		return 0, apperr.Validation(op, "invalid sender")
	}

	n, err := t.repo.MarkPrivateRead(ctx, receiver, sender)
	if err != nil {
		return 0, apperr.Wrap(op, err)
	}
	if n == 0 {
		return 0, nil
	}

	conv := models.Private(receiver, sender)
	t.pub.Publish(ctx, bus.ConversationTopic(conv), bus.Event{
		Type: bus.EventUpdate,
		Payload: models.ReadReceipt{
			ReaderID: receiver,
			SenderID: sender,
			Count:    n,
			ReadAt:   time.Now(),
		},
	})
	t.PublishPrivateUnread(ctx, receiver, sender)

	t.log.Debug("private messages marked read", "receiver", receiver, "sender", sender, "count", n)
	return n, nil
}

// UnreadBroadcastCount counts broadcast messages newer than the user's cursor
func (t *Tracker) UnreadBroadcastCount(ctx context.Context, user string) (int, error) {
	const op = "readstate.UnreadBroadcastCount"
	c, err := t.GetCursor(ctx, user)
	if err != nil {
		return 0, err
	}
	n, err := t.repo.CountBroadcastAfter(ctx, c.LastReadAt)
	if err != nil {
		return 0, apperr.Wrap(op, err)
	}
	return n, nil
}

// UnreadPrivateCount counts unread messages from sender to receiver
func (t *Tracker) UnreadPrivateCount(ctx context.Context, receiver, sender string) (int, error) {
	n, err := t.repo.CountUnreadPrivate(ctx, receiver, sender)
	if err != nil {
		return 0, apperr.Wrap("readstate.UnreadPrivateCount", err)
	}
	return n, nil
}

// UnreadPrivateTotal counts unread private messages across all senders
func (t *Tracker) UnreadPrivateTotal(ctx context.Context, receiver string) (int, error) {
	n, err := t.repo.CountUnreadPrivateTotal(ctx, receiver)
	if err != nil {
		return 0, apperr.Wrap("readstate.UnreadPrivateTotal", err)
	}
	return n, nil
}

// PublishPrivateUnread recomputes the receiver's count for sender and
// publishes it on the receiver's user topic.
func (t *Tracker) PublishPrivateUnread(ctx context.Context, receiver, sender string) {
	n, err := t.UnreadPrivateCount(ctx, receiver, sender)
	if err != nil {
		t.log.Warn("failed to recompute private unread", "receiver", receiver, "sender", sender, "err", err)
		return
	}
	t.pub.Publish(ctx, bus.UserTopic(receiver), bus.Event{
		Type: bus.EventUnread,
		Payload: bus.UnreadPayload{
			Conversation: models.Private(receiver, sender),
			Counterpart:  sender,
			Count:        n,
		},
	})
}

// PublishBroadcastUnread recomputes the user's broadcast count and publishes it
func (t *Tracker) PublishBroadcastUnread(ctx context.Context, user string) {
	c, err := t.GetCursor(ctx, user)
	if err != nil {
		t.log.Warn("failed to read cursor", "user", user, "err", err)
		return
	}
	t.publishBroadcastUnread(ctx, user, c.LastReadAt)
}

func (t *Tracker) publishBroadcastUnread(ctx context.Context, user string, cursor time.Time) {
	n, err := t.repo.CountBroadcastAfter(ctx, cursor)
	if err != nil {
		t.log.Warn("failed to recompute broadcast unread", "user", user, "err", err)
		return
	}
	t.pub.Publish(ctx, bus.UserTopic(user), bus.Event{
		Type: bus.EventUnread,
		Payload: bus.UnreadPayload{
			Conversation: models.Broadcast(),
			Count:        n,
		},
	})
}
