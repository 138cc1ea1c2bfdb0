package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"obrolan/server/internal/apperr"
	"obrolan/server/internal/bus"
	"obrolan/server/internal/identity"
	"obrolan/server/internal/models"
	"obrolan/server/internal/readstate"
	"obrolan/server/internal/store"

	"golang.org/x/sync/errgroup"
)

// fanoutLimit bounds concurrent store work per derived event
const fanoutLimit = 8

// Presence lists users with a live user-topic subscription on this instance
type Presence interface {
	SubscribedUsers() []string
}

// Aggregator derives unread counts and notifications from message traffic.
// Counts are always recomputed from the repository; nothing is cached.
type Aggregator struct {
	repo     store.NotificationRepository
	tracker  *readstate.Tracker
	pub      bus.Publisher
	presence Presence
	users    identity.Provider
	log      *slog.Logger

	mu      sync.Mutex
	viewing map[string]map[string]int // user -> conversation key -> open views
}

func New(repo store.NotificationRepository, tracker *readstate.Tracker, pub bus.Publisher, presence Presence, users identity.Provider, logger *slog.Logger) *Aggregator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Aggregator{
		repo:     repo,
		tracker:  tracker,
		pub:      pub,
		presence: presence,
		users:    users,
		log:      logger,
		viewing:  make(map[string]map[string]int),
	}
}

// ViewerActive records that user has conv open. Opening the broadcast view
// advances the cursor; opening a private thread marks it read.
func (a *Aggregator) ViewerActive(ctx context.Context, user string, conv models.Conversation) error {
	const op = "notify.ViewerActive"
	if user == "" {
		return apperr.Authorization(op, "user is required")
	}
	if !conv.IsBroadcast() && !conv.Includes(user) {
		return apperr.Authorization(op, "not a participant of this conversation")
	}

	a.mu.Lock()
	views := a.viewing[user]
	if views == nil {
		views = make(map[string]int)
		a.viewing[user] = views
	}
	views[conv.Key()]++
	a.mu.Unlock()

	if conv.IsBroadcast() {
		_, err := a.tracker.AdvanceToNow(ctx, user)
		return err
	}
	_, err := a.tracker.MarkPrivateRead(ctx, user, conv.Other(user))
	return err
}

// ViewerInactive releases one view opened by ViewerActive
func (a *Aggregator) ViewerInactive(user string, conv models.Conversation) {
	a.mu.Lock()
	defer a.mu.Unlock()

	views := a.viewing[user]
	if views == nil {
		return
	}
	key := conv.Key()
	if views[key] <= 1 {
		delete(views, key)
	} else {
		views[key]--
	}
	if len(views) == 0 {
		delete(a.viewing, user)
	}
}

// IsViewing reports whether user has conv open anywhere on this instance
func (a *Aggregator) IsViewing(user string, conv models.Conversation) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.viewing[user][conv.Key()] > 0
}

// OnBroadcastInsert keeps active viewers caught up and tells every other
// subscribed user whose cursor predates m about their new count.
func (a *Aggregator) OnBroadcastInsert(ctx context.Context, m models.BroadcastMessage) {
	if a.presence == nil {
		return
	}
	conv := models.Broadcast()

	var g errgroup.Group
	g.SetLimit(fanoutLimit)
	for _, user := range a.presence.SubscribedUsers() {
		user := user
		g.Go(func() error {
			if a.IsViewing(user, conv) {
				_, err := a.tracker.AdvanceCursor(ctx, user, m.CreatedAt)
				return err
			}
			c, err := a.tracker.GetCursor(ctx, user)
			if err != nil {
				return err
			}
			if c.LastReadAt.Before(m.CreatedAt) {
				a.tracker.PublishBroadcastUnread(ctx, user)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		a.log.Warn("broadcast unread fan-out incomplete", "message", m.ID, "err", err)
	}
}

// OnPrivateInsert either marks m read for an active receiver or publishes the
// receiver's new count and records a notification.
func (a *Aggregator) OnPrivateInsert(ctx context.Context, m models.PrivateMessage) {
	if a.IsViewing(m.ReceiverID, m.Conversation()) {
		if _, err := a.tracker.MarkPrivateRead(ctx, m.ReceiverID, m.SenderID); err != nil {
			a.log.Warn("failed to mark active thread read", "receiver", m.ReceiverID, "err", err)
		}
		return
	}

	a.tracker.PublishPrivateUnread(ctx, m.ReceiverID, m.SenderID)

	name := m.SenderID
	if a.users != nil {
		if p, err := a.users.Profile(ctx, m.SenderID); err == nil && p.DisplayName != "" {
			name = p.DisplayName
		}
	}
	_, err := a.CreateNotification(ctx, m.ReceiverID, models.NotificationPrivateMessage,
		fmt.Sprintf("New message from %s", name),
		map[string]string{"senderId": m.SenderID, "messageId": m.ID})
	if err != nil {
		a.log.Warn("failed to create message notification", "receiver", m.ReceiverID, "err", err)
	}
}

// OnPrivateDelete removes the receiver's notification for m and refreshes
// the receiver's count, which drops if m was unread.
func (a *Aggregator) OnPrivateDelete(ctx context.Context, m models.PrivateMessage) {
	n, err := a.repo.DeleteMessageNotifications(ctx, m.ReceiverID, m.ID)
	if err != nil {
		a.log.Warn("failed to remove message notification", "receiver", m.ReceiverID, "message", m.ID, "err", err)
	} else if n > 0 {
		a.publishNotificationCount(ctx, m.ReceiverID)
	}
	if !m.IsRead {
		a.tracker.PublishPrivateUnread(ctx, m.ReceiverID, m.SenderID)
	}
}

// CreateNotification stores a notification and pushes it to the user
func (a *Aggregator) CreateNotification(ctx context.Context, user, typ, message string, metadata any) (*models.Notification, error) {
	const op = "notify.CreateNotification"

	if user == "" {
		return nil, apperr.Validation(op, "user is required")
	}
	if typ == "" {
		return nil, apperr.Validation(op, "type is required")
	}
	message = strings.TrimSpace(message)
	if message == "" {
		return nil, apperr.Validation(op, "message is required")
	}

	n := &models.Notification{UserID: user, Type: typ, Message: message}
	if metadata != nil {
		raw, err := json.Marshal(metadata)
		if err != nil {
			return nil, apperr.Validation(op, "metadata is not serializable: %v", err)
		}
		n.Metadata = raw
	}
	if err := a.repo.CreateNotification(ctx, n); err != nil {
		return nil, apperr.Wrap(op, err)
	}

	a.pub.Publish(ctx, bus.UserTopic(user), bus.Event{
		Type:    bus.EventNotification,
		Payload: *n,
	})
	return n, nil
}

// Alert sends message to every known user. Only operators may issue alerts.
// It returns how many notifications were created.
func (a *Aggregator) Alert(ctx context.Context, issuer string, roles []string, message string) (int, error) {
	const op = "notify.Alert"

	if !models.IsOperator(roles) {
		return 0, apperr.Authorization(op, "only admins and developers can send alerts")
	}
	if strings.TrimSpace(message) == "" {
		return 0, apperr.Validation(op, "message is required")
	}
	if a.users == nil {
		return 0, apperr.Fatal(op, fmt.Errorf("no identity provider configured"))
	}
	users, err := a.users.ListUsers(ctx)
	if err != nil {
		return 0, apperr.Wrap(op, err)
	}

	var (
		g    errgroup.Group
		mu   sync.Mutex
		sent int
	)
	g.SetLimit(fanoutLimit)
	meta := map[string]string{"issuedBy": issuer}
	for _, u := range users {
		u := u
		g.Go(func() error {
			if _, err := a.CreateNotification(ctx, u.ID, models.NotificationAlert, message, meta); err != nil {
				return err
			}
			mu.Lock()
			sent++
			mu.Unlock()
			return nil
		})
	}
	err = g.Wait()

	a.log.Info("alert issued", "issuer", issuer, "recipients", sent, "users", len(users))
	if err != nil {
		return sent, apperr.Wrap(op, err)
	}
	return sent, nil
}

// List returns the user's newest notifications and the unread total
func (a *Aggregator) List(ctx context.Context, user string, limit int) ([]models.Notification, int, error) {
	const op = "notify.List"

	var (
		items  []models.Notification
		unread int
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		items, err = a.repo.ListNotifications(gctx, user, limit)
		return err
	})
	g.Go(func() error {
		var err error
		unread, err = a.repo.CountUnreadNotifications(gctx, user)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, 0, apperr.Wrap(op, err)
	}
	return items, unread, nil
}

// MarkRead flags one of the user's notifications as read and pushes the new
// unread total to the user's other connections.
func (a *Aggregator) MarkRead(ctx context.Context, user, id string) error {
	if err := a.repo.MarkNotificationRead(ctx, user, id); err != nil {
		return apperr.Wrap("notify.MarkRead", err)
	}
	a.publishNotificationCount(ctx, user)
	return nil
}

// MarkAllRead flags every notification of user as read
func (a *Aggregator) MarkAllRead(ctx context.Context, user string) (int64, error) {
	n, err := a.repo.MarkAllNotificationsRead(ctx, user)
	if err != nil {
		return 0, apperr.Wrap("notify.MarkAllRead", err)
	}
	if n > 0 {
		a.publishNotificationCount(ctx, user)
	}
	return n, nil
}

func (a *Aggregator) publishNotificationCount(ctx context.Context, user string) {
	n, err := a.repo.CountUnreadNotifications(ctx, user)
	if err != nil {
		a.log.Warn("failed to recompute notification count", "user", user, "err", err)
		return
	}
	a.pub.Publish(ctx, bus.UserTopic(user), bus.Event{
		Type:    bus.EventNotificationCount,
		Payload: bus.NotificationCountPayload{Unread: n},
	})
}

// Badge collects every unread counter for the navbar
func (a *Aggregator) Badge(ctx context.Context, user string) (models.Badge, error) {
	var b models.Badge

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		b.BroadcastUnread, err = a.tracker.UnreadBroadcastCount(gctx, user)
		return err
	})
	g.Go(func() error {
		var err error
		b.PrivateUnread, err = a.tracker.UnreadPrivateTotal(gctx, user)
		return err
	})
	g.Go(func() error {
		var err error
		b.NotificationsUnread, err = a.repo.CountUnreadNotifications(gctx, user)
		return err
	})
	if err := g.Wait(); err != nil {
		return models.Badge{}, apperr.Wrap("notify.Badge", err)
	}
	return b, nil
}
