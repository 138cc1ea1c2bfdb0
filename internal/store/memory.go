package store

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"time"

	"obrolan/server/internal/apperr"
	"obrolan/server/internal/models"

	"github.com/google/uuid"
)

// Memory is an in-process Repository. Each conversation is a partition with
// its own lock so appends to different conversations never contend.
type Memory struct {
	clock func() time.Time

	mu         sync.RWMutex
	broadcast  *partition
	private    map[models.Conversation]*partition          // conversation -> partition
	index      map[string]models.Conversation              // private message id -> conversation
	userConvs  map[string]map[models.Conversation]struct{} // user -> conversations
	nextSeq    int64
	seqMu      sync.Mutex
	cursorMu   sync.Mutex
	cursors    map[string]time.Time
	notifMu    sync.RWMutex
	notifs     []*models.Notification
	notifsByID map[string]*models.Notification
}

type partition struct {
	mu         sync.Mutex
	broadcasts []models.BroadcastMessage
	privates   []models.PrivateMessage
	lastAt     time.Time
}

// NewMemory creates an empty store. A nil clock uses time.Now.
func NewMemory(clock func() time.Time) *Memory {
	if clock == nil {
		clock = time.Now
	}
	return &Memory{
		clock:      clock,
		broadcast:  &partition{},
		private:    make(map[models.Conversation]*partition),
		index:      make(map[string]models.Conversation),
		userConvs:  make(map[string]map[models.Conversation]struct{}),
		cursors:    make(map[string]time.Time),
		notifsByID: make(map[string]*models.Notification),
	}
}

func (s *Memory) seq() int64 {
	s.seqMu.Lock()
	defer s.seqMu.Unlock()
	s.nextSeq++
	return s.nextSeq
}

// stamp returns a creation time that never goes backwards within p.
// Caller holds p.mu.
func (s *Memory) stamp(p *partition) time.Time {
	at := s.clock()
	if at.Before(p.lastAt) {
		at = p.lastAt
	}
	p.lastAt = at
	return at
}

func (s *Memory) privatePartition(conv models.Conversation, create bool) *partition {
	s.mu.RLock()
	p, ok := s.private[conv]
	s.mu.RUnlock()
	if ok || !create {
		return p
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if p, ok = s.private[conv]; ok {
		return p
	}
	p = &partition{}
	s.private[conv] = p
	for _, u := range []string{conv.A, conv.B} {
		if s.userConvs[u] == nil {
			s.userConvs[u] = make(map[models.Conversation]struct{})
		}
		s.userConvs[u][conv] = struct{}{}
	}
	return p
}

func (s *Memory) AppendBroadcast(ctx context.Context, m *models.BroadcastMessage) error {
	if err := ctx.Err(); err != nil {
		return apperr.Wrap("store.AppendBroadcast", err)
	}
	p := s.broadcast
	p.mu.Lock()
	defer p.mu.Unlock()

	m.ID = uuid.NewString()
	m.CreatedAt = s.stamp(p)
	m.Seq = s.seq()
	p.broadcasts = append(p.broadcasts, cloneBroadcast(*m))
	return nil
}

func (s *Memory) AppendPrivate(ctx context.Context, m *models.PrivateMessage) error {
	if err := ctx.Err(); err != nil {
		return apperr.Wrap("store.AppendPrivate", err)
	}
	conv := m.Conversation()
	p := s.privatePartition(conv, true)

	p.mu.Lock()
	defer p.mu.Unlock()

	m.ID = uuid.NewString()
	m.CreatedAt = s.stamp(p)
	m.Seq = s.seq()
	m.IsRead = false
	p.privates = append(p.privates, clonePrivate(*m))

	s.mu.Lock()
	s.index[m.ID] = conv
	s.mu.Unlock()
	return nil
}

func (s *Memory) ListBroadcast(ctx context.Context, q Query) ([]models.BroadcastMessage, error) {
	if err := ctx.Err(); err != nil {
		return nil, apperr.Wrap("store.ListBroadcast", err)
	}
	p := s.broadcast
	p.mu.Lock()
	defer p.mu.Unlock()

	start, err := anchorIndex(len(p.broadcasts), q, func(i int) (string, time.Time) {
		return p.broadcasts[i].ID, p.broadcasts[i].CreatedAt
	})
	if err != nil {
		return nil, err
	}
	out := make([]models.BroadcastMessage, 0)
	for _, m := range window(p.broadcasts, start, q) {
		out = append(out, cloneBroadcast(m))
	}
	return out, nil
}

func (s *Memory) ListPrivate(ctx context.Context, conv models.Conversation, q Query) ([]models.PrivateMessage, error) {
	if err := ctx.Err(); err != nil {
		return nil, apperr.Wrap("store.ListPrivate", err)
	}
	p := s.privatePartition(conv, false)
	if p == nil {
		if q.AfterID != "" {
			return nil, apperr.NotFound("store.ListPrivate", "anchor message %s not found", q.AfterID)
		}
		return []models.PrivateMessage{}, nil
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	start, err := anchorIndex(len(p.privates), q, func(i int) (string, time.Time) {
		return p.privates[i].ID, p.privates[i].CreatedAt
	})
	if err != nil {
		return nil, err
	}
	out := make([]models.PrivateMessage, 0)
	for _, m := range window(p.privates, start, q) {
		out = append(out, clonePrivate(m))
	}
	return out, nil
}

func (s *Memory) GetPrivate(ctx context.Context, id string) (*models.PrivateMessage, error) {
	if err := ctx.Err(); err != nil {
		return nil, apperr.Wrap("store.GetPrivate", err)
	}
	p, i := s.locatePrivate(id)
	if p == nil {
		return nil, apperr.NotFound("store.GetPrivate", "message %s not found", id)
	}
	defer p.mu.Unlock()
	m := clonePrivate(p.privates[i])
	return &m, nil
}

// locatePrivate returns the partition holding id locked, and the index
func (s *Memory) locatePrivate(id string) (*partition, int) {
	s.mu.RLock()
	conv, ok := s.index[id]
	p := s.private[conv]
	s.mu.RUnlock()
	if !ok || p == nil {
		return nil, -1
	}
	p.mu.Lock()
	for i := range p.privates {
		if p.privates[i].ID == id {
			return p, i
		}
	}
	p.mu.Unlock()
	return nil, -1
}

func (s *Memory) DeletePrivate(ctx context.Context, id, requester string) (*models.PrivateMessage, error) {
	if err := ctx.Err(); err != nil {
		return nil, apperr.Wrap("store.DeletePrivate", err)
	}
	p, i := s.locatePrivate(id)
	if p == nil {
		return nil, apperr.NotFound("store.DeletePrivate", "message %s not found", id)
	}
	defer p.mu.Unlock()

	m := p.privates[i]
	if m.SenderID != requester {
		return nil, apperr.Authorization("store.DeletePrivate", "only the sender may delete message %s", id)
	}
	p.privates = append(p.privates[:i], p.privates[i+1:]...)

	s.mu.Lock()
	delete(s.index, id)
	s.mu.Unlock()

	return &m, nil
}

func (s *Memory) CountBroadcastAfter(ctx context.Context, t time.Time) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, apperr.Wrap("store.CountBroadcastAfter", err)
	}
	p := s.broadcast
	p.mu.Lock()
	defer p.mu.Unlock()

	// creation times are non-decreasing within a partition
	i := sort.Search(len(p.broadcasts), func(i int) bool {
		return p.broadcasts[i].CreatedAt.After(t)
	})
	return len(p.broadcasts) - i, nil
}

func (s *Memory) CountUnreadPrivate(ctx context.Context, receiver, sender string) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, apperr.Wrap("store.CountUnreadPrivate", err)
	}
	p := s.privatePartition(models.Private(receiver, sender), false)
	if p == nil {
		return 0, nil
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return countUnread(p.privates, receiver), nil
}

func (s *Memory) CountUnreadPrivateTotal(ctx context.Context, receiver string) (int, error) {
	summaries, err := s.PrivateSummaries(ctx, receiver)
	if err != nil {
		return 0, err
	}
	total := 0
	for _, sm := range summaries {
		total += sm.Unread
	}
	return total, nil
}

func countUnread(msgs []models.PrivateMessage, receiver string) int {
	n := 0
	for i := range msgs {
		if msgs[i].ReceiverID == receiver && !msgs[i].IsRead {
			n++
		}
	}
	return n
}

func (s *Memory) MarkPrivateRead(ctx context.Context, receiver, sender string) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, apperr.Wrap("store.MarkPrivateRead", err)
	}
	p := s.privatePartition(models.Private(receiver, sender), false)
	if p == nil {
		return 0, nil
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	var n int64
	for i := range p.privates {
		m := &p.privates[i]
		if m.ReceiverID == receiver && m.SenderID == sender && !m.IsRead {
			m.IsRead = true
			n++
		}
	}
	return n, nil
}

func (s *Memory) PrivateSummaries(ctx context.Context, user string) ([]Summary, error) {
	if err := ctx.Err(); err != nil {
		return nil, apperr.Wrap("store.PrivateSummaries", err)
	}
	s.mu.RLock()
	convs := make([]models.Conversation, 0, len(s.userConvs[user]))
	for c := range s.userConvs[user] {
		convs = append(convs, c)
	}
	parts := make([]*partition, len(convs))
	for i, c := range convs {
		parts[i] = s.private[c]
	}
	s.mu.RUnlock()

	out := make([]Summary, 0, len(convs))
	for i, p := range parts {
		p.mu.Lock()
		if len(p.privates) == 0 {
			p.mu.Unlock()
			continue
		}
		last := p.privates[len(p.privates)-1]
		unread := countUnread(p.privates, user)
		p.mu.Unlock()

		out = append(out, Summary{
			Counterpart:  convs[i].Other(user),
			LastActivity: last.CreatedAt,
			Unread:       unread,
		})
	}
	return out, nil
}

func (s *Memory) Now(context.Context) (time.Time, error) {
	return s.clock(), nil
}

func (s *Memory) GetOrCreateCursor(ctx context.Context, user string) (time.Time, error) {
	if err := ctx.Err(); err != nil {
		return time.Time{}, apperr.Wrap("store.GetOrCreateCursor", err)
	}
	s.cursorMu.Lock()
	defer s.cursorMu.Unlock()

	if at, ok := s.cursors[user]; ok {
		return at, nil
	}
	at := s.clock()
	s.cursors[user] = at
	return at, nil
}

func (s *Memory) AdvanceCursor(ctx context.Context, user string, ts time.Time) (time.Time, error) {
	if err := ctx.Err(); err != nil {
		return time.Time{}, apperr.Wrap("store.AdvanceCursor", err)
	}
	s.cursorMu.Lock()
	defer s.cursorMu.Unlock()

	cur, ok := s.cursors[user]
	if !ok || ts.After(cur) {
		s.cursors[user] = ts
		return ts, nil
	}
	return cur, nil
}

func (s *Memory) CreateNotification(ctx context.Context, n *models.Notification) error {
	if err := ctx.Err(); err != nil {
		return apperr.Wrap("store.CreateNotification", err)
	}
	s.notifMu.Lock()
	defer s.notifMu.Unlock()

	n.ID = uuid.NewString()
	n.CreatedAt = s.clock()
	n.IsRead = false
	cp := *n
	s.notifs = append(s.notifs, &cp)
	s.notifsByID[cp.ID] = &cp
	return nil
}

func (s *Memory) ListNotifications(ctx context.Context, user string, limit int) ([]models.Notification, error) {
	if err := ctx.Err(); err != nil {
		return nil, apperr.Wrap("store.ListNotifications", err)
	}
	if limit <= 0 {
		limit = DefaultNotificationLimit
	}
	s.notifMu.RLock()
	defer s.notifMu.RUnlock()

	out := make([]models.Notification, 0)
	for i := len(s.notifs) - 1; i >= 0 && len(out) < limit; i-- {
		if s.notifs[i].UserID == user {
			out = append(out, *s.notifs[i])
		}
	}
	return out, nil
}

func (s *Memory) MarkNotificationRead(ctx context.Context, user, id string) error {
	if err := ctx.Err(); err != nil {
		return apperr.Wrap("store.MarkNotificationRead", err)
	}
	s.notifMu.Lock()
	defer s.notifMu.Unlock()

	n, ok := s.notifsByID[id]
	if !ok {
		return apperr.NotFound("store.MarkNotificationRead", "notification %s not found", id)
	}
	if n.UserID != user {
		return apperr.Authorization("store.MarkNotificationRead", "notification %s belongs to another user", id)
	}
	n.IsRead = true
	return nil
}

func (s *Memory) MarkAllNotificationsRead(ctx context.Context, user string) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, apperr.Wrap("store.MarkAllNotificationsRead", err)
	}
	s.notifMu.Lock()
	defer s.notifMu.Unlock()

	var n int64
	for _, nt := range s.notifs {
		if nt.UserID == user && !nt.IsRead {
			nt.IsRead = true
			n++
		}
	}
	return n, nil
}

func (s *Memory) CountUnreadNotifications(ctx context.Context, user string) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, apperr.Wrap("store.CountUnreadNotifications", err)
	}
	s.notifMu.RLock()
	defer s.notifMu.RUnlock()

	n := 0
	for _, nt := range s.notifs {
		if nt.UserID == user && !nt.IsRead {
			n++
		}
	}
	return n, nil
}

func (s *Memory) DeleteMessageNotifications(ctx context.Context, user, messageID string) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, apperr.Wrap("store.DeleteMessageNotifications", err)
	}
	s.notifMu.Lock()
	defer s.notifMu.Unlock()

	var n int64
	kept := s.notifs[:0]
	for _, nt := range s.notifs {
		if nt.UserID == user && nt.Type == models.NotificationPrivateMessage && metadataMessageID(nt.Metadata) == messageID {
			delete(s.notifsByID, nt.ID)
			n++
			continue
		}
		kept = append(kept, nt)
	}
	for i := len(kept); i < len(s.notifs); i++ {
		s.notifs[i] = nil
	}
	s.notifs = kept
	return n, nil
}

func metadataMessageID(raw []byte) string {
	if len(raw) == 0 {
		return ""
	}
	var meta struct {
		MessageID string `json:"messageId"`
	}
	if err := json.Unmarshal(raw, &meta); err != nil {
		return ""
	}
	return meta.MessageID
}

// anchorIndex returns the index of the first element after the query anchor,
// or -1 when the query is not anchored.
func anchorIndex(n int, q Query, at func(int) (string, time.Time)) (int, error) {
	if !q.anchored() {
		return -1, nil
	}
	if q.AfterID != "" {
		for i := 0; i < n; i++ {
			if id, _ := at(i); id == q.AfterID {
				return i + 1, nil
			}
		}
		return 0, apperr.NotFound("store.List", "anchor message %s not found", q.AfterID)
	}
	for i := 0; i < n; i++ {
		if _, created := at(i); created.After(q.Since) {
			return i, nil
		}
	}
	return n, nil
}

func window[T any](items []T, start int, q Query) []T {
	limit := q.NormalizedLimit()
	if start < 0 {
		start = len(items) - limit
		if start < 0 {
			start = 0
		}
	}
	end := start + limit
	if end > len(items) {
		end = len(items)
	}
	return items[start:end]
}

func cloneBroadcast(m models.BroadcastMessage) models.BroadcastMessage {
	if m.MediaURL != nil {
		u := *m.MediaURL
		m.MediaURL = &u
	}
	return m
}

func clonePrivate(m models.PrivateMessage) models.PrivateMessage {
	if m.MediaURL != nil {
		u := *m.MediaURL
		m.MediaURL = &u
	}
	if m.Content != nil {
		c := *m.Content
		m.Content = &c
	}
	return m
}
