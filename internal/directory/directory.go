package directory

import (
	"context"
	"log/slog"
	"sort"
	"time"

	"obrolan/server/internal/apperr"
	"obrolan/server/internal/identity"
	"obrolan/server/internal/models"
	"obrolan/server/internal/store"

	"golang.org/x/sync/errgroup"
)

// Conversation is one private thread from the requesting user's point of view
type Conversation struct {
	Counterpart  models.Profile `json:"counterpart"`
	LastActivity time.Time      `json:"lastActivity"`
	UnreadCount  int            `json:"unreadCount"`
}

// Listing is a user's conversation directory
type Listing struct {
	Conversations []Conversation   `json:"conversations"`
	Available     []models.Profile `json:"available"`
}

// Directory derives conversation lists on demand. It keeps no index of its own.
type Directory struct {
	repo  store.MessageRepository
	users identity.Provider
	log   *slog.Logger
}

func New(repo store.MessageRepository, users identity.Provider, logger *slog.Logger) *Directory {
	if logger == nil {
		logger = slog.Default()
	}
	return &Directory{repo: repo, users: users, log: logger}
}

// ListConversations returns threads with activity, newest first (ties by
// counterpart id), followed by every other known user as an available contact.
func (d *Directory) ListConversations(ctx context.Context, user string) (*Listing, error) {
	const op = "directory.ListConversations"
	if user == "" {
		return nil, apperr.Authorization(op, "user is required")
	}

	var (
		summaries []store.Summary
		everyone  []models.Profile
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		summaries, err = d.repo.PrivateSummaries(gctx, user)
		return err
	})
	g.Go(func() error {
		var err error
		everyone, err = d.users.ListUsers(gctx)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, apperr.Wrap(op, err)
	}

	profiles := make(map[string]models.Profile, len(everyone))
	for _, p := range everyone {
		profiles[p.ID] = p
	}

	listing := &Listing{
		Conversations: make([]Conversation, 0, len(summaries)),
		Available:     make([]models.Profile, 0),
	}
	active := make(map[string]struct{}, len(summaries))
	for _, s := range summaries {
		p, ok := profiles[s.Counterpart]
		if !ok {
			// counterpart no longer known to identity; keep the thread
			d.log.Debug("conversation with unknown user", "user", user, "counterpart", s.Counterpart)
			p = models.Profile{ID: s.Counterpart, DisplayName: s.Counterpart}
		}
		listing.Conversations = append(listing.Conversations, Conversation{
			Counterpart:  p,
			LastActivity: s.LastActivity,
			UnreadCount:  s.Unread,
		})
		active[s.Counterpart] = struct{}{}
	}
	sort.Slice(listing.Conversations, func(i, j int) bool {
		a, b := listing.Conversations[i], listing.Conversations[j]
		if !a.LastActivity.Equal(b.LastActivity) {
			return a.LastActivity.After(b.LastActivity)
		}
		return a.Counterpart.ID < b.Counterpart.ID
	})

	for _, p := range everyone {
		if p.ID == user {
			continue
		}
		if _, ok := active[p.ID]; ok {
			continue
		}
		listing.Available = append(listing.Available, p)
	}
	return listing, nil
}
