package messages

import (
	"context"
	"errors"
	"sync"
	"testing"

	"obrolan/server/internal/apperr"
	"obrolan/server/internal/bus"
	"obrolan/server/internal/models"
	"obrolan/server/internal/store"
)

type fakeResolver struct {
	err   error
	calls int
}

func (f *fakeResolver) Upload(_ context.Context, owner string, kind models.MessageKind, _ []byte, _ string) (string, error) {
	f.calls++
	if f.err != nil {
		return "", f.err
	}
	return "https://media.test/" + owner + "/" + string(kind), nil
}

type countingObserver struct {
	mu                          sync.Mutex
	broadcasts, privates, dels int
}

func (o *countingObserver) OnBroadcastInsert(context.Context, models.BroadcastMessage) {
	o.mu.Lock()
	o.broadcasts++
	o.mu.Unlock()
}

func (o *countingObserver) OnPrivateInsert(context.Context, models.PrivateMessage) {
	o.mu.Lock()
	o.privates++
	o.mu.Unlock()
}

func (o *countingObserver) OnPrivateDelete(context.Context, models.PrivateMessage) {
	o.mu.Lock()
	o.dels++
	o.mu.Unlock()
}

func newTestStore(t *testing.T, resolver *fakeResolver) (*Store, *bus.Bus, *store.Memory) {
	t.Helper()
	b := bus.New(16, nil)
	repo := store.NewMemory(nil)
	if resolver == nil {
		return New(repo, b, nil, nil), b, repo
	}
	return New(repo, b, resolver, nil), b, repo
}

func drain(s *bus.Subscription) []bus.Event {
	var out []bus.Event
	for {
		select {
		case ev := <-s.C():
			out = append(out, ev)
		default:
			return out
		}
	}
}

func TestPostBroadcastPublishesOnce(t *testing.T) {
	s, b, _ := newTestStore(t, nil)
	obs := &countingObserver{}
	s.Observe(obs)
	sub := b.Subscribe(bus.ConversationTopic(models.Broadcast()))
	defer sub.Close()

	m, err := s.PostBroadcast(context.Background(), "alice", Draft{Content: "  hello  "})
	if err != nil {
		t.Fatal(err)
	}
	if m.Content != "hello" || m.Kind != models.KindText || m.MediaURL != nil {
		t.Fatalf("unexpected message %+v", m)
	}

	events := drain(sub)
	if len(events) != 1 || events[0].Type != bus.EventInsert {
		t.Fatalf("events = %+v", events)
	}
	if got := events[0].Payload.(models.BroadcastMessage); got.ID != m.ID {
		t.Fatalf("payload id %s, want %s", got.ID, m.ID)
	}
	if obs.broadcasts != 1 {
		t.Fatalf("observer called %d times", obs.broadcasts)
	}
}

func TestKindMediaInvariant(t *testing.T) {
	s, _, repo := newTestStore(t, nil)
	ctx := context.Background()

	rejected := []Draft{
		{Kind: models.KindText, Content: ""},
		{Kind: models.KindText, Content: "   "},
		{Kind: models.KindText, Content: "hi", MediaURL: "https://x/y.png"},
		{Kind: models.KindImage, Content: "caption"},
		{Kind: models.KindAudio},
		{Kind: "file", Content: "x", MediaURL: "https://x"},
	}
	for _, d := range rejected {
		if _, err := s.PostBroadcast(ctx, "alice", d); !errors.Is(err, apperr.ErrValidation) {
			t.Fatalf("draft %+v: expected validation error, got %v", d, err)
		}
		if _, err := s.PostPrivate(ctx, "alice", "bob", d); !errors.Is(err, apperr.ErrValidation) {
			t.Fatalf("private draft %+v: expected validation error, got %v", d, err)
		}
	}

	img, err := s.PostBroadcast(ctx, "alice", Draft{Kind: models.KindImage, Content: "ignored", MediaURL: "https://x/y.png"})
	if err != nil {
		t.Fatal(err)
	}
	if img.Content != "" || img.MediaURL == nil {
		t.Fatalf("media message stored with content %q", img.Content)
	}

	pm, err := s.PostPrivate(ctx, "alice", "bob", Draft{Kind: models.KindAudio, MediaURL: "https://x/a.webm"})
	if err != nil {
		t.Fatal(err)
	}
	if pm.Content != nil || pm.MediaURL == nil || pm.IsRead {
		t.Fatalf("unexpected private media message %+v", pm)
	}

	all, _ := repo.ListBroadcast(ctx, store.Query{})
	for _, m := range all {
		if (m.Kind == models.KindText) != (m.MediaURL == nil) {
			t.Fatalf("invariant broken for %+v", m)
		}
	}
	if len(all) != 1 {
		t.Fatalf("rejected drafts were stored: %d messages", len(all))
	}
}

func TestPostPrivateRejectsSelf(t *testing.T) {
	s, _, _ := newTestStore(t, nil)
	_, err := s.PostPrivate(context.Background(), "alice", "alice", Draft{Content: "me"})
	if !errors.Is(err, apperr.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestUploadFailureCreatesNothing(t *testing.T) {
	resolver := &fakeResolver{err: apperr.WithCode(apperr.Transient("media.Upload", nil), apperr.CodeStoreUnavailable)}
	s, b, repo := newTestStore(t, resolver)
	ctx := context.Background()

	bsub := b.Subscribe(bus.ConversationTopic(models.Broadcast()))
	psub := b.Subscribe(bus.ConversationTopic(models.Private("alice", "bob")))
	defer bsub.Close()
	defer psub.Close()

	big := make([]byte, 10*1024*1024+1)
	if _, err := s.PostBroadcastMedia(ctx, "alice", models.KindImage, big, "image/png"); !errors.Is(err, apperr.ErrTooLarge) {
		t.Fatalf("expected too large, got %v", err)
	}
	if _, err := s.PostPrivateMedia(ctx, "alice", "bob", models.KindImage, big, "image/png"); !errors.Is(err, apperr.ErrTooLarge) {
		t.Fatalf("expected too large, got %v", err)
	}
	if resolver.calls != 0 {
		t.Fatalf("oversized upload reached the resolver")
	}

	if _, err := s.PostPrivateMedia(ctx, "alice", "bob", models.KindAudio, []byte("ok"), "audio/webm"); !errors.Is(err, apperr.ErrStoreUnavailable) {
		t.Fatalf("expected store unavailable, got %v", err)
	}

	if got, _ := repo.ListBroadcast(ctx, store.Query{}); len(got) != 0 {
		t.Fatalf("broadcast message stored after failed upload")
	}
	if p, _ := repo.ListPrivate(ctx, models.Private("alice", "bob"), store.Query{}); len(p) != 0 {
		t.Fatalf("private message stored after failed upload")
	}
	if n := len(drain(bsub)) + len(drain(psub)); n != 0 {
		t.Fatalf("%d events published after failed upload", n)
	}
}

func TestPostPrivateMediaUsesResolvedURL(t *testing.T) {
	resolver := &fakeResolver{}
	s, _, _ := newTestStore(t, resolver)

	m, err := s.PostPrivateMedia(context.Background(), "alice", "bob", models.KindImage, []byte("img"), "image/jpeg")
	if err != nil {
		t.Fatal(err)
	}
	if m.MediaURL == nil || *m.MediaURL != "https://media.test/alice/image" {
		t.Fatalf("media url = %v", m.MediaURL)
	}
}

func TestDeletePrivate(t *testing.T) {
	s, b, _ := newTestStore(t, nil)
	obs := &countingObserver{}
	s.Observe(obs)
	ctx := context.Background()
	conv := models.Private("alice", "bob")

	m, _ := s.PostPrivate(ctx, "alice", "bob", Draft{Content: "oops"})
	sub := b.Subscribe(bus.ConversationTopic(conv))
	defer sub.Close()

	before, _ := s.ListPrivate(ctx, "bob", conv, store.Query{})
	if err := s.DeletePrivate(ctx, m.ID, "bob"); !errors.Is(err, apperr.ErrAuthorization) {
		t.Fatalf("expected authorization error, got %v", err)
	}
	after, _ := s.ListPrivate(ctx, "bob", conv, store.Query{})
	if len(before) != 1 || len(after) != 1 || after[0].ID != before[0].ID {
		t.Fatalf("rejected delete changed the store")
	}
	if n := len(drain(sub)); n != 0 {
		t.Fatalf("rejected delete published %d events", n)
	}

	if err := s.DeletePrivate(ctx, m.ID, "alice"); err != nil {
		t.Fatal(err)
	}
	events := drain(sub)
	if len(events) != 1 || events[0].Type != bus.EventDelete || !events[0].Tombstone {
		t.Fatalf("events = %+v", events)
	}
	ts := events[0].Payload.(models.Tombstone)
	if ts.ID != m.ID || ts.Conversation != conv {
		t.Fatalf("tombstone = %+v", ts)
	}
	if obs.dels != 1 {
		t.Fatalf("delete observer called %d times", obs.dels)
	}
}

func TestListPrivateRequiresParticipant(t *testing.T) {
	s, _, _ := newTestStore(t, nil)
	ctx := context.Background()
	_, _ = s.PostPrivate(ctx, "alice", "bob", Draft{Content: "hi"})

	if _, err := s.ListPrivate(ctx, "mallory", models.Private("alice", "bob"), store.Query{}); !errors.Is(err, apperr.ErrAuthorization) {
		t.Fatalf("expected authorization error, got %v", err)
	}
	got, err := s.ListPrivate(ctx, "bob", models.Private("alice", "bob"), store.Query{})
	if err != nil || len(got) != 1 {
		t.Fatalf("participant list failed: %v %d", err, len(got))
	}
}
