package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"obrolan/server/internal/apperr"
	"obrolan/server/internal/models"

	"github.com/google/uuid"
)

// repositoryCases run against every Repository implementation. User ids are
// unique per run so a shared database needs no cleanup between runs.
var repositoryCases = []struct {
	name string
	run  func(t *testing.T, r Repository, id func(string) string)
}{
	{"private order has no gaps", testPrivateOrderNoGaps},
	{"private threads are isolated", testPrivateIsolation},
	{"delete by non owner", testDeleteByNonOwner},
	{"mark private read", testMarkPrivateRead},
	{"cursor is monotonic", testCursorMonotonic},
	{"notifications", testNotificationLifecycle},
}

func runRepositoryCases(t *testing.T, r Repository) {
	for _, tc := range repositoryCases {
		t.Run(tc.name, func(t *testing.T) {
			prefix := uuid.NewString()[:8]
			tc.run(t, r, func(name string) string { return prefix + "-" + name })
		})
	}
}

func TestMemoryRepository(t *testing.T) {
	runRepositoryCases(t, NewMemory(nil))
}

func privateText(from, to, content string) *models.PrivateMessage {
	return &models.PrivateMessage{SenderID: from, ReceiverID: to, Content: text(content), Kind: models.KindText}
}

func testPrivateOrderNoGaps(t *testing.T, r Repository, id func(string) string) {
	ctx := context.Background()
	a, b := id("a"), id("b")

	const n = 20
	ids := make(chan string, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		i := i
		wg.Add(1)
		go func() {
			defer wg.Done()
			from, to := a, b
			if i%2 == 1 {
				from, to = b, a
			}
			m := privateText(from, to, fmt.Sprint(i))
			if err := r.AppendPrivate(ctx, m); err != nil {
				t.Error(err)
				return
			}
			ids <- m.ID
		}()
	}
	wg.Wait()
	close(ids)

	want := make(map[string]bool)
	for id := range ids {
		want[id] = true
	}
	got, err := r.ListPrivate(ctx, models.Private(a, b), Query{})
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != len(want) {
		t.Fatalf("listed %d messages, appended %d", len(got), len(want))
	}
	for i, m := range got {
		if !want[m.ID] {
			t.Fatalf("unexpected or duplicate message %s", m.ID)
		}
		delete(want, m.ID)
		if i > 0 && !models.Before(got[i-1].CreatedAt, got[i-1].Seq, m.CreatedAt, m.Seq) {
			t.Fatalf("not strictly increasing at %d", i)
		}
	}
}

func testPrivateIsolation(t *testing.T, r Repository, id func(string) string) {
	ctx := context.Background()
	x, y, z := id("x"), id("y"), id("z")

	if err := r.AppendPrivate(ctx, privateText(x+":"+y, z, "for z")); err != nil {
		t.Fatal(err)
	}
	if err := r.AppendPrivate(ctx, privateText(x, z, "other pair")); err != nil {
		t.Fatal(err)
	}

	got, err := r.ListPrivate(ctx, models.Private(x, y+":"+z), Query{})
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 0 {
		t.Fatalf("thread sees foreign messages: %+v", got)
	}
	got, _ = r.ListPrivate(ctx, models.Private(z, x), Query{})
	if len(got) != 1 || *got[0].Content != "other pair" {
		t.Fatalf("thread (x, z) = %+v", got)
	}

	sums, err := r.PrivateSummaries(ctx, z)
	if err != nil {
		t.Fatal(err)
	}
	counterparts := map[string]int{}
	for _, s := range sums {
		counterparts[s.Counterpart] = s.Unread
	}
	if len(counterparts) != 2 || counterparts[x+":"+y] != 1 || counterparts[x] != 1 {
		t.Fatalf("summaries for z = %+v", sums)
	}
}

func testDeleteByNonOwner(t *testing.T, r Repository, id func(string) string) {
	ctx := context.Background()
	a, b := id("a"), id("b")
	conv := models.Private(a, b)

	m := privateText(a, b, "secret")
	if err := r.AppendPrivate(ctx, m); err != nil {
		t.Fatal(err)
	}
	before, _ := r.ListPrivate(ctx, conv, Query{})

	if _, err := r.DeletePrivate(ctx, m.ID, b); !errors.Is(err, apperr.ErrAuthorization) {
		t.Fatalf("expected authorization error, got %v", err)
	}
	after, _ := r.ListPrivate(ctx, conv, Query{})
	if len(after) != len(before) || after[0].ID != before[0].ID {
		t.Fatalf("store changed after rejected delete")
	}

	removed, err := r.DeletePrivate(ctx, m.ID, a)
	if err != nil || removed.ID != m.ID {
		t.Fatalf("owner delete failed: %v", err)
	}
	if _, err := r.DeletePrivate(ctx, m.ID, a); apperr.KindOf(err) != apperr.KindNotFound {
		t.Fatalf("second delete should be not found, got %v", err)
	}
}

func testMarkPrivateRead(t *testing.T, r Repository, id func(string) string) {
	ctx := context.Background()
	a, b, c := id("a"), id("b"), id("c")

	for i := 0; i < 3; i++ {
		_ = r.AppendPrivate(ctx, privateText(a, b, "x"))
	}
	_ = r.AppendPrivate(ctx, privateText(c, b, "y"))
	_ = r.AppendPrivate(ctx, privateText(b, a, "z"))

	if n, _ := r.CountUnreadPrivateTotal(ctx, b); n != 4 {
		t.Fatalf("total unread = %d, want 4", n)
	}
	if n, _ := r.MarkPrivateRead(ctx, b, a); n != 3 {
		t.Fatalf("marked %d, want 3", n)
	}
	if n, _ := r.MarkPrivateRead(ctx, b, a); n != 0 {
		t.Fatalf("second mark changed %d rows", n)
	}
	if n, _ := r.CountUnreadPrivate(ctx, b, a); n != 0 {
		t.Fatalf("unread after mark = %d", n)
	}
	if n, _ := r.CountUnreadPrivate(ctx, a, b); n != 1 {
		t.Fatalf("reverse unread = %d, want 1", n)
	}
	if n, _ := r.CountUnreadPrivateTotal(ctx, b); n != 1 {
		t.Fatalf("total unread after mark = %d, want 1", n)
	}
}

func testCursorMonotonic(t *testing.T, r Repository, id func(string) string) {
	ctx := context.Background()
	u := id("u")

	start, err := r.GetOrCreateCursor(ctx, u)
	if err != nil {
		t.Fatal(err)
	}
	if again, _ := r.GetOrCreateCursor(ctx, u); !again.Equal(start) {
		t.Fatalf("existing cursor moved from %v to %v", start, again)
	}

	ahead := start.Add(time.Hour).Truncate(time.Microsecond)
	got, err := r.AdvanceCursor(ctx, u, ahead)
	if err != nil {
		t.Fatal(err)
	}
	if !got.Equal(ahead) {
		t.Fatalf("advance = %v, want %v", got, ahead)
	}
	if got, _ = r.AdvanceCursor(ctx, u, start); !got.Equal(ahead) {
		t.Fatalf("cursor decreased to %v", got)
	}
}

func testNotificationLifecycle(t *testing.T, r Repository, id func(string) string) {
	ctx := context.Background()
	u, v := id("u"), id("v")

	for i := 0; i < 3; i++ {
		if err := r.CreateNotification(ctx, &models.Notification{UserID: u, Type: models.NotificationAlert, Message: fmt.Sprint(i)}); err != nil {
			t.Fatal(err)
		}
	}
	meta, _ := json.Marshal(map[string]string{"senderId": v, "messageId": "m1"})
	dm := &models.Notification{UserID: u, Type: models.NotificationPrivateMessage, Message: "dm", Metadata: meta}
	if err := r.CreateNotification(ctx, dm); err != nil {
		t.Fatal(err)
	}
	other := &models.Notification{UserID: v, Type: models.NotificationAlert, Message: "v"}
	_ = r.CreateNotification(ctx, other)

	list, err := r.ListNotifications(ctx, u, 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(list) != 2 || list[0].ID != dm.ID || list[1].Message != "2" {
		t.Fatalf("list = %+v", list)
	}

	if err := r.MarkNotificationRead(ctx, u, other.ID); !errors.Is(err, apperr.ErrAuthorization) {
		t.Fatalf("expected authorization error, got %v", err)
	}
	if err := r.MarkNotificationRead(ctx, u, uuid.NewString()); apperr.KindOf(err) != apperr.KindNotFound {
		t.Fatalf("expected not found, got %v", err)
	}

	if n, _ := r.DeleteMessageNotifications(ctx, u, "m2"); n != 0 {
		t.Fatalf("deleted %d notifications for unknown message", n)
	}
	if n, _ := r.DeleteMessageNotifications(ctx, u, "m1"); n != 1 {
		t.Fatalf("deleted %d notifications, want 1", n)
	}
	if n, _ := r.CountUnreadNotifications(ctx, u); n != 3 {
		t.Fatalf("unread = %d, want 3", n)
	}
	if n, _ := r.MarkAllNotificationsRead(ctx, u); n != 3 {
		t.Fatalf("mark all = %d, want 3", n)
	}
	if n, _ := r.CountUnreadNotifications(ctx, v); n != 1 {
		t.Fatalf("other user's notifications touched")
	}
}
