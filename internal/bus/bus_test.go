package bus

import (
	"context"
	"testing"

	"obrolan/server/internal/models"
)

func TestEachSubscriberGetsOwnCopy(t *testing.T) {
	b := New(4, nil)
	topic := ConversationTopic(models.Broadcast())

	s1 := b.Subscribe(topic)
	s2 := b.Subscribe(topic)
	defer s1.Close()
	defer s2.Close()

	if n := b.Deliver(topic, Event{Type: EventInsert, Payload: "m1"}); n != 2 {
		t.Fatalf("delivered to %d subscribers, want 2", n)
	}

	for i, s := range []*Subscription{s1, s2} {
		ev := <-s.C()
		if ev.Type != EventInsert || ev.Payload != "m1" || ev.Topic != topic {
			t.Fatalf("subscriber %d got %+v", i, ev)
		}
		if ev.Timestamp.IsZero() {
			t.Fatalf("timestamp not set")
		}
	}
}

func TestNoReplayForLateSubscriber(t *testing.T) {
	b := New(4, nil)
	topic := ConversationTopic(models.Private("a", "b"))

	b.Publish(context.Background(), topic, Event{Type: EventInsert})

	s := b.Subscribe(topic)
	defer s.Close()

	select {
	case ev := <-s.C():
		t.Fatalf("late subscriber received %+v", ev)
	default:
	}
}

func TestTopicsAreIsolated(t *testing.T) {
	b := New(4, nil)
	ab := b.Subscribe(ConversationTopic(models.Private("a", "b")))
	ac := b.Subscribe(ConversationTopic(models.Private("a", "c")))
	defer ab.Close()
	defer ac.Close()

	b.Deliver(ConversationTopic(models.Private("b", "a")), Event{Type: EventInsert})

	if len(ab.C()) != 1 {
		t.Fatalf("a:b subscriber should have one event")
	}
	if len(ac.C()) != 0 {
		t.Fatalf("a:c subscriber should have none")
	}
}

func TestSlowSubscriberIsDropped(t *testing.T) {
	b := New(2, nil)
	topic := UserTopic("u1")

	slow := b.Subscribe(topic)
	fast := b.Subscribe(topic)
	defer fast.Close()

	for i := 0; i < 3; i++ {
		b.Deliver(topic, Event{Type: EventUnread, Payload: i})
		<-fast.C()
	}

	if !slow.Dropped() {
		t.Fatalf("slow subscriber should be dropped")
	}
	if fast.Dropped() {
		t.Fatalf("fast subscriber should not be dropped")
	}

	// buffered events are still drained, then the channel reports closed
	got := 0
	for range slow.C() {
		got++
	}
	if got != 2 {
		t.Fatalf("drained %d events, want 2", got)
	}
	if b.SubscriberCount(topic) != 1 {
		t.Fatalf("subscriber count = %d, want 1", b.SubscriberCount(topic))
	}

	// Close after drop is a no-op
	slow.Close()
}

func TestCloseRemovesTopic(t *testing.T) {
	b := New(1, nil)
	s := b.Subscribe(UserTopic("u1"))
	s.Close()
	s.Close()

	if got := b.ActiveTopics(""); len(got) != 0 {
		t.Fatalf("expected no active topics, got %v", got)
	}
	if n := b.Deliver(UserTopic("u1"), Event{}); n != 0 {
		t.Fatalf("delivered to %d closed subscribers", n)
	}
}

func TestSubscribedUsers(t *testing.T) {
	b := New(1, nil)
	b.Subscribe(UserTopic("bob"))
	b.Subscribe(UserTopic("alice"))
	b.Subscribe(UserTopic("alice"))
	b.Subscribe(ConversationTopic(models.Broadcast()))

	users := b.SubscribedUsers()
	if len(users) != 2 || users[0] != "alice" || users[1] != "bob" {
		t.Fatalf("SubscribedUsers = %v", users)
	}
}

func TestTopicParsing(t *testing.T) {
	if id, ok := UserTopic("u9").UserID(); !ok || id != "u9" {
		t.Fatalf("UserID = %q, %v", id, ok)
	}
	if _, ok := Topic("user:").UserID(); ok {
		t.Fatalf("empty user topic should not parse")
	}
	c, ok := ConversationTopic(models.Private("z", "y")).Conversation()
	if !ok || c != models.Private("y", "z") {
		t.Fatalf("Conversation = %+v, %v", c, ok)
	}
	if ConversationTopic(models.Private("x:y", "z")) == ConversationTopic(models.Private("x", "y:z")) {
		t.Fatalf("distinct pairs share a topic")
	}
	if c, ok := ConversationTopic(models.Private("x:y", "z")).Conversation(); !ok || c != models.Private("x:y", "z") {
		t.Fatalf("escaped topic = %+v, %v", c, ok)
	}
	if _, ok := UserTopic("u").Conversation(); ok {
		t.Fatalf("user topic is not a conversation")
	}
}
