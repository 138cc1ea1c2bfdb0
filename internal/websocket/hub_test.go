package websocket

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"obrolan/server/internal/bus"
	"obrolan/server/internal/models"
)

type recordingViewer struct {
	mu     sync.Mutex
	active map[string]int
}

func (v *recordingViewer) ViewerActive(_ context.Context, user string, conv models.Conversation) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.active[user+"|"+conv.Key()]++
	return nil
}

func (v *recordingViewer) ViewerInactive(user string, conv models.Conversation) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.active[user+"|"+conv.Key()]--
}

func (v *recordingViewer) count(user string, conv models.Conversation) int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.active[user+"|"+conv.Key()]
}

func startHub(t *testing.T, buffer int) (*Hub, *bus.Bus, *recordingViewer) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	b := bus.New(buffer, nil)
	v := &recordingViewer{active: make(map[string]int)}
	h := NewHub(ctx, b, v, nil)
	go h.Run()
	return h, b, v
}

func connect(h *Hub, user string) *Client {
	c := NewClient(user, nil, h)
	h.Join(c)
	return c
}

func nextFrame(t *testing.T, c *Client) WSMessage {
	t.Helper()
	select {
	case data := <-c.Send:
		var raw struct {
			Type    EventType       `json:"type"`
			Payload json.RawMessage `json:"payload"`
		}
		if err := json.Unmarshal(data, &raw); err != nil {
			t.Fatal(err)
		}
		return WSMessage{Type: raw.Type, Payload: raw.Payload}
	case <-time.After(time.Second):
		t.Fatal("no frame received")
		return WSMessage{}
	}
}

// waitSubscribers blocks until topic has n subscribers; registration is asynchronous
func waitSubscribers(t *testing.T, b *bus.Bus, topic bus.Topic, n int) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for b.SubscriberCount(topic) != n {
		if time.Now().After(deadline) {
			t.Fatalf("topic %s has %d subscribers, want %d", topic, b.SubscriberCount(topic), n)
		}
		time.Sleep(time.Millisecond)
	}
}

func TestClientReceivesUserTopic(t *testing.T) {
	h, b, _ := startHub(t, 8)
	c := connect(h, "alice")
	waitSubscribers(t, b, bus.UserTopic("alice"), 1)

	b.Publish(context.Background(), bus.UserTopic("alice"), bus.Event{Type: bus.EventNotification, Payload: "hi"})
	if f := nextFrame(t, c); f.Type != EventChange {
		t.Fatalf("frame = %+v", f)
	}
	if !h.IsUserOnline("alice") || h.GetOnlineCount() != 1 {
		t.Fatal("hub does not track the connection")
	}
}

func TestSubscribeAndViewFrames(t *testing.T) {
	h, b, v := startHub(t, 8)
	c := connect(h, "alice")
	conv := models.Private("alice", "bob")
	topic := bus.ConversationTopic(conv)

	c.handleIncomingMessage(IncomingMessage{Type: EventView, Payload: map[string]interface{}{"conversation": "private", "with": "bob"}})
	c.handleIncomingMessage(IncomingMessage{Type: EventView, Payload: map[string]interface{}{"conversation": "private", "with": "bob"}})
	if b.SubscriberCount(topic) != 1 {
		t.Fatalf("double view created %d subscriptions", b.SubscriberCount(topic))
	}
	if v.count("alice", conv) != 2 {
		t.Fatalf("active views = %d", v.count("alice", conv))
	}

	c.handleIncomingMessage(IncomingMessage{Type: EventLeave, Payload: map[string]interface{}{"conversation": "private", "with": "bob"}})
	if v.count("alice", conv) != 1 {
		t.Fatalf("active views after leave = %d", v.count("alice", conv))
	}

	// disconnect releases the remaining view and the subscription
	h.Unregister <- c
	waitSubscribers(t, b, topic, 0)
	if v.count("alice", conv) != 0 {
		t.Fatalf("views leaked after disconnect: %d", v.count("alice", conv))
	}
}

func TestBadFramesGetErrors(t *testing.T) {
	h, _, _ := startHub(t, 8)
	c := connect(h, "alice")

	for _, payload := range []map[string]interface{}{
		{"conversation": "group"},
		{"conversation": "private"},
		{"conversation": "private", "with": "alice"},
	} {
		c.handleIncomingMessage(IncomingMessage{Type: EventSubscribe, Payload: payload})
		if f := nextFrame(t, c); f.Type != EventError {
			t.Fatalf("payload %v: frame = %+v", payload, f)
		}
	}
	c.handleIncomingMessage(IncomingMessage{Type: "typing", Payload: map[string]interface{}{"conversation": "broadcast"}})
	if f := nextFrame(t, c); f.Type != EventError {
		t.Fatalf("unknown type: frame = %+v", f)
	}
}

func TestSlowClientGetsDroppedFrame(t *testing.T) {
	h, b, _ := startHub(t, 1)
	c := connect(h, "alice")
	topic := bus.ConversationTopic(models.Broadcast())
	c.handleIncomingMessage(IncomingMessage{Type: EventSubscribe, Payload: map[string]interface{}{"conversation": "broadcast"}})

	// nobody drains Send, so the forwarder stalls and the bus buffer overflows
	for i := 0; i < sendBuffer+8 && b.SubscriberCount(topic) > 0; i++ {
		b.Publish(context.Background(), topic, bus.Event{Type: bus.EventInsert, Payload: i})
	}
	waitSubscribers(t, b, topic, 0)

	sawDropped := false
	for i := 0; i < sendBuffer+8 && !sawDropped; i++ {
		sawDropped = nextFrame(t, c).Type == EventDropped
	}
	if !sawDropped {
		t.Fatal("no dropped frame")
	}
}

func TestJoinAfterShutdownDoesNotBlock(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	b := bus.New(8, nil)
	h := NewHub(ctx, b, &recordingViewer{active: make(map[string]int)}, nil)

	stopped := make(chan struct{})
	go func() {
		h.Run()
		close(stopped)
	}()
	if !h.Join(NewClient("alice", nil, h)) {
		t.Fatal("running hub refused a client")
	}
	waitSubscribers(t, b, bus.UserTopic("alice"), 1)

	cancel()
	<-stopped
	// Run closed the remaining client on the way out
	waitSubscribers(t, b, bus.UserTopic("alice"), 0)

	joined := make(chan bool, 1)
	go func() { joined <- h.Join(NewClient("bob", nil, h)) }()
	select {
	case ok := <-joined:
		if ok {
			t.Fatal("stopped hub accepted a client")
		}
	case <-time.After(time.Second):
		t.Fatal("Join blocked after shutdown")
	}
}
