package bus

import (
	"encoding/json"
	"testing"
	"time"

	"obrolan/server/internal/models"
)

func TestEnvelopeRoundTripKeepsPayloadBytes(t *testing.T) {
	at := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	ev := Event{
		Type:      EventDelete,
		Payload:   models.Tombstone{ID: "m1", DeletedBy: "a", Tombstone: true},
		Tombstone: true,
		Timestamp: at,
	}

	data, err := encodeEnvelope(ev)
	if err != nil {
		t.Fatal(err)
	}

	r := &RedisRelay{prefix: DefaultChannelPrefix}
	topic := ConversationTopic(models.Private("a", "b"))
	gotTopic, got, err := r.decode(r.channel(topic), string(data))
	if err != nil {
		t.Fatal(err)
	}
	if gotTopic != topic || got.Topic != topic {
		t.Fatalf("topic = %q, want %q", gotTopic, topic)
	}
	if got.Type != EventDelete || !got.Tombstone || !got.Timestamp.Equal(at) {
		t.Fatalf("unexpected event %+v", got)
	}

	var ts models.Tombstone
	if err := json.Unmarshal(got.Payload.(json.RawMessage), &ts); err != nil {
		t.Fatal(err)
	}
	if ts.ID != "m1" || !ts.Tombstone {
		t.Fatalf("payload = %+v", ts)
	}
}

func TestDecodeRejectsForeignChannel(t *testing.T) {
	r := &RedisRelay{prefix: DefaultChannelPrefix}
	if _, _, err := r.decode("other:user:x", `{"type":"unread"}`); err == nil {
		t.Fatalf("expected error for foreign channel")
	}
	if _, _, err := r.decode(DefaultChannelPrefix+"user:x", `{"payload":1}`); err == nil {
		t.Fatalf("expected error for missing type")
	}
	if _, _, err := r.decode(DefaultChannelPrefix+"user:x", `not json`); err == nil {
		t.Fatalf("expected error for bad json")
	}
}
