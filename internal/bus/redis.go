package bus

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// DefaultChannelPrefix namespaces relay channels in redis
const DefaultChannelPrefix = "obrolan:"

// RedisRelay publishes events through redis so that every server instance
// delivers them to its own local subscribers.
type RedisRelay struct {
	client *redis.Client
	local  *Bus
	prefix string
	log    *slog.Logger
}

// envelope is the wire form of an Event on a redis channel
type envelope struct {
	Type      EventType       `json:"type"`
	Payload   json.RawMessage `json:"payload"`
	Tombstone bool            `json:"tombstone,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
}

// NewRedisRelay wraps local with cross-instance delivery
func NewRedisRelay(client *redis.Client, local *Bus, logger *slog.Logger) *RedisRelay {
	if logger == nil {
		logger = slog.Default()
	}
	return &RedisRelay{
		client: client,
		local:  local,
		prefix: DefaultChannelPrefix,
		log:    logger,
	}
}

// Publish sends ev to redis. If redis is unreachable the event is delivered
// locally so that same-instance viewers still get their refresh hint.
func (r *RedisRelay) Publish(ctx context.Context, topic Topic, ev Event) {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now()
	}

	data, err := encodeEnvelope(ev)
	if err != nil {
		r.log.Error("failed to encode event", "topic", string(topic), "err", err)
		return
	}

	if err := r.client.Publish(ctx, r.channel(topic), data).Err(); err != nil {
		r.log.Warn("redis publish failed, delivering locally", "topic", string(topic), "err", err)
		r.local.Deliver(topic, ev)
	}
}

// Run relays redis messages to the local bus until ctx is done
func (r *RedisRelay) Run(ctx context.Context) error {
	pubsub := r.client.PSubscribe(ctx, r.prefix+"*")
	defer pubsub.Close()

	// Wait for confirmation that subscription is created
	if _, err := pubsub.Receive(ctx); err != nil {
		return fmt.Errorf("redis subscribe: %w", err)
	}

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			topic, ev, err := r.decode(msg.Channel, msg.Payload)
			if err != nil {
				r.log.Warn("dropping malformed relay message", "channel", msg.Channel, "err", err)
				continue
			}
			r.local.Deliver(topic, ev)
		}
	}
}

func (r *RedisRelay) channel(topic Topic) string {
	return r.prefix + string(topic)
}

func (r *RedisRelay) decode(channel, payload string) (Topic, Event, error) {
	if !strings.HasPrefix(channel, r.prefix) {
		return "", Event{}, fmt.Errorf("unexpected channel %q", channel)
	}
	topic := Topic(strings.TrimPrefix(channel, r.prefix))
	ev, err := decodeEnvelope([]byte(payload))
	if err != nil {
		return "", Event{}, err
	}
	ev.Topic = topic
	return topic, ev, nil
}

func encodeEnvelope(ev Event) ([]byte, error) {
	payload, err := json.Marshal(ev.Payload)
	if err != nil {
		return nil, err
	}
	return json.Marshal(envelope{
		Type:      ev.Type,
		Payload:   payload,
		Tombstone: ev.Tombstone,
		Timestamp: ev.Timestamp,
	})
}

// decodeEnvelope leaves the payload as raw JSON; it is re-encoded verbatim
// when written to websocket clients.
func decodeEnvelope(data []byte) (Event, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return Event{}, err
	}
	if env.Type == "" {
		return Event{}, fmt.Errorf("missing event type")
	}
	return Event{
		Type:      env.Type,
		Payload:   env.Payload,
		Tombstone: env.Tombstone,
		Timestamp: env.Timestamp,
	}, nil
}
