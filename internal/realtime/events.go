// internal/realtime/events.go
package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/27willir/Botifex-sub002/internal/backend"
)

// Logger interface for logging operations
type Logger interface {
	Info(msg string, args ...interface{})
	Warn(msg string, args ...interface{})
	Error(msg string, args ...interface{})
}

// EventKind is the closed set of event variants carried by the bus.
// Consumers switch on it exhaustively; unknown kinds are dropped with a log.
type EventKind string

const (
	EventPresenceDelta EventKind = "presence_delta"
	EventTypingUpdate  EventKind = "typing_update"
	EventMessage       EventKind = "message"
)

// Event est l'enveloppe transportée par le bus: elle traverse les workers
// via le pub/sub du backend.
type Event struct {
	Kind         EventKind       `json:"kind"`
	Channel      string          `json:"channel"`
	Payload      json.RawMessage `json:"payload"`
	OriginWorker string          `json:"origin_worker"`
	Timestamp    time.Time       `json:"timestamp"`
}

// PresenceDelta is the payload of EventPresenceDelta.
type PresenceDelta struct {
	UserID string `json:"user_id"`
	Action string `json:"action"` // "joined" or "left"
}

const (
	PresenceJoined = "joined"
	PresenceLeft   = "left"
)

// TypingUpdate is the payload of EventTypingUpdate.
type TypingUpdate struct {
	UserIDs []string `json:"user_ids"`
}

// MessagePayload is the payload of EventMessage. Content semantics belong to
// the messaging pipeline; the core only fans the envelope out.
type MessagePayload struct {
	UserID string          `json:"user_id"`
	Body   json.RawMessage `json:"body"`
}

// Bus fans events out to every subscribed gateway, on any worker sharing the
// backend. Delivery is at-least-once; consumers must be idempotent.
type Bus struct {
	backend  backend.Backend
	workerID string
	logger   Logger
}

func NewBus(b backend.Backend, workerID string, logger Logger) *Bus {
	return &Bus{
		backend:  b,
		workerID: workerID,
		logger:   logger,
	}
}

func eventTopic(channelID string) string {
	return fmt.Sprintf("rt:events:%s", channelID)
}

// Publish wraps payload in an envelope and hands it to the backend pub/sub.
func (b *Bus) Publish(ctx context.Context, channelID string, kind EventKind, payload interface{}) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal %s payload: %w", kind, err)
	}

	event := Event{
		Kind:         kind,
		Channel:      channelID,
		Payload:      raw,
		OriginWorker: b.workerID,
		Timestamp:    time.Now(),
	}

	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	return b.backend.Publish(ctx, eventTopic(channelID), data)
}

// Subscribe delivers every event published on channelID to handler and
// returns an unsubscribe function.
func (b *Bus) Subscribe(ctx context.Context, channelID string, handler func(Event)) (func(), error) {
	return b.backend.Subscribe(ctx, eventTopic(channelID), func(payload []byte) {
		var event Event
		if err := json.Unmarshal(payload, &event); err != nil {
			b.logger.Warn("Dropping malformed event", "channel", channelID, "error", err)
			return
		}

		switch event.Kind {
		case EventPresenceDelta, EventTypingUpdate, EventMessage:
			handler(event)
		default:
			b.logger.Warn("Dropping event of unknown kind", "channel", channelID, "kind", event.Kind)
		}
	})
}
