// Package events records sale lifecycle events and fans them out to the
// delivery queue and in-process notifiers.
package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/noah-isme/pos-terminal/internal/tenant"
)

// Event is one recorded occurrence.
type Event struct {
	ID          string          `json:"id"`
	Topic       string          `json:"topic"`
	TenantID    string          `json:"tenantId,omitempty"`
	AggregateID string          `json:"aggregateId"`
	Payload     json.RawMessage `json:"payload"`
	OccurredAt  time.Time       `json:"occurredAt"`
}

// EventStore defines the persistence operations required by the event bus.
type EventStore interface {
	Append(ctx context.Context, ev Event) error
}

// DeliveryScheduler schedules external deliveries for emitted events.
type DeliveryScheduler interface {
	Schedule(ctx context.Context, ev Event) error
}

// Notifier reacts to emitted events in process.
type Notifier interface {
	Notify(ctx context.Context, ev Event) error
}

// Bus persists domain events and fans them out to downstream handlers.
type Bus struct {
	Store     EventStore
	Scheduler DeliveryScheduler
	Notifiers []Notifier
	Now       func() time.Time
}

// Emit records the event and dispatches it to all configured handlers. The
// returned error joins every downstream failure; the event is still valid
// when only fan-out failed.
func (b *Bus) Emit(ctx context.Context, topic, aggregateID string, payload any) (Event, error) {
	if b == nil || b.Store == nil {
		return Event{}, errors.New("events: store not configured")
	}
	topic = strings.TrimSpace(topic)
	if topic == "" {
		return Event{}, errors.New("events: topic is required")
	}
	if strings.TrimSpace(aggregateID) == "" {
		return Event{}, errors.New("events: aggregate id is required")
	}
	encoded, err := encodePayload(payload)
	if err != nil {
		return Event{}, fmt.Errorf("events: encode payload: %w", err)
	}
	now := time.Now
	if b.Now != nil {
		now = b.Now
	}
	ev := Event{
		ID:          uuid.NewString(),
		Topic:       topic,
		AggregateID: aggregateID,
		Payload:     encoded,
		OccurredAt:  now().UTC(),
	}
	if id, ok := tenant.From(ctx); ok {
		ev.TenantID = id
	}
	if err := b.Store.Append(ctx, ev); err != nil {
		return Event{}, fmt.Errorf("events: persist event: %w", err)
	}
	var joined error
	if b.Scheduler != nil {
		if schedErr := b.Scheduler.Schedule(ctx, ev); schedErr != nil {
			joined = errors.Join(joined, fmt.Errorf("events: schedule deliveries: %w", schedErr))
		}
	}
	for _, notifier := range b.Notifiers {
		if notifier == nil {
			continue
		}
		if notifyErr := notifier.Notify(ctx, ev); notifyErr != nil {
			joined = errors.Join(joined, fmt.Errorf("events: notifier: %w", notifyErr))
		}
	}
	return ev, joined
}

func encodePayload(payload any) ([]byte, error) {
	if payload == nil {
		return []byte("{}"), nil
	}
	switch v := payload.(type) {
	case []byte:
		return rawJSON(v)
	case json.RawMessage:
		return rawJSON(v)
	case string:
		if strings.TrimSpace(v) == "" {
			return []byte("{}"), nil
		}
		return rawJSON([]byte(v))
	default:
		return json.Marshal(v)
	}
}

func rawJSON(v []byte) ([]byte, error) {
	if len(v) == 0 {
		return []byte("{}"), nil
	}
	if !json.Valid(v) {
		return nil, errors.New("payload is not valid json")
	}
	return append([]byte(nil), v...), nil
}
