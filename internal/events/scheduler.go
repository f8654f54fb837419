package events

import (
	"context"
	"encoding/json"

	"github.com/rs/zerolog"

	"github.com/noah-isme/pos-terminal/internal/queue"
)

// TaskKind is the queue kind carrying events to the delivery worker.
const TaskKind = "sale-event"

// Enqueuer is the subset of queue.Enqueuer used for scheduling.
type Enqueuer interface {
	Enqueue(ctx context.Context, t queue.Task) error
}

// QueueScheduler enqueues one delivery task per event.
type QueueScheduler struct {
	Queue       Enqueuer
	MaxAttempts int
}

// Schedule implements DeliveryScheduler.
func (s QueueScheduler) Schedule(ctx context.Context, ev Event) error {
	raw, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	return s.Queue.Enqueue(ctx, queue.Task{
		Kind:           TaskKind,
		Payload:        raw,
		IdempotencyKey: ev.ID,
		MaxAttempts:    s.MaxAttempts,
	})
}

// DecodeTask restores the event carried by a delivery task.
func DecodeTask(t queue.Task) (Event, error) {
	var ev Event
	err := json.Unmarshal(t.Payload, &ev)
	return ev, err
}

// LogNotifier writes every event to the structured log.
type LogNotifier struct {
	Logger zerolog.Logger
}

// Notify implements Notifier.
func (n LogNotifier) Notify(_ context.Context, ev Event) error {
	n.Logger.Info().
		Str("event_id", ev.ID).
		Str("topic", ev.Topic).
		Str("tenant", ev.TenantID).
		Str("aggregate_id", ev.AggregateID).
		Msg("domain_event")
	return nil
}
