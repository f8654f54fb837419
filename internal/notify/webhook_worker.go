package notify

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/noah-isme/pos-terminal/internal/events"
	"github.com/noah-isme/pos-terminal/internal/lock"
	"github.com/noah-isme/pos-terminal/internal/queue"
)

// DeliveryWorker handles sale-event tasks under a per-event lock.
type DeliveryWorker struct {
	Dispatcher *Dispatcher
	Locker     lock.Locker
	LockTTL    time.Duration
}

// Handle decodes the event carried by task and dispatches it.
func (w DeliveryWorker) Handle(ctx context.Context, task queue.Task) error {
	if w.Dispatcher == nil {
		return errors.New("delivery worker: dispatcher not configured")
	}
	ev, err := events.DecodeTask(task)
	if err != nil {
		// a payload that cannot be decoded will never succeed
		w.Dispatcher.Logger.Error().Err(err).Str("key", task.IdempotencyKey).Msg("delivery_task_undecodable")
		return nil
	}
	if ev.ID == "" {
		return nil
	}
	ttl := w.LockTTL
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	key := fmt.Sprintf("lock:event:%s", ev.ID)
	return w.Locker.WithLock(ctx, key, ttl, func(ctx context.Context) error {
		err := w.Dispatcher.Dispatch(ctx, ev)
		if err != nil {
			w.Dispatcher.Logger.Warn().Err(err).Str("event_id", ev.ID).Str("topic", ev.Topic).Int("attempt", task.Attempt).Msg("event_delivery_failed")
		}
		return err
	})
}
