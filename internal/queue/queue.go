package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/noah-isme/pos-terminal/internal/resilience"
)

// Task represents a job to be processed asynchronously.
type Task struct {
	Kind           string
	Payload        []byte
	IdempotencyKey string
	MaxAttempts    int
	Delay          time.Duration
	// Attempt is the delivery number seen by the handler, starting at 1.
	Attempt int
}

// Enqueuer publishes tasks to Redis backed queues.
type Enqueuer struct {
	R           *redis.Client
	Prefix      string
	DedupTTL    time.Duration
	MaxAttempts int
}

// Enqueue inserts the task into the queue. If an idempotency key is supplied the
// task is only enqueued once within the configured deduplication window.
func (e Enqueuer) Enqueue(ctx context.Context, t Task) error {
	if e.R == nil {
		return errors.New("queue: redis client not configured")
	}
	kind := sanitizeKind(t.Kind)
	if kind == "" {
		return errors.New("queue: task kind is required")
	}
	msg := taskMessage{
		Kind:        kind,
		Key:         t.IdempotencyKey,
		Payload:     t.Payload,
		Attempt:     t.Attempt,
		MaxAttempts: t.MaxAttempts,
	}
	if msg.MaxAttempts <= 0 {
		msg.MaxAttempts = e.MaxAttempts
	}
	if msg.MaxAttempts <= 0 {
		msg.MaxAttempts = 10
	}
	msg.AvailableAt = time.Now().Add(t.Delay).UnixNano()

	if msg.Key != "" {
		ttl := e.DedupTTL
		if ttl <= 0 {
			ttl = 24 * time.Hour
		}
		ok, err := e.R.SetNX(ctx, keys{e.Prefix}.dedup(kind, msg.Key), "1", ttl).Result()
		if err != nil {
			return err
		}
		if !ok {
			return nil
		}
	}

	raw, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	return e.R.ZAdd(ctx, keys{e.Prefix}.queue(kind), redis.Z{Score: float64(msg.AvailableAt), Member: raw}).Err()
}

// Depth reports ready and in-flight task counts for kind.
func (e Enqueuer) Depth(ctx context.Context, kind string) (ready, processing int64, err error) {
	if e.R == nil {
		return 0, 0, errors.New("queue: redis client not configured")
	}
	k := keys{e.Prefix}
	if ready, err = e.R.ZCard(ctx, k.queue(kind)).Result(); err != nil && !errors.Is(err, redis.Nil) {
		return 0, 0, err
	}
	if processing, err = e.R.ZCard(ctx, k.processing(kind)).Result(); err != nil && !errors.Is(err, redis.Nil) {
		return 0, 0, err
	}
	QueueDepth.WithLabelValues(queueLabel(kind)).Set(float64(ready))
	return ready, processing, nil
}

func sanitizeKind(kind string) string {
	for i := 0; i < len(kind); i++ {
		c := kind[i]
		if c >= 'a' && c <= 'z' {
			continue
		}
		if c >= '0' && c <= '9' {
			continue
		}
		if c == '-' || c == '_' || c == ':' {
			continue
		}
		return ""
	}
	return kind
}

func queueLabel(kind string) string {
	if kind == "" {
		return "all"
	}
	return kind
}

// Worker consumes tasks for a specific kind.
type Worker struct {
	R                 *redis.Client
	Prefix            string
	Kind              string
	Concurrency       int
	VisibilityTimeout time.Duration
	// SoftDeadline bounds a single handler call. It defaults to the visibility
	// timeout.
	SoftDeadline time.Duration
	Handler      func(context.Context, Task) error
	RetryBase    time.Duration
	RetryJitter  float64
	// Store receives dead tasks. Without it they are pushed to a Redis list.
	Store  Store
	Logger *zerolog.Logger
}

// Run starts processing tasks until the context is cancelled. Active tasks are
// tracked in a processing set to enable redelivery when workers crash.
func (w Worker) Run(ctx context.Context) error {
	if w.R == nil {
		return errors.New("queue: worker redis client not configured")
	}
	if w.Handler == nil {
		return errors.New("queue: worker handler not configured")
	}
	kind := sanitizeKind(w.Kind)
	if kind == "" {
		return errors.New("queue: worker kind is required")
	}
	concurrency := w.Concurrency
	if concurrency <= 0 {
		concurrency = 1
	}
	visibility := w.VisibilityTimeout
	if visibility <= 0 {
		visibility = 30 * time.Second
	}
	soft := w.SoftDeadline
	if soft <= 0 || soft > visibility {
		soft = visibility
	}
	retryBase := w.RetryBase
	if retryBase <= 0 {
		retryBase = 200 * time.Millisecond
	}

	k := keys{w.Prefix}
	queueKey := k.queue(kind)
	processingKey := k.processing(kind)
	sem := make(chan struct{}, concurrency)
	var wg sync.WaitGroup

	requeueTicker := time.NewTicker(time.Second)
	defer requeueTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			wg.Wait()
			return nil
		case <-requeueTicker.C:
			if err := w.requeueExpired(ctx, processingKey, queueKey); err != nil && ctx.Err() == nil {
				return err
			}
		default:
		}

		res, err := w.R.ZPopMin(ctx, queueKey, 1).Result()
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				wg.Wait()
				return nil
			}
			if errors.Is(err, redis.Nil) {
				sleepCtx(ctx, 100*time.Millisecond)
				continue
			}
			return err
		}
		if len(res) == 0 {
			sleepCtx(ctx, 100*time.Millisecond)
			continue
		}
		member, ok := res[0].Member.(string)
		if !ok {
			continue
		}
		msg, err := decodeMessage(member)
		if err != nil {
			w.logger().Warn().Err(err).Str("kind", kind).Msg("queue_message_undecodable")
			continue
		}
		now := time.Now().UnixNano()
		if msg.AvailableAt > now {
			// not due yet, push back and wait
			w.R.ZAdd(ctx, queueKey, redis.Z{Score: float64(msg.AvailableAt), Member: member})
			sleep := time.Duration(msg.AvailableAt - now)
			if sleep > time.Second {
				sleep = time.Second
			}
			sleepCtx(ctx, sleep)
			continue
		}

		msg.Attempt++
		rawBytes, err := json.Marshal(msg)
		if err != nil {
			continue
		}
		raw := string(rawBytes)
		deadline := time.Now().Add(visibility).UnixNano()
		if err := w.R.ZAdd(ctx, processingKey, redis.Z{Score: float64(deadline), Member: raw}).Err(); err != nil {
			if ctx.Err() != nil {
				wg.Wait()
				return nil
			}
			return err
		}

		sem <- struct{}{}
		wg.Add(1)
		go func(raw string, m taskMessage) {
			defer func() { <-sem }()
			defer wg.Done()
			jobCtx, cancel := context.WithTimeout(ctx, soft)
			defer cancel()
			started := time.Now()
			err := w.Handler(jobCtx, Task{
				Kind:           kind,
				Payload:        m.Payload,
				IdempotencyKey: m.Key,
				MaxAttempts:    m.MaxAttempts,
				Attempt:        m.Attempt,
			})
			QueueTaskSeconds.WithLabelValues(kind).Observe(time.Since(started).Seconds())
			bg := context.WithoutCancel(ctx)
			if err != nil {
				w.handleFailure(bg, queueKey, processingKey, raw, m, retryBase, err)
				return
			}
			w.ack(bg, processingKey, raw, m)
		}(raw, msg)
	}
}

func (w Worker) logger() *zerolog.Logger {
	if w.Logger != nil {
		return w.Logger
	}
	nop := zerolog.Nop()
	return &nop
}

func (w Worker) handleFailure(ctx context.Context, queueKey, processingKey, raw string, msg taskMessage, base time.Duration, cause error) {
	k := keys{w.Prefix}
	if raw != "" {
		_ = w.R.ZRem(ctx, processingKey, raw)
	}
	if msg.MaxAttempts > 0 && msg.Attempt >= msg.MaxAttempts {
		QueueProcessedTotal.WithLabelValues(msg.Kind, "dead").Inc()
		w.logger().Error().Err(cause).Str("kind", msg.Kind).Str("key", msg.Key).Int("attempt", msg.Attempt).Msg("queue_task_dead")
		rawBytes, err := json.Marshal(msg)
		if err != nil {
			return
		}
		if w.Store != nil {
			lastErr := cause.Error()
			if _, err := w.Store.InsertQueueDlq(ctx, DLQEntry{
				Kind:           msg.Kind,
				IdempotencyKey: msg.Key,
				Payload:        rawBytes,
				Attempts:       msg.Attempt,
				LastError:      &lastErr,
				CreatedAt:      time.Now(),
			}); err != nil {
				w.logger().Error().Err(err).Str("kind", msg.Kind).Msg("queue_dlq_insert_failed")
				_ = w.R.LPush(ctx, k.dlq(msg.Kind), rawBytes).Err()
			}
		} else {
			_ = w.R.LPush(ctx, k.dlq(msg.Kind), rawBytes).Err()
		}
		if msg.Key != "" {
			_ = w.R.Del(ctx, k.dedup(msg.Kind, msg.Key)).Err()
		}
		return
	}
	QueueProcessedTotal.WithLabelValues(msg.Kind, "retry").Inc()
	delay := resilience.Backoff(base, msg.Attempt, w.RetryJitter)
	w.logger().Warn().Err(cause).Str("kind", msg.Kind).Int("attempt", msg.Attempt).Dur("retry_in", delay).Msg("queue_task_retry")
	msg.AvailableAt = time.Now().Add(delay).UnixNano()
	rawBytes, err := json.Marshal(msg)
	if err != nil {
		return
	}
	_ = w.R.ZAdd(ctx, queueKey, redis.Z{Score: float64(msg.AvailableAt), Member: string(rawBytes)}).Err()
}

func (w Worker) ack(ctx context.Context, processingKey, raw string, msg taskMessage) {
	QueueProcessedTotal.WithLabelValues(msg.Kind, "success").Inc()
	if raw != "" {
		_ = w.R.ZRem(ctx, processingKey, raw)
	}
	if msg.Key != "" {
		_ = w.R.Del(ctx, keys{w.Prefix}.dedup(msg.Kind, msg.Key)).Err()
	}
}

func (w Worker) requeueExpired(ctx context.Context, processingKey, queueKey string) error {
	now := float64(time.Now().UnixNano())
	due, err := w.R.ZRangeByScore(ctx, processingKey, &redis.ZRangeBy{Min: "-inf", Max: fmt.Sprintf("%f", now)}).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return err
	}
	for _, raw := range due {
		msg, err := decodeMessage(raw)
		if err != nil {
			continue
		}
		_ = w.R.ZRem(ctx, processingKey, raw).Err()
		msg.AvailableAt = time.Now().UnixNano()
		encoded, err := json.Marshal(msg)
		if err != nil {
			continue
		}
		w.logger().Warn().Str("kind", msg.Kind).Int("attempt", msg.Attempt).Msg("queue_task_visibility_expired")
		_ = w.R.ZAdd(ctx, queueKey, redis.Z{Score: float64(msg.AvailableAt), Member: encoded}).Err()
	}
	return nil
}

func sleepCtx(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}

type keys struct{ prefix string }

func (k keys) queue(kind string) string {
	if k.prefix == "" {
		return fmt.Sprintf("queue:%s", kind)
	}
	return fmt.Sprintf("%s:queue:%s", k.prefix, kind)
}

func (k keys) processing(kind string) string {
	if k.prefix == "" {
		return fmt.Sprintf("queue:%s:processing", kind)
	}
	return fmt.Sprintf("%s:%s:processing", k.prefix, kind)
}

func (k keys) dlq(kind string) string {
	if k.prefix == "" {
		return fmt.Sprintf("queue:%s:dlq", kind)
	}
	return fmt.Sprintf("%s:%s:dlq", k.prefix, kind)
}

func (k keys) dedup(kind, key string) string {
	if k.prefix == "" {
		return fmt.Sprintf("queue:dedup:%s:%s", kind, key)
	}
	return fmt.Sprintf("%s:dedup:%s:%s", k.prefix, kind, key)
}

func (k keys) dlqEntries() string {
	if k.prefix == "" {
		return "queue:dlq:entries"
	}
	return k.prefix + ":dlq:entries"
}

func (k keys) dlqIndex(kind string) string {
	base := "queue:dlq:index"
	if k.prefix != "" {
		base = k.prefix + ":dlq:index"
	}
	if kind == "" {
		return base
	}
	return base + ":" + kind
}

func decodeMessage(raw string) (taskMessage, error) {
	var msg taskMessage
	if err := json.Unmarshal([]byte(raw), &msg); err != nil {
		return taskMessage{}, err
	}
	return msg, nil
}

type taskMessage struct {
	Kind        string `json:"kind"`
	Key         string `json:"key,omitempty"`
	Payload     []byte `json:"payload"`
	Attempt     int    `json:"attempt"`
	MaxAttempts int    `json:"max_attempts"`
	AvailableAt int64  `json:"available_at"`
}
