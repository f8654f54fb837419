// Package notify delivers recorded sale events to Kafka and to signed webhooks.
package notify

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/noah-isme/pos-terminal/internal/events"
	"github.com/noah-isme/pos-terminal/internal/obs"
	"github.com/noah-isme/pos-terminal/internal/resilience"
)

// Endpoint is a webhook receiver. An empty Topics list subscribes to all.
type Endpoint struct {
	Name   string   `json:"name"`
	URL    string   `json:"url"`
	Secret string   `json:"-"`
	Topics []string `json:"topics,omitempty"`
}

// Accepts reports whether the endpoint subscribes to topic.
func (e Endpoint) Accepts(topic string) bool {
	if len(e.Topics) == 0 {
		return true
	}
	for _, t := range e.Topics {
		if t == topic {
			return true
		}
	}
	return false
}

// ParseEndpoints builds endpoints from configured URLs sharing one secret.
func ParseEndpoints(urls []string, secret string) ([]Endpoint, error) {
	out := make([]Endpoint, 0, len(urls))
	for i, raw := range urls {
		raw = strings.TrimSpace(raw)
		if raw == "" {
			continue
		}
		if err := validateURL(raw); err != nil {
			return nil, fmt.Errorf("webhook %d: %w", i, err)
		}
		u, _ := url.Parse(raw)
		out = append(out, Endpoint{Name: u.Host, URL: raw, Secret: secret})
	}
	return out, nil
}

// Publisher publishes events to a broker.
type Publisher interface {
	Publish(ctx context.Context, ev events.Event) error
}

// DeliveryError reports a webhook answer outside 2xx.
type DeliveryError struct {
	Endpoint string
	Status   int
	Body     string
}

func (e *DeliveryError) Error() string {
	return fmt.Sprintf("webhook %s answered %d", e.Endpoint, e.Status)
}

// Dispatcher fans an event out to the broker and every subscribed endpoint.
type Dispatcher struct {
	Publisher Publisher
	Endpoints []Endpoint
	HTTP      *resilience.HTTPClient
	Replay    ReplayProtector
	ReplayTTL time.Duration
	Logger    zerolog.Logger
	Now       func() time.Time
}

// Dispatch delivers ev everywhere it is due. Failures are joined so the queue
// retries the whole event; sinks that already succeeded are shielded by the
// replay guard.
func (d *Dispatcher) Dispatch(ctx context.Context, ev events.Event) error {
	if d == nil {
		return errors.New("notify: dispatcher not configured")
	}
	ctx, span := otel.Tracer("notify.Dispatcher").Start(ctx, "Dispatcher.Dispatch")
	defer span.End()
	span.SetAttributes(attribute.String("event.topic", ev.Topic), attribute.String("event.id", ev.ID))

	var joined error
	if d.Publisher != nil {
		if err := d.guarded(ctx, "kafka:"+ev.ID, func(ctx context.Context) error { return d.Publisher.Publish(ctx, ev) }); err != nil {
			joined = errors.Join(joined, err)
		}
	}
	for _, ep := range d.Endpoints {
		if !ep.Accepts(ev.Topic) {
			continue
		}
		ep := ep
		err := d.guarded(ctx, replayKey(ep, ev.ID), func(ctx context.Context) error {
			_, _, err := d.Deliver(ctx, ep, ev)
			return err
		})
		if err != nil {
			joined = errors.Join(joined, err)
		}
	}
	if joined != nil {
		span.RecordError(joined)
	}
	return joined
}

// guarded runs send at most once per key within ReplayTTL. A failed send
// releases the key so a retry can try again.
func (d *Dispatcher) guarded(ctx context.Context, key string, send func(context.Context) error) error {
	if d.Replay == nil || d.ReplayTTL <= 0 {
		return send(ctx)
	}
	ok, err := d.Replay.Acquire(ctx, key, d.ReplayTTL)
	if err != nil {
		return err
	}
	if !ok {
		d.Logger.Debug().Str("key", key).Msg("delivery_replay_suppressed")
		return nil
	}
	if err := send(ctx); err != nil {
		if relErr := d.Replay.Release(context.WithoutCancel(ctx), key); relErr != nil {
			d.Logger.Warn().Err(relErr).Str("key", key).Msg("delivery_replay_release_failed")
		}
		return err
	}
	return nil
}

// Deliver posts ev to one endpoint and returns the answer.
func (d *Dispatcher) Deliver(ctx context.Context, ep Endpoint, ev events.Event) (int, string, error) {
	if d.HTTP == nil {
		return 0, "", errors.New("notify: http client not configured")
	}
	ctx, span := otel.Tracer("notify.Dispatcher").Start(ctx, "Dispatcher.Deliver")
	defer span.End()
	span.SetAttributes(attribute.String("webhook.endpoint", ep.Name), attribute.String("webhook.topic", ev.Topic))

	if err := validateURL(ep.URL); err != nil {
		span.RecordError(err)
		return 0, "", err
	}
	body, err := marshalEnvelope(ev)
	if err != nil {
		return 0, "", err
	}
	now := time.Now
	if d.Now != nil {
		now = d.Now
	}
	ts := now().Unix()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, ep.URL, bytes.NewReader(body))
	if err != nil {
		return 0, "", err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "pos-terminal-webhooks/1.0")
	req.Header.Set("X-Event-ID", ev.ID)
	req.Header.Set("X-Event-Topic", ev.Topic)
	req.Header.Set("X-Timestamp", strconv.FormatInt(ts, 10))
	req.Header.Set("X-Idempotency-Key", ev.ID)
	req.Header.Set("X-Signature", ComputeSignature(ep.Secret, ts, ev.ID, body))

	start := time.Now()
	resp, err := d.HTTP.Do(ctx, req)
	if err != nil {
		obs.ObserveDelivery("webhook", "failed", time.Since(start))
		span.RecordError(err)
		return 0, "", err
	}
	defer func() { _ = resp.Body.Close() }()
	raw, err := io.ReadAll(io.LimitReader(resp.Body, 16<<10))
	if err != nil {
		obs.ObserveDelivery("webhook", "failed", time.Since(start))
		return resp.StatusCode, "", err
	}
	span.SetAttributes(attribute.Int("http.status_code", resp.StatusCode))
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		obs.ObserveDelivery("webhook", "rejected", time.Since(start))
		d.Logger.Warn().Str("endpoint", ep.Name).Int("status", resp.StatusCode).Str("event_id", ev.ID).Msg("webhook_rejected")
		return resp.StatusCode, string(raw), &DeliveryError{Endpoint: ep.Name, Status: resp.StatusCode, Body: string(raw)}
	}
	obs.ObserveDelivery("webhook", "delivered", time.Since(start))
	return resp.StatusCode, string(raw), nil
}

type envelope struct {
	EventID    string          `json:"eventId"`
	Topic      string          `json:"topic"`
	TenantID   string          `json:"tenantId,omitempty"`
	Data       json.RawMessage `json:"data"`
	OccurredAt time.Time       `json:"occurredAt"`
}

func marshalEnvelope(ev events.Event) ([]byte, error) {
	data := ev.Payload
	if len(data) == 0 {
		data = json.RawMessage(`{}`)
	}
	return json.Marshal(envelope{
		EventID:    ev.ID,
		Topic:      ev.Topic,
		TenantID:   ev.TenantID,
		Data:       data,
		OccurredAt: ev.OccurredAt,
	})
}

func validateURL(raw string) error {
	parsed, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("invalid endpoint url: %w", err)
	}
	if parsed.Scheme != "https" && parsed.Scheme != "http" {
		return errors.New("webhook url must be http or https")
	}
	if parsed.Host == "" {
		return errors.New("webhook url must include host")
	}
	if parsed.Scheme == "http" {
		host := parsed.Hostname()
		if host != "localhost" && host != "127.0.0.1" {
			return errors.New("http webhook only allowed for localhost")
		}
	}
	return nil
}

// ComputeSignature calculates the webhook signature for the provided payload. The
// format is HMAC-SHA256 over "<ts>.<eventID>.<body>" using the endpoint secret.
func ComputeSignature(secret string, ts int64, eventID string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	_, _ = mac.Write([]byte(strconv.FormatInt(ts, 10)))
	_, _ = mac.Write([]byte("."))
	_, _ = mac.Write([]byte(eventID))
	_, _ = mac.Write([]byte("."))
	_, _ = mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

func replayKey(ep Endpoint, eventID string) string {
	sum := sha256.Sum256([]byte(ep.URL))
	return "wh:" + hex.EncodeToString(sum[:6]) + ":" + eventID
}
