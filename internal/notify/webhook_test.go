package notify_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	redis "github.com/redis/go-redis/v9"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/pos-terminal/internal/events"
	"github.com/noah-isme/pos-terminal/internal/lock"
	"github.com/noah-isme/pos-terminal/internal/notify"
	"github.com/noah-isme/pos-terminal/internal/queue"
	"github.com/noah-isme/pos-terminal/internal/resilience"
)

func newRedis(t *testing.T) *redis.Client {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return client
}

func httpClient(srv *httptest.Server) *resilience.HTTPClient {
	return &resilience.HTTPClient{
		Client:      srv.Client(),
		Breaker:     resilience.NewBreaker(resilience.BreakerConfig{Target: "webhook", MinRequests: 100}),
		MaxAttempts: 1,
		Timeout:     time.Second,
	}
}

func sampleEvent() events.Event {
	return events.Event{
		ID:          "ev-1",
		Topic:       events.TopicSaleCommitted,
		TenantID:    "t1",
		AggregateID: "sale-1",
		Payload:     json.RawMessage(`{"saleId":"sale-1"}`),
		OccurredAt:  time.Date(2026, 5, 4, 10, 0, 0, 0, time.UTC),
	}
}

func TestSignatureAndHeaders(t *testing.T) {
	type recorded struct {
		header http.Header
		body   []byte
	}
	received := make(chan recorded, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		received <- recorded{header: r.Header.Clone(), body: body}
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(srv.Close)

	endpoints, err := notify.ParseEndpoints([]string{srv.URL}, "secret")
	require.NoError(t, err)
	dispatcher := &notify.Dispatcher{HTTP: httpClient(srv), Endpoints: endpoints}

	ev := sampleEvent()
	status, _, err := dispatcher.Deliver(context.Background(), endpoints[0], ev)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, status)

	record := <-received
	require.Equal(t, "application/json", record.header.Get("Content-Type"))
	require.Equal(t, ev.ID, record.header.Get("X-Event-ID"))
	require.Equal(t, ev.ID, record.header.Get("X-Idempotency-Key"))
	ts, err := strconv.ParseInt(record.header.Get("X-Timestamp"), 10, 64)
	require.NoError(t, err)
	require.Equal(t, notify.ComputeSignature("secret", ts, ev.ID, record.body), record.header.Get("X-Signature"))

	var env struct {
		EventID string          `json:"eventId"`
		Topic   string          `json:"topic"`
		Data    json.RawMessage `json:"data"`
	}
	require.NoError(t, json.Unmarshal(record.body, &env))
	require.Equal(t, events.TopicSaleCommitted, env.Topic)
	require.JSONEq(t, `{"saleId":"sale-1"}`, string(env.Data))
}

func TestParseEndpointsRejectsPlainHTTP(t *testing.T) {
	_, err := notify.ParseEndpoints([]string{"http://example.com/hook"}, "s")
	require.Error(t, err)
	eps, err := notify.ParseEndpoints([]string{"", "https://example.com/hook"}, "s")
	require.NoError(t, err)
	require.Len(t, eps, 1)
	require.True(t, eps[0].Accepts(events.TopicSaleDiscarded))
}

type fakeWriter struct {
	mu   sync.Mutex
	msgs []kafka.Message
	err  error
}

func (f *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.msgs = append(f.msgs, msgs...)
	return nil
}

func (f *fakeWriter) Close() error { return nil }

func TestDispatchReplayGuardRetriesOnlyFailedSinks(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits.Add(1) == 1 {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	t.Cleanup(srv.Close)

	client := newRedis(t)
	writer := &fakeWriter{}
	endpoints, err := notify.ParseEndpoints([]string{srv.URL}, "secret")
	require.NoError(t, err)
	dispatcher := &notify.Dispatcher{
		Publisher: &notify.KafkaPublisher{Writer: writer, TopicPrefix: "pos."},
		Endpoints: endpoints,
		HTTP:      httpClient(srv),
		Replay:    notify.RedisReplayProtector{Client: client},
		ReplayTTL: time.Hour,
	}

	ev := sampleEvent()
	err = dispatcher.Dispatch(context.Background(), ev)
	var delErr *notify.DeliveryError
	require.ErrorAs(t, err, &delErr)
	require.Equal(t, http.StatusBadRequest, delErr.Status)
	require.Len(t, writer.msgs, 1)
	require.Equal(t, "pos.sale.committed", writer.msgs[0].Topic)
	require.Equal(t, []byte("sale-1"), writer.msgs[0].Key)

	require.NoError(t, dispatcher.Dispatch(context.Background(), ev))
	require.Len(t, writer.msgs, 1, "kafka must not be published twice")
	require.Equal(t, int32(2), hits.Load())

	require.NoError(t, dispatcher.Dispatch(context.Background(), ev))
	require.Equal(t, int32(2), hits.Load())
}

func TestDeliveryWorkerHandlesQueuedEvent(t *testing.T) {
	client := newRedis(t)
	writer := &fakeWriter{}
	worker := notify.DeliveryWorker{
		Dispatcher: &notify.Dispatcher{Publisher: &notify.KafkaPublisher{Writer: writer}},
		Locker:     lock.Locker{R: client},
	}
	raw, err := json.Marshal(sampleEvent())
	require.NoError(t, err)

	require.NoError(t, worker.Handle(context.Background(), queue.Task{Kind: events.TaskKind, Payload: raw, Attempt: 1}))
	require.Len(t, writer.msgs, 1)

	writer.err = errors.New("broker down")
	require.Error(t, worker.Handle(context.Background(), queue.Task{Kind: events.TaskKind, Payload: raw, Attempt: 2}))

	require.NoError(t, worker.Handle(context.Background(), queue.Task{Kind: events.TaskKind, Payload: []byte("{")}))
}
