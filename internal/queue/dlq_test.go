package queue_test

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/pos-terminal/internal/queue"
)

func TestMoveToDLQAfterMaxAttempts(t *testing.T) {
	client := newRedis(t)
	store := queue.NewStore(client, "dlq")
	enq := queue.Enqueuer{R: client, Prefix: "dlq", MaxAttempts: 2}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	log := zerolog.New(io.Discard)
	worker := queue.Worker{
		R:                 client,
		Prefix:            "dlq",
		Kind:              "sale-event",
		Concurrency:       1,
		VisibilityTimeout: 120 * time.Millisecond,
		RetryBase:         20 * time.Millisecond,
		Store:             store,
		Logger:            &log,
		Handler: func(context.Context, queue.Task) error {
			return errors.New("fail")
		},
	}

	done := make(chan struct{})
	go func() {
		_ = worker.Run(ctx)
		close(done)
	}()

	require.NoError(t, enq.Enqueue(context.Background(), queue.Task{Kind: "sale-event", Payload: []byte("body"), IdempotencyKey: "dlq1", MaxAttempts: 2}))

	require.Eventually(t, func() bool {
		count, err := store.CountQueueDlq(context.Background(), "sale-event")
		return err == nil && count == 1
	}, 2*time.Second, 20*time.Millisecond)

	snapshot := mustList(t, store, "sale-event")
	require.Len(t, snapshot, 1)
	for _, entry := range snapshot {
		require.Equal(t, "sale-event", entry.Kind)
		require.Equal(t, "dlq1", entry.IdempotencyKey)
		require.Equal(t, 2, entry.Attempts)
		require.NotEmpty(t, entry.Payload)
	}

	cancel()
	<-done
}

func mustList(t *testing.T, store queue.Store, kind string) []queue.DLQEntry {
	t.Helper()
	entries, err := store.ListQueueDlq(context.Background(), kind, 10, 0)
	require.NoError(t, err)
	return entries
}

func TestRedisStoreListsNewestFirst(t *testing.T) {
	client := newRedis(t)
	store := queue.NewStore(client, "st")
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	older, err := store.InsertQueueDlq(ctx, queue.DLQEntry{Kind: "sale-event", Payload: []byte(`{}`), CreatedAt: base})
	require.NoError(t, err)
	newer, err := store.InsertQueueDlq(ctx, queue.DLQEntry{Kind: "sale-event", Payload: []byte(`{}`), CreatedAt: base.Add(time.Minute)})
	require.NoError(t, err)
	_, err = store.InsertQueueDlq(ctx, queue.DLQEntry{Kind: "warm-cache", Payload: []byte(`{}`), CreatedAt: base})
	require.NoError(t, err)

	entries := mustList(t, store, "sale-event")
	require.Len(t, entries, 2)
	require.Equal(t, newer, entries[0].ID)
	require.Equal(t, older, entries[1].ID)

	all, err := store.CountQueueDlq(ctx, "")
	require.NoError(t, err)
	require.Equal(t, int64(3), all)

	sizes, err := store.QueueDlqSizeByKind(ctx)
	require.NoError(t, err)
	require.Equal(t, map[string]int64{"sale-event": 2, "warm-cache": 1}, sizes)

	require.NoError(t, store.DeleteQueueDlq(ctx, older))
	_, err = store.GetQueueDlq(ctx, older)
	require.ErrorIs(t, err, queue.ErrDLQEntryNotFound)
	require.ErrorIs(t, store.DeleteQueueDlq(ctx, older), queue.ErrDLQEntryNotFound)
}
