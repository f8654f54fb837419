package queue

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

var (
	// ErrStoreUnavailable indicates the DLQ store dependency is not configured.
	ErrStoreUnavailable = errors.New("queue: store unavailable")
	// ErrDLQEntryNotFound is returned for unknown DLQ ids.
	ErrDLQEntryNotFound = errors.New("queue: dlq entry not found")
)

// Store provides accessors for dead-lettered tasks.
type Store interface {
	InsertQueueDlq(ctx context.Context, entry DLQEntry) (uuid.UUID, error)
	DeleteQueueDlq(ctx context.Context, id uuid.UUID) error
	GetQueueDlq(ctx context.Context, id uuid.UUID) (DLQEntry, error)
	ListQueueDlq(ctx context.Context, kind string, limit, offset int) ([]DLQEntry, error)
	CountQueueDlq(ctx context.Context, kind string) (int64, error)
	QueueDlqSizeByKind(ctx context.Context) (map[string]int64, error)
}

// DLQEntry is a task that exhausted its attempts.
type DLQEntry struct {
	ID             uuid.UUID `json:"id"`
	Kind           string    `json:"kind"`
	IdempotencyKey string    `json:"idempotencyKey,omitempty"`
	Payload        []byte    `json:"payload"`
	Attempts       int       `json:"attempts"`
	LastError      *string   `json:"lastError,omitempty"`
	CreatedAt      time.Time `json:"createdAt"`
}

// RedisStore keeps DLQ entries in a hash indexed by sorted sets, one global and
// one per kind, scored by creation time.
type RedisStore struct {
	R      *redis.Client
	Prefix string
}

// NewStore constructs a Store backed by Redis.
func NewStore(r *redis.Client, prefix string) Store {
	return &RedisStore{R: r, Prefix: prefix}
}

func (s *RedisStore) ready() error {
	if s == nil || s.R == nil {
		return ErrStoreUnavailable
	}
	return nil
}

// InsertQueueDlq persists a DLQ entry and returns the generated identifier.
func (s *RedisStore) InsertQueueDlq(ctx context.Context, entry DLQEntry) (uuid.UUID, error) {
	if err := s.ready(); err != nil {
		return uuid.Nil, err
	}
	if entry.ID == uuid.Nil {
		entry.ID = uuid.New()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now()
	}
	raw, err := json.Marshal(entry)
	if err != nil {
		return uuid.Nil, err
	}
	k := keys{s.Prefix}
	score := float64(entry.CreatedAt.UnixNano())
	id := entry.ID.String()
	pipe := s.R.TxPipeline()
	pipe.HSet(ctx, k.dlqEntries(), id, raw)
	pipe.ZAdd(ctx, k.dlqIndex(""), redis.Z{Score: score, Member: id})
	pipe.ZAdd(ctx, k.dlqIndex(entry.Kind), redis.Z{Score: score, Member: id})
	if _, err := pipe.Exec(ctx); err != nil {
		return uuid.Nil, err
	}
	QueueDLQSize.WithLabelValues(queueLabel(entry.Kind)).Inc()
	return entry.ID, nil
}

// DeleteQueueDlq removes an entry.
func (s *RedisStore) DeleteQueueDlq(ctx context.Context, id uuid.UUID) error {
	entry, err := s.GetQueueDlq(ctx, id)
	if err != nil {
		return err
	}
	k := keys{s.Prefix}
	pipe := s.R.TxPipeline()
	pipe.HDel(ctx, k.dlqEntries(), id.String())
	pipe.ZRem(ctx, k.dlqIndex(""), id.String())
	pipe.ZRem(ctx, k.dlqIndex(entry.Kind), id.String())
	if _, err := pipe.Exec(ctx); err != nil {
		return err
	}
	QueueDLQSize.WithLabelValues(queueLabel(entry.Kind)).Dec()
	return nil
}

// GetQueueDlq loads an entry by id.
func (s *RedisStore) GetQueueDlq(ctx context.Context, id uuid.UUID) (DLQEntry, error) {
	if err := s.ready(); err != nil {
		return DLQEntry{}, err
	}
	raw, err := s.R.HGet(ctx, keys{s.Prefix}.dlqEntries(), id.String()).Bytes()
	if errors.Is(err, redis.Nil) {
		return DLQEntry{}, ErrDLQEntryNotFound
	}
	if err != nil {
		return DLQEntry{}, err
	}
	var entry DLQEntry
	if err := json.Unmarshal(raw, &entry); err != nil {
		return DLQEntry{}, err
	}
	return entry, nil
}

// ListQueueDlq returns entries newest first. An empty kind lists every kind.
func (s *RedisStore) ListQueueDlq(ctx context.Context, kind string, limit, offset int) ([]DLQEntry, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}
	k := keys{s.Prefix}
	ids, err := s.R.ZRevRange(ctx, k.dlqIndex(kind), int64(offset), int64(offset+limit-1)).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, err
	}
	if len(ids) == 0 {
		return []DLQEntry{}, nil
	}
	vals, err := s.R.HMGet(ctx, k.dlqEntries(), ids...).Result()
	if err != nil {
		return nil, err
	}
	out := make([]DLQEntry, 0, len(vals))
	for _, v := range vals {
		str, ok := v.(string)
		if !ok {
			continue
		}
		var entry DLQEntry
		if err := json.Unmarshal([]byte(str), &entry); err != nil {
			continue
		}
		out = append(out, entry)
	}
	return out, nil
}

// CountQueueDlq counts entries of kind, or all entries for an empty kind.
func (s *RedisStore) CountQueueDlq(ctx context.Context, kind string) (int64, error) {
	if err := s.ready(); err != nil {
		return 0, err
	}
	n, err := s.R.ZCard(ctx, keys{s.Prefix}.dlqIndex(kind)).Result()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	return n, err
}

// QueueDlqSizeByKind groups entry counts by kind.
func (s *RedisStore) QueueDlqSizeByKind(ctx context.Context) (map[string]int64, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	vals, err := s.R.HVals(ctx, keys{s.Prefix}.dlqEntries()).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, err
	}
	out := make(map[string]int64)
	for _, raw := range vals {
		var entry struct {
			Kind string `json:"kind"`
		}
		if err := json.Unmarshal([]byte(raw), &entry); err != nil {
			continue
		}
		out[entry.Kind]++
	}
	return out, nil
}

// SampleDLQ refreshes the DLQ size gauge for every kind.
func SampleDLQ(ctx context.Context, s Store) error {
	if s == nil {
		return ErrStoreUnavailable
	}
	sizes, err := s.QueueDlqSizeByKind(ctx)
	if err != nil {
		return err
	}
	for kind, n := range sizes {
		QueueDLQSize.WithLabelValues(queueLabel(kind)).Set(float64(n))
	}
	return nil
}
