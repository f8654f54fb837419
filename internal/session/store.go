package session

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/noah-isme/pos-terminal/internal/ledger"
)

// StoreConfig configures a Store.
type StoreConfig struct {
	TaxRate        decimal.Decimal
	QuantityPlaces int32
	IdleTTL        time.Duration
	Now            func() time.Time
	Logger         *zerolog.Logger
}

// Store holds the sessions of this process, scoped per tenant.
type Store struct {
	mu       sync.RWMutex
	sessions map[string]*Session
	cfg      StoreConfig
	log      zerolog.Logger
}

// NewStore builds an empty store.
func NewStore(cfg StoreConfig) *Store {
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.IdleTTL <= 0 {
		cfg.IdleTTL = 12 * time.Hour
	}
	log := zerolog.Nop()
	if cfg.Logger != nil {
		log = *cfg.Logger
	}
	return &Store{sessions: map[string]*Session{}, cfg: cfg, log: log}
}

// Create opens a new session. taxRate overrides the configured rate when non-nil.
func (s *Store) Create(id Identity, taxRate *decimal.Decimal) (*Session, error) {
	if id.TenantID == "" || id.TerminalID == "" {
		return nil, errors.New("tenant and terminal are required")
	}
	rate := s.cfg.TaxRate
	if taxRate != nil {
		rate = *taxRate
	}
	var opts []ledger.Option
	if s.cfg.QuantityPlaces > 0 {
		opts = append(opts, ledger.WithQuantityPlaces(s.cfg.QuantityPlaces))
	}
	l, err := ledger.New(rate, opts...)
	if err != nil {
		return nil, err
	}
	now := s.cfg.Now()
	sess := &Session{
		ID:        uuid.NewString(),
		Identity:  id,
		CreatedAt: now,
		ledger:    l,
		lastUsed:  now,
		now:       s.cfg.Now,
	}
	s.mu.Lock()
	s.sessions[sess.ID] = sess
	s.mu.Unlock()
	return sess, nil
}

// Get returns the session when it belongs to tenantID.
func (s *Store) Get(tenantID, id string) (*Session, error) {
	s.mu.RLock()
	sess, ok := s.sessions[id]
	s.mu.RUnlock()
	if !ok || sess.Identity.TenantID != tenantID {
		return nil, ErrNotFound
	}
	return sess, nil
}

// Discard releases a session. A session with a commit in flight is kept.
func (s *Store) Discard(tenantID, id string) (*Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[id]
	if !ok || sess.Identity.TenantID != tenantID {
		return nil, ErrNotFound
	}
	if sess.Committing() {
		return nil, ErrCommitInFlight
	}
	delete(s.sessions, id)
	return sess, nil
}

// Len counts live sessions.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}

// Sweep drops sessions idle for longer than the configured TTL and returns how
// many were removed.
func (s *Store) Sweep() int {
	cutoff := s.cfg.Now().Add(-s.cfg.IdleTTL)
	s.mu.Lock()
	defer s.mu.Unlock()
	removed := 0
	for id, sess := range s.sessions {
		if sess.Committing() || sess.LastUsed().After(cutoff) {
			continue
		}
		delete(s.sessions, id)
		removed++
	}
	return removed
}

// RunSweeper calls Sweep every interval until ctx is done.
func (s *Store) RunSweeper(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Minute
	}
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if n := s.Sweep(); n > 0 {
				s.log.Info().Int("removed", n).Int("remaining", s.Len()).Msg("session_sweep")
			}
		}
	}
}
