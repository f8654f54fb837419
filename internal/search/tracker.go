// Package search sequences overlapping lookups so only the latest one is applied.
package search

import (
	"context"
	"errors"
	"sync"
)

// ErrSuperseded is returned when a newer request was issued before this one completed.
var ErrSuperseded = errors.New("search superseded by a newer request")

// Ticket identifies one issued request.
type Ticket struct {
	Seq uint64
}

// Tracker issues increasing sequence numbers and cancels the previous request
// each time a new one starts. The zero value is ready to use.
type Tracker struct {
	mu     sync.Mutex
	seq    uint64
	cancel context.CancelFunc
}

// Begin issues a new ticket and returns a context that is cancelled as soon as
// a newer ticket is issued.
func (t *Tracker) Begin(ctx context.Context) (Ticket, context.Context) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.cancel != nil {
		t.cancel()
	}
	t.seq++
	cctx, cancel := context.WithCancel(ctx)
	t.cancel = cancel
	return Ticket{Seq: t.seq}, cctx
}

// Complete reports whether the ticket is still the latest. It releases the
// ticket's context when it is.
func (t *Tracker) Complete(tk Ticket) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if tk.Seq != t.seq {
		return ErrSuperseded
	}
	if t.cancel != nil {
		t.cancel()
		t.cancel = nil
	}
	return nil
}

// Latest returns the most recently issued sequence number.
func (t *Tracker) Latest() uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.seq
}

// Run executes fn under a fresh ticket and discards its result if a newer run
// started meanwhile.
func Run[T any](ctx context.Context, t *Tracker, fn func(context.Context) (T, error)) (T, error) {
	tk, cctx := t.Begin(ctx)
	res, err := fn(cctx)
	if cerr := t.Complete(tk); cerr != nil {
		var zero T
		return zero, cerr
	}
	return res, err
}
