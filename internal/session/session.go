// Package session keeps the open sales of the terminal. Every ledger access
// goes through its Session, which serialises operations and blocks edits while
// a commit is in flight.
package session

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/noah-isme/pos-terminal/internal/ledger"
	"github.com/noah-isme/pos-terminal/internal/search"
)

var (
	// ErrNotFound is returned for unknown or foreign session ids.
	ErrNotFound = errors.New("session not found")
	// ErrCommitInFlight is returned for edits while the sale is being committed.
	ErrCommitInFlight = fmt.Errorf("commit in progress: %w", ledger.ErrInvalidState)
	// ErrNoCommit is returned by FinishCommit without a matching BeginCommit.
	ErrNoCommit = errors.New("no commit in progress")
)

// Identity is who and where the sale is made.
type Identity struct {
	TenantID   string `json:"tenantId"`
	TerminalID string `json:"terminalId"`
	BranchID   string `json:"branchId"`
	SellerID   string `json:"sellerId"`
}

// Customer is the buyer selected for the sale.
type Customer struct {
	CustomerID string `json:"customerId"`
	Name       string `json:"name"`
	TaxID      string `json:"taxId,omitempty"`
}

// Receipt describes the last successful commit.
type Receipt struct {
	SaleID      string          `json:"saleId"`
	Folio       string          `json:"folio"`
	Total       decimal.Decimal `json:"total"`
	CommittedAt time.Time       `json:"committedAt"`
}

// Session is one terminal's working sale.
type Session struct {
	ID        string
	Identity  Identity
	CreatedAt time.Time

	// Products and Customers sequence picker searches for this session.
	Products  search.Tracker
	Customers search.Tracker

	mu         sync.Mutex
	ledger     *ledger.Ledger
	customer   *Customer
	notes      string
	committing bool
	receipt    *Receipt
	lastUsed   time.Time
	now        func() time.Time
}

func (s *Session) touchLocked() {
	s.lastUsed = s.now()
}

// Mutate runs fn with exclusive access to the ledger. It fails with
// ErrCommitInFlight while a commit is pending.
func (s *Session) Mutate(fn func(*ledger.Ledger) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.touchLocked()
	if s.committing {
		return ErrCommitInFlight
	}
	return fn(s.ledger)
}

// View runs fn with exclusive access to the ledger for reading.
func (s *Session) View(fn func(*ledger.Ledger)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.touchLocked()
	fn(s.ledger)
}

// SetCustomer selects the buyer. Clearing is done by passing nil.
func (s *Session) SetCustomer(c *Customer) error {
	return s.SetCustomerAndNotes(c, nil)
}

// SetCustomerAndNotes selects the buyer and, when notes is non-nil, replaces
// the notes. Either both change or neither does.
func (s *Session) SetCustomerAndNotes(c *Customer, notes *string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.touchLocked()
	if s.committing {
		return ErrCommitInFlight
	}
	if s.ledger.State() != ledger.Open {
		return fmt.Errorf("sale is %s: %w", s.ledger.State(), ledger.ErrInvalidState)
	}
	if c == nil {
		s.customer = nil
	} else {
		cp := *c
		s.customer = &cp
	}
	if notes != nil {
		s.notes = *notes
	}
	return nil
}

// SetNotes stores free text persisted with the sale.
func (s *Session) SetNotes(notes string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.touchLocked()
	if s.committing {
		return ErrCommitInFlight
	}
	s.notes = notes
	return nil
}

// Reset starts a new sale on the session.
func (s *Session) Reset() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.touchLocked()
	if s.committing {
		return ErrCommitInFlight
	}
	s.ledger.Reset()
	s.customer = nil
	s.notes = ""
	s.receipt = nil
	return nil
}

// Pending is the sale content handed to the commit orchestrator.
type Pending struct {
	Identity Identity
	Snapshot ledger.Snapshot
	Customer *Customer
	Notes    string
}

// BeginCommit validates the sale and blocks further edits until FinishCommit.
func (s *Session) BeginCommit() (Pending, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.touchLocked()
	if s.committing {
		return Pending{}, ErrCommitInFlight
	}
	if s.ledger.State() != ledger.Open {
		return Pending{}, fmt.Errorf("sale is %s: %w", s.ledger.State(), ledger.ErrInvalidState)
	}
	if err := s.ledger.ValidateForCommit(); err != nil {
		return Pending{}, err
	}
	s.committing = true
	p := Pending{Identity: s.Identity, Snapshot: s.ledger.Snapshot(), Notes: s.notes}
	if s.customer != nil {
		cp := *s.customer
		p.Customer = &cp
	}
	return p, nil
}

// FinishCommit ends a commit started by BeginCommit. A nil cause marks the
// ledger Committed and stores the receipt; otherwise the sale stays Open and
// editable so the cashier can retry.
func (s *Session) FinishCommit(r *Receipt, cause error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.touchLocked()
	if !s.committing {
		return ErrNoCommit
	}
	s.committing = false
	if cause != nil {
		return cause
	}
	if err := s.ledger.MarkCommitted(); err != nil {
		return err
	}
	if r != nil {
		cp := *r
		s.receipt = &cp
	}
	return nil
}

// Committing reports whether a commit is pending.
func (s *Session) Committing() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.committing
}

// LastUsed reports the last time the session was accessed.
func (s *Session) LastUsed() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastUsed
}

// State is a render-ready copy of the session.
type State struct {
	ID         string          `json:"id"`
	Identity   Identity        `json:"identity"`
	Sale       ledger.Snapshot `json:"sale"`
	Customer   *Customer       `json:"customer,omitempty"`
	Notes      string          `json:"notes,omitempty"`
	Committing bool            `json:"committing"`
	Receipt    *Receipt        `json:"receipt,omitempty"`
	CreatedAt  time.Time       `json:"createdAt"`
}

// State copies the session for rendering.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.touchLocked()
	st := State{
		ID:         s.ID,
		Identity:   s.Identity,
		Sale:       s.ledger.Snapshot(),
		Notes:      s.notes,
		Committing: s.committing,
		CreatedAt:  s.CreatedAt,
	}
	if s.customer != nil {
		cp := *s.customer
		st.Customer = &cp
	}
	if s.receipt != nil {
		cp := *s.receipt
		st.Receipt = &cp
	}
	return st
}
