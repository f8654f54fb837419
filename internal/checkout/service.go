// Package checkout commits terminal sales to the backend.
package checkout

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/noah-isme/pos-terminal/internal/backend"
	"github.com/noah-isme/pos-terminal/internal/common"
	"github.com/noah-isme/pos-terminal/internal/events"
	"github.com/noah-isme/pos-terminal/internal/ledger"
	"github.com/noah-isme/pos-terminal/internal/obs"
	"github.com/noah-isme/pos-terminal/internal/session"
	"github.com/noah-isme/pos-terminal/internal/tenant"
)

// Commit outcomes used as metric labels.
const (
	ResultCommitted = "committed"
	ResultRejected  = "rejected"
	ResultConflict  = "conflict"
	ResultFailed    = "failed"
)

// ErrCustomerRequired is returned when no customer is selected and no default
// customer is configured.
var ErrCustomerRequired = common.NewAppError("CUSTOMER_REQUIRED", "a customer must be selected", http.StatusUnprocessableEntity, nil)

// Committer persists a sale.
type Committer interface {
	CommitSale(ctx context.Context, req backend.CommitRequest) (backend.CommitResult, error)
}

// Emitter publishes domain events.
type Emitter interface {
	Emit(ctx context.Context, topic, aggregateID string, payload any) (events.Event, error)
}

// Locker serialises commits of the same session across processes.
type Locker interface {
	WithLock(ctx context.Context, key string, ttl time.Duration, fn func(context.Context) error) error
}

// Folios allocates folio numbers.
type Folios interface {
	Next(ctx context.Context, terminalID string) (string, error)
}

// Input carries the optional overrides of a commit request.
type Input struct {
	Folio      string  `json:"folio" validate:"omitempty,max=50"`
	CustomerID string  `json:"customerId" validate:"omitempty,max=64"`
	Notes      *string `json:"notes" validate:"omitempty,max=500"`
}

// Service orchestrates the commit of a session's sale.
type Service struct {
	Backend           Committer
	Folios            Folios
	Locker            Locker
	LockTTL           time.Duration
	Events            Emitter
	Sessions          *session.Store
	DefaultCustomerID string
	Now               func() time.Time
	Logger            zerolog.Logger
}

// Commit validates the session's sale, persists it and marks it Committed.
// On any failure the sale stays Open and editable and the error is returned.
func (s *Service) Commit(ctx context.Context, sess *session.Session, in Input) (*session.Receipt, error) {
	if s == nil || s.Backend == nil {
		return nil, errors.New("checkout service not configured")
	}
	start := s.now()
	pending, err := sess.BeginCommit()
	if err != nil {
		result := ResultRejected
		if errors.Is(err, session.ErrCommitInFlight) {
			result = ResultConflict
		}
		obs.ObserveCommit(result, time.Since(start))
		return nil, err
	}

	receipt, req, err := s.commit(ctx, sess, pending, in)
	if finishErr := sess.FinishCommit(receipt, err); finishErr != nil && err == nil {
		err = finishErr
	}
	elapsed := s.now().Sub(start)
	emitCtx := context.WithoutCancel(ctx)
	if err != nil {
		result := ResultFailed
		if errors.Is(err, ErrCustomerRequired) {
			result = ResultRejected
		}
		obs.ObserveCommit(result, elapsed)
		s.emitFailure(emitCtx, sess, req, pending, err)
		s.Logger.Warn().Err(err).
			Str("session_id", sess.ID).
			Str("terminal_id", pending.Identity.TerminalID).
			Str("folio", req.Folio).
			Bool("retryable", backend.IsTransient(err)).
			Msg("sale_commit_failed")
		return nil, err
	}

	obs.ObserveCommit(ResultCommitted, elapsed)
	s.emit(emitCtx, events.TopicSaleCommitted, receipt.SaleID, events.SaleCommitted{
		SaleID:     receipt.SaleID,
		Folio:      receipt.Folio,
		SessionID:  sess.ID,
		TerminalID: pending.Identity.TerminalID,
		BranchID:   pending.Identity.BranchID,
		SellerID:   req.SellerID,
		CustomerID: req.CustomerID,
		Lines:      len(pending.Snapshot.Lines),
		Subtotal:   pending.Snapshot.Totals.Subtotal,
		Tax:        pending.Snapshot.Totals.Tax,
		Total:      pending.Snapshot.Totals.GrandTotal,
		Paid:       pending.Snapshot.Paid,
		At:         receipt.CommittedAt,
	})
	s.Logger.Info().
		Str("session_id", sess.ID).
		Str("sale_id", receipt.SaleID).
		Str("folio", receipt.Folio).
		Str("total", receipt.Total.StringFixed(2)).
		Dur("duration", elapsed).
		Msg("sale_committed")
	return receipt, nil
}

func (s *Service) commit(ctx context.Context, sess *session.Session, pending session.Pending, in Input) (*session.Receipt, backend.CommitRequest, error) {
	req := buildRequest(pending, in)
	if req.CustomerID == "" {
		req.CustomerID = s.DefaultCustomerID
	}
	if req.CustomerID == "" {
		return nil, req, ErrCustomerRequired
	}
	if req.Folio == "" && s.Folios != nil {
		folio, err := s.Folios.Next(ctx, pending.Identity.TerminalID)
		if err != nil {
			return nil, req, err
		}
		req.Folio = folio
	}
	req.Date = s.now()

	var result backend.CommitResult
	run := func(ctx context.Context) error {
		var err error
		result, err = s.Backend.CommitSale(ctx, req)
		return err
	}
	var err error
	if s.Locker != nil {
		err = s.Locker.WithLock(ctx, tenant.Key(ctx, "lock", "commit", sess.ID), s.lockTTL(), run)
	} else {
		err = run(ctx)
	}
	if err != nil {
		return nil, req, err
	}
	folio := result.Folio
	if folio == "" {
		folio = req.Folio
	}
	at := result.Date
	if at.IsZero() {
		at = req.Date
	}
	return &session.Receipt{
		SaleID:      result.SaleID,
		Folio:       folio,
		Total:       pending.Snapshot.Totals.GrandTotal,
		CommittedAt: at,
	}, req, nil
}

// Discard drops a session. Sales that had content are reported as discarded.
func (s *Service) Discard(ctx context.Context, tenantID, sessionID, reason string) error {
	if s.Sessions == nil {
		return errors.New("checkout: session store not configured")
	}
	sess, err := s.Sessions.Discard(tenantID, sessionID)
	if err != nil {
		return err
	}
	st := sess.State()
	if len(st.Sale.Lines) == 0 || st.Sale.State != ledger.Open {
		return nil
	}
	if reason == "" {
		reason = "discarded by cashier"
	}
	s.emit(context.WithoutCancel(ctx), events.TopicSaleDiscarded, sess.ID, events.SaleDiscarded{
		SessionID:  sess.ID,
		TerminalID: sess.Identity.TerminalID,
		Lines:      len(st.Sale.Lines),
		Total:      st.Sale.Totals.GrandTotal,
		Reason:     reason,
	})
	return nil
}

func (s *Service) emitFailure(ctx context.Context, sess *session.Session, req backend.CommitRequest, pending session.Pending, cause error) {
	payload := events.SaleCommitFailed{
		SessionID:  sess.ID,
		TerminalID: pending.Identity.TerminalID,
		Folio:      req.Folio,
		Total:      pending.Snapshot.Totals.GrandTotal,
		Reason:     cause.Error(),
	}
	var partial *backend.PartialCommitError
	if errors.As(cause, &partial) {
		payload.SaleID = partial.SaleID
		payload.Step = partial.Step
		payload.Voided = partial.Voided
	}
	s.emit(ctx, events.TopicSaleCommitFailed, sess.ID, payload)
}

func (s *Service) emit(ctx context.Context, topic, aggregateID string, payload any) {
	if s.Events == nil {
		return
	}
	if _, err := s.Events.Emit(ctx, topic, aggregateID, payload); err != nil {
		s.Logger.Error().Err(err).Str("topic", topic).Str("aggregate_id", aggregateID).Msg("emit_event")
	}
}

func (s *Service) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

func (s *Service) lockTTL() time.Duration {
	if s.LockTTL <= 0 {
		return 30 * time.Second
	}
	return s.LockTTL
}

// buildRequest maps a pending sale onto the backend commit shape. The header
// discount is the part of the general discount that actually applied, since
// the taxable base never goes below zero.
func buildRequest(p session.Pending, in Input) backend.CommitRequest {
	snap := p.Snapshot
	req := backend.CommitRequest{
		Folio:      in.Folio,
		TerminalID: p.Identity.TerminalID,
		BranchID:   p.Identity.BranchID,
		SellerID:   p.Identity.SellerID,
		Notes:      p.Notes,
		Subtotal:   snap.Totals.Subtotal,
		Discount:   snap.Totals.Subtotal.Sub(snap.Totals.TaxableBase),
		Tax:        snap.Totals.Tax,
		Total:      snap.Totals.GrandTotal,
		Lines:      make([]backend.CommitLine, len(snap.Lines)),
		Payments:   make([]backend.CommitPayment, len(snap.Payments)),
	}
	if in.Notes != nil {
		req.Notes = *in.Notes
	}
	switch {
	case in.CustomerID != "":
		req.CustomerID = in.CustomerID
	case p.Customer != nil:
		req.CustomerID = p.Customer.CustomerID
	}
	for i, l := range snap.Lines {
		req.Lines[i] = backend.CommitLine{
			VariantID:    l.VariantID,
			Quantity:     l.Quantity,
			UnitPrice:    l.UnitPrice,
			LineDiscount: l.LineDiscount,
			LineTotal:    l.LineTotal(),
		}
	}
	for i, pay := range snap.Payments {
		req.Payments[i] = backend.CommitPayment{
			MethodID:  pay.MethodID,
			Amount:    pay.Amount,
			Reference: pay.Reference,
		}
	}
	if req.Discount.IsNegative() {
		req.Discount = decimal.Zero
	}
	return req
}

// describe is used in error messages for partially written sales.
func describe(err error) string {
	var partial *backend.PartialCommitError
	if errors.As(err, &partial) {
		return fmt.Sprintf("sale %s was not completed (%s)", partial.SaleID, partial.Step)
	}
	return "sale could not be committed"
}
