package ledger

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/noah-isme/pos-terminal/internal/pricing"
)

// Totals are the amounts derived from the current lines and discount.
type Totals struct {
	Subtotal    decimal.Decimal `json:"subtotal"`
	TaxableBase decimal.Decimal `json:"taxableBase"`
	Tax         decimal.Decimal `json:"tax"`
	GrandTotal  decimal.Decimal `json:"grandTotal"`
}

// ComputeTotals derives the sale totals. It has no side effects.
func (l *Ledger) ComputeTotals() Totals {
	lines := make([]pricing.Line, len(l.lines))
	for i, li := range l.lines {
		lines[i] = li.pricingLine()
	}
	s := pricing.Compute(lines, l.generalDiscount, l.taxRate)
	return Totals{
		Subtotal:    s.Subtotal,
		TaxableBase: s.TaxableBase,
		Tax:         s.Tax,
		GrandTotal:  s.Total,
	}
}

// PaidTotal sums the recorded payments.
func (l *Ledger) PaidTotal() decimal.Decimal {
	paid := decimal.Zero
	for _, p := range l.payments {
		paid = paid.Add(p.Amount)
	}
	return paid
}

// SuggestedPaymentAmount is the amount still owed. A negative value means the
// customer has overpaid by that much.
func (l *Ledger) SuggestedPaymentAmount() decimal.Decimal {
	return l.ComputeTotals().GrandTotal.Sub(l.PaidTotal())
}

// Violation codes reported by ValidateForCommit.
const (
	ViolationNoLines         = "NO_LINES"
	ViolationNoPayments      = "NO_PAYMENTS"
	ViolationPaymentMismatch = "PAYMENT_MISMATCH"
)

// Violation is one reason a sale cannot be committed.
type Violation struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// CommitError lists every violation found, in check order.
type CommitError struct {
	Violations []Violation
}

func (e *CommitError) Error() string {
	msgs := make([]string, len(e.Violations))
	for i, v := range e.Violations {
		msgs[i] = v.Message
	}
	return "sale not committable: " + strings.Join(msgs, "; ")
}

// Unwrap makes errors.Is(err, ErrNotCommittable) hold.
func (e *CommitError) Unwrap() error { return ErrNotCommittable }

// First returns the first violation.
func (e *CommitError) First() Violation {
	if len(e.Violations) == 0 {
		return Violation{}
	}
	return e.Violations[0]
}

// Violations runs the commit checks in order (lines, payments, balance) and
// returns every failure. An empty result means the sale may be committed.
func (l *Ledger) Violations() []Violation {
	var out []Violation
	if len(l.lines) == 0 {
		out = append(out, Violation{Code: ViolationNoLines, Message: "sale has no lines"})
	}
	if len(l.payments) == 0 {
		out = append(out, Violation{Code: ViolationNoPayments, Message: "sale has no payments"})
	}
	total := l.ComputeTotals().GrandTotal
	paid := l.PaidTotal()
	if paid.Sub(total).Abs().GreaterThan(CommitTolerance) {
		out = append(out, Violation{
			Code:    ViolationPaymentMismatch,
			Message: fmt.Sprintf("payments %s do not match total %s", paid.StringFixed(pricing.MoneyPlaces), total.StringFixed(pricing.MoneyPlaces)),
		})
	}
	return out
}

// ValidateForCommit returns a *CommitError when the sale cannot be committed.
func (l *Ledger) ValidateForCommit() error {
	if v := l.Violations(); len(v) > 0 {
		return &CommitError{Violations: v}
	}
	return nil
}

// Snapshot is a read-only copy of the sale for rendering and persistence.
type Snapshot struct {
	State           State           `json:"state"`
	Lines           []LineItem      `json:"lines"`
	Payments        []Payment       `json:"payments"`
	GeneralDiscount decimal.Decimal `json:"generalDiscount"`
	TaxRate         decimal.Decimal `json:"taxRate"`
	Totals          Totals          `json:"totals"`
	Paid            decimal.Decimal `json:"paid"`
	Remaining       decimal.Decimal `json:"remaining"`
}

// Snapshot copies the current sale.
func (l *Ledger) Snapshot() Snapshot {
	totals := l.ComputeTotals()
	paid := l.PaidTotal()
	return Snapshot{
		State:           l.state,
		Lines:           l.Lines(),
		Payments:        l.Payments(),
		GeneralDiscount: l.generalDiscount,
		TaxRate:         l.taxRate,
		Totals:          totals,
		Paid:            paid,
		Remaining:       totals.GrandTotal.Sub(paid),
	}
}
