// Package ledger holds the in-progress sale of a terminal: its lines, the
// payments tendered against it and the totals derived from both.
//
// A Ledger is not safe for concurrent use. Callers serialise access, see
// package session.
package ledger

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/noah-isme/pos-terminal/internal/pricing"
)

var (
	// ErrInvalidArgument is returned when an input violates a ledger constraint.
	ErrInvalidArgument = errors.New("invalid argument")
	// ErrNotFound is returned when no line matches the given variant.
	ErrNotFound = errors.New("line not found")
	// ErrOutOfRange is returned for a payment index outside the payment list.
	ErrOutOfRange = errors.New("index out of range")
	// ErrInvalidState is returned when the ledger is mutated after commit.
	ErrInvalidState = errors.New("invalid state")
	// ErrNotCommittable is wrapped by CommitError.
	ErrNotCommittable = errors.New("sale not committable")
)

// CommitTolerance is the largest accepted gap between the paid total and the grand total.
var CommitTolerance = decimal.New(1, -pricing.MoneyPlaces)

// MaxQuantityPlaces is the quantity precision the backend persists.
const MaxQuantityPlaces int32 = 2

const unitPricePlaces int32 = 4

// State is the lifecycle state of a ledger.
type State int

const (
	// Open accepts mutations.
	Open State = iota
	// Committed rejects mutations until Reset.
	Committed
)

func (s State) String() string {
	switch s {
	case Open:
		return "OPEN"
	case Committed:
		return "COMMITTED"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// MarshalText renders the state name.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Product identifies what is being sold on a new line.
type Product struct {
	VariantID   string
	SKU         string
	DisplayName string
	UnitPrice   decimal.Decimal
}

// Option customises a ledger.
type Option func(*Ledger)

// WithQuantityPlaces narrows how many fraction digits a quantity may carry,
// e.g. 0 for terminals that only sell whole units. Values outside
// 0..MaxQuantityPlaces are ignored.
func WithQuantityPlaces(places int32) Option {
	return func(l *Ledger) {
		if places >= 0 && places <= MaxQuantityPlaces {
			l.qtyPlaces = places
		}
	}
}

// Ledger is the aggregate for one in-progress sale.
type Ledger struct {
	lines           []LineItem
	payments        []Payment
	generalDiscount decimal.Decimal
	taxRate         decimal.Decimal
	state           State
	qtyPlaces       int32
}

// New creates an empty Open ledger using the given tax rate for its whole life.
func New(taxRate decimal.Decimal, opts ...Option) (*Ledger, error) {
	if taxRate.IsNegative() {
		return nil, fmt.Errorf("tax rate must not be negative: %w", ErrInvalidArgument)
	}
	l := &Ledger{
		generalDiscount: decimal.Zero,
		taxRate:         taxRate,
		state:           Open,
		qtyPlaces:       MaxQuantityPlaces,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l, nil
}

// State reports the lifecycle state.
func (l *Ledger) State() State { return l.state }

// TaxRate returns the rate fixed at construction.
func (l *Ledger) TaxRate() decimal.Decimal { return l.taxRate }

// GeneralDiscount returns the sale-level discount as entered.
func (l *Ledger) GeneralDiscount() decimal.Decimal { return l.generalDiscount }

// Lines returns a copy of the lines in insertion order.
func (l *Ledger) Lines() []LineItem {
	out := make([]LineItem, len(l.lines))
	copy(out, l.lines)
	return out
}

// Payments returns a copy of the payments in insertion order.
func (l *Ledger) Payments() []Payment {
	out := make([]Payment, len(l.payments))
	copy(out, l.payments)
	return out
}

func (l *Ledger) ensureOpen() error {
	if l.state != Open {
		return fmt.Errorf("sale is %s: %w", l.state, ErrInvalidState)
	}
	return nil
}

func (l *Ledger) indexOf(variantID string) int {
	for i := range l.lines {
		if l.lines[i].VariantID == variantID {
			return i
		}
	}
	return -1
}

func (l *Ledger) checkQuantity(qty decimal.Decimal) error {
	if !qty.IsPositive() {
		return fmt.Errorf("quantity must be positive: %w", ErrInvalidArgument)
	}
	if !fitsPlaces(qty, l.qtyPlaces) {
		return fmt.Errorf("quantity allows at most %d decimal places: %w", l.qtyPlaces, ErrInvalidArgument)
	}
	return nil
}

// AddLine appends a line for the product or, when a line for the same variant
// exists, adds qty to it. A merged line keeps its original price, SKU, name and
// discount.
func (l *Ledger) AddLine(p Product, qty decimal.Decimal) error {
	if err := l.ensureOpen(); err != nil {
		return err
	}
	if p.VariantID == "" {
		return fmt.Errorf("variant id is required: %w", ErrInvalidArgument)
	}
	if err := l.checkQuantity(qty); err != nil {
		return err
	}
	if p.UnitPrice.IsNegative() {
		return fmt.Errorf("unit price must not be negative: %w", ErrInvalidArgument)
	}
	if !fitsPlaces(p.UnitPrice, unitPricePlaces) {
		return fmt.Errorf("unit price allows at most %d decimal places: %w", unitPricePlaces, ErrInvalidArgument)
	}
	if i := l.indexOf(p.VariantID); i >= 0 {
		l.lines[i].Quantity = l.lines[i].Quantity.Add(qty)
		return nil
	}
	l.lines = append(l.lines, LineItem{
		VariantID:    p.VariantID,
		SKU:          p.SKU,
		DisplayName:  p.DisplayName,
		UnitPrice:    p.UnitPrice,
		Quantity:     qty,
		LineDiscount: decimal.Zero,
	})
	return nil
}

// RemoveLine deletes the line for the variant. Order of the remaining lines is kept.
func (l *Ledger) RemoveLine(variantID string) error {
	if err := l.ensureOpen(); err != nil {
		return err
	}
	i := l.indexOf(variantID)
	if i < 0 {
		return fmt.Errorf("variant %q: %w", variantID, ErrNotFound)
	}
	l.lines = append(l.lines[:i], l.lines[i+1:]...)
	return nil
}

// SetLineQuantity replaces the quantity of a line. If the discount no longer
// fits under the new gross amount it is reduced to the largest cent amount
// that does.
func (l *Ledger) SetLineQuantity(variantID string, qty decimal.Decimal) error {
	return l.UpdateLine(variantID, &qty, nil)
}

// SetLineDiscount sets the discount of a line, bounded by its gross amount.
func (l *Ledger) SetLineDiscount(variantID string, discount decimal.Decimal) error {
	return l.UpdateLine(variantID, nil, &discount)
}

// UpdateLine changes the quantity, the discount or both on one line. Both
// values are checked before either is written. Without a new discount an
// existing one is clamped to the new gross amount; an explicit discount must
// fit under it.
func (l *Ledger) UpdateLine(variantID string, qty, discount *decimal.Decimal) error {
	if err := l.ensureOpen(); err != nil {
		return err
	}
	if qty == nil && discount == nil {
		return fmt.Errorf("quantity or discount is required: %w", ErrInvalidArgument)
	}
	if qty != nil {
		if err := l.checkQuantity(*qty); err != nil {
			return err
		}
	}
	if discount != nil {
		if err := checkMoney("line discount", *discount); err != nil {
			return err
		}
	}
	i := l.indexOf(variantID)
	if i < 0 {
		return fmt.Errorf("variant %q: %w", variantID, ErrNotFound)
	}

	next := l.lines[i]
	if qty != nil {
		next.Quantity = *qty
	}
	gross := next.Gross()
	switch {
	case discount != nil:
		if discount.GreaterThan(gross) {
			return fmt.Errorf("line discount %s exceeds line amount %s: %w", discount, gross, ErrInvalidArgument)
		}
		next.LineDiscount = *discount
	case next.LineDiscount.GreaterThan(gross):
		next.LineDiscount = gross.Truncate(pricing.MoneyPlaces)
	}
	l.lines[i] = next
	return nil
}

// SetGeneralDiscount sets the sale-level discount. It may exceed the subtotal;
// the taxable base is clamped at zero instead.
func (l *Ledger) SetGeneralDiscount(amount decimal.Decimal) error {
	if err := l.ensureOpen(); err != nil {
		return err
	}
	if err := checkMoney("general discount", amount); err != nil {
		return err
	}
	l.generalDiscount = amount
	return nil
}

// AddPayment records a tender against the sale.
func (l *Ledger) AddPayment(p Payment) error {
	if err := l.ensureOpen(); err != nil {
		return err
	}
	if p.MethodID == "" {
		return fmt.Errorf("payment method is required: %w", ErrInvalidArgument)
	}
	if !p.Amount.IsPositive() {
		return fmt.Errorf("payment amount must be positive: %w", ErrInvalidArgument)
	}
	if !fitsPlaces(p.Amount, pricing.MoneyPlaces) {
		return fmt.Errorf("payment amount allows at most %d decimal places: %w", pricing.MoneyPlaces, ErrInvalidArgument)
	}
	l.payments = append(l.payments, p)
	return nil
}

// RemovePayment deletes the payment at index.
func (l *Ledger) RemovePayment(index int) error {
	if err := l.ensureOpen(); err != nil {
		return err
	}
	if index < 0 || index >= len(l.payments) {
		return fmt.Errorf("payment %d of %d: %w", index, len(l.payments), ErrOutOfRange)
	}
	l.payments = append(l.payments[:index], l.payments[index+1:]...)
	return nil
}

// Reset clears the sale so the session can start a new one. It is the only
// way out of Committed.
func (l *Ledger) Reset() {
	l.lines = nil
	l.payments = nil
	l.generalDiscount = decimal.Zero
	l.state = Open
}

// MarkCommitted moves an Open, committable ledger to Committed. It is called
// once the sale has been persisted.
func (l *Ledger) MarkCommitted() error {
	if err := l.ensureOpen(); err != nil {
		return err
	}
	if err := l.ValidateForCommit(); err != nil {
		return err
	}
	l.state = Committed
	return nil
}

func checkMoney(field string, amount decimal.Decimal) error {
	if amount.IsNegative() {
		return fmt.Errorf("%s must not be negative: %w", field, ErrInvalidArgument)
	}
	if !fitsPlaces(amount, pricing.MoneyPlaces) {
		return fmt.Errorf("%s allows at most %d decimal places: %w", field, pricing.MoneyPlaces, ErrInvalidArgument)
	}
	return nil
}

func fitsPlaces(d decimal.Decimal, places int32) bool {
	return d.Equal(d.Truncate(places))
}
