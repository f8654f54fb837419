package pricing

import "github.com/shopspring/decimal"

// MoneyPlaces is the number of fraction digits totals are rounded to.
const MoneyPlaces int32 = 2

// Line describes a sale line used for pricing calculation.
type Line struct {
	Quantity  decimal.Decimal
	UnitPrice decimal.Decimal
	Discount  decimal.Decimal
}

// Gross returns quantity × unit price before the line discount.
func (l Line) Gross() decimal.Decimal {
	return l.Quantity.Mul(l.UnitPrice)
}

// Total returns the line amount after its discount, rounded to MoneyPlaces.
// Sale subtotals are the plain sum of these amounts.
func (l Line) Total() decimal.Decimal {
	return RoundMoney(l.Gross().Sub(l.Discount))
}

// Summary aggregates computed pricing components.
type Summary struct {
	Subtotal    decimal.Decimal
	Discount    decimal.Decimal
	TaxableBase decimal.Decimal
	Tax         decimal.Decimal
	Total       decimal.Decimal
}

// RoundMoney rounds an amount to MoneyPlaces, half away from zero.
func RoundMoney(d decimal.Decimal) decimal.Decimal {
	return d.Round(MoneyPlaces)
}

// Compute calculates sale totals for the given lines, general discount and tax rate.
// The general discount is not capped; the taxable base never goes below zero.
func Compute(lines []Line, generalDiscount, taxRate decimal.Decimal) Summary {
	subtotal := decimal.Zero
	for _, l := range lines {
		subtotal = subtotal.Add(l.Total())
	}

	taxable := subtotal.Sub(generalDiscount)
	if taxable.IsNegative() {
		taxable = decimal.Zero
	}
	taxable = RoundMoney(taxable)
	tax := RoundMoney(taxable.Mul(taxRate))

	return Summary{
		Subtotal:    subtotal,
		Discount:    generalDiscount,
		TaxableBase: taxable,
		Tax:         tax,
		Total:       taxable.Add(tax),
	}
}
