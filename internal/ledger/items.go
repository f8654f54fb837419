package ledger

import (
	"encoding/json"

	"github.com/shopspring/decimal"

	"github.com/noah-isme/pos-terminal/internal/pricing"
)

// LineItem is one product variant on the sale.
type LineItem struct {
	VariantID    string
	SKU          string
	DisplayName  string
	UnitPrice    decimal.Decimal
	Quantity     decimal.Decimal
	LineDiscount decimal.Decimal
}

// Gross returns quantity × unit price.
func (li LineItem) Gross() decimal.Decimal {
	return li.pricingLine().Gross()
}

// LineTotal returns the gross amount minus the line discount. It is always
// derived from the current quantity, price and discount.
func (li LineItem) LineTotal() decimal.Decimal {
	return li.pricingLine().Total()
}

func (li LineItem) pricingLine() pricing.Line {
	return pricing.Line{Quantity: li.Quantity, UnitPrice: li.UnitPrice, Discount: li.LineDiscount}
}

type lineItemJSON struct {
	VariantID    string          `json:"variantId"`
	SKU          string          `json:"sku"`
	DisplayName  string          `json:"displayName"`
	UnitPrice    decimal.Decimal `json:"unitPrice"`
	Quantity     decimal.Decimal `json:"quantity"`
	LineDiscount decimal.Decimal `json:"lineDiscount"`
	LineTotal    decimal.Decimal `json:"lineTotal"`
}

// MarshalJSON includes the derived line total.
func (li LineItem) MarshalJSON() ([]byte, error) {
	return json.Marshal(lineItemJSON{
		VariantID:    li.VariantID,
		SKU:          li.SKU,
		DisplayName:  li.DisplayName,
		UnitPrice:    li.UnitPrice,
		Quantity:     li.Quantity,
		LineDiscount: li.LineDiscount,
		LineTotal:    li.LineTotal(),
	})
}

// Payment is a tender recorded against the sale. Payments are never edited;
// remove and re-add instead.
type Payment struct {
	MethodID   string          `json:"methodId"`
	MethodName string          `json:"methodName"`
	Amount     decimal.Decimal `json:"amount"`
	Reference  string          `json:"reference,omitempty"`
}
