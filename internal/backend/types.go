package backend

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Page is one page of a backend listing.
type Page[T any] struct {
	Items []T `json:"items"`
	Total int `json:"total"`
	Skip  int `json:"skip"`
	Limit int `json:"limit"`
}

// CatalogItem is a sellable product variant.
type CatalogItem struct {
	VariantID     string           `json:"variantId"`
	ProductID     string           `json:"productId,omitempty"`
	SKU           string           `json:"sku"`
	Barcode       string           `json:"barcode,omitempty"`
	DisplayName   string           `json:"displayName"`
	ProductName   string           `json:"productName,omitempty"`
	Brand         string           `json:"brand,omitempty"`
	Category      string           `json:"category,omitempty"`
	Subcategory   string           `json:"subcategory,omitempty"`
	UnitPrice     decimal.Decimal  `json:"unitPrice"`
	StockQuantity *decimal.Decimal `json:"stockQuantity,omitempty"`
}

// InStock reports whether stock is unknown or positive.
func (it CatalogItem) InStock() bool {
	return it.StockQuantity == nil || it.StockQuantity.IsPositive()
}

// Customer types derived from the tax id.
const (
	CustomerIndividual = "FISICA"
	CustomerCompany    = "MORAL"
)

// Customer is a buyer a sale can be attributed to.
type Customer struct {
	CustomerID   string `json:"customerId"`
	FirstName    string `json:"firstName"`
	LastName     string `json:"lastName,omitempty"`
	BusinessName string `json:"businessName,omitempty"`
	Phone        string `json:"phone,omitempty"`
	Email        string `json:"email,omitempty"`
	TaxID        string `json:"taxId,omitempty"`
	Type         string `json:"type"`
}

// DisplayName prefers the business name for companies.
func (c Customer) DisplayName() string {
	if c.Type == CustomerCompany && c.BusinessName != "" {
		return c.BusinessName
	}
	return strings.TrimSpace(c.FirstName + " " + c.LastName)
}

// customerType follows the RFC format: 12 characters for companies, 13 for people.
func customerType(rfc, businessName string) string {
	switch len(strings.TrimSpace(rfc)) {
	case 12:
		return CustomerCompany
	case 13:
		return CustomerIndividual
	}
	if strings.TrimSpace(businessName) != "" {
		return CustomerCompany
	}
	return CustomerIndividual
}

// PaymentMethod is a tender type accepted by the store.
type PaymentMethod struct {
	MethodID    string `json:"methodId"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
}

// User is a backend user; sellers are users.
type User struct {
	UserID    string `json:"userId"`
	FirstName string `json:"firstName"`
	LastName  string `json:"lastName"`
	Username  string `json:"username"`
	Email     string `json:"email,omitempty"`
}

// FullName joins first and last name.
func (u User) FullName() string {
	return strings.TrimSpace(u.FirstName + " " + u.LastName)
}

// Sale statuses stored by the backend.
const (
	SaleCompleted = "COMPLETADA"
	SalePending   = "PENDIENTE"
	SaleVoided    = "ANULADA"
)

// SaleSummary is one row of the sales history.
type SaleSummary struct {
	SaleID       string          `json:"saleId"`
	Date         time.Time       `json:"date"`
	Folio        string          `json:"folio"`
	CustomerID   string          `json:"customerId"`
	CustomerName string          `json:"customerName,omitempty"`
	SellerID     string          `json:"sellerId"`
	SellerName   string          `json:"sellerName,omitempty"`
	TerminalID   string          `json:"terminalId"`
	BranchID     string          `json:"branchId"`
	Subtotal     decimal.Decimal `json:"subtotal"`
	Discount     decimal.Decimal `json:"discount"`
	Tax          decimal.Decimal `json:"tax"`
	Total        decimal.Decimal `json:"total"`
	SaleType     string          `json:"saleType"`
	Status       string          `json:"status"`
	Notes        string          `json:"notes,omitempty"`
}

// SaleLine is a persisted sale detail row.
type SaleLine struct {
	LineID       string          `json:"lineId"`
	VariantID    string          `json:"variantId"`
	Quantity     decimal.Decimal `json:"quantity"`
	UnitPrice    decimal.Decimal `json:"unitPrice"`
	LineDiscount decimal.Decimal `json:"lineDiscount"`
	LineTotal    decimal.Decimal `json:"lineTotal"`
}

// SalePayment is a persisted payment row.
type SalePayment struct {
	PaymentID string          `json:"paymentId"`
	MethodID  string          `json:"methodId"`
	Amount    decimal.Decimal `json:"amount"`
	Reference string          `json:"reference,omitempty"`
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func decOrZero(d *decimal.Decimal) decimal.Decimal {
	if d == nil {
		return decimal.Zero
	}
	return *d
}
