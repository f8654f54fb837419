package events

import (
	"time"

	"github.com/shopspring/decimal"
)

// Topic constants for sale lifecycle events.
const (
	TopicSaleCommitted    = "sale.committed"
	TopicSaleCommitFailed = "sale.commit_failed"
	TopicSaleDiscarded    = "sale.discarded"
)

// DefaultTopics returns every topic that is delivered externally.
func DefaultTopics() []string {
	return []string{TopicSaleCommitted, TopicSaleCommitFailed, TopicSaleDiscarded}
}

// SaleCommitted is the payload of TopicSaleCommitted.
type SaleCommitted struct {
	SaleID     string          `json:"saleId"`
	Folio      string          `json:"folio"`
	SessionID  string          `json:"sessionId"`
	TerminalID string          `json:"terminalId"`
	BranchID   string          `json:"branchId,omitempty"`
	SellerID   string          `json:"sellerId,omitempty"`
	CustomerID string          `json:"customerId,omitempty"`
	Lines      int             `json:"lines"`
	Subtotal   decimal.Decimal `json:"subtotal"`
	Tax        decimal.Decimal `json:"tax"`
	Total      decimal.Decimal `json:"total"`
	Paid       decimal.Decimal `json:"paid"`
	At         time.Time       `json:"at"`
}

// SaleCommitFailed is the payload of TopicSaleCommitFailed.
type SaleCommitFailed struct {
	SessionID  string          `json:"sessionId"`
	TerminalID string          `json:"terminalId"`
	Folio      string          `json:"folio,omitempty"`
	Step       string          `json:"step,omitempty"`
	SaleID     string          `json:"saleId,omitempty"`
	Voided     bool            `json:"voided"`
	Total      decimal.Decimal `json:"total"`
	Reason     string          `json:"reason"`
}

// SaleDiscarded is the payload of TopicSaleDiscarded.
type SaleDiscarded struct {
	SessionID  string          `json:"sessionId"`
	TerminalID string          `json:"terminalId"`
	Lines      int             `json:"lines"`
	Total      decimal.Decimal `json:"total"`
	Reason     string          `json:"reason"`
}
