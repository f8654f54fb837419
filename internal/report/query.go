package report

import (
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/noah-isme/pos-terminal/internal/backend"
	"github.com/noah-isme/pos-terminal/internal/common"
)

// Query filters the sales history. From and To are calendar days, inclusive.
type Query struct {
	From       time.Time
	To         time.Time
	CustomerID string
	SellerID   string
	TerminalID string
	BranchID   string
	Status     string
	Folio      string
	Page       int
	Limit      int
}

func (q Query) fingerprint() string {
	return fingerprint(
		q.From.Format(time.DateOnly), q.To.Format(time.DateOnly),
		q.CustomerID, q.SellerID, q.TerminalID, q.BranchID, q.Status, q.Folio,
		strconv.Itoa(q.Page), strconv.Itoa(q.Limit),
	)
}

// ParseQuery reads history filters. Without dates the last DefaultRange days
// up to today are used.
func (s *Service) ParseQuery(values url.Values) (Query, error) {
	defLimit, maxLimit := s.DefaultLimit, s.MaxLimit
	if defLimit <= 0 {
		defLimit = 50
	}
	if maxLimit <= 0 {
		maxLimit = 200
	}
	page, err := common.ParsePageParams(values, defLimit, maxLimit)
	if err != nil {
		return Query{}, err
	}
	loc := s.location()
	today := s.now().In(loc)
	today = time.Date(today.Year(), today.Month(), today.Day(), 0, 0, 0, 0, loc)
	days := s.DefaultRange
	if days <= 0 {
		days = 30
	}
	q := Query{
		From:       today.AddDate(0, 0, -days),
		To:         today,
		CustomerID: strings.TrimSpace(values.Get("customerId")),
		SellerID:   strings.TrimSpace(values.Get("sellerId")),
		TerminalID: strings.TrimSpace(values.Get("terminalId")),
		BranchID:   strings.TrimSpace(values.Get("branchId")),
		Folio:      strings.TrimSpace(values.Get("folio")),
		Status:     strings.ToUpper(strings.TrimSpace(values.Get("status"))),
		Page:       page.Page,
		Limit:      page.Limit,
	}
	if raw := strings.TrimSpace(values.Get("from")); raw != "" {
		if q.From, err = time.ParseInLocation(time.DateOnly, raw, loc); err != nil {
			return Query{}, common.BadRequest("from", "from must be a YYYY-MM-DD date", err)
		}
	}
	if raw := strings.TrimSpace(values.Get("to")); raw != "" {
		if q.To, err = time.ParseInLocation(time.DateOnly, raw, loc); err != nil {
			return Query{}, common.BadRequest("to", "to must be a YYYY-MM-DD date", err)
		}
	}
	if q.To.Before(q.From) {
		return Query{}, common.BadRequest("from", "from must not be after to", nil)
	}
	switch q.Status {
	case "", backend.SaleCompleted, backend.SalePending, backend.SaleVoided:
	default:
		return Query{}, common.BadRequest("status", "status must be COMPLETADA, PENDIENTE or ANULADA", nil)
	}
	return q, nil
}
