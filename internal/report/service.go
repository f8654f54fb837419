// Package report serves the sales history of the terminal.
package report

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/noah-isme/pos-terminal/internal/backend"
	"github.com/noah-isme/pos-terminal/internal/tenant"
)

// sellerWindow is how many rows are scanned when filtering by seller, which
// the backend listing cannot do.
const sellerWindow = 500

// Backend is the read side of the sales backend.
type Backend interface {
	ListSales(ctx context.Context, q backend.SalesQuery) (backend.Page[backend.SaleSummary], error)
	GetSale(ctx context.Context, id string) (backend.SaleSummary, error)
	ListSaleLines(ctx context.Context, saleID string) ([]backend.SaleLine, error)
	ListSalePayments(ctx context.Context, saleID string) ([]backend.SalePayment, error)
	GetCustomer(ctx context.Context, id string) (backend.Customer, error)
	GetUser(ctx context.Context, id string) (backend.User, error)
}

// Service provides cached access to the sales history.
type Service struct {
	Backend      Backend
	R            *redis.Client
	TTL          time.Duration
	NameTTL      time.Duration
	DefaultRange int
	DefaultLimit int
	MaxLimit     int
	Location     *time.Location
	Now          func() time.Time
	Logger       zerolog.Logger
}

// StatusTotal aggregates one sale status.
type StatusTotal struct {
	Count int             `json:"count"`
	Total decimal.Decimal `json:"total"`
}

// Summary totals the sales of a page. Voided sales are counted by status but
// excluded from the amounts.
type Summary struct {
	Count    int                    `json:"count"`
	Subtotal decimal.Decimal        `json:"subtotal"`
	Discount decimal.Decimal        `json:"discount"`
	Tax      decimal.Decimal        `json:"tax"`
	Total    decimal.Decimal        `json:"total"`
	ByStatus map[string]StatusTotal `json:"byStatus"`
}

// History is one page of the sales history.
type History struct {
	Items   []backend.SaleSummary `json:"items"`
	Total   int                   `json:"total"`
	Page    int                   `json:"page"`
	Limit   int                   `json:"limit"`
	Summary Summary               `json:"summary"`
}

// Detail is one sale with its rows.
type Detail struct {
	Sale     backend.SaleSummary   `json:"sale"`
	Lines    []backend.SaleLine    `json:"lines"`
	Payments []backend.SalePayment `json:"payments"`
	Paid     decimal.Decimal       `json:"paid"`
}

func (s *Service) now() time.Time {
	if s != nil && s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

func (s *Service) location() *time.Location {
	if s.Location != nil {
		return s.Location
	}
	return time.Local
}

func cacheKey(parts ...any) string {
	formatted := make([]string, 0, len(parts))
	for _, part := range parts {
		formatted = append(formatted, fmt.Sprint(part))
	}
	return strings.Join(formatted, ":")
}

// History lists sales matching q with resolved names and a page summary.
func (s *Service) History(ctx context.Context, q Query) (History, error) {
	if s == nil || s.Backend == nil {
		return History{}, errors.New("report service not configured")
	}
	key := tenant.Key(ctx, cacheKey("rp", "sales", q.fingerprint()))
	var cached History
	if s.load(ctx, key, &cached) {
		return cached, nil
	}

	bq := backend.SalesQuery{
		CustomerID: q.CustomerID,
		TerminalID: q.TerminalID,
		BranchID:   q.BranchID,
		Folio:      q.Folio,
		Status:     q.Status,
		From:       &q.From,
		To:         &q.To,
		Skip:       (q.Page - 1) * q.Limit,
		Limit:      q.Limit,
	}
	if q.SellerID != "" {
		bq.Skip, bq.Limit = 0, sellerWindow
	}
	page, err := s.Backend.ListSales(ctx, bq)
	if err != nil {
		return History{}, err
	}
	items, total := page.Items, page.Total
	if q.SellerID != "" {
		items, total = paginate(filterSeller(items, q.SellerID), q.Page, q.Limit)
	}
	if err := s.resolveNames(ctx, items); err != nil {
		return History{}, err
	}
	if items == nil {
		items = []backend.SaleSummary{}
	}
	h := History{Items: items, Total: total, Page: q.Page, Limit: q.Limit, Summary: Summarize(items)}
	s.store(ctx, key, h, s.TTL)
	return h, nil
}

// Detail fetches a sale header with its lines and payments.
func (s *Service) Detail(ctx context.Context, saleID string) (Detail, error) {
	if s == nil || s.Backend == nil {
		return Detail{}, errors.New("report service not configured")
	}
	saleID = strings.TrimSpace(saleID)
	if saleID == "" {
		return Detail{}, errors.New("sale id is required")
	}
	var d Detail
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		sale, err := s.Backend.GetSale(gctx, saleID)
		if err != nil {
			return err
		}
		d.Sale = sale
		return nil
	})
	g.Go(func() error {
		lines, err := s.Backend.ListSaleLines(gctx, saleID)
		d.Lines = lines
		return err
	})
	g.Go(func() error {
		payments, err := s.Backend.ListSalePayments(gctx, saleID)
		d.Payments = payments
		return err
	})
	if err := g.Wait(); err != nil {
		return Detail{}, err
	}
	one := []backend.SaleSummary{d.Sale}
	if err := s.resolveNames(ctx, one); err != nil {
		return Detail{}, err
	}
	d.Sale = one[0]
	d.Paid = decimal.Zero
	for _, p := range d.Payments {
		d.Paid = d.Paid.Add(p.Amount)
	}
	return d, nil
}

// Summarize totals a page of sales.
func Summarize(items []backend.SaleSummary) Summary {
	sum := Summary{
		Subtotal: decimal.Zero,
		Discount: decimal.Zero,
		Tax:      decimal.Zero,
		Total:    decimal.Zero,
		ByStatus: map[string]StatusTotal{},
	}
	for _, it := range items {
		st := sum.ByStatus[it.Status]
		st.Count++
		st.Total = st.Total.Add(it.Total)
		sum.ByStatus[it.Status] = st
		if it.Status == backend.SaleVoided {
			continue
		}
		sum.Count++
		sum.Subtotal = sum.Subtotal.Add(it.Subtotal)
		sum.Discount = sum.Discount.Add(it.Discount)
		sum.Tax = sum.Tax.Add(it.Tax)
		sum.Total = sum.Total.Add(it.Total)
	}
	return sum
}

// resolveNames fills customer and seller names, consulting the name cache
// first. A name that cannot be resolved is left empty.
func (s *Service) resolveNames(ctx context.Context, items []backend.SaleSummary) error {
	customers := map[string]string{}
	sellers := map[string]string{}
	for _, it := range items {
		if it.CustomerID != "" && it.CustomerName == "" {
			customers[it.CustomerID] = ""
		}
		if it.SellerID != "" && it.SellerName == "" {
			sellers[it.SellerID] = ""
		}
	}
	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(8)
	for id := range customers {
		id := id
		g.Go(func() error {
			name := s.name(gctx, "customer", id, func(ctx context.Context) (string, error) {
				c, err := s.Backend.GetCustomer(ctx, id)
				return c.DisplayName(), err
			})
			mu.Lock()
			customers[id] = name
			mu.Unlock()
			return nil
		})
	}
	for id := range sellers {
		id := id
		g.Go(func() error {
			name := s.name(gctx, "seller", id, func(ctx context.Context) (string, error) {
				u, err := s.Backend.GetUser(ctx, id)
				return u.FullName(), err
			})
			mu.Lock()
			sellers[id] = name
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	for i := range items {
		if items[i].CustomerName == "" {
			items[i].CustomerName = customers[items[i].CustomerID]
		}
		if items[i].SellerName == "" {
			items[i].SellerName = sellers[items[i].SellerID]
		}
	}
	return nil
}

func (s *Service) name(ctx context.Context, kind, id string, fetch func(context.Context) (string, error)) string {
	key := tenant.Key(ctx, cacheKey("rp", "name", kind, id))
	var cached string
	if s.load(ctx, key, &cached) {
		return cached
	}
	name, err := fetch(ctx)
	if err != nil {
		s.Logger.Debug().Err(err).Str("kind", kind).Str("id", id).Msg("report_name_unresolved")
		return ""
	}
	ttl := s.NameTTL
	if ttl <= 0 {
		ttl = time.Hour
	}
	s.store(ctx, key, name, ttl)
	return name
}

func (s *Service) load(ctx context.Context, key string, dst any) bool {
	if s.R == nil || s.TTL <= 0 {
		return false
	}
	data, err := s.R.Get(ctx, key).Bytes()
	if err != nil {
		return false
	}
	return json.Unmarshal(data, dst) == nil
}

func (s *Service) store(ctx context.Context, key string, value any, ttl time.Duration) {
	if s.R == nil || s.TTL <= 0 || ttl <= 0 {
		return
	}
	data, err := json.Marshal(value)
	if err != nil {
		return
	}
	_ = s.R.Set(ctx, key, data, ttl).Err()
}

func filterSeller(items []backend.SaleSummary, sellerID string) []backend.SaleSummary {
	out := make([]backend.SaleSummary, 0, len(items))
	for _, it := range items {
		if it.SellerID == sellerID {
			out = append(out, it)
		}
	}
	return out
}

func paginate(items []backend.SaleSummary, page, limit int) ([]backend.SaleSummary, int) {
	total := len(items)
	start := (page - 1) * limit
	if start >= total {
		return []backend.SaleSummary{}, total
	}
	end := start + limit
	if end > total {
		end = total
	}
	return items[start:end], total
}

func fingerprint(parts ...string) string {
	sum := sha1.Sum([]byte(strings.Join(parts, "|")))
	return hex.EncodeToString(sum[:8])
}
