// Package customer backs the customer picker of the terminal.
package customer

import (
	"context"
	"errors"
	"net/url"
	"regexp"
	"strings"

	"github.com/noah-isme/pos-terminal/internal/backend"
	"github.com/noah-isme/pos-terminal/internal/catalog"
	"github.com/noah-isme/pos-terminal/internal/common"
	"github.com/noah-isme/pos-terminal/internal/tenant"
)

// rfcPattern matches Mexican tax ids: 3 letters for companies, 4 for people,
// a yymmdd date and a 3 character check.
var rfcPattern = regexp.MustCompile(`^[A-ZÑ&]{3,4}\d{6}[A-Z0-9]{3}$`)

// Backend is the customer part of the sales backend.
type Backend interface {
	SearchCustomers(ctx context.Context, q backend.CustomerQuery) (backend.Page[backend.Customer], error)
	GetCustomer(ctx context.Context, id string) (backend.Customer, error)
}

// Service searches and resolves customers.
type Service struct {
	Backend      Backend
	Cache        *catalog.Cache
	DefaultLimit int
	MaxLimit     int
}

// SearchParams are the picker filters.
type SearchParams struct {
	Query string
	Phone string
	Email string
	TaxID string
	Type  string
	Page  int
	Limit int
}

// SearchResult is one page of customers.
type SearchResult struct {
	Items []backend.Customer
	Total int
	Page  int
	Limit int
}

// ParseSearchParams reads picker filters from the query string.
func (s *Service) ParseSearchParams(values url.Values) (SearchParams, error) {
	page, err := common.ParsePageParams(values, s.defaultLimit(), s.maxLimit())
	if err != nil {
		return SearchParams{}, err
	}
	p := SearchParams{
		Query: strings.TrimSpace(values.Get("q")),
		Phone: strings.TrimSpace(values.Get("phone")),
		Email: strings.TrimSpace(values.Get("email")),
		TaxID: strings.ToUpper(strings.TrimSpace(values.Get("taxId"))),
		Type:  strings.ToUpper(strings.TrimSpace(values.Get("type"))),
		Page:  page.Page,
		Limit: page.Limit,
	}
	switch p.Type {
	case "", backend.CustomerIndividual, backend.CustomerCompany:
	default:
		return SearchParams{}, common.BadRequest("type", "type must be FISICA or MORAL", nil)
	}
	return p, nil
}

// Search runs the picker query. Free text that looks like a tax id is matched
// against the RFC; otherwise it matches the first name, and companies by
// business name when nothing else matched.
func (s *Service) Search(ctx context.Context, p SearchParams) (SearchResult, error) {
	if s.Backend == nil {
		return SearchResult{}, errors.New("customer: backend is required")
	}
	if p.Limit < 1 {
		p.Limit = s.defaultLimit()
	}
	if p.Page < 1 {
		p.Page = 1
	}
	q := backend.CustomerQuery{
		Phone: p.Phone,
		Email: p.Email,
		TaxID: p.TaxID,
		Skip:  (p.Page - 1) * p.Limit,
		Limit: p.Limit,
	}
	text := p.Query
	switch {
	case text == "":
	case rfcPattern.MatchString(strings.ToUpper(text)):
		q.TaxID = strings.ToUpper(text)
	case p.Type == backend.CustomerCompany:
		q.BusinessName = text
	default:
		q.FirstName = text
	}
	page, err := s.Backend.SearchCustomers(ctx, q)
	if err != nil {
		return SearchResult{}, err
	}
	if len(page.Items) == 0 && q.FirstName != "" && p.Type == "" {
		q.FirstName, q.BusinessName = "", text
		if page, err = s.Backend.SearchCustomers(ctx, q); err != nil {
			return SearchResult{}, err
		}
	}
	items := filterType(page.Items, p.Type)
	return SearchResult{Items: items, Total: page.Total, Page: p.Page, Limit: p.Limit}, nil
}

// Get resolves a customer by id, through the cache.
func (s *Service) Get(ctx context.Context, id string) (backend.Customer, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return backend.Customer{}, common.BadRequest("customerId", "customer id is required", nil)
	}
	if s.Backend == nil {
		return backend.Customer{}, errors.New("customer: backend is required")
	}
	key := tenant.Key(ctx, "customer", id)
	var cached backend.Customer
	if ok, err := s.Cache.GetJSON(ctx, key, &cached); err == nil && ok {
		return cached, nil
	}
	c, err := s.Backend.GetCustomer(ctx, id)
	if err != nil {
		return backend.Customer{}, err
	}
	_ = s.Cache.SetJSON(ctx, key, c)
	return c, nil
}

func filterType(items []backend.Customer, typ string) []backend.Customer {
	out := make([]backend.Customer, 0, len(items))
	for _, c := range items {
		if typ == "" || c.Type == typ {
			out = append(out, c)
		}
	}
	return out
}

func (s *Service) defaultLimit() int {
	if s.DefaultLimit < 1 {
		return 20
	}
	return s.DefaultLimit
}

func (s *Service) maxLimit() int {
	if s.MaxLimit < 1 {
		return 100
	}
	return s.MaxLimit
}
