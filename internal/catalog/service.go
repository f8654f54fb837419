package catalog

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/noah-isme/pos-terminal/internal/backend"
	"github.com/noah-isme/pos-terminal/internal/common"
	"github.com/noah-isme/pos-terminal/internal/tenant"
)

// ErrNotFound is returned when a scanned code matches no variant.
var ErrNotFound = errors.New("catalog: no variant matches code")

// Backend is the part of the sales backend the picker needs.
type Backend interface {
	SearchVariants(ctx context.Context, q backend.VariantQuery) (backend.Page[backend.CatalogItem], error)
	ListPaymentMethods(ctx context.Context) ([]backend.PaymentMethod, error)
}

// Service serves product searches, code lookups and payment methods.
type Service struct {
	backend      Backend
	cache        *Cache
	methods      *Cache
	defaultLimit int
	maxLimit     int
}

// ServiceConfig groups Service dependencies.
type ServiceConfig struct {
	Backend Backend
	// Cache holds search pages; MethodsCache holds the payment-method list,
	// which changes rarely and is warmed by the worker.
	Cache        *Cache
	MethodsCache *Cache
	DefaultLimit int
	MaxLimit     int
}

// SearchParams captures product picker filters.
type SearchParams struct {
	Query       string
	SKU         string
	Barcode     string
	Brand       string
	Category    string
	MinPrice    *decimal.Decimal
	MaxPrice    *decimal.Decimal
	InStockOnly bool
	Page        int
	Limit       int
}

// SearchResult is one page of variants.
type SearchResult struct {
	Items []backend.CatalogItem `json:"items"`
	Total int                   `json:"total"`
	Page  int                   `json:"-"`
	Limit int                   `json:"-"`
}

// NewService constructs a Service instance.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Backend == nil {
		return nil, errors.New("catalog: backend is required")
	}
	maxLimit := cfg.MaxLimit
	if maxLimit < 1 || maxLimit > backend.MaxVariantLimit {
		maxLimit = 100
	}
	defaultLimit := cfg.DefaultLimit
	if defaultLimit < 1 {
		defaultLimit = 20
	}
	if defaultLimit > maxLimit {
		defaultLimit = maxLimit
	}
	return &Service{
		backend:      cfg.Backend,
		cache:        cfg.Cache,
		methods:      cfg.MethodsCache,
		defaultLimit: defaultLimit,
		maxLimit:     maxLimit,
	}, nil
}

// ParseSearchParams normalises raw query values into typed filters.
func (s *Service) ParseSearchParams(values url.Values) (SearchParams, error) {
	page, err := common.ParsePageParams(values, s.defaultLimit, s.maxLimit)
	if err != nil {
		return SearchParams{}, err
	}
	params := SearchParams{
		Query:    strings.TrimSpace(values.Get("q")),
		SKU:      strings.TrimSpace(values.Get("sku")),
		Barcode:  strings.TrimSpace(values.Get("barcode")),
		Brand:    strings.TrimSpace(values.Get("brand")),
		Category: strings.TrimSpace(values.Get("category")),
		Page:     page.Page,
		Limit:    page.Limit,
	}
	if params.MinPrice, err = parsePrice(values, "minPrice"); err != nil {
		return SearchParams{}, err
	}
	if params.MaxPrice, err = parsePrice(values, "maxPrice"); err != nil {
		return SearchParams{}, err
	}
	if params.MinPrice != nil && params.MaxPrice != nil && params.MinPrice.GreaterThan(*params.MaxPrice) {
		return SearchParams{}, common.BadRequest("price", "minPrice cannot be greater than maxPrice", fmt.Errorf("invalid price range"))
	}
	if v := strings.TrimSpace(values.Get("inStock")); v != "" {
		b, err := parseBool(v)
		if err != nil {
			return SearchParams{}, common.BadRequest("inStock", "inStock must be true or false", err)
		}
		params.InStockOnly = b
	}
	return params, nil
}

// Search lists variants matching params. Pages are cached per tenant.
func (s *Service) Search(ctx context.Context, params SearchParams) (SearchResult, error) {
	if params.Limit < 1 {
		params.Limit = s.defaultLimit
	}
	if params.Page < 1 {
		params.Page = 1
	}
	key := s.searchCacheKey(ctx, params)
	var cached SearchResult
	if ok, err := s.cache.GetJSON(ctx, key, &cached); err == nil && ok {
		cached.Page, cached.Limit = params.Page, params.Limit
		return cached, nil
	}

	page, err := s.backend.SearchVariants(ctx, backend.VariantQuery{
		SKU:         params.SKU,
		Barcode:     params.Barcode,
		ProductName: params.Query,
		Brand:       params.Brand,
		Category:    params.Category,
		MinPrice:    params.MinPrice,
		MaxPrice:    params.MaxPrice,
		Skip:        (params.Page - 1) * params.Limit,
		Limit:       params.Limit,
	})
	if err != nil {
		return SearchResult{}, err
	}
	items := page.Items
	if params.InStockOnly {
		items = make([]backend.CatalogItem, 0, len(page.Items))
		for _, it := range page.Items {
			if it.InStock() {
				items = append(items, it)
			}
		}
	}
	if items == nil {
		items = []backend.CatalogItem{}
	}
	result := SearchResult{Items: items, Total: page.Total, Page: params.Page, Limit: params.Limit}
	_ = s.cache.SetJSON(ctx, key, result)
	return result, nil
}

// Lookup resolves a scanned code: exact barcode first, then exact SKU.
func (s *Service) Lookup(ctx context.Context, code string) (backend.CatalogItem, error) {
	code = strings.TrimSpace(code)
	if code == "" {
		return backend.CatalogItem{}, common.BadRequest("code", "code is required", nil)
	}
	byBarcode, err := s.backend.SearchVariants(ctx, backend.VariantQuery{Barcode: code, Limit: 10})
	if err != nil {
		return backend.CatalogItem{}, err
	}
	for _, it := range byBarcode.Items {
		if it.Barcode == code {
			return it, nil
		}
	}
	bySKU, err := s.backend.SearchVariants(ctx, backend.VariantQuery{SKU: code, Limit: 10})
	if err != nil {
		return backend.CatalogItem{}, err
	}
	for _, it := range bySKU.Items {
		if strings.EqualFold(it.SKU, code) {
			return it, nil
		}
	}
	return backend.CatalogItem{}, fmt.Errorf("%w: %q", ErrNotFound, code)
}

// PaymentMethods returns the tender types of the tenant.
func (s *Service) PaymentMethods(ctx context.Context) ([]backend.PaymentMethod, error) {
	key := methodsCacheKey(ctx)
	var cached []backend.PaymentMethod
	if ok, err := s.methods.GetJSON(ctx, key, &cached); err == nil && ok {
		return cached, nil
	}
	return s.loadPaymentMethods(ctx, key)
}

// PaymentMethod finds one method by id.
func (s *Service) PaymentMethod(ctx context.Context, id string) (backend.PaymentMethod, error) {
	methods, err := s.PaymentMethods(ctx)
	if err != nil {
		return backend.PaymentMethod{}, err
	}
	for _, m := range methods {
		if m.MethodID == id {
			return m, nil
		}
	}
	return backend.PaymentMethod{}, fmt.Errorf("%w: payment method %q", ErrNotFound, id)
}

// WarmPaymentMethods refreshes the cached method list and returns its size.
func (s *Service) WarmPaymentMethods(ctx context.Context) (int, error) {
	methods, err := s.loadPaymentMethods(ctx, methodsCacheKey(ctx))
	return len(methods), err
}

func (s *Service) loadPaymentMethods(ctx context.Context, key string) ([]backend.PaymentMethod, error) {
	methods, err := s.backend.ListPaymentMethods(ctx)
	if err != nil {
		return nil, err
	}
	if methods == nil {
		methods = []backend.PaymentMethod{}
	}
	_ = s.methods.SetJSON(ctx, key, methods)
	return methods, nil
}

func (s *Service) searchCacheKey(ctx context.Context, p SearchParams) string {
	var b strings.Builder
	fmt.Fprintf(&b, "q=%s|sku=%s|bc=%s|br=%s|cat=%s|stock=%t|p=%d|l=%d",
		strings.ToLower(p.Query), p.SKU, p.Barcode, strings.ToLower(p.Brand), strings.ToLower(p.Category),
		p.InStockOnly, p.Page, p.Limit)
	if p.MinPrice != nil {
		b.WriteString("|min=" + p.MinPrice.String())
	}
	if p.MaxPrice != nil {
		b.WriteString("|max=" + p.MaxPrice.String())
	}
	sum := sha1.Sum([]byte(b.String()))
	return tenant.Key(ctx, "catalog", "variants", hex.EncodeToString(sum[:]))
}

func methodsCacheKey(ctx context.Context) string {
	return tenant.Key(ctx, "catalog", "payment-methods")
}

func parsePrice(values url.Values, field string) (*decimal.Decimal, error) {
	raw := strings.TrimSpace(values.Get(field))
	if raw == "" {
		return nil, nil
	}
	d, err := decimal.NewFromString(raw)
	if err != nil || d.IsNegative() {
		return nil, common.BadRequest(field, field+" must be a non-negative number", err)
	}
	return &d, nil
}

func parseBool(value string) (bool, error) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "true", "1", "yes", "y":
		return true, nil
	case "false", "0", "no", "n":
		return false, nil
	default:
		return false, fmt.Errorf("invalid boolean: %s", value)
	}
}
