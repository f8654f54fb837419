// Package sale exposes terminal sale sessions over HTTP. Every ledger change
// goes through the session so edits are serialised and blocked during commit.
package sale

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/noah-isme/pos-terminal/internal/catalog"
	"github.com/noah-isme/pos-terminal/internal/checkout"
	"github.com/noah-isme/pos-terminal/internal/common"
	"github.com/noah-isme/pos-terminal/internal/customer"
	"github.com/noah-isme/pos-terminal/internal/ledger"
	"github.com/noah-isme/pos-terminal/internal/obs"
	"github.com/noah-isme/pos-terminal/internal/search"
	"github.com/noah-isme/pos-terminal/internal/session"
	"github.com/noah-isme/pos-terminal/internal/tenant"
)

// Handler serves session and ledger operations.
type Handler struct {
	Sessions  *session.Store
	Catalog   *catalog.Service
	Customers *customer.Service
	// Checkout serves commit and discard when set; CommitMiddleware wraps
	// the commit route only.
	Checkout         *checkout.Handler
	CommitMiddleware []func(http.Handler) http.Handler
}

// Routes registers the session routes on r.
func (h *Handler) Routes(r chi.Router) {
	r.Post("/sales", h.Create)
	r.Route("/sales/{id}", func(r chi.Router) {
		r.Get("/", h.Get)
		if h.Checkout != nil {
			r.Delete("/", h.Checkout.Discard)
			r.With(h.CommitMiddleware...).Post("/commit", h.Checkout.Commit)
		}
		r.Post("/reset", h.Reset)
		r.Post("/lines", h.AddLine)
		r.Post("/scan", h.Scan)
		r.Patch("/lines/{variantId}", h.UpdateLine)
		r.Delete("/lines/{variantId}", h.RemoveLine)
		r.Put("/discount", h.SetDiscount)
		r.Put("/customer", h.SetCustomer)
		r.Post("/payments", h.AddPayment)
		r.Delete("/payments/{index}", h.RemovePayment)
		r.Get("/validation", h.Validation)
		r.Get("/products", h.Products)
		r.Get("/customers", h.SearchCustomers)
	})
}

type createRequest struct {
	TaxRate *decimal.Decimal `json:"taxRate"`
}

type addLineRequest struct {
	VariantID   string          `json:"variantId" validate:"required,max=64"`
	SKU         string          `json:"sku" validate:"max=64"`
	DisplayName string          `json:"displayName" validate:"max=200"`
	UnitPrice   decimal.Decimal `json:"unitPrice"`
	Quantity    decimal.Decimal `json:"quantity"`
}

type scanRequest struct {
	Code     string           `json:"code" validate:"required,max=64"`
	Quantity *decimal.Decimal `json:"quantity"`
}

type updateLineRequest struct {
	Quantity *decimal.Decimal `json:"quantity" validate:"required_without_all=Discount"`
	Discount *decimal.Decimal `json:"discount"`
}

type discountRequest struct {
	Amount decimal.Decimal `json:"amount"`
}

type customerRequest struct {
	CustomerID string  `json:"customerId" validate:"max=64"`
	Notes      *string `json:"notes" validate:"omitempty,max=500"`
}

type paymentRequest struct {
	MethodID  string          `json:"methodId" validate:"required,max=64"`
	Amount    decimal.Decimal `json:"amount"`
	Reference string          `json:"reference" validate:"max=100"`
}

type view struct {
	session.State
	SuggestedPayment decimal.Decimal `json:"suggestedPayment"`
}

// Create handles POST /api/v1/sales.
func (h *Handler) Create(w http.ResponseWriter, r *http.Request) {
	term, _ := tenant.TerminalFrom(r.Context())
	var req createRequest
	if r.ContentLength != 0 {
		if err := common.DecodeAndValidate(r, &req); err != nil {
			common.WriteError(w, err)
			return
		}
	}
	sess, err := h.Sessions.Create(session.Identity{
		TenantID:   term.TenantID,
		TerminalID: term.TerminalID,
		BranchID:   term.BranchID,
		SellerID:   term.UserID,
	}, req.TaxRate)
	if err != nil {
		if !errors.Is(err, ledger.ErrInvalidArgument) {
			err = common.BadRequest("terminal", err.Error(), err)
		}
		checkout.WriteError(w, err)
		return
	}
	w.Header().Set("Location", "/api/v1/sales/"+sess.ID)
	render(w, http.StatusCreated, sess)
}

// Get handles GET /api/v1/sales/{id}.
func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	sess, err := h.session(r)
	if err != nil {
		checkout.WriteError(w, err)
		return
	}
	render(w, http.StatusOK, sess)
}

// Reset handles POST /api/v1/sales/{id}/reset.
func (h *Handler) Reset(w http.ResponseWriter, r *http.Request) {
	sess, err := h.session(r)
	if err != nil {
		checkout.WriteError(w, err)
		return
	}
	err = sess.Reset()
	obs.CountMutation("reset", err)
	if err != nil {
		checkout.WriteError(w, err)
		return
	}
	render(w, http.StatusOK, sess)
}

// AddLine handles POST /api/v1/sales/{id}/lines.
func (h *Handler) AddLine(w http.ResponseWriter, r *http.Request) {
	var req addLineRequest
	if err := common.DecodeAndValidate(r, &req); err != nil {
		common.WriteError(w, err)
		return
	}
	p := ledger.Product{
		VariantID:   req.VariantID,
		SKU:         req.SKU,
		DisplayName: req.DisplayName,
		UnitPrice:   req.UnitPrice,
	}
	h.mutate(w, r, "add_line", func(l *ledger.Ledger) error {
		return l.AddLine(p, req.Quantity)
	})
}

// Scan handles POST /api/v1/sales/{id}/scan. The ledger is only touched once
// the code resolved to a variant.
func (h *Handler) Scan(w http.ResponseWriter, r *http.Request) {
	sess, err := h.session(r)
	if err != nil {
		checkout.WriteError(w, err)
		return
	}
	var req scanRequest
	if err := common.DecodeAndValidate(r, &req); err != nil {
		common.WriteError(w, err)
		return
	}
	qty := decimal.NewFromInt(1)
	if req.Quantity != nil {
		qty = *req.Quantity
	}
	if h.Catalog == nil {
		common.JSONError(w, http.StatusInternalServerError, "CATALOG_NOT_CONFIGURED", "catalog service not configured", nil)
		return
	}
	item, err := h.Catalog.Lookup(r.Context(), req.Code)
	if err != nil {
		checkout.WriteError(w, err)
		return
	}
	err = sess.Mutate(func(l *ledger.Ledger) error {
		return l.AddLine(ledger.Product{
			VariantID:   item.VariantID,
			SKU:         item.SKU,
			DisplayName: item.DisplayName,
			UnitPrice:   item.UnitPrice,
		}, qty)
	})
	obs.CountMutation("scan", err)
	if err != nil {
		checkout.WriteError(w, err)
		return
	}
	render(w, http.StatusOK, sess)
}

// UpdateLine handles PATCH /api/v1/sales/{id}/lines/{variantId}. Quantity and
// discount apply together or not at all.
func (h *Handler) UpdateLine(w http.ResponseWriter, r *http.Request) {
	var req updateLineRequest
	if err := common.DecodeAndValidate(r, &req); err != nil {
		common.WriteError(w, err)
		return
	}
	variantID := chi.URLParam(r, "variantId")
	h.mutate(w, r, "update_line", func(l *ledger.Ledger) error {
		return l.UpdateLine(variantID, req.Quantity, req.Discount)
	})
}

// RemoveLine handles DELETE /api/v1/sales/{id}/lines/{variantId}.
func (h *Handler) RemoveLine(w http.ResponseWriter, r *http.Request) {
	variantID := chi.URLParam(r, "variantId")
	h.mutate(w, r, "remove_line", func(l *ledger.Ledger) error {
		return l.RemoveLine(variantID)
	})
}

// SetDiscount handles PUT /api/v1/sales/{id}/discount.
func (h *Handler) SetDiscount(w http.ResponseWriter, r *http.Request) {
	var req discountRequest
	if err := common.DecodeAndValidate(r, &req); err != nil {
		common.WriteError(w, err)
		return
	}
	h.mutate(w, r, "set_discount", func(l *ledger.Ledger) error {
		return l.SetGeneralDiscount(req.Amount)
	})
}

// SetCustomer handles PUT /api/v1/sales/{id}/customer. An empty customerId
// clears the selection.
func (h *Handler) SetCustomer(w http.ResponseWriter, r *http.Request) {
	sess, err := h.session(r)
	if err != nil {
		checkout.WriteError(w, err)
		return
	}
	var req customerRequest
	if err := common.DecodeAndValidate(r, &req); err != nil {
		common.WriteError(w, err)
		return
	}
	var selected *session.Customer
	if req.CustomerID != "" {
		if h.Customers == nil {
			common.JSONError(w, http.StatusInternalServerError, "CUSTOMER_NOT_CONFIGURED", "customer service not configured", nil)
			return
		}
		c, err := h.Customers.Get(r.Context(), req.CustomerID)
		if err != nil {
			checkout.WriteError(w, err)
			return
		}
		selected = &session.Customer{CustomerID: c.CustomerID, Name: c.DisplayName(), TaxID: c.TaxID}
	}
	err = sess.SetCustomerAndNotes(selected, req.Notes)
	obs.CountMutation("set_customer", err)
	if err != nil {
		checkout.WriteError(w, err)
		return
	}
	render(w, http.StatusOK, sess)
}

// AddPayment handles POST /api/v1/sales/{id}/payments. The method must exist
// in the tenant's payment-method catalog.
func (h *Handler) AddPayment(w http.ResponseWriter, r *http.Request) {
	sess, err := h.session(r)
	if err != nil {
		checkout.WriteError(w, err)
		return
	}
	var req paymentRequest
	if err := common.DecodeAndValidate(r, &req); err != nil {
		common.WriteError(w, err)
		return
	}
	p := ledger.Payment{MethodID: req.MethodID, Amount: req.Amount, Reference: req.Reference}
	if h.Catalog != nil {
		method, err := h.Catalog.PaymentMethod(r.Context(), req.MethodID)
		if err != nil {
			if errors.Is(err, catalog.ErrNotFound) {
				err = fmt.Errorf("%w: unknown payment method %q", ledger.ErrInvalidArgument, req.MethodID)
			}
			checkout.WriteError(w, err)
			return
		}
		p.MethodName = method.Name
	}
	err = sess.Mutate(func(l *ledger.Ledger) error { return l.AddPayment(p) })
	obs.CountMutation("add_payment", err)
	if err != nil {
		checkout.WriteError(w, err)
		return
	}
	render(w, http.StatusOK, sess)
}

// RemovePayment handles DELETE /api/v1/sales/{id}/payments/{index}.
func (h *Handler) RemovePayment(w http.ResponseWriter, r *http.Request) {
	index, err := strconv.Atoi(chi.URLParam(r, "index"))
	if err != nil {
		common.WriteError(w, common.BadRequest("index", "index must be an integer", err))
		return
	}
	h.mutate(w, r, "remove_payment", func(l *ledger.Ledger) error {
		return l.RemovePayment(index)
	})
}

// Validation handles GET /api/v1/sales/{id}/validation.
func (h *Handler) Validation(w http.ResponseWriter, r *http.Request) {
	sess, err := h.session(r)
	if err != nil {
		checkout.WriteError(w, err)
		return
	}
	var violations []ledger.Violation
	sess.View(func(l *ledger.Ledger) { violations = l.Violations() })
	if violations == nil {
		violations = []ledger.Violation{}
	}
	common.JSON(w, http.StatusOK, map[string]any{"data": map[string]any{
		"committable": len(violations) == 0,
		"violations":  violations,
	}})
}

// Products handles GET /api/v1/sales/{id}/products. A search overtaken by a
// newer one from the same session answers 409.
func (h *Handler) Products(w http.ResponseWriter, r *http.Request) {
	sess, err := h.session(r)
	if err != nil {
		checkout.WriteError(w, err)
		return
	}
	if h.Catalog == nil {
		common.JSONError(w, http.StatusInternalServerError, "CATALOG_NOT_CONFIGURED", "catalog service not configured", nil)
		return
	}
	params, err := h.Catalog.ParseSearchParams(r.URL.Query())
	if err != nil {
		common.WriteError(w, err)
		return
	}
	res, err := search.Run(r.Context(), &sess.Products, func(ctx context.Context) (catalog.SearchResult, error) {
		return h.Catalog.Search(ctx, params)
	})
	if err != nil {
		if errors.Is(err, search.ErrSuperseded) {
			obs.CountSuperseded("products")
		}
		checkout.WriteError(w, err)
		return
	}
	w.Header().Set("X-Search-Seq", strconv.FormatUint(sess.Products.Latest(), 10))
	common.JSON(w, http.StatusOK, map[string]any{
		"data":       res.Items,
		"pagination": common.Pagination{Page: res.Page, PerPage: res.Limit, TotalItems: res.Total},
	})
}

// SearchCustomers handles GET /api/v1/sales/{id}/customers.
func (h *Handler) SearchCustomers(w http.ResponseWriter, r *http.Request) {
	sess, err := h.session(r)
	if err != nil {
		checkout.WriteError(w, err)
		return
	}
	if h.Customers == nil {
		common.JSONError(w, http.StatusInternalServerError, "CUSTOMER_NOT_CONFIGURED", "customer service not configured", nil)
		return
	}
	params, err := h.Customers.ParseSearchParams(r.URL.Query())
	if err != nil {
		common.WriteError(w, err)
		return
	}
	res, err := search.Run(r.Context(), &sess.Customers, func(ctx context.Context) (customer.SearchResult, error) {
		return h.Customers.Search(ctx, params)
	})
	if err != nil {
		if errors.Is(err, search.ErrSuperseded) {
			obs.CountSuperseded("customers")
		}
		checkout.WriteError(w, err)
		return
	}
	w.Header().Set("X-Search-Seq", strconv.FormatUint(sess.Customers.Latest(), 10))
	common.JSON(w, http.StatusOK, map[string]any{
		"data":       res.Items,
		"pagination": common.Pagination{Page: res.Page, PerPage: res.Limit, TotalItems: res.Total},
	})
}

func (h *Handler) session(r *http.Request) (*session.Session, error) {
	tenantID, _ := tenant.From(r.Context())
	return h.Sessions.Get(tenantID, chi.URLParam(r, "id"))
}

func (h *Handler) mutate(w http.ResponseWriter, r *http.Request, op string, fn func(*ledger.Ledger) error) {
	sess, err := h.session(r)
	if err != nil {
		checkout.WriteError(w, err)
		return
	}
	err = sess.Mutate(fn)
	obs.CountMutation(op, err)
	if err != nil {
		checkout.WriteError(w, err)
		return
	}
	render(w, http.StatusOK, sess)
}

func render(w http.ResponseWriter, status int, sess *session.Session) {
	v := view{State: sess.State()}
	v.SuggestedPayment = v.Sale.Remaining
	common.JSON(w, status, map[string]any{"data": v})
}
