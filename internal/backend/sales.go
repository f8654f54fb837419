package backend

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/shopspring/decimal"
)

// Sale types accepted by the backend.
const (
	SaleTypeCash   = "CONTADO"
	SaleTypeCredit = "CREDITO"
)

// CommitRequest is everything needed to persist a finished sale.
type CommitRequest struct {
	Folio      string
	Date       time.Time
	CustomerID string
	TerminalID string
	BranchID   string
	SellerID   string
	Notes      string
	Subtotal   decimal.Decimal
	Discount   decimal.Decimal
	Tax        decimal.Decimal
	Total      decimal.Decimal
	Lines      []CommitLine
	Payments   []CommitPayment
}

// CommitLine is one sale detail row.
type CommitLine struct {
	VariantID    string
	Quantity     decimal.Decimal
	UnitPrice    decimal.Decimal
	LineDiscount decimal.Decimal
	LineTotal    decimal.Decimal
}

// CommitPayment is one payment row.
type CommitPayment struct {
	MethodID  string
	Amount    decimal.Decimal
	Reference string
}

// CommitResult identifies the persisted sale.
type CommitResult struct {
	SaleID string    `json:"saleId"`
	Folio  string    `json:"folio"`
	Date   time.Time `json:"date"`
}

// PartialCommitError is returned when the sale header was created but a later
// step failed. Voided reports whether the header was marked ANULADA afterwards.
type PartialCommitError struct {
	SaleID string
	Step   string
	Voided bool
	Err    error
}

func (e *PartialCommitError) Error() string {
	state := "void failed"
	if e.Voided {
		state = "voided"
	}
	return fmt.Sprintf("backend: sale %s %s after %s failed: %v", e.SaleID, state, e.Step, e.Err)
}

func (e *PartialCommitError) Unwrap() error { return e.Err }

type saleCreateDTO struct {
	CustomerID string          `json:"id_cliente"`
	TerminalID string          `json:"id_terminal"`
	BranchID   string          `json:"id_sucursal"`
	SellerID   string          `json:"id_usuario"`
	Folio      string          `json:"numero_folio"`
	Date       time.Time       `json:"fecha_venta"`
	Subtotal   decimal.Decimal `json:"subtotal"`
	Discount   decimal.Decimal `json:"descuento"`
	Tax        decimal.Decimal `json:"impuesto"`
	Total      decimal.Decimal `json:"total"`
	SaleType   string          `json:"tipo_venta"`
	Status     string          `json:"estado_venta"`
	Notes      *string         `json:"observaciones,omitempty"`
	CreatedBy  string          `json:"created_by"`
	ModifiedBy string          `json:"modified_by"`
}

type saleDTO struct {
	ID         string           `json:"id_venta"`
	CustomerID string           `json:"id_cliente"`
	TerminalID string           `json:"id_terminal"`
	BranchID   string           `json:"id_sucursal"`
	SellerID   string           `json:"id_usuario"`
	Folio      string           `json:"numero_folio"`
	Date       *time.Time       `json:"fecha_venta"`
	Subtotal   decimal.Decimal  `json:"subtotal"`
	Discount   *decimal.Decimal `json:"descuento"`
	Tax        *decimal.Decimal `json:"impuesto"`
	Total      decimal.Decimal  `json:"total"`
	SaleType   *string          `json:"tipo_venta"`
	Status     *string          `json:"estado_venta"`
	Notes      *string          `json:"observaciones"`
	CreatedAt  *time.Time       `json:"created_at"`
}

func (d saleDTO) normalize() SaleSummary {
	date := time.Time{}
	switch {
	case d.Date != nil:
		date = *d.Date
	case d.CreatedAt != nil:
		date = *d.CreatedAt
	}
	return SaleSummary{
		SaleID:     d.ID,
		Date:       date,
		Folio:      d.Folio,
		CustomerID: d.CustomerID,
		SellerID:   d.SellerID,
		TerminalID: d.TerminalID,
		BranchID:   d.BranchID,
		Subtotal:   d.Subtotal,
		Discount:   decOrZero(d.Discount),
		Tax:        decOrZero(d.Tax),
		Total:      d.Total,
		SaleType:   deref(d.SaleType),
		Status:     deref(d.Status),
		Notes:      deref(d.Notes),
	}
}

type saleLineDTO struct {
	ID           string           `json:"id_venta_detalle,omitempty"`
	SaleID       string           `json:"id_venta"`
	VariantID    string           `json:"id_producto_var"`
	Quantity     decimal.Decimal  `json:"cantidad"`
	UnitPrice    decimal.Decimal  `json:"precio_unitario"`
	LineDiscount *decimal.Decimal `json:"descuento_linea"`
	LineTotal    decimal.Decimal  `json:"total_linea"`
}

type salePaymentDTO struct {
	ID        string          `json:"id_pago,omitempty"`
	SaleID    string          `json:"id_venta"`
	MethodID  string          `json:"id_forma_pago"`
	Amount    decimal.Decimal `json:"monto"`
	Reference *string         `json:"referencia,omitempty"`
	Notes     *string         `json:"observaciones,omitempty"`
}

type saleUpdateDTO struct {
	Status     string  `json:"estado_venta"`
	Notes      *string `json:"observaciones,omitempty"`
	ModifiedBy string  `json:"modified_by,omitempty"`
}

func strPtr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// CommitSale persists the sale header, then each line, then each payment. When
// a step after the header fails, the header is voided and a
// *PartialCommitError is returned.
func (c *Client) CommitSale(ctx context.Context, req CommitRequest) (CommitResult, error) {
	if req.CustomerID == "" {
		return CommitResult{}, errors.New("backend: commit needs a customer")
	}
	if len(req.Lines) == 0 || len(req.Payments) == 0 {
		return CommitResult{}, errors.New("backend: commit needs lines and payments")
	}
	seller := req.SellerID
	if seller == "" {
		seller = c.cfg.UserID
	}
	date := req.Date
	if date.IsZero() {
		date = c.now()
	}

	raw, err := c.do(ctx, http.MethodPost, "/ventas/", nil, saleCreateDTO{
		CustomerID: req.CustomerID,
		TerminalID: req.TerminalID,
		BranchID:   req.BranchID,
		SellerID:   seller,
		Folio:      req.Folio,
		Date:       date.UTC(),
		Subtotal:   req.Subtotal,
		Discount:   req.Discount,
		Tax:        req.Tax,
		Total:      req.Total,
		SaleType:   SaleTypeCash,
		Status:     SaleCompleted,
		Notes:      strPtr(req.Notes),
		CreatedBy:  seller,
		ModifiedBy: seller,
	})
	if err != nil {
		return CommitResult{}, err
	}
	created, err := decodeOne[saleDTO](raw)
	if err != nil {
		return CommitResult{}, err
	}
	if created.ID == "" {
		return CommitResult{}, errors.New("backend: sale created without id")
	}

	for i, l := range req.Lines {
		disc := l.LineDiscount
		_, err := c.do(ctx, http.MethodPost, "/venta-detalles/", nil, saleLineDTO{
			SaleID:       created.ID,
			VariantID:    l.VariantID,
			Quantity:     l.Quantity,
			UnitPrice:    l.UnitPrice,
			LineDiscount: &disc,
			LineTotal:    l.LineTotal,
		})
		if err != nil {
			return CommitResult{}, c.compensate(ctx, created.ID, fmt.Sprintf("line %d", i+1), err)
		}
	}
	for i, p := range req.Payments {
		_, err := c.do(ctx, http.MethodPost, "/pagos/", nil, salePaymentDTO{
			SaleID:    created.ID,
			MethodID:  p.MethodID,
			Amount:    p.Amount,
			Reference: strPtr(p.Reference),
		})
		if err != nil {
			return CommitResult{}, c.compensate(ctx, created.ID, fmt.Sprintf("payment %d", i+1), err)
		}
	}

	folio := created.Folio
	if folio == "" {
		folio = req.Folio
	}
	return CommitResult{SaleID: created.ID, Folio: folio, Date: date}, nil
}

// compensate voids a half-written sale. It runs detached from ctx so a
// cancelled request still cleans up.
func (c *Client) compensate(ctx context.Context, saleID, step string, cause error) error {
	vctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.cfg.Timeout)
	defer cancel()
	note := "voided by terminal: " + step + " failed"
	_, err := c.do(vctx, http.MethodPut, "/ventas/"+url.PathEscape(saleID), nil, saleUpdateDTO{
		Status:     SaleVoided,
		Notes:      &note,
		ModifiedBy: c.cfg.UserID,
	})
	if err != nil {
		c.log.Error().Str("sale_id", saleID).Str("step", step).AnErr("cause", cause).AnErr("void_error", err).Msg("sale_commit_void_failed")
	} else {
		c.log.Warn().Str("sale_id", saleID).Str("step", step).AnErr("cause", cause).Msg("sale_commit_voided")
	}
	return &PartialCommitError{SaleID: saleID, Step: step, Voided: err == nil, Err: cause}
}

// SalesQuery filters the sales history. Dates are inclusive calendar days.
type SalesQuery struct {
	CustomerID string
	TerminalID string
	BranchID   string
	Folio      string
	Status     string
	From       *time.Time
	To         *time.Time
	Skip       int
	Limit      int
}

func (q SalesQuery) values() url.Values {
	v := url.Values{}
	setIf(v, "id_cliente", q.CustomerID)
	setIf(v, "id_terminal", q.TerminalID)
	setIf(v, "id_sucursal", q.BranchID)
	setIf(v, "numero_folio", q.Folio)
	setIf(v, "estado_venta", q.Status)
	if q.From != nil {
		v.Set("fecha_desde", q.From.Format(time.DateOnly))
	}
	if q.To != nil {
		v.Set("fecha_hasta", q.To.Format(time.DateOnly))
	}
	setPaging(v, q.Skip, q.Limit, 0)
	return v
}

// ListSales returns sales newest first.
func (c *Client) ListSales(ctx context.Context, q SalesQuery) (Page[SaleSummary], error) {
	vals := q.values()
	raw, err := c.do(ctx, http.MethodGet, "/ventas/", vals, nil)
	if err != nil {
		return Page[SaleSummary]{}, err
	}
	dtos, total, err := decodeList[saleDTO](raw)
	if err != nil {
		return Page[SaleSummary]{}, err
	}
	items := make([]SaleSummary, 0, len(dtos))
	for _, d := range dtos {
		items = append(items, d.normalize())
	}
	skip, _ := strconv.Atoi(vals.Get("skip"))
	limit, _ := strconv.Atoi(vals.Get("limit"))
	return Page[SaleSummary]{Items: items, Total: total, Skip: skip, Limit: limit}, nil
}

// GetSale fetches one sale header.
func (c *Client) GetSale(ctx context.Context, id string) (SaleSummary, error) {
	raw, err := c.do(ctx, http.MethodGet, "/ventas/"+url.PathEscape(id), nil, nil)
	if err != nil {
		return SaleSummary{}, err
	}
	d, err := decodeOne[saleDTO](raw)
	if err != nil {
		return SaleSummary{}, err
	}
	return d.normalize(), nil
}

// ListSaleLines fetches the detail rows of a sale.
func (c *Client) ListSaleLines(ctx context.Context, saleID string) ([]SaleLine, error) {
	raw, err := c.do(ctx, http.MethodGet, "/venta-detalles/venta/"+url.PathEscape(saleID), nil, nil)
	if err != nil {
		return nil, err
	}
	dtos, _, err := decodeList[saleLineDTO](raw)
	if err != nil {
		return nil, err
	}
	out := make([]SaleLine, 0, len(dtos))
	for _, d := range dtos {
		out = append(out, SaleLine{
			LineID:       d.ID,
			VariantID:    d.VariantID,
			Quantity:     d.Quantity,
			UnitPrice:    d.UnitPrice,
			LineDiscount: decOrZero(d.LineDiscount),
			LineTotal:    d.LineTotal,
		})
	}
	return out, nil
}

// ListSalePayments fetches the payments of a sale.
func (c *Client) ListSalePayments(ctx context.Context, saleID string) ([]SalePayment, error) {
	raw, err := c.do(ctx, http.MethodGet, "/pagos/venta/"+url.PathEscape(saleID), nil, nil)
	if err != nil {
		return nil, err
	}
	dtos, _, err := decodeList[salePaymentDTO](raw)
	if err != nil {
		return nil, err
	}
	out := make([]SalePayment, 0, len(dtos))
	for _, d := range dtos {
		out = append(out, SalePayment{PaymentID: d.ID, MethodID: d.MethodID, Amount: d.Amount, Reference: deref(d.Reference)})
	}
	return out, nil
}
