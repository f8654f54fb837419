package backend

import (
	"context"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
)

// MaxVariantLimit is the largest page the variant listing accepts.
const MaxVariantLimit = 1000

// VariantQuery filters the variant listing. Name filters are substring matches.
type VariantQuery struct {
	SKU         string
	Barcode     string
	ProductName string
	Brand       string
	Category    string
	Subcategory string
	MinPrice    *decimal.Decimal
	MaxPrice    *decimal.Decimal
	Skip        int
	Limit       int
}

func (q VariantQuery) values() url.Values {
	v := url.Values{}
	setIf(v, "sku_variante", q.SKU)
	setIf(v, "codigo_barras_var", q.Barcode)
	setIf(v, "producto_nombre", q.ProductName)
	setIf(v, "marca_nombre", q.Brand)
	setIf(v, "categoria_nombre", q.Category)
	setIf(v, "subcategoria_nombre", q.Subcategory)
	if q.MinPrice != nil {
		v.Set("precio_min", q.MinPrice.String())
	}
	if q.MaxPrice != nil {
		v.Set("precio_max", q.MaxPrice.String())
	}
	setPaging(v, q.Skip, q.Limit, MaxVariantLimit)
	return v
}

type variantDTO struct {
	ID                 string           `json:"id_producto_variante"`
	ProductID          *string          `json:"id_producto"`
	SKU                string           `json:"sku_variante"`
	Barcode            *string          `json:"codigo_barras_var"`
	Price              *decimal.Decimal `json:"precio"`
	ProductName        *string          `json:"producto_nombre"`
	BrandName          *string          `json:"marca_nombre"`
	CategoryName       *string          `json:"categoria_nombre"`
	SubcategoryName    *string          `json:"subcategoria_nombre"`
	Stock              *decimal.Decimal `json:"stock_actual"`
	Product            *struct {
		Name string `json:"nombre"`
	} `json:"producto"`
}

func (d variantDTO) normalize() CatalogItem {
	product := deref(d.ProductName)
	if product == "" && d.Product != nil {
		product = d.Product.Name
	}
	display := product
	if display == "" {
		display = d.SKU
	}
	return CatalogItem{
		VariantID:     d.ID,
		ProductID:     deref(d.ProductID),
		SKU:           d.SKU,
		Barcode:       deref(d.Barcode),
		DisplayName:   display,
		ProductName:   product,
		Brand:         deref(d.BrandName),
		Category:      deref(d.CategoryName),
		Subcategory:   deref(d.SubcategoryName),
		UnitPrice:     decOrZero(d.Price),
		StockQuantity: d.Stock,
	}
}

// SearchVariants lists active variants matching q.
func (c *Client) SearchVariants(ctx context.Context, q VariantQuery) (Page[CatalogItem], error) {
	vals := q.values()
	raw, err := c.do(ctx, http.MethodGet, "/variantes/", vals, nil)
	if err != nil {
		return Page[CatalogItem]{}, err
	}
	dtos, total, err := decodeList[variantDTO](raw)
	if err != nil {
		return Page[CatalogItem]{}, err
	}
	items := make([]CatalogItem, 0, len(dtos))
	for _, d := range dtos {
		items = append(items, d.normalize())
	}
	skip, _ := strconv.Atoi(vals.Get("skip"))
	limit, _ := strconv.Atoi(vals.Get("limit"))
	return Page[CatalogItem]{Items: items, Total: total, Skip: skip, Limit: limit}, nil
}

func setIf(v url.Values, key, val string) {
	if s := strings.TrimSpace(val); s != "" {
		v.Set(key, s)
	}
}

func setPaging(v url.Values, skip, limit, max int) {
	if skip < 0 {
		skip = 0
	}
	if limit <= 0 {
		limit = 100
	}
	if max > 0 && limit > max {
		limit = max
	}
	v.Set("skip", strconv.Itoa(skip))
	v.Set("limit", strconv.Itoa(limit))
}
