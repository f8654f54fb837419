package backend

import (
	"context"
	"net/http"
	"net/url"
	"strconv"
)

// CustomerQuery filters the customer listing. All fields are substring matches.
type CustomerQuery struct {
	FirstName    string
	LastName     string
	BusinessName string
	TaxID        string
	Email        string
	Phone        string
	Skip         int
	Limit        int
}

func (q CustomerQuery) values() url.Values {
	v := url.Values{}
	setIf(v, "nombre", q.FirstName)
	setIf(v, "apellido", q.LastName)
	setIf(v, "razon_social", q.BusinessName)
	setIf(v, "rfc", q.TaxID)
	setIf(v, "email", q.Email)
	setIf(v, "telefono", q.Phone)
	if q.Limit <= 0 {
		q.Limit = 50
	}
	setPaging(v, q.Skip, q.Limit, 0)
	return v
}

type customerDTO struct {
	ID           string  `json:"id_cliente"`
	FirstName    string  `json:"nombre"`
	LastName     *string `json:"apellido"`
	BusinessName *string `json:"razon_social"`
	TaxID        *string `json:"rfc"`
	Email        *string `json:"email"`
	Phone        *string `json:"telefono"`
}

func (d customerDTO) normalize() Customer {
	return Customer{
		CustomerID:   d.ID,
		FirstName:    d.FirstName,
		LastName:     deref(d.LastName),
		BusinessName: deref(d.BusinessName),
		Phone:        deref(d.Phone),
		Email:        deref(d.Email),
		TaxID:        deref(d.TaxID),
		Type:         customerType(deref(d.TaxID), deref(d.BusinessName)),
	}
}

// SearchCustomers lists active customers matching q.
func (c *Client) SearchCustomers(ctx context.Context, q CustomerQuery) (Page[Customer], error) {
	vals := q.values()
	raw, err := c.do(ctx, http.MethodGet, "/clientes/", vals, nil)
	if err != nil {
		return Page[Customer]{}, err
	}
	dtos, total, err := decodeList[customerDTO](raw)
	if err != nil {
		return Page[Customer]{}, err
	}
	items := make([]Customer, 0, len(dtos))
	for _, d := range dtos {
		items = append(items, d.normalize())
	}
	skip, _ := strconv.Atoi(vals.Get("skip"))
	limit, _ := strconv.Atoi(vals.Get("limit"))
	return Page[Customer]{Items: items, Total: total, Skip: skip, Limit: limit}, nil
}

// GetCustomer fetches one customer.
func (c *Client) GetCustomer(ctx context.Context, id string) (Customer, error) {
	raw, err := c.do(ctx, http.MethodGet, "/clientes/"+url.PathEscape(id), nil, nil)
	if err != nil {
		return Customer{}, err
	}
	dto, err := decodeOne[customerDTO](raw)
	if err != nil {
		return Customer{}, err
	}
	return dto.normalize(), nil
}
