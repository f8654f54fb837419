package backend

import (
	"context"
	"net/http"
	"net/url"
)

type paymentMethodDTO struct {
	ID          string  `json:"id_forma_pago"`
	Name        string  `json:"nombre"`
	Description *string `json:"descripcion"`
}

// ListPaymentMethods returns every active payment method.
func (c *Client) ListPaymentMethods(ctx context.Context) ([]PaymentMethod, error) {
	v := url.Values{}
	setPaging(v, 0, 100, 0)
	raw, err := c.do(ctx, http.MethodGet, "/formas_pago/", v, nil)
	if err != nil {
		return nil, err
	}
	dtos, _, err := decodeList[paymentMethodDTO](raw)
	if err != nil {
		return nil, err
	}
	out := make([]PaymentMethod, 0, len(dtos))
	for _, d := range dtos {
		out = append(out, PaymentMethod{MethodID: d.ID, Name: d.Name, Description: deref(d.Description)})
	}
	return out, nil
}

type userDTO struct {
	ID        string  `json:"id_usuario"`
	FirstName string  `json:"nombre"`
	LastName  string  `json:"apellido"`
	Username  string  `json:"usuario"`
	Email     *string `json:"email"`
}

// GetUser fetches one user, typically the seller of a sale.
func (c *Client) GetUser(ctx context.Context, id string) (User, error) {
	raw, err := c.do(ctx, http.MethodGet, "/usuarios/"+url.PathEscape(id), nil, nil)
	if err != nil {
		return User{}, err
	}
	d, err := decodeOne[userDTO](raw)
	if err != nil {
		return User{}, err
	}
	return User{UserID: d.ID, FirstName: d.FirstName, LastName: d.LastName, Username: d.Username, Email: deref(d.Email)}, nil
}

// Ping checks the backend answers with a cheap listing call.
func (c *Client) Ping(ctx context.Context) error {
	v := url.Values{}
	setPaging(v, 0, 1, 0)
	_, err := c.do(ctx, http.MethodGet, "/formas_pago/", v, nil)
	return err
}
