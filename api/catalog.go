package api

import (
	"context"
	"net/http"
	"net/url"

	"github.com/fclebinho/zefood.app.customer/zefood"
)

// Catalog, address, card, profile and payment endpoints. These are opaque
// request/response operations: the client submits once and displays the
// outcome; retries and idempotency are the backend's concern.

func (c *Client) ListRestaurants(ctx context.Context) ([]zefood.Restaurant, error) {
	var out struct {
		Restaurants []zefood.Restaurant `json:"restaurants"`
	}
	if err := c.do(ctx, http.MethodGet, "/restaurants", nil, nil, &out); err != nil {
		return nil, err
	}
	return out.Restaurants, nil
}

func (c *Client) GetMenu(ctx context.Context, restaurantID string) ([]zefood.MenuItem, error) {
	var out struct {
		Items []zefood.MenuItem `json:"items"`
	}
	if err := c.do(ctx, http.MethodGet, "/restaurants/"+url.PathEscape(restaurantID)+"/menu", nil, nil, &out); err != nil {
		return nil, err
	}
	return out.Items, nil
}

func (c *Client) ListAddresses(ctx context.Context) ([]zefood.Address, error) {
	var out struct {
		Addresses []zefood.Address `json:"addresses"`
	}
	if err := c.do(ctx, http.MethodGet, "/addresses", nil, nil, &out); err != nil {
		return nil, err
	}
	return out.Addresses, nil
}

func (c *Client) SaveAddress(ctx context.Context, addr zefood.Address) error {
	return c.do(ctx, http.MethodPost, "/addresses", nil, addr, nil)
}

func (c *Client) ListCards(ctx context.Context) ([]zefood.Card, error) {
	var out struct {
		Cards []zefood.Card `json:"cards"`
	}
	if err := c.do(ctx, http.MethodGet, "/cards", nil, nil, &out); err != nil {
		return nil, err
	}
	return out.Cards, nil
}

func (c *Client) GetProfile(ctx context.Context) (*zefood.Profile, error) {
	var out zefood.Profile
	if err := c.do(ctx, http.MethodGet, "/profile", nil, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// PaymentRequest submits an order's payment. The provider token is opaque;
// card collection and formatting happen in the UI layer.
type PaymentRequest struct {
	OrderID       string `json:"orderId"`
	CardID        string `json:"cardId,omitempty"`
	ProviderToken string `json:"providerToken,omitempty"`
}

// PaymentResult reports the provider's immediate outcome. Settlement may
// still be pending; the payments poller watches GET /orders/{id} for that.
type PaymentResult struct {
	OrderID       string               `json:"orderId"`
	PaymentStatus zefood.PaymentStatus `json:"paymentStatus"`
	Message       string               `json:"message,omitempty"`
}

func (c *Client) SubmitPayment(ctx context.Context, req PaymentRequest) (*PaymentResult, error) {
	var out PaymentResult
	if err := c.do(ctx, http.MethodPost, "/payments", nil, req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}
