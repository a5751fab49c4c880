// Package api is the REST client for the zefood backend. Every call is a
// plain request/response over HTTP with a bearer token; 401 responses are
// translated to ErrSessionExpired and announced on the auth event bus so the
// UI layer can prompt re-authentication without the client holding a
// reference to it.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/fclebinho/zefood.app.customer/internal/events"
	"github.com/fclebinho/zefood.app.customer/zefood"
)

// ErrSessionExpired is returned for HTTP 401. Callers must not retry
// silently; the consuming screen prompts for re-authentication.
var ErrSessionExpired = errors.New("session expired")

// APIError carries the backend's HTTP status and message field for
// everything that is not a transport failure.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("api: %d: %s", e.StatusCode, e.Message)
	}
	return fmt.Sprintf("api: unexpected status %d", e.StatusCode)
}

func (e *APIError) Is(target error) bool {
	return target == ErrSessionExpired && e.StatusCode == http.StatusUnauthorized
}

// TokenProvider supplies the current bearer token per request, so a token
// refreshed mid-session is picked up without rebuilding the client.
type TokenProvider func() string

// Config configures the Client.
type Config struct {
	BaseURL    string
	Token      TokenProvider
	HTTPClient *http.Client
	Bus        *events.Bus
	Logger     *slog.Logger
}

// Client talks to the zefood REST backend.
type Client struct {
	baseURL string
	token   TokenProvider
	http    *http.Client
	bus     *events.Bus
	logger  *slog.Logger
}

func NewClient(cfg Config) (*Client, error) {
	base := strings.TrimRight(cfg.BaseURL, "/")
	if base == "" {
		return nil, errors.New("api: base URL is required")
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 15 * time.Second}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		baseURL: base,
		token:   cfg.Token,
		http:    httpClient,
		bus:     cfg.Bus,
		logger:  logger.WithGroup("api"),
	}, nil
}

type errorBody struct {
	Message string `json:"message"`
}

func (c *Client) do(ctx context.Context, method, path string, query url.Values, body, out any) error {
	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		reader = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, u, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != nil {
		if tok := c.token(); tok != "" {
			req.Header.Set("Authorization", "Bearer "+tok)
		}
	}

	c.logger.Debug("requesting", slog.String("method", method), slog.String("url", u))

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized {
		if c.bus != nil {
			c.bus.Publish(events.Event{Kind: events.KindSessionExpired, Message: "session expired"})
		}
		return &APIError{StatusCode: resp.StatusCode, Message: "session expired"}
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		apiErr := &APIError{StatusCode: resp.StatusCode}
		var eb errorBody
		if raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<16)); err == nil {
			if json.Unmarshal(raw, &eb) == nil {
				apiErr.Message = eb.Message
			}
		}
		return apiErr
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s %s: %w", method, path, err)
	}
	return nil
}

// GetOrderTracking is the REST path of the dual-path tracking fetch.
func (c *Client) GetOrderTracking(ctx context.Context, orderID string) (*zefood.TrackingSnapshot, error) {
	var snap zefood.TrackingSnapshot
	if err := c.do(ctx, http.MethodGet, "/tracking/order/"+url.PathEscape(orderID), nil, nil, &snap); err != nil {
		return nil, err
	}
	return &snap, nil
}

// OrdersPage is one page of the orders list.
type OrdersPage struct {
	Orders  []zefood.OrderSummary `json:"orders"`
	Page    int                   `json:"page"`
	PerPage int                   `json:"perPage"`
	Total   int                   `json:"total"`
}

// ListOrders fetches one page of order summaries. Page numbering starts at 1.
func (c *Client) ListOrders(ctx context.Context, page, perPage int) (*OrdersPage, error) {
	query := url.Values{}
	if page > 0 {
		query.Set("page", strconv.Itoa(page))
	}
	if perPage > 0 {
		query.Set("perPage", strconv.Itoa(perPage))
	}
	var out OrdersPage
	if err := c.do(ctx, http.MethodGet, "/orders", query, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// GetOrder fetches the full order detail; used for payment-status polling.
func (c *Client) GetOrder(ctx context.Context, orderID string) (*zefood.Order, error) {
	var out zefood.Order
	if err := c.do(ctx, http.MethodGet, "/orders/"+url.PathEscape(orderID), nil, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}
