package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fclebinho/zefood.app.customer/internal/events"
	"github.com/fclebinho/zefood.app.customer/zefood"
)

func newTestClient(t *testing.T, handler http.Handler) (*Client, *events.Bus) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	bus := events.NewBus()
	client, err := NewClient(Config{
		BaseURL: srv.URL,
		Token:   func() string { return "tok-123" },
		Bus:     bus,
	})
	require.NoError(t, err)
	return client, bus
}

func TestGetOrderTracking(t *testing.T) {
	var gotAuth string
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		assert.Equal(t, "/tracking/order/ord-1", r.URL.Path)
		json.NewEncoder(w).Encode(zefood.TrackingSnapshot{
			OrderID: "ord-1",
			Status:  zefood.StatusPreparing,
		})
	}))

	snap, err := client.GetOrderTracking(context.Background(), "ord-1")
	require.NoError(t, err)
	assert.Equal(t, "Bearer tok-123", gotAuth)
	assert.Equal(t, "ord-1", snap.OrderID)
	assert.Equal(t, zefood.StatusPreparing, snap.Status)
}

func TestListOrdersPaging(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "2", r.URL.Query().Get("page"))
		assert.Equal(t, "20", r.URL.Query().Get("perPage"))
		json.NewEncoder(w).Encode(OrdersPage{
			Orders: []zefood.OrderSummary{{ID: "ord-21", Status: zefood.StatusPending}},
			Page:   2, PerPage: 20, Total: 21,
		})
	}))

	page, err := client.ListOrders(context.Background(), 2, 20)
	require.NoError(t, err)
	require.Len(t, page.Orders, 1)
	assert.Equal(t, "ord-21", page.Orders[0].ID)
	assert.Equal(t, 21, page.Total)
}

func TestUnauthorizedPublishesSessionExpired(t *testing.T) {
	client, bus := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))

	var published []events.Event
	bus.Subscribe(func(evt events.Event) { published = append(published, evt) })

	_, err := client.GetOrder(context.Background(), "ord-1")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrSessionExpired))

	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusUnauthorized, apiErr.StatusCode)

	require.Len(t, published, 1)
	assert.Equal(t, events.KindSessionExpired, published[0].Kind)
}

func TestServerErrorCarriesMessage(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		json.NewEncoder(w).Encode(map[string]string{"message": "upstream unavailable"})
	}))

	_, err := client.ListOrders(context.Background(), 1, 10)
	require.Error(t, err)
	assert.False(t, errors.Is(err, ErrSessionExpired))

	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusBadGateway, apiErr.StatusCode)
	assert.Equal(t, "upstream unavailable", apiErr.Message)
}

func TestSubmitPayment(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/payments", r.URL.Path)
		var req PaymentRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "ord-1", req.OrderID)
		json.NewEncoder(w).Encode(PaymentResult{OrderID: req.OrderID, PaymentStatus: zefood.PaymentPending})
	}))

	res, err := client.SubmitPayment(context.Background(), PaymentRequest{OrderID: "ord-1", CardID: "card-1"})
	require.NoError(t, err)
	assert.Equal(t, zefood.PaymentPending, res.PaymentStatus)
}
