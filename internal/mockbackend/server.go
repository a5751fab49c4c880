// Package mockbackend is an in-process zefood backend for tests: the REST
// endpoints the client calls plus a websocket endpoint speaking the frame
// protocol. Each test gets an isolated server on a random port with request
// capture and push injection.
package mockbackend

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/fclebinho/zefood.app.customer/zefood"
)

// CapturedRequest stores one REST request received by the mock.
type CapturedRequest struct {
	Method    string
	Path      string
	Headers   http.Header
	Timestamp time.Time
}

// Server is the mock backend. Construct with New; it shuts down with the
// test.
type Server struct {
	httpServer *httptest.Server
	state      *State
	hub        *socketHub

	mu       sync.Mutex
	requests []CapturedRequest
}

// New starts a mock backend with automatic cleanup.
func New(t *testing.T) *Server {
	t.Helper()

	s := &Server{
		state: NewState(),
		hub:   newSocketHub(),
	}
	s.hub.resolveSnapshot = func(orderID string) (any, bool) {
		snap, ok := s.state.getSnapshot(orderID)
		if !ok {
			return nil, false
		}
		return snap, true
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/orders", s.handleListOrders)
	mux.HandleFunc("/orders/", s.handleGetOrder)
	mux.HandleFunc("/tracking/order/", s.handleGetTracking)
	mux.HandleFunc("/payments", s.handleSubmitPayment)
	// Namespace endpoints (/socket/orders, /socket/tracking) share one hub;
	// rooms are keyed by order id, so the namespaces do not collide in tests.
	mux.HandleFunc("/socket", s.hub.handleUpgrade)
	mux.HandleFunc("/socket/", s.hub.handleUpgrade)

	s.httpServer = httptest.NewServer(s.capture(mux))
	t.Cleanup(s.Close)
	return s
}

func (s *Server) Close() {
	s.hub.closeAll()
	s.httpServer.Close()
}

// URL returns the REST base URL.
func (s *Server) URL() string {
	return s.httpServer.URL
}

// SocketURL returns the websocket endpoint URL.
func (s *Server) SocketURL() string {
	return "ws" + strings.TrimPrefix(s.httpServer.URL, "http") + "/socket"
}

// State returns the backend's data for seeding and mutation.
func (s *Server) State() *State {
	return s.state
}

// Requests returns a copy of all captured REST requests.
func (s *Server) Requests() []CapturedRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]CapturedRequest, len(s.requests))
	copy(out, s.requests)
	return out
}

// RequestCount returns how many REST requests matched path ("" counts all).
func (s *Server) RequestCount(path string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if path == "" {
		return len(s.requests)
	}
	n := 0
	for _, r := range s.requests {
		if r.Path == path {
			n++
		}
	}
	return n
}

func (s *Server) capture(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasPrefix(r.URL.Path, "/socket") {
			s.mu.Lock()
			s.requests = append(s.requests, CapturedRequest{
				Method:    r.Method,
				Path:      r.URL.Path,
				Headers:   r.Header.Clone(),
				Timestamp: time.Now(),
			})
			s.mu.Unlock()

			if s.state.authFailing() {
				writeJSON(w, http.StatusUnauthorized, map[string]string{"message": "session expired"})
				return
			}
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleListOrders(w http.ResponseWriter, r *http.Request) {
	page, _ := strconv.Atoi(r.URL.Query().Get("page"))
	perPage, _ := strconv.Atoi(r.URL.Query().Get("perPage"))
	rows, total := s.state.listSummaries(page, perPage)
	if page < 1 {
		page = 1
	}
	if perPage < 1 {
		perPage = 20
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"orders":  rows,
		"page":    page,
		"perPage": perPage,
		"total":   total,
	})
}

func (s *Server) handleGetOrder(w http.ResponseWriter, r *http.Request) {
	orderID := strings.TrimPrefix(r.URL.Path, "/orders/")
	order, ok := s.state.getOrder(orderID)
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"message": "order not found"})
		return
	}
	writeJSON(w, http.StatusOK, order)
}

func (s *Server) handleGetTracking(w http.ResponseWriter, r *http.Request) {
	orderID := strings.TrimPrefix(r.URL.Path, "/tracking/order/")
	snap, ok := s.state.getSnapshot(orderID)
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"message": "no tracking data"})
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func (s *Server) handleSubmitPayment(w http.ResponseWriter, r *http.Request) {
	var req struct {
		OrderID string `json:"orderId"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.OrderID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"message": "invalid payment request"})
		return
	}
	if _, ok := s.state.getOrder(req.OrderID); !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"message": "order not found"})
		return
	}
	// The provider accepts immediately; settlement stays PENDING until the
	// test flips it via State.SetPaymentStatus.
	s.state.SetPaymentStatus(req.OrderID, zefood.PaymentPending)
	writeJSON(w, http.StatusOK, map[string]any{
		"orderId":       req.OrderID,
		"paymentStatus": zefood.PaymentPending,
	})
}

// Socket-side helpers, delegated to the hub.

// SessionCount returns how many live socket connections the mock holds.
func (s *Server) SessionCount() int { return s.hub.sessionCount() }

// RoomSize returns how many connections joined the room for an order.
func (s *Server) RoomSize(orderID string) int { return s.hub.roomSize(orderID) }

// Emissions returns the data payloads of every client frame with the given
// event name, across all connections in arrival order.
func (s *Server) Emissions(event string) []json.RawMessage { return s.hub.emissions(event) }

// DropConnections severs every live socket without shutting the server down,
// forcing clients into their reconnect path.
func (s *Server) DropConnections() { s.hub.dropAll() }

// PushStatusUpdate sends orderStatusUpdate to the order's room members.
func (s *Server) PushStatusUpdate(orderID string, status zefood.OrderStatus, order *zefood.Order) {
	payload := map[string]any{"orderId": orderID, "status": status}
	if order != nil {
		payload["order"] = order
	}
	s.hub.pushToRoom(orderID, "orderStatusUpdate", payload)
}

// PushSnapshot sends a server-initiated orderTracking resync.
func (s *Server) PushSnapshot(snap zefood.TrackingSnapshot) {
	s.hub.pushToRoom(snap.OrderID, "orderTracking", map[string]any{"data": snap})
}

// PushDriverLocation sends a driverLocation sample to the order's room.
func (s *Server) PushDriverLocation(orderID string, loc zefood.DriverLocation) {
	s.hub.pushToRoom(orderID, "driverLocation", map[string]any{
		"orderId":   orderID,
		"driverId":  loc.DriverID,
		"latitude":  loc.Latitude,
		"longitude": loc.Longitude,
		"heading":   loc.Heading,
		"speed":     loc.Speed,
		"timestamp": loc.Timestamp,
	})
}

// PushDriverArrived sends the arrival notice to the order's room.
func (s *Server) PushDriverArrived(orderID string, loc zefood.DriverLocation) {
	s.hub.pushToRoom(orderID, "driverArrived", map[string]any{"orderId": orderID, "location": loc})
}

// Broadcast sends an arbitrary event to every live connection, bypassing
// rooms. Used to assert that clients ignore events they never subscribed to.
func (s *Server) Broadcast(event string, payload any) {
	s.hub.broadcast(event, payload)
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
