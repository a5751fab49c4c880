// Package rooms tracks which per-order rooms a socket session is subscribed
// to, queueing joins requested before the handshake finished and replaying
// every membership after each reconnect.
package rooms

import (
	"log/slog"
	"sync"
)

// Membership is the subscription state of one order id.
type Membership int

const (
	// None means the id is not tracked at all.
	None Membership = iota
	// Pending means join was requested while the socket was down; the
	// subscribe emit is owed on the next connect.
	Pending
	// Joined means the subscribe emit went out on the current connection.
	Joined
)

// Emitter is the slice of the socket session the tracker needs. Satisfied by
// *socket.Session.
type Emitter interface {
	Emit(event string, payload any) error
	Connected() bool
}

// Config names the wire events for one namespace: joinOrder/leaveOrder on
// the orders namespace, subscribeToOrder/unsubscribeFromOrder on tracking.
type Config struct {
	JoinEvent  string
	LeaveEvent string
	Logger     *slog.Logger
}

type roomPayload struct {
	OrderID string `json:"orderId"`
}

// Tracker maintains the pending/joined split for one session. All methods
// are safe for concurrent use.
type Tracker struct {
	emitter Emitter
	cfg     Config
	logger  *slog.Logger

	mu      sync.Mutex
	joined  map[string]struct{}
	pending map[string]struct{}
}

// New creates a tracker. Wire ReconcileOnReconnect into the session's
// OnConnect hook and LeaveAll into OnClose; the tracker does not register
// itself so the composition root controls hook ordering.
func New(emitter Emitter, cfg Config) *Tracker {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Tracker{
		emitter: emitter,
		cfg:     cfg,
		logger:  logger.WithGroup("rooms"),
		joined:  make(map[string]struct{}),
		pending: make(map[string]struct{}),
	}
}

// Join subscribes to an order's room. Already joined or already pending ids
// are a no-op. While disconnected the id is queued, never dropped.
func (t *Tracker) Join(orderID string) {
	if orderID == "" {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	if _, ok := t.joined[orderID]; ok {
		return
	}
	if _, ok := t.pending[orderID]; ok {
		return
	}

	if !t.emitter.Connected() {
		t.pending[orderID] = struct{}{}
		t.logger.Debug("join queued", slog.String("order_id", orderID))
		return
	}

	if err := t.emitter.Emit(t.cfg.JoinEvent, roomPayload{OrderID: orderID}); err != nil {
		// Lost the connection between the check and the emit; the id is
		// owed on reconnect like any other queued join.
		t.pending[orderID] = struct{}{}
		t.logger.Debug("join deferred", slog.String("order_id", orderID), slog.String("error", err.Error()))
		return
	}
	t.joined[orderID] = struct{}{}
	t.logger.Debug("joined", slog.String("order_id", orderID))
}

// Leave unsubscribes from an order's room. A pending id is simply forgotten
// without emitting; it was never announced to the server.
func (t *Tracker) Leave(orderID string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if _, ok := t.pending[orderID]; ok {
		delete(t.pending, orderID)
		return
	}
	if _, ok := t.joined[orderID]; !ok {
		return
	}
	delete(t.joined, orderID)

	if t.emitter.Connected() {
		if err := t.emitter.Emit(t.cfg.LeaveEvent, roomPayload{OrderID: orderID}); err != nil {
			t.logger.Debug("leave emit failed", slog.String("order_id", orderID), slog.String("error", err.Error()))
		}
	}
}

// ReconcileOnReconnect re-announces every joined id (the server is stateless
// across reconnects) and promotes every pending id. Run it from the
// session's connect hook so replay completes before new events arrive.
func (t *Tracker) ReconcileOnReconnect() {
	t.mu.Lock()
	defer t.mu.Unlock()

	for orderID := range t.joined {
		if err := t.emitter.Emit(t.cfg.JoinEvent, roomPayload{OrderID: orderID}); err != nil {
			t.logger.Warn("rejoin failed", slog.String("order_id", orderID), slog.String("error", err.Error()))
		}
	}
	for orderID := range t.pending {
		if err := t.emitter.Emit(t.cfg.JoinEvent, roomPayload{OrderID: orderID}); err != nil {
			t.logger.Warn("pending join failed", slog.String("order_id", orderID), slog.String("error", err.Error()))
			continue
		}
		t.joined[orderID] = struct{}{}
		delete(t.pending, orderID)
	}

	t.logger.Debug("reconciled rooms", slog.Int("joined", len(t.joined)), slog.Int("pending", len(t.pending)))
}

// LeaveAll emits a best-effort unsubscribe for every joined id and clears
// the tracker. Intended for the session's close hook.
func (t *Tracker) LeaveAll() {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.emitter.Connected() {
		for orderID := range t.joined {
			_ = t.emitter.Emit(t.cfg.LeaveEvent, roomPayload{OrderID: orderID})
		}
	}
	t.joined = make(map[string]struct{})
	t.pending = make(map[string]struct{})
}

// Status returns the membership state of one id.
func (t *Tracker) Status(orderID string) Membership {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.joined[orderID]; ok {
		return Joined
	}
	if _, ok := t.pending[orderID]; ok {
		return Pending
	}
	return None
}

// Joined returns the ids currently marked joined, for diagnostics.
func (t *Tracker) Joined() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]string, 0, len(t.joined))
	for id := range t.joined {
		out = append(out, id)
	}
	return out
}
