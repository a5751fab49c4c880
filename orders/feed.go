// Package orders keeps the orders list live: a paged REST load, push-driven
// status updates, and a membership synchronizer that keeps the orders
// namespace subscribed to exactly the non-terminal orders.
package orders

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"

	"github.com/fclebinho/zefood.app.customer/api"
	"github.com/fclebinho/zefood.app.customer/rooms"
	"github.com/fclebinho/zefood.app.customer/socket"
	"github.com/fclebinho/zefood.app.customer/zefood"
)

// Lister is the REST slice the feed needs. Satisfied by *api.Client.
type Lister interface {
	ListOrders(ctx context.Context, page, perPage int) (*api.OrdersPage, error)
}

// Conn is the orders-namespace socket surface. Satisfied by *socket.Session.
type Conn interface {
	OnEvent(event string, fn socket.Handler)
	OnConnect(fn func())
	Emit(event string, payload any) error
	Connected() bool
}

// Journal persists order summaries and status transitions. Optional.
type Journal interface {
	UpsertOrderSummary(ctx context.Context, summary zefood.OrderSummary) error
	RecordStatusChange(ctx context.Context, orderID string, status zefood.OrderStatus) error
}

// Config configures the Feed.
type Config struct {
	Lister  Lister
	Conn    Conn
	Journal Journal

	// PageSize for the paged list load. Zero means 50.
	PageSize int

	Logger *slog.Logger

	// OnUpdate receives a copy of the whole list after every change.
	OnUpdate func([]zefood.OrderSummary)
}

// Feed owns the order summaries and the active-set room membership for one
// screen instance.
type Feed struct {
	cfg     Config
	logger  *slog.Logger
	tracker *rooms.Tracker

	ctx    context.Context
	cancel context.CancelFunc

	mu         sync.Mutex
	order      []string
	summaries  map[string]*zefood.OrderSummary
	prevActive map[string]struct{}
	loaded     bool
	closed     bool
}

type statusPush struct {
	OrderID string               `json:"orderId"`
	Status  zefood.OrderStatus   `json:"status"`
	Order   *zefood.OrderSummary `json:"order,omitempty"`
}

// New wires the feed onto the orders-namespace session: the room tracker's
// replay runs in the connect hook before the list re-fetch, so subscriptions
// are never dropped across a reconnect.
func New(cfg Config) *Feed {
	if cfg.PageSize <= 0 {
		cfg.PageSize = 50
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	ctx, cancel := context.WithCancel(context.Background())
	f := &Feed{
		cfg:        cfg,
		logger:     logger.WithGroup("orders"),
		ctx:        ctx,
		cancel:     cancel,
		summaries:  make(map[string]*zefood.OrderSummary),
		prevActive: make(map[string]struct{}),
	}
	f.tracker = rooms.New(cfg.Conn, rooms.Config{
		JoinEvent:  "joinOrder",
		LeaveEvent: "leaveOrder",
		Logger:     logger,
	})

	cfg.Conn.OnConnect(f.tracker.ReconcileOnReconnect)
	cfg.Conn.OnConnect(f.refetchOnReconnect)
	cfg.Conn.OnEvent("orderStatusUpdate", f.handleStatusPush)

	return f
}

// Load fetches every page of the orders list, replaces the local state and
// reconciles room membership against the new active set.
func (f *Feed) Load(ctx context.Context) error {
	var all []zefood.OrderSummary
	for page := 1; ; page++ {
		res, err := f.cfg.Lister.ListOrders(ctx, page, f.cfg.PageSize)
		if err != nil {
			return err
		}
		all = append(all, res.Orders...)
		if len(res.Orders) == 0 || len(all) >= res.Total {
			break
		}
	}

	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return nil
	}
	f.order = f.order[:0]
	f.summaries = make(map[string]*zefood.OrderSummary, len(all))
	for i := range all {
		summary := all[i]
		if _, ok := f.summaries[summary.ID]; ok {
			continue
		}
		f.order = append(f.order, summary.ID)
		f.summaries[summary.ID] = &summary
	}
	f.loaded = true
	f.syncActiveLocked()
	f.mu.Unlock()

	if f.cfg.Journal != nil {
		for _, summary := range all {
			if err := f.cfg.Journal.UpsertOrderSummary(ctx, summary); err != nil {
				f.logger.Debug("journal upsert failed", slog.String("order_id", summary.ID), slog.String("error", err.Error()))
			}
		}
	}

	f.notify()
	return nil
}

// Refresh is Load for the feed's own lifetime context.
func (f *Feed) Refresh() error {
	return f.Load(f.ctx)
}

// Orders returns the summaries in display order.
func (f *Feed) Orders() []zefood.OrderSummary {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]zefood.OrderSummary, 0, len(f.order))
	for _, id := range f.order {
		out = append(out, *f.summaries[id])
	}
	return out
}

// ActiveIDs returns the ids currently considered live.
func (f *Feed) ActiveIDs() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, 0, len(f.prevActive))
	for id := range f.prevActive {
		out = append(out, id)
	}
	return out
}

// Close leaves every remaining room and stops the feed. Idempotent.
func (f *Feed) Close() {
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return
	}
	f.closed = true
	f.mu.Unlock()

	f.cancel()
	f.tracker.LeaveAll()
}

func (f *Feed) refetchOnReconnect() {
	f.mu.Lock()
	shouldRefetch := f.loaded && !f.closed
	f.mu.Unlock()
	if !shouldRefetch {
		return
	}
	// Catch up on status changes missed while offline. Runs after room
	// replay; failures keep the last known list.
	go func() {
		if err := f.Refresh(); err != nil {
			f.logger.Warn("refetch after reconnect failed", slog.String("error", err.Error()))
		}
	}()
}

func (f *Feed) handleStatusPush(data json.RawMessage) {
	var push statusPush
	if err := json.Unmarshal(data, &push); err != nil {
		f.logger.Warn("bad orderStatusUpdate payload", slog.String("error", err.Error()))
		return
	}

	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return
	}
	summary, ok := f.summaries[push.OrderID]
	switch {
	case ok:
		if summary.Status == push.Status {
			f.mu.Unlock()
			return
		}
		summary.Status = push.Status
	case push.Order != nil && push.Order.ID == push.OrderID:
		// A new order surfaced by push before any list refresh saw it.
		added := *push.Order
		added.Status = push.Status
		f.order = append(f.order, added.ID)
		f.summaries[added.ID] = &added
	default:
		// Unknown id with no payload to build a row from: not of interest.
		f.mu.Unlock()
		return
	}
	f.syncActiveLocked()
	f.mu.Unlock()

	if f.cfg.Journal != nil {
		if err := f.cfg.Journal.RecordStatusChange(f.ctx, push.OrderID, push.Status); err != nil {
			f.logger.Debug("journal status failed", slog.String("order_id", push.OrderID), slog.String("error", err.Error()))
		}
	}

	f.notify()
}

// syncActiveLocked computes the join/leave delta between the previous active
// set and the current one and drives the room tracker with exactly that
// delta, avoiding churn when nothing changed.
func (f *Feed) syncActiveLocked() {
	current := make(map[string]struct{})
	for id, summary := range f.summaries {
		if !summary.Status.Terminal() {
			current[id] = struct{}{}
		}
	}

	for id := range current {
		if _, ok := f.prevActive[id]; !ok {
			f.tracker.Join(id)
		}
	}
	for id := range f.prevActive {
		if _, ok := current[id]; !ok {
			f.tracker.Leave(id)
		}
	}
	f.prevActive = current
}

func (f *Feed) notify() {
	if f.cfg.OnUpdate == nil {
		return
	}
	f.cfg.OnUpdate(f.Orders())
}
