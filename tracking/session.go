// Package tracking materializes the live view of one order: an initial
// snapshot raced between REST and the socket, then push events merged in as
// they arrive. The session is long-lived across order-id changes; handlers
// always read the currently observed id from session state, never from a
// value captured at registration time.
package tracking

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/fclebinho/zefood.app.customer/socket"
	"github.com/fclebinho/zefood.app.customer/zefood"
)

// Fetcher is the REST path of the dual-path fetch. Satisfied by *api.Client.
type Fetcher interface {
	GetOrderTracking(ctx context.Context, orderID string) (*zefood.TrackingSnapshot, error)
}

// Conn is the slice of the socket session the tracking session needs.
// Satisfied by *socket.Session.
type Conn interface {
	OnEvent(event string, fn socket.Handler)
	OnConnect(fn func())
	Connected() bool
	EmitWithAck(ctx context.Context, event string, payload any) (json.RawMessage, error)
}

// Rooms drives the per-order subscription. Satisfied by *rooms.Tracker.
type Rooms interface {
	Join(orderID string)
	Leave(orderID string)
}

// SnapshotStore persists snapshots for offline display. Optional.
type SnapshotStore interface {
	SaveTrackingSnapshot(ctx context.Context, snap *zefood.TrackingSnapshot) error
}

// Config configures a tracking session.
type Config struct {
	Fetcher Fetcher
	Conn    Conn
	Rooms   Rooms
	Store   SnapshotStore

	// FallbackAfter bounds how long the UI may sit without data before the
	// REST path is forced again. Zero means 3s.
	FallbackAfter time.Duration
	// AckTimeout bounds the socket request/response call. Zero means 5s.
	AckTimeout time.Duration

	Logger *slog.Logger

	// OnChange receives a clone of the snapshot after every mutation.
	OnChange func(*zefood.TrackingSnapshot)
	// OnArrival fires for driverArrived notices. Informational only.
	OnArrival func(orderID string, loc zefood.DriverLocation)
}

// Session tracks one order at a time.
type Session struct {
	cfg    Config
	logger *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc

	// Refresh and the fallback timer can both trigger the REST path at the
	// same moment; concurrent fetches for one order share a single request.
	fetches singleflight.Group

	mu       sync.Mutex
	orderID  string
	gen      int
	snapshot *zefood.TrackingSnapshot
	// Most recent pushes that beat the initial snapshot. Only the latest of
	// each kind is kept; a lost transient ping is tolerable.
	pendingStatus   *zefood.OrderStatus
	pendingLocation *zefood.DriverLocation
	fallback        *time.Timer
	lastErr         error
	closed          bool
}

type statusUpdatePayload struct {
	OrderID string             `json:"orderId"`
	Status  zefood.OrderStatus `json:"status"`
}

type snapshotPayload struct {
	Data zefood.TrackingSnapshot `json:"data"`
}

type arrivalPayload struct {
	OrderID  string                `json:"orderId"`
	Location zefood.DriverLocation `json:"location"`
}

type getTrackingPayload struct {
	OrderID string `json:"orderId"`
}

// New registers the session's handlers on the socket connection. Handlers
// are registered exactly once and survive order-id changes and reconnects.
// Register the rooms tracker's reconnect hook before calling New, so room
// replay precedes the connect-time re-fetch.
func New(cfg Config) *Session {
	if cfg.FallbackAfter <= 0 {
		cfg.FallbackAfter = 3 * time.Second
	}
	if cfg.AckTimeout <= 0 {
		cfg.AckTimeout = 5 * time.Second
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &Session{
		cfg:    cfg,
		logger: logger.WithGroup("tracking"),
		ctx:    ctx,
		cancel: cancel,
	}

	cfg.Conn.OnEvent("orderTracking", s.handleSnapshot)
	cfg.Conn.OnEvent("orderStatusUpdate", s.handleStatus)
	cfg.Conn.OnEvent("driverLocation", s.handleLocation)
	cfg.Conn.OnEvent("driverArrived", s.handleArrived)
	cfg.Conn.OnConnect(s.handleConnect)

	return s
}

// SetOrder re-targets the session: leaves the previous room, joins the new
// one and starts the dual-path fetch. Safe to call rapidly; stale fetch
// results of a previous order are discarded by generation.
func (s *Session) SetOrder(orderID string) {
	s.mu.Lock()
	if s.closed || orderID == s.orderID {
		s.mu.Unlock()
		return
	}

	previous := s.orderID
	s.orderID = orderID
	s.gen++
	gen := s.gen
	s.snapshot = nil
	s.pendingStatus = nil
	s.pendingLocation = nil
	s.lastErr = nil
	if s.fallback != nil {
		s.fallback.Stop()
		s.fallback = nil
	}
	// Clearing the observed order arms no timer; there is nothing to fetch.
	if orderID != "" {
		s.fallback = time.AfterFunc(s.cfg.FallbackAfter, func() { s.fireFallback(gen, orderID) })
	}
	s.mu.Unlock()

	if previous != "" {
		s.cfg.Rooms.Leave(previous)
	}
	if orderID == "" {
		return
	}
	s.cfg.Rooms.Join(orderID)

	// Path A immediately; path B if the socket is already up. Otherwise the
	// connect hook issues it once the handshake completes.
	go s.fetchREST(gen, orderID)
	if s.cfg.Conn.Connected() {
		go s.fetchSocket(gen, orderID)
	}
}

// Refresh re-runs both fetch paths for the current order, e.g. after a REST
// failure surfaced to the user.
func (s *Session) Refresh() {
	s.mu.Lock()
	if s.closed || s.orderID == "" {
		s.mu.Unlock()
		return
	}
	gen, orderID := s.gen, s.orderID
	s.lastErr = nil
	s.mu.Unlock()

	go s.fetchREST(gen, orderID)
	if s.cfg.Conn.Connected() {
		go s.fetchSocket(gen, orderID)
	}
}

// Snapshot returns a clone of the current snapshot, or nil before the first
// fetch resolves.
func (s *Session) Snapshot() *zefood.TrackingSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshot.Clone()
}

// OrderID returns the currently observed order.
func (s *Session) OrderID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.orderID
}

// Err returns the last fetch error, cleared on the next successful fetch.
func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastErr
}

// Close stops the fallback timer, discards in-flight fetch results and
// leaves the current room. Idempotent.
func (s *Session) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	orderID := s.orderID
	s.orderID = ""
	if s.fallback != nil {
		s.fallback.Stop()
		s.fallback = nil
	}
	s.mu.Unlock()

	s.cancel()
	if orderID != "" {
		s.cfg.Rooms.Leave(orderID)
	}
}

// handleConnect runs on every (re)connect, after room replay. If the initial
// snapshot never arrived (the socket was down when SetOrder ran), the socket
// path is issued now.
func (s *Session) handleConnect() {
	s.mu.Lock()
	if s.closed || s.orderID == "" || s.snapshot != nil {
		s.mu.Unlock()
		return
	}
	gen, orderID := s.gen, s.orderID
	s.mu.Unlock()

	go s.fetchSocket(gen, orderID)
}

func (s *Session) fireFallback(gen int, orderID string) {
	s.mu.Lock()
	stale := s.closed || gen != s.gen || s.snapshot != nil
	s.mu.Unlock()
	if stale {
		return
	}
	s.logger.Debug("fallback fetch", slog.String("order_id", orderID))
	s.fetchREST(gen, orderID)
}

func (s *Session) fetchREST(gen int, orderID string) {
	result, err, _ := s.fetches.Do(orderID, func() (any, error) {
		ctx, cancel := context.WithTimeout(s.ctx, 15*time.Second)
		defer cancel()
		return s.cfg.Fetcher.GetOrderTracking(ctx, orderID)
	})
	if err != nil {
		s.recordFetchError(gen, err)
		return
	}
	s.applyFetched(gen, result.(*zefood.TrackingSnapshot))
}

func (s *Session) fetchSocket(gen int, orderID string) {
	ctx, cancel := context.WithTimeout(s.ctx, s.cfg.AckTimeout)
	defer cancel()

	raw, err := s.cfg.Conn.EmitWithAck(ctx, "getOrderTracking", getTrackingPayload{OrderID: orderID})
	if err != nil {
		// The REST path supersedes an unresolved or failed ack; nothing to
		// surface here.
		s.logger.Debug("socket fetch unresolved", slog.String("order_id", orderID), slog.String("error", err.Error()))
		return
	}

	var payload snapshotPayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		s.logger.Warn("socket fetch payload invalid", slog.String("error", err.Error()))
		return
	}
	snap := payload.Data
	s.applyFetched(gen, &snap)
}

// applyFetched installs a fetched snapshot. Both paths legitimately run;
// whichever resolves later overwrites (last write wins, no version
// comparison). Buffered pushes that arrived before the snapshot existed are
// merged in.
func (s *Session) applyFetched(gen int, snap *zefood.TrackingSnapshot) {
	s.mu.Lock()
	if s.closed || gen != s.gen {
		s.mu.Unlock()
		return
	}
	s.snapshot = snap
	s.lastErr = nil
	if s.pendingStatus != nil {
		s.snapshot.ApplyStatus(*s.pendingStatus)
		s.pendingStatus = nil
	}
	if s.pendingLocation != nil {
		s.snapshot.ApplyLocation(*s.pendingLocation)
		s.pendingLocation = nil
	}
	s.mu.Unlock()

	s.notify()
}

func (s *Session) recordFetchError(gen int, err error) {
	s.mu.Lock()
	if !s.closed && gen == s.gen && s.snapshot == nil {
		s.lastErr = err
	}
	s.mu.Unlock()
	s.logger.Warn("tracking fetch failed", slog.String("error", err.Error()))
}

func (s *Session) handleStatus(data json.RawMessage) {
	var payload statusUpdatePayload
	if err := json.Unmarshal(data, &payload); err != nil {
		s.logger.Warn("bad orderStatusUpdate payload", slog.String("error", err.Error()))
		return
	}

	s.mu.Lock()
	if s.closed || payload.OrderID != s.orderID {
		// Late event for a previously tracked order. Not an error.
		s.mu.Unlock()
		return
	}
	if s.snapshot == nil {
		s.pendingStatus = &payload.Status
		s.mu.Unlock()
		return
	}
	s.snapshot.ApplyStatus(payload.Status)
	s.mu.Unlock()

	s.notify()
}

func (s *Session) handleLocation(data json.RawMessage) {
	var loc struct {
		OrderID string `json:"orderId"`
		zefood.DriverLocation
	}
	if err := json.Unmarshal(data, &loc); err != nil {
		s.logger.Warn("bad driverLocation payload", slog.String("error", err.Error()))
		return
	}

	s.mu.Lock()
	if s.closed || loc.OrderID != s.orderID {
		s.mu.Unlock()
		return
	}
	if s.snapshot == nil {
		sample := loc.DriverLocation
		s.pendingLocation = &sample
		s.mu.Unlock()
		return
	}
	s.snapshot.ApplyLocation(loc.DriverLocation)
	s.mu.Unlock()

	s.notify()
}

func (s *Session) handleSnapshot(data json.RawMessage) {
	var payload snapshotPayload
	if err := json.Unmarshal(data, &payload); err != nil {
		s.logger.Warn("bad orderTracking payload", slog.String("error", err.Error()))
		return
	}
	snap := payload.Data

	s.mu.Lock()
	if s.closed || (snap.OrderID != "" && snap.OrderID != s.orderID) {
		s.mu.Unlock()
		return
	}
	// Server-initiated resync replaces the snapshot wholesale and obsoletes
	// anything buffered before it.
	s.snapshot = &snap
	s.pendingStatus = nil
	s.pendingLocation = nil
	s.lastErr = nil
	s.mu.Unlock()

	s.notify()
}

func (s *Session) handleArrived(data json.RawMessage) {
	var payload arrivalPayload
	if err := json.Unmarshal(data, &payload); err != nil {
		s.logger.Warn("bad driverArrived payload", slog.String("error", err.Error()))
		return
	}

	s.mu.Lock()
	match := !s.closed && payload.OrderID == s.orderID
	s.mu.Unlock()
	if !match {
		return
	}

	s.logger.Info("driver arrived", slog.String("order_id", payload.OrderID))
	if s.cfg.OnArrival != nil {
		s.cfg.OnArrival(payload.OrderID, payload.Location)
	}
}

func (s *Session) notify() {
	s.mu.Lock()
	snap := s.snapshot.Clone()
	closed := s.closed
	s.mu.Unlock()
	if closed || snap == nil {
		return
	}

	if s.cfg.Store != nil {
		if err := s.cfg.Store.SaveTrackingSnapshot(s.ctx, snap); err != nil {
			s.logger.Debug("snapshot persist failed", slog.String("error", err.Error()))
		}
	}
	if s.cfg.OnChange != nil {
		s.cfg.OnChange(snap)
	}
}
