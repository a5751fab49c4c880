// Package storage is the local sqlite journal: last known order summaries,
// tracking snapshots for offline display, and the status-change history.
// Auth tokens and user preferences are explicitly not stored here.
package storage

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"github.com/fclebinho/zefood.app.customer/zefood"
)

//go:embed schema.sql
var schemaDDL string

type Storage struct {
	db     *sql.DB
	logger *slog.Logger
	mu     sync.Mutex
}

// Option configures Storage.
type Option func(*Storage)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Storage) {
		if logger != nil {
			s.logger = logger.WithGroup("storage")
		}
	}
}

// New opens (or creates) the journal at path. Use ":memory:" in tests.
func New(path string, opts ...Option) (*Storage, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}

	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	ctx := context.Background()
	if _, err := db.ExecContext(ctx, schemaDDL); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}

	s := &Storage{db: db, logger: slog.Default().WithGroup("storage")}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

func (s *Storage) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.db.Close()
}

// UpsertOrderSummary caches the latest known summary for an order.
func (s *Storage) UpsertOrderSummary(ctx context.Context, summary zefood.OrderSummary) error {
	raw, err := json.Marshal(summary)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO order_summaries (order_id, payload, updated_at_utc)
		VALUES (?, ?, ?)
		ON CONFLICT(order_id) DO UPDATE SET
			payload = excluded.payload,
			updated_at_utc = excluded.updated_at_utc`,
		summary.ID, raw, time.Now().UTC().UnixMilli())
	return err
}

// ListOrderSummaries returns every cached summary, most recently updated
// first. Used for the offline view before the first list load succeeds.
func (s *Storage) ListOrderSummaries(ctx context.Context) ([]zefood.OrderSummary, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.db.QueryContext(ctx,
		`SELECT payload FROM order_summaries ORDER BY updated_at_utc DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []zefood.OrderSummary
	for rows.Next() {
		var raw []byte
		if err := rows.Scan(&raw); err != nil {
			return nil, err
		}
		var summary zefood.OrderSummary
		if err := json.Unmarshal(raw, &summary); err != nil {
			s.logger.Warn("skipping corrupt summary row", slog.String("error", err.Error()))
			continue
		}
		out = append(out, summary)
	}
	return out, rows.Err()
}

// StatusChange is one journaled transition.
type StatusChange struct {
	OrderID    string
	Status     zefood.OrderStatus
	OccurredAt time.Time
}

// RecordStatusChange appends a transition to the history.
func (s *Storage) RecordStatusChange(ctx context.Context, orderID string, status zefood.OrderStatus) error {
	if orderID == "" {
		return errors.New("storage: order id is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO order_status_history (order_id, status, occurred_at_utc)
		VALUES (?, ?, ?)`,
		orderID, string(status), time.Now().UTC().UnixMilli())
	return err
}

// ListStatusHistory returns an order's transitions in chronological order.
func (s *Storage) ListStatusHistory(ctx context.Context, orderID string) ([]StatusChange, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT order_id, status, occurred_at_utc
		FROM order_status_history
		WHERE order_id = ?
		ORDER BY occurred_at_utc ASC, id ASC`, orderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []StatusChange
	for rows.Next() {
		var change StatusChange
		var status string
		var millis int64
		if err := rows.Scan(&change.OrderID, &status, &millis); err != nil {
			return nil, err
		}
		change.Status = zefood.OrderStatus(status)
		change.OccurredAt = time.UnixMilli(millis).UTC()
		out = append(out, change)
	}
	return out, rows.Err()
}

// SaveTrackingSnapshot caches the latest snapshot for an order.
func (s *Storage) SaveTrackingSnapshot(ctx context.Context, snap *zefood.TrackingSnapshot) error {
	if snap == nil || snap.OrderID == "" {
		return errors.New("storage: snapshot with order id is required")
	}
	raw, err := json.Marshal(snap)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO tracking_snapshots (order_id, payload, updated_at_utc)
		VALUES (?, ?, ?)
		ON CONFLICT(order_id) DO UPDATE SET
			payload = excluded.payload,
			updated_at_utc = excluded.updated_at_utc`,
		snap.OrderID, raw, time.Now().UTC().UnixMilli())
	return err
}

// LoadTrackingSnapshot returns the cached snapshot for an order, if any.
func (s *Storage) LoadTrackingSnapshot(ctx context.Context, orderID string) (*zefood.TrackingSnapshot, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var raw []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT payload FROM tracking_snapshots WHERE order_id = ?`, orderID).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}

	var snap zefood.TrackingSnapshot
	if err := json.Unmarshal(raw, &snap); err != nil {
		return nil, false, fmt.Errorf("decode snapshot: %w", err)
	}
	return &snap, true, nil
}

// PruneHistory drops history rows older than the retention window. Returns
// the number of rows removed.
func (s *Storage) PruneHistory(ctx context.Context, retention time.Duration) (int64, error) {
	cutoff := time.Now().UTC().Add(-retention).UnixMilli()

	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx,
		`DELETE FROM order_status_history WHERE occurred_at_utc < ?`, cutoff)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
