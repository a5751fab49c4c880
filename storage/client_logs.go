package storage

import (
	"context"
	"time"

	"github.com/fclebinho/zefood.app.customer/pkg/diaglog"
)

// ClientLog is one diagnostic log row read back from the journal.
type ClientLog struct {
	Timestamp time.Time
	Level     string
	Component string
	Message   string
	AttrsJSON []byte
}

// InsertClientLog persists one diagnostic entry. Wired as the diaglog
// handler's write function.
func (s *Storage) InsertClientLog(ctx context.Context, entry diaglog.Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO client_logs (timestamp_utc, level, component, message, attrs_json)
		VALUES (?, ?, ?, ?, ?)`,
		entry.TimestampMillis, entry.Level, entry.Component, entry.Message, entry.AttrsJSON)
	return err
}

// ListClientLogs returns the most recent diagnostic entries, newest first.
func (s *Storage) ListClientLogs(ctx context.Context, limit int) ([]ClientLog, error) {
	if limit <= 0 {
		limit = 100
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT timestamp_utc, level, component, message, attrs_json
		FROM client_logs
		ORDER BY timestamp_utc DESC, id DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []ClientLog
	for rows.Next() {
		var log ClientLog
		var millis int64
		if err := rows.Scan(&millis, &log.Level, &log.Component, &log.Message, &log.AttrsJSON); err != nil {
			return nil, err
		}
		log.Timestamp = time.UnixMilli(millis).UTC()
		out = append(out, log)
	}
	return out, rows.Err()
}

// PruneClientLogs drops diagnostic rows older than the retention window.
func (s *Storage) PruneClientLogs(ctx context.Context, retention time.Duration) (int64, error) {
	cutoff := time.Now().UTC().Add(-retention).UnixMilli()

	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx,
		`DELETE FROM client_logs WHERE timestamp_utc < ?`, cutoff)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
