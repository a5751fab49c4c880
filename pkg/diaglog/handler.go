// Package diaglog is the on-device diagnostic log: a slog.Handler that
// queues records and persists them asynchronously through a WriteFunc,
// typically into the sqlite journal. Records are dropped rather than ever
// blocking the caller; this is a diagnostic aid, not an audit trail.
package diaglog

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

const defaultQueueSize = 256

var ErrHandlerClosed = errors.New("diaglog: handler closed")

// Entry is one persisted record.
type Entry struct {
	TimestampMillis int64
	Level           string
	Component       string
	Message         string
	AttrsJSON       []byte
}

// WriteFunc persists one entry. Satisfied by (*storage.Storage).InsertClientLog.
type WriteFunc func(context.Context, Entry) error

type Option func(*handlerConfig)

type handlerConfig struct {
	minLevel  slog.Level
	queueSize int
}

func WithMinLevel(level slog.Level) Option {
	return func(cfg *handlerConfig) { cfg.minLevel = level }
}

func WithQueueSize(size int) Option {
	return func(cfg *handlerConfig) {
		if size > 0 {
			cfg.queueSize = size
		}
	}
}

// Handler buffers records and hands them to a single writer goroutine. The
// zero value is not usable; construct with New.
type Handler struct {
	core   *core
	attrs  []slog.Attr
	groups []string
}

type core struct {
	write    WriteFunc
	minLevel slog.Level

	queue   chan Entry
	done    chan struct{}
	wg      sync.WaitGroup
	closed  atomic.Bool
	dropped atomic.Int64
}

func New(write WriteFunc, opts ...Option) (*Handler, error) {
	if write == nil {
		return nil, errors.New("diaglog: write function is required")
	}
	cfg := handlerConfig{minLevel: slog.LevelInfo, queueSize: defaultQueueSize}
	for _, opt := range opts {
		opt(&cfg)
	}

	c := &core{
		write:    write,
		minLevel: cfg.minLevel,
		queue:    make(chan Entry, cfg.queueSize),
		done:     make(chan struct{}),
	}
	c.wg.Add(1)
	go c.run()

	return &Handler{core: c}, nil
}

func (h *Handler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.core.minLevel
}

func (h *Handler) Handle(ctx context.Context, record slog.Record) error {
	if !h.Enabled(ctx, record.Level) {
		return nil
	}
	if h.core.closed.Load() {
		return ErrHandlerClosed
	}

	entry := h.buildEntry(record)
	select {
	case h.core.queue <- entry:
	default:
		// A full queue means storage cannot keep up; losing diagnostics is
		// preferable to stalling the component that logged.
		h.core.dropped.Add(1)
	}
	return nil
}

func (h *Handler) WithAttrs(attrs []slog.Attr) slog.Handler {
	clone := h.clone()
	clone.attrs = append(clone.attrs, attrs...)
	return clone
}

func (h *Handler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	clone := h.clone()
	clone.groups = append(clone.groups, name)
	return clone
}

func (h *Handler) clone() *Handler {
	return &Handler{
		core:   h.core,
		attrs:  append([]slog.Attr{}, h.attrs...),
		groups: append([]string{}, h.groups...),
	}
}

// Dropped reports how many records were discarded because the queue was full.
func (h *Handler) Dropped() int64 {
	return h.core.dropped.Load()
}

// Close drains the queue and stops the writer. Records handled after Close
// are rejected with ErrHandlerClosed.
func (h *Handler) Close(ctx context.Context) error {
	if !h.core.closed.CompareAndSwap(false, true) {
		return nil
	}
	close(h.core.done)

	finished := make(chan struct{})
	go func() {
		h.core.wg.Wait()
		close(finished)
	}()

	select {
	case <-finished:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *core) run() {
	defer c.wg.Done()
	for {
		select {
		case entry := <-c.queue:
			_ = c.write(context.Background(), entry)
		case <-c.done:
			for {
				select {
				case entry := <-c.queue:
					_ = c.write(context.Background(), entry)
				default:
					return
				}
			}
		}
	}
}

func (h *Handler) buildEntry(record slog.Record) Entry {
	ts := record.Time.UTC().UnixMilli()
	if ts == 0 {
		ts = time.Now().UTC().UnixMilli()
	}

	entry := Entry{
		TimestampMillis: ts,
		Level:           record.Level.String(),
		Message:         record.Message,
		Component:       strings.Join(h.groups, "."),
	}

	attrs := map[string]any{}
	for _, attr := range h.attrs {
		insertAttr(attrs, attr)
	}
	record.Attrs(func(attr slog.Attr) bool {
		insertAttr(attrs, attr)
		return true
	})
	if raw, err := json.Marshal(attrs); err == nil {
		entry.AttrsJSON = raw
	} else {
		entry.AttrsJSON = []byte("{}")
	}
	return entry
}

func insertAttr(dst map[string]any, attr slog.Attr) {
	attr.Value = attr.Value.Resolve()
	if attr.Value.Kind() == slog.KindGroup {
		target := dst
		if attr.Key != "" {
			child := map[string]any{}
			dst[attr.Key] = child
			target = child
		}
		for _, nested := range attr.Value.Group() {
			insertAttr(target, nested)
		}
		return
	}
	if attr.Key == "" {
		return
	}
	dst[attr.Key] = attr.Value.Any()
}
