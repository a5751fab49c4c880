package log

import (
	"context"
	"log/slog"
	"strings"
)

// ComponentFilterHandler drops records whose slog group is not in the allowed
// set. Components tag their loggers via WithGroup ("socket", "tracking",
// "orders", ...), so --log-components=socket keeps only socket records while
// leaving ungrouped records (startup, shutdown) visible.
type ComponentFilterHandler struct {
	next    slog.Handler
	allowed map[string]struct{}
	group   string
}

// NewComponentFilterHandler wraps next with component filtering. With an
// empty allow list the original handler is returned unchanged.
func NewComponentFilterHandler(next slog.Handler, components []string) slog.Handler {
	if next == nil || len(components) == 0 {
		return next
	}
	allowed := make(map[string]struct{}, len(components))
	for _, name := range components {
		if trimmed := strings.ToLower(strings.TrimSpace(name)); trimmed != "" {
			allowed[trimmed] = struct{}{}
		}
	}
	if len(allowed) == 0 {
		return next
	}
	return &ComponentFilterHandler{next: next, allowed: allowed}
}

func (h *ComponentFilterHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.next.Enabled(ctx, level)
}

func (h *ComponentFilterHandler) Handle(ctx context.Context, record slog.Record) error {
	if h.group != "" {
		if _, ok := h.allowed[h.group]; !ok {
			return nil
		}
	}
	return h.next.Handle(ctx, record)
}

func (h *ComponentFilterHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &ComponentFilterHandler{next: h.next.WithAttrs(attrs), allowed: h.allowed, group: h.group}
}

func (h *ComponentFilterHandler) WithGroup(name string) slog.Handler {
	group := h.group
	if group == "" {
		// Only the outermost group names a component; nested groups
		// refine it and keep the component decision.
		group = strings.ToLower(name)
	}
	return &ComponentFilterHandler{next: h.next.WithGroup(name), allowed: h.allowed, group: group}
}
