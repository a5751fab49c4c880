package log

import (
	"bytes"
	"log/slog"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestComponentFilterKeepsAllowed(t *testing.T) {
	var buf bytes.Buffer
	handler := NewComponentFilterHandler(slog.NewTextHandler(&buf, nil), []string{"socket"})
	logger := slog.New(handler)

	logger.WithGroup("socket").Info("connected")
	logger.WithGroup("orders").Info("loaded")
	logger.Info("startup")

	out := buf.String()
	assert.Contains(t, out, "connected")
	assert.NotContains(t, out, "loaded")
	assert.Contains(t, out, "startup", "ungrouped records always pass")
}

func TestComponentFilterNestedGroups(t *testing.T) {
	var buf bytes.Buffer
	handler := NewComponentFilterHandler(slog.NewTextHandler(&buf, nil), []string{"tracking"})
	logger := slog.New(handler)

	logger.WithGroup("tracking").WithGroup("fetch").Info("snapshot")
	logger.WithGroup("socket").WithGroup("fetch").Info("ignored")

	lines := strings.TrimSpace(buf.String())
	assert.Contains(t, lines, "snapshot")
	assert.NotContains(t, lines, "ignored")
}

func TestComponentFilterEmptyListPassthrough(t *testing.T) {
	var buf bytes.Buffer
	next := slog.NewTextHandler(&buf, nil)
	assert.Equal(t, slog.Handler(next), NewComponentFilterHandler(next, nil))
	assert.Equal(t, slog.Handler(next), NewComponentFilterHandler(next, []string{"  "}))
}
