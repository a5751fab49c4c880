package main

import (
	"log/slog"
	"os"
	"testing"
)

// testLogger returns a debug-level logger so a failing run can be diagnosed
// from the test output. Set ZEFOOD_TEST_QUIET to silence it.
func testLogger(t *testing.T) *slog.Logger {
	t.Helper()
	if os.Getenv("ZEFOOD_TEST_QUIET") != "" {
		return slog.New(slog.DiscardHandler)
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelDebug}))
}
