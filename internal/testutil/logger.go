// Package testutil provides logging helpers for package tests.
package testutil

import (
	"bytes"
	"log/slog"
	"strings"
	"sync"
	"testing"
)

// NewTestLogger returns a debug-level logger that writes through t.Log, so
// output shows up only for failing tests or with -v.
func NewTestLogger(t testing.TB) *slog.Logger {
	t.Helper()
	return slog.New(slog.NewTextHandler(&testWriter{t: t}, &slog.HandlerOptions{Level: slog.LevelDebug}))
}

// Capture is a test logger that also keeps what was logged.
type Capture struct {
	*slog.Logger
	w *testWriter
}

// NewCapture returns a debug-level logger whose records can be inspected.
func NewCapture(t testing.TB) *Capture {
	t.Helper()
	w := &testWriter{t: t, keep: true}
	return &Capture{
		Logger: slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: slog.LevelDebug})),
		w:      w,
	}
}

// Contains reports whether any record contains s.
func (c *Capture) Contains(s string) bool {
	c.w.mu.Lock()
	defer c.w.mu.Unlock()
	return strings.Contains(c.w.buf.String(), s)
}

type testWriter struct {
	t    testing.TB
	keep bool

	mu  sync.Mutex
	buf bytes.Buffer
}

func (w *testWriter) Write(p []byte) (int, error) {
	w.t.Helper()
	if w.keep {
		w.mu.Lock()
		w.buf.Write(p)
		w.mu.Unlock()
	}
	w.t.Log(strings.TrimRight(string(p), "\n"))
	return len(p), nil
}
