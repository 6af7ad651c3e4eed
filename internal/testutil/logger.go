// Package testutil provides logging and cluster manager fixtures for tests.
package testutil

import (
	"bytes"
	"log/slog"
	"strings"
	"sync"
	"testing"
)

// NewTestLogger returns a debug logger that writes to t.Log().
// Logs only appear on test failure or when running with -v.
func NewTestLogger(t testing.TB) *slog.Logger {
	t.Helper()
	return slog.New(slog.NewTextHandler(testWriter{t}, &slog.HandlerOptions{
		Level: slog.LevelDebug,
	}))
}

type testWriter struct {
	t testing.TB
}

func (w testWriter) Write(p []byte) (n int, err error) {
	w.t.Helper()
	w.t.Log(strings.TrimSuffix(string(p), "\n"))
	return len(p), nil
}

// LogRecorder keeps every line written by a logger from NewRecordingLogger.
type LogRecorder struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (r *LogRecorder) Write(p []byte) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.buf.Write(p)
}

// Lines returns the recorded log lines.
func (r *LogRecorder) Lines() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	s := strings.TrimSpace(r.buf.String())
	if s == "" {
		return nil
	}
	return strings.Split(s, "\n")
}

// Contains reports whether a recorded line at level contains msg.
func (r *LogRecorder) Contains(level slog.Level, msg string) bool {
	prefix := "level=" + level.String()
	for _, line := range r.Lines() {
		if strings.Contains(line, prefix) && strings.Contains(line, msg) {
			return true
		}
	}
	return false
}

// NewRecordingLogger returns a debug logger writing to both t.Log() and the returned recorder.
func NewRecordingLogger(t testing.TB) (*slog.Logger, *LogRecorder) {
	t.Helper()
	rec := &LogRecorder{}
	h := slog.NewTextHandler(&teeWriter{t: t, rec: rec}, &slog.HandlerOptions{Level: slog.LevelDebug})
	return slog.New(h), rec
}

type teeWriter struct {
	t   testing.TB
	rec *LogRecorder
}

func (w *teeWriter) Write(p []byte) (int, error) {
	w.t.Helper()
	w.t.Log(strings.TrimSuffix(string(p), "\n"))
	return w.rec.Write(p)
}
