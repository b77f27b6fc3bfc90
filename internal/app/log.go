package app

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
)

// logSink is one destination of the log with its own minimum level.
type logSink struct {
	w     io.Writer
	level slog.Level
}

// arcHandler is a custom slog.Handler that formats log records as:
//
//	<timestamp>\t<level>\t<opID>\t<message>\t<key=value ...>
//
// and writes each line to every sink whose level admits it.
type arcHandler struct {
	mu    *sync.Mutex
	sinks []logSink
	opID  string
	attrs []slog.Attr
}

func newArcHandler(opID string, sinks ...logSink) *arcHandler {
	return &arcHandler{mu: &sync.Mutex{}, sinks: sinks, opID: opID}
}

func (h *arcHandler) Enabled(_ context.Context, level slog.Level) bool {
	for _, s := range h.sinks {
		if level >= s.level {
			return true
		}
	}
	return false
}

func (h *arcHandler) Handle(_ context.Context, r slog.Record) error {
	var buf bytes.Buffer
	ts := r.Time.UTC().Format("2006-01-02T15:04:05Z")
	fmt.Fprintf(&buf, "%s\t%s\t%s\t%s", ts, r.Level.String(), h.opID, r.Message)

	for _, a := range h.attrs {
		fmt.Fprintf(&buf, "\t%s=%v", a.Key, a.Value)
	}
	r.Attrs(func(a slog.Attr) bool {
		fmt.Fprintf(&buf, "\t%s=%v", a.Key, a.Value)
		return true
	})
	buf.WriteByte('\n')

	h.mu.Lock()
	defer h.mu.Unlock()
	for _, s := range h.sinks {
		if r.Level < s.level {
			continue
		}
		if _, err := s.w.Write(buf.Bytes()); err != nil {
			return err
		}
	}
	return nil
}

func (h *arcHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &arcHandler{
		mu:    h.mu,
		sinks: h.sinks,
		opID:  h.opID,
		attrs: append(append([]slog.Attr{}, h.attrs...), attrs...),
	}
}

func (h *arcHandler) WithGroup(string) slog.Handler { return h }

// newLogger creates a structured logger that writes every level to
// logDir/arc.log and warnings and errors to stderr, where the progress
// display owns the rest of the terminal. It returns the slog.Logger, the open
// log file (for cleanup), and any error.
func newLogger(logDir string, opID string, verbose bool) (*slog.Logger, *os.File, error) {
	if err := os.MkdirAll(logDir, 0755); err != nil {
		return nil, nil, fmt.Errorf("creating log directory: %w", err)
	}

	logPath := filepath.Join(logDir, "arc.log")
	f, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, nil, fmt.Errorf("opening log file: %w", err)
	}

	stderrLevel := slog.LevelWarn
	if verbose {
		stderrLevel = slog.LevelDebug
	}
	handler := newArcHandler(opID,
		logSink{w: f, level: slog.LevelDebug},
		logSink{w: os.Stderr, level: stderrLevel},
	)
	return slog.New(handler), f, nil
}

// slogAdapter wraps *slog.Logger to satisfy the arc.Logger interface.
type slogAdapter struct {
	l *slog.Logger
}

func (a *slogAdapter) Debug(msg string, args ...any) { a.l.Debug(msg, args...) }
func (a *slogAdapter) Info(msg string, args ...any)  { a.l.Info(msg, args...) }
func (a *slogAdapter) Warn(msg string, args ...any)  { a.l.Warn(msg, args...) }
func (a *slogAdapter) Error(msg string, args ...any) { a.l.Error(msg, args...) }
