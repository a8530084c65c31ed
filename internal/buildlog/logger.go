// Package buildlog provides the session logger for image build runs.
//
// A Logger is constructed once per run and passed explicitly to every
// component; there is no package-level logger. Each run appends to its own
// log artifact whose file name includes the run timestamp, and mirrors the
// same lines to a writer (normally stderr).
//
// Line format: [2006-01-02 15:04:05] [Level] message
// with Level one of Info, Warning, Error, Success.
package buildlog

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
)

// LevelSuccess marks milestone events. It sits between slog's Info (0) and
// Warn (4) so the standard levels keep their ordering.
const LevelSuccess = slog.Level(2)

// Logger writes one-line build events to the session log file and a mirror
// writer.
type Logger struct {
	slog *slog.Logger
	file *os.File
	path string
}

// New creates the session logger for one run. The log artifact is created
// (append-only) under dir as kiln-build-<runStamp>.log; lines are mirrored to
// mirror. Close must be called when the run ends.
func New(dir, runStamp string, mirror io.Writer) (*Logger, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}

	path := filepath.Join(dir, fmt.Sprintf("kiln-build-%s.log", runStamp))
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("failed to open log file: %w", err)
	}

	out := io.Writer(file)
	if mirror != nil {
		out = io.MultiWriter(mirror, file)
	}

	return &Logger{
		slog: slog.New(newLineHandler(out)),
		file: file,
		path: path,
	}, nil
}

// NewWithWriter creates a logger that writes to w only, without a log file.
// Used by tests and by commands that do not produce a session artifact.
func NewWithWriter(w io.Writer) *Logger {
	return &Logger{slog: slog.New(newLineHandler(w))}
}

// Path returns the session log file path, or "" when no file is attached.
func (l *Logger) Path() string {
	return l.path
}

// Close flushes and closes the session log file.
// It is safe to call Close on a logger without a file.
func (l *Logger) Close() error {
	if l.file == nil {
		return nil
	}
	if err := l.file.Close(); err != nil {
		return fmt.Errorf("failed to close log file: %w", err)
	}
	l.file = nil
	return nil
}

// Infof logs an informational event.
func (l *Logger) Infof(format string, args ...any) {
	l.slog.Info(fmt.Sprintf(format, args...))
}

// Warningf logs a non-fatal problem. The run continues after a warning.
func (l *Logger) Warningf(format string, args ...any) {
	l.slog.Warn(fmt.Sprintf(format, args...))
}

// Errorf logs a fatal problem. The caller is expected to abort the run.
func (l *Logger) Errorf(format string, args ...any) {
	l.slog.Error(fmt.Sprintf(format, args...))
}

// Successf logs a milestone.
func (l *Logger) Successf(format string, args ...any) {
	l.slog.Log(context.Background(), LevelSuccess, fmt.Sprintf(format, args...))
}

// lineHandler is a slog.Handler emitting the fixed single-line format.
type lineHandler struct {
	mu    *sync.Mutex
	w     io.Writer
	attrs []slog.Attr
}

func newLineHandler(w io.Writer) *lineHandler {
	return &lineHandler{mu: &sync.Mutex{}, w: w}
}

func (h *lineHandler) Enabled(_ context.Context, _ slog.Level) bool {
	return true
}

func (h *lineHandler) Handle(_ context.Context, r slog.Record) error {
	line := fmt.Sprintf("[%s] [%s] %s",
		r.Time.Format("2006-01-02 15:04:05"), levelName(r.Level), r.Message)
	for _, a := range h.attrs {
		line += fmt.Sprintf(" %s=%v", a.Key, a.Value)
	}
	r.Attrs(func(a slog.Attr) bool {
		line += fmt.Sprintf(" %s=%v", a.Key, a.Value)
		return true
	})

	h.mu.Lock()
	defer h.mu.Unlock()
	_, err := fmt.Fprintln(h.w, line)
	return err
}

func (h *lineHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	c := *h
	c.attrs = append(append([]slog.Attr{}, h.attrs...), attrs...)
	return &c
}

func (h *lineHandler) WithGroup(_ string) slog.Handler {
	// Groups are not used by the fixed line format.
	return h
}

func levelName(l slog.Level) string {
	switch {
	case l >= slog.LevelError:
		return "Error"
	case l >= slog.LevelWarn:
		return "Warning"
	case l >= LevelSuccess:
		return "Success"
	default:
		return "Info"
	}
}
