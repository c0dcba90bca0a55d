package app

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
)

// LogFileName is the log file created inside settings.log_dir.
const LogFileName = "mailbuild.log"

// runHandler is a slog.Handler that formats log records as:
//
//	<timestamp>\t<level>\t<runID>\t<message>\t<key=value ...>
type runHandler struct {
	w     io.Writer
	mu    *sync.Mutex
	runID string
	level slog.Leveler
	attrs []slog.Attr
}

func (h *runHandler) Enabled(_ context.Context, level slog.Level) bool {
	if h.level == nil {
		return true
	}
	return level >= h.level.Level()
}

func (h *runHandler) Handle(_ context.Context, r slog.Record) error {
	ts := r.Time.UTC().Format("2006-01-02T15:04:05Z")
	runID := h.runID
	if runID == "" {
		runID = "-"
	}

	var line []byte
	line = fmt.Appendf(line, "%s\t%s\t%s\t%s", ts, r.Level.String(), runID, r.Message)
	for _, a := range h.attrs {
		line = fmt.Appendf(line, "\t%s=%v", a.Key, a.Value)
	}
	r.Attrs(func(a slog.Attr) bool {
		line = fmt.Appendf(line, "\t%s=%v", a.Key, a.Value)
		return true
	})
	line = append(line, '\n')

	// Stages may log from several goroutines; one Write per record keeps lines whole.
	if h.mu != nil {
		h.mu.Lock()
		defer h.mu.Unlock()
	}
	_, err := h.w.Write(line)
	return err
}

func (h *runHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &runHandler{
		w:     h.w,
		mu:    h.mu,
		runID: h.runID,
		level: h.level,
		attrs: append(append([]slog.Attr{}, h.attrs...), attrs...),
	}
}

func (h *runHandler) WithGroup(string) slog.Handler { return h }

// logSink is the shared destination of every run's logger.
type logSink struct {
	w     io.Writer
	mu    sync.Mutex
	file  *os.File
	level slog.Level
}

// openLogSink opens logDir/mailbuild.log for appending and tees it with
// stderr. Debug records are written only when verbose is set.
func openLogSink(logDir string, stderr io.Writer, verbose bool) (*logSink, error) {
	if err := os.MkdirAll(logDir, 0755); err != nil {
		return nil, fmt.Errorf("creating log directory: %w", err)
	}

	logPath := filepath.Join(logDir, LogFileName)
	f, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("opening log file: %w", err)
	}

	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	return &logSink{w: io.MultiWriter(f, stderr), file: f, level: level}, nil
}

// logger returns a logger tagging every record with runID.
func (s *logSink) logger(runID string) *slog.Logger {
	return slog.New(&runHandler{w: s.w, mu: &s.mu, runID: runID, level: s.level})
}

func (s *logSink) Close() error {
	if s.file == nil {
		return nil
	}
	return s.file.Close()
}

// slogAdapter wraps *slog.Logger to satisfy the pipeline.Logger interface.
type slogAdapter struct {
	l *slog.Logger
}

func (a *slogAdapter) Debug(msg string, args ...any) { a.l.Debug(msg, args...) }
func (a *slogAdapter) Info(msg string, args ...any)  { a.l.Info(msg, args...) }
func (a *slogAdapter) Warn(msg string, args ...any)  { a.l.Warn(msg, args...) }
func (a *slogAdapter) Error(msg string, args ...any) { a.l.Error(msg, args...) }
