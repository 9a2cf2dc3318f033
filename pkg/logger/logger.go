package logger

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"
)

// Log is the process-wide logger. It is usable before Init and only
// reports warnings until a level is configured.
var Log = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))

var (
	logFile   *os.File
	logFileMu sync.Mutex
	levelVar  = new(slog.LevelVar)
)

// ParseLevel maps DEBUG/INFO/WARN/ERROR (any case) to a slog level.
// Unknown values fall back to INFO.
func ParseLevel(levelStr string) slog.Level {
	switch strings.ToUpper(strings.TrimSpace(levelStr)) {
	case "DEBUG":
		return slog.LevelDebug
	case "WARN", "WARNING":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Init initializes the global logger
func Init(levelStr string) {
	levelVar.Set(ParseLevel(levelStr))

	opts := &slog.HandlerOptions{
		Level: levelVar,
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			if a.Key == slog.TimeKey && len(groups) == 0 {
				return slog.String("time", a.Value.Time().Format("2006-01-02T15:04:05.000-07:00"))
			}
			return a
		},
	}

	Log = slog.New(&fileTeeHandler{Handler: slog.NewTextHandler(os.Stderr, opts)})
	slog.SetDefault(Log)
}

// SetLevel updates the logger level at runtime
func SetLevel(levelStr string) {
	levelVar.Set(ParseLevel(levelStr))
}

// SetFile mirrors every record into path (append mode). An empty path
// stops mirroring.
func SetFile(path string) error {
	logFileMu.Lock()
	defer logFileMu.Unlock()
	if logFile != nil {
		logFile.Close()
		logFile = nil
	}
	if path == "" {
		return nil
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return fmt.Errorf("open log file %s: %w", path, err)
	}
	logFile = f
	return nil
}

// Discard silences the global logger. Tests use it to keep output clean.
func Discard() {
	Log = slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fileTeeHandler writes records to the wrapped handler and, when a log
// file is configured, a single formatted line to that file.
type fileTeeHandler struct {
	slog.Handler
}

func (h *fileTeeHandler) Handle(ctx context.Context, r slog.Record) error {
	err := h.Handler.Handle(ctx, r)

	logFileMu.Lock()
	defer logFileMu.Unlock()
	if logFile == nil {
		return err
	}
	msg := fmt.Sprintf("time=%s level=%s msg=%q", r.Time.Format(time.RFC3339Nano), r.Level, r.Message)
	r.Attrs(func(a slog.Attr) bool {
		msg += fmt.Sprintf(" %s=%v", a.Key, a.Value)
		return true
	})
	fmt.Fprintln(logFile, msg)
	return err
}

func (h *fileTeeHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &fileTeeHandler{Handler: h.Handler.WithAttrs(attrs)}
}

func (h *fileTeeHandler) WithGroup(name string) slog.Handler {
	return &fileTeeHandler{Handler: h.Handler.WithGroup(name)}
}

// Close closes the log file if one is open
func Close() {
	logFileMu.Lock()
	defer logFileMu.Unlock()
	if logFile != nil {
		logFile.Close()
		logFile = nil
	}
}

// Helper functions for easy access
func Debug(msg string, args ...any) {
	Log.Debug(msg, args...)
}

func Info(msg string, args ...any) {
	Log.Info(msg, args...)
}

func Warn(msg string, args ...any) {
	Log.Warn(msg, args...)
}

func Error(msg string, args ...any) {
	Log.Error(msg, args...)
}

func Fatal(msg string, args ...any) {
	Log.Error(msg, args...)
	os.Exit(1)
}
