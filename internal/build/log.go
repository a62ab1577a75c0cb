// Package build holds the logging infrastructure shared by the redline
// daemon and CLI: a fan-out handler that feeds both the console and a
// rotating log file, and helpers for creating per-subsystem loggers.
package build

import (
	"context"
	"io"
	"log/slog"

	btclogv1 "github.com/btcsuite/btclog"
	btclog "github.com/btcsuite/btclog/v2"
)

// NewNopLogger returns a logger that discards all records. Components use it
// as the default when no logger is injected.
func NewNopLogger() btclog.Logger {
	return btclog.NewSLogger(btclog.NewDefaultHandler(io.Discard))
}

// FanoutHandler is a btclog.Handler that dispatches every record to a set of
// underlying handlers. The daemon uses it to log to stdout and to the
// rotating log file simultaneously.
type FanoutHandler struct {
	level btclogv1.Level
	set   []btclog.Handler
}

// NewFanoutHandler constructs a FanoutHandler over the given handlers, all
// initialized to the Info level.
func NewFanoutHandler(handlers ...btclog.Handler) *FanoutHandler {
	h := &FanoutHandler{
		set:   handlers,
		level: btclogv1.LevelInfo,
	}
	h.SetLevel(h.level)

	return h
}

// Enabled reports whether all underlying handlers handle records at the
// given level.
//
// NOTE: this is part of the slog.Handler interface.
func (h *FanoutHandler) Enabled(ctx context.Context, level slog.Level) bool {
	for _, handler := range h.set {
		if !handler.Enabled(ctx, level) {
			return false
		}
	}

	return true
}

// Handle dispatches the record to all underlying handlers.
//
// NOTE: this is part of the slog.Handler interface.
func (h *FanoutHandler) Handle(ctx context.Context, record slog.Record) error {
	for _, handler := range h.set {
		if err := handler.Handle(ctx, record); err != nil {
			return err
		}
	}

	return nil
}

// WithAttrs returns a new handler with the given attributes applied to every
// underlying handler.
//
// NOTE: this is part of the slog.Handler interface.
func (h *FanoutHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	set := make([]slog.Handler, len(h.set))
	for i, handler := range h.set {
		set[i] = handler.WithAttrs(attrs)
	}

	return &slogFanout{set: set}
}

// WithGroup returns a new handler with the given group applied to every
// underlying handler.
//
// NOTE: this is part of the slog.Handler interface.
func (h *FanoutHandler) WithGroup(name string) slog.Handler {
	set := make([]slog.Handler, len(h.set))
	for i, handler := range h.set {
		set[i] = handler.WithGroup(name)
	}

	return &slogFanout{set: set}
}

// SubSystem returns a copy of the handler tagged with the given subsystem.
//
// NOTE: this is part of the btclog.Handler interface.
func (h *FanoutHandler) SubSystem(tag string) btclog.Handler {
	set := make([]btclog.Handler, len(h.set))
	for i, handler := range h.set {
		set[i] = handler.SubSystem(tag)
	}

	return &FanoutHandler{set: set, level: h.level}
}

// SetLevel changes the logging level on all underlying handlers.
//
// NOTE: this is part of the btclog.Handler interface.
func (h *FanoutHandler) SetLevel(level btclogv1.Level) {
	for _, handler := range h.set {
		handler.SetLevel(level)
	}
	h.level = level
}

// Level returns the current logging level.
//
// NOTE: this is part of the btclog.Handler interface.
func (h *FanoutHandler) Level() btclogv1.Level {
	return h.level
}

// WithPrefix returns a copy of the handler with the given message prefix.
//
// NOTE: this is part of the btclog.Handler interface.
func (h *FanoutHandler) WithPrefix(prefix string) btclog.Handler {
	set := make([]btclog.Handler, len(h.set))
	for i, handler := range h.set {
		set[i] = handler.WithPrefix(prefix)
	}

	return &FanoutHandler{set: set, level: h.level}
}

// Ensure FanoutHandler implements btclog.Handler at compile time.
var _ btclog.Handler = (*FanoutHandler)(nil)

// slogFanout is the plain slog fan-out produced by WithAttrs and WithGroup,
// which return slog.Handler rather than btclog.Handler.
type slogFanout struct {
	set []slog.Handler
}

// Enabled reports whether all underlying handlers handle records at the
// given level.
func (s *slogFanout) Enabled(ctx context.Context, level slog.Level) bool {
	for _, handler := range s.set {
		if !handler.Enabled(ctx, level) {
			return false
		}
	}

	return true
}

// Handle dispatches the record to all underlying handlers.
func (s *slogFanout) Handle(ctx context.Context, record slog.Record) error {
	for _, handler := range s.set {
		if err := handler.Handle(ctx, record); err != nil {
			return err
		}
	}

	return nil
}

// WithAttrs returns a new handler with the attributes applied to every
// underlying handler.
func (s *slogFanout) WithAttrs(attrs []slog.Attr) slog.Handler {
	set := make([]slog.Handler, len(s.set))
	for i, handler := range s.set {
		set[i] = handler.WithAttrs(attrs)
	}

	return &slogFanout{set: set}
}

// WithGroup returns a new handler with the group applied to every underlying
// handler.
func (s *slogFanout) WithGroup(name string) slog.Handler {
	set := make([]slog.Handler, len(s.set))
	for i, handler := range s.set {
		set[i] = handler.WithGroup(name)
	}

	return &slogFanout{set: set}
}

// Ensure slogFanout implements slog.Handler at compile time.
var _ slog.Handler = (*slogFanout)(nil)
