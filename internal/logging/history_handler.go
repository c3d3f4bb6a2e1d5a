package logging

import (
	"context"
	"log/slog"
	"strings"
	"time"
)

// HistoryHandler is a slog.Handler that records entries in the package
// history and forwards them to the installed Sink.
type HistoryHandler struct {
	level  slog.Leveler
	attrs  []slog.Attr
	groups []string
}

// NewHistoryHandler creates a history handler.
func NewHistoryHandler(level slog.Leveler) *HistoryHandler {
	return &HistoryHandler{level: level}
}

// Enabled implements slog.Handler.
func (h *HistoryHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level.Level()
}

// Handle implements slog.Handler.
func (h *HistoryHandler) Handle(_ context.Context, r slog.Record) error {
	entry := Entry{
		Timestamp:  r.Time,
		Level:      levelName(r.Level),
		Module:     "app",
		Message:    r.Message,
		Attributes: make(map[string]any),
	}
	collect := func(a slog.Attr, groups []string) {
		if a.Key == "module" && len(groups) == 0 {
			entry.Module = a.Value.String()
			return
		}
		flatten(entry.Attributes, groups, a)
	}
	for _, a := range h.attrs {
		collect(a, nil)
	}
	r.Attrs(func(a slog.Attr) bool {
		collect(a, h.groups)
		return true
	})

	GetHistory().Add(entry)
	if fn := sink.Load(); fn != nil {
		(*fn)(entry)
	}
	return nil
}

// WithAttrs implements slog.Handler. Attributes are qualified by the groups
// open at the time they were added.
func (h *HistoryHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	next := *h
	next.attrs = make([]slog.Attr, 0, len(h.attrs)+len(attrs))
	next.attrs = append(next.attrs, h.attrs...)
	for _, a := range attrs {
		if len(h.groups) > 0 {
			a = slog.Attr{Key: strings.Join(h.groups, ".") + "." + a.Key, Value: a.Value}
		}
		next.attrs = append(next.attrs, a)
	}
	return &next
}

// WithGroup implements slog.Handler.
func (h *HistoryHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	next := *h
	next.groups = append(append([]string(nil), h.groups...), name)
	return &next
}

// flatten stores a into attrs with dot-separated group keys.
func flatten(attrs map[string]any, groups []string, a slog.Attr) {
	a.Value = a.Value.Resolve()
	key := a.Key
	if len(groups) > 0 {
		key = strings.Join(groups, ".") + "." + key
	}

	switch a.Value.Kind() {
	case slog.KindGroup:
		sub := append(append([]string(nil), groups...), a.Key)
		for _, ga := range a.Value.Group() {
			flatten(attrs, sub, ga)
		}
	case slog.KindTime:
		attrs[key] = a.Value.Time().Format(time.RFC3339Nano)
	case slog.KindDuration:
		attrs[key] = a.Value.Duration().String()
	case slog.KindAny:
		if err, ok := a.Value.Any().(error); ok {
			attrs[key] = err.Error()
		} else {
			attrs[key] = a.Value.Any()
		}
	default:
		attrs[key] = a.Value.Any()
	}
}

func levelName(level slog.Level) string {
	switch {
	case level >= slog.LevelError:
		return "error"
	case level >= slog.LevelWarn:
		return "warn"
	case level >= slog.LevelInfo:
		return "info"
	default:
		return "debug"
	}
}
