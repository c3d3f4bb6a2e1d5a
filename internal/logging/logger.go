package logging

import (
	"context"
	"log/slog"
	"os"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
)

// Identifier is the SYSLOG_IDENTIFIER of journal entries.
const Identifier = "framebuf"

const defaultHistorySize = 1000

// Config represents logging configuration.
type Config struct {
	Level       string            `toml:"level"`
	Format      string            `toml:"format"`
	Modules     map[string]string `toml:"modules"`
	HistorySize int               `toml:"history_size"`
}

// outputs is the shared handler chain every module logger writes through.
// gen changes on every Initialize so module handlers rebuild their chain.
type outputs struct {
	gen     uint64
	handler slog.Handler
}

var (
	mutex       sync.RWMutex
	globalLevel = &slog.LevelVar{}
	levelVars   = make(map[string]*slog.LevelVar)
	loggers     = make(map[string]*slog.Logger)
	globalCfg   Config

	current atomic.Pointer[outputs]
	history atomic.Pointer[History]
	sink    atomic.Pointer[Sink]
)

func init() {
	history.Store(NewHistory(defaultHistorySize))
	current.Store(&outputs{gen: 1, handler: buildOutputs("text")})
}

// Initialize sets up the logging system. Loggers obtained from GetLogger
// before Initialize keep working and pick up the new levels and outputs.
func Initialize(cfg Config) {
	mutex.Lock()
	defer mutex.Unlock()
	globalCfg = cfg

	level := slog.LevelInfo
	if parsed := parseLevel(cfg.Level); parsed != nil {
		level = *parsed
	}
	globalLevel.Set(level)
	for module, lv := range levelVars {
		lv.Set(moduleLevel(cfg, module))
	}

	size := cfg.HistorySize
	if size <= 0 {
		size = defaultHistorySize
	}
	if history.Load().Cap() != size {
		history.Store(NewHistory(size))
	}

	prev := current.Load()
	current.Store(&outputs{gen: prev.gen + 1, handler: buildOutputs(cfg.Format)})

	slog.SetDefault(slog.New(&moduleHandler{level: globalLevel}))
}

// GetLogger returns a logger for the specified module, creating it if needed.
func GetLogger(module string) *slog.Logger {
	mutex.RLock()
	logger, ok := loggers[module]
	mutex.RUnlock()
	if ok {
		return logger
	}

	mutex.Lock()
	defer mutex.Unlock()
	if logger, ok := loggers[module]; ok {
		return logger
	}

	lv := &slog.LevelVar{}
	lv.Set(moduleLevel(globalCfg, module))
	levelVars[module] = lv

	logger = slog.New(&moduleHandler{level: lv}).With("module", module)
	loggers[module] = logger
	return logger
}

// GetHistory returns the in-memory log history.
func GetHistory() *History {
	return history.Load()
}

// Sink receives every log entry after it is stored in the history.
type Sink func(entry Entry)

// SetSink installs a function called for each log entry. Pass nil to remove it.
func SetSink(fn Sink) {
	if fn == nil {
		sink.Store(nil)
		return
	}
	sink.Store(&fn)
}

func moduleLevel(cfg Config, module string) slog.Level {
	level := slog.LevelInfo
	if parsed := parseLevel(cfg.Level); parsed != nil {
		level = *parsed
	}
	if s, ok := cfg.Modules[module]; ok {
		if parsed := parseLevel(s); parsed != nil {
			level = *parsed
		}
	}
	return level
}

// buildOutputs builds the handler chain: stdout when something is attached
// to it, the journal when journald is running, and always the history.
// Levels are enforced by moduleHandler, so outputs accept everything.
func buildOutputs(format string) slog.Handler {
	opts := &slog.HandlerOptions{Level: slog.LevelDebug}

	var stdout slog.Handler
	if format == "json" {
		stdout = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		stdout = slog.NewTextHandler(os.Stdout, opts)
	}

	var handlers []slog.Handler
	if isStdoutAvailable() {
		handlers = append(handlers, stdout)
	}
	if IsJournalAvailable() {
		handlers = append(handlers, NewJournalHandler(slog.LevelDebug))
	}
	handlers = append(handlers, NewHistoryHandler(slog.LevelDebug))

	if len(handlers) == 1 {
		return handlers[0]
	}
	return NewMultiHandler(handlers...)
}

// moduleHandler filters by a per-module level and forwards to the current
// outputs, replaying WithAttrs/WithGroup when the outputs were replaced.
type moduleHandler struct {
	level slog.Leveler
	ops   []func(slog.Handler) slog.Handler
	cache atomic.Pointer[outputs]
}

func (h *moduleHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level.Level()
}

func (h *moduleHandler) Handle(ctx context.Context, r slog.Record) error {
	return h.resolve().Handle(ctx, r)
}

func (h *moduleHandler) resolve() slog.Handler {
	cur := current.Load()
	if cached := h.cache.Load(); cached != nil && cached.gen == cur.gen {
		return cached.handler
	}
	handler := cur.handler
	for _, op := range h.ops {
		handler = op(handler)
	}
	h.cache.Store(&outputs{gen: cur.gen, handler: handler})
	return handler
}

func (h *moduleHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	if len(attrs) == 0 {
		return h
	}
	return h.with(func(next slog.Handler) slog.Handler { return next.WithAttrs(attrs) })
}

func (h *moduleHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	return h.with(func(next slog.Handler) slog.Handler { return next.WithGroup(name) })
}

func (h *moduleHandler) with(op func(slog.Handler) slog.Handler) *moduleHandler {
	ops := append(slices.Clip(h.ops), op)
	return &moduleHandler{level: h.level, ops: ops}
}

// isStdoutAvailable checks if stdout is connected to a terminal, pipe, socket, or file.
func isStdoutAvailable() bool {
	fi, err := os.Stdout.Stat()
	if err != nil {
		return false
	}
	mode := fi.Mode()
	return (mode&os.ModeCharDevice) != 0 || (mode&os.ModeNamedPipe) != 0 || (mode&os.ModeSocket) != 0 || mode.IsRegular()
}

// parseLevel converts string level to slog.Level.
func parseLevel(level string) *slog.Level {
	var l slog.Level
	switch strings.ToLower(level) {
	case "debug":
		l = slog.LevelDebug
	case "info":
		l = slog.LevelInfo
	case "warn", "warning":
		l = slog.LevelWarn
	case "error":
		l = slog.LevelError
	default:
		return nil
	}
	return &l
}
