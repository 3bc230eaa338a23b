package logging

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync/atomic"
)

// Structured field keys shared across components.
const (
	KeyComponent = "component"
	KeySessionID = "sessionId"
	KeyRemote    = "remote"
	KeyState     = "state"
	KeyUser      = "user"
	KeyError     = "error"
)

type contextKey struct{}

// rootHandler forwards to whatever handler Init installed last. Loggers
// built from L() at package init keep their attrs and groups, replayed in
// the order they were added, and still pick up the configured format and
// level.
type rootHandler struct {
	current *atomic.Pointer[slog.Handler]
	steps   []func(slog.Handler) slog.Handler
}

func (h *rootHandler) resolve() slog.Handler {
	handler := *h.current.Load()
	for _, step := range h.steps {
		handler = step(handler)
	}
	return handler
}

func (h *rootHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.resolve().Enabled(ctx, level)
}

func (h *rootHandler) Handle(ctx context.Context, record slog.Record) error {
	return h.resolve().Handle(ctx, record)
}

func (h *rootHandler) with(step func(slog.Handler) slog.Handler) *rootHandler {
	steps := make([]func(slog.Handler) slog.Handler, 0, len(h.steps)+1)
	steps = append(steps, h.steps...)
	return &rootHandler{current: h.current, steps: append(steps, step)}
}

func (h *rootHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	if len(attrs) == 0 {
		return h
	}
	return h.with(func(next slog.Handler) slog.Handler { return next.WithAttrs(attrs) })
}

func (h *rootHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	return h.with(func(next slog.Handler) slog.Handler { return next.WithGroup(name) })
}

var (
	installed     atomic.Pointer[slog.Handler]
	defaultLogger *slog.Logger
)

func init() {
	var h slog.Handler = slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo})
	installed.Store(&h)
	defaultLogger = slog.New(&rootHandler{current: &installed})
	slog.SetDefault(defaultLogger)
}

// Init installs the process-wide handler. Call once after config is loaded.
// format: "json" or "text" (default "text")
// level: "debug", "info", "warn", "error" (default "info")
// output: nil means os.Stdout
func Init(format, level string, output io.Writer) {
	if output == nil {
		output = os.Stdout
	}
	opts := &slog.HandlerOptions{Level: ParseLevel(level)}

	var h slog.Handler
	if strings.EqualFold(format, "json") {
		h = slog.NewJSONHandler(output, opts)
	} else {
		h = slog.NewTextHandler(output, opts)
	}
	installed.Store(&h)
}

// L returns a logger tagged with the given component name.
func L(component string) *slog.Logger {
	return defaultLogger.With(slog.String(KeyComponent, component))
}

// WithSession returns a child logger carrying session correlation fields.
func WithSession(logger *slog.Logger, sessionID, remote string) *slog.Logger {
	return logger.With(
		slog.String(KeySessionID, sessionID),
		slog.String(KeyRemote, remote),
	)
}

// NewContext returns a new context carrying the given logger.
func NewContext(ctx context.Context, logger *slog.Logger) context.Context {
	return context.WithValue(ctx, contextKey{}, logger)
}

// FromContext extracts the logger from context, falling back to the default.
func FromContext(ctx context.Context) *slog.Logger {
	if l, ok := ctx.Value(contextKey{}).(*slog.Logger); ok {
		return l
	}
	return defaultLogger
}

// ParseLevel maps a config string to a slog level. Unknown values are info.
func ParseLevel(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
