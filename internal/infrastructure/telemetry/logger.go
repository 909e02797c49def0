package telemetry

import (
	"context"
	"io"
	"log/slog"
	"os"
	"slices"

	"github.com/mrops-br/catalog-media-api/internal/infrastructure/config"
	"go.opentelemetry.io/otel/trace"
)

type contextKey int

const (
	httpRouteKey contextKey = iota
	logAttrsKey
)

// WithHTTPRoute adds the HTTP route to the context
func WithHTTPRoute(ctx context.Context, route string) context.Context {
	return context.WithValue(ctx, httpRouteKey, route)
}

// HTTPRouteFromContext extracts the HTTP route from context
func HTTPRouteFromContext(ctx context.Context) string {
	if route, ok := ctx.Value(httpRouteKey).(string); ok {
		return route
	}
	return ""
}

// WithLogAttrs attaches attrs to every record logged with the returned
// context, after any attached further up
func WithLogAttrs(ctx context.Context, attrs ...slog.Attr) context.Context {
	parent, _ := ctx.Value(logAttrsKey).([]slog.Attr)
	return context.WithValue(ctx, logAttrsKey, append(slices.Clip(parent), attrs...))
}

// contextHandler decorates records with what the context knows: the active
// span, the matched route and attrs added through WithLogAttrs
type contextHandler struct {
	next slog.Handler
}

func (h *contextHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.next.Enabled(ctx, level)
}

func (h *contextHandler) Handle(ctx context.Context, r slog.Record) error {
	if sc := trace.SpanContextFromContext(ctx); sc.IsValid() {
		r.AddAttrs(
			slog.String("trace_id", sc.TraceID().String()),
			slog.String("span_id", sc.SpanID().String()),
		)
	}

	if route := HTTPRouteFromContext(ctx); route != "" {
		r.AddAttrs(slog.String("http.route", route))
	}

	if attrs, ok := ctx.Value(logAttrsKey).([]slog.Attr); ok {
		r.AddAttrs(attrs...)
	}

	return h.next.Handle(ctx, r)
}

func (h *contextHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &contextHandler{next: h.next.WithAttrs(attrs)}
}

func (h *contextHandler) WithGroup(name string) slog.Handler {
	return &contextHandler{next: h.next.WithGroup(name)}
}

// NewLogger builds the JSON logger writing to w. Every line carries the
// service identity.
func NewLogger(w io.Writer, otlp *config.OTLPConfig, level slog.Level) *slog.Logger {
	handler := &contextHandler{
		next: slog.NewJSONHandler(w, &slog.HandlerOptions{Level: level}),
	}

	return slog.New(handler).With(
		slog.String("service.name", otlp.ServiceName),
		slog.String("environment", otlp.Environment),
	)
}

func initLogger(cfg *config.Config) *slog.Logger {
	return NewLogger(os.Stdout, &cfg.OTLP, cfg.Log.SlogLevel())
}
