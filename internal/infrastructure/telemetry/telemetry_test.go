package telemetry

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http/httptest"
	"testing"

	"github.com/mrops-br/catalog-media-api/internal/infrastructure/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

func TestLogger_InjectsTraceContext(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(&buf, &config.OTLPConfig{ServiceName: "catalog", Environment: "test"}, slog.LevelInfo)

	tp := sdktrace.NewTracerProvider()
	defer func() { _ = tp.Shutdown(context.Background()) }()

	ctx, span := tp.Tracer("test").Start(context.Background(), "op")
	ctx = WithHTTPRoute(ctx, "/api/v1/products/{id}")
	logger.InfoContext(ctx, "hello")
	span.End()

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "hello", line["msg"])
	assert.Equal(t, "catalog", line["service.name"])
	assert.Equal(t, span.SpanContext().TraceID().String(), line["trace_id"])
	assert.Equal(t, span.SpanContext().SpanID().String(), line["span_id"])
	assert.Equal(t, "/api/v1/products/{id}", line["http.route"])
}

func TestLogger_RespectsLevel(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(&buf, &config.OTLPConfig{}, slog.LevelWarn)

	logger.Info("quiet")
	assert.Zero(t, buf.Len())

	logger.Warn("loud")
	assert.Contains(t, buf.String(), "loud")
}

func TestNoOpTelemetry_ServesMetrics(t *testing.T) {
	cfg := &config.Config{OTLP: config.OTLPConfig{ServiceName: "catalog", Environment: "test"}}
	telem, err := NewNoOpTelemetry(context.Background(), cfg)
	require.NoError(t, err)
	defer func() { _ = telem.Shutdown(context.Background()) }()

	counter, err := telem.MeterProvider.Meter("test").Int64Counter("catalog.test.hits")
	require.NoError(t, err)
	counter.Add(context.Background(), 3)

	rec := httptest.NewRecorder()
	telem.MetricsHandler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	assert.Equal(t, 200, rec.Code)
	assert.Contains(t, rec.Body.String(), "catalog_test_hits")
}

func TestLogger_ContextAttrs(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(&buf, &config.OTLPConfig{ServiceName: "catalog"}, slog.LevelInfo)

	parent := WithLogAttrs(context.Background(), slog.String("topic", "catalog.media.pending"))
	child := WithLogAttrs(parent, slog.Int64("offset", 7))
	sibling := WithLogAttrs(parent, slog.Int64("offset", 8))

	logger.InfoContext(child, "child")

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "catalog.media.pending", line["topic"])
	assert.EqualValues(t, 7, line["offset"])

	buf.Reset()
	logger.InfoContext(sibling, "sibling")
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.EqualValues(t, 8, line["offset"])
	assert.NotContains(t, line, "trace_id")
}
