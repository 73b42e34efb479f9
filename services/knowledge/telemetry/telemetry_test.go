// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package telemetry

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

func TestDefaultConfig(t *testing.T) {
	t.Setenv("OTEL_TRACES_EXPORTER", "")
	t.Setenv("OTEL_METRICS_EXPORTER", "")
	cfg := DefaultConfig()
	assert.Equal(t, "aleutian-kg", cfg.ServiceName)
	assert.Equal(t, ExporterNone, cfg.TraceExporter)
	assert.Equal(t, ExporterPrometheus, cfg.MetricExporter)
	assert.Equal(t, "localhost:4317", cfg.OTLPEndpoint)

	t.Setenv("OTEL_TRACES_EXPORTER", "stdout")
	assert.Equal(t, ExporterStdout, DefaultConfig().TraceExporter)
}

func TestInit_NilContext(t *testing.T) {
	//nolint:staticcheck // exercising the nil guard
	_, err := Init(nil, DefaultConfig())
	assert.ErrorIs(t, err, ErrNilContext)
}

func TestInit_Noop(t *testing.T) {
	cfg := DefaultConfig()
	cfg.TraceExporter = ExporterNone
	cfg.MetricExporter = ExporterNone
	shutdown, err := Init(context.Background(), cfg)
	require.NoError(t, err)
	assert.NoError(t, shutdown(context.Background()))
}

func TestInit_UnknownExporter(t *testing.T) {
	cfg := DefaultConfig()
	cfg.TraceExporter = "zipkin"
	_, err := Init(context.Background(), cfg)
	assert.ErrorIs(t, err, ErrUnknownExporter)

	cfg.TraceExporter = ExporterNone
	cfg.MetricExporter = "statsd"
	_, err = Init(context.Background(), cfg)
	assert.ErrorIs(t, err, ErrUnknownExporter)
}

func TestInit_PrometheusHandler(t *testing.T) {
	cfg := DefaultConfig()
	cfg.TraceExporter = ExporterNone
	cfg.MetricExporter = ExporterPrometheus
	shutdown, err := Init(context.Background(), cfg)
	require.NoError(t, err)
	defer func() { _ = shutdown(context.Background()) }()

	h := MetricsHandler()
	require.NotNil(t, h)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "go_goroutines")
}

// testMeter returns a meter backed by a manual reader.
func testMeter(t *testing.T) (*Metrics, *sdkmetric.ManualReader, *sdkmetric.MeterProvider) {
	t.Helper()
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	m, err := NewMetrics(mp.Meter("test"))
	require.NoError(t, err)
	return m, reader, mp
}

func collect(t *testing.T, reader *sdkmetric.ManualReader) map[string]metricdata.Metrics {
	t.Helper()
	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))
	out := make(map[string]metricdata.Metrics)
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			out[m.Name] = m
		}
	}
	return out
}

func TestMetrics_Record(t *testing.T) {
	m, reader, mp := testMeter(t)
	ctx := context.Background()

	m.RecordOperation(ctx, OpBuild, time.Now(), nil)
	m.RecordOperation(ctx, OpBuild, time.Now(), errors.New("boom"))
	m.RecordGraphSize(ctx, 3, 4)
	m.RecordInferred(ctx, 2)
	_, err := m.RegisterGraphsLoaded(mp.Meter("test"), func() int { return 7 })
	require.NoError(t, err)

	got := collect(t, reader)
	ops, ok := got["kg_operations_total"].Data.(metricdata.Sum[int64])
	require.True(t, ok)
	assert.Len(t, ops.DataPoints, 2, "ok and error series")

	inferred := got["kg_inferred_relationships_total"].Data.(metricdata.Sum[int64])
	require.Len(t, inferred.DataPoints, 1)
	assert.Equal(t, int64(2), inferred.DataPoints[0].Value)

	loaded := got["kg_graphs_loaded"].Data.(metricdata.Gauge[int64])
	require.Len(t, loaded.DataPoints, 1)
	assert.Equal(t, int64(7), loaded.DataPoints[0].Value)
}

func TestMetrics_NilReceiver(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.RecordOperation(context.Background(), OpQuery, time.Now(), nil)
		m.RecordGraphSize(context.Background(), 1, 1)
		m.RecordInferred(context.Background(), 1)
	})
}

func TestMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	m, reader, _ := testMeter(t)
	var buf bytes.Buffer
	base := slog.New(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))

	r := gin.New()
	r.Use(RequestLogger(base), MetricsMiddleware(m))
	r.GET("/graphs/:id", func(c *gin.Context) {
		Logger(c.Request.Context()).Info("inside handler")
		c.String(http.StatusOK, "ok")
	})

	req := httptest.NewRequest(http.MethodGet, "/graphs/abc", nil)
	req.Header.Set(RequestIDHeader, "req-1")
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "req-1", rec.Header().Get(RequestIDHeader))
	logs, err := io.ReadAll(&buf)
	require.NoError(t, err)
	assert.Equal(t, 2, strings.Count(string(logs), `"request_id":"req-1"`))

	got := collect(t, reader)
	reqs := got["kg_http_requests_total"].Data.(metricdata.Sum[int64])
	require.Len(t, reqs.DataPoints, 1)
	path, ok := reqs.DataPoints[0].Attributes.Value("path")
	require.True(t, ok)
	assert.Equal(t, "/graphs/:id", path.AsString())

	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/graphs/abc", nil))
	assert.NotEmpty(t, rec.Header().Get(RequestIDHeader), "ids are generated when absent")
}

func TestLoggerDefault(t *testing.T) {
	assert.Equal(t, slog.Default(), Logger(context.Background()))
	assert.Empty(t, TraceID(context.Background()))
}
