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
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Operation names used as the "operation" attribute.
const (
	OpBuild  = "build"
	OpQuery  = "query"
	OpExpand = "expand"
	OpPath   = "path"
	OpInfer  = "infer"
	OpExport = "export"
	OpDelete = "delete"
)

// Metrics holds the service-level instruments. All names carry the "kg_"
// prefix.
//
// Thread Safety:
//
//	Safe for concurrent use after creation.
type Metrics struct {
	HTTPRequestsTotal   metric.Int64Counter
	HTTPRequestDuration metric.Float64Histogram
	HTTPActiveRequests  metric.Int64UpDownCounter

	// OperationsTotal counts service operations by operation and status.
	OperationsTotal metric.Int64Counter

	// OperationDuration records service operation latency by operation.
	OperationDuration metric.Float64Histogram

	// GraphEntities records the entity count of each built graph.
	GraphEntities metric.Int64Histogram

	// GraphRelationships records the relationship count of each built graph.
	GraphRelationships metric.Int64Histogram

	// InferredTotal counts relationships added by inference.
	InferredTotal metric.Int64Counter

	// GraphsLoaded reports graphs held in memory.
	GraphsLoaded metric.Int64ObservableGauge
}

// NewMetrics registers every instrument on meter.
func NewMetrics(meter metric.Meter) (*Metrics, error) {
	m := &Metrics{}
	var err error

	m.HTTPRequestsTotal, err = meter.Int64Counter(
		"kg_http_requests_total",
		metric.WithDescription("Total HTTP requests"),
		metric.WithUnit("{request}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create http_requests_total: %w", err)
	}

	m.HTTPRequestDuration, err = meter.Float64Histogram(
		"kg_http_request_duration_seconds",
		metric.WithDescription("HTTP request duration in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10),
	)
	if err != nil {
		return nil, fmt.Errorf("create http_request_duration: %w", err)
	}

	m.HTTPActiveRequests, err = meter.Int64UpDownCounter(
		"kg_http_active_requests",
		metric.WithDescription("Currently active HTTP requests"),
		metric.WithUnit("{request}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create http_active_requests: %w", err)
	}

	m.OperationsTotal, err = meter.Int64Counter(
		"kg_operations_total",
		metric.WithDescription("Knowledge graph operations by operation and status"),
		metric.WithUnit("{operation}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create operations_total: %w", err)
	}

	m.OperationDuration, err = meter.Float64Histogram(
		"kg_operation_duration_seconds",
		metric.WithDescription("Knowledge graph operation duration in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30, 60),
	)
	if err != nil {
		return nil, fmt.Errorf("create operation_duration: %w", err)
	}

	m.GraphEntities, err = meter.Int64Histogram(
		"kg_graph_entities",
		metric.WithDescription("Entities per built graph"),
		metric.WithUnit("{entity}"),
		metric.WithExplicitBucketBoundaries(0, 5, 10, 25, 50, 100, 250, 500),
	)
	if err != nil {
		return nil, fmt.Errorf("create graph_entities: %w", err)
	}

	m.GraphRelationships, err = meter.Int64Histogram(
		"kg_graph_relationships",
		metric.WithDescription("Relationships per built graph"),
		metric.WithUnit("{relationship}"),
		metric.WithExplicitBucketBoundaries(0, 5, 10, 25, 50, 100, 200, 500, 1000),
	)
	if err != nil {
		return nil, fmt.Errorf("create graph_relationships: %w", err)
	}

	m.InferredTotal, err = meter.Int64Counter(
		"kg_inferred_relationships_total",
		metric.WithDescription("Relationships added by inference"),
		metric.WithUnit("{relationship}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create inferred_relationships_total: %w", err)
	}

	return m, nil
}

// RecordOperation counts one operation and records its latency. A nil
// receiver is a no-op, so callers may run without metrics.
func (m *Metrics) RecordOperation(ctx context.Context, op string, start time.Time, err error) {
	if m == nil {
		return
	}
	status := "ok"
	if err != nil {
		status = "error"
	}
	m.OperationsTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String("operation", op),
		attribute.String("status", status),
	))
	m.OperationDuration.Record(ctx, time.Since(start).Seconds(), metric.WithAttributes(
		attribute.String("operation", op),
	))
}

// RecordGraphSize records the size of a built graph.
func (m *Metrics) RecordGraphSize(ctx context.Context, entities, relationships int) {
	if m == nil {
		return
	}
	m.GraphEntities.Record(ctx, int64(entities))
	m.GraphRelationships.Record(ctx, int64(relationships))
}

// RecordInferred counts relationships added by inference.
func (m *Metrics) RecordInferred(ctx context.Context, n int) {
	if m == nil || n == 0 {
		return
	}
	m.InferredTotal.Add(ctx, int64(n))
}

// RegisterGraphsLoaded reports count() as the kg_graphs_loaded gauge on
// every collection.
func (m *Metrics) RegisterGraphsLoaded(meter metric.Meter, count func() int) (metric.Registration, error) {
	var err error
	m.GraphsLoaded, err = meter.Int64ObservableGauge(
		"kg_graphs_loaded",
		metric.WithDescription("Knowledge graphs held in memory"),
		metric.WithUnit("{graph}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create graphs_loaded: %w", err)
	}
	return meter.RegisterCallback(func(_ context.Context, o metric.Observer) error {
		o.ObserveInt64(m.GraphsLoaded, int64(count()))
		return nil
	}, m.GraphsLoaded)
}
