// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package extract

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

var (
	tracer = otel.Tracer("aleutian.kg.extract")
	meter  = otel.Meter("aleutian.kg.extract")
)

var (
	extractLatency metric.Float64Histogram
	extractItems   metric.Int64Histogram
	fallbackTotal  metric.Int64Counter

	metricsOnce sync.Once
	metricsErr  error
)

func initMetrics() error {
	metricsOnce.Do(func() {
		var err error

		extractLatency, err = meter.Float64Histogram(
			"kg_extraction_duration_seconds",
			metric.WithDescription("Duration of extraction calls"),
			metric.WithUnit("s"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		extractItems, err = meter.Int64Histogram(
			"kg_extraction_items",
			metric.WithDescription("Items returned per extraction call"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		fallbackTotal, err = meter.Int64Counter(
			"kg_extraction_fallback_total",
			metric.WithDescription("Smart extraction failures that fell back to pattern results"),
		)
		if err != nil {
			metricsErr = err
			return
		}
	})
	return metricsErr
}

func recordExtraction(ctx context.Context, kind string, d time.Duration, n int) {
	if err := initMetrics(); err != nil {
		return
	}
	attrs := metric.WithAttributes(attribute.String("kind", kind))
	extractLatency.Record(ctx, d.Seconds(), attrs)
	extractItems.Record(ctx, int64(n), attrs)
}

func recordFallback(ctx context.Context, stage string) {
	if err := initMetrics(); err != nil {
		return
	}
	fallbackTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("stage", stage)))
}
