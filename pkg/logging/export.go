// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package logging

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

func fromSlogLevel(l slog.Level) Level {
	switch {
	case l >= slog.LevelError:
		return LevelError
	case l >= slog.LevelWarn:
		return LevelWarn
	case l >= slog.LevelInfo:
		return LevelInfo
	default:
		return LevelDebug
	}
}

// exportHandler converts slog records into LogEntry values for a
// LogExporter. Attributes from With and groups are flattened with dotted
// keys.
type exportHandler struct {
	exporter LogExporter
	level    slog.Level
	service  string
	attrs    map[string]any
	prefix   string
}

func (h *exportHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level
}

func (h *exportHandler) Handle(ctx context.Context, r slog.Record) error {
	attrs := make(map[string]any, len(h.attrs)+r.NumAttrs())
	for k, v := range h.attrs {
		attrs[k] = v
	}
	r.Attrs(func(a slog.Attr) bool {
		flatten(attrs, h.prefix, a)
		return true
	})
	ts := r.Time
	if ts.IsZero() {
		ts = time.Now()
	}
	return h.exporter.Export(ctx, LogEntry{
		Timestamp: ts,
		Level:     fromSlogLevel(r.Level),
		Message:   r.Message,
		Service:   h.service,
		Attrs:     attrs,
	})
}

func (h *exportHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	next := h.clone()
	for _, a := range attrs {
		flatten(next.attrs, next.prefix, a)
	}
	return next
}

func (h *exportHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	next := h.clone()
	next.prefix = h.prefix + name + "."
	return next
}

func (h *exportHandler) clone() *exportHandler {
	attrs := make(map[string]any, len(h.attrs))
	for k, v := range h.attrs {
		attrs[k] = v
	}
	return &exportHandler{
		exporter: h.exporter,
		level:    h.level,
		service:  h.service,
		attrs:    attrs,
		prefix:   h.prefix,
	}
}

func flatten(dst map[string]any, prefix string, a slog.Attr) {
	v := a.Value.Resolve()
	if v.Kind() == slog.KindGroup {
		p := prefix
		if a.Key != "" {
			p = prefix + a.Key + "."
		}
		for _, ga := range v.Group() {
			flatten(dst, p, ga)
		}
		return
	}
	if a.Key == "" {
		return
	}
	dst[prefix+a.Key] = v.Any()
}

// SpanEventExporter records each entry as an event on the span active in
// the logging context. Entries logged without a recording span are
// dropped, so only the *Context slog methods reach it.
type SpanEventExporter struct{}

// NewSpanEventExporter returns a SpanEventExporter.
func NewSpanEventExporter() *SpanEventExporter {
	return &SpanEventExporter{}
}

// Export adds entry to the span in ctx.
func (SpanEventExporter) Export(ctx context.Context, entry LogEntry) error {
	span := trace.SpanFromContext(ctx)
	if !span.IsRecording() {
		return nil
	}
	keys := make([]string, 0, len(entry.Attrs))
	for k := range entry.Attrs {
		keys = append(keys, k)
	}
	slices.Sort(keys)

	kvs := make([]attribute.KeyValue, 0, len(keys)+1)
	kvs = append(kvs, attribute.String("log.severity", entry.Level.String()))
	for _, k := range keys {
		kvs = append(kvs, toAttribute(k, entry.Attrs[k]))
	}
	span.AddEvent(entry.Message, trace.WithTimestamp(entry.Timestamp), trace.WithAttributes(kvs...))
	return nil
}

// Flush is a no-op; events are owned by their spans.
func (SpanEventExporter) Flush(context.Context) error { return nil }

// Close is a no-op.
func (SpanEventExporter) Close() error { return nil }

func toAttribute(key string, v any) attribute.KeyValue {
	switch x := v.(type) {
	case string:
		return attribute.String(key, x)
	case bool:
		return attribute.Bool(key, x)
	case int64:
		return attribute.Int64(key, x)
	case uint64:
		return attribute.Int64(key, int64(x))
	case float64:
		return attribute.Float64(key, x)
	case time.Duration:
		return attribute.String(key, x.String())
	case error:
		return attribute.String(key, x.Error())
	case fmt.Stringer:
		return attribute.String(key, x.String())
	default:
		return attribute.String(key, strings.TrimSpace(fmt.Sprint(x)))
	}
}

var _ LogExporter = (*SpanEventExporter)(nil)
