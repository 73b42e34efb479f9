// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package knowledge is the knowledge graph service: it builds graphs from
// text, answers questions over them, expands entity neighborhoods and
// exports graphs as Cypher.
//
// Service combines the builder, query engine and exporter over one store
// and records telemetry for every operation. Handlers expose it over HTTP
// under /v1/kg.
package knowledge

import (
	"cmp"
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/agnivade/levenshtein"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/AleutianAI/AleutianKG/services/knowledge/builder"
	"github.com/AleutianAI/AleutianKG/services/knowledge/export"
	"github.com/AleutianAI/AleutianKG/services/knowledge/infer"
	"github.com/AleutianAI/AleutianKG/services/knowledge/model"
	"github.com/AleutianAI/AleutianKG/services/knowledge/query"
	"github.com/AleutianAI/AleutianKG/services/knowledge/store"
	"github.com/AleutianAI/AleutianKG/services/knowledge/telemetry"
	"github.com/AleutianAI/AleutianKG/services/knowledge/vector"
)

var tracer = otel.Tracer("aleutian.kg.service")

// DefaultMaxLabelDistance is the edit distance FindEntities accepts when
// the caller passes zero.
const DefaultMaxLabelDistance = 2

// Export formats.
const (
	FormatCypher = export.FormatCypher
	FormatJSON   = export.FormatJSON
)

// EntityMatch is one FindEntities hit.
type EntityMatch struct {
	model.Entity
	Distance int `json:"distance"`
}

// Service is the knowledge graph facade.
//
// Thread Safety:
//
//	Safe for concurrent use. All state lives in the store and the
//	components, which are themselves safe for concurrent use.
type Service struct {
	store    *store.Store
	builder  *builder.Builder
	engine   *query.Engine
	exporter *export.Exporter

	index      vector.Index
	metrics    *telemetry.Metrics
	inferRules []infer.Rule
	logger     *slog.Logger
}

// Option configures a Service.
type Option func(*Service)

// WithVectorIndex lets Delete drop a graph's vectors.
func WithVectorIndex(idx vector.Index) Option {
	return func(s *Service) { s.index = idx }
}

// WithMetrics records operation metrics on m.
func WithMetrics(m *telemetry.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

// WithInferRules replaces the rules used by Infer.
func WithInferRules(rules ...infer.Rule) Option {
	return func(s *Service) { s.inferRules = rules }
}

// WithLogger sets the logger. Default: slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.logger = l
		}
	}
}

// NewService assembles a Service. Every component must share st.
func NewService(st *store.Store, b *builder.Builder, e *query.Engine, x *export.Exporter, opts ...Option) *Service {
	s := &Service{
		store:    st,
		builder:  b,
		engine:   e,
		exporter: x,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Build constructs and stores a graph.
//
// Description:
//
//	Rejects unknown entity or relation types and negative limits with
//	ErrInvalidRequest, then runs the builder. The graph size is recorded
//	for every successful build.
func (s *Service) Build(ctx context.Context, req builder.BuildRequest) (g *model.KnowledgeGraph, err error) {
	start := time.Now()
	ctx, span := tracer.Start(ctx, "Service.Build")
	defer func() { s.finish(ctx, span, telemetry.OpBuild, start, err) }()

	if err = validateBuild(req); err != nil {
		return nil, err
	}
	g, err = s.builder.Build(ctx, req)
	if err != nil {
		return nil, err
	}
	span.SetAttributes(attribute.String("graph.id", g.ID))
	s.metrics.RecordGraphSize(ctx, g.EntityCount, g.RelationshipCount)
	return g, nil
}

func validateBuild(req builder.BuildRequest) error {
	if req.MaxEntities < 0 || req.MaxRelationships < 0 {
		return fmt.Errorf("%w: limits must not be negative", ErrInvalidRequest)
	}
	for _, t := range req.AllowedEntityTypes {
		if !t.Valid() {
			return fmt.Errorf("%w: %w %q", ErrInvalidRequest, model.ErrUnknownEntityType, t)
		}
	}
	for _, t := range req.AllowedRelationTypes {
		if !t.Valid() {
			return fmt.Errorf("%w: %w %q", ErrInvalidRequest, model.ErrUnknownRelationType, t)
		}
	}
	return nil
}

// Query answers a question over one graph.
func (s *Service) Query(ctx context.Context, req query.QueryRequest) (res *query.QueryResult, err error) {
	start := time.Now()
	ctx, span := tracer.Start(ctx, "Service.Query")
	defer func() { s.finish(ctx, span, telemetry.OpQuery, start, err) }()
	span.SetAttributes(attribute.String("graph.id", req.GraphID))

	if strings.TrimSpace(req.Query) == "" {
		return nil, fmt.Errorf("%w: query is required", ErrInvalidRequest)
	}
	if req.MaxHops < 0 {
		return nil, fmt.Errorf("%w: max_hops must not be negative", ErrInvalidRequest)
	}
	return s.engine.Query(ctx, req)
}

// Expand returns the neighborhood of one entity.
func (s *Service) Expand(ctx context.Context, req query.ExpandRequest) (res *query.ExpandResult, err error) {
	start := time.Now()
	ctx, span := tracer.Start(ctx, "Service.Expand")
	defer func() { s.finish(ctx, span, telemetry.OpExpand, start, err) }()
	span.SetAttributes(attribute.String("entity.id", req.EntityID))

	for _, t := range req.AllowedRelationTypes {
		if !t.Valid() {
			return nil, fmt.Errorf("%w: %w %q", ErrInvalidRequest, model.ErrUnknownRelationType, t)
		}
	}
	return s.engine.Expand(ctx, req)
}

// FindPath returns the shortest path between two entities of a graph, or
// nil when none exists within maxHops.
func (s *Service) FindPath(ctx context.Context, graphID, from, to string, maxHops int) (p query.Path, err error) {
	start := time.Now()
	ctx, span := tracer.Start(ctx, "Service.FindPath")
	defer func() { s.finish(ctx, span, telemetry.OpPath, start, err) }()
	span.SetAttributes(attribute.String("graph.id", graphID))

	return s.engine.FindPath(ctx, graphID, from, to, maxHops)
}

// Infer runs the inference rules over a stored graph and commits the new
// relationships.
//
// Description:
//
//	Rules see the committed relationships; inferred ones are never used
//	as premises, so repeated calls converge and a second call on an
//	unchanged graph adds nothing.
//
// Inputs:
//
//	graphID - Graph to extend.
//	limit   - Maximum new relationships. Zero uses infer.DefaultLimit.
//
// Outputs:
//
//	[]model.Relationship - The relationships added.
//	error                - ErrGraphNotFound or a store error.
func (s *Service) Infer(ctx context.Context, graphID string, limit int) (added []model.Relationship, err error) {
	start := time.Now()
	ctx, span := tracer.Start(ctx, "Service.Infer")
	defer func() { s.finish(ctx, span, telemetry.OpInfer, start, err) }()
	span.SetAttributes(attribute.String("graph.id", graphID))

	if limit < 0 {
		return nil, fmt.Errorf("%w: limit must not be negative", ErrInvalidRequest)
	}
	if limit == 0 {
		limit = infer.DefaultLimit
	}
	err = s.store.Update(ctx, graphID, func(g *model.KnowledgeGraph) error {
		added = infer.Run(g.Entities, g.Relationships, limit, s.inferRules...)
		g.Relationships = append(g.Relationships, added...)
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.metrics.RecordInferred(ctx, len(added))
	s.logger.Info("inference applied",
		slog.String("graph_id", graphID),
		slog.Int("added", len(added)),
	)
	return added, nil
}

// Export renders a graph as Cypher text or JSON.
func (s *Service) Export(ctx context.Context, graphID, format string, includeProperties bool) (out []byte, err error) {
	start := time.Now()
	ctx, span := tracer.Start(ctx, "Service.Export")
	defer func() { s.finish(ctx, span, telemetry.OpExport, start, err) }()
	span.SetAttributes(attribute.String("graph.id", graphID), attribute.String("export.format", format))

	switch format {
	case "", FormatCypher:
		text, err := s.exporter.ExportCypher(ctx, graphID, includeProperties)
		if err != nil {
			return nil, err
		}
		return []byte(text), nil
	case FormatJSON:
		return s.exporter.ExportJSON(ctx, graphID)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedFormat, format)
	}
}

// Publish sends a graph's Cypher statements to every configured sink.
func (s *Service) Publish(ctx context.Context, graphID string, includeProperties bool) (err error) {
	start := time.Now()
	ctx, span := tracer.Start(ctx, "Service.Publish")
	defer func() { s.finish(ctx, span, telemetry.OpExport, start, err) }()
	span.SetAttributes(attribute.String("graph.id", graphID))

	return s.exporter.Publish(ctx, graphID, includeProperties)
}

// Delete removes a graph. Its vectors are dropped afterwards; a vector
// index failure is logged and does not fail the delete.
func (s *Service) Delete(ctx context.Context, graphID string) (err error) {
	start := time.Now()
	ctx, span := tracer.Start(ctx, "Service.Delete")
	defer func() { s.finish(ctx, span, telemetry.OpDelete, start, err) }()
	span.SetAttributes(attribute.String("graph.id", graphID))

	if err = s.store.Delete(ctx, graphID); err != nil {
		return err
	}
	if s.index != nil {
		if ierr := s.index.DeleteGraph(ctx, graphID); ierr != nil {
			s.logger.WarnContext(ctx, "vector cleanup failed",
				slog.String("graph_id", graphID),
				slog.String("error", ierr.Error()),
			)
		}
	}
	s.logger.Info("graph deleted", slog.String("graph_id", graphID))
	return nil
}

// List returns summaries of every graph, newest first.
func (s *Service) List(ctx context.Context) ([]model.Summary, error) {
	return s.store.List(ctx)
}

// Get returns a copy of one graph.
func (s *Service) Get(ctx context.Context, graphID string) (*model.KnowledgeGraph, error) {
	return s.store.Get(ctx, graphID)
}

// Warm loads every persisted graph and restores the stored entity
// embeddings into the vector index, so embedding-aware queries keep their
// boost across restarts. Index failures are logged per graph.
func (s *Service) Warm(ctx context.Context) (int, error) {
	ctx, span := tracer.Start(ctx, "Service.Warm")
	defer span.End()

	n, err := s.store.Warm(ctx)
	if err != nil || s.index == nil {
		return n, err
	}
	summaries, err := s.store.List(ctx)
	if err != nil {
		return n, err
	}
	restored := 0
	for _, sum := range summaries {
		g, err := s.store.Get(ctx, sum.ID)
		if err != nil {
			return n, err
		}
		embedded := slices.ContainsFunc(g.Entities, func(e model.Entity) bool { return len(e.Embedding) > 0 })
		if !embedded {
			continue
		}
		if err := s.index.Upsert(ctx, g.ID, g.Entities); err != nil {
			s.logger.WarnContext(ctx, "vector restore failed",
				slog.String("graph_id", g.ID),
				slog.String("error", err.Error()),
			)
			continue
		}
		restored++
	}
	span.SetAttributes(
		attribute.Int("warm.graphs", n),
		attribute.Int("warm.vectors_restored", restored),
	)
	return n, nil
}

// GraphCount reports the graphs currently held in memory.
func (s *Service) GraphCount() int {
	return s.store.Len()
}

// FindEntities returns the entities of a graph whose label or an alias is
// within maxDistance edits of label, after normalization. Results are
// ordered by distance, then label.
func (s *Service) FindEntities(ctx context.Context, graphID, label string, maxDistance int) ([]EntityMatch, error) {
	_, span := tracer.Start(ctx, "Service.FindEntities")
	defer span.End()

	want := model.NormalizeLabel(label)
	if want == "" {
		return nil, fmt.Errorf("%w: label is required", ErrInvalidRequest)
	}
	if maxDistance <= 0 {
		maxDistance = DefaultMaxLabelDistance
	}

	var out []EntityMatch
	err := s.store.View(ctx, graphID, func(g *model.KnowledgeGraph) error {
		for _, e := range g.Entities {
			best := levenshtein.ComputeDistance(want, model.NormalizeLabel(e.Label))
			for _, alias := range e.Aliases {
				best = min(best, levenshtein.ComputeDistance(want, model.NormalizeLabel(alias)))
			}
			if best <= maxDistance {
				out = append(out, EntityMatch{Entity: e.Clone(), Distance: best})
			}
		}
		return nil
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	slices.SortStableFunc(out, func(a, b EntityMatch) int {
		return cmp.Or(cmp.Compare(a.Distance, b.Distance), cmp.Compare(a.Label, b.Label))
	})
	return out, nil
}

// finish ends span and records the operation.
func (s *Service) finish(ctx context.Context, span trace.Span, op string, start time.Time, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	s.metrics.RecordOperation(ctx, op, start, err)
	span.End()
}
