// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package query answers natural-language questions against stored graphs,
// finds paths between entities, and expands an entity's neighborhood.
package query

import (
	"context"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/AleutianAI/AleutianKG/services/knowledge/extract"
	"github.com/AleutianAI/AleutianKG/services/knowledge/model"
	"github.com/AleutianAI/AleutianKG/services/knowledge/store"
	"github.com/AleutianAI/AleutianKG/services/knowledge/vector"
	"github.com/AleutianAI/AleutianKG/services/llm"
)

var tracer = otel.Tracer("aleutian.kg.query")

const (
	// MaxRelevantEntities caps QueryResult.RelevantEntities.
	MaxRelevantEntities = 20

	// MaxPaths caps QueryResult.Paths.
	MaxPaths = 10

	// DefaultMaxHops applies when a request leaves MaxHops at zero.
	DefaultMaxHops = 3

	// FoundConfidence and NotFoundConfidence are the two answer confidences.
	FoundConfidence    = 0.8
	NotFoundConfidence = 0.3

	pathCandidates = 5
	embeddingBoost = 0.5
)

// QueryRequest is one question against one graph.
type QueryRequest struct {
	GraphID       string `json:"graph_id"`
	Query         string `json:"query" binding:"required"`
	MaxHops       int    `json:"max_hops,omitempty" binding:"gte=0,lte=10"`
	IncludePaths  bool   `json:"include_paths"`
	UseEmbeddings bool   `json:"use_embeddings"`
	IncludeExport bool   `json:"include_export"`
}

// ScoredEntity is a relevant entity and its score.
type ScoredEntity struct {
	model.Entity
	Score float64 `json:"score"`
}

// QueryResult is the answer to a QueryRequest.
type QueryResult struct {
	Answer                string               `json:"answer"`
	RelevantEntities      []ScoredEntity       `json:"relevant_entities"`
	RelevantRelationships []model.Relationship `json:"relevant_relationships"`
	Paths                 []Path               `json:"paths,omitempty"`
	Confidence            float64              `json:"confidence"`
	ExportStatement       string               `json:"export_statement,omitempty"`
}

// Engine runs queries, path searches and expansions against a store.
//
// Thread Safety:
//
//	Safe for concurrent use. Each call reads one graph under its shared lock.
type Engine struct {
	store    *store.Store
	terms    *extract.EntityExtractor
	answers  AnswerGenerator
	embedder llm.Embedder
	index    vector.Index
	logger   *slog.Logger
}

// Option configures an Engine.
type Option func(*Engine)

// WithAnswerGenerator replaces the template answer. The template is still
// used whenever the generator fails.
func WithAnswerGenerator(g AnswerGenerator) Option {
	return func(e *Engine) { e.answers = g }
}

// WithEmbeddings enables the embedding boost for requests that ask for it.
func WithEmbeddings(emb llm.Embedder, idx vector.Index) Option {
	return func(e *Engine) {
		e.embedder = emb
		e.index = idx
	}
}

// WithLogger sets the engine logger.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.logger = l
		}
	}
}

// New creates an Engine. terms extracts labels from query text; nil uses
// the default pattern rules.
func New(s *store.Store, terms *extract.EntityExtractor, opts ...Option) *Engine {
	e := &Engine{
		store:   s,
		terms:   terms,
		answers: TemplateAnswer{},
		logger:  slog.Default(),
	}
	if e.terms == nil {
		e.terms = extract.NewEntityExtractor(nil, nil, nil)
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Query answers req against the graph req.GraphID.
//
// Description:
//
//	Scores every entity against the query terms, keeps the top
//	MaxRelevantEntities, gathers the relationships touching them, and
//	optionally searches paths among the top five. The graph's shared lock
//	is held only while scoring; the answer is generated afterwards from
//	copies.
//
// Outputs:
//
//	*QueryResult - Never nil on success. Confidence is FoundConfidence
//	               when any entity scored.
//	error        - store.ErrGraphNotFound, or ctx errors.
func (e *Engine) Query(ctx context.Context, req QueryRequest) (*QueryResult, error) {
	start := time.Now()
	ctx, span := tracer.Start(ctx, "Engine.Query")
	defer span.End()
	span.SetAttributes(attribute.String("graph.id", req.GraphID))

	terms, err := e.queryTerms(ctx, req.Query)
	if err != nil {
		return nil, err
	}
	similarity := e.similarities(ctx, req)

	maxHops := req.MaxHops
	if maxHops <= 0 {
		maxHops = DefaultMaxHops
	}

	result := &QueryResult{
		RelevantEntities:      []ScoredEntity{},
		RelevantRelationships: []model.Relationship{},
	}
	var labels map[string]string
	err = e.store.View(ctx, req.GraphID, func(g *model.KnowledgeGraph) error {
		scored := rankEntities(g, terms, similarity)
		result.RelevantEntities = scored
		result.RelevantRelationships = touching(g, scored)
		labels = labelMap(g)
		if req.IncludePaths && len(scored) >= 2 {
			result.Paths = pathsAmong(g, scored, maxHops)
		}
		return nil
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	result.Confidence = NotFoundConfidence
	if len(result.RelevantEntities) > 0 {
		result.Confidence = FoundConfidence
	}
	if req.IncludeExport && len(result.RelevantEntities) > 0 {
		result.ExportStatement = exportStatement(result.RelevantEntities)
	}
	result.Answer = e.answer(ctx, req.Query, result, labels)

	span.SetAttributes(
		attribute.Int("query.entities", len(result.RelevantEntities)),
		attribute.Int("query.paths", len(result.Paths)),
	)
	e.logger.Debug("query answered",
		slog.String("graph_id", req.GraphID),
		slog.Int("entities", len(result.RelevantEntities)),
		slog.Duration("duration", time.Since(start)),
	)
	return result, nil
}

// similarities returns entity id → cosine similarity for embedding-aware
// queries, or nil. Backend failures disable the boost for this query.
func (e *Engine) similarities(ctx context.Context, req QueryRequest) map[string]float64 {
	if !req.UseEmbeddings || e.embedder == nil || e.index == nil {
		return nil
	}
	vectors, err := e.embedder.Embed(ctx, []string{req.Query})
	if err == nil && len(vectors) != 1 {
		err = llm.ErrEmptyResponse
	}
	var matches []vector.Match
	if err == nil {
		matches, err = e.index.Search(ctx, req.GraphID, vectors[0], MaxRelevantEntities)
	}
	if err != nil {
		e.logger.WarnContext(ctx, "embedding boost unavailable",
			slog.String("graph_id", req.GraphID),
			slog.String("error", err.Error()),
		)
		return nil
	}
	out := make(map[string]float64, len(matches))
	for _, m := range matches {
		out[m.EntityID] = max(0, m.Score)
	}
	return out
}

func (e *Engine) answer(ctx context.Context, question string, result *QueryResult, labels map[string]string) string {
	text, err := e.answers.Answer(ctx, question, result, labels)
	if err == nil && text != "" {
		return text
	}
	if err != nil {
		e.logger.WarnContext(ctx, "answer generation failed, using template", slog.String("error", err.Error()))
	}
	text, _ = TemplateAnswer{}.Answer(ctx, question, result, labels)
	return text
}

func labelMap(g *model.KnowledgeGraph) map[string]string {
	out := make(map[string]string, len(g.Entities))
	for _, ent := range g.Entities {
		out[ent.ID] = ent.Label
	}
	return out
}
