// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package builder turns a query and a set of documents into a stored
// knowledge graph.
package builder

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/sync/errgroup"

	"github.com/AleutianAI/AleutianKG/services/knowledge/extract"
	"github.com/AleutianAI/AleutianKG/services/knowledge/infer"
	"github.com/AleutianAI/AleutianKG/services/knowledge/model"
	"github.com/AleutianAI/AleutianKG/services/knowledge/policy"
	"github.com/AleutianAI/AleutianKG/services/knowledge/store"
	"github.com/AleutianAI/AleutianKG/services/knowledge/vector"
	"github.com/AleutianAI/AleutianKG/services/llm"
)

var tracer = otel.Tracer("aleutian.kg.builder")

const (
	// DefaultMaxEntities applies when BuildRequest.MaxEntities is zero.
	DefaultMaxEntities = 100

	// DefaultMaxRelationships applies when BuildRequest.MaxRelationships is zero.
	DefaultMaxRelationships = 200

	// DefaultMaxCorpusChars caps the extraction corpus, in runes.
	DefaultMaxCorpusChars = 200_000

	resolveConcurrency = 4
)

var (
	// ErrDocumentResolution wraps failures to fetch a requested document.
	ErrDocumentResolution = errors.New("document resolution failed")

	// ErrSensitiveContent is returned when the screening policy rejects
	// the build input.
	ErrSensitiveContent = errors.New("sensitive content in build input")
)

// BuildRequest describes one graph build.
type BuildRequest struct {
	Query         string   `json:"query"`
	DocumentTexts []string `json:"document_texts,omitempty"`
	DocumentIDs   []string `json:"document_ids,omitempty"`
	Name          string   `json:"name,omitempty"`
	Description   string   `json:"description,omitempty"`

	MaxEntities          int                  `json:"max_entities,omitempty"`
	MaxRelationships     int                  `json:"max_relationships,omitempty"`
	AllowedEntityTypes   []model.EntityType   `json:"allowed_entity_types,omitempty"`
	AllowedRelationTypes []model.RelationType `json:"allowed_relation_types,omitempty"`

	UseSmartExtraction   bool   `json:"use_smart_extraction"`
	InferRelationships   bool   `json:"infer_relationships"`
	MergeSimilarEntities bool   `json:"merge_similar_entities"`
	DedupeRelationships  bool   `json:"dedupe_relationships"`
	Language             string `json:"language,omitempty"`

	Ontology *model.Ontology `json:"ontology,omitempty"`
}

// Builder runs the extraction pipeline and commits the result to a store.
//
// Thread Safety:
//
//	Safe for concurrent use. Concurrent builds share nothing but the store,
//	which they touch once each.
type Builder struct {
	store     *store.Store
	entities  *extract.EntityExtractor
	relations *extract.RelationshipExtractor

	resolver       DocumentResolver
	embedder       llm.Embedder
	index          vector.Index
	maxCorpusChars int
	inferLimit     int
	policy         *policy.Engine
	policyAction   policy.Action
	logger         *slog.Logger
}

// Option configures a Builder.
type Option func(*Builder)

// WithResolver sets the resolver used for BuildRequest.DocumentIDs.
func WithResolver(r DocumentResolver) Option {
	return func(b *Builder) { b.resolver = r }
}

// WithEmbeddings embeds entity labels with e and, after commit, upserts
// them into idx. idx may be nil.
func WithEmbeddings(e llm.Embedder, idx vector.Index) Option {
	return func(b *Builder) {
		b.embedder = e
		b.index = idx
	}
}

// WithMaxCorpusChars overrides DefaultMaxCorpusChars.
func WithMaxCorpusChars(n int) Option {
	return func(b *Builder) {
		if n > 0 {
			b.maxCorpusChars = n
		}
	}
}

// WithPolicy screens the corpus with engine before extraction. ActionRedact
// removes matches; ActionReject fails the build with ErrSensitiveContent.
// ActionAllow or a nil engine disables screening.
func WithPolicy(engine *policy.Engine, action policy.Action) Option {
	return func(b *Builder) {
		b.policy = engine
		b.policyAction = action
	}
}

// WithLogger sets the builder logger.
func WithLogger(l *slog.Logger) Option {
	return func(b *Builder) {
		if l != nil {
			b.logger = l
		}
	}
}

// New creates a Builder committing to s.
func New(s *store.Store, entities *extract.EntityExtractor, relations *extract.RelationshipExtractor, opts ...Option) *Builder {
	b := &Builder{
		store:          s,
		entities:       entities,
		relations:      relations,
		maxCorpusChars: DefaultMaxCorpusChars,
		inferLimit:     infer.DefaultLimit,
		logger:         slog.Default(),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// document is one resolved input with its id.
type document struct {
	id   string
	text string
}

// Build extracts a knowledge graph from the request and stores it.
//
// Description:
//
//	Steps run strictly in order: resolve documents, extract entities,
//	optionally merge similar ones, extract relationships, optionally infer,
//	then commit once under a fresh id. Nothing is visible in the store
//	until the final commit, so a cancelled build leaves no trace.
//
// Inputs:
//
//	ctx - Cancellation. Checked between steps and inside extraction.
//	req - Build parameters. Zero limits use the package defaults.
//
// Outputs:
//
//	*model.KnowledgeGraph - The committed graph.
//	error                 - ctx errors, ErrDocumentResolution, or a store
//	                        error. An empty corpus is not an error.
func (b *Builder) Build(ctx context.Context, req BuildRequest) (*model.KnowledgeGraph, error) {
	start := time.Now()
	ctx, span := tracer.Start(ctx, "Builder.Build")
	defer span.End()

	graph, err := b.build(ctx, req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		b.logger.ErrorContext(ctx, "graph build failed", slog.String("error", err.Error()))
		return nil, err
	}
	span.SetAttributes(
		attribute.String("graph.id", graph.ID),
		attribute.Int("graph.entities", graph.EntityCount),
		attribute.Int("graph.relationships", graph.RelationshipCount),
	)
	b.logger.InfoContext(ctx, "graph built",
		slog.String("graph_id", graph.ID),
		slog.Int("entities", graph.EntityCount),
		slog.Int("relationships", graph.RelationshipCount),
		slog.Duration("duration", time.Since(start)),
	)
	return graph, nil
}

func (b *Builder) build(ctx context.Context, req BuildRequest) (*model.KnowledgeGraph, error) {
	maxEntities := orDefault(req.MaxEntities, DefaultMaxEntities)
	maxRelationships := orDefault(req.MaxRelationships, DefaultMaxRelationships)

	docs, err := b.resolveDocuments(ctx, req.DocumentIDs)
	if err != nil {
		return nil, err
	}
	corpus, err := b.screen(ctx, b.corpus(req, docs))
	if err != nil {
		return nil, err
	}

	entities, err := b.entities.Extract(ctx, corpus, extract.EntityOptions{
		AllowedTypes:       req.AllowedEntityTypes,
		Language:           req.Language,
		UseSmartExtraction: req.UseSmartExtraction,
	})
	if err != nil {
		return nil, err
	}
	if len(entities) > maxEntities {
		entities = entities[:maxEntities]
	}
	if req.MergeSimilarEntities {
		entities = MergeSimilar(entities)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	rels, err := b.relations.Extract(ctx, corpus, entities, extract.RelationshipOptions{
		Language:           req.Language,
		UseSmartExtraction: req.UseSmartExtraction,
	})
	if err != nil {
		return nil, err
	}
	rels = filterRelationTypes(rels, req.AllowedRelationTypes)
	if req.DedupeRelationships {
		rels = DedupeRelationships(rels)
	}
	if len(rels) > maxRelationships {
		rels = rels[:maxRelationships]
	}
	if req.InferRelationships {
		rels = append(rels, infer.Run(entities, rels, b.inferLimit)...)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	attachProvenance(entities, rels, docs)
	b.embed(ctx, entities)

	now := time.Now().UTC()
	graph := &model.KnowledgeGraph{
		ID:                uuid.NewString(),
		Name:              req.Name,
		Description:       req.Description,
		Entities:          entities,
		Relationships:     rels,
		Ontology:          req.Ontology,
		SourceDocumentIDs: append([]string(nil), req.DocumentIDs...),
		SourceQuery:       req.Query,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	if graph.Name == "" {
		graph.Name = defaultName(req.Query, graph.ID)
	}
	if graph.Entities == nil {
		graph.Entities = []model.Entity{}
	}
	if graph.Relationships == nil {
		graph.Relationships = []model.Relationship{}
	}
	graph.RecomputeCounts()

	if err := b.store.Put(ctx, graph); err != nil {
		return nil, fmt.Errorf("commit graph: %w", err)
	}
	b.indexVectors(ctx, graph)
	return graph, nil
}

// screen applies the sensitive data policy to corpus.
func (b *Builder) screen(ctx context.Context, corpus string) (string, error) {
	if b.policy == nil || b.policyAction == policy.ActionAllow || b.policyAction == "" {
		return corpus, nil
	}
	_, span := tracer.Start(ctx, "Builder.screen")
	defer span.End()

	var findings []policy.Finding
	if b.policyAction == policy.ActionReject {
		findings = b.policy.Scan(corpus)
	} else {
		corpus, findings = b.policy.Redact(corpus)
	}
	span.SetAttributes(attribute.Int("policy.findings", len(findings)))
	if len(findings) == 0 {
		return corpus, nil
	}

	ids := make([]string, 0, len(findings))
	for _, f := range findings {
		ids = append(ids, f.PatternID)
	}
	if b.policyAction == policy.ActionReject {
		return "", fmt.Errorf("%w: %d finding(s), first %s on line %d",
			ErrSensitiveContent, len(findings), findings[0].PatternID, findings[0].Line)
	}
	b.logger.WarnContext(ctx, "sensitive content redacted",
		slog.Int("findings", len(findings)),
		slog.Any("patterns", ids),
	)
	return corpus, nil
}

// indexVectors pushes entity embeddings to the vector index. The graph is
// already committed, so failures are logged rather than returned.
func (b *Builder) indexVectors(ctx context.Context, graph *model.KnowledgeGraph) {
	if b.index == nil || b.embedder == nil {
		return
	}
	if err := b.index.Upsert(ctx, graph.ID, graph.Entities); err != nil {
		b.logger.WarnContext(ctx, "vector index upsert failed",
			slog.String("graph_id", graph.ID),
			slog.String("error", err.Error()),
		)
	}
}

// resolveDocuments fetches ids concurrently, preserving order.
func (b *Builder) resolveDocuments(ctx context.Context, ids []string) ([]document, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	if b.resolver == nil {
		b.logger.WarnContext(ctx, "document ids given but no resolver configured", slog.Int("ids", len(ids)))
		return nil, nil
	}
	ctx, span := tracer.Start(ctx, "Builder.resolveDocuments")
	defer span.End()
	span.SetAttributes(attribute.Int("documents", len(ids)))

	docs := make([]document, len(ids))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(resolveConcurrency)
	for i, id := range ids {
		g.Go(func() error {
			text, err := b.resolver.Resolve(gctx, id)
			if err != nil {
				return fmt.Errorf("%w: %s: %w", ErrDocumentResolution, id, err)
			}
			docs[i] = document{id: id, text: text}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	return docs, nil
}

// corpus joins the query, inline texts and resolved documents with
// newlines and caps the result at maxCorpusChars runes.
func (b *Builder) corpus(req BuildRequest, docs []document) string {
	parts := make([]string, 0, 1+len(req.DocumentTexts)+len(docs))
	if s := strings.TrimSpace(req.Query); s != "" {
		parts = append(parts, s)
	}
	for _, t := range req.DocumentTexts {
		if s := strings.TrimSpace(t); s != "" {
			parts = append(parts, s)
		}
	}
	for _, d := range docs {
		if s := strings.TrimSpace(d.text); s != "" {
			parts = append(parts, s)
		}
	}
	text := strings.Join(parts, "\n")
	if utf8.RuneCountInString(text) <= b.maxCorpusChars {
		return text
	}
	b.logger.Warn("corpus truncated",
		slog.Int("runes", utf8.RuneCountInString(text)),
		slog.Int("limit", b.maxCorpusChars),
	)
	n := 0
	for i := range text {
		if n == b.maxCorpusChars {
			return text[:i]
		}
		n++
	}
	return text
}

// embed sets Embedding on entities when an embedder is configured. Failures
// are logged; the graph is built without vectors.
func (b *Builder) embed(ctx context.Context, entities []model.Entity) {
	if b.embedder == nil || len(entities) == 0 {
		return
	}
	labels := make([]string, len(entities))
	for i, e := range entities {
		labels[i] = e.Label
	}
	vectors, err := b.embedder.Embed(ctx, labels)
	if err == nil && len(vectors) != len(entities) {
		err = fmt.Errorf("embedder returned %d vectors for %d labels", len(vectors), len(entities))
	}
	if err != nil {
		b.logger.WarnContext(ctx, "entity embedding failed, continuing without vectors", slog.String("error", err.Error()))
		return
	}
	for i := range entities {
		entities[i].Embedding = vectors[i]
	}
}

func filterRelationTypes(rels []model.Relationship, allowed []model.RelationType) []model.Relationship {
	if len(allowed) == 0 {
		return rels
	}
	set := make(map[model.RelationType]struct{}, len(allowed))
	for _, t := range allowed {
		set[t] = struct{}{}
	}
	out := rels[:0]
	for _, r := range rels {
		if _, ok := set[r.Type]; ok {
			out = append(out, r)
		}
	}
	return out
}

// MergeSimilar collapses entities whose labels differ only in case,
// spacing, punctuation, or a plural "s". The higher-confidence entity
// survives; the other's label becomes an alias of it.
func MergeSimilar(entities []model.Entity) []model.Entity {
	index := make(map[string]int, len(entities))
	out := make([]model.Entity, 0, len(entities))
	for _, e := range entities {
		key := similarityKey(e.Label)
		i, ok := index[key]
		if !ok {
			index[key] = len(out)
			out = append(out, e)
			continue
		}
		kept := &out[i]
		if e.Confidence > kept.Confidence {
			aliases := append(kept.Aliases, e.Aliases...)
			loser := kept.Label
			*kept = e
			kept.Aliases = aliases
			kept.AddAlias(loser)
		} else {
			kept.AddAlias(e.Label)
			for _, a := range e.Aliases {
				kept.AddAlias(a)
			}
		}
		if kept.Type == model.EntityConcept && e.Type != model.EntityConcept {
			kept.Type = e.Type
		}
	}
	return out
}

func similarityKey(label string) string {
	var sb strings.Builder
	for _, r := range model.NormalizeLabel(label) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			sb.WriteRune(r)
		}
	}
	key := sb.String()
	if utf8.RuneCountInString(key) > 3 && strings.HasSuffix(key, "s") && !strings.HasSuffix(key, "ss") {
		key = strings.TrimSuffix(key, "s")
	}
	return key
}

// DedupeRelationships merges relationships with the same (source, target,
// type), keeping the first and raising its confidence and weight to the
// maximum of the group.
func DedupeRelationships(rels []model.Relationship) []model.Relationship {
	type key struct {
		src, dst string
		typ      model.RelationType
	}
	index := make(map[key]int, len(rels))
	out := make([]model.Relationship, 0, len(rels))
	for _, r := range rels {
		k := key{r.SourceID, r.TargetID, r.Type}
		i, ok := index[k]
		if !ok {
			index[k] = len(out)
			out = append(out, r)
			continue
		}
		out[i].Confidence = max(out[i].Confidence, r.Confidence)
		out[i].Weight = max(out[i].Weight, r.Weight)
	}
	return out
}

// attachProvenance records, for each entity and relationship, the resolved
// documents mentioning it. The first becomes DocumentID; all of them are
// listed in FragmentIDs.
func attachProvenance(entities []model.Entity, rels []model.Relationship, docs []document) {
	if len(docs) == 0 {
		return
	}
	lowered := make([]string, len(docs))
	for i, d := range docs {
		lowered[i] = strings.ToLower(d.text)
	}
	mentions := make(map[string][]string, len(entities))
	for i := range entities {
		e := &entities[i]
		var ids []string
		for j, text := range lowered {
			if mentionsEntity(text, *e) {
				ids = append(ids, docs[j].id)
			}
		}
		mentions[e.ID] = ids
		if len(ids) > 0 {
			e.Provenance = &model.Provenance{DocumentID: ids[0], FragmentIDs: ids}
		}
	}
	for i := range rels {
		r := &rels[i]
		src, dst := mentions[r.SourceID], mentions[r.TargetID]
		var shared []string
		for _, id := range src {
			for _, other := range dst {
				if id == other {
					shared = append(shared, id)
					break
				}
			}
		}
		if len(shared) > 0 {
			r.Provenance = &model.Provenance{DocumentID: shared[0], FragmentIDs: shared}
		}
	}
}

func mentionsEntity(lowerText string, e model.Entity) bool {
	if strings.Contains(lowerText, strings.ToLower(e.Label)) {
		return true
	}
	for _, a := range e.Aliases {
		if strings.Contains(lowerText, strings.ToLower(a)) {
			return true
		}
	}
	return false
}

func defaultName(query, id string) string {
	q := strings.TrimSpace(query)
	if q == "" {
		return "graph-" + id[:8]
	}
	if utf8.RuneCountInString(q) > 60 {
		q = string([]rune(q)[:60])
	}
	return q
}

func orDefault(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}
