// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package knowledge

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/AleutianAI/AleutianKG/services/knowledge/builder"
	"github.com/AleutianAI/AleutianKG/services/knowledge/export"
	"github.com/AleutianAI/AleutianKG/services/knowledge/extract"
	"github.com/AleutianAI/AleutianKG/services/knowledge/model"
	"github.com/AleutianAI/AleutianKG/services/knowledge/query"
	"github.com/AleutianAI/AleutianKG/services/knowledge/storage/badger"
	"github.com/AleutianAI/AleutianKG/services/knowledge/store"
	"github.com/AleutianAI/AleutianKG/services/knowledge/telemetry"
	"github.com/AleutianAI/AleutianKG/services/knowledge/vector"
)

const scenario = "OpenAI uses Kubernetes. Kubernetes integrates with Docker."

func newTestService(t *testing.T, opts ...Option) *Service {
	t.Helper()
	st := store.New()
	b := builder.New(st,
		extract.NewEntityExtractor(nil, nil, nil),
		extract.NewRelationshipExtractor(nil, nil, nil),
	)
	return NewService(st, b, query.New(st, nil), export.New(st), opts...)
}

func buildScenario(t *testing.T, svc *Service) *model.KnowledgeGraph {
	t.Helper()
	g, err := svc.Build(context.Background(), builder.BuildRequest{Query: scenario})
	require.NoError(t, err)
	return g
}

func idOf(t *testing.T, g *model.KnowledgeGraph, label string) string {
	t.Helper()
	for _, e := range g.Entities {
		if e.Label == label {
			return e.ID
		}
	}
	t.Fatalf("no entity %q", label)
	return ""
}

func TestService_ScenarioEndToEnd(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()
	g := buildScenario(t, svc)
	assert.Equal(t, 3, g.EntityCount)
	assert.Equal(t, 1, svc.GraphCount())

	res, err := svc.Query(ctx, query.QueryRequest{GraphID: g.ID, Query: "What does OpenAI use?"})
	require.NoError(t, err)
	require.NotEmpty(t, res.RelevantEntities)
	assert.Equal(t, "Kubernetes", res.RelevantEntities[0].Label)
	assert.Contains(t, res.Answer, "OpenAI uses Kubernetes")
	assert.Equal(t, query.FoundConfidence, res.Confidence)

	path, err := svc.FindPath(ctx, g.ID, idOf(t, g, "OpenAI"), idOf(t, g, "Docker"), 2)
	require.NoError(t, err)
	assert.Equal(t, 2, path.Hops())

	exp, err := svc.Expand(ctx, query.ExpandRequest{EntityID: idOf(t, g, "Kubernetes")})
	require.NoError(t, err)
	assert.Len(t, exp.Neighbors, 2)
	assert.Equal(t, g.ID, exp.GraphID)

	require.NoError(t, svc.Delete(ctx, g.ID))
	_, err = svc.Query(ctx, query.QueryRequest{GraphID: g.ID, Query: "OpenAI"})
	assert.ErrorIs(t, err, ErrGraphNotFound)
	assert.Zero(t, svc.GraphCount())
}

func TestService_BuildValidation(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	_, err := svc.Build(ctx, builder.BuildRequest{Query: scenario, MaxEntities: -1})
	assert.ErrorIs(t, err, ErrInvalidRequest)

	_, err = svc.Build(ctx, builder.BuildRequest{Query: scenario, AllowedEntityTypes: []model.EntityType{"spaceship"}})
	assert.ErrorIs(t, err, ErrInvalidRequest)
	assert.ErrorIs(t, err, model.ErrUnknownEntityType)

	_, err = svc.Build(ctx, builder.BuildRequest{Query: scenario, AllowedRelationTypes: []model.RelationType{"loves"}})
	assert.ErrorIs(t, err, model.ErrUnknownRelationType)
	assert.Zero(t, svc.GraphCount())
}

func TestService_QueryValidation(t *testing.T) {
	svc := newTestService(t)
	g := buildScenario(t, svc)
	_, err := svc.Query(context.Background(), query.QueryRequest{GraphID: g.ID, Query: "   "})
	assert.ErrorIs(t, err, ErrInvalidRequest)
	_, err = svc.Query(context.Background(), query.QueryRequest{GraphID: g.ID, Query: "OpenAI", MaxHops: -1})
	assert.ErrorIs(t, err, ErrInvalidRequest)
}

func TestService_InferIsIdempotent(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()
	g := buildScenario(t, svc)

	added, err := svc.Infer(ctx, g.ID, 0)
	require.NoError(t, err)
	require.Len(t, added, 1)
	assert.True(t, added[0].Inferred)
	assert.Equal(t, idOf(t, g, "OpenAI"), added[0].SourceID)
	assert.Equal(t, idOf(t, g, "Docker"), added[0].TargetID)

	stored, err := svc.Get(ctx, g.ID)
	require.NoError(t, err)
	assert.Equal(t, g.RelationshipCount+1, stored.RelationshipCount)
	require.NoError(t, stored.Validate())

	again, err := svc.Infer(ctx, g.ID, 0)
	require.NoError(t, err)
	assert.Empty(t, again)

	_, err = svc.Infer(ctx, "missing", 0)
	assert.ErrorIs(t, err, ErrGraphNotFound)
	_, err = svc.Infer(ctx, g.ID, -1)
	assert.ErrorIs(t, err, ErrInvalidRequest)
}

func TestService_Export(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()
	g := buildScenario(t, svc)

	out, err := svc.Export(ctx, g.ID, "", false)
	require.NoError(t, err)
	lines := strings.Split(string(out), "\n")
	assert.Len(t, lines, g.EntityCount+g.RelationshipCount)

	out, err = svc.Export(ctx, g.ID, FormatJSON, false)
	require.NoError(t, err)
	assert.Contains(t, string(out), `"id": "`+g.ID+`"`)

	_, err = svc.Export(ctx, g.ID, "graphml", false)
	assert.ErrorIs(t, err, ErrUnsupportedFormat)
	_, err = svc.Export(ctx, "missing", FormatCypher, false)
	assert.ErrorIs(t, err, ErrGraphNotFound)
}

func TestService_FindEntities(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()
	g := buildScenario(t, svc)

	matches, err := svc.FindEntities(ctx, g.ID, "kubernets", 0)
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.Equal(t, "Kubernetes", matches[0].Label)
	assert.Equal(t, 1, matches[0].Distance)

	matches, err = svc.FindEntities(ctx, g.ID, "DOCKER", 0)
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.Zero(t, matches[0].Distance)

	matches, err = svc.FindEntities(ctx, g.ID, "terraform", 0)
	require.NoError(t, err)
	assert.Empty(t, matches)

	_, err = svc.FindEntities(ctx, g.ID, "  ", 0)
	assert.ErrorIs(t, err, ErrInvalidRequest)
	_, err = svc.FindEntities(ctx, "missing", "docker", 0)
	assert.ErrorIs(t, err, ErrGraphNotFound)
}

type stubIndex struct {
	deleted []string
	err     error
}

func (s *stubIndex) Upsert(context.Context, string, []model.Entity) error { return nil }

func (s *stubIndex) Search(context.Context, string, []float32, int) ([]vector.Match, error) {
	return nil, nil
}

func (s *stubIndex) DeleteGraph(_ context.Context, graphID string) error {
	s.deleted = append(s.deleted, graphID)
	return s.err
}

func TestService_DeleteDropsVectors(t *testing.T) {
	idx := &stubIndex{err: errors.New("weaviate down")}
	svc := newTestService(t, WithVectorIndex(idx))
	g := buildScenario(t, svc)

	require.NoError(t, svc.Delete(context.Background(), g.ID), "index failure is not fatal")
	assert.Equal(t, []string{g.ID}, idx.deleted)

	err := svc.Delete(context.Background(), g.ID)
	assert.ErrorIs(t, err, ErrGraphNotFound)
	assert.Len(t, idx.deleted, 1, "no vector cleanup for unknown graphs")
}

type lengthEmbedder struct{}

func (lengthEmbedder) Embed(_ context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = []float32{float32(len(t)), 1}
	}
	return out, nil
}

func TestService_WarmRestoresVectors(t *testing.T) {
	ctx := context.Background()
	db, err := badger.Open(badger.InMemoryConfig())
	require.NoError(t, err)
	defer db.Close()

	newPersistent := func(idx vector.Index) *Service {
		st := store.New(store.WithPersister(badger.NewGraphRepository(db)))
		b := builder.New(st,
			extract.NewEntityExtractor(nil, nil, nil),
			extract.NewRelationshipExtractor(nil, nil, nil),
			builder.WithEmbeddings(lengthEmbedder{}, idx),
		)
		e := query.New(st, nil, query.WithEmbeddings(lengthEmbedder{}, idx))
		return NewService(st, b, e, export.New(st), WithVectorIndex(idx))
	}

	first := newPersistent(vector.NewMemoryIndex())
	g := buildScenario(t, first)

	restarted := vector.NewMemoryIndex()
	second := newPersistent(restarted)
	matches, err := restarted.Search(ctx, g.ID, []float32{6, 1}, 5)
	require.NoError(t, err)
	assert.Empty(t, matches, "a fresh index starts empty")

	n, err := second.Warm(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	matches, err = restarted.Search(ctx, g.ID, []float32{6, 1}, 5)
	require.NoError(t, err)
	assert.Len(t, matches, 3)

	res, err := second.Query(ctx, query.QueryRequest{GraphID: g.ID, Query: "Docker", UseEmbeddings: true})
	require.NoError(t, err)
	require.NotEmpty(t, res.RelevantEntities)
	assert.Equal(t, "Docker", res.RelevantEntities[0].Label)
}

func TestService_WarmWithoutPersistence(t *testing.T) {
	n, err := newTestService(t, WithVectorIndex(vector.NewMemoryIndex())).Warm(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestService_RecordsMetrics(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	m, err := telemetry.NewMetrics(mp.Meter("test"))
	require.NoError(t, err)

	svc := newTestService(t, WithMetrics(m))
	g := buildScenario(t, svc)
	_, _ = svc.Query(context.Background(), query.QueryRequest{GraphID: "missing", Query: "x"})
	_, err = svc.Infer(context.Background(), g.ID, 0)
	require.NoError(t, err)

	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))
	series := map[string]int64{}
	var inferred int64
	for _, sm := range rm.ScopeMetrics {
		for _, metric := range sm.Metrics {
			switch metric.Name {
			case "kg_operations_total":
				for _, dp := range metric.Data.(metricdata.Sum[int64]).DataPoints {
					op, _ := dp.Attributes.Value("operation")
					status, _ := dp.Attributes.Value("status")
					series[op.AsString()+"/"+status.AsString()] = dp.Value
				}
			case "kg_inferred_relationships_total":
				for _, dp := range metric.Data.(metricdata.Sum[int64]).DataPoints {
					inferred += dp.Value
				}
			}
		}
	}
	assert.Equal(t, int64(1), series["build/ok"])
	assert.Equal(t, int64(1), series["query/error"])
	assert.Equal(t, int64(1), series["infer/ok"])
	assert.Equal(t, int64(1), inferred)
}
