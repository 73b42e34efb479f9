// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package builder

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/AleutianKG/services/knowledge/extract"
	"github.com/AleutianAI/AleutianKG/services/knowledge/model"
	"github.com/AleutianAI/AleutianKG/services/knowledge/policy"
	"github.com/AleutianAI/AleutianKG/services/knowledge/store"
	"github.com/AleutianAI/AleutianKG/services/knowledge/vector"
)

const scenario = "OpenAI uses Kubernetes. Kubernetes integrates with Docker."

func newTestBuilder(opts ...Option) (*Builder, *store.Store) {
	s := store.New()
	b := New(s,
		extract.NewEntityExtractor(nil, nil, nil),
		extract.NewRelationshipExtractor(nil, nil, nil),
		opts...,
	)
	return b, s
}

func entityByLabel(g *model.KnowledgeGraph, label string) (model.Entity, bool) {
	for _, e := range g.Entities {
		if e.Label == label {
			return e, true
		}
	}
	return model.Entity{}, false
}

func countType(g *model.KnowledgeGraph, typ model.RelationType) int {
	n := 0
	for _, r := range g.Relationships {
		if r.Type == typ {
			n++
		}
	}
	return n
}

type fakeEmbedder struct {
	err error
}

func (f fakeEmbedder) Embed(_ context.Context, texts []string) ([][]float32, error) {
	if f.err != nil {
		return nil, f.err
	}
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = []float32{float32(len(t)), 1}
	}
	return out, nil
}

func TestBuild_Scenario(t *testing.T) {
	b, s := newTestBuilder()
	ctx := context.Background()

	g, err := b.Build(ctx, BuildRequest{Query: scenario})
	require.NoError(t, err)
	require.NoError(t, g.Validate())

	assert.Equal(t, 3, g.EntityCount)
	assert.Equal(t, len(g.Relationships), g.RelationshipCount)
	assert.Equal(t, scenario, g.Name, "query names the graph when no name is given")
	assert.Equal(t, scenario, g.SourceQuery)

	openai, ok := entityByLabel(g, "OpenAI")
	require.True(t, ok)
	k8s, ok := entityByLabel(g, "Kubernetes")
	require.True(t, ok)
	docker, ok := entityByLabel(g, "Docker")
	require.True(t, ok)

	has := func(src, dst string, typ model.RelationType) bool {
		for _, r := range g.Relationships {
			if r.SourceID == src && r.TargetID == dst && r.Type == typ {
				return true
			}
		}
		return false
	}
	assert.True(t, has(openai.ID, k8s.ID, model.RelUses))
	assert.True(t, has(k8s.ID, docker.ID, model.RelIntegratesWith))
	assert.Zero(t, countInferred(g), "inference is opt-in")

	stored, err := s.Get(ctx, g.ID)
	require.NoError(t, err)
	assert.Equal(t, g.ID, stored.ID)
	owner, err := s.FindEntityGraph(openai.ID)
	require.NoError(t, err)
	assert.Equal(t, g.ID, owner)
}

func countInferred(g *model.KnowledgeGraph) int {
	n := 0
	for _, r := range g.Relationships {
		if r.Inferred {
			n++
		}
	}
	return n
}

func TestBuild_EmptyCorpus(t *testing.T) {
	b, s := newTestBuilder()
	g, err := b.Build(context.Background(), BuildRequest{Name: "empty"})
	require.NoError(t, err)
	assert.Equal(t, "empty", g.Name)
	assert.Empty(t, g.Entities)
	assert.Empty(t, g.Relationships)
	assert.NotNil(t, g.Entities)
	assert.Equal(t, 1, s.Len())
}

func TestBuild_Infer(t *testing.T) {
	b, _ := newTestBuilder()
	g, err := b.Build(context.Background(), BuildRequest{Query: scenario, InferRelationships: true})
	require.NoError(t, err)
	require.NoError(t, g.Validate())

	openai, _ := entityByLabel(g, "OpenAI")
	docker, _ := entityByLabel(g, "Docker")
	require.Equal(t, 1, countInferred(g))
	for _, r := range g.Relationships {
		if r.Inferred {
			assert.Equal(t, openai.ID, r.SourceID)
			assert.Equal(t, docker.ID, r.TargetID)
			assert.Equal(t, model.RelRelatedTo, r.Type)
		}
	}
}

func TestBuild_Limits(t *testing.T) {
	var sb strings.Builder
	techs := []string{"Kubernetes", "Docker", "Redis", "PostgreSQL", "Kafka"}
	for i := 1; i < len(techs); i++ {
		fmt.Fprintf(&sb, "%s uses %s. ", techs[i-1], techs[i])
	}
	b, _ := newTestBuilder()
	g, err := b.Build(context.Background(), BuildRequest{
		Query:            sb.String(),
		MaxEntities:      2,
		MaxRelationships: 1,
	})
	require.NoError(t, err)
	assert.Len(t, g.Entities, 2)
	assert.Len(t, g.Relationships, 1)
	require.NoError(t, g.Validate())
}

func TestBuild_AllowedTypes(t *testing.T) {
	b, _ := newTestBuilder()
	g, err := b.Build(context.Background(), BuildRequest{
		Query:                scenario,
		AllowedEntityTypes:   []model.EntityType{model.EntityTechnology},
		AllowedRelationTypes: []model.RelationType{model.RelIntegratesWith},
	})
	require.NoError(t, err)
	require.Len(t, g.Entities, 2)
	for _, e := range g.Entities {
		assert.Equal(t, model.EntityTechnology, e.Type)
	}
	require.Len(t, g.Relationships, 1)
	assert.Equal(t, model.RelIntegratesWith, g.Relationships[0].Type)
}

func TestBuild_DedupeRelationships(t *testing.T) {
	text := "OpenAI uses Kubernetes. OpenAI uses Kubernetes."
	b, _ := newTestBuilder()

	plain, err := b.Build(context.Background(), BuildRequest{Query: text})
	require.NoError(t, err)
	assert.Equal(t, 2, countType(plain, model.RelUses), "parallel edges are kept by default")

	deduped, err := b.Build(context.Background(), BuildRequest{Query: text, DedupeRelationships: true})
	require.NoError(t, err)
	assert.Equal(t, 1, countType(deduped, model.RelUses))
}

func TestMergeSimilar(t *testing.T) {
	low := model.NewEntity("Container", model.EntityConcept, 0.6, model.MethodPattern)
	high := model.NewEntity("containers", model.EntityTechnology, 0.9, model.MethodSmart)
	other := model.NewEntity("Node.js", model.EntityTechnology, 0.7, model.MethodPattern)
	same := model.NewEntity("NodeJS", model.EntityTechnology, 0.5, model.MethodPattern)

	out := MergeSimilar([]model.Entity{low, other, high, same})
	require.Len(t, out, 2)

	assert.Equal(t, high.ID, out[0].ID)
	assert.Equal(t, "containers", out[0].Label)
	assert.Equal(t, model.EntityTechnology, out[0].Type)
	assert.True(t, out[0].HasAlias("Container"))

	assert.Equal(t, other.ID, out[1].ID)
	assert.True(t, out[1].HasAlias("NodeJS"))
}

func TestDedupeRelationships(t *testing.T) {
	a := model.NewRelationship("a", "b", model.RelUses, 0.5, model.MethodPattern)
	b := model.NewRelationship("a", "b", model.RelUses, 0.9, model.MethodSmart)
	b.Weight = 3
	c := model.NewRelationship("b", "a", model.RelUses, 0.5, model.MethodPattern)

	out := DedupeRelationships([]model.Relationship{a, b, c})
	require.Len(t, out, 2)
	assert.Equal(t, a.ID, out[0].ID)
	assert.Equal(t, 0.9, out[0].Confidence)
	assert.Equal(t, 3.0, out[0].Weight)
	assert.Equal(t, c.ID, out[1].ID)
}

func TestBuild_ResolverProvenance(t *testing.T) {
	resolver := StaticResolver{
		"doc-1": "OpenAI uses Kubernetes.",
		"doc-2": "Kubernetes integrates with Docker.",
	}
	b, _ := newTestBuilder(WithResolver(resolver))

	g, err := b.Build(context.Background(), BuildRequest{DocumentIDs: []string{"doc-1", "doc-2"}})
	require.NoError(t, err)
	assert.Equal(t, []string{"doc-1", "doc-2"}, g.SourceDocumentIDs)

	k8s, ok := entityByLabel(g, "Kubernetes")
	require.True(t, ok)
	require.NotNil(t, k8s.Provenance)
	assert.Equal(t, "doc-1", k8s.Provenance.DocumentID)
	assert.Equal(t, []string{"doc-1", "doc-2"}, k8s.Provenance.FragmentIDs)

	docker, _ := entityByLabel(g, "Docker")
	require.NotNil(t, docker.Provenance)
	assert.Equal(t, "doc-2", docker.Provenance.DocumentID)

	for _, r := range g.Relationships {
		if r.Type == model.RelIntegratesWith {
			require.NotNil(t, r.Provenance)
			assert.Equal(t, "doc-2", r.Provenance.DocumentID)
		}
	}
}

func TestBuild_ResolverError(t *testing.T) {
	b, s := newTestBuilder(WithResolver(StaticResolver{"doc-1": "OpenAI"}))
	_, err := b.Build(context.Background(), BuildRequest{DocumentIDs: []string{"doc-1", "missing"}})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrDocumentResolution)
	assert.ErrorIs(t, err, ErrDocumentNotFound)
	assert.Zero(t, s.Len(), "failed builds commit nothing")
}

func TestBuild_IDsWithoutResolver(t *testing.T) {
	b, _ := newTestBuilder()
	g, err := b.Build(context.Background(), BuildRequest{Query: scenario, DocumentIDs: []string{"doc-1"}})
	require.NoError(t, err)
	assert.Equal(t, []string{"doc-1"}, g.SourceDocumentIDs)
	assert.Len(t, g.Entities, 3)
}

func TestBuild_Cancelled(t *testing.T) {
	b, s := newTestBuilder()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := b.Build(ctx, BuildRequest{Query: scenario})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, s.Len())
}

func TestBuild_CorpusCap(t *testing.T) {
	b, _ := newTestBuilder(WithMaxCorpusChars(10))
	g, err := b.Build(context.Background(), BuildRequest{Query: scenario})
	require.NoError(t, err)
	require.Len(t, g.Entities, 1)
	assert.Equal(t, "OpenAI", g.Entities[0].Label)
}

func TestBuild_Embeddings(t *testing.T) {
	idx := vector.NewMemoryIndex()
	b, _ := newTestBuilder(WithEmbeddings(fakeEmbedder{}, idx))

	g, err := b.Build(context.Background(), BuildRequest{Query: scenario})
	require.NoError(t, err)
	for _, e := range g.Entities {
		assert.Len(t, e.Embedding, 2)
	}
	matches, err := idx.Search(context.Background(), g.ID, []float32{6, 1}, 0)
	require.NoError(t, err)
	assert.Len(t, matches, 3)
}

func TestBuild_EmbeddingFailureIsNotFatal(t *testing.T) {
	b, _ := newTestBuilder(WithEmbeddings(fakeEmbedder{err: errors.New("down")}, nil))
	g, err := b.Build(context.Background(), BuildRequest{Query: scenario})
	require.NoError(t, err)
	for _, e := range g.Entities {
		assert.Empty(t, e.Embedding)
	}
}

func TestDirResolver(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "a.txt"), []byte("OpenAI"), 0o600))
	r := DirResolver{Root: root}

	text, err := r.Resolve(context.Background(), "a.txt")
	require.NoError(t, err)
	assert.Equal(t, "OpenAI", text)

	_, err = r.Resolve(context.Background(), "missing.txt")
	assert.ErrorIs(t, err, ErrDocumentNotFound)

	_, err = r.Resolve(context.Background(), "../../etc/passwd")
	assert.ErrorIs(t, err, ErrDocumentNotFound)
}

func TestBuild_Policy(t *testing.T) {
	engine, err := policy.New()
	require.NoError(t, err)
	text := scenario + " Ask ops@example.com, key AKIA1234567890123456."

	b, s := newTestBuilder(WithPolicy(engine, policy.ActionReject))
	_, err = b.Build(context.Background(), BuildRequest{Query: text})
	assert.ErrorIs(t, err, ErrSensitiveContent)
	assert.Zero(t, s.Len())

	b, _ = newTestBuilder(WithPolicy(engine, policy.ActionRedact))
	g, err := b.Build(context.Background(), BuildRequest{Query: text})
	require.NoError(t, err)
	_, ok := entityByLabel(g, "Kubernetes")
	assert.True(t, ok)
	for _, e := range g.Entities {
		assert.NotContains(t, e.Label, "example.com")
		assert.NotContains(t, e.Label, "AKIA")
	}

	b, _ = newTestBuilder(WithPolicy(engine, policy.ActionAllow))
	_, err = b.Build(context.Background(), BuildRequest{Query: text})
	assert.NoError(t, err)
}
