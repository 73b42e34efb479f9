// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package vector

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/weaviate/weaviate/entities/models"

	"github.com/AleutianAI/AleutianKG/services/knowledge/model"
)

func embedded(label string, v ...float32) model.Entity {
	e := model.NewEntity(label, model.EntityTechnology, 0.7, model.MethodPattern)
	e.Embedding = v
	return e
}

func TestCosine(t *testing.T) {
	assert.InDelta(t, 1.0, Cosine([]float32{1, 0}, []float32{2, 0}), 1e-9)
	assert.InDelta(t, 0.0, Cosine([]float32{1, 0}, []float32{0, 1}), 1e-9)
	assert.InDelta(t, -1.0, Cosine([]float32{1, 0}, []float32{-1, 0}), 1e-9)
	assert.Zero(t, Cosine([]float32{1}, []float32{1, 2}))
	assert.Zero(t, Cosine([]float32{0, 0}, []float32{1, 2}))
	assert.Zero(t, Cosine(nil, nil))
}

func TestMemoryIndex_Search(t *testing.T) {
	ctx := context.Background()
	idx := NewMemoryIndex()
	k8s := embedded("Kubernetes", 1, 0, 0)
	docker := embedded("Docker", 0.8, 0.6, 0)
	opposite := embedded("Opposite", -1, 0, 0)
	plain := model.NewEntity("NoVector", model.EntityConcept, 0.7, model.MethodPattern)

	require.NoError(t, idx.Upsert(ctx, "g1", []model.Entity{k8s, docker, opposite, plain}))
	require.NoError(t, idx.Upsert(ctx, "g2", []model.Entity{embedded("Other", 1, 0, 0)}))

	matches, err := idx.Search(ctx, "g1", []float32{1, 0, 0}, 2)
	require.NoError(t, err)
	require.Len(t, matches, 2)
	assert.Equal(t, k8s.ID, matches[0].EntityID)
	assert.InDelta(t, 1.0, matches[0].Score, 1e-9)
	assert.Equal(t, docker.ID, matches[1].EntityID)
	assert.InDelta(t, 0.8, matches[1].Score, 1e-6)

	all, err := idx.Search(ctx, "g1", []float32{1, 0, 0}, 0)
	require.NoError(t, err)
	assert.Len(t, all, 3, "entities without embeddings are not indexed")
	assert.Zero(t, all[2].Score, "negative similarity clamps to zero")
}

func TestMemoryIndex_UpsertOverwritesAndDelete(t *testing.T) {
	ctx := context.Background()
	idx := NewMemoryIndex()
	e := embedded("Kubernetes", 1, 0)
	require.NoError(t, idx.Upsert(ctx, "g1", []model.Entity{e}))

	e.Embedding = []float32{0, 1}
	require.NoError(t, idx.Upsert(ctx, "g1", []model.Entity{e}))
	matches, _ := idx.Search(ctx, "g1", []float32{0, 1}, 1)
	require.Len(t, matches, 1)
	assert.InDelta(t, 1.0, matches[0].Score, 1e-9)

	require.NoError(t, idx.DeleteGraph(ctx, "g1"))
	matches, _ = idx.Search(ctx, "g1", []float32{0, 1}, 1)
	assert.Empty(t, matches)
}

func TestObjectID_Deterministic(t *testing.T) {
	a := ObjectID("g1", "e1")
	assert.Equal(t, a, ObjectID("g1", "e1"))
	assert.NotEqual(t, a, ObjectID("g2", "e1"))
	assert.Len(t, a.String(), 36)
}

func TestParseSearchResponse(t *testing.T) {
	resp := &models.GraphQLResponse{
		Data: map[string]models.JSONObject{
			"Get": map[string]interface{}{
				"KGEntity": []interface{}{
					map[string]interface{}{
						"graph_id":    "g1",
						"entity_id":   "e1",
						"label":       "Kubernetes",
						"_additional": map[string]interface{}{"certainty": 0.93},
					},
				},
			},
		},
	}
	matches, err := parseSearchResponse(resp, DefaultClassName)
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.Equal(t, Match{GraphID: "g1", EntityID: "e1", Label: "Kubernetes", Score: 0.93}, matches[0])

	_, err = parseSearchResponse(&models.GraphQLResponse{
		Errors: []*models.GraphQLError{{Message: "class not found"}},
	}, DefaultClassName)
	assert.ErrorContains(t, err, "class not found")

	_, err = parseSearchResponse(nil, DefaultClassName)
	assert.Error(t, err)
}

func TestEntityClass(t *testing.T) {
	class := EntityClass("Custom")
	assert.Equal(t, "Custom", class.Class)
	assert.Equal(t, "none", class.Vectorizer)
	names := make([]string, len(class.Properties))
	for i, p := range class.Properties {
		names[i] = p.Name
	}
	assert.Equal(t, []string{"graph_id", "entity_id", "label", "entity_type"}, names)
}

func TestNewWeaviateClient_RejectsBadURL(t *testing.T) {
	_, err := NewWeaviateClient("not a url")
	assert.Error(t, err)
}
