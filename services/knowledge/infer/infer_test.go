// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package infer

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/AleutianKG/services/knowledge/model"
)

func entity(label string, typ model.EntityType) model.Entity {
	e := model.NewEntity(label, typ, 0.7, model.MethodPattern)
	e.ID = label
	return e
}

func rel(src, dst string) model.Relationship {
	return model.NewRelationship(src, dst, model.RelUses, 0.7, model.MethodPattern)
}

func pairsOf(rels []model.Relationship) []string {
	out := make([]string, len(rels))
	for i, r := range rels {
		out[i] = fmt.Sprintf("%s>%s:%s", r.SourceID, r.TargetID, r.Type)
	}
	return out
}

func TestTransitivity(t *testing.T) {
	entities := []model.Entity{
		entity("A", model.EntityOrganization),
		entity("B", model.EntityOrganization),
		entity("C", model.EntityOrganization),
	}
	got := Run(entities, []model.Relationship{rel("A", "B"), rel("B", "C")}, 0)

	require.Len(t, got, 1)
	assert.Equal(t, "A", got[0].SourceID)
	assert.Equal(t, "C", got[0].TargetID)
	assert.Equal(t, model.RelRelatedTo, got[0].Type)
	assert.Equal(t, TransitiveConfidence, got[0].Confidence)
	assert.True(t, got[0].Inferred)
	assert.Equal(t, RuleTransitivity, got[0].Properties[model.PropRule])
	assert.Equal(t, model.MethodInference, got[0].Properties[model.PropExtractionMethod])
}

func TestTransitivity_SkipsExistingAndCycles(t *testing.T) {
	entities := []model.Entity{
		entity("A", model.EntityOrganization),
		entity("B", model.EntityOrganization),
		entity("C", model.EntityOrganization),
	}
	existing := []model.Relationship{rel("A", "B"), rel("B", "C"), rel("A", "C"), rel("B", "A")}

	got := Run(entities, existing, 0)
	// A→B→A and B→A→B are cycles; A→C exists; B→A→C gives B→C which exists.
	assert.Empty(t, got)
}

func TestTransitivity_DirectionSensitive(t *testing.T) {
	entities := []model.Entity{
		entity("A", model.EntityOrganization),
		entity("B", model.EntityOrganization),
		entity("C", model.EntityOrganization),
	}
	existing := []model.Relationship{rel("A", "B"), rel("B", "C"), rel("C", "A")}

	got := Run(entities, existing, 0)
	assert.Equal(t, []string{
		"A>C:related_to",
		"B>A:related_to",
		"C>B:related_to",
	}, pairsOf(got))
}

func TestTypeClustering(t *testing.T) {
	entities := []model.Entity{
		entity("k8s", model.EntityTechnology),
		entity("acme", model.EntityOrganization),
		entity("docker", model.EntityTechnology),
		entity("idea", model.EntityConcept),
		entity("redis", model.EntityTechnology),
		entity("theory", model.EntityConcept),
	}
	got := Run(entities, []model.Relationship{rel("k8s", "docker")}, 0)

	assert.Equal(t, []string{
		"docker>redis:similar_to",
		"idea>theory:similar_to",
	}, pairsOf(got))
	for _, r := range got {
		assert.Equal(t, ClusterConfidence, r.Confidence)
		assert.Equal(t, RuleTypeClustering, r.Properties[model.PropRule])
	}
}

func TestRun_Limit(t *testing.T) {
	var entities []model.Entity
	for i := 0; i < 80; i++ {
		entities = append(entities, entity(fmt.Sprintf("t%02d", i), model.EntityTechnology))
	}
	got := Run(entities, nil, DefaultLimit)
	assert.Len(t, got, DefaultLimit)

	assert.Len(t, Run(entities, nil, 0), 79)
}

func TestRun_Idempotent(t *testing.T) {
	entities := []model.Entity{
		entity("A", model.EntityTechnology),
		entity("B", model.EntityTechnology),
		entity("C", model.EntityConcept),
		entity("D", model.EntityConcept),
	}
	existing := []model.Relationship{rel("A", "B"), rel("B", "C"), rel("C", "D")}

	first := Run(entities, existing, 0)
	require.NotEmpty(t, first)

	combined := append(append([]model.Relationship{}, existing...), first...)
	second := Run(entities, combined, 0)
	assert.Empty(t, second, "re-running over its own output adds nothing")

	seen := map[[2]string]bool{}
	for _, r := range combined {
		key := [2]string{r.SourceID, r.TargetID}
		assert.False(t, seen[key], "duplicate pair %v", key)
		seen[key] = true
	}
}

func TestRun_EndpointsExist(t *testing.T) {
	entities := []model.Entity{
		entity("A", model.EntityTechnology),
		entity("B", model.EntityTechnology),
		entity("C", model.EntityTechnology),
	}
	existing := []model.Relationship{rel("A", "B"), rel("B", "C")}
	g := &model.KnowledgeGraph{ID: "g", Entities: entities}
	g.Relationships = append(existing, Run(entities, existing, DefaultLimit)...)
	assert.NoError(t, g.Validate())
}

func TestRun_CustomRules(t *testing.T) {
	entities := []model.Entity{entity("A", model.EntityTechnology), entity("B", model.EntityTechnology)}
	got := Run(entities, nil, 0, Transitivity{})
	assert.Empty(t, got)

	got = Run(entities, nil, 0, TypeClustering{Types: []model.EntityType{model.EntityOrganization}})
	assert.Empty(t, got)
}
