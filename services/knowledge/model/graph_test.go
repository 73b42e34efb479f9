// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package model

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseEntityType(t *testing.T) {
	typ, err := ParseEntityType(" Technology ")
	require.NoError(t, err)
	assert.Equal(t, EntityTechnology, typ)

	_, err = ParseEntityType("spaceship")
	assert.ErrorIs(t, err, ErrUnknownEntityType)
	assert.Len(t, AllEntityTypes, 14)
}

func TestParseRelationType(t *testing.T) {
	typ, err := ParseRelationType("INTEGRATES_WITH")
	require.NoError(t, err)
	assert.Equal(t, RelIntegratesWith, typ)

	_, err = ParseRelationTypes([]string{"uses", "teleports"})
	assert.ErrorIs(t, err, ErrUnknownRelationType)
	assert.Len(t, AllRelationTypes, 30)
}

func TestCypherNames(t *testing.T) {
	assert.Equal(t, "Technology", EntityTechnology.CypherLabel())
	assert.Equal(t, "Organization", EntityOrganization.CypherLabel())
	assert.Equal(t, "INTEGRATES_WITH", RelIntegratesWith.CypherType())
	assert.Equal(t, "IS_A", RelIsA.CypherType())
}

func TestNormalizeLabel(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"Kubernetes", "kubernetes"},
		{"  Open   AI  ", "open ai"},
		{"Docker.", "docker"},
		{"\"Go\"", "go"},
		{"서울", "서울"},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, NormalizeLabel(tt.in))
		})
	}
}

func TestEntity_AddAlias(t *testing.T) {
	e := NewEntity("Kubernetes", EntityTechnology, 0.7, MethodPattern)
	e.AddAlias("k8s")
	e.AddAlias("K8S")
	e.AddAlias("kubernetes")
	e.AddAlias("")

	assert.Equal(t, []string{"k8s"}, e.Aliases)
	assert.True(t, e.HasAlias("K8s"))
	assert.NotEmpty(t, e.ID)
	assert.Equal(t, MethodPattern, e.Properties[PropExtractionMethod])
}

func TestKnowledgeGraph_CloneIsDeep(t *testing.T) {
	a := NewEntity("A", EntityConcept, 0.7, MethodPattern)
	a.Aliases = []string{"alpha"}
	a.Provenance = &Provenance{DocumentID: "doc", FragmentIDs: []string{"f1"}}
	b := NewEntity("B", EntityConcept, 0.7, MethodPattern)
	r := NewRelationship(a.ID, b.ID, RelRelatedTo, 0.6, MethodProximity)

	g := &KnowledgeGraph{ID: "g", Entities: []Entity{a, b}, Relationships: []Relationship{r}}
	clone := g.Clone()

	clone.Entities[0].Label = "changed"
	clone.Entities[0].Aliases[0] = "changed"
	clone.Entities[0].Properties["x"] = "y"
	clone.Entities[0].Provenance.FragmentIDs[0] = "changed"
	clone.Relationships[0].Properties["x"] = "y"

	assert.Equal(t, "A", g.Entities[0].Label)
	assert.Equal(t, "alpha", g.Entities[0].Aliases[0])
	assert.NotContains(t, g.Entities[0].Properties, "x")
	assert.Equal(t, "f1", g.Entities[0].Provenance.FragmentIDs[0])
	assert.NotContains(t, g.Relationships[0].Properties, "x")
}

func TestKnowledgeGraph_Validate(t *testing.T) {
	a := NewEntity("A", EntityConcept, 0.7, MethodPattern)
	b := NewEntity("B", EntityConcept, 0.7, MethodPattern)

	tests := []struct {
		name    string
		mutate  func(g *KnowledgeGraph)
		wantErr error
	}{
		{"valid", func(g *KnowledgeGraph) {}, nil},
		{"self loop allowed", func(g *KnowledgeGraph) {
			g.Relationships = append(g.Relationships, NewRelationship(a.ID, a.ID, RelRelatedTo, 0.5, MethodPattern))
		}, nil},
		{"dangling target", func(g *KnowledgeGraph) {
			g.Relationships = append(g.Relationships, NewRelationship(a.ID, "missing", RelUses, 0.7, MethodPattern))
		}, ErrInvalidRelationshipReference},
		{"empty label", func(g *KnowledgeGraph) {
			g.Entities[0].Label = "  "
		}, ErrInvalidGraph},
		{"confidence out of range", func(g *KnowledgeGraph) {
			g.Entities[1].Confidence = 1.2
		}, ErrInvalidGraph},
		{"negative weight", func(g *KnowledgeGraph) {
			g.Relationships[0].Weight = -1
		}, ErrInvalidGraph},
		{"duplicate entity id", func(g *KnowledgeGraph) {
			g.Entities[1].ID = g.Entities[0].ID
			g.Relationships = nil
		}, ErrInvalidGraph},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g := &KnowledgeGraph{
				ID:            "g",
				Entities:      []Entity{a.Clone(), b.Clone()},
				Relationships: []Relationship{NewRelationship(a.ID, b.ID, RelUses, 0.7, MethodPattern)},
			}
			tt.mutate(g)
			err := g.Validate()
			if tt.wantErr == nil {
				assert.NoError(t, err)
				return
			}
			assert.True(t, errors.Is(err, tt.wantErr), "got %v", err)
		})
	}
}

func TestKnowledgeGraph_RecomputeCountsAndSummary(t *testing.T) {
	g := &KnowledgeGraph{ID: "g", Name: "n", Entities: []Entity{NewEntity("A", EntityConcept, 1, MethodPattern)}}
	g.RecomputeCounts()

	s := g.Summarize()
	assert.Equal(t, 1, s.EntityCount)
	assert.Equal(t, 0, s.RelationshipCount)
	assert.Equal(t, "n", s.Name)
}

func TestRelationship_OtherAndTouches(t *testing.T) {
	r := NewRelationship("a", "b", RelUses, 0.7, MethodPattern)
	assert.True(t, r.Touches("a"))
	assert.False(t, r.Touches("c"))
	assert.Equal(t, "b", r.Other("a"))
	assert.Equal(t, "a", r.Other("b"))
	assert.Equal(t, 1.0, r.Weight)
}
