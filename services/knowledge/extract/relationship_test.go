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
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/AleutianKG/services/knowledge/model"
)

func ent(label string, typ model.EntityType) model.Entity {
	return model.NewEntity(label, typ, PatternConfidence, model.MethodPattern)
}

func findRel(rels []model.Relationship, src, dst string, typ model.RelationType) (model.Relationship, bool) {
	for _, r := range rels {
		if r.SourceID == src && r.TargetID == dst && r.Type == typ {
			return r, true
		}
	}
	return model.Relationship{}, false
}

func TestRelationshipExtractor_Scenario(t *testing.T) {
	openai := ent("OpenAI", model.EntityOrganization)
	k8s := ent("Kubernetes", model.EntityTechnology)
	docker := ent("Docker", model.EntityTechnology)
	x := NewRelationshipExtractor(nil, nil, nil)

	rels, err := x.Extract(context.Background(), scenarioText, []model.Entity{openai, k8s, docker}, RelationshipOptions{})
	require.NoError(t, err)

	uses, ok := findRel(rels, openai.ID, k8s.ID, model.RelUses)
	require.True(t, ok, "missing uses")
	assert.Equal(t, PatternConfidence, uses.Confidence)
	assert.Equal(t, "uses", uses.Properties[model.PropPattern])

	_, ok = findRel(rels, k8s.ID, docker.ID, model.RelIntegratesWith)
	assert.True(t, ok, "missing integrates_with")

	near, ok := findRel(rels, openai.ID, k8s.ID, model.RelRelatedTo)
	require.True(t, ok, "missing proximity edge")
	assert.Equal(t, ProximityConfidence, near.Confidence)
	assert.InDelta(t, 1-12.0/200, near.Weight, 1e-9)
	assert.Equal(t, "12", near.Properties[model.PropDistance])

	far, ok := findRel(rels, k8s.ID, docker.ID, model.RelRelatedTo)
	require.True(t, ok)
	assert.InDelta(t, 1-39.0/200, far.Weight, 1e-9)

	assert.Len(t, rels, 4)
}

func TestRelationshipExtractor_PhraseResolution(t *testing.T) {
	openai := ent("OpenAI", model.EntityOrganization)
	k8s := ent("Kubernetes", model.EntityTechnology)
	x := NewRelationshipExtractor(nil, nil, nil)
	text := "Last year the research team at OpenAI uses Kubernetes for large training jobs."

	rels, err := x.Extract(context.Background(), text, []model.Entity{openai, k8s}, RelationshipOptions{})
	require.NoError(t, err)

	_, ok := findRel(rels, openai.ID, k8s.ID, model.RelUses)
	assert.True(t, ok)
}

func TestRelationshipExtractor_PhraseNeedsWordBoundary(t *testing.T) {
	ai := ent("AI", model.EntityConcept)
	k8s := ent("Kubernetes", model.EntityTechnology)
	x := NewRelationshipExtractor(nil, nil, nil)

	rels, err := x.Extract(context.Background(), "OpenAI uses Kubernetes.", []model.Entity{ai, k8s}, RelationshipOptions{})
	require.NoError(t, err)

	_, ok := findRel(rels, ai.ID, k8s.ID, model.RelUses)
	assert.False(t, ok, "AI must not resolve from OpenAI")
}

func TestRelationshipExtractor_AliasResolution(t *testing.T) {
	k8s := ent("Kubernetes", model.EntityTechnology)
	k8s.Aliases = []string{"k8s"}
	etcd := ent("etcd", model.EntityTechnology)
	x := NewRelationshipExtractor(nil, nil, nil)

	rels, err := x.Extract(context.Background(), "K8s depends on etcd.", []model.Entity{k8s, etcd}, RelationshipOptions{})
	require.NoError(t, err)

	_, ok := findRel(rels, k8s.ID, etcd.ID, model.RelDependsOn)
	assert.True(t, ok)
}

func TestRelationshipExtractor_ProximityWindow(t *testing.T) {
	a := ent("Alpha", model.EntityConcept)
	b := ent("Bravo", model.EntityConcept)
	x := NewRelationshipExtractor(nil, nil, nil)
	text := "Alpha " + strings.Repeat("x", 250) + " Bravo"

	rels, err := x.Extract(context.Background(), text, []model.Entity{a, b}, RelationshipOptions{})
	require.NoError(t, err)
	assert.Empty(t, rels)
}

func TestRelationshipExtractor_ProximityCountsRunes(t *testing.T) {
	a := ent("서울", model.EntityLocation)
	b := ent("부산", model.EntityLocation)
	x := NewRelationshipExtractor(nil, nil, nil)
	text := "서울" + strings.Repeat("가", 98) + "부산"

	rels, err := x.Extract(context.Background(), text, []model.Entity{a, b}, RelationshipOptions{})
	require.NoError(t, err)
	require.Len(t, rels, 1)
	assert.InDelta(t, 0.5, rels[0].Weight, 1e-9)
}

func TestRelationshipExtractor_SmartTable(t *testing.T) {
	person := ent("Jane Smith", model.EntityPerson)
	org := ent("Acme Labs", model.EntityOrganization)
	tech := ent("Redis", model.EntityTechnology)
	tech2 := ent("Kafka", model.EntityTechnology)
	absent := ent("Nowhere", model.EntityConcept)
	x := NewRelationshipExtractor(nil, nil, nil)
	text := "Jane Smith joined Acme Labs. Redis and Kafka power the platform."

	rels, err := x.Extract(context.Background(), text,
		[]model.Entity{person, org, tech, tech2, absent},
		RelationshipOptions{UseSmartExtraction: true},
	)
	require.NoError(t, err)

	tests := []struct {
		name     string
		src, dst string
		typ      model.RelationType
	}{
		{"person works for org", person.ID, org.ID, model.RelWorksFor},
		{"org uses tech", org.ID, tech.ID, model.RelUses},
		{"tech integrates with tech", tech.ID, tech2.ID, model.RelIntegratesWith},
		{"person related to tech", person.ID, tech.ID, model.RelRelatedTo},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, ok := findRel(rels, tt.src, tt.dst, tt.typ)
			require.True(t, ok)
			assert.Equal(t, SmartRelationConfidence, r.Confidence)
			assert.Equal(t, model.MethodSmart, r.Properties[model.PropExtractionMethod])
		})
	}
	for _, r := range rels {
		assert.False(t, r.Touches(absent.ID), "entity absent from text must not be linked")
	}
}

func TestRelationshipExtractor_BackendFailureFallsBackToTable(t *testing.T) {
	org := ent("OpenAI", model.EntityOrganization)
	tech := ent("Kubernetes", model.EntityTechnology)
	x := NewRelationshipExtractor(nil, failingSmart{}, nil)

	rels, err := x.Extract(context.Background(), scenarioText, []model.Entity{org, tech}, RelationshipOptions{UseSmartExtraction: true})
	require.NoError(t, err)

	r, ok := findRel(rels, org.ID, tech.ID, model.RelUses)
	require.True(t, ok)
	found := false
	for _, rel := range rels {
		if rel.Type == model.RelUses && rel.Confidence == SmartRelationConfidence {
			found = true
		}
	}
	assert.True(t, found, "table relationship expected, got %+v", r)
}

func TestRelationshipExtractor_Korean(t *testing.T) {
	k8s := ent("쿠버네티스", model.EntityTechnology)
	docker := ent("도커", model.EntityTechnology)
	x := NewRelationshipExtractor(nil, nil, nil)

	rels, err := x.Extract(context.Background(), "쿠버네티스는 도커를 사용한다.", []model.Entity{k8s, docker}, RelationshipOptions{Language: "auto"})
	require.NoError(t, err)

	_, ok := findRel(rels, k8s.ID, docker.ID, model.RelUses)
	assert.True(t, ok)
}

func TestRelationshipExtractor_NoEntities(t *testing.T) {
	x := NewRelationshipExtractor(nil, nil, nil)
	rels, err := x.Extract(context.Background(), scenarioText, nil, RelationshipOptions{UseSmartExtraction: true})
	require.NoError(t, err)
	assert.Empty(t, rels)
}

func TestRelationshipExtractor_EndpointsAlwaysKnown(t *testing.T) {
	entities := []model.Entity{
		ent("OpenAI", model.EntityOrganization),
		ent("Kubernetes", model.EntityTechnology),
		ent("Docker", model.EntityTechnology),
	}
	ids := map[string]bool{}
	for _, e := range entities {
		ids[e.ID] = true
	}
	x := NewRelationshipExtractor(nil, nil, nil)

	rels, err := x.Extract(context.Background(), scenarioText, entities, RelationshipOptions{UseSmartExtraction: true})
	require.NoError(t, err)
	require.NotEmpty(t, rels)
	for _, r := range rels {
		assert.True(t, ids[r.SourceID])
		assert.True(t, ids[r.TargetID])
	}
}
