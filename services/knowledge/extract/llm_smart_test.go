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
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/AleutianKG/services/knowledge/model"
	"github.com/AleutianAI/AleutianKG/services/llm"
)

// scriptedLLM answers every prompt with the same reply and records prompts.
type scriptedLLM struct {
	mu      sync.Mutex
	reply   string
	err     error
	prompts []string
}

func (s *scriptedLLM) Generate(_ context.Context, prompt string, params llm.GenerationParams) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.prompts = append(s.prompts, prompt)
	return s.reply, s.err
}

func (s *scriptedLLM) calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.prompts)
}

func fastOptions() LLMOptions {
	return LLMOptions{RequestsPerSecond: 1000, Burst: 10}
}

func TestLLMSmartExtractor_Entities(t *testing.T) {
	client := &scriptedLLM{reply: "```json\n" + `{"entities":[
		{"label":"OpenAI","type":"organization","confidence":0.9},
		{"label":"Kubernetes","type":"gizmo"},
		{"label":"   ","type":"concept"}
	]}` + "\n```"}
	x := NewLLMSmartExtractor(client, fastOptions(), nil)

	entities, err := x.ExtractEntities(context.Background(), scenarioText, "en")
	require.NoError(t, err)
	require.Len(t, entities, 2)

	openai, _ := byLabel(entities, "OpenAI")
	assert.Equal(t, model.EntityOrganization, openai.Type)
	assert.InDelta(t, 0.9, openai.Confidence, 1e-9)
	assert.Equal(t, model.MethodLLM, openai.Properties[model.PropExtractionMethod])

	k8s, _ := byLabel(entities, "Kubernetes")
	assert.Equal(t, model.EntityConcept, k8s.Type, "unknown type falls back to concept")
	assert.Equal(t, SmartConfidence, k8s.Confidence)

	require.Equal(t, 1, client.calls())
	assert.Contains(t, client.prompts[0], "Language of the text: en")
}

func TestLLMSmartExtractor_Relationships(t *testing.T) {
	openai := ent("OpenAI", model.EntityOrganization)
	k8s := ent("Kubernetes", model.EntityTechnology)
	client := &scriptedLLM{reply: `Here you go: {"relationships":[
		{"source":"openai","target":"Kubernetes","type":"uses","confidence":0.75},
		{"source":"OpenAI","target":"Ghost","type":"uses"},
		{"source":"Kubernetes","target":"Kubernetes","type":"related_to"}
	]}`}
	x := NewLLMSmartExtractor(client, fastOptions(), nil)

	rels, err := x.ExtractRelationships(context.Background(), scenarioText, []model.Entity{openai, k8s})
	require.NoError(t, err)
	require.Len(t, rels, 1)
	assert.Equal(t, openai.ID, rels[0].SourceID)
	assert.Equal(t, k8s.ID, rels[0].TargetID)
	assert.Equal(t, model.RelUses, rels[0].Type)
	assert.InDelta(t, 0.75, rels[0].Confidence, 1e-9)
}

func TestLLMSmartExtractor_SkipsChunksWithoutPairs(t *testing.T) {
	client := &scriptedLLM{reply: `{"relationships":[]}`}
	x := NewLLMSmartExtractor(client, fastOptions(), nil)

	_, err := x.ExtractRelationships(context.Background(), "Only OpenAI here.",
		[]model.Entity{ent("OpenAI", model.EntityOrganization), ent("Docker", model.EntityTechnology)})
	require.NoError(t, err)
	assert.Zero(t, client.calls())
}

func TestLLMSmartExtractor_MalformedReply(t *testing.T) {
	client := &scriptedLLM{reply: "I could not find any entities."}
	x := NewLLMSmartExtractor(client, fastOptions(), nil)

	_, err := x.ExtractEntities(context.Background(), scenarioText, "en")
	assert.ErrorIs(t, err, ErrMalformedResponse)
}

func TestLLMSmartExtractor_MaxChunks(t *testing.T) {
	client := &scriptedLLM{reply: `{"entities":[]}`}
	opts := fastOptions()
	opts.ChunkSize = 60
	opts.MaxChunks = 2
	x := NewLLMSmartExtractor(client, opts, nil)

	text := strings.Repeat("Kubernetes schedules containers across many nodes. ", 20)
	_, err := x.ExtractEntities(context.Background(), text, "en")
	require.NoError(t, err)
	assert.Equal(t, 2, client.calls())
}

func TestLLMSmartExtractor_DegradesInsideExtractor(t *testing.T) {
	client := &scriptedLLM{reply: "not json"}
	x := NewEntityExtractor(nil, NewLLMSmartExtractor(client, fastOptions(), nil), nil)

	entities, err := x.Extract(context.Background(), scenarioText, EntityOptions{UseSmartExtraction: true})
	require.NoError(t, err)
	assert.Equal(t, []string{"OpenAI", "Kubernetes", "Docker"}, labelsOf(entities))
}

func TestDecodeJSONReply(t *testing.T) {
	var out struct {
		A int `json:"a"`
	}
	require.NoError(t, decodeJSONReply("```json\n{\"a\":1}\n```", &out))
	assert.Equal(t, 1, out.A)

	require.NoError(t, decodeJSONReply(`Sure! {"a":2} Hope that helps.`, &out))
	assert.Equal(t, 2, out.A)

	assert.ErrorIs(t, decodeJSONReply("}{", &out), ErrMalformedResponse)
	assert.ErrorIs(t, decodeJSONReply(`{"a":"x"}`, &out), ErrMalformedResponse)
}
