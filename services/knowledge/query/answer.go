// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package query

import (
	"context"
	"fmt"
	"strings"

	"github.com/AleutianAI/AleutianKG/services/llm"
)

const (
	answerEntities = 5
	answerTriples  = 5
	exportLabels   = 3
)

// AnswerGenerator turns a scored result into answer text. labels maps
// entity id to label for every entity of the graph.
type AnswerGenerator interface {
	Answer(ctx context.Context, question string, result *QueryResult, labels map[string]string) (string, error)
}

// TemplateAnswer renders a fixed structured summary: up to five entity
// labels and up to five (source, type, target) triples.
type TemplateAnswer struct{}

// Answer implements AnswerGenerator. It never fails.
func (TemplateAnswer) Answer(_ context.Context, _ string, result *QueryResult, labels map[string]string) (string, error) {
	if len(result.RelevantEntities) == 0 {
		return "No relevant entities were found in the knowledge graph.", nil
	}
	var sb strings.Builder
	names := make([]string, 0, answerEntities)
	for i, e := range result.RelevantEntities {
		if i == answerEntities {
			break
		}
		names = append(names, e.Label)
	}
	fmt.Fprintf(&sb, "Relevant entities: %s.", strings.Join(names, ", "))

	triples := triples(result, labels, answerTriples)
	if len(triples) > 0 {
		fmt.Fprintf(&sb, " Relationships: %s.", strings.Join(triples, "; "))
	}
	return sb.String(), nil
}

func triples(result *QueryResult, labels map[string]string, limit int) []string {
	out := make([]string, 0, limit)
	for _, r := range result.RelevantRelationships {
		if len(out) == limit {
			break
		}
		out = append(out, fmt.Sprintf("%s %s %s", labelOr(labels, r.SourceID), r.Type, labelOr(labels, r.TargetID)))
	}
	return out
}

func labelOr(labels map[string]string, id string) string {
	if l, ok := labels[id]; ok {
		return l
	}
	return id
}

// LLMAnswerGenerator asks a language model to answer from the retrieved
// facts only.
type LLMAnswerGenerator struct {
	Client llm.LLMClient
	Params llm.GenerationParams
}

// Answer implements AnswerGenerator.
func (g LLMAnswerGenerator) Answer(ctx context.Context, question string, result *QueryResult, labels map[string]string) (string, error) {
	if len(result.RelevantEntities) == 0 {
		return TemplateAnswer{}.Answer(ctx, question, result, labels)
	}
	var facts strings.Builder
	for i, e := range result.RelevantEntities {
		if i == 10 {
			break
		}
		fmt.Fprintf(&facts, "- %s (%s)\n", e.Label, e.Type)
	}
	for _, t := range triples(result, labels, 20) {
		fmt.Fprintf(&facts, "- %s\n", t)
	}
	prompt := fmt.Sprintf(
		"Answer the question using only the facts below. If they are insufficient, say so.\n\nFacts:\n%s\nQuestion: %s\nAnswer:",
		facts.String(), question,
	)
	params := g.Params
	if params.Temperature == nil {
		params.Temperature = llm.Ptr(float32(0.1))
	}
	text, err := g.Client.Generate(ctx, prompt, params)
	if err != nil {
		return "", fmt.Errorf("generate answer: %w", err)
	}
	return strings.TrimSpace(text), nil
}

// exportStatement is a Cypher query matching the top labels. It is not
// executed.
func exportStatement(scored []ScoredEntity) string {
	quoted := make([]string, 0, exportLabels)
	for i, e := range scored {
		if i == exportLabels {
			break
		}
		quoted = append(quoted, quoteCypher(e.Label))
	}
	return fmt.Sprintf("MATCH (n)-[r]-(m) WHERE n.label IN [%s] RETURN n, r, m LIMIT 50", strings.Join(quoted, ", "))
}

func quoteCypher(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	s = strings.ReplaceAll(s, `"`, `\"`)
	return `"` + s + `"`
}
