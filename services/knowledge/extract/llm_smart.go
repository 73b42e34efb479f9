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
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/tmc/langchaingo/textsplitter"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/time/rate"

	"github.com/AleutianAI/AleutianKG/services/knowledge/model"
	"github.com/AleutianAI/AleutianKG/services/llm"
)

// LLMOptions configures LLMSmartExtractor.
type LLMOptions struct {
	// ChunkSize and ChunkOverlap control how long text is split before
	// prompting. Defaults: 2000 and 200 characters.
	ChunkSize    int
	ChunkOverlap int

	// MaxChunks bounds LLM calls per extraction. Default: 8.
	MaxChunks int

	// RequestsPerSecond and Burst throttle calls to the backend.
	// Defaults: 2 and 1.
	RequestsPerSecond float64
	Burst             int
}

// LLMSmartExtractor is a SmartExtractor that prompts an LLM for JSON.
type LLMSmartExtractor struct {
	client    llm.LLMClient
	splitter  textsplitter.TextSplitter
	limiter   *rate.Limiter
	maxChunks int
	logger    *slog.Logger
}

// NewLLMSmartExtractor wraps client with chunking and rate limiting.
func NewLLMSmartExtractor(client llm.LLMClient, opts LLMOptions, logger *slog.Logger) *LLMSmartExtractor {
	if opts.ChunkSize <= 0 {
		opts.ChunkSize = 2000
	}
	if opts.ChunkOverlap <= 0 {
		opts.ChunkOverlap = min(200, opts.ChunkSize/10)
	}
	if opts.ChunkOverlap >= opts.ChunkSize {
		opts.ChunkOverlap = opts.ChunkSize / 10
	}
	if opts.MaxChunks <= 0 {
		opts.MaxChunks = 8
	}
	if opts.RequestsPerSecond <= 0 {
		opts.RequestsPerSecond = 2
	}
	if opts.Burst <= 0 {
		opts.Burst = 1
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &LLMSmartExtractor{
		client: client,
		splitter: textsplitter.NewRecursiveCharacter(
			textsplitter.WithChunkSize(opts.ChunkSize),
			textsplitter.WithChunkOverlap(opts.ChunkOverlap),
		),
		limiter:   rate.NewLimiter(rate.Limit(opts.RequestsPerSecond), opts.Burst),
		maxChunks: opts.MaxChunks,
		logger:    logger,
	}
}

const entityPrompt = `Extract the important named entities from the text below.
Answer with a JSON object {"entities":[{"label":"...","type":"...","confidence":0.0}]}.
Allowed types: %s.
Language of the text: %s.

Text:
%s`

const relationshipPrompt = `Given these entities: %s
Extract relationships between them stated or strongly implied by the text below.
Answer with a JSON object {"relationships":[{"source":"...","target":"...","type":"...","confidence":0.0}]}.
Use entity labels exactly as given. Allowed types: %s.

Text:
%s`

type llmEntity struct {
	Label      string  `json:"label"`
	Type       string  `json:"type"`
	Confidence float64 `json:"confidence"`
}

type llmRelationship struct {
	Source     string  `json:"source"`
	Target     string  `json:"target"`
	Type       string  `json:"type"`
	Confidence float64 `json:"confidence"`
}

// ExtractEntities prompts once per chunk and merges results by label.
func (x *LLMSmartExtractor) ExtractEntities(ctx context.Context, text, language string) ([]model.Entity, error) {
	ctx, span := tracer.Start(ctx, "LLMSmartExtractor.ExtractEntities")
	defer span.End()

	chunks, err := x.chunks(text)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	span.SetAttributes(attribute.Int("extract.chunks", len(chunks)))

	merged := newEntitySet()
	for _, chunk := range chunks {
		prompt := fmt.Sprintf(entityPrompt, joinEntityTypes(), language, chunk)
		var reply struct {
			Entities []llmEntity `json:"entities"`
		}
		if err := x.ask(ctx, prompt, &reply); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return nil, err
		}
		for _, e := range reply.Entities {
			typ, err := model.ParseEntityType(e.Type)
			if err != nil {
				typ = model.EntityConcept
			}
			conf := e.Confidence
			if conf <= 0 || conf > 1 {
				conf = SmartConfidence
			}
			label := strings.TrimSpace(e.Label)
			if model.NormalizeLabel(label) == "" {
				continue
			}
			merged.add(model.NewEntity(label, typ, conf, model.MethodLLM))
		}
	}
	return merged.list(), nil
}

// ExtractRelationships prompts once per chunk with the entities that occur
// in it and resolves returned labels back to ids.
func (x *LLMSmartExtractor) ExtractRelationships(ctx context.Context, text string, entities []model.Entity) ([]model.Relationship, error) {
	ctx, span := tracer.Start(ctx, "LLMSmartExtractor.ExtractRelationships")
	defer span.End()

	chunks, err := x.chunks(text)
	if err != nil {
		return nil, err
	}
	resolver := newLabelResolver(entities)

	var out []model.Relationship
	for _, chunk := range chunks {
		lower := strings.ToLower(chunk)
		var labels []string
		for _, e := range entities {
			if strings.Contains(lower, strings.ToLower(e.Label)) {
				labels = append(labels, e.Label)
			}
		}
		if len(labels) < 2 {
			continue
		}
		quoted, _ := json.Marshal(labels)
		prompt := fmt.Sprintf(relationshipPrompt, quoted, joinRelationTypes(), chunk)
		var reply struct {
			Relationships []llmRelationship `json:"relationships"`
		}
		if err := x.ask(ctx, prompt, &reply); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return nil, err
		}
		for _, r := range reply.Relationships {
			src, okSrc := resolver.exact[strings.ToLower(strings.TrimSpace(r.Source))]
			dst, okDst := resolver.exact[strings.ToLower(strings.TrimSpace(r.Target))]
			if !okSrc || !okDst || src == dst {
				continue
			}
			typ, err := model.ParseRelationType(r.Type)
			if err != nil {
				typ = model.RelRelatedTo
			}
			conf := r.Confidence
			if conf <= 0 || conf > 1 {
				conf = SmartRelationConfidence
			}
			out = append(out, model.NewRelationship(src, dst, typ, conf, model.MethodLLM))
		}
	}
	return out, nil
}

func (x *LLMSmartExtractor) chunks(text string) ([]string, error) {
	if strings.TrimSpace(text) == "" {
		return nil, nil
	}
	chunks, err := x.splitter.SplitText(text)
	if err != nil {
		return nil, fmt.Errorf("split text: %w", err)
	}
	if len(chunks) > x.maxChunks {
		x.logger.Debug("truncating chunks for llm extraction",
			slog.Int("chunks", len(chunks)),
			slog.Int("max_chunks", x.maxChunks),
		)
		chunks = chunks[:x.maxChunks]
	}
	return chunks, nil
}

// ask waits for the rate limiter, prompts, and decodes the JSON reply.
func (x *LLMSmartExtractor) ask(ctx context.Context, prompt string, out any) error {
	if err := x.limiter.Wait(ctx); err != nil {
		return err
	}
	reply, err := x.client.Generate(ctx, prompt, llm.GenerationParams{
		Temperature: llm.Ptr(float32(0)),
		JSON:        true,
	})
	if err != nil {
		return err
	}
	return decodeJSONReply(reply, out)
}

// decodeJSONReply tolerates code fences and prose around the JSON object.
func decodeJSONReply(reply string, out any) error {
	s := strings.TrimSpace(reply)
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(s, "```")
	start := strings.Index(s, "{")
	end := strings.LastIndex(s, "}")
	if start < 0 || end < start {
		return fmt.Errorf("%w: no JSON object", ErrMalformedResponse)
	}
	if err := json.Unmarshal([]byte(s[start:end+1]), out); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}
	return nil
}

func joinEntityTypes() string {
	names := make([]string, len(model.AllEntityTypes))
	for i, t := range model.AllEntityTypes {
		names[i] = string(t)
	}
	return strings.Join(names, ", ")
}

func joinRelationTypes() string {
	names := make([]string, len(model.AllRelationTypes))
	for i, t := range model.AllRelationTypes {
		names[i] = string(t)
	}
	return strings.Join(names, ", ")
}

var _ SmartExtractor = (*LLMSmartExtractor)(nil)
