// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package extract finds entities and relationships in free text.
//
// Extraction runs in stages. The pattern stage applies a RuleSet of typed
// regular expressions. The optional smart stage delegates to a
// SmartExtractor (heuristic by default, LLM-backed when configured). The
// relationship extractor additionally links entities that appear close
// together in the text.
//
// A failing smart stage never fails a call; see ErrExtractionBackend.
package extract

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/AleutianAI/AleutianKG/services/knowledge/model"
)

// Confidence assigned by each stage.
const (
	PatternConfidence       = 0.7
	SmartConfidence         = 0.85
	SmartRelationConfidence = 0.8
	ProximityConfidence     = 0.6
)

// SmartEntityCap is the maximum number of entities the smart stage
// contributes per call.
const SmartEntityCap = 10

// Rules holds the active RuleSet. It is shared by both extractors and
// swapped atomically when a rule file is reloaded.
type Rules struct {
	p atomic.Pointer[RuleSet]
}

// NewRules wraps rs, or DefaultRules when rs is nil.
func NewRules(rs *RuleSet) *Rules {
	if rs == nil {
		rs = DefaultRules()
	}
	r := &Rules{}
	r.p.Store(rs)
	return r
}

// Load returns the active RuleSet.
func (r *Rules) Load() *RuleSet { return r.p.Load() }

// Store replaces the active RuleSet. rs must be compiled.
func (r *Rules) Store(rs *RuleSet) { r.p.Store(rs) }

// EntityOptions controls one entity extraction call.
type EntityOptions struct {
	// AllowedTypes restricts results. Empty accepts every type.
	AllowedTypes []model.EntityType

	// Language is "auto", empty, or an explicit code such as "en" or "ko".
	Language string

	// UseSmartExtraction enables the smart stage.
	UseSmartExtraction bool
}

// EntityExtractor finds entities in text.
//
// Thread Safety:
//
//	Safe for concurrent use.
type EntityExtractor struct {
	rules  *Rules
	smart  SmartExtractor
	logger *slog.Logger
}

// NewEntityExtractor creates an extractor. A nil rules uses DefaultRules,
// a nil smart uses HeuristicSmartExtractor, a nil logger uses
// slog.Default().
func NewEntityExtractor(rules *Rules, smart SmartExtractor, logger *slog.Logger) *EntityExtractor {
	if rules == nil {
		rules = NewRules(nil)
	}
	if smart == nil {
		smart = HeuristicSmartExtractor{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &EntityExtractor{rules: rules, smart: smart, logger: logger}
}

// Extract returns the entities found in text.
//
// Description:
//
//	Runs the pattern stage for every rule whose type is allowed and whose
//	language matches, then the smart stage if enabled (capped at
//	SmartEntityCap). Results are de-duplicated by normalized label: the
//	first entity for a label is kept, its confidence raised to the
//	maximum seen, and a generic concept type upgraded to a specific one.
//
// Inputs:
//
//	ctx  - Cancellation. Checked before and after the smart stage.
//	text - Text to scan. Callers should cap its length.
//	opts - Allowed types, language, smart stage switch.
//
// Outputs:
//
//	[]model.Entity - Unique by normalized label, in extraction order.
//	error          - Only ctx.Err(). Smart stage failures are logged.
func (x *EntityExtractor) Extract(ctx context.Context, text string, opts EntityOptions) ([]model.Entity, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	start := time.Now()
	lang := ResolveLanguage(opts.Language, text)
	allowed := newTypeFilter(opts.AllowedTypes)
	merged := newEntitySet()

	for _, rule := range x.rules.Load().Entities {
		if !allowed.allows(rule.Type) || !appliesTo(rule.Language, lang) {
			continue
		}
		for _, loc := range rule.re.FindAllStringSubmatchIndex(text, -1) {
			s, e := loc[2*rule.labelIdx], loc[2*rule.labelIdx+1]
			if s < 0 {
				continue
			}
			label := strings.TrimSpace(text[s:e])
			if model.NormalizeLabel(label) == "" {
				continue
			}
			ent := model.NewEntity(label, rule.Type, PatternConfidence, model.MethodPattern)
			ent.Properties[model.PropPattern] = rule.Name
			ent.Properties[model.PropLanguage] = lang
			merged.add(ent)
		}
	}

	if opts.UseSmartExtraction {
		found, err := x.smart.ExtractEntities(ctx, text, lang)
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		if err != nil {
			reportBackendFailure(ctx, x.logger, "entities", err)
		} else {
			added := 0
			for _, ent := range found {
				if added >= SmartEntityCap {
					break
				}
				ent, ok := sanitizeEntity(ent, lang)
				if !ok || !allowed.allows(ent.Type) {
					continue
				}
				merged.add(ent)
				added++
			}
		}
	}

	out := merged.list()
	recordExtraction(ctx, "entities", time.Since(start), len(out))
	return out, nil
}

// sanitizeEntity fills defaults on an entity returned by a smart backend.
// Backend ids are replaced; ids are always minted here.
func sanitizeEntity(ent model.Entity, lang string) (model.Entity, bool) {
	ent.Label = strings.TrimSpace(ent.Label)
	if model.NormalizeLabel(ent.Label) == "" {
		return ent, false
	}
	ent.ID = uuid.NewString()
	if !ent.Type.Valid() {
		ent.Type = model.EntityConcept
	}
	if ent.Confidence <= 0 {
		ent.Confidence = SmartConfidence
	}
	ent.Confidence = clamp01(ent.Confidence)
	if ent.Properties == nil {
		ent.Properties = map[string]string{}
	}
	if ent.Properties[model.PropExtractionMethod] == "" {
		ent.Properties[model.PropExtractionMethod] = model.MethodSmart
	}
	if ent.Properties[model.PropLanguage] == "" {
		ent.Properties[model.PropLanguage] = lang
	}
	if ent.CreatedAt.IsZero() {
		now := time.Now().UTC()
		ent.CreatedAt, ent.UpdatedAt = now, now
	}
	return ent, true
}

// entitySet de-duplicates entities by normalized label, preserving the
// order of first appearance.
type entitySet struct {
	index map[string]int
	items []model.Entity
}

func newEntitySet() *entitySet {
	return &entitySet{index: make(map[string]int)}
}

func (s *entitySet) add(ent model.Entity) {
	key := model.NormalizeLabel(ent.Label)
	i, ok := s.index[key]
	if !ok {
		s.index[key] = len(s.items)
		s.items = append(s.items, ent)
		return
	}
	existing := &s.items[i]
	if ent.Confidence > existing.Confidence {
		existing.Confidence = ent.Confidence
	}
	if existing.Type == model.EntityConcept && ent.Type != model.EntityConcept {
		existing.Type = ent.Type
	}
}

func (s *entitySet) list() []model.Entity {
	return s.items
}

type typeFilter map[model.EntityType]struct{}

func newTypeFilter(types []model.EntityType) typeFilter {
	if len(types) == 0 {
		return nil
	}
	f := make(typeFilter, len(types))
	for _, t := range types {
		f[t] = struct{}{}
	}
	return f
}

func (f typeFilter) allows(t model.EntityType) bool {
	if f == nil {
		return true
	}
	_, ok := f[t]
	return ok
}

func clamp01(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}

// reportBackendFailure logs and counts a smart stage failure. The caller
// continues without the smart results.
func reportBackendFailure(ctx context.Context, logger *slog.Logger, stage string, err error) {
	wrapped := fmt.Errorf("%w: %s: %v", ErrExtractionBackend, stage, err)
	logger.WarnContext(ctx, "smart extraction failed, continuing with pattern results",
		slog.String("stage", stage),
		slog.String("error", wrapped.Error()),
	)
	recordFallback(ctx, stage)
}
