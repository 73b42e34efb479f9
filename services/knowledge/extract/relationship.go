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
	"log/slog"
	"sort"
	"strconv"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/AleutianAI/AleutianKG/services/knowledge/model"
)

// ProximityWindow is the maximum distance in characters between the first
// occurrences of two entities for the proximity stage to link them.
const ProximityWindow = 200

// RelationshipOptions controls one relationship extraction call.
type RelationshipOptions struct {
	// Language is "auto", empty, or an explicit code. Selects phrase rules.
	Language string

	// UseSmartExtraction enables the smart stage.
	UseSmartExtraction bool
}

// RelationshipExtractor finds relationships between already extracted
// entities.
//
// Thread Safety:
//
//	Safe for concurrent use.
type RelationshipExtractor struct {
	rules  *Rules
	smart  SmartExtractor
	logger *slog.Logger
}

// NewRelationshipExtractor creates an extractor. Nil arguments take the
// same defaults as NewEntityExtractor.
func NewRelationshipExtractor(rules *Rules, smart SmartExtractor, logger *slog.Logger) *RelationshipExtractor {
	if rules == nil {
		rules = NewRules(nil)
	}
	if smart == nil {
		smart = HeuristicSmartExtractor{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &RelationshipExtractor{rules: rules, smart: smart, logger: logger}
}

// Extract returns relationships among entities found in text.
//
// Description:
//
//	Three cumulative stages:
//	  1. Phrase rules. Both captured phrases must resolve to distinct
//	     entities. Confidence 0.7.
//	  2. Smart stage, if enabled. A failing backend is logged and replaced
//	     by the type-pair table. Confidence 0.8.
//	  3. Proximity. Entities ordered by first occurrence; each adjacent
//	     pair closer than ProximityWindow is linked with related_to,
//	     weight 1 - distance/ProximityWindow, confidence 0.6.
//	Parallel edges are not merged.
//
// Inputs:
//
//	ctx      - Cancellation.
//	text     - The text the entities were extracted from.
//	entities - Candidate endpoints.
//	opts     - Language and smart stage switch.
//
// Outputs:
//
//	[]model.Relationship - Endpoints are always ids from entities.
//	error                - Only ctx.Err().
func (x *RelationshipExtractor) Extract(ctx context.Context, text string, entities []model.Entity, opts RelationshipOptions) ([]model.Relationship, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if len(entities) == 0 {
		return nil, nil
	}
	start := time.Now()
	lang := ResolveLanguage(opts.Language, text)
	resolver := newLabelResolver(entities)

	var out []model.Relationship
	for _, rule := range x.rules.Load().Relations {
		if !appliesTo(rule.Language, lang) {
			continue
		}
		for _, m := range rule.re.FindAllStringSubmatch(text, -1) {
			src, okSrc := resolver.resolve(m[1], sideSource)
			dst, okDst := resolver.resolve(m[2], sideTarget)
			if !okSrc || !okDst || src == dst {
				continue
			}
			rel := model.NewRelationship(src, dst, rule.Type, PatternConfidence, model.MethodPattern)
			rel.Properties[model.PropPattern] = rule.Name
			out = append(out, rel)
		}
	}

	if opts.UseSmartExtraction {
		found, err := x.smart.ExtractRelationships(ctx, text, entities)
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		if err != nil {
			reportBackendFailure(ctx, x.logger, "relationships", err)
			found = pairTableRelationships(text, entities)
		}
		out = append(out, sanitizeRelationships(found, resolver.ids)...)
	}

	out = append(out, proximityRelationships(text, entities)...)
	recordExtraction(ctx, "relationships", time.Since(start), len(out))
	return out, nil
}

// proximityRelationships links adjacent entities by first occurrence.
func proximityRelationships(text string, entities []model.Entity) []model.Relationship {
	type occurrence struct {
		id     string
		offset int
	}
	lower := strings.ToLower(text)
	occ := make([]occurrence, 0, len(entities))
	for _, e := range entities {
		idx := strings.Index(lower, strings.ToLower(e.Label))
		if idx < 0 {
			continue
		}
		occ = append(occ, occurrence{id: e.ID, offset: utf8.RuneCountInString(lower[:idx])})
	}
	sort.SliceStable(occ, func(i, j int) bool { return occ[i].offset < occ[j].offset })

	var out []model.Relationship
	for i := 0; i+1 < len(occ); i++ {
		a, b := occ[i], occ[i+1]
		if a.id == b.id {
			continue
		}
		distance := b.offset - a.offset
		if distance >= ProximityWindow {
			continue
		}
		rel := model.NewRelationship(a.id, b.id, model.RelRelatedTo, ProximityConfidence, model.MethodProximity)
		rel.Weight = 1 - float64(distance)/ProximityWindow
		rel.Properties[model.PropDistance] = strconv.Itoa(distance)
		out = append(out, rel)
	}
	return out
}

// sanitizeRelationships drops backend relationships with unknown
// endpoints, assigns fresh ids and fills defaults.
func sanitizeRelationships(rels []model.Relationship, ids map[string]struct{}) []model.Relationship {
	out := make([]model.Relationship, 0, len(rels))
	for _, r := range rels {
		if _, ok := ids[r.SourceID]; !ok {
			continue
		}
		if _, ok := ids[r.TargetID]; !ok {
			continue
		}
		r.ID = uuid.NewString()
		if !r.Type.Valid() {
			r.Type = model.RelRelatedTo
		}
		if r.Confidence <= 0 {
			r.Confidence = SmartRelationConfidence
		}
		r.Confidence = clamp01(r.Confidence)
		if r.Weight <= 0 {
			r.Weight = 1.0
		}
		if r.Properties == nil {
			r.Properties = map[string]string{}
		}
		if r.Properties[model.PropExtractionMethod] == "" {
			r.Properties[model.PropExtractionMethod] = model.MethodSmart
		}
		if r.Label == "" {
			r.Label = string(r.Type)
		}
		if r.CreatedAt.IsZero() {
			r.CreatedAt = time.Now().UTC()
		}
		out = append(out, r)
	}
	return out
}

type phraseSide int

const (
	sideSource phraseSide = iota
	sideTarget
)

type labelEntry struct {
	label string
	id    string
}

// labelResolver maps captured phrases to entity ids.
type labelResolver struct {
	exact map[string]string
	byLen []labelEntry
	ids   map[string]struct{}
}

func newLabelResolver(entities []model.Entity) *labelResolver {
	r := &labelResolver{
		exact: make(map[string]string),
		ids:   make(map[string]struct{}, len(entities)),
	}
	add := func(label, id string) {
		key := strings.ToLower(strings.TrimSpace(label))
		if key == "" {
			return
		}
		if _, taken := r.exact[key]; !taken {
			r.exact[key] = id
			r.byLen = append(r.byLen, labelEntry{label: key, id: id})
		}
	}
	for _, e := range entities {
		r.ids[e.ID] = struct{}{}
		add(e.Label, e.ID)
		for _, a := range e.Aliases {
			add(a, e.ID)
		}
	}
	sort.SliceStable(r.byLen, func(i, j int) bool { return len(r.byLen[i].label) > len(r.byLen[j].label) })
	return r
}

// resolve finds the entity a phrase names. An exact label match wins.
// Otherwise a source phrase resolves to the longest label it ends with,
// and a target phrase to the longest label it starts with, on a word
// boundary.
func (r *labelResolver) resolve(phrase string, side phraseSide) (string, bool) {
	p := strings.ToLower(strings.TrimSpace(phrase))
	if p == "" {
		return "", false
	}
	if id, ok := r.exact[p]; ok {
		return id, true
	}
	for _, entry := range r.byLen {
		switch side {
		case sideSource:
			if strings.HasSuffix(p, entry.label) {
				before, _ := utf8.DecodeLastRuneInString(p[:len(p)-len(entry.label)])
				if len(p) == len(entry.label) || isBoundary(before, entry.label) {
					return entry.id, true
				}
			}
		case sideTarget:
			if strings.HasPrefix(p, entry.label) {
				after, _ := utf8.DecodeRuneInString(p[len(entry.label):])
				if len(p) == len(entry.label) || isBoundary(after, entry.label) {
					return entry.id, true
				}
			}
		}
	}
	return "", false
}

// isBoundary reports whether neighbor separates a label from surrounding
// text. Hangul labels accept attached particles.
func isBoundary(neighbor rune, label string) bool {
	if !(unicode.IsLetter(neighbor) || unicode.IsDigit(neighbor)) {
		return true
	}
	last, _ := utf8.DecodeLastRuneInString(label)
	return isHangul(last) && isHangul(neighbor)
}
