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
	"sort"
	"strings"
	"unicode"

	"github.com/AleutianAI/AleutianKG/services/knowledge/extract"
	"github.com/AleutianAI/AleutianKG/services/knowledge/model"
)

// Score contributions.
const (
	ExactLabelScore      = 1.0
	LabelWordScore       = 0.5
	AliasScore           = 0.3
	DescriptionWordScore = 0.1
	IntentBoost          = 0.5
)

// intentVerbs maps query tokens to the relation they ask about.
var intentVerbs = map[string]model.RelationType{
	"use":         model.RelUses,
	"uses":        model.RelUses,
	"using":       model.RelUses,
	"depend":      model.RelDependsOn,
	"depends":     model.RelDependsOn,
	"require":     model.RelDependsOn,
	"requires":    model.RelDependsOn,
	"integrate":   model.RelIntegratesWith,
	"integrates":  model.RelIntegratesWith,
	"implement":   model.RelImplements,
	"implements":  model.RelImplements,
	"extend":      model.RelExtends,
	"extends":     model.RelExtends,
	"contain":     model.RelContains,
	"contains":    model.RelContains,
	"include":     model.RelContains,
	"includes":    model.RelContains,
	"cause":       model.RelCauses,
	"causes":      model.RelCauses,
	"enable":      model.RelEnables,
	"enables":     model.RelEnables,
	"prevent":     model.RelPrevents,
	"prevents":    model.RelPrevents,
	"create":      model.RelCreatedBy,
	"created":     model.RelCreatedBy,
	"own":         model.RelOwnedBy,
	"owns":        model.RelOwnedBy,
	"work":        model.RelWorksFor,
	"works":       model.RelWorksFor,
	"located":     model.RelLocatedIn,
	"reference":   model.RelReferences,
	"references":  model.RelReferences,
	"사용":          model.RelUses,
	"의존":          model.RelDependsOn,
	"포함":          model.RelContains,
}

// termSet is the lower-cased vocabulary of a query.
type termSet struct {
	terms   map[string]struct{}
	intents []model.RelationType
}

func (t termSet) has(s string) bool {
	_, ok := t.terms[s]
	return ok
}

// queryTerms unions pattern-extracted labels with the raw and
// punctuation-trimmed whitespace tokens of q.
func (e *Engine) queryTerms(ctx context.Context, q string) (termSet, error) {
	set := termSet{terms: make(map[string]struct{})}
	entities, err := e.terms.Extract(ctx, q, extract.EntityOptions{})
	if err != nil {
		return set, err
	}
	for _, ent := range entities {
		set.terms[model.NormalizeLabel(ent.Label)] = struct{}{}
	}
	seenIntent := make(map[model.RelationType]struct{})
	for _, tok := range strings.Fields(strings.ToLower(q)) {
		set.terms[tok] = struct{}{}
		trimmed := strings.TrimFunc(tok, func(r rune) bool {
			return unicode.IsPunct(r) || unicode.IsSymbol(r)
		})
		if trimmed == "" {
			continue
		}
		set.terms[trimmed] = struct{}{}
		if typ, ok := intentVerbs[trimmed]; ok {
			if _, dup := seenIntent[typ]; !dup {
				seenIntent[typ] = struct{}{}
				set.intents = append(set.intents, typ)
			}
		}
	}
	return set, nil
}

// scoreEntity is the lexical relevance of ent to terms.
func scoreEntity(ent model.Entity, terms termSet) float64 {
	score := 0.0
	label := model.NormalizeLabel(ent.Label)
	if terms.has(label) {
		score += ExactLabelScore
	}
	for _, w := range strings.Fields(label) {
		if terms.has(w) {
			score += LabelWordScore
		}
	}
	for _, a := range ent.Aliases {
		if terms.has(model.NormalizeLabel(a)) {
			score += AliasScore
		}
	}
	if desc := ent.Properties[model.PropDescription]; desc != "" {
		for _, w := range strings.Fields(model.NormalizeLabel(desc)) {
			if terms.has(strings.TrimFunc(w, unicode.IsPunct)) {
				score += DescriptionWordScore
			}
		}
	}
	return score
}

// rankEntities scores every entity, applies the relation-intent and
// embedding boosts, and returns the top MaxRelevantEntities with a
// positive score, highest first and ties by label.
func rankEntities(g *model.KnowledgeGraph, terms termSet, similarity map[string]float64) []ScoredEntity {
	base := make(map[string]float64, len(g.Entities))
	for _, ent := range g.Entities {
		if s := scoreEntity(ent, terms); s > 0 {
			base[ent.ID] = s
		}
	}

	scores := make(map[string]float64, len(base))
	for id, s := range base {
		scores[id] = s
	}
	for _, intent := range terms.intents {
		for _, r := range g.Relationships {
			if r.Type != intent || r.SourceID == r.TargetID {
				continue
			}
			if s, ok := base[r.SourceID]; ok {
				scores[r.TargetID] += s + IntentBoost
			}
		}
	}
	for id, sim := range similarity {
		if sim > 0 {
			scores[id] += sim * embeddingBoost
		}
	}

	out := make([]ScoredEntity, 0, len(scores))
	for _, ent := range g.Entities {
		if s := scores[ent.ID]; s > 0 {
			out = append(out, ScoredEntity{Entity: ent.Clone(), Score: s})
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return out[i].Label < out[j].Label
	})
	if len(out) > MaxRelevantEntities {
		out = out[:MaxRelevantEntities]
	}
	return out
}

// touching returns copies of every relationship with an endpoint in scored.
func touching(g *model.KnowledgeGraph, scored []ScoredEntity) []model.Relationship {
	ids := make(map[string]struct{}, len(scored))
	for _, s := range scored {
		ids[s.ID] = struct{}{}
	}
	out := []model.Relationship{}
	for _, r := range g.Relationships {
		_, src := ids[r.SourceID]
		_, dst := ids[r.TargetID]
		if src || dst {
			out = append(out, r.Clone())
		}
	}
	return out
}
