// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package infer derives new relationships from existing ones with fixed
// rules.
//
// Only relationships that are not themselves inferred act as premises, and
// no rule emits a (source, target) pair that is already connected in that
// direction. Running the rules again over their own output therefore adds
// nothing.
package infer

import (
	"github.com/AleutianAI/AleutianKG/services/knowledge/model"
)

const (
	// TransitiveConfidence is the confidence of transitivity inferences.
	TransitiveConfidence = 0.5

	// ClusterConfidence is the confidence of type clustering inferences.
	ClusterConfidence = 0.4

	// DefaultLimit bounds inferences per run during a build.
	DefaultLimit = 50
)

// Rule names recorded in the rule property of inferred relationships.
const (
	RuleTransitivity   = "transitivity"
	RuleTypeClustering = "type_clustering"
)

// Rule produces candidate relationships from a graph snapshot.
type Rule interface {
	Name() string
	// Apply calls emit for every candidate. emit returns false once the
	// run limit is reached; Apply must stop at that point.
	Apply(entities []model.Entity, premises []model.Relationship, emit Emitter)
}

// Emitter proposes one inferred relationship. It returns false when no more
// relationships are accepted.
type Emitter func(sourceID, targetID string, typ model.RelationType, confidence float64) bool

// Transitivity links A to C for every A→B→C chain.
type Transitivity struct{}

// Name returns RuleTransitivity.
func (Transitivity) Name() string { return RuleTransitivity }

// Apply walks premises in order and, for each A→B, every B→C in order.
func (Transitivity) Apply(_ []model.Entity, premises []model.Relationship, emit Emitter) {
	outgoing := make(map[string][]string, len(premises))
	for _, r := range premises {
		outgoing[r.SourceID] = append(outgoing[r.SourceID], r.TargetID)
	}
	for _, ab := range premises {
		for _, c := range outgoing[ab.TargetID] {
			if c == ab.SourceID {
				continue
			}
			if !emit(ab.SourceID, c, model.RelRelatedTo, TransitiveConfidence) {
				return
			}
		}
	}
}

// TypeClustering chains entities of the same type in entity order.
type TypeClustering struct {
	// Types to cluster. Nil means technology and concept.
	Types []model.EntityType
}

// Name returns RuleTypeClustering.
func (TypeClustering) Name() string { return RuleTypeClustering }

// Apply links each entity of a clustered type to the next one of that type.
func (c TypeClustering) Apply(entities []model.Entity, _ []model.Relationship, emit Emitter) {
	types := c.Types
	if types == nil {
		types = []model.EntityType{model.EntityTechnology, model.EntityConcept}
	}
	for _, typ := range types {
		prev := ""
		for _, e := range entities {
			if e.Type != typ {
				continue
			}
			if prev != "" && !emit(prev, e.ID, model.RelSimilarTo, ClusterConfidence) {
				return
			}
			prev = e.ID
		}
	}
}

// DefaultRules are the rules run by builds and by on-demand inference.
func DefaultRules() []Rule {
	return []Rule{Transitivity{}, TypeClustering{}}
}

// Run applies rules in order to entities and existing and returns at most
// limit new relationships, each flagged Inferred. A limit ≤ 0 means
// unlimited.
//
// Description:
//
//	The pair set is seeded with every (source, target) of existing and
//	extended as relationships are emitted, so one run never returns the
//	same directed pair twice and never duplicates an existing pair.
//	Self-pairs are rejected.
//
// Inputs:
//
//	entities - Graph entities, in graph order.
//	existing - Graph relationships. Inferred ones are not used as premises.
//	limit    - Maximum number of returned relationships.
//	rules    - Rules to apply. Nil means DefaultRules().
//
// Outputs:
//
//	[]model.Relationship - New relationships, in emission order.
//
// Thread Safety:
//
//	Pure function of its inputs.
func Run(entities []model.Entity, existing []model.Relationship, limit int, rules ...Rule) []model.Relationship {
	if len(rules) == 0 {
		rules = DefaultRules()
	}
	pairs := make(map[[2]string]struct{}, len(existing))
	premises := make([]model.Relationship, 0, len(existing))
	for _, r := range existing {
		pairs[[2]string{r.SourceID, r.TargetID}] = struct{}{}
		if !r.Inferred {
			premises = append(premises, r)
		}
	}

	var out []model.Relationship
	for _, rule := range rules {
		if limit > 0 && len(out) >= limit {
			break
		}
		name := rule.Name()
		rule.Apply(entities, premises, func(src, dst string, typ model.RelationType, conf float64) bool {
			if limit > 0 && len(out) >= limit {
				return false
			}
			key := [2]string{src, dst}
			if src == dst {
				return true
			}
			if _, seen := pairs[key]; seen {
				return true
			}
			pairs[key] = struct{}{}
			rel := model.NewRelationship(src, dst, typ, conf, model.MethodInference)
			rel.Inferred = true
			rel.Properties[model.PropRule] = name
			out = append(out, rel)
			return limit <= 0 || len(out) < limit
		})
	}
	return out
}
