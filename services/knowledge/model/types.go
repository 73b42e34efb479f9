// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package model defines the knowledge graph data model: entities,
// relationships, graphs, and their enumerated types.
//
// Values in this package are plain data. The store package owns stored
// graphs; everything handed out by the store is a deep copy produced by
// KnowledgeGraph.Clone.
package model

import (
	"fmt"
	"strings"
)

// EntityType classifies an entity.
type EntityType string

const (
	EntityConcept      EntityType = "concept"
	EntityPerson       EntityType = "person"
	EntityOrganization EntityType = "organization"
	EntityLocation     EntityType = "location"
	EntityEvent        EntityType = "event"
	EntityDocument     EntityType = "document"
	EntityTopic        EntityType = "topic"
	EntityTechnology   EntityType = "technology"
	EntityProcess      EntityType = "process"
	EntityProduct      EntityType = "product"
	EntityTerm         EntityType = "term"
	EntityMetric       EntityType = "metric"
	EntityDate         EntityType = "date"
	EntityQuantity     EntityType = "quantity"
)

// AllEntityTypes lists every EntityType in declaration order.
var AllEntityTypes = []EntityType{
	EntityConcept, EntityPerson, EntityOrganization, EntityLocation,
	EntityEvent, EntityDocument, EntityTopic, EntityTechnology,
	EntityProcess, EntityProduct, EntityTerm, EntityMetric,
	EntityDate, EntityQuantity,
}

// Valid reports whether t is a known entity type.
func (t EntityType) Valid() bool {
	for _, known := range AllEntityTypes {
		if t == known {
			return true
		}
	}
	return false
}

// CypherLabel returns the node label used in exports, e.g. "Technology".
func (t EntityType) CypherLabel() string {
	return titleWords(string(t), "")
}

// ParseEntityType parses a case-insensitive entity type name.
func ParseEntityType(s string) (EntityType, error) {
	t := EntityType(strings.ToLower(strings.TrimSpace(s)))
	if !t.Valid() {
		return "", fmt.Errorf("%w: %q", ErrUnknownEntityType, s)
	}
	return t, nil
}

// RelationType classifies a relationship.
type RelationType string

const (
	RelIsA            RelationType = "is_a"
	RelPartOf         RelationType = "part_of"
	RelContains       RelationType = "contains"
	RelSubclassOf     RelationType = "subclass_of"
	RelRelatedTo      RelationType = "related_to"
	RelSimilarTo      RelationType = "similar_to"
	RelOppositeOf     RelationType = "opposite_of"
	RelSynonymOf      RelationType = "synonym_of"
	RelCauses         RelationType = "causes"
	RelLeadsTo        RelationType = "leads_to"
	RelDependsOn      RelationType = "depends_on"
	RelEnables        RelationType = "enables"
	RelPrevents       RelationType = "prevents"
	RelBefore         RelationType = "before"
	RelAfter          RelationType = "after"
	RelDuring         RelationType = "during"
	RelCreatedBy      RelationType = "created_by"
	RelOwnedBy        RelationType = "owned_by"
	RelWorksFor       RelationType = "works_for"
	RelLocatedIn      RelationType = "located_in"
	RelParticipatesIn RelationType = "participates_in"
	RelDefines        RelationType = "defines"
	RelDescribes      RelationType = "describes"
	RelReferences     RelationType = "references"
	RelDerivedFrom    RelationType = "derived_from"
	RelExampleOf      RelationType = "example_of"
	RelUses           RelationType = "uses"
	RelImplements     RelationType = "implements"
	RelExtends        RelationType = "extends"
	RelIntegratesWith RelationType = "integrates_with"
)

// AllRelationTypes lists every RelationType in declaration order.
var AllRelationTypes = []RelationType{
	RelIsA, RelPartOf, RelContains, RelSubclassOf, RelRelatedTo,
	RelSimilarTo, RelOppositeOf, RelSynonymOf, RelCauses, RelLeadsTo,
	RelDependsOn, RelEnables, RelPrevents, RelBefore, RelAfter,
	RelDuring, RelCreatedBy, RelOwnedBy, RelWorksFor, RelLocatedIn,
	RelParticipatesIn, RelDefines, RelDescribes, RelReferences,
	RelDerivedFrom, RelExampleOf, RelUses, RelImplements, RelExtends,
	RelIntegratesWith,
}

// Valid reports whether t is a known relation type.
func (t RelationType) Valid() bool {
	for _, known := range AllRelationTypes {
		if t == known {
			return true
		}
	}
	return false
}

// CypherType returns the relationship type used in exports, e.g.
// "INTEGRATES_WITH".
func (t RelationType) CypherType() string {
	return strings.ToUpper(string(t))
}

// ParseRelationType parses a case-insensitive relation type name.
func ParseRelationType(s string) (RelationType, error) {
	t := RelationType(strings.ToLower(strings.TrimSpace(s)))
	if !t.Valid() {
		return "", fmt.Errorf("%w: %q", ErrUnknownRelationType, s)
	}
	return t, nil
}

// ParseEntityTypes parses a list, failing on the first unknown name.
func ParseEntityTypes(names []string) ([]EntityType, error) {
	out := make([]EntityType, 0, len(names))
	for _, n := range names {
		t, err := ParseEntityType(n)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, nil
}

// ParseRelationTypes parses a list, failing on the first unknown name.
func ParseRelationTypes(names []string) ([]RelationType, error) {
	out := make([]RelationType, 0, len(names))
	for _, n := range names {
		t, err := ParseRelationType(n)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, nil
}

func titleWords(s, sep string) string {
	parts := strings.Split(s, "_")
	for i, p := range parts {
		if p == "" {
			continue
		}
		parts[i] = strings.ToUpper(p[:1]) + p[1:]
	}
	return strings.Join(parts, sep)
}
