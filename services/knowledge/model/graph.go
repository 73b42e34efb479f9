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
	"fmt"
	"maps"
	"slices"
	"strings"
	"time"
	"unicode"

	"github.com/google/uuid"
)

// Property keys written by the extraction and inference stages.
const (
	PropExtractionMethod = "extraction_method"
	PropPattern          = "pattern"
	PropDescription      = "description"
	PropLanguage         = "language"
	PropDistance         = "distance"
	PropRule             = "rule"
)

// Extraction method values stored under PropExtractionMethod.
const (
	MethodPattern   = "pattern"
	MethodSmart     = "smart"
	MethodLLM       = "llm"
	MethodProximity = "proximity"
	MethodInference = "inference"
)

// Provenance records where an entity or relationship was extracted from.
type Provenance struct {
	// DocumentID is the source document, empty for query-only builds.
	DocumentID string `json:"document_id,omitempty"`

	// FragmentIDs are source chunk identifiers within the document.
	FragmentIDs []string `json:"fragment_ids,omitempty"`
}

// Layout holds optional 2-D rendering hints.
type Layout struct {
	X     float64 `json:"x"`
	Y     float64 `json:"y"`
	Color string  `json:"color,omitempty"`
	Size  float64 `json:"size,omitempty"`
}

// Entity is a typed node in a knowledge graph.
//
// ID is assigned once by NewEntity and never changes. Label must be
// non-empty and Confidence must lie in [0,1]; Validate checks both.
type Entity struct {
	ID            string            `json:"id"`
	Label         string            `json:"label"`
	Type          EntityType        `json:"type"`
	Properties    map[string]string `json:"properties,omitempty"`
	Provenance    *Provenance       `json:"provenance,omitempty"`
	Confidence    float64           `json:"confidence"`
	OntologyClass string            `json:"ontology_class,omitempty"`
	Aliases       []string          `json:"aliases,omitempty"`
	Embedding     []float32         `json:"embedding,omitempty"`
	Layout        *Layout           `json:"layout,omitempty"`
	CreatedAt     time.Time         `json:"created_at"`
	UpdatedAt     time.Time         `json:"updated_at"`
}

// NewEntity creates an entity with a fresh id and the given extraction
// method recorded in its properties.
func NewEntity(label string, typ EntityType, confidence float64, method string) Entity {
	now := time.Now().UTC()
	return Entity{
		ID:         uuid.NewString(),
		Label:      label,
		Type:       typ,
		Properties: map[string]string{PropExtractionMethod: method},
		Confidence: confidence,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
}

// Clone returns a deep copy of e.
func (e Entity) Clone() Entity {
	out := e
	out.Properties = maps.Clone(e.Properties)
	out.Aliases = slices.Clone(e.Aliases)
	out.Embedding = slices.Clone(e.Embedding)
	if e.Provenance != nil {
		p := *e.Provenance
		p.FragmentIDs = slices.Clone(e.Provenance.FragmentIDs)
		out.Provenance = &p
	}
	if e.Layout != nil {
		l := *e.Layout
		out.Layout = &l
	}
	return out
}

// HasAlias reports whether label matches an alias, case-insensitively.
func (e Entity) HasAlias(label string) bool {
	for _, a := range e.Aliases {
		if strings.EqualFold(a, label) {
			return true
		}
	}
	return false
}

// AddAlias records label as an alias unless it equals the label or an
// existing alias.
func (e *Entity) AddAlias(label string) {
	if label == "" || strings.EqualFold(label, e.Label) || e.HasAlias(label) {
		return
	}
	e.Aliases = append(e.Aliases, label)
}

// Validate checks the entity's own invariants.
func (e Entity) Validate() error {
	if e.ID == "" {
		return fmt.Errorf("%w: entity without id", ErrInvalidGraph)
	}
	if strings.TrimSpace(e.Label) == "" {
		return fmt.Errorf("%w: entity %s has empty label", ErrInvalidGraph, e.ID)
	}
	if e.Confidence < 0 || e.Confidence > 1 {
		return fmt.Errorf("%w: entity %s confidence %v out of range", ErrInvalidGraph, e.ID, e.Confidence)
	}
	return nil
}

// Relationship is a typed, directed edge between two entities of the same
// graph. Self-loops and parallel edges are permitted.
type Relationship struct {
	ID            string            `json:"id"`
	SourceID      string            `json:"source_id"`
	TargetID      string            `json:"target_id"`
	Type          RelationType      `json:"type"`
	Properties    map[string]string `json:"properties,omitempty"`
	Label         string            `json:"label,omitempty"`
	Weight        float64           `json:"weight"`
	Provenance    *Provenance       `json:"provenance,omitempty"`
	Confidence    float64           `json:"confidence"`
	Bidirectional bool              `json:"bidirectional"`
	Inferred      bool              `json:"inferred"`
	CreatedAt     time.Time         `json:"created_at"`
}

// NewRelationship creates a relationship with a fresh id and weight 1.0.
func NewRelationship(sourceID, targetID string, typ RelationType, confidence float64, method string) Relationship {
	return Relationship{
		ID:         uuid.NewString(),
		SourceID:   sourceID,
		TargetID:   targetID,
		Type:       typ,
		Properties: map[string]string{PropExtractionMethod: method},
		Label:      string(typ),
		Weight:     1.0,
		Confidence: confidence,
		CreatedAt:  time.Now().UTC(),
	}
}

// Clone returns a deep copy of r.
func (r Relationship) Clone() Relationship {
	out := r
	out.Properties = maps.Clone(r.Properties)
	if r.Provenance != nil {
		p := *r.Provenance
		p.FragmentIDs = slices.Clone(r.Provenance.FragmentIDs)
		out.Provenance = &p
	}
	return out
}

// Touches reports whether id is the relationship's source or target.
func (r Relationship) Touches(id string) bool {
	return r.SourceID == id || r.TargetID == id
}

// Other returns the endpoint opposite id.
func (r Relationship) Other(id string) string {
	if r.SourceID == id {
		return r.TargetID
	}
	return r.SourceID
}

// OntologyClass describes an allowed entity class.
type OntologyClass struct {
	Name        string     `json:"name"`
	EntityType  EntityType `json:"entity_type,omitempty"`
	Parent      string     `json:"parent,omitempty"`
	Description string     `json:"description,omitempty"`
}

// OntologyRelation describes an allowed relation between classes.
type OntologyRelation struct {
	Name        string       `json:"name"`
	Type        RelationType `json:"type"`
	Domain      string       `json:"domain,omitempty"`
	Range       string       `json:"range,omitempty"`
	Description string       `json:"description,omitempty"`
}

// Ontology is the optional schema attached to a graph. It is stored and
// exported but not enforced during extraction.
type Ontology struct {
	Name            string             `json:"name,omitempty"`
	EntityClasses   []OntologyClass    `json:"entity_classes,omitempty"`
	RelationClasses []OntologyRelation `json:"relation_classes,omitempty"`
}

// KnowledgeGraph is a named set of entities and the relationships between
// them.
//
// EntityCount and RelationshipCount are derived; call RecomputeCounts after
// changing either slice. The store does this on every commit.
type KnowledgeGraph struct {
	ID                string         `json:"id"`
	Name              string         `json:"name"`
	Description       string         `json:"description,omitempty"`
	Entities          []Entity       `json:"entities"`
	Relationships     []Relationship `json:"relationships"`
	Ontology          *Ontology      `json:"ontology,omitempty"`
	EntityCount       int            `json:"entity_count"`
	RelationshipCount int            `json:"relationship_count"`
	SourceDocumentIDs []string       `json:"source_document_ids,omitempty"`
	SourceQuery       string         `json:"source_query,omitempty"`
	CreatedAt         time.Time      `json:"created_at"`
	UpdatedAt         time.Time      `json:"updated_at"`
}

// RecomputeCounts sets the derived counts from the contained slices.
func (g *KnowledgeGraph) RecomputeCounts() {
	g.EntityCount = len(g.Entities)
	g.RelationshipCount = len(g.Relationships)
}

// Clone returns a deep copy of g.
func (g *KnowledgeGraph) Clone() *KnowledgeGraph {
	if g == nil {
		return nil
	}
	out := *g
	out.Entities = make([]Entity, len(g.Entities))
	for i, e := range g.Entities {
		out.Entities[i] = e.Clone()
	}
	out.Relationships = make([]Relationship, len(g.Relationships))
	for i, r := range g.Relationships {
		out.Relationships[i] = r.Clone()
	}
	out.SourceDocumentIDs = slices.Clone(g.SourceDocumentIDs)
	if g.Ontology != nil {
		o := *g.Ontology
		o.EntityClasses = slices.Clone(g.Ontology.EntityClasses)
		o.RelationClasses = slices.Clone(g.Ontology.RelationClasses)
		out.Ontology = &o
	}
	return &out
}

// EntityIndex maps entity id to its position in Entities.
func (g *KnowledgeGraph) EntityIndex() map[string]int {
	idx := make(map[string]int, len(g.Entities))
	for i, e := range g.Entities {
		idx[e.ID] = i
	}
	return idx
}

// Entity returns the entity with the given id.
func (g *KnowledgeGraph) Entity(id string) (Entity, bool) {
	for _, e := range g.Entities {
		if e.ID == id {
			return e, true
		}
	}
	return Entity{}, false
}

// Validate checks every structural invariant of the graph: unique, valid
// entities; relationships whose endpoints exist; non-negative weights and
// in-range confidences.
func (g *KnowledgeGraph) Validate() error {
	if g.ID == "" {
		return fmt.Errorf("%w: graph without id", ErrInvalidGraph)
	}
	seen := make(map[string]struct{}, len(g.Entities))
	for _, e := range g.Entities {
		if err := e.Validate(); err != nil {
			return err
		}
		if _, dup := seen[e.ID]; dup {
			return fmt.Errorf("%w: duplicate entity id %s", ErrInvalidGraph, e.ID)
		}
		seen[e.ID] = struct{}{}
	}
	relIDs := make(map[string]struct{}, len(g.Relationships))
	for _, r := range g.Relationships {
		if _, ok := seen[r.SourceID]; !ok {
			return fmt.Errorf("%w: relationship %s source %s", ErrInvalidRelationshipReference, r.ID, r.SourceID)
		}
		if _, ok := seen[r.TargetID]; !ok {
			return fmt.Errorf("%w: relationship %s target %s", ErrInvalidRelationshipReference, r.ID, r.TargetID)
		}
		if r.ID == "" {
			return fmt.Errorf("%w: relationship without id", ErrInvalidGraph)
		}
		if _, dup := relIDs[r.ID]; dup {
			return fmt.Errorf("%w: duplicate relationship id %s", ErrInvalidGraph, r.ID)
		}
		relIDs[r.ID] = struct{}{}
		if r.Weight < 0 {
			return fmt.Errorf("%w: relationship %s has negative weight", ErrInvalidGraph, r.ID)
		}
		if r.Confidence < 0 || r.Confidence > 1 {
			return fmt.Errorf("%w: relationship %s confidence %v out of range", ErrInvalidGraph, r.ID, r.Confidence)
		}
	}
	return nil
}

// Summary is the list view of a graph.
type Summary struct {
	ID                string    `json:"id"`
	Name              string    `json:"name"`
	Description       string    `json:"description,omitempty"`
	EntityCount       int       `json:"entity_count"`
	RelationshipCount int       `json:"relationship_count"`
	CreatedAt         time.Time `json:"created_at"`
	UpdatedAt         time.Time `json:"updated_at"`
}

// Summarize returns the list view of g.
func (g *KnowledgeGraph) Summarize() Summary {
	return Summary{
		ID:                g.ID,
		Name:              g.Name,
		Description:       g.Description,
		EntityCount:       g.EntityCount,
		RelationshipCount: g.RelationshipCount,
		CreatedAt:         g.CreatedAt,
		UpdatedAt:         g.UpdatedAt,
	}
}

// NormalizeLabel lower-cases a label, collapses internal whitespace, and
// trims surrounding punctuation. Labels that normalize equal are the same
// entity for de-duplication.
func NormalizeLabel(label string) string {
	fields := strings.Fields(strings.ToLower(label))
	joined := strings.Join(fields, " ")
	return strings.TrimFunc(joined, func(r rune) bool {
		return unicode.IsPunct(r) || unicode.IsSpace(r)
	})
}
