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

	"go.opentelemetry.io/otel/attribute"

	"github.com/AleutianAI/AleutianKG/services/knowledge/model"
	"github.com/AleutianAI/AleutianKG/services/knowledge/store"
)

// DefaultMaxNeighbors applies when ExpandRequest.MaxNeighbors is zero.
const DefaultMaxNeighbors = 50

// ExpandRequest asks for the neighborhood of one entity.
type ExpandRequest struct {
	EntityID             string               `json:"entity_id"`
	MaxDepth             int                  `json:"max_depth,omitempty" binding:"gte=0,lte=10"`
	MaxNeighbors         int                  `json:"max_neighbors,omitempty" binding:"gte=0"`
	AllowedRelationTypes []model.RelationType `json:"allowed_relation_types,omitempty"`

	// MultiHop walks up to MaxDepth levels. Without it only direct
	// relationships are returned and MaxDepth is ignored.
	MultiHop bool `json:"multi_hop"`
}

// ExpandResult is the neighborhood of ExpandRequest.EntityID.
type ExpandResult struct {
	GraphID       string               `json:"graph_id"`
	Center        model.Entity         `json:"center"`
	Neighbors     []model.Entity       `json:"neighbors"`
	Relationships []model.Relationship `json:"relationships"`
	DepthReached  int                  `json:"depth_reached"`
}

// Expand returns the entities and relationships around req.EntityID.
//
// Description:
//
//	The owning graph is found through the store's entity index. A single
//	hop collects every relationship touching the entity, filtered by
//	AllowedRelationTypes and truncated to MaxNeighbors. With MultiHop the
//	walk continues breadth-first from each new neighbor until MaxDepth
//	levels or MaxNeighbors relationships. DepthReached is at least 1, even
//	for an isolated entity.
//
// Outputs:
//
//	*ExpandResult - Neighbors are unique and never include the center.
//	error         - store.ErrEntityNotFound for unknown ids.
func (e *Engine) Expand(ctx context.Context, req ExpandRequest) (*ExpandResult, error) {
	ctx, span := tracer.Start(ctx, "Engine.Expand")
	defer span.End()

	graphID, err := e.store.FindEntityGraph(req.EntityID)
	if err != nil {
		return nil, err
	}
	span.SetAttributes(attribute.String("graph.id", graphID), attribute.Bool("expand.multi_hop", req.MultiHop))

	maxNeighbors := req.MaxNeighbors
	if maxNeighbors <= 0 {
		maxNeighbors = DefaultMaxNeighbors
	}
	maxDepth := 1
	if req.MultiHop && req.MaxDepth > 1 {
		maxDepth = req.MaxDepth
	}
	allowed := make(map[model.RelationType]struct{}, len(req.AllowedRelationTypes))
	for _, t := range req.AllowedRelationTypes {
		allowed[t] = struct{}{}
	}
	permitted := func(t model.RelationType) bool {
		if len(allowed) == 0 {
			return true
		}
		_, ok := allowed[t]
		return ok
	}

	var result *ExpandResult
	err = e.store.View(ctx, graphID, func(g *model.KnowledgeGraph) error {
		center, ok := g.Entity(req.EntityID)
		if !ok {
			return fmt.Errorf("%w: %s", store.ErrEntityNotFound, req.EntityID)
		}
		result = expand(g, center, maxDepth, maxNeighbors, permitted)
		result.GraphID = graphID
		return nil
	})
	if err != nil {
		return nil, err
	}
	span.SetAttributes(
		attribute.Int("expand.relationships", len(result.Relationships)),
		attribute.Int("expand.depth", result.DepthReached),
	)
	return result, nil
}

func expand(g *model.KnowledgeGraph, center model.Entity, maxDepth, maxRels int, permitted func(model.RelationType) bool) *ExpandResult {
	idx := g.EntityIndex()
	result := &ExpandResult{
		Center:        center.Clone(),
		Neighbors:     []model.Entity{},
		Relationships: []model.Relationship{},
		DepthReached:  1,
	}
	visited := map[string]struct{}{center.ID: {}}
	takenRels := make(map[string]struct{})
	frontier := []string{center.ID}

	for depth := 1; depth <= maxDepth && len(frontier) > 0; depth++ {
		var next []string
		for _, node := range frontier {
			for _, r := range g.Relationships {
				if !r.Touches(node) || !permitted(r.Type) {
					continue
				}
				if _, dup := takenRels[r.ID]; dup {
					continue
				}
				if len(result.Relationships) == maxRels {
					return result
				}
				takenRels[r.ID] = struct{}{}
				result.Relationships = append(result.Relationships, r.Clone())

				other := r.Other(node)
				if _, seen := visited[other]; seen {
					continue
				}
				visited[other] = struct{}{}
				if i, ok := idx[other]; ok {
					result.Neighbors = append(result.Neighbors, g.Entities[i].Clone())
				}
				next = append(next, other)
				result.DepthReached = depth
			}
		}
		frontier = next
	}
	return result
}
