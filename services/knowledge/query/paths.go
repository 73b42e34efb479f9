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
	"slices"

	"github.com/AleutianAI/AleutianKG/services/knowledge/model"
	"github.com/AleutianAI/AleutianKG/services/knowledge/store"
)

// Path alternates entity ids and edge markers, e.g.
// ["a", "-[uses]->", "b", "-[depends_on]->", "c"].
type Path []string

// Hops is the number of edges in p.
func (p Path) Hops() int {
	if len(p) == 0 {
		return 0
	}
	return len(p) / 2
}

// EdgeMarker renders a relation type as it appears in a Path.
func EdgeMarker(t model.RelationType) string {
	return fmt.Sprintf("-[%s]->", t)
}

type edge struct {
	to  string
	typ model.RelationType
}

// adjacency maps entity id to traversable edges. Bidirectional
// relationships are traversable from either end.
type adjacency map[string][]edge

func newAdjacency(g *model.KnowledgeGraph) adjacency {
	adj := make(adjacency, len(g.Entities))
	for _, r := range g.Relationships {
		adj[r.SourceID] = append(adj[r.SourceID], edge{to: r.TargetID, typ: r.Type})
		if r.Bidirectional {
			adj[r.TargetID] = append(adj[r.TargetID], edge{to: r.SourceID, typ: r.Type})
		}
	}
	return adj
}

// shortest runs a breadth-first search from "from" to "to" with at most
// maxHops edges. It returns nil when no such path exists.
func (adj adjacency) shortest(from, to string, maxHops int) Path {
	if from == to || maxHops <= 0 {
		return nil
	}
	type step struct {
		prev string
		typ  model.RelationType
	}
	visited := map[string]step{from: {}}
	frontier := []string{from}
	for depth := 0; depth < maxHops && len(frontier) > 0; depth++ {
		var next []string
		for _, node := range frontier {
			for _, e := range adj[node] {
				if _, seen := visited[e.to]; seen {
					continue
				}
				visited[e.to] = step{prev: node, typ: e.typ}
				if e.to == to {
					var reversed []string
					for cur := to; cur != from; cur = visited[cur].prev {
						reversed = append(reversed, cur, EdgeMarker(visited[cur].typ))
					}
					reversed = append(reversed, from)
					slices.Reverse(reversed)
					return Path(reversed)
				}
				next = append(next, e.to)
			}
		}
		frontier = next
	}
	return nil
}

// pathsAmong searches every ordered pair of the top pathCandidates scored
// entities and returns at most MaxPaths paths.
func pathsAmong(g *model.KnowledgeGraph, scored []ScoredEntity, maxHops int) []Path {
	candidates := scored
	if len(candidates) > pathCandidates {
		candidates = candidates[:pathCandidates]
	}
	adj := newAdjacency(g)
	var out []Path
	for i := range candidates {
		for j := range candidates {
			if i == j {
				continue
			}
			if p := adj.shortest(candidates[i].ID, candidates[j].ID, maxHops); p != nil {
				out = append(out, p)
				if len(out) == MaxPaths {
					return out
				}
			}
		}
	}
	return out
}

// FindPath returns the shortest path from one entity to another within
// maxHops edges, or nil when none exists. maxHops ≤ 0 uses DefaultMaxHops.
//
// Both ids must be entities of graphID; otherwise the error wraps
// store.ErrEntityNotFound.
func (e *Engine) FindPath(ctx context.Context, graphID, from, to string, maxHops int) (Path, error) {
	ctx, span := tracer.Start(ctx, "Engine.FindPath")
	defer span.End()
	if maxHops <= 0 {
		maxHops = DefaultMaxHops
	}
	var path Path
	err := e.store.View(ctx, graphID, func(g *model.KnowledgeGraph) error {
		idx := g.EntityIndex()
		for _, id := range []string{from, to} {
			if _, ok := idx[id]; !ok {
				return fmt.Errorf("%w: %s in graph %s", store.ErrEntityNotFound, id, graphID)
			}
		}
		path = newAdjacency(g).shortest(from, to, maxHops)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return path, nil
}
