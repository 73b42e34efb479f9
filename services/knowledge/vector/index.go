// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package vector indexes entity embeddings per graph for similarity search.
package vector

import (
	"context"
	"math"

	"github.com/AleutianAI/AleutianKG/services/knowledge/model"
)

// Match is one search hit.
type Match struct {
	GraphID  string  `json:"graph_id"`
	EntityID string  `json:"entity_id"`
	Label    string  `json:"label"`
	Score    float64 `json:"score"`
}

// Index stores entity embeddings scoped by graph id.
//
// Thread Safety:
//
//	Implementations must be safe for concurrent use.
type Index interface {
	// Upsert stores the embeddings of entities. Entities without an
	// embedding are skipped.
	Upsert(ctx context.Context, graphID string, entities []model.Entity) error

	// Search returns up to k entities of graphID most similar to vector,
	// best first. Scores are in [0, 1].
	Search(ctx context.Context, graphID string, vector []float32, k int) ([]Match, error)

	// DeleteGraph drops every embedding of graphID.
	DeleteGraph(ctx context.Context, graphID string) error
}

// Cosine returns the cosine similarity of a and b, or 0 when either is a
// zero vector or their lengths differ.
func Cosine(a, b []float32) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		x, y := float64(a[i]), float64(b[i])
		dot += x * y
		na += x * x
		nb += y * y
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}
