// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package vector

import (
	"context"
	"slices"
	"sort"
	"sync"

	"github.com/AleutianAI/AleutianKG/services/knowledge/model"
)

type memItem struct {
	label  string
	vector []float32
}

// MemoryIndex is an exact, in-process Index using cosine similarity.
type MemoryIndex struct {
	mu     sync.RWMutex
	graphs map[string]map[string]memItem
}

// NewMemoryIndex returns an empty index.
func NewMemoryIndex() *MemoryIndex {
	return &MemoryIndex{graphs: make(map[string]map[string]memItem)}
}

// Upsert implements Index.
func (m *MemoryIndex) Upsert(ctx context.Context, graphID string, entities []model.Entity) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	items, ok := m.graphs[graphID]
	if !ok {
		items = make(map[string]memItem)
		m.graphs[graphID] = items
	}
	for _, e := range entities {
		if len(e.Embedding) == 0 {
			continue
		}
		items[e.ID] = memItem{label: e.Label, vector: slices.Clone(e.Embedding)}
	}
	return nil
}

// Search implements Index. Negative similarities are clamped to 0.
func (m *MemoryIndex) Search(ctx context.Context, graphID string, vector []float32, k int) ([]Match, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	items := m.graphs[graphID]
	out := make([]Match, 0, len(items))
	for id, it := range items {
		out = append(out, Match{
			GraphID:  graphID,
			EntityID: id,
			Label:    it.label,
			Score:    max(0, Cosine(vector, it.vector)),
		})
	}
	m.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return out[i].EntityID < out[j].EntityID
	})
	if k > 0 && len(out) > k {
		out = out[:k]
	}
	return out, nil
}

// DeleteGraph implements Index.
func (m *MemoryIndex) DeleteGraph(_ context.Context, graphID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.graphs, graphID)
	return nil
}

var _ Index = (*MemoryIndex)(nil)
