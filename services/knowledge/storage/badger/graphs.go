// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package badger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/dgraph-io/badger/v4"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/AleutianAI/AleutianKG/services/knowledge/model"
	"github.com/AleutianAI/AleutianKG/services/knowledge/store"
)

var tracer = otel.Tracer("aleutian.kg.storage.badger")

const graphKeyPrefix = "kg/graph/"

func graphKey(id string) []byte {
	return []byte(graphKeyPrefix + id)
}

// GraphRepository stores each graph as one JSON value keyed by id. It
// implements store.Persister.
type GraphRepository struct {
	db *DB
}

// NewGraphRepository wraps an open database.
func NewGraphRepository(db *DB) *GraphRepository {
	return &GraphRepository{db: db}
}

// SaveGraph writes g, replacing any previous version.
func (r *GraphRepository) SaveGraph(ctx context.Context, g *model.KnowledgeGraph) error {
	ctx, span := tracer.Start(ctx, "GraphRepository.SaveGraph")
	defer span.End()
	span.SetAttributes(attribute.String("graph.id", g.ID))

	data, err := json.Marshal(g)
	if err != nil {
		return fmt.Errorf("encode graph %s: %w", g.ID, err)
	}
	span.SetAttributes(attribute.Int("graph.bytes", len(data)))
	err = r.db.Update(ctx, func(txn *badger.Txn) error {
		return txn.Set(graphKey(g.ID), data)
	})
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("save graph %s: %w", g.ID, err)
	}
	return nil
}

// LoadGraph reads one graph. Unknown ids yield store.ErrGraphNotFound.
func (r *GraphRepository) LoadGraph(ctx context.Context, id string) (*model.KnowledgeGraph, error) {
	ctx, span := tracer.Start(ctx, "GraphRepository.LoadGraph")
	defer span.End()
	span.SetAttributes(attribute.String("graph.id", id))

	var g model.KnowledgeGraph
	err := r.db.View(ctx, func(txn *badger.Txn) error {
		item, err := txn.Get(graphKey(id))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &g)
		})
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, fmt.Errorf("%w: %s", store.ErrGraphNotFound, id)
	}
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("load graph %s: %w", id, err)
	}
	return &g, nil
}

// DeleteGraph removes a graph. Deleting an unknown id is not an error.
func (r *GraphRepository) DeleteGraph(ctx context.Context, id string) error {
	err := r.db.Update(ctx, func(txn *badger.Txn) error {
		return txn.Delete(graphKey(id))
	})
	if err != nil {
		return fmt.Errorf("delete graph %s: %w", id, err)
	}
	return nil
}

// ListGraphIDs returns every stored graph id in key order.
func (r *GraphRepository) ListGraphIDs(ctx context.Context) ([]string, error) {
	prefix := []byte(graphKeyPrefix)
	var ids []string
	err := r.db.View(ctx, func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			ids = append(ids, string(it.Item().Key()[len(prefix):]))
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list graphs: %w", err)
	}
	return ids, nil
}

var _ store.Persister = (*GraphRepository)(nil)
