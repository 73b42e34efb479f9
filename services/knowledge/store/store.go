// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package store holds knowledge graphs in memory behind per-graph locks,
// optionally backed by a Persister for warm starts.
package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/sync/singleflight"

	"github.com/AleutianAI/AleutianKG/services/knowledge/model"
)

var tracer = otel.Tracer("aleutian.kg.store")

// Persister saves and loads whole graphs.
//
// LoadGraph must return an error wrapping ErrGraphNotFound when id is
// unknown. Implementations must be safe for concurrent use.
type Persister interface {
	SaveGraph(ctx context.Context, g *model.KnowledgeGraph) error
	LoadGraph(ctx context.Context, id string) (*model.KnowledgeGraph, error)
	DeleteGraph(ctx context.Context, id string) error
	ListGraphIDs(ctx context.Context) ([]string, error)
}

// entry is one registered graph and the lock that guards it.
type entry struct {
	mu    sync.RWMutex
	graph *model.KnowledgeGraph
}

// Store is the registry of knowledge graphs.
//
// Description:
//
//	The registry lock guards only the id → entry map and the entity → graph
//	index. Each graph has its own RWMutex: writers (Put over an existing id,
//	Update, Delete) hold it exclusively, readers (Get, View) share it.
//	Callers never receive the stored pointer; Get returns deep copies and
//	Update works on a copy that is swapped in after validation.
//
// Thread Safety:
//
//	Safe for concurrent use.
type Store struct {
	mu          sync.RWMutex
	graphs      map[string]*entry
	entityIndex map[string]string

	persister Persister
	flight    singleflight.Group
	logger    *slog.Logger
}

// Option configures a Store.
type Option func(*Store)

// WithPersister backs the store with p. Put, Update and Delete write
// through; Get and View load unknown ids from p on first access.
func WithPersister(p Persister) Option {
	return func(s *Store) { s.persister = p }
}

// WithLogger sets the store logger. Default: slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(s *Store) {
		if l != nil {
			s.logger = l
		}
	}
}

// New creates an empty Store.
func New(opts ...Option) *Store {
	s := &Store{
		graphs:      make(map[string]*entry),
		entityIndex: make(map[string]string),
		logger:      slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Put validates g and registers a deep copy of it, replacing any graph with
// the same id.
//
// Description:
//
//	Counts are recomputed before validation. With a persister the graph is
//	saved before it becomes visible; a failed save leaves the store
//	unchanged.
//
// Inputs:
//
//	ctx - Cancellation for the persister.
//	g   - Graph to commit. Not retained.
//
// Outputs:
//
//	error - ErrInvalidGraph or ErrInvalidRelationshipReference (wrapped) on
//	        a structural violation, or the persister error.
func (s *Store) Put(ctx context.Context, g *model.KnowledgeGraph) error {
	if g == nil {
		return fmt.Errorf("%w: nil graph", ErrInvalidGraph)
	}
	ctx, span := tracer.Start(ctx, "Store.Put")
	defer span.End()
	span.SetAttributes(attribute.String("graph.id", g.ID))

	cp := g.Clone()
	cp.RecomputeCounts()
	if cp.UpdatedAt.IsZero() {
		cp.UpdatedAt = time.Now().UTC()
	}
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = cp.UpdatedAt
	}
	if err := cp.Validate(); err != nil {
		span.SetStatus(codes.Error, err.Error())
		return err
	}

	e := s.lockEntry(cp.ID)
	defer e.mu.Unlock()

	if s.persister != nil {
		if err := s.persister.SaveGraph(ctx, cp); err != nil {
			if e.graph == nil {
				s.dropEntry(cp.ID, e)
			}
			span.SetStatus(codes.Error, err.Error())
			return fmt.Errorf("persist graph %s: %w", cp.ID, err)
		}
	}
	s.reindex(e.graph, cp)
	e.graph = cp

	s.logger.Debug("graph committed",
		slog.String("graph_id", cp.ID),
		slog.Int("entities", cp.EntityCount),
		slog.Int("relationships", cp.RelationshipCount),
	)
	return nil
}

// Get returns a deep copy of the graph with the given id.
func (s *Store) Get(ctx context.Context, id string) (*model.KnowledgeGraph, error) {
	var out *model.KnowledgeGraph
	err := s.View(ctx, id, func(g *model.KnowledgeGraph) error {
		out = g.Clone()
		return nil
	})
	return out, err
}

// View calls fn with the stored graph under the graph's read lock. fn must
// not modify g or retain it after returning.
func (s *Store) View(ctx context.Context, id string, fn func(g *model.KnowledgeGraph) error) error {
	e, err := s.lookup(ctx, id)
	if err != nil {
		return err
	}
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.graph == nil {
		return fmt.Errorf("%w: %s", ErrGraphNotFound, id)
	}
	return fn(e.graph)
}

// Update applies fn to a copy of the graph under the graph's write lock and
// commits the copy if fn returns nil and the result is valid.
//
// Description:
//
//	Counts and UpdatedAt are set by the store after fn returns. The graph id
//	cannot be changed by fn.
//
// Outputs:
//
//	error - ErrGraphNotFound, the error returned by fn, a validation error,
//	        or a persister error. The stored graph is unchanged on error.
func (s *Store) Update(ctx context.Context, id string, fn func(g *model.KnowledgeGraph) error) error {
	ctx, span := tracer.Start(ctx, "Store.Update")
	defer span.End()
	span.SetAttributes(attribute.String("graph.id", id))

	e, err := s.lookup(ctx, id)
	if err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.graph == nil {
		return fmt.Errorf("%w: %s", ErrGraphNotFound, id)
	}

	cp := e.graph.Clone()
	if err := fn(cp); err != nil {
		return err
	}
	cp.ID = id
	cp.RecomputeCounts()
	cp.UpdatedAt = time.Now().UTC()
	if err := cp.Validate(); err != nil {
		span.SetStatus(codes.Error, err.Error())
		return err
	}
	if s.persister != nil {
		if err := s.persister.SaveGraph(ctx, cp); err != nil {
			span.SetStatus(codes.Error, err.Error())
			return fmt.Errorf("persist graph %s: %w", id, err)
		}
	}
	s.reindex(e.graph, cp)
	e.graph = cp
	return nil
}

// Delete removes a graph and its entities from the store and persister.
func (s *Store) Delete(ctx context.Context, id string) error {
	e, err := s.lookup(ctx, id)
	if err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.graph == nil {
		return fmt.Errorf("%w: %s", ErrGraphNotFound, id)
	}
	if s.persister != nil {
		if err := s.persister.DeleteGraph(ctx, id); err != nil {
			return fmt.Errorf("delete persisted graph %s: %w", id, err)
		}
	}
	s.reindex(e.graph, nil)
	e.graph = nil
	s.dropEntry(id, e)
	return nil
}

// List returns summaries of every graph, newest first. With a persister,
// graphs not yet loaded are loaded first.
func (s *Store) List(ctx context.Context) ([]model.Summary, error) {
	if s.persister != nil {
		ids, err := s.persister.ListGraphIDs(ctx)
		if err != nil {
			return nil, fmt.Errorf("list persisted graphs: %w", err)
		}
		for _, id := range ids {
			if _, err := s.lookup(ctx, id); err != nil && !errors.Is(err, ErrGraphNotFound) {
				return nil, err
			}
		}
	}

	s.mu.RLock()
	entries := make([]*entry, 0, len(s.graphs))
	for _, e := range s.graphs {
		entries = append(entries, e)
	}
	s.mu.RUnlock()

	out := make([]model.Summary, 0, len(entries))
	for _, e := range entries {
		e.mu.RLock()
		if e.graph != nil {
			out = append(out, e.graph.Summarize())
		}
		e.mu.RUnlock()
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

// FindEntityGraph returns the id of the graph owning entityID.
func (s *Store) FindEntityGraph(entityID string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.entityIndex[entityID]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrEntityNotFound, entityID)
	}
	return id, nil
}

// Len returns the number of graphs currently held in memory.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.graphs)
}

// lookup returns the entry for id, loading it from the persister if needed.
// Concurrent loads of the same id share one persister call.
func (s *Store) lookup(ctx context.Context, id string) (*entry, error) {
	s.mu.RLock()
	e, ok := s.graphs[id]
	s.mu.RUnlock()
	if ok {
		return e, nil
	}
	if s.persister == nil {
		return nil, fmt.Errorf("%w: %s", ErrGraphNotFound, id)
	}

	v, err, _ := s.flight.Do(id, func() (interface{}, error) {
		s.mu.RLock()
		e, ok := s.graphs[id]
		s.mu.RUnlock()
		if ok {
			return e, nil
		}

		g, err := s.persister.LoadGraph(ctx, id)
		if err != nil {
			return nil, err
		}
		g.RecomputeCounts()
		if err := g.Validate(); err != nil {
			return nil, fmt.Errorf("persisted graph %s: %w", id, err)
		}

		s.mu.Lock()
		defer s.mu.Unlock()
		if e, ok := s.graphs[id]; ok {
			return e, nil
		}
		e = &entry{graph: g}
		s.graphs[id] = e
		for _, ent := range g.Entities {
			s.entityIndex[ent.ID] = id
		}
		s.logger.Info("graph loaded from persistence",
			slog.String("graph_id", id),
			slog.Int("entities", g.EntityCount),
		)
		return e, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*entry), nil
}

// Warm loads every persisted graph into memory and returns how many were
// loaded. Graphs that fail validation are logged and skipped.
func (s *Store) Warm(ctx context.Context) (int, error) {
	if s.persister == nil {
		return 0, nil
	}
	ids, err := s.persister.ListGraphIDs(ctx)
	if err != nil {
		return 0, fmt.Errorf("list persisted graphs: %w", err)
	}
	loaded := 0
	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return loaded, err
		}
		if _, err := s.lookup(ctx, id); err != nil {
			s.logger.Warn("skipping persisted graph",
				slog.String("graph_id", id),
				slog.String("error", err.Error()),
			)
			continue
		}
		loaded++
	}
	return loaded, nil
}

// reindex replaces old's entities with next's in the entity index. Either
// may be nil.
func (s *Store) reindex(old, next *model.KnowledgeGraph) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if old != nil {
		for _, ent := range old.Entities {
			if s.entityIndex[ent.ID] == old.ID {
				delete(s.entityIndex, ent.ID)
			}
		}
	}
	if next != nil {
		for _, ent := range next.Entities {
			s.entityIndex[ent.ID] = next.ID
		}
	}
}

// lockEntry returns the registered entry for id, creating it if needed,
// with its write lock held. An entry dropped by a concurrent Delete while
// waiting for the lock is never returned.
func (s *Store) lockEntry(id string) *entry {
	for {
		s.mu.Lock()
		e, ok := s.graphs[id]
		if !ok {
			e = &entry{}
			s.graphs[id] = e
		}
		s.mu.Unlock()

		e.mu.Lock()
		s.mu.RLock()
		current := s.graphs[id] == e
		s.mu.RUnlock()
		if current {
			return e
		}
		e.mu.Unlock()
	}
}

// dropEntry unregisters e if it is still the entry for id.
func (s *Store) dropEntry(id string, e *entry) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.graphs[id] == e {
		delete(s.graphs, id)
	}
}
