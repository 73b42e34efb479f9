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
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"

	"github.com/go-openapi/strfmt"
	"github.com/google/uuid"
	"github.com/weaviate/weaviate-go-client/v5/weaviate"
	"github.com/weaviate/weaviate-go-client/v5/weaviate/filters"
	"github.com/weaviate/weaviate-go-client/v5/weaviate/graphql"
	"github.com/weaviate/weaviate/entities/models"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/AleutianAI/AleutianKG/services/knowledge/model"
)

var tracer = otel.Tracer("aleutian.kg.vector")

// DefaultClassName is the Weaviate class holding entity vectors.
const DefaultClassName = "KGEntity"

// WeaviateIndex is an Index backed by a Weaviate class with externally
// supplied vectors.
//
// Object ids are derived from (graph id, entity id), so re-upserting an
// entity overwrites its object.
type WeaviateIndex struct {
	client    *weaviate.Client
	className string
	logger    *slog.Logger
}

// NewWeaviateClient builds a client from a URL such as
// "http://localhost:8080".
func NewWeaviateClient(rawURL string) (*weaviate.Client, error) {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("parse weaviate url: %w", err)
	}
	if parsed.Host == "" {
		return nil, fmt.Errorf("weaviate url %q has no host", rawURL)
	}
	return weaviate.NewClient(weaviate.Config{
		Host:   parsed.Host,
		Scheme: parsed.Scheme,
	})
}

// NewWeaviateIndex wraps client. An empty className means DefaultClassName.
func NewWeaviateIndex(client *weaviate.Client, className string, logger *slog.Logger) *WeaviateIndex {
	if className == "" {
		className = DefaultClassName
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &WeaviateIndex{client: client, className: className, logger: logger}
}

// EntityClass returns the schema of the entity class.
func EntityClass(name string) *models.Class {
	filterable := true
	return &models.Class{
		Class:       name,
		Description: "A knowledge graph entity with an externally computed embedding.",
		Vectorizer:  "none",
		Properties: []*models.Property{
			{
				Name:            "graph_id",
				DataType:        []string{"text"},
				Description:     "Owning knowledge graph.",
				IndexFilterable: &filterable,
				Tokenization:    "field",
			},
			{
				Name:            "entity_id",
				DataType:        []string{"text"},
				Description:     "Entity id within the graph.",
				IndexFilterable: &filterable,
				Tokenization:    "field",
			},
			{
				Name:         "label",
				DataType:     []string{"text"},
				Description:  "Entity label.",
				Tokenization: "word",
			},
			{
				Name:            "entity_type",
				DataType:        []string{"text"},
				Description:     "Entity type.",
				IndexFilterable: &filterable,
				Tokenization:    "field",
			},
		},
	}
}

// EnsureSchema creates the entity class if it does not exist.
func (w *WeaviateIndex) EnsureSchema(ctx context.Context) error {
	if _, err := w.client.Schema().ClassGetter().WithClassName(w.className).Do(ctx); err == nil {
		return nil
	}
	w.logger.Info("creating weaviate class", slog.String("class", w.className))
	if err := w.client.Schema().ClassCreator().WithClass(EntityClass(w.className)).Do(ctx); err != nil {
		return fmt.Errorf("create class %s: %w", w.className, err)
	}
	return nil
}

// ObjectID returns the Weaviate object id of an entity.
func ObjectID(graphID, entityID string) strfmt.UUID {
	return strfmt.UUID(uuid.NewSHA1(uuid.NameSpaceOID, []byte(graphID+"/"+entityID)).String())
}

// Upsert implements Index with one batch request.
func (w *WeaviateIndex) Upsert(ctx context.Context, graphID string, entities []model.Entity) error {
	ctx, span := tracer.Start(ctx, "WeaviateIndex.Upsert")
	defer span.End()

	objects := make([]*models.Object, 0, len(entities))
	for _, e := range entities {
		if len(e.Embedding) == 0 {
			continue
		}
		objects = append(objects, &models.Object{
			Class:  w.className,
			ID:     ObjectID(graphID, e.ID),
			Vector: e.Embedding,
			Properties: map[string]interface{}{
				"graph_id":    graphID,
				"entity_id":   e.ID,
				"label":       e.Label,
				"entity_type": string(e.Type),
			},
		})
	}
	span.SetAttributes(attribute.String("graph.id", graphID), attribute.Int("vector.objects", len(objects)))
	if len(objects) == 0 {
		return nil
	}

	resp, err := w.client.Batch().ObjectsBatcher().WithObjects(objects...).Do(ctx)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("weaviate batch upsert: %w", err)
	}
	failed := 0
	for _, item := range resp {
		if item.Result != nil && item.Result.Errors != nil {
			failed++
		}
	}
	if failed > 0 {
		err := fmt.Errorf("weaviate batch upsert: %d of %d objects failed", failed, len(objects))
		span.SetStatus(codes.Error, err.Error())
		return err
	}
	return nil
}

// Search implements Index with a nearVector query filtered by graph id.
func (w *WeaviateIndex) Search(ctx context.Context, graphID string, vector []float32, k int) ([]Match, error) {
	ctx, span := tracer.Start(ctx, "WeaviateIndex.Search")
	defer span.End()
	if k <= 0 {
		k = 10
	}

	where := filters.Where().
		WithPath([]string{"graph_id"}).
		WithOperator(filters.Equal).
		WithValueString(graphID)
	nearVector := w.client.GraphQL().NearVectorArgBuilder().WithVector(vector)
	fields := []graphql.Field{
		{Name: "graph_id"},
		{Name: "entity_id"},
		{Name: "label"},
		{Name: "_additional", Fields: []graphql.Field{{Name: "certainty"}}},
	}

	resp, err := w.client.GraphQL().Get().
		WithClassName(w.className).
		WithFields(fields...).
		WithWhere(where).
		WithNearVector(nearVector).
		WithLimit(k).
		Do(ctx)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("weaviate search: %w", err)
	}
	matches, err := parseSearchResponse(resp, w.className)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	span.SetAttributes(attribute.Int("vector.matches", len(matches)))
	return matches, nil
}

// DeleteGraph implements Index with a batch delete filtered by graph id.
func (w *WeaviateIndex) DeleteGraph(ctx context.Context, graphID string) error {
	where := filters.Where().
		WithPath([]string{"graph_id"}).
		WithOperator(filters.Equal).
		WithValueString(graphID)
	_, err := w.client.Batch().ObjectsBatchDeleter().
		WithClassName(w.className).
		WithOutput("minimal").
		WithWhere(where).
		Do(ctx)
	if err != nil {
		return fmt.Errorf("weaviate delete graph %s: %w", graphID, err)
	}
	return nil
}

type searchHit struct {
	GraphID    string `json:"graph_id"`
	EntityID   string `json:"entity_id"`
	Label      string `json:"label"`
	Additional struct {
		Certainty float64 `json:"certainty"`
	} `json:"_additional"`
}

// parseSearchResponse decodes {"Get": {"<class>": [...]}}.
func parseSearchResponse(resp *models.GraphQLResponse, className string) ([]Match, error) {
	if resp == nil {
		return nil, errors.New("weaviate search: nil response")
	}
	if len(resp.Errors) > 0 {
		msgs := make([]string, 0, len(resp.Errors))
		for _, e := range resp.Errors {
			if e != nil {
				msgs = append(msgs, e.Message)
			}
		}
		return nil, fmt.Errorf("weaviate search: %s", strings.Join(msgs, "; "))
	}
	raw, err := json.Marshal(resp.Data)
	if err != nil {
		return nil, fmt.Errorf("weaviate search: encode data: %w", err)
	}
	var decoded struct {
		Get map[string][]searchHit `json:"Get"`
	}
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return nil, fmt.Errorf("weaviate search: decode data: %w", err)
	}
	hits := decoded.Get[className]
	out := make([]Match, 0, len(hits))
	for _, h := range hits {
		out = append(out, Match{
			GraphID:  h.GraphID,
			EntityID: h.EntityID,
			Label:    h.Label,
			Score:    h.Additional.Certainty,
		})
	}
	return out, nil
}

var _ Index = (*WeaviateIndex)(nil)
