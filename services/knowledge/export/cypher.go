// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package export renders stored graphs as Cypher or JSON and publishes
// them to external sinks.
package export

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"strings"
	"unicode"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/AleutianAI/AleutianKG/services/knowledge/model"
	"github.com/AleutianAI/AleutianKG/services/knowledge/store"
)

var tracer = otel.Tracer("aleutian.kg.export")

// Format names accepted by the HTTP and CLI surfaces.
const (
	FormatCypher = "cypher"
	FormatJSON   = "json"
)

// Exporter renders graphs held by a store.
type Exporter struct {
	store  *store.Store
	sinks  []Sink
	logger *slog.Logger
}

// Option configures an Exporter.
type Option func(*Exporter)

// WithSink adds a sink that Publish writes to.
func WithSink(s Sink) Option {
	return func(e *Exporter) { e.sinks = append(e.sinks, s) }
}

// WithLogger sets the exporter logger.
func WithLogger(l *slog.Logger) Option {
	return func(e *Exporter) {
		if l != nil {
			e.logger = l
		}
	}
}

// New creates an Exporter over s.
func New(s *store.Store, opts ...Option) *Exporter {
	e := &Exporter{store: s, logger: slog.Default()}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// CypherStatements renders graphID as one CREATE statement per entity
// followed by one MATCH ... CREATE statement per relationship.
//
// Description:
//
//	Nodes carry the entity type as label and always have id and label
//	properties. With includeProperties, entity and relationship Properties
//	follow in sorted key order, keys reduced to [A-Za-z0-9_]. Strings are
//	double-quoted with backslashes and quotes escaped, so the output is
//	byte-identical for identical graphs.
//
// Outputs:
//
//	[]string - len(entities) + len(relationships) statements, each ending
//	           in ";".
//	error    - store.ErrGraphNotFound for unknown ids.
func (e *Exporter) CypherStatements(ctx context.Context, graphID string, includeProperties bool) ([]string, error) {
	ctx, span := tracer.Start(ctx, "Exporter.CypherStatements")
	defer span.End()
	span.SetAttributes(attribute.String("graph.id", graphID))

	var out []string
	err := e.store.View(ctx, graphID, func(g *model.KnowledgeGraph) error {
		out = Cypher(g, includeProperties)
		return nil
	})
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	span.SetAttributes(attribute.Int("export.statements", len(out)))
	return out, nil
}

// ExportCypher is CypherStatements joined by newlines.
func (e *Exporter) ExportCypher(ctx context.Context, graphID string, includeProperties bool) (string, error) {
	stmts, err := e.CypherStatements(ctx, graphID, includeProperties)
	if err != nil {
		return "", err
	}
	return strings.Join(stmts, "\n"), nil
}

// ExportJSON returns the graph as indented JSON.
func (e *Exporter) ExportJSON(ctx context.Context, graphID string) ([]byte, error) {
	var out []byte
	err := e.store.View(ctx, graphID, func(g *model.KnowledgeGraph) error {
		var err error
		out, err = json.MarshalIndent(g, "", "  ")
		return err
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Publish renders graphID once and writes it to every configured sink.
// Sinks run in order; the first failure stops publishing.
func (e *Exporter) Publish(ctx context.Context, graphID string, includeProperties bool) error {
	if len(e.sinks) == 0 {
		return nil
	}
	stmts, err := e.CypherStatements(ctx, graphID, includeProperties)
	if err != nil {
		return err
	}
	for _, s := range e.sinks {
		if err := s.Publish(ctx, graphID, stmts); err != nil {
			return fmt.Errorf("publish to %s: %w", s.Name(), err)
		}
		e.logger.Info("graph published",
			slog.String("graph_id", graphID),
			slog.String("sink", s.Name()),
			slog.Int("statements", len(stmts)),
		)
	}
	return nil
}

// Cypher renders g. See CypherStatements.
func Cypher(g *model.KnowledgeGraph, includeProperties bool) []string {
	types := make(map[string]model.EntityType, len(g.Entities))
	out := make([]string, 0, len(g.Entities)+len(g.Relationships))

	for _, ent := range g.Entities {
		types[ent.ID] = ent.Type
		props := []string{"id: " + Quote(ent.ID), "label: " + Quote(ent.Label)}
		if includeProperties {
			props = append(props, "confidence: "+formatFloat(ent.Confidence))
			props = append(props, renderProperties(ent.Properties, "id", "label", "confidence")...)
		}
		out = append(out, fmt.Sprintf("CREATE (:%s {%s});", nodeLabel(ent.Type), strings.Join(props, ", ")))
	}

	for _, r := range g.Relationships {
		var props []string
		if includeProperties {
			props = append(props,
				"confidence: "+formatFloat(r.Confidence),
				"weight: "+formatFloat(r.Weight),
			)
			if r.Inferred {
				props = append(props, "inferred: true")
			}
			props = append(props, renderProperties(r.Properties, "confidence", "weight", "inferred")...)
		}
		body := ""
		if len(props) > 0 {
			body = " {" + strings.Join(props, ", ") + "}"
		}
		out = append(out, fmt.Sprintf(
			"MATCH (a:%s {id: %s}) MATCH (b:%s {id: %s}) CREATE (a)-[:%s%s]->(b);",
			nodeLabel(types[r.SourceID]), Quote(r.SourceID),
			nodeLabel(types[r.TargetID]), Quote(r.TargetID),
			r.Type.CypherType(), body,
		))
	}
	return out
}

// Quote returns s as a double-quoted Cypher string literal.
func Quote(s string) string {
	var sb strings.Builder
	sb.Grow(len(s) + 2)
	sb.WriteByte('"')
	for _, r := range s {
		switch r {
		case '\\':
			sb.WriteString(`\\`)
		case '"':
			sb.WriteString(`\"`)
		case '\n':
			sb.WriteString(`\n`)
		case '\r':
			sb.WriteString(`\r`)
		case '\t':
			sb.WriteString(`\t`)
		default:
			sb.WriteRune(r)
		}
	}
	sb.WriteByte('"')
	return sb.String()
}

// SanitizeKey reduces a property key to letters, digits and underscores,
// prefixing "p_" when it would otherwise be empty or start with a digit.
func SanitizeKey(k string) string {
	var sb strings.Builder
	for _, r := range k {
		if r < unicode.MaxASCII && (unicode.IsLetter(r) || unicode.IsDigit(r)) || r == '_' {
			sb.WriteRune(r)
		} else {
			sb.WriteByte('_')
		}
	}
	out := sb.String()
	if out == "" || unicode.IsDigit(rune(out[0])) {
		out = "p_" + out
	}
	return out
}

// renderProperties sorts props by sanitized key and drops keys colliding
// with reserved ones.
func renderProperties(props map[string]string, reserved ...string) []string {
	if len(props) == 0 {
		return nil
	}
	taken := make(map[string]struct{}, len(props)+len(reserved))
	for _, r := range reserved {
		taken[r] = struct{}{}
	}
	keys := make([]string, 0, len(props))
	for k := range props {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]string, 0, len(keys))
	for _, k := range keys {
		clean := SanitizeKey(k)
		if _, dup := taken[clean]; dup {
			continue
		}
		taken[clean] = struct{}{}
		out = append(out, clean+": "+Quote(props[k]))
	}
	return out
}

func nodeLabel(t model.EntityType) string {
	if !t.Valid() {
		t = model.EntityConcept
	}
	return t.CypherLabel()
}

func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}
