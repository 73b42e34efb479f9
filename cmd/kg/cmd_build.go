// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/AleutianKG/services/knowledge/builder"
	"github.com/AleutianAI/AleutianKG/services/knowledge/model"
)

var buildFlags struct {
	name             string
	query            string
	language         string
	entityTypes      []string
	relationTypes    []string
	maxEntities      int
	maxRelationships int
	smart            bool
	infer            bool
	merge            bool
	dedupe           bool
}

func initBuildFlags() {
	f := buildCmd.Flags()
	f.StringVar(&buildFlags.name, "name", "", "graph name (default: derived from the text)")
	f.StringVarP(&buildFlags.query, "query", "q", "", "focus text prepended to the documents")
	f.StringVar(&buildFlags.language, "language", "", "text language, e.g. en or ko (default: detect)")
	f.StringSliceVar(&buildFlags.entityTypes, "entity-types", nil, "only keep these entity types")
	f.StringSliceVar(&buildFlags.relationTypes, "relation-types", nil, "only keep these relationship types")
	f.IntVar(&buildFlags.maxEntities, "max-entities", 0, "entity cap (default 100)")
	f.IntVar(&buildFlags.maxRelationships, "max-relationships", 0, "relationship cap (default 200)")
	f.BoolVar(&buildFlags.smart, "smart", false, "use the configured smart extractor")
	f.BoolVar(&buildFlags.infer, "infer", false, "add inferred relationships")
	f.BoolVar(&buildFlags.merge, "merge", false, "merge entities with similar labels")
	f.BoolVar(&buildFlags.dedupe, "dedupe", false, "drop duplicate relationships")
}

func runBuild(cmd *cobra.Command, args []string) error {
	texts, err := readInputs(cmd.InOrStdin(), args)
	if err != nil {
		return err
	}
	req := builder.BuildRequest{
		Query:                buildFlags.query,
		DocumentTexts:        texts,
		Name:                 buildFlags.name,
		MaxEntities:          buildFlags.maxEntities,
		MaxRelationships:     buildFlags.maxRelationships,
		UseSmartExtraction:   buildFlags.smart,
		InferRelationships:   buildFlags.infer,
		MergeSimilarEntities: buildFlags.merge,
		DedupeRelationships:  buildFlags.dedupe,
		Language:             buildFlags.language,
	}
	for _, t := range buildFlags.entityTypes {
		req.AllowedEntityTypes = append(req.AllowedEntityTypes, model.EntityType(t))
	}
	for _, t := range buildFlags.relationTypes {
		req.AllowedRelationTypes = append(req.AllowedRelationTypes, model.RelationType(t))
	}
	if req.Name == "" && len(args) == 1 {
		req.Name = strings.TrimSuffix(filepath.Base(args[0]), filepath.Ext(args[0]))
	}

	return withApp(cmd, func(ctx context.Context, a *app) error {
		g, err := a.service.Build(ctx, req)
		if err != nil {
			return err
		}
		if err := out.graphSummary(g); err != nil {
			return err
		}
		if !cfg.Storage.Enabled && !out.json {
			out.warn("storage is disabled; pass --data-dir to query this graph later")
		}
		return nil
	})
}

// readInputs returns the contents of each path, or all of r when paths is
// empty.
func readInputs(r io.Reader, paths []string) ([]string, error) {
	if len(paths) == 0 {
		data, err := io.ReadAll(r)
		if err != nil {
			return nil, fmt.Errorf("read stdin: %w", err)
		}
		if strings.TrimSpace(string(data)) == "" {
			return nil, fmt.Errorf("no input: pass files or pipe text on stdin")
		}
		return []string{string(data)}, nil
	}
	texts := make([]string, 0, len(paths))
	for _, p := range paths {
		data, err := os.ReadFile(p)
		if err != nil {
			return nil, err
		}
		texts = append(texts, string(data))
	}
	return texts, nil
}
