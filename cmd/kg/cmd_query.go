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
	"strings"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/AleutianKG/services/knowledge/query"
)

var queryFlags struct {
	maxHops    int
	paths      bool
	embeddings bool
	export     bool
}

func initQueryFlags() {
	f := queryCmd.Flags()
	f.IntVar(&queryFlags.maxHops, "max-hops", 0, "path length limit (default 2)")
	f.BoolVar(&queryFlags.paths, "paths", false, "include paths between relevant entities")
	f.BoolVar(&queryFlags.embeddings, "embeddings", false, "blend vector similarity into ranking")
	f.BoolVar(&queryFlags.export, "export", false, "include a Cypher statement for the result")
}

func runQuery(cmd *cobra.Command, args []string) error {
	req := query.QueryRequest{
		GraphID:       args[0],
		Query:         strings.Join(args[1:], " "),
		MaxHops:       queryFlags.maxHops,
		IncludePaths:  queryFlags.paths,
		UseEmbeddings: queryFlags.embeddings,
		IncludeExport: queryFlags.export,
	}
	return withApp(cmd, func(ctx context.Context, a *app) error {
		res, err := a.service.Query(ctx, req)
		if err != nil {
			return err
		}
		var labels map[string]string
		if len(res.Paths) > 0 {
			g, err := a.service.Get(ctx, req.GraphID)
			if err != nil {
				return err
			}
			labels = make(map[string]string, len(g.Entities))
			for _, e := range g.Entities {
				labels[e.ID] = e.Label
			}
		}
		return out.queryResult(res, labels)
	})
}
