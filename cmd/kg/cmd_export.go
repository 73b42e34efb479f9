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

	"github.com/spf13/cobra"

	"github.com/AleutianAI/AleutianKG/services/knowledge"
)

var exportFlags struct {
	format            string
	includeProperties bool
	publish           bool
}

func initExportFlags() {
	f := exportCmd.Flags()
	f.StringVarP(&exportFlags.format, "format", "f", knowledge.FormatCypher, "cypher or json")
	f.BoolVar(&exportFlags.includeProperties, "include-properties", false, "emit entity and relationship properties")
	f.BoolVar(&exportFlags.publish, "publish", false, "also send the Cypher to the configured sinks")
}

func runExport(cmd *cobra.Command, args []string) error {
	graphID := args[0]
	return withApp(cmd, func(ctx context.Context, a *app) error {
		data, err := a.service.Export(ctx, graphID, exportFlags.format, exportFlags.includeProperties)
		if err != nil {
			return err
		}
		if _, err := fmt.Fprintln(cmd.OutOrStdout(), string(data)); err != nil {
			return err
		}
		if !exportFlags.publish {
			return nil
		}
		if err := a.service.Publish(ctx, graphID, exportFlags.includeProperties); err != nil {
			return err
		}
		out.status("Published " + graphID)
		return nil
	})
}

func runList(cmd *cobra.Command, _ []string) error {
	return withApp(cmd, func(ctx context.Context, a *app) error {
		list, err := a.service.List(ctx)
		if err != nil {
			return err
		}
		return out.summaries(list)
	})
}
