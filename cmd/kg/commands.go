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
	"fmt"
	"os"
	"runtime"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/AleutianKG/pkg/logging"
	"github.com/AleutianAI/AleutianKG/services/knowledge/config"
)

// Set at build time with -ldflags "-X main.version=... -X main.commit=...".
var (
	version = "dev"
	commit  = "none"
)

// Persistent flags.
var (
	configPath string
	dataDir    string
	jsonOutput bool
	logLevel   string
)

// Populated by loadConfig before every subcommand runs.
var (
	cfg    config.Config
	logger *logging.Logger
	out    *printer
)

var (
	rootCmd = &cobra.Command{
		Use:   "kg",
		Short: "Build and query knowledge graphs from text",
		Long: `kg extracts entities and relationships from text into a knowledge
graph, answers questions against it, and exports it as Cypher or JSON.

Run "kg serve" for the HTTP API, or use the one-shot commands. Pass
--data-dir to keep graphs between invocations.`,
		SilenceUsage:      true,
		SilenceErrors:     true,
		PersistentPreRunE: loadConfig,
	}

	serveCmd = &cobra.Command{
		Use:   "serve",
		Short: "Serve the knowledge graph HTTP API",
		Args:  cobra.NoArgs,
		RunE:  runServe, // Defined in cmd_serve.go
	}

	buildCmd = &cobra.Command{
		Use:   "build [file...]",
		Short: "Build a graph from files, or from stdin when no files are given",
		RunE:  runBuild, // Defined in cmd_build.go
	}

	queryCmd = &cobra.Command{
		Use:   "query <graph-id> <question>",
		Short: "Answer a question against a stored graph",
		Args:  cobra.MinimumNArgs(2),
		RunE:  runQuery, // Defined in cmd_query.go
	}

	exportCmd = &cobra.Command{
		Use:   "export <graph-id>",
		Short: "Print a stored graph as Cypher or JSON",
		Args:  cobra.ExactArgs(1),
		RunE:  runExport, // Defined in cmd_export.go
	}

	listCmd = &cobra.Command{
		Use:     "list",
		Short:   "List stored graphs",
		Aliases: []string{"ls"},
		Args:    cobra.NoArgs,
		RunE:    runList, // Defined in cmd_export.go
	}

	configCmd = &cobra.Command{
		Use:   "config",
		Short: "Manage the kg configuration file",
		// The file may not exist yet.
		PersistentPreRunE: func(*cobra.Command, []string) error {
			out = newPrinter(os.Stdout, jsonOutput)
			return nil
		},
	}
	configInitCmd = &cobra.Command{
		Use:   "init [path]",
		Short: "Write a default configuration file",
		Args:  cobra.MaximumNArgs(1),
		RunE:  runConfigInit,
	}

	versionCmd = &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "kg %s (commit %s, %s)\n", version, commit, runtime.Version())
		},
	}
)

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVarP(&configPath, "config", "c", "", "config file (default $"+config.EnvConfigPath+")")
	pf.StringVar(&dataDir, "data-dir", "", "persist graphs in this directory")
	pf.BoolVar(&jsonOutput, "json", false, "print machine-readable JSON")
	pf.StringVar(&logLevel, "log-level", "", "debug, info, warn or error")

	initBuildFlags()
	initQueryFlags()
	initExportFlags()

	configCmd.AddCommand(configInitCmd)
	rootCmd.AddCommand(serveCmd, buildCmd, queryCmd, exportCmd, listCmd, configCmd, versionCmd)
}

// loadConfig reads the config file and applies persistent flag overrides.
func loadConfig(cmd *cobra.Command, _ []string) error {
	out = newPrinter(os.Stdout, jsonOutput)

	var err error
	cfg, err = config.Load(configPath)
	if err != nil {
		return err
	}
	if dataDir != "" {
		cfg.Storage.Enabled = true
		cfg.Storage.Badger.Dir = dataDir
		cfg.Storage.Badger.InMemory = false
	}
	if logLevel != "" {
		if _, ok := logging.ParseLevel(logLevel); !ok {
			return fmt.Errorf("%w: log level %q", config.ErrInvalidConfig, logLevel)
		}
		cfg.Logging.Level = logLevel
	}
	cfg.Telemetry.ServiceVersion = version
	logger = logging.New(cfg.LoggerConfig("kg"))
	return nil
}

func runConfigInit(cmd *cobra.Command, args []string) error {
	path := configPath
	if len(args) == 1 {
		path = args[0]
	}
	if path == "" {
		path = "kg.yaml"
	}
	if _, err := os.Stat(path); err == nil {
		out.warn(path + " already exists, leaving it unchanged")
		return nil
	}
	if err := config.WriteDefault(path); err != nil {
		return err
	}
	out.success("Config written to " + path)
	return nil
}
