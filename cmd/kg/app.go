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
	"errors"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/AleutianKG/services/knowledge"
	"github.com/AleutianAI/AleutianKG/services/knowledge/builder"
	"github.com/AleutianAI/AleutianKG/services/knowledge/config"
	"github.com/AleutianAI/AleutianKG/services/knowledge/export"
	"github.com/AleutianAI/AleutianKG/services/knowledge/extract"
	"github.com/AleutianAI/AleutianKG/services/knowledge/policy"
	"github.com/AleutianAI/AleutianKG/services/knowledge/query"
	"github.com/AleutianAI/AleutianKG/services/knowledge/storage/badger"
	"github.com/AleutianAI/AleutianKG/services/knowledge/store"
	"github.com/AleutianAI/AleutianKG/services/knowledge/telemetry"
	"github.com/AleutianAI/AleutianKG/services/knowledge/vector"
	"github.com/AleutianAI/AleutianKG/services/llm"
)

// app owns every long-lived component built from a Config.
type app struct {
	cfg     config.Config
	logger  *slog.Logger
	store   *store.Store
	service *knowledge.Service

	backend llmBackend
	db      *badger.DB
	watcher *extract.RuleWatcher
	neo4j   *export.Neo4jSink
	gcs     *export.GCSSink
	closers []func(context.Context) error
}

// llmBackend is a client that can both generate and embed.
type llmBackend interface {
	llm.LLMClient
	llm.Embedder
}

// newApp wires the service from cfg.
//
// Description:
//
//	Opens badger when storage is enabled, creates the LLM client, the
//	vector index, the extraction rules (optionally hot-reloaded), the
//	sensitive data policy and the export sinks, then assembles builder,
//	query engine, exporter and Service over one store. On error everything
//	opened so far is closed.
func newApp(ctx context.Context, cfg config.Config, logger *slog.Logger, metrics *telemetry.Metrics) (_ *app, err error) {
	a := &app{cfg: cfg, logger: logger}
	defer func() {
		if err != nil {
			_ = a.close(context.Background())
		}
	}()

	storeOpts := []store.Option{store.WithLogger(logger)}
	if cfg.Storage.Enabled {
		bcfg := cfg.Storage.Badger
		bcfg.Logger = logger
		a.db, err = badger.Open(bcfg)
		if err != nil {
			return nil, fmt.Errorf("open storage: %w", err)
		}
		a.closers = append(a.closers, func(context.Context) error { return a.db.Close() })
		storeOpts = append(storeOpts, store.WithPersister(badger.NewGraphRepository(a.db)))
	}
	a.store = store.New(storeOpts...)

	backend, err := newLLMBackend(cfg.LLM)
	if err != nil {
		return nil, err
	}
	a.backend = backend

	rules := extract.NewRules(nil)
	if cfg.Build.RulesFile != "" {
		if cfg.Build.WatchRules {
			a.watcher, err = extract.NewRuleWatcher(cfg.Build.RulesFile, rules, logger)
			if err != nil {
				return nil, err
			}
			a.watcher.Start(ctx)
			a.closers = append(a.closers, func(context.Context) error { a.watcher.Stop(); return nil })
		} else {
			rs, err := extract.LoadRuleSet(cfg.Build.RulesFile)
			if err != nil {
				return nil, err
			}
			rules.Store(rs)
		}
	}

	var smart extract.SmartExtractor
	if backend != nil && cfg.LLM.SmartExtraction {
		smart = extract.NewLLMSmartExtractor(backend, extract.LLMOptions{
			RequestsPerSecond: cfg.LLM.RequestsPerSecond,
		}, logger)
	}
	entities := extract.NewEntityExtractor(rules, smart, logger)
	relations := extract.NewRelationshipExtractor(rules, smart, logger)

	index, err := a.newVectorIndex(ctx)
	if err != nil {
		return nil, err
	}

	builderOpts := []builder.Option{
		builder.WithLogger(logger),
		builder.WithMaxCorpusChars(cfg.Build.MaxCorpusChars),
	}
	engineOpts := []query.Option{query.WithLogger(logger)}
	if action := policy.Action(cfg.Build.SensitiveData); action != policy.ActionAllow {
		engine, err := policy.New()
		if err != nil {
			return nil, err
		}
		builderOpts = append(builderOpts, builder.WithPolicy(engine, action))
	}
	if cfg.Build.DocumentDir != "" {
		builderOpts = append(builderOpts, builder.WithResolver(builder.DirResolver{Root: cfg.Build.DocumentDir}))
	}
	if backend != nil && index != nil {
		builderOpts = append(builderOpts, builder.WithEmbeddings(backend, index))
		engineOpts = append(engineOpts, query.WithEmbeddings(backend, index))
	}
	if backend != nil && cfg.LLM.Answers {
		engineOpts = append(engineOpts, query.WithAnswerGenerator(query.LLMAnswerGenerator{Client: backend}))
	}

	sinks, err := a.newSinks(ctx)
	if err != nil {
		return nil, err
	}
	exportOpts := []export.Option{export.WithLogger(logger)}
	for _, s := range sinks {
		exportOpts = append(exportOpts, export.WithSink(s))
	}

	serviceOpts := []knowledge.Option{
		knowledge.WithLogger(logger),
		knowledge.WithMetrics(metrics),
	}
	if index != nil {
		serviceOpts = append(serviceOpts, knowledge.WithVectorIndex(index))
	}
	a.service = knowledge.NewService(
		a.store,
		builder.New(a.store, entities, relations, builderOpts...),
		query.New(a.store, entities, engineOpts...),
		export.New(a.store, exportOpts...),
		serviceOpts...,
	)
	return a, nil
}

func newLLMBackend(cfg config.LLMConfig) (llmBackend, error) {
	switch cfg.Provider {
	case config.ProviderOpenAI:
		key, err := cfg.APIKey.Reveal()
		if err != nil {
			return nil, fmt.Errorf("openai api key: %w", err)
		}
		client, err := llm.NewOpenAIClient(llm.OpenAIConfig{
			APIKey:         key,
			Model:          cfg.Model,
			EmbeddingModel: cfg.EmbeddingModel,
			BaseURL:        cfg.BaseURL,
		})
		if err != nil {
			return nil, err
		}
		return client, nil
	case config.ProviderOllama:
		client, err := llm.NewOllamaClient(llm.OllamaConfig{
			BaseURL:        cfg.BaseURL,
			Model:          cfg.Model,
			EmbeddingModel: cfg.EmbeddingModel,
			Timeout:        cfg.Timeout,
			KeepAlive:      cfg.KeepAlive,
		})
		if err != nil {
			return nil, err
		}
		return client, nil
	default:
		return nil, nil
	}
}

func (a *app) newVectorIndex(ctx context.Context) (vector.Index, error) {
	if !a.cfg.EmbeddingsEnabled() {
		return nil, nil
	}
	switch a.cfg.Vector.Backend {
	case config.VectorWeaviate:
		client, err := vector.NewWeaviateClient(a.cfg.Vector.WeaviateURL)
		if err != nil {
			return nil, err
		}
		idx := vector.NewWeaviateIndex(client, a.cfg.Vector.ClassName, a.logger)
		if err := idx.EnsureSchema(ctx); err != nil {
			return nil, fmt.Errorf("weaviate schema: %w", err)
		}
		return idx, nil
	default:
		return vector.NewMemoryIndex(), nil
	}
}

func (a *app) newSinks(ctx context.Context) ([]export.Sink, error) {
	var sinks []export.Sink
	if nc := a.cfg.Export.Neo4j; nc != nil {
		c := *nc
		pw, err := a.cfg.Export.Neo4jPassword.Reveal()
		if err != nil {
			return nil, fmt.Errorf("neo4j password: %w", err)
		}
		c.Password = pw
		a.neo4j, err = export.NewNeo4jSink(c)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, a.neo4j.Close)
		sinks = append(sinks, a.neo4j)
	}
	if gc := a.cfg.Export.GCS; gc != nil {
		var err error
		a.gcs, err = export.NewGCSSink(ctx, *gc)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, func(context.Context) error { return a.gcs.Close() })
		sinks = append(sinks, a.gcs)
	}
	return sinks, nil
}

// warmModels preloads local models when a keep-alive is configured.
func (a *app) warmModels(ctx context.Context) error {
	w, ok := a.backend.(interface{ Warm(context.Context) error })
	if !ok || a.cfg.LLM.KeepAlive == "" {
		return nil
	}
	return w.Warm(ctx)
}

// ready reports whether configured backends are reachable.
func (a *app) ready(ctx context.Context) error {
	if a.neo4j != nil {
		if err := a.neo4j.Verify(ctx); err != nil {
			return fmt.Errorf("neo4j: %w", err)
		}
	}
	return nil
}

// close releases resources in reverse order of acquisition.
func (a *app) close(ctx context.Context) error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](ctx); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}

// withApp runs fn against a freshly wired app for one-shot commands.
// Persisted graphs are loaded first so ids from earlier runs resolve.
func withApp(cmd *cobra.Command, fn func(ctx context.Context, a *app) error) error {
	ctx := cmd.Context()
	a, err := newApp(ctx, cfg, logger.Slog(), nil)
	if err != nil {
		return err
	}
	defer func() {
		if err := a.close(context.Background()); err != nil {
			logger.Slog().Warn("close backends failed", "error", err)
		}
	}()
	if cfg.Storage.Enabled {
		if _, err := a.service.Warm(ctx); err != nil {
			return fmt.Errorf("load persisted graphs: %w", err)
		}
	}
	return fn(ctx, a)
}
