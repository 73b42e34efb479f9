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
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/AleutianKG/services/knowledge"
	"github.com/AleutianAI/AleutianKG/services/knowledge/builder"
	"github.com/AleutianAI/AleutianKG/services/knowledge/config"
	"github.com/AleutianAI/AleutianKG/services/knowledge/model"
	"github.com/AleutianAI/AleutianKG/services/knowledge/query"
	"github.com/AleutianAI/AleutianKG/services/knowledge/storage/badger"
)

var discard = slog.New(slog.NewTextHandler(io.Discard, nil))

func TestExitCode(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{fmt.Errorf("query: %w", knowledge.ErrGraphNotFound), exitNotFound},
		{knowledge.ErrEntityNotFound, exitNotFound},
		{fmt.Errorf("%w: empty query", knowledge.ErrInvalidRequest), exitUsage},
		{knowledge.ErrUnsupportedFormat, exitUsage},
		{fmt.Errorf("build: %w", builder.ErrSensitiveContent), exitUsage},
		{config.ErrMissingSecret, exitUsage},
		{os.ErrPermission, exitError},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, exitCode(tt.err), tt.err.Error())
	}
}

func TestReadInputs(t *testing.T) {
	texts, err := readInputs(strings.NewReader("OpenAI uses Kubernetes."), nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"OpenAI uses Kubernetes."}, texts)

	_, err = readInputs(strings.NewReader("  \n"), nil)
	assert.Error(t, err)

	dir := t.TempDir()
	a := filepath.Join(dir, "a.txt")
	b := filepath.Join(dir, "b.txt")
	require.NoError(t, os.WriteFile(a, []byte("first"), 0o644))
	require.NoError(t, os.WriteFile(b, []byte("second"), 0o644))
	texts, err = readInputs(nil, []string{a, b})
	require.NoError(t, err)
	assert.Equal(t, []string{"first", "second"}, texts)

	_, err = readInputs(nil, []string{filepath.Join(dir, "missing.txt")})
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestPrinter_Plain(t *testing.T) {
	var buf bytes.Buffer
	p := &printer{out: &buf}

	require.NoError(t, p.summaries(nil))
	assert.Equal(t, "No graphs stored.\n", buf.String())

	buf.Reset()
	require.NoError(t, p.summaries([]model.Summary{{ID: "g1", Name: "infra", EntityCount: 3, RelationshipCount: 2}}))
	assert.Contains(t, buf.String(), "1 graph(s)")
	assert.Contains(t, buf.String(), "g1  infra (3 entities, 2 relationships)")

	buf.Reset()
	res := &query.QueryResult{
		Answer:     "OpenAI uses Kubernetes.",
		Confidence: 0.8,
		Paths:      []query.Path{{"e1", "-[USES]->", "e2"}},
	}
	require.NoError(t, p.queryResult(res, map[string]string{"e1": "OpenAI"}))
	out := buf.String()
	assert.Contains(t, out, "Answer\nOpenAI uses Kubernetes.")
	assert.Contains(t, out, "confidence: 0.80")
	assert.Contains(t, out, "path: OpenAI -[USES]-> e2")
	assert.NotContains(t, out, "\x1b[", "no ANSI escapes when not a terminal")
}

func TestPrinter_JSON(t *testing.T) {
	var buf bytes.Buffer
	p := &printer{out: &buf, json: true}
	p.title("ignored")
	p.success("ignored")
	require.NoError(t, p.summaries([]model.Summary{{ID: "g1"}}))
	assert.True(t, strings.HasPrefix(buf.String(), "[\n  {"))
	assert.Contains(t, buf.String(), `"id": "g1"`)
}

func TestNewApp_PersistsAcrossInstances(t *testing.T) {
	c := config.DefaultConfig()
	c.Storage.Enabled = true
	c.Storage.Badger = badger.DefaultConfig(t.TempDir())
	ctx := context.Background()

	first, err := newApp(ctx, c, discard, nil)
	require.NoError(t, err)
	g, err := first.service.Build(ctx, builder.BuildRequest{
		Query: "OpenAI uses Kubernetes. Kubernetes integrates with Docker.",
	})
	require.NoError(t, err)
	require.NoError(t, first.close(ctx))

	second, err := newApp(ctx, c, discard, nil)
	require.NoError(t, err)
	defer second.close(ctx)
	n, err := second.store.Warm(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	res, err := second.service.Query(ctx, query.QueryRequest{GraphID: g.ID, Query: "What does OpenAI use?"})
	require.NoError(t, err)
	require.NotEmpty(t, res.RelevantEntities)
	assert.Equal(t, "Kubernetes", res.RelevantEntities[0].Label)
	assert.NoError(t, second.ready(ctx))
}

func TestNewApp_RulesFile(t *testing.T) {
	c := config.DefaultConfig()
	c.Build.RulesFile = filepath.Join(t.TempDir(), "missing.yaml")
	a, err := newApp(context.Background(), c, discard, nil)
	assert.Error(t, err)
	assert.Nil(t, a)
}

func TestNewApp_StorageOpenFailure(t *testing.T) {
	blocker := filepath.Join(t.TempDir(), "not-a-dir")
	require.NoError(t, os.WriteFile(blocker, []byte("x"), 0o600))

	c := config.DefaultConfig()
	c.Storage.Enabled = true
	c.Storage.Badger = badger.DefaultConfig(filepath.Join(blocker, "graphs"))

	var a *app
	var err error
	require.NotPanics(t, func() {
		a, err = newApp(context.Background(), c, discard, nil)
	})
	assert.Error(t, err)
	assert.Nil(t, a)
}

func TestNewApp_FailureReleasesStorage(t *testing.T) {
	c := config.DefaultConfig()
	c.Storage.Enabled = true
	c.Storage.Badger = badger.DefaultConfig(t.TempDir())
	c.Build.RulesFile = filepath.Join(t.TempDir(), "missing.yaml")

	_, err := newApp(context.Background(), c, discard, nil)
	require.Error(t, err)

	// The directory lock is free again only if the failed wiring closed it.
	c.Build.RulesFile = ""
	a, err := newApp(context.Background(), c, discard, nil)
	require.NoError(t, err)
	assert.NoError(t, a.close(context.Background()))
}
