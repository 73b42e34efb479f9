// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package extract

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/AleutianKG/services/knowledge/model"
)

const extraRulesYAML = `
entities:
  - name: tech_internal
    type: technology
    pattern: '\b(?:Zephyrus|Borealis)\b'
  - name: org_lexicon
    type: organization
    pattern: '\bInitech\b'
relations:
  - name: replaces
    type: derived_from
    language: en
    pattern: '([^.!?\n;,]+?)\s+replaces\s+([^.!?\n;,]+)'
`

func writeRules(t *testing.T, dir, body string) string {
	t.Helper()
	path := filepath.Join(dir, "rules.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestDefaultRules_Compile(t *testing.T) {
	rs := DefaultRules()
	require.NotEmpty(t, rs.Entities)
	require.NotEmpty(t, rs.Relations)
	for _, r := range rs.Entities {
		assert.NotNil(t, r.re, r.Name)
		assert.True(t, r.Type.Valid(), r.Name)
	}
	for _, r := range rs.Relations {
		assert.Equal(t, 2, r.re.NumSubexp(), r.Name)
	}
}

func TestLoadRuleSet_MergesOverDefaults(t *testing.T) {
	path := writeRules(t, t.TempDir(), extraRulesYAML)

	rs, err := LoadRuleSet(path)
	require.NoError(t, err)

	defaults := DefaultRules()
	assert.Len(t, rs.Entities, len(defaults.Entities)+1, "org_lexicon replaced in place, tech_internal appended")
	assert.Len(t, rs.Relations, len(defaults.Relations)+1)

	x := NewEntityExtractor(NewRules(rs), NoopSmartExtractor{}, nil)
	entities, err := x.Extract(context.Background(), "Initech replaces Borealis. OpenAI is unaffected.", EntityOptions{})
	require.NoError(t, err)

	labels := labelsOf(entities)
	assert.Contains(t, labels, "Initech")
	assert.Contains(t, labels, "Borealis")
	assert.NotContains(t, labels, "OpenAI", "built-in org_lexicon was replaced")

	rx := NewRelationshipExtractor(NewRules(rs), NoopSmartExtractor{}, nil)
	rels, err := rx.Extract(context.Background(), "Initech replaces Borealis.", entities, RelationshipOptions{})
	require.NoError(t, err)
	var derived int
	for _, r := range rels {
		if r.Type == model.RelDerivedFrom {
			derived++
		}
	}
	assert.Equal(t, 1, derived)
}

func TestRuleSet_CompileErrors(t *testing.T) {
	tests := []struct {
		name string
		rs   RuleSet
		want string
	}{
		{"unknown entity type", RuleSet{Entities: []EntityRule{{Name: "x", Type: "alien", Pattern: "a"}}}, "unknown entity type"},
		{"bad regex", RuleSet{Entities: []EntityRule{{Name: "x", Type: model.EntityTerm, Pattern: "("}}}, "entity rule"},
		{"one group", RuleSet{Relations: []RelationRule{{Name: "r", Type: model.RelUses, Pattern: "(a) b"}}}, "want 2 capture groups"},
		{"unknown relation", RuleSet{Relations: []RelationRule{{Name: "r", Type: "teleports", Pattern: "(a)(b)"}}}, "unknown relation type"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.rs.Compile()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestLoadRuleSet_Errors(t *testing.T) {
	_, err := LoadRuleSet(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)

	path := writeRules(t, t.TempDir(), "entities: [unterminated")
	_, err = LoadRuleSet(path)
	assert.Error(t, err)
}

func TestEntityRule_NamedGroupSelectsLabel(t *testing.T) {
	rs := &RuleSet{Entities: []EntityRule{{
		Name:    "ticket",
		Type:    model.EntityDocument,
		Pattern: `ticket\s+(?P<entity>[A-Z]+-\d+)`,
	}}}
	require.NoError(t, rs.Compile())

	x := NewEntityExtractor(NewRules(rs), NoopSmartExtractor{}, nil)
	entities, err := x.Extract(context.Background(), "see ticket KG-42 and ticket KG-7", EntityOptions{})
	require.NoError(t, err)
	assert.Equal(t, []string{"KG-42", "KG-7"}, labelsOf(entities))
}

func TestRuleWatcher_Reloads(t *testing.T) {
	dir := t.TempDir()
	path := writeRules(t, dir, "entities: []\n")
	rules := NewRules(nil)

	w, err := NewRuleWatcher(path, rules, nil)
	require.NoError(t, err)
	reloaded := make(chan error, 16)
	w.OnReload = func(err error) { reloaded <- err }

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	w.Start(ctx)
	defer w.Stop()

	require.NoError(t, os.WriteFile(path, []byte(extraRulesYAML), 0o644))
	require.Eventually(t, func() bool {
		return indexEntityRule(rules.Load().Entities, "tech_internal") >= 0
	}, 5*time.Second, 20*time.Millisecond)

	require.NoError(t, os.WriteFile(path, []byte("entities: [broken"), 0o644))
	deadline := time.After(5 * time.Second)
	for failed := false; !failed; {
		select {
		case err := <-reloaded:
			failed = err != nil
		case <-deadline:
			t.Fatal("broken file did not trigger a failed reload")
		}
	}
	assert.GreaterOrEqual(t, indexEntityRule(rules.Load().Entities, "tech_internal"), 0, "previous rules kept")
}
