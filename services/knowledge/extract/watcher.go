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
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// RuleWatcher reloads a YAML rule file into a Rules holder whenever the
// file changes. A file that fails to parse leaves the previous rules
// active.
type RuleWatcher struct {
	path     string
	rules    *Rules
	watcher  *fsnotify.Watcher
	debounce time.Duration
	logger   *slog.Logger

	// OnReload, if set, is called after every reload attempt.
	OnReload func(err error)

	done     chan struct{}
	stopOnce sync.Once
}

// NewRuleWatcher loads path once into rules and prepares a watcher on its
// directory. The directory is watched rather than the file so editors that
// replace the file on save are handled.
func NewRuleWatcher(path string, rules *Rules, logger *slog.Logger) (*RuleWatcher, error) {
	if logger == nil {
		logger = slog.Default()
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve rules path: %w", err)
	}
	rs, err := LoadRuleSet(abs)
	if err != nil {
		return nil, err
	}
	rules.Store(rs)

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create watcher: %w", err)
	}
	if err := w.Add(filepath.Dir(abs)); err != nil {
		w.Close()
		return nil, fmt.Errorf("watch %s: %w", filepath.Dir(abs), err)
	}
	return &RuleWatcher{
		path:     abs,
		rules:    rules,
		watcher:  w,
		debounce: 100 * time.Millisecond,
		logger:   logger,
		done:     make(chan struct{}),
	}, nil
}

// Start processes file events until ctx is cancelled or Stop is called.
func (w *RuleWatcher) Start(ctx context.Context) {
	go w.loop(ctx)
}

// Stop releases the watcher. Safe to call more than once.
func (w *RuleWatcher) Stop() {
	w.stopOnce.Do(func() {
		close(w.done)
		w.watcher.Close()
	})
}

func (w *RuleWatcher) loop(ctx context.Context) {
	var timerC <-chan time.Time
	for {
		select {
		case <-ctx.Done():
			w.Stop()
			return
		case <-w.done:
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != w.path {
				continue
			}
			if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) || event.Has(fsnotify.Rename) {
				timerC = time.After(w.debounce)
			}
		case <-timerC:
			timerC = nil
			w.reload()
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Warn("rule watcher error", slog.String("error", err.Error()))
		}
	}
}

func (w *RuleWatcher) reload() {
	rs, err := LoadRuleSet(w.path)
	if err != nil {
		w.logger.Warn("rule reload failed, keeping previous rules",
			slog.String("path", w.path),
			slog.String("error", err.Error()),
		)
	} else {
		w.rules.Store(rs)
		w.logger.Info("extraction rules reloaded",
			slog.String("path", w.path),
			slog.Int("entity_rules", len(rs.Entities)),
			slog.Int("relation_rules", len(rs.Relations)),
		)
	}
	if w.OnReload != nil {
		w.OnReload(err)
	}
}
