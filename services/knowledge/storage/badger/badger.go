// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package badger persists knowledge graphs in an embedded BadgerDB.
//
// The store package keeps graphs in memory; this package is its optional
// write-through layer so graphs survive restarts of the server and of
// one-shot CLI invocations.
//
// License: BadgerDB is Apache 2.0 licensed (github.com/dgraph-io/badger).
package badger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/dgraph-io/badger/v4"
)

// Config describes one database.
type Config struct {
	// Dir holds the database files. Ignored when InMemory is set.
	Dir string `yaml:"dir"`

	// InMemory keeps everything in RAM. Tests use this.
	InMemory bool `yaml:"in_memory"`

	// SyncWrites fsyncs every commit.
	SyncWrites bool `yaml:"sync_writes"`

	// GCInterval schedules value log garbage collection. Zero disables it.
	GCInterval time.Duration `yaml:"gc_interval"`

	// GCDiscardRatio is the garbage fraction that triggers a rewrite.
	GCDiscardRatio float64 `yaml:"gc_discard_ratio"`

	// Logger receives badger's own log lines. Nil silences them.
	Logger *slog.Logger `yaml:"-"`
}

// DefaultConfig returns durable settings rooted at dir.
func DefaultConfig(dir string) Config {
	return Config{
		Dir:            dir,
		SyncWrites:     true,
		GCInterval:     10 * time.Minute,
		GCDiscardRatio: 0.5,
	}
}

// InMemoryConfig returns settings for tests: no disk, no GC.
func InMemoryConfig() Config {
	return Config{InMemory: true}
}

// slogAdapter routes badger's printf-style logging into slog.
type slogAdapter struct {
	logger *slog.Logger
}

func (a slogAdapter) Errorf(format string, args ...interface{}) {
	a.logger.Error(fmt.Sprintf(format, args...), slog.String("component", "badger"))
}

func (a slogAdapter) Warningf(format string, args ...interface{}) {
	a.logger.Warn(fmt.Sprintf(format, args...), slog.String("component", "badger"))
}

func (a slogAdapter) Infof(format string, args ...interface{}) {
	a.logger.Debug(fmt.Sprintf(format, args...), slog.String("component", "badger"))
}

func (a slogAdapter) Debugf(format string, args ...interface{}) {
	a.logger.Debug(fmt.Sprintf(format, args...), slog.String("component", "badger"))
}

// DB is an open database plus its background garbage collector.
//
// Thread Safety:
//
//	Safe for concurrent use. Close is idempotent.
type DB struct {
	db     *badger.DB
	cfg    Config
	stop   chan struct{}
	done   chan struct{}
	closed sync.Once
}

// Open opens (creating if needed) the database described by cfg.
//
// Description:
//
//	A persistent database requires Dir; the directory is created with
//	0750 permissions. When GCInterval is positive a goroutine runs value
//	log GC until Close.
//
// Inputs:
//
//	cfg - Database settings.
//
// Outputs:
//
//	*DB   - Open database. Call Close when done.
//	error - Invalid config or badger open failure.
func Open(cfg Config) (*DB, error) {
	var opts badger.Options
	switch {
	case cfg.InMemory:
		opts = badger.DefaultOptions("").WithInMemory(true)
	case cfg.Dir == "":
		return nil, errors.New("badger: dir is required unless in_memory is set")
	default:
		if err := os.MkdirAll(cfg.Dir, 0750); err != nil {
			return nil, fmt.Errorf("create badger dir %s: %w", cfg.Dir, err)
		}
		opts = badger.DefaultOptions(cfg.Dir)
	}
	opts = opts.WithSyncWrites(cfg.SyncWrites).WithNumVersionsToKeep(1)
	if cfg.Logger != nil {
		opts = opts.WithLogger(slogAdapter{logger: cfg.Logger})
	} else {
		opts = opts.WithLogger(nil)
	}

	raw, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger: %w", err)
	}
	d := &DB{
		db:   raw,
		cfg:  cfg,
		stop: make(chan struct{}),
		done: make(chan struct{}),
	}
	if cfg.GCInterval > 0 && !cfg.InMemory {
		go d.collectGarbage()
	} else {
		close(d.done)
	}
	return d, nil
}

// Close stops garbage collection and closes the database.
func (d *DB) Close() error {
	var err error
	d.closed.Do(func() {
		close(d.stop)
		<-d.done
		err = d.db.Close()
	})
	return err
}

// InMemory reports whether the database has no files.
func (d *DB) InMemory() bool {
	return d.cfg.InMemory
}

// Update runs fn in a read-write transaction and commits when fn returns
// nil.
func (d *DB) Update(ctx context.Context, fn func(txn *badger.Txn) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	txn := d.db.NewTransaction(true)
	defer txn.Discard()
	if err := fn(txn); err != nil {
		return err
	}
	return txn.Commit()
}

// View runs fn in a read-only transaction.
func (d *DB) View(ctx context.Context, fn func(txn *badger.Txn) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	txn := d.db.NewTransaction(false)
	defer txn.Discard()
	return fn(txn)
}

func (d *DB) collectGarbage() {
	defer close(d.done)
	ticker := time.NewTicker(d.cfg.GCInterval)
	defer ticker.Stop()
	for {
		select {
		case <-d.stop:
			return
		case <-ticker.C:
			err := d.db.RunValueLogGC(d.cfg.GCDiscardRatio)
			if err != nil && !errors.Is(err, badger.ErrNoRewrite) && d.cfg.Logger != nil {
				d.cfg.Logger.Warn("badger value log gc failed", slog.String("error", err.Error()))
			}
		}
	}
}
