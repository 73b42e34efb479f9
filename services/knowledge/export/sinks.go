// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package export

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path"
	"strings"
	"time"

	"cloud.google.com/go/storage"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"google.golang.org/api/option"
)

// Sink receives the Cypher statements of one graph.
type Sink interface {
	Name() string
	Publish(ctx context.Context, graphID string, statements []string) error
}

// Neo4jConfig configures a Neo4jSink.
type Neo4jConfig struct {
	URI      string `yaml:"uri" validate:"required"`
	Username string `yaml:"username"`
	Password string `yaml:"-"`
	Database string `yaml:"database"`

	// MaxTransactionRetryTime bounds driver retries of the write
	// transaction. Zero keeps the driver default.
	MaxTransactionRetryTime time.Duration `yaml:"max_transaction_retry_time"`
}

// Neo4jSink replays exported statements against a Neo4j server.
//
// Thread Safety:
//
//	Safe for concurrent use; the driver pools connections.
type Neo4jSink struct {
	driver   neo4j.DriverWithContext
	database string
}

// NewNeo4jSink creates a driver for cfg. Connectivity is checked lazily by
// the first Publish; call Verify to check it up front.
func NewNeo4jSink(cfg Neo4jConfig) (*Neo4jSink, error) {
	if cfg.URI == "" {
		return nil, errors.New("neo4j sink: uri is required")
	}
	auth := neo4j.NoAuth()
	if cfg.Username != "" {
		auth = neo4j.BasicAuth(cfg.Username, cfg.Password, "")
	}
	driver, err := neo4j.NewDriverWithContext(cfg.URI, auth, func(c *neo4j.Config) {
		if cfg.MaxTransactionRetryTime > 0 {
			c.MaxTransactionRetryTime = cfg.MaxTransactionRetryTime
		}
	})
	if err != nil {
		return nil, fmt.Errorf("neo4j sink: %w", err)
	}
	return &Neo4jSink{driver: driver, database: cfg.Database}, nil
}

// Name implements Sink.
func (n *Neo4jSink) Name() string { return "neo4j" }

// Verify checks that the server is reachable.
func (n *Neo4jSink) Verify(ctx context.Context) error {
	return n.driver.VerifyConnectivity(ctx)
}

// Publish implements Sink. All statements run in one write transaction, so
// a failure leaves the database unchanged.
func (n *Neo4jSink) Publish(ctx context.Context, graphID string, statements []string) error {
	ctx, span := tracer.Start(ctx, "Neo4jSink.Publish")
	defer span.End()

	session := n.driver.NewSession(ctx, neo4j.SessionConfig{
		AccessMode:   neo4j.AccessModeWrite,
		DatabaseName: n.database,
	})
	defer session.Close(ctx)

	_, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		for i, stmt := range statements {
			res, err := tx.Run(ctx, stmt, nil)
			if err != nil {
				return nil, fmt.Errorf("statement %d: %w", i, err)
			}
			if _, err := res.Consume(ctx); err != nil {
				return nil, fmt.Errorf("statement %d: %w", i, err)
			}
		}
		return nil, nil
	})
	if err != nil {
		return fmt.Errorf("neo4j write graph %s: %w", graphID, err)
	}
	return nil
}

// Close releases the driver.
func (n *Neo4jSink) Close(ctx context.Context) error {
	return n.driver.Close(ctx)
}

// GCSConfig configures a GCSSink.
type GCSConfig struct {
	Bucket string `yaml:"bucket" validate:"required"`
	Prefix string `yaml:"prefix"`

	// CredentialsFile is a service account key. Empty uses application
	// default credentials.
	CredentialsFile string `yaml:"credentials_file"`
}

// GCSSink uploads exported statements to gs://<bucket>/<prefix>/<graph>.cypher.
type GCSSink struct {
	client *storage.Client
	bucket string
	prefix string
}

// NewGCSSink creates a storage client for cfg.
func NewGCSSink(ctx context.Context, cfg GCSConfig) (*GCSSink, error) {
	if cfg.Bucket == "" {
		return nil, errors.New("gcs sink: bucket is required")
	}
	var opts []option.ClientOption
	if cfg.CredentialsFile != "" {
		if _, err := os.Stat(cfg.CredentialsFile); err != nil {
			return nil, fmt.Errorf("gcs sink: service account key: %w", err)
		}
		opts = append(opts, option.WithCredentialsFile(cfg.CredentialsFile))
	}
	client, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("gcs sink: create client: %w", err)
	}
	return &GCSSink{client: client, bucket: cfg.Bucket, prefix: cfg.Prefix}, nil
}

// Name implements Sink.
func (g *GCSSink) Name() string { return "gcs" }

// ObjectName returns the object path for graphID under prefix.
func ObjectName(prefix, graphID string) string {
	return path.Join(strings.Trim(prefix, "/"), graphID+".cypher")
}

// URL returns the gs:// location Publish writes graphID to.
func (g *GCSSink) URL(graphID string) string {
	return fmt.Sprintf("gs://%s/%s", g.bucket, ObjectName(g.prefix, graphID))
}

// Publish implements Sink.
func (g *GCSSink) Publish(ctx context.Context, graphID string, statements []string) error {
	ctx, span := tracer.Start(ctx, "GCSSink.Publish")
	defer span.End()

	name := ObjectName(g.prefix, graphID)
	w := g.client.Bucket(g.bucket).Object(name).NewWriter(ctx)
	w.ContentType = "text/plain; charset=utf-8"
	w.CacheControl = "no-cache, no-store, must-revalidate"
	for _, stmt := range statements {
		if _, err := w.Write([]byte(stmt + "\n")); err != nil {
			_ = w.Close()
			return fmt.Errorf("write gs://%s/%s: %w", g.bucket, name, err)
		}
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("close gs://%s/%s: %w", g.bucket, name, err)
	}
	return nil
}

// Close releases the storage client.
func (g *GCSSink) Close() error {
	return g.client.Close()
}

var (
	_ Sink = (*Neo4jSink)(nil)
	_ Sink = (*GCSSink)(nil)
)
