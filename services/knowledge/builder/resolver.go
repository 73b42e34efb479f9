// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package builder

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// ErrDocumentNotFound is returned by resolvers for unknown document ids.
var ErrDocumentNotFound = errors.New("document not found")

// DocumentResolver turns a document id into its text.
//
// Implementations must be safe for concurrent use; the builder resolves
// several ids at once.
type DocumentResolver interface {
	Resolve(ctx context.Context, id string) (string, error)
}

// StaticResolver resolves ids from a fixed map.
type StaticResolver map[string]string

// Resolve implements DocumentResolver.
func (r StaticResolver) Resolve(ctx context.Context, id string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	text, ok := r[id]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrDocumentNotFound, id)
	}
	return text, nil
}

// DirResolver resolves an id to the contents of <Root>/<id>. Ids may not
// escape Root.
type DirResolver struct {
	Root string
}

// Resolve implements DocumentResolver.
func (r DirResolver) Resolve(ctx context.Context, id string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	clean := filepath.Clean("/" + id)
	path := filepath.Join(r.Root, clean)
	if !strings.HasPrefix(path, filepath.Clean(r.Root)+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: %s", ErrDocumentNotFound, id)
	}
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return "", fmt.Errorf("%w: %s", ErrDocumentNotFound, id)
	}
	if err != nil {
		return "", fmt.Errorf("read document %s: %w", id, err)
	}
	return string(data), nil
}
