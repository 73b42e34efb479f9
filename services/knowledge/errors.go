// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package knowledge

import (
	"errors"

	"github.com/AleutianAI/AleutianKG/services/knowledge/store"
)

var (
	// ErrInvalidRequest is returned for requests that fail validation
	// before any work is done.
	ErrInvalidRequest = errors.New("invalid request")

	// ErrUnsupportedFormat is returned by Export for unknown formats.
	ErrUnsupportedFormat = errors.New("unsupported export format")

	// ErrGraphNotFound and ErrEntityNotFound are the store sentinels,
	// re-exported so callers need only this package.
	ErrGraphNotFound  = store.ErrGraphNotFound
	ErrEntityNotFound = store.ErrEntityNotFound
)

// Error codes returned in ErrorResponse.Code.
const (
	CodeInvalidRequest   = "INVALID_REQUEST"
	CodeGraphNotFound    = "GRAPH_NOT_FOUND"
	CodeEntityNotFound   = "ENTITY_NOT_FOUND"
	CodeInvalidGraph     = "INVALID_GRAPH"
	CodeSensitiveContent = "SENSITIVE_CONTENT"
	CodeBuildFailed      = "BUILD_FAILED"
	CodeQueryFailed      = "QUERY_FAILED"
	CodeExportFailed     = "EXPORT_FAILED"
	CodeInternal         = "INTERNAL_ERROR"
)
