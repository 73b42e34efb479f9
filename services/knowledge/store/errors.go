// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package store

import (
	"errors"

	"github.com/AleutianAI/AleutianKG/services/knowledge/model"
)

var (
	// ErrGraphNotFound is returned when a graph id is not registered.
	ErrGraphNotFound = errors.New("graph not found")

	// ErrEntityNotFound is returned when an entity id belongs to no graph.
	ErrEntityNotFound = errors.New("entity not found")

	// ErrInvalidRelationshipReference is returned when a commit would leave
	// a relationship pointing at an entity outside its graph.
	ErrInvalidRelationshipReference = model.ErrInvalidRelationshipReference

	// ErrInvalidGraph is returned when a commit would violate any other
	// structural invariant.
	ErrInvalidGraph = model.ErrInvalidGraph
)
