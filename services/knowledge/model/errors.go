// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package model

import "errors"

var (
	// ErrUnknownEntityType is returned when parsing an unrecognized entity type.
	ErrUnknownEntityType = errors.New("unknown entity type")

	// ErrUnknownRelationType is returned when parsing an unrecognized relation type.
	ErrUnknownRelationType = errors.New("unknown relation type")

	// ErrInvalidRelationshipReference indicates a relationship whose source
	// or target id is not an entity of the same graph.
	ErrInvalidRelationshipReference = errors.New("relationship references unknown entity")

	// ErrInvalidGraph indicates a graph violating a structural invariant
	// other than a dangling relationship reference.
	ErrInvalidGraph = errors.New("invalid graph")
)
