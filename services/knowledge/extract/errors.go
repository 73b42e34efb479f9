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

import "errors"

var (
	// ErrExtractionBackend wraps failures of a SmartExtractor. It is logged
	// and counted, never returned from Extract.
	ErrExtractionBackend = errors.New("extraction backend error")

	// ErrMalformedResponse indicates an LLM reply that could not be parsed
	// as the requested JSON.
	ErrMalformedResponse = errors.New("malformed extraction response")
)
