// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package llm provides the text-generation and embedding backends used by
// LLM-assisted extraction, answer generation, and the vector index.
package llm

import (
	"context"
	"errors"
)

// ErrEmptyResponse is returned when a backend answers without content.
var ErrEmptyResponse = errors.New("llm returned no content")

// GenerationParams tunes one generation call. Nil fields use the backend
// default.
type GenerationParams struct {
	Temperature *float32 `json:"temperature"`
	TopK        *int     `json:"top_k"`
	TopP        *float32 `json:"top_p"`
	MaxTokens   *int     `json:"max_tokens"`
	Stop        []string `json:"stop"`

	// System overrides the system prompt where the backend supports one.
	System string `json:"system,omitempty"`

	// JSON asks the backend to constrain output to a JSON object.
	JSON bool `json:"json,omitempty"`
}

// LLMClient generates text from a prompt.
type LLMClient interface {
	Generate(ctx context.Context, prompt string, params GenerationParams) (string, error)
}

// Embedder turns texts into vectors. The result has one vector per input,
// in input order.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

// Ptr returns a pointer to v, for filling GenerationParams.
func Ptr[T any](v T) *T {
	return &v
}
