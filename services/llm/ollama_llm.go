// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var tracer = otel.Tracer("aleutian.kg.llm.ollama")

// OllamaConfig configures OllamaClient.
type OllamaConfig struct {
	BaseURL        string
	Model          string
	EmbeddingModel string
	Timeout        time.Duration

	// KeepAlive is sent with every request. Empty uses the server default.
	KeepAlive string
}

// OllamaClient implements LLMClient and Embedder against a local Ollama
// server.
type OllamaClient struct {
	httpClient     *http.Client
	baseURL        string
	model          string
	embeddingModel string
	keepAlive      string
}

type ollamaGenerateRequest struct {
	Model   string         `json:"model"`
	Prompt  string         `json:"prompt"`
	System  string         `json:"system,omitempty"`
	Format  string         `json:"format,omitempty"`
	Stream    bool           `json:"stream"`
	KeepAlive string         `json:"keep_alive,omitempty"`
	Options   map[string]any `json:"options,omitempty"`
}

type ollamaGenerateResponse struct {
	Model    string `json:"model"`
	Response string `json:"response"`
	Done     bool   `json:"done"`
}

type ollamaEmbedRequest struct {
	Model     string   `json:"model"`
	Input     []string `json:"input"`
	KeepAlive string   `json:"keep_alive,omitempty"`
}

type ollamaEmbedResponse struct {
	Embeddings [][]float32 `json:"embeddings"`
}

// NewOllamaClient creates a client. Model defaults to "llama3.2" and
// EmbeddingModel to "nomic-embed-text".
func NewOllamaClient(cfg OllamaConfig) (*OllamaClient, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("ollama: base url is required")
	}
	if cfg.Model == "" {
		cfg.Model = "llama3.2"
	}
	if cfg.EmbeddingModel == "" {
		cfg.EmbeddingModel = "nomic-embed-text"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 2 * time.Minute
	}
	baseURL := strings.TrimSuffix(cfg.BaseURL, "/")
	slog.Info("Initializing Ollama client", "base_url", baseURL, "model", cfg.Model)
	return &OllamaClient{
		httpClient:     &http.Client{Timeout: cfg.Timeout},
		baseURL:        baseURL,
		model:          cfg.Model,
		embeddingModel: cfg.EmbeddingModel,
		keepAlive:      cfg.KeepAlive,
	}, nil
}

// Generate implements LLMClient.
func (o *OllamaClient) Generate(ctx context.Context, prompt string, params GenerationParams) (string, error) {
	ctx, span := tracer.Start(ctx, "OllamaClient.Generate")
	defer span.End()
	span.SetAttributes(attribute.String("llm.model", o.model))

	options := map[string]any{
		"temperature": float32(0.2),
		"top_k":       20,
		"top_p":       float32(0.9),
		"num_predict": 2048,
	}
	if params.Temperature != nil {
		options["temperature"] = *params.Temperature
	}
	if params.TopK != nil {
		options["top_k"] = *params.TopK
	}
	if params.TopP != nil {
		options["top_p"] = *params.TopP
	}
	if params.MaxTokens != nil {
		options["num_predict"] = *params.MaxTokens
	}
	if len(params.Stop) > 0 {
		options["stop"] = params.Stop
	}
	payload := ollamaGenerateRequest{
		Model:   o.model,
		Prompt:  prompt,
		System:  params.System,
		Stream:    false,
		KeepAlive: o.keepAlive,
		Options:   options,
	}
	if params.JSON {
		payload.Format = "json"
	}

	var resp ollamaGenerateResponse
	if err := o.post(ctx, span, "/api/generate", payload, &resp); err != nil {
		return "", err
	}
	if resp.Response == "" {
		return "", ErrEmptyResponse
	}
	return resp.Response, nil
}

// Embed implements Embedder.
func (o *OllamaClient) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	ctx, span := tracer.Start(ctx, "OllamaClient.Embed")
	defer span.End()
	span.SetAttributes(
		attribute.String("llm.model", o.embeddingModel),
		attribute.Int("llm.inputs", len(texts)),
	)

	var resp ollamaEmbedResponse
	if err := o.post(ctx, span, "/api/embed", ollamaEmbedRequest{Model: o.embeddingModel, Input: texts, KeepAlive: o.keepAlive}, &resp); err != nil {
		return nil, err
	}
	if len(resp.Embeddings) != len(texts) {
		return nil, fmt.Errorf("ollama embed: got %d vectors for %d inputs", len(resp.Embeddings), len(texts))
	}
	return resp.Embeddings, nil
}

// Warm loads the generation and embedding models so the first real
// request does not pay the load time. An empty prompt or input makes
// Ollama load a model without running it.
func (o *OllamaClient) Warm(ctx context.Context) error {
	ctx, span := tracer.Start(ctx, "OllamaClient.Warm")
	defer span.End()
	start := time.Now()

	var gen ollamaGenerateResponse
	if err := o.post(ctx, span, "/api/generate", ollamaGenerateRequest{
		Model:     o.model,
		KeepAlive: o.keepAlive,
	}, &gen); err != nil {
		return fmt.Errorf("warm %s: %w", o.model, err)
	}
	var emb ollamaEmbedResponse
	if err := o.post(ctx, span, "/api/embed", ollamaEmbedRequest{
		Model:     o.embeddingModel,
		Input:     []string{},
		KeepAlive: o.keepAlive,
	}, &emb); err != nil {
		return fmt.Errorf("warm %s: %w", o.embeddingModel, err)
	}
	slog.Info("Ollama models warmed",
		"model", o.model,
		"embedding_model", o.embeddingModel,
		"keep_alive", o.keepAlive,
		"duration", time.Since(start),
	)
	return nil
}

func (o *OllamaClient) post(ctx context.Context, span trace.Span, path string, payload, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return o.fail(span, fmt.Errorf("marshal ollama request: %w", err))
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, o.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return o.fail(span, fmt.Errorf("create ollama request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := o.httpClient.Do(req)
	if err != nil {
		return o.fail(span, fmt.Errorf("ollama %s: %w", path, err))
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return o.fail(span, fmt.Errorf("read ollama response: %w", err))
	}
	if resp.StatusCode != http.StatusOK {
		if resp.StatusCode == http.StatusNotFound && strings.Contains(string(respBody), "not found") {
			return o.fail(span, fmt.Errorf("ollama model not found, run 'ollama pull %s'", o.model))
		}
		return o.fail(span, fmt.Errorf("ollama %s failed with status %d: %s", path, resp.StatusCode, string(respBody)))
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return o.fail(span, fmt.Errorf("parse ollama response: %w", err))
	}
	return nil
}

func (o *OllamaClient) fail(span trace.Span, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	slog.Error("Ollama call failed", "error", err)
	return err
}

var (
	_ LLMClient = (*OllamaClient)(nil)
	_ Embedder  = (*OllamaClient)(nil)
)
