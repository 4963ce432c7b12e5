// Copyright (C) 2026 CaseForge AI (dev@caseforge.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package llm provides completion and embedding clients for the generation
// pipeline.
//
// Two backends are supported: OpenAI-compatible APIs (via go-openai) and
// Ollama. Both implement CompletionClient; provider selection is driven by an
// explicit ProviderConfig value passed at construction time. Components never
// read provider settings from the environment.
package llm

import (
	"context"
	"fmt"
)

// GenerationParams holds optional sampling parameters for a completion call.
// Nil fields use the backend's defaults.
type GenerationParams struct {
	Temperature *float32 `json:"temperature"`
	TopP        *float32 `json:"top_p"`
	MaxTokens   *int     `json:"max_tokens"`
	Stop        []string `json:"stop"`
}

// StreamEventType discriminates events delivered to a StreamCallback.
type StreamEventType string

const (
	// StreamEventToken carries an incremental text fragment.
	StreamEventToken StreamEventType = "token"
	// StreamEventDone signals normal end of stream.
	StreamEventDone StreamEventType = "done"
	// StreamEventError carries a backend-reported error message.
	StreamEventError StreamEventType = "error"
)

// StreamEvent is a single event emitted during a streaming completion.
type StreamEvent struct {
	Type    StreamEventType
	Content string
	Error   string
}

// StreamCallback receives stream events in arrival order. Returning a non-nil
// error stops the stream and propagates the error to the caller.
type StreamCallback func(event StreamEvent) error

// CompletionClient defines the contract for any LLM completion backend.
//
// Complete performs a single blocking call and returns the full response text.
// CompleteStream delivers the response incrementally through the callback and
// returns once the stream finishes or the context is cancelled.
type CompletionClient interface {
	Complete(ctx context.Context, systemPrompt, userPrompt string, params GenerationParams) (string, error)
	CompleteStream(ctx context.Context, systemPrompt, userPrompt string, params GenerationParams, callback StreamCallback) error
}

// Embedder computes a vector embedding for a piece of text.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// ProviderConfig selects and configures an LLM backend. It is an explicit
// value: callers build it once at the composition root and pass it down.
type ProviderConfig struct {
	// Backend selects the provider. Valid values: "openai", "ollama".
	Backend string

	// Model is the completion model name (e.g. "gpt-4o-mini", "qwen2.5").
	Model string

	// BaseURL overrides the provider endpoint. Required for Ollama,
	// optional for OpenAI-compatible gateways.
	BaseURL string

	// APIKey authenticates OpenAI requests. Ignored by Ollama.
	APIKey string

	// EmbeddingModel is the embedding model name. Only used by backends
	// that also serve as an Embedder.
	EmbeddingModel string
}

// NewClient creates a CompletionClient for the configured backend.
func NewClient(cfg ProviderConfig) (CompletionClient, error) {
	switch cfg.Backend {
	case "openai":
		return NewOpenAIClient(cfg)
	case "ollama":
		return NewOllamaClient(cfg)
	default:
		return nil, fmt.Errorf("unknown LLM backend %q", cfg.Backend)
	}
}

// NewEmbedder creates an Embedder for the configured backend. Both
// supported backends serve embeddings alongside completions.
func NewEmbedder(cfg ProviderConfig) (Embedder, error) {
	client, err := NewClient(cfg)
	if err != nil {
		return nil, err
	}
	embedder, ok := client.(Embedder)
	if !ok {
		return nil, fmt.Errorf("backend %q does not serve embeddings", cfg.Backend)
	}
	return embedder, nil
}
