// Copyright (C) 2026 CaseForge AI (dev@caseforge.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package generation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/weaviate/weaviate-go-client/v5/weaviate"
	"github.com/weaviate/weaviate-go-client/v5/weaviate/filters"
	"github.com/weaviate/weaviate-go-client/v5/weaviate/graphql"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/caseforge-ai/caseforge/services/llm"
	"github.com/caseforge-ai/caseforge/services/orchestrator/datatypes"
)

var retrieverTracer = otel.Tracer("caseforge.generation.retriever")

// EvidenceClass is the Weaviate class holding ingested evidence chunks.
const EvidenceClass = "EvidenceChunk"

// RetrieverConfig holds similarity thresholds and limits for evidence
// retrieval. Source-code evidence uses a lower certainty threshold than prose
// because code embeddings cluster more loosely.
type RetrieverConfig struct {
	// ProseCertainty is the minimum certainty for prose categories.
	ProseCertainty float64

	// CodeCertainty is the minimum certainty for source_code evidence.
	CodeCertainty float64

	// MaxEmbedLength truncates the query before embedding.
	MaxEmbedLength int
}

// DefaultRetrieverConfig returns production defaults.
func DefaultRetrieverConfig() RetrieverConfig {
	return RetrieverConfig{
		ProseCertainty: 0.70,
		CodeCertainty:  0.55,
		MaxEmbedLength: 2000,
	}
}

func (c RetrieverConfig) normalized() RetrieverConfig {
	defaults := DefaultRetrieverConfig()
	if c.ProseCertainty <= 0 {
		c.ProseCertainty = defaults.ProseCertainty
	}
	if c.CodeCertainty <= 0 {
		c.CodeCertainty = defaults.CodeCertainty
	}
	if c.MaxEmbedLength <= 0 {
		c.MaxEmbedLength = defaults.MaxEmbedLength
	}
	return c
}

func (c RetrieverConfig) threshold(category Category) float64 {
	if category == CategorySourceCode {
		return c.CodeCertainty
	}
	return c.ProseCertainty
}

// Retriever queries the external vector index per evidence category. It is
// read-only and side-effect free.
type Retriever struct {
	client   *weaviate.Client
	embedder llm.Embedder
	config   RetrieverConfig
}

// NewRetriever creates a retriever over the given Weaviate client and
// embedding provider.
func NewRetriever(client *weaviate.Client, embedder llm.Embedder, config RetrieverConfig) *Retriever {
	return &Retriever{
		client:   client,
		embedder: embedder,
		config:   config.normalized(),
	}
}

// evidenceQueryResponse mirrors the GraphQL response shape for EvidenceChunk.
type evidenceQueryResponse struct {
	Get struct {
		EvidenceChunk []evidenceResult `json:"EvidenceChunk"`
	} `json:"Get"`
}

type evidenceResult struct {
	ProjectID  string `json:"project_id"`
	DocID      string `json:"doc_id"`
	ChunkIndex *int   `json:"chunk_index"`
	Filename   string `json:"filename"`
	Category   string `json:"category"`
	Text       string `json:"text"`
	PageURL    string `json:"page_url"`
	Additional struct {
		Certainty *float32 `json:"certainty"`
	} `json:"_additional"`
}

// Retrieve returns scored evidence chunks for one category, ordered by
// descending similarity and filtered to the per-category certainty threshold.
//
// Retrieval failures must not fail the pipeline: callers absorb the returned
// *RetrievalError into an empty set and proceed with whatever evidence
// remains.
func (r *Retriever) Retrieve(ctx context.Context, query, projectID string, topK int, category Category) ([]EvidenceChunk, error) {
	ctx, span := retrieverTracer.Start(ctx, "Retriever.Retrieve")
	defer span.End()
	span.SetAttributes(
		attribute.String("evidence.category", string(category)),
		attribute.Int("evidence.top_k", topK),
	)

	// Lightweight deployments run without a vector index; every category
	// degrades to empty evidence.
	if r.client == nil {
		return nil, &RetrievalError{Category: category, Err: errors.New("no vector index configured")}
	}

	truncated := query
	if len(truncated) > r.config.MaxEmbedLength {
		truncated = truncated[:r.config.MaxEmbedLength]
	}
	vector, err := r.embedder.Embed(ctx, truncated)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, &RetrievalError{Category: category, Err: fmt.Errorf("embed query: %w", err)}
	}

	projectFilter := filters.Where().
		WithPath([]string{"project_id"}).
		WithOperator(filters.Equal).
		WithValueString(projectID)
	categoryFilter := filters.Where().
		WithPath([]string{"category"}).
		WithOperator(filters.Equal).
		WithValueString(string(category))
	combinedFilter := filters.Where().
		WithOperator(filters.And).
		WithOperands([]*filters.WhereBuilder{projectFilter, categoryFilter})

	nearVector := r.client.GraphQL().NearVectorArgBuilder().WithVector(vector)

	fields := []graphql.Field{
		{Name: "project_id"},
		{Name: "doc_id"},
		{Name: "chunk_index"},
		{Name: "filename"},
		{Name: "category"},
		{Name: "text"},
		{Name: "page_url"},
		{Name: "_additional", Fields: []graphql.Field{
			{Name: "certainty"},
		}},
	}

	result, err := r.client.GraphQL().Get().
		WithClassName(EvidenceClass).
		WithFields(fields...).
		WithWhere(combinedFilter).
		WithNearVector(nearVector).
		WithLimit(topK).
		Do(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, &RetrievalError{Category: category, Err: fmt.Errorf("weaviate search failed: %w", err)}
	}

	parsed, err := datatypes.ParseGraphQLResponse[evidenceQueryResponse](result)
	if err != nil {
		span.RecordError(err)
		return nil, &RetrievalError{Category: category, Err: fmt.Errorf("parse search results: %w", err)}
	}

	chunks := filterByCertainty(parsed.Get.EvidenceChunk, r.config.threshold(category))
	slog.Debug("Retrieved evidence chunks",
		"category", category, "raw", len(parsed.Get.EvidenceChunk), "kept", len(chunks))
	return chunks, nil
}

// filterByCertainty converts raw results to EvidenceChunks, dropping matches
// below the threshold. Weaviate returns results in descending similarity
// order already; that order is preserved.
func filterByCertainty(results []evidenceResult, threshold float64) []EvidenceChunk {
	chunks := make([]EvidenceChunk, 0, len(results))
	for _, res := range results {
		var score float64
		if res.Additional.Certainty != nil {
			score = float64(*res.Additional.Certainty)
		}
		if score < threshold {
			continue
		}
		idx := 0
		if res.ChunkIndex != nil {
			idx = *res.ChunkIndex
		}
		chunks = append(chunks, EvidenceChunk{
			ProjectID:  res.ProjectID,
			DocID:      res.DocID,
			ChunkIndex: idx,
			Filename:   res.Filename,
			Category:   Category(res.Category),
			Text:       res.Text,
			PageURL:    res.PageURL,
			Score:      score,
		})
	}
	return chunks
}
