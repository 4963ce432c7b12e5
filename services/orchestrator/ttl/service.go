// Copyright (C) 2026 CaseForge AI (dev@caseforge.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package ttl

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/weaviate/weaviate-go-client/v5/weaviate"
	"github.com/weaviate/weaviate-go-client/v5/weaviate/filters"
	"github.com/weaviate/weaviate-go-client/v5/weaviate/graphql"

	"github.com/caseforge-ai/caseforge/services/orchestrator/datatypes"
)

// retentionService is the Weaviate-backed RetentionService.
type retentionService struct {
	client *weaviate.Client
	clock  Clock
	maxAge time.Duration
}

// NewRetentionService creates a RetentionService that treats evidence
// chunks older than maxAge as expired.
func NewRetentionService(client *weaviate.Client, maxAge time.Duration) RetentionService {
	return &retentionService{
		client: client,
		clock:  SystemClock{},
		maxAge: maxAge,
	}
}

// expiredChunkResponse mirrors the GraphQL response shape for the
// expiry query.
type expiredChunkResponse struct {
	Get struct {
		EvidenceChunk []expiredChunkRecord `json:"EvidenceChunk"`
	} `json:"Get"`
}

type expiredChunkRecord struct {
	DocID      string  `json:"doc_id"`
	ProjectID  string  `json:"project_id"`
	IngestedAt float64 `json:"ingested_at"`
	Additional struct {
		ID string `json:"id"`
	} `json:"_additional"`
}

// GetExpiredChunks implements RetentionService.
func (s *retentionService) GetExpiredChunks(ctx context.Context, limit int) ([]ExpiredChunk, error) {
	cutoffMs := s.clock.Now().Add(-s.maxAge).UnixMilli()

	where := filters.Where().
		WithOperator(filters.And).
		WithOperands([]*filters.WhereBuilder{
			filters.Where().
				WithPath([]string{"ingested_at"}).
				WithOperator(filters.GreaterThan).
				WithValueNumber(0),
			filters.Where().
				WithPath([]string{"ingested_at"}).
				WithOperator(filters.LessThan).
				WithValueNumber(float64(cutoffMs)),
		})

	result, err := s.client.GraphQL().Get().
		WithClassName("EvidenceChunk").
		WithWhere(where).
		WithLimit(limit).
		WithFields(
			graphql.Field{Name: "_additional { id }"},
			graphql.Field{Name: "doc_id"},
			graphql.Field{Name: "project_id"},
			graphql.Field{Name: "ingested_at"},
		).
		Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to query expired evidence chunks: %w", err)
	}

	parsed, err := datatypes.ParseGraphQLResponse[expiredChunkResponse](result)
	if err != nil {
		return nil, fmt.Errorf("failed to parse expired chunk response: %w", err)
	}

	chunks := make([]ExpiredChunk, 0, len(parsed.Get.EvidenceChunk))
	for _, rec := range parsed.Get.EvidenceChunk {
		chunks = append(chunks, ExpiredChunk{
			WeaviateID: rec.Additional.ID,
			DocID:      rec.DocID,
			ProjectID:  rec.ProjectID,
			IngestedAt: int64(rec.IngestedAt),
		})
	}
	return chunks, nil
}

// DeleteExpiredBatch implements RetentionService. Chunks are deleted
// individually so one failure does not abort the rest of the batch.
func (s *retentionService) DeleteExpiredBatch(ctx context.Context, chunks []ExpiredChunk) (CleanupResult, error) {
	result := CleanupResult{
		StartTime:   s.clock.Now(),
		ChunksFound: len(chunks),
		Errors:      make([]CleanupError, 0),
	}

	for _, chunk := range chunks {
		err := s.client.Data().Deleter().
			WithClassName("EvidenceChunk").
			WithID(chunk.WeaviateID).
			Do(ctx)
		if err != nil {
			slog.Warn("Failed to delete expired evidence chunk",
				"weaviate_id", chunk.WeaviateID,
				"doc_id", chunk.DocID,
				"error", err)
			result.Errors = append(result.Errors, CleanupError{
				WeaviateID: chunk.WeaviateID,
				Reason:     err.Error(),
			})
			continue
		}
		result.ChunksDeleted++
	}

	result.EndTime = s.clock.Now()
	return result, nil
}

var _ RetentionService = (*retentionService)(nil)
