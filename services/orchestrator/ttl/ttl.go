// Copyright (C) 2026 CaseForge AI (dev@caseforge.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package ttl provides retention management for the evidence corpus.
//
// Evidence chunks carry an ingested_at timestamp. Chunks older than the
// configured retention age are stale relative to the documents they were
// cut from and are removed by a background scheduler so generation never
// cites evidence the source no longer contains.
package ttl

import (
	"context"
	"time"
)

// RetentionService queries and deletes evidence chunks past their
// retention age. Implementations must be safe for concurrent use.
type RetentionService interface {
	// GetExpiredChunks returns up to limit chunks whose ingested_at is
	// older than the retention cutoff.
	GetExpiredChunks(ctx context.Context, limit int) ([]ExpiredChunk, error)

	// DeleteExpiredBatch deletes the given chunks one by one. Individual
	// failures are collected in the result, not returned as an error.
	DeleteExpiredBatch(ctx context.Context, chunks []ExpiredChunk) (CleanupResult, error)
}

// ExpiredChunk identifies one evidence chunk due for removal.
type ExpiredChunk struct {
	// WeaviateID is the object UUID used for deletion.
	WeaviateID string

	// DocID is the logical document the chunk belongs to.
	DocID string

	// ProjectID scopes the chunk to a project.
	ProjectID string

	// IngestedAt is the original ingestion time in Unix milliseconds.
	IngestedAt int64
}

// CleanupError records one failed deletion within a batch.
type CleanupError struct {
	WeaviateID string
	Reason     string
}

// CleanupResult summarizes one cleanup pass.
type CleanupResult struct {
	StartTime     time.Time
	EndTime       time.Time
	ChunksFound   int
	ChunksDeleted int
	Errors        []CleanupError
}

// HasErrors reports whether any deletion in the batch failed.
func (r CleanupResult) HasErrors() bool {
	return len(r.Errors) > 0
}

// Duration returns the wall time the cleanup pass took.
func (r CleanupResult) Duration() time.Duration {
	return r.EndTime.Sub(r.StartTime)
}

// Clock abstracts time for testing.
type Clock interface {
	Now() time.Time
}

// SystemClock reads the real wall clock.
type SystemClock struct{}

// Now returns the current time.
func (SystemClock) Now() time.Time {
	return time.Now()
}

var _ Clock = SystemClock{}
