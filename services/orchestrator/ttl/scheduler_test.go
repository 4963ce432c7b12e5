// Copyright (C) 2026 CaseForge AI (dev@caseforge.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package ttl

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// stubRetention serves queued batches of expired chunks and records what
// was deleted. With repeat set, every query returns the same batch, the
// way Weaviate does when its deletes keep failing.
type stubRetention struct {
	mu          sync.Mutex
	batches     [][]ExpiredChunk
	repeat      []ExpiredChunk
	queryErr    error
	failDeletes bool
	deleted     [][]ExpiredChunk
	queries     int
}

func (s *stubRetention) GetExpiredChunks(_ context.Context, limit int) ([]ExpiredChunk, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.queries++
	if s.queryErr != nil {
		return nil, s.queryErr
	}
	if s.repeat != nil {
		batch := s.repeat
		if len(batch) > limit {
			batch = batch[:limit]
		}
		return batch, nil
	}
	if len(s.batches) == 0 {
		return nil, nil
	}
	batch := s.batches[0]
	s.batches = s.batches[1:]
	if len(batch) > limit {
		batch = batch[:limit]
	}
	return batch, nil
}

func (s *stubRetention) DeleteExpiredBatch(_ context.Context, chunks []ExpiredChunk) (CleanupResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now()
	if s.failDeletes {
		errs := make([]CleanupError, len(chunks))
		for i, chunk := range chunks {
			errs[i] = CleanupError{WeaviateID: chunk.WeaviateID, Reason: "delete refused"}
		}
		return CleanupResult{
			StartTime:   now,
			EndTime:     now,
			ChunksFound: len(chunks),
			Errors:      errs,
		}, nil
	}
	s.deleted = append(s.deleted, chunks)
	return CleanupResult{
		StartTime:     now,
		EndTime:       now,
		ChunksFound:   len(chunks),
		ChunksDeleted: len(chunks),
	}, nil
}

func (s *stubRetention) deleteCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	total := 0
	for _, batch := range s.deleted {
		total += len(batch)
	}
	return total
}

func makeChunks(n int) []ExpiredChunk {
	chunks := make([]ExpiredChunk, n)
	for i := range chunks {
		chunks[i] = ExpiredChunk{WeaviateID: "id", DocID: "doc", ProjectID: "proj"}
	}
	return chunks
}

func TestScheduler_InitialCleanupDrainsBatches(t *testing.T) {
	// Two full batches then a short one: the initial pass must keep
	// querying until a batch comes back short.
	stub := &stubRetention{batches: [][]ExpiredChunk{
		makeChunks(3),
		makeChunks(3),
		makeChunks(1),
	}}
	sched := NewScheduler(stub, SchedulerConfig{Interval: time.Hour, BatchSize: 3})

	require.NoError(t, sched.Start(context.Background()))
	defer sched.Stop()

	require.Eventually(t, func() bool {
		return stub.deleteCount() == 7
	}, 2*time.Second, 5*time.Millisecond)
}

func TestScheduler_NoExpiredChunks(t *testing.T) {
	stub := &stubRetention{}
	sched := NewScheduler(stub, SchedulerConfig{Interval: time.Hour, BatchSize: 10})

	require.NoError(t, sched.Start(context.Background()))
	defer sched.Stop()

	require.Eventually(t, func() bool {
		stub.mu.Lock()
		defer stub.mu.Unlock()
		return stub.queries >= 1
	}, 2*time.Second, 5*time.Millisecond)
	assert.Zero(t, stub.deleteCount())
}

func TestScheduler_QueryFailureStopsPass(t *testing.T) {
	stub := &stubRetention{queryErr: errors.New("weaviate down")}
	sched := NewScheduler(stub, SchedulerConfig{Interval: time.Hour, BatchSize: 10})

	require.NoError(t, sched.Start(context.Background()))
	defer sched.Stop()

	require.Eventually(t, func() bool {
		stub.mu.Lock()
		defer stub.mu.Unlock()
		return stub.queries >= 1
	}, 2*time.Second, 5*time.Millisecond)
	assert.Zero(t, stub.deleteCount())
}

func TestScheduler_FailedDeletesEndPass(t *testing.T) {
	// Every query returns the same full batch and every delete fails. The
	// pass must end after one round instead of re-querying forever.
	stub := &stubRetention{repeat: makeChunks(3), failDeletes: true}
	sched := NewScheduler(stub, SchedulerConfig{Interval: time.Hour, BatchSize: 3})

	require.NoError(t, sched.Start(context.Background()))
	defer sched.Stop()

	require.Eventually(t, func() bool {
		stub.mu.Lock()
		defer stub.mu.Unlock()
		return stub.queries >= 1
	}, 2*time.Second, 5*time.Millisecond)

	// The initial pass is done; the query count must settle at one.
	time.Sleep(50 * time.Millisecond)
	stub.mu.Lock()
	queries := stub.queries
	stub.mu.Unlock()
	assert.Equal(t, 1, queries)
	assert.Zero(t, stub.deleteCount())
}

func TestScheduler_DoubleStartRejected(t *testing.T) {
	sched := NewScheduler(&stubRetention{}, SchedulerConfig{Interval: time.Hour})

	require.NoError(t, sched.Start(context.Background()))
	defer sched.Stop()

	err := sched.Start(context.Background())
	assert.Error(t, err)
}

func TestScheduler_StopIsIdempotent(t *testing.T) {
	sched := NewScheduler(&stubRetention{}, SchedulerConfig{Interval: time.Hour})

	require.NoError(t, sched.Start(context.Background()))
	assert.NoError(t, sched.Stop())
	assert.NoError(t, sched.Stop())
}

func TestScheduler_RestartAfterStop(t *testing.T) {
	stub := &stubRetention{}
	sched := NewScheduler(stub, SchedulerConfig{Interval: time.Hour})

	require.NoError(t, sched.Start(context.Background()))
	require.NoError(t, sched.Stop())
	require.NoError(t, sched.Start(context.Background()))
	defer sched.Stop()
}

func TestScheduler_PeriodicRuns(t *testing.T) {
	stub := &stubRetention{}
	sched := NewScheduler(stub, SchedulerConfig{Interval: 20 * time.Millisecond, BatchSize: 10})

	require.NoError(t, sched.Start(context.Background()))
	defer sched.Stop()

	require.Eventually(t, func() bool {
		stub.mu.Lock()
		defer stub.mu.Unlock()
		return stub.queries >= 3
	}, 2*time.Second, 5*time.Millisecond)
}

func TestScheduler_ContextCancelStopsLoop(t *testing.T) {
	stub := &stubRetention{}
	ctx, cancel := context.WithCancel(context.Background())
	sched := NewScheduler(stub, SchedulerConfig{Interval: 10 * time.Millisecond, BatchSize: 10})

	require.NoError(t, sched.Start(ctx))
	cancel()

	// After cancellation the loop exits and query counts settle.
	time.Sleep(50 * time.Millisecond)
	stub.mu.Lock()
	settled := stub.queries
	stub.mu.Unlock()

	time.Sleep(50 * time.Millisecond)
	stub.mu.Lock()
	final := stub.queries
	stub.mu.Unlock()
	assert.Equal(t, settled, final)
}

func TestCleanupResult(t *testing.T) {
	start := time.Now()
	result := CleanupResult{
		StartTime:     start,
		EndTime:       start.Add(250 * time.Millisecond),
		ChunksFound:   10,
		ChunksDeleted: 9,
		Errors:        []CleanupError{{WeaviateID: "x", Reason: "gone"}},
	}

	assert.True(t, result.HasErrors())
	assert.Equal(t, 250*time.Millisecond, result.Duration())
	assert.False(t, CleanupResult{}.HasErrors())
}
