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
	"sync"
	"time"
)

// Scheduler runs retention cleanup in the background.
type Scheduler interface {
	// Start launches the cleanup loop. Returns an error if already running.
	Start(ctx context.Context) error

	// Stop requests a graceful shutdown. Safe to call when stopped.
	Stop() error
}

// SchedulerConfig controls cleanup cadence and batch sizing.
type SchedulerConfig struct {
	// Interval is the time between cleanup passes.
	Interval time.Duration

	// BatchSize caps how many chunks one pass queries and deletes at a
	// time. Large deletes against Weaviate can time out.
	BatchSize int
}

// DefaultSchedulerConfig returns production defaults: hourly passes,
// 1000 chunks per batch.
func DefaultSchedulerConfig() SchedulerConfig {
	return SchedulerConfig{
		Interval:  time.Hour,
		BatchSize: 1000,
	}
}

type retentionScheduler struct {
	service RetentionService
	config  SchedulerConfig
	done    chan struct{}
	mu      sync.Mutex
	running bool
}

// NewScheduler creates a Scheduler that periodically deletes expired
// evidence chunks. It uses the ticker plus done channel pattern for
// graceful shutdown.
func NewScheduler(service RetentionService, config SchedulerConfig) Scheduler {
	if config.Interval <= 0 {
		config.Interval = DefaultSchedulerConfig().Interval
	}
	if config.BatchSize <= 0 {
		config.BatchSize = DefaultSchedulerConfig().BatchSize
	}
	return &retentionScheduler{
		service: service,
		config:  config,
		done:    make(chan struct{}),
	}
}

func (s *retentionScheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return fmt.Errorf("scheduler is already running")
	}
	s.running = true
	s.done = make(chan struct{})
	s.mu.Unlock()

	slog.Info("Evidence retention scheduler starting",
		"interval", s.config.Interval.String(),
		"batch_size", s.config.BatchSize)

	go s.runLoop(ctx)
	return nil
}

func (s *retentionScheduler) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return nil
	}

	slog.Info("Evidence retention scheduler stopping")
	close(s.done)
	s.running = false
	return nil
}

func (s *retentionScheduler) runLoop(ctx context.Context) {
	ticker := time.NewTicker(s.config.Interval)
	defer ticker.Stop()

	// Run an initial cleanup immediately on start.
	s.executeCleanup(ctx)

	for {
		select {
		case <-ctx.Done():
			slog.Info("Evidence retention scheduler stopped (context cancelled)")
			return
		case <-s.done:
			slog.Info("Evidence retention scheduler stopped (stop requested)")
			return
		case <-ticker.C:
			s.executeCleanup(ctx)
		}
	}
}

// executeCleanup drains expired chunks in batches until a pass finds
// fewer than a full batch or a batch does not fully delete. Chunks whose
// deletes failed would be re-fetched by the next query, so an incomplete
// batch ends the pass and leaves the remainder to the next tick.
func (s *retentionScheduler) executeCleanup(ctx context.Context) {
	for {
		chunks, err := s.service.GetExpiredChunks(ctx, s.config.BatchSize)
		if err != nil {
			slog.Error("Retention query failed", "error", err)
			return
		}
		if len(chunks) == 0 {
			return
		}

		result, err := s.service.DeleteExpiredBatch(ctx, chunks)
		if err != nil {
			slog.Error("Retention batch delete failed", "error", err)
			return
		}

		slog.Info("Retention cleanup pass complete",
			"found", result.ChunksFound,
			"deleted", result.ChunksDeleted,
			"failed", len(result.Errors),
			"duration", result.Duration().String())

		if result.ChunksDeleted < len(chunks) {
			slog.Warn("Retention pass ended early, undeleted chunks deferred to next pass",
				"undeleted", len(chunks)-result.ChunksDeleted)
			return
		}
		if len(chunks) < s.config.BatchSize {
			return
		}
	}
}

var _ Scheduler = (*retentionScheduler)(nil)
