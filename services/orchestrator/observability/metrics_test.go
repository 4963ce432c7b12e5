// Copyright (C) 2026 CaseForge AI (dev@caseforge.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package observability

import (
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

// ============================================================================
// Test Helper: Create isolated metrics for testing
// ============================================================================

// newTestMetrics creates a GenerationMetrics instance with a custom
// registry. This avoids conflicts with the global Prometheus registry and
// allows parallel testing.
func newTestMetrics(t *testing.T) *GenerationMetrics {
	t.Helper()

	reg := prometheus.NewRegistry()

	jobsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: generationSubsystem,
			Name:      "jobs_total",
			Help:      "Total generation jobs by outcome",
		},
		[]string{"outcome"},
	)

	itemsGeneratedTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: generationSubsystem,
			Name:      "items_generated_total",
			Help:      "Total test items persisted per project",
		},
		[]string{"project_id"},
	)

	stageDurationSeconds := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Subsystem: generationSubsystem,
			Name:      "stage_duration_seconds",
			Help:      "Duration of each pipeline stage in seconds",
			Buckets:   []float64{0.1, 0.5, 1, 5, 10, 30, 60, 120, 300, 600},
		},
		[]string{"stage"},
	)

	evidenceChunksTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: generationSubsystem,
			Name:      "evidence_chunks_total",
			Help:      "Total evidence chunks retrieved by category",
		},
		[]string{"category"},
	)

	retrievalFailuresTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: generationSubsystem,
			Name:      "retrieval_failures_total",
			Help:      "Total per-category retrieval failures absorbed as empty evidence",
		},
		[]string{"category"},
	)

	streamAbortsTotal := prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: generationSubsystem,
			Name:      "stream_aborts_total",
			Help:      "Total completions cut by the abort deadline",
		},
	)

	parseRepairsTotal := prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: generationSubsystem,
			Name:      "parse_repairs_total",
			Help:      "Total model responses recovered via truncation repair",
		},
	)

	activeJobs := prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Subsystem: generationSubsystem,
			Name:      "active_jobs",
			Help:      "Number of currently running generation jobs",
		},
	)

	reg.MustRegister(
		jobsTotal,
		itemsGeneratedTotal,
		stageDurationSeconds,
		evidenceChunksTotal,
		retrievalFailuresTotal,
		streamAbortsTotal,
		parseRepairsTotal,
		activeJobs,
	)

	return &GenerationMetrics{
		JobsTotal:              jobsTotal,
		ItemsGeneratedTotal:    itemsGeneratedTotal,
		StageDurationSeconds:   stageDurationSeconds,
		EvidenceChunksTotal:    evidenceChunksTotal,
		RetrievalFailuresTotal: retrievalFailuresTotal,
		StreamAbortsTotal:      streamAbortsTotal,
		ParseRepairsTotal:      parseRepairsTotal,
		ActiveJobs:             activeJobs,
	}
}

// ============================================================================
// InitMetrics Tests
// ============================================================================

// InitMetrics uses promauto which registers with the default Prometheus
// registry. Duplicate registration panics, so this must only run once per
// test binary.
var initMetricsOnce sync.Once

func TestInitMetrics(t *testing.T) {
	initMetricsOnce.Do(func() {
		m := InitMetrics()
		if m == nil {
			t.Fatal("InitMetrics returned nil")
		}
		if DefaultMetrics != m {
			t.Error("InitMetrics did not set DefaultMetrics")
		}
	})
}

func TestConstants(t *testing.T) {
	if metricsNamespace != "caseforge" {
		t.Errorf("metricsNamespace = %q, want %q", metricsNamespace, "caseforge")
	}
	if generationSubsystem != "generation" {
		t.Errorf("generationSubsystem = %q, want %q", generationSubsystem, "generation")
	}
}

func TestOutcomeConstants(t *testing.T) {
	if OutcomeCompleted != "completed" {
		t.Errorf("OutcomeCompleted = %q", OutcomeCompleted)
	}
	if OutcomePartial != "partial" {
		t.Errorf("OutcomePartial = %q", OutcomePartial)
	}
	if OutcomeError != "error" {
		t.Errorf("OutcomeError = %q", OutcomeError)
	}
}

// ============================================================================
// Recording Tests
// ============================================================================

func TestRecordJob(t *testing.T) {
	m := newTestMetrics(t)

	m.RecordJob(OutcomeCompleted)
	m.RecordJob(OutcomeCompleted)
	m.RecordJob(OutcomePartial)
	m.RecordJob(OutcomeError)

	if got := testutil.ToFloat64(m.JobsTotal.WithLabelValues("completed")); got != 2 {
		t.Errorf("completed jobs = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.JobsTotal.WithLabelValues("partial")); got != 1 {
		t.Errorf("partial jobs = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.JobsTotal.WithLabelValues("error")); got != 1 {
		t.Errorf("error jobs = %v, want 1", got)
	}
}

func TestRecordItems(t *testing.T) {
	m := newTestMetrics(t)

	m.RecordItems("proj-1", 10)
	m.RecordItems("proj-1", 5)
	m.RecordItems("proj-2", 3)

	if got := testutil.ToFloat64(m.ItemsGeneratedTotal.WithLabelValues("proj-1")); got != 15 {
		t.Errorf("proj-1 items = %v, want 15", got)
	}
	if got := testutil.ToFloat64(m.ItemsGeneratedTotal.WithLabelValues("proj-2")); got != 3 {
		t.Errorf("proj-2 items = %v, want 3", got)
	}
}

func TestRecordEvidence(t *testing.T) {
	m := newTestMetrics(t)

	m.RecordEvidence("spec_doc", 8)
	m.RecordEvidence("spec_doc", 4)
	m.RecordEvidence("source_code", 2)

	if got := testutil.ToFloat64(m.EvidenceChunksTotal.WithLabelValues("spec_doc")); got != 12 {
		t.Errorf("spec_doc chunks = %v, want 12", got)
	}
	if got := testutil.ToFloat64(m.EvidenceChunksTotal.WithLabelValues("source_code")); got != 2 {
		t.Errorf("source_code chunks = %v, want 2", got)
	}
}

func TestRecordRetrievalFailure(t *testing.T) {
	m := newTestMetrics(t)

	m.RecordRetrievalFailure("knowledge")
	m.RecordRetrievalFailure("knowledge")

	if got := testutil.ToFloat64(m.RetrievalFailuresTotal.WithLabelValues("knowledge")); got != 2 {
		t.Errorf("knowledge failures = %v, want 2", got)
	}
}

func TestRecordStreamAbortAndParseRepair(t *testing.T) {
	m := newTestMetrics(t)

	m.RecordStreamAbort()
	m.RecordParseRepair()
	m.RecordParseRepair()

	if got := testutil.ToFloat64(m.StreamAbortsTotal); got != 1 {
		t.Errorf("stream aborts = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.ParseRepairsTotal); got != 2 {
		t.Errorf("parse repairs = %v, want 2", got)
	}
}

func TestActiveJobsGauge(t *testing.T) {
	m := newTestMetrics(t)

	m.JobStarted()
	m.JobStarted()
	m.JobEnded()

	if got := testutil.ToFloat64(m.ActiveJobs); got != 1 {
		t.Errorf("active jobs = %v, want 1", got)
	}
}

func TestRecordStageDuration(t *testing.T) {
	m := newTestMetrics(t)

	m.RecordStageDuration("retrieval", 0.3)
	m.RecordStageDuration("retrieval", 2.0)
	m.RecordStageDuration("generation", 45.0)

	if got := testutil.CollectAndCount(m.StageDurationSeconds); got != 2 {
		t.Errorf("stage series = %d, want 2", got)
	}
}

// ============================================================================
// Concurrency
// ============================================================================

func TestMetrics_ConcurrentSafety(t *testing.T) {
	m := newTestMetrics(t)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				m.RecordJob(OutcomeCompleted)
				m.JobStarted()
				m.JobEnded()
				m.RecordEvidence("spec_doc", 1)
			}
		}()
	}
	wg.Wait()

	if got := testutil.ToFloat64(m.JobsTotal.WithLabelValues("completed")); got != 1000 {
		t.Errorf("completed jobs = %v, want 1000", got)
	}
	if got := testutil.ToFloat64(m.ActiveJobs); got != 0 {
		t.Errorf("active jobs = %v, want 0", got)
	}
}
