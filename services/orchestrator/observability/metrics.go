// Copyright (C) 2026 CaseForge AI (dev@caseforge.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package observability provides metrics and instrumentation for the orchestrator.
//
// # Description
//
// This package implements Prometheus metrics for monitoring generation jobs.
// Metrics include:
//   - Job counters (by outcome, including partial completions)
//   - Stage duration histograms
//   - Generated item counters
//   - Evidence retrieval counters per category
//   - Active job gauge
//
// # Integration
//
// Metrics are exposed via /metrics endpoint. Use with Prometheus + Grafana
// for dashboards and alerting.
//
// # Thread Safety
//
// All metric operations are thread-safe via Prometheus's internal locking.
package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// =============================================================================
// Metric Definitions
// =============================================================================

// Namespace for all metrics
const metricsNamespace = "caseforge"

// Subsystem for generation metrics
const generationSubsystem = "generation"

// GenerationMetrics holds all Prometheus metrics for generation operations.
//
// # Description
//
// Provides counters, histograms, and gauges for monitoring generation jobs
// and their stages. Initialize once at startup via InitMetrics().
//
// # Fields
//
//   - JobsTotal: Counter of generation jobs by outcome
//   - ItemsGeneratedTotal: Counter of test items produced per project
//   - StageDurationSeconds: Histogram of per-stage durations
//   - EvidenceChunksTotal: Counter of retrieved chunks by category
//   - RetrievalFailuresTotal: Counter of degraded retrievals by category
//   - StreamAbortsTotal: Counter of completions cut by the abort deadline
//   - ParseRepairsTotal: Counter of responses salvaged by truncation repair
//   - ActiveJobs: Gauge of currently running jobs
//
// # Thread Safety
//
// All operations are thread-safe.
type GenerationMetrics struct {
	// JobsTotal counts generation jobs by outcome.
	// Labels: outcome (completed, partial, error)
	JobsTotal *prometheus.CounterVec

	// ItemsGeneratedTotal counts persisted test items.
	// Labels: project_id
	ItemsGeneratedTotal *prometheus.CounterVec

	// StageDurationSeconds measures per-stage durations.
	// Labels: stage (retrieval, prompt-build, generation, persistence)
	StageDurationSeconds *prometheus.HistogramVec

	// EvidenceChunksTotal counts retrieved evidence chunks.
	// Labels: category (spec_doc, knowledge, site_analysis, source_code)
	EvidenceChunksTotal *prometheus.CounterVec

	// RetrievalFailuresTotal counts per-category retrieval failures that
	// were absorbed as empty evidence.
	// Labels: category
	RetrievalFailuresTotal *prometheus.CounterVec

	// StreamAbortsTotal counts completions cut by the abort deadline.
	StreamAbortsTotal prometheus.Counter

	// ParseRepairsTotal counts model responses recovered by the
	// truncation-repair path rather than a direct parse.
	ParseRepairsTotal prometheus.Counter

	// ActiveJobs tracks currently running generation jobs.
	ActiveJobs prometheus.Gauge
}

// DefaultMetrics is the singleton instance of GenerationMetrics.
// Initialized by InitMetrics().
var DefaultMetrics *GenerationMetrics

// InitMetrics initializes the default metrics instance.
//
// # Description
//
// Creates and registers all Prometheus metrics. Should be called once
// at application startup, after Prometheus registry is available.
//
// # Outputs
//
//   - *GenerationMetrics: The initialized metrics instance.
//
// # Examples
//
//	func main() {
//	    observability.InitMetrics()
//	    // ... start server ...
//	}
//
// # Limitations
//
//   - Panics if called twice (duplicate registration).
//
// # Assumptions
//
//   - Prometheus default registry is available.
func InitMetrics() *GenerationMetrics {
	DefaultMetrics = &GenerationMetrics{
		JobsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: generationSubsystem,
				Name:      "jobs_total",
				Help:      "Total generation jobs by outcome",
			},
			[]string{"outcome"},
		),

		ItemsGeneratedTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: generationSubsystem,
				Name:      "items_generated_total",
				Help:      "Total test items persisted per project",
			},
			[]string{"project_id"},
		),

		StageDurationSeconds: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Subsystem: generationSubsystem,
				Name:      "stage_duration_seconds",
				Help:      "Duration of each pipeline stage in seconds",
				Buckets:   []float64{0.1, 0.5, 1, 5, 10, 30, 60, 120, 300, 600},
			},
			[]string{"stage"},
		),

		EvidenceChunksTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: generationSubsystem,
				Name:      "evidence_chunks_total",
				Help:      "Total evidence chunks retrieved by category",
			},
			[]string{"category"},
		),

		RetrievalFailuresTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: generationSubsystem,
				Name:      "retrieval_failures_total",
				Help:      "Total per-category retrieval failures absorbed as empty evidence",
			},
			[]string{"category"},
		),

		StreamAbortsTotal: promauto.NewCounter(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: generationSubsystem,
				Name:      "stream_aborts_total",
				Help:      "Total completions cut by the abort deadline",
			},
		),

		ParseRepairsTotal: promauto.NewCounter(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: generationSubsystem,
				Name:      "parse_repairs_total",
				Help:      "Total model responses recovered via truncation repair",
			},
		),

		ActiveJobs: promauto.NewGauge(
			prometheus.GaugeOpts{
				Namespace: metricsNamespace,
				Subsystem: generationSubsystem,
				Name:      "active_jobs",
				Help:      "Number of currently running generation jobs",
			},
		),
	}

	return DefaultMetrics
}

// =============================================================================
// Job Outcomes
// =============================================================================

// Outcome labels a finished job for metrics.
type Outcome string

const (
	// OutcomeCompleted indicates the job finished with full output.
	OutcomeCompleted Outcome = "completed"

	// OutcomePartial indicates the job finished with salvaged output.
	OutcomePartial Outcome = "partial"

	// OutcomeError indicates the job failed.
	OutcomeError Outcome = "error"
)

// =============================================================================
// Helper Methods
// =============================================================================

// RecordJob records a finished generation job.
//
// # Inputs
//
//   - outcome: How the job ended.
func (m *GenerationMetrics) RecordJob(outcome Outcome) {
	m.JobsTotal.WithLabelValues(string(outcome)).Inc()
}

// RecordItems records persisted test items.
//
// # Inputs
//
//   - projectID: The owning project.
//   - count: Number of items persisted.
func (m *GenerationMetrics) RecordItems(projectID string, count int) {
	m.ItemsGeneratedTotal.WithLabelValues(projectID).Add(float64(count))
}

// RecordStageDuration records a completed pipeline stage.
//
// # Inputs
//
//   - stage: Stage name.
//   - seconds: Stage duration in seconds.
func (m *GenerationMetrics) RecordStageDuration(stage string, seconds float64) {
	m.StageDurationSeconds.WithLabelValues(stage).Observe(seconds)
}

// RecordEvidence records retrieved evidence chunks for one category.
func (m *GenerationMetrics) RecordEvidence(category string, count int) {
	m.EvidenceChunksTotal.WithLabelValues(category).Add(float64(count))
}

// RecordRetrievalFailure records one absorbed retrieval failure.
func (m *GenerationMetrics) RecordRetrievalFailure(category string) {
	m.RetrievalFailuresTotal.WithLabelValues(category).Inc()
}

// RecordStreamAbort records one deadline-cut completion.
func (m *GenerationMetrics) RecordStreamAbort() {
	m.StreamAbortsTotal.Inc()
}

// RecordParseRepair records one truncation-repaired response.
func (m *GenerationMetrics) RecordParseRepair() {
	m.ParseRepairsTotal.Inc()
}

// JobStarted increments the active jobs gauge.
func (m *GenerationMetrics) JobStarted() {
	m.ActiveJobs.Inc()
}

// JobEnded decrements the active jobs gauge.
func (m *GenerationMetrics) JobEnded() {
	m.ActiveJobs.Dec()
}
