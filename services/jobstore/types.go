// Copyright (C) 2026 CaseForge AI (dev@caseforge.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package jobstore persists generation job and plan progress in BadgerDB.
//
// Jobs and plans are TTL-expiring records: a client that stops polling does
// not leak storage. The store is the single source of truth for cross-
// invocation coordination; there is no in-memory job state.
package jobstore

import "time"

// Status is the lifecycle state of a generation job.
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusError     Status = "error"
)

// Terminal reports whether no further transitions are allowed from s.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusError
}

// Stage identifies the pipeline phase a running job is in. Stages only move
// forward within a job.
type Stage int

const (
	StageRetrieval   Stage = 0
	StagePromptBuild Stage = 1
	StageGeneration  Stage = 2
	StagePersistence Stage = 3
	StageDone        Stage = 4
)

// String returns the human-readable stage name used in job messages.
func (s Stage) String() string {
	switch s {
	case StageRetrieval:
		return "retrieval"
	case StagePromptBuild:
		return "prompt-build"
	case StageGeneration:
		return "generation"
	case StagePersistence:
		return "persistence"
	case StageDone:
		return "done"
	}
	return "unknown"
}

// Job is the durable progress record for one generation run.
//
// Stage advances monotonically 0..4. "completed" and "error" are terminal.
// UpdatedAt strictly increases on every transition. Progress carries the
// streaming driver's accumulated-character checkpoint; it never decreases.
// TestIDCounts carries the per-categoryMajor testId counters a plan job
// accumulates across batches.
type Job struct {
	ID           string         `json:"id"`
	ProjectID    string         `json:"project_id"`
	Status       Status         `json:"status"`
	Stage        Stage          `json:"stage"`
	Message      string         `json:"message"`
	Count        int            `json:"count"`
	Model        string         `json:"model,omitempty"`
	Error        string         `json:"error,omitempty"`
	IsPartial    bool           `json:"is_partial"`
	Progress     int            `json:"progress"`
	TestIDCounts map[string]int `json:"test_id_counts,omitempty"`
	CreatedAt    time.Time      `json:"created_at"`
	UpdatedAt    time.Time      `json:"updated_at"`
}

// Patch is a partial job update. Nil fields are left unchanged.
type Patch struct {
	Status       *Status
	Stage        *Stage
	Message      *string
	Count        *int
	Model        *string
	Error        *string
	IsPartial    *bool
	Progress     *int
	TestIDCounts map[string]int
}

// PlanStatus is the lifecycle state of a test plan.
type PlanStatus string

const (
	PlanDraft    PlanStatus = "draft"
	PlanApproved PlanStatus = "approved"
)

// TestPlanBatch is one independently executable slice of a plan.
type TestPlanBatch struct {
	BatchID     string   `json:"batch_id"`
	Category    string   `json:"category"`
	Perspective string   `json:"perspective"`
	Titles      []string `json:"titles"`
	Count       int      `json:"count"`
}

// TestPlan decomposes a large generation request into sequential batches.
// A plan is produced by one planning completion call and is mutable only via
// explicit re-save while in draft.
type TestPlan struct {
	ID           string          `json:"id"`
	ProjectID    string          `json:"project_id"`
	Status       PlanStatus      `json:"status"`
	TotalItems   int             `json:"total_items"`
	BatchSize    int             `json:"batch_size"`
	Batches      []TestPlanBatch `json:"batches"`
	RagBreakdown map[string]int  `json:"rag_breakdown,omitempty"`
	CreatedAt    time.Time       `json:"created_at"`
	UpdatedAt    time.Time       `json:"updated_at"`
}
