// Copyright (C) 2026 CaseForge AI (dev@caseforge.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package generation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/caseforge-ai/caseforge/services/jobstore"
	"github.com/caseforge-ai/caseforge/services/llm"
)

var plannerTracer = otel.Tracer("caseforge.generation.planner")

// ErrPlanNotApproved is returned when batch execution is requested against a
// plan still in draft.
var ErrPlanNotApproved = errors.New("plan is not approved")

// PlanRequest describes one planning call.
type PlanRequest struct {
	ProjectID    string
	ProjectName  string
	TargetSystem string
	TotalItems   int
	BatchSize    int
	Perspectives []Perspective
	Weights      map[Perspective]int
}

// BatchResult reports the outcome of one executed batch.
type BatchResult struct {
	ItemsProduced int  `json:"items_produced"`
	Aborted       bool `json:"aborted"`
}

// Planner decomposes large generation requests into executable plans. A plan
// is proposed by one non-streaming completion call, held in draft for user
// edits, and then executed batch by batch through the pipeline stages.
type Planner struct {
	client   llm.CompletionClient
	pipeline *Pipeline
	jobs     *jobstore.Store
}

// NewPlanner wires a planner over the completion client used for the planning
// call and the pipeline that executes individual batches.
func NewPlanner(client llm.CompletionClient, pipeline *Pipeline, jobs *jobstore.Store) *Planner {
	return &Planner{
		client:   client,
		pipeline: pipeline,
		jobs:     jobs,
	}
}

const planningSystemPrompt = `You are a senior QA lead planning coverage for a test suite.
You always answer with a single JSON array and nothing else: no prose, no code fences, no trailing commentary.`

// plannedBatch is the JSON shape the planning model emits per batch.
type plannedBatch struct {
	Category    string   `json:"category"`
	Perspective string   `json:"perspective"`
	Titles      []string `json:"titles"`
	Count       int      `json:"count"`
}

// CreatePlan runs the planning completion and persists the result as a draft
// plan. The plan is not executable until approved.
func (p *Planner) CreatePlan(ctx context.Context, req PlanRequest) (jobstore.TestPlan, error) {
	ctx, span := plannerTracer.Start(ctx, "Planner.CreatePlan")
	defer span.End()
	span.SetAttributes(
		attribute.String("project.id", req.ProjectID),
		attribute.Int("plan.total_items", req.TotalItems),
	)

	if req.TotalItems <= 0 {
		return jobstore.TestPlan{}, fmt.Errorf("total items must be positive, got %d", req.TotalItems)
	}
	if req.BatchSize <= 0 {
		req.BatchSize = 10
	}

	// Evidence volume per category informs both the model and the plan's
	// recorded breakdown. Retrieval failures degrade to zero counts.
	breakdown := p.ragBreakdown(ctx, req)

	userPrompt := buildPlanningPrompt(req, breakdown)
	raw, err := p.client.Complete(ctx, planningSystemPrompt, userPrompt, llm.GenerationParams{})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return jobstore.TestPlan{}, &TransportError{Op: "planning completion", Err: err}
	}

	records, repaired, err := recoverArray(raw)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return jobstore.TestPlan{}, err
	}
	if repaired {
		slog.Warn("Planning response was truncated, using recovered prefix",
			"project_id", req.ProjectID, "batches", len(records))
	}

	batches := make([]jobstore.TestPlanBatch, 0, len(records))
	for _, rec := range records {
		var pb plannedBatch
		if err := json.Unmarshal(rec, &pb); err != nil {
			slog.Warn("Skipping malformed plan batch", "error", err)
			continue
		}
		if pb.Count <= 0 {
			pb.Count = len(pb.Titles)
		}
		batches = append(batches, jobstore.TestPlanBatch{
			BatchID:     uuid.NewString(),
			Category:    pb.Category,
			Perspective: string(normalizePerspective(pb.Perspective)),
			Titles:      pb.Titles,
			Count:       pb.Count,
		})
	}
	if len(batches) == 0 {
		return jobstore.TestPlan{}, newParseError("planning response contained no usable batches", raw)
	}

	plan := jobstore.TestPlan{
		ID:           uuid.NewString(),
		ProjectID:    req.ProjectID,
		Status:       jobstore.PlanDraft,
		TotalItems:   req.TotalItems,
		BatchSize:    req.BatchSize,
		Batches:      batches,
		RagBreakdown: breakdown,
	}
	if err := p.jobs.SavePlan(plan); err != nil {
		return jobstore.TestPlan{}, fmt.Errorf("persist plan: %w", err)
	}
	slog.Info("Created test plan",
		"plan_id", plan.ID, "project_id", req.ProjectID, "batches", len(batches))
	return plan, nil
}

// UpdatePlan re-saves an edited plan. Only draft plans are editable; an
// approved plan is frozen for execution.
func (p *Planner) UpdatePlan(plan jobstore.TestPlan) (jobstore.TestPlan, error) {
	current, err := p.jobs.GetPlan(plan.ID)
	if err != nil {
		return jobstore.TestPlan{}, err
	}
	if current.Status != jobstore.PlanDraft {
		return jobstore.TestPlan{}, fmt.Errorf("plan %s is %s and can no longer be edited", plan.ID, current.Status)
	}
	plan.ProjectID = current.ProjectID
	plan.Status = jobstore.PlanDraft
	plan.CreatedAt = current.CreatedAt
	for i := range plan.Batches {
		if plan.Batches[i].BatchID == "" {
			plan.Batches[i].BatchID = uuid.NewString()
		}
	}
	if err := p.jobs.SavePlan(plan); err != nil {
		return jobstore.TestPlan{}, fmt.Errorf("persist plan: %w", err)
	}
	return p.jobs.GetPlan(plan.ID)
}

// ApprovePlan freezes a draft plan for execution.
func (p *Planner) ApprovePlan(planID string) (jobstore.TestPlan, error) {
	plan, err := p.jobs.GetPlan(planID)
	if err != nil {
		return jobstore.TestPlan{}, err
	}
	if plan.Status == jobstore.PlanApproved {
		return plan, nil
	}
	plan.Status = jobstore.PlanApproved
	if err := p.jobs.SavePlan(plan); err != nil {
		return jobstore.TestPlan{}, fmt.Errorf("persist plan: %w", err)
	}
	return p.jobs.GetPlan(planID)
}

// RunBatch executes one batch of an approved plan, accumulating produced
// items into the given job. It is invoked once per batch by an external
// driver loop; a batch failure leaves prior batches' items persisted.
func (p *Planner) RunBatch(ctx context.Context, jobID, planID string, batchIndex int) (BatchResult, error) {
	ctx, span := plannerTracer.Start(ctx, "Planner.RunBatch")
	defer span.End()
	span.SetAttributes(
		attribute.String("job.id", jobID),
		attribute.String("plan.id", planID),
		attribute.Int("plan.batch_index", batchIndex),
	)

	plan, err := p.jobs.GetPlan(planID)
	if err != nil {
		return BatchResult{}, err
	}
	if plan.Status != jobstore.PlanApproved {
		return BatchResult{}, fmt.Errorf("%w: plan %s", ErrPlanNotApproved, planID)
	}
	if batchIndex < 0 || batchIndex >= len(plan.Batches) {
		return BatchResult{}, fmt.Errorf("batch index %d out of range, plan %s has %d batches", batchIndex, planID, len(plan.Batches))
	}
	batch := plan.Batches[batchIndex]

	job, err := p.ensureJob(jobID, plan)
	if err != nil {
		return BatchResult{}, err
	}

	req := Request{
		ProjectID:   plan.ProjectID,
		ProjectName: plan.ProjectID,
		Query:       batch.Category + " " + strings.Join(batch.Titles, " "),
		Options: PromptOptions{
			TargetCount:  batch.Count,
			Perspectives: []Perspective{Perspective(batch.Perspective)},
			BatchTitles:  batch.Titles,
		},
	}

	produced, aborted, counters, err := p.runBatchStages(ctx, jobID, job.TestIDCounts, req)
	if err != nil {
		p.pipeline.fail(ctx, span, jobID, fmt.Errorf("batch %d failed: %w", batchIndex, err))
		if job.Count > 0 {
			// Earlier batches' items stay persisted; the job record has
			// to say so.
			partial := true
			msg := fmt.Sprintf("failed, %d items from earlier batches retained", job.Count)
			if patchErr := p.jobs.PatchJob(jobID, jobstore.Patch{IsPartial: &partial, Message: &msg}); patchErr != nil {
				slog.Warn("Failed to record retained item count", "job_id", jobID, "error", patchErr)
			}
		}
		return BatchResult{}, err
	}

	final := batchIndex == len(plan.Batches)-1
	newCount := job.Count + produced
	partial := job.IsPartial || aborted
	patch := jobstore.Patch{Count: &newCount, IsPartial: &partial, TestIDCounts: counters}
	msg := fmt.Sprintf("batch %d/%d complete (%d items)", batchIndex+1, len(plan.Batches), newCount)
	patch.Message = &msg
	if final {
		status := jobstore.StatusCompleted
		stage := jobstore.StageDone
		patch.Status = &status
		patch.Stage = &stage
	}
	if err := p.jobs.PatchJob(jobID, patch); err != nil {
		slog.Error("Failed to record batch completion", "job_id", jobID, "error", err)
	}

	slog.Info("Plan batch finished",
		"job_id", jobID, "plan_id", planID, "batch", batchIndex,
		"items", produced, "aborted", aborted, "final", final)
	return BatchResult{ItemsProduced: produced, Aborted: aborted}, nil
}

// ensureJob loads the accumulating job, creating it on the first batch call.
func (p *Planner) ensureJob(jobID string, plan jobstore.TestPlan) (jobstore.Job, error) {
	job, err := p.jobs.GetJob(jobID)
	if errors.Is(err, jobstore.ErrNotFound) {
		job = jobstore.Job{
			ID:        jobID,
			ProjectID: plan.ProjectID,
			Status:    jobstore.StatusRunning,
			Stage:     jobstore.StageGeneration,
			Message:   "executing plan " + plan.ID,
		}
		if createErr := p.jobs.CreateJob(job); createErr != nil {
			return jobstore.Job{}, fmt.Errorf("create plan job: %w", createErr)
		}
		return p.jobs.GetJob(jobID)
	}
	if err != nil {
		return jobstore.Job{}, err
	}
	if job.Status.Terminal() {
		return jobstore.Job{}, fmt.Errorf("job %s is already %s", jobID, job.Status)
	}
	return job, nil
}

// runBatchStages executes retrieval through persistence for one batch without
// touching the job's terminal state. The job stays in the generation stage
// across batches so the stage sequence remains monotonic. The testId counters
// are seeded from the previous batches and returned updated so ids stay
// unique per categoryMajor across the whole plan.
func (p *Planner) runBatchStages(ctx context.Context, jobID string, seed map[string]int, req Request) (int, bool, map[string]int, error) {
	chunkSets := p.pipeline.retrieveAll(ctx, req)
	assembly := Assemble(chunkSets, p.pipeline.config.Assembler)
	systemPrompt, userPrompt := BuildPrompts(req.ProjectName, req.TargetSystem, assembly, req.Options)

	content, aborted, err := p.pipeline.driver.Run(ctx, jobID, systemPrompt, userPrompt, llm.GenerationParams{})
	if err != nil {
		return 0, false, nil, err
	}

	items, counters, err := ParseItemsSeeded(content, assembly.Refs, seed)
	if err != nil {
		return 0, false, nil, err
	}
	for i := range items {
		items[i].ProjectID = req.ProjectID
	}

	if _, err := p.pipeline.items.SaveItems(ctx, req.ProjectID, items); err != nil {
		return 0, false, nil, fmt.Errorf("persist items: %w", err)
	}
	return len(items), aborted, counters, nil
}

// ragBreakdown counts available evidence per category for the planning call.
func (p *Planner) ragBreakdown(ctx context.Context, req PlanRequest) map[string]int {
	pipelineReq := Request{
		ProjectID:    req.ProjectID,
		ProjectName:  req.ProjectName,
		TargetSystem: req.TargetSystem,
	}
	chunkSets := p.pipeline.retrieveAll(ctx, pipelineReq)
	breakdown := make(map[string]int, len(CategoryOrder))
	for i, category := range CategoryOrder {
		breakdown[string(category)] = len(chunkSets[i])
	}
	return breakdown
}

func buildPlanningPrompt(req PlanRequest, breakdown map[string]int) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Project: %s\nTarget system under test: %s\n\n", req.ProjectName, req.TargetSystem)
	fmt.Fprintf(&b, "Plan a test suite of %d test cases, split into batches of at most %d.\n", req.TotalItems, req.BatchSize)

	if len(req.Weights) > 0 {
		b.WriteString("Distribute cases across perspectives as follows:\n")
		for _, p := range Perspectives {
			if w, ok := req.Weights[p]; ok && w > 0 {
				fmt.Fprintf(&b, "- %s: %d\n", p, w)
			}
		}
	} else if len(req.Perspectives) > 0 {
		names := make([]string, len(req.Perspectives))
		for i, p := range req.Perspectives {
			names[i] = string(p)
		}
		fmt.Fprintf(&b, "Cover these perspectives: %s\n", strings.Join(names, ", "))
	}

	b.WriteString("\nAvailable evidence chunks per category:\n")
	for _, category := range CategoryOrder {
		fmt.Fprintf(&b, "- %s: %d\n", category, breakdown[string(category)])
	}

	b.WriteString(`
Output a single JSON array of batches. Each element must have exactly these fields:
{
  "category": "feature area, e.g. Login",
  "perspective": "one of: functional, boundary, error_handling, security, performance, usability",
  "titles": ["planned test title", "..."],
  "count": 5
}
"count" must equal the number of titles. Do not wrap the array in markdown fences.`)
	return b.String()
}
