// Copyright (C) 2026 CaseForge AI (dev@caseforge.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package generation

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/caseforge-ai/caseforge/services/jobstore"
	"github.com/caseforge-ai/caseforge/services/llm"
	"github.com/caseforge-ai/caseforge/services/orchestrator/observability"
)

var pipelineTracer = otel.Tracer("caseforge.generation.pipeline")

// ItemSaver persists parsed test items. Implemented by the item store; kept
// as an interface here so the pipeline does not depend on the storage layer.
type ItemSaver interface {
	SaveItems(ctx context.Context, projectID string, items []TestItem) ([]string, error)
}

// Request describes one generation run.
type Request struct {
	ProjectID    string
	ProjectName  string
	TargetSystem string

	// Query seeds evidence retrieval. When empty, the project name and
	// target system are used.
	Query string

	// TopK is the per-category retrieval limit.
	TopK int

	Options PromptOptions

	// Model is a display-only override recorded on the job.
	Model string
}

func (r Request) retrievalQuery() string {
	if strings.TrimSpace(r.Query) != "" {
		return r.Query
	}
	return strings.TrimSpace(r.ProjectName + " " + r.TargetSystem)
}

// PipelineConfig tunes one pipeline instance.
type PipelineConfig struct {
	// TopK is the default per-category retrieval limit when a request does
	// not set one.
	TopK int

	// JobTimeout bounds one whole job run, retrieval through persistence.
	JobTimeout time.Duration

	Assembler AssemblerConfig
	Driver    DriverConfig
}

// DefaultPipelineConfig returns production defaults.
func DefaultPipelineConfig() PipelineConfig {
	return PipelineConfig{
		TopK:       8,
		JobTimeout: 15 * time.Minute,
		Assembler:  DefaultAssemblerConfig(),
		Driver:     DefaultDriverConfig(),
	}
}

func (c PipelineConfig) normalized() PipelineConfig {
	defaults := DefaultPipelineConfig()
	if c.TopK <= 0 {
		c.TopK = defaults.TopK
	}
	if c.JobTimeout <= 0 {
		c.JobTimeout = defaults.JobTimeout
	}
	c.Assembler = c.Assembler.normalized()
	c.Driver = c.Driver.normalized()
	return c
}

// Pipeline runs generation jobs end to end: evidence retrieval, context
// assembly, prompt construction, streaming completion, parsing, persistence.
// All observable progress flows through the job store.
type Pipeline struct {
	retriever *Retriever
	driver    *Driver
	jobs      *jobstore.Store
	items     ItemSaver
	config    PipelineConfig
}

// NewPipeline wires a pipeline from its stages.
func NewPipeline(retriever *Retriever, driver *Driver, jobs *jobstore.Store, items ItemSaver, config PipelineConfig) *Pipeline {
	return &Pipeline{
		retriever: retriever,
		driver:    driver,
		jobs:      jobs,
		items:     items,
		config:    config.normalized(),
	}
}

// StartJob creates a pending job record and launches the run in the
// background. The returned job id is immediately pollable; the HTTP request
// that triggered the job does not wait for it.
func (p *Pipeline) StartJob(req Request) (string, error) {
	jobID := uuid.NewString()
	job := jobstore.Job{
		ID:        jobID,
		ProjectID: req.ProjectID,
		Status:    jobstore.StatusPending,
		Stage:     jobstore.StageRetrieval,
		Message:   "queued",
		Model:     req.Model,
	}
	if err := p.jobs.CreateJob(job); err != nil {
		return "", fmt.Errorf("create job record: %w", err)
	}

	go func() {
		// Detached from the HTTP request context on purpose: the job
		// outlives the request that started it.
		ctx, cancel := context.WithTimeout(context.Background(), p.config.JobTimeout)
		defer cancel()
		p.runJob(ctx, jobID, req)
	}()

	return jobID, nil
}

// runJob executes the stages for one job, recording every transition in the
// job store. The job always ends terminal: completed or error.
func (p *Pipeline) runJob(ctx context.Context, jobID string, req Request) {
	ctx, span := pipelineTracer.Start(ctx, "Pipeline.runJob")
	defer span.End()
	span.SetAttributes(
		attribute.String("job.id", jobID),
		attribute.String("project.id", req.ProjectID),
	)

	if m := observability.DefaultMetrics; m != nil {
		m.JobStarted()
		defer m.JobEnded()
	}

	start := time.Now()
	p.transition(jobID, jobstore.StatusRunning, jobstore.StageRetrieval, "retrieving evidence")

	chunkSets := p.retrieveAll(ctx, req)
	if m := observability.DefaultMetrics; m != nil {
		m.RecordStageDuration(jobstore.StageRetrieval.String(), time.Since(start).Seconds())
	}

	p.advance(jobID, jobstore.StagePromptBuild, "assembling context")
	assembly := Assemble(chunkSets, p.config.Assembler)
	systemPrompt, userPrompt := BuildPrompts(req.ProjectName, req.TargetSystem, assembly, req.Options)
	span.SetAttributes(attribute.Int("context.refs", assembly.Refs.Len()))

	p.advance(jobID, jobstore.StageGeneration, "generating test cases")
	genStart := time.Now()
	content, aborted, err := p.driver.Run(ctx, jobID, systemPrompt, userPrompt, llm.GenerationParams{})
	if m := observability.DefaultMetrics; m != nil {
		m.RecordStageDuration(jobstore.StageGeneration.String(), time.Since(genStart).Seconds())
	}
	if err != nil {
		p.fail(ctx, span, jobID, fmt.Errorf("completion failed: %w", err))
		return
	}

	items, err := ParseItems(content, assembly.Refs)
	if err != nil {
		p.fail(ctx, span, jobID, fmt.Errorf("parse model output: %w", err))
		return
	}
	for i := range items {
		items[i].ProjectID = req.ProjectID
	}

	p.advance(jobID, jobstore.StagePersistence, fmt.Sprintf("saving %d items", len(items)))
	if _, err := p.items.SaveItems(ctx, req.ProjectID, items); err != nil {
		p.fail(ctx, span, jobID, fmt.Errorf("persist items: %w", err))
		return
	}

	status := jobstore.StatusCompleted
	stage := jobstore.StageDone
	count := len(items)
	msg := "completed"
	if aborted {
		msg = "completed with partial output"
	}
	patchErr := p.jobs.PatchJob(jobID, jobstore.Patch{
		Status:    &status,
		Stage:     &stage,
		Count:     &count,
		Message:   &msg,
		IsPartial: &aborted,
	})
	if patchErr != nil {
		slog.Error("Failed to mark job completed", "job_id", jobID, "error", patchErr)
	}
	if m := observability.DefaultMetrics; m != nil {
		outcome := observability.OutcomeCompleted
		if aborted {
			outcome = observability.OutcomePartial
		}
		m.RecordJob(outcome)
		m.RecordItems(req.ProjectID, count)
	}
	slog.Info("Generation job finished",
		"job_id", jobID, "project_id", req.ProjectID,
		"items", count, "partial", aborted, "duration", time.Since(start))
}

// retrieveAll fans retrieval out across the evidence categories. A failing
// category degrades to an empty result set; generation proceeds with
// whatever evidence the healthy categories produced.
func (p *Pipeline) retrieveAll(ctx context.Context, req Request) [][]EvidenceChunk {
	topK := req.TopK
	if topK <= 0 {
		topK = p.config.TopK
	}
	query := req.retrievalQuery()

	chunkSets := make([][]EvidenceChunk, len(CategoryOrder))
	g, gctx := errgroup.WithContext(ctx)
	for i, category := range CategoryOrder {
		g.Go(func() error {
			chunks, err := p.retriever.Retrieve(gctx, query, req.ProjectID, topK, category)
			if err != nil {
				slog.Warn("Evidence retrieval failed, continuing without category",
					"category", category, "error", err)
				if m := observability.DefaultMetrics; m != nil {
					m.RecordRetrievalFailure(string(category))
				}
				return nil
			}
			chunkSets[i] = chunks
			if m := observability.DefaultMetrics; m != nil {
				m.RecordEvidence(string(category), len(chunks))
			}
			return nil
		})
	}
	// Workers only ever return nil; the group is used for the fan-out and
	// the shared cancel context.
	_ = g.Wait()
	return chunkSets
}

func (p *Pipeline) transition(jobID string, status jobstore.Status, stage jobstore.Stage, msg string) {
	err := p.jobs.PatchJob(jobID, jobstore.Patch{Status: &status, Stage: &stage, Message: &msg})
	if err != nil {
		slog.Warn("Failed to record job transition", "job_id", jobID, "stage", stage, "error", err)
	}
}

func (p *Pipeline) advance(jobID string, stage jobstore.Stage, msg string) {
	err := p.jobs.PatchJob(jobID, jobstore.Patch{Stage: &stage, Message: &msg})
	if err != nil {
		slog.Warn("Failed to record job stage", "job_id", jobID, "stage", stage, "error", err)
	}
}

func (p *Pipeline) fail(ctx context.Context, span trace.Span, jobID string, err error) {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	slog.Error("Generation job failed", "job_id", jobID, "error", err)

	if m := observability.DefaultMetrics; m != nil {
		m.RecordJob(observability.OutcomeError)
	}

	status := jobstore.StatusError
	errMsg := err.Error()
	msg := "failed"
	patchErr := p.jobs.PatchJob(jobID, jobstore.Patch{Status: &status, Error: &errMsg, Message: &msg})
	if patchErr != nil {
		slog.Error("Failed to mark job errored", "job_id", jobID, "error", patchErr)
	}
}
