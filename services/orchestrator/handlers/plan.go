// Copyright (C) 2026 CaseForge AI (dev@caseforge.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package handlers

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/caseforge-ai/caseforge/pkg/extensions"
	"github.com/caseforge-ai/caseforge/services/generation"
	"github.com/caseforge-ai/caseforge/services/jobstore"
	"github.com/caseforge-ai/caseforge/services/orchestrator/datatypes"
)

// CreatePlan runs the planning completion and returns the draft plan.
func CreatePlan(planner *generation.Planner) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, span := generationTracer.Start(c.Request.Context(), "CreatePlan")
		defer span.End()

		var request datatypes.CreatePlanRequest
		if err := c.BindJSON(&request); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			slog.Error("Failed to bind plan request JSON", "error", err)
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
			return
		}
		if err := request.Validate(); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		span.SetAttributes(
			attribute.String("project.id", request.ProjectID),
			attribute.Int("plan.total_items", request.TotalItems),
		)

		plan, err := planner.CreatePlan(ctx, generation.PlanRequest{
			ProjectID:    request.ProjectID,
			ProjectName:  request.ProjectName,
			TargetSystem: request.TargetSystem,
			TotalItems:   request.TotalItems,
			BatchSize:    request.BatchSize,
			Perspectives: toPerspectives(request.Perspectives),
			Weights:      toWeights(request.Weights),
		})
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			slog.Error("Failed to create plan", "project_id", request.ProjectID, "error", err)
			c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
			return
		}

		c.JSON(http.StatusCreated, plan)
	}
}

// GetPlan returns a stored plan by id.
func GetPlan(jobs *jobstore.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		planID := c.Param("planId")

		plan, err := jobs.GetPlan(planID)
		if errors.Is(err, jobstore.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "plan expired or unknown", "plan_id": planID})
			return
		}
		if err != nil {
			slog.Error("Failed to read plan", "plan_id", planID, "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to read plan"})
			return
		}

		c.JSON(http.StatusOK, plan)
	}
}

// UpdatePlan re-saves an edited draft plan. Approved plans are immutable.
func UpdatePlan(planner *generation.Planner) gin.HandlerFunc {
	return func(c *gin.Context) {
		planID := c.Param("planId")

		var plan jobstore.TestPlan
		if err := c.BindJSON(&plan); err != nil {
			slog.Error("Failed to bind plan JSON", "plan_id", planID, "error", err)
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
			return
		}
		plan.ID = planID

		updated, err := planner.UpdatePlan(plan)
		if errors.Is(err, jobstore.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "plan expired or unknown", "plan_id": planID})
			return
		}
		if err != nil {
			slog.Error("Failed to update plan", "plan_id", planID, "error", err)
			c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
			return
		}

		c.JSON(http.StatusOK, updated)
	}
}

// ApprovePlan freezes a draft plan for execution.
func ApprovePlan(planner *generation.Planner, audit extensions.AuditLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		planID := c.Param("planId")

		plan, err := planner.ApprovePlan(planID)
		if errors.Is(err, jobstore.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "plan expired or unknown", "plan_id": planID})
			return
		}
		if err != nil {
			slog.Error("Failed to approve plan", "plan_id", planID, "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to approve plan"})
			return
		}

		recordAudit(c, audit, "plan.approve", "approve", "plan", planID)
		slog.Info("Approved plan", "plan_id", planID, "batches", len(plan.Batches))
		c.JSON(http.StatusOK, plan)
	}
}

// RunBatch executes one batch of an approved plan. The external driver loop
// calls this once per batch; produced items accumulate into the given job.
func RunBatch(planner *generation.Planner) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, span := generationTracer.Start(c.Request.Context(), "RunBatch")
		defer span.End()

		var request datatypes.RunBatchRequest
		if err := c.BindJSON(&request); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			slog.Error("Failed to bind batch request JSON", "error", err)
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
			return
		}
		if err := request.Validate(); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		span.SetAttributes(
			attribute.String("job.id", request.JobID),
			attribute.String("plan.id", request.PlanID),
			attribute.Int("plan.batch_index", request.BatchIndex),
		)

		result, err := planner.RunBatch(ctx, request.JobID, request.PlanID, request.BatchIndex)
		if errors.Is(err, jobstore.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "plan expired or unknown", "plan_id": request.PlanID})
			return
		}
		if errors.Is(err, generation.ErrPlanNotApproved) {
			c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
			return
		}
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			slog.Error("Batch execution failed",
				"job_id", request.JobID, "plan_id", request.PlanID,
				"batch_index", request.BatchIndex, "error", err)
			c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
			return
		}

		c.JSON(http.StatusOK, result)
	}
}
