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
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/caseforge-ai/caseforge/pkg/extensions"
	"github.com/caseforge-ai/caseforge/pkg/validation"
	"github.com/caseforge-ai/caseforge/services/generation"
	"github.com/caseforge-ai/caseforge/services/itemstore"
	"github.com/caseforge-ai/caseforge/services/jobstore"
	"github.com/caseforge-ai/caseforge/services/orchestrator/datatypes"
)

var generationTracer = otel.Tracer("caseforge.orchestrator.handlers")

// StartGeneration launches an asynchronous generation job and returns its id.
// The job proceeds independently of this request's connection lifetime.
func StartGeneration(pipeline *generation.Pipeline) gin.HandlerFunc {
	return func(c *gin.Context) {
		_, span := generationTracer.Start(c.Request.Context(), "StartGeneration")
		defer span.End()

		var request datatypes.GenerateRequest
		if err := c.BindJSON(&request); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			slog.Error("Failed to bind generation request JSON", "error", err)
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
			return
		}
		if err := request.Validate(); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		span.SetAttributes(
			attribute.String("project.id", request.ProjectID),
			attribute.Int("request.count", request.Count),
		)

		req := generation.Request{
			ProjectID:    request.ProjectID,
			ProjectName:  request.ProjectName,
			TargetSystem: request.TargetSystem,
			Query:        request.Query,
			TopK:         request.TopK,
			Model:        request.Model,
			Options: generation.PromptOptions{
				TargetCount:        request.Count,
				Perspectives:       toPerspectives(request.Perspectives),
				PerspectiveWeights: toWeights(request.PerspectiveWeights),
				FocusPages:         request.FocusPages,
				PromptOverride:     request.PromptOverride,
			},
		}

		jobID, err := pipeline.StartJob(req)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			slog.Error("Failed to start generation job", "project_id", request.ProjectID, "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to start generation job"})
			return
		}
		span.SetAttributes(attribute.String("job.id", jobID))

		slog.Info("Started generation job", "job_id", jobID, "project_id", request.ProjectID)
		c.JSON(http.StatusAccepted, datatypes.GenerateResponse{JobID: jobID})
	}
}

// GetJobStatus returns the durable job record for polling clients.
//
// An expired or unknown job id returns 404 with a "job expired" cause, which
// clients must treat as distinct from a job whose status is "error".
func GetJobStatus(jobs *jobstore.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		jobID := c.Param("jobId")

		job, err := jobs.GetJob(jobID)
		if errors.Is(err, jobstore.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "job expired or unknown", "job_id": jobID})
			return
		}
		if err != nil {
			slog.Error("Failed to read job", "job_id", jobID, "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to read job"})
			return
		}

		c.JSON(http.StatusOK, job)
	}
}

// ListTestItems returns a project's live test items in display order.
func ListTestItems(store *itemstore.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, span := generationTracer.Start(c.Request.Context(), "ListTestItems")
		defer span.End()

		projectID := c.Param("projectId")
		if err := validation.ValidateProjectID(projectID); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		span.SetAttributes(attribute.String("project.id", projectID))

		items, err := store.ListByProject(ctx, projectID)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			slog.Error("Failed to list test items", "project_id", projectID, "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to list test items"})
			return
		}

		c.JSON(http.StatusOK, gin.H{"project_id": projectID, "count": len(items), "items": items})
	}
}

// DeleteTestItem soft-deletes one item. The record remains for audit.
func DeleteTestItem(store *itemstore.Store, audit extensions.AuditLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, span := generationTracer.Start(c.Request.Context(), "DeleteTestItem")
		defer span.End()

		itemID := c.Param("itemId")
		span.SetAttributes(attribute.String("item.id", itemID))

		if err := store.SoftDelete(ctx, itemID); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			slog.Error("Failed to delete test item", "item_id", itemID, "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to delete test item"})
			return
		}

		recordAudit(c, audit, "test_item.delete", "delete", "test_item", itemID)
		c.JSON(http.StatusOK, gin.H{"deleted": itemID})
	}
}

func toPerspectives(names []string) []generation.Perspective {
	if len(names) == 0 {
		return nil
	}
	out := make([]generation.Perspective, len(names))
	for i, name := range names {
		out[i] = generation.Perspective(name)
	}
	return out
}

func toWeights(weights map[string]int) map[generation.Perspective]int {
	if len(weights) == 0 {
		return nil
	}
	out := make(map[generation.Perspective]int, len(weights))
	for name, w := range weights {
		out[generation.Perspective(name)] = w
	}
	return out
}
