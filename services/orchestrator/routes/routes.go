// Copyright (C) 2026 CaseForge AI (dev@caseforge.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package routes

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/weaviate/weaviate-go-client/v5/weaviate"

	"github.com/caseforge-ai/caseforge/pkg/extensions"
	"github.com/caseforge-ai/caseforge/services/generation"
	"github.com/caseforge-ai/caseforge/services/itemstore"
	"github.com/caseforge-ai/caseforge/services/jobstore"
	"github.com/caseforge-ai/caseforge/services/llm"
	"github.com/caseforge-ai/caseforge/services/orchestrator/handlers"
	"github.com/caseforge-ai/caseforge/services/orchestrator/middleware"
)

func SetupRoutes(router *gin.Engine, client *weaviate.Client, embedder llm.Embedder,
	pipeline *generation.Pipeline, planner *generation.Planner,
	jobs *jobstore.Store, items *itemstore.Store, opts extensions.ServiceOptions) {

	router.GET("/health", handlers.HealthCheck)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// API version 1 group
	v1 := router.Group("/v1")
	v1.Use(middleware.AuthMiddleware(opts.AuthProvider))
	{
		v1.POST("/generate", handlers.StartGeneration(pipeline))
		v1.GET("/jobs/:jobId", handlers.GetJobStatus(jobs))

		// Plan administration routes
		plans := v1.Group("/plans")
		{
			plans.POST("", handlers.CreatePlan(planner))
			plans.GET("/:planId", handlers.GetPlan(jobs))
			plans.PUT("/:planId", handlers.UpdatePlan(planner))
			plans.POST("/:planId/approve", handlers.ApprovePlan(planner, opts.AuditLogger))
			plans.POST("/run", handlers.RunBatch(planner))
		}

		// Evidence and item routes need the vector index. In lightweight
		// mode they are not registered, so clients get 404 instead of a
		// request-time failure.
		if client != nil {
			v1.POST("/evidence", handlers.IngestEvidence(client, embedder))
			v1.DELETE("/evidence", handlers.DeleteEvidenceDoc(client, opts.AuditLogger))

			v1.GET("/projects/:projectId/items", handlers.ListTestItems(items))
			v1.DELETE("/items/:itemId", handlers.DeleteTestItem(items, opts.AuditLogger))
		}
	}
}
