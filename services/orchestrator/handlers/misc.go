// Copyright (C) 2026 CaseForge AI (dev@caseforge.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package handlers

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/caseforge-ai/caseforge/pkg/extensions"
	"github.com/caseforge-ai/caseforge/services/orchestrator/middleware"
)

// HealthCheck reports service liveness.
func HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// recordAudit emits an audit event for a completed mutating request.
// Audit failures are logged, never surfaced to the caller.
func recordAudit(c *gin.Context, audit extensions.AuditLogger, eventType, action, resourceType, resourceID string) {
	userID := "anonymous"
	if info := middleware.GetAuthInfo(c); info != nil {
		userID = info.UserID
	}

	event := extensions.AuditEvent{
		EventType:    eventType,
		Timestamp:    time.Now().UTC(),
		UserID:       userID,
		Action:       action,
		ResourceType: resourceType,
		ResourceID:   resourceID,
		Outcome:      "success",
	}
	if err := audit.Log(c.Request.Context(), event); err != nil {
		slog.Warn("Audit log write failed", "event_type", eventType, "error", err)
	}
}
