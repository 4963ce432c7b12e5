// Copyright (C) 2026 CaseForge AI (dev@caseforge.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package extensions

import (
	"context"
	"time"
)

// AuditEvent represents a security-relevant event.
//
// Event types follow a "category.action" convention, for example
// "plan.approve", "evidence.delete", or "job.start". UserID and Timestamp
// should always be populated; implementations set Timestamp to the current
// UTC time when it is zero.
type AuditEvent struct {
	// EventType categorizes the event, e.g. "plan.approve".
	EventType string

	// Timestamp is when the event occurred, in UTC.
	Timestamp time.Time

	// UserID identifies who performed the action.
	// Use "system" for background work.
	UserID string

	// Action is the operation attempted: "create", "delete", "approve".
	Action string

	// ResourceType is the category of resource involved.
	// Examples: "plan", "job", "evidence_doc", "test_item"
	ResourceType string

	// ResourceID is the specific resource instance, if any.
	ResourceID string

	// Outcome is "success", "failure", or "error".
	Outcome string

	// Metadata holds additional event-specific data.
	Metadata map[string]any
}

// AuditLogger records security-relevant events.
//
// Implementations must be safe for concurrent use and should return
// quickly; buffer internally if the backing store is slow. The default
// NopAuditLogger discards everything, which suits single-user local
// deployments with no compliance requirements.
type AuditLogger interface {
	// Log records one event. Implementations set Timestamp when zero.
	Log(ctx context.Context, event AuditEvent) error

	// Flush persists any buffered events. Call before shutdown.
	Flush(ctx context.Context) error
}

// NopAuditLogger discards all events.
type NopAuditLogger struct{}

// Log discards the event and always succeeds.
func (l *NopAuditLogger) Log(ctx context.Context, event AuditEvent) error {
	return nil
}

// Flush is a no-op since nothing is buffered.
func (l *NopAuditLogger) Flush(ctx context.Context) error {
	return nil
}

var _ AuditLogger = (*NopAuditLogger)(nil)
