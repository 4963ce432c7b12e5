// Copyright (C) 2026 CaseForge AI (dev@caseforge.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package generation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/caseforge-ai/caseforge/services/jobstore"
	"github.com/caseforge-ai/caseforge/services/llm"
	"github.com/caseforge-ai/caseforge/services/orchestrator/observability"
)

var driverTracer = otel.Tracer("caseforge.generation.driver")

// DriverConfig bounds one streaming completion call.
type DriverConfig struct {
	// AbortDeadline is the wall-clock budget for a single completion. When
	// it expires the stream is cut and whatever accumulated is salvaged.
	AbortDeadline time.Duration

	// CheckpointChars is how many new characters must accumulate before the
	// next progress checkpoint is written to the job store.
	CheckpointChars int
}

// DefaultDriverConfig returns production defaults.
func DefaultDriverConfig() DriverConfig {
	return DriverConfig{
		AbortDeadline:   10 * time.Minute,
		CheckpointChars: 2000,
	}
}

func (c DriverConfig) normalized() DriverConfig {
	defaults := DefaultDriverConfig()
	if c.AbortDeadline <= 0 {
		c.AbortDeadline = defaults.AbortDeadline
	}
	if c.CheckpointChars <= 0 {
		c.CheckpointChars = defaults.CheckpointChars
	}
	return c
}

// Driver runs deadline-bounded streaming completions and checkpoints
// accumulated progress to the job store so pollers can observe a long
// generation advancing.
type Driver struct {
	client llm.CompletionClient
	jobs   *jobstore.Store
	config DriverConfig
}

// NewDriver creates a driver. jobs may be nil, in which case progress
// checkpoints are skipped and only the completion result is returned.
func NewDriver(client llm.CompletionClient, jobs *jobstore.Store, config DriverConfig) *Driver {
	return &Driver{
		client: client,
		jobs:   jobs,
		config: config.normalized(),
	}
}

// Run streams one completion to the end or to the abort deadline, whichever
// comes first.
//
// # Outputs
//
//   - content: Everything streamed so far, even when aborted.
//   - aborted: True when the deadline cut the stream. Deadline expiry is not
//     an error; the caller decides whether the partial text is usable.
//   - error: A *TransportError on any failure other than the deadline. The
//     partial content is still returned alongside it.
func (d *Driver) Run(ctx context.Context, jobID, systemPrompt, userPrompt string, params llm.GenerationParams) (string, bool, error) {
	ctx, span := driverTracer.Start(ctx, "Driver.Run")
	defer span.End()
	span.SetAttributes(attribute.String("job.id", jobID))

	streamCtx, cancel := context.WithTimeout(ctx, d.config.AbortDeadline)
	defer cancel()

	var buf strings.Builder
	var streamErr string
	nextCheckpoint := d.config.CheckpointChars

	callback := func(event llm.StreamEvent) error {
		switch event.Type {
		case llm.StreamEventToken:
			buf.WriteString(event.Content)
			if buf.Len() >= nextCheckpoint {
				d.checkpoint(jobID, buf.Len())
				for nextCheckpoint <= buf.Len() {
					nextCheckpoint += d.config.CheckpointChars
				}
			}
		case llm.StreamEventError:
			streamErr = event.Error
		case llm.StreamEventDone:
			// Completion finished; nothing to record.
		}
		return nil
	}

	err := d.client.CompleteStream(streamCtx, systemPrompt, userPrompt, params, callback)
	content := buf.Len()
	span.SetAttributes(attribute.Int("completion.chars", content))

	if err != nil {
		// The deadline firing is salvage, not failure. Cancellation from
		// above is a real error and propagates.
		if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
			slog.Warn("Completion hit abort deadline, salvaging partial output",
				"job_id", jobID, "chars", content, "deadline", d.config.AbortDeadline)
			span.SetAttributes(attribute.Bool("completion.aborted", true))
			if m := observability.DefaultMetrics; m != nil {
				m.RecordStreamAbort()
			}
			return buf.String(), true, nil
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return buf.String(), false, &TransportError{Op: "stream completion", Err: err}
	}
	if streamErr != "" {
		err := fmt.Errorf("provider stream error: %s", streamErr)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return buf.String(), false, &TransportError{Op: "stream completion", Err: err}
	}

	return buf.String(), false, nil
}

// checkpoint writes a monotonic progress marker. Checkpoint failures are
// logged and swallowed; progress reporting must never kill a generation.
func (d *Driver) checkpoint(jobID string, chars int) {
	if d.jobs == nil || jobID == "" {
		return
	}
	msg := fmt.Sprintf("generation streaming (%d chars)", chars)
	err := d.jobs.PatchJob(jobID, jobstore.Patch{
		Progress: &chars,
		Message:  &msg,
	})
	if err != nil {
		slog.Warn("Failed to checkpoint job progress", "job_id", jobID, "error", err)
	}
}
