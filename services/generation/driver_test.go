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
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/caseforge-ai/caseforge/services/jobstore"
	"github.com/caseforge-ai/caseforge/services/llm"
)

// scriptedClient replays a fixed completion script. Shared by the driver,
// pipeline and planner tests.
type scriptedClient struct {
	completeResponse string
	completeErr      error

	streamTokens []string
	// streamQueue holds per-call token scripts. Each CompleteStream call
	// consumes one entry before falling back to streamTokens.
	streamQueue  [][]string
	streamEvtErr string
	streamRetErr error
	lastUser     string
}

func (c *scriptedClient) Complete(_ context.Context, _, userPrompt string, _ llm.GenerationParams) (string, error) {
	c.lastUser = userPrompt
	return c.completeResponse, c.completeErr
}

func (c *scriptedClient) CompleteStream(_ context.Context, _, userPrompt string, _ llm.GenerationParams, callback llm.StreamCallback) error {
	c.lastUser = userPrompt
	tokens := c.streamTokens
	if len(c.streamQueue) > 0 {
		tokens = c.streamQueue[0]
		c.streamQueue = c.streamQueue[1:]
	}
	for _, token := range tokens {
		if err := callback(llm.StreamEvent{Type: llm.StreamEventToken, Content: token}); err != nil {
			return err
		}
	}
	if c.streamEvtErr != "" {
		if err := callback(llm.StreamEvent{Type: llm.StreamEventError, Error: c.streamEvtErr}); err != nil {
			return err
		}
		return nil
	}
	if c.streamRetErr != nil {
		return c.streamRetErr
	}
	return callback(llm.StreamEvent{Type: llm.StreamEventDone})
}

func TestDriverRun_Success(t *testing.T) {
	client := &scriptedClient{streamTokens: []string{"[{", `"a":1`, "}]"}}
	driver := NewDriver(client, nil, DriverConfig{})

	content, aborted, err := driver.Run(context.Background(), "job-1", "sys", "user", llm.GenerationParams{})

	require.NoError(t, err)
	assert.False(t, aborted)
	assert.Equal(t, `[{"a":1}]`, content)
}

func TestDriverRun_DeadlineSalvagesPartial(t *testing.T) {
	// The stream's own deadline firing is salvage, not failure.
	client := &scriptedClient{
		streamTokens: []string{"partial ", "output"},
		streamRetErr: context.DeadlineExceeded,
	}
	driver := NewDriver(client, nil, DriverConfig{})

	content, aborted, err := driver.Run(context.Background(), "job-1", "sys", "user", llm.GenerationParams{})

	require.NoError(t, err)
	assert.True(t, aborted)
	assert.Equal(t, "partial output", content)
}

func TestDriverRun_ParentDeadlineIsError(t *testing.T) {
	// A deadline imposed from above is a real cancellation, not salvage.
	ctx, cancel := context.WithDeadline(context.Background(), time.Now().Add(-time.Second))
	defer cancel()

	client := &scriptedClient{
		streamTokens: []string{"some"},
		streamRetErr: context.DeadlineExceeded,
	}
	driver := NewDriver(client, nil, DriverConfig{})

	content, aborted, err := driver.Run(ctx, "job-1", "sys", "user", llm.GenerationParams{})

	require.Error(t, err)
	var transportErr *TransportError
	assert.ErrorAs(t, err, &transportErr)
	assert.False(t, aborted)
	assert.Equal(t, "some", content)
}

func TestDriverRun_TransportFailureReturnsPartial(t *testing.T) {
	client := &scriptedClient{
		streamTokens: []string{"half"},
		streamRetErr: errors.New("connection reset"),
	}
	driver := NewDriver(client, nil, DriverConfig{})

	content, aborted, err := driver.Run(context.Background(), "job-1", "sys", "user", llm.GenerationParams{})

	require.Error(t, err)
	var transportErr *TransportError
	require.ErrorAs(t, err, &transportErr)
	assert.Equal(t, "stream completion", transportErr.Op)
	assert.False(t, aborted)
	assert.Equal(t, "half", content)
}

func TestDriverRun_ProviderStreamError(t *testing.T) {
	client := &scriptedClient{
		streamTokens: []string{"pre"},
		streamEvtErr: "model overloaded",
	}
	driver := NewDriver(client, nil, DriverConfig{})

	_, aborted, err := driver.Run(context.Background(), "job-1", "sys", "user", llm.GenerationParams{})

	require.Error(t, err)
	assert.Contains(t, err.Error(), "model overloaded")
	assert.False(t, aborted)
}

func TestDriverRun_CheckpointsProgress(t *testing.T) {
	jobs, err := jobstore.OpenInMemory()
	require.NoError(t, err)
	defer jobs.Close()

	require.NoError(t, jobs.CreateJob(jobstore.Job{
		ID:     "job-ckpt",
		Status: jobstore.StatusRunning,
		Stage:  jobstore.StageGeneration,
	}))

	client := &scriptedClient{streamTokens: []string{"0123456789", "0123456789", "0123456789"}}
	driver := NewDriver(client, jobs, DriverConfig{CheckpointChars: 10})

	content, aborted, err := driver.Run(context.Background(), "job-ckpt", "sys", "user", llm.GenerationParams{})
	require.NoError(t, err)
	assert.False(t, aborted)
	assert.Len(t, content, 30)

	job, err := jobs.GetJob("job-ckpt")
	require.NoError(t, err)
	assert.GreaterOrEqual(t, job.Progress, 10)
	assert.Contains(t, job.Message, "streaming")
}

func TestDriverRun_NilJobStoreSkipsCheckpoints(t *testing.T) {
	client := &scriptedClient{streamTokens: []string{"0123456789012345678901234567890"}}
	driver := NewDriver(client, nil, DriverConfig{CheckpointChars: 5})

	content, _, err := driver.Run(context.Background(), "", "sys", "user", llm.GenerationParams{})

	require.NoError(t, err)
	assert.NotEmpty(t, content)
}
