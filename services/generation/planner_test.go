// Copyright (C) 2026 CaseForge AI (dev@caseforge.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package generation

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/caseforge-ai/caseforge/services/jobstore"
)

const planResponse = `[
	{"category":"Login","perspective":"functional","titles":["valid login","invalid login"],"count":2},
	{"category":"Cart","perspective":"nonsense","titles":["add item"]}
]`

func newTestPlanner(t *testing.T, client *scriptedClient, saver ItemSaver) (*Planner, *jobstore.Store) {
	t.Helper()

	pipeline, jobs := newTestPipeline(t, client, saver)
	return NewPlanner(client, pipeline, jobs), jobs
}

func TestCreatePlan_Draft(t *testing.T) {
	client := &scriptedClient{completeResponse: planResponse}
	planner, jobs := newTestPlanner(t, client, &memorySaver{})

	plan, err := planner.CreatePlan(context.Background(), PlanRequest{
		ProjectID:    "proj-1",
		ProjectName:  "Shop",
		TargetSystem: "checkout",
		TotalItems:   20,
	})
	require.NoError(t, err)

	assert.Equal(t, jobstore.PlanDraft, plan.Status)
	assert.Equal(t, "proj-1", plan.ProjectID)
	assert.Equal(t, 20, plan.TotalItems)
	assert.Equal(t, 10, plan.BatchSize)
	require.Len(t, plan.Batches, 2)

	assert.NotEmpty(t, plan.Batches[0].BatchID)
	assert.Equal(t, "Login", plan.Batches[0].Category)
	assert.Equal(t, 2, plan.Batches[0].Count)

	// Missing count falls back to the title count; unknown perspectives
	// normalize to the default.
	assert.Equal(t, 1, plan.Batches[1].Count)
	assert.Equal(t, string(DefaultPerspective), plan.Batches[1].Perspective)

	// Retrieval is degraded in tests, so the breakdown is all zeros but
	// still lists every category.
	assert.Len(t, plan.RagBreakdown, len(CategoryOrder))

	// The draft is pollable from the store.
	stored, err := jobs.GetPlan(plan.ID)
	require.NoError(t, err)
	assert.Equal(t, jobstore.PlanDraft, stored.Status)
}

func TestCreatePlan_RejectsNonPositiveTotal(t *testing.T) {
	planner, _ := newTestPlanner(t, &scriptedClient{}, &memorySaver{})

	_, err := planner.CreatePlan(context.Background(), PlanRequest{ProjectID: "proj-1"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "total items must be positive")
}

func TestCreatePlan_UnparseableResponse(t *testing.T) {
	client := &scriptedClient{completeResponse: "no array here"}
	planner, _ := newTestPlanner(t, client, &memorySaver{})

	_, err := planner.CreatePlan(context.Background(), PlanRequest{ProjectID: "proj-1", TotalItems: 5})
	require.Error(t, err)

	var parseErr *ParseError
	assert.ErrorAs(t, err, &parseErr)
}

func TestUpdatePlan_DraftOnly(t *testing.T) {
	client := &scriptedClient{completeResponse: planResponse}
	planner, _ := newTestPlanner(t, client, &memorySaver{})

	plan, err := planner.CreatePlan(context.Background(), PlanRequest{ProjectID: "proj-1", TotalItems: 5})
	require.NoError(t, err)

	// Edit a title and add a batch without an id.
	plan.Batches[0].Titles = []string{"renamed title"}
	plan.Batches = append(plan.Batches, jobstore.TestPlanBatch{
		Category: "Search", Perspective: "boundary", Titles: []string{"empty query"}, Count: 1,
	})
	// Client-supplied fields that must not stick.
	plan.ProjectID = "someone-elses-project"
	plan.Status = jobstore.PlanApproved

	updated, err := planner.UpdatePlan(plan)
	require.NoError(t, err)
	assert.Equal(t, "proj-1", updated.ProjectID)
	assert.Equal(t, jobstore.PlanDraft, updated.Status)
	require.Len(t, updated.Batches, 3)
	assert.Equal(t, []string{"renamed title"}, updated.Batches[0].Titles)
	assert.NotEmpty(t, updated.Batches[2].BatchID)

	// Approved plans are frozen.
	_, err = planner.ApprovePlan(plan.ID)
	require.NoError(t, err)
	_, err = planner.UpdatePlan(updated)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "can no longer be edited")
}

func TestApprovePlan_Idempotent(t *testing.T) {
	client := &scriptedClient{completeResponse: planResponse}
	planner, _ := newTestPlanner(t, client, &memorySaver{})

	plan, err := planner.CreatePlan(context.Background(), PlanRequest{ProjectID: "proj-1", TotalItems: 5})
	require.NoError(t, err)

	approved, err := planner.ApprovePlan(plan.ID)
	require.NoError(t, err)
	assert.Equal(t, jobstore.PlanApproved, approved.Status)

	again, err := planner.ApprovePlan(plan.ID)
	require.NoError(t, err)
	assert.Equal(t, jobstore.PlanApproved, again.Status)
}

func TestApprovePlan_UnknownID(t *testing.T) {
	planner, _ := newTestPlanner(t, &scriptedClient{}, &memorySaver{})

	_, err := planner.ApprovePlan("missing")
	assert.ErrorIs(t, err, jobstore.ErrNotFound)
}

func TestRunBatch_RequiresApproval(t *testing.T) {
	client := &scriptedClient{completeResponse: planResponse}
	planner, _ := newTestPlanner(t, client, &memorySaver{})

	plan, err := planner.CreatePlan(context.Background(), PlanRequest{ProjectID: "proj-1", TotalItems: 5})
	require.NoError(t, err)

	_, err = planner.RunBatch(context.Background(), "job-1", plan.ID, 0)
	assert.ErrorIs(t, err, ErrPlanNotApproved)
}

func TestRunBatch_AccumulatesAcrossBatches(t *testing.T) {
	client := &scriptedClient{
		completeResponse: planResponse,
		streamTokens:     []string{twoItemResponse},
	}
	saver := &memorySaver{}
	planner, jobs := newTestPlanner(t, client, saver)

	plan, err := planner.CreatePlan(context.Background(), PlanRequest{ProjectID: "proj-1", TotalItems: 4})
	require.NoError(t, err)
	_, err = planner.ApprovePlan(plan.ID)
	require.NoError(t, err)

	result, err := planner.RunBatch(context.Background(), "batch-job", plan.ID, 0)
	require.NoError(t, err)
	assert.Equal(t, 2, result.ItemsProduced)
	assert.False(t, result.Aborted)

	job, err := jobs.GetJob("batch-job")
	require.NoError(t, err)
	assert.Equal(t, jobstore.StatusRunning, job.Status)
	assert.Equal(t, 2, job.Count)

	// The last batch finishes the job.
	result, err = planner.RunBatch(context.Background(), "batch-job", plan.ID, 1)
	require.NoError(t, err)
	assert.Equal(t, 2, result.ItemsProduced)

	job, err = jobs.GetJob("batch-job")
	require.NoError(t, err)
	assert.Equal(t, jobstore.StatusCompleted, job.Status)
	assert.Equal(t, jobstore.StageDone, job.Stage)
	assert.Equal(t, 4, job.Count)
	require.Len(t, saver.saved, 4)

	// Both batches emit Login items; testIds must stay unique within the
	// project instead of restarting at Lo-001 per batch.
	seen := make(map[string]bool)
	for _, item := range saver.saved {
		key := item.CategoryMajor + "/" + item.TestID
		assert.False(t, seen[key], "testId %s assigned twice", key)
		seen[key] = true
	}
	assert.True(t, seen["Login/Lo-003"])
	assert.True(t, seen["Login/Lo-004"])
}

func TestRunBatch_FailedBatchMarksRetainedItemsPartial(t *testing.T) {
	// The first batch succeeds, the second returns nothing parseable. The
	// job fails but must flag that earlier batches' items survive.
	client := &scriptedClient{
		completeResponse: planResponse,
		streamQueue: [][]string{
			{twoItemResponse},
			{"I cannot produce JSON today."},
		},
	}
	saver := &memorySaver{}
	planner, jobs := newTestPlanner(t, client, saver)

	plan, err := planner.CreatePlan(context.Background(), PlanRequest{ProjectID: "proj-1", TotalItems: 4})
	require.NoError(t, err)
	_, err = planner.ApprovePlan(plan.ID)
	require.NoError(t, err)

	_, err = planner.RunBatch(context.Background(), "batch-job", plan.ID, 0)
	require.NoError(t, err)

	_, err = planner.RunBatch(context.Background(), "batch-job", plan.ID, 1)
	require.Error(t, err)

	job, err := jobs.GetJob("batch-job")
	require.NoError(t, err)
	assert.Equal(t, jobstore.StatusError, job.Status)
	assert.True(t, job.IsPartial)
	assert.Equal(t, 2, job.Count)
	assert.Contains(t, job.Message, "2 items from earlier batches retained")
	assert.Len(t, saver.saved, 2)
}

func TestRunBatch_IndexOutOfRange(t *testing.T) {
	client := &scriptedClient{completeResponse: planResponse}
	planner, _ := newTestPlanner(t, client, &memorySaver{})

	plan, err := planner.CreatePlan(context.Background(), PlanRequest{ProjectID: "proj-1", TotalItems: 5})
	require.NoError(t, err)
	_, err = planner.ApprovePlan(plan.ID)
	require.NoError(t, err)

	_, err = planner.RunBatch(context.Background(), "job-1", plan.ID, 5)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "out of range")
}

func TestRunBatch_RejectsTerminalJob(t *testing.T) {
	client := &scriptedClient{
		completeResponse: planResponse,
		streamTokens:     []string{twoItemResponse},
	}
	planner, jobs := newTestPlanner(t, client, &memorySaver{})

	plan, err := planner.CreatePlan(context.Background(), PlanRequest{ProjectID: "proj-1", TotalItems: 4})
	require.NoError(t, err)
	_, err = planner.ApprovePlan(plan.ID)
	require.NoError(t, err)

	require.NoError(t, jobs.CreateJob(jobstore.Job{ID: "done-job", Status: jobstore.StatusCompleted}))

	_, err = planner.RunBatch(context.Background(), "done-job", plan.ID, 0)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already completed")
}
