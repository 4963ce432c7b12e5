// Copyright (C) 2026 CaseForge AI (dev@caseforge.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package itemstore persists generated test items in Weaviate. Items are
// written in deterministic-id batches and soft-deleted, never removed.
package itemstore

import (
	"context"
	"crypto/sha256"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-openapi/strfmt"
	"github.com/google/uuid"
	"github.com/weaviate/weaviate-go-client/v5/weaviate"
	"github.com/weaviate/weaviate-go-client/v5/weaviate/filters"
	"github.com/weaviate/weaviate-go-client/v5/weaviate/graphql"
	"github.com/weaviate/weaviate/entities/models"

	"github.com/caseforge-ai/caseforge/services/generation"
	"github.com/caseforge-ai/caseforge/services/orchestrator/datatypes"
)

// ItemClass is the Weaviate class holding generated test items.
const ItemClass = "TestItem"

// Store wraps the Weaviate client for test-item persistence.
type Store struct {
	client *weaviate.Client
}

var _ generation.ItemSaver = (*Store)(nil)

// New creates a store over an initialized Weaviate client.
func New(client *weaviate.Client) *Store {
	return &Store{client: client}
}

// SaveItems persists a batch of parsed items and returns the ids written.
//
// Object ids are derived from (projectId, testId, title) so re-running the
// same batch overwrites its previous records instead of duplicating them.
// Individual item failures are logged and skipped; the batch as a whole only
// fails on a transport error.
func (s *Store) SaveItems(ctx context.Context, projectID string, items []generation.TestItem) ([]string, error) {
	if len(items) == 0 {
		return nil, nil
	}
	if s.client == nil {
		return nil, errors.New("no vector index configured for item storage")
	}

	now := time.Now().UnixMilli()
	objects := make([]*models.Object, len(items))
	ids := make([]string, len(items))
	for i, item := range items {
		id := deterministicID(projectID, item.TestID, item.Title)
		ids[i] = id

		stepsJSON, err := json.Marshal(item.Steps)
		if err != nil {
			return nil, fmt.Errorf("encode steps for %s: %w", item.TestID, err)
		}
		refsJSON, err := json.Marshal(item.SourceRefs)
		if err != nil {
			return nil, fmt.Errorf("encode source refs for %s: %w", item.TestID, err)
		}

		props := datatypes.TestItemProperties{
			ProjectID:      projectID,
			TestID:         item.TestID,
			CategoryMajor:  item.CategoryMajor,
			CategoryMinor:  item.CategoryMinor,
			Perspective:    string(item.Perspective),
			Title:          item.Title,
			Precondition:   item.Precondition,
			StepsJSON:      string(stepsJSON),
			ExpectedResult: item.ExpectedResult,
			Priority:       string(item.Priority),
			Automatable:    string(item.Automatable),
			OrderIndex:     item.OrderIndex,
			IsDeleted:      false,
			SourceRefsJSON: string(refsJSON),
			CreatedAt:      now,
		}
		objects[i] = &models.Object{
			Class:      ItemClass,
			ID:         strfmt.UUID(id),
			Properties: props.ToMap(),
		}
	}

	resp, err := s.client.Batch().ObjectsBatcher().WithObjects(objects...).Do(ctx)
	if err != nil {
		slog.Error("Failed to perform batch import to Weaviate", "error", err)
		return nil, fmt.Errorf("failed to save items to Weaviate: %w", err)
	}

	saved := 0
	hasErrors := false
	for _, item := range resp {
		if item.Result != nil && item.Result.Status != nil && *item.Result.Status == "SUCCESS" {
			saved++
			continue
		}
		hasErrors = true
		if item.Result != nil && item.Result.Errors != nil && len(item.Result.Errors.Error) > 0 {
			for _, errItem := range item.Result.Errors.Error {
				slog.Warn("Error in Weaviate batch item", "project_id", projectID, "error", errItem.Message)
			}
		} else {
			slog.Warn("Failed Weaviate batch item, no error provided", "project_id", projectID)
		}
	}
	if hasErrors {
		slog.Warn("Errors encountered during Weaviate batch import",
			"project_id", projectID, "successful_items", saved)
	}

	slog.Info("Saved test items", "project_id", projectID, "items", saved)
	return ids, nil
}

// itemQueryResponse mirrors the GraphQL response shape for TestItem.
type itemQueryResponse struct {
	Get struct {
		TestItem []itemResult `json:"TestItem"`
	} `json:"Get"`
}

type itemResult struct {
	ProjectID      string `json:"project_id"`
	TestID         string `json:"test_id"`
	CategoryMajor  string `json:"category_major"`
	CategoryMinor  string `json:"category_minor"`
	Perspective    string `json:"perspective"`
	Title          string `json:"title"`
	Precondition   string `json:"precondition"`
	StepsJSON      string `json:"steps_json"`
	ExpectedResult string `json:"expected_result"`
	Priority       string `json:"priority"`
	Automatable    string `json:"automatable"`
	OrderIndex     *int   `json:"order_index"`
	IsDeleted      *bool  `json:"is_deleted"`
	SourceRefsJSON string `json:"source_refs_json"`
	Additional     struct {
		ID string `json:"id"`
	} `json:"_additional"`
}

// ListByProject returns a project's live items ordered by order_index.
// Soft-deleted items are filtered out server-side.
func (s *Store) ListByProject(ctx context.Context, projectID string) ([]generation.TestItem, error) {
	projectFilter := filters.Where().
		WithPath([]string{"project_id"}).
		WithOperator(filters.Equal).
		WithValueString(projectID)
	liveFilter := filters.Where().
		WithPath([]string{"is_deleted"}).
		WithOperator(filters.Equal).
		WithValueBoolean(false)
	combined := filters.Where().
		WithOperator(filters.And).
		WithOperands([]*filters.WhereBuilder{projectFilter, liveFilter})

	fields := []graphql.Field{
		{Name: "project_id"},
		{Name: "test_id"},
		{Name: "category_major"},
		{Name: "category_minor"},
		{Name: "perspective"},
		{Name: "title"},
		{Name: "precondition"},
		{Name: "steps_json"},
		{Name: "expected_result"},
		{Name: "priority"},
		{Name: "automatable"},
		{Name: "order_index"},
		{Name: "is_deleted"},
		{Name: "source_refs_json"},
		{Name: "_additional", Fields: []graphql.Field{
			{Name: "id"},
		}},
	}

	sortByOrder := graphql.Sort{Path: []string{"order_index"}, Order: graphql.Asc}

	result, err := s.client.GraphQL().Get().
		WithClassName(ItemClass).
		WithFields(fields...).
		WithWhere(combined).
		WithSort(sortByOrder).
		WithLimit(10000).
		Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("query test items: %w", err)
	}

	parsed, err := datatypes.ParseGraphQLResponse[itemQueryResponse](result)
	if err != nil {
		return nil, fmt.Errorf("parse test item results: %w", err)
	}

	items := make([]generation.TestItem, 0, len(parsed.Get.TestItem))
	for _, res := range parsed.Get.TestItem {
		items = append(items, toDomain(res))
	}
	return items, nil
}

// SoftDelete flags one item as deleted without removing the record.
func (s *Store) SoftDelete(ctx context.Context, itemID string) error {
	err := s.client.Data().Updater().
		WithClassName(ItemClass).
		WithID(itemID).
		WithProperties(map[string]interface{}{"is_deleted": true}).
		WithMerge().
		Do(ctx)
	if err != nil {
		return fmt.Errorf("soft delete item %s: %w", itemID, err)
	}
	slog.Info("Soft-deleted test item", "item_id", itemID)
	return nil
}

func toDomain(res itemResult) generation.TestItem {
	orderIndex := 0
	if res.OrderIndex != nil {
		orderIndex = *res.OrderIndex
	}
	deleted := false
	if res.IsDeleted != nil {
		deleted = *res.IsDeleted
	}

	var steps []string
	if res.StepsJSON != "" {
		if err := json.Unmarshal([]byte(res.StepsJSON), &steps); err != nil {
			slog.Warn("Malformed steps payload on stored item", "test_id", res.TestID, "error", err)
		}
	}
	var refs []generation.SourceRef
	if res.SourceRefsJSON != "" {
		if err := json.Unmarshal([]byte(res.SourceRefsJSON), &refs); err != nil {
			slog.Warn("Malformed source refs payload on stored item", "test_id", res.TestID, "error", err)
		}
	}

	return generation.TestItem{
		ID:             res.Additional.ID,
		ProjectID:      res.ProjectID,
		TestID:         res.TestID,
		CategoryMajor:  res.CategoryMajor,
		CategoryMinor:  res.CategoryMinor,
		Perspective:    generation.Perspective(res.Perspective),
		Title:          res.Title,
		Precondition:   res.Precondition,
		Steps:          steps,
		ExpectedResult: res.ExpectedResult,
		Priority:       generation.Priority(res.Priority),
		Automatable:    generation.Automatable(res.Automatable),
		OrderIndex:     orderIndex,
		IsDeleted:      deleted,
		SourceRefs:     refs,
	}
}

// deterministicID derives a stable object id from the item's identity so a
// re-run upserts rather than duplicates.
func deterministicID(projectID, testID, title string) string {
	hash := sha256.Sum256([]byte(projectID + "|" + testID + "|" + title))
	id, _ := uuid.FromBytes(hash[:16])
	return id.String()
}
