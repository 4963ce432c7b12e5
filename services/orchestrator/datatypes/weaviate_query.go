// Copyright (C) 2026 CaseForge AI (dev@caseforge.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package datatypes

import (
	"encoding/json"
	"fmt"

	"github.com/weaviate/weaviate/entities/models"
)

// =============================================================================
// Generic GraphQL Response Parser
// =============================================================================

// ParseGraphQLResponse parses a Weaviate GraphQL response into the target type.
//
// # Description
//
// This generic function encapsulates the marshal/unmarshal pattern required to
// convert Weaviate's dynamic response (map[string]models.JSONObject) into a
// strongly-typed Go struct. The target type T must have json tags matching
// the expected response shape.
//
// # Type Parameters
//
//   - T: The target struct type with json tags matching the response shape.
//
// # Inputs
//
//   - resp: The GraphQL response from Weaviate client's Do() method.
//
// # Outputs
//
//   - *T: Pointer to the parsed struct.
//   - error: Non-nil if response is nil or parsing fails.
//
// # Example
//
//	type ItemResponse struct {
//	    Get struct {
//	        TestItem []struct {
//	            TestID string `json:"test_id"`
//	        } `json:"TestItem"`
//	    } `json:"Get"`
//	}
//
//	resp, err := client.GraphQL().Get().WithClassName("TestItem").Do(ctx)
//	if err != nil { ... }
//
//	parsed, err := ParseGraphQLResponse[ItemResponse](resp)
//	if err != nil { ... }
//
// # Limitations
//
//   - Requires the target type to exactly match the expected response structure.
//   - Type mismatches will result in zero values, not errors.
//
// # Assumptions
//
//   - The response Data field is JSON-marshalable.
//   - The target type T has correct json tags.
func ParseGraphQLResponse[T any](resp *models.GraphQLResponse) (*T, error) {
	if resp == nil {
		return nil, fmt.Errorf("nil GraphQL response")
	}

	respBytes, err := json.Marshal(resp.Data)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal GraphQL response data: %w", err)
	}

	var result T
	if err := json.Unmarshal(respBytes, &result); err != nil {
		return nil, fmt.Errorf("failed to unmarshal into target type: %w", err)
	}

	return &result, nil
}

// =============================================================================
// Property Structs
// =============================================================================

// EvidenceProperties represents the properties for creating an EvidenceChunk
// object in Weaviate.
type EvidenceProperties struct {
	ProjectID  string `json:"project_id"`
	DocID      string `json:"doc_id"`
	ChunkIndex int    `json:"chunk_index"`
	Filename   string `json:"filename"`
	Category   string `json:"category"`
	Text       string `json:"text"`
	PageURL    string `json:"page_url"`
	IngestedAt int64  `json:"ingested_at"`
}

// ToMap converts EvidenceProperties to the map format required by Weaviate's
// WithProperties() method.
func (p *EvidenceProperties) ToMap() map[string]interface{} {
	return map[string]interface{}{
		"project_id":  p.ProjectID,
		"doc_id":      p.DocID,
		"chunk_index": p.ChunkIndex,
		"filename":    p.Filename,
		"category":    p.Category,
		"text":        p.Text,
		"page_url":    p.PageURL,
		"ingested_at": p.IngestedAt,
	}
}

// TestItemProperties represents the properties for creating a TestItem object
// in Weaviate. Steps and source refs are stored JSON-encoded because Weaviate
// has no nested object type that survives GraphQL round-trips cleanly.
type TestItemProperties struct {
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
	OrderIndex     int    `json:"order_index"`
	IsDeleted      bool   `json:"is_deleted"`
	SourceRefsJSON string `json:"source_refs_json"`
	CreatedAt      int64  `json:"created_at"`
}

// ToMap converts TestItemProperties to the map format required by Weaviate's
// WithProperties() method.
func (p *TestItemProperties) ToMap() map[string]interface{} {
	return map[string]interface{}{
		"project_id":       p.ProjectID,
		"test_id":          p.TestID,
		"category_major":   p.CategoryMajor,
		"category_minor":   p.CategoryMinor,
		"perspective":      p.Perspective,
		"title":            p.Title,
		"precondition":     p.Precondition,
		"steps_json":       p.StepsJSON,
		"expected_result":  p.ExpectedResult,
		"priority":         p.Priority,
		"automatable":      p.Automatable,
		"order_index":      p.OrderIndex,
		"is_deleted":       p.IsDeleted,
		"source_refs_json": p.SourceRefsJSON,
		"created_at":       p.CreatedAt,
	}
}
