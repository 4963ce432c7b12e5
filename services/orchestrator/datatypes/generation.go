// Copyright (C) 2026 CaseForge AI (dev@caseforge.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package datatypes

import (
	"github.com/go-playground/validator/v10"

	"github.com/caseforge-ai/caseforge/pkg/validation"
)

// =============================================================================
// Shared Validator Instance
// =============================================================================

// generationValidate is the validator instance for generation datatypes.
// Initialized in init() with custom validators.
var generationValidate *validator.Validate

func init() {
	generationValidate = validator.New()

	// Project and document ids flow into GraphQL where clauses and must
	// match the safe identifier shape.
	_ = generationValidate.RegisterValidation("identifier", validateIdentifier)
}

// validateIdentifier checks a string field against the safe identifier
// pattern shared with the URL-parameter validation.
func validateIdentifier(fl validator.FieldLevel) bool {
	return validation.ValidateProjectID(fl.Field().String()) == nil
}

// =============================================================================
// Generation Requests
// =============================================================================

// GenerateRequest starts one asynchronous generation job.
type GenerateRequest struct {
	ProjectID    string `json:"project_id" validate:"required,identifier"`
	ProjectName  string `json:"project_name"`
	TargetSystem string `json:"target_system"`

	// Query seeds evidence retrieval. Optional; defaults to the project
	// name and target system.
	Query string `json:"query"`

	// Count is the requested number of test cases. Ignored when
	// PerspectiveWeights is set.
	Count int `json:"count" validate:"omitempty,gt=0"`

	Perspectives       []string       `json:"perspectives" validate:"omitempty,dive,oneof=functional boundary error_handling security performance usability"`
	PerspectiveWeights map[string]int `json:"perspective_weights"`
	FocusPages         []string       `json:"focus_pages"`
	PromptOverride     string         `json:"prompt_override"`
	TopK               int            `json:"top_k" validate:"omitempty,gt=0,lte=50"`
	Model              string         `json:"model"`
}

// Validate checks the request after JSON binding.
func (r *GenerateRequest) Validate() error {
	return generationValidate.Struct(r)
}

// GenerateResponse returns the id of the started job.
type GenerateResponse struct {
	JobID string `json:"job_id"`
}

// CreatePlanRequest runs the planning completion for a large request.
type CreatePlanRequest struct {
	ProjectID    string         `json:"project_id" validate:"required,identifier"`
	ProjectName  string         `json:"project_name"`
	TargetSystem string         `json:"target_system"`
	TotalItems   int            `json:"total_items" validate:"required,gt=0"`
	BatchSize    int            `json:"batch_size" validate:"omitempty,gt=0,lte=50"`
	Perspectives []string       `json:"perspectives" validate:"omitempty,dive,oneof=functional boundary error_handling security performance usability"`
	Weights      map[string]int `json:"weights"`
}

// Validate checks the request after JSON binding.
func (r *CreatePlanRequest) Validate() error {
	return generationValidate.Struct(r)
}

// RunBatchRequest executes one batch of an approved plan.
type RunBatchRequest struct {
	JobID      string `json:"job_id" validate:"required"`
	PlanID     string `json:"plan_id" validate:"required"`
	BatchIndex int    `json:"batch_index" validate:"gte=0"`
}

// Validate checks the request after JSON binding.
func (r *RunBatchRequest) Validate() error {
	return generationValidate.Struct(r)
}

// IngestEvidenceRequest adds one evidence document to the vector index. The
// document is chunked and embedded server-side.
type IngestEvidenceRequest struct {
	ProjectID string `json:"project_id" validate:"required,identifier"`
	DocID     string `json:"doc_id" validate:"omitempty,identifier"`
	Filename  string `json:"filename" validate:"required"`
	Category  string `json:"category" validate:"required,oneof=spec_doc knowledge site_analysis source_code"`
	Content   string `json:"content" validate:"required"`
	PageURL   string `json:"page_url"`
}

// Validate checks the request after JSON binding.
func (r *IngestEvidenceRequest) Validate() error {
	return generationValidate.Struct(r)
}

// IngestEvidenceResponse reports how many chunks were written.
type IngestEvidenceResponse struct {
	DocID         string `json:"doc_id"`
	ChunksCreated int    `json:"chunks_created"`
}
