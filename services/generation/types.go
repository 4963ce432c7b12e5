// Copyright (C) 2026 CaseForge AI (dev@caseforge.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package generation implements the test-case generation pipeline: evidence
// retrieval, context assembly with stable citations, prompt construction,
// deadline-bounded streaming completion, structured-output repair/parsing,
// and batch/plan orchestration.
package generation

import "fmt"

// =============================================================================
// Evidence Categories
// =============================================================================

// Category classifies a piece of retrieved evidence.
type Category string

const (
	CategorySpecDoc      Category = "spec_doc"
	CategoryKnowledge    Category = "knowledge"
	CategorySiteAnalysis Category = "site_analysis"
	CategorySourceCode   Category = "source_code"

	// CategoryUnknown tags a citation whose refId could not be resolved
	// against the reference map. Never produced by retrieval.
	CategoryUnknown Category = "unknown"
)

// CategoryOrder is the fixed assembly order. Reference ids are allocated over
// the deduplicated chunk sequence in this order, so the same context always
// yields the same refId for the same chunk within one invocation.
var CategoryOrder = []Category{
	CategorySpecDoc,
	CategoryKnowledge,
	CategorySiteAnalysis,
	CategorySourceCode,
}

// ParseCategory validates a category string from an API request.
func ParseCategory(s string) (Category, error) {
	switch Category(s) {
	case CategorySpecDoc, CategoryKnowledge, CategorySiteAnalysis, CategorySourceCode:
		return Category(s), nil
	}
	return "", fmt.Errorf("unknown evidence category %q", s)
}

// =============================================================================
// Evidence
// =============================================================================

// EvidenceChunk is an immutable unit of retrieved text. Identity is
// (DocID, ChunkIndex); chunks are never mutated after retrieval.
type EvidenceChunk struct {
	ProjectID  string   `json:"project_id"`
	DocID      string   `json:"doc_id"`
	ChunkIndex int      `json:"chunk_index"`
	Filename   string   `json:"filename"`
	Category   Category `json:"category"`
	Text       string   `json:"text"`
	PageURL    string   `json:"page_url,omitempty"`
	Score      float64  `json:"score"`
}

// identityKey is the dedup key for a chunk across category result sets.
func (c EvidenceChunk) identityKey() string {
	return fmt.Sprintf("%s#%d", c.DocID, c.ChunkIndex)
}

// ReferenceMapEntry binds a refId ("REF-N") to the evidence it stands for.
// Entries are immutable for the lifetime of one prompt/response cycle; the
// refId is the only identifier the model is allowed to cite.
type ReferenceMapEntry struct {
	RefID    string   `json:"ref_id"`
	Filename string   `json:"filename"`
	Category Category `json:"category"`
	Excerpt  string   `json:"excerpt"`
	PageURL  string   `json:"page_url,omitempty"`
}

// ReferenceMap is the ordered reference list for one pipeline invocation plus
// an index by refId. The exact map used to build a prompt must be the one
// handed to the parser; it is never regenerated in between.
type ReferenceMap struct {
	Entries []ReferenceMapEntry
	byID    map[string]ReferenceMapEntry
}

// Lookup resolves a refId. The second return is false on a citation miss.
func (m ReferenceMap) Lookup(refID string) (ReferenceMapEntry, bool) {
	e, ok := m.byID[refID]
	return e, ok
}

// Len returns the number of entries.
func (m ReferenceMap) Len() int { return len(m.Entries) }

// =============================================================================
// Test Items (domain records)
// =============================================================================

// Perspective is the closed enum of test perspectives.
type Perspective string

const (
	PerspectiveFunctional    Perspective = "functional"
	PerspectiveBoundary      Perspective = "boundary"
	PerspectiveErrorHandling Perspective = "error_handling"
	PerspectiveSecurity      Perspective = "security"
	PerspectivePerformance   Perspective = "performance"
	PerspectiveUsability     Perspective = "usability"
)

// DefaultPerspective is used when the model emits an unknown or missing
// perspective value.
const DefaultPerspective = PerspectiveFunctional

// Perspectives lists every valid perspective in presentation order.
var Perspectives = []Perspective{
	PerspectiveFunctional,
	PerspectiveBoundary,
	PerspectiveErrorHandling,
	PerspectiveSecurity,
	PerspectivePerformance,
	PerspectiveUsability,
}

func normalizePerspective(s string) Perspective {
	for _, p := range Perspectives {
		if s == string(p) {
			return p
		}
	}
	return DefaultPerspective
}

// Priority is the closed enum of test priorities.
type Priority string

const (
	PriorityHigh   Priority = "HIGH"
	PriorityMedium Priority = "MEDIUM"
	PriorityLow    Priority = "LOW"
)

func normalizePriority(s string) Priority {
	switch Priority(s) {
	case PriorityHigh, PriorityMedium, PriorityLow:
		return Priority(s)
	}
	return PriorityMedium
}

// Automatable is the closed enum of automation feasibility ratings.
type Automatable string

const (
	AutomatableYes      Automatable = "YES"
	AutomatableNo       Automatable = "NO"
	AutomatableConsider Automatable = "CONSIDER"
)

func normalizeAutomatable(s string) Automatable {
	switch Automatable(s) {
	case AutomatableYes, AutomatableNo, AutomatableConsider:
		return Automatable(s)
	}
	return AutomatableConsider
}

// SourceRef attributes a generated item to a piece of evidence. On a citation
// miss the ref is kept with Category "unknown" carrying only the model's
// justification, never dropped.
type SourceRef struct {
	RefID    string   `json:"ref_id"`
	Filename string   `json:"filename,omitempty"`
	Category Category `json:"category"`
	Excerpt  string   `json:"excerpt,omitempty"`
	PageURL  string   `json:"page_url,omitempty"`
}

// TestItem is the parsed output unit of one generation run.
//
// TestID is synthesized from a per-CategoryMajor running counter as items are
// parsed in response order (e.g. "Lo-001" for the first "Login" item); it is
// never taken from the model. Items are soft-deleted, never hard-deleted.
type TestItem struct {
	ID             string      `json:"id"`
	ProjectID      string      `json:"project_id"`
	TestID         string      `json:"test_id"`
	CategoryMajor  string      `json:"category_major"`
	CategoryMinor  string      `json:"category_minor"`
	Perspective    Perspective `json:"perspective"`
	Title          string      `json:"title"`
	Precondition   string      `json:"precondition"`
	Steps          []string    `json:"steps"`
	ExpectedResult string      `json:"expected_result"`
	Priority       Priority    `json:"priority"`
	Automatable    Automatable `json:"automatable"`
	OrderIndex     int         `json:"order_index"`
	IsDeleted      bool        `json:"is_deleted"`
	SourceRefs     []SourceRef `json:"source_refs,omitempty"`
}
