// Copyright (C) 2026 CaseForge AI (dev@caseforge.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package generation

import (
	"fmt"
	"strings"
)

// =============================================================================
// Configuration
// =============================================================================

// SectionBudgets caps the rendered character length per evidence category.
// Truncation is a hard slice, not sentence-aware; that lossiness is accepted.
type SectionBudgets map[Category]int

// AssemblerConfig holds context-assembly tuning. The budgets were tuned
// empirically; they are configuration, not correctness properties.
type AssemblerConfig struct {
	// Budgets is the per-category rendered-section character cap.
	Budgets SectionBudgets

	// ExcerptChars bounds the reference-map excerpt taken from each
	// chunk's text.
	ExcerptChars int
}

// DefaultAssemblerConfig returns the production defaults: a larger budget for
// specification documents, smaller for site/structure summaries.
func DefaultAssemblerConfig() AssemblerConfig {
	return AssemblerConfig{
		Budgets: SectionBudgets{
			CategorySpecDoc:      24000,
			CategoryKnowledge:    16000,
			CategorySiteAnalysis: 8000,
			CategorySourceCode:   12000,
		},
		ExcerptChars: 160,
	}
}

func (c AssemblerConfig) normalized() AssemblerConfig {
	defaults := DefaultAssemblerConfig()
	if c.Budgets == nil {
		c.Budgets = defaults.Budgets
	}
	if c.ExcerptChars <= 0 {
		c.ExcerptChars = defaults.ExcerptChars
	}
	return c
}

// =============================================================================
// Assembly
// =============================================================================

// Assembly is the output of one context-assembly pass: the deduplicated
// ordered chunk list, the reference map built over it, and the rendered
// per-category sections. The reference map handed to the parser must be this
// exact one; it is never regenerated between prompt build and parse.
type Assembly struct {
	Chunks   []EvidenceChunk
	Refs     ReferenceMap
	Sections map[Category]string
}

// Empty reports whether assembly produced no evidence at all.
func (a Assembly) Empty() bool { return len(a.Chunks) == 0 }

// Assemble merges per-category chunk sets into a bounded, deduplicated
// context.
//
// Chunk sets are concatenated in the order given (callers pass them in
// CategoryOrder). Duplicates by (DocID, ChunkIndex) keep the first
// occurrence, so the earlier category wins ties. Sequential refIds are
// allocated over the deduplicated sequence: the same chunk never receives two
// refIds within one invocation.
func Assemble(chunkSets [][]EvidenceChunk, cfg AssemblerConfig) Assembly {
	cfg = cfg.normalized()

	seen := make(map[string]bool)
	var ordered []EvidenceChunk
	for _, set := range chunkSets {
		for _, chunk := range set {
			key := chunk.identityKey()
			if seen[key] {
				continue
			}
			seen[key] = true
			ordered = append(ordered, chunk)
		}
	}

	refs := ReferenceMap{byID: make(map[string]ReferenceMapEntry, len(ordered))}
	for i, chunk := range ordered {
		entry := ReferenceMapEntry{
			RefID:    fmt.Sprintf("REF-%d", i+1),
			Filename: chunk.Filename,
			Category: chunk.Category,
			Excerpt:  truncate(chunk.Text, cfg.ExcerptChars),
			PageURL:  chunk.PageURL,
		}
		refs.Entries = append(refs.Entries, entry)
		refs.byID[entry.RefID] = entry
	}

	return Assembly{
		Chunks:   ordered,
		Refs:     refs,
		Sections: renderSections(ordered, refs, cfg.Budgets),
	}
}

// renderSections renders each category's surviving chunks into a labeled text
// block, hard-sliced to the category budget.
func renderSections(chunks []EvidenceChunk, refs ReferenceMap, budgets SectionBudgets) map[Category]string {
	var builders = make(map[Category]*strings.Builder)
	for i, chunk := range chunks {
		b, ok := builders[chunk.Category]
		if !ok {
			b = &strings.Builder{}
			builders[chunk.Category] = b
		}
		fmt.Fprintf(b, "[%s] %s\n%s\n\n", refs.Entries[i].RefID, chunk.Filename, chunk.Text)
	}

	sections := make(map[Category]string, len(builders))
	for category, b := range builders {
		text := strings.TrimRight(b.String(), "\n")
		if budget, ok := budgets[category]; ok {
			text = truncate(text, budget)
		}
		sections[category] = text
	}
	return sections
}

func truncate(s string, max int) string {
	if max > 0 && len(s) > max {
		return s[:max]
	}
	return s
}
