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

// PromptOptions enumerates every recognized generation option. It is a closed
// configuration struct; there are no dynamic option bags.
type PromptOptions struct {
	// TargetCount is the flat number of items to request.
	TargetCount int

	// Perspectives restricts generation to the listed perspectives. Empty
	// means all perspectives.
	Perspectives []Perspective

	// PerspectiveWeights, when non-empty, takes precedence over
	// TargetCount: its sum becomes the authoritative target count and the
	// prompt states the per-perspective distribution.
	PerspectiveWeights map[Perspective]int

	// FocusPages restricts scope to the listed pages or screens.
	FocusPages []string

	// BatchTitles pins a batch run to the titles its plan proposed. The
	// model may refine wording but must cover each listed title.
	BatchTitles []string

	// PromptOverride replaces the default system prompt when non-empty.
	PromptOverride string
}

// EffectiveCount returns the authoritative item count: the weight sum when
// weights are present, TargetCount otherwise.
func (o PromptOptions) EffectiveCount() int {
	if len(o.PerspectiveWeights) > 0 {
		sum := 0
		for _, w := range o.PerspectiveWeights {
			sum += w
		}
		return sum
	}
	return o.TargetCount
}

const defaultSystemPrompt = `You are a senior QA engineer who designs thorough, reproducible test cases from product evidence.
You always answer with a single JSON array and nothing else: no prose, no code fences, no trailing commentary.
Every test case you produce must be traceable to the evidence you were given, cited by its reference id.`

var sectionLabels = map[Category]string{
	CategorySpecDoc:      "SPECIFICATION DOCUMENTS",
	CategoryKnowledge:    "DOMAIN KNOWLEDGE",
	CategorySiteAnalysis: "SITE STRUCTURE ANALYSIS",
	CategorySourceCode:   "SOURCE CODE",
}

// BuildPrompts renders the system and user prompts for one generation call.
//
// The user prompt states the exact required output count, lists every
// reference-map entry so the model can cite evidence, and pins the output to
// a JSON array with the closed perspective enum. This step never touches the
// network.
func BuildPrompts(projectName, targetSystem string, asm Assembly, opts PromptOptions) (systemPrompt, userPrompt string) {
	systemPrompt = defaultSystemPrompt
	if opts.PromptOverride != "" {
		systemPrompt = opts.PromptOverride
	}

	count := opts.EffectiveCount()

	var b strings.Builder
	fmt.Fprintf(&b, "Project: %s\nTarget system under test: %s\n\n", projectName, targetSystem)

	if asm.Empty() {
		b.WriteString("No evidence was retrieved for this project. Generate test cases from the target system description alone, using general QA practice. Cite no references.\n\n")
	} else {
		b.WriteString("Use only the evidence below.\n\n")
		for _, category := range CategoryOrder {
			section, ok := asm.Sections[category]
			if !ok || section == "" {
				continue
			}
			fmt.Fprintf(&b, "=== %s ===\n%s\n\n", sectionLabels[category], section)
		}

		b.WriteString("=== REFERENCES ===\n")
		b.WriteString("Cite evidence by these ids only:\n")
		for _, entry := range asm.Refs.Entries {
			if entry.PageURL != "" {
				fmt.Fprintf(&b, "%s: %s (%s) %s\n", entry.RefID, entry.Filename, entry.Category, entry.PageURL)
			} else {
				fmt.Fprintf(&b, "%s: %s (%s)\n", entry.RefID, entry.Filename, entry.Category)
			}
		}
		b.WriteString("\n")
	}

	if len(opts.FocusPages) > 0 {
		fmt.Fprintf(&b, "Restrict scope to these pages/screens only: %s\n\n", strings.Join(opts.FocusPages, ", "))
	}

	if len(opts.BatchTitles) > 0 {
		b.WriteString("This batch must cover the following planned test cases. Keep one output element per planned title, in order. You may refine the wording:\n")
		for i, title := range opts.BatchTitles {
			fmt.Fprintf(&b, "%d. %s\n", i+1, title)
		}
		b.WriteString("\n")
	}

	fmt.Fprintf(&b, "Produce exactly %d test cases.\n", count)
	if len(opts.PerspectiveWeights) > 0 {
		b.WriteString("Distribute them across perspectives as follows:\n")
		// Iterate the closed enum for a deterministic listing order.
		for _, p := range Perspectives {
			if w, ok := opts.PerspectiveWeights[p]; ok && w > 0 {
				fmt.Fprintf(&b, "- %s: %d\n", p, w)
			}
		}
	} else if len(opts.Perspectives) > 0 {
		names := make([]string, len(opts.Perspectives))
		for i, p := range opts.Perspectives {
			names[i] = string(p)
		}
		fmt.Fprintf(&b, "Cover these perspectives: %s\n", strings.Join(names, ", "))
	}

	b.WriteString(`
Output a single JSON array. Each element must have exactly these fields:
{
  "categoryMajor": "feature area, e.g. Login",
  "categoryMinor": "sub-feature",
  "perspective": "one of: functional, boundary, error_handling, security, performance, usability",
  "testTitle": "short imperative title",
  "precondition": "state required before the test",
  "testSteps": ["step 1", "step 2"],
  "expectedResult": "observable outcome",
  "priority": "HIGH, MEDIUM or LOW",
  "automatable": "YES, NO or CONSIDER",
  "sources": [{"refId": "REF-1", "reason": "why this evidence supports the case"}]
}
Do not emit any field not listed above. Do not wrap the array in markdown fences.`)

	return systemPrompt, b.String()
}
