// Copyright (C) 2026 CaseForge AI (dev@caseforge.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package generation

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/caseforge-ai/caseforge/services/orchestrator/observability"
)

// The repair logic here is deliberately narrow: it recovers a valid JSON
// array prefix from a truncated or fence-wrapped model response. It is not a
// general JSON parser and must not grow into one.

// rawTestItem mirrors the JSON shape the prompt instructs the model to emit.
type rawTestItem struct {
	CategoryMajor  string         `json:"categoryMajor"`
	CategoryMinor  string         `json:"categoryMinor"`
	Perspective    string         `json:"perspective"`
	TestTitle      string         `json:"testTitle"`
	Precondition   string         `json:"precondition"`
	TestSteps      []string       `json:"testSteps"`
	ExpectedResult string         `json:"expectedResult"`
	Priority       string         `json:"priority"`
	Automatable    string         `json:"automatable"`
	Sources        []rawSourceRef `json:"sources"`
}

type rawSourceRef struct {
	RefID  string `json:"refId"`
	Reason string `json:"reason"`
}

// ParseItems recovers a JSON array from a (possibly truncated or noisy) model
// response and converts it into domain records with resolved citations.
//
// It fails with *ParseError only if no valid JSON array can be recovered at
// all. A truncated trailing record is dropped rather than failing the batch.
// Unknown enum values fall back to documented defaults; testIds are
// synthesized from a per-categoryMajor running counter in response order.
// The caller stamps ID and ProjectID afterwards.
func ParseItems(content string, refs ReferenceMap) ([]TestItem, error) {
	items, _, err := ParseItemsSeeded(content, refs, nil)
	return items, err
}

// ParseItemsSeeded is ParseItems with the per-categoryMajor counters seeded
// from earlier responses. Callers generating a project across multiple
// completion calls thread the returned counters into the next call so testIds
// stay unique per categoryMajor within the project. A nil seed starts every
// counter at zero.
func ParseItemsSeeded(content string, refs ReferenceMap, seed map[string]int) ([]TestItem, map[string]int, error) {
	elements, recovered, err := recoverArray(content)
	if err != nil {
		return nil, nil, err
	}
	if recovered {
		slog.Warn("Recovered truncated JSON array from model response",
			"content_len", len(content), "records", len(elements))
		if m := observability.DefaultMetrics; m != nil {
			m.RecordParseRepair()
		}
	}

	counters := make(map[string]int, len(seed))
	for major, n := range seed {
		counters[major] = n
	}
	items := make([]TestItem, 0, len(elements))
	for i, element := range elements {
		var raw rawTestItem
		if err := json.Unmarshal(element, &raw); err != nil {
			// A well-formed array element that is not an object.
			slog.Warn("Skipping non-object array element in model response", "index", i, "error", err)
			continue
		}
		major := raw.CategoryMajor
		if major == "" {
			major = "General"
		}
		counters[major]++

		item := TestItem{
			TestID:         fmt.Sprintf("%s-%03d", testIDPrefix(major), counters[major]),
			CategoryMajor:  major,
			CategoryMinor:  raw.CategoryMinor,
			Perspective:    normalizePerspective(raw.Perspective),
			Title:          raw.TestTitle,
			Precondition:   raw.Precondition,
			Steps:          raw.TestSteps,
			ExpectedResult: raw.ExpectedResult,
			Priority:       normalizePriority(raw.Priority),
			Automatable:    normalizeAutomatable(raw.Automatable),
			OrderIndex:     i,
			SourceRefs:     resolveCitations(raw.Sources, refs),
		}
		items = append(items, item)
	}
	return items, counters, nil
}

// resolveCitations maps the model's refId citations through the reference
// map. A hit carries the entry's metadata with the model's justification
// appended to the excerpt; a miss is kept as a degraded ref tagged "unknown"
// rather than silently dropped.
func resolveCitations(sources []rawSourceRef, refs ReferenceMap) []SourceRef {
	if len(sources) == 0 {
		return nil
	}
	resolved := make([]SourceRef, 0, len(sources))
	for _, src := range sources {
		entry, ok := refs.Lookup(src.RefID)
		if !ok {
			slog.Debug("Citation refId not in reference map, keeping degraded ref", "ref_id", src.RefID)
			resolved = append(resolved, SourceRef{
				RefID:    src.RefID,
				Category: CategoryUnknown,
				Excerpt:  src.Reason,
			})
			continue
		}
		excerpt := entry.Excerpt
		if src.Reason != "" {
			excerpt = excerpt + " | " + src.Reason
		}
		resolved = append(resolved, SourceRef{
			RefID:    entry.RefID,
			Filename: entry.Filename,
			Category: entry.Category,
			Excerpt:  excerpt,
			PageURL:  entry.PageURL,
		})
	}
	return resolved
}

func testIDPrefix(major string) string {
	r := []rune(major)
	if len(r) >= 2 {
		return string(r[:2])
	}
	if len(r) == 1 {
		return string(r)
	}
	return "XX"
}

// recoverArray extracts a JSON array from raw model output.
//
// Steps: strip code fences; find the first '[' (absent means unrecoverable);
// escape raw control characters inside quoted strings (streaming models emit
// literal newlines in string values); try a direct parse; otherwise scan
// backward for the last '}' where cutting and closing with ']' parses. The
// second return reports whether truncation repair was needed.
func recoverArray(content string) ([]json.RawMessage, bool, error) {
	cleaned := strings.ReplaceAll(content, "```json", "")
	cleaned = strings.ReplaceAll(cleaned, "```", "")

	start := strings.IndexByte(cleaned, '[')
	if start < 0 {
		return nil, false, newParseError("no JSON array start found", content)
	}
	body := sanitizeStringControls(cleaned[start:])

	var elements []json.RawMessage
	if err := json.Unmarshal([]byte(body), &elements); err == nil {
		return elements, false, nil
	}

	for i := len(body) - 1; i > 0; i-- {
		if body[i] != '}' {
			continue
		}
		candidate := body[:i+1] + "]"
		if err := json.Unmarshal([]byte(candidate), &elements); err == nil {
			return elements, true, nil
		}
	}
	return nil, false, newParseError("no recoverable JSON array", content)
}

// sanitizeStringControls escapes raw C0 control characters that appear inside
// quoted JSON strings. Characters outside strings are left untouched.
func sanitizeStringControls(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	inString := false
	escaped := false
	for _, r := range s {
		if !inString {
			if r == '"' {
				inString = true
			}
			b.WriteRune(r)
			continue
		}
		if escaped {
			escaped = false
			b.WriteRune(r)
			continue
		}
		switch {
		case r == '\\':
			escaped = true
			b.WriteRune(r)
		case r == '"':
			inString = false
			b.WriteRune(r)
		case r == '\n':
			b.WriteString(`\n`)
		case r == '\t':
			b.WriteString(`\t`)
		case r == '\r':
			b.WriteString(`\r`)
		case r < 0x20:
			fmt.Fprintf(&b, `\u%04x`, r)
		default:
			b.WriteRune(r)
		}
	}
	return b.String()
}
