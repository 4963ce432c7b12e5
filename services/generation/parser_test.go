// Copyright (C) 2026 CaseForge AI (dev@caseforge.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package generation

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// makeRefs builds a reference map the way Assemble does, without going
// through assembly.
func makeRefs(entries ...ReferenceMapEntry) ReferenceMap {
	refs := ReferenceMap{byID: make(map[string]ReferenceMapEntry, len(entries))}
	for _, e := range entries {
		refs.Entries = append(refs.Entries, e)
		refs.byID[e.RefID] = e
	}
	return refs
}

func TestParseItems_WellFormedArray(t *testing.T) {
	content := `[
		{"categoryMajor":"Login","categoryMinor":"Password","perspective":"security",
		 "testTitle":"Reject wrong password","precondition":"Account exists",
		 "testSteps":["Open login page","Enter wrong password"],
		 "expectedResult":"Error message shown","priority":"HIGH","automatable":"YES",
		 "sources":[{"refId":"REF-1","reason":"password policy section"}]},
		{"categoryMajor":"Login","categoryMinor":"Session","perspective":"functional",
		 "testTitle":"Login with valid credentials","precondition":"Account exists",
		 "testSteps":["Open login page","Enter valid credentials"],
		 "expectedResult":"Dashboard shown","priority":"MEDIUM","automatable":"YES"},
		{"categoryMajor":"Search","perspective":"boundary",
		 "testTitle":"Search with empty query","testSteps":["Submit empty query"],
		 "expectedResult":"Validation error","priority":"LOW","automatable":"CONSIDER"}
	]`
	refs := makeRefs(ReferenceMapEntry{
		RefID:    "REF-1",
		Filename: "spec.pdf",
		Category: CategorySpecDoc,
		Excerpt:  "Passwords must be rejected after",
	})

	items, err := ParseItems(content, refs)
	require.NoError(t, err)
	require.Len(t, items, 3)

	assert.Equal(t, "Lo-001", items[0].TestID)
	assert.Equal(t, "Lo-002", items[1].TestID)
	assert.Equal(t, "Se-001", items[2].TestID)

	assert.Equal(t, PerspectiveSecurity, items[0].Perspective)
	assert.Equal(t, PriorityHigh, items[0].Priority)
	assert.Equal(t, AutomatableYes, items[0].Automatable)
	assert.Equal(t, 0, items[0].OrderIndex)
	assert.Equal(t, 2, items[2].OrderIndex)

	require.Len(t, items[0].SourceRefs, 1)
	ref := items[0].SourceRefs[0]
	assert.Equal(t, "REF-1", ref.RefID)
	assert.Equal(t, "spec.pdf", ref.Filename)
	assert.Equal(t, CategorySpecDoc, ref.Category)
	assert.Equal(t, "Passwords must be rejected after | password policy section", ref.Excerpt)
}

func TestParseItems_TruncatedArrayRecovered(t *testing.T) {
	// Stream cut mid-record: the second element never closes. The complete
	// first record survives, the fragment is dropped.
	content := `[
		{"categoryMajor":"Login","testTitle":"Login works","testSteps":["s1"],
		 "expectedResult":"ok","priority":"HIGH","automatable":"YES"},
		{"categoryMajor":"Login","testTitle":"Half a rec`

	items, err := ParseItems(content, ReferenceMap{})
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, "Lo-001", items[0].TestID)
	assert.Equal(t, "Login works", items[0].Title)
}

func TestParseItems_FencedResponse(t *testing.T) {
	content := "Here are your test cases:\n```json\n" +
		`[{"categoryMajor":"Cart","testTitle":"Add item","testSteps":["s"],"expectedResult":"r"}]` +
		"\n```\nLet me know if you need more."

	items, err := ParseItems(content, ReferenceMap{})
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, "Ca-001", items[0].TestID)
}

func TestParseItems_RawNewlineInsideString(t *testing.T) {
	// Streaming models emit literal newlines inside JSON string values.
	content := "[{\"categoryMajor\":\"Login\",\"testTitle\":\"multi\nline title\",\"testSteps\":[\"s\"],\"expectedResult\":\"r\"}]"

	items, err := ParseItems(content, ReferenceMap{})
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, "multi\nline title", items[0].Title)
}

func TestParseItems_UnknownCitationKeptDegraded(t *testing.T) {
	content := `[{"categoryMajor":"Login","testTitle":"t","testSteps":["s"],"expectedResult":"r",
		"sources":[{"refId":"REF-99","reason":"hallucinated"}]}]`

	items, err := ParseItems(content, ReferenceMap{})
	require.NoError(t, err)
	require.Len(t, items, 1)
	require.Len(t, items[0].SourceRefs, 1)

	ref := items[0].SourceRefs[0]
	assert.Equal(t, "REF-99", ref.RefID)
	assert.Equal(t, CategoryUnknown, ref.Category)
	assert.Equal(t, "hallucinated", ref.Excerpt)
	assert.Empty(t, ref.Filename)
}

func TestParseItems_EnumFallbacks(t *testing.T) {
	content := `[{"categoryMajor":"","perspective":"bogus","testTitle":"t",
		"testSteps":["s"],"expectedResult":"r","priority":"URGENT","automatable":"maybe"}]`

	items, err := ParseItems(content, ReferenceMap{})
	require.NoError(t, err)
	require.Len(t, items, 1)

	assert.Equal(t, "General", items[0].CategoryMajor)
	assert.Equal(t, "Ge-001", items[0].TestID)
	assert.Equal(t, DefaultPerspective, items[0].Perspective)
	assert.Equal(t, PriorityMedium, items[0].Priority)
	assert.Equal(t, AutomatableConsider, items[0].Automatable)
}

func TestParseItems_NonObjectElementSkipped(t *testing.T) {
	content := `["stray string", {"categoryMajor":"Login","testTitle":"t","testSteps":["s"],"expectedResult":"r"}]`

	items, err := ParseItems(content, ReferenceMap{})
	require.NoError(t, err)
	require.Len(t, items, 1)
	// OrderIndex tracks response position, not the surviving item count.
	assert.Equal(t, 1, items[0].OrderIndex)
}

func TestParseItems_NoArray(t *testing.T) {
	_, err := ParseItems("I am sorry, I cannot help with that.", ReferenceMap{})
	require.Error(t, err)

	var parseErr *ParseError
	require.ErrorAs(t, err, &parseErr)
	assert.Contains(t, parseErr.Error(), "no JSON array start")
}

func TestParseItems_UnrecoverableGarbage(t *testing.T) {
	_, err := ParseItems(`[{"categoryMajor": "never closes`, ReferenceMap{})
	require.Error(t, err)

	var parseErr *ParseError
	require.ErrorAs(t, err, &parseErr)
}

func TestParseError_SnippetBounded(t *testing.T) {
	long := make([]byte, 2000)
	for i := range long {
		long[i] = 'x'
	}
	err := newParseError("boom", string(long))
	assert.Len(t, err.Snippet, parseSnippetLen)
}

func TestParseItemsSeeded_ContinuesCounters(t *testing.T) {
	content := `[
		{"categoryMajor":"Login","testTitle":"first","testSteps":["s"],"expectedResult":"ok"},
		{"categoryMajor":"Login","testTitle":"second","testSteps":["s"],"expectedResult":"ok"}
	]`

	first, counters, err := ParseItemsSeeded(content, ReferenceMap{}, nil)
	require.NoError(t, err)
	require.Len(t, first, 2)
	assert.Equal(t, "Lo-001", first[0].TestID)
	assert.Equal(t, "Lo-002", first[1].TestID)
	assert.Equal(t, map[string]int{"Login": 2}, counters)

	// A later response for the same project continues where the first
	// left off instead of reissuing Lo-001.
	second, counters, err := ParseItemsSeeded(content, ReferenceMap{}, counters)
	require.NoError(t, err)
	require.Len(t, second, 2)
	assert.Equal(t, "Lo-003", second[0].TestID)
	assert.Equal(t, "Lo-004", second[1].TestID)
	assert.Equal(t, map[string]int{"Login": 4}, counters)
}

func TestTestIDPrefix(t *testing.T) {
	assert.Equal(t, "Lo", testIDPrefix("Login"))
	assert.Equal(t, "検索", testIDPrefix("検索機能"))
	assert.Equal(t, "A", testIDPrefix("A"))
	assert.Equal(t, "XX", testIDPrefix(""))
}
