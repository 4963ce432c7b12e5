// Copyright (C) 2026 CaseForge AI (dev@caseforge.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package generation

import "fmt"

// Error taxonomy for the pipeline.
//
// RetrievalError is absorbed at the retrieval boundary (treated as empty
// evidence). A deadline abort is not an error at all: the driver returns
// partial content with aborted=true. Only TransportError and an unrecoverable
// ParseError surface as job failures.

// parseSnippetLen bounds how much of an offending response a ParseError
// carries for diagnostics.
const parseSnippetLen = 300

// ParseError reports that no valid JSON array could be recovered from a model
// response. Snippet holds a bounded prefix of the offending content.
type ParseError struct {
	Msg     string
	Snippet string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse failed: %s (response prefix: %q)", e.Msg, e.Snippet)
}

func newParseError(msg, content string) *ParseError {
	snippet := content
	if len(snippet) > parseSnippetLen {
		snippet = snippet[:parseSnippetLen]
	}
	return &ParseError{Msg: msg, Snippet: snippet}
}

// TransportError reports an outright completion-service failure (connection
// refused, HTTP 5xx, mid-stream transport error other than our own deadline).
// It always surfaces as job status "error"; no partial salvage is attempted.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("completion transport failed during %s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// RetrievalError reports a failed vector-index query for one category. It is
// logged and converted to an empty evidence set; it never fails the pipeline.
type RetrievalError struct {
	Category Category
	Err      error
}

func (e *RetrievalError) Error() string {
	return fmt.Sprintf("retrieval failed for category %s: %v", e.Category, e.Err)
}

func (e *RetrievalError) Unwrap() error { return e.Err }
