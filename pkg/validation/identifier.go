// Copyright (C) 2026 CaseForge AI (dev@caseforge.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package validation provides input validation utilities for security-critical operations.
//
// This package contains validators for user-provided identifiers that end
// up in database filters and deterministic ID derivation. Using these
// validators prevents injection through GraphQL where clauses and keeps
// identifier-derived keys stable.
package validation

import (
	"fmt"
	"regexp"
	"strings"
)

// identifierPattern matches valid project and document identifiers.
// Allows: letters, digits, dots, hyphens, underscores.
// Max length: 128 characters.
var identifierPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._\-]{0,127}$`)

// ValidateProjectID validates a project identifier before it is used in
// a Weaviate where filter.
//
// Valid identifiers:
//   - 1-128 characters
//   - Letters and digits
//   - Dots, hyphens, and underscores after the first character
//
// Example:
//
//	if err := validation.ValidateProjectID(projectID); err != nil {
//	    return nil, fmt.Errorf("invalid project id: %w", err)
//	}
//	// Safe to use in a GraphQL filter
func ValidateProjectID(projectID string) error {
	if projectID == "" {
		return fmt.Errorf("project id cannot be empty")
	}

	if !identifierPattern.MatchString(projectID) {
		return fmt.Errorf("invalid project id format: %q (must be 1-128 alphanumeric chars, dots, hyphens, or underscores)", projectID)
	}

	return nil
}

// ValidateDocID validates a document identifier. Doc ids share the
// project id character set.
func ValidateDocID(docID string) error {
	if docID == "" {
		return fmt.Errorf("doc id cannot be empty")
	}

	if !identifierPattern.MatchString(docID) {
		return fmt.Errorf("invalid doc id format: %q (must be 1-128 alphanumeric chars, dots, hyphens, or underscores)", docID)
	}

	return nil
}

// SanitizeProjectID trims whitespace and validates a project identifier.
// Returns the trimmed identifier if valid.
func SanitizeProjectID(projectID string) (string, error) {
	normalized := strings.TrimSpace(projectID)
	if err := ValidateProjectID(normalized); err != nil {
		return "", err
	}
	return normalized, nil
}
