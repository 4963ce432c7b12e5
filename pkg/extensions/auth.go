// Copyright (C) 2026 CaseForge AI (dev@caseforge.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package extensions

import (
	"context"
	"errors"
)

// ErrUnauthorized is returned when token validation fails. Implementations
// should wrap this error so callers can detect it with errors.Is.
var ErrUnauthorized = errors.New("unauthorized")

// AuthInfo contains identity information returned after successful
// authentication. UserID is always populated; the other fields may be empty
// depending on what the identity provider supplies.
type AuthInfo struct {
	// UserID is the unique identifier for the authenticated user.
	UserID string

	// Email is the user's email address, if the provider supplies one.
	Email string

	// Roles contains the user's role memberships.
	// Common roles: "admin", "editor", "viewer"
	Roles []string
}

// HasRole reports whether the user holds the given role.
func (a *AuthInfo) HasRole(role string) bool {
	for _, r := range a.Roles {
		if r == role {
			return true
		}
	}
	return false
}

// AuthProvider validates authentication tokens and returns user identity.
//
// Implementations must be safe for concurrent use by multiple goroutines.
// The token format is implementation-specific (JWT, API key, session ID).
//
// The default NopAuthProvider accepts every token and returns a local admin
// user, which lets a single-user deployment run with no identity
// infrastructure at all.
type AuthProvider interface {
	// Validate checks the token and returns the user's identity.
	// Returns ErrUnauthorized (possibly wrapped) when the token is invalid.
	Validate(ctx context.Context, token string) (*AuthInfo, error)
}

// NopAuthProvider is the default authentication provider for the open
// source build. It ignores the token entirely and returns a valid local
// user with admin privileges.
type NopAuthProvider struct{}

// Validate always succeeds with a local admin user. Any token value,
// including the empty string, authenticates.
func (p *NopAuthProvider) Validate(_ context.Context, _ string) (*AuthInfo, error) {
	return &AuthInfo{
		UserID: "local-user",
		Roles:  []string{"admin"},
	}, nil
}

var _ AuthProvider = (*NopAuthProvider)(nil)
