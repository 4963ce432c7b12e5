// Copyright (C) 2026 CaseForge AI (dev@caseforge.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package extensions defines the pluggable seams of the orchestrator.
//
// The open source build runs with no-op implementations: every request is
// treated as a valid local user and audit events are discarded. Deployments
// that need real authentication or an audit trail supply their own
// implementations through ServiceOptions without touching the core code.
package extensions

// ServiceOptions bundles the pluggable providers a service accepts at
// construction time. Nil fields are replaced with no-op defaults.
type ServiceOptions struct {
	// AuthProvider validates bearer tokens on incoming requests.
	// Default: NopAuthProvider (always returns a valid local user).
	AuthProvider AuthProvider

	// AuditLogger records security-relevant events such as plan approvals
	// and evidence deletions. Default: NopAuditLogger (discards events).
	AuditLogger AuditLogger
}

// DefaultOptions returns ServiceOptions with no-op providers. This is the
// configuration used by the open source build.
func DefaultOptions() ServiceOptions {
	return ServiceOptions{
		AuthProvider: &NopAuthProvider{},
		AuditLogger:  &NopAuditLogger{},
	}
}

// WithAuth returns a copy of opts with the given AuthProvider.
func (opts ServiceOptions) WithAuth(provider AuthProvider) ServiceOptions {
	opts.AuthProvider = provider
	return opts
}

// WithAudit returns a copy of opts with the given AuditLogger.
func (opts ServiceOptions) WithAudit(logger AuditLogger) ServiceOptions {
	opts.AuditLogger = logger
	return opts
}

// Normalized fills any nil provider with its no-op default.
func (opts ServiceOptions) Normalized() ServiceOptions {
	if opts.AuthProvider == nil {
		opts.AuthProvider = &NopAuthProvider{}
	}
	if opts.AuditLogger == nil {
		opts.AuditLogger = &NopAuditLogger{}
	}
	return opts
}
