// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package extensions defines the pluggable edges of the guide service.
//
// The service runs with no-op defaults for every interface. Deployments that
// need identity, an audit trail or instruction screening inject concrete
// implementations through ServiceOptions.
//
// # Extension Categories
//
//   - auth.go: Authentication and authorization (AuthProvider, AuthzProvider)
//   - audit.go: Audit trail of session events (AuditLogger)
//   - filter.go: Screening of user instructions (MessageFilter)
//
// # Usage
//
//	opts := extensions.DefaultOptions().
//	    WithAuth(extensions.NewStaticTokenAuthProvider(tokens)).
//	    WithAudit(extensions.NewSlogAuditLogger(logger, 1000))
//	svc, err := orchestrator.New(cfg, &opts)
//
// # Thread Safety
//
// All interface implementations must be safe for concurrent use.
package extensions

// ServiceOptions groups all extension points for service configuration.
//
// All fields are optional; Normalize replaces nil values with no-op defaults.
type ServiceOptions struct {
	// AuthProvider validates bearer tokens.
	// Default: NopAuthProvider (always returns a local user)
	AuthProvider AuthProvider

	// AuthzProvider checks permissions per operation.
	// Default: NopAuthzProvider (allows everything)
	AuthzProvider AuthzProvider

	// AuditLogger records session events.
	// Default: NopAuditLogger (discards all events)
	AuditLogger AuditLogger

	// MessageFilter screens instructions before generation.
	// Default: NopMessageFilter (passes through unchanged)
	MessageFilter MessageFilter
}

// DefaultOptions returns ServiceOptions with no-op defaults.
func DefaultOptions() ServiceOptions {
	return ServiceOptions{
		AuthProvider:  &NopAuthProvider{},
		AuthzProvider: &NopAuthzProvider{},
		AuditLogger:   &NopAuditLogger{},
		MessageFilter: &NopMessageFilter{},
	}
}

// Normalize returns a copy of opts with nil fields replaced by no-op defaults.
func (opts ServiceOptions) Normalize() ServiceOptions {
	defaults := DefaultOptions()
	if opts.AuthProvider == nil {
		opts.AuthProvider = defaults.AuthProvider
	}
	if opts.AuthzProvider == nil {
		opts.AuthzProvider = defaults.AuthzProvider
	}
	if opts.AuditLogger == nil {
		opts.AuditLogger = defaults.AuditLogger
	}
	if opts.MessageFilter == nil {
		opts.MessageFilter = defaults.MessageFilter
	}
	return opts
}

// WithAuth returns a copy of opts with the given AuthProvider.
func (opts ServiceOptions) WithAuth(provider AuthProvider) ServiceOptions {
	opts.AuthProvider = provider
	return opts
}

// WithAuthz returns a copy of opts with the given AuthzProvider.
func (opts ServiceOptions) WithAuthz(provider AuthzProvider) ServiceOptions {
	opts.AuthzProvider = provider
	return opts
}

// WithAudit returns a copy of opts with the given AuditLogger.
func (opts ServiceOptions) WithAudit(logger AuditLogger) ServiceOptions {
	opts.AuditLogger = logger
	return opts
}

// WithFilter returns a copy of opts with the given MessageFilter.
func (opts ServiceOptions) WithFilter(filter MessageFilter) ServiceOptions {
	opts.MessageFilter = filter
	return opts
}
