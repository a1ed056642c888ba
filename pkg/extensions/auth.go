// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package extensions

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
)

// ErrUnauthorized is returned when authentication or authorization fails.
// Implementations should wrap it with context.
var ErrUnauthorized = errors.New("unauthorized")

// LocalUserID is the identity reported by NopAuthProvider.
const LocalUserID = "local-user"

// AuthInfo is the identity returned after successful authentication.
//
// UserID is always populated. Claims carries provider-specific attributes
// such as a tenant or group without changing this struct.
type AuthInfo struct {
	UserID string
	Email  string
	Roles  []string
	Claims map[string]string
}

// HasRole checks if the user has a specific role.
func (a *AuthInfo) HasRole(role string) bool {
	for _, r := range a.Roles {
		if r == role {
			return true
		}
	}
	return false
}

// AuthProvider validates bearer tokens and returns the caller's identity.
//
// Implementations must be safe for concurrent use by multiple goroutines.
type AuthProvider interface {
	// Validate returns the identity for token, or an error wrapping
	// ErrUnauthorized when the token is not accepted.
	Validate(ctx context.Context, token string) (*AuthInfo, error)
}

// AuthzRequest is a (subject, action, resource) access check.
//
// Example:
//
//	req := AuthzRequest{
//	    User:         authInfo,
//	    Action:       "advance",
//	    ResourceType: "session",
//	    ResourceID:   sessionID,
//	}
type AuthzRequest struct {
	User         *AuthInfo
	Action       string
	ResourceType string
	ResourceID   string
}

// AuthzProvider decides whether a user may perform an action.
type AuthzProvider interface {
	// Authorize returns nil when allowed, or an error wrapping ErrUnauthorized.
	Authorize(ctx context.Context, req AuthzRequest) error
}

// =============================================================================
// Context propagation
// =============================================================================

type authInfoKey struct{}

// ContextWithAuthInfo attaches the caller's identity to ctx.
func ContextWithAuthInfo(ctx context.Context, info *AuthInfo) context.Context {
	return context.WithValue(ctx, authInfoKey{}, info)
}

// AuthInfoFromContext returns the identity attached by ContextWithAuthInfo.
func AuthInfoFromContext(ctx context.Context) (*AuthInfo, bool) {
	info, ok := ctx.Value(authInfoKey{}).(*AuthInfo)
	return info, ok && info != nil
}

// UserIDFromContext returns the caller's user id, or "anonymous".
func UserIDFromContext(ctx context.Context) string {
	if info, ok := AuthInfoFromContext(ctx); ok && info.UserID != "" {
		return info.UserID
	}
	return "anonymous"
}

// =============================================================================
// Implementations
// =============================================================================

// NopAuthProvider accepts any token as the local admin user.
type NopAuthProvider struct{}

// Validate always succeeds.
func (p *NopAuthProvider) Validate(_ context.Context, _ string) (*AuthInfo, error) {
	return &AuthInfo{
		UserID: LocalUserID,
		Roles:  []string{"admin"},
	}, nil
}

// NopAuthzProvider allows every action.
type NopAuthzProvider struct{}

// Authorize always returns nil.
func (p *NopAuthzProvider) Authorize(_ context.Context, _ AuthzRequest) error {
	return nil
}

// StaticTokenAuthProvider accepts a fixed set of API tokens.
//
// Each token maps to the user id it authenticates. Comparison is constant
// time per candidate.
type StaticTokenAuthProvider struct {
	tokens map[string]string
}

// NewStaticTokenAuthProvider creates a provider from token -> user id pairs.
func NewStaticTokenAuthProvider(tokens map[string]string) *StaticTokenAuthProvider {
	copied := make(map[string]string, len(tokens))
	for token, user := range tokens {
		if token != "" {
			copied[token] = user
		}
	}
	return &StaticTokenAuthProvider{tokens: copied}
}

// Validate returns the user bound to token.
func (p *StaticTokenAuthProvider) Validate(_ context.Context, token string) (*AuthInfo, error) {
	if token == "" {
		return nil, fmt.Errorf("missing token: %w", ErrUnauthorized)
	}
	for candidate, user := range p.tokens {
		if subtle.ConstantTimeCompare([]byte(candidate), []byte(token)) == 1 {
			return &AuthInfo{UserID: user, Roles: []string{"user"}}, nil
		}
	}
	return nil, fmt.Errorf("unknown token: %w", ErrUnauthorized)
}

var (
	_ AuthProvider  = (*NopAuthProvider)(nil)
	_ AuthProvider  = (*StaticTokenAuthProvider)(nil)
	_ AuthzProvider = (*NopAuthzProvider)(nil)
)
