// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package middleware

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/AleutianAI/AleutianGuide/pkg/extensions"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// =============================================================================
// Test Setup
// =============================================================================

func init() {
	gin.SetMode(gin.TestMode)
}

// failingAuthProvider simulates an identity backend that cannot be reached.
type failingAuthProvider struct{}

func (failingAuthProvider) Validate(_ context.Context, _ string) (*extensions.AuthInfo, error) {
	return nil, errors.New("identity backend unreachable")
}

// fixedAuthProvider authenticates every request as info.
type fixedAuthProvider struct {
	info *extensions.AuthInfo
}

func (p fixedAuthProvider) Validate(_ context.Context, _ string) (*extensions.AuthInfo, error) {
	return p.info, nil
}

// whoAmIRouter echoes the authenticated user id.
func whoAmIRouter(provider extensions.AuthProvider) *gin.Engine {
	router := gin.New()
	router.Use(AuthMiddleware(provider))
	router.GET("/v1/sessions", func(c *gin.Context) {
		info := GetAuthInfo(c)
		if info == nil {
			c.Status(http.StatusInternalServerError)
			return
		}
		c.String(http.StatusOK, info.UserID)
	})
	return router
}

// =============================================================================
// extractBearerToken Tests
// =============================================================================

func TestExtractBearerToken(t *testing.T) {
	tests := []struct {
		name   string
		header string
		want   string
	}{
		{"valid", "Bearer tok-guide-1", "tok-guide-1"},
		{"scheme is case-insensitive", "bEaReR tok-guide-1", "tok-guide-1"},
		{"missing header", "", ""},
		{"token without scheme", "tok-guide-1", ""},
		{"basic scheme", "Basic dXNlcjpwYXNz", ""},
		{"empty token", "Bearer ", ""},
		{"scheme only", "Bearer", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, _ := gin.CreateTestContext(httptest.NewRecorder())
			c.Request = httptest.NewRequest(http.MethodGet, "/v1/sessions", nil)
			if tt.header != "" {
				c.Request.Header.Set("Authorization", tt.header)
			}

			assert.Equal(t, tt.want, extractBearerToken(c))
		})
	}
}

// =============================================================================
// AuthMiddleware Tests
// =============================================================================

func TestAuthMiddleware_StaticTokens(t *testing.T) {
	router := whoAmIRouter(extensions.NewStaticTokenAuthProvider(map[string]string{
		"tok-dana": "dana",
		"tok-eli":  "eli",
	}))

	tests := []struct {
		name     string
		header   string
		wantCode int
		wantBody string
	}{
		{"first user", "Bearer tok-dana", http.StatusOK, "dana"},
		{"second user", "Bearer tok-eli", http.StatusOK, "eli"},
		{"unknown token", "Bearer tok-mallory", http.StatusUnauthorized, `"error":"unauthorized"`},
		{"missing header", "", http.StatusUnauthorized, `"error":"unauthorized"`},
		{"wrong scheme", "Basic tok-dana", http.StatusUnauthorized, `"error":"unauthorized"`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/v1/sessions", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			w := httptest.NewRecorder()
			router.ServeHTTP(w, req)

			assert.Equal(t, tt.wantCode, w.Code)
			assert.Contains(t, w.Body.String(), tt.wantBody)
		})
	}
}

func TestAuthMiddleware_ProviderFailure(t *testing.T) {
	router := whoAmIRouter(failingAuthProvider{})

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/v1/sessions", nil)
	req.Header.Set("Authorization", "Bearer tok-dana")
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Contains(t, w.Body.String(), "authentication failed")
	assert.NotContains(t, w.Body.String(), "unreachable", "backend errors stay server-side")
}

func TestAuthMiddleware_NopProviderRunsAsLocalUser(t *testing.T) {
	router := whoAmIRouter(&extensions.NopAuthProvider{})

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/v1/sessions", nil))

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, extensions.LocalUserID, w.Body.String())
}

// =============================================================================
// Context Helper Tests
// =============================================================================

func TestGetAuthInfo(t *testing.T) {
	t.Run("set", func(t *testing.T) {
		c, _ := gin.CreateTestContext(httptest.NewRecorder())
		c.Request = httptest.NewRequest(http.MethodGet, "/", nil)
		SetAuthInfo(c, &extensions.AuthInfo{UserID: "dana", Roles: []string{"user"}})

		info := GetAuthInfo(c)

		require.NotNil(t, info)
		assert.Equal(t, "dana", info.UserID)
		assert.True(t, info.HasRole("user"))
	})

	t.Run("not set", func(t *testing.T) {
		c, _ := gin.CreateTestContext(httptest.NewRecorder())
		assert.Nil(t, GetAuthInfo(c))
	})

	t.Run("wrong type", func(t *testing.T) {
		c, _ := gin.CreateTestContext(httptest.NewRecorder())
		c.Set(authInfoKey, "dana")
		assert.Nil(t, GetAuthInfo(c))
	})

	t.Run("nil request is tolerated", func(t *testing.T) {
		c, _ := gin.CreateTestContext(httptest.NewRecorder())
		SetAuthInfo(c, &extensions.AuthInfo{UserID: "dana"})
		require.NotNil(t, GetAuthInfo(c))
	})
}

func TestSetAuthInfo_PropagatesToRequestContext(t *testing.T) {
	provider := fixedAuthProvider{info: &extensions.AuthInfo{UserID: "dana"}}

	router := gin.New()
	router.Use(AuthMiddleware(provider))
	router.GET("/test", func(c *gin.Context) {
		c.String(http.StatusOK, extensions.UserIDFromContext(c.Request.Context()))
	})

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest("GET", "/test", nil))

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "dana", w.Body.String())
}

// =============================================================================
// Authorize Tests
// =============================================================================

type recordingAuthzProvider struct {
	last  extensions.AuthzRequest
	allow bool
}

func (p *recordingAuthzProvider) Authorize(_ context.Context, req extensions.AuthzRequest) error {
	p.last = req
	if p.allow {
		return nil
	}
	return extensions.ErrUnauthorized
}

func TestAuthorize_PassesRequestDetails(t *testing.T) {
	authz := &recordingAuthzProvider{allow: true}

	router := gin.New()
	router.Use(AuthMiddleware(&extensions.NopAuthProvider{}))
	router.POST("/sessions/:sessionId/abandon", Authorize(authz, "abandon", "session", "sessionId"), func(c *gin.Context) {
		c.Status(http.StatusNoContent)
	})

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest("POST", "/sessions/s-42/abandon", nil))

	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "abandon", authz.last.Action)
	assert.Equal(t, "session", authz.last.ResourceType)
	assert.Equal(t, "s-42", authz.last.ResourceID)
	require.NotNil(t, authz.last.User)
	assert.Equal(t, extensions.LocalUserID, authz.last.User.UserID)
}

func TestAuthorize_Denied(t *testing.T) {
	router := gin.New()
	router.GET("/sessions", Authorize(&recordingAuthzProvider{}, "list", "session", ""), func(c *gin.Context) {
		c.Status(http.StatusOK)
	})

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest("GET", "/sessions", nil))

	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Contains(t, w.Body.String(), "forbidden")
}
