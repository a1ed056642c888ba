// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package middleware provides HTTP middleware for the guide server.
//
// # Authentication Flow
//
//	Request
//	   │
//	   ▼
//	AuthMiddleware
//	   │
//	   ├─► Extract token from "Authorization: Bearer <token>"
//	   ├─► provider.Validate(ctx, token)
//	   └─► Store AuthInfo in the Gin context and the request context
//	           │
//	           ▼
//	       Authorize ─► provider.Authorize(ctx, action on resource)
//	           │
//	           ▼
//	       Handler
//
// With NopAuthProvider every request runs as "local-user". Handlers and
// the guide service read the caller from the request context, so audit
// events carry the authenticated user without extra plumbing.
package middleware

import (
	"errors"
	"net/http"
	"strings"

	"github.com/AleutianAI/AleutianGuide/pkg/extensions"
	"github.com/gin-gonic/gin"
)

// authInfoKey is the Gin context key for AuthInfo.
const authInfoKey = "aleutian_auth_info"

// SetAuthInfo stores info in the Gin context and in the request context.
func SetAuthInfo(c *gin.Context, info *extensions.AuthInfo) {
	c.Set(authInfoKey, info)
	if info != nil && c.Request != nil {
		c.Request = c.Request.WithContext(extensions.ContextWithAuthInfo(c.Request.Context(), info))
	}
}

// GetAuthInfo returns the authenticated caller, or nil when the request
// did not pass through AuthMiddleware.
func GetAuthInfo(c *gin.Context) *extensions.AuthInfo {
	if info, exists := c.Get(authInfoKey); exists {
		if authInfo, ok := info.(*extensions.AuthInfo); ok {
			return authInfo
		}
	}
	return nil
}

// AuthMiddleware authenticates requests with provider.
//
// # Description
//
// Extracts the bearer token, validates it and stores the resulting
// AuthInfo for downstream handlers. A missing or malformed header yields
// an empty token, which NopAuthProvider accepts.
//
// # Outputs
//
// Aborts with 401 {"error": "unauthorized"} when the provider rejects the
// token, or {"error": "authentication failed"} on provider failure.
//
// # Thread Safety
//
// The returned handler is safe for concurrent use.
func AuthMiddleware(provider extensions.AuthProvider) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := extractBearerToken(c)

		authInfo, err := provider.Validate(c.Request.Context(), token)
		if err != nil {
			if errors.Is(err, extensions.ErrUnauthorized) {
				c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
					"error": "unauthorized",
				})
				return
			}
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "authentication failed",
			})
			return
		}

		SetAuthInfo(c, authInfo)
		c.Next()
	}
}

// Authorize checks that the caller may perform action on resourceType.
// The resource id is read from the route parameter idParam, which may be
// empty for collection routes. Denials abort with 403.
func Authorize(provider extensions.AuthzProvider, action, resourceType, idParam string) gin.HandlerFunc {
	return func(c *gin.Context) {
		req := extensions.AuthzRequest{
			User:         GetAuthInfo(c),
			Action:       action,
			ResourceType: resourceType,
		}
		if idParam != "" {
			req.ResourceID = c.Param(idParam)
		}

		if err := provider.Authorize(c.Request.Context(), req); err != nil {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
				"error": "forbidden",
			})
			return
		}
		c.Next()
	}
}

// extractBearerToken returns the token from "Authorization: Bearer <token>",
// or "" when the header is missing or uses another scheme. The scheme name
// is case-insensitive per RFC 7235.
func extractBearerToken(c *gin.Context) string {
	authHeader := c.GetHeader("Authorization")
	if authHeader == "" {
		return ""
	}

	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}

	return strings.TrimSpace(parts[1])
}
