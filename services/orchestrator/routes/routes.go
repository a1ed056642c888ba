// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package routes

import (
	"net/http"

	"github.com/AleutianAI/AleutianGuide/pkg/extensions"
	"github.com/AleutianAI/AleutianGuide/services/orchestrator/handlers"
	"github.com/AleutianAI/AleutianGuide/services/orchestrator/middleware"
	"github.com/gin-gonic/gin"
)

// Resource types used in authorization requests.
const (
	resourceGuide   = "guide"
	resourceSession = "session"
)

// SetupRoutes registers the guide API on router.
//
// /health and /metrics are unauthenticated. Everything under /v1 passes
// through authentication, then rate limiting, then a per-route
// authorization check. metrics may be nil to skip the /metrics route.
func SetupRoutes(router *gin.Engine, deps handlers.Deps, opts extensions.ServiceOptions,
	limiter *middleware.RateLimiter, metrics http.Handler) {

	opts = opts.Normalize()
	authz := opts.AuthzProvider

	router.GET("/health", handlers.Health(deps))
	if metrics != nil {
		router.GET("/metrics", gin.WrapH(metrics))
	}

	v1 := router.Group("/v1")
	v1.Use(middleware.AuthMiddleware(opts.AuthProvider))
	if limiter != nil {
		v1.Use(middleware.RateLimit(limiter))
	}
	{
		guides := v1.Group("/guides")
		{
			guides.POST("/generate",
				middleware.Authorize(authz, "generate", resourceGuide, ""),
				handlers.GenerateGuide(deps))
			guides.POST("/:guideId/sessions",
				middleware.Authorize(authz, "start_session", resourceGuide, "guideId"),
				handlers.StartSession(deps))
		}

		sessions := v1.Group("/sessions")
		{
			sessions.GET("",
				middleware.Authorize(authz, "list", resourceSession, ""),
				handlers.ListSessions(deps))
			sessions.GET("/:sessionId/current-step",
				middleware.Authorize(authz, "read", resourceSession, "sessionId"),
				handlers.CurrentStep(deps))
			sessions.POST("/:sessionId/advance",
				middleware.Authorize(authz, "advance", resourceSession, "sessionId"),
				handlers.AdvanceStep(deps))
			sessions.POST("/:sessionId/previous",
				middleware.Authorize(authz, "previous", resourceSession, "sessionId"),
				handlers.PreviousStep(deps))
			sessions.POST("/:sessionId/steps/:stepIndex/complete",
				middleware.Authorize(authz, "complete_step", resourceSession, "sessionId"),
				handlers.CompleteStep(deps))
			sessions.GET("/:sessionId/progress",
				middleware.Authorize(authz, "read", resourceSession, "sessionId"),
				handlers.Progress(deps))
			sessions.GET("/:sessionId/help",
				middleware.Authorize(authz, "read", resourceSession, "sessionId"),
				handlers.Help(deps))
			sessions.POST("/:sessionId/abandon",
				middleware.Authorize(authz, "abandon", resourceSession, "sessionId"),
				handlers.AbandonSession(deps))
		}
	}
}
