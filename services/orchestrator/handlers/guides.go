// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package handlers implements the guide HTTP API on top of guide.Service.
//
// Handlers translate JSON requests into service calls and service errors
// into status codes (see StatusForKind). They hold no state of their own.
package handlers

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/AleutianAI/AleutianGuide/services/guide/cache"
	"github.com/AleutianAI/AleutianGuide/services/guide/datatypes"
	"github.com/AleutianAI/AleutianGuide/services/orchestrator/observability"
	"github.com/gin-gonic/gin"
)

// GuideService is the subset of guide.Service used by the HTTP layer.
type GuideService interface {
	Generate(ctx context.Context, req datatypes.GenerationRequest) (*datatypes.GenerationResult, error)
	StartSession(ctx context.Context, guideID string) (*datatypes.CurrentStepView, error)
	CurrentStep(ctx context.Context, sessionID string) (*datatypes.CurrentStepView, error)
	AdvanceStep(ctx context.Context, sessionID string) (*datatypes.CurrentStepView, error)
	PreviousStep(ctx context.Context, sessionID string) (*datatypes.CurrentStepView, error)
	CompleteStep(ctx context.Context, sessionID string, stepIndex int, method datatypes.CompletionMethod) (*datatypes.ProgressSummary, error)
	Abandon(ctx context.Context, sessionID string) (*datatypes.CurrentStepView, error)
	Progress(ctx context.Context, sessionID string) (*datatypes.ProgressSummary, error)
	Help(ctx context.Context, sessionID string) (*datatypes.HelpView, error)
	ListSessions(ctx context.Context, filter datatypes.SessionFilter) ([]datatypes.SessionSummary, error)
	Providers() []string
	CacheStats() cache.CacheStats
}

// Deps are the dependencies shared by all handlers. Metrics may be nil.
type Deps struct {
	Service GuideService
	Metrics *observability.HTTPMetrics
}

// GenerateGuideRequest is the body of POST /v1/guides/generate. Field
// constraints are enforced by the guide service so CLI and HTTP callers
// get identical validation errors.
type GenerateGuideRequest struct {
	RequestID        string `json:"request_id"`
	Instruction      string `json:"instruction"`
	Difficulty       string `json:"difficulty"`
	FormatPreference string `json:"format_preference"`
}

// StartSessionResponse is the body returned when a session is started
// against an existing guide.
type StartSessionResponse struct {
	SessionID   string                     `json:"session_id"`
	CurrentStep *datatypes.CurrentStepView `json:"current_step"`
}

// GenerateGuide handles POST /v1/guides/generate.
//
// Responds 201 with a GenerationResult whether or not the guide came from
// the cache; "cached" tells the two apart.
func GenerateGuide(d Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		var body GenerateGuideRequest
		if err := c.ShouldBindJSON(&body); err != nil {
			badRequest(c, d, "request body must be a JSON object", map[string]any{"body": err.Error()})
			return
		}

		req := datatypes.GenerationRequest{
			RequestID:        body.RequestID,
			Instruction:      body.Instruction,
			Difficulty:       datatypes.Difficulty(body.Difficulty),
			FormatPreference: datatypes.FormatPreference(body.FormatPreference),
		}
		result, err := d.Service.Generate(c.Request.Context(), req)
		if err != nil {
			writeError(c, d, err)
			return
		}

		slog.InfoContext(c.Request.Context(), "Guide generated",
			"guide_id", result.GuideID,
			"session_id", result.SessionID,
			"cached", result.Cached)
		c.JSON(http.StatusCreated, result)
	}
}

// StartSession handles POST /v1/guides/:guideId/sessions.
func StartSession(d Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		view, err := d.Service.StartSession(c.Request.Context(), c.Param("guideId"))
		if err != nil {
			writeError(c, d, err)
			return
		}
		c.JSON(http.StatusCreated, StartSessionResponse{SessionID: view.SessionID, CurrentStep: view})
	}
}

// HealthResponse is the body of GET /health.
type HealthResponse struct {
	Status    string           `json:"status"`
	Providers []string         `json:"providers"`
	Cache     cache.CacheStats `json:"cache"`
}

// Health handles GET /health.
func Health(d Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, HealthResponse{
			Status:    "ok",
			Providers: d.Service.Providers(),
			Cache:     d.Service.CacheStats(),
		})
	}
}
