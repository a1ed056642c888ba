// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package handlers

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/AleutianAI/AleutianGuide/services/guide/datatypes"
	"github.com/gin-gonic/gin"
)

// ListSessionsQuery holds the query parameters of GET /v1/sessions.
type ListSessionsQuery struct {
	GuideID string `form:"guide_id"`
	Status  string `form:"status" binding:"omitempty,oneof=active completed abandoned"`
}

// CompleteStepRequest is the optional body of the complete-step route.
// An empty method means manual confirmation.
type CompleteStepRequest struct {
	Method string `json:"method"`
}

// ListSessionsResponse wraps session summaries.
type ListSessionsResponse struct {
	Sessions []datatypes.SessionSummary `json:"sessions"`
	Count    int                        `json:"count"`
}

// ListSessions handles GET /v1/sessions?guide_id=&status=.
func ListSessions(d Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		var q ListSessionsQuery
		if err := c.ShouldBindQuery(&q); err != nil {
			badRequest(c, d, "invalid query parameters",
				map[string]any{"status": "must be one of: active completed abandoned"})
			return
		}

		summaries, err := d.Service.ListSessions(c.Request.Context(), datatypes.SessionFilter{
			GuideID: q.GuideID,
			Status:  datatypes.SessionStatus(q.Status),
		})
		if err != nil {
			writeError(c, d, err)
			return
		}
		if summaries == nil {
			summaries = []datatypes.SessionSummary{}
		}
		c.JSON(http.StatusOK, ListSessionsResponse{Sessions: summaries, Count: len(summaries)})
	}
}

// sessionView adapts a session operation returning a step view into a
// handler. The session id comes from the :sessionId route parameter.
func sessionView(d Deps, op func(context.Context, string) (*datatypes.CurrentStepView, error)) gin.HandlerFunc {
	return func(c *gin.Context) {
		view, err := op(c.Request.Context(), c.Param("sessionId"))
		if err != nil {
			writeError(c, d, err)
			return
		}
		c.JSON(http.StatusOK, view)
	}
}

// CurrentStep handles GET /v1/sessions/:sessionId/current-step.
func CurrentStep(d Deps) gin.HandlerFunc {
	return sessionView(d, d.Service.CurrentStep)
}

// AdvanceStep handles POST /v1/sessions/:sessionId/advance.
func AdvanceStep(d Deps) gin.HandlerFunc {
	return sessionView(d, d.Service.AdvanceStep)
}

// PreviousStep handles POST /v1/sessions/:sessionId/previous.
func PreviousStep(d Deps) gin.HandlerFunc {
	return sessionView(d, d.Service.PreviousStep)
}

// AbandonSession handles POST /v1/sessions/:sessionId/abandon.
func AbandonSession(d Deps) gin.HandlerFunc {
	return sessionView(d, d.Service.Abandon)
}

// CompleteStep handles POST /v1/sessions/:sessionId/steps/:stepIndex/complete.
//
// The body is optional. A step index that is not an integer is a
// validation error; an integer outside the guide is step_not_in_guide.
func CompleteStep(d Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		index, err := strconv.Atoi(c.Param("stepIndex"))
		if err != nil {
			badRequest(c, d, "step index must be an integer",
				map[string]any{"step_index": c.Param("stepIndex")})
			return
		}

		var body CompleteStepRequest
		if err := c.ShouldBindJSON(&body); err != nil && !errors.Is(err, io.EOF) {
			badRequest(c, d, "request body must be a JSON object", map[string]any{"body": err.Error()})
			return
		}

		summary, err := d.Service.CompleteStep(c.Request.Context(), c.Param("sessionId"), index,
			datatypes.CompletionMethod(body.Method))
		if err != nil {
			writeError(c, d, err)
			return
		}
		c.JSON(http.StatusOK, summary)
	}
}

// Progress handles GET /v1/sessions/:sessionId/progress.
func Progress(d Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		summary, err := d.Service.Progress(c.Request.Context(), c.Param("sessionId"))
		if err != nil {
			writeError(c, d, err)
			return
		}
		c.JSON(http.StatusOK, summary)
	}
}

// Help handles GET /v1/sessions/:sessionId/help.
func Help(d Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		help, err := d.Service.Help(c.Request.Context(), c.Param("sessionId"))
		if err != nil {
			writeError(c, d, err)
			return
		}
		c.JSON(http.StatusOK, help)
	}
}
