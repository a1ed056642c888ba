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
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/AleutianAI/AleutianGuide/services/guide/datatypes"
	"github.com/gin-gonic/gin"
)

// Retry-After hints for retryable failures.
const (
	sessionBusyRetryAfter      = time.Second
	generationFailedRetryAfter = 5 * time.Second
)

// ErrorResponse is the body of every non-2xx API response.
type ErrorResponse struct {
	Error   string         `json:"error"`
	Code    string         `json:"code"`
	Details map[string]any `json:"details,omitempty"`
}

// StatusForKind maps an error kind to its HTTP status.
func StatusForKind(kind datatypes.Kind) int {
	switch kind {
	case datatypes.KindValidation, datatypes.KindStepNotInGuide:
		return http.StatusBadRequest
	case datatypes.KindNotFound:
		return http.StatusNotFound
	case datatypes.KindInvalidTransition, datatypes.KindAtFirstStep, datatypes.KindSessionBusy:
		return http.StatusConflict
	case datatypes.KindStructural:
		return http.StatusBadGateway
	case datatypes.KindGenerationFailed:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// writeError renders err as an ErrorResponse and aborts the request.
// Internal errors are logged and their message is not exposed.
func writeError(c *gin.Context, d Deps, err error) {
	kind := datatypes.KindOf(err)
	status := StatusForKind(kind)
	d.Metrics.RecordError(string(kind))

	body := ErrorResponse{Code: string(kind)}
	var gf *datatypes.GenerationFailure
	var typed *datatypes.Error
	switch {
	case errors.As(err, &gf):
		body.Error = "all content providers failed"
		attempts := make([]map[string]any, 0, len(gf.Attempts))
		for _, a := range gf.Attempts {
			attempts = append(attempts, map[string]any{
				"provider":  a.Provider,
				"timed_out": a.TimedOut,
			})
		}
		body.Details = map[string]any{"exhausted": gf.Exhausted, "attempts": attempts}
	case errors.As(err, &typed) && kind != datatypes.KindInternal:
		body.Error = typed.Message
		if body.Error == "" {
			body.Error = string(kind)
		}
		body.Details = typed.Details
	default:
		body.Error = "internal server error"
	}

	switch kind {
	case datatypes.KindSessionBusy:
		c.Header("Retry-After", strconv.Itoa(int(sessionBusyRetryAfter.Seconds())))
	case datatypes.KindGenerationFailed:
		c.Header("Retry-After", strconv.Itoa(int(generationFailedRetryAfter.Seconds())))
	}

	if status >= http.StatusInternalServerError {
		slog.ErrorContext(c.Request.Context(), "Request failed",
			"route", c.FullPath(),
			"code", kind,
			"error", err)
	} else {
		slog.DebugContext(c.Request.Context(), "Request rejected",
			"route", c.FullPath(),
			"code", kind,
			"error", err)
	}

	c.AbortWithStatusJSON(status, body)
}

// badRequest writes a validation error for malformed input that never
// reached the guide service.
func badRequest(c *gin.Context, d Deps, message string, details map[string]any) {
	writeError(c, d, datatypes.NewValidationError(message, details))
}
