// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package observability

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func newTestRouter(t *testing.T) (*gin.Engine, *HTTPMetrics) {
	t.Helper()
	m := NewHTTPMetrics(prometheus.NewRegistry())
	router := gin.New()
	router.Use(m.Middleware())
	router.GET("/v1/sessions/:sessionId/progress", func(c *gin.Context) {
		assert.Equal(t, float64(1), testutil.ToFloat64(m.InFlight))
		c.Status(http.StatusOK)
	})
	router.POST("/v1/guides/generate", func(c *gin.Context) {
		c.Status(http.StatusBadRequest)
	})
	return router, m
}

func TestMiddleware_LabelsByRouteTemplate(t *testing.T) {
	router, m := newTestRouter(t)

	for _, id := range []string{"a", "b", "c"} {
		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest("GET", "/v1/sessions/"+id+"/progress", nil))
		assert.Equal(t, http.StatusOK, w.Code)
	}

	assert.Equal(t, float64(3), testutil.ToFloat64(
		m.RequestsTotal.WithLabelValues("/v1/sessions/:sessionId/progress", "GET", "200")))
	assert.Equal(t, 1, testutil.CollectAndCount(m.RequestDurationSeconds))
	assert.Equal(t, float64(0), testutil.ToFloat64(m.InFlight))
}

func TestMiddleware_RecordsStatusAndUnmatched(t *testing.T) {
	router, m := newTestRouter(t)

	router.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest("POST", "/v1/guides/generate", nil))
	router.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest("GET", "/nope/123", nil))

	assert.Equal(t, float64(1), testutil.ToFloat64(
		m.RequestsTotal.WithLabelValues("/v1/guides/generate", "POST", "400")))
	assert.Equal(t, float64(1), testutil.ToFloat64(
		m.RequestsTotal.WithLabelValues(unmatchedRoute, "GET", "404")))
}

func TestRecordError(t *testing.T) {
	m := NewHTTPMetrics(prometheus.NewRegistry())
	m.RecordError("session_busy")
	m.RecordError("session_busy")
	m.RecordError("not_found")

	assert.Equal(t, float64(2), testutil.ToFloat64(m.ErrorsTotal.WithLabelValues("session_busy")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.ErrorsTotal.WithLabelValues("not_found")))

	var nilMetrics *HTTPMetrics
	assert.NotPanics(t, func() { nilMetrics.RecordError("internal") })
}

func TestNewHTTPMetrics_DuplicateRegistrationPanics(t *testing.T) {
	reg := prometheus.NewRegistry()
	NewHTTPMetrics(reg)
	assert.Panics(t, func() { NewHTTPMetrics(reg) })
}
