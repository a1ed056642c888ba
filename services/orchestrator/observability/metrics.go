// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package observability provides Prometheus metrics for the guide HTTP API.
//
// # Description
//
// HTTPMetrics counts requests by route template and status, measures
// latency, tracks in-flight requests and classifies API errors by code.
// Domain metrics (generations, cache hits, session events) are recorded
// through OpenTelemetry by the guide packages and reach the same /metrics
// endpoint through the OTel Prometheus exporter.
//
// # Thread Safety
//
// All metric operations are thread-safe via Prometheus's internal locking.
package observability

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	metricsNamespace = "aleutian"
	httpSubsystem    = "guide_http"
)

// unmatchedRoute labels requests that matched no route, keeping label
// cardinality bounded.
const unmatchedRoute = "unmatched"

// HTTPMetrics holds the Prometheus collectors for the HTTP layer.
type HTTPMetrics struct {
	// RequestsTotal labels: route, method, status.
	RequestsTotal *prometheus.CounterVec

	// RequestDurationSeconds labels: route, method.
	RequestDurationSeconds *prometheus.HistogramVec

	InFlight prometheus.Gauge

	// ErrorsTotal labels: code (validation, not_found, session_busy, ...).
	ErrorsTotal *prometheus.CounterVec
}

// NewHTTPMetrics creates the collectors and registers them with reg.
//
// # Limitations
//
// Panics on duplicate registration, so use one registry per server.
func NewHTTPMetrics(reg prometheus.Registerer) *HTTPMetrics {
	factory := promauto.With(reg)
	return &HTTPMetrics{
		RequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: httpSubsystem,
				Name:      "requests_total",
				Help:      "HTTP requests by route, method and status",
			},
			[]string{"route", "method", "status"},
		),
		RequestDurationSeconds: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Subsystem: httpSubsystem,
				Name:      "request_duration_seconds",
				Help:      "HTTP request latency in seconds",
				Buckets:   []float64{0.005, 0.01, 0.05, 0.1, 0.5, 1, 5, 15, 30, 60},
			},
			[]string{"route", "method"},
		),
		InFlight: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: metricsNamespace,
				Subsystem: httpSubsystem,
				Name:      "in_flight_requests",
				Help:      "Requests currently being served",
			},
		),
		ErrorsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: httpSubsystem,
				Name:      "errors_total",
				Help:      "API error responses by error code",
			},
			[]string{"code"},
		),
	}
}

// RecordError counts one API error response. Nil receivers are ignored so
// handlers can be built without metrics in tests.
func (m *HTTPMetrics) RecordError(code string) {
	if m == nil {
		return
	}
	m.ErrorsTotal.WithLabelValues(code).Inc()
}

// Middleware records request count, latency and in-flight requests. The
// route label is the Gin route template, never the raw path.
func (m *HTTPMetrics) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		m.InFlight.Inc()
		defer m.InFlight.Dec()

		c.Next()

		route := c.FullPath()
		if route == "" {
			route = unmatchedRoute
		}
		method := c.Request.Method
		m.RequestsTotal.WithLabelValues(route, method, strconv.Itoa(c.Writer.Status())).Inc()
		m.RequestDurationSeconds.WithLabelValues(route, method).Observe(time.Since(start).Seconds())
	}
}
