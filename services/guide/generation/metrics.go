// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package generation

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

var meter = otel.Meter("aleutian.guide.generation")

var (
	attemptsTotal   metric.Int64Counter
	attemptDuration metric.Float64Histogram

	metricsOnce sync.Once
	metricsErr  error
)

func initMetrics() error {
	metricsOnce.Do(func() {
		attemptsTotal, metricsErr = meter.Int64Counter(
			"guide_provider_attempts_total",
			metric.WithDescription("Content provider attempts by provider and outcome"),
		)
		if metricsErr != nil {
			return
		}
		attemptDuration, metricsErr = meter.Float64Histogram(
			"guide_provider_attempt_duration_seconds",
			metric.WithDescription("Duration of content provider attempts"),
			metric.WithUnit("s"),
		)
	})
	return metricsErr
}

// recordAttempt records one provider attempt with outcome success, error or timeout.
func recordAttempt(ctx context.Context, providerName, outcome string, d time.Duration) {
	if err := initMetrics(); err != nil {
		return
	}
	attrs := metric.WithAttributes(
		attribute.String("provider", providerName),
		attribute.String("outcome", outcome),
	)
	attemptsTotal.Add(ctx, 1, attrs)
	attemptDuration.Record(ctx, d.Seconds(), attrs)
}
