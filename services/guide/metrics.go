// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package guide

import (
	"context"
	"sync"

	"github.com/AleutianAI/AleutianGuide/services/guide/datatypes"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

var meter = otel.Meter("aleutian.guide")

var (
	generationsTotal metric.Int64Counter
	sessionEvents    metric.Int64Counter
	stepCompletions  metric.Int64Counter

	metricsOnce sync.Once
	metricsErr  error
)

func initMetrics() error {
	metricsOnce.Do(func() {
		generationsTotal, metricsErr = meter.Int64Counter(
			"guide_generations_total",
			metric.WithDescription("Generate calls by outcome and cache use"),
		)
		if metricsErr != nil {
			return
		}
		sessionEvents, metricsErr = meter.Int64Counter(
			"guide_session_events_total",
			metric.WithDescription("Session lifecycle events (started, completed, abandoned, expired)"),
		)
		if metricsErr != nil {
			return
		}
		stepCompletions, metricsErr = meter.Int64Counter(
			"guide_step_completions_total",
			metric.WithDescription("Recorded step completions by method"),
		)
	})
	return metricsErr
}

func recordGeneration(ctx context.Context, outcome string, cached bool) {
	if initMetrics() != nil {
		return
	}
	generationsTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String("outcome", outcome),
		attribute.Bool("cached", cached),
	))
}

func recordSessionEvent(ctx context.Context, event string) {
	if initMetrics() != nil {
		return
	}
	sessionEvents.Add(ctx, 1, metric.WithAttributes(attribute.String("event", event)))
}

func recordStepCompletion(ctx context.Context, method datatypes.CompletionMethod) {
	if initMetrics() != nil {
		return
	}
	if method == "" {
		method = datatypes.CompletionManual
	}
	stepCompletions.Add(ctx, 1, metric.WithAttributes(attribute.String("method", string(method))))
}
