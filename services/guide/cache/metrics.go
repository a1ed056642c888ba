// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package cache

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

var meter = otel.Meter("aleutian.guide.cache")

// Metrics for cache operations.
var (
	cacheHits        metric.Int64Counter
	cacheMisses      metric.Int64Counter
	cacheEvictions   metric.Int64Counter
	cacheGenerations metric.Int64Counter
	cacheGetLatency  metric.Float64Histogram

	metricsOnce sync.Once
	metricsErr  error
)

// initMetrics initializes the metrics. Safe to call multiple times.
func initMetrics() error {
	metricsOnce.Do(func() {
		var err error

		cacheHits, err = meter.Int64Counter(
			"guide_cache_hits_total",
			metric.WithDescription("Total number of guide cache hits"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		cacheMisses, err = meter.Int64Counter(
			"guide_cache_misses_total",
			metric.WithDescription("Total number of guide cache misses"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		cacheEvictions, err = meter.Int64Counter(
			"guide_cache_evictions_total",
			metric.WithDescription("Total number of guide cache evictions"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		cacheGenerations, err = meter.Int64Counter(
			"guide_cache_generations_total",
			metric.WithDescription("Total number of guides generated on a cache miss"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		cacheGetLatency, err = meter.Float64Histogram(
			"guide_cache_get_duration_seconds",
			metric.WithDescription("Duration of guide cache lookups"),
			metric.WithUnit("s"),
		)
		if err != nil {
			metricsErr = err
			return
		}
	})
	return metricsErr
}

func recordCacheHit(ctx context.Context) {
	if err := initMetrics(); err != nil {
		return
	}
	cacheHits.Add(ctx, 1)
}

func recordCacheMiss(ctx context.Context) {
	if err := initMetrics(); err != nil {
		return
	}
	cacheMisses.Add(ctx, 1)
}

func recordCacheEviction(ctx context.Context) {
	if err := initMetrics(); err != nil {
		return
	}
	cacheEvictions.Add(ctx, 1)
}

func recordGeneration(ctx context.Context) {
	if err := initMetrics(); err != nil {
		return
	}
	cacheGenerations.Add(ctx, 1)
}

func recordGetLatency(ctx context.Context, d time.Duration) {
	if err := initMetrics(); err != nil {
		return
	}
	cacheGetLatency.Record(ctx, d.Seconds())
}
