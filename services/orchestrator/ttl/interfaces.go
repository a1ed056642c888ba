// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package ttl runs the idle-session policy of the guide server.
//
// # Description
//
// A Scheduler periodically abandons sessions that have seen no activity
// for IdleTTL and drops expired entries from the generation cache. Expiry
// goes through the guide service, so it takes the per-session lock and is
// audited like a user-initiated abandon.
//
// # Thread Safety
//
// Scheduler methods are safe for concurrent use.
package ttl

import (
	"context"
	"time"
)

// Sweeper is the part of guide.Service the scheduler drives.
type Sweeper interface {
	// AbandonIdle abandons active sessions idle for at least idleFor and
	// returns how many were abandoned.
	AbandonIdle(ctx context.Context, idleFor time.Duration) (int, error)

	// PurgeExpiredGuides drops expired generation cache entries and returns
	// how many were removed.
	PurgeExpiredGuides() int
}

// Scheduler runs cleanup cycles in the background.
type Scheduler interface {
	// Start launches the background loop. It runs one cycle immediately and
	// then one per interval until Stop is called or ctx is cancelled.
	// Returns an error if already running.
	Start(ctx context.Context) error

	// Stop ends the loop. Safe to call more than once.
	Stop() error

	// RunNow performs one cycle synchronously.
	RunNow(ctx context.Context) (CleanupResult, error)
}

// CleanupResult summarizes one cleanup cycle.
type CleanupResult struct {
	StartTime       time.Time
	EndTime         time.Time
	SessionsExpired int
	GuidesPurged    int
}

// Duration returns how long the cycle took.
func (r *CleanupResult) Duration() time.Duration {
	return r.EndTime.Sub(r.StartTime)
}

// DurationMs returns the cycle duration in milliseconds for logging.
func (r *CleanupResult) DurationMs() int64 {
	return r.Duration().Milliseconds()
}
