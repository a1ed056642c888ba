// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package ttl

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// SchedulerConfig holds configuration for the cleanup scheduler.
//
// # Fields
//
//   - Interval: How often to run cleanup cycles. Default: 1 minute.
//   - IdleTTL: Inactivity after which an active session is abandoned.
//     Zero disables session expiry; cache purging still runs.
//   - CycleTimeout: Upper bound on one cycle. Default: 30 seconds.
type SchedulerConfig struct {
	Interval     time.Duration
	IdleTTL      time.Duration
	CycleTimeout time.Duration
}

// DefaultSchedulerConfig returns the production defaults with idle
// expiry after 24 hours.
func DefaultSchedulerConfig() SchedulerConfig {
	return SchedulerConfig{
		Interval:     time.Minute,
		IdleTTL:      24 * time.Hour,
		CycleTimeout: 30 * time.Second,
	}
}

// scheduler implements Scheduler with the ticker + done channel pattern.
type scheduler struct {
	sweeper Sweeper
	config  SchedulerConfig
	logger  *slog.Logger

	mu      sync.Mutex
	running bool
	done    chan struct{}
	stopped chan struct{}
}

// NewScheduler creates a cleanup scheduler over sweeper.
//
// # Inputs
//
//   - sweeper: Usually the guide service. Must not be nil.
//   - config: Zero fields take DefaultSchedulerConfig values, except
//     IdleTTL where zero means sessions never expire.
//   - logger: Nil uses slog.Default().
//
// # Examples
//
//	sched := ttl.NewScheduler(svc, ttl.SchedulerConfig{IdleTTL: 2 * time.Hour}, logger)
//	if err := sched.Start(ctx); err != nil {
//	    return err
//	}
//	defer sched.Stop()
func NewScheduler(sweeper Sweeper, config SchedulerConfig, logger *slog.Logger) Scheduler {
	defaults := DefaultSchedulerConfig()
	if config.Interval <= 0 {
		config.Interval = defaults.Interval
	}
	if config.CycleTimeout <= 0 {
		config.CycleTimeout = defaults.CycleTimeout
	}
	if config.IdleTTL < 0 {
		config.IdleTTL = 0
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &scheduler{
		sweeper: sweeper,
		config:  config,
		logger:  logger,
	}
}

// Start begins the background cleanup loop.
func (s *scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return fmt.Errorf("scheduler is already running")
	}
	s.running = true
	s.done = make(chan struct{})
	s.stopped = make(chan struct{})

	s.logger.Info("Session cleanup scheduler starting",
		"interval", s.config.Interval.String(),
		"idle_ttl", s.config.IdleTTL.String(),
	)

	go s.runLoop(ctx, s.done, s.stopped)
	return nil
}

// Stop signals the loop and waits for the in-progress cycle to finish.
func (s *scheduler) Stop() error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	s.logger.Info("Session cleanup scheduler stopping")
	close(s.done)
	s.running = false
	stopped := s.stopped
	s.mu.Unlock()

	<-stopped
	return nil
}

// RunNow performs one cleanup cycle immediately.
func (s *scheduler) RunNow(ctx context.Context) (CleanupResult, error) {
	return s.runCleanupCycle(ctx)
}

// =============================================================================
// Internal Methods
// =============================================================================

func (s *scheduler) runLoop(ctx context.Context, done <-chan struct{}, stopped chan<- struct{}) {
	defer close(stopped)
	ticker := time.NewTicker(s.config.Interval)
	defer ticker.Stop()

	s.executeCleanup(ctx)

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("Session cleanup scheduler stopped (context cancelled)")
			return
		case <-done:
			s.logger.Info("Session cleanup scheduler stopped (stop requested)")
			return
		case <-ticker.C:
			s.executeCleanup(ctx)
		}
	}
}

// executeCleanup runs one cycle and logs the outcome. Errors never stop
// the loop.
func (s *scheduler) executeCleanup(ctx context.Context) {
	result, err := s.runCleanupCycle(ctx)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return
		}
		s.logger.Error("Session cleanup cycle failed",
			"sessions_expired", result.SessionsExpired,
			"error", err)
		return
	}

	if result.SessionsExpired > 0 || result.GuidesPurged > 0 {
		s.logger.Info("Session cleanup cycle completed",
			"sessions_expired", result.SessionsExpired,
			"guides_purged", result.GuidesPurged,
			"duration_ms", result.DurationMs(),
		)
	} else {
		s.logger.Debug("Session cleanup cycle completed (nothing expired)")
	}
}

// runCleanupCycle purges the cache, then expires idle sessions.
func (s *scheduler) runCleanupCycle(ctx context.Context) (CleanupResult, error) {
	ctx, cancel := context.WithTimeout(ctx, s.config.CycleTimeout)
	defer cancel()

	result := CleanupResult{StartTime: time.Now()}
	result.GuidesPurged = s.sweeper.PurgeExpiredGuides()

	if s.config.IdleTTL > 0 {
		n, err := s.sweeper.AbandonIdle(ctx, s.config.IdleTTL)
		result.SessionsExpired = n
		if err != nil {
			result.EndTime = time.Now()
			return result, fmt.Errorf("expire idle sessions: %w", err)
		}
	}

	result.EndTime = time.Now()
	return result, nil
}
