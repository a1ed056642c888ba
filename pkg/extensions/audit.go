// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package extensions

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Audit event types emitted by the guide service.
const (
	EventGuideGenerated   = "guide.generated"
	EventSessionStarted   = "session.started"
	EventStepCompleted    = "session.step_completed"
	EventSessionAbandoned = "session.abandoned"
)

// AuditEvent is one recorded event.
//
// Example:
//
//	event := AuditEvent{
//	    EventType:    EventStepCompleted,
//	    Timestamp:    time.Now().UTC(),
//	    UserID:       UserIDFromContext(ctx),
//	    Action:       "complete",
//	    ResourceType: "session",
//	    ResourceID:   sessionID,
//	    Outcome:      "success",
//	    Metadata:     map[string]any{"step_index": 3},
//	}
type AuditEvent struct {
	// EventType is "category.action", e.g. "session.abandoned".
	EventType string

	// Timestamp is set to time.Now().UTC() by loggers when zero.
	Timestamp time.Time

	// UserID is "system" for automated actions, "anonymous" if unknown.
	UserID string

	Action       string
	ResourceType string
	ResourceID   string

	// Outcome is "success", "failure" or "blocked".
	Outcome string

	Metadata map[string]any
}

// AuditFilter selects events in Query. Zero fields match everything.
type AuditFilter struct {
	EventTypes   []string
	UserID       string
	StartTime    time.Time
	EndTime      time.Time
	ResourceType string
	ResourceID   string
	Limit        int
}

// Matches reports whether event passes the filter.
func (f AuditFilter) Matches(event AuditEvent) bool {
	if len(f.EventTypes) > 0 {
		found := false
		for _, t := range f.EventTypes {
			if t == event.EventType {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if f.UserID != "" && event.UserID != f.UserID {
		return false
	}
	if !f.StartTime.IsZero() && event.Timestamp.Before(f.StartTime) {
		return false
	}
	if !f.EndTime.IsZero() && !event.Timestamp.Before(f.EndTime) {
		return false
	}
	if f.ResourceType != "" && event.ResourceType != f.ResourceType {
		return false
	}
	if f.ResourceID != "" && event.ResourceID != f.ResourceID {
		return false
	}
	return true
}

// AuditLogger records events.
//
// Implementations must be safe for concurrent use. Log should return
// quickly; callers never fail an operation because auditing failed.
type AuditLogger interface {
	Log(ctx context.Context, event AuditEvent) error

	// Query returns matching events, newest first.
	Query(ctx context.Context, filter AuditFilter) ([]AuditEvent, error)

	// Flush persists buffered events. Called on shutdown.
	Flush(ctx context.Context) error
}

// NopAuditLogger discards all events.
type NopAuditLogger struct{}

func (l *NopAuditLogger) Log(_ context.Context, _ AuditEvent) error { return nil }

func (l *NopAuditLogger) Query(_ context.Context, _ AuditFilter) ([]AuditEvent, error) {
	return []AuditEvent{}, nil
}

func (l *NopAuditLogger) Flush(_ context.Context) error { return nil }

// SlogAuditLogger writes each event as a structured log line and keeps the
// most recent events in a ring for Query.
type SlogAuditLogger struct {
	logger   *slog.Logger
	mu       sync.Mutex
	ring     []AuditEvent
	next     int
	full     bool
	capacity int
}

// NewSlogAuditLogger creates a logger retaining up to capacity events.
func NewSlogAuditLogger(logger *slog.Logger, capacity int) *SlogAuditLogger {
	if logger == nil {
		logger = slog.Default()
	}
	if capacity <= 0 {
		capacity = 1000
	}
	return &SlogAuditLogger{
		logger:   logger.With(slog.String("component", "audit")),
		ring:     make([]AuditEvent, capacity),
		capacity: capacity,
	}
}

// Log records event.
func (l *SlogAuditLogger) Log(ctx context.Context, event AuditEvent) error {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}
	if event.UserID == "" {
		event.UserID = "anonymous"
	}

	l.mu.Lock()
	l.ring[l.next] = event
	l.next = (l.next + 1) % l.capacity
	if l.next == 0 {
		l.full = true
	}
	l.mu.Unlock()

	attrs := []any{
		slog.String("event_type", event.EventType),
		slog.String("user_id", event.UserID),
		slog.String("action", event.Action),
		slog.String("resource_type", event.ResourceType),
		slog.String("resource_id", event.ResourceID),
		slog.String("outcome", event.Outcome),
	}
	for k, v := range event.Metadata {
		attrs = append(attrs, slog.Any(k, v))
	}
	l.logger.InfoContext(ctx, "Audit event", attrs...)
	return nil
}

// Query returns retained events matching filter, newest first.
func (l *SlogAuditLogger) Query(_ context.Context, filter AuditFilter) ([]AuditEvent, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	count := l.next
	if l.full {
		count = l.capacity
	}
	out := make([]AuditEvent, 0)
	for i := 1; i <= count; i++ {
		event := l.ring[(l.next-i+l.capacity)%l.capacity]
		if !filter.Matches(event) {
			continue
		}
		out = append(out, event)
		if filter.Limit > 0 && len(out) == filter.Limit {
			break
		}
	}
	return out, nil
}

// Flush is a no-op; events are written synchronously.
func (l *SlogAuditLogger) Flush(_ context.Context) error { return nil }

var (
	_ AuditLogger = (*NopAuditLogger)(nil)
	_ AuditLogger = (*SlogAuditLogger)(nil)
)
