// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package datatypes

import (
	"fmt"
	"sort"
	"time"
)

// NoCurrentStep is the current step index of a completed session.
const NoCurrentStep = -1

// SessionStatus is the lifecycle state of a session.
type SessionStatus string

const (
	SessionActive    SessionStatus = "active"
	SessionCompleted SessionStatus = "completed"
	SessionAbandoned SessionStatus = "abandoned"
)

// CompletionMethod records how a step completion was observed.
type CompletionMethod string

const (
	CompletionAutomatic CompletionMethod = "automatic-detection"
	CompletionManual    CompletionMethod = "manual-confirmation"
)

// ParseCompletionMethod accepts the two wire spellings; empty means manual.
func ParseCompletionMethod(s string) (CompletionMethod, error) {
	switch CompletionMethod(s) {
	case "", CompletionManual:
		return CompletionManual, nil
	case CompletionAutomatic:
		return CompletionAutomatic, nil
	}
	return "", NewValidationError(fmt.Sprintf("unknown completion method %q", s),
		map[string]any{"method": "must be automatic-detection or manual-confirmation"})
}

// CompletionEvent is one observed completion of a step.
type CompletionEvent struct {
	SessionID   string           `json:"session_id"`
	StepIndex   int              `json:"step_index"`
	CompletedAt time.Time        `json:"completed_at"`
	Method      CompletionMethod `json:"method"`
}

// =============================================================================
// Progress
// =============================================================================

// ProgressTracker is the per-session record of completed steps.
//
// Completed is a set: re-recording a step never changes membership.
// Authoritative holds the most recent event per step and Events is the
// append-only history ordered by completion time.
type ProgressTracker struct {
	TotalSteps           int                     `json:"total_steps"`
	Completed            map[int]bool            `json:"completed"`
	Authoritative        map[int]CompletionEvent `json:"authoritative"`
	Events               []CompletionEvent       `json:"events"`
	LastActivityAt       time.Time               `json:"last_activity_at"`
	CompletionPercentage float64                 `json:"completion_percentage"`
}

// NewProgressTracker returns an empty tracker for a guide of totalSteps steps.
func NewProgressTracker(totalSteps int, now time.Time) ProgressTracker {
	return ProgressTracker{
		TotalSteps:     totalSteps,
		Completed:      make(map[int]bool),
		Authoritative:  make(map[int]CompletionEvent),
		Events:         make([]CompletionEvent, 0),
		LastActivityAt: now,
	}
}

// IsCompleted reports whether the step has ever been completed.
func (p *ProgressTracker) IsCompleted(index int) bool {
	return p.Completed[index]
}

// CompletedCount returns the size of the completed set.
func (p *ProgressTracker) CompletedCount() int {
	return len(p.Completed)
}

// CompletedIndices returns the completed step indices in ascending order.
func (p *ProgressTracker) CompletedIndices() []int {
	out := make([]int, 0, len(p.Completed))
	for idx := range p.Completed {
		out = append(out, idx)
	}
	sort.Ints(out)
	return out
}

// Recompute refreshes CompletionPercentage from the completed set.
func (p *ProgressTracker) Recompute() {
	p.CompletionPercentage = Percent(len(p.Completed), p.TotalSteps)
}

func (p ProgressTracker) clone() ProgressTracker {
	out := p
	out.Completed = make(map[int]bool, len(p.Completed))
	for k, v := range p.Completed {
		out.Completed[k] = v
	}
	out.Authoritative = make(map[int]CompletionEvent, len(p.Authoritative))
	for k, v := range p.Authoritative {
		out.Authoritative[k] = v
	}
	out.Events = append(make([]CompletionEvent, 0, len(p.Events)), p.Events...)
	return out
}

// =============================================================================
// Session
// =============================================================================

// Session is one user's walk through a guide.
type Session struct {
	ID               string          `json:"id"`
	GuideID          string          `json:"guide_id"`
	Status           SessionStatus   `json:"status"`
	CurrentStepIndex int             `json:"current_step_index"`
	CreatedAt        time.Time       `json:"created_at"`
	UpdatedAt        time.Time       `json:"updated_at"`
	CompletedAt      *time.Time      `json:"completed_at,omitempty"`
	AbandonedAt      *time.Time      `json:"abandoned_at,omitempty"`
	Progress         ProgressTracker `json:"progress"`
}

// NewSession returns an active session positioned on step 0.
func NewSession(id string, guide *Guide, now time.Time) *Session {
	return &Session{
		ID:               id,
		GuideID:          guide.ID,
		Status:           SessionActive,
		CurrentStepIndex: 0,
		CreatedAt:        now,
		UpdatedAt:        now,
		Progress:         NewProgressTracker(guide.TotalSteps, now),
	}
}

// Active reports whether the session accepts navigation.
func (s *Session) Active() bool {
	return s.Status == SessionActive
}

// Clone returns a deep copy safe to mutate independently.
func (s *Session) Clone() *Session {
	out := *s
	if s.CompletedAt != nil {
		t := *s.CompletedAt
		out.CompletedAt = &t
	}
	if s.AbandonedAt != nil {
		t := *s.AbandonedAt
		out.AbandonedAt = &t
	}
	out.Progress = s.Progress.clone()
	return &out
}

// SessionFilter narrows ListSessions results. Zero fields match everything.
type SessionFilter struct {
	GuideID string
	Status  SessionStatus
}

// Matches reports whether s passes the filter.
func (f SessionFilter) Matches(s *Session) bool {
	if f.GuideID != "" && s.GuideID != f.GuideID {
		return false
	}
	if f.Status != "" && s.Status != f.Status {
		return false
	}
	return true
}
