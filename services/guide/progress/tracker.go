// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package progress records step completions and derives progress figures.
//
// Completion is independent of navigation: recording a step never moves the
// session's current step.
package progress

import (
	"time"

	"github.com/AleutianAI/AleutianGuide/services/guide/datatypes"
)

// RecordCompletion marks stepIndex as completed on the session's tracker.
//
// Description:
//
//	Set membership is idempotent. Every call overwrites the authoritative
//	event for the step, appends to the event log, and refreshes the
//	completion percentage and last activity time. Abandoned sessions are
//	rejected; completed sessions still accept late confirmations.
//
// Inputs:
//
//	s - The session to update in place. Callers pass a working copy.
//	g - The session's guide.
//	stepIndex - Global step index in [0, g.TotalSteps).
//	method - How the completion was observed.
//	now - Event time.
//
// Outputs:
//
//	datatypes.ProgressTracker - The updated tracker.
//	error - step_not_in_guide, validation_error, or invalid_transition.
//	        The session is untouched on error.
func RecordCompletion(s *datatypes.Session, g *datatypes.Guide, stepIndex int, method datatypes.CompletionMethod, now time.Time) (datatypes.ProgressTracker, error) {
	if s.Status == datatypes.SessionAbandoned {
		return s.Progress, datatypes.NewInvalidTransitionError("complete a step of", s.Status)
	}
	if stepIndex < 0 || stepIndex >= g.TotalSteps {
		return s.Progress, datatypes.NewStepNotInGuideError(stepIndex, g.TotalSteps)
	}
	if _, err := datatypes.ParseCompletionMethod(string(method)); err != nil {
		return s.Progress, err
	}
	if method == "" {
		method = datatypes.CompletionManual
	}

	event := datatypes.CompletionEvent{
		SessionID:   s.ID,
		StepIndex:   stepIndex,
		CompletedAt: now,
		Method:      method,
	}

	p := &s.Progress
	if p.Completed == nil {
		p.Completed = make(map[int]bool)
	}
	if p.Authoritative == nil {
		p.Authoritative = make(map[int]datatypes.CompletionEvent)
	}
	p.Completed[stepIndex] = true
	p.Authoritative[stepIndex] = event
	p.Events = append(p.Events, event)
	p.LastActivityAt = now
	p.Recompute()

	return *p, nil
}

// TimeRemaining sums the durations of steps at or after the current step
// that are not yet completed. Completed sessions have nothing remaining.
func TimeRemaining(s *datatypes.Session, g *datatypes.Guide) int {
	if s.Status == datatypes.SessionCompleted || s.CurrentStepIndex < 0 {
		return 0
	}
	total := 0
	for i := s.CurrentStepIndex; i < len(g.Steps); i++ {
		if !s.Progress.IsCompleted(i) {
			total += g.Steps[i].EstimatedDurationMinutes
		}
	}
	return total
}

// SectionProgress counts completed steps inside section.
func SectionProgress(s *datatypes.Session, section datatypes.Section) datatypes.SectionProgress {
	done := 0
	for i := section.FirstStep; i < section.FirstStep+section.StepCount; i++ {
		if s.Progress.IsCompleted(i) {
			done++
		}
	}
	return datatypes.SectionProgress{
		CompletedSteps:       done,
		TotalSteps:           section.StepCount,
		CompletionPercentage: datatypes.Percent(done, section.StepCount),
	}
}

// Summarize builds the progress summary of a session.
func Summarize(s *datatypes.Session, g *datatypes.Guide) datatypes.ProgressSummary {
	return datatypes.ProgressSummary{
		SessionID:                     s.ID,
		Status:                        s.Status,
		TotalSteps:                    g.TotalSteps,
		CompletedSteps:                s.Progress.CompletedCount(),
		CompletedIndices:              s.Progress.CompletedIndices(),
		CompletionPercentage:          datatypes.Percent(s.Progress.CompletedCount(), g.TotalSteps),
		EstimatedTimeRemainingMinutes: TimeRemaining(s, g),
		LastActivityAt:                s.Progress.LastActivityAt,
	}
}
