// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package navigator implements the session state machine and the
// progressive-disclosure views derived from it.
//
// # Description
//
// A session is active(i), completed or abandoned. Transitions:
//
//	active(i)   --advance--> active(i+1)        when i+1 < n
//	active(n-1) --advance--> completed
//	active(i)   --previous-> active(i-1)        when i > 0
//	active | completed --abandon--> abandoned
//
// Every function mutates the session it is given in place and leaves it
// untouched when it returns an error. Callers pass a working copy obtained
// through session.Store.Mutate.
package navigator

import (
	"time"

	"github.com/AleutianAI/AleutianGuide/services/guide/datatypes"
	"github.com/AleutianAI/AleutianGuide/services/guide/progress"
)

// Advance moves an active session to the next step, completing it after the last.
func Advance(s *datatypes.Session, g *datatypes.Guide, now time.Time) error {
	if !s.Active() {
		return datatypes.NewInvalidTransitionError("advance", s.Status)
	}
	next := s.CurrentStepIndex + 1
	if next >= g.TotalSteps {
		s.Status = datatypes.SessionCompleted
		s.CurrentStepIndex = datatypes.NoCurrentStep
		s.CompletedAt = &now
		return nil
	}
	s.CurrentStepIndex = next
	return nil
}

// Previous moves an active session back one step.
func Previous(s *datatypes.Session, _ *datatypes.Guide, _ time.Time) error {
	if !s.Active() {
		return datatypes.NewInvalidTransitionError("go back in", s.Status)
	}
	if s.CurrentStepIndex <= 0 {
		return datatypes.NewAtFirstStepError()
	}
	s.CurrentStepIndex--
	return nil
}

// Abandon ends an active session. Completed and abandoned are terminal.
func Abandon(s *datatypes.Session, _ *datatypes.Guide, now time.Time) error {
	if !s.Active() {
		return datatypes.NewInvalidTransitionError("abandon", s.Status)
	}
	s.Status = datatypes.SessionAbandoned
	s.AbandonedAt = &now
	return nil
}

// =============================================================================
// Views
// =============================================================================

// CurrentView discloses the current step of an active session.
//
// Description:
//
//	Only the current step and a summary of its owning section are
//	included; no other step content leaves the guide. Completed and
//	abandoned sessions get status, title and progress only.
func CurrentView(s *datatypes.Session, g *datatypes.Guide) datatypes.CurrentStepView {
	view := datatypes.CurrentStepView{
		SessionID:  s.ID,
		Status:     s.Status,
		GuideTitle: g.Title,
		Progress: datatypes.ProgressView{
			TotalSteps:                    g.TotalSteps,
			CompletedSteps:                s.Progress.CompletedCount(),
			CompletionPercentage:          datatypes.Percent(s.Progress.CompletedCount(), g.TotalSteps),
			EstimatedTimeRemainingMinutes: progress.TimeRemaining(s, g),
		},
		Navigation: datatypes.NavigationView{
			CanGoBack:    s.Active() && s.CurrentStepIndex > 0,
			CanGoForward: s.Active(),
		},
	}
	if !s.Active() {
		return view
	}

	step, ok := g.Step(s.CurrentStepIndex)
	if !ok {
		return view
	}
	view.CurrentStep = &datatypes.StepView{
		Index:                     step.Index,
		Title:                     step.Title,
		Description:               step.Description,
		CompletionCriteria:        step.CompletionCriteria,
		AssistanceHints:           nonNil(step.AssistanceHints),
		EstimatedDurationMinutes:  step.EstimatedDurationMinutes,
		VisualMarkers:             step.VisualMarkers,
		RequiresDesktopMonitoring: step.RequiresDesktopMonitoring,
		Completed:                 s.Progress.IsCompleted(step.Index),
	}
	if section, ok := g.SectionFor(step.Index); ok {
		view.CurrentSection = &datatypes.SectionView{
			ID:              section.ID,
			Title:           section.Title,
			Description:     section.Description,
			Order:           section.Order,
			SectionProgress: progress.SectionProgress(s, section),
		}
	}
	return view
}

// Help returns the assistance for the current step of an active session.
func Help(s *datatypes.Session, g *datatypes.Guide) (datatypes.HelpView, error) {
	if !s.Active() {
		return datatypes.HelpView{}, datatypes.NewInvalidTransitionError("get help for", s.Status)
	}
	step, ok := g.Step(s.CurrentStepIndex)
	if !ok {
		return datatypes.HelpView{}, datatypes.NewStepNotInGuideError(s.CurrentStepIndex, g.TotalSteps)
	}
	return datatypes.HelpView{
		SessionID:          s.ID,
		StepIndex:          step.Index,
		StepTitle:          step.Title,
		CompletionCriteria: step.CompletionCriteria,
		AssistanceHints:    nonNil(step.AssistanceHints),
	}, nil
}

// Summary lists a session without step content.
func Summary(s *datatypes.Session) datatypes.SessionSummary {
	return datatypes.SessionSummary{
		SessionID:            s.ID,
		GuideID:              s.GuideID,
		Status:               s.Status,
		CurrentStepIndex:     s.CurrentStepIndex,
		CompletionPercentage: datatypes.Percent(s.Progress.CompletedCount(), s.Progress.TotalSteps),
		CreatedAt:            s.CreatedAt,
		UpdatedAt:            s.UpdatedAt,
	}
}

func nonNil(in []string) []string {
	if in == nil {
		return []string{}
	}
	return in
}
