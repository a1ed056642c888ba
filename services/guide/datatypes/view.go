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

import "time"

// =============================================================================
// Disclosed views
// =============================================================================

// CurrentStepView is the progressive-disclosure projection of a session.
//
// Only the current step and its owning section are ever included. Completed
// and abandoned sessions carry status and progress only.
type CurrentStepView struct {
	SessionID      string         `json:"session_id"`
	Status         SessionStatus  `json:"status"`
	GuideTitle     string         `json:"guide_title"`
	CurrentSection *SectionView   `json:"current_section,omitempty"`
	CurrentStep    *StepView      `json:"current_step,omitempty"`
	Progress       ProgressView   `json:"progress"`
	Navigation     NavigationView `json:"navigation"`
}

// SectionView summarises the section that owns the current step.
type SectionView struct {
	ID              string          `json:"id"`
	Title           string          `json:"title"`
	Description     string          `json:"description,omitempty"`
	Order           int             `json:"order"`
	SectionProgress SectionProgress `json:"section_progress"`
}

// SectionProgress counts completed steps inside one section.
type SectionProgress struct {
	CompletedSteps       int     `json:"completed_steps"`
	TotalSteps           int     `json:"total_steps"`
	CompletionPercentage float64 `json:"completion_percentage"`
}

// StepView is the disclosed current step.
type StepView struct {
	Index                     int      `json:"index"`
	Title                     string   `json:"title"`
	Description               string   `json:"description"`
	CompletionCriteria        string   `json:"completion_criteria"`
	AssistanceHints           []string `json:"assistance_hints"`
	EstimatedDurationMinutes  int      `json:"estimated_duration_minutes"`
	VisualMarkers             []string `json:"visual_markers,omitempty"`
	RequiresDesktopMonitoring bool     `json:"requires_desktop_monitoring"`
	Completed                 bool     `json:"completed"`
}

// ProgressView is the guide-wide progress summary inside a view.
type ProgressView struct {
	TotalSteps                    int     `json:"total_steps"`
	CompletedSteps                int     `json:"completed_steps"`
	CompletionPercentage          float64 `json:"completion_percentage"`
	EstimatedTimeRemainingMinutes int     `json:"estimated_time_remaining_minutes"`
}

// NavigationView tells the client which navigation actions are legal.
type NavigationView struct {
	CanGoBack    bool `json:"can_go_back"`
	CanGoForward bool `json:"can_go_forward"`
}

// =============================================================================
// Operation results
// =============================================================================

// GenerationResult is returned by a successful Generate call.
type GenerationResult struct {
	SessionID        string          `json:"session_id"`
	GuideID          string          `json:"guide_id"`
	GuideTitle       string          `json:"guide_title"`
	GuideDescription string          `json:"guide_description"`
	Cached           bool            `json:"cached"`
	CurrentStep      CurrentStepView `json:"current_step"`
}

// ProgressSummary is the result of CompleteStep and Progress.
type ProgressSummary struct {
	SessionID                     string        `json:"session_id"`
	Status                        SessionStatus `json:"status"`
	TotalSteps                    int           `json:"total_steps"`
	CompletedSteps                int           `json:"completed_steps"`
	CompletedIndices              []int         `json:"completed_indices"`
	CompletionPercentage          float64       `json:"completion_percentage"`
	EstimatedTimeRemainingMinutes int           `json:"estimated_time_remaining_minutes"`
	LastActivityAt                time.Time     `json:"last_activity_at"`
}

// HelpView carries the assistance for the current step only.
type HelpView struct {
	SessionID          string   `json:"session_id"`
	StepIndex          int      `json:"step_index"`
	StepTitle          string   `json:"step_title"`
	CompletionCriteria string   `json:"completion_criteria"`
	AssistanceHints    []string `json:"assistance_hints"`
}

// SessionSummary lists a session without disclosing step content.
type SessionSummary struct {
	SessionID            string        `json:"session_id"`
	GuideID              string        `json:"guide_id"`
	Status               SessionStatus `json:"status"`
	CurrentStepIndex     int           `json:"current_step_index"`
	CompletionPercentage float64       `json:"completion_percentage"`
	CreatedAt            time.Time     `json:"created_at"`
	UpdatedAt            time.Time     `json:"updated_at"`
}
