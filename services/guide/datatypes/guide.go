// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package datatypes holds the entities shared by the guide engine: drafts as
// produced by content providers, built guides, sessions with their progress,
// the disclosed views returned to callers, and the typed errors.
package datatypes

import (
	"math"
	"time"
)

// DefaultStepDurationMinutes is used when a draft step carries no estimate.
const DefaultStepDurationMinutes = 5

// =============================================================================
// Drafts (provider output)
// =============================================================================

// Draft is the unvalidated guide structure returned by a content provider.
//
// Providers may return either Sections or a flat Steps list; the generation
// orchestrator folds a flat list into a single default section.
type Draft struct {
	Title                    string         `json:"title"`
	Description              string         `json:"description"`
	Category                 string         `json:"category"`
	Difficulty               Difficulty     `json:"difficulty_level"`
	EstimatedDurationMinutes int            `json:"estimated_duration_minutes"`
	Sections                 []DraftSection `json:"sections,omitempty"`
	Steps                    []DraftStep    `json:"steps,omitempty"`

	// Provider is stamped by the orchestrator, never parsed from content.
	Provider string `json:"-"`
}

// DraftSection is one provider-supplied section.
type DraftSection struct {
	ID          string      `json:"section_id"`
	Title       string      `json:"section_title"`
	Description string      `json:"section_description"`
	Order       int         `json:"section_order"`
	Steps       []DraftStep `json:"steps"`
}

// DraftStep is one provider-supplied step. StepIndex is informational only;
// global indices are always reassigned by the builder.
type DraftStep struct {
	StepIndex                 *int     `json:"step_index,omitempty"`
	Title                     string   `json:"title"`
	Description               string   `json:"description"`
	CompletionCriteria        string   `json:"completion_criteria"`
	AssistanceHints           []string `json:"assistance_hints"`
	EstimatedDurationMinutes  *int     `json:"estimated_duration_minutes,omitempty"`
	RequiresDesktopMonitoring bool     `json:"requires_desktop_monitoring"`
	VisualMarkers             []string `json:"visual_markers,omitempty"`
	Prerequisites             []string `json:"prerequisites,omitempty"`
}

// =============================================================================
// Guides (immutable once built)
// =============================================================================

// Guide is a built, immutable guide shared read-only by every session on it.
type Guide struct {
	ID                       string     `json:"id"`
	Title                    string     `json:"title"`
	Description              string     `json:"description"`
	Difficulty               Difficulty `json:"difficulty"`
	Category                 string     `json:"category"`
	Sections                 []Section  `json:"sections"`
	Steps                    []Step     `json:"steps"`
	TotalSteps               int        `json:"total_steps"`
	EstimatedDurationMinutes int        `json:"estimated_duration_minutes"`
	Provider                 string     `json:"provider"`
	CreatedAt                time.Time  `json:"created_at"`
}

// Section groups a contiguous range of steps.
type Section struct {
	ID          string `json:"id"`
	Order       int    `json:"order"`
	Title       string `json:"title"`
	Description string `json:"description"`
	FirstStep   int    `json:"first_step"`
	StepCount   int    `json:"step_count"`
}

// Contains reports whether the global step index falls inside the section.
func (s Section) Contains(index int) bool {
	return index >= s.FirstStep && index < s.FirstStep+s.StepCount
}

// Step is a single instruction with its global index.
type Step struct {
	Index                     int      `json:"index"`
	SectionID                 string   `json:"section_id"`
	Title                     string   `json:"title"`
	Description               string   `json:"description"`
	CompletionCriteria        string   `json:"completion_criteria"`
	AssistanceHints           []string `json:"assistance_hints"`
	EstimatedDurationMinutes  int      `json:"estimated_duration_minutes"`
	VisualMarkers             []string `json:"visual_markers,omitempty"`
	Prerequisites             []string `json:"prerequisites,omitempty"`
	RequiresDesktopMonitoring bool     `json:"requires_desktop_monitoring"`
}

// Step returns the step at the global index.
func (g *Guide) Step(index int) (Step, bool) {
	if index < 0 || index >= len(g.Steps) {
		return Step{}, false
	}
	return g.Steps[index], true
}

// SectionFor returns the section owning the global step index.
func (g *Guide) SectionFor(index int) (Section, bool) {
	for _, s := range g.Sections {
		if s.Contains(index) {
			return s, true
		}
	}
	return Section{}, false
}

// Percent returns done/total as a percentage rounded to one decimal place.
func Percent(done, total int) float64 {
	if total <= 0 {
		return 0
	}
	return math.Round(float64(done)/float64(total)*1000) / 10
}
