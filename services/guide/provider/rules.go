// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package provider

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/AleutianAI/AleutianGuide/services/guide/datatypes"
)

// RuleBasedName is the name of the built-in fallback provider.
const RuleBasedName = "rules"

type sectionTemplate struct {
	id, title, description string
}

var sectionTemplates = []sectionTemplate{
	{"setup", "Setup", "Initial preparation steps"},
	{"configuration", "Configuration", "Settings and adjustments"},
	{"execution", "Execution", "Main action steps"},
	{"validation", "Validation", "Verification and testing"},
}

// shape returns the section and per-section step counts for a difficulty.
func shape(d datatypes.Difficulty) (sections, stepsPer int) {
	switch d {
	case datatypes.DifficultyIntermediate:
		return 3, 3
	case datatypes.DifficultyAdvanced:
		return 4, 3
	default:
		return 2, 2
	}
}

// RuleBasedProvider builds a template guide without any external call.
//
// Output depends only on the request, so it never times out and never fails
// for a validated request.
type RuleBasedProvider struct{}

func NewRuleBasedProvider() *RuleBasedProvider { return &RuleBasedProvider{} }

func (p *RuleBasedProvider) Name() string           { return RuleBasedName }
func (p *RuleBasedProvider) Timeout() time.Duration { return 0 }

// GenerateDraft returns 2x2 sections/steps for beginners, 3x3 for
// intermediate and 4x3 for advanced requests.
func (p *RuleBasedProvider) GenerateDraft(ctx context.Context, req datatypes.GenerationRequest) (*datatypes.Draft, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	query := req.Instruction
	subject := "Task"
	if words := strings.Fields(query); len(words) > 0 {
		subject = words[len(words)-1]
	}
	concise := req.FormatPreference == datatypes.FormatConcise

	nSections, stepsPer := shape(req.Difficulty)
	draft := &datatypes.Draft{
		Title:       "How to " + query,
		Description: fmt.Sprintf("A comprehensive %s-level guide for: %s", req.Difficulty, query),
		Category:    "general",
		Difficulty:  req.Difficulty,
		Sections:    make([]datatypes.DraftSection, 0, nSections),
	}

	total := 0
	for si := 0; si < nSections; si++ {
		tpl := sectionTemplates[si]
		phase := strings.ToLower(tpl.title)
		section := datatypes.DraftSection{
			ID:          tpl.id,
			Title:       tpl.title,
			Description: fmt.Sprintf("%s for %s", tpl.description, query),
			Order:       si,
		}
		for li := 0; li < stepsPer; li++ {
			n := si*stepsPer + li + 1
			duration := 3 + li
			total += duration

			description := fmt.Sprintf("Detailed instructions for %s step %d of %s. This step involves specific actions within the %s phase.", phase, li+1, query, phase)
			if concise {
				description = fmt.Sprintf("Complete %s step %d of %s.", phase, li+1, query)
			}
			step := datatypes.DraftStep{
				StepIndex:          &n,
				Title:              fmt.Sprintf("%s Step %d: %s", tpl.title, li+1, subject),
				Description:        description,
				CompletionCriteria: fmt.Sprintf("Successfully complete the %s actions in step %d", phase, li+1),
				AssistanceHints: []string{
					fmt.Sprintf("If you're stuck on this %s step, try checking the documentation", phase),
					"This step typically takes 2-5 minutes to complete",
				},
				EstimatedDurationMinutes:  &duration,
				RequiresDesktopMonitoring: n%2 == 0,
			}
			if n%2 == 0 {
				step.VisualMarkers = []string{fmt.Sprintf("button_%d", n), fmt.Sprintf("dialog_%d", n)}
			}
			if li > 0 {
				step.Prerequisites = []string{fmt.Sprintf("Complete previous %s steps", phase)}
			}
			section.Steps = append(section.Steps, step)
		}
		draft.Sections = append(draft.Sections, section)
	}
	draft.EstimatedDurationMinutes = total
	return draft, nil
}
