// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package builder turns provider drafts into immutable guides.
//
// # Description
//
// The builder validates the structure of a draft and assigns every step a
// global index. Sections are walked in the order the provider returned them
// and steps in their local order, so indices run 0..n-1 without gaps no
// matter what local numbering the provider used.
//
// # Thread Safety
//
// Builder is stateless apart from its injected ID and clock functions and is
// safe for concurrent use when those are.
package builder

import (
	"fmt"
	"strings"
	"time"

	"github.com/AleutianAI/AleutianGuide/services/guide/datatypes"
	"github.com/google/uuid"
)

// Builder converts drafts into guides.
type Builder struct {
	newID func() string
	now   func() time.Time
}

// Option configures a Builder.
type Option func(*Builder)

// WithIDFunc overrides guide ID generation. Tests use it for determinism.
func WithIDFunc(fn func() string) Option {
	return func(b *Builder) { b.newID = fn }
}

// WithClock overrides the creation timestamp source.
func WithClock(fn func() time.Time) Option {
	return func(b *Builder) { b.now = fn }
}

// New returns a Builder using random UUIDs and the wall clock.
func New(opts ...Option) *Builder {
	b := &Builder{
		newID: uuid.NewString,
		now:   func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Build validates the draft and returns the guide.
//
// # Description
//
// Fails with a structural error, and builds nothing, when the draft has no
// sections, a section has no steps, a step misses its title, description or
// completion criteria, a duration is negative, or two sections share an ID.
// A section without an ID is named "section_<order>". A step without a
// duration estimate gets DefaultStepDurationMinutes.
//
// # Inputs
//
//   - draft: Normalised draft. Flat step lists must already be folded into a section.
//
// # Outputs
//
//   - *datatypes.Guide: Guide with contiguous global step indices.
//   - error: *datatypes.Error of KindStructural.
func (b *Builder) Build(draft *datatypes.Draft) (*datatypes.Guide, error) {
	if draft == nil {
		return nil, datatypes.NewStructuralError("draft is empty")
	}
	if len(draft.Sections) == 0 {
		return nil, datatypes.NewStructuralError("guide has no sections")
	}

	guide := &datatypes.Guide{
		ID:          b.newID(),
		Title:       strings.TrimSpace(draft.Title),
		Description: strings.TrimSpace(draft.Description),
		Difficulty:  draft.Difficulty,
		Category:    strings.TrimSpace(draft.Category),
		Provider:    draft.Provider,
		CreatedAt:   b.now(),
		Sections:    make([]datatypes.Section, 0, len(draft.Sections)),
	}
	if guide.Title == "" {
		return nil, datatypes.NewStructuralError("guide title is required")
	}

	seen := make(map[string]int, len(draft.Sections))
	next := 0
	total := 0

	for order, ds := range draft.Sections {
		id := strings.TrimSpace(ds.ID)
		if id == "" {
			id = fmt.Sprintf("section_%d", order)
		}
		if prev, dup := seen[id]; dup {
			return nil, datatypes.NewStructuralError("sections %d and %d share id %q", prev, order, id)
		}
		seen[id] = order

		if len(ds.Steps) == 0 {
			return nil, datatypes.NewStructuralError("section %q has no steps", id)
		}

		section := datatypes.Section{
			ID:          id,
			Order:       order,
			Title:       strings.TrimSpace(ds.Title),
			Description: strings.TrimSpace(ds.Description),
			FirstStep:   next,
			StepCount:   len(ds.Steps),
		}
		if section.Title == "" {
			section.Title = fmt.Sprintf("Section %d", order+1)
		}

		for local, dstep := range ds.Steps {
			step, err := buildStep(dstep, next, id)
			if err != nil {
				return nil, datatypes.NewStructuralError("section %q step %d: %s", id, local, err.Error())
			}
			guide.Steps = append(guide.Steps, step)
			total += step.EstimatedDurationMinutes
			next++
		}
		guide.Sections = append(guide.Sections, section)
	}

	guide.TotalSteps = len(guide.Steps)
	guide.EstimatedDurationMinutes = total
	if draft.EstimatedDurationMinutes > total {
		guide.EstimatedDurationMinutes = draft.EstimatedDurationMinutes
	}
	return guide, nil
}

func buildStep(ds datatypes.DraftStep, index int, sectionID string) (datatypes.Step, error) {
	step := datatypes.Step{
		Index:                     index,
		SectionID:                 sectionID,
		Title:                     strings.TrimSpace(ds.Title),
		Description:               strings.TrimSpace(ds.Description),
		CompletionCriteria:        strings.TrimSpace(ds.CompletionCriteria),
		AssistanceHints:           cleanList(ds.AssistanceHints),
		VisualMarkers:             cleanList(ds.VisualMarkers),
		Prerequisites:             cleanList(ds.Prerequisites),
		RequiresDesktopMonitoring: ds.RequiresDesktopMonitoring,
		EstimatedDurationMinutes:  datatypes.DefaultStepDurationMinutes,
	}

	switch {
	case step.Title == "":
		return step, fmt.Errorf("title is required")
	case step.Description == "":
		return step, fmt.Errorf("description is required")
	case step.CompletionCriteria == "":
		return step, fmt.Errorf("completion criteria are required")
	}

	if ds.EstimatedDurationMinutes != nil {
		if *ds.EstimatedDurationMinutes < 0 {
			return step, fmt.Errorf("estimated duration %d is negative", *ds.EstimatedDurationMinutes)
		}
		step.EstimatedDurationMinutes = *ds.EstimatedDurationMinutes
	}
	return step, nil
}

// cleanList trims entries and drops empty ones, keeping order.
func cleanList(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}
