// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package builder

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/AleutianAI/AleutianGuide/services/guide/datatypes"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// =============================================================================
// Helpers
// =============================================================================

func intPtr(v int) *int { return &v }

func step(title string) datatypes.DraftStep {
	return datatypes.DraftStep{
		Title:              title,
		Description:        "Do " + title,
		CompletionCriteria: title + " is done",
		AssistanceHints:    []string{"hint"},
	}
}

func fixedBuilder() *Builder {
	n := 0
	return New(
		WithIDFunc(func() string { n++; return fmt.Sprintf("guide-%d", n) }),
		WithClock(func() time.Time { return time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC) }),
	)
}

// =============================================================================
// Build Tests
// =============================================================================

func TestBuild_AssignsContiguousGlobalIndices(t *testing.T) {
	draft := &datatypes.Draft{
		Title:      "Set up Python",
		Difficulty: datatypes.DifficultyBeginner,
		Sections: []datatypes.DraftSection{
			{ID: "setup", Title: "Setup", Steps: []datatypes.DraftStep{step("a"), step("b")}},
			{ID: "verify", Title: "Verify", Steps: []datatypes.DraftStep{step("c"), step("d"), step("e")}},
		},
	}
	// Provider-local indices restart per section and must be ignored.
	draft.Sections[1].Steps[0].StepIndex = intPtr(0)

	guide, err := fixedBuilder().Build(draft)
	require.NoError(t, err)

	require.Equal(t, 5, guide.TotalSteps)
	for i, s := range guide.Steps {
		assert.Equal(t, i, s.Index)
	}
	assert.Equal(t, "setup", guide.Steps[1].SectionID)
	assert.Equal(t, "verify", guide.Steps[2].SectionID)

	require.Len(t, guide.Sections, 2)
	assert.Equal(t, 0, guide.Sections[0].Order)
	assert.Equal(t, 1, guide.Sections[1].Order)
	assert.Equal(t, 2, guide.Sections[1].FirstStep)
	assert.Equal(t, 3, guide.Sections[1].StepCount)
	assert.Equal(t, "guide-1", guide.ID)
}

func TestBuild_DefaultsAndDurations(t *testing.T) {
	s1 := step("a")
	s2 := step("b")
	s2.EstimatedDurationMinutes = intPtr(0)
	s3 := step("c")
	s3.EstimatedDurationMinutes = intPtr(7)

	guide, err := fixedBuilder().Build(&datatypes.Draft{
		Title:    "Guide",
		Sections: []datatypes.DraftSection{{Steps: []datatypes.DraftStep{s1, s2, s3}}},
	})
	require.NoError(t, err)

	assert.Equal(t, datatypes.DefaultStepDurationMinutes, guide.Steps[0].EstimatedDurationMinutes)
	assert.Equal(t, 0, guide.Steps[1].EstimatedDurationMinutes)
	assert.Equal(t, 7, guide.Steps[2].EstimatedDurationMinutes)
	assert.Equal(t, 12, guide.EstimatedDurationMinutes)
	assert.Equal(t, "section_0", guide.Sections[0].ID)
	assert.Equal(t, "Section 1", guide.Sections[0].Title)
}

func TestBuild_StructuralErrors(t *testing.T) {
	noCriteria := step("x")
	noCriteria.CompletionCriteria = "  "
	negative := step("y")
	negative.EstimatedDurationMinutes = intPtr(-1)

	tests := []struct {
		name  string
		draft *datatypes.Draft
	}{
		{"nil draft", nil},
		{"no sections", &datatypes.Draft{Title: "t"}},
		{"empty section", &datatypes.Draft{Title: "t", Sections: []datatypes.DraftSection{{ID: "a"}}}},
		{"missing criteria", &datatypes.Draft{Title: "t", Sections: []datatypes.DraftSection{{Steps: []datatypes.DraftStep{noCriteria}}}}},
		{"negative duration", &datatypes.Draft{Title: "t", Sections: []datatypes.DraftSection{{Steps: []datatypes.DraftStep{negative}}}}},
		{"duplicate ids", &datatypes.Draft{Title: "t", Sections: []datatypes.DraftSection{
			{ID: "a", Steps: []datatypes.DraftStep{step("1")}},
			{ID: "a", Steps: []datatypes.DraftStep{step("2")}},
		}}},
		{"missing title", &datatypes.Draft{Sections: []datatypes.DraftSection{{Steps: []datatypes.DraftStep{step("1")}}}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			guide, err := fixedBuilder().Build(tt.draft)
			assert.Nil(t, guide)
			require.Error(t, err)
			assert.True(t, errors.Is(err, datatypes.ErrStructural))
		})
	}
}

func TestBuild_IsDeterministic(t *testing.T) {
	draft := &datatypes.Draft{
		Title:    "Guide",
		Sections: []datatypes.DraftSection{{ID: "s", Steps: []datatypes.DraftStep{step("a"), step("b")}}},
	}
	clock := WithClock(func() time.Time { return time.Unix(0, 0) })
	id := WithIDFunc(func() string { return "same" })

	g1, err := New(id, clock).Build(draft)
	require.NoError(t, err)
	g2, err := New(id, clock).Build(draft)
	require.NoError(t, err)

	assert.Equal(t, g1, g2)
}
