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
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// =============================================================================
// GenerationRequest Tests
// =============================================================================

func TestGenerationRequest_Validate(t *testing.T) {
	tests := []struct {
		name      string
		req       GenerationRequest
		wantField string
	}{
		{"valid beginner", GenerationRequest{Instruction: "Set up a Python virtual environment", Difficulty: DifficultyBeginner}, ""},
		{"valid concise", GenerationRequest{Instruction: "Deploy nginx", Difficulty: DifficultyAdvanced, FormatPreference: FormatConcise}, ""},
		{"empty instruction", GenerationRequest{Instruction: "", Difficulty: DifficultyBeginner}, "instruction"},
		{"whitespace only", GenerationRequest{Instruction: "      ", Difficulty: DifficultyBeginner}, "instruction"},
		{"four chars", GenerationRequest{Instruction: "abcd", Difficulty: DifficultyBeginner}, "instruction"},
		{"too long", GenerationRequest{Instruction: strings.Repeat("a", 1500), Difficulty: DifficultyBeginner}, "instruction"},
		{"bad difficulty", GenerationRequest{Instruction: "Install docker", Difficulty: "expert"}, "difficulty"},
		{"bad format", GenerationRequest{Instruction: "Install docker", Difficulty: DifficultyBeginner, FormatPreference: "verbose"}, "format_preference"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.req.EnsureDefaults()
			err := tt.req.Validate()
			if tt.wantField == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrValidation))
			var e *Error
			require.True(t, errors.As(err, &e))
			assert.Contains(t, e.Details, tt.wantField)
		})
	}
}

func TestGenerationRequest_EnsureDefaults(t *testing.T) {
	req := GenerationRequest{Instruction: "  Configure git  ", Difficulty: " beginner "}
	req.EnsureDefaults()

	assert.Equal(t, "Configure git", req.Instruction)
	assert.Equal(t, DifficultyBeginner, req.Difficulty)
	assert.Equal(t, FormatDetailed, req.FormatPreference)
	assert.NotEmpty(t, req.RequestID)
	assert.False(t, req.ReceivedAt.IsZero())
}

func TestGenerationRequest_InstructionBoundaries(t *testing.T) {
	exact := GenerationRequest{Instruction: strings.Repeat("é", MaxInstructionChars), Difficulty: DifficultyBeginner}
	exact.EnsureDefaults()
	assert.NoError(t, exact.Validate(), "multi-byte characters count once")

	five := GenerationRequest{Instruction: "abcde", Difficulty: DifficultyBeginner}
	five.EnsureDefaults()
	assert.NoError(t, five.Validate())
}

// =============================================================================
// Error Tests
// =============================================================================

func TestError_IsMatchesByKind(t *testing.T) {
	err := fmt.Errorf("advance: %w", NewInvalidTransitionError("advance", SessionCompleted))

	assert.True(t, errors.Is(err, ErrInvalidTransition))
	assert.False(t, errors.Is(err, ErrAtFirstStep))
	assert.Equal(t, KindInvalidTransition, KindOf(err))
	assert.False(t, IsRetryable(err))
}

func TestGenerationFailure(t *testing.T) {
	gf := &GenerationFailure{Exhausted: true, Attempts: []ProviderAttempt{
		{Provider: "openai", Error: "timeout", TimedOut: true},
		{Provider: "rules", Error: "boom"},
	}}

	assert.True(t, errors.Is(gf, ErrGenerationFailed))
	assert.Equal(t, KindGenerationFailed, KindOf(gf))
	assert.True(t, IsRetryable(gf))
	assert.Contains(t, gf.Error(), "openai: timeout")
}

func TestSessionBusyIsRetryable(t *testing.T) {
	err := NewSessionBusyError("s1", nil)
	assert.True(t, IsRetryable(err))
	assert.Equal(t, KindInternal, KindOf(errors.New("plain")))
}

func TestParseCompletionMethod(t *testing.T) {
	m, err := ParseCompletionMethod("")
	require.NoError(t, err)
	assert.Equal(t, CompletionManual, m)

	m, err = ParseCompletionMethod("automatic-detection")
	require.NoError(t, err)
	assert.Equal(t, CompletionAutomatic, m)

	_, err = ParseCompletionMethod("telepathy")
	assert.True(t, errors.Is(err, ErrValidation))
}

// =============================================================================
// Progress and Session Tests
// =============================================================================

func TestPercent(t *testing.T) {
	assert.Equal(t, 0.0, Percent(0, 0))
	assert.Equal(t, 33.3, Percent(1, 3))
	assert.Equal(t, 66.7, Percent(2, 3))
	assert.Equal(t, 100.0, Percent(4, 4))
}

func TestSessionClone_IsIndependent(t *testing.T) {
	now := time.Now()
	guide := &Guide{ID: "g1", TotalSteps: 3}
	s := NewSession("s1", guide, now)
	s.Progress.Completed[0] = true
	s.Progress.Events = append(s.Progress.Events, CompletionEvent{StepIndex: 0})

	c := s.Clone()
	c.Progress.Completed[1] = true
	c.Progress.Events = append(c.Progress.Events, CompletionEvent{StepIndex: 1})
	c.CurrentStepIndex = 2

	assert.Len(t, s.Progress.Completed, 1)
	assert.Len(t, s.Progress.Events, 1)
	assert.Equal(t, 0, s.CurrentStepIndex)
}

func TestGuideLookups(t *testing.T) {
	g := &Guide{
		Sections: []Section{
			{ID: "a", FirstStep: 0, StepCount: 2},
			{ID: "b", FirstStep: 2, StepCount: 1},
		},
		Steps:      []Step{{Index: 0}, {Index: 1}, {Index: 2}},
		TotalSteps: 3,
	}

	sec, ok := g.SectionFor(2)
	require.True(t, ok)
	assert.Equal(t, "b", sec.ID)

	_, ok = g.Step(3)
	assert.False(t, ok)
	_, ok = g.SectionFor(-1)
	assert.False(t, ok)
}
