// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package navigator

import (
	"errors"
	"testing"
	"time"

	"github.com/AleutianAI/AleutianGuide/services/guide/datatypes"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// =============================================================================
// Test Setup
// =============================================================================

var t0 = time.Date(2025, 4, 1, 8, 0, 0, 0, time.UTC)

// threeStepGuide has sections "setup" (steps 0,1) and "run" (step 2).
func threeStepGuide() *datatypes.Guide {
	return &datatypes.Guide{
		ID:    "g",
		Title: "How to deploy",
		Sections: []datatypes.Section{
			{ID: "setup", Order: 0, Title: "Setup", FirstStep: 0, StepCount: 2},
			{ID: "run", Order: 1, Title: "Run", FirstStep: 2, StepCount: 1},
		},
		Steps: []datatypes.Step{
			{Index: 0, SectionID: "setup", Title: "Install", Description: "install it", CompletionCriteria: "installed", AssistanceHints: []string{"use apt"}, EstimatedDurationMinutes: 5},
			{Index: 1, SectionID: "setup", Title: "Configure", Description: "configure it", CompletionCriteria: "configured", EstimatedDurationMinutes: 10, VisualMarkers: []string{"dialog"}},
			{Index: 2, SectionID: "run", Title: "Start", Description: "start it", CompletionCriteria: "running", EstimatedDurationMinutes: 2},
		},
		TotalSteps: 3,
	}
}

// =============================================================================
// Transition Tests
// =============================================================================

func TestAdvance_ThroughToCompletion(t *testing.T) {
	g := threeStepGuide()
	s := datatypes.NewSession("s", g, t0)

	require.NoError(t, Advance(s, g, t0))
	assert.Equal(t, 1, s.CurrentStepIndex)
	require.NoError(t, Advance(s, g, t0))
	assert.Equal(t, 2, s.CurrentStepIndex)

	require.NoError(t, Advance(s, g, t0.Add(time.Minute)))
	assert.Equal(t, datatypes.SessionCompleted, s.Status)
	assert.Equal(t, datatypes.NoCurrentStep, s.CurrentStepIndex)
	require.NotNil(t, s.CompletedAt)
	assert.Equal(t, t0.Add(time.Minute), *s.CompletedAt)

	err := Advance(s, g, t0)
	assert.True(t, errors.Is(err, datatypes.ErrInvalidTransition))
	assert.Equal(t, datatypes.SessionCompleted, s.Status)
}

func TestPrevious(t *testing.T) {
	g := threeStepGuide()
	s := datatypes.NewSession("s", g, t0)

	err := Previous(s, g, t0)
	assert.True(t, errors.Is(err, datatypes.ErrAtFirstStep))
	assert.Equal(t, 0, s.CurrentStepIndex)

	require.NoError(t, Advance(s, g, t0))
	require.NoError(t, Previous(s, g, t0))
	assert.Equal(t, 0, s.CurrentStepIndex)

	s.Status = datatypes.SessionAbandoned
	err = Previous(s, g, t0)
	assert.True(t, errors.Is(err, datatypes.ErrInvalidTransition))
}

func TestAbandon(t *testing.T) {
	g := threeStepGuide()

	active := datatypes.NewSession("a", g, t0)
	require.NoError(t, Abandon(active, g, t0))
	assert.Equal(t, datatypes.SessionAbandoned, active.Status)
	require.NotNil(t, active.AbandonedAt)

	err := Abandon(active, g, t0)
	assert.True(t, errors.Is(err, datatypes.ErrInvalidTransition))

	completed := datatypes.NewSession("c", g, t0)
	completed.Status = datatypes.SessionCompleted
	completed.CurrentStepIndex = datatypes.NoCurrentStep
	err = Abandon(completed, g, t0)
	assert.True(t, errors.Is(err, datatypes.ErrInvalidTransition))
	assert.Equal(t, datatypes.SessionCompleted, completed.Status)
	assert.Nil(t, completed.AbandonedAt)

	assert.True(t, errors.Is(Advance(active, g, t0), datatypes.ErrInvalidTransition))
}

// =============================================================================
// View Tests
// =============================================================================

func TestCurrentView_DisclosesOnlyCurrentStep(t *testing.T) {
	g := threeStepGuide()
	s := datatypes.NewSession("s", g, t0)
	s.Progress.Completed[0] = true
	s.CurrentStepIndex = 1

	view := CurrentView(s, g)

	require.NotNil(t, view.CurrentStep)
	assert.Equal(t, 1, view.CurrentStep.Index)
	assert.Equal(t, "Configure", view.CurrentStep.Title)
	assert.Equal(t, []string{"dialog"}, view.CurrentStep.VisualMarkers)
	assert.NotNil(t, view.CurrentStep.AssistanceHints)
	assert.False(t, view.CurrentStep.Completed)

	require.NotNil(t, view.CurrentSection)
	assert.Equal(t, "setup", view.CurrentSection.ID)
	assert.Equal(t, 1, view.CurrentSection.SectionProgress.CompletedSteps)
	assert.Equal(t, 2, view.CurrentSection.SectionProgress.TotalSteps)
	assert.Equal(t, 50.0, view.CurrentSection.SectionProgress.CompletionPercentage)

	assert.Equal(t, 3, view.Progress.TotalSteps)
	assert.Equal(t, 1, view.Progress.CompletedSteps)
	assert.Equal(t, 33.3, view.Progress.CompletionPercentage)
	assert.Equal(t, 12, view.Progress.EstimatedTimeRemainingMinutes)

	assert.True(t, view.Navigation.CanGoBack)
	assert.True(t, view.Navigation.CanGoForward)
}

func TestCurrentView_FirstStepNavigation(t *testing.T) {
	g := threeStepGuide()
	view := CurrentView(datatypes.NewSession("s", g, t0), g)

	assert.False(t, view.Navigation.CanGoBack)
	assert.True(t, view.Navigation.CanGoForward)
	assert.Equal(t, "How to deploy", view.GuideTitle)
}

func TestCurrentView_TerminalSessionsHaveNoStep(t *testing.T) {
	g := threeStepGuide()
	for _, status := range []datatypes.SessionStatus{datatypes.SessionCompleted, datatypes.SessionAbandoned} {
		s := datatypes.NewSession("s", g, t0)
		s.Status = status
		if status == datatypes.SessionCompleted {
			s.CurrentStepIndex = datatypes.NoCurrentStep
		}

		view := CurrentView(s, g)
		assert.Nil(t, view.CurrentStep)
		assert.Nil(t, view.CurrentSection)
		assert.Equal(t, status, view.Status)
		assert.False(t, view.Navigation.CanGoBack)
		assert.False(t, view.Navigation.CanGoForward)
	}
}

func TestHelp(t *testing.T) {
	g := threeStepGuide()
	s := datatypes.NewSession("s", g, t0)

	help, err := Help(s, g)
	require.NoError(t, err)
	assert.Equal(t, 0, help.StepIndex)
	assert.Equal(t, "installed", help.CompletionCriteria)
	assert.Equal(t, []string{"use apt"}, help.AssistanceHints)

	s.Status = datatypes.SessionAbandoned
	_, err = Help(s, g)
	assert.True(t, errors.Is(err, datatypes.ErrInvalidTransition))
}

func TestSummary(t *testing.T) {
	g := threeStepGuide()
	s := datatypes.NewSession("s", g, t0)
	s.Progress.Completed[2] = true

	sum := Summary(s)
	assert.Equal(t, "g", sum.GuideID)
	assert.Equal(t, 33.3, sum.CompletionPercentage)
}
