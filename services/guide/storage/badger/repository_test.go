// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package badger

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/AleutianAI/AleutianGuide/services/guide/datatypes"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testGuide(id string) *datatypes.Guide {
	return &datatypes.Guide{
		ID:         id,
		Title:      "How to test",
		Difficulty: datatypes.DifficultyBeginner,
		Sections:   []datatypes.Section{{ID: "main", Title: "Steps", FirstStep: 0, StepCount: 2}},
		Steps: []datatypes.Step{
			{Index: 0, SectionID: "main", Title: "one", EstimatedDurationMinutes: 5},
			{Index: 1, SectionID: "main", Title: "two", EstimatedDurationMinutes: 5},
		},
		TotalSteps: 2,
		CreatedAt:  time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC),
	}
}

func openTestRepo(t *testing.T) *Repository {
	t.Helper()
	repo, err := NewRepository(InMemoryConfig())
	require.NoError(t, err)
	t.Cleanup(func() { _ = repo.Close() })
	return repo
}

func TestRepository_GuideRoundTrip(t *testing.T) {
	repo := openTestRepo(t)
	ctx := context.Background()

	require.NoError(t, repo.SaveGuide(ctx, testGuide("g1")))

	got, err := repo.LoadGuide(ctx, "g1")
	require.NoError(t, err)
	assert.Equal(t, "How to test", got.Title)
	assert.Equal(t, 2, got.TotalSteps)
	assert.Len(t, got.Steps, 2)

	_, err = repo.LoadGuide(ctx, "missing")
	assert.True(t, errors.Is(err, datatypes.ErrNotFound))
}

func TestRepository_SessionProgressSurvivesStorage(t *testing.T) {
	repo := openTestRepo(t)
	ctx := context.Background()
	now := time.Date(2025, 1, 1, 10, 0, 0, 0, time.UTC)

	s := datatypes.NewSession("s1", testGuide("g1"), now)
	s.Progress.Completed[1] = true
	s.Progress.Authoritative[1] = datatypes.CompletionEvent{SessionID: "s1", StepIndex: 1, CompletedAt: now, Method: datatypes.CompletionManual}
	s.Progress.Recompute()
	require.NoError(t, repo.SaveSession(ctx, s))

	got, err := repo.LoadSession(ctx, "s1")
	require.NoError(t, err)
	assert.True(t, got.Progress.IsCompleted(1))
	assert.Equal(t, datatypes.CompletionManual, got.Progress.Authoritative[1].Method)
	assert.Equal(t, 50.0, got.Progress.CompletionPercentage)
	assert.NotNil(t, got.Progress.Events)

	_, err = repo.LoadSession(ctx, "nope")
	assert.True(t, errors.Is(err, datatypes.ErrNotFound))
}

func TestRepository_ListSessionsFiltersAndOrders(t *testing.T) {
	repo := openTestRepo(t)
	ctx := context.Background()
	base := time.Date(2025, 1, 1, 10, 0, 0, 0, time.UTC)

	older := datatypes.NewSession("a", testGuide("g1"), base)
	newer := datatypes.NewSession("b", testGuide("g1"), base.Add(time.Minute))
	other := datatypes.NewSession("c", testGuide("g2"), base.Add(2*time.Minute))
	other.Status = datatypes.SessionAbandoned
	for _, s := range []*datatypes.Session{older, newer, other} {
		require.NoError(t, repo.SaveSession(ctx, s))
	}

	all, err := repo.ListSessions(ctx, datatypes.SessionFilter{})
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, []string{"c", "b", "a"}, []string{all[0].ID, all[1].ID, all[2].ID})

	byGuide, err := repo.ListSessions(ctx, datatypes.SessionFilter{GuideID: "g1"})
	require.NoError(t, err)
	assert.Len(t, byGuide, 2)

	abandoned, err := repo.ListSessions(ctx, datatypes.SessionFilter{Status: datatypes.SessionAbandoned})
	require.NoError(t, err)
	require.Len(t, abandoned, 1)
	assert.Equal(t, "c", abandoned[0].ID)
}

func TestRepository_PersistsAcrossReopen(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	cfg := DefaultConfig(dir)
	cfg.SyncWrites = false
	repo, err := NewRepository(cfg)
	require.NoError(t, err)
	require.NoError(t, repo.SaveGuide(ctx, testGuide("g1")))
	require.NoError(t, repo.Close())

	reopened, err := NewRepository(cfg)
	require.NoError(t, err)
	defer reopened.Close()

	got, err := reopened.LoadGuide(ctx, "g1")
	require.NoError(t, err)
	assert.Equal(t, "g1", got.ID)
}

func TestRepository_CancelledContext(t *testing.T) {
	repo := openTestRepo(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := repo.SaveGuide(ctx, testGuide("g1"))
	assert.ErrorIs(t, err, context.Canceled)
}

func TestOpenDB_RequiresPath(t *testing.T) {
	_, err := OpenDB(Config{})
	assert.Error(t, err)
}
