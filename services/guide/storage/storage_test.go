// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package storage

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/AleutianAI/AleutianGuide/services/guide/datatypes"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryRepository_SessionsAreCopied(t *testing.T) {
	repo := NewMemoryRepository()
	ctx := context.Background()
	guide := &datatypes.Guide{ID: "g", TotalSteps: 3}
	s := datatypes.NewSession("s", guide, time.Now())

	require.NoError(t, repo.SaveSession(ctx, s))
	s.CurrentStepIndex = 2

	got, err := repo.LoadSession(ctx, "s")
	require.NoError(t, err)
	assert.Equal(t, 0, got.CurrentStepIndex)
}

func TestMemoryRepository_NotFound(t *testing.T) {
	repo := NewMemoryRepository()
	_, err := repo.LoadGuide(context.Background(), "x")
	assert.True(t, errors.Is(err, datatypes.ErrNotFound))
	_, err = repo.LoadSession(context.Background(), "x")
	assert.True(t, errors.Is(err, datatypes.ErrNotFound))
}

func TestMemoryRepository_ListSessions(t *testing.T) {
	repo := NewMemoryRepository()
	ctx := context.Background()
	guide := &datatypes.Guide{ID: "g", TotalSteps: 1}
	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

	require.NoError(t, repo.SaveSession(ctx, datatypes.NewSession("a", guide, base)))
	require.NoError(t, repo.SaveSession(ctx, datatypes.NewSession("b", guide, base.Add(time.Second))))

	got, err := repo.ListSessions(ctx, datatypes.SessionFilter{GuideID: "g"})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "b", got[0].ID)

	none, err := repo.ListSessions(ctx, datatypes.SessionFilter{GuideID: "other"})
	require.NoError(t, err)
	assert.Empty(t, none)
}
