// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package storage persists guides and sessions.
//
// The session store keeps its working set in memory and writes through to a
// Repository, so a restarted process can resume sessions that were saved.
package storage

import (
	"context"
	"sort"
	"sync"

	"github.com/AleutianAI/AleutianGuide/services/guide/datatypes"
)

// Repository is durable storage for guides and sessions.
//
// Load methods return a *datatypes.Error of kind not_found for unknown ids.
// Implementations must be safe for concurrent use.
type Repository interface {
	SaveGuide(ctx context.Context, guide *datatypes.Guide) error
	LoadGuide(ctx context.Context, id string) (*datatypes.Guide, error)
	SaveSession(ctx context.Context, session *datatypes.Session) error
	LoadSession(ctx context.Context, id string) (*datatypes.Session, error)
	ListSessions(ctx context.Context, filter datatypes.SessionFilter) ([]*datatypes.Session, error)
	Close() error
}

// SortSessions orders sessions newest first, ties broken by id.
func SortSessions(sessions []*datatypes.Session) {
	sort.Slice(sessions, func(i, j int) bool {
		if !sessions[i].CreatedAt.Equal(sessions[j].CreatedAt) {
			return sessions[i].CreatedAt.After(sessions[j].CreatedAt)
		}
		return sessions[i].ID < sessions[j].ID
	})
}

// =============================================================================
// Memory Repository
// =============================================================================

// MemoryRepository keeps everything in maps. Sessions are stored as clones.
type MemoryRepository struct {
	mu       sync.RWMutex
	guides   map[string]*datatypes.Guide
	sessions map[string]*datatypes.Session
}

// NewMemoryRepository returns an empty MemoryRepository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		guides:   make(map[string]*datatypes.Guide),
		sessions: make(map[string]*datatypes.Session),
	}
}

func (r *MemoryRepository) SaveGuide(_ context.Context, guide *datatypes.Guide) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.guides[guide.ID] = guide
	return nil
}

func (r *MemoryRepository) LoadGuide(_ context.Context, id string) (*datatypes.Guide, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	g, ok := r.guides[id]
	if !ok {
		return nil, datatypes.NewNotFoundError("guide", id)
	}
	return g, nil
}

func (r *MemoryRepository) SaveSession(_ context.Context, session *datatypes.Session) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessions[session.ID] = session.Clone()
	return nil
}

func (r *MemoryRepository) LoadSession(_ context.Context, id string) (*datatypes.Session, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[id]
	if !ok {
		return nil, datatypes.NewNotFoundError("session", id)
	}
	return s.Clone(), nil
}

func (r *MemoryRepository) ListSessions(_ context.Context, filter datatypes.SessionFilter) ([]*datatypes.Session, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*datatypes.Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		if filter.Matches(s) {
			out = append(out, s.Clone())
		}
	}
	SortSessions(out)
	return out, nil
}

func (r *MemoryRepository) Close() error { return nil }
