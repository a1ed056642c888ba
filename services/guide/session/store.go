// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package session owns session state and serializes mutations per session.
package session

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/AleutianAI/AleutianGuide/services/guide/datatypes"
	"github.com/AleutianAI/AleutianGuide/services/guide/storage"
	"github.com/google/uuid"
)

// DefaultLockWait is how long Mutate queues for a busy session.
const DefaultLockWait = 2 * time.Second

// MutateFunc changes a working copy of the session. Returning an error
// discards the copy.
type MutateFunc func(s *datatypes.Session, g *datatypes.Guide) error

// entry is the in-memory slot for one session.
//
// lock is a one-slot semaphore held for the duration of a mutation; current
// always points at an immutable snapshot.
type entry struct {
	lock    chan struct{}
	current atomic.Pointer[datatypes.Session]
}

func newEntry(s *datatypes.Session) *entry {
	e := &entry{lock: make(chan struct{}, 1)}
	e.current.Store(s)
	return e
}

// Store holds sessions in memory and writes every change through to a
// storage.Repository.
//
// Thread Safety:
//
//	Safe for concurrent use. mu only guards the id->entry and id->guide
//	maps; mutations of different sessions proceed in parallel.
type Store struct {
	mu       sync.RWMutex
	entries  map[string]*entry
	guides   map[string]*datatypes.Guide
	repo     storage.Repository
	lockWait time.Duration
	newID    func() string
	now      func() time.Time
	logger   *slog.Logger
}

// Option configures a Store.
type Option func(*Store)

// WithLockWait sets the bounded wait of Mutate.
func WithLockWait(d time.Duration) Option {
	return func(s *Store) { s.lockWait = d }
}

// WithIDFunc replaces uuid session ids.
func WithIDFunc(fn func() string) Option {
	return func(s *Store) { s.newID = fn }
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) { s.logger = logger }
}

// NewStore creates a Store backed by repo. A nil repo uses an in-memory one.
func NewStore(repo storage.Repository, opts ...Option) *Store {
	if repo == nil {
		repo = storage.NewMemoryRepository()
	}
	s := &Store{
		entries:  make(map[string]*entry),
		guides:   make(map[string]*datatypes.Guide),
		repo:     repo,
		lockWait: DefaultLockWait,
		newID:    uuid.NewString,
		now:      func() time.Time { return time.Now().UTC() },
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.lockWait <= 0 {
		s.lockWait = DefaultLockWait
	}
	return s
}

// Now returns the store's clock reading.
func (s *Store) Now() time.Time {
	return s.now()
}

// PutGuide registers an immutable guide and persists it.
func (s *Store) PutGuide(ctx context.Context, guide *datatypes.Guide) error {
	s.mu.RLock()
	_, known := s.guides[guide.ID]
	s.mu.RUnlock()
	if known {
		return nil
	}
	if err := s.repo.SaveGuide(ctx, guide); err != nil {
		return fmt.Errorf("save guide %s: %w", guide.ID, err)
	}
	s.mu.Lock()
	s.guides[guide.ID] = guide
	s.mu.Unlock()
	return nil
}

// Guide returns the guide with id, loading it from the repository if needed.
func (s *Store) Guide(ctx context.Context, id string) (*datatypes.Guide, error) {
	s.mu.RLock()
	g, ok := s.guides[id]
	s.mu.RUnlock()
	if ok {
		return g, nil
	}

	g, err := s.repo.LoadGuide(ctx, id)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	if existing, ok := s.guides[id]; ok {
		g = existing
	} else {
		s.guides[id] = g
	}
	s.mu.Unlock()
	return g, nil
}

// Create starts an active session on step 0 of guide.
//
// Description:
//
//	The guide is registered if it is not already known. The session is
//	persisted before it becomes visible to Get.
//
// Outputs:
//
//	*datatypes.Session - A copy of the new session.
//	error - Non-nil if persisting the guide or session fails.
func (s *Store) Create(ctx context.Context, guide *datatypes.Guide) (*datatypes.Session, error) {
	if err := s.PutGuide(ctx, guide); err != nil {
		return nil, err
	}

	session := datatypes.NewSession(s.newID(), guide, s.now())
	if err := s.repo.SaveSession(ctx, session); err != nil {
		return nil, fmt.Errorf("save session %s: %w", session.ID, err)
	}

	s.mu.Lock()
	s.entries[session.ID] = newEntry(session)
	s.mu.Unlock()

	s.logger.Debug("Session created",
		slog.String("session_id", session.ID),
		slog.String("guide_id", guide.ID))
	return session.Clone(), nil
}

// Get returns a copy of the current session snapshot.
func (s *Store) Get(ctx context.Context, id string) (*datatypes.Session, error) {
	e, err := s.entryFor(ctx, id)
	if err != nil {
		return nil, err
	}
	return e.current.Load().Clone(), nil
}

// Mutate applies fn to a copy of the session under the session's lock.
//
// Description:
//
//	Callers for the same session queue on its lock. If the lock is not
//	acquired within the configured wait, or ctx ends first, Mutate returns
//	a retryable session_busy error. fn receives a working copy and the
//	session's guide. The copy replaces the stored session only if fn
//	succeeds and the repository write succeeds. UpdatedAt is stamped on
//	success.
//
// Outputs:
//
//	*datatypes.Session - A copy of the new snapshot.
//	error - not_found, session_busy, fn's error, or a persistence error.
func (s *Store) Mutate(ctx context.Context, id string, fn MutateFunc) (*datatypes.Session, error) {
	e, err := s.entryFor(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := s.acquire(ctx, id, e); err != nil {
		return nil, err
	}
	defer func() { <-e.lock }()

	current := e.current.Load()
	guide, err := s.Guide(ctx, current.GuideID)
	if err != nil {
		return nil, err
	}

	working := current.Clone()
	if err := fn(working, guide); err != nil {
		return nil, err
	}
	working.UpdatedAt = s.now()

	if err := s.repo.SaveSession(ctx, working); err != nil {
		s.logger.Error("Session write-through failed",
			slog.String("session_id", id),
			slog.String("error", err.Error()))
		return nil, fmt.Errorf("save session %s: %w", id, err)
	}
	e.current.Store(working)
	return working.Clone(), nil
}

// List returns sessions matching filter, newest first.
func (s *Store) List(ctx context.Context, filter datatypes.SessionFilter) ([]*datatypes.Session, error) {
	return s.repo.ListSessions(ctx, filter)
}

// Close closes the repository.
func (s *Store) Close() error {
	return s.repo.Close()
}

func (s *Store) acquire(ctx context.Context, id string, e *entry) error {
	select {
	case e.lock <- struct{}{}:
		return nil
	default:
	}

	timer := time.NewTimer(s.lockWait)
	defer timer.Stop()

	select {
	case e.lock <- struct{}{}:
		return nil
	case <-ctx.Done():
		return datatypes.NewSessionBusyError(id, ctx.Err())
	case <-timer.C:
		s.logger.Warn("Session lock wait exceeded",
			slog.String("session_id", id),
			slog.Duration("wait", s.lockWait))
		return datatypes.NewSessionBusyError(id, nil)
	}
}

// entryFor finds the in-memory entry, rehydrating from the repository.
func (s *Store) entryFor(ctx context.Context, id string) (*entry, error) {
	s.mu.RLock()
	e, ok := s.entries[id]
	s.mu.RUnlock()
	if ok {
		return e, nil
	}

	loaded, err := s.repo.LoadSession(ctx, id)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.entries[id]; ok {
		return existing, nil
	}
	e = newEntry(loaded)
	s.entries[id] = e
	return e, nil
}
