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
	"encoding/json"
	"errors"
	"fmt"

	"github.com/AleutianAI/AleutianGuide/services/guide/datatypes"
	"github.com/AleutianAI/AleutianGuide/services/guide/storage"
	"github.com/dgraph-io/badger/v4"
)

const (
	guidePrefix   = "guide:"
	sessionPrefix = "session:"
)

// Repository implements storage.Repository on BadgerDB.
type Repository struct {
	db *DB
}

var _ storage.Repository = (*Repository)(nil)

// NewRepository opens a database with cfg and wraps it.
func NewRepository(cfg Config) (*Repository, error) {
	db, err := OpenDB(cfg)
	if err != nil {
		return nil, err
	}
	return &Repository{db: db}, nil
}

// SaveGuide stores the guide under its id.
func (r *Repository) SaveGuide(ctx context.Context, guide *datatypes.Guide) error {
	return r.put(ctx, guidePrefix+guide.ID, guide)
}

// LoadGuide returns the guide or a not_found error.
func (r *Repository) LoadGuide(ctx context.Context, id string) (*datatypes.Guide, error) {
	var g datatypes.Guide
	found, err := r.get(ctx, guidePrefix+id, &g)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, datatypes.NewNotFoundError("guide", id)
	}
	return &g, nil
}

// SaveSession overwrites the stored session document.
func (r *Repository) SaveSession(ctx context.Context, session *datatypes.Session) error {
	return r.put(ctx, sessionPrefix+session.ID, session)
}

// LoadSession returns the session or a not_found error.
func (r *Repository) LoadSession(ctx context.Context, id string) (*datatypes.Session, error) {
	var s datatypes.Session
	found, err := r.get(ctx, sessionPrefix+id, &s)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, datatypes.NewNotFoundError("session", id)
	}
	ensureMaps(&s)
	return &s, nil
}

// ListSessions scans the session prefix and returns matches newest first.
func (r *Repository) ListSessions(ctx context.Context, filter datatypes.SessionFilter) ([]*datatypes.Session, error) {
	out := make([]*datatypes.Session, 0)
	err := r.db.WithReadTxn(ctx, func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(sessionPrefix)
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.ValidForPrefix(opts.Prefix); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			var s datatypes.Session
			err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &s)
			})
			if err != nil {
				return fmt.Errorf("decode %s: %w", it.Item().Key(), err)
			}
			ensureMaps(&s)
			if filter.Matches(&s) {
				out = append(out, &s)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	storage.SortSessions(out)
	return out, nil
}

// Close closes the underlying database.
func (r *Repository) Close() error {
	return r.db.Close()
}

func (r *Repository) put(ctx context.Context, key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	return r.db.WithTxn(ctx, func(txn *badger.Txn) error {
		return txn.Set([]byte(key), data)
	})
}

func (r *Repository) get(ctx context.Context, key string, v any) (bool, error) {
	found := false
	err := r.db.WithReadTxn(ctx, func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(key))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		found = true
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, v)
		})
	})
	return found, err
}

// ensureMaps restores empty maps that JSON decoding leaves nil.
func ensureMaps(s *datatypes.Session) {
	if s.Progress.Completed == nil {
		s.Progress.Completed = make(map[int]bool)
	}
	if s.Progress.Authoritative == nil {
		s.Progress.Authoritative = make(map[int]datatypes.CompletionEvent)
	}
	if s.Progress.Events == nil {
		s.Progress.Events = make([]datatypes.CompletionEvent, 0)
	}
}
