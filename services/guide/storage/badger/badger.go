// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package badger stores guides and sessions in an embedded BadgerDB.
//
// Guides and sessions are JSON documents under "guide:" and "session:" key
// prefixes. OpenDB manages the database lifecycle, including periodic value
// log GC for on-disk databases.
//
// License: BadgerDB is Apache 2.0 licensed (github.com/dgraph-io/badger).
package badger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/dgraph-io/badger/v4"
)

// Config holds configuration for the guide database.
type Config struct {
	// Path is the data directory. Ignored when InMemory is true.
	Path string

	// InMemory keeps everything in RAM. Used by tests and by deployments
	// that do not need sessions to survive a restart.
	InMemory bool

	// SyncWrites fsyncs every commit.
	SyncWrites bool

	// Logger receives BadgerDB's internal log lines. Nil silences them.
	Logger *slog.Logger

	// GCInterval is how often value log GC runs. Zero disables it.
	GCInterval time.Duration

	// GCDiscardRatio is the garbage ratio that triggers a rewrite.
	GCDiscardRatio float64
}

// DefaultConfig returns the production configuration for path.
func DefaultConfig(path string) Config {
	return Config{
		Path:           path,
		SyncWrites:     true,
		GCInterval:     5 * time.Minute,
		GCDiscardRatio: 0.5,
	}
}

// InMemoryConfig returns a configuration for tests.
func InMemoryConfig() Config {
	return Config{InMemory: true}
}

// badgerLogger adapts slog.Logger to BadgerDB's Logger interface.
type badgerLogger struct {
	logger *slog.Logger
}

func (l *badgerLogger) Errorf(format string, args ...interface{}) {
	l.logger.Error(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Warningf(format string, args ...interface{}) {
	l.logger.Warn(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Infof(format string, args ...interface{}) {
	l.logger.Info(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Debugf(format string, args ...interface{}) {
	l.logger.Debug(fmt.Sprintf(format, args...))
}

// open opens the raw BadgerDB handle described by cfg.
func open(cfg Config) (*badger.DB, error) {
	if !cfg.InMemory && cfg.Path == "" {
		return nil, errors.New("path is required for persistent database")
	}

	var opts badger.Options
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if err := os.MkdirAll(cfg.Path, 0750); err != nil {
			return nil, fmt.Errorf("create database directory %s: %w", cfg.Path, err)
		}
		opts = badger.DefaultOptions(cfg.Path)
	}

	opts = opts.WithSyncWrites(cfg.SyncWrites).WithNumVersionsToKeep(1)
	if cfg.Logger != nil {
		opts = opts.WithLogger(&badgerLogger{logger: cfg.Logger})
	} else {
		opts = opts.WithLogger(nil)
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger database: %w", err)
	}
	return db, nil
}

// =============================================================================
// GC
// =============================================================================

// gcRunner runs value log GC on a ticker until stopped.
type gcRunner struct {
	db       *badger.DB
	interval time.Duration
	ratio    float64
	stopCh   chan struct{}
	doneCh   chan struct{}
	logger   *slog.Logger
}

func newGCRunner(db *badger.DB, interval time.Duration, ratio float64, logger *slog.Logger) (*gcRunner, error) {
	if interval <= 0 {
		return nil, errors.New("interval must be positive")
	}
	if ratio < 0 || ratio > 1 {
		return nil, errors.New("ratio must be between 0 and 1")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &gcRunner{
		db:       db,
		interval: interval,
		ratio:    ratio,
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
		logger:   logger,
	}, nil
}

func (r *gcRunner) start() { go r.run() }

func (r *gcRunner) stop() {
	close(r.stopCh)
	<-r.doneCh
}

func (r *gcRunner) run() {
	defer close(r.doneCh)

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-r.stopCh:
			return
		case <-ticker.C:
			err := r.db.RunValueLogGC(r.ratio)
			switch {
			case err == nil:
				r.logger.Debug("badger value log GC completed")
			case !errors.Is(err, badger.ErrNoRewrite):
				r.logger.Warn("badger value log GC error", slog.String("error", err.Error()))
			}
		}
	}
}

// =============================================================================
// DB
// =============================================================================

// DB wraps a BadgerDB handle with its GC runner.
type DB struct {
	*badger.DB
	gc       *gcRunner
	inMemory bool
}

// OpenDB opens the database and starts GC when configured.
//
// Description:
//
//	On-disk databases with a positive GCInterval get a background GC
//	goroutine that Close stops.
//
// Outputs:
//
//	*DB - The managed database. Call Close() when done.
//	error - Non-nil if the database cannot be opened.
//
// Thread Safety: The returned DB is safe for concurrent use.
func OpenDB(cfg Config) (*DB, error) {
	db, err := open(cfg)
	if err != nil {
		return nil, err
	}

	wrapped := &DB{DB: db, inMemory: cfg.InMemory}
	if cfg.GCInterval > 0 && !cfg.InMemory {
		runner, err := newGCRunner(db, cfg.GCInterval, cfg.GCDiscardRatio, cfg.Logger)
		if err != nil {
			db.Close()
			return nil, fmt.Errorf("create GC runner: %w", err)
		}
		wrapped.gc = runner
		runner.start()
	}
	return wrapped, nil
}

// Close stops GC and closes the database.
func (d *DB) Close() error {
	if d.gc != nil {
		d.gc.stop()
		d.gc = nil
	}
	return d.DB.Close()
}

// WithTxn runs fn in a read-write transaction and commits if it returns nil.
func (d *DB) WithTxn(ctx context.Context, fn func(txn *badger.Txn) error) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("context cancelled: %w", err)
	}

	txn := d.DB.NewTransaction(true)
	defer txn.Discard()

	if err := fn(txn); err != nil {
		return err
	}
	return txn.Commit()
}

// WithReadTxn runs fn in a read-only transaction.
func (d *DB) WithReadTxn(ctx context.Context, fn func(txn *badger.Txn) error) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("context cancelled: %w", err)
	}

	txn := d.DB.NewTransaction(false)
	defer txn.Discard()

	return fn(txn)
}
