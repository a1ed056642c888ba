// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package config

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// ReloadFunc receives the merged configuration after the file changed.
type ReloadFunc func(Config)

// WatcherOptions configures a Watcher.
type WatcherOptions struct {
	// Debounce is how long the file must stay quiet before it is reread.
	// Default: 200ms
	Debounce time.Duration

	// Getenv supplies environment overrides. Default: os.Getenv
	Getenv func(string) string

	// Logger reports reload failures. Default: slog.Default()
	Logger *slog.Logger
}

// Watcher rereads a config file when it changes on disk.
//
// # Description
//
// The parent directory is watched rather than the file, so editors that
// save by writing a temp file and renaming it over the original are seen.
// Bursts of events are collapsed by the debounce window. A file that no
// longer parses is logged and skipped; the previous settings stay in force.
//
// # Thread Safety
//
// The ReloadFunc is called from a single goroutine.
type Watcher struct {
	path     string
	watcher  *fsnotify.Watcher
	onReload ReloadFunc
	debounce time.Duration
	getenv   func(string) string
	logger   *slog.Logger

	done     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewWatcher creates a Watcher for path. Call Start to begin watching.
func NewWatcher(path string, onReload ReloadFunc, opts *WatcherOptions) (*Watcher, error) {
	if path == "" {
		return nil, errors.New("config watcher needs a file path")
	}
	if onReload == nil {
		return nil, errors.New("config watcher needs a reload function")
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve config path: %w", err)
	}

	var o WatcherOptions
	if opts != nil {
		o = *opts
	}
	if o.Debounce <= 0 {
		o.Debounce = 200 * time.Millisecond
	}
	if o.Getenv == nil {
		o.Getenv = os.Getenv
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create file watcher: %w", err)
	}
	return &Watcher{
		path:     abs,
		watcher:  fw,
		onReload: onReload,
		debounce: o.Debounce,
		getenv:   o.Getenv,
		logger:   o.Logger.With(slog.String("component", "config_watcher")),
		done:     make(chan struct{}),
	}, nil
}

// Start watches until ctx is cancelled or Stop is called.
func (w *Watcher) Start(ctx context.Context) error {
	if err := w.watcher.Add(filepath.Dir(w.path)); err != nil {
		return fmt.Errorf("watch %s: %w", filepath.Dir(w.path), err)
	}
	w.wg.Add(1)
	go w.loop(ctx)
	w.logger.Info("Watching config file", slog.String("path", w.path))
	return nil
}

// Stop ends watching and waits for the loop to exit. Safe to call more
// than once.
func (w *Watcher) Stop() error {
	var err error
	w.stopOnce.Do(func() {
		close(w.done)
		err = w.watcher.Close()
		w.wg.Wait()
	})
	return err
}

func (w *Watcher) loop(ctx context.Context) {
	defer w.wg.Done()

	timer := time.NewTimer(w.debounce)
	if !timer.Stop() {
		<-timer.C
	}
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.done:
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != w.path {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				continue
			}
			timer.Reset(w.debounce)
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Warn("Config watcher error", slog.String("error", err.Error()))
		case <-timer.C:
			w.reload()
		}
	}
}

func (w *Watcher) reload() {
	cfg, err := LoadWithEnv(w.path, w.getenv)
	if err != nil {
		w.logger.Warn("Config reload failed, keeping current settings",
			slog.String("path", w.path),
			slog.String("error", err.Error()))
		return
	}
	w.logger.Info("Config file reloaded", slog.String("path", w.path))
	w.onReload(cfg)
}
