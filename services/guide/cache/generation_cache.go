// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package cache deduplicates guide generation for equivalent requests.
package cache

import (
	"container/list"
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/AleutianAI/AleutianGuide/services/guide/datatypes"
	"golang.org/x/sync/singleflight"
)

// GenerateFunc produces a guide on a cache miss.
type GenerateFunc func(ctx context.Context) (*datatypes.Guide, error)

// GenerationCache maps request keys to generated guides.
//
// Description:
//
//	Entries live for TTL and the least recently used entry is evicted once
//	MaxEntries is reached. Concurrent misses for one key share a single
//	generation through singleflight. Failures are never cached.
//
// Thread Safety:
//
//	GenerationCache is safe for concurrent use. The RWMutex guards the entry
//	map and LRU list; counters are atomic.
type GenerationCache struct {
	mu      sync.RWMutex
	entries map[string]*entry
	lru     *list.List
	flight  singleflight.Group
	options CacheOptions

	// Stats
	hits        int64
	misses      int64
	evictions   int64
	expirations int64
	generations int64
	failures    int64
	shared      int64
}

// NewGenerationCache creates a GenerationCache with the given options.
func NewGenerationCache(opts ...CacheOption) *GenerationCache {
	options := DefaultCacheOptions()
	for _, opt := range opts {
		opt(&options)
	}
	if options.Now == nil {
		options.Now = time.Now
	}
	return &GenerationCache{
		entries: make(map[string]*entry),
		lru:     list.New(),
		options: options,
	}
}

// Get returns the guide cached under key if it is still within its TTL.
// Expired entries are removed on the way out.
func (c *GenerationCache) Get(ctx context.Context, key string) (*datatypes.Guide, bool) {
	start := time.Now()
	defer func() { recordGetLatency(ctx, time.Since(start)) }()

	c.mu.RLock()
	e, ok := c.entries[key]
	if !ok {
		c.mu.RUnlock()
		atomic.AddInt64(&c.misses, 1)
		recordCacheMiss(ctx)
		return nil, false
	}
	if c.isExpired(e) {
		c.mu.RUnlock()
		c.removeExpired(key)
		atomic.AddInt64(&c.misses, 1)
		recordCacheMiss(ctx)
		return nil, false
	}
	guide := e.guide
	c.mu.RUnlock()

	c.touch(key)
	atomic.AddInt64(&c.hits, 1)
	recordCacheHit(ctx)
	return guide, true
}

// GetOrGenerate returns the cached guide for key, or generates and caches one.
//
// Description:
//
//	On a hit the cached guide is returned verbatim and generate is not
//	called. On a miss, concurrent callers for the same key wait on one
//	shared call to generate. That call runs on a context detached from the
//	caller's cancellation, so a caller that gives up only stops its own
//	wait and the others still receive the result.
//
// Outputs:
//
//	*datatypes.Guide - The cached or freshly generated guide.
//	bool - True when served from the cache.
//	error - The generation error, or ctx.Err() if the caller stopped waiting.
func (c *GenerationCache) GetOrGenerate(ctx context.Context, key string, generate GenerateFunc) (*datatypes.Guide, bool, error) {
	if guide, ok := c.Get(ctx, key); ok {
		return guide, true, nil
	}

	ch := c.flight.DoChan(key, func() (interface{}, error) {
		// A flight that finished just before this one started may have stored it.
		if guide, ok := c.peek(key); ok {
			return guide, nil
		}
		guide, err := generate(context.WithoutCancel(ctx))
		if err != nil {
			atomic.AddInt64(&c.failures, 1)
			return nil, err
		}
		c.store(ctx, key, guide)
		atomic.AddInt64(&c.generations, 1)
		recordGeneration(ctx)
		return guide, nil
	})

	select {
	case <-ctx.Done():
		return nil, false, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, false, res.Err
		}
		if res.Shared {
			atomic.AddInt64(&c.shared, 1)
		}
		return res.Val.(*datatypes.Guide), false, nil
	}
}

// Invalidate removes key from the cache.
func (c *GenerationCache) Invalidate(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if e, ok := c.entries[key]; ok {
		c.removeEntryLocked(e)
	}
}

// PurgeExpired removes every expired entry and returns how many were removed.
func (c *GenerationCache) PurgeExpired() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, e := range c.entries {
		if c.isExpired(e) {
			c.removeEntryLocked(e)
			n++
		}
	}
	atomic.AddInt64(&c.expirations, int64(n))
	return n
}

// Clear removes all entries.
func (c *GenerationCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]*entry)
	c.lru.Init()
}

// Len returns the number of entries, expired or not.
func (c *GenerationCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// Stats returns a snapshot of the cache counters.
func (c *GenerationCache) Stats() CacheStats {
	return CacheStats{
		Entries:     c.Len(),
		Hits:        atomic.LoadInt64(&c.hits),
		Misses:      atomic.LoadInt64(&c.misses),
		Evictions:   atomic.LoadInt64(&c.evictions),
		Expirations: atomic.LoadInt64(&c.expirations),
		Generations: atomic.LoadInt64(&c.generations),
		Failures:    atomic.LoadInt64(&c.failures),
		Shared:      atomic.LoadInt64(&c.shared),
	}
}

// =============================================================================
// Internal
// =============================================================================

func (c *GenerationCache) isExpired(e *entry) bool {
	if c.options.TTL <= 0 {
		return false
	}
	return c.options.Now().Sub(e.storedAt) >= c.options.TTL
}

// peek looks up a live entry without touching stats or LRU order.
func (c *GenerationCache) peek(key string) (*datatypes.Guide, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.entries[key]
	if !ok || c.isExpired(e) {
		return nil, false
	}
	return e.guide, true
}

func (c *GenerationCache) touch(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if e, ok := c.entries[key]; ok && e.lruElement != nil {
		c.lru.MoveToFront(e.lruElement)
	}
}

func (c *GenerationCache) store(ctx context.Context, key string, guide *datatypes.Guide) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if old, ok := c.entries[key]; ok {
		c.removeEntryLocked(old)
	}
	for c.options.MaxEntries > 0 && len(c.entries) >= c.options.MaxEntries {
		if !c.evictLRULocked(ctx) {
			break
		}
	}
	e := &entry{key: key, guide: guide, storedAt: c.options.Now()}
	e.lruElement = c.lru.PushFront(key)
	c.entries[key] = e
}

func (c *GenerationCache) removeExpired(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	// Re-check: the entry may have been replaced while the lock was released.
	if e, ok := c.entries[key]; ok && c.isExpired(e) {
		c.removeEntryLocked(e)
		atomic.AddInt64(&c.expirations, 1)
	}
}

func (c *GenerationCache) evictLRULocked(ctx context.Context) bool {
	back := c.lru.Back()
	if back == nil {
		return false
	}
	key := back.Value.(string)
	if e, ok := c.entries[key]; ok {
		c.removeEntryLocked(e)
	} else {
		c.lru.Remove(back)
	}
	atomic.AddInt64(&c.evictions, 1)
	recordCacheEviction(ctx)
	return true
}

func (c *GenerationCache) removeEntryLocked(e *entry) {
	if e.lruElement != nil {
		c.lru.Remove(e.lruElement)
		e.lruElement = nil
	}
	delete(c.entries, e.key)
}
