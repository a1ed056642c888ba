// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package cache

import (
	"container/list"
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"time"

	"github.com/AleutianAI/AleutianGuide/services/guide/datatypes"
)

// Default configuration values.
const (
	// DefaultMaxEntries is the default maximum number of cached guides.
	DefaultMaxEntries = 256

	// DefaultTTL is how long a generated guide is reused for equivalent requests.
	DefaultTTL = time.Hour
)

// Key derives the cache key for a request.
//
// The instruction is case-folded and its whitespace collapsed, so
// "Install  Docker" and "install docker" share a key. The result is the full
// SHA-256 of "<instruction>:<difficulty>" in hex.
func Key(instruction string, difficulty datatypes.Difficulty) string {
	normalized := strings.Join(strings.Fields(strings.ToLower(instruction)), " ")
	sum := sha256.Sum256([]byte(normalized + ":" + string(difficulty)))
	return hex.EncodeToString(sum[:])
}

// entry is one cached guide.
type entry struct {
	key        string
	guide      *datatypes.Guide
	storedAt   time.Time
	lruElement *list.Element
}

// CacheOptions configures a GenerationCache.
type CacheOptions struct {
	// MaxEntries bounds the number of cached guides. Zero disables the bound.
	MaxEntries int

	// TTL is the validity window of an entry.
	TTL time.Duration

	// Now is the clock. Tests inject a fake one.
	Now func() time.Time
}

// DefaultCacheOptions returns the default options.
func DefaultCacheOptions() CacheOptions {
	return CacheOptions{
		MaxEntries: DefaultMaxEntries,
		TTL:        DefaultTTL,
		Now:        time.Now,
	}
}

// CacheOption is a functional option.
type CacheOption func(*CacheOptions)

// WithMaxEntries sets the entry bound.
func WithMaxEntries(n int) CacheOption {
	return func(o *CacheOptions) { o.MaxEntries = n }
}

// WithTTL sets the validity window.
func WithTTL(ttl time.Duration) CacheOption {
	return func(o *CacheOptions) { o.TTL = ttl }
}

// WithClock sets the clock.
func WithClock(now func() time.Time) CacheOption {
	return func(o *CacheOptions) { o.Now = now }
}

// CacheStats is a point-in-time snapshot of cache counters.
type CacheStats struct {
	Entries     int   `json:"entries"`
	Hits        int64 `json:"hits"`
	Misses      int64 `json:"misses"`
	Evictions   int64 `json:"evictions"`
	Expirations int64 `json:"expirations"`
	Generations int64 `json:"generations"`
	Failures    int64 `json:"failures"`
	Shared      int64 `json:"shared"`
}
