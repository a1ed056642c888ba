// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package middleware

import (
	"math"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/AleutianAI/AleutianGuide/pkg/extensions"
	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

// RateLimitConfig configures per-client token buckets.
type RateLimitConfig struct {
	// RequestsPerSecond is the refill rate. Zero or less disables limiting.
	RequestsPerSecond float64

	// Burst is the bucket size. Defaults to max(1, RequestsPerSecond).
	Burst int

	// IdleEviction drops buckets not used for this long. Default 10m.
	IdleEviction time.Duration
}

type clientBucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// RateLimiter holds one token bucket per client key.
//
// Thread Safety: safe for concurrent use.
type RateLimiter struct {
	cfg     RateLimitConfig
	mu      sync.Mutex
	buckets map[string]*clientBucket
	now     func() time.Time
	sweptAt time.Time
}

// NewRateLimiter creates a RateLimiter from cfg.
func NewRateLimiter(cfg RateLimitConfig) *RateLimiter {
	cfg.Burst = defaultBurst(cfg.RequestsPerSecond, cfg.Burst)
	if cfg.IdleEviction <= 0 {
		cfg.IdleEviction = 10 * time.Minute
	}
	return &RateLimiter{
		cfg:     cfg,
		buckets: make(map[string]*clientBucket),
		now:     time.Now,
	}
}

func defaultBurst(rps float64, burst int) int {
	if burst > 0 {
		return burst
	}
	return int(math.Max(1, math.Ceil(rps)))
}

// Enabled reports whether requests are limited at all.
func (rl *RateLimiter) Enabled() bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return rl.cfg.RequestsPerSecond > 0
}

// SetLimit changes the rate and burst for every client. Existing buckets
// keep their tokens and refill at the new rate.
func (rl *RateLimiter) SetLimit(rps float64, burst int) {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	rl.cfg.RequestsPerSecond = rps
	rl.cfg.Burst = defaultBurst(rps, burst)
	now := rl.now()
	for _, b := range rl.buckets {
		b.limiter.SetLimitAt(now, rate.Limit(rps))
		b.limiter.SetBurstAt(now, rl.cfg.Burst)
	}
}

// Reserve takes one token for key. When the bucket is empty it returns
// false and how long the client should wait.
func (rl *RateLimiter) Reserve(key string) (bool, time.Duration) {
	now := rl.now()

	rl.mu.Lock()
	if rl.cfg.RequestsPerSecond <= 0 {
		rl.mu.Unlock()
		return true, 0
	}
	rl.sweepLocked(now)
	b, ok := rl.buckets[key]
	if !ok {
		b = &clientBucket{limiter: rate.NewLimiter(rate.Limit(rl.cfg.RequestsPerSecond), rl.cfg.Burst)}
		rl.buckets[key] = b
	}
	b.lastSeen = now
	rl.mu.Unlock()

	r := b.limiter.ReserveN(now, 1)
	if !r.OK() {
		return false, time.Second
	}
	if delay := r.DelayFrom(now); delay > 0 {
		r.CancelAt(now)
		return false, delay
	}
	return true, 0
}

// Len returns the number of tracked clients.
func (rl *RateLimiter) Len() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return len(rl.buckets)
}

// sweepLocked evicts idle buckets at most once per eviction window.
func (rl *RateLimiter) sweepLocked(now time.Time) {
	if now.Sub(rl.sweptAt) < rl.cfg.IdleEviction {
		return
	}
	rl.sweptAt = now
	for key, b := range rl.buckets {
		if now.Sub(b.lastSeen) >= rl.cfg.IdleEviction {
			delete(rl.buckets, key)
		}
	}
}

// RateLimit rejects requests over the per-client limit with 429 and a
// Retry-After header. Clients are keyed by authenticated user, except the
// shared local user, and by remote IP otherwise.
func RateLimit(rl *RateLimiter) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !rl.Enabled() {
			c.Next()
			return
		}

		key := "ip:" + c.ClientIP()
		if info := GetAuthInfo(c); info != nil && info.UserID != "" && info.UserID != extensions.LocalUserID {
			key = "user:" + info.UserID
		}

		ok, wait := rl.Reserve(key)
		if !ok {
			seconds := int(math.Ceil(wait.Seconds()))
			if seconds < 1 {
				seconds = 1
			}
			c.Header("Retry-After", strconv.Itoa(seconds))
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error": "rate limit exceeded",
				"code":  "rate_limited",
			})
			return
		}
		c.Next()
	}
}
