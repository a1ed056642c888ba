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
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/AleutianAI/AleutianGuide/pkg/extensions"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
)

func newTestLimiter(rps float64, burst int) (*RateLimiter, *time.Time) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	rl := NewRateLimiter(RateLimitConfig{RequestsPerSecond: rps, Burst: burst, IdleEviction: time.Minute})
	rl.now = func() time.Time { return now }
	return rl, &now
}

func TestRateLimiter_BurstThenRefill(t *testing.T) {
	rl, now := newTestLimiter(1, 2)

	ok, _ := rl.Reserve("a")
	assert.True(t, ok)
	ok, _ = rl.Reserve("a")
	assert.True(t, ok)

	ok, wait := rl.Reserve("a")
	assert.False(t, ok)
	assert.Greater(t, wait, time.Duration(0))
	assert.LessOrEqual(t, wait, time.Second)

	ok, _ = rl.Reserve("b")
	assert.True(t, ok, "clients have separate buckets")

	*now = now.Add(time.Second)
	ok, _ = rl.Reserve("a")
	assert.True(t, ok, "one token refilled after a second")
}

func TestRateLimiter_Disabled(t *testing.T) {
	rl := NewRateLimiter(RateLimitConfig{})
	assert.False(t, rl.Enabled())
	for i := 0; i < 100; i++ {
		ok, _ := rl.Reserve("a")
		assert.True(t, ok)
	}
	assert.Equal(t, 0, rl.Len())
}

func TestRateLimiter_SetLimit(t *testing.T) {
	rl, now := newTestLimiter(0, 0)
	ok, _ := rl.Reserve("a")
	assert.True(t, ok)

	rl.SetLimit(1, 1)
	assert.True(t, rl.Enabled())
	ok, _ = rl.Reserve("a")
	assert.True(t, ok)
	ok, _ = rl.Reserve("a")
	assert.False(t, ok, "limit applies after SetLimit")

	rl.SetLimit(10, 10)
	*now = now.Add(time.Second)
	for i := 0; i < 10; i++ {
		ok, _ = rl.Reserve("a")
		assert.True(t, ok, "existing bucket uses the new rate and burst (request %d)", i)
	}

	rl.SetLimit(0, 0)
	assert.False(t, rl.Enabled())
	ok, _ = rl.Reserve("a")
	assert.True(t, ok)
}

func TestRateLimiter_EvictsIdleClients(t *testing.T) {
	rl, now := newTestLimiter(5, 5)
	rl.Reserve("a")
	rl.Reserve("b")
	assert.Equal(t, 2, rl.Len())

	*now = now.Add(2 * time.Minute)
	rl.Reserve("c")
	assert.Equal(t, 1, rl.Len())
}

func TestRateLimit_Returns429WithRetryAfter(t *testing.T) {
	rl, _ := newTestLimiter(1, 1)

	router := gin.New()
	router.Use(RateLimit(rl))
	router.GET("/test", func(c *gin.Context) { c.Status(http.StatusOK) })

	first := httptest.NewRecorder()
	router.ServeHTTP(first, httptest.NewRequest("GET", "/test", nil))
	assert.Equal(t, http.StatusOK, first.Code)

	second := httptest.NewRecorder()
	router.ServeHTTP(second, httptest.NewRequest("GET", "/test", nil))
	assert.Equal(t, http.StatusTooManyRequests, second.Code)
	assert.Equal(t, "1", second.Header().Get("Retry-After"))
	assert.Contains(t, second.Body.String(), "rate_limited")
}

func TestRateLimit_KeysByAuthenticatedUser(t *testing.T) {
	rl, _ := newTestLimiter(1, 1)
	users := map[string]string{"tok-a": "alice", "tok-b": "bob"}

	router := gin.New()
	router.Use(AuthMiddleware(extensions.NewStaticTokenAuthProvider(users)))
	router.Use(RateLimit(rl))
	router.GET("/test", func(c *gin.Context) { c.Status(http.StatusOK) })

	codes := make([]int, 0, 3)
	for _, token := range []string{"tok-a", "tok-b", "tok-a"} {
		w := httptest.NewRecorder()
		req := httptest.NewRequest("GET", "/test", nil)
		req.Header.Set("Authorization", "Bearer "+token)
		router.ServeHTTP(w, req)
		codes = append(codes, w.Code)
	}

	assert.Equal(t, []int{http.StatusOK, http.StatusOK, http.StatusTooManyRequests}, codes)
	assert.Equal(t, 2, rl.Len())
}
