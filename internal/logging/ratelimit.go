// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package logging

import (
	"sync"
	"time"
)

// RateLimiter bounds how often a given log key may fire, so a sustained
// burst of parse errors, full mailboxes, or full flow tables cannot flood
// the log (spec.md §7: "non-fatal errors... emit a rate-limited log
// entry"). It is single-writer per worker by convention — one RateLimiter
// per worker, never shared across workers — so the fast path pays only an
// uncontended map lookup, never a cross-core lock.
type RateLimiter struct {
	mu       sync.Mutex
	window   time.Duration
	burst    int
	counters map[string]*bucket
}

type bucket struct {
	count      int
	windowOpen time.Time
}

// NewRateLimiter returns a limiter allowing up to burst log lines per
// distinct key within each window.
func NewRateLimiter(window time.Duration, burst int) *RateLimiter {
	return &RateLimiter{
		window:   window,
		burst:    burst,
		counters: make(map[string]*bucket),
	}
}

// Allow reports whether a log line for key may be emitted now, and
// advances the internal bucket. now is supplied by the caller so fast-path
// code can reuse the cycle clock it already read this iteration.
func (r *RateLimiter) Allow(key string, now time.Time) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	b, ok := r.counters[key]
	if !ok || now.Sub(b.windowOpen) >= r.window {
		r.counters[key] = &bucket{count: 1, windowOpen: now}
		return true
	}
	if b.count >= r.burst {
		return false
	}
	b.count++
	return true
}
