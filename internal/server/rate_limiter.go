package server

import (
	"sync"
	"time"
)

// maxRateLimitEntries bounds the tracked-client map. When exceeded, expired
// windows are swept before admitting the new key.
const maxRateLimitEntries = 10000

// rateLimiter is a fixed-window per-key counter guarding the merchant refund
// endpoint. Webhook routes are never limited: dropping a provider delivery
// only trades a cheap duplicate check for a retry storm.
type rateLimiter struct {
	limit  int
	window time.Duration
	mu     sync.Mutex
	items  map[string]*rateLimitEntry
}

type rateLimitEntry struct {
	windowStart time.Time
	count       int
}

func newRateLimiter(limit int, window time.Duration) *rateLimiter {
	return &rateLimiter{
		limit:  limit,
		window: window,
		items:  make(map[string]*rateLimitEntry),
	}
}

func (r *rateLimiter) Allow(key string) bool {
	if key == "" {
		return false
	}

	now := time.Now().UTC()
	r.mu.Lock()
	defer r.mu.Unlock()

	entry := r.items[key]
	if entry == nil || now.Sub(entry.windowStart) > r.window {
		if entry == nil && len(r.items) >= maxRateLimitEntries {
			r.sweep(now)
		}
		entry = &rateLimitEntry{windowStart: now}
		r.items[key] = entry
	}

	if entry.count >= r.limit {
		return false
	}

	entry.count++
	return true
}

func (r *rateLimiter) sweep(now time.Time) {
	for key, entry := range r.items {
		if now.Sub(entry.windowStart) > r.window {
			delete(r.items, key)
		}
	}
}
