// Package ratelimit implements the admission controller's token-bucket rate
// limiting: a global bucket, per-IP buckets, and per-API-key buckets (§4.3).
package ratelimit

import (
	"sync"
	"time"
)

// Bucket is a single token bucket: capacity tokens refilled continuously at
// rate tokens/second, consumed one at a time by Allow.
type Bucket struct {
	mu         sync.Mutex
	tokens     float64
	capacity   float64
	refillRate float64 // tokens per second
	lastRefill time.Time
	lastUsed   time.Time
}

// NewBucket creates a Bucket starting full, with ratePerSecond refill and
// burst capacity tokens.
func NewBucket(ratePerSecond float64, burst int) *Bucket {
	now := time.Now()
	return &Bucket{
		tokens:     float64(burst),
		capacity:   float64(burst),
		refillRate: ratePerSecond,
		lastRefill: now,
		lastUsed:   now,
	}
}

// Allow refills the bucket for elapsed time, then attempts to consume one
// token. It returns whether the request is admitted and, when it is not,
// how many seconds the caller should wait before retrying (minimum 1, per
// §4.3's HTTP 429 contract).
func (b *Bucket) Allow() (allowed bool, retryAfterSeconds int) {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := time.Now()
	elapsed := now.Sub(b.lastRefill).Seconds()
	b.tokens += elapsed * b.refillRate
	if b.tokens > b.capacity {
		b.tokens = b.capacity
	}
	b.lastRefill = now
	b.lastUsed = now

	if b.tokens >= 1.0 {
		b.tokens -= 1.0
		return true, 0
	}

	deficit := 1.0 - b.tokens
	wait := deficit / b.refillRate
	retry := int(wait + 0.999) // round up
	if retry < 1 {
		retry = 1
	}
	return false, retry
}

// IdleSince reports how long it has been since this bucket was last
// consulted — used by the janitor to evict buckets for IPs/keys that have
// gone quiet.
func (b *Bucket) IdleSince(now time.Time) time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()
	return now.Sub(b.lastUsed)
}
