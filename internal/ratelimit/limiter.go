package ratelimit

import (
	"sync"
	"time"
)

// LimitType identifies which bucket rejected a request, per §4.3/§6's HTTP
// contract (X-RateLimit-Type / body "limit_type").
type LimitType string

const (
	LimitIP     LimitType = "ip"
	LimitAPIKey LimitType = "api_key"
	LimitGlobal LimitType = "global"
)

// Config configures the three bucket families. A RatePerSecond of zero
// disables that family (global is optional; per-IP and per-key are always
// consulted when applicable per §4.3).
type Config struct {
	GlobalRatePerSecond float64
	GlobalBurst         int

	IPRatePerSecond float64
	IPBurst         int

	KeyRatePerSecond float64
	KeyBurst         int

	// IdleEvictAfter is how long an IP/key bucket may sit unused before the
	// janitor removes it. Zero disables eviction.
	IdleEvictAfter time.Duration
}

// Limiter composes the global, per-IP, and per-API-key token buckets. A
// request is admitted iff every *applicable* bucket has a token: the global
// bucket is consulted only if configured, and the per-key bucket is
// consulted only when the request carries a key (§4.3).
type Limiter struct {
	cfg    Config
	global *Bucket

	mu       sync.RWMutex
	byIP     map[string]*Bucket
	byAPIKey map[string]*Bucket

	rejMu      sync.Mutex
	rejections map[LimitType]int64
}

// NewLimiter creates a Limiter from cfg.
func NewLimiter(cfg Config) *Limiter {
	l := &Limiter{
		cfg:        cfg,
		byIP:       make(map[string]*Bucket),
		byAPIKey:   make(map[string]*Bucket),
		rejections: make(map[LimitType]int64),
	}
	if cfg.GlobalRatePerSecond > 0 {
		l.global = NewBucket(cfg.GlobalRatePerSecond, cfg.GlobalBurst)
	}
	return l
}

// Result is the outcome of an admission check.
type Result struct {
	Allowed           bool
	RejectedBy        LimitType
	RetryAfterSeconds int
}

// Allow admits or rejects a request identified by clientIP and, optionally,
// apiKey (empty if the request carries none). Exactly one token is
// decremented from each applicable bucket; if any applicable bucket is
// empty the request is rejected and no other bucket is consulted further
// than necessary to report which one triggered.
//
// Order of evaluation: global, then per-IP, then per-key — the first
// exhausted bucket is reported as RejectedBy. Tokens already consumed from
// buckets checked before the rejecting one are not refunded; this matches a
// real token-bucket admission pipeline where each check has already taken
// effect.
func (l *Limiter) Allow(clientIP, apiKey string) Result {
	if l.global != nil {
		if ok, retry := l.global.Allow(); !ok {
			l.countRejection(LimitGlobal)
			return Result{Allowed: false, RejectedBy: LimitGlobal, RetryAfterSeconds: retry}
		}
	}

	if l.cfg.IPRatePerSecond > 0 && clientIP != "" {
		bucket := l.bucketFor(&l.byIP, clientIP, l.cfg.IPRatePerSecond, l.cfg.IPBurst)
		if ok, retry := bucket.Allow(); !ok {
			l.countRejection(LimitIP)
			return Result{Allowed: false, RejectedBy: LimitIP, RetryAfterSeconds: retry}
		}
	}

	if l.cfg.KeyRatePerSecond > 0 && apiKey != "" {
		bucket := l.bucketFor(&l.byAPIKey, apiKey, l.cfg.KeyRatePerSecond, l.cfg.KeyBurst)
		if ok, retry := bucket.Allow(); !ok {
			l.countRejection(LimitAPIKey)
			return Result{Allowed: false, RejectedBy: LimitAPIKey, RetryAfterSeconds: retry}
		}
	}

	return Result{Allowed: true}
}

func (l *Limiter) countRejection(t LimitType) {
	l.rejMu.Lock()
	l.rejections[t]++
	l.rejMu.Unlock()
}

// RejectionCounts returns a snapshot of cumulative rejections by LimitType,
// for the telemetry package's rate-limit collector.
func (l *Limiter) RejectionCounts() map[string]int64 {
	l.rejMu.Lock()
	defer l.rejMu.Unlock()
	out := make(map[string]int64, len(l.rejections))
	for t, n := range l.rejections {
		out[string(t)] = n
	}
	return out
}

func (l *Limiter) bucketFor(table *map[string]*Bucket, key string, rate float64, burst int) *Bucket {
	l.mu.RLock()
	b, ok := (*table)[key]
	l.mu.RUnlock()
	if ok {
		return b
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if b, ok := (*table)[key]; ok {
		return b
	}
	b = NewBucket(rate, burst)
	(*table)[key] = b
	return b
}

// EvictIdle removes IP/key buckets that have not been consulted in
// l.cfg.IdleEvictAfter, bounding long-term memory growth for a limiter that
// sees many distinct IPs/keys over its lifetime. Intended to be called
// periodically by a background janitor (see internal/ratelimit/janitor.go).
func (l *Limiter) EvictIdle() (evicted int) {
	if l.cfg.IdleEvictAfter <= 0 {
		return 0
	}
	now := time.Now()

	l.mu.Lock()
	defer l.mu.Unlock()

	for k, b := range l.byIP {
		if b.IdleSince(now) > l.cfg.IdleEvictAfter {
			delete(l.byIP, k)
			evicted++
		}
	}
	for k, b := range l.byAPIKey {
		if b.IdleSince(now) > l.cfg.IdleEvictAfter {
			delete(l.byAPIKey, k)
			evicted++
		}
	}
	return evicted
}
