package ratelimit

import (
	"math"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestBucket_AllowsBurstThenThrottles(t *testing.T) {
	b := NewBucket(1, 3)

	for i := 0; i < 3; i++ {
		ok, _ := b.Allow()
		if !ok {
			t.Fatalf("expected admission %d within burst to succeed", i)
		}
	}

	ok, retry := b.Allow()
	if ok {
		t.Fatal("expected admission beyond burst to be rejected")
	}
	if retry < 1 {
		t.Errorf("retryAfterSeconds = %d, want >= 1", retry)
	}
}

func TestBucket_RefillsOverTime(t *testing.T) {
	b := NewBucket(10, 1)

	ok, _ := b.Allow()
	if !ok {
		t.Fatal("expected first admission to succeed")
	}
	ok, _ = b.Allow()
	if ok {
		t.Fatal("expected immediate second admission to fail")
	}

	b.mu.Lock()
	b.lastRefill = b.lastRefill.Add(-200 * time.Millisecond)
	b.mu.Unlock()

	ok, _ = b.Allow()
	if !ok {
		t.Fatal("expected admission to succeed after refill window elapsed")
	}
}

// TestBucket_AdmissionBound checks property P6: for any arrival sequence
// with rate r over window W, admissions <= ceil(burst + r*W).
func TestBucket_AdmissionBound(t *testing.T) {
	const rate = 5.0
	const burst = 3
	const window = 2 * time.Second

	b := NewBucket(rate, burst)
	admitted := 0

	for elapsed := time.Duration(0); elapsed < window; elapsed += 10 * time.Millisecond {
		b.mu.Lock()
		b.lastRefill = b.lastRefill.Add(-10 * time.Millisecond) // simulate 10ms between arrivals without real sleeps
		b.mu.Unlock()

		ok, _ := b.Allow()
		if ok {
			admitted++
		}
	}

	bound := int(math.Ceil(float64(burst) + rate*window.Seconds()))
	if admitted > bound {
		t.Errorf("admitted %d requests, exceeds bound ceil(burst + r*W) = %d", admitted, bound)
	}
}

func TestLimiter_OrderOfEvaluation(t *testing.T) {
	cfg := Config{
		GlobalRatePerSecond: 100,
		GlobalBurst:         1,
		IPRatePerSecond:     100,
		IPBurst:             5,
		KeyRatePerSecond:    100,
		KeyBurst:            5,
	}
	l := NewLimiter(cfg)

	res := l.Allow("1.2.3.4", "key-a")
	if !res.Allowed {
		t.Fatalf("expected first request to be allowed, got rejected by %q", res.RejectedBy)
	}

	res = l.Allow("1.2.3.4", "key-a")
	if res.Allowed {
		t.Fatal("expected second request to exhaust the global bucket")
	}
	if res.RejectedBy != LimitGlobal {
		t.Errorf("RejectedBy = %q, want %q", res.RejectedBy, LimitGlobal)
	}
	if res.RetryAfterSeconds < 1 {
		t.Errorf("RetryAfterSeconds = %d, want >= 1", res.RetryAfterSeconds)
	}
}

func TestLimiter_PerIPAndPerKeyIsolated(t *testing.T) {
	cfg := Config{
		IPRatePerSecond:  100,
		IPBurst:          1,
		KeyRatePerSecond: 100,
		KeyBurst:         1,
	}
	l := NewLimiter(cfg)

	if res := l.Allow("1.1.1.1", "key-a"); !res.Allowed {
		t.Fatal("expected first IP+key combo to be admitted")
	}
	if res := l.Allow("2.2.2.2", "key-b"); !res.Allowed {
		t.Fatal("expected distinct IP+key combo to have its own buckets")
	}

	res := l.Allow("1.1.1.1", "key-c")
	if res.Allowed {
		t.Fatal("expected IP bucket to already be exhausted")
	}
	if res.RejectedBy != LimitIP {
		t.Errorf("RejectedBy = %q, want %q", res.RejectedBy, LimitIP)
	}

	res = l.Allow("3.3.3.3", "key-a")
	if res.Allowed {
		t.Fatal("expected key bucket to already be exhausted")
	}
	if res.RejectedBy != LimitAPIKey {
		t.Errorf("RejectedBy = %q, want %q", res.RejectedBy, LimitAPIKey)
	}
}

func TestLimiter_NoAPIKeySkipsKeyBucket(t *testing.T) {
	cfg := Config{
		KeyRatePerSecond: 100,
		KeyBurst:         1,
	}
	l := NewLimiter(cfg)

	for i := 0; i < 5; i++ {
		if res := l.Allow("1.1.1.1", ""); !res.Allowed {
			t.Fatalf("request %d without an api key should never consult the key bucket", i)
		}
	}
}

func TestLimiter_EvictIdle(t *testing.T) {
	cfg := Config{
		IPRatePerSecond: 100,
		IPBurst:         1,
		IdleEvictAfter:  50 * time.Millisecond,
	}
	l := NewLimiter(cfg)
	l.Allow("1.1.1.1", "")

	if n := l.EvictIdle(); n != 0 {
		t.Fatalf("expected no eviction immediately after use, got %d", n)
	}

	l.mu.Lock()
	l.byIP["1.1.1.1"].lastUsed = time.Now().Add(-time.Hour)
	l.mu.Unlock()

	if n := l.EvictIdle(); n != 1 {
		t.Fatalf("expected 1 eviction of the idle bucket, got %d", n)
	}
	if _, ok := l.byIP["1.1.1.1"]; ok {
		t.Error("expected idle bucket to be removed from the map")
	}
}

func TestResolveClientIP_TrustProxy(t *testing.T) {
	tests := []struct {
		name       string
		trustProxy bool
		remoteAddr string
		xff        string
		xri        string
		want       string
	}{
		{"trusted, uses XFF leftmost", true, "10.0.0.1:1234", "203.0.113.5, 10.0.0.2", "", "203.0.113.5"},
		{"trusted, falls back to X-Real-IP", true, "10.0.0.1:1234", "", "203.0.113.9", "203.0.113.9"},
		{"trusted, falls back to peer when headers absent", true, "10.0.0.1:1234", "", "", "10.0.0.1"},
		{"untrusted, ignores XFF entirely", false, "10.0.0.1:1234", "203.0.113.5", "", "10.0.0.1"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.RemoteAddr = tt.remoteAddr
			if tt.xff != "" {
				req.Header.Set("X-Forwarded-For", tt.xff)
			}
			if tt.xri != "" {
				req.Header.Set("X-Real-IP", tt.xri)
			}
			if got := ResolveClientIP(req, tt.trustProxy); got != tt.want {
				t.Errorf("ResolveClientIP() = %q, want %q", got, tt.want)
			}
		})
	}
}
