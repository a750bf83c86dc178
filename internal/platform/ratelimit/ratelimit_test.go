package ratelimit

import (
	"testing"
	"time"

	"golang.org/x/time/rate"
)

func TestAllowConsumesBurst(t *testing.T) {
	limiter := NewKeyed(Config{Rate: rate.Limit(1.0 / 60.0), Burst: 3})
	clockTime := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	limiter.clock = func() time.Time { return clockTime }

	for i := 0; i < 3; i++ {
		if !limiter.Allow("a@x.com") {
			t.Fatalf("attempt %d should be allowed", i+1)
		}
	}
	if limiter.Allow("a@x.com") {
		t.Fatal("expected burst exhaustion")
	}
}

func TestAllowIsPerKey(t *testing.T) {
	limiter := NewKeyed(Config{Rate: rate.Limit(1.0 / 60.0), Burst: 1})
	clockTime := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	limiter.clock = func() time.Time { return clockTime }

	if !limiter.Allow("a@x.com") {
		t.Fatal("first key should be allowed")
	}
	if !limiter.Allow("b@x.com") {
		t.Fatal("second key should have its own bucket")
	}
	if limiter.Allow("a@x.com") {
		t.Fatal("first key should be exhausted")
	}
}

func TestTokensRefillOverTime(t *testing.T) {
	limiter := NewKeyed(Config{Rate: rate.Limit(1.0 / 60.0), Burst: 1})
	clockTime := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	limiter.clock = func() time.Time { return clockTime }

	if !limiter.Allow("a@x.com") {
		t.Fatal("expected first attempt allowed")
	}
	if limiter.Allow("a@x.com") {
		t.Fatal("expected second attempt throttled")
	}

	clockTime = clockTime.Add(2 * time.Minute)
	if !limiter.Allow("a@x.com") {
		t.Fatal("expected refill after waiting")
	}
}

func TestIdleKeysEvicted(t *testing.T) {
	limiter := NewKeyed(Config{Rate: rate.Limit(1), Burst: 1, IdleTTL: time.Minute})
	clockTime := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	limiter.clock = func() time.Time { return clockTime }

	limiter.Allow("a@x.com")
	clockTime = clockTime.Add(2 * time.Minute)
	limiter.Allow("b@x.com")

	limiter.mu.Lock()
	_, stale := limiter.limiters["a@x.com"]
	limiter.mu.Unlock()
	if stale {
		t.Fatal("expected idle key to be evicted")
	}
}

func TestNilLimiterAllows(t *testing.T) {
	var limiter *Keyed
	if !limiter.Allow("a@x.com") {
		t.Fatal("nil limiter should allow")
	}
}
