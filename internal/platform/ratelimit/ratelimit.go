// Package ratelimit provides keyed token-bucket limiters for abuse-prone flows.
package ratelimit

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Config controls the per-key token bucket.
type Config struct {
	Rate  rate.Limit
	Burst int
	// IdleTTL bounds how long an untouched key keeps its bucket.
	IdleTTL time.Duration
}

type keyedLimiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// Keyed rate-limits independent keys (normalized emails, client addresses)
// against a shared bucket configuration. Idle buckets are evicted lazily on
// Allow, so no background sweeper runs.
type Keyed struct {
	config Config
	clock  func() time.Time

	mu       sync.Mutex
	limiters map[string]*keyedLimiter
	lastScan time.Time
}

// NewKeyed creates a keyed limiter with the provided configuration.
func NewKeyed(config Config) *Keyed {
	if config.Burst <= 0 {
		config.Burst = 1
	}
	if config.IdleTTL <= 0 {
		config.IdleTTL = 15 * time.Minute
	}
	return &Keyed{
		config:   config,
		clock:    time.Now,
		limiters: make(map[string]*keyedLimiter),
	}
}

// Allow reports whether the key may proceed and consumes one token if so.
func (k *Keyed) Allow(key string) bool {
	if k == nil {
		return true
	}
	now := k.clock()

	k.mu.Lock()
	defer k.mu.Unlock()

	k.evictIdleLocked(now)

	entry, ok := k.limiters[key]
	if !ok {
		entry = &keyedLimiter{limiter: rate.NewLimiter(k.config.Rate, k.config.Burst)}
		k.limiters[key] = entry
	}
	entry.lastSeen = now
	return entry.limiter.AllowN(now, 1)
}

func (k *Keyed) evictIdleLocked(now time.Time) {
	if now.Sub(k.lastScan) < k.config.IdleTTL {
		return
	}
	k.lastScan = now
	for key, entry := range k.limiters {
		if now.Sub(entry.lastSeen) >= k.config.IdleTTL {
			delete(k.limiters, key)
		}
	}
}
