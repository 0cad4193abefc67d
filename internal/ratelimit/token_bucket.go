// Package ratelimit caps per-API-key request rates on the appliance-facing
// endpoints. A runaway agent loop can otherwise hammer the GDP appliance,
// which is also serving interactive users.
package ratelimit

import (
	"sync"
	"time"
)

// bucket is a single token bucket. Tokens refill continuously at rate per
// second up to burst.
type bucket struct {
	mu         sync.Mutex
	rate       float64
	burst      float64
	tokens     float64
	lastRefill time.Time

	now func() time.Time
}

func (b *bucket) allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.now()
	b.tokens += now.Sub(b.lastRefill).Seconds() * b.rate
	if b.tokens > b.burst {
		b.tokens = b.burst
	}
	b.lastRefill = now

	if b.tokens >= 1.0 {
		b.tokens--
		return true
	}
	return false
}

// PerKey maintains one token bucket per API key prefix. All buckets share
// the same rate.
type PerKey struct {
	mu      sync.RWMutex
	buckets map[string]*bucket
	rate    float64
	burst   float64

	now func() time.Time
}

// NewPerKey creates a limiter allowing perMinute requests per key. Burst
// capacity equals one minute's allowance so short spikes are tolerated.
func NewPerKey(perMinute float64) *PerKey {
	return &PerKey{
		buckets: make(map[string]*bucket),
		rate:    perMinute / 60.0,
		burst:   perMinute,
		now:     time.Now,
	}
}

// Allow reports whether the key may make another request, creating the
// key's bucket on first sight.
func (p *PerKey) Allow(keyPrefix string) bool {
	p.mu.RLock()
	b, ok := p.buckets[keyPrefix]
	p.mu.RUnlock()
	if ok {
		return b.allow()
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if b, ok = p.buckets[keyPrefix]; ok {
		return b.allow()
	}
	b = &bucket{
		rate:       p.rate,
		burst:      p.burst,
		tokens:     p.burst,
		lastRefill: p.now(),
		now:        p.now,
	}
	p.buckets[keyPrefix] = b
	return b.allow()
}
