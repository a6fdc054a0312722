// Package ratelimit implements a per-tenant plus global token bucket
// with a non-blocking Allow and an atomic Reserve/Release pair for
// multi-step admission.
package ratelimit

import (
	"sync"
	"time"
)

// BucketConfig describes one tenant's (or the global) token bucket.
type BucketConfig struct {
	Capacity        float64
	RefillPerSecond float64
}

type bucket struct {
	mu         sync.Mutex
	tokens     float64
	capacity   float64
	refillRate float64
	lastRefill time.Time
}

func newBucket(cfg BucketConfig, now time.Time) *bucket {
	cap := cfg.Capacity
	if cap <= 0 {
		cap = 1
	}
	rate := cfg.RefillPerSecond
	if rate <= 0 {
		rate = cap
	}
	return &bucket{tokens: cap, capacity: cap, refillRate: rate, lastRefill: now}
}

func (b *bucket) refillLocked(now time.Time) {
	elapsed := now.Sub(b.lastRefill).Seconds()
	if elapsed <= 0 {
		return
	}
	b.tokens += elapsed * b.refillRate
	if b.tokens > b.capacity {
		b.tokens = b.capacity
	}
	b.lastRefill = now
}

// tryTake attempts to remove one token, returning whether it succeeded.
func (b *bucket) tryTake(now time.Time) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.refillLocked(now)
	if b.tokens >= 1 {
		b.tokens--
		return true
	}
	return false
}

func (b *bucket) give(now time.Time) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.refillLocked(now)
	b.tokens++
	if b.tokens > b.capacity {
		b.tokens = b.capacity
	}
}

// Limiter gates dispatch against a global bucket and one bucket per tenant.
type Limiter struct {
	mu      sync.Mutex
	global  *bucket
	perTnt  map[string]*bucket
	tenCfg  BucketConfig
	nowFunc func() time.Time
}

// New constructs a Limiter. globalCfg bounds aggregate throughput; tenantCfg
// is applied lazily the first time a tenant is seen.
func New(globalCfg, tenantCfg BucketConfig) *Limiter {
	now := time.Now
	return &Limiter{
		global:  newBucket(globalCfg, now()),
		perTnt:  make(map[string]*bucket),
		tenCfg:  tenantCfg,
		nowFunc: now,
	}
}

func (l *Limiter) tenantBucket(tenant string) *bucket {
	l.mu.Lock()
	defer l.mu.Unlock()
	b, ok := l.perTnt[tenant]
	if !ok {
		b = newBucket(l.tenCfg, l.nowFunc())
		l.perTnt[tenant] = b
	}
	return b
}

// Allow reports whether a dispatch for tenant may proceed right now,
// consuming a token from both the tenant and global buckets if so. It never
// blocks.
func (l *Limiter) Allow(tenant string) bool {
	now := l.nowFunc()
	tb := l.tenantBucket(tenant)

	if !tb.tryTake(now) {
		return false
	}
	if !l.global.tryTake(now) {
		tb.give(now) // roll back the tenant token; global capacity is the binding constraint
		return false
	}
	return true
}

// Reservation is a ticket returned by Reserve; call Release to give the
// token back when the reserved work turns out not to be needed or failed
// before being dispatched.
type Reservation struct {
	tenant string
	limit  *Limiter
	active bool
}

// Reserve is Allow plus a Reservation handle for later rollback.
func (l *Limiter) Reserve(tenant string) (Reservation, bool) {
	if !l.Allow(tenant) {
		return Reservation{}, false
	}
	return Reservation{tenant: tenant, limit: l, active: true}, true
}

// Release returns the reserved tokens. Safe to call once; a second call is
// a no-op.
func (r *Reservation) Release() {
	if r == nil || !r.active {
		return
	}
	r.active = false
	now := r.limit.nowFunc()
	r.limit.tenantBucket(r.tenant).give(now)
	r.limit.global.give(now)
}
