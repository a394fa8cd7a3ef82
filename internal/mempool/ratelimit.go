package mempool

import (
	"sync"

	"golang.org/x/time/rate"
)

// RateLimiter throttles transaction ingress with a global bucket plus a
// per-peer bucket, so one noisy peer can't starve out the rest. Critical
// priority transactions bypass the per-peer bucket entirely (but still
// count against the global one), matching the spec's priority escape
// hatch for time-sensitive transactions.
type RateLimiter struct {
	global *rate.Limiter

	mu       sync.Mutex
	perPeer  map[string]*rate.Limiter
	peerRate rate.Limit
	peerBurst int
}

// NewRateLimiter creates a limiter with globalRate events/sec (burst
// globalBurst) and, per peer, peerRate events/sec (burst peerBurst).
func NewRateLimiter(globalRate float64, globalBurst int, peerRate float64, peerBurst int) *RateLimiter {
	return &RateLimiter{
		global:    rate.NewLimiter(rate.Limit(globalRate), globalBurst),
		perPeer:   make(map[string]*rate.Limiter),
		peerRate:  rate.Limit(peerRate),
		peerBurst: peerBurst,
	}
}

// DefaultRateLimiter matches the spec's default shape: a global bucket
// and a per-peer bucket at a 1:10 ratio of the global rate.
func DefaultRateLimiter(globalPerSecond float64) *RateLimiter {
	return NewRateLimiter(globalPerSecond, int(globalPerSecond), globalPerSecond/10, int(globalPerSecond/10)+1)
}

func (l *RateLimiter) peerLimiter(peerID string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()
	lim, ok := l.perPeer[peerID]
	if !ok {
		lim = rate.NewLimiter(l.peerRate, l.peerBurst)
		l.perPeer[peerID] = lim
	}
	return lim
}

// Allow checks both the global and per-peer buckets for peerID.
func (l *RateLimiter) Allow(peerID string) bool {
	return l.AllowPriority(peerID, PriorityNormal)
}

// AllowPriority checks the global bucket always, and the per-peer bucket
// unless priority is Critical.
func (l *RateLimiter) AllowPriority(peerID string, priority Priority) bool {
	if !l.global.Allow() {
		return false
	}
	if priority == PriorityCritical {
		return true
	}
	return l.peerLimiter(peerID).Allow()
}
