package mempool

import "testing"

func TestRateLimiterGlobalBucketExhausts(t *testing.T) {
	l := NewRateLimiter(1, 1, 100, 100)
	if !l.Allow("peerA") {
		t.Fatal("first request should be allowed by a fresh burst")
	}
	if l.Allow("peerA") {
		t.Fatal("second immediate request should exhaust the global burst of 1")
	}
}

func TestRateLimiterPerPeerIsolated(t *testing.T) {
	l := NewRateLimiter(100, 100, 1, 1)
	if !l.Allow("peerA") {
		t.Fatal("peerA first request should be allowed")
	}
	if l.Allow("peerA") {
		t.Fatal("peerA second immediate request should be rejected")
	}
	if !l.Allow("peerB") {
		t.Fatal("peerB should have its own untouched bucket")
	}
}

func TestAllowPriorityCriticalBypassesPerPeerBucket(t *testing.T) {
	l := NewRateLimiter(100, 100, 1, 1)
	if !l.AllowPriority("peerA", PriorityNormal) {
		t.Fatal("peerA first normal request should be allowed")
	}
	if !l.AllowPriority("peerA", PriorityCritical) {
		t.Fatal("critical priority should bypass the exhausted per-peer bucket")
	}
}

func TestAllowPriorityCriticalStillBoundByGlobalBucket(t *testing.T) {
	l := NewRateLimiter(1, 1, 100, 100)
	if !l.AllowPriority("peerA", PriorityCritical) {
		t.Fatal("first critical request should be allowed by a fresh global burst")
	}
	if l.AllowPriority("peerB", PriorityCritical) {
		t.Fatal("critical priority still counts against the exhausted global bucket")
	}
}
