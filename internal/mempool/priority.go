package mempool

import (
	"time"

	"github.com/kaslum/kaslum-node/pkg/types"
)

// Priority classifies a transaction's mempool treatment, derived from its
// gas price. Critical transactions bypass per-peer rate limiting (see
// ratelimit.go); SelectForBlock orders entries by priority tier before score.
type Priority uint8

const (
	PriorityLow Priority = iota
	PriorityNormal
	PriorityHigh
	PriorityCritical
)

func (p Priority) String() string {
	switch p {
	case PriorityCritical:
		return "critical"
	case PriorityHigh:
		return "high"
	case PriorityNormal:
		return "normal"
	default:
		return "low"
	}
}

// Gas price thresholds (base units) used to bucket a transaction's
// Priority. These mirror the min fee rate / mint fee knobs already on
// Pool: a fixed ladder rather than a config struct, since priority is a
// pure function of gas_price with no other tunable inputs.
const (
	criticalGasPriceThreshold = 1000
	highGasPriceThreshold     = 100
	normalGasPriceThreshold   = 10
)

// PriorityOf buckets a gas price into a Priority tier.
func PriorityOf(gasPrice uint64) Priority {
	switch {
	case gasPrice >= criticalGasPriceThreshold:
		return PriorityCritical
	case gasPrice >= highGasPriceThreshold:
		return PriorityHigh
	case gasPrice >= normalGasPriceThreshold:
		return PriorityNormal
	default:
		return PriorityLow
	}
}

// maxAgeBonusSeconds caps how much an entry's age contributes to its score, so
// an old, cheap transaction doesn't eventually outrank a richer one.
const maxAgeBonusSeconds = 3600

// score computes fee + 10*gas_price + min(age_s, 3600), the ranking used
// by SelectForBlock once priority is involved. gasPrice is derived by the
// caller (fee / weight unit); Pool itself only sees the computed fee.
func score(fee, gasPrice uint64, addedAt time.Time, now time.Time) float64 {
	age := now.Sub(addedAt).Seconds()
	if age > maxAgeBonusSeconds {
		age = maxAgeBonusSeconds
	}
	return float64(fee) + 10*float64(gasPrice) + age
}

// LifecycleEvent names a mempool entry's state transitions.
type LifecycleEvent string

const (
	EventAdded     LifecycleEvent = "added"
	EventValidated LifecycleEvent = "validated"
	EventIncluded  LifecycleEvent = "included"
	EventExpired   LifecycleEvent = "expired"
	EventPoolFull  LifecycleEvent = "mempool_full"
)

// LifecycleHandler is notified of mempool entry lifecycle transitions.
type LifecycleHandler func(event LifecycleEvent, txHash types.Hash)
