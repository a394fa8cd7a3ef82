package mempool

import (
	"testing"
	"time"
)

func TestPriorityOf(t *testing.T) {
	cases := []struct {
		gasPrice uint64
		want     Priority
	}{
		{0, PriorityLow},
		{9, PriorityLow},
		{10, PriorityNormal},
		{99, PriorityNormal},
		{100, PriorityHigh},
		{999, PriorityHigh},
		{1000, PriorityCritical},
		{5000, PriorityCritical},
	}
	for _, c := range cases {
		if got := PriorityOf(c.gasPrice); got != c.want {
			t.Errorf("PriorityOf(%d) = %s, want %s", c.gasPrice, got, c.want)
		}
	}
}

func TestScoreCapsAgeBonus(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	recent := score(100, 1, now, now)
	old := score(100, 1, now.Add(-2*time.Hour), now)
	if old != recent+maxAgeBonusSeconds {
		t.Fatalf("old score = %v, want recent+%v = %v", old, maxAgeBonusSeconds, recent+maxAgeBonusSeconds)
	}
}

func TestScoreOrdersByFeeThenGasPriceThenAge(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	higherFee := score(200, 1, now, now)
	lowerFee := score(100, 1, now, now)
	if higherFee <= lowerFee {
		t.Fatalf("higher fee should score higher: %v <= %v", higherFee, lowerFee)
	}

	higherGasPrice := score(100, 5, now, now)
	lowerGasPrice := score(100, 1, now, now)
	if higherGasPrice <= lowerGasPrice {
		t.Fatalf("higher gas price should score higher: %v <= %v", higherGasPrice, lowerGasPrice)
	}

	older := score(100, 1, now.Add(-time.Minute), now)
	newer := score(100, 1, now, now)
	if older <= newer {
		t.Fatalf("older entry should score higher: %v <= %v", older, newer)
	}
}
