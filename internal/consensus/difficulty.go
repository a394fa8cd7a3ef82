package consensus

import "math/big"

// DifficultyConfig generalizes PoW's fixed adjustment formula with an
// explicit dead-band: when the actual timespan is within ToleranceFraction
// of the expected timespan, difficulty holds steady instead of moving every
// retarget window.
//
// Decision (tracked in DESIGN.md): the source material used "tolerance
// percentage" ambiguously. This repo resolves it as a dead-band around the
// target block time, per spec guidance. ToleranceFraction == 0 degenerates
// to PoW.CalcNextDifficulty's original clamp-and-scale behavior exactly.
type DifficultyConfig struct {
	Min               uint64
	Max               uint64
	Base              uint64
	AdjustmentFactor  float64 // in [0,1]; how aggressively to move outside the dead-band
	ToleranceFraction float64 // in [0,1]; half-width of the dead-band around target
}

// clampU64 clamps v to [lo, hi].
func clampU64(v, lo, hi uint64) uint64 {
	if lo > hi {
		lo, hi = hi, lo
	}
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// AdjustDifficulty computes the next difficulty given the previous
// difficulty and the observed vs. expected timespan of the last retarget
// window, using a dead-band: differences within ToleranceFraction of the
// target are ignored.
func (c DifficultyConfig) AdjustDifficulty(currentDiff uint64, actualTimeSpan, expectedTimeSpan int64) uint64 {
	if expectedTimeSpan <= 0 {
		expectedTimeSpan = 1
	}
	if actualTimeSpan <= 0 {
		actualTimeSpan = 1
	}

	if c.ToleranceFraction <= 0 {
		// Degenerate case: identical to the original clamp-and-scale formula.
		return clampU64(CalcNextDifficulty(currentDiff, actualTimeSpan, expectedTimeSpan), c.Min, c.Max)
	}

	diff := float64(actualTimeSpan-expectedTimeSpan) / float64(expectedTimeSpan)
	if diff < 0 {
		diff = -diff
	}
	if diff <= c.ToleranceFraction {
		return clampU64(currentDiff, c.Min, c.Max)
	}

	// ratioError < 0 means blocks came slower than target (actual > expected):
	// difficulty decreases. ratioError > 0 means faster: increase.
	ratioError := float64(expectedTimeSpan-actualTimeSpan) / float64(expectedTimeSpan)
	if ratioError > 1 {
		ratioError = 1
	}
	if ratioError < -1 {
		ratioError = -1
	}

	factor := 1.0 + c.AdjustmentFactor*ratioError
	if factor < 0 {
		factor = 0
	}

	cur := new(big.Float).SetUint64(currentDiff)
	cur.Mul(cur, big.NewFloat(factor))
	next, _ := cur.Uint64()
	if next < 1 {
		next = 1
	}
	return clampU64(next, c.Min, c.Max)
}
