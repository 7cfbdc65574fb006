package pathsel

import (
	"math/rand/v2"

	"github.com/lightningnetwork/lnd/fn/v2"
)

// Rand is the source of randomness used for selection. *rand.Rand satisfies
// it.
type Rand interface {
	// Float64 returns a pseudo-random number in [0.0, 1.0).
	Float64() float64

	// IntN returns a pseudo-random number in [0, n).
	IntN(n int) int
}

// A compile time check to ensure *rand.Rand satisfies Rand.
var _ Rand = (*rand.Rand)(nil)

// WeightFunc maps a candidate to its non-negative selection weight.
type WeightFunc[T any] func(T) float64

// Sample picks one candidate with probability proportional to its weight. It
// returns None if there are no candidates or the total weight is zero.
//
// The draw r is taken from [0, total) and the first candidate whose running
// sum reaches r wins, so ties between equal weights go to the candidate seen
// first. Candidates with a zero, negative or NaN weight are never returned.
// Sample does not remove the winner, that is up to the caller.
func Sample[T any](rng Rand, candidates []T, weight WeightFunc[T]) fn.Option[T] {
	if len(candidates) == 0 {
		return fn.None[T]()
	}

	// Evaluate every weight exactly once so the draw and the accumulation
	// below see the same numbers.
	weights := make([]float64, len(candidates))
	var total float64
	for i, c := range candidates {
		w := weight(c)
		if !(w > 0) {
			w = 0
		}
		weights[i] = w
		total += w
	}
	if total == 0 {
		return fn.None[T]()
	}

	r := rng.Float64() * total

	var (
		upto    float64
		lastPos = -1
	)
	for i, w := range weights {
		if w == 0 {
			continue
		}
		if upto+w >= r {
			return fn.Some(candidates[i])
		}

		upto += w
		lastPos = i
	}

	// Rounding in the running sum can leave r just above the final
	// total.
	return fn.Some(candidates[lastPos])
}
