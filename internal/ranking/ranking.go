// Package ranking holds the sampling and ordering primitives shared by the
// feedback pipeline and the evaluator. Every function that draws random
// numbers takes the caller's *rand.Rand so that each learner keeps its own
// reproducible stream.
package ranking

import (
	"cmp"
	"math/rand/v2"
	"slices"
)

// NewSource returns a random stream seeded with (seed, stream). Learners
// created with the same seed but different stream ids draw independently.
func NewSource(seed, stream uint64) *rand.Rand {
	return rand.New(rand.NewPCG(seed, stream))
}

// SampleWithReplacement draws n ids uniformly from [0, max).
func SampleWithReplacement(rng *rand.Rand, n, max int) []int {
	ids := make([]int, n)
	for i := range ids {
		ids[i] = rng.IntN(max)
	}
	return ids
}

// Permutation returns a uniformly random ordering of 0..n-1.
func Permutation(rng *rand.Rand, n int) []int {
	return rng.Perm(n)
}

// TieBreakers draws one uniform value in [0,1) per document.
func TieBreakers(rng *rand.Rand, n int) []float64 {
	tie := make([]float64, n)
	for i := range tie {
		tie[i] = rng.Float64()
	}
	return tie
}

// RankByScores orders documents by score descending, breaking ties with
// freshly drawn uniform tie-breakers.
func RankByScores(rng *rand.Rand, scores []float64) []int {
	return RankWithTieBreakers(scores, TieBreakers(rng, len(scores)))
}

// RankWithTieBreakers orders documents by (score desc, tie-breaker asc).
// scores and tie must have the same length.
func RankWithTieBreakers(scores, tie []float64) []int {
	order := make([]int, len(scores))
	for i := range order {
		order[i] = i
	}
	slices.SortStableFunc(order, func(a, b int) int {
		if c := cmp.Compare(scores[b], scores[a]); c != 0 {
			return c
		}
		return cmp.Compare(tie[a], tie[b])
	})
	return order
}

// Cutoff returns the number of observed positions in a click vector: the
// index of the last click plus one, or the full length when nothing was
// clicked.
func Cutoff(clicks []bool) int {
	for i := len(clicks) - 1; i >= 0; i-- {
		if clicks[i] {
			return i + 1
		}
	}
	return len(clicks)
}

// Reorder returns values arranged in the given order.
func Reorder(values []int, order []int) []int {
	out := make([]int, len(order))
	for i, idx := range order {
		out[i] = values[idx]
	}
	return out
}
