package utils

import (
	"math"
	"math/rand"

	"golang.org/x/exp/constraints"
)

type Pair[F any, S any] struct {
	First  F
	Second S
}

// An imprecise float approximate comparison. "optional" variance with ... args strategy
func FloatEquals(a float64, b float64, inputVariance ...float64) bool {
	variance := 0.001
	if len(inputVariance) >= 1 {
		variance = inputVariance[0]
	}
	return math.Abs(a-b) < variance
}

func Max[T constraints.Ordered](x, y T) T {
	if x < y {
		return y
	}
	return x
}

// ArgMin returns the position of the smallest value (first on ties), or -1 for an empty slice.
func ArgMin[T constraints.Ordered](slice []T) int {
	if len(slice) == 0 {
		return -1
	}
	best := 0
	for i := 1; i < len(slice); i++ {
		if slice[i] < slice[best] {
			best = i
		}
	}
	return best
}

// Identity returns [0, n).
func Identity(n int) []int {
	idx := make([]int, n)
	for i := range idx {
		idx[i] = i
	}
	return idx
}

// Shuffle is an in-place Fisher-Yates shuffle driven by the given source.
func Shuffle[T any](rng *rand.Rand, slice []T) {
	for i := range slice {
		j := rng.Intn(i + 1)
		slice[i], slice[j] = slice[j], slice[i]
	}
}

// Chunks splits [0, n) into at most parts contiguous ranges of near equal size.
func Chunks(n int, parts int) []Pair[int, int] {
	if parts < 1 {
		parts = 1
	}
	if parts > n {
		parts = n
	}
	ranges := make([]Pair[int, int], 0, parts)
	for p := 0; p < parts; p++ {
		start := p * n / parts
		end := (p + 1) * n / parts
		ranges = append(ranges, Pair[int, int]{start, end})
	}
	return ranges
}
