package mathutils

import (
	"math"

	"golang.org/x/exp/constraints"
	"golang.org/x/exp/slices"
)

// Values at or below this are treated as exact zeros in the active sets.
const Zero = 1e-12

func Dot[T constraints.Float](a, b []T) (sum T) {
	for i := range a {
		sum += a[i] * b[i]
	}
	return sum
}

// L1Dist is the L1 distance between two equal length vectors.
func L1Dist[T constraints.Float](a, b []T) (sum T) {
	for i := range a {
		if a[i] > b[i] {
			sum += a[i] - b[i]
		} else {
			sum += b[i] - a[i]
		}
	}
	return sum
}

// ProjectSimplex writes into dst the Euclidean projection of b onto the probability simplex
// { x : x >= 0, sum(x) = 1 }. dst and b may alias. scratch must hold len(b) values, or be nil.
// Sort based, O(n log n).
func ProjectSimplex(dst, b, scratch []float64) []float64 {
	n := len(b)
	if n == 0 {
		return dst
	}
	if cap(scratch) < n {
		scratch = make([]float64, n)
	}
	u := scratch[:n]
	copy(u, b)
	slices.Sort(u) // Ascending; walk from the back for the descending order.

	cumsum := 0.0
	theta := 0.0
	for j := 1; j <= n; j++ {
		v := u[n-j]
		cumsum += v
		t := (cumsum - 1) / float64(j)
		if v-t > 0 {
			theta = t
		} else {
			break
		}
	}
	for i := 0; i < n; i++ {
		dst[i] = math.Max(b[i]-theta, 0)
	}
	return dst
}
