package solver

import (
	"math"

	"github.com/pkg/errors"

	"github.com/ScottSallinen/gdmm/problem"
)

// chainCosts orders the edges of a chain instance so that trans[t] is the cost matrix between
// node t and t+1, row major over (k_t, k_t+1). Edges given as (t+1, t) are transposed.
func chainCosts(ins *problem.Instance) ([][]float64, error) {
	if ins.T > 0 && len(ins.Edges) != ins.T-1 {
		return nil, errors.Errorf("not a chain: %d nodes with %d edges", ins.T, len(ins.Edges))
	}
	trans := make([][]float64, len(ins.Edges))
	for e, ends := range ins.Edges {
		a, b := ends[0], ends[1]
		t := a
		if b < a {
			t = b
		}
		if (a-b != 1 && b-a != 1) || t < 0 || t+1 >= ins.T {
			return nil, errors.Errorf("not a chain: edge %d joins %d and %d", e, a, b)
		}
		if trans[t] != nil {
			return nil, errors.Errorf("not a chain: nodes %d and %d joined twice", t, t+1)
		}
		c := ins.EdgeScores[e].C
		if a == t {
			trans[t] = c
			continue
		}
		K1, K2 := ins.Domains[t], ins.Domains[t+1]
		tc := make([]float64, K1*K2)
		for k1 := 0; k1 < K1; k1++ {
			for k2 := 0; k2 < K2; k2++ {
				tc[k1*K2+k2] = c[k2*K1+k1]
			}
		}
		trans[t] = tc
	}
	return trans, nil
}

// Viterbi finds a minimum cost labeling of a chain instance exactly. Returns the labels and their normalized cost.
func Viterbi(ins *problem.Instance) ([]int, float64, error) {
	T := ins.T
	if T == 0 {
		return nil, 0, nil
	}
	trans, err := chainCosts(ins)
	if err != nil {
		return nil, 0, err
	}

	// delta[t][k] = best cost of a prefix ending at node t with label k.
	delta := make([][]float64, T)
	// psi[t][k] = best previous label for backtracking.
	psi := make([][]int, T)

	delta[0] = append([]float64(nil), ins.NodeScores[0].C...)
	for t := 1; t < T; t++ {
		K1, K2 := ins.Domains[t-1], ins.Domains[t]
		delta[t] = make([]float64, K2)
		psi[t] = make([]int, K2)
		for k := 0; k < K2; k++ {
			bestCost := math.Inf(1)
			bestPrev := 0
			for kp := 0; kp < K1; kp++ {
				cost := delta[t-1][kp] + trans[t-1][kp*K2+k]
				if cost < bestCost {
					bestCost = cost
					bestPrev = kp
				}
			}
			delta[t][k] = bestCost + ins.NodeScores[t].C[k]
			psi[t][k] = bestPrev
		}
	}

	bestCost := math.Inf(1)
	bestLabel := 0
	for k, c := range delta[T-1] {
		if c < bestCost {
			bestCost = c
			bestLabel = k
		}
	}

	path := make([]int, T)
	path[T-1] = bestLabel
	for t := T - 2; t >= 0; t-- {
		path[t] = psi[t+1][path[t+1]]
	}
	return path, bestCost, nil
}

func solveViterbi(idx int, ins *problem.Instance) (*InstanceResult, error) {
	labels, _, err := Viterbi(ins)
	if err != nil {
		return nil, err
	}
	return exactResult(idx, ins, labels), nil
}
