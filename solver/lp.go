package solver

import (
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/optimize/convex/lp"

	"github.com/ScottSallinen/gdmm/problem"
)

// LocalPolytope solves the local polytope relaxation exactly as a dense LP in standard form:
//
//	minimize   sum_i c_i.y_i + sum_e c_e.w_e
//	subject to sum_k y_i[k] = 1                  for every node
//	           sum_k2 w_e[k1,k2] - y_l[k1] = 0    for every edge and k1
//	           sum_k1 w_e[k1,k2] - y_r[k2] = 0    for every edge and k2 < K2-1
//	           y, w >= 0
//
// The last right consistency row of each edge is implied by the others and dropped to keep A full rank.
// Returns the node marginals and the optimal normalized cost. Only suitable for small instances.
func LocalPolytope(ins *problem.Instance) ([][]float64, float64, error) {
	if ins.T == 0 {
		return nil, 0, nil
	}
	nodeOff := make([]int, ins.T)
	nvar := 0
	for i, k := range ins.Domains {
		nodeOff[i] = nvar
		nvar += k
	}
	edgeOff := make([]int, len(ins.Edges))
	nrow := ins.T
	for e, ends := range ins.Edges {
		edgeOff[e] = nvar
		K1, K2 := ins.Domains[ends[0]], ins.Domains[ends[1]]
		nvar += K1 * K2
		nrow += K1 + K2 - 1
	}

	c := make([]float64, nvar)
	for i, sv := range ins.NodeScores {
		copy(c[nodeOff[i]:], sv.C)
	}
	for e, sv := range ins.EdgeScores {
		copy(c[edgeOff[e]:], sv.C)
	}

	A := mat.NewDense(nrow, nvar, nil)
	b := make([]float64, nrow)
	row := 0
	for i, k := range ins.Domains {
		for j := 0; j < k; j++ {
			A.Set(row, nodeOff[i]+j, 1)
		}
		b[row] = 1
		row++
	}
	for e, ends := range ins.Edges {
		l, r := ends[0], ends[1]
		K1, K2 := ins.Domains[l], ins.Domains[r]
		for k1 := 0; k1 < K1; k1++ {
			for k2 := 0; k2 < K2; k2++ {
				A.Set(row, edgeOff[e]+k1*K2+k2, 1)
			}
			A.Set(row, nodeOff[l]+k1, -1)
			row++
		}
		for k2 := 0; k2 < K2-1; k2++ {
			for k1 := 0; k1 < K1; k1++ {
				A.Set(row, edgeOff[e]+k1*K2+k2, 1)
			}
			A.Set(row, nodeOff[r]+k2, -1)
			row++
		}
	}

	obj, x, err := lp.Simplex(c, A, b, 0, nil)
	if err != nil {
		return nil, 0, errors.Wrap(err, "local polytope lp")
	}
	y := make([][]float64, ins.T)
	for i, k := range ins.Domains {
		y[i] = x[nodeOff[i] : nodeOff[i]+k]
	}
	return y, obj, nil
}

func solveLP(idx int, ins *problem.Instance) (*InstanceResult, error) {
	y, obj, err := LocalPolytope(ins)
	if err != nil {
		return nil, err
	}
	labels := make([]int, ins.T)
	for i := range y {
		labels[i] = floats.MaxIdx(y[i])
	}
	res := exactResult(idx, ins, labels)
	res.RelScore = ins.Rescale(obj)
	res.FuncVal = obj
	res.Hits, res.Known = labelHits(ins, func(i, l int) float64 { return y[i][l] })
	res.Accuracy = 0
	if res.Known > 0 {
		res.Accuracy = res.Hits / float64(res.Known)
	}
	return res, nil
}
