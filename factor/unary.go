package factor

import (
	"math"

	"github.com/ScottSallinen/gdmm/enforce"
	"github.com/ScottSallinen/gdmm/mathutils"
	"github.com/ScottSallinen/gdmm/problem"
	"github.com/ScottSallinen/gdmm/utils"
)

// UnaryFactor is one variable with a relaxed assignment Y on the probability simplex.
// Y is zero outside Act.
type UnaryFactor struct {
	K    int
	C    []float64 // Read only.
	Y    []float64
	Grad []float64
	Act  []int

	inside utils.Bitmap  // Membership of Act.
	msgs   [][]float64   // Views of the incident edges' messages towards this node.
	buf    []float64     // Projection workspace.
	sorted []float64     // Projection workspace.

	rho     float64
	gradTol float64

	RecentPred int
	DinfIndex  int
}

func newUnaryFactor(sv *problem.ScoreVec, param *Param) UnaryFactor {
	K := len(sv.C)
	best := utils.ArgMin(sv.C)
	enforce.ENFORCE(best >= 0, "unary factor with empty domain")
	u := UnaryFactor{
		K:          K,
		C:          sv.C,
		Y:          make([]float64, K),
		Grad:       make([]float64, K),
		Act:        []int{best},
		inside:     utils.NewBitmap(K),
		rho:        param.Rho,
		gradTol:    param.GradTol,
		RecentPred: best,
		DinfIndex:  -1,
	}
	u.Y[best] = 1
	u.inside.Set(uint32(best))
	return u
}

func (u *UnaryFactor) Degree() int { return len(u.msgs) }

func (u *UnaryFactor) attach(msg []float64) {
	u.msgs = append(u.msgs, msg)
}

func (u *UnaryFactor) gradAt(k int) float64 {
	g := u.C[k]
	for _, m := range u.msgs {
		g -= m[k]
	}
	return g
}

// fullGradient refreshes Grad everywhere and returns <Grad, Y>.
func (u *UnaryFactor) fullGradient() (ref float64) {
	copy(u.Grad, u.C)
	for _, m := range u.msgs {
		for k, v := range m {
			u.Grad[k] -= v
		}
	}
	for _, k := range u.Act {
		ref += u.Grad[k] * u.Y[k]
	}
	return ref
}

// mostViolating returns the inactive label with the largest violation <Grad,Y> - Grad[k], or -1.
func (u *UnaryFactor) mostViolating() (best int, viol float64) {
	ref := u.fullGradient()
	best = -1
	for k := 0; k < u.K; k++ {
		if u.inside.Has(uint32(k)) {
			continue
		}
		if v := ref - u.Grad[k]; best == -1 || v > viol {
			best, viol = k, v
		}
	}
	return best, viol
}

// Search admits the most violating inactive label when its violation exceeds the gradient tolerance.
func (u *UnaryFactor) Search() bool {
	best, viol := u.mostViolating()
	if best == -1 || viol <= u.gradTol {
		return false
	}
	u.Act = append(u.Act, best)
	u.inside.Set(uint32(best))
	return true
}

// Subsolve minimizes the augmented Lagrangian in Y over the active face and returns the L1 change of Y.
// With no incident edges the objective is linear and the minimizer is a vertex.
func (u *UnaryFactor) Subsolve() (delta float64) {
	for _, k := range u.Act {
		u.Grad[k] = u.gradAt(k)
	}

	n := len(u.Act)
	if cap(u.buf) < n {
		u.buf = make([]float64, n, 2*n)
		u.sorted = make([]float64, n, 2*n)
	}
	b := u.buf[:n]

	if deg := u.Degree(); deg == 0 {
		best := u.Act[0]
		for _, k := range u.Act[1:] {
			if u.Grad[k] < u.Grad[best] {
				best = k
			}
		}
		for i, k := range u.Act {
			b[i] = 0
			if k == best {
				b[i] = 1
			}
		}
	} else {
		step := 1.0 / (u.rho * float64(deg))
		for i, k := range u.Act {
			b[i] = u.Y[k] - step*u.Grad[k]
		}
		mathutils.ProjectSimplex(b, b, u.sorted[:n])
	}

	old := u.sorted[:n]
	for i, k := range u.Act {
		old[i] = u.Y[k]
	}
	delta = mathutils.L1Dist(old, b)
	for i, k := range u.Act {
		u.Y[k] = b[i]
	}
	u.shrink()
	u.decode()
	return delta
}

// shrink drops labels whose weight fell to zero. At least one label always has weight.
func (u *UnaryFactor) shrink() {
	kept := u.Act[:0]
	for _, k := range u.Act {
		if u.Y[k] <= mathutils.Zero {
			u.Y[k] = 0
			u.inside.Clear(uint32(k))
			continue
		}
		kept = append(kept, k)
	}
	u.Act = kept
	enforce.ENFORCE(len(u.Act) > 0, "unary active set emptied")
}

// decode sets RecentPred to the heaviest active label, preferring the lower gradient on ties.
func (u *UnaryFactor) decode() {
	best := u.Act[0]
	for _, k := range u.Act[1:] {
		if u.Y[k] > u.Y[best] || (u.Y[k] == u.Y[best] && u.Grad[k] < u.Grad[best]) {
			best = k
		}
	}
	u.RecentPred = best
}

// faceSpread is the gap between the largest gradient on a weighted label and the smallest on any
// active label, using Grad as last refreshed. It is zero exactly when the active face is stationary.
func (u *UnaryFactor) faceSpread() (spread float64, worst int) {
	lo, hi := math.Inf(1), math.Inf(-1)
	worst = -1
	for _, k := range u.Act {
		g := u.Grad[k]
		if g < lo {
			lo = g
		}
		if u.Y[k] > mathutils.Zero && g > hi {
			hi, worst = g, k
		}
	}
	if worst == -1 {
		return 0, -1
	}
	return hi - lo, worst
}

// DualInf is the larger of the worst violation among inactive labels and the gradient spread over
// the active face, clamped at zero. DinfIndex records the offending label.
func (u *UnaryFactor) DualInf() float64 {
	best, viol := u.mostViolating()
	spread, worst := u.faceSpread()
	dinf, idx := 0.0, -1
	if best != -1 && viol > 0 {
		dinf, idx = viol, best
	}
	if spread > dinf {
		dinf, idx = spread, worst
	}
	u.DinfIndex = idx
	return dinf
}

func (u *UnaryFactor) Score() float64 {
	return u.C[u.RecentPred]
}

// RelScore is the relaxed cost; Y is zero outside the active set.
func (u *UnaryFactor) RelScore() float64 {
	return mathutils.Dot(u.C, u.Y)
}

// FuncVal is the unary part of the augmented Lagrangian; the consistency terms are carried by the edges.
func (u *UnaryFactor) FuncVal() float64 {
	return u.RelScore()
}

func (u *UnaryFactor) ActSize() int { return len(u.Act) }
