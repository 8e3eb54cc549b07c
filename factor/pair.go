package factor

import (
	"math"

	"github.com/ScottSallinen/gdmm/enforce"
	"github.com/ScottSallinen/gdmm/mathutils"
	"github.com/ScottSallinen/gdmm/problem"
	"github.com/ScottSallinen/gdmm/utils"
)

// PairFactor is one edge. It refers to its endpoints by index into the node arena and never owns them.
//
// Messages are MsgL = LambdaL + rho*(margL - Y_l) and likewise on the right. Outside the ever nonzero
// sets both the marginal and the endpoint assignment have always been zero, so the messages there are zero.
type PairFactor struct {
	nodes []UnaryFactor
	L, R  int
	K1    int
	K2    int
	C     []float64 // Read only, index k1*K2+k2.

	LambdaL []float64
	LambdaR []float64
	MsgL    []float64
	MsgR    []float64
	margL   []float64
	margR   []float64

	Act    []int     // Flat pair indices.
	ActW   []float64 // Weights aligned with Act.
	inside utils.Bitmap

	EverNnzL []int
	EverNnzR []int
	everL    utils.Bitmap
	everR    utils.Bitmap

	order []int // Pair indices by increasing cost, built on first search.

	buf, sorted, grad []float64
	rowCount          []int
	colCount          []int

	rho          float64
	eta          float64
	gradTol      float64
	subsolveIter int

	DinfIndex int
}

func newPairFactor(nodes []UnaryFactor, l, r int, sv *problem.ScoreVec, param *Param) PairFactor {
	K1, K2 := nodes[l].K, nodes[r].K
	best := utils.ArgMin(sv.C)
	p := PairFactor{
		nodes:        nodes,
		L:            l,
		R:            r,
		K1:           K1,
		K2:           K2,
		C:            sv.C,
		LambdaL:      make([]float64, K1),
		LambdaR:      make([]float64, K2),
		MsgL:         make([]float64, K1),
		MsgR:         make([]float64, K2),
		margL:        make([]float64, K1),
		margR:        make([]float64, K2),
		inside:       utils.NewBitmap(K1 * K2),
		everL:        utils.NewBitmap(K1),
		everR:        utils.NewBitmap(K2),
		rowCount:     make([]int, K1),
		colCount:     make([]int, K2),
		rho:          param.Rho,
		eta:          param.Eta,
		gradTol:      param.GradTol,
		subsolveIter: param.SubsolveIter,
		DinfIndex:    -1,
	}
	p.admit(best, 1)
	p.margL[best/K2] = 1
	p.margR[best%K2] = 1
	p.refreshMessages()
	return p
}

func (p *PairFactor) left() *UnaryFactor  { return &p.nodes[p.L] }
func (p *PairFactor) right() *UnaryFactor { return &p.nodes[p.R] }

func (p *PairFactor) markL(k1 int) {
	if !p.everL.Has(uint32(k1)) {
		p.everL.Set(uint32(k1))
		p.EverNnzL = append(p.EverNnzL, k1)
	}
}

func (p *PairFactor) markR(k2 int) {
	if !p.everR.Has(uint32(k2)) {
		p.everR.Set(uint32(k2))
		p.EverNnzR = append(p.EverNnzR, k2)
	}
}

func (p *PairFactor) admit(idx int, w float64) {
	p.Act = append(p.Act, idx)
	p.ActW = append(p.ActW, w)
	p.inside.Set(uint32(idx))
	p.markL(idx / p.K2)
	p.markR(idx % p.K2)
}

// markEndpoints extends the ever nonzero sets with the endpoints' current supports.
func (p *PairFactor) markEndpoints() {
	for _, k := range p.left().Act {
		p.markL(k)
	}
	for _, k := range p.right().Act {
		p.markR(k)
	}
}

// refreshMessages recomputes the messages from the endpoints' current assignments.
func (p *PairFactor) refreshMessages() {
	p.markEndpoints()
	yl, yr := p.left().Y, p.right().Y
	for _, k := range p.EverNnzL {
		p.MsgL[k] = p.LambdaL[k] + p.rho*(p.margL[k]-yl[k])
	}
	for _, k := range p.EverNnzR {
		p.MsgR[k] = p.LambdaR[k] + p.rho*(p.margR[k]-yr[k])
	}
}

func (p *PairFactor) gradAt(idx int) float64 {
	return p.C[idx] + p.MsgL[idx/p.K2] + p.MsgR[idx%p.K2]
}

// mostViolating returns the inactive pair with the lowest gradient and its violation against
// the active weighted gradient, or -1 when every pair is active.
//
// Rows and columns touched by a message are scanned directly. Everywhere else the gradient is the
// bare cost, so the first pair in cost order that avoids those rows and columns is the best there.
func (p *PairFactor) mostViolating() (best int, viol float64) {
	ref := 0.0
	for i, idx := range p.Act {
		ref += p.ActW[i] * p.gradAt(idx)
	}

	best = -1
	bestG := math.Inf(1)
	consider := func(idx int) {
		if p.inside.Has(uint32(idx)) {
			return
		}
		if g := p.gradAt(idx); best == -1 || g < bestG {
			best, bestG = idx, g
		}
	}
	for _, k1 := range p.EverNnzL {
		for k2 := 0; k2 < p.K2; k2++ {
			consider(k1*p.K2 + k2)
		}
	}
	for _, k2 := range p.EverNnzR {
		for k1 := 0; k1 < p.K1; k1++ {
			if !p.everL.Has(uint32(k1)) {
				consider(k1*p.K2 + k2)
			}
		}
	}
	if len(p.EverNnzL) < p.K1 && len(p.EverNnzR) < p.K2 {
		if p.order == nil {
			p.order = utils.SortGiveIndexesSmallestFirst(p.C)
		}
		for _, idx := range p.order {
			if p.C[idx] >= bestG && best != -1 {
				break
			}
			if !p.everL.Has(uint32(idx/p.K2)) && !p.everR.Has(uint32(idx%p.K2)) {
				consider(idx)
				break
			}
		}
	}
	if best == -1 {
		return -1, 0
	}
	return best, ref - bestG
}

// Search refreshes the messages from the endpoints and admits the most violating pair
// when its violation exceeds the gradient tolerance.
func (p *PairFactor) Search() bool {
	p.refreshMessages()
	best, viol := p.mostViolating()
	if best == -1 || viol <= p.gradTol {
		return false
	}
	p.admit(best, 0)
	return true
}

func (p *PairFactor) reserve(n int) {
	if cap(p.buf) < n {
		p.buf = make([]float64, n, 2*n)
		p.sorted = make([]float64, n, 2*n)
		p.grad = make([]float64, n, 2*n)
	}
}

// activeGradient fills the gradient of every active pair, aligned with Act.
func (p *PairFactor) activeGradient() []float64 {
	p.reserve(len(p.Act))
	g := p.grad[:len(p.Act)]
	for i, idx := range p.Act {
		g[i] = p.gradAt(idx)
	}
	return g
}

// faceSpread is the gap between the largest gradient on a weighted pair and the smallest on any
// active pair. It is zero exactly when the active face is stationary.
func (p *PairFactor) faceSpread(g []float64) (spread float64, worst int) {
	lo, hi := math.Inf(1), math.Inf(-1)
	worst = -1
	for i, idx := range p.Act {
		if g[i] < lo {
			lo = g[i]
		}
		if p.ActW[i] > mathutils.Zero && g[i] > hi {
			hi, worst = g[i], idx
		}
	}
	if worst == -1 {
		return 0, -1
	}
	return hi - lo, worst
}

// Subsolve takes projected gradient steps on the pair weights over the active face, keeping the
// marginals and messages in sync, until the face gradient spread is within the gradient tolerance
// or SubsolveIter steps were taken. Returns the L1 change of the weights.
func (p *PairFactor) Subsolve() (delta float64) {
	p.refreshMessages()
	n := len(p.Act)
	p.reserve(n)
	b := p.buf[:n]

	maxRow, maxCol := 0, 0
	for _, idx := range p.Act {
		k1, k2 := idx/p.K2, idx%p.K2
		p.rowCount[k1]++
		p.colCount[k2]++
		maxRow = utils.Max(maxRow, p.rowCount[k1])
		maxCol = utils.Max(maxCol, p.colCount[k2])
	}
	for _, idx := range p.Act {
		p.rowCount[idx/p.K2] = 0
		p.colCount[idx%p.K2] = 0
	}
	step := 1.0 / (p.rho * float64(maxRow+maxCol))

	for it := 0; it < p.subsolveIter; it++ {
		g := p.activeGradient()
		if spread, _ := p.faceSpread(g); spread <= p.gradTol {
			break
		}
		for i := range p.Act {
			b[i] = p.ActW[i] - step*g[i]
		}
		mathutils.ProjectSimplex(b, b, p.sorted[:n])
		delta += mathutils.L1Dist(p.ActW, b)
		for i, idx := range p.Act {
			if d := b[i] - p.ActW[i]; d != 0 {
				p.move(idx, d)
				p.ActW[i] = b[i]
			}
		}
	}
	p.shrink()
	return delta
}

// move shifts the marginals of pair idx by d and the messages along with them.
func (p *PairFactor) move(idx int, d float64) {
	k1, k2 := idx/p.K2, idx%p.K2
	p.margL[k1] += d
	p.margR[k2] += d
	p.MsgL[k1] += p.rho * d
	p.MsgR[k2] += p.rho * d
}

func (p *PairFactor) shrink() {
	kept := 0
	for i, idx := range p.Act {
		w := p.ActW[i]
		if w <= mathutils.Zero {
			if w != 0 {
				p.move(idx, -w)
			}
			p.inside.Clear(uint32(idx))
			continue
		}
		p.Act[kept] = idx
		p.ActW[kept] = w
		kept++
	}
	p.Act = p.Act[:kept]
	p.ActW = p.ActW[:kept]
	enforce.ENFORCE(kept > 0, "pair active set emptied")
}

// UpdateMultipliers is the dual ascent step lambda += eta*rho*(marginal - y), followed by a message refresh.
// It must only run once every subsolve of the sweep has completed.
func (p *PairFactor) UpdateMultipliers() {
	p.markEndpoints()
	yl, yr := p.left().Y, p.right().Y
	for _, k := range p.EverNnzL {
		res := p.margL[k] - yl[k]
		p.LambdaL[k] += p.eta * p.rho * res
		p.MsgL[k] = p.LambdaL[k] + p.rho*res
	}
	for _, k := range p.EverNnzR {
		res := p.margR[k] - yr[k]
		p.LambdaR[k] += p.eta * p.rho * res
		p.MsgR[k] = p.LambdaR[k] + p.rho*res
	}
}

// Infea is the L1 disagreement between this edge's marginals and its endpoints' assignments.
func (p *PairFactor) Infea() (inf float64) {
	yl, yr := p.left().Y, p.right().Y
	for _, k := range p.EverNnzL {
		inf += math.Abs(p.margL[k] - yl[k])
	}
	for _, k := range p.EverNnzR {
		inf += math.Abs(p.margR[k] - yr[k])
	}
	return inf
}

// DualInf is the larger of the worst violation among inactive pairs and the gradient spread over
// the active face under the current messages, clamped at zero. DinfIndex records the offending pair.
func (p *PairFactor) DualInf() float64 {
	best, viol := p.mostViolating()
	spread, worst := p.faceSpread(p.activeGradient())
	dinf, idx := 0.0, -1
	if best != -1 && viol > 0 {
		dinf, idx = viol, best
	}
	if spread > dinf {
		dinf, idx = spread, worst
	}
	p.DinfIndex = idx
	return dinf
}

// NnzMsg is the number of active pairs.
func (p *PairFactor) NnzMsg() int { return len(p.Act) }

// EverNnzSize is the mean size of the two ever nonzero sets.
func (p *PairFactor) EverNnzSize() int { return (len(p.EverNnzL) + len(p.EverNnzR)) / 2 }

// Score is the cost of the pair picked by the endpoints' current decodings.
func (p *PairFactor) Score() float64 {
	return p.C[p.left().RecentPred*p.K2+p.right().RecentPred]
}

func (p *PairFactor) RelScore() (s float64) {
	for i, idx := range p.Act {
		s += p.C[idx] * p.ActW[i]
	}
	return s
}

// FuncVal is the edge's part of the augmented Lagrangian.
func (p *PairFactor) FuncVal() float64 {
	val := p.RelScore()
	yl, yr := p.left().Y, p.right().Y
	for _, k := range p.EverNnzL {
		res := p.margL[k] - yl[k]
		val += p.LambdaL[k]*res + 0.5*p.rho*res*res
	}
	for _, k := range p.EverNnzR {
		res := p.margR[k] - yr[k]
		val += p.LambdaR[k]*res + 0.5*p.rho*res*res
	}
	return val
}

// Marginals exposes the implied endpoint marginals; callers must not modify them.
func (p *PairFactor) Marginals() (left, right []float64) { return p.margL, p.margR }

// Weight returns the weight of pair (k1, k2), zero when inactive.
func (p *PairFactor) Weight(k1, k2 int) float64 {
	idx := k1*p.K2 + k2
	if !p.inside.Has(uint32(idx)) {
		return 0
	}
	for i, a := range p.Act {
		if a == idx {
			return p.ActW[i]
		}
	}
	return 0
}
