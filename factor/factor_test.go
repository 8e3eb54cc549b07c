package factor

import (
	"bytes"
	"math"
	"math/rand"
	"strings"
	"testing"

	"github.com/ScottSallinen/gdmm/problem"
	"github.com/ScottSallinen/gdmm/utils"
)

func testParam() *Param {
	p := DefaultParam()
	p.GradTol = 1e-4
	return p
}

func chainInstance(nodeCosts [][]float64, edgeCosts [][]float64) *problem.Instance {
	ins := &problem.Instance{T: len(nodeCosts), Largest: 1}
	for _, c := range nodeCosts {
		ins.Domains = append(ins.Domains, len(c))
		ins.NodeScores = append(ins.NodeScores, &problem.ScoreVec{C: c})
	}
	for e, c := range edgeCosts {
		ins.Edges = append(ins.Edges, [2]int{e, e + 1})
		ins.EdgeScores = append(ins.EdgeScores, &problem.ScoreVec{C: c})
	}
	return ins
}

func Test_UnaryIsolated(t *testing.T) {
	ins := chainInstance([][]float64{{0.5, 0.2, 0.9}}, nil)
	g, err := NewGraph(ins, testParam())
	if err != nil {
		t.Fatal(err)
	}
	u := &g.Nodes[0]
	if u.RecentPred != 1 || u.Y[1] != 1 || len(u.Act) != 1 {
		t.Fatal("initial state should be the unary best label", u.Y, u.Act)
	}
	if u.Search() {
		t.Error("no label should violate at the linear optimum")
	}
	if d := u.Subsolve(); d != 0 {
		t.Error("subsolve moved at the optimum", d)
	}
	if u.DualInf() != 0 || u.DinfIndex != -1 {
		t.Error("dual infeasibility should be zero", u.DinfIndex)
	}
	if u.Score() != 0.2 || u.RelScore() != 0.2 {
		t.Error("scores", u.Score(), u.RelScore())
	}
}

func Test_UnarySubsolveProjects(t *testing.T) {
	ins := chainInstance([][]float64{{0, 0, 0}, {0}}, [][]float64{{0, 0, 0}})
	g, err := NewGraph(ins, testParam())
	if err != nil {
		t.Fatal(err)
	}
	u := &g.Nodes[0]
	msg := g.Edges[0].MsgL
	msg[0], msg[1], msg[2] = 0, 0.6, 0

	if !u.Search() {
		t.Fatal("label 1 should be admitted")
	}
	if len(u.Act) != 2 || u.Act[1] != 1 {
		t.Fatal("unexpected active set", u.Act)
	}
	delta := u.Subsolve()
	if !utils.FloatEquals(u.Y[0], 0.7, 1e-12) || !utils.FloatEquals(u.Y[1], 0.3, 1e-12) || u.Y[2] != 0 {
		t.Error("projection result", u.Y)
	}
	if !utils.FloatEquals(delta, 0.6, 1e-12) {
		t.Error("delta", delta)
	}
	if u.RecentPred != 0 {
		t.Error("recent pred", u.RecentPred)
	}
	// The messages still pull towards label 1, so the weighted label 0 sits above the face minimum.
	if d := u.DualInf(); !utils.FloatEquals(d, 0.6, 1e-12) || u.DinfIndex != 0 {
		t.Error("active face spread", d, u.DinfIndex)
	}
	// Messages as the edge would refresh them against the new assignment make the face stationary.
	msg[0], msg[1] = 0.3, 0.3
	if d := u.DualInf(); d != 0 || u.DinfIndex != -1 {
		t.Error("stationary assignment should have no dual infeasibility", d, u.DinfIndex)
	}

	// A strong pull onto label 1 drives label 0 to zero, which must leave the active set.
	msg[1] = 2
	u.Subsolve()
	if len(u.Act) != 1 || u.Act[0] != 1 || !utils.FloatEquals(u.Y[1], 1, 1e-12) || u.Y[0] != 0 {
		t.Error("shrink failed", u.Act, u.Y)
	}
	if u.RecentPred != 1 {
		t.Error("recent pred after shrink", u.RecentPred)
	}
	if u.inside.Has(0) {
		t.Error("membership bitmap not cleared")
	}
}

// The edge prefers (1,0) while both endpoints sit at label 0, so the edge starts inconsistent.
func dualAscentGraph(t *testing.T) *Graph {
	param := testParam()
	param.Eta = 0.1
	param.Rho = 1
	param.SubsolveIter = 1
	ins := chainInstance([][]float64{{0, 1}, {0, 1}}, [][]float64{{1, 2, 0, 2}})
	g, err := NewGraph(ins, param)
	if err != nil {
		t.Fatal(err)
	}
	return g
}

func Test_PairInitialState(t *testing.T) {
	g := dualAscentGraph(t)
	e := &g.Edges[0]
	if len(e.Act) != 1 || e.Act[0] != 2 || e.ActW[0] != 1 {
		t.Fatal("edge should start at its cheapest pair", e.Act, e.ActW)
	}
	l, r := e.Marginals()
	if l[1] != 1 || r[0] != 1 {
		t.Error("marginals", l, r)
	}
	if !utils.FloatEquals(e.Infea(), 2, 1e-12) {
		t.Error("infea", e.Infea())
	}
	if e.MsgL[0] != -1 || e.MsgL[1] != 1 || e.MsgR[0] != 0 {
		t.Error("initial messages", e.MsgL, e.MsgR)
	}
	if e.Score() != 1 || e.RelScore() != 0 {
		t.Error("scores", e.Score(), e.RelScore())
	}
}

func Test_DualAscentReducesInfeasibility(t *testing.T) {
	g := dualAscentGraph(t)
	e := &g.Edges[0]
	before := e.Infea()

	e.UpdateMultipliers()
	if !utils.FloatEquals(e.Infea(), before, 1e-12) {
		t.Error("multiplier update alone must not move the primal", e.Infea())
	}
	if !utils.FloatEquals(e.LambdaL[0], -0.1, 1e-12) || !utils.FloatEquals(e.LambdaL[1], 0.1, 1e-12) {
		t.Error("lambda should move by eta*rho*residual", e.LambdaL)
	}
	if !utils.FloatEquals(e.MsgL[0], -1.1, 1e-12) || !utils.FloatEquals(e.MsgL[1], 1.1, 1e-12) {
		t.Error("messages", e.MsgL)
	}

	if !e.Search() {
		t.Fatal("pair (0,0) should be admitted")
	}
	if e.Act[len(e.Act)-1] != 0 {
		t.Fatal("wrong pair admitted", e.Act)
	}
	e.Subsolve()
	if !utils.FloatEquals(e.Weight(1, 0), 0.8, 1e-12) || !utils.FloatEquals(e.Weight(0, 0), 0.2, 1e-12) {
		t.Error("weights", e.Act, e.ActW)
	}
	after := e.Infea()
	if !utils.FloatEquals(after, 1.6, 1e-12) || after >= before {
		t.Error("infeasibility should shrink", before, after)
	}
	// One step leaves the face short of its minimum: (1,0) has gradient 0.9, (0,0) has 0.1.
	if d := e.DualInf(); !utils.FloatEquals(d, 0.8, 1e-12) || e.DinfIndex != 2 {
		t.Error("dual inf should report the active face spread", d, e.DinfIndex)
	}
}

func Test_PairSubsolveReachesFaceOptimum(t *testing.T) {
	g := dualAscentGraph(t)
	e := &g.Edges[0]
	e.UpdateMultipliers()
	if !e.Search() {
		t.Fatal("pair (0,0) should be admitted")
	}
	e.subsolveIter = 1000
	e.Subsolve()
	// Gradients 0.1+a on (1,0) and 0.9-a on (0,0) meet at a = 0.4.
	if !utils.FloatEquals(e.Weight(1, 0), 0.4, 1e-4) || !utils.FloatEquals(e.Weight(0, 0), 0.6, 1e-4) {
		t.Error("face minimum", e.Act, e.ActW)
	}
	if d := e.DualInf(); d > e.gradTol {
		t.Error("dual inf after a full subsolve", d, e.DinfIndex)
	}

	// Once stationary, another subsolve takes no step.
	if d := e.Subsolve(); d != 0 {
		t.Error("subsolve moved at a stationary face", d)
	}
}

func Test_PairSubsolveStationaryRandom(t *testing.T) {
	rng := rand.New(rand.NewSource(11))
	T, K := 6, 5
	var nodes, edges [][]float64
	for i := 0; i < T; i++ {
		c := make([]float64, K)
		for k := range c {
			c[k] = rng.Float64()
		}
		nodes = append(nodes, c)
	}
	for e := 0; e+1 < T; e++ {
		c := make([]float64, K*K)
		for k := range c {
			c[k] = rng.Float64()
		}
		edges = append(edges, c)
	}
	param := testParam()
	param.SubsolveIter = 100000
	g, err := NewGraph(chainInstance(nodes, edges), param)
	if err != nil {
		t.Fatal(err)
	}
	for sweep := 0; sweep < 10; sweep++ {
		for i := range g.Nodes {
			g.Nodes[i].Search()
			g.Nodes[i].Subsolve()
		}
		for e := range g.Edges {
			p := &g.Edges[e]
			p.Search()
			p.Subsolve()
			if spread, worst := p.faceSpread(p.activeGradient()); spread > param.GradTol {
				t.Fatal("pair face not stationary after subsolve", sweep, e, spread, worst)
			}
		}
		for e := range g.Edges {
			g.Edges[e].UpdateMultipliers()
		}
	}
}

func Test_PairSearchRespectsTolerance(t *testing.T) {
	g := dualAscentGraph(t)
	e := &g.Edges[0]
	e.gradTol = 10
	if e.Search() {
		t.Error("nothing violates by more than 10")
	}
	// Active gradient is 0+1+0; pair (0,0) has 1-1+0.
	if d := e.DualInf(); !utils.FloatEquals(d, 1, 1e-12) || e.DinfIndex != 0 {
		t.Error("dual inf", d, e.DinfIndex)
	}
}

func Test_PairSearchSortedRegion(t *testing.T) {
	// Node costs pin both endpoints to label 0, so rows/columns other than 0 carry no messages
	// and the best pair there must come from the cost order.
	ins := chainInstance([][]float64{{0, 5, 5, 5}, {0, 5, 5, 5}}, [][]float64{{
		0, 9, 9, 9,
		9, 9, 9, 9,
		9, 9, 9, 9,
		9, 9, 9, -3,
	}})
	param := testParam()
	g, err := NewGraph(ins, param)
	if err != nil {
		t.Fatal(err)
	}
	e := &g.Edges[0]
	// Initial pair is the global argmin (3,3).
	if e.Act[0] != 15 {
		t.Fatal("initial pair", e.Act)
	}
	// Everything in rows/columns 0 and 3 is scanned; (3,3) is active. Nothing else beats the active gradient.
	best, _ := e.mostViolating()
	if best < 0 {
		t.Fatal("expected a candidate")
	}
	k1, k2 := best/e.K2, best%e.K2
	if !(k1 == 0 || k1 == 3 || k2 == 0 || k2 == 3) {
		t.Error("candidate should lie in a messaged row or column when the free region is uniformly expensive", k1, k2)
	}

	// Make a free-region pair the cheapest of all inactive pairs.
	e.C[1*4+2] = -10
	e.order = nil
	best, viol := e.mostViolating()
	if best != 6 {
		t.Error("free region minimum not found", best)
	}
	if viol <= 0 {
		t.Error("violation should be positive", viol)
	}
}

func checkInvariants(t *testing.T, g *Graph) {
	t.Helper()
	for i := range g.Nodes {
		u := &g.Nodes[i]
		if len(u.Act) == 0 {
			t.Fatal("empty unary active set", i)
		}
		sum := 0.0
		for k, y := range u.Y {
			if y < 0 {
				t.Fatal("negative y", i, u.Y)
			}
			if y > 0 && !u.inside.Has(uint32(k)) {
				t.Fatal("support outside active set", i, k)
			}
			sum += y
		}
		if !utils.FloatEquals(sum, 1, 1e-9) {
			t.Fatal("y not on simplex", i, sum)
		}
		seen := map[int]bool{}
		for _, k := range u.Act {
			if seen[k] || !u.inside.Has(uint32(k)) {
				t.Fatal("active set and bitmap disagree", i, u.Act)
			}
			seen[k] = true
		}
	}
	for e := range g.Edges {
		p := &g.Edges[e]
		if len(p.Act) == 0 || len(p.Act) != len(p.ActW) {
			t.Fatal("bad pair active set", e)
		}
		rows := make([]float64, p.K1)
		cols := make([]float64, p.K2)
		sum := 0.0
		for i, idx := range p.Act {
			w := p.ActW[i]
			if w <= 0 {
				t.Fatal("non positive active weight", e, w)
			}
			rows[idx/p.K2] += w
			cols[idx%p.K2] += w
			sum += w
		}
		if !utils.FloatEquals(sum, 1, 1e-9) {
			t.Fatal("pair weights not on simplex", e, sum)
		}
		l, r := p.Marginals()
		for k := range rows {
			if !utils.FloatEquals(rows[k], l[k], 1e-9) {
				t.Fatal("left marginal out of sync", e, k, rows[k], l[k])
			}
		}
		for k := range cols {
			if !utils.FloatEquals(cols[k], r[k], 1e-9) {
				t.Fatal("right marginal out of sync", e, k, cols[k], r[k])
			}
		}
	}
}

func Test_SweepInvariantsRandom(t *testing.T) {
	rng := rand.New(rand.NewSource(3))
	T, K := 6, 5
	var nodes, edges [][]float64
	for i := 0; i < T; i++ {
		c := make([]float64, K)
		for k := range c {
			c[k] = rng.Float64()
		}
		nodes = append(nodes, c)
	}
	for e := 0; e+1 < T; e++ {
		c := make([]float64, K*K)
		for k := range c {
			c[k] = rng.Float64()
		}
		edges = append(edges, c)
	}
	param := testParam()
	param.SubsolveIter = 3
	g, err := NewGraph(chainInstance(nodes, edges), param)
	if err != nil {
		t.Fatal(err)
	}
	checkInvariants(t, g)
	for sweep := 0; sweep < 30; sweep++ {
		for i := range g.Nodes {
			g.Nodes[i].Search()
			g.Nodes[i].Subsolve()
		}
		checkInvariants(t, g)
		for e := range g.Edges {
			g.Edges[e].Search()
			g.Edges[e].Subsolve()
		}
		checkInvariants(t, g)
		for e := range g.Edges {
			g.Edges[e].UpdateMultipliers()
		}
		var stats Stats
		m := g.Measure(&stats)
		if m.DInf < 0 || m.PInf < 0 || math.IsNaN(m.FuncVal) {
			t.Fatal("bad measure", m)
		}
		if stats.NumUni != int64(T) || stats.NumBi != int64(T-1) {
			t.Fatal("measure counters", stats.NumUni, stats.NumBi)
		}
	}
}

func Test_NewGraphRejectsBadEdges(t *testing.T) {
	ins := chainInstance([][]float64{{0, 1}, {0, 1}}, [][]float64{{0, 0, 0, 0}})
	ins.Edges[0] = [2]int{0, 5}
	if _, err := NewGraph(ins, testParam()); err == nil {
		t.Error("out of range endpoint accepted")
	}
	ins.Edges[0] = [2]int{0, 1}
	ins.EdgeScores[0].C = []float64{0}
	if _, err := NewGraph(ins, testParam()); err == nil {
		t.Error("mismatched edge costs accepted")
	}
}

func Test_ParamYAML(t *testing.T) {
	p := DefaultParam()
	err := p.LoadYAML(strings.NewReader("eta: 0.5\nsolver: lp\ncountdown: consecutive\nproblem_type: uai\nmax_iter: 20\n"))
	if err != nil {
		t.Fatal(err)
	}
	if p.Eta != 0.5 || p.Solver != SparseLP || p.Countdown != Consecutive || p.ProblemType != problem.UAI || p.MaxIter != 20 {
		t.Error("config not applied", p)
	}
	if p.Rho != 1 {
		t.Error("unset keys should keep defaults", p.Rho)
	}
	if err := DefaultParam().LoadYAML(strings.NewReader("etaa: 1\n")); err == nil {
		t.Error("unknown key accepted")
	}
	if err := DefaultParam().LoadYAML(strings.NewReader("rho: 0\n")); err == nil {
		t.Error("zero rho accepted")
	}
	if err := DefaultParam().LoadYAML(strings.NewReader("solver: exact\n")); err == nil {
		t.Error("unknown solver accepted")
	}
}

func Test_ParamSoftMode(t *testing.T) {
	p := DefaultParam()
	p.Eta = 1e-13
	p.Threads = 0
	eff := p.Effective()
	if eff.InfeaTol < Unbounded || !eff.SoftMode() {
		t.Error("soft mode should lift the primal tolerance", eff.InfeaTol)
	}
	if p.InfeaTol != 1e-4 {
		t.Error("Effective must not modify the receiver")
	}
	if eff.Threads != 1 {
		t.Error("threads clamp", eff.Threads)
	}
	p.Eta = 1e-3
	if p.Effective().InfeaTol != 1e-4 {
		t.Error("hard mode keeps its tolerance")
	}
	for _, bad := range []func(*Param){
		func(p *Param) { p.Rho = -1 },
		func(p *Param) { p.MaxIter = 0 },
		func(p *Param) { p.Patience = 0 },
		func(p *Param) { p.GradTol = -1 },
	} {
		q := DefaultParam()
		bad(q)
		if q.Validate() == nil {
			t.Error("invalid param accepted", q)
		}
	}
}

func Test_StatsRender(t *testing.T) {
	var a, b Stats
	a.Sweeps, a.Admitted = 1000, 3
	b.Sweeps, b.UniActSize, b.NumUni = 234, 10, 4
	a.Merge(&b)
	if a.Sweeps != 1234 || a.AvgUniAct() != 2.5 {
		t.Error("merge", a)
	}
	var buf bytes.Buffer
	if err := a.Render(&buf); err != nil {
		t.Fatal(err)
	}
	out := buf.String()
	for _, want := range []string{"uni search", "1,234", "2.5"} {
		if !strings.Contains(out, want) {
			t.Error("render missing", want, out)
		}
	}
}
