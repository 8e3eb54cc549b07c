package solver

import (
	"context"
	"math"
	"math/rand"
	"os"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"github.com/ScottSallinen/gdmm/factor"
	"github.com/ScottSallinen/gdmm/metrics"
	"github.com/ScottSallinen/gdmm/problem"
)

func build(t *testing.T, domains []int, unary [][]float64, pairs map[[2]int][]float64, labels []int) *problem.Instance {
	t.Helper()
	b := problem.NewBuilder(domains)
	for i, c := range unary {
		require.NoError(t, b.AddUnary(i, c))
	}
	// Deterministic edge order: walk the chain positions first, then anything else.
	for i := 0; i < len(domains); i++ {
		for j := 0; j < len(domains); j++ {
			if c, ok := pairs[[2]int{i, j}]; ok {
				require.NoError(t, b.AddPair(i, j, c))
			}
		}
	}
	if labels != nil {
		require.NoError(t, b.SetLabels(labels))
	}
	ins, err := b.Build()
	require.NoError(t, err)
	return ins
}

func single(ins ...*problem.Instance) *problem.Problem {
	return &problem.Problem{Name: "test", Data: ins}
}

func gdmmParam() *factor.Param {
	p := factor.DefaultParam()
	p.Seed = 1
	return p
}

func twoNodeChain(t *testing.T) *problem.Instance {
	return build(t, []int{2, 2},
		[][]float64{{0, 1}, {0, 1}},
		map[[2]int][]float64{{0, 1}: {0, 1, 1, 1}},
		[]int{0, 0})
}

func TestTwoNodeChainConverges(t *testing.T) {
	res, err := Solve(single(twoNodeChain(t)), gdmmParam(), nil)
	require.NoError(t, err)
	r := res.Instances[0]
	// Consistent from construction, so every sweep satisfies the stopping rule.
	require.Equal(t, 3, r.Iterations)
	require.True(t, r.Converged)
	require.Equal(t, []int{0, 0}, r.Labels)
	require.Equal(t, []int{0, 0}, r.LastLabels)
	require.Zero(t, r.PInf)
	require.Zero(t, r.DInf)
	require.InDelta(t, 0, r.Score, 1e-12)
	require.InDelta(t, 0, r.BestDecoded, 1e-12)
	require.InDelta(t, 1, res.Accuracy, 1e-12)
	require.Equal(t, int64(3), r.Stats.Sweeps)
}

func TestIsolatedNodes(t *testing.T) {
	ins := build(t, []int{3, 2, 4},
		[][]float64{{0.5, 0.2, 0.9}, {3, 1}, {2, 2, 0, 4}},
		nil, nil)
	param := gdmmParam()
	param.Patience = 1
	res, err := Solve(single(ins), param, nil)
	require.NoError(t, err)
	r := res.Instances[0]
	require.Equal(t, 1, r.Iterations)
	require.True(t, r.Converged)
	require.Zero(t, r.PInf)
	require.Equal(t, []int{1, 1, 2}, r.LastLabels)
	require.Zero(t, res.Accuracy) // No ground truth.

	param.Patience = 3
	res, err = Solve(single(ins), param, nil)
	require.NoError(t, err)
	require.Equal(t, 3, res.Instances[0].Iterations)
}

func TestScoreIsRescaledToRawCost(t *testing.T) {
	ins := build(t, []int{2, 3, 2},
		[][]float64{{4, 7}, {2, 9, 5}, {6, 3}},
		map[[2]int][]float64{
			{0, 1}: {1, 8, 3, 2, 2, 2},
			{1, 2}: {5, 4, 3, 6, 2, 2},
		}, nil)
	for _, kind := range []factor.SolverKind{factor.Viterbi, factor.GDMM} {
		param := gdmmParam()
		param.Solver = kind
		res, err := Solve(single(ins), param, nil)
		require.NoError(t, err)
		r := res.Instances[0]

		l := r.LastLabels
		raw := []float64{4, 7}[l[0]] + []float64{2, 9, 5}[l[1]] + []float64{6, 3}[l[2]] +
			[]float64{1, 8, 3, 2, 2, 2}[l[0]*3+l[1]] + []float64{5, 4, 3, 6, 2, 2}[l[1]*2+l[2]]
		require.InDelta(t, raw, r.Score, 1e-9, kind.String())
	}
}

func TestSoftModeIgnoresPrimalInfeasibility(t *testing.T) {
	// The edge prefers (0,1) while the right node prefers 0; with no multiplier updates the penalty
	// settles at a fixed nonzero disagreement.
	ins := build(t, []int{2, 2},
		[][]float64{{0, 1}, {0, 1}},
		map[[2]int][]float64{{0, 1}: {1, 0, 1, 1}},
		nil)
	param := gdmmParam()
	param.Eta = 0
	param.GradTol = 1e-2
	param.MaxIter = 2000
	require.GreaterOrEqual(t, param.Effective().InfeaTol, factor.Unbounded)

	res, err := Solve(single(ins), param, nil)
	require.NoError(t, err)
	r := res.Instances[0]
	require.True(t, r.Converged)
	require.Equal(t, 3, r.Iterations)
	require.Greater(t, r.PInf, 1e-3)
	require.InDelta(t, 1, r.PInf, 1e-9)
	require.Less(t, r.DInf, param.GradTol)

	// The same run with multipliers enabled must not stop while the edge disagrees.
	param.Eta = 1
	param.MaxIter = 3
	res, err = Solve(single(ins), param, nil)
	require.NoError(t, err)
	require.False(t, res.Instances[0].Converged)
}

func TestIterationCap(t *testing.T) {
	param := gdmmParam()
	param.GradTol = 0
	param.MaxIter = 7
	res, err := Solve(single(twoNodeChain(t)), param, nil)
	require.NoError(t, err)
	r := res.Instances[0]
	require.Equal(t, 7, r.Iterations)
	require.False(t, r.Converged)
	require.Equal(t, []int{0, 0}, r.Labels)
}

func TestCountdownPolicies(t *testing.T) {
	for _, policy := range []factor.CountdownPolicy{factor.Cumulative, factor.Consecutive} {
		param := gdmmParam()
		param.Countdown = policy
		res, err := Solve(single(twoNodeChain(t)), param, nil)
		require.NoError(t, err)
		require.Equal(t, 3, res.Instances[0].Iterations, policy.String())
	}
}

func randomChain(rng *rand.Rand, T int, maxK int) *problem.Instance {
	domains := make([]int, T)
	for i := range domains {
		domains[i] = 1 + rng.Intn(maxK)
	}
	b := problem.NewBuilder(domains)
	for i, k := range domains {
		c := make([]float64, k)
		for j := range c {
			c[j] = rng.Float64() * 10
		}
		b.AddUnary(i, c)
	}
	for i := 0; i+1 < T; i++ {
		c := make([]float64, domains[i]*domains[i+1])
		for j := range c {
			c[j] = rng.Float64() * 10
		}
		b.AddPair(i, i+1, c)
	}
	ins, err := b.Build()
	if err != nil {
		panic(err)
	}
	return ins
}

func bruteForce(ins *problem.Instance) ([]int, float64) {
	labels := make([]int, ins.T)
	best := math.Inf(1)
	var bestLabels []int
	var rec func(i int)
	rec = func(i int) {
		if i == ins.T {
			if c := DecodedCost(ins, labels); c < best {
				best = c
				bestLabels = append([]int(nil), labels...)
			}
			return
		}
		for k := 0; k < ins.Domains[i]; k++ {
			labels[i] = k
			rec(i + 1)
		}
	}
	rec(0)
	return bestLabels, best
}

func TestViterbiMatchesBruteForce(t *testing.T) {
	rng := rand.New(rand.NewSource(11))
	for trial := 0; trial < 25; trial++ {
		ins := randomChain(rng, 1+rng.Intn(5), 4)
		labels, cost, err := Viterbi(ins)
		require.NoError(t, err)
		_, want := bruteForce(ins)
		require.InDelta(t, want, cost, 1e-9)
		require.InDelta(t, want, DecodedCost(ins, labels), 1e-9)
	}
}

func TestViterbiTransposedEdge(t *testing.T) {
	ins := randomChain(rand.New(rand.NewSource(5)), 2, 3)
	want, wantCost, err := Viterbi(ins)
	require.NoError(t, err)

	K1, K2 := ins.Domains[0], ins.Domains[1]
	c := ins.EdgeScores[0].C
	tc := make([]float64, K1*K2)
	for k1 := 0; k1 < K1; k1++ {
		for k2 := 0; k2 < K2; k2++ {
			tc[k2*K1+k1] = c[k1*K2+k2]
		}
	}
	flipped := *ins
	flipped.Edges = [][2]int{{1, 0}}
	flipped.EdgeScores = []*problem.ScoreVec{{C: tc}}
	got, gotCost, err := Viterbi(&flipped)
	require.NoError(t, err)
	require.Equal(t, want, got)
	require.InDelta(t, wantCost, gotCost, 1e-12)
}

func TestViterbiRejectsNonChains(t *testing.T) {
	ins := build(t, []int{2, 2, 2},
		[][]float64{{0, 1}, {0, 1}, {0, 1}},
		map[[2]int][]float64{{0, 1}: {0, 0, 0, 0}, {0, 2}: {0, 0, 0, 0}},
		nil)
	_, _, err := Viterbi(ins)
	require.ErrorContains(t, err, "not a chain")

	param := gdmmParam()
	param.Solver = factor.Viterbi
	_, err = Solve(single(ins), param, nil)
	require.Error(t, err)
}

func TestLocalPolytopeIsTightOnChains(t *testing.T) {
	rng := rand.New(rand.NewSource(23))
	for trial := 0; trial < 5; trial++ {
		ins := randomChain(rng, 4, 3)
		want, wantCost, err := Viterbi(ins)
		require.NoError(t, err)
		y, obj, err := LocalPolytope(ins)
		require.NoError(t, err)
		require.InDelta(t, wantCost, obj, 1e-6)
		for i := range y {
			require.InDelta(t, 1, y[i][want[i]], 1e-6, "node %d", i)
		}

		param := gdmmParam()
		param.Solver = factor.SparseLP
		res, err := Solve(single(ins), param, nil)
		require.NoError(t, err)
		require.Equal(t, want, res.Instances[0].LastLabels)
		require.InDelta(t, ins.Rescale(wantCost), res.Instances[0].RelScore, 1e-6)
	}
}

func TestGDMMFindsChainOptimum(t *testing.T) {
	// Node 1 starts at label 0 but both edges pull it to 1; the MAP labeling is (0,1,2).
	ins := build(t, []int{3, 3, 3},
		[][]float64{{0, 1, 1}, {0, 0.1, 1}, {1, 1, 0}},
		map[[2]int][]float64{
			{0, 1}: {1, 0, 1, 1, 1, 1, 1, 1, 1},
			{1, 2}: {1, 1, 1, 1, 1, 0, 1, 1, 1},
		},
		[]int{0, 1, 2})
	want, wantCost, err := Viterbi(ins)
	require.NoError(t, err)
	require.Equal(t, []int{0, 1, 2}, want)

	res, err := Solve(single(ins), gdmmParam(), nil)
	require.NoError(t, err)
	r := res.Instances[0]
	require.Equal(t, want, r.Labels)
	require.InDelta(t, -ins.Rescale(wantCost), r.BestDecoded, 1e-9)
	require.Greater(t, res.Accuracy, 0.5)
}

func TestThreadsAndOrderDoNotChangeSweeps(t *testing.T) {
	ins := randomChain(rand.New(rand.NewSource(41)), 12, 5)
	param := gdmmParam()
	param.MaxIter = 40
	base, err := Solve(single(ins), param, nil)
	require.NoError(t, err)

	param.Threads = 4
	param.Seed = 99
	par, err := Solve(single(ins), param, nil)
	require.NoError(t, err)

	require.Equal(t, base.Instances[0].Iterations, par.Instances[0].Iterations)
	require.Equal(t, base.Instances[0].PInf, par.Instances[0].PInf)
	require.Equal(t, base.Instances[0].DInf, par.Instances[0].DInf)
	require.Equal(t, base.Instances[0].LastLabels, par.Instances[0].LastLabels)
}

func TestManyInstances(t *testing.T) {
	rng := rand.New(rand.NewSource(8))
	prob := single(twoNodeChain(t), randomChain(rng, 5, 3), twoNodeChain(t))
	param := gdmmParam()
	param.InstanceWorkers = 3

	before := testutil.ToFloat64(metrics.SweepsTotal)
	res, err := Solve(prob, param, nil)
	require.NoError(t, err)
	require.Len(t, res.Instances, 3)
	sweeps := 0
	for i, r := range res.Instances {
		require.Equal(t, i, r.Index)
		sweeps += r.Iterations
	}
	require.Equal(t, float64(sweeps), testutil.ToFloat64(metrics.SweepsTotal)-before)
	require.Equal(t, int64(sweeps), res.Stats.Sweeps)
	// Only the two labeled chains count towards accuracy.
	require.InDelta(t, 1, res.Accuracy, 1e-12)
}

func TestSolveRejectsMalformedInput(t *testing.T) {
	bad := twoNodeChain(t)
	bad.Edges = [][2]int{{0, 3}}
	_, err := Solve(single(bad), gdmmParam(), nil)
	require.ErrorContains(t, err, "instance 0")
	require.ErrorContains(t, err, "1 of 1 instances failed")

	param := gdmmParam()
	param.Rho = 0
	_, err = Solve(single(twoNodeChain(t)), param, nil)
	require.Error(t, err)
}

func TestFailedInstanceDoesNotStopOthers(t *testing.T) {
	bad := twoNodeChain(t)
	bad.Edges = [][2]int{{0, 3}}
	param := gdmmParam()
	param.InstanceWorkers = 2

	before := testutil.ToFloat64(metrics.InstancesTotal.WithLabelValues(factor.GDMM.String(), metrics.Fail))
	res, err := Solve(single(twoNodeChain(t), bad, twoNodeChain(t)), param, nil)
	require.ErrorContains(t, err, "1 of 3 instances failed")
	require.ErrorContains(t, err, "instance 1")
	require.NotNil(t, res)
	require.Len(t, res.Instances, 3)
	require.Equal(t, 1.0, testutil.ToFloat64(metrics.InstancesTotal.WithLabelValues(factor.GDMM.String(), metrics.Fail))-before)

	for _, i := range []int{0, 2} {
		r := res.Instances[i]
		require.NoError(t, r.Err)
		require.True(t, r.Converged)
		require.Equal(t, 3, r.Iterations)
	}
	failed := res.Instances[1]
	require.ErrorContains(t, failed.Err, "instance 1")
	require.Equal(t, 1, failed.Index)
	require.Zero(t, failed.Iterations)
	require.InDelta(t, 1, res.Accuracy, 1e-12)
	require.Equal(t, int64(6), res.Stats.Sweeps)
}

func TestSolveContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	res, err := SolveContext(ctx, single(twoNodeChain(t), twoNodeChain(t)), gdmmParam(), nil)
	require.ErrorIs(t, err, context.Canceled)
	require.Nil(t, res)
}

// At a point where both infeasibilities are within tolerance, the relaxed objective is within
// (factors + message bound) * tolerance of the local polytope optimum.
func TestConvergedRunsMatchLocalPolytope(t *testing.T) {
	rng := rand.New(rand.NewSource(17))
	converged := 0
	const trials = 10
	for trial := 0; trial < trials; trial++ {
		ins := randomChain(rng, 6, 4)
		_, obj, err := LocalPolytope(ins)
		require.NoError(t, err)

		param := gdmmParam()
		param.MaxIter = 20000
		res, err := Solve(single(ins), param, nil)
		require.NoError(t, err)
		r := res.Instances[0]
		if !r.Converged {
			continue
		}
		converged++
		require.Less(t, r.DInf, param.GradTol)
		require.Less(t, r.PInf, param.InfeaTol)
		tol := float64(ins.NumFactors()+20) * param.GradTol * ins.Width()
		require.InDelta(t, ins.Rescale(obj), r.RelScore, tol, "trial %d", trial)
	}
	require.GreaterOrEqual(t, converged, trials/2)
}

func TestSolutionDumper(t *testing.T) {
	dir := t.TempDir()
	res, err := Solve(single(twoNodeChain(t)), gdmmParam(), NewSolutionDumper(dir))
	require.NoError(t, err)
	require.Equal(t, 3, res.Instances[0].Iterations)
	for iter := 0; iter < 3; iter++ {
		data, err := os.ReadFile(SolutionFile(dir, 0, iter))
		require.NoError(t, err)
		require.Equal(t, "2\n0 0\n", string(data))
	}
	_, err = os.Stat(SolutionFile(dir, 0, 3))
	require.True(t, os.IsNotExist(err))

	// An unwritable directory is logged, not fatal.
	NewSolutionDumper(dir+"/missing/deeper")(0, 0, []int{1})
}

func TestStatsRenderAfterSolve(t *testing.T) {
	res, err := Solve(single(twoNodeChain(t)), gdmmParam(), nil)
	require.NoError(t, err)
	require.NoError(t, res.Stats.Render(os.Stderr))
	require.Equal(t, int64(6), res.Stats.NumUni)
	require.Equal(t, int64(3), res.Stats.NumBi)
	require.InDelta(t, 1, res.Stats.AvgUniAct(), 1e-12)
}
