package solver

import (
	"context"
	"math"
	"math/rand"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/ScottSallinen/gdmm/factor"
	"github.com/ScottSallinen/gdmm/metrics"
	"github.com/ScottSallinen/gdmm/problem"
	"github.com/ScottSallinen/gdmm/utils"
)

// pass visits every index of order once. With more than one thread the order is split into contiguous
// chunks, one per worker, each with its own stats; the visit must only touch the factor it is given.
func pass(threads int, order []int, visit func(i int, st *factor.Stats)) (total factor.Stats) {
	if threads <= 1 || len(order) < 2 {
		for _, i := range order {
			visit(i, &total)
		}
		return total
	}
	chunks := utils.Chunks(len(order), threads)
	stats := make([]factor.Stats, len(chunks))
	var wg sync.WaitGroup
	wg.Add(len(chunks))
	for c, ch := range chunks {
		c, ch := c, ch
		go func() {
			defer wg.Done()
			for _, i := range order[ch.First:ch.Second] {
				visit(i, &stats[c])
			}
		}()
	}
	wg.Wait()
	for c := range stats {
		total.Merge(&stats[c])
	}
	return total
}

// solveGDMM runs sweeps on one instance until the stopping rule holds Patience times or MaxIter is reached.
func solveGDMM(ctx context.Context, idx int, ins *problem.Instance, param *factor.Param, seed int64, hook SolutionHook) (*InstanceResult, error) {
	res := &InstanceResult{Index: idx, T: ins.T, NumEdges: len(ins.Edges), BestDecoded: math.Inf(-1)}
	rng := rand.New(rand.NewSource(seed))

	var watch utils.Watch
	watch.Start()
	g, err := factor.NewGraph(ins, param)
	if err != nil {
		return nil, err
	}
	res.Stats.Construct = watch.Lap()

	nodeOrder := utils.Identity(len(g.Nodes))
	edgeOrder := utils.Identity(len(g.Edges))
	numFactors := float64(utils.Max(ins.NumFactors(), 1))
	countdown := 0
	var m factor.Measure

	for iter := 0; iter < param.MaxIter; iter++ {
		if err := ctx.Err(); err != nil {
			return nil, errors.Wrap(err, "cancelled")
		}

		utils.Shuffle(rng, nodeOrder)
		uni := pass(param.Threads, nodeOrder, func(i int, st *factor.Stats) {
			node := &g.Nodes[i]
			t0 := time.Now()
			if node.Search() {
				st.Admitted++
			}
			t1 := time.Now()
			st.DeltaYL1 += node.Subsolve()
			st.UniSearch += t1.Sub(t0)
			st.UniSubsolve += time.Since(t1)
		})

		utils.Shuffle(rng, edgeOrder)
		bi := pass(param.Threads, edgeOrder, func(e int, st *factor.Stats) {
			edge := &g.Edges[e]
			t0 := time.Now()
			if edge.Search() {
				st.Admitted++
			}
			t1 := time.Now()
			st.DeltaYL1 += edge.Subsolve()
			st.BiSearch += t1.Sub(t0)
			st.BiSubsolve += time.Since(t1)
		})
		res.Stats.Merge(&uni)
		res.Stats.Merge(&bi)

		watch.Lap()
		for e := range g.Edges {
			g.Edges[e].UpdateMultipliers()
		}
		var sweep factor.Stats
		m = g.Measure(&sweep)
		sweep.Sweeps = 1
		sweep.Maintain = watch.Lap()
		res.Stats.Merge(&sweep)

		if m.PInf < param.InfeaTol && m.DInf < param.GradTol {
			countdown++
		} else if param.Countdown == factor.Consecutive {
			countdown = 0
		}

		score := ins.Rescale(m.Score)
		if -score > res.BestDecoded {
			res.BestDecoded = -score
			res.Labels = g.Decode()
		}
		if hook != nil {
			hook(idx, iter, g.Decode())
		}

		metrics.SweepsTotal.Inc()
		if sweep.NumUni > 0 {
			metrics.ActiveSetSize.WithLabelValues(metrics.Unary).Set(sweep.AvgUniAct())
		}
		if sweep.NumBi > 0 {
			metrics.ActiveSetSize.WithLabelValues(metrics.Pair).Set(sweep.AvgBiAct())
		}
		if (iter+1)%param.PrintPeriod == 0 {
			log.Debug().Msg("iter=" + utils.V(iter) + ", funcval=" + utils.V(m.FuncVal) +
				", (-rel_score)=" + utils.V(-ins.Rescale(m.RelScore)) + ", decoded=" + utils.V(-score) +
				", best_decoded=" + utils.V(res.BestDecoded) + ", d_inf=" + utils.V(m.DInf) + ", p_inf=" + utils.V(m.PInf) +
				", countdown=" + utils.V(countdown) + ", delta_y_l1/factor=" + utils.V((uni.DeltaYL1+bi.DeltaYL1)/numFactors) +
				", uni_act=" + utils.F("%.2f", sweep.AvgUniAct()) + ", bi_act=" + utils.F("%.2f", sweep.AvgBiAct()))
		}

		res.Iterations = iter + 1
		if countdown >= param.Patience {
			res.Converged = true
			break
		}
	}
	metrics.InstanceSweeps.Observe(float64(res.Iterations))

	res.PInf, res.DInf, res.FuncVal = m.PInf, m.DInf, m.FuncVal
	res.Score = ins.Rescale(m.Score)
	res.RelScore = ins.Rescale(m.RelScore)
	res.LastLabels = g.Decode()
	res.Hits, res.Known = labelHits(ins, func(i, l int) float64 { return g.Nodes[i].Y[l] })
	if res.Known > 0 {
		res.Accuracy = res.Hits / float64(res.Known)
	}
	return res, nil
}
