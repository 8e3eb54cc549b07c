package solver

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/ScottSallinen/gdmm/factor"
	"github.com/ScottSallinen/gdmm/metrics"
	"github.com/ScottSallinen/gdmm/problem"
	"github.com/ScottSallinen/gdmm/utils"
)

// SolutionHook observes the decoding of an instance after every sweep. It must not retain labels.
type SolutionHook func(instance int, iter int, labels []int)

// InstanceResult describes how one instance was solved. Objective values are in raw cost units
// except FuncVal, which is the augmented Lagrangian in normalized units.
type InstanceResult struct {
	Index    int
	T        int
	NumEdges int

	Iterations int
	PInf       float64
	DInf       float64
	FuncVal    float64
	Score      float64 // Cost of the last decoding.
	RelScore   float64 // Relaxed objective.
	Converged  bool

	BestDecoded float64 // Largest negated decoded cost seen over all sweeps.
	Labels      []int   // The decoding that achieved BestDecoded.
	LastLabels  []int

	Accuracy float64 // Relaxed mass on the ground truth labels, over the labeled nodes.
	Hits     float64
	Known    int

	Stats factor.Stats

	Err error // Why the instance could not be solved; only Index, T and NumEdges are then set.
}

type Result struct {
	Accuracy  float64
	Instances []InstanceResult
	Stats     factor.Stats
}

// Solve runs the configured solver over every instance of prob. Instances are independent and may run
// concurrently. Stalls are reported through the results; only malformed input is an error.
func Solve(prob *problem.Problem, param *factor.Param, hook SolutionHook) (*Result, error) {
	return SolveContext(context.Background(), prob, param, hook)
}

// SolveContext is Solve with cancellation between sweeps; a cancelled run returns no Result. An instance
// that fails otherwise is recorded in its InstanceResult and does not stop the others. The returned error
// then carries the first failure, alongside a Result holding every instance.
func SolveContext(ctx context.Context, prob *problem.Problem, param *factor.Param, hook SolutionHook) (*Result, error) {
	if err := param.Validate(); err != nil {
		return nil, err
	}
	eff := param.Effective()
	seed := eff.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	log.Info().Msg("Solving " + utils.V(len(prob.Data)) + " instances with " + eff.Solver.String() +
		", eta=" + utils.V(eff.Eta) + ", rho=" + utils.V(eff.Rho) + ", max_iter=" + utils.V(eff.MaxIter) +
		", countdown=" + eff.Countdown.String() + ", seed=" + utils.V(seed))
	if eff.SoftMode() {
		log.Info().Msg("Soft constraint mode: primal infeasibility is not required for termination.")
	}

	results := make([]InstanceResult, len(prob.Data))
	var grp errgroup.Group
	grp.SetLimit(eff.InstanceWorkers)
	for i, ins := range prob.Data {
		i, ins := i, ins
		grp.Go(func() error {
			err := ins.Validate()
			if err == nil {
				var res *InstanceResult
				if res, err = solveInstance(ctx, i, ins, eff, seed, hook); err == nil {
					results[i] = *res
					return nil
				}
			}
			metrics.InstancesTotal.WithLabelValues(eff.Solver.String(), metrics.Fail).Inc()
			results[i] = InstanceResult{Index: i, T: ins.T, NumEdges: len(ins.Edges), Err: errors.WithMessagef(err, "instance %d", i)}
			log.Error().Err(results[i].Err).Msg("Instance failed")
			return ctx.Err()
		})
	}
	// Only cancellation by the caller aborts the whole run.
	if err := grp.Wait(); err != nil {
		return nil, err
	}

	out := &Result{Instances: results}
	hits, known := 0.0, 0
	var first error
	failed := 0
	for i := range results {
		if results[i].Err != nil {
			if first == nil {
				first = results[i].Err
			}
			failed++
			continue
		}
		hits += results[i].Hits
		known += results[i].Known
		out.Stats.Merge(&results[i].Stats)
	}
	if known > 0 {
		out.Accuracy = hits / float64(known)
	}
	if first != nil {
		return out, errors.WithMessagef(first, "%d of %d instances failed", failed, len(results))
	}
	return out, nil
}

func solveInstance(ctx context.Context, idx int, ins *problem.Instance, param *factor.Param, seed int64, hook SolutionHook) (*InstanceResult, error) {
	var res *InstanceResult
	var err error
	switch param.Solver {
	case factor.GDMM:
		res, err = solveGDMM(ctx, idx, ins, param, seed+int64(idx), hook)
	case factor.Viterbi:
		res, err = solveViterbi(idx, ins)
	case factor.SparseLP:
		res, err = solveLP(idx, ins)
	default:
		err = errors.Errorf("unknown solver %d", param.Solver)
	}
	if err != nil {
		return nil, err
	}

	outcome := metrics.Exact
	if param.Solver == factor.GDMM {
		outcome = metrics.Capped
		if res.Converged {
			outcome = metrics.Converged
		}
	}
	metrics.InstancesTotal.WithLabelValues(param.Solver.String(), outcome).Inc()

	log.Info().Msg("Instance " + utils.V(idx) + ": T=" + utils.V(ins.T) + ", edges=" + utils.V(len(ins.Edges)) +
		", iter=" + utils.V(res.Iterations) + ", p_inf=" + utils.V(res.PInf) + ", d_inf=" + utils.V(res.DInf) +
		", decoded=" + utils.V(-res.Score) + ", best_decoded=" + utils.V(res.BestDecoded) + ", " + outcome)
	return res, nil
}

// labelHits sums the relaxed mass each labeled node puts on its ground truth label.
func labelHits(ins *problem.Instance, y func(node int, label int) float64) (hits float64, known int) {
	for i, l := range ins.Labels {
		if l < 0 {
			continue
		}
		hits += y(i, l)
		known++
	}
	return hits, known
}

// exactResult fills the result for a solver that returns a single labeling.
func exactResult(idx int, ins *problem.Instance, labels []int) *InstanceResult {
	score := ins.Rescale(DecodedCost(ins, labels))
	res := &InstanceResult{
		Index:       idx,
		T:           ins.T,
		NumEdges:    len(ins.Edges),
		Iterations:  1,
		Score:       score,
		RelScore:    score,
		Converged:   true,
		BestDecoded: -score,
		Labels:      labels,
		LastLabels:  labels,
	}
	res.Hits, res.Known = labelHits(ins, func(i, l int) float64 {
		if labels[i] == l {
			return 1
		}
		return 0
	})
	if res.Known > 0 {
		res.Accuracy = res.Hits / float64(res.Known)
	}
	return res
}

// DecodedCost is the normalized cost of a full labeling.
func DecodedCost(ins *problem.Instance, labels []int) (cost float64) {
	for i, l := range labels {
		cost += ins.NodeScores[i].C[l]
	}
	for e, ends := range ins.Edges {
		K2 := ins.Domains[ends[1]]
		cost += ins.EdgeScores[e].C[labels[ends[0]]*K2+labels[ends[1]]]
	}
	return cost
}
