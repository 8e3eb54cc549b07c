package main

import (
	"fmt"
	"strconv"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/ScottSallinen/gdmm/factor"
	"github.com/ScottSallinen/gdmm/problem"
	"github.com/ScottSallinen/gdmm/solver"
	"github.com/ScottSallinen/gdmm/utils"
)

type predictFlags struct {
	config      string
	solver      string
	problemType string
	countdown   string
	printModel  string
	dumpDir     string
	stats       bool
	param       factor.Param
}

// parseSolver accepts a solver name or its number (0 viterbi, 1 lp, 2 gdmm).
func parseSolver(s string) (factor.SolverKind, error) {
	if n, err := strconv.Atoi(s); err == nil {
		if n < int(factor.Viterbi) || n > int(factor.GDMM) {
			return 0, errors.Errorf("unknown solver %d", n)
		}
		return factor.SolverKind(n), nil
	}
	return factor.ParseSolver(s)
}

// resolve builds the run parameters: defaults, then the config file, then any flag set on the command line.
func (f *predictFlags) resolve(cmd *cobra.Command) (*factor.Param, error) {
	param := factor.DefaultParam()
	if f.config != "" {
		file, err := utils.OpenFile(f.config)
		if err != nil {
			return nil, err
		}
		defer file.Close()
		if err := param.LoadYAML(file); err != nil {
			return nil, errors.WithMessage(err, f.config)
		}
	}

	flags := cmd.Flags()
	var err error
	if flags.Changed("solver") {
		if param.Solver, err = parseSolver(f.solver); err != nil {
			return nil, err
		}
	}
	if flags.Changed("problem") {
		if param.ProblemType, err = problem.ParseType(f.problemType); err != nil {
			return nil, err
		}
	}
	if flags.Changed("countdown") {
		if param.Countdown, err = factor.ParseCountdown(f.countdown); err != nil {
			return nil, err
		}
	}
	overlay := func(name string, apply func()) {
		if flags.Changed(name) {
			apply()
		}
	}
	overlay("eta", func() { param.Eta = f.param.Eta })
	overlay("rho", func() { param.Rho = f.param.Rho })
	overlay("max-iter", func() { param.MaxIter = f.param.MaxIter })
	overlay("grad-tol", func() { param.GradTol = f.param.GradTol })
	overlay("infea-tol", func() { param.InfeaTol = f.param.InfeaTol })
	overlay("patience", func() { param.Patience = f.param.Patience })
	overlay("subsolve-iter", func() { param.SubsolveIter = f.param.SubsolveIter })
	overlay("threads", func() { param.Threads = f.param.Threads })
	overlay("workers", func() { param.InstanceWorkers = f.param.InstanceWorkers })
	overlay("seed", func() { param.Seed = f.param.Seed })
	overlay("print-period", func() { param.PrintPeriod = f.param.PrintPeriod })

	return param, param.Validate()
}

func (c *CLI) newPredictCommand() *cobra.Command {
	f := &predictFlags{}
	def := factor.DefaultParam()

	cmd := &cobra.Command{
		Use:   "predict [testfile] [model]",
		Short: "Decode every instance of a test file",
		Example: `  lp-map predict -p chain -s gdmm -e 1 -o 1 -m 1000 test.txt model
  lp-map predict -p uai --threads 4 grid.uai`,
		Args: cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			param, err := f.resolve(cmd)
			if err != nil {
				return err
			}
			modelPath := ""
			if len(args) > 1 {
				modelPath = args[1]
			}

			var watch utils.Watch
			watch.Start()
			watch.Pause()
			prob, err := problem.Load(param.ProblemType, args[0], modelPath)
			if err != nil {
				return err
			}
			watch.UnPause()
			if n := prob.NumLabeled(); n > 0 {
				log.Info().Msg("Ground truth known for " + utils.V(n) + " nodes.")
			}

			if f.printModel != "" {
				log.Info().Msg("Output to loguai file: " + f.printModel)
				return exportLOGUAI(prob, f.printModel)
			}

			var hook solver.SolutionHook
			if f.dumpDir != "" {
				hook = solver.NewSolutionDumper(f.dumpDir)
			}
			// A failed instance still leaves the others' results to report.
			res, err := solver.SolveContext(cmd.Context(), prob, param, hook)
			if res == nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintln(out, "Acc="+utils.V(res.Accuracy))
			fmt.Fprintln(out, "prediction time="+utils.V(watch.Elapsed().Seconds()))
			if f.stats {
				if rerr := res.Stats.Render(out); rerr != nil {
					return rerr
				}
			}
			utils.MemoryStats()
			return err
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&f.config, "config", "", "YAML parameter file; flags given on the command line take precedence.")
	flags.StringVarP(&f.solver, "solver", "s", def.Solver.String(), "Solver: viterbi (0, chains only), lp (1), gdmm (2).")
	flags.StringVarP(&f.problemType, "problem", "p", def.ProblemType.String(), "Problem type: chain, network, uai, loguai.")
	flags.Float64VarP(&f.param.Eta, "eta", "e", def.Eta, "GDMM multiplier step size. 0 turns consistency into a soft penalty.")
	flags.Float64VarP(&f.param.Rho, "rho", "o", def.Rho, "Weight of the consistency messages.")
	flags.IntVarP(&f.param.MaxIter, "max-iter", "m", def.MaxIter, "Max number of sweeps per instance.")
	flags.Float64Var(&f.param.GradTol, "grad-tol", def.GradTol, "Dual infeasibility tolerance.")
	flags.Float64Var(&f.param.InfeaTol, "infea-tol", def.InfeaTol, "Primal infeasibility tolerance.")
	flags.IntVar(&f.param.Patience, "patience", def.Patience, "Satisfying sweeps required before stopping.")
	flags.StringVar(&f.countdown, "countdown", def.Countdown.String(), "How satisfying sweeps count: cumulative or consecutive.")
	flags.IntVar(&f.param.SubsolveIter, "subsolve-iter", def.SubsolveIter, "Cap on projected gradient steps per pair subsolve.")
	flags.IntVar(&f.param.Threads, "threads", def.Threads, "Workers for the unary and pair passes within an instance.")
	flags.IntVar(&f.param.InstanceWorkers, "workers", def.InstanceWorkers, "Instances solved concurrently.")
	flags.Int64Var(&f.param.Seed, "seed", def.Seed, "Visitation order seed. 0 picks one from the clock.")
	flags.IntVar(&f.param.PrintPeriod, "print-period", def.PrintPeriod, "Sweeps between progress lines (with -v).")
	flags.StringVar(&f.printModel, "printmodel", "", "Write the loaded problem as loguai to this file and exit.")
	flags.StringVar(&f.dumpDir, "dump-sol", "", "Directory to write every sweep's decoding to.")
	flags.BoolVar(&f.stats, "stats", false, "Print the timing and active set tables after solving.")
	return cmd
}
