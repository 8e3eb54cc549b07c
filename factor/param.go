package factor

import (
	"io"
	"math"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v2"

	"github.com/ScottSallinen/gdmm/problem"
)

// SoftEta is the step size at or below which consistency is treated as a soft penalty only.
const SoftEta = 1e-12

// Unbounded disables the primal feasibility stopping criterion.
const Unbounded = 1e300

type SolverKind int

const (
	Viterbi SolverKind = iota
	SparseLP
	GDMM
)

var solverNames = []string{"viterbi", "lp", "gdmm"}

func (s SolverKind) String() string {
	if s < 0 || int(s) >= len(solverNames) {
		return "unknown"
	}
	return solverNames[s]
}

func ParseSolver(s string) (SolverKind, error) {
	for i, name := range solverNames {
		if s == name {
			return SolverKind(i), nil
		}
	}
	return 0, errors.Errorf("unknown solver %q (want one of %v)", s, solverNames)
}

func (s *SolverKind) UnmarshalYAML(unmarshal func(interface{}) error) error {
	var name string
	if err := unmarshal(&name); err != nil {
		return err
	}
	parsed, err := ParseSolver(name)
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// CountdownPolicy decides how satisfying sweeps are counted towards Patience.
type CountdownPolicy int

const (
	// Cumulative counts every satisfying sweep, even when a later sweep regresses.
	Cumulative CountdownPolicy = iota
	// Consecutive resets the count on any sweep that does not satisfy both tolerances.
	Consecutive
)

var countdownNames = []string{"cumulative", "consecutive"}

func (c CountdownPolicy) String() string {
	if c < 0 || int(c) >= len(countdownNames) {
		return "unknown"
	}
	return countdownNames[c]
}

func ParseCountdown(s string) (CountdownPolicy, error) {
	for i, name := range countdownNames {
		if s == name {
			return CountdownPolicy(i), nil
		}
	}
	return 0, errors.Errorf("unknown countdown policy %q (want one of %v)", s, countdownNames)
}

func (c *CountdownPolicy) UnmarshalYAML(unmarshal func(interface{}) error) error {
	var name string
	if err := unmarshal(&name); err != nil {
		return err
	}
	parsed, err := ParseCountdown(name)
	if err != nil {
		return err
	}
	*c = parsed
	return nil
}

// Param configures a run. It is read only once solving starts.
type Param struct {
	Solver       SolverKind      `yaml:"solver"`
	Eta          float64         `yaml:"eta"`           // Multiplier step size.
	Rho          float64         `yaml:"rho"`           // Consistency penalty weight.
	MaxIter      int             `yaml:"max_iter"`      // Hard cap on sweeps per instance.
	GradTol      float64         `yaml:"grad_tol"`      // Dual infeasibility tolerance; also the search admission threshold.
	InfeaTol     float64         `yaml:"infea_tol"`     // Primal infeasibility tolerance.
	Patience     int             `yaml:"patience"`      // Satisfying sweeps needed to stop.
	Countdown    CountdownPolicy `yaml:"countdown"`     // How satisfying sweeps are counted.
	SubsolveIter int             `yaml:"subsolve_iter"` // Cap on projected gradient steps per pair subsolve.

	Threads         int   `yaml:"threads"`          // Workers within one instance pass.
	InstanceWorkers int   `yaml:"instance_workers"` // Instances solved concurrently.
	Seed            int64 `yaml:"seed"`             // Visitation order seed; 0 picks one from the clock.

	ProblemType problem.Type `yaml:"problem_type"`
	PrintPeriod int          `yaml:"print_period"` // Sweeps between progress lines at debug level.
}

func DefaultParam() *Param {
	return &Param{
		Solver:          GDMM,
		Eta:             1.0,
		Rho:             1.0,
		MaxIter:         1000,
		GradTol:         1e-4,
		InfeaTol:        1e-4,
		Patience:        3,
		Countdown:       Cumulative,
		SubsolveIter:    20,
		Threads:         1,
		InstanceWorkers: 1,
		ProblemType:     problem.Chain,
		PrintPeriod:     1,
	}
}

func (p *Param) Validate() error {
	switch {
	case p.Rho <= 0:
		return errors.Errorf("rho must be positive, got %v", p.Rho)
	case p.MaxIter <= 0:
		return errors.Errorf("max_iter must be positive, got %d", p.MaxIter)
	case p.Patience <= 0:
		return errors.Errorf("patience must be positive, got %d", p.Patience)
	case p.GradTol < 0 || p.InfeaTol < 0:
		return errors.Errorf("tolerances must be non-negative, got grad_tol=%v infea_tol=%v", p.GradTol, p.InfeaTol)
	case p.SubsolveIter <= 0:
		return errors.Errorf("subsolve_iter must be positive, got %d", p.SubsolveIter)
	case p.Solver < Viterbi || p.Solver > GDMM:
		return errors.Errorf("unknown solver %d", p.Solver)
	}
	return nil
}

// SoftMode reports whether consistency is only penalized, never enforced by the multipliers.
func (p *Param) SoftMode() bool {
	return math.Abs(p.Eta) <= SoftEta
}

// Effective returns a copy with derived settings applied and worker counts clamped to at least one.
func (p *Param) Effective() *Param {
	eff := *p
	if eff.SoftMode() {
		eff.InfeaTol = Unbounded
	}
	if eff.Threads < 1 {
		eff.Threads = 1
	}
	if eff.InstanceWorkers < 1 {
		eff.InstanceWorkers = 1
	}
	if eff.PrintPeriod < 1 {
		eff.PrintPeriod = 1
	}
	return &eff
}

// LoadYAML overlays a YAML document onto p. Unknown keys are rejected.
func (p *Param) LoadYAML(r io.Reader) error {
	raw, err := io.ReadAll(r)
	if err != nil {
		return errors.Wrap(err, "reading config")
	}
	if err := yaml.UnmarshalStrict(raw, p); err != nil {
		return errors.Wrap(err, "parsing config")
	}
	return p.Validate()
}
