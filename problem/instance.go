package problem

import (
	"math"

	"github.com/pkg/errors"
)

// MinWidth bounds the normalization width away from zero for constant cost instances.
const MinWidth = 1e-12

// ScoreVec holds normalized costs. Lower is better; MAP inference minimizes the sum.
type ScoreVec struct {
	C []float64
}

// Instance is one structured prediction example. It is never mutated once built.
type Instance struct {
	T          int
	Domains    []int
	NodeScores []*ScoreVec
	Edges      [][2]int
	EdgeScores []*ScoreVec // Row major K1*K2, index k1*K2+k2.
	Labels     []int       // Nil, or -1 for unknown entries.
	Largest    float64     // Raw cost bounds.
	Smallest   float64
}

func (ins *Instance) Width() float64 {
	return math.Max(ins.Largest-ins.Smallest, MinWidth)
}

func (ins *Instance) NumFactors() int {
	return ins.T + len(ins.Edges)
}

// Rescale maps a sum of normalized costs over all factors back to the raw cost range.
func (ins *Instance) Rescale(raw float64) float64 {
	return raw*ins.Width() + ins.Smallest*float64(ins.NumFactors())
}

// RawCost de-normalizes a single cost.
func (ins *Instance) RawCost(c float64) float64 {
	return c*ins.Width() + ins.Smallest
}

// Validate rejects malformed graphs. The solver assumes it has been called.
func (ins *Instance) Validate() error {
	if ins.T != len(ins.Domains) || ins.T != len(ins.NodeScores) {
		return errors.Errorf("instance has %d nodes but %d domains and %d score vectors", ins.T, len(ins.Domains), len(ins.NodeScores))
	}
	if len(ins.Edges) != len(ins.EdgeScores) {
		return errors.Errorf("instance has %d edges but %d edge score vectors", len(ins.Edges), len(ins.EdgeScores))
	}
	if ins.Labels != nil && len(ins.Labels) != ins.T {
		return errors.Errorf("instance has %d nodes but %d labels", ins.T, len(ins.Labels))
	}
	for i, k := range ins.Domains {
		if k < 1 {
			return errors.Errorf("node %d has empty domain", i)
		}
		if ins.NodeScores[i] == nil || len(ins.NodeScores[i].C) != k {
			return errors.Errorf("node %d score vector does not match domain size %d", i, k)
		}
		if ins.Labels != nil && ins.Labels[i] >= k {
			return errors.Errorf("node %d label %d out of domain %d", i, ins.Labels[i], k)
		}
	}
	for e, ends := range ins.Edges {
		l, r := ends[0], ends[1]
		if l < 0 || l >= ins.T || r < 0 || r >= ins.T {
			return errors.Errorf("edge %d endpoint (%d,%d) out of range [0,%d)", e, l, r, ins.T)
		}
		if l == r {
			return errors.Errorf("edge %d is a self loop on node %d", e, l)
		}
		if ins.EdgeScores[e] == nil || len(ins.EdgeScores[e].C) != ins.Domains[l]*ins.Domains[r] {
			return errors.Errorf("edge %d score matrix does not match %dx%d", e, ins.Domains[l], ins.Domains[r])
		}
	}
	return nil
}

// Type selects the input format of a problem.
type Type int

const (
	Chain Type = iota
	Network
	UAI
	LOGUAI
)

var typeNames = []string{"chain", "network", "uai", "loguai"}

func (t Type) String() string {
	if t < 0 || int(t) >= len(typeNames) {
		return "unknown"
	}
	return typeNames[t]
}

func ParseType(s string) (Type, error) {
	for i, name := range typeNames {
		if s == name {
			return Type(i), nil
		}
	}
	return 0, errors.Errorf("unknown problem type %q (want one of %v)", s, typeNames)
}

func (t *Type) UnmarshalYAML(unmarshal func(interface{}) error) error {
	var s string
	if err := unmarshal(&s); err != nil {
		return err
	}
	parsed, err := ParseType(s)
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}

// Problem is an ordered collection of instances, read once and shared read-only by the solver.
type Problem struct {
	Name string
	Type Type
	Data []*Instance
}

// NumLabeled counts nodes with a known ground truth label.
func (p *Problem) NumLabeled() (n int) {
	for _, ins := range p.Data {
		for _, l := range ins.Labels {
			if l >= 0 {
				n++
			}
		}
	}
	return n
}
