package problem

import (
	"math"

	"github.com/pkg/errors"
)

// Builder collects raw costs for one instance. Costs added twice to the same node or edge accumulate.
// Build normalizes everything into [0,1] using the finite raw cost range.
type Builder struct {
	domains []int
	unary   [][]float64
	edges   [][2]int
	pair    [][]float64
	edgeIdx map[[2]int]int
	labels  []int
}

func NewBuilder(domains []int) *Builder {
	b := &Builder{
		domains: append([]int(nil), domains...),
		unary:   make([][]float64, len(domains)),
		edgeIdx: make(map[[2]int]int),
	}
	for i, k := range domains {
		if k > 0 {
			b.unary[i] = make([]float64, k)
		}
	}
	return b
}

func (b *Builder) checkNode(i int) error {
	if i < 0 || i >= len(b.domains) {
		return errors.Errorf("node %d out of range [0,%d)", i, len(b.domains))
	}
	return nil
}

// AddUnary adds raw costs to node i.
func (b *Builder) AddUnary(i int, costs []float64) error {
	if err := b.checkNode(i); err != nil {
		return err
	}
	if len(costs) != b.domains[i] {
		return errors.Errorf("node %d expects %d costs, got %d", i, b.domains[i], len(costs))
	}
	for k, c := range costs {
		b.unary[i][k] += c
	}
	return nil
}

// AddPair adds raw costs to the edge between i and j, row major over (k_i, k_j).
// The edge is stored with the smaller index on the left; costs are transposed to match.
func (b *Builder) AddPair(i, j int, costs []float64) error {
	if err := b.checkNode(i); err != nil {
		return err
	}
	if err := b.checkNode(j); err != nil {
		return err
	}
	if i == j {
		return errors.Errorf("pair factor on a single node %d", i)
	}
	ki, kj := b.domains[i], b.domains[j]
	if len(costs) != ki*kj {
		return errors.Errorf("pair (%d,%d) expects %d costs, got %d", i, j, ki*kj, len(costs))
	}
	l, r, transpose := i, j, false
	if i > j {
		l, r, transpose = j, i, true
	}
	e, ok := b.edgeIdx[[2]int{l, r}]
	if !ok {
		e = len(b.edges)
		b.edgeIdx[[2]int{l, r}] = e
		b.edges = append(b.edges, [2]int{l, r})
		b.pair = append(b.pair, make([]float64, ki*kj))
	}
	dst := b.pair[e]
	for a := 0; a < ki; a++ {
		for c := 0; c < kj; c++ {
			if transpose {
				dst[c*ki+a] += costs[a*kj+c]
			} else {
				dst[a*kj+c] += costs[a*kj+c]
			}
		}
	}
	return nil
}

func (b *Builder) SetLabels(labels []int) error {
	if len(labels) != len(b.domains) {
		return errors.Errorf("expected %d labels, got %d", len(b.domains), len(labels))
	}
	b.labels = append([]int(nil), labels...)
	return nil
}

// Build normalizes costs to (raw - Smallest) / Width. Infinite costs (impossible assignments)
// are placed one width above Largest.
func (b *Builder) Build() (*Instance, error) {
	ins := &Instance{
		T:          len(b.domains),
		Domains:    b.domains,
		NodeScores: make([]*ScoreVec, len(b.domains)),
		Edges:      b.edges,
		EdgeScores: make([]*ScoreVec, len(b.edges)),
		Labels:     b.labels,
	}

	smallest, largest := math.Inf(1), math.Inf(-1)
	scan := func(costs []float64) error {
		for _, c := range costs {
			if math.IsNaN(c) || math.IsInf(c, -1) {
				return errors.Errorf("invalid cost %v", c)
			}
			if math.IsInf(c, 1) {
				continue
			}
			smallest = math.Min(smallest, c)
			largest = math.Max(largest, c)
		}
		return nil
	}
	for i := range b.unary {
		if err := scan(b.unary[i]); err != nil {
			return nil, errors.WithMessagef(err, "node %d", i)
		}
	}
	for e := range b.pair {
		if err := scan(b.pair[e]); err != nil {
			return nil, errors.WithMessagef(err, "edge %d", e)
		}
	}
	if math.IsInf(smallest, 1) { // No finite costs at all.
		smallest, largest = 0, 0
	}
	ins.Smallest, ins.Largest = smallest, largest
	width := ins.Width()

	impossible := (largest-smallest)/width + 1
	normalize := func(raw []float64) *ScoreVec {
		c := make([]float64, len(raw))
		for k, v := range raw {
			if math.IsInf(v, 1) {
				c[k] = impossible
				continue
			}
			c[k] = (v - smallest) / width
		}
		return &ScoreVec{C: c}
	}
	for i := range b.unary {
		ins.NodeScores[i] = normalize(b.unary[i])
	}
	for e := range b.pair {
		ins.EdgeScores[e] = normalize(b.pair[e])
	}
	if err := ins.Validate(); err != nil {
		return nil, err
	}
	return ins, nil
}
