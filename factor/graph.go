package factor

import (
	"github.com/pkg/errors"

	"github.com/ScottSallinen/gdmm/problem"
)

// Factor is the capability shared by both factor kinds. The sweeps work on the concrete
// slices directly; the interface serves the mixed reporting pass.
type Factor interface {
	Search() bool
	Subsolve() float64
	DualInf() float64
	Score() float64
	RelScore() float64
	FuncVal() float64
}

var (
	_ Factor = (*UnaryFactor)(nil)
	_ Factor = (*PairFactor)(nil)
)

// Graph holds the factor arenas for one instance. Edges address their endpoints by index into Nodes,
// so Nodes is allocated once and never grown.
type Graph struct {
	Nodes []UnaryFactor
	Edges []PairFactor
}

// NewGraph builds one UnaryFactor per variable and one PairFactor per edge.
// Edges referencing nodes that do not exist are rejected rather than indexed.
func NewGraph(ins *problem.Instance, param *Param) (*Graph, error) {
	if len(ins.NodeScores) != ins.T || len(ins.EdgeScores) != len(ins.Edges) {
		return nil, errors.Errorf("instance shape mismatch: T=%d with %d node scores, %d edges with %d edge scores",
			ins.T, len(ins.NodeScores), len(ins.Edges), len(ins.EdgeScores))
	}
	g := &Graph{
		Nodes: make([]UnaryFactor, ins.T),
		Edges: make([]PairFactor, len(ins.Edges)),
	}
	for i, sv := range ins.NodeScores {
		if len(sv.C) == 0 {
			return nil, errors.Errorf("node %d has an empty domain", i)
		}
		g.Nodes[i] = newUnaryFactor(sv, param)
	}
	for e, ends := range ins.Edges {
		l, r := ends[0], ends[1]
		if l < 0 || l >= ins.T || r < 0 || r >= ins.T || l == r {
			return nil, errors.Errorf("edge %d has invalid endpoints (%d,%d) for %d nodes", e, l, r, ins.T)
		}
		if len(ins.EdgeScores[e].C) != g.Nodes[l].K*g.Nodes[r].K {
			return nil, errors.Errorf("edge %d has %d costs, expected %dx%d", e, len(ins.EdgeScores[e].C), g.Nodes[l].K, g.Nodes[r].K)
		}
		g.Edges[e] = newPairFactor(g.Nodes, l, r, ins.EdgeScores[e], param)
		g.Nodes[l].attach(g.Edges[e].MsgL)
		g.Nodes[r].attach(g.Edges[e].MsgR)
	}
	return g, nil
}

// Factors lists every factor, nodes first.
func (g *Graph) Factors() []Factor {
	out := make([]Factor, 0, len(g.Nodes)+len(g.Edges))
	for i := range g.Nodes {
		out = append(out, &g.Nodes[i])
	}
	for e := range g.Edges {
		out = append(out, &g.Edges[e])
	}
	return out
}

// Decode returns each node's current best label.
func (g *Graph) Decode() []int {
	labels := make([]int, len(g.Nodes))
	for i := range g.Nodes {
		labels[i] = g.Nodes[i].RecentPred
	}
	return labels
}

// Measure is one convergence reading over the whole graph.
type Measure struct {
	DInf     float64 // Max over all factors.
	PInf     float64 // Sum over all edges.
	Score    float64 // Normalized, not rescaled.
	RelScore float64
	FuncVal  float64
}

// Measure reads convergence and objective values and accumulates sparsity counters into stats.
func (g *Graph) Measure(stats *Stats) (m Measure) {
	for i := range g.Nodes {
		stats.UniActSize += int64(g.Nodes[i].ActSize())
		stats.NumUni++
	}
	for e := range g.Edges {
		edge := &g.Edges[e]
		m.PInf += edge.Infea()
		stats.BiActSize += int64(edge.NnzMsg())
		stats.EverNnzMsgSize += int64(edge.EverNnzSize())
		stats.NumBi++
	}
	for _, f := range g.Factors() {
		if d := f.DualInf(); d > m.DInf {
			m.DInf = d
		}
		m.Score += f.Score()
		m.RelScore += f.RelScore()
		m.FuncVal += f.FuncVal()
	}
	return m
}
