package problem

import (
	"bufio"
	"io"
	"math"
	"strconv"

	"github.com/pkg/errors"

	"github.com/ScottSallinen/gdmm/utils"
)

// ReadUAI parses a model in the UAI exchange format (MARKOV or BAYES preamble).
// Tables hold potentials; costs are -log(potential). Only unary and pairwise scopes are supported.
func ReadUAI(r io.Reader) (*Instance, error) {
	return readUAI(r, func(p float64) float64 {
		if p <= 0 {
			return math.Inf(1)
		}
		return -math.Log(p)
	})
}

// ReadLOGUAI parses the same layout as ReadUAI with log potential tables; costs are -value.
func ReadLOGUAI(r io.Reader) (*Instance, error) {
	return readUAI(r, func(v float64) float64 { return -v })
}

func readUAI(r io.Reader, toCost func(float64) float64) (*Instance, error) {
	tok := utils.NewTokens(r)
	nextInt := func(what string) (int, error) {
		s, ok := tok.Next()
		if !ok {
			return 0, tok.Errorf("unexpected EOF, expected %s", what)
		}
		v, err := strconv.Atoi(s)
		if err != nil || v < 0 {
			return 0, tok.Errorf("bad %s %q", what, s)
		}
		return v, nil
	}

	kind, ok := tok.Next()
	if !ok {
		return nil, tok.Errorf("empty model")
	}
	if kind != "MARKOV" && kind != "BAYES" {
		return nil, tok.Errorf("unsupported network type %q", kind)
	}
	n, err := nextInt("variable count")
	if err != nil {
		return nil, err
	}
	domains := make([]int, n)
	for i := range domains {
		if domains[i], err = nextInt("cardinality"); err != nil {
			return nil, err
		}
	}
	nf, err := nextInt("factor count")
	if err != nil {
		return nil, err
	}
	scopes := make([][]int, nf)
	for f := range scopes {
		size, err := nextInt("scope size")
		if err != nil {
			return nil, err
		}
		if size > 2 {
			return nil, errors.Errorf("factor %d has scope of size %d, only unary and pairwise factors are supported", f, size)
		}
		scopes[f] = make([]int, size)
		for s := range scopes[f] {
			if scopes[f][s], err = nextInt("variable index"); err != nil {
				return nil, err
			}
			if scopes[f][s] >= n {
				return nil, errors.Errorf("factor %d references variable %d of %d", f, scopes[f][s], n)
			}
		}
	}

	b := NewBuilder(domains)
	for f, scope := range scopes {
		count, err := nextInt("table size")
		if err != nil {
			return nil, err
		}
		want := 1
		for _, v := range scope {
			want *= domains[v]
		}
		if count != want {
			return nil, errors.Errorf("factor %d table has %d entries, expected %d", f, count, want)
		}
		costs := make([]float64, count)
		for i := range costs {
			s, ok := tok.Next()
			if !ok {
				return nil, tok.Errorf("unexpected EOF in factor %d table", f)
			}
			v, err := strconv.ParseFloat(s, 64)
			if err != nil {
				return nil, tok.Errorf("bad table value %q", s)
			}
			costs[i] = toCost(v)
		}
		switch len(scope) {
		case 0: // A constant; shifts every labeling equally.
		case 1:
			err = b.AddUnary(scope[0], costs)
		case 2:
			err = b.AddPair(scope[0], scope[1], costs)
		}
		if err != nil {
			return nil, errors.WithMessagef(err, "factor %d", f)
		}
	}
	if err := tok.Err(); err != nil {
		return nil, errors.Wrap(err, "reading uai model")
	}
	return b.Build()
}

// WriteLOGUAI writes the instance with de-normalized costs as a LOGUAI model
// (one unary factor per node then one pairwise factor per edge).
func WriteLOGUAI(w io.Writer, ins *Instance) error {
	bw := bufio.NewWriter(w)
	bw.WriteString("MARKOV\n")
	bw.WriteString(strconv.Itoa(ins.T) + "\n")
	for i, k := range ins.Domains {
		if i > 0 {
			bw.WriteByte(' ')
		}
		bw.WriteString(strconv.Itoa(k))
	}
	bw.WriteString("\n" + strconv.Itoa(ins.NumFactors()) + "\n")
	for i := 0; i < ins.T; i++ {
		bw.WriteString("1 " + strconv.Itoa(i) + "\n")
	}
	for _, e := range ins.Edges {
		bw.WriteString("2 " + strconv.Itoa(e[0]) + " " + strconv.Itoa(e[1]) + "\n")
	}
	table := func(c []float64) {
		bw.WriteString("\n" + strconv.Itoa(len(c)) + "\n")
		for k, v := range c {
			if k > 0 {
				bw.WriteByte(' ')
			}
			bw.WriteString(strconv.FormatFloat(-ins.RawCost(v), 'g', -1, 64))
		}
		bw.WriteByte('\n')
	}
	for _, sv := range ins.NodeScores {
		table(sv.C)
	}
	for _, sv := range ins.EdgeScores {
		table(sv.C)
	}
	return errors.Wrap(bw.Flush(), "writing loguai")
}
