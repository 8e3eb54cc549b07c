package problem

import (
	"io"
	"strconv"
	"strings"

	"github.com/pkg/errors"

	"github.com/ScottSallinen/gdmm/utils"
)

// ChainModel is a linear chain model: per feature label weights and a label transition matrix.
type ChainModel struct {
	Labels  []string
	labelOf map[string]int
	W       [][]float64 // D x K
	V       [][]float64 // K x K
}

func (m *ChainModel) K() int { return len(m.Labels) }

// ReadChainModel parses
//
//	nr_class K
//	label l0 .. lK-1
//	nr_feature D
//	w
//	D rows of K weights
//	v
//	K rows of K weights
func ReadChainModel(r io.Reader) (*ChainModel, error) {
	tok := utils.NewTokens(r)
	expect := func(word string) error {
		got, ok := tok.Next()
		if !ok {
			return tok.Errorf("unexpected EOF, expected %q", word)
		}
		if got != word {
			return tok.Errorf("expected %q, got %q", word, got)
		}
		return nil
	}
	nextInt := func() (int, error) {
		s, ok := tok.Next()
		if !ok {
			return 0, tok.Errorf("unexpected EOF, expected integer")
		}
		v, err := strconv.Atoi(s)
		if err != nil {
			return 0, tok.Errorf("bad integer %q", s)
		}
		return v, nil
	}
	nextRow := func(n int) ([]float64, error) {
		row := make([]float64, n)
		for i := range row {
			s, ok := tok.Next()
			if !ok {
				return nil, tok.Errorf("unexpected EOF in weight row")
			}
			v, err := strconv.ParseFloat(s, 64)
			if err != nil {
				return nil, tok.Errorf("bad weight %q", s)
			}
			row[i] = v
		}
		return row, nil
	}

	if err := expect("nr_class"); err != nil {
		return nil, err
	}
	K, err := nextInt()
	if err != nil {
		return nil, err
	}
	if K < 1 {
		return nil, errors.Errorf("nr_class must be positive, got %d", K)
	}
	if err := expect("label"); err != nil {
		return nil, err
	}
	m := &ChainModel{Labels: make([]string, K), labelOf: make(map[string]int, K)}
	for k := 0; k < K; k++ {
		s, ok := tok.Next()
		if !ok {
			return nil, tok.Errorf("unexpected EOF in label list")
		}
		m.Labels[k] = s
		m.labelOf[s] = k
	}
	if err := expect("nr_feature"); err != nil {
		return nil, err
	}
	D, err := nextInt()
	if err != nil {
		return nil, err
	}
	if D < 0 {
		return nil, errors.Errorf("nr_feature must be non-negative, got %d", D)
	}
	if err := expect("w"); err != nil {
		return nil, err
	}
	m.W = make([][]float64, D)
	for f := range m.W {
		if m.W[f], err = nextRow(K); err != nil {
			return nil, err
		}
	}
	if err := expect("v"); err != nil {
		return nil, err
	}
	m.V = make([][]float64, K)
	for k := range m.V {
		if m.V[k], err = nextRow(K); err != nil {
			return nil, err
		}
	}
	return m, tok.Err()
}

type chainToken struct {
	label int
	feats []utils.Pair[int, float64]
}

// ReadChain parses sequences separated by blank lines; each line is `label fid:val fid:val ...`
// with 1-based feature ids. Features beyond the model and labels unknown to it are ignored.
func ReadChain(data io.Reader, model *ChainModel) ([]*Instance, error) {
	lines := utils.NewLines(data)
	var out []*Instance
	var seq []chainToken

	flush := func() error {
		if len(seq) == 0 {
			return nil
		}
		ins, err := model.instance(seq)
		if err != nil {
			return errors.WithMessagef(err, "sequence %d", len(out))
		}
		out = append(out, ins)
		seq = seq[:0]
		return nil
	}

	for {
		line, ok := lines.Next()
		if !ok {
			break
		}
		if line == "" {
			if err := flush(); err != nil {
				return nil, err
			}
			continue
		}
		fields := strings.Fields(line)
		t := chainToken{label: -1}
		if l, ok := model.labelOf[fields[0]]; ok {
			t.label = l
		}
		for _, f := range fields[1:] {
			colon := strings.IndexByte(f, ':')
			if colon < 0 {
				return nil, lines.Errorf("bad feature %q", f)
			}
			fid, err := strconv.Atoi(f[:colon])
			if err != nil {
				return nil, lines.Errorf("bad feature id %q", f)
			}
			val, err := strconv.ParseFloat(f[colon+1:], 64)
			if err != nil {
				return nil, lines.Errorf("bad feature value %q", f)
			}
			if fid < 1 || fid > len(model.W) {
				continue
			}
			t.feats = append(t.feats, utils.Pair[int, float64]{First: fid - 1, Second: val})
		}
		seq = append(seq, t)
	}
	if err := lines.Err(); err != nil {
		return nil, errors.Wrap(err, "reading chain data")
	}
	if err := flush(); err != nil {
		return nil, err
	}
	return out, nil
}

func (m *ChainModel) instance(seq []chainToken) (*Instance, error) {
	K := m.K()
	T := len(seq)
	domains := make([]int, T)
	labels := make([]int, T)
	for t := range domains {
		domains[t] = K
		labels[t] = seq[t].label
	}
	b := NewBuilder(domains)
	costs := make([]float64, K)
	for t, tk := range seq {
		for k := range costs {
			costs[k] = 0
		}
		for _, f := range tk.feats {
			for k, w := range m.W[f.First] {
				costs[k] -= f.Second * w
			}
		}
		if err := b.AddUnary(t, costs); err != nil {
			return nil, err
		}
	}
	trans := make([]float64, K*K)
	for k1 := 0; k1 < K; k1++ {
		for k2 := 0; k2 < K; k2++ {
			trans[k1*K+k2] = -m.V[k1][k2]
		}
	}
	for t := 0; t+1 < T; t++ {
		if err := b.AddPair(t, t+1, trans); err != nil {
			return nil, err
		}
	}
	if err := b.SetLabels(labels); err != nil {
		return nil, err
	}
	return b.Build()
}
