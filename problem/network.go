package problem

import (
	"io"
	"strconv"

	"github.com/pkg/errors"

	"github.com/ScottSallinen/gdmm/utils"
)

// ReadNetwork parses complete graph instances, back to back until EOF:
//
//	T K
//	[labels l0 .. lT-1]
//	T rows of K unary scores
//	T(T-1)/2 rows of K*K pair scores, for i<j in lexicographic order
//
// Scores are negated into costs.
func ReadNetwork(r io.Reader) ([]*Instance, error) {
	tok := utils.NewTokens(r)
	var out []*Instance
	for {
		first, ok := tok.Next()
		if !ok {
			break
		}
		ins, err := readNetworkInstance(tok, first)
		if err != nil {
			return nil, errors.WithMessagef(err, "network instance %d", len(out))
		}
		out = append(out, ins)
	}
	if err := tok.Err(); err != nil {
		return nil, errors.Wrap(err, "reading network")
	}
	return out, nil
}

func readNetworkInstance(tok *utils.Tokens, first string) (*Instance, error) {
	T, err := strconv.Atoi(first)
	if err != nil || T < 0 {
		return nil, tok.Errorf("bad node count %q", first)
	}
	s, ok := tok.Next()
	if !ok {
		return nil, tok.Errorf("unexpected EOF, expected domain size")
	}
	K, err := strconv.Atoi(s)
	if err != nil || K < 1 {
		return nil, tok.Errorf("bad domain size %q", s)
	}

	nextFloat := func() (float64, error) {
		s, ok := tok.Next()
		if !ok {
			return 0, tok.Errorf("unexpected EOF, expected score")
		}
		v, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return 0, tok.Errorf("bad score %q", s)
		}
		return v, nil
	}

	domains := make([]int, T)
	for i := range domains {
		domains[i] = K
	}
	b := NewBuilder(domains)

	pending := ""
	if T > 0 {
		s, ok := tok.Next()
		if !ok {
			return nil, tok.Errorf("unexpected EOF")
		}
		if s == "labels" {
			labels := make([]int, T)
			for i := range labels {
				ls, ok := tok.Next()
				if !ok {
					return nil, tok.Errorf("unexpected EOF in labels")
				}
				if labels[i], err = strconv.Atoi(ls); err != nil {
					return nil, tok.Errorf("bad label %q", ls)
				}
			}
			if err := b.SetLabels(labels); err != nil {
				return nil, err
			}
		} else {
			pending = s
		}
	}

	costs := make([]float64, K)
	for i := 0; i < T; i++ {
		for k := range costs {
			var v float64
			if pending != "" {
				if v, err = strconv.ParseFloat(pending, 64); err != nil {
					return nil, tok.Errorf("bad score %q", pending)
				}
				pending = ""
			} else if v, err = nextFloat(); err != nil {
				return nil, err
			}
			costs[k] = -v
		}
		if err := b.AddUnary(i, costs); err != nil {
			return nil, err
		}
	}
	pair := make([]float64, K*K)
	for i := 0; i < T; i++ {
		for j := i + 1; j < T; j++ {
			for k := range pair {
				v, err := nextFloat()
				if err != nil {
					return nil, err
				}
				pair[k] = -v
			}
			if err := b.AddPair(i, j, pair); err != nil {
				return nil, err
			}
		}
	}
	return b.Build()
}
