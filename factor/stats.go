package factor

import (
	"io"
	"strconv"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/olekukonko/tablewriter"
)

// Stats accumulates timings and sparsity counters. Each worker keeps its own and they are merged after a pass.
type Stats struct {
	Construct   time.Duration
	UniSearch   time.Duration
	UniSubsolve time.Duration
	BiSearch    time.Duration
	BiSubsolve  time.Duration
	Maintain    time.Duration // Multiplier updates and measurement.

	UniActSize     int64 // Summed over every measured factor and sweep.
	BiActSize      int64
	EverNnzMsgSize int64
	NumUni         int64
	NumBi          int64
	Admitted       int64 // Labels and label pairs admitted by search.
	Sweeps         int64

	DeltaYL1 float64 // Total L1 movement of the relaxed assignments.
}

func (s *Stats) Merge(o *Stats) {
	s.Construct += o.Construct
	s.UniSearch += o.UniSearch
	s.UniSubsolve += o.UniSubsolve
	s.BiSearch += o.BiSearch
	s.BiSubsolve += o.BiSubsolve
	s.Maintain += o.Maintain
	s.UniActSize += o.UniActSize
	s.BiActSize += o.BiActSize
	s.EverNnzMsgSize += o.EverNnzMsgSize
	s.NumUni += o.NumUni
	s.NumBi += o.NumBi
	s.Admitted += o.Admitted
	s.Sweeps += o.Sweeps
	s.DeltaYL1 += o.DeltaYL1
}

func avg(sum int64, n int64) float64 {
	if n == 0 {
		return 0
	}
	return float64(sum) / float64(n)
}

func (s *Stats) AvgUniAct() float64 { return avg(s.UniActSize, s.NumUni) }
func (s *Stats) AvgBiAct() float64  { return avg(s.BiActSize, s.NumBi) }

func (s *Stats) Total() time.Duration {
	return s.Construct + s.UniSearch + s.UniSubsolve + s.BiSearch + s.BiSubsolve + s.Maintain
}

// Render writes the timing and sparsity tables.
func (s *Stats) Render(w io.Writer) error {
	total := s.Total()
	share := func(d time.Duration) string {
		if total == 0 {
			return "0%"
		}
		return strconv.FormatFloat(100*float64(d)/float64(total), 'f', 1, 64) + "%"
	}

	timing := tablewriter.NewWriter(w)
	timing.Header("Phase", "Time", "Share")
	for _, row := range []struct {
		name string
		d    time.Duration
	}{
		{"construct", s.Construct},
		{"uni search", s.UniSearch},
		{"uni subsolve", s.UniSubsolve},
		{"bi search", s.BiSearch},
		{"bi subsolve", s.BiSubsolve},
		{"maintain", s.Maintain},
	} {
		if err := timing.Append([]string{row.name, row.d.Round(time.Microsecond).String(), share(row.d)}); err != nil {
			return err
		}
	}
	if err := timing.Render(); err != nil {
		return err
	}

	sizes := tablewriter.NewWriter(w)
	sizes.Header("Counter", "Value")
	for _, row := range [][]string{
		{"sweeps", humanize.Comma(s.Sweeps)},
		{"admitted", humanize.Comma(s.Admitted)},
		{"avg uni act size", humanize.FormatFloat("#,###.##", s.AvgUniAct())},
		{"avg bi act size", humanize.FormatFloat("#,###.##", s.AvgBiAct())},
		{"avg ever nnz msg", humanize.FormatFloat("#,###.##", avg(s.EverNnzMsgSize, s.NumBi))},
		{"delta y (l1)", humanize.FormatFloat("#,###.####", s.DeltaYL1)},
	} {
		if err := sizes.Append(row); err != nil {
			return err
		}
	}
	return sizes.Render()
}
