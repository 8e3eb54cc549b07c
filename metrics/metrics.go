package metrics

import "github.com/prometheus/client_golang/prometheus"

// Outcome keys for per instance metrics.
const (
	Converged = "converged"
	Capped    = "capped"
	Exact     = "exact"
	Fail      = "fail"
)

// Active set kinds.
const (
	Unary = "unary"
	Pair  = "pair"
)

// Collectors for solver progress.
var (
	SweepsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "gdmm_sweeps_total",
		Help: "Cumulative number of GDMM sweeps over all instances.",
	})
	InstancesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "gdmm_instances_total",
		Help: "Cumulative number of instances solved, by solver and outcome.",
	}, []string{"solver", "outcome"})
	InstanceSweeps = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "gdmm_instance_sweeps",
		Help:    "Number of sweeps taken by each GDMM instance.",
		Buckets: prometheus.ExponentialBuckets(1, 2, 14),
	})
	ActiveSetSize = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "gdmm_active_set_size",
		Help: "Mean active set size per factor at the end of the last measured sweep, by factor kind.",
	}, []string{"kind"})
)

// SolverCollectors returns the solver collectors for registration.
func SolverCollectors() []prometheus.Collector {
	return []prometheus.Collector{
		SweepsTotal,
		InstancesTotal,
		InstanceSweeps,
		ActiveSetSize,
	}
}
