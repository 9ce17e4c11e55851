package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	// LocksCreated tracks the number of resource locks created across all registries.
	LocksCreated = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "lockstep_locks_created_total",
		Help: "Total number of resource locks created",
	})
	// HeldLocks reports the number of resource locks currently held.
	HeldLocks = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "lockstep_held_locks",
		Help: "Current number of held resource locks",
	})
)

// NewRegistry creates a new Prometheus registry.
func NewRegistry() *prometheus.Registry {
	return prometheus.NewRegistry()
}

// RegisterCoreMetrics registers the lockstep core metrics on the provided registry.
func RegisterCoreMetrics(reg prometheus.Registerer) {
	reg.MustRegister(LocksCreated, HeldLocks)
}
