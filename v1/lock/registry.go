package lock

import (
	"sort"
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/mirkobrombin/go-lockstep/v1/metrics"
)

// Registry maps resource identifiers to their Mutex. Locks are created on
// first reference and live as long as the registry; there is no eviction, so
// the set of identifiers is expected to be bounded.
type Registry struct {
	mu    sync.RWMutex
	locks map[string]*Mutex

	createdCounter prometheus.Counter
}

// RegistryOption configures a Registry.
type RegistryOption func(*Registry)

// WithRegistryMetrics counts lock creations on a registry-local collector
// registered with reg.
func WithRegistryMetrics(reg prometheus.Registerer) RegistryOption {
	return func(r *Registry) {
		r.createdCounter = prometheus.NewCounter(prometheus.CounterOpts{
			Name: "lockstep_registry_locks_created_total",
			Help: "Total number of resource locks created by this registry",
		})
		reg.MustRegister(r.createdCounter)
	}
}

// NewRegistry returns an empty Registry.
func NewRegistry(opts ...RegistryOption) *Registry {
	r := &Registry{locks: make(map[string]*Mutex)}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Get returns the lock for key, creating it if absent. Concurrent callers
// asking for the same key always receive the same *Mutex.
func (r *Registry) Get(key string) *Mutex {
	r.mu.RLock()
	m, ok := r.locks[key]
	r.mu.RUnlock()
	if ok {
		return m
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if m, ok := r.locks[key]; ok {
		return m
	}
	m = NewMutex(key)
	r.locks[key] = m
	metrics.LocksCreated.Inc()
	if r.createdCounter != nil {
		r.createdCounter.Inc()
	}
	return m
}

// Len returns the number of locks created so far.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.locks)
}

// Keys returns the known resource identifiers in ascending order.
func (r *Registry) Keys() []string {
	r.mu.RLock()
	keys := make([]string, 0, len(r.locks))
	for k := range r.locks {
		keys = append(keys, k)
	}
	r.mu.RUnlock()
	sort.Strings(keys)
	return keys
}
