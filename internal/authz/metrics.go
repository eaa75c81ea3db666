package authz

import (
	"errors"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Decision outcomes used as metric labels.
const (
	outcomeAllow   = "allow"
	outcomeDeny    = "deny"
	outcomeTimeout = "timeout"
	outcomeError   = "error"
)

// Metrics groups the gateway's Prometheus collectors. A nil *Metrics records nothing.
type Metrics struct {
	decisions   *prometheus.CounterVec
	cacheHits   prometheus.Counter
	cacheMisses prometheus.Counter
	lookup      prometheus.Histogram
}

// NewMetrics registers the gateway collectors. Collectors that are already
// registered are reused, so constructing twice against one registry is safe.
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	m := &Metrics{
		decisions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "odyssey_authz_decisions_total",
			Help: "Authorization decisions by entity, action and outcome.",
		}, []string{"entity", "action", "outcome"}),
		cacheHits: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "odyssey_authz_cache_hits_total",
			Help: "Permission set lookups served from cache.",
		}),
		cacheMisses: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "odyssey_authz_cache_miss_total",
			Help: "Permission set lookups that reached the store.",
		}),
		lookup: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "odyssey_authz_lookup_duration_seconds",
			Help:    "Duration of principal permission lookups against the store.",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
		}),
	}

	if err := register(reg, m.decisions, func(c prometheus.Collector) bool {
		v, ok := c.(*prometheus.CounterVec)
		if ok {
			m.decisions = v
		}
		return ok
	}); err != nil {
		return nil, err
	}
	if err := register(reg, m.cacheHits, func(c prometheus.Collector) bool {
		v, ok := c.(prometheus.Counter)
		if ok {
			m.cacheHits = v
		}
		return ok
	}); err != nil {
		return nil, err
	}
	if err := register(reg, m.cacheMisses, func(c prometheus.Collector) bool {
		v, ok := c.(prometheus.Counter)
		if ok {
			m.cacheMisses = v
		}
		return ok
	}); err != nil {
		return nil, err
	}
	if err := register(reg, m.lookup, func(c prometheus.Collector) bool {
		v, ok := c.(prometheus.Histogram)
		if ok {
			m.lookup = v
		}
		return ok
	}); err != nil {
		return nil, err
	}
	return m, nil
}

func register(reg prometheus.Registerer, c prometheus.Collector, reuse func(prometheus.Collector) bool) error {
	err := reg.Register(c)
	if err == nil {
		return nil
	}
	var already prometheus.AlreadyRegisteredError
	if errors.As(err, &already) {
		if reuse(already.ExistingCollector) {
			return nil
		}
		return fmt.Errorf("authz metrics: unexpected collector type %T", already.ExistingCollector)
	}
	return err
}

func (m *Metrics) recordDecision(entity, action, outcome string) {
	if m == nil {
		return
	}
	m.decisions.WithLabelValues(entity, action, outcome).Inc()
}

func (m *Metrics) recordCache(hit bool) {
	if m == nil {
		return
	}
	if hit {
		m.cacheHits.Inc()
		return
	}
	m.cacheMisses.Inc()
}

func (m *Metrics) observeLookup(d time.Duration) {
	if m == nil {
		return
	}
	m.lookup.Observe(d.Seconds())
}
