package session

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics tracks session store behaviour.
type Metrics struct {
	cacheHits     prometheus.Counter
	cacheMisses   prometheus.Counter
	sessionsSwept prometheus.Counter
	activeCached  prometheus.Gauge
}

// NewMetrics creates session metrics registered against the given registerer.
func NewMetrics(namespace string, reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		cacheHits: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "session",
			Name:      "cache_hits_total",
			Help:      "Session lookups served from the in-process cache.",
		}),
		cacheMisses: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "session",
			Name:      "cache_misses_total",
			Help:      "Session lookups that fell through to the durable backend.",
		}),
		sessionsSwept: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "session",
			Name:      "swept_total",
			Help:      "Expired sessions removed by the sweeper.",
		}),
		activeCached: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "session",
			Name:      "cached",
			Help:      "Sessions currently held in the in-process cache.",
		}),
	}

	if reg != nil {
		reg.MustRegister(m.cacheHits, m.cacheMisses, m.sessionsSwept, m.activeCached)
	}
	return m
}

// CacheHit records a lookup served from the cache.
func (m *Metrics) CacheHit() {
	if m != nil {
		m.cacheHits.Inc()
	}
}

// CacheMiss records a lookup that went to the backend.
func (m *Metrics) CacheMiss() {
	if m != nil {
		m.cacheMisses.Inc()
	}
}

// Swept records expired sessions removed by a sweep.
func (m *Metrics) Swept(n int) {
	if m != nil && n > 0 {
		m.sessionsSwept.Add(float64(n))
	}
}

// SetCached records the current cache size.
func (m *Metrics) SetCached(n int) {
	if m != nil {
		m.activeCached.Set(float64(n))
	}
}
