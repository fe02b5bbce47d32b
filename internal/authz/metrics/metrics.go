package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides observability for the authorization gate.
type Metrics struct {
	Decisions   *prometheus.CounterVec
	CacheHits   prometheus.Counter
	CacheMisses prometheus.Counter
}

// New creates authorization metrics registered on reg.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		Decisions: f.NewCounterVec(prometheus.CounterOpts{
			Name: "ticket_routing_authz_decisions_total",
			Help: "Freshly computed authorization decisions by effect",
		}, []string{"effect"}),
		CacheHits: f.NewCounter(prometheus.CounterOpts{
			Name: "ticket_routing_authz_cache_hits_total",
			Help: "Authorization decisions served from cache",
		}),
		CacheMisses: f.NewCounter(prometheus.CounterOpts{
			Name: "ticket_routing_authz_cache_misses_total",
			Help: "Authorization requests that required identity resolution",
		}),
	}
}

func (m *Metrics) IncDecision(effect string) {
	if m != nil {
		m.Decisions.WithLabelValues(effect).Inc()
	}
}

func (m *Metrics) IncCacheHit() {
	if m != nil {
		m.CacheHits.Inc()
	}
}

func (m *Metrics) IncCacheMiss() {
	if m != nil {
		m.CacheMisses.Inc()
	}
}
