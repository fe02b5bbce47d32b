package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Outcomes recorded per channel delivery.
const (
	OutcomeDelivered = "delivered"
	OutcomeRejected  = "rejected"
	OutcomeFailed    = "failed"
	OutcomeTimeout   = "timeout"
)

// Metrics tracks fan-out results.
type Metrics struct {
	Published  prometheus.Counter
	Deliveries *prometheus.CounterVec
}

func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		Published: f.NewCounter(prometheus.CounterOpts{
			Name: "ticket_routing_events_published_total",
			Help: "Ticket events accepted for fan-out",
		}),
		Deliveries: f.NewCounterVec(prometheus.CounterOpts{
			Name: "ticket_routing_channel_deliveries_total",
			Help: "Per-channel delivery attempts by outcome",
		}, []string{"channel", "outcome"}),
	}
}

func (m *Metrics) IncPublished() {
	if m != nil {
		m.Published.Inc()
	}
}

func (m *Metrics) IncDelivery(channel, outcome string) {
	if m != nil {
		m.Deliveries.WithLabelValues(channel, outcome).Inc()
	}
}
