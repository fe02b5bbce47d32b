package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	OutcomeSucceeded = "succeeded"
	OutcomeFailed    = "failed"
	OutcomeTimeout   = "timeout"
	OutcomeSkipped   = "skipped"
)

// Metrics tracks batch consumption per channel.
type Metrics struct {
	Items         *prometheus.CounterVec
	Redeliveries  *prometheus.CounterVec
	BatchDuration *prometheus.HistogramVec
	BatchSize     *prometheus.HistogramVec
	QueueDepth    *prometheus.GaugeVec
}

func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		Items: f.NewCounterVec(prometheus.CounterOpts{
			Name: "ticket_routing_consumer_items_total",
			Help: "Items handled by batch consumers by outcome",
		}, []string{"channel", "outcome"}),
		Redeliveries: f.NewCounterVec(prometheus.CounterOpts{
			Name: "ticket_routing_consumer_redeliveries_total",
			Help: "Items received more than once",
		}, []string{"channel"}),
		BatchDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "ticket_routing_consumer_batch_duration_seconds",
			Help:    "Time to process one batch",
			Buckets: prometheus.DefBuckets,
		}, []string{"channel"}),
		BatchSize: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "ticket_routing_consumer_batch_size",
			Help:    "Items per processed batch",
			Buckets: []float64{1, 2, 3, 5, 8, 10},
		}, []string{"channel"}),
		QueueDepth: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "ticket_routing_consumer_queue_depth",
			Help: "Items ready for delivery, sampled after each poll",
		}, []string{"queue"}),
	}
}

func (m *Metrics) IncItem(channel, outcome string) {
	if m != nil {
		m.Items.WithLabelValues(channel, outcome).Inc()
	}
}

func (m *Metrics) IncRedelivery(channel string) {
	if m != nil {
		m.Redeliveries.WithLabelValues(channel).Inc()
	}
}

func (m *Metrics) SetQueueDepth(queue string, n int) {
	if m != nil {
		m.QueueDepth.WithLabelValues(queue).Set(float64(n))
	}
}

func (m *Metrics) ObserveBatch(channel string, size int, d time.Duration) {
	if m != nil {
		m.BatchDuration.WithLabelValues(channel).Observe(d.Seconds())
		m.BatchSize.WithLabelValues(channel).Observe(float64(size))
	}
}
