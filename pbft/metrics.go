package pbft

import (
	"github.com/prometheus/client_golang/prometheus"
)

const metricNamespace = "pbft"

// Metrics counts what a node logged, decided and appended.
type Metrics struct {
	votes     *prometheus.CounterVec
	rejected  *prometheus.CounterVec
	decisions prometheus.Counter
	blocks    *prometheus.CounterVec
}

// NewMetrics creates the node's collectors and registers them with reg, if any.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		votes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricNamespace,
			Name:      "votes_logged_total",
			Help:      "Phase messages newly written to the message log",
		}, []string{"phase"}),
		rejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricNamespace,
			Name:      "rejected_total",
			Help:      "Inbound messages rejected",
		}, []string{"kind", "reason"}),
		decisions: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricNamespace,
			Name:      "decisions_total",
			Help:      "Values decided by this node",
		}),
		blocks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricNamespace,
			Name:      "blocks_total",
			Help:      "Blocks handled by outcome",
		}, []string{"outcome"}),
	}
	if reg != nil {
		reg.MustRegister(m.votes, m.rejected, m.decisions, m.blocks)
	}
	return m
}
