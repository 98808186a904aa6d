package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides observability for the proposal lifecycle module.
type Metrics struct {
	// Proposals created by policy
	Created *prometheus.CounterVec

	// Decisions recorded by verdict
	Decisions *prometheus.CounterVec

	// State transitions by target state and reason
	Transitions *prometheus.CounterVec

	// Time from creation to terminal state
	ReviewLatency prometheus.Histogram
}

// New creates a new Metrics instance with all proposal module metrics registered.
func New() *Metrics {
	return &Metrics{
		Created: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "assent_proposals_created_total",
			Help: "Total proposals created by policy",
		}, []string{"policy"}),

		Decisions: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "assent_decisions_recorded_total",
			Help: "Total reviewer decisions recorded by verdict",
		}, []string{"verdict"}),

		Transitions: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "assent_proposal_transitions_total",
			Help: "Total proposal state transitions by target state and reason",
		}, []string{"state", "reason"}),

		ReviewLatency: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "assent_proposal_review_duration_seconds",
			Help:    "Time from proposal creation to reaching a terminal state",
			Buckets: []float64{1, 10, 60, 600, 3600, 21600, 86400, 259200},
		}),
	}
}

// IncrementCreated records a proposal creation.
func (m *Metrics) IncrementCreated(policy string) {
	if m != nil {
		m.Created.WithLabelValues(policy).Inc()
	}
}

// IncrementDecision records a reviewer decision.
func (m *Metrics) IncrementDecision(verdict string) {
	if m != nil {
		m.Decisions.WithLabelValues(verdict).Inc()
	}
}

// IncrementTransition records a state transition.
func (m *Metrics) IncrementTransition(state, reason string) {
	if m != nil {
		m.Transitions.WithLabelValues(state, reason).Inc()
	}
}

// ObserveReviewLatency records how long a proposal took to settle.
func (m *Metrics) ObserveReviewLatency(d time.Duration) {
	if m != nil {
		m.ReviewLatency.Observe(d.Seconds())
	}
}
