// Package metrics holds the Prometheus collectors of the booking service.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics groups the service collectors. A nil *Metrics is a no-op.
type Metrics struct {
	Transitions       *prometheus.CounterVec
	TransitionErrors  *prometheus.CounterVec
	GatewayCalls      *prometheus.CounterVec
	GatewayDuration   *prometheus.HistogramVec
	NotifyFailures    prometheus.Counter
	SchedulerRuns     *prometheus.CounterVec
	SchedulerDuration *prometheus.HistogramVec
	FlaggedForReview  prometheus.Counter
}

// New registers the collectors on reg.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		Transitions: f.NewCounterVec(prometheus.CounterOpts{
			Name: "sitter_booking_transitions_total",
			Help: "Committed booking transitions by operation",
		}, []string{"operation"}),

		TransitionErrors: f.NewCounterVec(prometheus.CounterOpts{
			Name: "sitter_booking_transition_errors_total",
			Help: "Rejected or failed booking operations by operation and error code",
		}, []string{"operation", "code"}),

		GatewayCalls: f.NewCounterVec(prometheus.CounterOpts{
			Name: "sitter_booking_gateway_calls_total",
			Help: "Payment gateway calls by operation and outcome",
		}, []string{"operation", "outcome"}),

		GatewayDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "sitter_booking_gateway_call_duration_seconds",
			Help:    "Duration of payment gateway calls",
			Buckets: prometheus.DefBuckets,
		}, []string{"operation"}),

		NotifyFailures: f.NewCounter(prometheus.CounterOpts{
			Name: "sitter_booking_notification_failures_total",
			Help: "Transition notifications that could not be published",
		}),

		SchedulerRuns: f.NewCounterVec(prometheus.CounterOpts{
			Name: "sitter_booking_scheduler_items_total",
			Help: "Bookings processed by scheduler sweeps by sweep and result",
		}, []string{"sweep", "result"}),

		SchedulerDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "sitter_booking_scheduler_sweep_duration_seconds",
			Help:    "Duration of scheduler sweeps",
			Buckets: prometheus.DefBuckets,
		}, []string{"sweep"}),

		FlaggedForReview: f.NewCounter(prometheus.CounterOpts{
			Name: "sitter_booking_flagged_for_review_total",
			Help: "Bookings flagged for operator review",
		}),
	}
}

// ObserveTransition counts a committed operation.
func (m *Metrics) ObserveTransition(op string) {
	if m == nil {
		return
	}
	m.Transitions.WithLabelValues(op).Inc()
}

// ObserveError counts a rejected operation.
func (m *Metrics) ObserveError(op, code string) {
	if m == nil {
		return
	}
	m.TransitionErrors.WithLabelValues(op, code).Inc()
}

// ObserveGateway records one gateway call.
func (m *Metrics) ObserveGateway(op, outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.GatewayCalls.WithLabelValues(op, outcome).Inc()
	m.GatewayDuration.WithLabelValues(op).Observe(d.Seconds())
}

// ObserveNotifyFailure counts a lost notification.
func (m *Metrics) ObserveNotifyFailure() {
	if m == nil {
		return
	}
	m.NotifyFailures.Inc()
}

// ObserveSchedulerItem counts one booking handled by a sweep.
func (m *Metrics) ObserveSchedulerItem(sweep, result string) {
	if m == nil {
		return
	}
	m.SchedulerRuns.WithLabelValues(sweep, result).Inc()
}

// ObserveSweep records a sweep's duration.
func (m *Metrics) ObserveSweep(sweep string, d time.Duration) {
	if m == nil {
		return
	}
	m.SchedulerDuration.WithLabelValues(sweep).Observe(d.Seconds())
}

// ObserveFlagged counts a booking flagged for review.
func (m *Metrics) ObserveFlagged() {
	if m == nil {
		return
	}
	m.FlaggedForReview.Inc()
}
