package observability

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics collects runtime counters and latencies: action dispatch,
// event fan-out, automod matches, cron runs, and interaction handling.
type Metrics struct {
	// ActionCounter counts executed actions.
	// Labels: verb, status (success|error|skipped)
	ActionCounter *prometheus.CounterVec

	// EventCounter counts emitted events by canonical name.
	// Labels: event
	EventCounter *prometheus.CounterVec

	// AutomodMatchCounter counts automod trigger hits.
	// Labels: rule, trigger
	AutomodMatchCounter *prometheus.CounterVec

	// CronRunCounter counts scheduled job runs.
	// Labels: job, status (success|error|skipped)
	CronRunCounter *prometheus.CounterVec

	// InteractionDuration measures interaction dispatch latency.
	// Labels: kind (command|button|select|modal|user_menu|message_menu)
	// Buckets: 5ms to 10s
	InteractionDuration *prometheus.HistogramVec
}

// NewMetrics creates and registers all metrics on a dedicated registry
// and returns both. Call once at startup.
func NewMetrics() (*Metrics, *prometheus.Registry) {
	registry := prometheus.NewRegistry()
	factory := promauto.With(registry)

	m := &Metrics{
		ActionCounter: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "specbot_actions_total",
				Help: "Total number of executed actions by verb and status",
			},
			[]string{"verb", "status"},
		),
		EventCounter: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "specbot_events_total",
				Help: "Total number of emitted events by canonical name",
			},
			[]string{"event"},
		),
		AutomodMatchCounter: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "specbot_automod_matches_total",
				Help: "Total number of automod trigger hits by rule and trigger",
			},
			[]string{"rule", "trigger"},
		),
		CronRunCounter: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "specbot_cron_runs_total",
				Help: "Total number of scheduled job runs by job and status",
			},
			[]string{"job", "status"},
		),
		InteractionDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "specbot_interaction_duration_seconds",
				Help:    "Interaction dispatch latency in seconds",
				Buckets: []float64{0.005, 0.01, 0.05, 0.1, 0.5, 1, 5, 10},
			},
			[]string{"kind"},
		),
	}
	return m, registry
}

// RecordAction increments the action counter.
func (m *Metrics) RecordAction(verb, status string) {
	m.ActionCounter.WithLabelValues(verb, status).Inc()
}

// RecordEvent increments the event counter.
func (m *Metrics) RecordEvent(event string) {
	m.EventCounter.WithLabelValues(event).Inc()
}

// RecordAutomodMatch increments the automod match counter.
func (m *Metrics) RecordAutomodMatch(rule, trigger string) {
	m.AutomodMatchCounter.WithLabelValues(rule, trigger).Inc()
}

// RecordCronRun increments the cron run counter.
func (m *Metrics) RecordCronRun(job, status string) {
	m.CronRunCounter.WithLabelValues(job, status).Inc()
}

// RecordInteraction observes one interaction dispatch.
func (m *Metrics) RecordInteraction(kind string, seconds float64) {
	m.InteractionDuration.WithLabelValues(kind).Observe(seconds)
}

// Handler returns the HTTP handler serving the registry in Prometheus
// exposition format.
func Handler(registry *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
}
