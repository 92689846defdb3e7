package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the scheduler collectors. A nil *Metrics is valid and
// records nothing.
type Metrics struct {
	reg prometheus.Gatherer

	OptimizerRuns     *prometheus.CounterVec
	OptimizerDuration prometheus.Histogram
	ScheduleCost      prometheus.Gauge
	SchedulePeriods   prometheus.Gauge
	ScheduleDegraded  *prometheus.CounterVec
	TriggerRequests   *prometheus.CounterVec
	HistoricFailures  prometheus.Counter
}

// New registers the collectors on reg.
func New(reg *prometheus.Registry) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		reg: reg,
		OptimizerRuns: f.NewCounterVec(prometheus.CounterOpts{
			Name: "scheduler_optimizer_runs_total",
			Help: "Optimizer runs by outcome (published, stale, failed).",
		}, []string{"outcome"}),
		OptimizerDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "scheduler_optimizer_duration_seconds",
			Help:    "Wall time of one optimizer run including input collection.",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 12),
		}),
		ScheduleCost: f.NewGauge(prometheus.GaugeOpts{
			Name: "scheduler_schedule_cost",
			Help: "Total cost of the published schedule.",
		}),
		SchedulePeriods: f.NewGauge(prometheus.GaugeOpts{
			Name: "scheduler_schedule_periods",
			Help: "Number of periods in the published schedule.",
		}),
		ScheduleDegraded: f.NewCounterVec(prometheus.CounterOpts{
			Name: "scheduler_schedule_degraded_total",
			Help: "Degradation causes recorded on published schedules.",
		}, []string{"reason"}),
		TriggerRequests: f.NewCounterVec(prometheus.CounterOpts{
			Name: "scheduler_trigger_requests_total",
			Help: "Recompute requests by source and whether they were queued or coalesced.",
		}, []string{"source", "result"}),
		HistoricFailures: f.NewCounter(prometheus.CounterOpts{
			Name: "scheduler_historic_query_failures_total",
			Help: "Failed or timed out historic telemetry queries.",
		}),
	}
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{})
}

func (m *Metrics) ObserveRun(outcome string, seconds float64) {
	if m == nil {
		return
	}
	m.OptimizerRuns.WithLabelValues(outcome).Inc()
	m.OptimizerDuration.Observe(seconds)
}

func (m *Metrics) ObserveSchedule(cost float64, periods int, degraded []string) {
	if m == nil {
		return
	}
	m.ScheduleCost.Set(cost)
	m.SchedulePeriods.Set(float64(periods))
	for _, reason := range degraded {
		m.ScheduleDegraded.WithLabelValues(reason).Inc()
	}
}

func (m *Metrics) ObserveRequest(source string, queued bool) {
	if m == nil {
		return
	}
	result := "queued"
	if !queued {
		result = "coalesced"
	}
	m.TriggerRequests.WithLabelValues(source, result).Inc()
}

func (m *Metrics) ObserveHistoricFailure() {
	if m == nil {
		return
	}
	m.HistoricFailures.Inc()
}
