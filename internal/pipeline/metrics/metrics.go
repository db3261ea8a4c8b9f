package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides observability for assessment sessions.
type Metrics struct {
	// Stage latency by stage name
	StageLatency *prometheus.HistogramVec

	// Stage failures by stage name and reason (error, timeout)
	StageFailures *prometheus.CounterVec

	// Session outcomes by status
	Outcomes *prometheus.CounterVec

	// Verdicts whose stop request was lifted by the conflict threshold
	Overrides prometheus.Counter

	// Verdicts replaced by the safe default
	VerdictFallbacks prometheus.Counter

	// Whole-session latency
	SessionLatency prometheus.Histogram
}

// New registers the pipeline metrics with reg. A nil reg uses the default registerer.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	f := promauto.With(reg)
	return &Metrics{
		StageLatency: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "cna_stage_duration_seconds",
			Help:    "Duration of pipeline stages including the collaborator call",
			Buckets: []float64{0.5, 1, 2.5, 5, 10, 20, 40, 80, 160},
		}, []string{"stage"}),

		StageFailures: f.NewCounterVec(prometheus.CounterOpts{
			Name: "cna_stage_failures_total",
			Help: "Stage failures by stage and reason",
		}, []string{"stage", "reason"}),

		Outcomes: f.NewCounterVec(prometheus.CounterOpts{
			Name: "cna_session_outcomes_total",
			Help: "Assessment sessions by final status",
		}, []string{"status"}),

		Overrides: f.NewCounter(prometheus.CounterOpts{
			Name: "cna_conflict_overrides_total",
			Help: "Conflict verdicts whose stop request was overridden",
		}),

		VerdictFallbacks: f.NewCounter(prometheus.CounterOpts{
			Name: "cna_conflict_verdict_fallbacks_total",
			Help: "Conflict verdicts replaced by the safe default",
		}),

		SessionLatency: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "cna_session_duration_seconds",
			Help:    "Duration of a full assessment session",
			Buckets: []float64{1, 5, 10, 30, 60, 120, 240, 480},
		}),
	}
}

func (m *Metrics) ObserveStageLatency(stage string, d time.Duration) {
	if m != nil {
		m.StageLatency.WithLabelValues(stage).Observe(d.Seconds())
	}
}

func (m *Metrics) IncStageFailure(stage, reason string) {
	if m != nil {
		m.StageFailures.WithLabelValues(stage, reason).Inc()
	}
}

func (m *Metrics) IncOutcome(status string) {
	if m != nil {
		m.Outcomes.WithLabelValues(status).Inc()
	}
}

func (m *Metrics) IncOverride() {
	if m != nil {
		m.Overrides.Inc()
	}
}

func (m *Metrics) IncVerdictFallback() {
	if m != nil {
		m.VerdictFallbacks.Inc()
	}
}

func (m *Metrics) ObserveSessionLatency(d time.Duration) {
	if m != nil {
		m.SessionLatency.Observe(d.Seconds())
	}
}
