// Metrics collectors for the monitoring tick, orchestration runs, gate
// outcomes, and promotions. Grounded on the teacher's singleton-via-
// sync.Once pattern in internal/classification/repository/classification_metrics.go,
// adapted to promauto constructors instead of bare prometheus.NewCounterVec
// plus manual MustRegister.
package observability

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics bundles the Prometheus collectors exercised by the core. A nil
// *Metrics is safe to call methods on (each RecordX method guards against a
// nil receiver), matching the teacher's nil-receiver-safe metrics idiom so
// callers never need a feature flag to disable metrics in tests.
type Metrics struct {
	TicksTotal        *prometheus.CounterVec
	TickDuration      *prometheus.HistogramVec
	DriftRatio        *prometheus.GaugeVec
	DriftAlertsTotal  *prometheus.CounterVec
	GateOutcomeTotal  *prometheus.CounterVec
	OrchestrationRuns *prometheus.CounterVec
	PromotionsTotal   *prometheus.CounterVec
}

var (
	once       sync.Once
	singleton  *Metrics
)

// GetMetrics returns the process-wide Metrics singleton, registering its
// collectors with reg on first call. Subsequent calls (even with a
// different registry) return the same instance, matching the teacher's
// GetClassificationMetrics() contract.
func GetMetrics(reg prometheus.Registerer) *Metrics {
	once.Do(func() {
		factory := promauto.With(reg)
		singleton = &Metrics{
			TicksTotal: factory.NewCounterVec(prometheus.CounterOpts{
				Name: "sentryml_monitor_ticks_total",
				Help: "Monitoring ticks attempted, by outcome.",
			}, []string{"model_name", "outcome"}),
			TickDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
				Name: "sentryml_monitor_tick_duration_seconds",
				Help: "Wall time of a monitoring tick.",
			}, []string{"model_name"}),
			DriftRatio: factory.NewGaugeVec(prometheus.GaugeOpts{
				Name: "sentryml_monitor_feature_drift_ratio",
				Help: "Most recent feature_drift_ratio per model.",
			}, []string{"model_name"}),
			DriftAlertsTotal: factory.NewCounterVec(prometheus.CounterOpts{
				Name: "sentryml_monitor_drift_alerts_total",
				Help: "Drift alerts published.",
			}, []string{"model_name"}),
			GateOutcomeTotal: factory.NewCounterVec(prometheus.CounterOpts{
				Name: "sentryml_gate_outcome_total",
				Help: "Gate verdicts, by failed gate label (empty for promote).",
			}, []string{"model_name", "failed_gate"}),
			OrchestrationRuns: factory.NewCounterVec(prometheus.CounterOpts{
				Name: "sentryml_orchestrator_runs_total",
				Help: "Orchestration runs, by action.",
			}, []string{"model_name", "action"}),
			PromotionsTotal: factory.NewCounterVec(prometheus.CounterOpts{
				Name: "sentryml_registry_promotions_total",
				Help: "Successful atomic promotions.",
			}, []string{"model_name"}),
		}
	})
	return singleton
}

func (m *Metrics) RecordTick(modelName, outcome string, seconds float64) {
	if m == nil {
		return
	}
	m.TicksTotal.WithLabelValues(modelName, outcome).Inc()
	m.TickDuration.WithLabelValues(modelName).Observe(seconds)
}

func (m *Metrics) RecordDriftRatio(modelName string, ratio float64, alerted bool) {
	if m == nil {
		return
	}
	m.DriftRatio.WithLabelValues(modelName).Set(ratio)
	if alerted {
		m.DriftAlertsTotal.WithLabelValues(modelName).Inc()
	}
}

func (m *Metrics) RecordGateOutcome(modelName, failedGate string) {
	if m == nil {
		return
	}
	m.GateOutcomeTotal.WithLabelValues(modelName, failedGate).Inc()
}

func (m *Metrics) RecordOrchestrationRun(modelName, action string) {
	if m == nil {
		return
	}
	m.OrchestrationRuns.WithLabelValues(modelName, action).Inc()
}

func (m *Metrics) RecordPromotion(modelName string) {
	if m == nil {
		return
	}
	m.PromotionsTotal.WithLabelValues(modelName).Inc()
}
