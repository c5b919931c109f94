// Package metrics exposes prometheus instrumentation for the lifecycle
// engines. A nil *Collector is safe to call everywhere so tests can skip
// registration.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Collector holds the backend's prometheus collectors.
type Collector struct {
	StageTransitions   *prometheus.CounterVec
	OutcomesRecorded   *prometheus.CounterVec
	ExperimentsStarted prometheus.Counter
	ExperimentsStopped *prometheus.CounterVec
	Promotions         *prometheus.CounterVec
	PromotionsBlocked  prometheus.Counter
	ActiveExperiments  prometheus.Gauge
	ActiveWorkflows    prometheus.Gauge
}

// NewCollector creates and registers the collectors against reg.
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		StageTransitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "betting",
			Name:      "workflow_stage_transitions_total",
			Help:      "Workflow stage transitions by target stage and outcome.",
		}, []string{"stage", "outcome"}),
		OutcomesRecorded: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "betting",
			Name:      "experiment_outcomes_total",
			Help:      "Outcomes recorded per experiment arm result.",
		}, []string{"result"}),
		ExperimentsStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "betting",
			Name:      "experiments_started_total",
			Help:      "A/B experiments created.",
		}),
		ExperimentsStopped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "betting",
			Name:      "experiments_stopped_total",
			Help:      "A/B experiments stopped by reason.",
		}, []string{"reason"}),
		Promotions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "betting",
			Name:      "model_promotions_total",
			Help:      "Model promotions by target stage.",
		}, []string{"stage"}),
		PromotionsBlocked: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "betting",
			Name:      "model_promotions_blocked_total",
			Help:      "Model promotions blocked by criteria or validation.",
		}),
		ActiveExperiments: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "betting",
			Name:      "active_experiments",
			Help:      "Experiments currently in the active set.",
		}),
		ActiveWorkflows: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "betting",
			Name:      "active_workflows",
			Help:      "Workflows currently tracked by the orchestrator.",
		}),
	}
	reg.MustRegister(
		c.StageTransitions,
		c.OutcomesRecorded,
		c.ExperimentsStarted,
		c.ExperimentsStopped,
		c.Promotions,
		c.PromotionsBlocked,
		c.ActiveExperiments,
		c.ActiveWorkflows,
	)
	return c
}

// Nil-safe helpers. The engines call these unconditionally.

func (c *Collector) StageTransition(stage, outcome string) {
	if c == nil {
		return
	}
	c.StageTransitions.WithLabelValues(stage, outcome).Inc()
}

func (c *Collector) OutcomeRecorded(result string) {
	if c == nil {
		return
	}
	c.OutcomesRecorded.WithLabelValues(result).Inc()
}

func (c *Collector) ExperimentStarted() {
	if c == nil {
		return
	}
	c.ExperimentsStarted.Inc()
	c.ActiveExperiments.Inc()
}

func (c *Collector) ExperimentStopped(reason string) {
	if c == nil {
		return
	}
	c.ExperimentsStopped.WithLabelValues(reason).Inc()
	c.ActiveExperiments.Dec()
}

func (c *Collector) Promotion(stage string) {
	if c == nil {
		return
	}
	c.Promotions.WithLabelValues(stage).Inc()
}

func (c *Collector) PromotionBlocked() {
	if c == nil {
		return
	}
	c.PromotionsBlocked.Inc()
}

func (c *Collector) WorkflowTracked(delta int) {
	if c == nil {
		return
	}
	c.ActiveWorkflows.Add(float64(delta))
}
