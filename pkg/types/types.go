// Package types provides the shared domain model for the betting backend:
// strategy configurations, workflow aggregates, performance metrics and
// alerts. Everything here is plain data; behavior lives in the internal
// packages.
package types

import (
	"time"

	"github.com/shopspring/decimal"
)

// StrategyType identifies how a strategy generates recommendations.
type StrategyType string

const (
	StrategyRuleBased    StrategyType = "rule_based"
	StrategyMLPredictive StrategyType = "ml_predictive"
	StrategyHybrid       StrategyType = "hybrid"
	StrategyEnsemble     StrategyType = "ensemble"
)

// Valid reports whether t is one of the known strategy types.
func (t StrategyType) Valid() bool {
	switch t {
	case StrategyRuleBased, StrategyMLPredictive, StrategyHybrid, StrategyEnsemble:
		return true
	}
	return false
}

// OrchestrationMode controls how aggressively the orchestrator advances a
// workflow on its own.
type OrchestrationMode string

const (
	ModeManual         OrchestrationMode = "manual"
	ModeSemiAutomated  OrchestrationMode = "semi_automated"
	ModeFullyAutomated OrchestrationMode = "fully_automated"
)

// RiskLimits caps the exposure a strategy may take in live or simulated play.
type RiskLimits struct {
	MaxBetSize       decimal.Decimal `json:"max_bet_size"`
	MaxDailyExposure decimal.Decimal `json:"max_daily_exposure"`
	StopLossPct      float64         `json:"stop_loss_pct"`
}

// ValidationRequirements are the minimum evidence a strategy must produce
// before its validation results are considered meaningful.
type ValidationRequirements struct {
	MinSampleSize     int     `json:"min_sample_size"`
	MinValidationDays int     `json:"min_validation_days"`
	ConfidenceLevel   float64 `json:"confidence_level"`
}

// StrategyConfiguration describes one betting strategy. It is immutable once
// a workflow owns it, except for the StrategyID back-link set at creation.
type StrategyConfiguration struct {
	StrategyID       string                 `json:"strategy_id"`
	Name             string                 `json:"name"`
	StrategyType     StrategyType           `json:"strategy_type"`
	ValidationMethod string                 `json:"validation_method"`
	ProcessorType    string                 `json:"processor_type"`
	RuleParameters   map[string]any         `json:"rule_parameters,omitempty"`
	MLModelName      string                 `json:"ml_model_name,omitempty"`
	PredictionTargets []string              `json:"prediction_targets,omitempty"`
	ConfidenceThreshold float64             `json:"confidence_threshold"`
	RiskLimits       RiskLimits             `json:"risk_limits"`
	MinValidation    ValidationRequirements `json:"min_validation"`
}

// MLMetrics are optional classification metrics attached to a validation run.
type MLMetrics struct {
	Accuracy  float64 `json:"accuracy"`
	Precision float64 `json:"precision"`
	Recall    float64 `json:"recall"`
	F1        float64 `json:"f1"`
	ROCAUC    float64 `json:"roc_auc"`
}

// RiskMetrics are optional risk-adjusted metrics attached to a validation run.
type RiskMetrics struct {
	SharpeRatio       float64 `json:"sharpe_ratio"`
	SortinoRatio      float64 `json:"sortino_ratio"`
	CalmarRatio       float64 `json:"calmar_ratio"`
	VaR95             float64 `json:"var_95"`
	VaR99             float64 `json:"var_99"`
	ExpectedShortfall float64 `json:"expected_shortfall"`
	KellyFraction     float64 `json:"kelly_fraction"`
	DrawdownDurationDays int  `json:"drawdown_duration_days"`
}

// Interval is a two-sided confidence interval.
type Interval struct {
	Lower float64 `json:"lower"`
	Upper float64 `json:"upper"`
}

// PerformanceMetrics summarizes one validation run. It is a value object:
// produced once, never mutated, appended to workflow result buckets or a
// model's performance history.
type PerformanceMetrics struct {
	WinRate       float64         `json:"win_rate"`
	ROIPercentage float64         `json:"roi_percentage"`
	TotalProfit   decimal.Decimal `json:"total_profit"`
	MaxDrawdown   float64         `json:"max_drawdown"`
	ProfitFactor  float64         `json:"profit_factor"`
	SampleSize    int             `json:"sample_size"`

	ML   *MLMetrics   `json:"ml_metrics,omitempty"`
	Risk *RiskMetrics `json:"risk_metrics,omitempty"`

	ConfidenceInterval *Interval `json:"confidence_interval,omitempty"`
	PValue             *float64  `json:"p_value,omitempty"`

	WindowStart time.Time `json:"window_start"`
	WindowEnd   time.Time `json:"window_end"`
	GeneratedAt time.Time `json:"generated_at"`
}

// Alert is one entry in an append-only alert log.
type Alert struct {
	Type      string    `json:"type"`
	Message   string    `json:"message"`
	Severity  string    `json:"severity"` // "info", "warning", "critical"
	Source    string    `json:"source,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// AlertSink receives alerts as they are appended. Implementations must not
// block; the engines publish from their hot paths.
type AlertSink interface {
	Publish(alert Alert)
}
