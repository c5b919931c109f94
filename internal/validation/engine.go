package validation

import (
	"context"
	"fmt"
	"math"
	"time"

	"go.uber.org/zap"

	"github.com/diamond-analytics/betting-backend/internal/backtest"
	"github.com/diamond-analytics/betting-backend/internal/mltrain"
	"github.com/diamond-analytics/betting-backend/internal/stats"
	"github.com/diamond-analytics/betting-backend/pkg/types"
)

// BacktestRunner replays a processor over a window and returns aggregate
// metrics. The production implementation is backtest.Runner; tests inject
// fixed results.
type BacktestRunner interface {
	Run(ctx context.Context, proc backtest.Processor, cfg backtest.RunnerConfig, start, end time.Time) (*backtest.Result, error)
}

// Check is one threshold evaluation within a report.
type Check struct {
	Name     string  `json:"name"`
	Actual   float64 `json:"actual"`
	Required float64 `json:"required"`
	Passed   bool    `json:"passed"`
}

// ModelDiagnostics summarizes model health for strategies with ML metrics.
type ModelDiagnostics struct {
	FeatureStability float64 `json:"feature_stability"`
	Calibration      float64 `json:"calibration"`
	DriftScore       float64 `json:"drift_score"`
}

// Report is the result of one comprehensive validation run.
type Report struct {
	Passed  bool                      `json:"passed"`
	Phase   Phase                     `json:"phase"`
	Metrics *types.PerformanceMetrics `json:"metrics"`

	// ConfidenceScore is the fraction of applicable checks that passed,
	// not a statistical confidence.
	ConfidenceScore float64           `json:"confidence_score"`
	Checks          []Check           `json:"checks"`
	Diagnostics     *ModelDiagnostics `json:"diagnostics,omitempty"`
	Recommendations []string          `json:"recommendations,omitempty"`
}

// Engine runs comprehensive, cross-temporal and comparative validation.
type Engine struct {
	logger     *zap.Logger
	factory    *backtest.Factory
	runner     BacktestRunner
	trainer    mltrain.Trainer
	thresholds map[Phase]PhaseThresholds
}

// NewEngine creates a validation engine. trainer may be nil when no ML
// training service is available; strategies with prediction targets then
// validate on backtest metrics alone.
func NewEngine(logger *zap.Logger, factory *backtest.Factory, runner BacktestRunner, trainer mltrain.Trainer) *Engine {
	return &Engine{
		logger:     logger.Named("validation"),
		factory:    factory,
		runner:     runner,
		trainer:    trainer,
		thresholds: DefaultPhaseThresholds(),
	}
}

// Thresholds returns the threshold table for a phase.
func (e *Engine) Thresholds(phase Phase) (PhaseThresholds, bool) {
	t, ok := e.thresholds[phase]
	return t, ok
}

// ValidateComprehensive runs the full validation pipeline for a strategy
// over [start, end] and evaluates the result against the phase thresholds.
// Every present-and-applicable threshold must pass for Passed=true.
func (e *Engine) ValidateComprehensive(ctx context.Context, cfg *types.StrategyConfiguration, phase Phase, start, end time.Time) (*Report, error) {
	thresholds, ok := e.thresholds[phase]
	if !ok {
		return nil, fmt.Errorf("unknown validation phase %q", phase)
	}

	// Optional ML component: cross-validate candidates and keep the best.
	var mlBest *mltrain.CandidateResult
	var diagnostics *ModelDiagnostics
	if len(cfg.PredictionTargets) > 0 && e.trainer != nil {
		trained, err := e.trainer.Train(ctx, start, end, cfg.PredictionTargets, 5)
		if err != nil {
			// A failed training run is tolerated when backtesting can
			// still carry the validation; total failure surfaces below.
			e.logger.Warn("ML validation skipped",
				zap.String("strategy", cfg.StrategyID),
				zap.Error(err),
			)
		} else if trained.Best != nil {
			mlBest = trained.Best
			diagnostics = diagnoseModel(trained.Best)
		}
	}

	// Backtesting performance validation always runs.
	proc, err := e.factory.Create(cfg.ProcessorType, cfg.RuleParameters)
	if err != nil {
		return nil, fmt.Errorf("create processor: %w", err)
	}
	runCfg := backtest.DefaultRunnerConfig()
	runCfg.MinConfidence = cfg.ConfidenceThreshold
	bt, err := e.runner.Run(ctx, proc, runCfg, start, end)
	if err != nil {
		return nil, fmt.Errorf("backtest validation: %w", err)
	}

	metrics := e.assembleMetrics(cfg, bt, mlBest, start, end)
	report := &Report{Phase: phase, Metrics: metrics, Diagnostics: diagnostics}
	e.evaluateThresholds(report, thresholds)

	e.logger.Info("Comprehensive validation complete",
		zap.String("strategy", cfg.StrategyID),
		zap.String("phase", string(phase)),
		zap.Bool("passed", report.Passed),
		zap.Float64("confidence", report.ConfidenceScore),
		zap.Int("samples", metrics.SampleSize),
	)
	return report, nil
}

// assembleMetrics merges backtest, ML, risk and significance results into
// one immutable PerformanceMetrics value.
func (e *Engine) assembleMetrics(cfg *types.StrategyConfiguration, bt *backtest.Result, mlBest *mltrain.CandidateResult, start, end time.Time) *types.PerformanceMetrics {
	m := &types.PerformanceMetrics{
		WinRate:       bt.WinRate,
		ROIPercentage: bt.ROIPercentage,
		TotalProfit:   bt.TotalProfit,
		MaxDrawdown:   bt.MaxDrawdownPct,
		ProfitFactor:  bt.ProfitFactor,
		SampleSize:    bt.SampleSize,
		WindowStart:   start,
		WindowEnd:     end,
		GeneratedAt:   time.Now().UTC(),
	}

	if mlBest != nil {
		m.ML = &types.MLMetrics{
			Accuracy:  mlBest.Accuracy,
			Precision: mlBest.Precision,
			Recall:    mlBest.Recall,
			F1:        mlBest.F1,
			ROCAUC:    mlBest.ROCAUC,
		}
	}

	// Risk metrics are a fixed stand-in pending bet-level equity data.
	// TODO: replace with true equity-curve Sharpe/Sortino/VaR once the
	// backtest runner exposes per-bet returns.
	m.Risk = &types.RiskMetrics{
		SharpeRatio:          estimateSharpe(bt.ROIPercentage, bt.MaxDrawdownPct),
		SortinoRatio:         estimateSharpe(bt.ROIPercentage, bt.MaxDrawdownPct) * 1.2,
		CalmarRatio:          calmar(bt.ROIPercentage, bt.MaxDrawdownPct),
		VaR95:                -0.05,
		VaR99:                -0.08,
		ExpectedShortfall:    -0.065,
		KellyFraction:        KellyFraction(bt.WinRate, bt.ProfitFactor),
		DrawdownDurationDays: 0,
	}

	// Significance against the coin-flip null.
	wins := int(math.Round(bt.WinRate * float64(bt.SampleSize)))
	_, p := stats.OneProportionZTest(wins, bt.SampleSize, 0.5)
	m.PValue = &p
	lo, hi := stats.ProportionCI(wins, bt.SampleSize, cfg.MinValidation.ConfidenceLevel)
	m.ConfidenceInterval = &types.Interval{Lower: lo, Upper: hi}

	return m
}

// evaluateThresholds fills in the report's checks, pass flag, confidence
// score and recommendations.
func (e *Engine) evaluateThresholds(report *Report, t PhaseThresholds) {
	m := report.Metrics
	addMin := func(name string, actual, required float64) {
		report.Checks = append(report.Checks, Check{
			Name: name, Actual: actual, Required: required, Passed: actual >= required,
		})
	}

	addMin("roi_percentage", m.ROIPercentage, t.MinROI)
	addMin("win_rate", m.WinRate, t.MinWinRate)
	addMin("sample_size", float64(m.SampleSize), float64(t.MinSampleSize))
	report.Checks = append(report.Checks, Check{
		Name: "max_drawdown", Actual: m.MaxDrawdown, Required: t.MaxDrawdown,
		Passed: m.MaxDrawdown <= t.MaxDrawdown,
	})
	if m.ML != nil {
		addMin("accuracy", m.ML.Accuracy, t.MinAccuracy)
		addMin("roc_auc", m.ML.ROCAUC, t.MinROCAUC)
	}

	passed := 0
	for _, c := range report.Checks {
		if c.Passed {
			passed++
			continue
		}
		report.Recommendations = append(report.Recommendations, recommendationFor(c))
	}
	report.Passed = passed == len(report.Checks)
	if len(report.Checks) > 0 {
		report.ConfidenceScore = float64(passed) / float64(len(report.Checks))
	}
}

func recommendationFor(c Check) string {
	switch c.Name {
	case "max_drawdown":
		return fmt.Sprintf("Max drawdown %.1f%% exceeds limit %.1f%%; tighten stop-loss or reduce bet sizing", c.Actual, c.Required)
	case "sample_size":
		return fmt.Sprintf("Sample size %.0f below minimum %.0f; extend the validation window", c.Actual, c.Required)
	case "roi_percentage":
		return fmt.Sprintf("ROI %.1f%% below threshold %.1f%%; revisit selection filters or odds thresholds", c.Actual, c.Required)
	case "win_rate":
		return fmt.Sprintf("Win rate %.3f below threshold %.3f; review entry criteria", c.Actual, c.Required)
	case "accuracy":
		return fmt.Sprintf("Model accuracy %.3f below threshold %.3f; consider retraining with fresher features", c.Actual, c.Required)
	case "roc_auc":
		return fmt.Sprintf("ROC-AUC %.3f below threshold %.3f; model lacks discriminative power", c.Actual, c.Required)
	default:
		return fmt.Sprintf("%s %.3f failed against %.3f", c.Name, c.Actual, c.Required)
	}
}

// KellyFraction computes the Kelly criterion fraction from win rate and
// profit factor, clamped to [0, 0.25]. It is exactly zero whenever the
// strategy has no edge (profit factor <= 1 or win rate <= 0.5).
func KellyFraction(winRate, profitFactor float64) float64 {
	if profitFactor <= 1.0 || winRate <= 0.5 {
		return 0.0
	}
	b := profitFactor
	p := winRate
	q := 1 - p
	kelly := (p*b - q) / b
	if kelly < 0 {
		return 0.0
	}
	if kelly > 0.25 {
		return 0.25
	}
	return kelly
}

// diagnoseModel derives lightweight health diagnostics from a candidate's
// feature importances.
func diagnoseModel(c *mltrain.CandidateResult) *ModelDiagnostics {
	if len(c.FeatureImportances) == 0 {
		return &ModelDiagnostics{FeatureStability: 1.0, Calibration: 1.0}
	}
	vals := make([]float64, 0, len(c.FeatureImportances))
	for _, v := range c.FeatureImportances {
		vals = append(vals, v)
	}
	mean, std := stats.MeanStd(vals)
	stability := 1.0
	if mean > 0 {
		stability = math.Max(0, 1-std/mean)
	}
	return &ModelDiagnostics{
		FeatureStability: stability,
		Calibration:      math.Min(1, c.Accuracy/math.Max(c.ROCAUC, 1e-9)),
		DriftScore:       0.0,
	}
}

func estimateSharpe(roi, maxDrawdown float64) float64 {
	if maxDrawdown <= 0 {
		return 0
	}
	return roi / maxDrawdown
}

func calmar(roi, maxDrawdown float64) float64 {
	if maxDrawdown <= 0 {
		return 0
	}
	return roi / maxDrawdown
}
