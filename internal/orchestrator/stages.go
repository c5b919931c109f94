package orchestrator

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/diamond-analytics/betting-backend/internal/backtest"
	"github.com/diamond-analytics/betting-backend/internal/registry"
	"github.com/diamond-analytics/betting-backend/internal/validation"
	"github.com/diamond-analytics/betting-backend/pkg/types"
)

// TransitionCriteria gate entry into one stage. Nil fields are not
// applicable. A workflow with no recorded metrics passes vacuously: an
// absent metric is "check not applicable", not a failure.
type TransitionCriteria struct {
	MinROI              *float64 `json:"min_roi,omitempty"`
	MinWinRate          *float64 `json:"min_win_rate,omitempty"`
	MaxDrawdown         *float64 `json:"max_drawdown,omitempty"`
	MinSamples          *int     `json:"min_samples,omitempty"`
	RequireSignificance bool     `json:"require_significance"`
}

func f(v float64) *float64 { return &v }
func n(v int) *int         { return &v }

// DefaultTransitionCriteria returns the per-target-stage criteria table.
func DefaultTransitionCriteria() map[types.WorkflowStage]TransitionCriteria {
	return map[types.WorkflowStage]TransitionCriteria{
		types.StageBacktesting: {
			MinROI:      f(2.0),
			MinWinRate:  f(0.52),
			MaxDrawdown: f(25.0),
			MinSamples:  n(100),
		},
		types.StagePaperTrading: {
			MinROI:              f(2.0),
			MinWinRate:          f(0.52),
			MaxDrawdown:         f(25.0),
			MinSamples:          n(150),
			RequireSignificance: true,
		},
		types.StageStaging: {
			MinROI:              f(2.5),
			MinWinRate:          f(0.53),
			MaxDrawdown:         f(20.0),
			MinSamples:          n(200),
			RequireSignificance: true,
		},
		types.StageABTesting: {
			MinROI:              f(3.0),
			MinWinRate:          f(0.53),
			MaxDrawdown:         f(20.0),
			MinSamples:          n(200),
			RequireSignificance: true,
		},
		types.StageProduction: {
			MinROI:              f(3.0),
			MinWinRate:          f(0.54),
			MaxDrawdown:         f(15.0),
			MinSamples:          n(300),
			RequireSignificance: true,
		},
	}
}

// checkTransitionCriteria compares the workflow's latest recorded metrics
// against the target stage's criteria. All present criteria must pass; the
// returned reason carries machine-comparable numbers for the alert.
func (o *Orchestrator) checkTransitionCriteria(wf *types.StrategyWorkflow, target types.WorkflowStage) (bool, string) {
	criteria, ok := o.criteria[target]
	if !ok {
		return true, ""
	}
	m := wf.LatestMetrics()
	if m == nil {
		return true, ""
	}

	if criteria.MinROI != nil && m.ROIPercentage < *criteria.MinROI {
		return false, fmt.Sprintf("ROI %.1f%% below threshold %.1f%% for %s", m.ROIPercentage, *criteria.MinROI, target)
	}
	if criteria.MinWinRate != nil && m.WinRate < *criteria.MinWinRate {
		return false, fmt.Sprintf("win rate %.3f below threshold %.3f for %s", m.WinRate, *criteria.MinWinRate, target)
	}
	if criteria.MaxDrawdown != nil && m.MaxDrawdown > *criteria.MaxDrawdown {
		return false, fmt.Sprintf("max drawdown %.1f%% over limit %.1f%% for %s", m.MaxDrawdown, *criteria.MaxDrawdown, target)
	}
	if criteria.MinSamples != nil && m.SampleSize < *criteria.MinSamples {
		return false, fmt.Sprintf("sample size %d below minimum %d for %s", m.SampleSize, *criteria.MinSamples, target)
	}
	if criteria.RequireSignificance && m.PValue != nil && *m.PValue > 0.05 {
		return false, fmt.Sprintf("p-value %.4f above 0.05 for %s", *m.PValue, target)
	}
	return true, ""
}

// validationWindow returns the [start, end] window for a lookback of days,
// ending LeadDays before now to avoid leakage into the as-of date.
func (o *Orchestrator) validationWindow(days int) (time.Time, time.Time) {
	end := o.now().AddDate(0, 0, -o.cfg.LeadDays)
	return end.AddDate(0, 0, -days), end
}

// --- stage logic ---

func (o *Orchestrator) executeDevelopment(ctx context.Context, wf *types.StrategyWorkflow) (bool, error) {
	develop := o.developers[wf.Config.StrategyType]
	return develop(ctx, wf)
}

// developRuleBased backtests the rule processor over the development window
// and records the result keyed "development".
func (o *Orchestrator) developRuleBased(ctx context.Context, wf *types.StrategyWorkflow) (bool, error) {
	proc, err := o.factory.Create(wf.Config.ProcessorType, wf.Config.RuleParameters)
	if err != nil {
		return false, fmt.Errorf("develop %s: %w", wf.WorkflowID, err)
	}
	cfg := backtest.DefaultRunnerConfig()
	cfg.MinConfidence = wf.Config.ConfidenceThreshold
	start, end := o.validationWindow(o.cfg.ValidationWindowDays)
	result, err := o.runner.Run(ctx, proc, cfg, start, end)
	if err != nil {
		return false, fmt.Errorf("develop %s: %w", wf.WorkflowID, err)
	}

	wf.BacktestResults["development"] = &types.PerformanceMetrics{
		WinRate:       result.WinRate,
		ROIPercentage: result.ROIPercentage,
		TotalProfit:   result.TotalProfit,
		MaxDrawdown:   result.MaxDrawdownPct,
		ProfitFactor:  result.ProfitFactor,
		SampleSize:    result.SampleSize,
		WindowStart:   start,
		WindowEnd:     end,
		GeneratedAt:   o.now(),
	}
	return true, nil
}

// developML trains candidate models and records the best one.
func (o *Orchestrator) developML(ctx context.Context, wf *types.StrategyWorkflow) (bool, error) {
	if o.trainer == nil {
		return false, fmt.Errorf("develop %s: no ML trainer configured", wf.WorkflowID)
	}
	start, end := o.validationWindow(o.cfg.ValidationWindowDays)
	trained, err := o.trainer.Train(ctx, start, end, wf.Config.PredictionTargets, 5)
	if err != nil {
		return false, fmt.Errorf("develop %s: %w", wf.WorkflowID, err)
	}
	if trained.Best == nil {
		// No candidate trained at all; escalate rather than skip.
		return false, fmt.Errorf("develop %s: no candidate model trained", wf.WorkflowID)
	}

	wf.ModelName = wf.Config.MLModelName
	if wf.ModelName == "" {
		wf.ModelName = fmt.Sprintf("%s-%s", wf.Config.Name, trained.Best.ModelName)
	}
	dev := wf.BacktestResults["development"]
	if dev == nil {
		dev = &types.PerformanceMetrics{WindowStart: start, WindowEnd: end, GeneratedAt: o.now()}
		wf.BacktestResults["development"] = dev
	}
	dev.ML = &types.MLMetrics{
		Accuracy:  trained.Best.Accuracy,
		Precision: trained.Best.Precision,
		Recall:    trained.Best.Recall,
		F1:        trained.Best.F1,
		ROCAUC:    trained.Best.ROCAUC,
	}

	o.logger.Info("Model developed",
		zap.String("workflowId", wf.WorkflowID),
		zap.String("model", wf.ModelName),
		zap.Float64("rocAuc", trained.Best.ROCAUC),
	)
	return true, nil
}

// developHybrid runs the rule-based flow then the ML flow sequentially.
func (o *Orchestrator) developHybrid(ctx context.Context, wf *types.StrategyWorkflow) (bool, error) {
	if ok, err := o.developRuleBased(ctx, wf); !ok || err != nil {
		return ok, err
	}
	return o.developML(ctx, wf)
}

func (o *Orchestrator) executeValidation(ctx context.Context, wf *types.StrategyWorkflow) (bool, error) {
	return o.runComprehensive(ctx, wf, validation.PhaseDevelopment, o.cfg.ValidationWindowDays, wf.ValidationResults)
}

func (o *Orchestrator) executeBacktesting(ctx context.Context, wf *types.StrategyWorkflow) (bool, error) {
	return o.runComprehensive(ctx, wf, validation.PhasePreStaging, o.cfg.BacktestWindowDays, wf.BacktestResults)
}

// runComprehensive invokes the validation engine over a historical window
// and records the result; the report's pass/fail is the stage outcome.
func (o *Orchestrator) runComprehensive(ctx context.Context, wf *types.StrategyWorkflow, phase validation.Phase, days int, bucket map[string]*types.PerformanceMetrics) (bool, error) {
	start, end := o.validationWindow(days)
	report, err := o.validator.ValidateComprehensive(ctx, &wf.Config, phase, start, end)
	if err != nil {
		return false, err
	}
	bucket["latest"] = report.Metrics
	bucket["comprehensive"] = report.Metrics
	if !report.Passed {
		msg := fmt.Sprintf("validation failed for phase %s (confidence %.2f)", phase, report.ConfidenceScore)
		if len(report.Recommendations) > 0 {
			msg += ": " + report.Recommendations[0]
		}
		wf.AppendAlert("validation_failed", msg, "warning")
		o.publish(wf.Alerts[len(wf.Alerts)-1])
		return false, nil
	}
	return true, nil
}

// executePaperTrading always succeeds.
// TODO: route recommendations through a live odds feed and settle against
// real closing lines once the paper-trading book exists.
func (o *Orchestrator) executePaperTrading(ctx context.Context, wf *types.StrategyWorkflow) (bool, error) {
	wf.AppendAlert("paper_trading", "paper trading stage recorded", "info")
	return true, nil
}

// executeStaging registers the workflow's model (if any) and promotes it to
// staging; strategies without a model pass through.
func (o *Orchestrator) executeStaging(ctx context.Context, wf *types.StrategyWorkflow) (bool, error) {
	if wf.ModelName == "" {
		return true, nil
	}
	if wf.ModelVersion == "" {
		uri := fmt.Sprintf("models:/%s/%s", wf.WorkflowID, wf.ModelName)
		version, err := o.registry.RegisterModel(ctx, uri, wf.ModelName, &wf.Config)
		if err != nil {
			return false, err
		}
		wf.ModelVersion = version
	}
	return o.promote(ctx, wf, registry.StageStaging)
}

// executeABTesting is a placeholder: experiment setup is an explicit
// registry call, not auto-triggered by the stage transition.
func (o *Orchestrator) executeABTesting(ctx context.Context, wf *types.StrategyWorkflow) (bool, error) {
	return true, nil
}

func (o *Orchestrator) executeProduction(ctx context.Context, wf *types.StrategyWorkflow) (bool, error) {
	if wf.ModelName == "" {
		return true, nil
	}
	return o.promote(ctx, wf, registry.StageProduction)
}

func (o *Orchestrator) promote(ctx context.Context, wf *types.StrategyWorkflow, target registry.Stage) (bool, error) {
	report, err := o.registry.ValidateAndPromote(ctx, wf.ModelName, wf.ModelVersion, target, o.cfg.PromotionWindow, false)
	if err != nil {
		return false, err
	}
	if !report.Promoted {
		msg := fmt.Sprintf("model %s not promoted to %s", wf.ModelName, target)
		if len(report.Recommendations) > 0 {
			msg += ": " + report.Recommendations[0]
		}
		wf.AppendAlert("promotion_blocked", msg, "warning")
		o.publish(wf.Alerts[len(wf.Alerts)-1])
		return false, nil
	}
	if report.Validation != nil {
		wf.ValidationResults["latest"] = report.Validation.Metrics
	}
	return true, nil
}

func (o *Orchestrator) executeMonitoring(ctx context.Context, wf *types.StrategyWorkflow) (bool, error) {
	wf.AppendAlert("monitoring_activated", "production monitoring activated", "info")
	o.publish(wf.Alerts[len(wf.Alerts)-1])
	return true, nil
}
