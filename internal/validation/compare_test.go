package validation_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/diamond-analytics/betting-backend/internal/backtest"
	"github.com/diamond-analytics/betting-backend/internal/validation"
	"github.com/diamond-analytics/betting-backend/pkg/types"
)

// keyedProcessor lets the runner tell two strategies apart.
type keyedProcessor struct {
	key string
}

func (keyedProcessor) Recommendations(ctx context.Context, start, end time.Time) ([]backtest.Recommendation, error) {
	return nil, nil
}

// keyedRunner returns a canned result per processor key.
type keyedRunner struct {
	results map[string]*backtest.Result
}

func (r *keyedRunner) Run(ctx context.Context, proc backtest.Processor, cfg backtest.RunnerConfig, start, end time.Time) (*backtest.Result, error) {
	kp, ok := proc.(keyedProcessor)
	if !ok {
		return nil, fmt.Errorf("unexpected processor %T", proc)
	}
	result, ok := r.results[kp.key]
	if !ok {
		return nil, fmt.Errorf("no result for key %s", kp.key)
	}
	return result, nil
}

func newComparisonEngine(t *testing.T, resultA, resultB *backtest.Result) *validation.Engine {
	t.Helper()
	logger := zap.NewNop()
	factory := backtest.NewFactory(logger)
	for _, key := range []string{"a", "b"} {
		key := key
		factory.Register("keyed-"+key, func(params map[string]any) (backtest.Processor, error) {
			return keyedProcessor{key: key}, nil
		})
	}
	runner := &keyedRunner{results: map[string]*backtest.Result{"a": resultA, "b": resultB}}
	return validation.NewEngine(logger, factory, runner, nil)
}

func keyedConfig(id, key string) *types.StrategyConfiguration {
	return &types.StrategyConfiguration{
		StrategyID:    id,
		Name:          id,
		StrategyType:  types.StrategyRuleBased,
		ProcessorType: "keyed-" + key,
		MinValidation: types.ValidationRequirements{ConfidenceLevel: 0.95},
	}
}

func TestCompareStrategiesPicksStrongerStrategy(t *testing.T) {
	engine := newComparisonEngine(t,
		&backtest.Result{
			WinRate:        0.60,
			ROIPercentage:  5.0,
			TotalProfit:    decimal.NewFromInt(2000),
			MaxDrawdownPct: 10.0,
			ProfitFactor:   1.5,
			SampleSize:     400,
		},
		&backtest.Result{
			WinRate:        0.52,
			ROIPercentage:  1.0,
			TotalProfit:    decimal.NewFromInt(100),
			MaxDrawdownPct: 30.0,
			ProfitFactor:   1.05,
			SampleSize:     100,
		},
	)

	start, end := window()
	cmp, err := engine.CompareStrategies(context.Background(),
		keyedConfig("strat-a", "a"), keyedConfig("strat-b", "b"),
		validation.PhaseDevelopment, start, end)
	if err != nil {
		t.Fatalf("CompareStrategies: %v", err)
	}

	if cmp.Winner != "strat-a" {
		t.Errorf("expected strat-a to win, got %q", cmp.Winner)
	}
	if cmp.ScoreA <= cmp.ScoreB {
		t.Errorf("expected ScoreA > ScoreB, got %v vs %v", cmp.ScoreA, cmp.ScoreB)
	}
	if diff := cmp.ROIDiff - 4.0; diff > 1e-9 || diff < -1e-9 {
		t.Errorf("expected ROI diff 4.0, got %v", cmp.ROIDiff)
	}
	if cmp.ReportA == nil || cmp.ReportB == nil {
		t.Fatal("expected both per-strategy reports")
	}
	if cmp.Justification == "" {
		t.Error("expected a justification")
	}
}

func TestCompareStrategiesTie(t *testing.T) {
	result := &backtest.Result{
		WinRate:        0.56,
		ROIPercentage:  2.5,
		TotalProfit:    decimal.NewFromInt(500),
		MaxDrawdownPct: 15.0,
		ProfitFactor:   1.3,
		SampleSize:     250,
	}
	engine := newComparisonEngine(t, result, result)

	start, end := window()
	cmp, err := engine.CompareStrategies(context.Background(),
		keyedConfig("strat-a", "a"), keyedConfig("strat-b", "b"),
		validation.PhaseDevelopment, start, end)
	if err != nil {
		t.Fatalf("CompareStrategies: %v", err)
	}

	if cmp.Winner != "" {
		t.Errorf("expected no winner on identical results, got %q", cmp.Winner)
	}
	if cmp.ScoreA != cmp.ScoreB {
		t.Errorf("expected equal scores, got %v vs %v", cmp.ScoreA, cmp.ScoreB)
	}
}

func TestValidateCrossTemporalAggregates(t *testing.T) {
	engine := newTestEngine(t, &backtest.Result{
		WinRate:        0.58,
		ROIPercentage:  3.0,
		TotalProfit:    decimal.NewFromInt(600),
		MaxDrawdownPct: 18.0,
		ProfitFactor:   1.4,
		SampleSize:     60,
	})

	end := time.Date(2024, 9, 1, 0, 0, 0, 0, time.UTC)
	start := end.AddDate(0, 0, -100)
	report, err := engine.ValidateCrossTemporal(context.Background(), testConfig(),
		validation.DefaultCrossTemporalConfig(), start, end)
	if err != nil {
		t.Fatalf("ValidateCrossTemporal: %v", err)
	}

	if len(report.Folds) != 5 {
		t.Fatalf("expected 5 folds, got %d", len(report.Folds))
	}
	for _, fold := range report.Folds {
		if !fold.TrainEnd.After(fold.TrainStart) {
			t.Errorf("fold %d: train window is empty", fold.Fold)
		}
		if fold.TestStart.Sub(fold.TrainEnd) < 3*24*time.Hour {
			t.Errorf("fold %d: purge gap shorter than configured", fold.Fold)
		}
		if !fold.TestEnd.After(fold.TestStart) {
			t.Errorf("fold %d: test window is empty", fold.Fold)
		}
	}
	if report.MeanROI != 3.0 || report.StdROI != 0 {
		t.Errorf("expected ROI 3.0 +/- 0 across identical folds, got %v +/- %v", report.MeanROI, report.StdROI)
	}
	if report.MeanWinRate != 0.58 {
		t.Errorf("expected mean win rate 0.58, got %v", report.MeanWinRate)
	}
	if report.ConsistencyScore != 1.0 {
		t.Errorf("expected consistency 1.0 for identical folds, got %v", report.ConsistencyScore)
	}
}

func TestValidateCrossTemporalRejectsBadConfig(t *testing.T) {
	engine := newTestEngine(t, &backtest.Result{})
	end := time.Date(2024, 9, 1, 0, 0, 0, 0, time.UTC)
	start := end.AddDate(0, 0, -100)
	ctx := context.Background()

	if _, err := engine.ValidateCrossTemporal(ctx, testConfig(),
		validation.CrossTemporalConfig{Folds: 1}, start, end); err == nil {
		t.Error("expected error for a single fold")
	}
	if _, err := engine.ValidateCrossTemporal(ctx, testConfig(),
		validation.DefaultCrossTemporalConfig(), end, end); err == nil {
		t.Error("expected error for an empty window")
	}
	// A 10-day window split 5 ways leaves no room for the purge gap.
	if _, err := engine.ValidateCrossTemporal(ctx, testConfig(),
		validation.DefaultCrossTemporalConfig(), end.AddDate(0, 0, -10), end); err == nil {
		t.Error("expected error when purge and embargo consume the test window")
	}
}
