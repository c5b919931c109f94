package validation_test

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/diamond-analytics/betting-backend/internal/backtest"
	"github.com/diamond-analytics/betting-backend/internal/validation"
	"github.com/diamond-analytics/betting-backend/pkg/types"
)

// fixedRunner returns a canned backtest result regardless of the processor.
type fixedRunner struct {
	result *backtest.Result
}

func (r *fixedRunner) Run(ctx context.Context, proc backtest.Processor, cfg backtest.RunnerConfig, start, end time.Time) (*backtest.Result, error) {
	return r.result, nil
}

type noopProcessor struct{}

func (noopProcessor) Recommendations(ctx context.Context, start, end time.Time) ([]backtest.Recommendation, error) {
	return nil, nil
}

func newTestEngine(t *testing.T, result *backtest.Result) *validation.Engine {
	t.Helper()
	logger := zap.NewNop()
	factory := backtest.NewFactory(logger)
	factory.Register("fixed", func(params map[string]any) (backtest.Processor, error) {
		return noopProcessor{}, nil
	})
	return validation.NewEngine(logger, factory, &fixedRunner{result: result}, nil)
}

func testConfig() *types.StrategyConfiguration {
	return &types.StrategyConfiguration{
		StrategyID:    "strat-1",
		Name:          "home favorites",
		StrategyType:  types.StrategyRuleBased,
		ProcessorType: "fixed",
		MinValidation: types.ValidationRequirements{ConfidenceLevel: 0.95},
	}
}

func window() (time.Time, time.Time) {
	end := time.Date(2024, 9, 1, 0, 0, 0, 0, time.UTC)
	return end.AddDate(0, 0, -60), end
}

func TestValidateComprehensivePasses(t *testing.T) {
	engine := newTestEngine(t, &backtest.Result{
		WinRate:        0.58,
		ROIPercentage:  3.0,
		TotalProfit:    decimal.NewFromInt(600),
		MaxDrawdownPct: 18.0,
		ProfitFactor:   1.4,
		SampleSize:     200,
	})

	start, end := window()
	report, err := engine.ValidateComprehensive(context.Background(), testConfig(), validation.PhaseDevelopment, start, end)
	if err != nil {
		t.Fatalf("ValidateComprehensive: %v", err)
	}

	if !report.Passed {
		t.Fatalf("expected pass, got checks %+v", report.Checks)
	}
	if report.ConfidenceScore != 1.0 {
		t.Errorf("expected confidence 1.0, got %v", report.ConfidenceScore)
	}
	if report.Metrics.PValue == nil {
		t.Error("expected significance p-value to be set")
	}
	if report.Metrics.ConfidenceInterval == nil {
		t.Error("expected confidence interval to be set")
	}
	if report.Metrics.Risk == nil {
		t.Error("expected risk metrics to be set")
	}
}

// A single failing check fails the whole report. Every check applies, so one
// miss caps the confidence below 1.
func TestValidateComprehensiveConjunctive(t *testing.T) {
	engine := newTestEngine(t, &backtest.Result{
		WinRate:        0.58,
		ROIPercentage:  0.2, // below the development MinROI
		TotalProfit:    decimal.NewFromInt(40),
		MaxDrawdownPct: 18.0,
		ProfitFactor:   1.1,
		SampleSize:     200,
	})

	start, end := window()
	report, err := engine.ValidateComprehensive(context.Background(), testConfig(), validation.PhaseDevelopment, start, end)
	if err != nil {
		t.Fatalf("ValidateComprehensive: %v", err)
	}

	if report.Passed {
		t.Fatal("expected failure with ROI below threshold")
	}
	if report.ConfidenceScore >= 1.0 {
		t.Errorf("expected confidence below 1.0, got %v", report.ConfidenceScore)
	}
	if len(report.Recommendations) == 0 {
		t.Error("expected a recommendation for the failed check")
	}
}

func TestValidateComprehensiveUnknownPhase(t *testing.T) {
	engine := newTestEngine(t, &backtest.Result{})
	start, end := window()
	if _, err := engine.ValidateComprehensive(context.Background(), testConfig(), validation.Phase("nope"), start, end); err == nil {
		t.Fatal("expected error for unknown phase")
	}
}

func TestPhaseThresholdsTighten(t *testing.T) {
	engine := newTestEngine(t, &backtest.Result{})
	phases := []validation.Phase{
		validation.PhaseDevelopment,
		validation.PhasePreStaging,
		validation.PhaseStaging,
		validation.PhasePreProduction,
		validation.PhaseProduction,
	}
	prev, ok := engine.Thresholds(phases[0])
	if !ok {
		t.Fatal("missing development thresholds")
	}
	for _, phase := range phases[1:] {
		cur, ok := engine.Thresholds(phase)
		if !ok {
			t.Fatalf("missing thresholds for %s", phase)
		}
		if cur.MinROI < prev.MinROI || cur.MinWinRate < prev.MinWinRate ||
			cur.MinSampleSize < prev.MinSampleSize || cur.MaxDrawdown > prev.MaxDrawdown {
			t.Errorf("thresholds for %s are looser than the previous phase", phase)
		}
		prev = cur
	}
}

func TestKellyFraction(t *testing.T) {
	cases := []struct {
		name         string
		winRate      float64
		profitFactor float64
		want         float64
	}{
		{"no edge profit factor", 0.60, 1.0, 0.0},
		{"no edge win rate", 0.50, 2.0, 0.0},
		{"both below edge", 0.45, 0.9, 0.0},
		{"clamped at quarter kelly", 0.60, 1.5, 0.25},
		{"moderate edge", 0.55, 1.2, 0.175},
		{"thin edge", 0.52, 1.1, 0.0836363636},
	}
	for _, tc := range cases {
		got := validation.KellyFraction(tc.winRate, tc.profitFactor)
		if diff := got - tc.want; diff > 1e-6 || diff < -1e-6 {
			t.Errorf("%s: KellyFraction(%v, %v) = %v, want %v", tc.name, tc.winRate, tc.profitFactor, got, tc.want)
		}
	}
}

func TestKellyFractionNeverNegativeOrOverClamp(t *testing.T) {
	for wr := 0.0; wr <= 1.0; wr += 0.05 {
		for pf := 0.5; pf <= 5.0; pf += 0.25 {
			k := validation.KellyFraction(wr, pf)
			if k < 0 || k > 0.25 {
				t.Fatalf("KellyFraction(%v, %v) = %v out of [0, 0.25]", wr, pf, k)
			}
		}
	}
}
