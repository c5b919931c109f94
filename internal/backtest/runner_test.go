package backtest_test

import (
	"context"
	"math"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/diamond-analytics/betting-backend/internal/backtest"
)

type sliceProcessor struct {
	recs []backtest.Recommendation
}

func (p *sliceProcessor) Recommendations(ctx context.Context, start, end time.Time) ([]backtest.Recommendation, error) {
	return p.recs, nil
}

func day(n int) time.Time {
	return time.Date(2024, 6, 1, 19, 0, 0, 0, time.UTC).AddDate(0, 0, n)
}

func rec(n int, confidence, odds float64, won bool) backtest.Recommendation {
	return backtest.Recommendation{
		GameID:     "g",
		Market:     "moneyline",
		Selection:  "home",
		Confidence: confidence,
		Odds:       odds,
		Won:        won,
		GameDate:   day(n),
	}
}

func run(t *testing.T, recs []backtest.Recommendation, minConfidence float64) *backtest.Result {
	t.Helper()
	cfg := backtest.DefaultRunnerConfig()
	cfg.MinConfidence = minConfidence
	runner := backtest.NewRunner(zap.NewNop())
	result, err := runner.Run(context.Background(), &sliceProcessor{recs: recs}, cfg, day(0), day(30))
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	return result
}

func TestRunnerAggregates(t *testing.T) {
	result := run(t, []backtest.Recommendation{
		rec(0, 0.7, 2.0, true),  // +100
		rec(1, 0.6, 1.5, false), // -100
		rec(2, 0.8, 1.5, true),  // +50
	}, 0)

	if result.SampleSize != 3 {
		t.Fatalf("sample size = %d, want 3", result.SampleSize)
	}
	if math.Abs(result.WinRate-2.0/3.0) > 1e-9 {
		t.Errorf("win rate = %v, want 2/3", result.WinRate)
	}
	if profit, _ := result.TotalProfit.Float64(); profit != 50.0 {
		t.Errorf("total profit = %v, want 50", profit)
	}
	// 50 profit on 300 staked.
	if math.Abs(result.ROIPercentage-50.0/3.0) > 1e-9 {
		t.Errorf("roi = %v, want 16.67", result.ROIPercentage)
	}
	if result.ProfitFactor != 1.5 {
		t.Errorf("profit factor = %v, want 1.5 (150 gross wins / 100 gross losses)", result.ProfitFactor)
	}
	// Peak 10100 after the first win, trough 10000 after the loss.
	wantDD := 100.0 / 10100.0 * 100.0
	if math.Abs(result.MaxDrawdownPct-wantDD) > 1e-6 {
		t.Errorf("max drawdown = %v, want %v", result.MaxDrawdownPct, wantDD)
	}
}

func TestRunnerConfidenceFilter(t *testing.T) {
	result := run(t, []backtest.Recommendation{
		rec(0, 0.9, 2.0, true),
		rec(1, 0.4, 2.0, false), // below the floor, never staked
		rec(2, 0.6, 2.0, true),
	}, 0.5)

	if result.SampleSize != 2 {
		t.Errorf("sample size = %d, want 2 after filtering", result.SampleSize)
	}
	if result.WinRate != 1.0 {
		t.Errorf("win rate = %v, want 1.0", result.WinRate)
	}
	if len(result.Recommendations) != 2 {
		t.Errorf("taken recommendations = %d, want 2", len(result.Recommendations))
	}
}

func TestRunnerNoLosses(t *testing.T) {
	result := run(t, []backtest.Recommendation{
		rec(0, 0.7, 1.8, true),
		rec(1, 0.7, 1.9, true),
	}, 0)

	if result.ProfitFactor != 999.0 {
		t.Errorf("profit factor = %v, want 999 sentinel with no losses", result.ProfitFactor)
	}
	if result.MaxDrawdownPct != 0 {
		t.Errorf("max drawdown = %v, want 0", result.MaxDrawdownPct)
	}
}

func TestRunnerEmpty(t *testing.T) {
	result := run(t, nil, 0)
	if result.SampleSize != 0 || result.WinRate != 0 || result.ROIPercentage != 0 {
		t.Errorf("empty run should produce zero metrics, got %+v", result)
	}
}

func TestReplayProcessorDeterministic(t *testing.T) {
	params := map[string]any{"seed": "test", "games_per_day": 4, "edge": 0.1}
	p1, err := backtest.NewReplayProcessor(params)
	if err != nil {
		t.Fatalf("NewReplayProcessor: %v", err)
	}
	p2, err := backtest.NewReplayProcessor(params)
	if err != nil {
		t.Fatalf("NewReplayProcessor: %v", err)
	}

	start := time.Date(2024, 7, 1, 0, 0, 0, 0, time.UTC)
	end := start.AddDate(0, 0, 9)
	a, err := p1.Recommendations(context.Background(), start, end)
	if err != nil {
		t.Fatalf("Recommendations: %v", err)
	}
	b, _ := p2.Recommendations(context.Background(), start, end)

	if len(a) != 40 {
		t.Fatalf("slate size = %d, want 10 days * 4 games", len(a))
	}
	for i := range a {
		if a[i] != b[i] {
			t.Fatalf("replay diverged at %d: %+v vs %+v", i, a[i], b[i])
		}
	}
	for _, r := range a {
		if r.Confidence < 0.50 || r.Confidence >= 0.85 {
			t.Errorf("confidence %v outside [0.50, 0.85)", r.Confidence)
		}
		if r.Odds < 1.70 || r.Odds >= 2.20 {
			t.Errorf("odds %v outside [1.70, 2.20)", r.Odds)
		}
	}
}

func TestReplayProcessorParamValidation(t *testing.T) {
	if _, err := backtest.NewReplayProcessor(map[string]any{"games_per_day": 40}); err == nil {
		t.Error("expected error for games_per_day out of range")
	}
	if _, err := backtest.NewReplayProcessor(map[string]any{"edge": 0.9}); err == nil {
		t.Error("expected error for edge out of range")
	}
	if _, err := backtest.NewReplayProcessor(nil); err != nil {
		t.Errorf("defaults should build: %v", err)
	}
}

func TestFactoryRegistration(t *testing.T) {
	factory := backtest.NewFactory(zap.NewNop())
	backtest.RegisterBuiltin(factory)

	if _, err := factory.Create("historical_replay", nil); err != nil {
		t.Errorf("builtin processor missing: %v", err)
	}
	if _, err := factory.Create("unknown", nil); err == nil {
		t.Error("expected error for unknown processor type")
	}
}
