package backtest

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// RunnerConfig configures one backtest run.
type RunnerConfig struct {
	StartingBankroll decimal.Decimal `json:"starting_bankroll"`
	BetSize          decimal.Decimal `json:"bet_size"`
	MinConfidence    float64         `json:"min_confidence"`
}

// DefaultRunnerConfig returns the fixed-size betting setup used by
// validation runs: $10,000 bankroll, flat $100 bets.
func DefaultRunnerConfig() RunnerConfig {
	return RunnerConfig{
		StartingBankroll: decimal.NewFromInt(10000),
		BetSize:          decimal.NewFromInt(100),
		MinConfidence:    0.0,
	}
}

// Result holds the aggregate metrics of one backtest run.
type Result struct {
	WinRate         float64          `json:"win_rate"`
	ROIPercentage   float64          `json:"roi_percentage"`
	TotalProfit     decimal.Decimal  `json:"total_profit"`
	MaxDrawdownPct  float64          `json:"max_drawdown_pct"`
	ProfitFactor    float64          `json:"profit_factor"`
	SampleSize      int              `json:"sample_size"`
	Recommendations []Recommendation `json:"recommendations,omitempty"`
}

// Runner replays a processor's recommendations with fixed-size flat betting
// and summarizes the equity curve into aggregate metrics.
type Runner struct {
	logger *zap.Logger
}

// NewRunner creates a backtest runner.
func NewRunner(logger *zap.Logger) *Runner {
	return &Runner{logger: logger.Named("backtest")}
}

// Run executes a backtest over [start, end]. Recommendations below the
// configured confidence floor are skipped and do not count as samples.
func (r *Runner) Run(ctx context.Context, proc Processor, cfg RunnerConfig, start, end time.Time) (*Result, error) {
	recs, err := proc.Recommendations(ctx, start, end)
	if err != nil {
		return nil, fmt.Errorf("fetch recommendations: %w", err)
	}

	// Replay in game order so the drawdown tracks a real equity curve.
	sort.Slice(recs, func(i, j int) bool { return recs[i].GameDate.Before(recs[j].GameDate) })

	var (
		wins, losses int
		totalStaked  decimal.Decimal
		grossWins    decimal.Decimal
		grossLosses  decimal.Decimal
		taken        []Recommendation
	)
	equity := cfg.StartingBankroll
	peak := cfg.StartingBankroll
	maxDrawdownPct := 0.0

	for _, rec := range recs {
		if rec.Confidence < cfg.MinConfidence {
			continue
		}
		stake := cfg.BetSize
		totalStaked = totalStaked.Add(stake)
		if rec.Won {
			wins++
			profit := stake.Mul(decimal.NewFromFloat(rec.Odds - 1))
			grossWins = grossWins.Add(profit)
			equity = equity.Add(profit)
		} else {
			losses++
			grossLosses = grossLosses.Add(stake)
			equity = equity.Sub(stake)
		}
		if equity.GreaterThan(peak) {
			peak = equity
		}
		if peak.IsPositive() {
			dd, _ := peak.Sub(equity).Div(peak).Mul(decimal.NewFromInt(100)).Float64()
			if dd > maxDrawdownPct {
				maxDrawdownPct = dd
			}
		}
		taken = append(taken, rec)
	}

	sample := wins + losses
	result := &Result{
		SampleSize:      sample,
		TotalProfit:     grossWins.Sub(grossLosses),
		MaxDrawdownPct:  maxDrawdownPct,
		Recommendations: taken,
	}
	if sample > 0 {
		result.WinRate = float64(wins) / float64(sample)
	}
	if totalStaked.IsPositive() {
		roi, _ := result.TotalProfit.Div(totalStaked).Mul(decimal.NewFromInt(100)).Float64()
		result.ROIPercentage = roi
	}
	if grossLosses.IsPositive() {
		pf, _ := grossWins.Div(grossLosses).Float64()
		result.ProfitFactor = pf
	} else if grossWins.IsPositive() {
		result.ProfitFactor = 999.0
	}

	r.logger.Debug("Backtest complete",
		zap.Int("samples", sample),
		zap.Float64("winRate", result.WinRate),
		zap.Float64("roi", result.ROIPercentage),
		zap.Float64("maxDrawdown", result.MaxDrawdownPct),
	)
	return result, nil
}
