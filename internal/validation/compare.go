package validation

import (
	"context"
	"fmt"
	"math"
	"time"

	"go.uber.org/zap"

	"github.com/diamond-analytics/betting-backend/internal/stats"
	"github.com/diamond-analytics/betting-backend/pkg/types"
)

// ComparisonReport is the outcome of a pairwise strategy comparison.
type ComparisonReport struct {
	ReportA *Report `json:"report_a"`
	ReportB *Report `json:"report_b"`

	WinRateTest stats.TwoProportionResult `json:"win_rate_test"`
	ROIDiff     float64                   `json:"roi_diff"`

	ScoreA        float64 `json:"score_a"`
	ScoreB        float64 `json:"score_b"`
	Winner        string  `json:"winner"` // strategy id, or "" on a tie
	Justification string  `json:"justification"`
}

// Composite score weights. Each sub-score is normalized to [0, 1] before
// weighting.
const (
	weightROI      = 0.4
	weightWinRate  = 0.3
	weightDrawdown = 0.2
	weightSample   = 0.1
)

// CompareStrategies runs each strategy's comprehensive validation
// independently, then compares them with a two-proportion z-test on win
// rates and a weighted composite score.
func (e *Engine) CompareStrategies(ctx context.Context, a, b *types.StrategyConfiguration, phase Phase, start, end time.Time) (*ComparisonReport, error) {
	reportA, err := e.ValidateComprehensive(ctx, a, phase, start, end)
	if err != nil {
		return nil, fmt.Errorf("validate %s: %w", a.StrategyID, err)
	}
	reportB, err := e.ValidateComprehensive(ctx, b, phase, start, end)
	if err != nil {
		return nil, fmt.Errorf("validate %s: %w", b.StrategyID, err)
	}

	ma, mb := reportA.Metrics, reportB.Metrics
	winsA := int(math.Round(ma.WinRate * float64(ma.SampleSize)))
	winsB := int(math.Round(mb.WinRate * float64(mb.SampleSize)))

	cmp := &ComparisonReport{
		ReportA:     reportA,
		ReportB:     reportB,
		WinRateTest: stats.TwoProportionZTest(winsA, ma.SampleSize, winsB, mb.SampleSize, 0.05),
		ROIDiff:     ma.ROIPercentage - mb.ROIPercentage,
		ScoreA:      compositeScore(ma),
		ScoreB:      compositeScore(mb),
	}

	switch {
	case cmp.ScoreA > cmp.ScoreB:
		cmp.Winner = a.StrategyID
	case cmp.ScoreB > cmp.ScoreA:
		cmp.Winner = b.StrategyID
	}
	cmp.Justification = justify(cmp, a.StrategyID, b.StrategyID)

	e.logger.Info("Strategy comparison complete",
		zap.String("a", a.StrategyID),
		zap.String("b", b.StrategyID),
		zap.String("winner", cmp.Winner),
		zap.Float64("pValue", cmp.WinRateTest.PValue),
	)
	return cmp, nil
}

// compositeScore combines ROI, win rate, drawdown and sample size into one
// weighted score, each sub-score capped to [0, 1].
func compositeScore(m *types.PerformanceMetrics) float64 {
	roiScore := clamp01(m.ROIPercentage / 10.0)
	winRateScore := clamp01((m.WinRate - 0.5) / 0.1)
	drawdownScore := clamp01(1 - m.MaxDrawdown/50.0)
	sampleScore := clamp01(float64(m.SampleSize) / 500.0)
	return weightROI*roiScore + weightWinRate*winRateScore +
		weightDrawdown*drawdownScore + weightSample*sampleScore
}

func justify(cmp *ComparisonReport, idA, idB string) string {
	if cmp.Winner == "" {
		return "Strategies are statistically indistinguishable on the composite score"
	}
	sig := "not statistically significant"
	if cmp.WinRateTest.Significant {
		sig = fmt.Sprintf("statistically significant (p=%.4f)", cmp.WinRateTest.PValue)
	}
	loser := idB
	winnerScore, loserScore := cmp.ScoreA, cmp.ScoreB
	if cmp.Winner == idB {
		loser = idA
		winnerScore, loserScore = cmp.ScoreB, cmp.ScoreA
	}
	return fmt.Sprintf("%s outscores %s %.3f to %.3f on the risk-adjusted composite; win-rate difference is %s, ROI difference %.2f%%",
		cmp.Winner, loser, winnerScore, loserScore, sig, math.Abs(cmp.ROIDiff))
}

func clamp01(x float64) float64 {
	if x < 0 {
		return 0
	}
	if x > 1 {
		return 1
	}
	return x
}
