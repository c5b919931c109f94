package abtest

import (
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"github.com/diamond-analytics/betting-backend/internal/stats"
	"github.com/diamond-analytics/betting-backend/pkg/types"
)

var decimalHundred = decimal.NewFromInt(100)

// ArmSummary is one arm's statistics in an analysis report.
type ArmSummary struct {
	ArmID         string          `json:"arm_id"`
	Name          string          `json:"name"`
	IsControl     bool            `json:"is_control"`
	Samples       int             `json:"samples"`
	Wins          int             `json:"wins"`
	Losses        int             `json:"losses"`
	WinRate       float64         `json:"win_rate"`
	WinRateCI     types.Interval  `json:"win_rate_ci"`
	ROIPercentage float64         `json:"roi_percentage"`
	ROICI         types.Interval  `json:"roi_ci"`
	TotalProfit   decimal.Decimal `json:"total_profit"`
	MaxDrawdown   float64         `json:"max_drawdown"`
}

// PairwiseTest is one arm-pair comparison on the primary metric.
type PairwiseTest struct {
	ArmA      string                    `json:"arm_a"`
	ArmB      string                    `json:"arm_b"`
	Metric    string                    `json:"metric"`
	Test      stats.TwoProportionResult `json:"test"`
	BetterArm string                    `json:"better_arm"`
}

// WinnerAnalysis names the experiment's winner and how it was determined.
// Method "statistical" means a significant pairwise test; "practical" is
// the fallback heuristic (>=10% improvement over the mean of the other
// arms), which has no statistical grounding and caps confidence at 0.8.
type WinnerAnalysis struct {
	WinnerArmID string  `json:"winner_arm_id"`
	Confidence  float64 `json:"confidence"`
	Method      string  `json:"method"` // "statistical" or "practical"
	Reasoning   string  `json:"reasoning"`
}

// PowerAnalysis is a rough power estimate plus enrollment extrapolation.
type PowerAnalysis struct {
	Power                 float64 `json:"power"`
	TargetPower           float64 `json:"target_power"`
	AdditionalSamples     int     `json:"additional_samples"`
	EstimatedDaysToTarget float64 `json:"estimated_days_to_target"`
}

// RiskSummary surfaces the worst observed loss and drawdown across arms.
type RiskSummary struct {
	WorstLossArm       string          `json:"worst_loss_arm"`
	WorstTotalProfit   decimal.Decimal `json:"worst_total_profit"`
	HighestDrawdownArm string          `json:"highest_drawdown_arm"`
	HighestDrawdownPct float64         `json:"highest_drawdown_pct"`
}

// Analysis is the full on-demand experiment report.
type Analysis struct {
	ExperimentID    string          `json:"experiment_id"`
	Status          Status          `json:"status"`
	TotalSamples    int             `json:"total_samples"`
	Arms            []ArmSummary    `json:"arms"`
	PairwiseTests   []PairwiseTest  `json:"pairwise_tests"`
	Winner          *WinnerAnalysis `json:"winner,omitempty"`
	Power           PowerAnalysis   `json:"power"`
	Risk            RiskSummary     `json:"risk"`
	Recommendations []string        `json:"recommendations,omitempty"`
	GeneratedAt     time.Time       `json:"generated_at"`
}

// AnalyzeExperiment produces a full report for an active experiment.
func (e *Engine) AnalyzeExperiment(experimentID string) (*Analysis, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	cfg, ok := e.experiments[experimentID]
	if !ok {
		return nil, fmt.Errorf("experiment %q is not active", experimentID)
	}
	return e.analyzeLocked(cfg), nil
}

// analyzeLocked builds the report; callers hold at least a read lock.
func (e *Engine) analyzeLocked(cfg *Config) *Analysis {
	results := e.results[cfg.ExperimentID]
	now := e.now()

	analysis := &Analysis{
		ExperimentID: cfg.ExperimentID,
		Status:       cfg.Status,
		GeneratedAt:  now,
	}

	confidence := 0.95
	for _, arm := range cfg.Arms {
		r := results[arm.ArmID]
		lo, hi := stats.ProportionCI(r.Wins, r.Samples, confidence)
		roiLo, roiHi := stats.ROICI(r.ROIPercentage, r.Samples, confidence)
		analysis.Arms = append(analysis.Arms, ArmSummary{
			ArmID:         arm.ArmID,
			Name:          arm.Name,
			IsControl:     arm.IsControl,
			Samples:       r.Samples,
			Wins:          r.Wins,
			Losses:        r.Losses,
			WinRate:       r.WinRate,
			WinRateCI:     types.Interval{Lower: lo, Upper: hi},
			ROIPercentage: r.ROIPercentage,
			ROICI:         types.Interval{Lower: roiLo, Upper: roiHi},
			TotalProfit:   r.TotalProfit,
			MaxDrawdown:   r.MaxDrawdown,
		})
		analysis.TotalSamples += r.Samples
	}

	analysis.PairwiseTests = pairwiseTests(cfg, results)
	analysis.Winner = determineWinner(cfg, results, analysis.PairwiseTests)
	analysis.Power = powerAnalysis(cfg, analysis.TotalSamples, now)
	analysis.Risk = riskSummary(cfg, results)
	analysis.Recommendations = recommendations(cfg, analysis)
	return analysis
}

// pairwiseTests runs every arm pair through the primary-metric test.
func pairwiseTests(cfg *Config, results map[string]*Result) []PairwiseTest {
	var tests []PairwiseTest
	for i := 0; i < len(cfg.Arms); i++ {
		for j := i + 1; j < len(cfg.Arms); j++ {
			a := results[cfg.Arms[i].ArmID]
			b := results[cfg.Arms[j].ArmID]
			var tr stats.TwoProportionResult
			if cfg.PrimaryMetric == "roi" {
				tr = stats.ROIZTest(a.ROIPercentage, a.Samples, b.ROIPercentage, b.Samples, cfg.SignificanceLevel)
			} else {
				tr = stats.TwoProportionZTest(a.Wins, a.Samples, b.Wins, b.Samples, cfg.SignificanceLevel)
			}
			better := a.ArmID
			if !tr.BetterFirst {
				better = b.ArmID
			}
			tests = append(tests, PairwiseTest{
				ArmA:      a.ArmID,
				ArmB:      b.ArmID,
				Metric:    cfg.PrimaryMetric,
				Test:      tr,
				BetterArm: better,
			})
		}
	}
	return tests
}

// determineWinner prefers a significant pairwise test; otherwise it falls
// back to the practical-improvement heuristic.
func determineWinner(cfg *Config, results map[string]*Result, tests []PairwiseTest) *WinnerAnalysis {
	bestP := math.Inf(1)
	var bestTest *PairwiseTest
	for i := range tests {
		if tests[i].Test.Significant && tests[i].Test.PValue < bestP {
			bestP = tests[i].Test.PValue
			bestTest = &tests[i]
		}
	}
	if bestTest != nil {
		return &WinnerAnalysis{
			WinnerArmID: bestTest.BetterArm,
			Confidence:  1 - bestTest.Test.PValue,
			Method:      "statistical",
			Reasoning: fmt.Sprintf("arm %s beats %s on %s with p=%.4f",
				bestTest.BetterArm, otherArm(bestTest), bestTest.Metric, bestTest.Test.PValue),
		}
	}

	// Practical fallback: a documented heuristic, not a statistical test.
	// The best arm must improve on the mean of the others by >= 10% on
	// the primary metric; confidence is capped at 0.8.
	metric := func(r *Result) float64 {
		if cfg.PrimaryMetric == "roi" {
			return r.ROIPercentage
		}
		return r.WinRate
	}
	armIDs := make([]string, 0, len(cfg.Arms))
	for _, a := range cfg.Arms {
		armIDs = append(armIDs, a.ArmID)
	}
	sort.Strings(armIDs)

	bestArm := ""
	bestVal := math.Inf(-1)
	for _, id := range armIDs {
		if v := metric(results[id]); v > bestVal {
			bestVal = v
			bestArm = id
		}
	}
	var restSum float64
	for _, id := range armIDs {
		if id != bestArm {
			restSum += metric(results[id])
		}
	}
	restMean := restSum / float64(len(armIDs)-1)
	if restMean <= 0 || bestVal < restMean*1.10 {
		return nil
	}
	improvement := (bestVal - restMean) / restMean
	return &WinnerAnalysis{
		WinnerArmID: bestArm,
		Confidence:  math.Min(0.8, 0.5+improvement),
		Method:      "practical",
		Reasoning: fmt.Sprintf("arm %s improves %.1f%% over the mean of the other arms on %s (no significant test)",
			bestArm, improvement*100, cfg.PrimaryMetric),
	}
}

func otherArm(pt *PairwiseTest) string {
	if pt.BetterArm == pt.ArmA {
		return pt.ArmB
	}
	return pt.ArmA
}

// powerAnalysis approximates power as samples/500 capped at 0.95 and
// extrapolates days to the target from the observed enrollment rate.
func powerAnalysis(cfg *Config, totalSamples int, now time.Time) PowerAnalysis {
	const targetPower = 0.8
	const samplesForFullPower = 500

	power := math.Min(0.95, float64(totalSamples)/samplesForFullPower)
	pa := PowerAnalysis{Power: power, TargetPower: targetPower}
	if power >= targetPower {
		return pa
	}
	pa.AdditionalSamples = int(targetPower*samplesForFullPower) - totalSamples

	elapsed := now.Sub(cfg.StartTime)
	if elapsed > 0 && totalSamples > 0 {
		perDay := float64(totalSamples) / (elapsed.Hours() / 24)
		if perDay > 0 {
			pa.EstimatedDaysToTarget = float64(pa.AdditionalSamples) / perDay
		}
	}
	return pa
}

func riskSummary(cfg *Config, results map[string]*Result) RiskSummary {
	var rs RiskSummary
	first := true
	for _, arm := range cfg.Arms {
		r := results[arm.ArmID]
		if first || r.TotalProfit.LessThan(rs.WorstTotalProfit) {
			rs.WorstLossArm = r.ArmID
			rs.WorstTotalProfit = r.TotalProfit
		}
		if first || r.MaxDrawdown > rs.HighestDrawdownPct {
			rs.HighestDrawdownArm = r.ArmID
			rs.HighestDrawdownPct = r.MaxDrawdown
		}
		first = false
	}
	return rs
}

func recommendations(cfg *Config, a *Analysis) []string {
	var recs []string
	if a.Winner == nil {
		recs = append(recs, "No winner yet; continue collecting outcomes")
	} else if a.Winner.Method == "practical" {
		recs = append(recs, fmt.Sprintf("Arm %s leads on the practical heuristic only; keep running until a pairwise test reaches significance", a.Winner.WinnerArmID))
	} else {
		recs = append(recs, fmt.Sprintf("Arm %s is the statistical winner; consider stopping the experiment", a.Winner.WinnerArmID))
	}
	if a.Power.Power < a.Power.TargetPower {
		recs = append(recs, fmt.Sprintf("Estimated power %.2f below target %.2f; roughly %d more samples needed",
			a.Power.Power, a.Power.TargetPower, a.Power.AdditionalSamples))
	}
	if a.Risk.HighestDrawdownPct > cfg.Safety.MaxDrawdownPct*0.8 && cfg.Safety.MaxDrawdownPct > 0 {
		recs = append(recs, fmt.Sprintf("Arm %s drawdown %.1f%% is approaching the safety limit %.1f%%",
			a.Risk.HighestDrawdownArm, a.Risk.HighestDrawdownPct, cfg.Safety.MaxDrawdownPct))
	}
	return recs
}
