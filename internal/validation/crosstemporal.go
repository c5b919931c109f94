package validation

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/diamond-analytics/betting-backend/internal/backtest"
	"github.com/diamond-analytics/betting-backend/internal/stats"
	"github.com/diamond-analytics/betting-backend/pkg/types"
)

// FoldResult is one fold of a cross-temporal validation run.
type FoldResult struct {
	Fold       int       `json:"fold"`
	TrainStart time.Time `json:"train_start"`
	TrainEnd   time.Time `json:"train_end"`
	TestStart  time.Time `json:"test_start"`
	TestEnd    time.Time `json:"test_end"`
	WinRate    float64   `json:"win_rate"`
	ROI        float64   `json:"roi"`
	SampleSize int       `json:"sample_size"`
}

// CrossTemporalReport aggregates fold results.
type CrossTemporalReport struct {
	Folds       []FoldResult `json:"folds"`
	MeanROI     float64      `json:"mean_roi"`
	StdROI      float64      `json:"std_roi"`
	MeanWinRate float64      `json:"mean_win_rate"`
	StdWinRate  float64      `json:"std_win_rate"`
	// ConsistencyScore is 1 - std/mean ROI, floored at zero. A mean of
	// zero scores zero outright.
	ConsistencyScore float64 `json:"consistency_score"`
}

// CrossTemporalConfig controls fold construction. Purge is the gap between
// train end and test start; Embargo is the gap after test end before the
// next fold's training data may begin. Both exist to prevent lookahead
// leakage in sequential betting data.
type CrossTemporalConfig struct {
	Folds   int           `json:"folds"`
	Purge   time.Duration `json:"purge"`
	Embargo time.Duration `json:"embargo"`
}

// DefaultCrossTemporalConfig uses 5 folds with a 3-day purge and 2-day
// embargo.
func DefaultCrossTemporalConfig() CrossTemporalConfig {
	return CrossTemporalConfig{
		Folds:   5,
		Purge:   3 * 24 * time.Hour,
		Embargo: 2 * 24 * time.Hour,
	}
}

// ValidateCrossTemporal builds K time-ordered train/test folds over
// [start, end], retrains (when the strategy has prediction targets) and
// backtests each fold independently, then aggregates.
func (e *Engine) ValidateCrossTemporal(ctx context.Context, cfg *types.StrategyConfiguration, ctCfg CrossTemporalConfig, start, end time.Time) (*CrossTemporalReport, error) {
	if ctCfg.Folds < 2 {
		return nil, fmt.Errorf("cross-temporal validation needs at least 2 folds, got %d", ctCfg.Folds)
	}
	total := end.Sub(start)
	if total <= 0 {
		return nil, fmt.Errorf("invalid window: end %v not after start %v", end, start)
	}

	// Each fold consumes an equal slice of the window; within a slice the
	// first 70% trains and the remainder (after the purge gap) tests.
	foldSpan := total / time.Duration(ctCfg.Folds)
	report := &CrossTemporalReport{}

	proc, err := e.factory.Create(cfg.ProcessorType, cfg.RuleParameters)
	if err != nil {
		return nil, fmt.Errorf("create processor: %w", err)
	}
	runCfg := backtest.DefaultRunnerConfig()
	runCfg.MinConfidence = cfg.ConfidenceThreshold

	for i := 0; i < ctCfg.Folds; i++ {
		foldStart := start.Add(time.Duration(i) * foldSpan)
		foldEnd := foldStart.Add(foldSpan)
		trainEnd := foldStart.Add(foldSpan * 7 / 10)
		testStart := trainEnd.Add(ctCfg.Purge)
		testEnd := foldEnd.Add(-ctCfg.Embargo)
		if !testStart.Before(testEnd) {
			return nil, fmt.Errorf("fold %d: purge/embargo leave no test window", i)
		}

		if len(cfg.PredictionTargets) > 0 && e.trainer != nil {
			if _, err := e.trainer.Train(ctx, foldStart, trainEnd, cfg.PredictionTargets, 3); err != nil {
				return nil, fmt.Errorf("fold %d retrain: %w", i, err)
			}
		}

		bt, err := e.runner.Run(ctx, proc, runCfg, testStart, testEnd)
		if err != nil {
			return nil, fmt.Errorf("fold %d backtest: %w", i, err)
		}
		report.Folds = append(report.Folds, FoldResult{
			Fold:       i,
			TrainStart: foldStart,
			TrainEnd:   trainEnd,
			TestStart:  testStart,
			TestEnd:    testEnd,
			WinRate:    bt.WinRate,
			ROI:        bt.ROIPercentage,
			SampleSize: bt.SampleSize,
		})
	}

	rois := make([]float64, len(report.Folds))
	winRates := make([]float64, len(report.Folds))
	for i, f := range report.Folds {
		rois[i] = f.ROI
		winRates[i] = f.WinRate
	}
	report.MeanROI, report.StdROI = stats.MeanStd(rois)
	report.MeanWinRate, report.StdWinRate = stats.MeanStd(winRates)
	if report.MeanROI != 0 {
		consistency := 1 - report.StdROI/report.MeanROI
		if consistency > 0 {
			report.ConsistencyScore = consistency
		}
	}

	e.logger.Info("Cross-temporal validation complete",
		zap.String("strategy", cfg.StrategyID),
		zap.Int("folds", ctCfg.Folds),
		zap.Float64("meanROI", report.MeanROI),
		zap.Float64("consistency", report.ConsistencyScore),
	)
	return report, nil
}
