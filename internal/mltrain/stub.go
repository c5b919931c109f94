package mltrain

import (
	"context"
	"hash/fnv"
	"time"

	"go.uber.org/zap"
)

// StubTrainer is a deterministic in-process trainer for development and
// tests. Metrics are derived from a hash of the target name so runs are
// reproducible without any training infrastructure.
type StubTrainer struct {
	logger *zap.Logger
}

// NewStubTrainer creates a stub trainer.
func NewStubTrainer(logger *zap.Logger) *StubTrainer {
	return &StubTrainer{logger: logger.Named("mltrain.stub")}
}

var candidateNames = []string{"gradient_boosting", "random_forest", "logistic_regression"}

// Train produces one candidate per built-in model family per target.
func (t *StubTrainer) Train(ctx context.Context, start, end time.Time, targets []string, cvFolds int) (*TrainResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	result := &TrainResult{}
	for _, target := range targets {
		for i, name := range candidateNames {
			base := 0.55 + stableJitter(target+name)*0.15
			result.Candidates = append(result.Candidates, CandidateResult{
				ModelName: name,
				Target:    target,
				Accuracy:  base,
				Precision: base - 0.01,
				Recall:    base - 0.02,
				F1:        base - 0.015,
				ROCAUC:    base + 0.03 - float64(i)*0.01,
				FeatureImportances: map[string]float64{
					"home_pitcher_era": 0.30,
					"bullpen_fatigue":  0.25,
					"park_factor":      0.20,
					"recent_team_woba": 0.15,
					"umpire_zone_bias": 0.10,
				},
			})
		}
	}
	result.Best = SelectBest(result.Candidates)
	t.logger.Debug("Stub training complete",
		zap.Int("candidates", len(result.Candidates)),
		zap.Strings("targets", targets),
	)
	return result, nil
}

// stableJitter maps a string to a stable value in [0, 1).
func stableJitter(s string) float64 {
	h := fnv.New32a()
	h.Write([]byte(s))
	return float64(h.Sum32()%1000) / 1000.0
}
