// Package mltrain defines the contract with the ML training service and the
// candidate-selection rule the registry and validation engine share.
package mltrain

import (
	"context"
	"time"
)

// CandidateResult holds one trained candidate model's test metrics.
type CandidateResult struct {
	ModelName          string             `json:"model_name"`
	Target             string             `json:"target"`
	Accuracy           float64            `json:"accuracy"`
	Precision          float64            `json:"precision"`
	Recall             float64            `json:"recall"`
	F1                 float64            `json:"f1"`
	ROCAUC             float64            `json:"roc_auc"`
	RMSE               float64            `json:"rmse"`
	Regression         bool               `json:"regression"`
	FeatureImportances map[string]float64 `json:"feature_importances,omitempty"`
}

// TrainResult is the outcome of one training run across candidates.
type TrainResult struct {
	Candidates []CandidateResult `json:"candidates"`
	Best       *CandidateResult  `json:"best,omitempty"`
}

// Trainer trains candidate models over a date range with cross-validation
// and returns their test metrics. Implementations live outside this core.
type Trainer interface {
	Train(ctx context.Context, start, end time.Time, targets []string, cvFolds int) (*TrainResult, error)
}

// SelectBest picks the best candidate: classification candidates by ROC-AUC,
// regression candidates by lowest RMSE. Returns nil for an empty slice.
func SelectBest(candidates []CandidateResult) *CandidateResult {
	var best *CandidateResult
	for i := range candidates {
		c := &candidates[i]
		if best == nil {
			best = c
			continue
		}
		if c.Regression != best.Regression {
			// Prefer classification candidates when both kinds exist.
			if best.Regression && !c.Regression {
				best = c
			}
			continue
		}
		if c.Regression {
			if c.RMSE < best.RMSE {
				best = c
			}
		} else if c.ROCAUC > best.ROCAUC {
			best = c
		}
	}
	return best
}
