// Package registry layers betting-specific promotion criteria and
// champion/challenger orchestration on top of an opaque versioned model
// registry backend.
package registry

import (
	"github.com/diamond-analytics/betting-backend/internal/validation"
)

// Stage is the betting-specific model lifecycle stage, richer than the
// backend's native 4-stage enum. It is stored as a version tag.
type Stage string

const (
	StageDevelopment  Stage = "development"
	StageBacktesting  Stage = "backtesting"
	StagePaperTrading Stage = "paper_trading"
	StageStaging      Stage = "staging"
	StageProduction   Stage = "production"
	StageChampion     Stage = "champion"
	StageChallenger   Stage = "challenger"
	StageArchived     Stage = "archived"
	StageDeprecated   Stage = "deprecated"
)

// BackendStage is the backend registry's native stage enum.
type BackendStage string

const (
	BackendNone       BackendStage = "None"
	BackendStaging    BackendStage = "Staging"
	BackendProduction BackendStage = "Production"
	BackendArchived   BackendStage = "Archived"
)

// backendStageFor maps a betting stage to the backend's native stage.
var backendStageFor = map[Stage]BackendStage{
	StageDevelopment:  BackendNone,
	StageBacktesting:  BackendNone,
	StagePaperTrading: BackendStaging,
	StageStaging:      BackendStaging,
	StageChallenger:   BackendStaging,
	StageProduction:   BackendProduction,
	StageChampion:     BackendProduction,
	StageArchived:     BackendArchived,
	StageDeprecated:   BackendArchived,
}

// phaseFor maps a promotion target stage to the validation phase that must
// pass before the promotion criteria are even consulted.
var phaseFor = map[Stage]validation.Phase{
	StageBacktesting:  validation.PhaseDevelopment,
	StagePaperTrading: validation.PhasePreStaging,
	StageStaging:      validation.PhaseStaging,
	StageProduction:   validation.PhasePreProduction,
	StageChampion:     validation.PhaseProduction,
}

// PromotionCriteria are the per-stage thresholds a model must clear. Nil
// fields are not applicable; every defined threshold must pass.
type PromotionCriteria struct {
	MinAccuracy   *float64 `json:"min_accuracy,omitempty"`
	MinROCAUC     *float64 `json:"min_roc_auc,omitempty"`
	MinROI        *float64 `json:"min_roi,omitempty"`
	MinWinRate    *float64 `json:"min_win_rate,omitempty"`
	MaxDrawdown   *float64 `json:"max_drawdown,omitempty"`
	MinSharpe     *float64 `json:"min_sharpe,omitempty"`
	MinSampleSize *int     `json:"min_sample_size,omitempty"`
	MinProfit     *float64 `json:"min_profit,omitempty"`
	MaxPValue     *float64 `json:"max_p_value,omitempty"`
}

func f(v float64) *float64 { return &v }
func n(v int) *int         { return &v }

// DefaultPromotionCriteria returns the per-stage criteria table. Rigor
// increases toward champion.
func DefaultPromotionCriteria() map[Stage]PromotionCriteria {
	return map[Stage]PromotionCriteria{
		StageBacktesting: {
			MinROI:        f(0.5),
			MinWinRate:    f(0.50),
			MaxDrawdown:   f(35.0),
			MinSampleSize: n(50),
		},
		StagePaperTrading: {
			MinAccuracy:   f(0.54),
			MinROI:        f(1.0),
			MinWinRate:    f(0.51),
			MaxDrawdown:   f(30.0),
			MinSampleSize: n(100),
		},
		StageStaging: {
			MinAccuracy:   f(0.55),
			MinROCAUC:     f(0.58),
			MinROI:        f(2.0),
			MinWinRate:    f(0.52),
			MaxDrawdown:   f(25.0),
			MinSampleSize: n(150),
		},
		StageProduction: {
			MinAccuracy:   f(0.56),
			MinROCAUC:     f(0.60),
			MinROI:        f(3.0),
			MinWinRate:    f(0.53),
			MaxDrawdown:   f(20.0),
			MinSharpe:     f(0.1),
			MinSampleSize: n(200),
			MinProfit:     f(0.0),
			MaxPValue:     f(0.05),
		},
		StageChampion: {
			MinAccuracy:   f(0.57),
			MinROCAUC:     f(0.62),
			MinROI:        f(4.0),
			MinWinRate:    f(0.54),
			MaxDrawdown:   f(15.0),
			MinSharpe:     f(0.15),
			MinSampleSize: n(300),
			MinProfit:     f(0.0),
			MaxPValue:     f(0.05),
		},
	}
}
