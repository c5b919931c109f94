// Package validation runs multi-phase strategy validation: backtest
// performance, optional ML metrics, risk metrics, significance testing and
// phase threshold evaluation.
package validation

// Phase is a validation rigor level. Phases align conceptually with
// workflow stages but keep their own threshold table.
type Phase string

const (
	PhaseDevelopment   Phase = "development"
	PhasePreStaging    Phase = "pre_staging"
	PhaseStaging       Phase = "staging"
	PhasePreProduction Phase = "pre_production"
	PhaseProduction    Phase = "production"
)

// PhaseThresholds are the minimum requirements for one phase. A zero
// MinAccuracy/MinROCAUC disables the ML checks for strategies without ML
// metrics; the betting checks always apply.
type PhaseThresholds struct {
	MinAccuracy   float64 `json:"min_accuracy"`
	MinROCAUC     float64 `json:"min_roc_auc"`
	MinROI        float64 `json:"min_roi"`
	MinWinRate    float64 `json:"min_win_rate"`
	MaxDrawdown   float64 `json:"max_drawdown"`
	MinSampleSize int     `json:"min_sample_size"`
}

// DefaultPhaseThresholds returns the standard threshold table. Rigor
// increases strictly from development to production.
func DefaultPhaseThresholds() map[Phase]PhaseThresholds {
	return map[Phase]PhaseThresholds{
		PhaseDevelopment: {
			MinAccuracy:   0.53,
			MinROCAUC:     0.55,
			MinROI:        0.5,
			MinWinRate:    0.50,
			MaxDrawdown:   35.0,
			MinSampleSize: 50,
		},
		PhasePreStaging: {
			MinAccuracy:   0.54,
			MinROCAUC:     0.57,
			MinROI:        1.0,
			MinWinRate:    0.51,
			MaxDrawdown:   30.0,
			MinSampleSize: 100,
		},
		PhaseStaging: {
			MinAccuracy:   0.55,
			MinROCAUC:     0.58,
			MinROI:        2.0,
			MinWinRate:    0.52,
			MaxDrawdown:   25.0,
			MinSampleSize: 150,
		},
		PhasePreProduction: {
			MinAccuracy:   0.56,
			MinROCAUC:     0.60,
			MinROI:        3.0,
			MinWinRate:    0.53,
			MaxDrawdown:   20.0,
			MinSampleSize: 200,
		},
		PhaseProduction: {
			MinAccuracy:   0.57,
			MinROCAUC:     0.62,
			MinROI:        4.0,
			MinWinRate:    0.54,
			MaxDrawdown:   15.0,
			MinSampleSize: 300,
		},
	}
}
