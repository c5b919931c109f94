// Package abtest implements the A/B experiment runtime: traffic
// allocation, outcome accounting, stopping rules and statistical analysis.
package abtest

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/diamond-analytics/betting-backend/pkg/types"
)

// TestType selects the allocation policy for an experiment.
type TestType string

const (
	TestFixedSplit         TestType = "fixed_split"
	TestMultiArmBandit     TestType = "multi_arm_bandit"
	TestChampionChallenger TestType = "champion_challenger"
)

// Status is an experiment's lifecycle state.
type Status string

const (
	StatusDraft        Status = "draft"
	StatusActive       Status = "active"
	StatusPaused       Status = "paused"
	StatusCompleted    Status = "completed"
	StatusStoppedEarly Status = "stopped_early"
	StatusFailed       Status = "failed"
)

// StopReason maps to a terminal status when an experiment ends.
type StopReason string

const (
	StopMaxSamples       StopReason = "max_samples_reached"
	StopTimeLimit        StopReason = "time_limit_reached"
	StopSignificance     StopReason = "statistical_significance"
	StopSafety           StopReason = "safety_threshold"
	StopBusinessDecision StopReason = "business_decision"
	StopManual           StopReason = "manual"
)

// terminalStatus maps a stop reason to the experiment's final status.
func terminalStatus(reason StopReason) Status {
	switch reason {
	case StopMaxSamples, StopTimeLimit:
		return StatusCompleted
	case StopSignificance, StopSafety, StopBusinessDecision, StopManual:
		return StatusStoppedEarly
	default:
		return StatusFailed
	}
}

// Arm is one strategy variant under test.
type Arm struct {
	ArmID      string                      `json:"arm_id"`
	Name       string                      `json:"name"`
	Strategy   types.StrategyConfiguration `json:"strategy"`
	Allocation float64                     `json:"allocation"`
	IsControl  bool                        `json:"is_control"`
}

// SafetyThresholds end-run an experiment that starts losing money faster
// than the business tolerates. Breaches raise alerts; they never raise
// errors, so in-flight experiment data survives a transient breach.
type SafetyThresholds struct {
	MaxDrawdownPct  float64         `json:"max_drawdown_pct"`
	MinWinRate      float64         `json:"min_win_rate"`
	MaxDailyLossArm decimal.Decimal `json:"max_daily_loss_per_arm"`
}

// DefaultSafetyThresholds returns conservative safety limits.
func DefaultSafetyThresholds() SafetyThresholds {
	return SafetyThresholds{
		MaxDrawdownPct:  30.0,
		MinWinRate:      0.35,
		MaxDailyLossArm: decimal.NewFromInt(1000),
	}
}

// Config describes one experiment. Arms and allocations are fixed at
// creation; Status and EndTime mutate over the lifecycle.
type Config struct {
	ExperimentID string   `json:"experiment_id"`
	Name         string   `json:"name"`
	TestType     TestType `json:"test_type"`
	Arms         []Arm    `json:"arms"`

	// PrimaryMetric is "win_rate" or "roi"; it picks which pairwise test
	// the significance stopping rule runs.
	PrimaryMetric string `json:"primary_metric"`

	MinSamplesPerArm  int           `json:"min_samples_per_arm"`
	MaxSamplesPerArm  int           `json:"max_samples_per_arm"`
	MaxDuration       time.Duration `json:"max_duration"`
	SignificanceLevel float64       `json:"significance_level"`
	ExplorationRate   float64       `json:"exploration_rate"`

	Safety SafetyThresholds `json:"safety"`

	Status    Status    `json:"status"`
	StartTime time.Time `json:"start_time"`
	EndTime   time.Time `json:"end_time"`
}

// Outcome is one recorded bet settlement for an arm.
type Outcome struct {
	Won       bool            `json:"won"`
	Profit    decimal.Decimal `json:"profit"`
	Volume    decimal.Decimal `json:"volume"`
	Timestamp time.Time       `json:"timestamp"`
}

// Result is the per-arm running aggregate. Derived fields (WinRate,
// ROIPercentage) are always recomputed from the cumulative sums so rounding
// drift cannot accumulate.
//
// MaxDrawdown is a simplification: it tracks the largest single loss
// relative to total volume, not a peak-to-trough equity measurement. True
// drawdown needs the full outcome history, which this aggregate does not
// keep.
type Result struct {
	ArmID         string          `json:"arm_id"`
	Samples       int             `json:"samples"`
	Wins          int             `json:"wins"`
	Losses        int             `json:"losses"`
	TotalProfit   decimal.Decimal `json:"total_profit"`
	TotalVolume   decimal.Decimal `json:"total_volume"`
	WinRate       float64         `json:"win_rate"`
	ROIPercentage float64         `json:"roi_percentage"`
	MaxDrawdown   float64         `json:"max_drawdown"`
	LastUpdated   time.Time       `json:"last_updated"`
}

// Archived is a terminated experiment: the final config, results and
// analysis kept for later inspection.
type Archived struct {
	Config     *Config            `json:"config"`
	Results    map[string]*Result `json:"results"`
	Reason     StopReason         `json:"reason"`
	WinnerArm  string             `json:"winner_arm,omitempty"`
	Analysis   *Analysis          `json:"analysis,omitempty"`
	ArchivedAt time.Time          `json:"archived_at"`
}

// Store persists experiments; the engine's in-memory maps are a
// persist-on-write cache over it.
type Store interface {
	SaveExperiment(ctx context.Context, cfg *Config) error
	UpdateExperiment(ctx context.Context, cfg *Config) error
	SaveResult(ctx context.Context, experimentID string, result *Result) error
	ArchiveExperiment(ctx context.Context, archived *Archived) error
}
