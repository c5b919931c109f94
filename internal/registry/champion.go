package registry

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/diamond-analytics/betting-backend/internal/abtest"
)

// ChampionChallengerDecision is the outcome of analyzing a
// champion/challenger experiment.
type ChampionChallengerDecision struct {
	ExperimentID   string  `json:"experiment_id"`
	Recommendation string  `json:"recommendation"` // "promote_challenger", "retain_champion", "continue"
	WinnerArmID    string  `json:"winner_arm_id,omitempty"`
	Confidence     float64 `json:"confidence"`
	Reasoning      string  `json:"reasoning"`
}

const (
	championArmID   = "champion"
	challengerArmID = "challenger"
	// promoteConfidenceFloor is the winner confidence a challenger must
	// clear before promotion is recommended.
	promoteConfidenceFloor = 0.8
)

// SetupChampionChallengerTest builds a two-arm champion/challenger
// experiment (champion as control) and tags the challenger version.
func (r *Registry) SetupChampionChallengerTest(ctx context.Context, championModel, championVersion, challengerModel, challengerVersion string, championSplit float64, maxDuration time.Duration) (string, error) {
	championCfg, ok := r.StrategyFor(championModel)
	if !ok {
		return "", fmt.Errorf("no strategy configuration linked to champion %q", championModel)
	}
	challengerCfg, ok := r.StrategyFor(challengerModel)
	if !ok {
		return "", fmt.Errorf("no strategy configuration linked to challenger %q", challengerModel)
	}
	if championSplit <= 0 || championSplit >= 1 {
		championSplit = 0.8
	}

	expCfg := &abtest.Config{
		Name:     fmt.Sprintf("champion-challenger %s vs %s", championModel, challengerModel),
		TestType: abtest.TestChampionChallenger,
		Arms: []abtest.Arm{
			{
				ArmID:      championArmID,
				Name:       championModel,
				Strategy:   *championCfg,
				Allocation: championSplit,
				IsControl:  true,
			},
			{
				ArmID:      challengerArmID,
				Name:       challengerModel,
				Strategy:   *challengerCfg,
				Allocation: 1 - championSplit,
			},
		},
		PrimaryMetric:    "win_rate",
		MinSamplesPerArm: 100,
		MaxSamplesPerArm: 2000,
		MaxDuration:      maxDuration,
		Safety:           abtest.DefaultSafetyThresholds(),
	}
	if err := r.abEngine.CreateExperiment(ctx, expCfg); err != nil {
		return "", fmt.Errorf("create champion/challenger experiment: %w", err)
	}

	if err := r.transition(ctx, challengerModel, challengerVersion, StageChallenger); err != nil {
		return "", err
	}

	r.mu.Lock()
	r.experiments[expCfg.ExperimentID] = &championChallengerPair{
		ChampionModel:     championModel,
		ChampionVersion:   championVersion,
		ChallengerModel:   challengerModel,
		ChallengerVersion: challengerVersion,
	}
	r.mu.Unlock()

	r.logger.Info("Champion/challenger test started",
		zap.String("experimentId", expCfg.ExperimentID),
		zap.String("champion", championModel),
		zap.String("challenger", challengerModel),
		zap.Float64("championSplit", championSplit),
	)
	return expCfg.ExperimentID, nil
}

// AnalyzeChampionChallengerResults inspects the experiment's winner
// analysis. The challenger is promoted only when it wins with confidence
// above the floor AND does not carry the higher drawdown risk; that safety
// override can downgrade a promote recommendation back to continue even
// with statistical significance.
func (r *Registry) AnalyzeChampionChallengerResults(ctx context.Context, experimentID string) (*ChampionChallengerDecision, error) {
	r.mu.RLock()
	_, tracked := r.experiments[experimentID]
	r.mu.RUnlock()
	if !tracked {
		return nil, fmt.Errorf("experiment %q is not a champion/challenger test", experimentID)
	}

	analysis, err := r.abEngine.AnalyzeExperiment(experimentID)
	if err != nil {
		return nil, err
	}

	decision := &ChampionChallengerDecision{ExperimentID: experimentID}
	if analysis.Winner == nil {
		decision.Recommendation = "continue"
		decision.Reasoning = "no winner determined yet"
		return decision, nil
	}

	decision.WinnerArmID = analysis.Winner.WinnerArmID
	decision.Confidence = analysis.Winner.Confidence

	if analysis.Winner.WinnerArmID != challengerArmID {
		decision.Recommendation = "retain_champion"
		decision.Reasoning = fmt.Sprintf("champion leads (%s)", analysis.Winner.Reasoning)
		return decision, nil
	}
	if analysis.Winner.Confidence <= promoteConfidenceFloor {
		decision.Recommendation = "continue"
		decision.Reasoning = fmt.Sprintf("challenger leads but confidence %.2f has not cleared %.2f",
			analysis.Winner.Confidence, promoteConfidenceFloor)
		return decision, nil
	}
	if analysis.Risk.HighestDrawdownArm == challengerArmID {
		decision.Recommendation = "continue"
		decision.Reasoning = fmt.Sprintf("challenger wins with confidence %.2f but carries the higher drawdown (%.1f%%); holding promotion",
			analysis.Winner.Confidence, analysis.Risk.HighestDrawdownPct)
		return decision, nil
	}

	decision.Recommendation = "promote_challenger"
	decision.Reasoning = analysis.Winner.Reasoning
	return decision, nil
}

// ExecuteChampionChallengerDecision performs the stage transitions for a
// promote/retain decision and stops the underlying experiment.
func (r *Registry) ExecuteChampionChallengerDecision(ctx context.Context, decision *ChampionChallengerDecision) error {
	r.mu.RLock()
	pair, ok := r.experiments[decision.ExperimentID]
	r.mu.RUnlock()
	if !ok {
		return fmt.Errorf("experiment %q is not a champion/challenger test", decision.ExperimentID)
	}

	switch decision.Recommendation {
	case "promote_challenger":
		if err := r.transition(ctx, pair.ChallengerModel, pair.ChallengerVersion, StageChampion); err != nil {
			return err
		}
		if err := r.transition(ctx, pair.ChampionModel, pair.ChampionVersion, StageArchived); err != nil {
			return err
		}
		r.coll.Promotion(string(StageChampion))
	case "retain_champion":
		if err := r.transition(ctx, pair.ChallengerModel, pair.ChallengerVersion, StageArchived); err != nil {
			return err
		}
	default:
		return fmt.Errorf("decision %q is not executable", decision.Recommendation)
	}

	winner := ""
	if decision.Recommendation == "promote_challenger" {
		winner = challengerArmID
	} else {
		winner = championArmID
	}
	if _, err := r.abEngine.StopExperiment(ctx, decision.ExperimentID, abtest.StopBusinessDecision, winner); err != nil {
		return err
	}

	r.mu.Lock()
	delete(r.experiments, decision.ExperimentID)
	r.mu.Unlock()

	r.logger.Info("Champion/challenger decision executed",
		zap.String("experimentId", decision.ExperimentID),
		zap.String("recommendation", decision.Recommendation),
	)
	return nil
}

// StopChampionChallengerTest stops a tracked experiment without a stage
// change, used when a workflow is paused.
func (r *Registry) StopChampionChallengerTest(ctx context.Context, experimentID string, reason abtest.StopReason) error {
	if _, err := r.abEngine.StopExperiment(ctx, experimentID, reason, ""); err != nil {
		return err
	}
	r.mu.Lock()
	delete(r.experiments, experimentID)
	r.mu.Unlock()
	return nil
}
