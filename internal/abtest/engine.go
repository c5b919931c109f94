package abtest

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/diamond-analytics/betting-backend/internal/metrics"
	"github.com/diamond-analytics/betting-backend/pkg/types"
)

const (
	// minSamplesForSignificance is the per-arm floor before any pairwise
	// test runs.
	minSamplesForSignificance = 20
	// minBanditSamples is the total sample count before epsilon-greedy
	// reallocation kicks in.
	minBanditSamples = 50
	// minArmSamplesForBandit is the per-arm count below which an arm
	// scores zero in the bandit's best-arm selection.
	minArmSamplesForBandit = 10
	// allocationTolerance is the rounding slack allowed when fixed-split
	// allocations are validated against 1.0.
	allocationTolerance = 0.05
)

// Deployer optionally receives the winning arm's strategy when an
// experiment stops with a winner.
type Deployer interface {
	DeployWinner(ctx context.Context, cfg *Config, arm *Arm) error
}

// Engine owns the active experiments. All mutations go through RecordOutcome
// and StopExperiment; in-memory maps are mirrored to the store on every
// write.
type Engine struct {
	mu       sync.RWMutex
	logger   *zap.Logger
	store    Store
	sink     types.AlertSink
	deployer Deployer
	coll     *metrics.Collector
	rng      *rand.Rand
	now      func() time.Time

	experiments map[string]*Config
	results     map[string]map[string]*Result
	allocations map[string]map[string]float64
	safetyHit   map[string]bool
	archive     map[string]*Archived
	alerts      []types.Alert
}

// NewEngine creates an A/B testing engine. src seeds the (only) randomized
// decision point, traffic allocation, so tests can make it reproducible.
// sink, deployer and coll may be nil.
func NewEngine(logger *zap.Logger, store Store, sink types.AlertSink, coll *metrics.Collector, src rand.Source) *Engine {
	if src == nil {
		src = rand.NewSource(time.Now().UnixNano())
	}
	return &Engine{
		logger:      logger.Named("abtest"),
		store:       store,
		sink:        sink,
		coll:        coll,
		rng:         rand.New(src),
		now:         func() time.Time { return time.Now().UTC() },
		experiments: make(map[string]*Config),
		results:     make(map[string]map[string]*Result),
		allocations: make(map[string]map[string]float64),
		safetyHit:   make(map[string]bool),
		archive:     make(map[string]*Archived),
	}
}

// SetDeployer wires the downstream deployment hook.
func (e *Engine) SetDeployer(d Deployer) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.deployer = d
}

// CreateExperiment validates and activates a new experiment. Configuration
// errors leave no state behind.
func (e *Engine) CreateExperiment(ctx context.Context, cfg *Config) error {
	if len(cfg.Arms) < 2 {
		return fmt.Errorf("experiment needs at least 2 arms, got %d", len(cfg.Arms))
	}
	seen := make(map[string]bool, len(cfg.Arms))
	for _, arm := range cfg.Arms {
		if arm.ArmID == "" {
			return fmt.Errorf("arm %q has no id", arm.Name)
		}
		if seen[arm.ArmID] {
			return fmt.Errorf("duplicate arm id %q", arm.ArmID)
		}
		seen[arm.ArmID] = true
	}
	if cfg.TestType != TestMultiArmBandit {
		var sum float64
		for _, arm := range cfg.Arms {
			sum += arm.Allocation
		}
		if math.Abs(sum-1.0) > allocationTolerance {
			return fmt.Errorf("arm allocations sum to %.3f, want 1.0 within %.2f", sum, allocationTolerance)
		}
	}
	if cfg.ExperimentID == "" {
		cfg.ExperimentID = uuid.NewString()
	}
	if cfg.SignificanceLevel <= 0 {
		cfg.SignificanceLevel = 0.05
	}
	if cfg.PrimaryMetric == "" {
		cfg.PrimaryMetric = "win_rate"
	}

	now := e.now()
	cfg.Status = StatusActive
	cfg.StartTime = now
	cfg.EndTime = now.Add(cfg.MaxDuration)

	// Fixed-split experiments honor declared allocations; bandits start
	// uniform regardless of what the arms declare.
	alloc := make(map[string]float64, len(cfg.Arms))
	results := make(map[string]*Result, len(cfg.Arms))
	for _, arm := range cfg.Arms {
		if cfg.TestType == TestMultiArmBandit {
			alloc[arm.ArmID] = 1.0 / float64(len(cfg.Arms))
		} else {
			alloc[arm.ArmID] = arm.Allocation
		}
		results[arm.ArmID] = &Result{ArmID: arm.ArmID, LastUpdated: now}
	}

	if err := e.store.SaveExperiment(ctx, cfg); err != nil {
		return types.WrapInfra("abtest.create_experiment", err)
	}
	for _, r := range results {
		if err := e.store.SaveResult(ctx, cfg.ExperimentID, r); err != nil {
			return types.WrapInfra("abtest.create_experiment", err)
		}
	}

	e.mu.Lock()
	e.experiments[cfg.ExperimentID] = cfg
	e.results[cfg.ExperimentID] = results
	e.allocations[cfg.ExperimentID] = alloc
	e.mu.Unlock()

	e.coll.ExperimentStarted()
	e.logger.Info("Experiment created",
		zap.String("experimentId", cfg.ExperimentID),
		zap.String("type", string(cfg.TestType)),
		zap.Int("arms", len(cfg.Arms)),
	)
	return nil
}

// AllocateTraffic samples one arm id proportionally to the current
// allocation map. Invalid or zero weights fall back to a uniform draw.
func (e *Engine) AllocateTraffic(experimentID string) (string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	cfg, ok := e.experiments[experimentID]
	if !ok {
		return "", fmt.Errorf("experiment %q is not active", experimentID)
	}
	now := e.now()
	if now.Before(cfg.StartTime) || now.After(cfg.EndTime) {
		return "", fmt.Errorf("experiment %q is outside its active window", experimentID)
	}

	alloc := e.allocations[experimentID]
	var sum float64
	for _, w := range alloc {
		if w > 0 && !math.IsNaN(w) && !math.IsInf(w, 0) {
			sum += w
		}
	}
	if sum <= 0 {
		// All weights invalid; uniform draw over the declared arms.
		return cfg.Arms[e.rng.Intn(len(cfg.Arms))].ArmID, nil
	}

	target := e.rng.Float64() * sum
	var cursor float64
	for _, arm := range cfg.Arms {
		w := alloc[arm.ArmID]
		if w <= 0 || math.IsNaN(w) || math.IsInf(w, 0) {
			continue
		}
		cursor += w
		if target < cursor {
			return arm.ArmID, nil
		}
	}
	// Floating rounding at the upper edge lands on the last valid arm.
	return cfg.Arms[len(cfg.Arms)-1].ArmID, nil
}

// RecordOutcome ingests one settled bet for an arm: updates the running
// aggregate, checks safety thresholds, reallocates bandit traffic and
// evaluates the stopping rules. The first matching stopping rule terminates
// the experiment; rules are mutually exclusive per call.
func (e *Engine) RecordOutcome(ctx context.Context, experimentID, armID string, outcome Outcome) error {
	e.mu.Lock()

	cfg, ok := e.experiments[experimentID]
	if !ok {
		e.mu.Unlock()
		return fmt.Errorf("experiment %q is not active", experimentID)
	}
	result, ok := e.results[experimentID][armID]
	if !ok {
		e.mu.Unlock()
		return fmt.Errorf("experiment %q has no arm %q", experimentID, armID)
	}

	now := e.now()
	result.Samples++
	if outcome.Won {
		result.Wins++
	} else {
		result.Losses++
	}
	result.TotalProfit = result.TotalProfit.Add(outcome.Profit)
	result.TotalVolume = result.TotalVolume.Add(outcome.Volume)

	// Always recompute from cumulative sums so drift cannot accumulate.
	result.WinRate = float64(result.Wins) / float64(result.Samples)
	if result.TotalVolume.IsPositive() {
		roi, _ := result.TotalProfit.Div(result.TotalVolume).Mul(decimalHundred).Float64()
		result.ROIPercentage = roi
	}
	if !outcome.Won && result.TotalVolume.IsPositive() {
		lossPct, _ := outcome.Profit.Abs().Div(result.TotalVolume).Mul(decimalHundred).Float64()
		if lossPct > result.MaxDrawdown {
			result.MaxDrawdown = lossPct
		}
	}
	result.LastUpdated = now

	e.checkSafetyLocked(cfg, result, outcome)

	if cfg.TestType == TestMultiArmBandit {
		e.reallocateBanditLocked(cfg)
	}

	reason, winner := e.evaluateStoppingRulesLocked(cfg)

	// Snapshot for persistence outside the stop path.
	saved := *result
	e.mu.Unlock()

	if outcome.Won {
		e.coll.OutcomeRecorded("win")
	} else {
		e.coll.OutcomeRecorded("loss")
	}
	if err := e.store.SaveResult(ctx, experimentID, &saved); err != nil {
		return types.WrapInfra("abtest.record_outcome", err)
	}

	if reason != "" {
		if _, err := e.StopExperiment(ctx, experimentID, reason, winner); err != nil {
			return err
		}
	}
	return nil
}

// checkSafetyLocked appends typed alerts for any breached safety threshold.
// Breaches never raise; the stopping-rule evaluation picks them up.
func (e *Engine) checkSafetyLocked(cfg *Config, result *Result, outcome Outcome) {
	breach := func(alertType, msg string) {
		a := types.Alert{
			Type:      alertType,
			Message:   msg,
			Severity:  "critical",
			Source:    cfg.ExperimentID + "/" + result.ArmID,
			Timestamp: e.now(),
		}
		e.alerts = append(e.alerts, a)
		e.safetyHit[cfg.ExperimentID] = true
		if e.sink != nil {
			e.sink.Publish(a)
		}
		e.logger.Warn("Safety threshold breached",
			zap.String("experimentId", cfg.ExperimentID),
			zap.String("arm", result.ArmID),
			zap.String("type", alertType),
		)
	}

	if cfg.Safety.MaxDrawdownPct > 0 && result.MaxDrawdown > cfg.Safety.MaxDrawdownPct {
		breach("drawdown_exceeded", fmt.Sprintf("arm %s drawdown %.1f%% over limit %.1f%%",
			result.ArmID, result.MaxDrawdown, cfg.Safety.MaxDrawdownPct))
	}
	if cfg.Safety.MinWinRate > 0 && result.Samples >= 20 && result.WinRate < cfg.Safety.MinWinRate {
		breach("win_rate_floor", fmt.Sprintf("arm %s win rate %.3f under floor %.3f after %d samples",
			result.ArmID, result.WinRate, cfg.Safety.MinWinRate, result.Samples))
	}
	if cfg.Safety.MaxDailyLossArm.IsPositive() && outcome.Profit.IsNegative() &&
		outcome.Profit.Abs().GreaterThan(cfg.Safety.MaxDailyLossArm) {
		breach("daily_loss_cap", fmt.Sprintf("arm %s single loss %s exceeds daily cap %s",
			result.ArmID, outcome.Profit.Abs(), cfg.Safety.MaxDailyLossArm))
	}
}

// reallocateBanditLocked recomputes epsilon-greedy allocations: once enough
// total samples exist, the exploration budget spreads uniformly over all
// arms and the remainder goes to the highest-ROI arm. Arms with too few
// samples score zero so a new arm cannot capture the exploit share on noise.
func (e *Engine) reallocateBanditLocked(cfg *Config) {
	results := e.results[cfg.ExperimentID]
	total := 0
	for _, r := range results {
		total += r.Samples
	}
	if total < minBanditSamples {
		return
	}

	bestArm := cfg.Arms[0].ArmID
	bestROI := math.Inf(-1)
	for _, arm := range cfg.Arms {
		score := 0.0
		if r := results[arm.ArmID]; r.Samples >= minArmSamplesForBandit {
			score = r.ROIPercentage
		}
		if score > bestROI {
			bestROI = score
			bestArm = arm.ArmID
		}
	}

	explore := cfg.ExplorationRate / float64(len(cfg.Arms))
	alloc := e.allocations[cfg.ExperimentID]
	for _, arm := range cfg.Arms {
		alloc[arm.ArmID] = explore
	}
	alloc[bestArm] += 1.0 - cfg.ExplorationRate
}

// evaluateStoppingRulesLocked returns the first matching stop reason in
// fixed priority order, with the statistical winner when significance is
// the trigger.
func (e *Engine) evaluateStoppingRulesLocked(cfg *Config) (StopReason, string) {
	results := e.results[cfg.ExperimentID]
	total := 0
	for _, r := range results {
		total += r.Samples
	}

	if cfg.MaxSamplesPerArm > 0 && total >= cfg.MaxSamplesPerArm*len(cfg.Arms) {
		return StopMaxSamples, ""
	}
	if e.now().After(cfg.EndTime) {
		return StopTimeLimit, ""
	}
	if winner, ok := e.statisticalWinnerLocked(cfg); ok {
		return StopSignificance, winner
	}
	if e.safetyHit[cfg.ExperimentID] {
		return StopSafety, ""
	}
	return "", ""
}

// statisticalWinnerLocked runs all pairwise tests on the primary metric and
// returns the better arm of the lowest-p significant pair.
func (e *Engine) statisticalWinnerLocked(cfg *Config) (string, bool) {
	results := e.results[cfg.ExperimentID]
	total := 0
	for _, r := range results {
		if r.Samples < minSamplesForSignificance {
			return "", false
		}
		total += r.Samples
	}
	if total < cfg.MinSamplesPerArm*len(cfg.Arms) {
		return "", false
	}

	tests := pairwiseTests(cfg, results)
	bestP := math.Inf(1)
	winner := ""
	for _, pt := range tests {
		if pt.Test.Significant && pt.Test.PValue < bestP {
			bestP = pt.Test.PValue
			winner = pt.BetterArm
		}
	}
	return winner, winner != ""
}

// Alerts returns a copy of the engine's global alert log.
func (e *Engine) Alerts() []types.Alert {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]types.Alert, len(e.alerts))
	copy(out, e.alerts)
	return out
}

// Experiment returns the config of an active experiment.
func (e *Engine) Experiment(experimentID string) (*Config, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	cfg, ok := e.experiments[experimentID]
	return cfg, ok
}

// ActiveExperiments lists the ids currently in the active set.
func (e *Engine) ActiveExperiments() []string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	ids := make([]string, 0, len(e.experiments))
	for id := range e.experiments {
		ids = append(ids, id)
	}
	return ids
}

// Allocations returns a copy of the current allocation map.
func (e *Engine) Allocations(experimentID string) (map[string]float64, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	alloc, ok := e.allocations[experimentID]
	if !ok {
		return nil, false
	}
	out := make(map[string]float64, len(alloc))
	for k, v := range alloc {
		out[k] = v
	}
	return out, true
}

// Results returns a copy of the per-arm running aggregates.
func (e *Engine) Results(experimentID string) (map[string]*Result, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	results, ok := e.results[experimentID]
	if !ok {
		return nil, false
	}
	out := make(map[string]*Result, len(results))
	for k, v := range results {
		cp := *v
		out[k] = &cp
	}
	return out, true
}

// ArchivedExperiment returns a stopped experiment's archive record.
func (e *Engine) ArchivedExperiment(experimentID string) (*Archived, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	a, ok := e.archive[experimentID]
	return a, ok
}

// StopExperiment terminates an experiment: maps the reason to a terminal
// status, runs a final analysis, optionally deploys the winner, archives
// the record and removes it from the active maps. Removal is irreversible
// within this engine.
func (e *Engine) StopExperiment(ctx context.Context, experimentID string, reason StopReason, winnerArmID string) (*Archived, error) {
	e.mu.Lock()
	cfg, ok := e.experiments[experimentID]
	if !ok {
		e.mu.Unlock()
		return nil, fmt.Errorf("experiment %q is not active", experimentID)
	}

	cfg.Status = terminalStatus(reason)
	cfg.EndTime = e.now()

	analysis := e.analyzeLocked(cfg)
	if winnerArmID == "" && analysis.Winner != nil {
		winnerArmID = analysis.Winner.WinnerArmID
	}

	archived := &Archived{
		Config:     cfg,
		Results:    e.results[experimentID],
		Reason:     reason,
		WinnerArm:  winnerArmID,
		Analysis:   analysis,
		ArchivedAt: e.now(),
	}
	e.archive[experimentID] = archived

	var winnerArm *Arm
	for i := range cfg.Arms {
		if cfg.Arms[i].ArmID == winnerArmID {
			winnerArm = &cfg.Arms[i]
			break
		}
	}
	deployer := e.deployer

	delete(e.experiments, experimentID)
	delete(e.results, experimentID)
	delete(e.allocations, experimentID)
	delete(e.safetyHit, experimentID)
	e.mu.Unlock()

	if err := e.store.UpdateExperiment(ctx, cfg); err != nil {
		return nil, types.WrapInfra("abtest.stop_experiment", err)
	}
	if err := e.store.ArchiveExperiment(ctx, archived); err != nil {
		return nil, types.WrapInfra("abtest.stop_experiment", err)
	}

	if deployer != nil && winnerArm != nil {
		if err := deployer.DeployWinner(ctx, cfg, winnerArm); err != nil {
			e.logger.Error("Winner deployment failed",
				zap.String("experimentId", experimentID),
				zap.String("arm", winnerArm.ArmID),
				zap.Error(err),
			)
		}
	}

	e.coll.ExperimentStopped(string(reason))
	e.logger.Info("Experiment stopped",
		zap.String("experimentId", experimentID),
		zap.String("reason", string(reason)),
		zap.String("winner", winnerArmID),
		zap.String("status", string(cfg.Status)),
	)
	return archived, nil
}
