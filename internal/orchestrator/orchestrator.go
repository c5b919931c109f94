// Package orchestrator drives strategy workflows through the staged
// promotion pipeline, gating every transition on the stage criteria and
// delegating validation, A/B testing and model promotion to the engines.
package orchestrator

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/diamond-analytics/betting-backend/internal/abtest"
	"github.com/diamond-analytics/betting-backend/internal/backtest"
	"github.com/diamond-analytics/betting-backend/internal/metrics"
	"github.com/diamond-analytics/betting-backend/internal/mltrain"
	"github.com/diamond-analytics/betting-backend/internal/registry"
	"github.com/diamond-analytics/betting-backend/internal/storage"
	"github.com/diamond-analytics/betting-backend/internal/validation"
	"github.com/diamond-analytics/betting-backend/pkg/types"
)

// Config tunes the orchestrator's windows and pacing.
type Config struct {
	// AutoAdvanceDelay is the pause before a fully-automated workflow
	// schedules its next stage.
	AutoAdvanceDelay time.Duration `json:"auto_advance_delay"`
	// InterStageDelay rate-limits ExecuteFullWorkflow between stages.
	InterStageDelay time.Duration `json:"inter_stage_delay"`

	// Validation windows end LeadDays before now to avoid leakage into
	// the as-of date.
	ValidationWindowDays int `json:"validation_window_days"`
	BacktestWindowDays   int `json:"backtest_window_days"`
	LeadDays             int `json:"lead_days"`

	// PromotionWindow is handed to the registry for promotion validation.
	PromotionWindow time.Duration `json:"promotion_window"`
}

// DefaultConfig returns production pacing and windows.
func DefaultConfig() Config {
	return Config{
		AutoAdvanceDelay:     30 * time.Second,
		InterStageDelay:      2 * time.Second,
		ValidationWindowDays: 60,
		BacktestWindowDays:   150,
		LeadDays:             30,
		PromotionWindow:      90 * 24 * time.Hour,
	}
}

// workflowState pairs a workflow with its own mutex and the cancellation
// handle of any pending auto-progression. The per-workflow mutex closes
// the race between manual calls and the scheduled continuation.
type workflowState struct {
	mu         sync.Mutex
	wf         *types.StrategyWorkflow
	autoCancel context.CancelFunc
}

// stageFunc executes one stage's side effects. ok=false with a nil error is
// a domain failure (criteria/validation not met); an error is an
// infrastructure failure.
type stageFunc func(ctx context.Context, wf *types.StrategyWorkflow) (ok bool, err error)

// Orchestrator owns the active workflows.
type Orchestrator struct {
	mu     sync.RWMutex
	logger *zap.Logger
	cfg    Config

	validator *validation.Engine
	abEngine  *abtest.Engine
	registry  *registry.Registry
	factory   *backtest.Factory
	runner    validation.BacktestRunner
	trainer   mltrain.Trainer
	store     storage.WorkflowStore
	sink      types.AlertSink
	coll      *metrics.Collector
	now       func() time.Time

	workflows  map[string]*workflowState
	stageLogic map[types.WorkflowStage]stageFunc
	developers map[types.StrategyType]stageFunc
	criteria   map[types.WorkflowStage]TransitionCriteria
}

// New creates an orchestrator. sink and coll may be nil.
func New(
	logger *zap.Logger,
	cfg Config,
	validator *validation.Engine,
	abEngine *abtest.Engine,
	reg *registry.Registry,
	factory *backtest.Factory,
	runner validation.BacktestRunner,
	trainer mltrain.Trainer,
	store storage.WorkflowStore,
	sink types.AlertSink,
	coll *metrics.Collector,
) *Orchestrator {
	o := &Orchestrator{
		logger:    logger.Named("orchestrator"),
		cfg:       cfg,
		validator: validator,
		abEngine:  abEngine,
		registry:  reg,
		factory:   factory,
		runner:    runner,
		trainer:   trainer,
		store:     store,
		sink:      sink,
		coll:      coll,
		now:       func() time.Time { return time.Now().UTC() },
		workflows: make(map[string]*workflowState),
		criteria:  DefaultTransitionCriteria(),
	}
	o.stageLogic = map[types.WorkflowStage]stageFunc{
		types.StageDevelopment:  o.executeDevelopment,
		types.StageValidation:   o.executeValidation,
		types.StageBacktesting:  o.executeBacktesting,
		types.StagePaperTrading: o.executePaperTrading,
		types.StageStaging:      o.executeStaging,
		types.StageABTesting:    o.executeABTesting,
		types.StageProduction:   o.executeProduction,
		types.StageMonitoring:   o.executeMonitoring,
	}
	// Closed dispatch per strategy type; an unknown type fails at
	// workflow creation, not mid-stage.
	o.developers = map[types.StrategyType]stageFunc{
		types.StrategyRuleBased:    o.developRuleBased,
		types.StrategyMLPredictive: o.developML,
		types.StrategyHybrid:       o.developHybrid,
		types.StrategyEnsemble:     o.developHybrid,
	}
	return o
}

// CreateWorkflow validates the configuration and creates a workflow in
// IDEATION. Configuration errors leave no state behind.
func (o *Orchestrator) CreateWorkflow(ctx context.Context, cfg types.StrategyConfiguration, mode types.OrchestrationMode) (*types.StrategyWorkflow, error) {
	if cfg.Name == "" {
		return nil, fmt.Errorf("strategy name is required")
	}
	if !cfg.StrategyType.Valid() {
		return nil, fmt.Errorf("unknown strategy type %q", cfg.StrategyType)
	}
	if _, ok := o.developers[cfg.StrategyType]; !ok {
		return nil, fmt.Errorf("no development flow registered for %q", cfg.StrategyType)
	}
	switch mode {
	case types.ModeManual, types.ModeSemiAutomated, types.ModeFullyAutomated:
	default:
		return nil, fmt.Errorf("unknown orchestration mode %q", mode)
	}

	wf := types.NewStrategyWorkflow(uuid.NewString(), cfg, mode)
	if err := o.store.Save(ctx, wf); err != nil {
		return nil, types.WrapInfra("orchestrator.create_workflow", err)
	}

	o.mu.Lock()
	o.workflows[wf.WorkflowID] = &workflowState{wf: wf}
	o.mu.Unlock()
	o.coll.WorkflowTracked(1)

	o.logger.Info("Workflow created",
		zap.String("workflowId", wf.WorkflowID),
		zap.String("strategy", cfg.Name),
		zap.String("type", string(cfg.StrategyType)),
		zap.String("mode", string(mode)),
	)
	return o.snapshot(wf), nil
}

// ExecuteStage advances a workflow to target (default: the next stage).
// Unless forced, the target's transition criteria are checked first; a
// failed criterion returns false with an alert and no mutation. Stage-logic
// failures also leave the workflow unchanged so the caller may retry.
func (o *Orchestrator) ExecuteStage(ctx context.Context, workflowID string, target types.WorkflowStage, force bool) (bool, error) {
	state, err := o.state(workflowID)
	if err != nil {
		return false, err
	}
	state.mu.Lock()
	defer state.mu.Unlock()
	wf := state.wf

	if target == "" {
		target = types.NextStage(wf.CurrentStage)
		if target == "" {
			// Already at the last stage; the workflow is complete.
			return true, nil
		}
	}
	currentIdx := types.StageIndex(wf.CurrentStage)
	targetIdx := types.StageIndex(target)
	if targetIdx < 0 {
		return false, fmt.Errorf("stage %q is not on the promotion path", target)
	}
	if targetIdx <= currentIdx {
		return false, fmt.Errorf("cannot move backward from %s to %s", wf.CurrentStage, target)
	}
	if !force && targetIdx != currentIdx+1 {
		return false, fmt.Errorf("cannot skip from %s to %s without force", wf.CurrentStage, target)
	}

	if !force {
		if ok, reason := o.checkTransitionCriteria(wf, target); !ok {
			wf.AppendAlert("criteria_not_met", reason, "warning")
			o.publish(wf.Alerts[len(wf.Alerts)-1])
			o.coll.StageTransition(string(target), "criteria_not_met")
			if err := o.store.Update(ctx, wf); err != nil {
				return false, types.WrapInfra("orchestrator.execute_stage", err)
			}
			o.logger.Warn("Stage transition blocked",
				zap.String("workflowId", workflowID),
				zap.String("target", string(target)),
				zap.String("reason", reason),
			)
			return false, nil
		}
	}

	logic, ok := o.stageLogic[target]
	if !ok {
		return false, fmt.Errorf("no stage logic for %q", target)
	}
	stageOK, err := logic(ctx, wf)
	if err != nil {
		return false, err
	}
	if !stageOK {
		o.coll.StageTransition(string(target), "failed")
		if err := o.store.Update(ctx, wf); err != nil {
			return false, types.WrapInfra("orchestrator.execute_stage", err)
		}
		return false, nil
	}

	wf.CompletedStages = append(wf.CompletedStages, wf.CurrentStage)
	wf.CurrentStage = target
	wf.Status = types.StatusForStage(target)
	wf.UpdatedAt = o.now()
	wf.AppendAlert("stage_completed", fmt.Sprintf("stage %s completed", target), "info")
	o.publish(wf.Alerts[len(wf.Alerts)-1])
	o.coll.StageTransition(string(target), "completed")

	if err := o.store.Update(ctx, wf); err != nil {
		return false, types.WrapInfra("orchestrator.execute_stage", err)
	}

	o.logger.Info("Stage completed",
		zap.String("workflowId", workflowID),
		zap.String("stage", string(target)),
		zap.String("status", string(wf.Status)),
	)

	if wf.Mode == types.ModeFullyAutomated && types.NextStage(target) != "" {
		o.scheduleAutoAdvance(state)
	}
	return true, nil
}

// ExecuteFullWorkflow runs every intervening stage up to target in order,
// stopping at the first stage that does not complete. A fixed inter-stage
// delay rate-limits the run.
func (o *Orchestrator) ExecuteFullWorkflow(ctx context.Context, workflowID string, target types.WorkflowStage) (bool, error) {
	state, err := o.state(workflowID)
	if err != nil {
		return false, err
	}
	targetIdx := types.StageIndex(target)
	if targetIdx < 0 {
		return false, fmt.Errorf("stage %q is not on the promotion path", target)
	}

	for {
		state.mu.Lock()
		currentIdx := types.StageIndex(state.wf.CurrentStage)
		state.mu.Unlock()
		if currentIdx >= targetIdx {
			return true, nil
		}

		ok, err := o.ExecuteStage(ctx, workflowID, "", false)
		if err != nil {
			return false, err
		}
		if !ok {
			return false, nil
		}

		select {
		case <-ctx.Done():
			return false, ctx.Err()
		case <-time.After(o.cfg.InterStageDelay):
		}
	}
}

// PauseWorkflow stops any active A/B test tied to the workflow, cancels a
// pending auto-progression and marks the workflow paused. The current
// stage is not reset.
func (o *Orchestrator) PauseWorkflow(ctx context.Context, workflowID string) error {
	state, err := o.state(workflowID)
	if err != nil {
		return err
	}
	state.mu.Lock()
	defer state.mu.Unlock()
	wf := state.wf

	if state.autoCancel != nil {
		state.autoCancel()
		state.autoCancel = nil
	}
	if wf.ActiveExperimentID != "" {
		if _, err := o.abEngine.StopExperiment(ctx, wf.ActiveExperimentID, abtest.StopBusinessDecision, ""); err != nil {
			o.logger.Warn("Pause could not stop experiment",
				zap.String("workflowId", workflowID),
				zap.String("experimentId", wf.ActiveExperimentID),
				zap.Error(err),
			)
		}
		wf.ActiveExperimentID = ""
	}

	wf.Status = types.StatusPaused
	wf.UpdatedAt = o.now()
	wf.AppendAlert("workflow_paused", "workflow paused by operator", "info")
	o.publish(wf.Alerts[len(wf.Alerts)-1])
	if err := o.store.Update(ctx, wf); err != nil {
		return types.WrapInfra("orchestrator.pause_workflow", err)
	}
	o.logger.Info("Workflow paused", zap.String("workflowId", workflowID))
	return nil
}

// ResumeWorkflow restores the stage-derived status and re-arms
// auto-progression for fully-automated workflows. Criteria are not
// re-checked retroactively.
func (o *Orchestrator) ResumeWorkflow(ctx context.Context, workflowID string) error {
	state, err := o.state(workflowID)
	if err != nil {
		return err
	}
	state.mu.Lock()
	defer state.mu.Unlock()
	wf := state.wf

	wf.Status = types.StatusForStage(wf.CurrentStage)
	wf.UpdatedAt = o.now()
	wf.AppendAlert("workflow_resumed", "workflow resumed", "info")
	o.publish(wf.Alerts[len(wf.Alerts)-1])
	if err := o.store.Update(ctx, wf); err != nil {
		return types.WrapInfra("orchestrator.resume_workflow", err)
	}

	if wf.Mode == types.ModeFullyAutomated && types.NextStage(wf.CurrentStage) != "" {
		o.scheduleAutoAdvance(state)
	}
	o.logger.Info("Workflow resumed", zap.String("workflowId", workflowID))
	return nil
}

// Workflow returns a snapshot of a workflow's current state.
func (o *Orchestrator) Workflow(workflowID string) (*types.StrategyWorkflow, error) {
	state, err := o.state(workflowID)
	if err != nil {
		return nil, err
	}
	state.mu.Lock()
	defer state.mu.Unlock()
	return o.snapshot(state.wf), nil
}

// ListWorkflows returns snapshots of every tracked workflow.
func (o *Orchestrator) ListWorkflows() []*types.StrategyWorkflow {
	o.mu.RLock()
	states := make([]*workflowState, 0, len(o.workflows))
	for _, s := range o.workflows {
		states = append(states, s)
	}
	o.mu.RUnlock()

	out := make([]*types.StrategyWorkflow, 0, len(states))
	for _, s := range states {
		s.mu.Lock()
		out = append(out, o.snapshot(s.wf))
		s.mu.Unlock()
	}
	return out
}

// scheduleAutoAdvance arms the fully-automated continuation. The handle is
// owned by the workflow record so Pause can cancel it.
func (o *Orchestrator) scheduleAutoAdvance(state *workflowState) {
	if state.autoCancel != nil {
		state.autoCancel()
	}
	ctx, cancel := context.WithCancel(context.Background())
	state.autoCancel = cancel
	workflowID := state.wf.WorkflowID

	go func() {
		select {
		case <-ctx.Done():
			return
		case <-time.After(o.cfg.AutoAdvanceDelay):
		}
		if _, err := o.ExecuteStage(ctx, workflowID, "", false); err != nil {
			o.logger.Error("Auto-progression failed",
				zap.String("workflowId", workflowID),
				zap.Error(err),
			)
		}
	}()
}

func (o *Orchestrator) state(workflowID string) (*workflowState, error) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	state, ok := o.workflows[workflowID]
	if !ok {
		return nil, fmt.Errorf("workflow %q not found", workflowID)
	}
	return state, nil
}

func (o *Orchestrator) publish(a types.Alert) {
	if o.sink != nil {
		o.sink.Publish(a)
	}
}

// snapshot copies the mutable aggregate for external readers.
func (o *Orchestrator) snapshot(wf *types.StrategyWorkflow) *types.StrategyWorkflow {
	cp := *wf
	cp.CompletedStages = append([]types.WorkflowStage(nil), wf.CompletedStages...)
	cp.Alerts = append([]types.Alert(nil), wf.Alerts...)
	cp.ValidationResults = copyMetrics(wf.ValidationResults)
	cp.BacktestResults = copyMetrics(wf.BacktestResults)
	cp.ProductionMetrics = copyMetrics(wf.ProductionMetrics)
	cp.ABTestResults = make(map[string]string, len(wf.ABTestResults))
	for k, v := range wf.ABTestResults {
		cp.ABTestResults[k] = v
	}
	return &cp
}

func copyMetrics(in map[string]*types.PerformanceMetrics) map[string]*types.PerformanceMetrics {
	out := make(map[string]*types.PerformanceMetrics, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
