package orchestrator_test

import (
	"context"
	"math/rand"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/diamond-analytics/betting-backend/internal/abtest"
	"github.com/diamond-analytics/betting-backend/internal/backtest"
	"github.com/diamond-analytics/betting-backend/internal/orchestrator"
	"github.com/diamond-analytics/betting-backend/internal/registry"
	"github.com/diamond-analytics/betting-backend/internal/storage/memory"
	"github.com/diamond-analytics/betting-backend/internal/validation"
	"github.com/diamond-analytics/betting-backend/pkg/types"
)

type settableRunner struct {
	result *backtest.Result
}

func (r *settableRunner) Run(ctx context.Context, proc backtest.Processor, cfg backtest.RunnerConfig, start, end time.Time) (*backtest.Result, error) {
	return r.result, nil
}

type noopProcessor struct{}

func (noopProcessor) Recommendations(ctx context.Context, start, end time.Time) ([]backtest.Recommendation, error) {
	return nil, nil
}

type fixture struct {
	orch   *orchestrator.Orchestrator
	store  *memory.WorkflowStore
	runner *settableRunner
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	logger := zap.NewNop()

	factory := backtest.NewFactory(logger)
	factory.Register("fixed", func(params map[string]any) (backtest.Processor, error) {
		return noopProcessor{}, nil
	})
	runner := &settableRunner{result: &backtest.Result{
		WinRate:        0.58,
		ROIPercentage:  5.0,
		TotalProfit:    decimal.NewFromInt(2000),
		MaxDrawdownPct: 10.0,
		ProfitFactor:   1.5,
		SampleSize:     400,
	}}
	validator := validation.NewEngine(logger, factory, runner, nil)
	abEngine := abtest.NewEngine(logger, memory.NewExperimentStore(), nil, nil, rand.NewSource(9))
	reg := registry.NewRegistry(logger, registry.NewMemoryBackend(), validator, abEngine, memory.NewModelHistoryStore(), nil)
	store := memory.NewWorkflowStore()

	cfg := orchestrator.DefaultConfig()
	cfg.InterStageDelay = 0
	cfg.AutoAdvanceDelay = time.Hour // never fires within a test

	orch := orchestrator.New(logger, cfg, validator, abEngine, reg, factory, runner, nil, store, nil, nil)
	return &fixture{orch: orch, store: store, runner: runner}
}

func strategyConfig() types.StrategyConfiguration {
	return types.StrategyConfiguration{
		Name:          "home underdogs",
		StrategyType:  types.StrategyRuleBased,
		ProcessorType: "fixed",
		MinValidation: types.ValidationRequirements{ConfidenceLevel: 0.95},
	}
}

func createWorkflow(t *testing.T, fx *fixture) *types.StrategyWorkflow {
	t.Helper()
	wf, err := fx.orch.CreateWorkflow(context.Background(), strategyConfig(), types.ModeManual)
	if err != nil {
		t.Fatalf("CreateWorkflow: %v", err)
	}
	return wf
}

func advance(t *testing.T, fx *fixture, workflowID string) {
	t.Helper()
	ok, err := fx.orch.ExecuteStage(context.Background(), workflowID, "", false)
	if err != nil {
		t.Fatalf("ExecuteStage: %v", err)
	}
	if !ok {
		wf, _ := fx.orch.Workflow(workflowID)
		t.Fatalf("stage did not complete at %s, alerts: %+v", wf.CurrentStage, wf.Alerts)
	}
}

func TestCreateWorkflowValidation(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()

	noName := strategyConfig()
	noName.Name = ""
	if _, err := fx.orch.CreateWorkflow(ctx, noName, types.ModeManual); err == nil {
		t.Error("expected error for missing name")
	}

	badType := strategyConfig()
	badType.StrategyType = "astrological"
	if _, err := fx.orch.CreateWorkflow(ctx, badType, types.ModeManual); err == nil {
		t.Error("expected error for unknown strategy type")
	}

	if _, err := fx.orch.CreateWorkflow(ctx, strategyConfig(), "vibes"); err == nil {
		t.Error("expected error for unknown mode")
	}
}

func TestCreateWorkflowStartsAtIdeation(t *testing.T) {
	fx := newFixture(t)
	wf := createWorkflow(t, fx)

	if wf.CurrentStage != types.StageIdeation {
		t.Errorf("stage = %s, want ideation", wf.CurrentStage)
	}
	if wf.Status != types.StatusDraft {
		t.Errorf("status = %s, want draft", wf.Status)
	}
	if len(wf.CompletedStages) != 0 {
		t.Errorf("completed stages = %v, want empty", wf.CompletedStages)
	}

	persisted, err := fx.store.Get(context.Background(), wf.WorkflowID)
	if err != nil {
		t.Fatalf("workflow not persisted: %v", err)
	}
	if persisted.WorkflowID != wf.WorkflowID {
		t.Error("persisted workflow id mismatch")
	}
}

func TestExecuteStageAdvancesLinearly(t *testing.T) {
	fx := newFixture(t)
	wf := createWorkflow(t, fx)

	advance(t, fx, wf.WorkflowID) // ideation -> development
	advance(t, fx, wf.WorkflowID) // development -> validation

	cur, err := fx.orch.Workflow(wf.WorkflowID)
	if err != nil {
		t.Fatalf("Workflow: %v", err)
	}
	if cur.CurrentStage != types.StageValidation {
		t.Fatalf("stage = %s, want validation", cur.CurrentStage)
	}
	if cur.Status != types.StatusValidating {
		t.Errorf("status = %s, want validating", cur.Status)
	}
	want := []types.WorkflowStage{types.StageIdeation, types.StageDevelopment}
	if len(cur.CompletedStages) != len(want) {
		t.Fatalf("completed = %v, want %v", cur.CompletedStages, want)
	}
	for i := range want {
		if cur.CompletedStages[i] != want[i] {
			t.Fatalf("completed = %v, want %v", cur.CompletedStages, want)
		}
	}
	if cur.BacktestResults["development"] == nil {
		t.Error("development stage should record its backtest metrics")
	}
	if cur.ValidationResults["latest"] == nil {
		t.Error("validation stage should record latest metrics")
	}
}

func TestExecuteStageRejectsBackwardAndSkip(t *testing.T) {
	fx := newFixture(t)
	wf := createWorkflow(t, fx)
	ctx := context.Background()
	advance(t, fx, wf.WorkflowID) // -> development

	if _, err := fx.orch.ExecuteStage(ctx, wf.WorkflowID, types.StageIdeation, false); err == nil {
		t.Error("expected error moving backward")
	}
	if _, err := fx.orch.ExecuteStage(ctx, wf.WorkflowID, types.StageBacktesting, false); err == nil {
		t.Error("expected error skipping without force")
	}
	if _, err := fx.orch.ExecuteStage(ctx, wf.WorkflowID, types.StageOptimization, false); err == nil {
		t.Error("expected error for off-path stage")
	}

	cur, _ := fx.orch.Workflow(wf.WorkflowID)
	if cur.CurrentStage != types.StageDevelopment {
		t.Errorf("rejected transitions must not move the stage, got %s", cur.CurrentStage)
	}
}

// A marginal strategy passes development-grade validation but is blocked at
// the backtesting gate, whose ROI bar is higher.
func TestTransitionCriteriaBlock(t *testing.T) {
	fx := newFixture(t)
	fx.runner.result = &backtest.Result{
		WinRate:        0.55,
		ROIPercentage:  1.5,
		TotalProfit:    decimal.NewFromInt(300),
		MaxDrawdownPct: 10.0,
		ProfitFactor:   1.2,
		SampleSize:     200,
	}
	wf := createWorkflow(t, fx)
	ctx := context.Background()

	advance(t, fx, wf.WorkflowID) // -> development
	advance(t, fx, wf.WorkflowID) // -> validation

	ok, err := fx.orch.ExecuteStage(ctx, wf.WorkflowID, types.StageBacktesting, false)
	if err != nil {
		t.Fatalf("blocked transition must not error: %v", err)
	}
	if ok {
		t.Fatal("expected transition block on ROI criterion")
	}

	cur, _ := fx.orch.Workflow(wf.WorkflowID)
	if cur.CurrentStage != types.StageValidation {
		t.Errorf("stage = %s, want validation (unchanged)", cur.CurrentStage)
	}
	last := cur.Alerts[len(cur.Alerts)-1]
	if last.Type != "criteria_not_met" {
		t.Errorf("last alert = %s, want criteria_not_met", last.Type)
	}

	// Force bypasses the gate entirely.
	ok, err = fx.orch.ExecuteStage(ctx, wf.WorkflowID, types.StageBacktesting, true)
	if err != nil || !ok {
		t.Fatalf("forced transition: ok=%v err=%v", ok, err)
	}
	cur, _ = fx.orch.Workflow(wf.WorkflowID)
	if cur.CurrentStage != types.StageBacktesting {
		t.Errorf("stage = %s, want backtesting after force", cur.CurrentStage)
	}
}

func TestExecuteFullWorkflow(t *testing.T) {
	fx := newFixture(t)
	wf := createWorkflow(t, fx)

	ok, err := fx.orch.ExecuteFullWorkflow(context.Background(), wf.WorkflowID, types.StageValidation)
	if err != nil {
		t.Fatalf("ExecuteFullWorkflow: %v", err)
	}
	if !ok {
		t.Fatal("expected full run to validation to complete")
	}

	cur, _ := fx.orch.Workflow(wf.WorkflowID)
	if cur.CurrentStage != types.StageValidation {
		t.Errorf("stage = %s, want validation", cur.CurrentStage)
	}
}

func TestExecuteFullWorkflowStopsAtBlock(t *testing.T) {
	fx := newFixture(t)
	fx.runner.result = &backtest.Result{
		WinRate:        0.55,
		ROIPercentage:  1.5,
		TotalProfit:    decimal.NewFromInt(300),
		MaxDrawdownPct: 10.0,
		ProfitFactor:   1.2,
		SampleSize:     200,
	}
	wf := createWorkflow(t, fx)

	ok, err := fx.orch.ExecuteFullWorkflow(context.Background(), wf.WorkflowID, types.StageMonitoring)
	if err != nil {
		t.Fatalf("ExecuteFullWorkflow: %v", err)
	}
	if ok {
		t.Fatal("expected run to stop at the backtesting gate")
	}

	cur, _ := fx.orch.Workflow(wf.WorkflowID)
	if cur.CurrentStage != types.StageValidation {
		t.Errorf("stage = %s, want validation", cur.CurrentStage)
	}
}

func TestPauseAndResume(t *testing.T) {
	fx := newFixture(t)
	wf := createWorkflow(t, fx)
	ctx := context.Background()
	advance(t, fx, wf.WorkflowID) // -> development

	if err := fx.orch.PauseWorkflow(ctx, wf.WorkflowID); err != nil {
		t.Fatalf("PauseWorkflow: %v", err)
	}
	cur, _ := fx.orch.Workflow(wf.WorkflowID)
	if cur.Status != types.StatusPaused {
		t.Errorf("status = %s, want paused", cur.Status)
	}
	if cur.CurrentStage != types.StageDevelopment {
		t.Errorf("pause must not reset the stage, got %s", cur.CurrentStage)
	}

	if err := fx.orch.ResumeWorkflow(ctx, wf.WorkflowID); err != nil {
		t.Fatalf("ResumeWorkflow: %v", err)
	}
	cur, _ = fx.orch.Workflow(wf.WorkflowID)
	if cur.Status != types.StatusDeveloping {
		t.Errorf("status = %s, want developing after resume", cur.Status)
	}
}

func TestSnapshotIsolation(t *testing.T) {
	fx := newFixture(t)
	wf := createWorkflow(t, fx)

	snap, err := fx.orch.Workflow(wf.WorkflowID)
	if err != nil {
		t.Fatalf("Workflow: %v", err)
	}
	snap.CompletedStages = append(snap.CompletedStages, types.StageProduction)
	snap.ABTestResults["latest"] = "tampered"

	fresh, _ := fx.orch.Workflow(wf.WorkflowID)
	if len(fresh.CompletedStages) != 0 {
		t.Error("snapshot mutation leaked into completed stages")
	}
	if _, ok := fresh.ABTestResults["latest"]; ok {
		t.Error("snapshot mutation leaked into result buckets")
	}
}

func TestUnknownWorkflow(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()

	if _, err := fx.orch.ExecuteStage(ctx, "missing", "", false); err == nil {
		t.Error("expected error executing unknown workflow")
	}
	if _, err := fx.orch.Workflow("missing"); err == nil {
		t.Error("expected error reading unknown workflow")
	}
	if err := fx.orch.PauseWorkflow(ctx, "missing"); err == nil {
		t.Error("expected error pausing unknown workflow")
	}
}

func TestListWorkflows(t *testing.T) {
	fx := newFixture(t)
	createWorkflow(t, fx)
	createWorkflow(t, fx)

	if got := len(fx.orch.ListWorkflows()); got != 2 {
		t.Errorf("listed %d workflows, want 2", got)
	}
}
