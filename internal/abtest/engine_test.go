package abtest_test

import (
	"context"
	"math"
	"math/rand"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/diamond-analytics/betting-backend/internal/abtest"
	"github.com/diamond-analytics/betting-backend/internal/storage/memory"
	"github.com/diamond-analytics/betting-backend/pkg/types"
)

func newTestEngine(seed int64) (*abtest.Engine, *memory.ExperimentStore) {
	store := memory.NewExperimentStore()
	engine := abtest.NewEngine(zap.NewNop(), store, nil, nil, rand.NewSource(seed))
	return engine, store
}

func arm(id string, allocation float64, control bool) abtest.Arm {
	return abtest.Arm{
		ArmID:      id,
		Name:       "arm " + id,
		Allocation: allocation,
		IsControl:  control,
		Strategy:   types.StrategyConfiguration{StrategyID: "strat-" + id},
	}
}

func fixedSplitConfig() *abtest.Config {
	return &abtest.Config{
		Name:             "champion vs variant",
		TestType:         abtest.TestFixedSplit,
		Arms:             []abtest.Arm{arm("a", 0.8, true), arm("b", 0.2, false)},
		MinSamplesPerArm: 20,
		MaxDuration:      24 * time.Hour,
	}
}

func win(stake int64) abtest.Outcome {
	return abtest.Outcome{
		Won:    true,
		Profit: decimal.NewFromInt(stake * 8 / 10),
		Volume: decimal.NewFromInt(stake),
	}
}

func loss(stake int64) abtest.Outcome {
	return abtest.Outcome{
		Won:    false,
		Profit: decimal.NewFromInt(-stake),
		Volume: decimal.NewFromInt(stake),
	}
}

func TestCreateExperimentValidation(t *testing.T) {
	engine, _ := newTestEngine(1)
	ctx := context.Background()

	cases := []struct {
		name string
		cfg  *abtest.Config
	}{
		{"one arm", &abtest.Config{
			TestType: abtest.TestFixedSplit,
			Arms:     []abtest.Arm{arm("a", 1.0, true)},
		}},
		{"duplicate ids", &abtest.Config{
			TestType: abtest.TestFixedSplit,
			Arms:     []abtest.Arm{arm("a", 0.5, true), arm("a", 0.5, false)},
		}},
		{"missing id", &abtest.Config{
			TestType: abtest.TestFixedSplit,
			Arms:     []abtest.Arm{arm("a", 0.5, true), arm("", 0.5, false)},
		}},
		{"allocations off", &abtest.Config{
			TestType: abtest.TestFixedSplit,
			Arms:     []abtest.Arm{arm("a", 0.5, true), arm("b", 0.3, false)},
		}},
	}
	for _, tc := range cases {
		if err := engine.CreateExperiment(ctx, tc.cfg); err == nil {
			t.Errorf("%s: expected error", tc.name)
		}
	}
	if len(engine.ActiveExperiments()) != 0 {
		t.Error("failed creations must leave no active experiments")
	}
}

func TestCreateExperimentDefaults(t *testing.T) {
	engine, store := newTestEngine(1)
	cfg := fixedSplitConfig()
	if err := engine.CreateExperiment(context.Background(), cfg); err != nil {
		t.Fatalf("CreateExperiment: %v", err)
	}

	if cfg.ExperimentID == "" {
		t.Error("expected generated experiment id")
	}
	if cfg.Status != abtest.StatusActive {
		t.Errorf("status = %s, want active", cfg.Status)
	}
	if cfg.SignificanceLevel != 0.05 {
		t.Errorf("significance level = %v, want 0.05", cfg.SignificanceLevel)
	}
	if cfg.PrimaryMetric != "win_rate" {
		t.Errorf("primary metric = %q, want win_rate", cfg.PrimaryMetric)
	}

	alloc, ok := engine.Allocations(cfg.ExperimentID)
	if !ok {
		t.Fatal("missing allocations")
	}
	if alloc["a"] != 0.8 || alloc["b"] != 0.2 {
		t.Errorf("fixed-split allocations not honored: %v", alloc)
	}

	if _, ok := store.Experiment(cfg.ExperimentID); !ok {
		t.Error("experiment not persisted")
	}
}

func TestBanditStartsUniform(t *testing.T) {
	engine, _ := newTestEngine(1)
	cfg := fixedSplitConfig()
	cfg.TestType = abtest.TestMultiArmBandit
	// Declared allocations are ignored for bandits.
	cfg.Arms[0].Allocation = 0.99
	cfg.Arms[1].Allocation = 0.01
	if err := engine.CreateExperiment(context.Background(), cfg); err != nil {
		t.Fatalf("CreateExperiment: %v", err)
	}

	alloc, _ := engine.Allocations(cfg.ExperimentID)
	if alloc["a"] != 0.5 || alloc["b"] != 0.5 {
		t.Errorf("bandit allocations should start uniform, got %v", alloc)
	}
}

func TestAllocateTrafficRespectsWeights(t *testing.T) {
	engine, _ := newTestEngine(42)
	cfg := fixedSplitConfig()
	if err := engine.CreateExperiment(context.Background(), cfg); err != nil {
		t.Fatalf("CreateExperiment: %v", err)
	}

	counts := map[string]int{}
	const draws = 2000
	for i := 0; i < draws; i++ {
		armID, err := engine.AllocateTraffic(cfg.ExperimentID)
		if err != nil {
			t.Fatalf("AllocateTraffic: %v", err)
		}
		counts[armID]++
	}

	shareA := float64(counts["a"]) / draws
	if math.Abs(shareA-0.8) > 0.05 {
		t.Errorf("arm a share = %.3f over %d draws, want ~0.8", shareA, draws)
	}
	if counts["a"]+counts["b"] != draws {
		t.Errorf("draws landed outside declared arms: %v", counts)
	}
}

func TestAllocateTrafficUnknownExperiment(t *testing.T) {
	engine, _ := newTestEngine(1)
	if _, err := engine.AllocateTraffic("nope"); err == nil {
		t.Fatal("expected error for unknown experiment")
	}
}

func TestRecordOutcomeAccounting(t *testing.T) {
	engine, _ := newTestEngine(1)
	ctx := context.Background()
	cfg := fixedSplitConfig()
	cfg.MinSamplesPerArm = 1000 // keep significance stopping out of the way
	if err := engine.CreateExperiment(ctx, cfg); err != nil {
		t.Fatalf("CreateExperiment: %v", err)
	}

	// Arm a: 3 wins of +80 and 1 loss of -100 on $100 stakes.
	for i := 0; i < 3; i++ {
		if err := engine.RecordOutcome(ctx, cfg.ExperimentID, "a", win(100)); err != nil {
			t.Fatalf("RecordOutcome: %v", err)
		}
	}
	if err := engine.RecordOutcome(ctx, cfg.ExperimentID, "a", loss(100)); err != nil {
		t.Fatalf("RecordOutcome: %v", err)
	}

	results, ok := engine.Results(cfg.ExperimentID)
	if !ok {
		t.Fatal("missing results")
	}
	r := results["a"]
	if r.Samples != 4 || r.Wins != 3 || r.Losses != 1 {
		t.Fatalf("counts = %d/%d/%d, want 4/3/1", r.Samples, r.Wins, r.Losses)
	}
	if r.WinRate != 0.75 {
		t.Errorf("win rate = %v, want 0.75", r.WinRate)
	}
	// 3*80 - 100 = 140 profit on 400 staked.
	if r.ROIPercentage != 35.0 {
		t.Errorf("roi = %v, want 35.0", r.ROIPercentage)
	}
	if r.MaxDrawdown != 25.0 {
		t.Errorf("max drawdown = %v, want 25.0 (100 loss on 400 volume)", r.MaxDrawdown)
	}
}

func TestRecordOutcomeUnknownArm(t *testing.T) {
	engine, _ := newTestEngine(1)
	ctx := context.Background()
	cfg := fixedSplitConfig()
	if err := engine.CreateExperiment(ctx, cfg); err != nil {
		t.Fatalf("CreateExperiment: %v", err)
	}
	if err := engine.RecordOutcome(ctx, cfg.ExperimentID, "c", win(100)); err == nil {
		t.Fatal("expected error for unknown arm")
	}
}

func TestBanditReallocatesToBestArm(t *testing.T) {
	engine, _ := newTestEngine(1)
	ctx := context.Background()
	cfg := fixedSplitConfig()
	cfg.TestType = abtest.TestMultiArmBandit
	cfg.ExplorationRate = 0.2
	cfg.MinSamplesPerArm = 1000
	if err := engine.CreateExperiment(ctx, cfg); err != nil {
		t.Fatalf("CreateExperiment: %v", err)
	}

	// Arm a wins everything, arm b alternates, enough volume to pass the
	// bandit's warm-up floors.
	for i := 0; i < 30; i++ {
		if err := engine.RecordOutcome(ctx, cfg.ExperimentID, "a", win(100)); err != nil {
			t.Fatalf("RecordOutcome a: %v", err)
		}
		out := win(100)
		if i%2 == 0 {
			out = loss(100)
		}
		if err := engine.RecordOutcome(ctx, cfg.ExperimentID, "b", out); err != nil {
			t.Fatalf("RecordOutcome b: %v", err)
		}
	}

	alloc, ok := engine.Allocations(cfg.ExperimentID)
	if !ok {
		t.Fatal("experiment stopped unexpectedly")
	}
	// Exploration budget split evenly, exploit share on the best arm.
	if math.Abs(alloc["a"]-0.9) > 1e-9 {
		t.Errorf("best arm allocation = %v, want 0.9", alloc["a"])
	}
	if math.Abs(alloc["b"]-0.1) > 1e-9 {
		t.Errorf("losing arm allocation = %v, want 0.1", alloc["b"])
	}
}

func TestSignificanceStopsExperiment(t *testing.T) {
	engine, store := newTestEngine(1)
	ctx := context.Background()
	cfg := fixedSplitConfig()
	if err := engine.CreateExperiment(ctx, cfg); err != nil {
		t.Fatalf("CreateExperiment: %v", err)
	}

	// Arm a wins every bet, arm b loses every bet. The pairwise win-rate
	// test fires once both arms clear the per-arm sample floors.
	stopped := false
	for i := 0; i < 40; i++ {
		if err := engine.RecordOutcome(ctx, cfg.ExperimentID, "a", win(100)); err != nil {
			stopped = true
			break
		}
		if err := engine.RecordOutcome(ctx, cfg.ExperimentID, "b", loss(100)); err != nil {
			stopped = true
			break
		}
		if _, ok := engine.Experiment(cfg.ExperimentID); !ok {
			stopped = true
			break
		}
	}
	if !stopped {
		t.Fatal("experiment never stopped on significance")
	}

	archived, ok := engine.ArchivedExperiment(cfg.ExperimentID)
	if !ok {
		t.Fatal("missing archive record")
	}
	if archived.Reason != abtest.StopSignificance {
		t.Errorf("reason = %s, want %s", archived.Reason, abtest.StopSignificance)
	}
	if archived.WinnerArm != "a" {
		t.Errorf("winner = %q, want a", archived.WinnerArm)
	}
	if archived.Config.Status != abtest.StatusStoppedEarly {
		t.Errorf("status = %s, want stopped_early", archived.Config.Status)
	}
	if archived.Analysis == nil {
		t.Error("expected final analysis in archive")
	}
	if _, ok := store.Archive(cfg.ExperimentID); !ok {
		t.Error("archive not persisted")
	}
	for _, id := range engine.ActiveExperiments() {
		if id == cfg.ExperimentID {
			t.Error("stopped experiment still listed as active")
		}
	}
}

func TestMaxSamplesStopsExperiment(t *testing.T) {
	engine, _ := newTestEngine(1)
	ctx := context.Background()
	cfg := fixedSplitConfig()
	cfg.MaxSamplesPerArm = 3
	if err := engine.CreateExperiment(ctx, cfg); err != nil {
		t.Fatalf("CreateExperiment: %v", err)
	}

	for i := 0; i < 3; i++ {
		if err := engine.RecordOutcome(ctx, cfg.ExperimentID, "a", win(100)); err != nil {
			t.Fatalf("RecordOutcome a: %v", err)
		}
		if _, ok := engine.Experiment(cfg.ExperimentID); !ok {
			break
		}
		if err := engine.RecordOutcome(ctx, cfg.ExperimentID, "b", win(100)); err != nil {
			t.Fatalf("RecordOutcome b: %v", err)
		}
		if _, ok := engine.Experiment(cfg.ExperimentID); !ok {
			break
		}
	}

	archived, ok := engine.ArchivedExperiment(cfg.ExperimentID)
	if !ok {
		t.Fatal("expected experiment to stop at the sample cap")
	}
	if archived.Reason != abtest.StopMaxSamples {
		t.Errorf("reason = %s, want %s", archived.Reason, abtest.StopMaxSamples)
	}
	if archived.Config.Status != abtest.StatusCompleted {
		t.Errorf("status = %s, want completed", archived.Config.Status)
	}
}

func TestSafetyBreachStopsExperiment(t *testing.T) {
	engine, _ := newTestEngine(1)
	ctx := context.Background()
	cfg := fixedSplitConfig()
	cfg.Safety.MaxDailyLossArm = decimal.NewFromInt(50)
	if err := engine.CreateExperiment(ctx, cfg); err != nil {
		t.Fatalf("CreateExperiment: %v", err)
	}

	if err := engine.RecordOutcome(ctx, cfg.ExperimentID, "b", loss(100)); err != nil {
		t.Fatalf("RecordOutcome: %v", err)
	}

	archived, ok := engine.ArchivedExperiment(cfg.ExperimentID)
	if !ok {
		t.Fatal("expected safety stop")
	}
	if archived.Reason != abtest.StopSafety {
		t.Errorf("reason = %s, want %s", archived.Reason, abtest.StopSafety)
	}

	alerts := engine.Alerts()
	found := false
	for _, a := range alerts {
		if a.Type == "daily_loss_cap" {
			found = true
		}
	}
	if !found {
		t.Errorf("expected daily_loss_cap alert, got %+v", alerts)
	}
}

func TestStopExperimentManual(t *testing.T) {
	engine, _ := newTestEngine(1)
	ctx := context.Background()
	cfg := fixedSplitConfig()
	if err := engine.CreateExperiment(ctx, cfg); err != nil {
		t.Fatalf("CreateExperiment: %v", err)
	}

	archived, err := engine.StopExperiment(ctx, cfg.ExperimentID, abtest.StopManual, "")
	if err != nil {
		t.Fatalf("StopExperiment: %v", err)
	}
	if archived.Config.Status != abtest.StatusStoppedEarly {
		t.Errorf("status = %s, want stopped_early", archived.Config.Status)
	}
	if err := engine.RecordOutcome(ctx, cfg.ExperimentID, "a", win(100)); err == nil {
		t.Error("expected error recording to a stopped experiment")
	}
	if _, err := engine.StopExperiment(ctx, cfg.ExperimentID, abtest.StopManual, ""); err == nil {
		t.Error("expected error stopping twice")
	}
}

func TestAnalyzeExperiment(t *testing.T) {
	engine, _ := newTestEngine(1)
	ctx := context.Background()
	cfg := fixedSplitConfig()
	cfg.MinSamplesPerArm = 1000
	if err := engine.CreateExperiment(ctx, cfg); err != nil {
		t.Fatalf("CreateExperiment: %v", err)
	}
	for i := 0; i < 10; i++ {
		out := win(100)
		if i%3 == 0 {
			out = loss(100)
		}
		if err := engine.RecordOutcome(ctx, cfg.ExperimentID, "a", out); err != nil {
			t.Fatalf("RecordOutcome: %v", err)
		}
	}

	analysis, err := engine.AnalyzeExperiment(cfg.ExperimentID)
	if err != nil {
		t.Fatalf("AnalyzeExperiment: %v", err)
	}
	if analysis.TotalSamples != 10 {
		t.Errorf("total samples = %d, want 10", analysis.TotalSamples)
	}
	if len(analysis.Arms) != 2 {
		t.Fatalf("arm summaries = %d, want 2", len(analysis.Arms))
	}
	for _, s := range analysis.Arms {
		if s.WinRateCI.Lower > s.WinRate || s.WinRateCI.Upper < s.WinRate {
			t.Errorf("arm %s win rate %v outside its CI [%v, %v]",
				s.ArmID, s.WinRate, s.WinRateCI.Lower, s.WinRateCI.Upper)
		}
	}
	if analysis.GeneratedAt.IsZero() {
		t.Error("expected generated timestamp")
	}

	if _, err := engine.AnalyzeExperiment("nope"); err == nil {
		t.Error("expected error for unknown experiment")
	}
}
