package registry

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/diamond-analytics/betting-backend/internal/abtest"
	"github.com/diamond-analytics/betting-backend/internal/metrics"
	"github.com/diamond-analytics/betting-backend/internal/storage"
	"github.com/diamond-analytics/betting-backend/internal/validation"
	"github.com/diamond-analytics/betting-backend/pkg/types"
)

const (
	stageTag           = "betting_stage"
	promotedAtTag      = "promoted_at"
	strategyIDTag      = "strategy_id"
	productionROIFloor = 2.0
)

// CriterionResult records one promotion threshold evaluation.
type CriterionResult struct {
	Name     string  `json:"name"`
	Actual   float64 `json:"actual"`
	Required float64 `json:"required"`
	Passed   bool    `json:"passed"`
}

// PromotionReport is the outcome of a ValidateAndPromote call. Promoted is
// false for blocked promotions; that is a domain result, not an error.
type PromotionReport struct {
	ModelName       string             `json:"model_name"`
	Version         string             `json:"version"`
	TargetStage     Stage              `json:"target_stage"`
	Promoted        bool               `json:"promoted"`
	Forced          bool               `json:"forced"`
	Validation      *validation.Report `json:"validation,omitempty"`
	Criteria        []CriterionResult  `json:"criteria,omitempty"`
	Recommendations []string           `json:"recommendations,omitempty"`
}

// Registry wraps the opaque backend with betting-specific stage tags,
// promotion criteria and champion/challenger orchestration.
type Registry struct {
	mu        sync.RWMutex
	logger    *zap.Logger
	backend   Backend
	validator *validation.Engine
	abEngine  *abtest.Engine
	history   storage.ModelHistoryStore
	coll      *metrics.Collector
	criteria  map[Stage]PromotionCriteria

	// strategies links model names to the configuration that trains them.
	strategies map[string]*types.StrategyConfiguration
	// experiments maps champion/challenger experiment ids to their pair.
	experiments map[string]*championChallengerPair
}

type championChallengerPair struct {
	ChampionModel     string
	ChampionVersion   string
	ChallengerModel   string
	ChallengerVersion string
}

// NewRegistry creates a betting model registry.
func NewRegistry(logger *zap.Logger, backend Backend, validator *validation.Engine, abEngine *abtest.Engine, history storage.ModelHistoryStore, coll *metrics.Collector) *Registry {
	return &Registry{
		logger:      logger.Named("registry"),
		backend:     backend,
		validator:   validator,
		abEngine:    abEngine,
		history:     history,
		coll:        coll,
		criteria:    DefaultPromotionCriteria(),
		strategies:  make(map[string]*types.StrategyConfiguration),
		experiments: make(map[string]*championChallengerPair),
	}
}

// RegisterModel registers a model artifact with the backend and links it to
// the strategy configuration that produced it.
func (r *Registry) RegisterModel(ctx context.Context, uri, name string, cfg *types.StrategyConfiguration) (string, error) {
	version, err := r.backend.Register(ctx, uri, name, map[string]string{
		stageTag:      string(StageDevelopment),
		strategyIDTag: cfg.StrategyID,
	})
	if err != nil {
		return "", types.WrapInfra("registry.register_model", err)
	}

	r.mu.Lock()
	r.strategies[name] = cfg
	r.mu.Unlock()

	r.logger.Info("Model registered",
		zap.String("model", name),
		zap.String("version", version),
		zap.String("strategy", cfg.StrategyID),
	)
	return version, nil
}

// StrategyFor returns the configuration linked to a model name.
func (r *Registry) StrategyFor(modelName string) (*types.StrategyConfiguration, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	cfg, ok := r.strategies[modelName]
	return cfg, ok
}

// ValidateAndPromote validates a model for the target stage and, when every
// defined criterion passes, transitions both the backend stage and the
// betting-stage tag. Unless forced, a failed validation or any single
// failed criterion blocks the promotion without touching state.
func (r *Registry) ValidateAndPromote(ctx context.Context, modelName, version string, target Stage, window time.Duration, force bool) (*PromotionReport, error) {
	report := &PromotionReport{
		ModelName:   modelName,
		Version:     version,
		TargetStage: target,
		Forced:      force,
	}

	if !force {
		phase, ok := phaseFor[target]
		if !ok {
			return nil, fmt.Errorf("stage %q is not a promotion target", target)
		}
		cfg, ok := r.StrategyFor(modelName)
		if !ok {
			return nil, fmt.Errorf("no strategy configuration linked to model %q", modelName)
		}

		end := time.Now().UTC()
		start := end.Add(-window)
		vr, err := r.validator.ValidateComprehensive(ctx, cfg, phase, start, end)
		if err != nil {
			return nil, fmt.Errorf("promotion validation: %w", err)
		}
		report.Validation = vr
		if !vr.Passed {
			report.Recommendations = vr.Recommendations
			r.coll.PromotionBlocked()
			r.logger.Warn("Promotion blocked by validation",
				zap.String("model", modelName),
				zap.String("target", string(target)),
				zap.Float64("confidence", vr.ConfidenceScore),
			)
			return report, nil
		}

		r.evaluateCriteria(report, vr.Metrics, target)
		if err := r.history.Append(ctx, modelName, vr.Metrics); err != nil {
			return nil, types.WrapInfra("registry.append_history", err)
		}
		if !report.Promoted {
			r.coll.PromotionBlocked()
			return report, nil
		}
	} else {
		report.Promoted = true
	}

	if err := r.transition(ctx, modelName, version, target); err != nil {
		return nil, err
	}
	r.coll.Promotion(string(target))
	r.logger.Info("Model promoted",
		zap.String("model", modelName),
		zap.String("version", version),
		zap.String("stage", string(target)),
		zap.Bool("forced", force),
	)
	return report, nil
}

// evaluateCriteria checks every defined threshold for the target stage.
// All defined criteria must pass; each failure carries machine-comparable
// numbers so callers can decide whether to retry or force.
func (r *Registry) evaluateCriteria(report *PromotionReport, m *types.PerformanceMetrics, target Stage) {
	criteria, ok := r.criteria[target]
	if !ok {
		// No criteria defined for this stage; nothing blocks.
		report.Promoted = true
		return
	}

	add := func(name string, actual, required float64, passed bool) {
		report.Criteria = append(report.Criteria, CriterionResult{
			Name: name, Actual: actual, Required: required, Passed: passed,
		})
		if !passed {
			report.Recommendations = append(report.Recommendations,
				fmt.Sprintf("%s %.3f fails threshold %.3f for stage %s", name, actual, required, target))
		}
	}

	if criteria.MinROI != nil {
		add("roi_percentage", m.ROIPercentage, *criteria.MinROI, m.ROIPercentage >= *criteria.MinROI)
	}
	if criteria.MinWinRate != nil {
		add("win_rate", m.WinRate, *criteria.MinWinRate, m.WinRate >= *criteria.MinWinRate)
	}
	if criteria.MaxDrawdown != nil {
		add("max_drawdown", m.MaxDrawdown, *criteria.MaxDrawdown, m.MaxDrawdown <= *criteria.MaxDrawdown)
	}
	if criteria.MinSampleSize != nil {
		add("sample_size", float64(m.SampleSize), float64(*criteria.MinSampleSize), m.SampleSize >= *criteria.MinSampleSize)
	}
	if criteria.MinAccuracy != nil && m.ML != nil {
		add("accuracy", m.ML.Accuracy, *criteria.MinAccuracy, m.ML.Accuracy >= *criteria.MinAccuracy)
	}
	if criteria.MinROCAUC != nil && m.ML != nil {
		add("roc_auc", m.ML.ROCAUC, *criteria.MinROCAUC, m.ML.ROCAUC >= *criteria.MinROCAUC)
	}
	if criteria.MinSharpe != nil && m.Risk != nil {
		add("sharpe_ratio", m.Risk.SharpeRatio, *criteria.MinSharpe, m.Risk.SharpeRatio >= *criteria.MinSharpe)
	}
	if criteria.MinProfit != nil {
		profit, _ := m.TotalProfit.Float64()
		add("total_profit", profit, *criteria.MinProfit, profit > *criteria.MinProfit)
	}
	if criteria.MaxPValue != nil && m.PValue != nil {
		add("p_value", *m.PValue, *criteria.MaxPValue, *m.PValue <= *criteria.MaxPValue)
	}

	report.Promoted = true
	for _, c := range report.Criteria {
		if !c.Passed {
			report.Promoted = false
			return
		}
	}
}

// transition moves the backend stage and updates the betting-stage tag.
func (r *Registry) transition(ctx context.Context, modelName, version string, target Stage) error {
	backendStage, ok := backendStageFor[target]
	if !ok {
		return fmt.Errorf("no backend stage mapping for %q", target)
	}
	if backendStage != BackendNone {
		if err := r.backend.TransitionStage(ctx, modelName, version, backendStage); err != nil {
			return types.WrapInfra("registry.transition_stage", err)
		}
	}
	err := r.backend.SetTags(ctx, modelName, version, map[string]string{
		stageTag:      string(target),
		promotedAtTag: time.Now().UTC().Format(time.RFC3339),
	})
	if err != nil {
		return types.WrapInfra("registry.set_tags", err)
	}
	return nil
}

// ModelsAtStage lists model versions currently tagged with a betting stage.
func (r *Registry) ModelsAtStage(ctx context.Context, modelName string, stage Stage) ([]VersionInfo, error) {
	versions, err := r.backend.GetVersions(ctx, modelName, "")
	if err != nil {
		return nil, types.WrapInfra("registry.get_versions", err)
	}
	var out []VersionInfo
	for _, v := range versions {
		if Stage(v.Tags[stageTag]) == stage {
			out = append(out, v)
		}
	}
	return out, nil
}

// RecentROI computes the mean ROI over the last n history entries for a
// model. Returns false when no history exists.
func (r *Registry) RecentROI(ctx context.Context, modelName string, n int) (float64, bool, error) {
	history, err := r.history.History(ctx, modelName)
	if err != nil {
		return 0, false, types.WrapInfra("registry.history", err)
	}
	if len(history) == 0 {
		return 0, false, nil
	}
	if n > 0 && len(history) > n {
		history = history[len(history)-n:]
	}
	var sum float64
	for _, m := range history {
		sum += m.ROIPercentage
	}
	return sum / float64(len(history)), true, nil
}
