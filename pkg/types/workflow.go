package types

import "time"

// WorkflowStage is a position in the strategy lifecycle state machine.
type WorkflowStage string

const (
	StageIdeation     WorkflowStage = "ideation"
	StageDevelopment  WorkflowStage = "development"
	StageValidation   WorkflowStage = "validation"
	StageBacktesting  WorkflowStage = "backtesting"
	StagePaperTrading WorkflowStage = "paper_trading"
	StageStaging      WorkflowStage = "staging"
	StageABTesting    WorkflowStage = "a_b_testing"
	StageProduction   WorkflowStage = "production"
	StageMonitoring   WorkflowStage = "monitoring"

	// Administrative side states, never reached by the linear path.
	StageOptimization WorkflowStage = "optimization"
	StageRetirement   WorkflowStage = "retirement"
)

// StageOrder is the linear promotion path. Transitions are monotonic within
// this slice; the administrative stages are not part of it.
var StageOrder = []WorkflowStage{
	StageIdeation,
	StageDevelopment,
	StageValidation,
	StageBacktesting,
	StagePaperTrading,
	StageStaging,
	StageABTesting,
	StageProduction,
	StageMonitoring,
}

// StageIndex returns the position of s in the linear path, or -1 for
// administrative stages.
func StageIndex(s WorkflowStage) int {
	for i, st := range StageOrder {
		if st == s {
			return i
		}
	}
	return -1
}

// NextStage returns the stage immediately after s, or "" when s is the last
// stage (or not on the linear path).
func NextStage(s WorkflowStage) WorkflowStage {
	idx := StageIndex(s)
	if idx < 0 || idx == len(StageOrder)-1 {
		return ""
	}
	return StageOrder[idx+1]
}

// WorkflowStatus is the derived, externally visible state of a workflow.
type WorkflowStatus string

const (
	StatusDraft        WorkflowStatus = "draft"
	StatusDeveloping   WorkflowStatus = "developing"
	StatusValidating   WorkflowStatus = "validating"
	StatusPaperTrading WorkflowStatus = "paper_trading"
	StatusStaged       WorkflowStatus = "staged"
	StatusTesting      WorkflowStatus = "testing"
	StatusLive         WorkflowStatus = "live"
	StatusOptimizing   WorkflowStatus = "optimizing"
	StatusRetired      WorkflowStatus = "retired"
	StatusPaused       WorkflowStatus = "paused"
)

var stageStatus = map[WorkflowStage]WorkflowStatus{
	StageIdeation:     StatusDraft,
	StageDevelopment:  StatusDeveloping,
	StageValidation:   StatusValidating,
	StageBacktesting:  StatusValidating,
	StagePaperTrading: StatusPaperTrading,
	StageStaging:      StatusStaged,
	StageABTesting:    StatusTesting,
	StageProduction:   StatusLive,
	StageMonitoring:   StatusLive,
	StageOptimization: StatusOptimizing,
	StageRetirement:   StatusRetired,
}

// StatusForStage maps a stage to its derived workflow status.
func StatusForStage(s WorkflowStage) WorkflowStatus {
	if st, ok := stageStatus[s]; ok {
		return st
	}
	return StatusDraft
}

// StrategyWorkflow is the mutable aggregate root of a strategy's lifecycle.
// It is owned by the orchestrator and mutated only through ExecuteStage.
//
// Invariants: CurrentStage is always a known stage; CompletedStages never
// contains CurrentStage; advancing only appends, never removes.
type StrategyWorkflow struct {
	WorkflowID string                `json:"workflow_id"`
	Config     StrategyConfiguration `json:"config"`

	CurrentStage    WorkflowStage     `json:"current_stage"`
	Mode            OrchestrationMode `json:"orchestration_mode"`
	CompletedStages []WorkflowStage   `json:"completed_stages"`

	// Result buckets, each keyed by a label such as "latest" or
	// "comprehensive". ABTestResults maps labels to experiment ids.
	ValidationResults map[string]*PerformanceMetrics `json:"validation_results"`
	BacktestResults   map[string]*PerformanceMetrics `json:"backtesting_results"`
	ABTestResults     map[string]string              `json:"ab_testing_results"`
	ProductionMetrics map[string]*PerformanceMetrics `json:"production_metrics"`

	ModelName          string `json:"ml_model_name,omitempty"`
	ModelVersion       string `json:"ml_model_version,omitempty"`
	ActiveExperimentID string `json:"active_experiment_id,omitempty"`

	Status WorkflowStatus `json:"status"`
	Alerts []Alert        `json:"alerts"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// NewStrategyWorkflow creates a workflow in IDEATION with empty result
// buckets.
func NewStrategyWorkflow(id string, cfg StrategyConfiguration, mode OrchestrationMode) *StrategyWorkflow {
	now := time.Now().UTC()
	cfg.StrategyID = id
	return &StrategyWorkflow{
		WorkflowID:        id,
		Config:            cfg,
		CurrentStage:      StageIdeation,
		Mode:              mode,
		CompletedStages:   make([]WorkflowStage, 0, len(StageOrder)),
		ValidationResults: make(map[string]*PerformanceMetrics),
		BacktestResults:   make(map[string]*PerformanceMetrics),
		ABTestResults:     make(map[string]string),
		ProductionMetrics: make(map[string]*PerformanceMetrics),
		Status:            StatusForStage(StageIdeation),
		Alerts:            make([]Alert, 0, 16),
		CreatedAt:         now,
		UpdatedAt:         now,
	}
}

// AppendAlert adds an alert to the workflow's append-only log.
func (w *StrategyWorkflow) AppendAlert(alertType, message, severity string) Alert {
	a := Alert{
		Type:      alertType,
		Message:   message,
		Severity:  severity,
		Source:    w.WorkflowID,
		Timestamp: time.Now().UTC(),
	}
	w.Alerts = append(w.Alerts, a)
	return a
}

// LatestMetrics returns the most relevant recorded metrics for criteria
// checks: the "latest" validation result if present, otherwise the "latest"
// backtest result, otherwise nil.
func (w *StrategyWorkflow) LatestMetrics() *PerformanceMetrics {
	if m, ok := w.ValidationResults["latest"]; ok {
		return m
	}
	if m, ok := w.BacktestResults["latest"]; ok {
		return m
	}
	return nil
}
