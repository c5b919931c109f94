package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/diamond-analytics/betting-backend/internal/abtest"
	"github.com/diamond-analytics/betting-backend/internal/registry"
	"github.com/diamond-analytics/betting-backend/internal/validation"
	"github.com/diamond-analytics/betting-backend/pkg/types"
)

func (s *Server) respondJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Error("Failed to encode response", zap.Error(err))
	}
}

func (s *Server) respondError(w http.ResponseWriter, status int, err error) {
	s.respondJSON(w, status, map[string]string{"error": err.Error()})
}

// handleHealth handles health check requests.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"status":  "healthy",
		"time":    time.Now().Unix(),
		"clients": s.hub.ClientCount(),
	})
}

// --- workflows ---

type createWorkflowRequest struct {
	Config types.StrategyConfiguration `json:"config"`
	Mode   types.OrchestrationMode     `json:"orchestration_mode"`
}

func (s *Server) handleCreateWorkflow(w http.ResponseWriter, r *http.Request) {
	var req createWorkflowRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, err)
		return
	}
	if req.Mode == "" {
		req.Mode = types.ModeManual
	}

	wf, err := s.orch.CreateWorkflow(r.Context(), req.Config, req.Mode)
	if err != nil {
		s.respondError(w, http.StatusBadRequest, err)
		return
	}
	s.hub.BroadcastWorkflowUpdate(wf)
	s.respondJSON(w, http.StatusCreated, wf)
}

func (s *Server) handleListWorkflows(w http.ResponseWriter, r *http.Request) {
	workflows := s.orch.ListWorkflows()
	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"workflows": workflows,
		"count":     len(workflows),
	})
}

func (s *Server) handleGetWorkflow(w http.ResponseWriter, r *http.Request) {
	wf, err := s.orch.Workflow(mux.Vars(r)["id"])
	if err != nil {
		s.respondError(w, http.StatusNotFound, err)
		return
	}
	s.respondJSON(w, http.StatusOK, wf)
}

type executeStageRequest struct {
	TargetStage types.WorkflowStage `json:"target_stage,omitempty"`
	Force       bool                `json:"force,omitempty"`
}

func (s *Server) handleExecuteStage(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	var req executeStageRequest
	if r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			s.respondError(w, http.StatusBadRequest, err)
			return
		}
	}

	ok, err := s.orch.ExecuteStage(r.Context(), id, req.TargetStage, req.Force)
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, err)
		return
	}

	wf, wfErr := s.orch.Workflow(id)
	if wfErr != nil {
		s.respondError(w, http.StatusNotFound, wfErr)
		return
	}
	s.hub.BroadcastWorkflowUpdate(wf)
	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"advanced": ok,
		"workflow": wf,
	})
}

type executeFullRequest struct {
	TargetStage types.WorkflowStage `json:"target_stage"`
}

func (s *Server) handleExecuteFullWorkflow(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	req := executeFullRequest{TargetStage: types.StageMonitoring}
	if r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			s.respondError(w, http.StatusBadRequest, err)
			return
		}
	}

	ok, err := s.orch.ExecuteFullWorkflow(r.Context(), id, req.TargetStage)
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, err)
		return
	}

	wf, wfErr := s.orch.Workflow(id)
	if wfErr != nil {
		s.respondError(w, http.StatusNotFound, wfErr)
		return
	}
	s.hub.BroadcastWorkflowUpdate(wf)
	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"completed": ok,
		"workflow":  wf,
	})
}

func (s *Server) handlePauseWorkflow(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if err := s.orch.PauseWorkflow(r.Context(), id); err != nil {
		s.respondError(w, http.StatusInternalServerError, err)
		return
	}
	wf, err := s.orch.Workflow(id)
	if err != nil {
		s.respondError(w, http.StatusNotFound, err)
		return
	}
	s.hub.BroadcastWorkflowUpdate(wf)
	s.respondJSON(w, http.StatusOK, wf)
}

func (s *Server) handleResumeWorkflow(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if err := s.orch.ResumeWorkflow(r.Context(), id); err != nil {
		s.respondError(w, http.StatusInternalServerError, err)
		return
	}
	wf, err := s.orch.Workflow(id)
	if err != nil {
		s.respondError(w, http.StatusNotFound, err)
		return
	}
	s.hub.BroadcastWorkflowUpdate(wf)
	s.respondJSON(w, http.StatusOK, wf)
}

// --- experiments ---

func (s *Server) handleCreateExperiment(w http.ResponseWriter, r *http.Request) {
	var cfg abtest.Config
	if err := json.NewDecoder(r.Body).Decode(&cfg); err != nil {
		s.respondError(w, http.StatusBadRequest, err)
		return
	}

	if err := s.abEngine.CreateExperiment(r.Context(), &cfg); err != nil {
		s.respondError(w, http.StatusBadRequest, err)
		return
	}
	s.hub.BroadcastExperimentUpdate(cfg.ExperimentID, &cfg)
	s.respondJSON(w, http.StatusCreated, &cfg)
}

func (s *Server) handleListExperiments(w http.ResponseWriter, r *http.Request) {
	ids := s.abEngine.ActiveExperiments()
	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"experiment_ids": ids,
		"count":          len(ids),
	})
}

func (s *Server) handleGetExperiment(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	cfg, ok := s.abEngine.Experiment(id)
	if !ok {
		s.respondJSON(w, http.StatusNotFound, map[string]string{"error": "experiment not found"})
		return
	}
	results, _ := s.abEngine.Results(id)
	allocations, _ := s.abEngine.Allocations(id)
	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"experiment":  cfg,
		"results":     results,
		"allocations": allocations,
	})
}

func (s *Server) handleAllocateTraffic(w http.ResponseWriter, r *http.Request) {
	armID, err := s.abEngine.AllocateTraffic(mux.Vars(r)["id"])
	if err != nil {
		s.respondError(w, http.StatusBadRequest, err)
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]string{"arm_id": armID})
}

type recordOutcomeRequest struct {
	ArmID   string         `json:"arm_id"`
	Outcome abtest.Outcome `json:"outcome"`
}

func (s *Server) handleRecordOutcome(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	var req recordOutcomeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, err)
		return
	}
	if req.Outcome.Timestamp.IsZero() {
		req.Outcome.Timestamp = time.Now().UTC()
	}

	if err := s.abEngine.RecordOutcome(r.Context(), id, req.ArmID, req.Outcome); err != nil {
		s.respondError(w, http.StatusBadRequest, err)
		return
	}
	if results, ok := s.abEngine.Results(id); ok {
		s.hub.BroadcastExperimentUpdate(id, results)
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleAnalyzeExperiment(w http.ResponseWriter, r *http.Request) {
	analysis, err := s.abEngine.AnalyzeExperiment(mux.Vars(r)["id"])
	if err != nil {
		s.respondError(w, http.StatusNotFound, err)
		return
	}
	s.respondJSON(w, http.StatusOK, analysis)
}

type stopExperimentRequest struct {
	Reason    abtest.StopReason `json:"reason"`
	WinnerArm string            `json:"winner_arm,omitempty"`
}

func (s *Server) handleStopExperiment(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	req := stopExperimentRequest{Reason: abtest.StopManual}
	if r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			s.respondError(w, http.StatusBadRequest, err)
			return
		}
	}

	archived, err := s.abEngine.StopExperiment(r.Context(), id, req.Reason, req.WinnerArm)
	if err != nil {
		s.respondError(w, http.StatusBadRequest, err)
		return
	}
	s.hub.BroadcastExperimentUpdate(id, archived)
	s.respondJSON(w, http.StatusOK, archived)
}

func (s *Server) handleGetArchive(w http.ResponseWriter, r *http.Request) {
	archived, ok := s.abEngine.ArchivedExperiment(mux.Vars(r)["id"])
	if !ok {
		s.respondJSON(w, http.StatusNotFound, map[string]string{"error": "archive not found"})
		return
	}
	s.respondJSON(w, http.StatusOK, archived)
}

// --- models ---

type registerModelRequest struct {
	URI    string                      `json:"uri"`
	Name   string                      `json:"name"`
	Config types.StrategyConfiguration `json:"config"`
}

func (s *Server) handleRegisterModel(w http.ResponseWriter, r *http.Request) {
	var req registerModelRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, err)
		return
	}

	version, err := s.registry.RegisterModel(r.Context(), req.URI, req.Name, &req.Config)
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, err)
		return
	}
	s.respondJSON(w, http.StatusCreated, map[string]string{
		"model_name": req.Name,
		"version":    version,
	})
}

type promoteModelRequest struct {
	Version     string         `json:"version"`
	TargetStage registry.Stage `json:"target_stage"`
	WindowDays  int            `json:"window_days,omitempty"`
	Force       bool           `json:"force,omitempty"`
}

func (s *Server) handlePromoteModel(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]

	var req promoteModelRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, err)
		return
	}
	if req.WindowDays <= 0 {
		req.WindowDays = 90
	}

	window := time.Duration(req.WindowDays) * 24 * time.Hour
	report, err := s.registry.ValidateAndPromote(r.Context(), name, req.Version, req.TargetStage, window, req.Force)
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, err)
		return
	}
	s.respondJSON(w, http.StatusOK, report)
}

type championChallengerRequest struct {
	ChampionModel     string  `json:"champion_model"`
	ChampionVersion   string  `json:"champion_version"`
	ChallengerModel   string  `json:"challenger_model"`
	ChallengerVersion string  `json:"challenger_version"`
	ChampionSplit     float64 `json:"champion_split,omitempty"`
	MaxDurationDays   int     `json:"max_duration_days,omitempty"`
}

func (s *Server) handleSetupChampionChallenger(w http.ResponseWriter, r *http.Request) {
	var req championChallengerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, err)
		return
	}
	if req.MaxDurationDays <= 0 {
		req.MaxDurationDays = 30
	}

	experimentID, err := s.registry.SetupChampionChallengerTest(
		r.Context(),
		req.ChampionModel, req.ChampionVersion,
		req.ChallengerModel, req.ChallengerVersion,
		req.ChampionSplit,
		time.Duration(req.MaxDurationDays)*24*time.Hour,
	)
	if err != nil {
		s.respondError(w, http.StatusBadRequest, err)
		return
	}
	s.respondJSON(w, http.StatusCreated, map[string]string{"experiment_id": experimentID})
}

type analyzeChampionChallengerRequest struct {
	Execute bool `json:"execute,omitempty"`
}

func (s *Server) handleAnalyzeChampionChallenger(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	var req analyzeChampionChallengerRequest
	if r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			s.respondError(w, http.StatusBadRequest, err)
			return
		}
	}

	decision, err := s.registry.AnalyzeChampionChallengerResults(r.Context(), id)
	if err != nil {
		s.respondError(w, http.StatusBadRequest, err)
		return
	}
	if req.Execute {
		if err := s.registry.ExecuteChampionChallengerDecision(r.Context(), decision); err != nil {
			s.respondError(w, http.StatusInternalServerError, err)
			return
		}
	}
	s.respondJSON(w, http.StatusOK, decision)
}

// --- validation ---

type compareStrategiesRequest struct {
	ConfigA    types.StrategyConfiguration `json:"config_a"`
	ConfigB    types.StrategyConfiguration `json:"config_b"`
	Phase      validation.Phase            `json:"phase,omitempty"`
	WindowDays int                         `json:"window_days,omitempty"`
}

func (s *Server) handleCompareStrategies(w http.ResponseWriter, r *http.Request) {
	var req compareStrategiesRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, err)
		return
	}
	if req.Phase == "" {
		req.Phase = validation.PhaseDevelopment
	}
	if req.WindowDays <= 0 {
		req.WindowDays = 90
	}

	end := time.Now()
	start := end.AddDate(0, 0, -req.WindowDays)
	report, err := s.validator.CompareStrategies(r.Context(), &req.ConfigA, &req.ConfigB, req.Phase, start, end)
	if err != nil {
		s.respondError(w, http.StatusBadRequest, err)
		return
	}
	s.respondJSON(w, http.StatusOK, report)
}

type crossTemporalRequest struct {
	Config      types.StrategyConfiguration `json:"config"`
	Folds       int                         `json:"folds,omitempty"`
	PurgeDays   int                         `json:"purge_days,omitempty"`
	EmbargoDays int                         `json:"embargo_days,omitempty"`
	WindowDays  int                         `json:"window_days,omitempty"`
}

func (s *Server) handleCrossTemporalValidation(w http.ResponseWriter, r *http.Request) {
	var req crossTemporalRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, err)
		return
	}
	if req.WindowDays <= 0 {
		req.WindowDays = 365
	}

	ctCfg := validation.DefaultCrossTemporalConfig()
	if req.Folds > 0 {
		ctCfg.Folds = req.Folds
	}
	if req.PurgeDays > 0 {
		ctCfg.Purge = time.Duration(req.PurgeDays) * 24 * time.Hour
	}
	if req.EmbargoDays > 0 {
		ctCfg.Embargo = time.Duration(req.EmbargoDays) * 24 * time.Hour
	}

	end := time.Now()
	start := end.AddDate(0, 0, -req.WindowDays)
	report, err := s.validator.ValidateCrossTemporal(r.Context(), &req.Config, ctCfg, start, end)
	if err != nil {
		s.respondError(w, http.StatusBadRequest, err)
		return
	}
	s.respondJSON(w, http.StatusOK, report)
}
