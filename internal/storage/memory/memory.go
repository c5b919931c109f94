// Package memory provides in-process implementations of the persistence
// contracts, used in tests and single-node deployments without Postgres.
package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/diamond-analytics/betting-backend/internal/abtest"
	"github.com/diamond-analytics/betting-backend/internal/storage"
	"github.com/diamond-analytics/betting-backend/pkg/types"
)

var (
	_ storage.WorkflowStore     = (*WorkflowStore)(nil)
	_ storage.ModelHistoryStore = (*ModelHistoryStore)(nil)
	_ abtest.Store              = (*ExperimentStore)(nil)
)

// WorkflowStore keeps workflows in a map, storing deep copies so callers
// cannot mutate stored state through retained pointers.
type WorkflowStore struct {
	mu        sync.RWMutex
	workflows map[string]*types.StrategyWorkflow
}

// NewWorkflowStore creates an empty in-memory workflow store.
func NewWorkflowStore() *WorkflowStore {
	return &WorkflowStore{workflows: make(map[string]*types.StrategyWorkflow)}
}

func (s *WorkflowStore) Save(ctx context.Context, wf *types.StrategyWorkflow) error {
	cp, err := copyWorkflow(wf)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.workflows[wf.WorkflowID]; ok {
		return fmt.Errorf("workflow %s: %w", wf.WorkflowID, storage.ErrDuplicateKey)
	}
	s.workflows[wf.WorkflowID] = cp
	return nil
}

func (s *WorkflowStore) Get(ctx context.Context, workflowID string) (*types.StrategyWorkflow, error) {
	s.mu.RLock()
	wf, ok := s.workflows[workflowID]
	s.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("workflow %s: %w", workflowID, storage.ErrNotFound)
	}
	return copyWorkflow(wf)
}

func (s *WorkflowStore) Update(ctx context.Context, wf *types.StrategyWorkflow) error {
	cp, err := copyWorkflow(wf)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.workflows[wf.WorkflowID]; !ok {
		return fmt.Errorf("workflow %s: %w", wf.WorkflowID, storage.ErrNotFound)
	}
	s.workflows[wf.WorkflowID] = cp
	return nil
}

func (s *WorkflowStore) ListByStatus(ctx context.Context, status types.WorkflowStatus) ([]*types.StrategyWorkflow, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*types.StrategyWorkflow, 0)
	for _, wf := range s.workflows {
		if wf.Status != status {
			continue
		}
		cp, err := copyWorkflow(wf)
		if err != nil {
			return nil, err
		}
		out = append(out, cp)
	}
	return out, nil
}

// copyWorkflow deep-copies through JSON. Workflows are small and mutations
// are rare, so the round trip is cheaper than maintaining a field-by-field
// clone.
func copyWorkflow(wf *types.StrategyWorkflow) (*types.StrategyWorkflow, error) {
	raw, err := json.Marshal(wf)
	if err != nil {
		return nil, fmt.Errorf("copy workflow %s: %w", wf.WorkflowID, err)
	}
	var cp types.StrategyWorkflow
	if err := json.Unmarshal(raw, &cp); err != nil {
		return nil, fmt.Errorf("copy workflow %s: %w", wf.WorkflowID, err)
	}
	return &cp, nil
}

// ModelHistoryStore keeps per-model performance history in append order.
type ModelHistoryStore struct {
	mu      sync.RWMutex
	history map[string][]*types.PerformanceMetrics
}

// NewModelHistoryStore creates an empty in-memory history store.
func NewModelHistoryStore() *ModelHistoryStore {
	return &ModelHistoryStore{history: make(map[string][]*types.PerformanceMetrics)}
}

func (s *ModelHistoryStore) Append(ctx context.Context, modelName string, m *types.PerformanceMetrics) error {
	cp := *m
	s.mu.Lock()
	s.history[modelName] = append(s.history[modelName], &cp)
	s.mu.Unlock()
	return nil
}

func (s *ModelHistoryStore) History(ctx context.Context, modelName string) ([]*types.PerformanceMetrics, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	entries := s.history[modelName]
	out := make([]*types.PerformanceMetrics, len(entries))
	for i, m := range entries {
		cp := *m
		out[i] = &cp
	}
	return out, nil
}

// ExperimentStore persists experiment configs, per-arm results and archives.
type ExperimentStore struct {
	mu          sync.RWMutex
	experiments map[string]*abtest.Config
	results     map[string]map[string]*abtest.Result
	archived    map[string]*abtest.Archived
}

// NewExperimentStore creates an empty in-memory experiment store.
func NewExperimentStore() *ExperimentStore {
	return &ExperimentStore{
		experiments: make(map[string]*abtest.Config),
		results:     make(map[string]map[string]*abtest.Result),
		archived:    make(map[string]*abtest.Archived),
	}
}

func (s *ExperimentStore) SaveExperiment(ctx context.Context, cfg *abtest.Config) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.experiments[cfg.ExperimentID]; ok {
		return fmt.Errorf("experiment %s: %w", cfg.ExperimentID, storage.ErrDuplicateKey)
	}
	cp := *cfg
	s.experiments[cfg.ExperimentID] = &cp
	return nil
}

func (s *ExperimentStore) UpdateExperiment(ctx context.Context, cfg *abtest.Config) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.experiments[cfg.ExperimentID]; !ok {
		return fmt.Errorf("experiment %s: %w", cfg.ExperimentID, storage.ErrNotFound)
	}
	cp := *cfg
	s.experiments[cfg.ExperimentID] = &cp
	return nil
}

func (s *ExperimentStore) SaveResult(ctx context.Context, experimentID string, result *abtest.Result) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	arms, ok := s.results[experimentID]
	if !ok {
		arms = make(map[string]*abtest.Result)
		s.results[experimentID] = arms
	}
	cp := *result
	arms[result.ArmID] = &cp
	return nil
}

func (s *ExperimentStore) ArchiveExperiment(ctx context.Context, archived *abtest.Archived) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.archived[archived.Config.ExperimentID] = archived
	return nil
}

// Experiment returns a stored experiment config; used by tests.
func (s *ExperimentStore) Experiment(experimentID string) (*abtest.Config, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	cfg, ok := s.experiments[experimentID]
	if !ok {
		return nil, false
	}
	cp := *cfg
	return &cp, true
}

// Archive returns a stored archive; used by tests.
func (s *ExperimentStore) Archive(experimentID string) (*abtest.Archived, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.archived[experimentID]
	return a, ok
}
