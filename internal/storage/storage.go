// Package storage defines the persistence contracts for workflows and
// model performance history, plus the sentinel errors shared by all
// implementations. Experiment persistence is defined alongside its engine
// in the abtest package.
package storage

import (
	"context"
	"errors"

	"github.com/diamond-analytics/betting-backend/pkg/types"
)

var (
	// ErrNotFound is returned when a record does not exist.
	ErrNotFound = errors.New("record not found")
	// ErrDuplicateKey is returned when inserting over an existing key.
	ErrDuplicateKey = errors.New("duplicate key")
)

// WorkflowStore persists strategy workflows. The orchestrator treats its
// in-memory map as a cache: every mutation goes through Update before it is
// considered committed.
type WorkflowStore interface {
	Save(ctx context.Context, wf *types.StrategyWorkflow) error
	Get(ctx context.Context, workflowID string) (*types.StrategyWorkflow, error)
	Update(ctx context.Context, wf *types.StrategyWorkflow) error
	ListByStatus(ctx context.Context, status types.WorkflowStatus) ([]*types.StrategyWorkflow, error)
}

// ModelHistoryStore keeps the append-only performance history per model
// name, used for promotion volume checks and production trend monitoring.
type ModelHistoryStore interface {
	Append(ctx context.Context, modelName string, m *types.PerformanceMetrics) error
	History(ctx context.Context, modelName string) ([]*types.PerformanceMetrics, error)
}
