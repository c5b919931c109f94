package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/diamond-analytics/betting-backend/internal/storage"
	"github.com/diamond-analytics/betting-backend/pkg/types"
)

// WorkflowStore implements storage.WorkflowStore using PostgreSQL.
type WorkflowStore struct {
	pool *Pool
}

// NewWorkflowStore creates a new WorkflowStore.
func NewWorkflowStore(pool *Pool) *WorkflowStore {
	return &WorkflowStore{pool: pool}
}

// Compile-time interface check.
var _ storage.WorkflowStore = (*WorkflowStore)(nil)

// Save inserts a new workflow. Returns ErrDuplicateKey if the id exists.
func (s *WorkflowStore) Save(ctx context.Context, wf *types.StrategyWorkflow) error {
	doc, err := json.Marshal(wf)
	if err != nil {
		return fmt.Errorf("marshal workflow: %w", err)
	}

	query := `
		INSERT INTO strategy_workflows (workflow_id, status, current_stage, document, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`
	_, err = s.pool.Exec(ctx, query,
		wf.WorkflowID,
		string(wf.Status),
		string(wf.CurrentStage),
		doc,
		wf.CreatedAt,
		wf.UpdatedAt,
	)
	if err != nil {
		if isDuplicateKeyError(err) {
			return storage.ErrDuplicateKey
		}
		return fmt.Errorf("insert workflow: %w", err)
	}
	return nil
}

// Get retrieves a workflow by id. Returns ErrNotFound if it does not exist.
func (s *WorkflowStore) Get(ctx context.Context, workflowID string) (*types.StrategyWorkflow, error) {
	query := `SELECT document FROM strategy_workflows WHERE workflow_id = $1`

	var doc []byte
	if err := s.pool.QueryRow(ctx, query, workflowID).Scan(&doc); err != nil {
		if isNotFoundError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("get workflow: %w", err)
	}

	var wf types.StrategyWorkflow
	if err := json.Unmarshal(doc, &wf); err != nil {
		return nil, fmt.Errorf("unmarshal workflow: %w", err)
	}
	return &wf, nil
}

// Update replaces a stored workflow. Returns ErrNotFound for an unknown id.
func (s *WorkflowStore) Update(ctx context.Context, wf *types.StrategyWorkflow) error {
	doc, err := json.Marshal(wf)
	if err != nil {
		return fmt.Errorf("marshal workflow: %w", err)
	}

	query := `
		UPDATE strategy_workflows
		SET status = $2, current_stage = $3, document = $4, updated_at = $5
		WHERE workflow_id = $1
	`
	tag, err := s.pool.Exec(ctx, query,
		wf.WorkflowID,
		string(wf.Status),
		string(wf.CurrentStage),
		doc,
		wf.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("update workflow: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// ListByStatus retrieves all workflows with the given status, oldest first.
func (s *WorkflowStore) ListByStatus(ctx context.Context, status types.WorkflowStatus) ([]*types.StrategyWorkflow, error) {
	query := `
		SELECT document FROM strategy_workflows
		WHERE status = $1
		ORDER BY created_at ASC, workflow_id ASC
	`
	rows, err := s.pool.Query(ctx, query, string(status))
	if err != nil {
		return nil, fmt.Errorf("list workflows by status: %w", err)
	}
	defer rows.Close()

	var out []*types.StrategyWorkflow
	for rows.Next() {
		var doc []byte
		if err := rows.Scan(&doc); err != nil {
			return nil, fmt.Errorf("scan workflow row: %w", err)
		}
		var wf types.StrategyWorkflow
		if err := json.Unmarshal(doc, &wf); err != nil {
			return nil, fmt.Errorf("unmarshal workflow: %w", err)
		}
		out = append(out, &wf)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate workflow rows: %w", err)
	}
	return out, nil
}
