package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/diamond-analytics/betting-backend/internal/storage"
	"github.com/diamond-analytics/betting-backend/pkg/types"
)

// ModelHistoryStore implements storage.ModelHistoryStore using PostgreSQL.
type ModelHistoryStore struct {
	pool *Pool
}

// NewModelHistoryStore creates a new ModelHistoryStore.
func NewModelHistoryStore(pool *Pool) *ModelHistoryStore {
	return &ModelHistoryStore{pool: pool}
}

// Compile-time interface check.
var _ storage.ModelHistoryStore = (*ModelHistoryStore)(nil)

// Append records one performance entry for a model.
func (s *ModelHistoryStore) Append(ctx context.Context, modelName string, m *types.PerformanceMetrics) error {
	doc, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("marshal performance metrics: %w", err)
	}

	query := `
		INSERT INTO model_performance_history (model_name, generated_at, document)
		VALUES ($1, $2, $3)
	`
	if _, err := s.pool.Exec(ctx, query, modelName, m.GeneratedAt, doc); err != nil {
		return fmt.Errorf("append model history: %w", err)
	}
	return nil
}

// History retrieves a model's performance entries in append order.
func (s *ModelHistoryStore) History(ctx context.Context, modelName string) ([]*types.PerformanceMetrics, error) {
	query := `
		SELECT document FROM model_performance_history
		WHERE model_name = $1
		ORDER BY id ASC
	`
	rows, err := s.pool.Query(ctx, query, modelName)
	if err != nil {
		return nil, fmt.Errorf("get model history: %w", err)
	}
	defer rows.Close()

	var out []*types.PerformanceMetrics
	for rows.Next() {
		var doc []byte
		if err := rows.Scan(&doc); err != nil {
			return nil, fmt.Errorf("scan history row: %w", err)
		}
		var m types.PerformanceMetrics
		if err := json.Unmarshal(doc, &m); err != nil {
			return nil, fmt.Errorf("unmarshal performance metrics: %w", err)
		}
		out = append(out, &m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate history rows: %w", err)
	}
	return out, nil
}
