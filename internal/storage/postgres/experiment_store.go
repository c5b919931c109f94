package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/diamond-analytics/betting-backend/internal/abtest"
	"github.com/diamond-analytics/betting-backend/internal/storage"
)

// ExperimentStore implements abtest.Store using PostgreSQL.
type ExperimentStore struct {
	pool *Pool
}

// NewExperimentStore creates a new ExperimentStore.
func NewExperimentStore(pool *Pool) *ExperimentStore {
	return &ExperimentStore{pool: pool}
}

// Compile-time interface check.
var _ abtest.Store = (*ExperimentStore)(nil)

// SaveExperiment inserts a new experiment. Returns ErrDuplicateKey if the id
// exists.
func (s *ExperimentStore) SaveExperiment(ctx context.Context, cfg *abtest.Config) error {
	doc, err := json.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshal experiment: %w", err)
	}

	query := `
		INSERT INTO ab_experiments (experiment_id, status, document, start_time)
		VALUES ($1, $2, $3, $4)
	`
	_, err = s.pool.Exec(ctx, query, cfg.ExperimentID, string(cfg.Status), doc, cfg.StartTime)
	if err != nil {
		if isDuplicateKeyError(err) {
			return storage.ErrDuplicateKey
		}
		return fmt.Errorf("insert experiment: %w", err)
	}
	return nil
}

// UpdateExperiment replaces a stored experiment. Returns ErrNotFound for an
// unknown id.
func (s *ExperimentStore) UpdateExperiment(ctx context.Context, cfg *abtest.Config) error {
	doc, err := json.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshal experiment: %w", err)
	}

	query := `
		UPDATE ab_experiments SET status = $2, document = $3 WHERE experiment_id = $1
	`
	tag, err := s.pool.Exec(ctx, query, cfg.ExperimentID, string(cfg.Status), doc)
	if err != nil {
		return fmt.Errorf("update experiment: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// SaveResult upserts the running aggregate for one arm.
func (s *ExperimentStore) SaveResult(ctx context.Context, experimentID string, result *abtest.Result) error {
	doc, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("marshal arm result: %w", err)
	}

	query := `
		INSERT INTO ab_experiment_results (experiment_id, arm_id, document, last_updated)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (experiment_id, arm_id)
		DO UPDATE SET document = EXCLUDED.document, last_updated = EXCLUDED.last_updated
	`
	if _, err := s.pool.Exec(ctx, query, experimentID, result.ArmID, doc, result.LastUpdated); err != nil {
		return fmt.Errorf("save arm result: %w", err)
	}
	return nil
}

// ArchiveExperiment stores the terminal archive document.
func (s *ExperimentStore) ArchiveExperiment(ctx context.Context, archived *abtest.Archived) error {
	doc, err := json.Marshal(archived)
	if err != nil {
		return fmt.Errorf("marshal archive: %w", err)
	}

	query := `
		INSERT INTO ab_experiment_archives (experiment_id, reason, document, archived_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (experiment_id)
		DO UPDATE SET reason = EXCLUDED.reason, document = EXCLUDED.document, archived_at = EXCLUDED.archived_at
	`
	_, err = s.pool.Exec(ctx, query,
		archived.Config.ExperimentID,
		string(archived.Reason),
		doc,
		archived.ArchivedAt,
	)
	if err != nil {
		return fmt.Errorf("archive experiment: %w", err)
	}
	return nil
}

// Archive retrieves a stored archive document.
func (s *ExperimentStore) Archive(ctx context.Context, experimentID string) (*abtest.Archived, error) {
	query := `SELECT document FROM ab_experiment_archives WHERE experiment_id = $1`

	var doc []byte
	if err := s.pool.QueryRow(ctx, query, experimentID).Scan(&doc); err != nil {
		if isNotFoundError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("get experiment archive: %w", err)
	}

	var archived abtest.Archived
	if err := json.Unmarshal(doc, &archived); err != nil {
		return nil, fmt.Errorf("unmarshal archive: %w", err)
	}
	return &archived, nil
}
