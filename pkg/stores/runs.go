package stores

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/openfroyo/scripthost/pkg/hosterr"
)

// CreateRun creates a new run record
func (s *SQLiteStore) CreateRun(ctx context.Context, run *Run) error {
	query := `
		INSERT INTO runs (id, workspace, engine_kind, status, started_at, completed_at, error, metadata, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	if run.Metadata == "" {
		run.Metadata = "{}"
	}

	_, err := s.db.ExecContext(ctx, query,
		run.ID,
		run.Workspace,
		run.EngineKind,
		run.Status,
		run.StartedAt,
		run.CompletedAt,
		run.Error,
		run.Metadata,
		run.CreatedAt,
		run.UpdatedAt,
	)

	if err != nil {
		return hosterr.NewStorageError("failed to create run", err)
	}

	return nil
}

// GetRun retrieves a run by ID
func (s *SQLiteStore) GetRun(ctx context.Context, id string) (*Run, error) {
	query := `
		SELECT id, workspace, engine_kind, status, started_at, completed_at, error, metadata, created_at, updated_at
		FROM runs
		WHERE id = ?
	`

	run := &Run{}
	err := s.db.QueryRowContext(ctx, query, id).Scan(
		&run.ID,
		&run.Workspace,
		&run.EngineKind,
		&run.Status,
		&run.StartedAt,
		&run.CompletedAt,
		&run.Error,
		&run.Metadata,
		&run.CreatedAt,
		&run.UpdatedAt,
	)

	if err == sql.ErrNoRows {
		return nil, hosterr.NewNotFoundError(fmt.Sprintf("run not found: %s", id), nil)
	}
	if err != nil {
		return nil, hosterr.NewStorageError("failed to get run", err)
	}

	return run, nil
}

// UpdateRunStatus updates the status of a run
func (s *SQLiteStore) UpdateRunStatus(ctx context.Context, id string, status RunStatus, errMsg *string) error {
	query := `
		UPDATE runs
		SET status = ?, error = ?, completed_at = ?, updated_at = ?
		WHERE id = ?
	`

	now := time.Now().UTC()
	var completedAt *time.Time
	if status == RunStatusCompleted || status == RunStatusFailed || status == RunStatusCancelled {
		completedAt = &now
	}

	result, err := s.db.ExecContext(ctx, query, status, errMsg, completedAt, now, id)
	if err != nil {
		return hosterr.NewStorageError("failed to update run status", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return hosterr.NewStorageError("failed to get rows affected", err)
	}

	if rows == 0 {
		return hosterr.NewNotFoundError(fmt.Sprintf("run not found: %s", id), nil)
	}

	return nil
}

// ListRuns lists runs with pagination, newest first
func (s *SQLiteStore) ListRuns(ctx context.Context, limit, offset int) ([]*Run, error) {
	query := `
		SELECT id, workspace, engine_kind, status, started_at, completed_at, error, metadata, created_at, updated_at
		FROM runs
		ORDER BY started_at DESC
		LIMIT ? OFFSET ?
	`

	rows, err := s.db.QueryContext(ctx, query, limit, offset)
	if err != nil {
		return nil, hosterr.NewStorageError("failed to list runs", err)
	}
	defer rows.Close()

	runs := []*Run{}
	for rows.Next() {
		run := &Run{}
		err := rows.Scan(
			&run.ID,
			&run.Workspace,
			&run.EngineKind,
			&run.Status,
			&run.StartedAt,
			&run.CompletedAt,
			&run.Error,
			&run.Metadata,
			&run.CreatedAt,
			&run.UpdatedAt,
		)
		if err != nil {
			return nil, hosterr.NewStorageError("failed to scan run", err)
		}
		runs = append(runs, run)
	}

	if err := rows.Err(); err != nil {
		return nil, hosterr.NewStorageError("error iterating runs", err)
	}

	return runs, nil
}

// DeleteRun deletes a run by ID
func (s *SQLiteStore) DeleteRun(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM runs WHERE id = ?`, id)
	if err != nil {
		return hosterr.NewStorageError("failed to delete run", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return hosterr.NewStorageError("failed to get rows affected", err)
	}

	if rows == 0 {
		return hosterr.NewNotFoundError(fmt.Sprintf("run not found: %s", id), nil)
	}

	return nil
}
