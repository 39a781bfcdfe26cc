package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresRepository implements Repository using PostgreSQL.
type PostgresRepository struct {
	pool *pgxpool.Pool
}

// NewPostgresRepository creates a new PostgreSQL repository.
func NewPostgresRepository(pool *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{pool: pool}
}

// CreateRun inserts a new run record.
func (r *PostgresRepository) CreateRun(ctx context.Context, run *Run) error {
	if run.ID == uuid.Nil {
		run.ID = uuid.New()
	}
	if run.Status == "" {
		run.Status = StatusRunning
	}

	query := `
		INSERT INTO deployment_runs (id, environment, variant, status)
		VALUES ($1, $2, $3, $4)
		RETURNING started_at`

	err := r.pool.QueryRow(ctx, query,
		run.ID, run.Environment, run.Variant, run.Status,
	).Scan(&run.StartedAt)
	if err != nil {
		return fmt.Errorf("CreateRun: %w", err)
	}
	return nil
}

// FinishRun sets the final status of a run.
func (r *PostgresRepository) FinishRun(ctx context.Context, id uuid.UUID, status Status, errMsg *string) error {
	query := `
		UPDATE deployment_runs
		SET status = $2, error_message = $3, finished_at = NOW()
		WHERE id = $1`

	result, err := r.pool.Exec(ctx, query, id, status, errMsg)
	if err != nil {
		return fmt.Errorf("FinishRun: %w", err)
	}
	if result.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// GetRun retrieves a run by its UUID.
func (r *PostgresRepository) GetRun(ctx context.Context, id uuid.UUID) (*Run, error) {
	query := `
		SELECT id, environment, variant, status, error_message, started_at, finished_at
		FROM deployment_runs
		WHERE id = $1`

	var run Run
	err := r.pool.QueryRow(ctx, query, id).Scan(
		&run.ID, &run.Environment, &run.Variant, &run.Status,
		&run.ErrorMessage, &run.StartedAt, &run.FinishedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("GetRun: %w", err)
	}
	return &run, nil
}

// ListRuns retrieves the most recent runs for an environment, newest first.
func (r *PostgresRepository) ListRuns(ctx context.Context, environment string, limit int) ([]*Run, error) {
	if limit <= 0 {
		limit = 20
	}

	query := `
		SELECT id, environment, variant, status, error_message, started_at, finished_at
		FROM deployment_runs
		WHERE environment = $1
		ORDER BY started_at DESC
		LIMIT $2`

	rows, err := r.pool.Query(ctx, query, environment, limit)
	if err != nil {
		return nil, fmt.Errorf("ListRuns: %w", err)
	}
	defer rows.Close()

	var runs []*Run
	for rows.Next() {
		var run Run
		if err := rows.Scan(
			&run.ID, &run.Environment, &run.Variant, &run.Status,
			&run.ErrorMessage, &run.StartedAt, &run.FinishedAt,
		); err != nil {
			return nil, fmt.Errorf("ListRuns scan: %w", err)
		}
		runs = append(runs, &run)
	}
	return runs, rows.Err()
}

// RecordUnit inserts a deployed unit record.
func (r *PostgresRepository) RecordUnit(ctx context.Context, u *UnitRecord) error {
	if u.ID == uuid.Nil {
		u.ID = uuid.New()
	}

	libs, err := json.Marshal(u.LinkedLibraries)
	if err != nil {
		return fmt.Errorf("RecordUnit: encode linked libraries: %w", err)
	}

	query := `
		INSERT INTO deployed_units (id, run_id, environment, unit, address, tx_hash, linked_libraries)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING created_at`

	err = r.pool.QueryRow(ctx, query,
		u.ID, u.RunID, u.Environment, u.Unit, u.Address, u.TxHash, json.RawMessage(libs),
	).Scan(&u.CreatedAt)
	if err != nil {
		return fmt.Errorf("RecordUnit: %w", err)
	}
	return nil
}

// RecordLink inserts a link record.
func (r *PostgresRepository) RecordLink(ctx context.Context, l *LinkRecord) error {
	if l.ID == uuid.Nil {
		l.ID = uuid.New()
	}

	query := `
		INSERT INTO unit_links (id, run_id, dependent, library, library_address)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING created_at`

	err := r.pool.QueryRow(ctx, query,
		l.ID, l.RunID, l.Dependent, l.Library, l.LibraryAddress,
	).Scan(&l.CreatedAt)
	if err != nil {
		return fmt.Errorf("RecordLink: %w", err)
	}
	return nil
}

// ListUnits retrieves the units deployed by a run in deployment order.
func (r *PostgresRepository) ListUnits(ctx context.Context, runID uuid.UUID) ([]UnitRecord, error) {
	query := `
		SELECT id, run_id, environment, unit, address, tx_hash, linked_libraries, created_at
		FROM deployed_units
		WHERE run_id = $1
		ORDER BY created_at ASC`

	rows, err := r.pool.Query(ctx, query, runID)
	if err != nil {
		return nil, fmt.Errorf("ListUnits: %w", err)
	}
	defer rows.Close()

	var units []UnitRecord
	for rows.Next() {
		var (
			u    UnitRecord
			libs []byte
		)
		if err := rows.Scan(
			&u.ID, &u.RunID, &u.Environment, &u.Unit, &u.Address, &u.TxHash, &libs, &u.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("ListUnits scan: %w", err)
		}
		if len(libs) > 0 {
			if err := json.Unmarshal(libs, &u.LinkedLibraries); err != nil {
				return nil, fmt.Errorf("ListUnits decode linked libraries: %w", err)
			}
		}
		units = append(units, u)
	}
	return units, rows.Err()
}

// ListLinks retrieves the links applied during a run.
func (r *PostgresRepository) ListLinks(ctx context.Context, runID uuid.UUID) ([]LinkRecord, error) {
	query := `
		SELECT id, run_id, dependent, library, library_address, created_at
		FROM unit_links
		WHERE run_id = $1
		ORDER BY created_at ASC`

	rows, err := r.pool.Query(ctx, query, runID)
	if err != nil {
		return nil, fmt.Errorf("ListLinks: %w", err)
	}
	defer rows.Close()

	var links []LinkRecord
	for rows.Next() {
		var l LinkRecord
		if err := rows.Scan(&l.ID, &l.RunID, &l.Dependent, &l.Library, &l.LibraryAddress, &l.CreatedAt); err != nil {
			return nil, fmt.Errorf("ListLinks scan: %w", err)
		}
		links = append(links, l)
	}
	return links, rows.Err()
}

// LatestAddress returns the most recent address of unit in environment.
func (r *PostgresRepository) LatestAddress(ctx context.Context, environment, unit string) (string, error) {
	query := `
		SELECT address
		FROM deployed_units
		WHERE environment = $1 AND unit = $2
		ORDER BY created_at DESC
		LIMIT 1`

	var addr string
	err := r.pool.QueryRow(ctx, query, environment, unit).Scan(&addr)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("LatestAddress: %w", err)
	}
	return addr, nil
}

var _ Repository = (*PostgresRepository)(nil)
