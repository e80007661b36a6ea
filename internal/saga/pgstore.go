package saga

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/osoko/pressline/model"
)

// PgRunStore is a PostgreSQL-backed RunStore using pgx/v5. Step records and
// compensation logs reference runs logically by run_id; there are no foreign
// keys into the per-module artifact tables.
type PgRunStore struct {
	pool *pgxpool.Pool
}

// NewPgRunStore creates a new PostgreSQL run store.
func NewPgRunStore(pool *pgxpool.Pool) *PgRunStore {
	return &PgRunStore{pool: pool}
}

// EnsureRunSchema creates the run bookkeeping tables if missing.
func EnsureRunSchema(ctx context.Context, pool *pgxpool.Pool) error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS workflow_runs (
			run_id        TEXT PRIMARY KEY,
			workflow_name TEXT NOT NULL,
			status        TEXT NOT NULL,
			started_at    TIMESTAMPTZ NOT NULL,
			completed_at  TIMESTAMPTZ
		)`,
		`CREATE TABLE IF NOT EXISTS step_records (
			run_id         TEXT NOT NULL,
			step_name      TEXT NOT NULL,
			sequence_index INT NOT NULL,
			status         TEXT NOT NULL,
			input_ref      TEXT NOT NULL DEFAULT '',
			output_ref     TEXT NOT NULL DEFAULT '',
			error          TEXT NOT NULL DEFAULT '',
			attempts       INT NOT NULL DEFAULT 0,
			updated_at     TIMESTAMPTZ NOT NULL,
			PRIMARY KEY (run_id, step_name)
		)`,
		`CREATE TABLE IF NOT EXISTS compensation_logs (
			id             BIGSERIAL PRIMARY KEY,
			run_id         TEXT NOT NULL,
			step_name      TEXT NOT NULL,
			compensated_at TIMESTAMPTZ NOT NULL,
			rows_affected  INT NOT NULL
		)`,
	}

	for _, stmt := range statements {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("ensure run schema: %w", err)
		}
	}
	return nil
}

// CreateRun inserts a new run.
func (s *PgRunStore) CreateRun(ctx context.Context, run model.WorkflowRun) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO workflow_runs (run_id, workflow_name, status, started_at, completed_at)
		VALUES ($1, $2, $3, $4, $5)`,
		run.RunID, run.WorkflowName, run.Status, run.StartedAt, run.CompletedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return model.NewConflictError(
				fmt.Sprintf("run %q already exists", run.RunID),
			)
		}
		return model.NewRecoverableError("", fmt.Sprintf("insert run %q", run.RunID), err)
	}
	return nil
}

// GetRun retrieves a run by ID.
func (s *PgRunStore) GetRun(ctx context.Context, runID string) (model.WorkflowRun, error) {
	var run model.WorkflowRun
	err := s.pool.QueryRow(ctx, `
		SELECT run_id, workflow_name, status, started_at, completed_at
		FROM workflow_runs
		WHERE run_id = $1`,
		runID,
	).Scan(&run.RunID, &run.WorkflowName, &run.Status, &run.StartedAt, &run.CompletedAt)
	if err == pgx.ErrNoRows {
		return model.WorkflowRun{}, model.NewNotFoundError(
			fmt.Sprintf("run %q not found", runID),
		)
	}
	if err != nil {
		return model.WorkflowRun{}, model.NewRecoverableError("", fmt.Sprintf("query run %q", runID), err)
	}
	return run, nil
}

// UpdateRun persists an updated run.
func (s *PgRunStore) UpdateRun(ctx context.Context, run model.WorkflowRun) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE workflow_runs
		SET status = $1, completed_at = $2
		WHERE run_id = $3`,
		run.Status, run.CompletedAt, run.RunID,
	)
	if err != nil {
		return model.NewRecoverableError("", fmt.Sprintf("update run %q", run.RunID), err)
	}
	if tag.RowsAffected() == 0 {
		return model.NewNotFoundError(fmt.Sprintf("run %q not found", run.RunID))
	}
	return nil
}

// UpsertStep creates or replaces the record keyed by (run_id, step_name).
func (s *PgRunStore) UpsertStep(ctx context.Context, rec model.StepRecord) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO step_records (
			run_id, step_name, sequence_index, status,
			input_ref, output_ref, error, attempts, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (run_id, step_name) DO UPDATE SET
			sequence_index = EXCLUDED.sequence_index,
			status = EXCLUDED.status,
			input_ref = EXCLUDED.input_ref,
			output_ref = EXCLUDED.output_ref,
			error = EXCLUDED.error,
			attempts = EXCLUDED.attempts,
			updated_at = EXCLUDED.updated_at`,
		rec.RunID, rec.StepName, rec.SequenceIndex, rec.Status,
		string(rec.InputRef), string(rec.OutputRef), rec.Error, rec.Attempts,
		time.Now().UTC(),
	)
	if err != nil {
		return model.NewRecoverableError(rec.StepName, "upsert step record", err)
	}
	return nil
}

// GetStep retrieves one step record.
func (s *PgRunStore) GetStep(ctx context.Context, runID, stepName string) (model.StepRecord, error) {
	rec, err := s.scanStep(s.pool.QueryRow(ctx, `
		SELECT run_id, step_name, sequence_index, status,
		       input_ref, output_ref, error, attempts, updated_at
		FROM step_records
		WHERE run_id = $1 AND step_name = $2`,
		runID, stepName,
	))
	if err == pgx.ErrNoRows {
		return model.StepRecord{}, model.NewNotFoundError(
			fmt.Sprintf("step %q of run %q not found", stepName, runID),
		)
	}
	if err != nil {
		return model.StepRecord{}, model.NewRecoverableError(stepName, "query step record", err)
	}
	return rec, nil
}

// ListSteps returns all step records of a run ordered by sequence index.
func (s *PgRunStore) ListSteps(ctx context.Context, runID string) ([]model.StepRecord, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT run_id, step_name, sequence_index, status,
		       input_ref, output_ref, error, attempts, updated_at
		FROM step_records
		WHERE run_id = $1
		ORDER BY sequence_index`,
		runID,
	)
	if err != nil {
		return nil, model.NewRecoverableError("", "list step records", err)
	}
	defer rows.Close()

	var result []model.StepRecord
	for rows.Next() {
		rec, err := s.scanStep(rows)
		if err != nil {
			return nil, fmt.Errorf("scan step record: %w", err)
		}
		result = append(result, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate step records: %w", err)
	}
	return result, nil
}

// ListCompletedSteps returns every completed step record across all runs.
func (s *PgRunStore) ListCompletedSteps(ctx context.Context) ([]model.StepRecord, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT run_id, step_name, sequence_index, status,
		       input_ref, output_ref, error, attempts, updated_at
		FROM step_records
		WHERE status = $1
		ORDER BY run_id, sequence_index`,
		model.StepStatusCompleted,
	)
	if err != nil {
		return nil, model.NewRecoverableError("", "list completed step records", err)
	}
	defer rows.Close()

	var result []model.StepRecord
	for rows.Next() {
		rec, err := s.scanStep(rows)
		if err != nil {
			return nil, fmt.Errorf("scan step record: %w", err)
		}
		result = append(result, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate step records: %w", err)
	}
	return result, nil
}

// AppendCompensation records one compensation attempt.
func (s *PgRunStore) AppendCompensation(ctx context.Context, log model.CompensationLog) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO compensation_logs (run_id, step_name, compensated_at, rows_affected)
		VALUES ($1, $2, $3, $4)`,
		log.RunID, log.StepName, log.CompensatedAt, log.RowsAffected,
	)
	if err != nil {
		return model.NewRecoverableError(log.StepName, "insert compensation log", err)
	}
	return nil
}

// ListCompensations returns a run's compensation log in append order.
func (s *PgRunStore) ListCompensations(ctx context.Context, runID string) ([]model.CompensationLog, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT run_id, step_name, compensated_at, rows_affected
		FROM compensation_logs
		WHERE run_id = $1
		ORDER BY id`,
		runID,
	)
	if err != nil {
		return nil, model.NewRecoverableError("", "list compensation logs", err)
	}
	defer rows.Close()

	var result []model.CompensationLog
	for rows.Next() {
		var log model.CompensationLog
		if err := rows.Scan(&log.RunID, &log.StepName, &log.CompensatedAt, &log.RowsAffected); err != nil {
			return nil, fmt.Errorf("scan compensation log: %w", err)
		}
		result = append(result, log)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate compensation logs: %w", err)
	}
	return result, nil
}

// HealthCheck pings the backing pool.
func (s *PgRunStore) HealthCheck(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func (s *PgRunStore) scanStep(row rowScanner) (model.StepRecord, error) {
	var rec model.StepRecord
	var inputRef, outputRef string
	err := row.Scan(
		&rec.RunID, &rec.StepName, &rec.SequenceIndex, &rec.Status,
		&inputRef, &outputRef, &rec.Error, &rec.Attempts, &rec.UpdatedAt,
	)
	if err != nil {
		return model.StepRecord{}, err
	}
	rec.InputRef = model.ArtifactRef(inputRef)
	rec.OutputRef = model.ArtifactRef(outputRef)
	return rec, nil
}
