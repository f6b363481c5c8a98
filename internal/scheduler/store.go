package scheduler

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/nugget/spectrumbot/internal/database"
)

// Store persists job executions in the job_runs table.
type Store struct {
	db *database.DB
}

// NewStore creates an execution store on a migrated database.
func NewStore(db *database.DB) *Store {
	return &Store{db: db}
}

// CreateExecution records the start of a run.
func (s *Store) CreateExecution(ctx context.Context, e *Execution) error {
	_, err := s.db.ExecContext(ctx, s.db.Rebind(`
		INSERT INTO job_runs (id, job, started_at, completed_at, status, result)
		VALUES (?, ?, ?, ?, ?, ?)
	`), e.ID, e.Job, e.StartedAt, nullTime(e.CompletedAt), string(e.Status), e.Result)
	if err != nil {
		return fmt.Errorf("insert job run: %w", err)
	}
	return nil
}

// UpdateExecution records the outcome of a run.
func (s *Store) UpdateExecution(ctx context.Context, e *Execution) error {
	_, err := s.db.ExecContext(ctx, s.db.Rebind(`
		UPDATE job_runs SET completed_at = ?, status = ?, result = ? WHERE id = ?
	`), nullTime(e.CompletedAt), string(e.Status), e.Result, e.ID)
	if err != nil {
		return fmt.Errorf("update job run %s: %w", e.ID, err)
	}
	return nil
}

// ListExecutions returns the newest runs of a job first. An empty job
// lists runs of every job.
func (s *Store) ListExecutions(ctx context.Context, job string, limit int) ([]*Execution, error) {
	if limit <= 0 {
		limit = 20
	}

	query := `SELECT id, job, started_at, completed_at, status, result FROM job_runs`
	args := []any{}
	if job != "" {
		query += ` WHERE job = ?`
		args = append(args, job)
	}
	query += ` ORDER BY started_at DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, s.db.Rebind(query), args...)
	if err != nil {
		return nil, fmt.Errorf("list job runs: %w", err)
	}
	defer rows.Close()

	var out []*Execution
	for rows.Next() {
		var (
			e         Execution
			status    string
			completed sql.NullTime
		)
		if err := rows.Scan(&e.ID, &e.Job, &e.StartedAt, &completed, &status, &e.Result); err != nil {
			return nil, fmt.Errorf("scan job run: %w", err)
		}
		e.Status = ExecutionStatus(status)
		if completed.Valid {
			t := completed.Time
			e.CompletedAt = &t
		}
		out = append(out, &e)
	}
	return out, rows.Err()
}

// FailRunning marks runs left in the running state by a previous
// process as failed. Returns how many were closed.
func (s *Store) FailRunning(ctx context.Context, at time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, s.db.Rebind(`
		UPDATE job_runs SET status = ?, completed_at = ?, result = ? WHERE status = ?
	`), string(StatusFailed), at, "interrupted by shutdown", string(StatusRunning))
	if err != nil {
		return 0, fmt.Errorf("close interrupted job runs: %w", err)
	}
	return res.RowsAffected()
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}
