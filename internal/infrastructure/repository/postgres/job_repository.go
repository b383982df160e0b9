package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/kirillkom/idp-pipeline/internal/core/domain"
)

// JobRepository is the durable job store. Rows are kept until an operator
// removes them; there is no TTL.
type JobRepository struct {
	db *sql.DB
}

func NewJobRepository(db *sql.DB) *JobRepository {
	return &JobRepository{db: db}
}

func OpenDB(dsn string) (*sql.DB, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("sql open: %w", err)
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(30 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("db ping: %w", err)
	}
	return db, nil
}

func (r *JobRepository) EnsureSchema(ctx context.Context) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin schema tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	// Serialize bootstrap DDL across api/worker startups.
	if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock($1)`, int64(2026101801)); err != nil {
		return fmt.Errorf("acquire schema lock: %w", err)
	}

	const query = `
CREATE TABLE IF NOT EXISTS idp_jobs (
	id TEXT PRIMARY KEY,
	status TEXT NOT NULL,
	input TEXT NOT NULL,
	input_type TEXT NOT NULL,
	route_request TEXT NOT NULL,
	route_hint JSONB NOT NULL DEFAULT '{}'::jsonb,
	result JSONB,
	error_message TEXT,
	created_at TIMESTAMPTZ NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_idp_jobs_status ON idp_jobs(status);
CREATE INDEX IF NOT EXISTS idx_idp_jobs_created_at ON idp_jobs(created_at DESC);
`
	if _, err := tx.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("execute schema ddl: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit schema tx: %w", err)
	}
	return nil
}

func (r *JobRepository) Create(ctx context.Context, job *domain.Job) error {
	hintJSON, err := json.Marshal(job.RouteHint)
	if err != nil {
		return fmt.Errorf("marshal route hint: %w", err)
	}

	_, err = r.db.ExecContext(ctx, `
INSERT INTO idp_jobs (
	id, status, input, input_type, route_request, route_hint, created_at, updated_at
) VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
`,
		job.ID, string(job.Status), job.Input, string(job.InputType), string(job.RouteRequest),
		hintJSON, job.CreatedAt, job.UpdatedAt,
	)
	if err != nil {
		return domain.WrapError(domain.ErrUnavailable, "insert job", err)
	}
	return nil
}

func (r *JobRepository) UpdateStatus(ctx context.Context, jobID string, status domain.JobStatus) error {
	res, err := r.db.ExecContext(ctx, `
UPDATE idp_jobs
SET status = $2, updated_at = $3
WHERE id = $1
`, jobID, string(status), time.Now().UTC())
	if err != nil {
		return domain.WrapError(domain.ErrUnavailable, "update job status", err)
	}
	return expectOneRow(res, jobID)
}

// SaveResult stores the result and clears any error from an earlier attempt.
func (r *JobRepository) SaveResult(ctx context.Context, jobID string, result *domain.JobResult) error {
	resultJSON, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("marshal job result: %w", err)
	}
	res, err := r.db.ExecContext(ctx, `
UPDATE idp_jobs
SET result = $2, error_message = NULL, updated_at = $3
WHERE id = $1
`, jobID, resultJSON, time.Now().UTC())
	if err != nil {
		return domain.WrapError(domain.ErrUnavailable, "save job result", err)
	}
	return expectOneRow(res, jobID)
}

// SaveError stores the error and clears any result from an earlier attempt.
func (r *JobRepository) SaveError(ctx context.Context, jobID string, message string) error {
	res, err := r.db.ExecContext(ctx, `
UPDATE idp_jobs
SET result = NULL, error_message = $2, updated_at = $3
WHERE id = $1
`, jobID, message, time.Now().UTC())
	if err != nil {
		return domain.WrapError(domain.ErrUnavailable, "save job error", err)
	}
	return expectOneRow(res, jobID)
}

func (r *JobRepository) Get(ctx context.Context, jobID string) (*domain.JobState, error) {
	row := r.db.QueryRowContext(ctx, `
SELECT id, status, result, error_message
FROM idp_jobs
WHERE id = $1
`, jobID)

	var (
		state     domain.JobState
		status    string
		resultRaw []byte
		errMsg    sql.NullString
	)
	if err := row.Scan(&state.JobID, &status, &resultRaw, &errMsg); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.WrapError(domain.ErrJobNotFound, "get job", fmt.Errorf("job %s", jobID))
		}
		return nil, domain.WrapError(domain.ErrUnavailable, "get job", err)
	}
	state.Status = domain.JobStatus(status)

	if len(resultRaw) > 0 {
		var result domain.JobResult
		if err := json.Unmarshal(resultRaw, &result); err != nil {
			return nil, fmt.Errorf("unmarshal job result: %w", err)
		}
		state.Result = &result
	}
	if errMsg.Valid {
		msg := errMsg.String
		state.Error = &msg
	}
	return &state, nil
}

func expectOneRow(res sql.Result, jobID string) error {
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		return domain.WrapError(domain.ErrJobNotFound, "update job", fmt.Errorf("job %s", jobID))
	}
	return nil
}
