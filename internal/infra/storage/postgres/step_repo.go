package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/waltergaltieri/postia/internal/core/domain"
)

// StepResultRepo implements storage.StepResultRepository using PostgreSQL.
type StepResultRepo struct {
	db *DB
}

// NewStepResultRepo creates a new PostgreSQL step result repository.
func NewStepResultRepo(db *DB) *StepResultRepo {
	return &StepResultRepo{db: db}
}

type stepRow struct {
	ID            string         `db:"id"`
	JobID         string         `db:"job_id"`
	Step          string         `db:"step"`
	Status        string         `db:"status"`
	Input         []byte         `db:"input"`
	Output        []byte         `db:"output"`
	TokensCharged int64          `db:"tokens_charged"`
	Error         sql.NullString `db:"error_msg"`
	Annotation    sql.NullString `db:"annotation"`
	Attempts      int            `db:"attempts"`
	FailureCount  int            `db:"failure_count"`
	NextAttemptAt sql.NullTime   `db:"next_attempt_at"`
	UpdatedAt     time.Time      `db:"updated_at"`
}

func (r stepRow) toDomain() (*domain.StepResult, error) {
	result := &domain.StepResult{
		ID:            r.ID,
		JobID:         r.JobID,
		Step:          domain.StepName(r.Step),
		Status:        domain.StepStatus(r.Status),
		TokensCharged: r.TokensCharged,
		Error:         r.Error.String,
		Annotation:    domain.StepAnnotation(r.Annotation.String),
		Attempts:      r.Attempts,
		FailureCount:  r.FailureCount,
		UpdatedAt:     r.UpdatedAt,
	}
	if r.NextAttemptAt.Valid {
		result.NextAttemptAt = r.NextAttemptAt.Time
	}
	if len(r.Input) > 0 {
		if err := json.Unmarshal(r.Input, &result.Input); err != nil {
			return nil, fmt.Errorf("failed to decode step input: %w", err)
		}
	}
	if len(r.Output) > 0 {
		if err := json.Unmarshal(r.Output, &result.Output); err != nil {
			return nil, fmt.Errorf("failed to decode step output: %w", err)
		}
	}
	return result, nil
}

// Get retrieves the result row for one step of a job.
func (r *StepResultRepo) Get(ctx context.Context, jobID string, step domain.StepName) (*domain.StepResult, error) {
	query := `
		SELECT id, job_id, step, status, input, output, tokens_charged,
		       error_msg, annotation, attempts, failure_count, next_attempt_at, updated_at
		FROM step_results
		WHERE job_id = $1 AND step = $2
	`
	var row stepRow
	err := r.db.GetContext(ctx, &row, query, jobID, string(step))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get step result: %w", err)
	}
	return row.toDomain()
}

// ListByJob retrieves all step results for a job in canonical order.
func (r *StepResultRepo) ListByJob(ctx context.Context, jobID string) ([]*domain.StepResult, error) {
	order := make([]string, len(domain.StepOrder))
	for i, s := range domain.StepOrder {
		order[i] = string(s)
	}

	query := `
		SELECT id, job_id, step, status, input, output, tokens_charged,
		       error_msg, annotation, attempts, failure_count, next_attempt_at, updated_at
		FROM step_results
		WHERE job_id = $1
		ORDER BY array_position($2::text[], step)
	`
	var rows []stepRow
	if err := r.db.SelectContext(ctx, &rows, query, jobID, pq.Array(order)); err != nil {
		return nil, fmt.Errorf("failed to list step results: %w", err)
	}

	results := make([]*domain.StepResult, 0, len(rows))
	for _, row := range rows {
		result, err := row.toDomain()
		if err != nil {
			return nil, err
		}
		results = append(results, result)
	}
	return results, nil
}

// Upsert inserts or replaces the row for (job, step).
func (r *StepResultRepo) Upsert(ctx context.Context, result *domain.StepResult) error {
	inputJSON, err := json.Marshal(result.Input)
	if err != nil {
		return fmt.Errorf("failed to encode step input: %w", err)
	}
	outputJSON, err := json.Marshal(result.Output)
	if err != nil {
		return fmt.Errorf("failed to encode step output: %w", err)
	}

	var nextAttempt sql.NullTime
	if !result.NextAttemptAt.IsZero() {
		nextAttempt = sql.NullTime{Time: result.NextAttemptAt, Valid: true}
	}

	query := `
		INSERT INTO step_results (id, job_id, step, status, input, output, tokens_charged,
		                          error_msg, annotation, attempts, failure_count, next_attempt_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, NULLIF($8, ''), NULLIF($9, ''), $10, $11, $12, NOW())
		ON CONFLICT (job_id, step) DO UPDATE SET
			status = EXCLUDED.status,
			input = EXCLUDED.input,
			output = EXCLUDED.output,
			tokens_charged = EXCLUDED.tokens_charged,
			error_msg = EXCLUDED.error_msg,
			annotation = EXCLUDED.annotation,
			attempts = EXCLUDED.attempts,
			failure_count = EXCLUDED.failure_count,
			next_attempt_at = EXCLUDED.next_attempt_at,
			updated_at = NOW()
	`
	_, err = r.db.ExecContext(
		ctx,
		query,
		result.ID,
		result.JobID,
		string(result.Step),
		string(result.Status),
		inputJSON,
		outputJSON,
		result.TokensCharged,
		result.Error,
		string(result.Annotation),
		result.Attempts,
		result.FailureCount,
		nextAttempt,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert step result: %w", err)
	}
	return nil
}

// DueJobIDs returns ids of non-terminal jobs holding a pending step whose
// scheduled retry time has passed.
func (r *StepResultRepo) DueJobIDs(ctx context.Context, now time.Time, limit int) ([]string, error) {
	if limit <= 0 {
		limit = 100
	}
	query := `
		SELECT DISTINCT s.job_id
		FROM step_results s
		JOIN jobs j ON j.id = s.job_id
		WHERE s.status = 'pending'
		  AND s.next_attempt_at IS NOT NULL
		  AND s.next_attempt_at <= $1
		  AND j.status NOT IN ('completed', 'failed')
		LIMIT $2
	`
	var ids []string
	if err := r.db.SelectContext(ctx, &ids, query, now, limit); err != nil {
		return nil, fmt.Errorf("failed to list due retries: %w", err)
	}
	return ids, nil
}
