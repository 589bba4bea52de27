package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/waltergaltieri/postia/internal/core/domain"
)

// JobRepo implements storage.JobRepository using PostgreSQL.
type JobRepo struct {
	db *DB
}

// NewJobRepo creates a new PostgreSQL job repository.
func NewJobRepo(db *DB) *JobRepo {
	return &JobRepo{db: db}
}

type jobRow struct {
	ID             string         `db:"id"`
	TenantID       string         `db:"tenant_id"`
	ClientID       sql.NullString `db:"client_id"`
	Status         string         `db:"status"`
	Context        []byte         `db:"context"`
	TokensConsumed int64          `db:"tokens_consumed"`
	FailureReason  sql.NullString `db:"failure_reason"`
	FailedStep     sql.NullString `db:"failed_step"`
	NeedsReview    bool           `db:"needs_review"`
	CreatedAt      time.Time      `db:"created_at"`
	UpdatedAt      time.Time      `db:"updated_at"`
}

func (r jobRow) toDomain() (*domain.Job, error) {
	var brand domain.BrandContext
	if len(r.Context) > 0 {
		if err := json.Unmarshal(r.Context, &brand); err != nil {
			return nil, fmt.Errorf("failed to decode job context: %w", err)
		}
	}
	return &domain.Job{
		ID:             r.ID,
		TenantID:       r.TenantID,
		ClientID:       r.ClientID.String,
		Status:         domain.JobStatus(r.Status),
		Context:        brand,
		TokensConsumed: r.TokensConsumed,
		FailureReason:  r.FailureReason.String,
		FailedStep:     domain.StepName(r.FailedStep.String),
		NeedsReview:    r.NeedsReview,
		CreatedAt:      r.CreatedAt,
		UpdatedAt:      r.UpdatedAt,
	}, nil
}

// Create inserts a new job.
func (r *JobRepo) Create(ctx context.Context, job *domain.Job) error {
	contextJSON, err := json.Marshal(job.Context)
	if err != nil {
		return fmt.Errorf("failed to encode job context: %w", err)
	}

	query := `
		INSERT INTO jobs (id, tenant_id, client_id, status, context, tokens_consumed, needs_review, created_at, updated_at)
		VALUES ($1, $2, NULLIF($3, ''), $4, $5, $6, $7, NOW(), NOW())
	`
	_, err = r.db.ExecContext(
		ctx,
		query,
		job.ID,
		job.TenantID,
		job.ClientID,
		string(job.Status),
		contextJSON,
		job.TokensConsumed,
		job.NeedsReview,
	)
	if err != nil {
		return fmt.Errorf("failed to create job: %w", err)
	}
	return nil
}

// Get retrieves a job by id.
func (r *JobRepo) Get(ctx context.Context, id string) (*domain.Job, error) {
	query := `
		SELECT id, tenant_id, client_id, status, context, tokens_consumed,
		       failure_reason, failed_step, needs_review, created_at, updated_at
		FROM jobs
		WHERE id = $1
	`
	var row jobRow
	err := r.db.GetContext(ctx, &row, query, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrJobNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get job: %w", err)
	}
	return row.toDomain()
}

// Update persists job mutations.
func (r *JobRepo) Update(ctx context.Context, job *domain.Job) error {
	query := `
		UPDATE jobs
		SET status = $2,
		    tokens_consumed = $3,
		    failure_reason = NULLIF($4, ''),
		    failed_step = NULLIF($5, ''),
		    needs_review = $6,
		    updated_at = NOW()
		WHERE id = $1
	`
	res, err := r.db.ExecContext(
		ctx,
		query,
		job.ID,
		string(job.Status),
		job.TokensConsumed,
		job.FailureReason,
		string(job.FailedStep),
		job.NeedsReview,
	)
	if err != nil {
		return fmt.Errorf("failed to update job: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return domain.ErrJobNotFound
	}
	return nil
}

// ListByTenant retrieves a tenant's jobs, newest first.
func (r *JobRepo) ListByTenant(ctx context.Context, tenantID string, limit int) ([]*domain.Job, error) {
	if limit <= 0 {
		limit = 50
	}
	query := `
		SELECT id, tenant_id, client_id, status, context, tokens_consumed,
		       failure_reason, failed_step, needs_review, created_at, updated_at
		FROM jobs
		WHERE tenant_id = $1
		ORDER BY created_at DESC
		LIMIT $2
	`
	var rows []jobRow
	if err := r.db.SelectContext(ctx, &rows, query, tenantID, limit); err != nil {
		return nil, fmt.Errorf("failed to list jobs: %w", err)
	}

	jobs := make([]*domain.Job, 0, len(rows))
	for _, row := range rows {
		job, err := row.toDomain()
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}
	return jobs, nil
}

// Delete removes a job; step results cascade via foreign key.
func (r *JobRepo) Delete(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM jobs WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete job: %w", err)
	}
	return nil
}
