package storage

import (
	"context"
	"time"

	"github.com/waltergaltieri/postia/internal/core/domain"
)

// JobRepository handles job storage operations
type JobRepository interface {
	// Create inserts a new job
	Create(ctx context.Context, job *domain.Job) error

	// Get retrieves a job by id
	Get(ctx context.Context, id string) (*domain.Job, error)

	// Update persists job mutations (status, tokens, failure reason)
	Update(ctx context.Context, job *domain.Job) error

	// ListByTenant retrieves a tenant's jobs, newest first
	ListByTenant(ctx context.Context, tenantID string, limit int) ([]*domain.Job, error)

	// Delete removes a job and cascades to its step results
	Delete(ctx context.Context, id string) error
}

// StepResultRepository handles per-(job, step) result rows
type StepResultRepository interface {
	// Get retrieves the result row for one step of a job
	Get(ctx context.Context, jobID string, step domain.StepName) (*domain.StepResult, error)

	// ListByJob retrieves all step results for a job in canonical order
	ListByJob(ctx context.Context, jobID string) ([]*domain.StepResult, error)

	// Upsert inserts or replaces the row for (job, step)
	Upsert(ctx context.Context, result *domain.StepResult) error

	// DueJobIDs returns ids of jobs holding a pending step whose scheduled
	// retry time has passed
	DueJobIDs(ctx context.Context, now time.Time, limit int) ([]string, error)
}

// LedgerRepository is the atomic store behind the token ledger.
type LedgerRepository interface {
	// Balance returns the tenant's current balance
	Balance(ctx context.Context, tenantID string) (int64, error)

	// Debit atomically re-checks sufficiency, decrements the balance and
	// appends a consumption entry. Returns domain.ErrInsufficientBalance
	// with no state change when the balance does not cover the amount.
	Debit(ctx context.Context, entry *domain.LedgerEntry) error

	// Credit increments the balance and appends the entry
	Credit(ctx context.Context, entry *domain.LedgerEntry) error

	// Entries retrieves a tenant's ledger entries, newest first
	Entries(ctx context.Context, tenantID string, limit int) ([]*domain.LedgerEntry, error)
}

// AuditFilter narrows audit queries. Zero fields match everything.
type AuditFilter struct {
	ActorID      string
	Action       domain.AuditAction
	ResourceKind domain.ResourceKind
	ResourceID   string
	From         time.Time
	To           time.Time
}

// Page bounds a paginated read.
type Page struct {
	Limit  int
	Offset int
}

// AuditStats aggregates a tenant's audit activity for a date range.
type AuditStats struct {
	Total      int64
	ByAction   map[domain.AuditAction]int64
	ByResource map[domain.ResourceKind]int64
	TopActors  []ActorCount
}

type ActorCount struct {
	ActorID string
	Count   int64
}

// AuditRepository is the append-only store behind the audit sink.
type AuditRepository interface {
	// Insert appends one entry
	Insert(ctx context.Context, entry *domain.AuditEntry) error

	// Query returns matching entries newest-first plus the total match count
	Query(ctx context.Context, tenantID string, filter AuditFilter, page Page) ([]*domain.AuditEntry, int64, error)

	// Statistics aggregates counts by action, resource kind and top actors
	Statistics(ctx context.Context, tenantID string, from, to time.Time) (*AuditStats, error)

	// DeleteOlderThan removes entries created before the cutoff. The only
	// deletion path; runs on an external schedule.
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}
