// Package memory provides mutex-guarded in-memory repositories, used by
// tests and database-less runs.
package memory

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/waltergaltieri/postia/internal/core/domain"
	"github.com/waltergaltieri/postia/internal/infra/storage"
)

type MemoryStorage struct {
	mu       sync.Mutex
	jobs     map[string]*domain.Job
	steps    map[string]map[domain.StepName]*domain.StepResult
	balances map[string]int64
	ledger   []*domain.LedgerEntry
	audit    []*domain.AuditEntry
}

func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{
		jobs:     make(map[string]*domain.Job),
		steps:    make(map[string]map[domain.StepName]*domain.StepResult),
		balances: make(map[string]int64),
	}
}

// -----------------------------------------------------------------------------
// Job Repository
// -----------------------------------------------------------------------------

type JobRepo struct {
	store *MemoryStorage
}

func NewJobRepo(store *MemoryStorage) *JobRepo {
	return &JobRepo{store: store}
}

func (r *JobRepo) Create(ctx context.Context, job *domain.Job) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	j := *job
	r.store.jobs[job.ID] = &j
	return nil
}

func (r *JobRepo) Get(ctx context.Context, id string) (*domain.Job, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	j, ok := r.store.jobs[id]
	if !ok {
		return nil, domain.ErrJobNotFound
	}
	copied := *j
	return &copied, nil
}

func (r *JobRepo) Update(ctx context.Context, job *domain.Job) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	if _, ok := r.store.jobs[job.ID]; !ok {
		return domain.ErrJobNotFound
	}
	j := *job
	j.UpdatedAt = time.Now()
	r.store.jobs[job.ID] = &j
	return nil
}

func (r *JobRepo) ListByTenant(ctx context.Context, tenantID string, limit int) ([]*domain.Job, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	var jobs []*domain.Job
	for _, j := range r.store.jobs {
		if j.TenantID == tenantID {
			copied := *j
			jobs = append(jobs, &copied)
		}
	}
	sort.Slice(jobs, func(i, k int) bool { return jobs[i].CreatedAt.After(jobs[k].CreatedAt) })
	if limit > 0 && len(jobs) > limit {
		jobs = jobs[:limit]
	}
	return jobs, nil
}

func (r *JobRepo) Delete(ctx context.Context, id string) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	delete(r.store.jobs, id)
	delete(r.store.steps, id)
	return nil
}

// -----------------------------------------------------------------------------
// Step Result Repository
// -----------------------------------------------------------------------------

type StepResultRepo struct {
	store *MemoryStorage
}

func NewStepResultRepo(store *MemoryStorage) *StepResultRepo {
	return &StepResultRepo{store: store}
}

func (r *StepResultRepo) Get(ctx context.Context, jobID string, step domain.StepName) (*domain.StepResult, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	byStep, ok := r.store.steps[jobID]
	if !ok {
		return nil, nil
	}
	result, ok := byStep[step]
	if !ok {
		return nil, nil
	}
	copied := *result
	return &copied, nil
}

func (r *StepResultRepo) ListByJob(ctx context.Context, jobID string) ([]*domain.StepResult, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	byStep := r.store.steps[jobID]
	var results []*domain.StepResult
	for _, step := range domain.StepOrder {
		if result, ok := byStep[step]; ok {
			copied := *result
			results = append(results, &copied)
		}
	}
	return results, nil
}

func (r *StepResultRepo) Upsert(ctx context.Context, result *domain.StepResult) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	byStep, ok := r.store.steps[result.JobID]
	if !ok {
		byStep = make(map[domain.StepName]*domain.StepResult)
		r.store.steps[result.JobID] = byStep
	}
	copied := *result
	copied.UpdatedAt = time.Now()
	byStep[result.Step] = &copied
	return nil
}

func (r *StepResultRepo) DueJobIDs(ctx context.Context, now time.Time, limit int) ([]string, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	var ids []string
	for jobID, byStep := range r.store.steps {
		job, ok := r.store.jobs[jobID]
		if !ok || job.Status.Terminal() {
			continue
		}
		for _, result := range byStep {
			if result.Status == domain.StepStatusPending &&
				!result.NextAttemptAt.IsZero() &&
				!result.NextAttemptAt.After(now) {
				ids = append(ids, jobID)
				break
			}
		}
		if limit > 0 && len(ids) >= limit {
			break
		}
	}
	return ids, nil
}

// -----------------------------------------------------------------------------
// Ledger Repository
// -----------------------------------------------------------------------------

type LedgerRepo struct {
	store *MemoryStorage
}

func NewLedgerRepo(store *MemoryStorage) *LedgerRepo {
	return &LedgerRepo{store: store}
}

func (r *LedgerRepo) Balance(ctx context.Context, tenantID string) (int64, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	return r.store.balances[tenantID], nil
}

func (r *LedgerRepo) Debit(ctx context.Context, entry *domain.LedgerEntry) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	amount := entry.Amount
	if amount > 0 {
		amount = -amount
	}
	debit := -amount

	if r.store.balances[entry.TenantID] < debit {
		return domain.ErrInsufficientBalance
	}
	r.store.balances[entry.TenantID] -= debit

	e := *entry
	e.Amount = amount
	e.CreatedAt = time.Now()
	r.store.ledger = append(r.store.ledger, &e)
	return nil
}

func (r *LedgerRepo) Credit(ctx context.Context, entry *domain.LedgerEntry) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	r.store.balances[entry.TenantID] += entry.Amount
	e := *entry
	e.CreatedAt = time.Now()
	r.store.ledger = append(r.store.ledger, &e)
	return nil
}

func (r *LedgerRepo) Entries(ctx context.Context, tenantID string, limit int) ([]*domain.LedgerEntry, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	var entries []*domain.LedgerEntry
	for i := len(r.store.ledger) - 1; i >= 0; i-- {
		if r.store.ledger[i].TenantID == tenantID {
			copied := *r.store.ledger[i]
			entries = append(entries, &copied)
			if limit > 0 && len(entries) >= limit {
				break
			}
		}
	}
	return entries, nil
}

// -----------------------------------------------------------------------------
// Audit Repository
// -----------------------------------------------------------------------------

type AuditRepo struct {
	store *MemoryStorage
}

func NewAuditRepo(store *MemoryStorage) *AuditRepo {
	return &AuditRepo{store: store}
}

func (r *AuditRepo) Insert(ctx context.Context, entry *domain.AuditEntry) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	copied := *entry
	if copied.CreatedAt.IsZero() {
		copied.CreatedAt = time.Now()
	}
	r.store.audit = append(r.store.audit, &copied)
	return nil
}

func matches(e *domain.AuditEntry, tenantID string, f storage.AuditFilter) bool {
	if e.TenantID != tenantID {
		return false
	}
	if f.ActorID != "" && e.ActorID != f.ActorID {
		return false
	}
	if f.Action != "" && e.Action != f.Action {
		return false
	}
	if f.ResourceKind != "" && e.ResourceKind != f.ResourceKind {
		return false
	}
	if f.ResourceID != "" && e.ResourceID != f.ResourceID {
		return false
	}
	if !f.From.IsZero() && e.CreatedAt.Before(f.From) {
		return false
	}
	if !f.To.IsZero() && e.CreatedAt.After(f.To) {
		return false
	}
	return true
}

func (r *AuditRepo) Query(ctx context.Context, tenantID string, filter storage.AuditFilter, page storage.Page) ([]*domain.AuditEntry, int64, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	var all []*domain.AuditEntry
	for _, e := range r.store.audit {
		if matches(e, tenantID, filter) {
			all = append(all, e)
		}
	}
	sort.SliceStable(all, func(i, k int) bool { return all[i].CreatedAt.After(all[k].CreatedAt) })
	total := int64(len(all))

	offset := page.Offset
	if offset > len(all) {
		offset = len(all)
	}
	all = all[offset:]
	if page.Limit > 0 && len(all) > page.Limit {
		all = all[:page.Limit]
	}

	entries := make([]*domain.AuditEntry, 0, len(all))
	for _, e := range all {
		copied := *e
		entries = append(entries, &copied)
	}
	return entries, total, nil
}

func (r *AuditRepo) Statistics(ctx context.Context, tenantID string, from, to time.Time) (*storage.AuditStats, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	stats := &storage.AuditStats{
		ByAction:   make(map[domain.AuditAction]int64),
		ByResource: make(map[domain.ResourceKind]int64),
	}
	actors := make(map[string]int64)

	for _, e := range r.store.audit {
		if e.TenantID != tenantID || e.CreatedAt.Before(from) || e.CreatedAt.After(to) {
			continue
		}
		stats.Total++
		stats.ByAction[e.Action]++
		stats.ByResource[e.ResourceKind]++
		if e.ActorID != "" {
			actors[e.ActorID]++
		}
	}

	for actor, count := range actors {
		stats.TopActors = append(stats.TopActors, storage.ActorCount{ActorID: actor, Count: count})
	}
	sort.Slice(stats.TopActors, func(i, k int) bool {
		if stats.TopActors[i].Count != stats.TopActors[k].Count {
			return stats.TopActors[i].Count > stats.TopActors[k].Count
		}
		return strings.Compare(stats.TopActors[i].ActorID, stats.TopActors[k].ActorID) < 0
	})
	if len(stats.TopActors) > 10 {
		stats.TopActors = stats.TopActors[:10]
	}
	return stats, nil
}

func (r *AuditRepo) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	kept := r.store.audit[:0]
	var removed int64
	for _, e := range r.store.audit {
		if e.CreatedAt.Before(cutoff) {
			removed++
			continue
		}
		kept = append(kept, e)
	}
	r.store.audit = kept
	return removed, nil
}
