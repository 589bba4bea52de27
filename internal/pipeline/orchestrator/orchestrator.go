// Package orchestrator owns the per-job step sequence: it gates each step
// behind the token ledger, invokes the generation capability, and delegates
// failures to the recovery classifier/executor.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/waltergaltieri/postia/internal/core/domain"
	"github.com/waltergaltieri/postia/internal/infra/storage"
	"github.com/waltergaltieri/postia/internal/pipeline/audit"
	"github.com/waltergaltieri/postia/internal/pipeline/generator"
	"github.com/waltergaltieri/postia/internal/pipeline/ledger"
	"github.com/waltergaltieri/postia/internal/pipeline/metrics"
	"github.com/waltergaltieri/postia/internal/pipeline/recovery"
)

// JobStatus is the caller-facing view of a job and its step results.
type JobStatus struct {
	Job   *domain.Job
	Steps []*domain.StepResult
}

// RecoveryStats aggregates a tenant's recovery attempts for a date range.
type RecoveryStats struct {
	Total      int64            `json:"total"`
	ByStrategy map[string]int64 `json:"by_strategy"`
	ByStep     map[string]int64 `json:"by_step"`
}

// Orchestrator drives jobs through the canonical step order. At most one
// step per job is ever in flight; jobs run fully independently.
type Orchestrator struct {
	jobs       storage.JobRepository
	steps      storage.StepResultRepository
	ledger     *ledger.Service
	capability generator.Capability
	classifier *recovery.Classifier
	executor   *recovery.Executor
	sink       *audit.Sink
	log        *slog.Logger

	// one lock per job id, so concurrent Advance calls serialize per job
	locks sync.Map
}

// New creates an orchestrator.
func New(
	jobs storage.JobRepository,
	steps storage.StepResultRepository,
	tokens *ledger.Service,
	capability generator.Capability,
	classifier *recovery.Classifier,
	executor *recovery.Executor,
	sink *audit.Sink,
	log *slog.Logger,
) *Orchestrator {
	if log == nil {
		log = slog.Default()
	}
	return &Orchestrator{
		jobs:       jobs,
		steps:      steps,
		ledger:     tokens,
		capability: capability,
		classifier: classifier,
		executor:   executor,
		sink:       sink,
		log:        log.With("component", "orchestrator"),
	}
}

func (o *Orchestrator) lockFor(jobID string) *sync.Mutex {
	lock, _ := o.locks.LoadOrStore(jobID, &sync.Mutex{})
	return lock.(*sync.Mutex)
}

// Submit validates the brand context and creates a pending job.
func (o *Orchestrator) Submit(ctx context.Context, tenantID, clientID string, brand domain.BrandContext) (string, error) {
	if tenantID == "" {
		return "", fmt.Errorf("tenant id is required")
	}
	if err := brand.Validate(); err != nil {
		return "", err
	}

	job := &domain.Job{
		ID:        uuid.New().String(),
		TenantID:  tenantID,
		ClientID:  clientID,
		Status:    domain.JobStatusPending,
		Context:   brand,
		CreatedAt: time.Now(),
		UpdatedAt: time.Now(),
	}
	if err := o.jobs.Create(ctx, job); err != nil {
		return "", fmt.Errorf("failed to submit job: %w", err)
	}

	o.sink.Record(ctx, &domain.AuditEntry{
		TenantID:     tenantID,
		ActorID:      clientID,
		Action:       domain.ActionJobSubmitted,
		ResourceKind: domain.ResourceJob,
		ResourceID:   job.ID,
		Details:      map[string]any{"brand": brand.BrandName, "platform": brand.Platform},
	})
	return job.ID, nil
}

// Advance runs the job's next due step, looping while steps keep completing.
// Idempotent: when nothing is due it changes no state and writes no audit
// entry. Capability errors never reach the caller; they surface as job and
// step state.
func (o *Orchestrator) Advance(ctx context.Context, jobID string) error {
	lock := o.lockFor(jobID)
	lock.Lock()
	defer lock.Unlock()

	for {
		job, err := o.jobs.Get(ctx, jobID)
		if err != nil {
			return err
		}
		if job.Status.Terminal() {
			return nil
		}

		step, err := o.nextStep(ctx, job)
		if err != nil {
			return err
		}
		if step == nil {
			return o.completeJob(ctx, job)
		}

		// Retry scheduled for later: nothing is due yet.
		if step.Status == domain.StepStatusPending && !step.NextAttemptAt.IsZero() && step.NextAttemptAt.After(time.Now()) {
			return nil
		}

		proceed, err := o.runStep(ctx, job, step)
		if err != nil {
			return err
		}
		if !proceed {
			return nil
		}
	}
}

// nextStep returns the first step in canonical order lacking a completed
// result, or nil when every step is done.
func (o *Orchestrator) nextStep(ctx context.Context, job *domain.Job) (*domain.StepResult, error) {
	results, err := o.steps.ListByJob(ctx, job.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to load step results: %w", err)
	}
	byStep := make(map[domain.StepName]*domain.StepResult, len(results))
	for _, r := range results {
		byStep[r.Step] = r
	}

	for _, name := range domain.StepOrder {
		result, ok := byStep[name]
		if !ok {
			return &domain.StepResult{
				ID:     uuid.New().String(),
				JobID:  job.ID,
				Step:   name,
				Status: domain.StepStatusPending,
			}, nil
		}
		if result.Status != domain.StepStatusCompleted {
			return result, nil
		}
	}
	return nil, nil
}

// runStep gates the step behind the ledger, invokes the capability and
// applies the outcome. It reports whether Advance should keep looping.
func (o *Orchestrator) runStep(ctx context.Context, job *domain.Job, step *domain.StepResult) (bool, error) {
	cost := o.ledger.StepCost(step.Step)

	err := o.ledger.Consume(ctx, ledger.ConsumeRequest{
		TenantID:    job.TenantID,
		ActorID:     job.ClientID,
		Amount:      cost,
		Description: fmt.Sprintf("step %s of job %s", step.Step, job.ID),
		JobID:       job.ID,
		Step:        step.Step,
	})
	if errors.Is(err, domain.ErrInsufficientBalance) {
		// Fail fast: the capability is never invoked, no partial charge.
		return false, o.failJob(ctx, job, step.Step, "insufficient tokens", false)
	}
	if err != nil {
		return false, fmt.Errorf("failed to gate step %s: %w", step.Step, err)
	}

	if job.Status == domain.JobStatusPending {
		job.Status = domain.JobStatusInProgress
	}

	step.Status = domain.StepStatusInProgress
	step.Attempts++
	step.TokensCharged = cost
	step.NextAttemptAt = time.Time{}
	step.Input = o.buildInput(ctx, job)
	if err := o.steps.Upsert(ctx, step); err != nil {
		return false, fmt.Errorf("failed to mark step in progress: %w", err)
	}

	job.TokensConsumed += cost
	if err := o.jobs.Update(ctx, job); err != nil {
		return false, fmt.Errorf("failed to update job: %w", err)
	}

	o.sink.Record(ctx, &domain.AuditEntry{
		TenantID:     job.TenantID,
		Action:       domain.ActionStepStarted,
		ResourceKind: domain.ResourceStep,
		ResourceID:   step.ID,
		Details:      map[string]any{"job_id": job.ID, "step": string(step.Step), "attempt": step.Attempts, "cost": cost},
	})

	start := time.Now()
	result, genErr := o.capability.Generate(ctx, generator.Request{
		JobID:    job.ID,
		TenantID: job.TenantID,
		Step:     step.Step,
		Brand:    job.Context,
		Input:    step.Input,
	})
	metrics.StepDuration.WithLabelValues(string(step.Step)).Observe(time.Since(start).Seconds())

	// The capability call may have outlived the job: a late result for a
	// terminal job is ignored.
	current, err := o.jobs.Get(ctx, job.ID)
	if err != nil {
		return false, err
	}
	if current.Status.Terminal() {
		o.log.Warn("discarding late capability result", "job", job.ID, "step", step.Step)
		return false, nil
	}
	job = current

	if genErr != nil {
		return o.handleFailure(ctx, job, step, genErr)
	}

	step.Status = domain.StepStatusCompleted
	step.Output = result.Output
	step.Error = ""
	if err := o.steps.Upsert(ctx, step); err != nil {
		return false, fmt.Errorf("failed to complete step: %w", err)
	}

	metrics.StepsExecuted.WithLabelValues(string(step.Step), "completed").Inc()
	o.sink.Record(ctx, &domain.AuditEntry{
		TenantID:     job.TenantID,
		Action:       domain.ActionStepCompleted,
		ResourceKind: domain.ResourceStep,
		ResourceID:   step.ID,
		Details:      map[string]any{"job_id": job.ID, "step": string(step.Step), "tokens": cost},
	})
	return true, nil
}

// handleFailure records the failed attempt and delegates to the
// classifier/executor pair.
func (o *Orchestrator) handleFailure(ctx context.Context, job *domain.Job, step *domain.StepResult, genErr error) (bool, error) {
	step.Status = domain.StepStatusFailed
	step.Error = genErr.Error()
	step.FailureCount++
	if err := o.steps.Upsert(ctx, step); err != nil {
		return false, fmt.Errorf("failed to mark step failed: %w", err)
	}

	metrics.StepsExecuted.WithLabelValues(string(step.Step), "failed").Inc()
	o.sink.Record(ctx, &domain.AuditEntry{
		TenantID:     job.TenantID,
		Action:       domain.ActionStepFailed,
		ResourceKind: domain.ResourceStep,
		ResourceID:   step.ID,
		Details:      map[string]any{"job_id": job.ID, "step": string(step.Step), "attempt": step.Attempts, "error": genErr.Error()},
	})

	strategy := o.classifier.Classify(recovery.Input{
		Err:               genErr,
		Step:              step.Step,
		Attempt:           step.Attempts,
		FailureCount:      step.FailureCount,
		FallbackAvailable: o.classifier.HasFallback(step.Step),
	})

	outcome, execErr := o.executor.Execute(ctx, job, step, strategy, genErr)
	if execErr != nil {
		// A failure inside the recovery pipeline always escalates to abort.
		o.log.Error("recovery pipeline failure", "job", job.ID, "step", step.Step, "error", execErr)
		reason := fmt.Sprintf("recovery pipeline failed on step %s", step.Step)
		return false, o.failJob(ctx, job, step.Step, reason, true)
	}

	if outcome.StepCompleted {
		return true, nil
	}
	if outcome.JobFailed {
		return false, o.failJob(ctx, job, step.Step, outcome.Reason, outcome.NeedsReview)
	}
	// Retry scheduled; the job stays in progress until it is due.
	return false, nil
}

func (o *Orchestrator) completeJob(ctx context.Context, job *domain.Job) error {
	job.Status = domain.JobStatusCompleted
	if err := o.jobs.Update(ctx, job); err != nil {
		return fmt.Errorf("failed to complete job: %w", err)
	}
	metrics.JobsTotal.WithLabelValues(string(domain.JobStatusCompleted)).Inc()
	o.sink.Record(ctx, &domain.AuditEntry{
		TenantID:     job.TenantID,
		Action:       domain.ActionJobCompleted,
		ResourceKind: domain.ResourceJob,
		ResourceID:   job.ID,
		Details:      map[string]any{"tokens_consumed": job.TokensConsumed},
	})
	o.log.Info("job completed", "job", job.ID, "tenant", job.TenantID, "tokens", job.TokensConsumed)
	return nil
}

func (o *Orchestrator) failJob(ctx context.Context, job *domain.Job, step domain.StepName, reason string, needsReview bool) error {
	job.Status = domain.JobStatusFailed
	job.FailureReason = reason
	job.FailedStep = step
	job.NeedsReview = needsReview
	if err := o.jobs.Update(ctx, job); err != nil {
		return fmt.Errorf("failed to fail job: %w", err)
	}
	metrics.JobsTotal.WithLabelValues(string(domain.JobStatusFailed)).Inc()
	o.sink.Record(ctx, &domain.AuditEntry{
		TenantID:     job.TenantID,
		Action:       domain.ActionJobFailed,
		ResourceKind: domain.ResourceJob,
		ResourceID:   job.ID,
		Details:      map[string]any{"step": string(step), "reason": reason, "needs_review": needsReview},
	})
	o.log.Warn("job failed", "job", job.ID, "step", step, "reason", reason)
	return nil
}

// buildInput snapshots the brand context plus every prior completed output.
func (o *Orchestrator) buildInput(ctx context.Context, job *domain.Job) map[string]any {
	input := map[string]any{
		"brand_name": job.Context.BrandName,
		"industry":   job.Context.Industry,
		"tone":       job.Context.Tone,
		"audience":   job.Context.Audience,
		"platform":   job.Context.Platform,
	}
	results, err := o.steps.ListByJob(ctx, job.ID)
	if err != nil {
		o.log.Error("failed to snapshot prior outputs", "job", job.ID, "error", err)
		return input
	}
	for _, r := range results {
		if r.Status == domain.StepStatusCompleted && r.Output != nil {
			input[string(r.Step)] = r.Output
		}
	}
	return input
}

// Status returns the job plus its step results in canonical order.
func (o *Orchestrator) Status(ctx context.Context, jobID string) (*JobStatus, error) {
	job, err := o.jobs.Get(ctx, jobID)
	if err != nil {
		return nil, err
	}
	steps, err := o.steps.ListByJob(ctx, jobID)
	if err != nil {
		return nil, err
	}
	return &JobStatus{Job: job, Steps: steps}, nil
}

// Cancel marks a job failed so future Advance calls stop. An in-flight
// capability call is not interrupted; its late result is discarded.
func (o *Orchestrator) Cancel(ctx context.Context, jobID, reason string) error {
	job, err := o.jobs.Get(ctx, jobID)
	if err != nil {
		return err
	}
	if job.Status.Terminal() {
		return domain.ErrJobTerminal
	}
	if reason == "" {
		reason = "canceled by caller"
	}
	return o.failJob(ctx, job, "", reason, false)
}

// RecoveryStatistics aggregates recovery attempts for a tenant through the
// audit sink's query interface.
func (o *Orchestrator) RecoveryStatistics(ctx context.Context, tenantID string, from, to time.Time) (*RecoveryStats, error) {
	stats := &RecoveryStats{
		ByStrategy: make(map[string]int64),
		ByStep:     make(map[string]int64),
	}

	page := storage.Page{Limit: 500}
	for {
		entries, total, err := o.sink.Query(ctx, tenantID, storage.AuditFilter{
			Action: domain.ActionRecoveryAttempted,
			From:   from,
			To:     to,
		}, page)
		if err != nil {
			return nil, fmt.Errorf("failed to query recovery attempts: %w", err)
		}
		stats.Total = total

		for _, e := range entries {
			if s, ok := e.Details["strategy"].(string); ok {
				stats.ByStrategy[s]++
			}
			if s, ok := e.Details["step"].(string); ok {
				stats.ByStep[s]++
			}
		}

		page.Offset += len(entries)
		if len(entries) == 0 || int64(page.Offset) >= total {
			return stats, nil
		}
	}
}
