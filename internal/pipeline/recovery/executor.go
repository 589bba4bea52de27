package recovery

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/waltergaltieri/postia/internal/core/domain"
	"github.com/waltergaltieri/postia/internal/infra/storage"
	"github.com/waltergaltieri/postia/internal/pipeline/audit"
	"github.com/waltergaltieri/postia/internal/pipeline/generator"
	"github.com/waltergaltieri/postia/internal/pipeline/metrics"
)

// Notifier delivers one event per manual-intervention outcome.
type Notifier interface {
	Notify(ctx context.Context, n domain.Notification) error
}

// Outcome tells the orchestrator which job-level transition to apply.
type Outcome struct {
	Strategy      Strategy
	StepCompleted bool
	JobFailed     bool
	NeedsReview   bool
	Reason        string
	RetryAt       time.Time
}

// Executor performs the state transition for a chosen strategy. It owns the
// step row mutation; the orchestrator owns the job row.
type Executor struct {
	steps    storage.StepResultRepository
	fallback generator.Capability
	notifier Notifier
	sink     *audit.Sink
	backoff  Backoff
	log      *slog.Logger
}

// NewExecutor creates a recovery executor.
func NewExecutor(
	steps storage.StepResultRepository,
	fallback generator.Capability,
	notifier Notifier,
	sink *audit.Sink,
	backoff Backoff,
	log *slog.Logger,
) *Executor {
	if log == nil {
		log = slog.Default()
	}
	return &Executor{
		steps:    steps,
		fallback: fallback,
		notifier: notifier,
		sink:     sink,
		backoff:  backoff,
		log:      log.With("component", "recovery"),
	}
}

// Execute applies the strategy to the failed step. Every branch writes
// exactly one recovery-attempted audit entry before returning. Internal
// failures come back as *domain.RecoveryPipelineError.
func (e *Executor) Execute(
	ctx context.Context,
	job *domain.Job,
	step *domain.StepResult,
	strategy Strategy,
	cause error,
) (out Outcome, err error) {
	out.Strategy = strategy

	defer func() {
		outcome := "applied"
		if err != nil {
			outcome = "error"
		} else if out.StepCompleted {
			outcome = "step_completed"
		} else if out.JobFailed {
			outcome = "job_failed"
		}
		metrics.RecoveriesTotal.WithLabelValues(string(strategy), outcome).Inc()
		e.sink.Record(ctx, &domain.AuditEntry{
			TenantID:     job.TenantID,
			Action:       domain.ActionRecoveryAttempted,
			ResourceKind: domain.ResourceStep,
			ResourceID:   step.ID,
			Details: map[string]any{
				"job_id":   job.ID,
				"step":     string(step.Step),
				"attempt":  step.Attempts,
				"strategy": string(strategy),
				"outcome":  outcome,
				"cause":    errText(cause),
			},
		})
	}()

	switch strategy {
	case StrategyRetry:
		return e.retry(ctx, job, step)
	case StrategyFallback:
		return e.runFallback(ctx, job, step, cause)
	case StrategySkip:
		return e.skip(ctx, job, step, cause)
	case StrategyManualIntervention:
		return e.manualIntervention(ctx, job, step, cause)
	case StrategyAbort:
		out.JobFailed = true
		out.Reason = fmt.Sprintf("step %s aborted after %d attempts: %s", step.Step, step.Attempts, errText(cause))
		return out, nil
	default:
		return out, &domain.RecoveryPipelineError{
			Step: step.Step,
			Err:  fmt.Errorf("unknown strategy %q", strategy),
		}
	}
}

// retry resets the step to pending with a scheduled time; the orchestrator
// will not rerun it before then.
func (e *Executor) retry(ctx context.Context, job *domain.Job, step *domain.StepResult) (Outcome, error) {
	out := Outcome{Strategy: StrategyRetry}

	delay := e.backoff.Delay(step.Attempts)
	step.Status = domain.StepStatusPending
	step.NextAttemptAt = time.Now().Add(delay)

	if err := e.steps.Upsert(ctx, step); err != nil {
		return out, &domain.RecoveryPipelineError{Step: step.Step, Err: err}
	}

	out.RetryAt = step.NextAttemptAt
	e.log.Info("step retry scheduled",
		"job", job.ID,
		"step", step.Step,
		"attempt", step.Attempts,
		"delay", delay,
	)
	return out, nil
}

// runFallback executes the deterministic substitute synchronously.
func (e *Executor) runFallback(ctx context.Context, job *domain.Job, step *domain.StepResult, cause error) (Outcome, error) {
	out := Outcome{Strategy: StrategyFallback}

	result, genErr := e.fallback.Generate(ctx, generator.Request{
		JobID:    job.ID,
		TenantID: job.TenantID,
		Step:     step.Step,
		Brand:    job.Context,
		Input:    step.Input,
	})
	if genErr != nil {
		out.JobFailed = true
		out.NeedsReview = true
		out.Reason = fmt.Sprintf("fallback for step %s failed: %v", step.Step, genErr)
		e.notify(ctx, job, step, out.Reason)
		return out, nil
	}

	step.Status = domain.StepStatusCompleted
	step.Output = result.Output
	step.Annotation = domain.AnnotationFallback
	step.Error = ""
	step.NextAttemptAt = time.Time{}
	if err := e.steps.Upsert(ctx, step); err != nil {
		return out, &domain.RecoveryPipelineError{Step: step.Step, Err: err}
	}

	out.StepCompleted = true
	e.log.Info("step completed via fallback", "job", job.ID, "step", step.Step, "cause", errText(cause))
	return out, nil
}

// skip completes the step with a skipped annotation. Logged at warning
// level, not error: the pipeline continues.
func (e *Executor) skip(ctx context.Context, job *domain.Job, step *domain.StepResult, cause error) (Outcome, error) {
	out := Outcome{Strategy: StrategySkip}

	step.Status = domain.StepStatusCompleted
	step.Annotation = domain.AnnotationSkipped
	step.NextAttemptAt = time.Time{}
	if err := e.steps.Upsert(ctx, step); err != nil {
		return out, &domain.RecoveryPipelineError{Step: step.Step, Err: err}
	}

	out.StepCompleted = true
	e.log.Warn("step skipped", "job", job.ID, "step", step.Step, "cause", errText(cause))
	return out, nil
}

func (e *Executor) manualIntervention(ctx context.Context, job *domain.Job, step *domain.StepResult, cause error) (Outcome, error) {
	out := Outcome{
		Strategy:    StrategyManualIntervention,
		JobFailed:   true,
		NeedsReview: true,
		Reason:      fmt.Sprintf("step %s requires manual intervention: %s", step.Step, errText(cause)),
	}
	e.notify(ctx, job, step, out.Reason)
	return out, nil
}

// notify emits the manual-intervention event. Delivery failures are logged;
// they never fail recovery.
func (e *Executor) notify(ctx context.Context, job *domain.Job, step *domain.StepResult, reason string) {
	if e.notifier == nil {
		return
	}
	n := domain.Notification{
		JobID:    job.ID,
		TenantID: job.TenantID,
		Step:     step.Step,
		Reason:   reason,
	}
	if err := e.notifier.Notify(ctx, n); err != nil {
		e.log.Error("failed to deliver notification", "job", job.ID, "step", step.Step, "error", err)
		return
	}
	metrics.NotificationsSent.Inc()
	e.sink.Record(ctx, &domain.AuditEntry{
		TenantID:     job.TenantID,
		Action:       domain.ActionNotificationSent,
		ResourceKind: domain.ResourceTenant,
		ResourceID:   job.TenantID,
		Details:      map[string]any{"job_id": job.ID, "step": string(step.Step), "reason": reason},
	})
}

func errText(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
