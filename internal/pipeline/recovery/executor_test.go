package recovery

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/waltergaltieri/postia/internal/core/domain"
	"github.com/waltergaltieri/postia/internal/infra/storage"
	"github.com/waltergaltieri/postia/internal/infra/storage/memory"
	"github.com/waltergaltieri/postia/internal/pipeline/audit"
	"github.com/waltergaltieri/postia/internal/pipeline/generator"
)

// =============================================================================
// Mocks
// =============================================================================

type mockNotifier struct {
	mu    sync.Mutex
	notes []domain.Notification
	err   error
}

func (n *mockNotifier) Notify(ctx context.Context, note domain.Notification) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.err != nil {
		return n.err
	}
	n.notes = append(n.notes, note)
	return nil
}

func (n *mockNotifier) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.notes)
}

type executorFixture struct {
	executor *Executor
	steps    *memory.StepResultRepo
	sink     *audit.Sink
	notifier *mockNotifier
}

func newExecutorFixture(t *testing.T) *executorFixture {
	t.Helper()
	store := memory.NewMemoryStorage()
	notifier := &mockNotifier{}
	sink := audit.NewSink(memory.NewAuditRepo(store), nil)
	steps := memory.NewStepResultRepo(store)
	return &executorFixture{
		executor: NewExecutor(steps, generator.NewFallback(), notifier, sink, DefaultBackoff(), nil),
		steps:    steps,
		sink:     sink,
		notifier: notifier,
	}
}

func (f *executorFixture) recoveryAudits(t *testing.T, tenantID string) []*domain.AuditEntry {
	t.Helper()
	entries, _, err := f.sink.Query(context.Background(), tenantID, storage.AuditFilter{
		Action: domain.ActionRecoveryAttempted,
	}, storage.Page{Limit: 100})
	if err != nil {
		t.Fatalf("failed to query audit entries: %v", err)
	}
	return entries
}

func testJob() *domain.Job {
	return &domain.Job{
		ID:       "job-1",
		TenantID: "tenant-1",
		Status:   domain.JobStatusInProgress,
		Context: domain.BrandContext{
			BrandName: "Acme",
			Tone:      "friendly",
			Platform:  "instagram",
		},
	}
}

func testStep(name domain.StepName, attempts int) *domain.StepResult {
	return &domain.StepResult{
		ID:           "step-1",
		JobID:        "job-1",
		Step:         name,
		Status:       domain.StepStatusFailed,
		Attempts:     attempts,
		FailureCount: attempts,
		Error:        "upstream error",
	}
}

// =============================================================================
// Strategy Execution Tests
// =============================================================================

func TestExecute_RetrySchedulesStep(t *testing.T) {
	f := newExecutorFixture(t)
	job := testJob()
	step := testStep(domain.StepIdea, 1)

	out, err := f.executor.Execute(context.Background(), job, step, StrategyRetry, errors.New("timeout"))
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if out.JobFailed || out.StepCompleted {
		t.Errorf("retry outcome should leave job and step open: %+v", out)
	}
	if out.RetryAt.IsZero() || out.RetryAt.Before(time.Now()) {
		t.Errorf("RetryAt = %v, want a future time", out.RetryAt)
	}

	saved, err := f.steps.Get(context.Background(), job.ID, step.Step)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if saved.Status != domain.StepStatusPending {
		t.Errorf("step status = %s, want pending", saved.Status)
	}
	if saved.NextAttemptAt.IsZero() {
		t.Error("step NextAttemptAt not set")
	}
}

func TestExecute_RetryDelayGrowsWithAttempts(t *testing.T) {
	f := newExecutorFixture(t)
	job := testJob()

	first, err := f.executor.Execute(context.Background(), job, testStep(domain.StepIdea, 1), StrategyRetry, nil)
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	second, err := f.executor.Execute(context.Background(), job, testStep(domain.StepIdea, 2), StrategyRetry, nil)
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if !second.RetryAt.After(first.RetryAt) {
		t.Errorf("second retry %v not after first %v", second.RetryAt, first.RetryAt)
	}
}

func TestExecute_FallbackCompletesStep(t *testing.T) {
	f := newExecutorFixture(t)
	job := testJob()
	step := testStep(domain.StepCopyDesign, 1)

	out, err := f.executor.Execute(context.Background(), job, step, StrategyFallback, errors.New("model rejected prompt"))
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if !out.StepCompleted {
		t.Fatal("fallback should complete the step")
	}
	if out.JobFailed {
		t.Error("fallback success must not fail the job")
	}

	saved, _ := f.steps.Get(context.Background(), job.ID, step.Step)
	if saved.Status != domain.StepStatusCompleted {
		t.Errorf("step status = %s, want completed", saved.Status)
	}
	if saved.Annotation != domain.AnnotationFallback {
		t.Errorf("annotation = %q, want %q", saved.Annotation, domain.AnnotationFallback)
	}
	if len(saved.Output) == 0 {
		t.Error("fallback output missing")
	}
	if f.notifier.count() != 0 {
		t.Errorf("fallback success sent %d notifications, want 0", f.notifier.count())
	}
}

func TestExecute_FallbackWithoutTemplateEscalates(t *testing.T) {
	f := newExecutorFixture(t)
	job := testJob()
	step := testStep(domain.StepIdea, 3)

	out, err := f.executor.Execute(context.Background(), job, step, StrategyFallback, errors.New("permanent"))
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if !out.JobFailed || !out.NeedsReview {
		t.Errorf("failed fallback should fail the job for review: %+v", out)
	}
	if f.notifier.count() != 1 {
		t.Errorf("got %d notifications, want 1", f.notifier.count())
	}
}

func TestExecute_SkipCompletesWithAnnotation(t *testing.T) {
	f := newExecutorFixture(t)
	job := testJob()
	step := testStep(domain.StepCopyPublication, 1)

	out, err := f.executor.Execute(context.Background(), job, step, StrategySkip, &domain.ValidationError{
		Step: step.Step, Field: "tone", Message: "unsupported",
	})
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if !out.StepCompleted {
		t.Fatal("skip should complete the step")
	}

	saved, _ := f.steps.Get(context.Background(), job.ID, step.Step)
	if saved.Annotation != domain.AnnotationSkipped {
		t.Errorf("annotation = %q, want %q", saved.Annotation, domain.AnnotationSkipped)
	}
}

func TestExecute_ManualInterventionNotifiesOnce(t *testing.T) {
	f := newExecutorFixture(t)
	job := testJob()
	step := testStep(domain.StepFinalDesign, 5)

	out, err := f.executor.Execute(context.Background(), job, step, StrategyManualIntervention, errors.New("persistent failure"))
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if !out.JobFailed || !out.NeedsReview {
		t.Errorf("manual intervention outcome = %+v, want job failed with review", out)
	}
	if f.notifier.count() != 1 {
		t.Errorf("got %d notifications, want exactly 1", f.notifier.count())
	}

	note := f.notifier.notes[0]
	if note.JobID != job.ID || note.TenantID != job.TenantID || note.Step != step.Step {
		t.Errorf("notification fields wrong: %+v", note)
	}
}

func TestExecute_AbortFailsJobWithoutReview(t *testing.T) {
	f := newExecutorFixture(t)
	job := testJob()
	step := testStep(domain.StepIdea, 3)

	out, err := f.executor.Execute(context.Background(), job, step, StrategyAbort, errors.New("permanent"))
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if !out.JobFailed {
		t.Error("abort should fail the job")
	}
	if out.NeedsReview {
		t.Error("abort should not flag review")
	}
	if f.notifier.count() != 0 {
		t.Errorf("abort sent %d notifications, want 0", f.notifier.count())
	}
}

func TestExecute_UnknownStrategyIsPipelineError(t *testing.T) {
	f := newExecutorFixture(t)

	_, err := f.executor.Execute(context.Background(), testJob(), testStep(domain.StepIdea, 1), Strategy("bogus"), nil)
	var pipeErr *domain.RecoveryPipelineError
	if !errors.As(err, &pipeErr) {
		t.Fatalf("error = %v, want *domain.RecoveryPipelineError", err)
	}
}

func TestExecute_NotifierFailureDoesNotFailRecovery(t *testing.T) {
	f := newExecutorFixture(t)
	f.notifier.err = errors.New("redis down")

	out, err := f.executor.Execute(context.Background(), testJob(), testStep(domain.StepIdea, 5), StrategyManualIntervention, errors.New("persistent"))
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if !out.JobFailed || !out.NeedsReview {
		t.Errorf("outcome = %+v, want job failed with review despite notifier error", out)
	}
}

// =============================================================================
// Audit Trail Tests
// =============================================================================

func TestExecute_ExactlyOneAuditPerAttempt(t *testing.T) {
	f := newExecutorFixture(t)
	job := testJob()

	strategies := []Strategy{
		StrategyRetry,
		StrategyFallback,
		StrategySkip,
		StrategyManualIntervention,
		StrategyAbort,
	}
	for i, s := range strategies {
		step := testStep(domain.StepCopyDesign, i+1)
		if _, err := f.executor.Execute(context.Background(), job, step, s, errors.New("cause")); err != nil {
			t.Fatalf("Execute(%s) error = %v", s, err)
		}
	}

	entries := f.recoveryAudits(t, job.TenantID)
	if len(entries) != len(strategies) {
		t.Fatalf("got %d recovery audit entries, want %d", len(entries), len(strategies))
	}
	for _, e := range entries {
		if e.Details["strategy"] == "" {
			t.Errorf("audit entry missing strategy detail: %+v", e.Details)
		}
		if e.Details["job_id"] != job.ID {
			t.Errorf("audit entry job_id = %v, want %s", e.Details["job_id"], job.ID)
		}
	}
}

func TestExecute_AuditWrittenEvenOnError(t *testing.T) {
	f := newExecutorFixture(t)
	job := testJob()

	_, err := f.executor.Execute(context.Background(), job, testStep(domain.StepIdea, 1), Strategy("bogus"), nil)
	if err == nil {
		t.Fatal("expected error for unknown strategy")
	}

	entries := f.recoveryAudits(t, job.TenantID)
	if len(entries) != 1 {
		t.Fatalf("got %d audit entries, want 1", len(entries))
	}
	if entries[0].Details["outcome"] != "error" {
		t.Errorf("outcome detail = %v, want error", entries[0].Details["outcome"])
	}
}
