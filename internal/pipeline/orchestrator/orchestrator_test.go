package orchestrator

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
	"github.com/waltergaltieri/postia/internal/pipeline/ledger"
	"github.com/waltergaltieri/postia/internal/pipeline/pricing"
	"github.com/waltergaltieri/postia/internal/pipeline/recovery"
)

// =============================================================================
// Fixture
// =============================================================================

type mockNotifier struct {
	mu    sync.Mutex
	notes []domain.Notification
}

func (n *mockNotifier) Notify(ctx context.Context, note domain.Notification) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.notes = append(n.notes, note)
	return nil
}

func (n *mockNotifier) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.notes)
}

type fixture struct {
	orch     *Orchestrator
	tokens   *ledger.Service
	sink     *audit.Sink
	jobs     *memory.JobRepo
	steps    *memory.StepResultRepo
	notifier *mockNotifier
}

// fastBackoff keeps retry waits out of test runtime.
var fastBackoff = recovery.Backoff{
	BaseDelay:  time.Nanosecond,
	Multiplier: 1.001,
	MaxDelay:   time.Nanosecond,
}

func newFixture(t *testing.T, capability generator.Capability, recoveryCfg recovery.Config) *fixture {
	t.Helper()
	store := memory.NewMemoryStorage()
	jobs := memory.NewJobRepo(store)
	steps := memory.NewStepResultRepo(store)
	sink := audit.NewSink(memory.NewAuditRepo(store), nil)
	tokens := ledger.NewService(memory.NewLedgerRepo(store), pricing.New(nil), sink, nil)

	notifier := &mockNotifier{}
	classifier := recovery.NewClassifier(recoveryCfg)
	executor := recovery.NewExecutor(steps, generator.NewFallback(), notifier, sink, fastBackoff, nil)

	return &fixture{
		orch:     New(jobs, steps, tokens, capability, classifier, executor, sink, nil),
		tokens:   tokens,
		sink:     sink,
		jobs:     jobs,
		steps:    steps,
		notifier: notifier,
	}
}

func (f *fixture) grant(t *testing.T, tenantID string, amount int64) {
	t.Helper()
	if err := f.tokens.Grant(context.Background(), ledger.GrantRequest{TenantID: tenantID, Amount: amount}); err != nil {
		t.Fatalf("Grant() error = %v", err)
	}
}

func (f *fixture) submit(t *testing.T, tenantID string) string {
	t.Helper()
	jobID, err := f.orch.Submit(context.Background(), tenantID, "client-1", domain.BrandContext{
		BrandName: "Acme",
		Tone:      "friendly",
		Platform:  "instagram",
	})
	if err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	return jobID
}

func (f *fixture) auditCount(t *testing.T, tenantID string, action domain.AuditAction) int {
	t.Helper()
	_, total, err := f.sink.Query(context.Background(), tenantID, storage.AuditFilter{Action: action}, storage.Page{Limit: 1})
	if err != nil {
		t.Fatalf("Query() error = %v", err)
	}
	return int(total)
}

// advanceUntilTerminal drives the job through scheduled retries.
func (f *fixture) advanceUntilTerminal(t *testing.T, jobID string) *domain.Job {
	t.Helper()
	for i := 0; i < 50; i++ {
		if err := f.orch.Advance(context.Background(), jobID); err != nil {
			t.Fatalf("Advance() error = %v", err)
		}
		job, err := f.jobs.Get(context.Background(), jobID)
		if err != nil {
			t.Fatalf("Get() error = %v", err)
		}
		if job.Status.Terminal() {
			return job
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatal("job did not reach a terminal state")
	return nil
}

func okCapability() generator.Capability {
	return generator.CapabilityFunc(func(ctx context.Context, req generator.Request) (*generator.Result, error) {
		return &generator.Result{Output: map[string]any{"draft": string(req.Step)}}, nil
	})
}

// =============================================================================
// Happy Path
// =============================================================================

func TestAdvance_CompletesJobInCanonicalOrder(t *testing.T) {
	var mu sync.Mutex
	var executed []domain.StepName
	capability := generator.CapabilityFunc(func(ctx context.Context, req generator.Request) (*generator.Result, error) {
		mu.Lock()
		executed = append(executed, req.Step)
		mu.Unlock()
		return &generator.Result{Output: map[string]any{"draft": string(req.Step)}}, nil
	})

	f := newFixture(t, capability, recovery.DefaultConfig())
	f.grant(t, "tenant-1", 1000)
	jobID := f.submit(t, "tenant-1")

	if err := f.orch.Advance(context.Background(), jobID); err != nil {
		t.Fatalf("Advance() error = %v", err)
	}

	job, _ := f.jobs.Get(context.Background(), jobID)
	if job.Status != domain.JobStatusCompleted {
		t.Fatalf("job status = %s, want completed", job.Status)
	}
	if job.TokensConsumed != 550 {
		t.Errorf("tokens consumed = %d, want 550", job.TokensConsumed)
	}

	if len(executed) != len(domain.StepOrder) {
		t.Fatalf("executed %d steps, want %d", len(executed), len(domain.StepOrder))
	}
	for i, step := range domain.StepOrder {
		if executed[i] != step {
			t.Errorf("step %d = %s, want %s", i, executed[i], step)
		}
	}

	if got := f.auditCount(t, "tenant-1", domain.ActionJobSubmitted); got != 1 {
		t.Errorf("job.submitted audits = %d, want 1", got)
	}
	if got := f.auditCount(t, "tenant-1", domain.ActionJobCompleted); got != 1 {
		t.Errorf("job.completed audits = %d, want 1", got)
	}
}

func TestAdvance_LaterStepsSeePriorOutputs(t *testing.T) {
	var mu sync.Mutex
	inputs := make(map[domain.StepName]map[string]any)
	capability := generator.CapabilityFunc(func(ctx context.Context, req generator.Request) (*generator.Result, error) {
		mu.Lock()
		inputs[req.Step] = req.Input
		mu.Unlock()
		return &generator.Result{Output: map[string]any{"draft": string(req.Step)}}, nil
	})

	f := newFixture(t, capability, recovery.DefaultConfig())
	f.grant(t, "tenant-1", 1000)
	jobID := f.submit(t, "tenant-1")
	if err := f.orch.Advance(context.Background(), jobID); err != nil {
		t.Fatalf("Advance() error = %v", err)
	}

	finalInput := inputs[domain.StepFinalDesign]
	if finalInput == nil {
		t.Fatal("final_design never ran")
	}
	for _, prior := range []domain.StepName{domain.StepIdea, domain.StepCopyDesign, domain.StepBaseImage} {
		if _, ok := finalInput[string(prior)]; !ok {
			t.Errorf("final_design input missing %s output", prior)
		}
	}
	if finalInput["brand_name"] != "Acme" {
		t.Errorf("input brand_name = %v, want Acme", finalInput["brand_name"])
	}
}

func TestAdvance_IdempotentOnCompletedJob(t *testing.T) {
	f := newFixture(t, okCapability(), recovery.DefaultConfig())
	f.grant(t, "tenant-1", 1000)
	jobID := f.submit(t, "tenant-1")
	if err := f.orch.Advance(context.Background(), jobID); err != nil {
		t.Fatalf("Advance() error = %v", err)
	}

	_, totalBefore, _ := f.sink.Query(context.Background(), "tenant-1", storage.AuditFilter{}, storage.Page{Limit: 1})
	balanceBefore, _ := f.tokens.Balance(context.Background(), "tenant-1")

	if err := f.orch.Advance(context.Background(), jobID); err != nil {
		t.Fatalf("second Advance() error = %v", err)
	}

	_, totalAfter, _ := f.sink.Query(context.Background(), "tenant-1", storage.AuditFilter{}, storage.Page{Limit: 1})
	balanceAfter, _ := f.tokens.Balance(context.Background(), "tenant-1")
	if totalAfter != totalBefore {
		t.Errorf("audit count changed %d -> %d on no-op Advance", totalBefore, totalAfter)
	}
	if balanceAfter != balanceBefore {
		t.Errorf("balance changed %d -> %d on no-op Advance", balanceBefore, balanceAfter)
	}
}

func TestAdvance_UnknownJob(t *testing.T) {
	f := newFixture(t, okCapability(), recovery.DefaultConfig())
	if err := f.orch.Advance(context.Background(), "missing"); !errors.Is(err, domain.ErrJobNotFound) {
		t.Errorf("Advance() error = %v, want ErrJobNotFound", err)
	}
}

// =============================================================================
// Token Gating
// =============================================================================

func TestAdvance_InsufficientTokensFailsFast(t *testing.T) {
	var calls int
	capability := generator.CapabilityFunc(func(ctx context.Context, req generator.Request) (*generator.Result, error) {
		calls++
		return &generator.Result{Output: map[string]any{}}, nil
	})

	f := newFixture(t, capability, recovery.DefaultConfig())
	f.grant(t, "tenant-1", 40) // below the 50-token idea step
	jobID := f.submit(t, "tenant-1")

	if err := f.orch.Advance(context.Background(), jobID); err != nil {
		t.Fatalf("Advance() error = %v", err)
	}

	job, _ := f.jobs.Get(context.Background(), jobID)
	if job.Status != domain.JobStatusFailed {
		t.Fatalf("job status = %s, want failed", job.Status)
	}
	if job.FailureReason != "insufficient tokens" {
		t.Errorf("failure reason = %q, want %q", job.FailureReason, "insufficient tokens")
	}
	if job.NeedsReview {
		t.Error("insufficient tokens should not flag review")
	}
	if calls != 0 {
		t.Errorf("capability called %d times, want 0 (fail fast before capability)", calls)
	}

	balance, _ := f.tokens.Balance(context.Background(), "tenant-1")
	if balance != 40 {
		t.Errorf("balance = %d, want untouched 40", balance)
	}
}

func TestAdvance_MidPipelineExhaustionKeepsEarlierSteps(t *testing.T) {
	f := newFixture(t, okCapability(), recovery.DefaultConfig())
	f.grant(t, "tenant-1", 100) // covers idea (50) but not copy_design (75)
	jobID := f.submit(t, "tenant-1")

	if err := f.orch.Advance(context.Background(), jobID); err != nil {
		t.Fatalf("Advance() error = %v", err)
	}

	job, _ := f.jobs.Get(context.Background(), jobID)
	if job.Status != domain.JobStatusFailed {
		t.Fatalf("job status = %s, want failed", job.Status)
	}
	if job.TokensConsumed != 50 {
		t.Errorf("tokens consumed = %d, want 50", job.TokensConsumed)
	}
	if job.FailedStep != domain.StepCopyDesign {
		t.Errorf("failed step = %s, want copy_design", job.FailedStep)
	}

	idea, _ := f.steps.Get(context.Background(), jobID, domain.StepIdea)
	if idea == nil || idea.Status != domain.StepStatusCompleted {
		t.Error("completed idea step should be preserved")
	}
}

// =============================================================================
// Recovery Paths
// =============================================================================

func TestAdvance_TemporaryFailureRetriesToCompletion(t *testing.T) {
	var mu sync.Mutex
	failures := 2
	capability := generator.CapabilityFunc(func(ctx context.Context, req generator.Request) (*generator.Result, error) {
		mu.Lock()
		defer mu.Unlock()
		if req.Step == domain.StepIdea && failures > 0 {
			failures--
			return nil, &domain.CapabilityError{Kind: domain.CapabilityNetworkTimeout, Step: req.Step, Message: "deadline exceeded"}
		}
		return &generator.Result{Output: map[string]any{"draft": string(req.Step)}}, nil
	})

	f := newFixture(t, capability, recovery.DefaultConfig())
	f.grant(t, "tenant-1", 1000)
	jobID := f.submit(t, "tenant-1")

	job := f.advanceUntilTerminal(t, jobID)
	if job.Status != domain.JobStatusCompleted {
		t.Fatalf("job status = %s, want completed after retries", job.Status)
	}

	idea, _ := f.steps.Get(context.Background(), jobID, domain.StepIdea)
	if idea.Attempts != 3 {
		t.Errorf("idea attempts = %d, want 3", idea.Attempts)
	}
	// Each attempt is charged; the two failed attempts are not refunded.
	if job.TokensConsumed != 550+2*50 {
		t.Errorf("tokens consumed = %d, want 650", job.TokensConsumed)
	}
}

func TestAdvance_PermanentFailureUsesFallback(t *testing.T) {
	capability := generator.CapabilityFunc(func(ctx context.Context, req generator.Request) (*generator.Result, error) {
		if req.Step == domain.StepCopyDesign {
			return nil, &domain.CapabilityError{Kind: domain.CapabilityInternal, Step: req.Step, Message: "model rejected prompt"}
		}
		return &generator.Result{Output: map[string]any{"draft": string(req.Step)}}, nil
	})

	f := newFixture(t, capability, recovery.DefaultConfig())
	f.grant(t, "tenant-1", 1000)
	jobID := f.submit(t, "tenant-1")

	if err := f.orch.Advance(context.Background(), jobID); err != nil {
		t.Fatalf("Advance() error = %v", err)
	}

	job, _ := f.jobs.Get(context.Background(), jobID)
	if job.Status != domain.JobStatusCompleted {
		t.Fatalf("job status = %s, want completed via fallback", job.Status)
	}

	step, _ := f.steps.Get(context.Background(), jobID, domain.StepCopyDesign)
	if step.Annotation != domain.AnnotationFallback {
		t.Errorf("annotation = %q, want %q", step.Annotation, domain.AnnotationFallback)
	}
	if f.notifier.count() != 0 {
		t.Errorf("fallback path sent %d notifications, want 0", f.notifier.count())
	}
}

func TestAdvance_ValidationErrorSkipsStep(t *testing.T) {
	capability := generator.CapabilityFunc(func(ctx context.Context, req generator.Request) (*generator.Result, error) {
		if req.Step == domain.StepCopyPublication {
			return nil, &domain.ValidationError{Step: req.Step, Field: "platform", Message: "no publication format"}
		}
		return &generator.Result{Output: map[string]any{"draft": string(req.Step)}}, nil
	})

	f := newFixture(t, capability, recovery.DefaultConfig())
	f.grant(t, "tenant-1", 1000)
	jobID := f.submit(t, "tenant-1")

	if err := f.orch.Advance(context.Background(), jobID); err != nil {
		t.Fatalf("Advance() error = %v", err)
	}

	job, _ := f.jobs.Get(context.Background(), jobID)
	if job.Status != domain.JobStatusCompleted {
		t.Fatalf("job status = %s, want completed with skipped step", job.Status)
	}

	step, _ := f.steps.Get(context.Background(), jobID, domain.StepCopyPublication)
	if step.Annotation != domain.AnnotationSkipped {
		t.Errorf("annotation = %q, want %q", step.Annotation, domain.AnnotationSkipped)
	}
}

func TestAdvance_PersistentFailureEscalatesToManualIntervention(t *testing.T) {
	capability := generator.CapabilityFunc(func(ctx context.Context, req generator.Request) (*generator.Result, error) {
		return nil, &domain.CapabilityError{Kind: domain.CapabilityNetworkTimeout, Step: req.Step, Message: "deadline exceeded"}
	})

	cfg := recovery.DefaultConfig()
	cfg.MaxRetries = 2
	cfg.InterventionThreshold = 2

	f := newFixture(t, capability, cfg)
	f.grant(t, "tenant-1", 1000)
	jobID := f.submit(t, "tenant-1")

	job := f.advanceUntilTerminal(t, jobID)
	if job.Status != domain.JobStatusFailed {
		t.Fatalf("job status = %s, want failed", job.Status)
	}
	if !job.NeedsReview {
		t.Error("manual intervention should flag review")
	}
	if f.notifier.count() != 1 {
		t.Errorf("got %d notifications, want exactly 1", f.notifier.count())
	}
}

// =============================================================================
// Cancellation and Late Results
// =============================================================================

func TestCancel(t *testing.T) {
	f := newFixture(t, okCapability(), recovery.DefaultConfig())
	f.grant(t, "tenant-1", 1000)
	jobID := f.submit(t, "tenant-1")

	if err := f.orch.Cancel(context.Background(), jobID, "operator request"); err != nil {
		t.Fatalf("Cancel() error = %v", err)
	}
	job, _ := f.jobs.Get(context.Background(), jobID)
	if job.Status != domain.JobStatusFailed {
		t.Errorf("job status = %s, want failed", job.Status)
	}
	if job.FailureReason != "operator request" {
		t.Errorf("failure reason = %q", job.FailureReason)
	}

	if err := f.orch.Cancel(context.Background(), jobID, ""); !errors.Is(err, domain.ErrJobTerminal) {
		t.Errorf("second Cancel() error = %v, want ErrJobTerminal", err)
	}
}

func TestAdvance_DiscardsLateResultAfterCancel(t *testing.T) {
	store := memory.NewMemoryStorage()
	jobs := memory.NewJobRepo(store)

	// The capability cancels the job mid-flight, simulating a result that
	// arrives after the job went terminal.
	capability := generator.CapabilityFunc(func(ctx context.Context, req generator.Request) (*generator.Result, error) {
		job, err := jobs.Get(ctx, req.JobID)
		if err != nil {
			return nil, err
		}
		job.Status = domain.JobStatusFailed
		job.FailureReason = "canceled mid-flight"
		if err := jobs.Update(ctx, job); err != nil {
			return nil, err
		}
		return &generator.Result{Output: map[string]any{"draft": "late"}}, nil
	})

	steps := memory.NewStepResultRepo(store)
	sink := audit.NewSink(memory.NewAuditRepo(store), nil)
	tokens := ledger.NewService(memory.NewLedgerRepo(store), pricing.New(nil), sink, nil)
	notifier := &mockNotifier{}
	classifier := recovery.NewClassifier(recovery.DefaultConfig())
	executor := recovery.NewExecutor(steps, generator.NewFallback(), notifier, sink, fastBackoff, nil)
	f := &fixture{
		orch:     New(jobs, steps, tokens, capability, classifier, executor, sink, nil),
		tokens:   tokens,
		sink:     sink,
		jobs:     jobs,
		steps:    steps,
		notifier: notifier,
	}

	f.grant(t, "tenant-1", 1000)
	jobID := f.submit(t, "tenant-1")

	if err := f.orch.Advance(context.Background(), jobID); err != nil {
		t.Fatalf("Advance() error = %v", err)
	}

	job, _ := f.jobs.Get(context.Background(), jobID)
	if job.Status != domain.JobStatusFailed {
		t.Fatalf("job status = %s, want failed (cancellation wins)", job.Status)
	}

	step, _ := f.steps.Get(context.Background(), jobID, domain.StepIdea)
	if step.Status == domain.StepStatusCompleted {
		t.Error("late result must not complete the step")
	}
	if got := f.auditCount(t, "tenant-1", domain.ActionStepCompleted); got != 0 {
		t.Errorf("step.completed audits = %d, want 0", got)
	}
}

// =============================================================================
// Submit and Statistics
// =============================================================================

func TestSubmit_RejectsInvalidBrandContext(t *testing.T) {
	f := newFixture(t, okCapability(), recovery.DefaultConfig())

	_, err := f.orch.Submit(context.Background(), "tenant-1", "", domain.BrandContext{Platform: "instagram"})
	if err == nil {
		t.Fatal("Submit() with missing brand name should fail")
	}
	_, err = f.orch.Submit(context.Background(), "", "", domain.BrandContext{BrandName: "Acme", Tone: "calm", Platform: "instagram"})
	if err == nil {
		t.Fatal("Submit() with missing tenant should fail")
	}
}

func TestRecoveryStatistics(t *testing.T) {
	capability := generator.CapabilityFunc(func(ctx context.Context, req generator.Request) (*generator.Result, error) {
		return nil, &domain.CapabilityError{Kind: domain.CapabilityNetworkTimeout, Step: req.Step, Message: "deadline exceeded"}
	})

	cfg := recovery.DefaultConfig()
	cfg.MaxRetries = 2
	cfg.InterventionThreshold = 2

	f := newFixture(t, capability, cfg)
	f.grant(t, "tenant-1", 1000)
	jobID := f.submit(t, "tenant-1")
	f.advanceUntilTerminal(t, jobID)

	stats, err := f.orch.RecoveryStatistics(context.Background(), "tenant-1", time.Now().Add(-time.Hour), time.Now().Add(time.Hour))
	if err != nil {
		t.Fatalf("RecoveryStatistics() error = %v", err)
	}
	if stats.Total != 2 {
		t.Errorf("total = %d, want 2 (one retry, one intervention)", stats.Total)
	}
	if stats.ByStrategy["retry"] != 1 {
		t.Errorf("retry count = %d, want 1", stats.ByStrategy["retry"])
	}
	if stats.ByStrategy["manual_intervention"] != 1 {
		t.Errorf("manual_intervention count = %d, want 1", stats.ByStrategy["manual_intervention"])
	}
	if stats.ByStep["idea"] != 2 {
		t.Errorf("idea step count = %d, want 2", stats.ByStep["idea"])
	}
}
