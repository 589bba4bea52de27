// Package ledger owns per-tenant token balances. Consume is the sole
// debit path and is all-or-nothing: concurrent consumptions for one tenant
// serialize so the balance never goes negative.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/waltergaltieri/postia/internal/core/domain"
	"github.com/waltergaltieri/postia/internal/infra/storage"
	"github.com/waltergaltieri/postia/internal/pipeline/audit"
	"github.com/waltergaltieri/postia/internal/pipeline/metrics"
	"github.com/waltergaltieri/postia/internal/pipeline/pricing"
)

// ConsumeRequest describes one debit.
type ConsumeRequest struct {
	TenantID    string
	ActorID     string
	Amount      int64
	Description string
	JobID       string
	Step        domain.StepName
	Metadata    map[string]any
}

// GrantRequest describes one credit.
type GrantRequest struct {
	TenantID    string
	ActorID     string
	Amount      int64
	Category    domain.LedgerCategory
	Description string
	Metadata    map[string]any
}

// Service is the token ledger.
type Service struct {
	repo    storage.LedgerRepository
	pricing *pricing.Table
	sink    *audit.Sink
	log     *slog.Logger
}

// NewService creates a ledger service.
func NewService(repo storage.LedgerRepository, table *pricing.Table, sink *audit.Sink, log *slog.Logger) *Service {
	if log == nil {
		log = slog.Default()
	}
	return &Service{
		repo:    repo,
		pricing: table,
		sink:    sink,
		log:     log.With("component", "ledger"),
	}
}

// CheckBalance reports whether the tenant's balance covers the amount.
// Read-only; the authoritative re-check happens inside Consume.
func (s *Service) CheckBalance(ctx context.Context, tenantID string, amount int64) (bool, error) {
	balance, err := s.repo.Balance(ctx, tenantID)
	if err != nil {
		return false, fmt.Errorf("failed to check balance: %w", err)
	}
	return balance >= amount, nil
}

// Balance returns the tenant's current balance.
func (s *Service) Balance(ctx context.Context, tenantID string) (int64, error) {
	return s.repo.Balance(ctx, tenantID)
}

// Consume atomically debits the tenant and appends a consumption entry.
// Returns domain.ErrInsufficientBalance with no state change when the
// balance is short.
func (s *Service) Consume(ctx context.Context, req ConsumeRequest) error {
	if req.Amount <= 0 {
		return fmt.Errorf("consume amount must be positive, got %d", req.Amount)
	}

	entry := &domain.LedgerEntry{
		ID:          uuid.New().String(),
		TenantID:    req.TenantID,
		ActorID:     req.ActorID,
		Amount:      -req.Amount,
		Category:    domain.LedgerConsumption,
		Description: req.Description,
		JobID:       req.JobID,
		Step:        req.Step,
		Metadata:    req.Metadata,
	}

	if err := s.repo.Debit(ctx, entry); err != nil {
		if errors.Is(err, domain.ErrInsufficientBalance) {
			metrics.InsufficientBalance.WithLabelValues(req.TenantID).Inc()
			return domain.ErrInsufficientBalance
		}
		return fmt.Errorf("failed to consume tokens: %w", err)
	}

	metrics.TokensConsumed.WithLabelValues(req.TenantID).Add(float64(req.Amount))
	s.sink.Record(ctx, &domain.AuditEntry{
		TenantID:     req.TenantID,
		ActorID:      req.ActorID,
		Action:       domain.ActionTokensConsumed,
		ResourceKind: domain.ResourceLedger,
		ResourceID:   entry.ID,
		Details: map[string]any{
			"amount": req.Amount,
			"job_id": req.JobID,
			"step":   string(req.Step),
		},
	})
	return nil
}

// Grant credits the tenant and appends the entry.
func (s *Service) Grant(ctx context.Context, req GrantRequest) error {
	if req.Amount <= 0 {
		return fmt.Errorf("grant amount must be positive, got %d", req.Amount)
	}
	category := req.Category
	if category == "" {
		category = domain.LedgerPurchase
	}

	entry := &domain.LedgerEntry{
		ID:          uuid.New().String(),
		TenantID:    req.TenantID,
		ActorID:     req.ActorID,
		Amount:      req.Amount,
		Category:    category,
		Description: req.Description,
		Metadata:    req.Metadata,
	}
	if err := s.repo.Credit(ctx, entry); err != nil {
		return fmt.Errorf("failed to grant tokens: %w", err)
	}

	s.sink.Record(ctx, &domain.AuditEntry{
		TenantID:     req.TenantID,
		ActorID:      req.ActorID,
		Action:       domain.ActionTokensGranted,
		ResourceKind: domain.ResourceLedger,
		ResourceID:   entry.ID,
		Details: map[string]any{
			"amount":   req.Amount,
			"category": string(category),
		},
	})
	return nil
}

// Entries returns a tenant's ledger entries, newest first.
func (s *Service) Entries(ctx context.Context, tenantID string, limit int) ([]*domain.LedgerEntry, error) {
	return s.repo.Entries(ctx, tenantID, limit)
}

// StepCost returns the token cost of one pipeline step.
func (s *Service) StepCost(step domain.StepName) int64 {
	return s.pricing.StepCost(step)
}

// EstimateJobCost sums per-step costs for the given sequence.
func (s *Service) EstimateJobCost(steps []domain.StepName) int64 {
	return s.pricing.EstimateJob(steps)
}

// EstimateCampaignCost prices a campaign of postCount posts.
func (s *Service) EstimateCampaignCost(postCount int, includeImages bool, bufferRatio float64) int64 {
	return s.pricing.EstimateCampaign(postCount, includeImages, bufferRatio)
}
