// Package audit is the append-only event trail for compliance and analytics.
// A broken audit path must never block orchestration: persistence failures
// are logged and swallowed.
package audit

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/waltergaltieri/postia/internal/core/domain"
	"github.com/waltergaltieri/postia/internal/infra/storage"
	"github.com/waltergaltieri/postia/internal/pipeline/metrics"
)

// Sink records, queries and aggregates audit entries.
type Sink struct {
	repo storage.AuditRepository
	log  *slog.Logger
}

// NewSink creates an audit sink over the given repository.
func NewSink(repo storage.AuditRepository, log *slog.Logger) *Sink {
	if log == nil {
		log = slog.Default()
	}
	return &Sink{repo: repo, log: log.With("component", "audit")}
}

// Record appends one entry. Persistence errors are logged to the side
// channel and swallowed so callers never fail on audit problems.
func (s *Sink) Record(ctx context.Context, entry *domain.AuditEntry) {
	if entry.ID == "" {
		entry.ID = uuid.New().String()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now()
	}

	if err := s.repo.Insert(ctx, entry); err != nil {
		metrics.AuditWriteFailures.Inc()
		s.log.Error("failed to persist audit entry",
			"action", entry.Action,
			"tenant", entry.TenantID,
			"resource", entry.ResourceID,
			"error", err,
		)
	}
}

// Query returns matching entries newest-first plus the total count.
func (s *Sink) Query(ctx context.Context, tenantID string, filter storage.AuditFilter, page storage.Page) ([]*domain.AuditEntry, int64, error) {
	return s.repo.Query(ctx, tenantID, filter, page)
}

// Statistics aggregates a tenant's activity for a date range.
func (s *Sink) Statistics(ctx context.Context, tenantID string, from, to time.Time) (*storage.AuditStats, error) {
	return s.repo.Statistics(ctx, tenantID, from, to)
}

// SweepRetention deletes entries older than the horizon. The only deletion
// path; run on an external schedule.
func (s *Sink) SweepRetention(ctx context.Context, horizonDays int) (int64, error) {
	cutoff := time.Now().AddDate(0, 0, -horizonDays)
	removed, err := s.repo.DeleteOlderThan(ctx, cutoff)
	if err != nil {
		return 0, err
	}
	if removed > 0 {
		metrics.AuditSwept.Add(float64(removed))
		s.log.Info("retention sweep removed entries", "count", removed, "horizon_days", horizonDays)
	}
	return removed, nil
}
