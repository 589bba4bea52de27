package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/waltergaltieri/postia/internal/core/domain"
	"github.com/waltergaltieri/postia/internal/infra/storage"
)

// AuditRepo implements storage.AuditRepository using PostgreSQL.
type AuditRepo struct {
	db *DB
}

// NewAuditRepo creates a new PostgreSQL audit repository.
func NewAuditRepo(db *DB) *AuditRepo {
	return &AuditRepo{db: db}
}

// Insert appends one audit entry.
func (r *AuditRepo) Insert(ctx context.Context, entry *domain.AuditEntry) error {
	detailsJSON, err := json.Marshal(entry.Details)
	if err != nil {
		return fmt.Errorf("failed to encode audit details: %w", err)
	}

	query := `
		INSERT INTO audit_entries (id, tenant_id, actor_id, action, resource_kind, resource_id,
		                           details, ip_address, user_agent, created_at)
		VALUES ($1, $2, NULLIF($3, ''), $4, $5, $6, $7, NULLIF($8, ''), NULLIF($9, ''), NOW())
	`
	_, err = r.db.ExecContext(
		ctx,
		query,
		entry.ID,
		entry.TenantID,
		entry.ActorID,
		string(entry.Action),
		string(entry.ResourceKind),
		entry.ResourceID,
		detailsJSON,
		entry.IPAddress,
		entry.UserAgent,
	)
	if err != nil {
		return fmt.Errorf("failed to insert audit entry: %w", err)
	}
	return nil
}

func buildAuditWhere(tenantID string, f storage.AuditFilter) (string, []any) {
	conds := []string{"tenant_id = $1"}
	args := []any{tenantID}

	add := func(cond string, arg any) {
		args = append(args, arg)
		conds = append(conds, fmt.Sprintf(cond, len(args)))
	}

	if f.ActorID != "" {
		add("actor_id = $%d", f.ActorID)
	}
	if f.Action != "" {
		add("action = $%d", string(f.Action))
	}
	if f.ResourceKind != "" {
		add("resource_kind = $%d", string(f.ResourceKind))
	}
	if f.ResourceID != "" {
		add("resource_id = $%d", f.ResourceID)
	}
	if !f.From.IsZero() {
		add("created_at >= $%d", f.From)
	}
	if !f.To.IsZero() {
		add("created_at <= $%d", f.To)
	}

	return strings.Join(conds, " AND "), args
}

type auditRow struct {
	ID           string         `db:"id"`
	TenantID     string         `db:"tenant_id"`
	ActorID      sql.NullString `db:"actor_id"`
	Action       string         `db:"action"`
	ResourceKind string         `db:"resource_kind"`
	ResourceID   string         `db:"resource_id"`
	Details      []byte         `db:"details"`
	IPAddress    sql.NullString `db:"ip_address"`
	UserAgent    sql.NullString `db:"user_agent"`
	CreatedAt    time.Time      `db:"created_at"`
}

// Query returns matching entries newest-first plus the total match count.
func (r *AuditRepo) Query(ctx context.Context, tenantID string, filter storage.AuditFilter, page storage.Page) ([]*domain.AuditEntry, int64, error) {
	where, args := buildAuditWhere(tenantID, filter)

	var total int64
	countQuery := fmt.Sprintf(`SELECT COUNT(*) FROM audit_entries WHERE %s`, where)
	if err := r.db.GetContext(ctx, &total, countQuery, args...); err != nil {
		return nil, 0, fmt.Errorf("failed to count audit entries: %w", err)
	}

	limit := page.Limit
	if limit <= 0 {
		limit = 50
	}
	offset := page.Offset
	if offset < 0 {
		offset = 0
	}

	listQuery := fmt.Sprintf(`
		SELECT id, tenant_id, actor_id, action, resource_kind, resource_id,
		       details, ip_address, user_agent, created_at
		FROM audit_entries
		WHERE %s
		ORDER BY created_at DESC
		LIMIT $%d OFFSET $%d
	`, where, len(args)+1, len(args)+2)
	args = append(args, limit, offset)

	var rows []auditRow
	if err := r.db.SelectContext(ctx, &rows, listQuery, args...); err != nil {
		return nil, 0, fmt.Errorf("failed to query audit entries: %w", err)
	}

	entries := make([]*domain.AuditEntry, 0, len(rows))
	for _, row := range rows {
		entry := &domain.AuditEntry{
			ID:           row.ID,
			TenantID:     row.TenantID,
			ActorID:      row.ActorID.String,
			Action:       domain.AuditAction(row.Action),
			ResourceKind: domain.ResourceKind(row.ResourceKind),
			ResourceID:   row.ResourceID,
			IPAddress:    row.IPAddress.String,
			UserAgent:    row.UserAgent.String,
			CreatedAt:    row.CreatedAt,
		}
		if len(row.Details) > 0 {
			if err := json.Unmarshal(row.Details, &entry.Details); err != nil {
				return nil, 0, fmt.Errorf("failed to decode audit details: %w", err)
			}
		}
		entries = append(entries, entry)
	}
	return entries, total, nil
}

// Statistics aggregates counts by action, resource kind and top actors.
func (r *AuditRepo) Statistics(ctx context.Context, tenantID string, from, to time.Time) (*storage.AuditStats, error) {
	stats := &storage.AuditStats{
		ByAction:   make(map[domain.AuditAction]int64),
		ByResource: make(map[domain.ResourceKind]int64),
	}

	type bucket struct {
		Key   string `db:"key"`
		Count int64  `db:"count"`
	}

	var byAction []bucket
	err := r.db.SelectContext(ctx, &byAction, `
		SELECT action AS key, COUNT(*) AS count
		FROM audit_entries
		WHERE tenant_id = $1 AND created_at >= $2 AND created_at <= $3
		GROUP BY action
	`, tenantID, from, to)
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate by action: %w", err)
	}
	for _, b := range byAction {
		stats.ByAction[domain.AuditAction(b.Key)] = b.Count
		stats.Total += b.Count
	}

	var byResource []bucket
	err = r.db.SelectContext(ctx, &byResource, `
		SELECT resource_kind AS key, COUNT(*) AS count
		FROM audit_entries
		WHERE tenant_id = $1 AND created_at >= $2 AND created_at <= $3
		GROUP BY resource_kind
	`, tenantID, from, to)
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate by resource: %w", err)
	}
	for _, b := range byResource {
		stats.ByResource[domain.ResourceKind(b.Key)] = b.Count
	}

	var topActors []bucket
	err = r.db.SelectContext(ctx, &topActors, `
		SELECT actor_id AS key, COUNT(*) AS count
		FROM audit_entries
		WHERE tenant_id = $1 AND created_at >= $2 AND created_at <= $3 AND actor_id IS NOT NULL
		GROUP BY actor_id
		ORDER BY count DESC
		LIMIT 10
	`, tenantID, from, to)
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate top actors: %w", err)
	}
	for _, b := range topActors {
		stats.TopActors = append(stats.TopActors, storage.ActorCount{ActorID: b.Key, Count: b.Count})
	}

	return stats, nil
}

// DeleteOlderThan removes entries created before the cutoff.
func (r *AuditRepo) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM audit_entries WHERE created_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to sweep audit entries: %w", err)
	}
	return res.RowsAffected()
}
