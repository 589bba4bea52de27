package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/waltergaltieri/postia/internal/core/domain"
)

// LedgerRepo implements storage.LedgerRepository using PostgreSQL.
// Debits rely on a conditional UPDATE so two concurrent consumptions for one
// tenant serialize on the balance row and can never drive it negative.
type LedgerRepo struct {
	db *DB
}

// NewLedgerRepo creates a new PostgreSQL ledger repository.
func NewLedgerRepo(db *DB) *LedgerRepo {
	return &LedgerRepo{db: db}
}

// Balance returns the tenant's current balance. Unknown tenants hold zero.
func (r *LedgerRepo) Balance(ctx context.Context, tenantID string) (int64, error) {
	var balance int64
	err := r.db.GetContext(ctx, &balance,
		`SELECT balance FROM token_balances WHERE tenant_id = $1`, tenantID)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to get balance: %w", err)
	}
	return balance, nil
}

// Debit atomically decrements the balance and appends the consumption entry.
// The guarded UPDATE matches zero rows when the balance is short, in which
// case the transaction rolls back with no state change.
func (r *LedgerRepo) Debit(ctx context.Context, entry *domain.LedgerEntry) error {
	amount := entry.Amount
	if amount > 0 {
		amount = -amount
	}
	debit := -amount

	return r.db.InTx(ctx, func(tx *sqlx.Tx) error {
		res, err := tx.ExecContext(ctx, `
			UPDATE token_balances
			SET balance = balance - $2, updated_at = NOW()
			WHERE tenant_id = $1 AND balance >= $2
		`, entry.TenantID, debit)
		if err != nil {
			return fmt.Errorf("failed to decrement balance: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("failed to read rows affected: %w", err)
		}
		if n == 0 {
			return domain.ErrInsufficientBalance
		}

		e := *entry
		e.Amount = amount
		return insertEntry(ctx, tx, &e)
	})
}

// Credit increments the balance and appends the entry.
func (r *LedgerRepo) Credit(ctx context.Context, entry *domain.LedgerEntry) error {
	if entry.Amount < 0 {
		return fmt.Errorf("credit amount must be positive, got %d", entry.Amount)
	}

	return r.db.InTx(ctx, func(tx *sqlx.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO token_balances (tenant_id, balance, updated_at)
			VALUES ($1, $2, NOW())
			ON CONFLICT (tenant_id) DO UPDATE
			SET balance = token_balances.balance + EXCLUDED.balance, updated_at = NOW()
		`, entry.TenantID, entry.Amount)
		if err != nil {
			return fmt.Errorf("failed to increment balance: %w", err)
		}
		return insertEntry(ctx, tx, entry)
	})
}

func insertEntry(ctx context.Context, tx *sqlx.Tx, entry *domain.LedgerEntry) error {
	metadataJSON, err := json.Marshal(entry.Metadata)
	if err != nil {
		return fmt.Errorf("failed to encode ledger metadata: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO ledger_entries (id, tenant_id, actor_id, amount, category, description, job_id, step, metadata, created_at)
		VALUES ($1, $2, NULLIF($3, ''), $4, $5, $6, NULLIF($7, ''), NULLIF($8, ''), $9, NOW())
	`,
		entry.ID,
		entry.TenantID,
		entry.ActorID,
		entry.Amount,
		string(entry.Category),
		entry.Description,
		entry.JobID,
		string(entry.Step),
		metadataJSON,
	)
	if err != nil {
		return fmt.Errorf("failed to insert ledger entry: %w", err)
	}
	return nil
}

type ledgerRow struct {
	ID          string         `db:"id"`
	TenantID    string         `db:"tenant_id"`
	ActorID     sql.NullString `db:"actor_id"`
	Amount      int64          `db:"amount"`
	Category    string         `db:"category"`
	Description string         `db:"description"`
	JobID       sql.NullString `db:"job_id"`
	Step        sql.NullString `db:"step"`
	Metadata    []byte         `db:"metadata"`
	CreatedAt   time.Time      `db:"created_at"`
}

// Entries retrieves a tenant's ledger entries, newest first.
func (r *LedgerRepo) Entries(ctx context.Context, tenantID string, limit int) ([]*domain.LedgerEntry, error) {
	if limit <= 0 {
		limit = 100
	}
	query := `
		SELECT id, tenant_id, actor_id, amount, category, description, job_id, step, metadata, created_at
		FROM ledger_entries
		WHERE tenant_id = $1
		ORDER BY created_at DESC
		LIMIT $2
	`
	var rows []ledgerRow
	if err := r.db.SelectContext(ctx, &rows, query, tenantID, limit); err != nil {
		return nil, fmt.Errorf("failed to list ledger entries: %w", err)
	}

	entries := make([]*domain.LedgerEntry, 0, len(rows))
	for _, row := range rows {
		entry := &domain.LedgerEntry{
			ID:          row.ID,
			TenantID:    row.TenantID,
			ActorID:     row.ActorID.String,
			Amount:      row.Amount,
			Category:    domain.LedgerCategory(row.Category),
			Description: row.Description,
			JobID:       row.JobID.String,
			Step:        domain.StepName(row.Step.String),
			CreatedAt:   row.CreatedAt,
		}
		if len(row.Metadata) > 0 {
			if err := json.Unmarshal(row.Metadata, &entry.Metadata); err != nil {
				return nil, fmt.Errorf("failed to decode ledger metadata: %w", err)
			}
		}
		entries = append(entries, entry)
	}
	return entries, nil
}
