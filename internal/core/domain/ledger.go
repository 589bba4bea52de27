package domain

import (
	"time"
)

// LedgerEntry records one signed token-balance change for a tenant.
// A tenant's balance is always the sum of its entries.
type LedgerEntry struct {
	ID          string
	TenantID    string
	ActorID     string
	Amount      int64 // negative = consumption
	Category    LedgerCategory
	Description string
	JobID       string
	Step        StepName
	Metadata    map[string]any
	CreatedAt   time.Time
}

type LedgerCategory string

const (
	LedgerConsumption LedgerCategory = "consumption"
	LedgerPurchase    LedgerCategory = "purchase"
	LedgerRenewal     LedgerCategory = "renewal"
	LedgerRefund      LedgerCategory = "refund"
	LedgerAdjustment  LedgerCategory = "adjustment"
)
