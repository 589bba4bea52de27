package domain

import (
	"time"
)

// AuditEntry is an immutable record of a significant domain event.
// Entries are append-only; the retention sweep is the only deletion path.
type AuditEntry struct {
	ID           string
	TenantID     string
	ActorID      string
	Action       AuditAction
	ResourceKind ResourceKind
	ResourceID   string
	Details      map[string]any
	IPAddress    string
	UserAgent    string
	CreatedAt    time.Time
}

// AuditAction is the closed taxonomy of auditable events.
type AuditAction string

const (
	ActionJobSubmitted      AuditAction = "job.submitted"
	ActionJobCompleted      AuditAction = "job.completed"
	ActionJobFailed         AuditAction = "job.failed"
	ActionStepStarted       AuditAction = "step.started"
	ActionStepCompleted     AuditAction = "step.completed"
	ActionStepFailed        AuditAction = "step.failed"
	ActionRecoveryAttempted AuditAction = "recovery.attempted"
	ActionTokensConsumed    AuditAction = "tokens.consumed"
	ActionTokensGranted     AuditAction = "tokens.granted"
	ActionNotificationSent  AuditAction = "notification.sent"
)

type ResourceKind string

const (
	ResourceJob    ResourceKind = "job"
	ResourceStep   ResourceKind = "step"
	ResourceLedger ResourceKind = "ledger"
	ResourceTenant ResourceKind = "tenant"
)
