package domain

import (
	"time"
)

// Job represents one request to produce content through the ordered step pipeline.
type Job struct {
	ID             string
	TenantID       string
	ClientID       string
	Status         JobStatus
	Context        BrandContext
	TokensConsumed int64
	FailureReason  string
	FailedStep     StepName
	NeedsReview    bool
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

type JobStatus string

const (
	JobStatusPending    JobStatus = "pending"
	JobStatusInProgress JobStatus = "in_progress"
	JobStatusCompleted  JobStatus = "completed"
	JobStatusFailed     JobStatus = "failed"
)

// Terminal reports whether the job can no longer advance.
func (s JobStatus) Terminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed
}
