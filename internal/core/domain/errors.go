package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrInsufficientBalance is returned when a debit would drive a tenant's
	// balance negative. Never auto-retried.
	ErrInsufficientBalance = errors.New("insufficient token balance")

	// ErrJobNotFound is returned when a job id does not exist.
	ErrJobNotFound = errors.New("job not found")

	// ErrJobTerminal is returned when an operation targets a completed or failed job.
	ErrJobTerminal = errors.New("job already terminal")
)

// CapabilityErrorKind distinguishes external generation failures for recovery.
type CapabilityErrorKind string

const (
	CapabilityRateLimited    CapabilityErrorKind = "rate_limited"
	CapabilityNetworkTimeout CapabilityErrorKind = "network_timeout"
	CapabilityUnavailable    CapabilityErrorKind = "unavailable"
	CapabilityInternal       CapabilityErrorKind = "internal"
)

// CapabilityError wraps a failure from the external content-generation backend.
type CapabilityError struct {
	Kind    CapabilityErrorKind
	Step    StepName
	Message string
	Err     error
}

func (e *CapabilityError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("capability %s failed (%s): %v", e.Step, e.Kind, e.Err)
	}
	return fmt.Sprintf("capability %s failed (%s): %s", e.Step, e.Kind, e.Message)
}

func (e *CapabilityError) Unwrap() error { return e.Err }

// ValidationError marks step input that can never succeed as given.
// Drives the SKIP recovery strategy.
type ValidationError struct {
	Step    StepName
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("invalid input for %s: %s: %s", e.Step, e.Field, e.Message)
	}
	return fmt.Sprintf("invalid input for %s: %s", e.Step, e.Message)
}

// RecoveryPipelineError marks a failure inside the classifier/executor itself.
// Always escalates to ABORT plus a system-level log entry.
type RecoveryPipelineError struct {
	Step StepName
	Err  error
}

func (e *RecoveryPipelineError) Error() string {
	return fmt.Sprintf("recovery pipeline failed for %s: %v", e.Step, e.Err)
}

func (e *RecoveryPipelineError) Unwrap() error { return e.Err }
