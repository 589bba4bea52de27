// Package recovery decides and performs the response to step failures.
//
// This package contains:
//   - Classifier: pure decision table mapping a failure to a strategy
//   - Backoff: retry delay schedule
//   - Executor: applies the chosen strategy and audits every attempt
package recovery

import (
	"errors"
	"strings"

	"github.com/waltergaltieri/postia/internal/core/domain"
)

// Strategy is the chosen response to a step failure.
type Strategy string

const (
	StrategyRetry              Strategy = "retry"
	StrategyFallback           Strategy = "fallback"
	StrategySkip               Strategy = "skip"
	StrategyManualIntervention Strategy = "manual_intervention"
	StrategyAbort              Strategy = "abort"
)

// Config holds the recovery policy. Fallback steps and temporary-error
// matching are configuration data, not code.
type Config struct {
	MaxRetries             int               `yaml:"max_retries"`
	InterventionThreshold  int               `yaml:"intervention_threshold"`
	FallbackSteps          []domain.StepName `yaml:"fallback_steps"`
	TemporaryErrorPatterns []string          `yaml:"temporary_error_patterns"`
}

// DefaultConfig returns the policy shipped with the service.
func DefaultConfig() Config {
	return Config{
		MaxRetries:            3,
		InterventionThreshold: 5,
		FallbackSteps: []domain.StepName{
			domain.StepCopyDesign,
			domain.StepBaseImage,
			domain.StepFinalDesign,
		},
		TemporaryErrorPatterns: []string{
			"rate limit",
			"too many requests",
			"timeout",
			"timed out",
			"connection refused",
			"connection reset",
			"network",
			"temporarily unavailable",
		},
	}
}

// Input is everything the decision table looks at.
type Input struct {
	Err               error
	Step              domain.StepName
	Attempt           int // 1-based attempt number that just failed
	FailureCount      int // historical failure count for this step
	FallbackAvailable bool
}

// Classifier is a pure function of Input. It holds no mutable state.
type Classifier struct {
	cfg      Config
	fallback map[domain.StepName]bool
}

// NewClassifier builds a classifier from config, filling zero fields with
// defaults so a partial config still yields a terminal path.
func NewClassifier(cfg Config) *Classifier {
	def := DefaultConfig()
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = def.MaxRetries
	}
	if cfg.InterventionThreshold <= 0 {
		cfg.InterventionThreshold = def.InterventionThreshold
	}
	if cfg.FallbackSteps == nil {
		cfg.FallbackSteps = def.FallbackSteps
	}
	if cfg.TemporaryErrorPatterns == nil {
		cfg.TemporaryErrorPatterns = def.TemporaryErrorPatterns
	}

	fallback := make(map[domain.StepName]bool, len(cfg.FallbackSteps))
	for _, s := range cfg.FallbackSteps {
		fallback[s] = true
	}
	return &Classifier{cfg: cfg, fallback: fallback}
}

// MaxRetries exposes the retry budget.
func (c *Classifier) MaxRetries() int { return c.cfg.MaxRetries }

// HasFallback reports whether the step has a deterministic substitute.
func (c *Classifier) HasFallback(step domain.StepName) bool {
	return c.fallback[step]
}

// Classify maps one failure to a strategy. The exhausted-budget branch is
// checked first so a terminal path is always reachable within MaxRetries.
func (c *Classifier) Classify(in Input) Strategy {
	if in.Attempt >= c.cfg.MaxRetries {
		if in.FailureCount >= c.cfg.InterventionThreshold {
			return StrategyManualIntervention
		}
		if in.FallbackAvailable {
			return StrategyFallback
		}
		return StrategyAbort
	}

	if errors.Is(in.Err, domain.ErrInsufficientBalance) {
		return StrategyManualIntervention
	}

	var valErr *domain.ValidationError
	if errors.As(in.Err, &valErr) {
		return StrategySkip
	}

	var capErr *domain.CapabilityError
	if errors.As(in.Err, &capErr) {
		switch capErr.Kind {
		case domain.CapabilityRateLimited:
			return StrategyRetry
		default:
			if c.isTemporary(capErr) {
				return StrategyRetry
			}
			if in.FallbackAvailable {
				return StrategyFallback
			}
			// No substitute exists; keep retrying within budget, the
			// exhausted branch above guarantees termination.
			return StrategyRetry
		}
	}

	return StrategyRetry
}

func (c *Classifier) isTemporary(err *domain.CapabilityError) bool {
	switch err.Kind {
	case domain.CapabilityRateLimited, domain.CapabilityNetworkTimeout, domain.CapabilityUnavailable:
		return true
	}
	msg := strings.ToLower(err.Error())
	for _, pattern := range c.cfg.TemporaryErrorPatterns {
		if strings.Contains(msg, pattern) {
			return true
		}
	}
	return false
}
