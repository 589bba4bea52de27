package recovery

import (
	"math"
	"time"
)

// Backoff computes retry delays: BaseDelay × Multiplier^(attempt−1),
// capped at MaxDelay. Delays are monotonically non-decreasing.
type Backoff struct {
	BaseDelay  time.Duration `yaml:"base_delay"`
	Multiplier float64       `yaml:"multiplier"`
	MaxDelay   time.Duration `yaml:"max_delay"`
}

// DefaultBackoff returns the shipped schedule: 5s, 10s, 20s, ... capped at 5m.
func DefaultBackoff() Backoff {
	return Backoff{
		BaseDelay:  5 * time.Second,
		Multiplier: 2,
		MaxDelay:   5 * time.Minute,
	}
}

// Delay returns the wait before re-running a step after the given 1-based
// failed attempt.
func (b Backoff) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	base := b.BaseDelay
	if base <= 0 {
		base = 5 * time.Second
	}
	mult := b.Multiplier
	if mult < 1 {
		mult = 2
	}
	maxDelay := b.MaxDelay
	if maxDelay <= 0 {
		maxDelay = 5 * time.Minute
	}

	delay := float64(base) * math.Pow(mult, float64(attempt-1))
	if delay > float64(maxDelay) {
		return maxDelay
	}
	return time.Duration(delay)
}
