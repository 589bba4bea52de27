// Package generator defines the contract to the external content-generation
// backends and the deterministic substitutes used when they fail.
package generator

import (
	"context"

	"github.com/waltergaltieri/postia/internal/core/domain"
)

// Request carries one step invocation: the job's brand context plus the
// accumulated outputs of prior steps.
type Request struct {
	JobID    string
	TenantID string
	Step     domain.StepName
	Brand    domain.BrandContext
	Input    map[string]any
}

// Result is a successful generation payload. TokensUsed is the backend's
// reported spend, kept for reconciliation; billing always uses the cost table.
type Result struct {
	Output     map[string]any
	TokensUsed int64
}

// Capability produces content for a single step. Implementations are opaque,
// potentially slow and unreliable; failures should be typed as
// *domain.CapabilityError or *domain.ValidationError where possible.
type Capability interface {
	Generate(ctx context.Context, req Request) (*Result, error)
}

// CapabilityFunc adapts a function to the Capability interface.
type CapabilityFunc func(ctx context.Context, req Request) (*Result, error)

func (f CapabilityFunc) Generate(ctx context.Context, req Request) (*Result, error) {
	return f(ctx, req)
}
