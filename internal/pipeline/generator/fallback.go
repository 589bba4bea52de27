package generator

import (
	"context"
	"fmt"

	"github.com/waltergaltieri/postia/internal/core/domain"
)

// Fallback produces cheaper deterministic substitutes for steps whose
// external backend keeps failing. It runs synchronously and never calls out.
type Fallback struct{}

// NewFallback creates the template-based substitute generator.
func NewFallback() *Fallback {
	return &Fallback{}
}

// Generate renders a template asset or copy for the step. Steps without a
// template substitute return a validation error so the caller can flag
// manual intervention.
func (f *Fallback) Generate(ctx context.Context, req Request) (*Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	switch req.Step {
	case domain.StepCopyDesign:
		return &Result{Output: map[string]any{
			"headline": fmt.Sprintf("%s — %s", req.Brand.BrandName, req.Brand.Tone),
			"body":     fmt.Sprintf("Discover what %s brings to %s.", req.Brand.BrandName, req.Brand.Audience),
			"template": "copy_design_basic",
		}}, nil
	case domain.StepBaseImage:
		return &Result{Output: map[string]any{
			"asset_url": templateAssetURL("base", req.Brand.Industry),
			"template":  "base_image_stock",
		}}, nil
	case domain.StepFinalDesign:
		return &Result{Output: map[string]any{
			"asset_url": templateAssetURL("final", req.Brand.Platform),
			"template":  "final_design_layout",
		}}, nil
	default:
		return nil, &domain.ValidationError{
			Step:    req.Step,
			Message: "no template substitute for this step",
		}
	}
}

func templateAssetURL(kind, variant string) string {
	if variant == "" {
		variant = "generic"
	}
	return fmt.Sprintf("https://assets.postia.internal/templates/%s/%s.png", kind, variant)
}
