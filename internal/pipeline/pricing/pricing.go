// Package pricing maps operation names to token costs and estimates
// multi-step job and campaign budgets.
package pricing

import (
	"math"
	"strings"

	"github.com/waltergaltieri/postia/internal/core/domain"
)

// Operation names accepted by the table. Historical aliases normalize onto
// these canonical keys.
const (
	OpIdea            = "idea"
	OpCopyDesign      = "copy_design"
	OpCopyPublication = "copy_publication"
	OpBaseImage       = "base_image"
	OpFinalDesign     = "final_design"
	OpRegeneration    = "regeneration"
	OpBulkGeneration  = "bulk_generation"
)

// DefaultCost applies to operation names the table does not know.
// Unknown operations never fail a lookup.
const DefaultCost = 50

var defaultCosts = map[string]int64{
	OpIdea:            50,
	OpCopyDesign:      75,
	OpCopyPublication: 75,
	OpBaseImage:       150,
	OpFinalDesign:     200,
	OpRegeneration:    25,
	OpBulkGeneration:  300,
}

// aliases carries operation names from earlier API versions.
var aliases = map[string]string{
	"content_idea":     OpIdea,
	"idea_generation":  OpIdea,
	"design_copy":      OpCopyDesign,
	"copy-design":      OpCopyDesign,
	"publication_copy": OpCopyPublication,
	"copy-publication": OpCopyPublication,
	"image":            OpBaseImage,
	"image_base":       OpBaseImage,
	"design":           OpFinalDesign,
	"final-design":     OpFinalDesign,
	"regen":            OpRegeneration,
	"bulk":             OpBulkGeneration,
}

// Table resolves operation costs. The zero value is unusable; use New.
type Table struct {
	costs map[string]int64
}

// New builds a table from the built-in costs plus optional overrides
// (operation name -> cost), letting deployments reprice without a release.
func New(overrides map[string]int64) *Table {
	costs := make(map[string]int64, len(defaultCosts))
	for op, c := range defaultCosts {
		costs[op] = c
	}
	for op, c := range overrides {
		costs[Normalize(op)] = c
	}
	return &Table{costs: costs}
}

// Normalize maps historical aliases onto canonical operation names.
func Normalize(operation string) string {
	op := strings.ToLower(strings.TrimSpace(operation))
	if canonical, ok := aliases[op]; ok {
		return canonical
	}
	return op
}

// Cost returns the token cost for an operation, falling back to DefaultCost
// for unknown names.
func (t *Table) Cost(operation string) int64 {
	if c, ok := t.costs[Normalize(operation)]; ok {
		return c
	}
	return DefaultCost
}

// StepCost returns the cost of one pipeline step.
func (t *Table) StepCost(step domain.StepName) int64 {
	return t.Cost(string(step))
}

// EstimateJob sums the per-step costs for a job's step sequence.
func (t *Table) EstimateJob(steps []domain.StepName) int64 {
	var total int64
	for _, s := range steps {
		total += t.StepCost(s)
	}
	return total
}

// EstimateCampaign prices postCount posts (idea plus both copy steps, plus
// both image steps when requested), inflated by bufferRatio and rounded up.
func (t *Table) EstimateCampaign(postCount int, includeImages bool, bufferRatio float64) int64 {
	if postCount <= 0 {
		return 0
	}
	perPost := t.StepCost(domain.StepIdea) +
		t.StepCost(domain.StepCopyDesign) +
		t.StepCost(domain.StepCopyPublication)
	if includeImages {
		perPost += t.StepCost(domain.StepBaseImage) + t.StepCost(domain.StepFinalDesign)
	}
	if bufferRatio < 1 {
		bufferRatio = 1
	}
	return int64(math.Ceil(float64(perPost) * float64(postCount) * bufferRatio))
}
