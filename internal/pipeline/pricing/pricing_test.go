package pricing

import (
	"testing"

	"github.com/waltergaltieri/postia/internal/core/domain"
)

func TestTable_Cost(t *testing.T) {
	table := New(nil)

	cases := []struct {
		op   string
		want int64
	}{
		{OpIdea, 50},
		{OpCopyDesign, 75},
		{OpCopyPublication, 75},
		{OpBaseImage, 150},
		{OpFinalDesign, 200},
		{OpRegeneration, 25},
		{OpBulkGeneration, 300},
		// Historical aliases normalize onto canonical keys
		{"design_copy", 75},
		{"IDEA_GENERATION", 50},
		{"image", 150},
		// Unknown names fall back instead of failing
		{"video_generation", DefaultCost},
		{"", DefaultCost},
	}

	for _, c := range cases {
		if got := table.Cost(c.op); got != c.want {
			t.Errorf("Cost(%q) = %d, want %d", c.op, got, c.want)
		}
	}
}

func TestTable_Overrides(t *testing.T) {
	table := New(map[string]int64{"design_copy": 90, "new_op": 10})

	if got := table.Cost(OpCopyDesign); got != 90 {
		t.Errorf("override via alias: got %d, want 90", got)
	}
	if got := table.Cost("new_op"); got != 10 {
		t.Errorf("new operation: got %d, want 10", got)
	}
	if got := table.Cost(OpIdea); got != 50 {
		t.Errorf("untouched default changed: got %d, want 50", got)
	}
}

func TestTable_EstimateJob(t *testing.T) {
	table := New(nil)

	total := table.EstimateJob(domain.StepOrder)
	if total != 550 {
		t.Errorf("full pipeline estimate = %d, want 550", total)
	}

	partial := table.EstimateJob([]domain.StepName{domain.StepIdea, domain.StepCopyDesign})
	if partial != 125 {
		t.Errorf("partial estimate = %d, want 125", partial)
	}
}

func TestTable_EstimateCampaign(t *testing.T) {
	table := New(nil)

	// 10 posts with images at 550/post, 20% buffer: ceil(10*550*1.2) = 6600
	if got := table.EstimateCampaign(10, true, 1.2); got != 6600 {
		t.Errorf("campaign with images = %d, want 6600", got)
	}

	// Text-only: 200/post
	if got := table.EstimateCampaign(4, false, 1.0); got != 800 {
		t.Errorf("text-only campaign = %d, want 800", got)
	}

	// Buffer below 1 is treated as no buffer
	if got := table.EstimateCampaign(2, false, 0.5); got != 400 {
		t.Errorf("sub-1 buffer = %d, want 400", got)
	}

	if got := table.EstimateCampaign(0, true, 1.2); got != 0 {
		t.Errorf("zero posts = %d, want 0", got)
	}

	// Rounding goes up, never down
	if got := table.EstimateCampaign(1, false, 1.001); got != 201 {
		t.Errorf("rounding = %d, want 201", got)
	}
}
