package domain

import (
	"fmt"
	"strings"
)

// BrandContext is the structured per-job input the pipeline threads through
// every step. It replaces the free-form blob older clients sent: each field
// is validated before a job is accepted.
type BrandContext struct {
	BrandName   string         `json:"brand_name"`
	Industry    string         `json:"industry"`
	Tone        string         `json:"tone"`
	Audience    string         `json:"audience"`
	Platform    string         `json:"platform"`
	CampaignID  string         `json:"campaign_id,omitempty"`
	Constraints []string       `json:"constraints,omitempty"`
	Extra       map[string]any `json:"extra,omitempty"`
}

// Validate checks the fields every step depends on.
func (c BrandContext) Validate() error {
	if strings.TrimSpace(c.BrandName) == "" {
		return &ValidationError{Field: "brand_name", Message: "must not be empty"}
	}
	if strings.TrimSpace(c.Platform) == "" {
		return &ValidationError{Field: "platform", Message: "must not be empty"}
	}
	if c.Tone == "" {
		return &ValidationError{Field: "tone", Message: "must not be empty"}
	}
	return nil
}

// Notification is the opaque payload emitted once per manual-intervention outcome.
type Notification struct {
	JobID    string   `json:"job_id"`
	TenantID string   `json:"tenant_id"`
	Step     StepName `json:"step"`
	Reason   string   `json:"reason"`
}

func (n Notification) String() string {
	return fmt.Sprintf("job=%s tenant=%s step=%s reason=%q", n.JobID, n.TenantID, n.Step, n.Reason)
}
