package control

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/waltergaltieri/postia/internal/core/domain"
	"github.com/waltergaltieri/postia/internal/pipeline/generator"
)

// LogNotifier implements the intervention notifier for deployments without
// Redis. Notifications land in the service log instead of a channel.
type LogNotifier struct {
	log *slog.Logger
}

func NewLogNotifier(log *slog.Logger) *LogNotifier {
	if log == nil {
		log = slog.Default()
	}
	return &LogNotifier{log: log}
}

func (n *LogNotifier) Notify(ctx context.Context, note domain.Notification) error {
	n.log.Warn("manual intervention required",
		"job", note.JobID,
		"tenant", note.TenantID,
		"step", note.Step,
		"reason", note.Reason,
	)
	return nil
}

// LocalCapability is a deterministic generation backend for development and
// testing. It renders placeholder drafts for every step without calling an
// external provider.
type LocalCapability struct{}

func NewLocalCapability() *LocalCapability {
	return &LocalCapability{}
}

func (c *LocalCapability) Generate(ctx context.Context, req generator.Request) (*generator.Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	output := map[string]any{
		"draft": fmt.Sprintf("[local] %s draft for %s on %s",
			strings.ReplaceAll(string(req.Step), "_", " "),
			req.Brand.BrandName,
			req.Brand.Platform,
		),
	}

	switch req.Step {
	case domain.StepBaseImage, domain.StepFinalDesign:
		output["asset_url"] = fmt.Sprintf("local://assets/%s/%s.png", req.JobID, req.Step)
	}

	return &generator.Result{Output: output, TokensUsed: 0}, nil
}
