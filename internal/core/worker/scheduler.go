package worker

import (
	"context"
	"log/slog"
	"time"

	"github.com/waltergaltieri/postia/internal/infra/storage"
)

// Advancer is the orchestrator surface the scheduler drives.
type Advancer interface {
	Advance(ctx context.Context, jobID string) error
}

// Scheduler resumes jobs whose step retries have come due. A retry suspends
// a step, not a thread; this loop is what picks it back up.
type Scheduler struct {
	steps      storage.StepResultRepository
	advancer   Advancer
	interval   time.Duration
	batchLimit int
	log        *slog.Logger
}

// NewScheduler creates a retry scheduler.
func NewScheduler(
	steps storage.StepResultRepository,
	advancer Advancer,
	interval time.Duration,
	batchLimit int,
	log *slog.Logger,
) *Scheduler {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	if batchLimit <= 0 {
		batchLimit = 100
	}
	if log == nil {
		log = slog.Default()
	}
	return &Scheduler{
		steps:      steps,
		advancer:   advancer,
		interval:   interval,
		batchLimit: batchLimit,
		log:        log.With("component", "scheduler"),
	}
}

// Start runs the scheduler loop until the context is canceled.
func (s *Scheduler) Start(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

func (s *Scheduler) tick(ctx context.Context) {
	jobIDs, err := s.steps.DueJobIDs(ctx, time.Now(), s.batchLimit)
	if err != nil {
		s.log.Error("failed to list due retries", "error", err)
		return
	}

	for _, jobID := range jobIDs {
		if ctx.Err() != nil {
			return
		}
		if err := s.advancer.Advance(ctx, jobID); err != nil {
			s.log.Error("failed to advance job", "job", jobID, "error", err)
		}
	}
}
