package worker

import (
	"context"
	"log/slog"
	"time"

	"github.com/waltergaltieri/postia/internal/pipeline/audit"
)

// Sweeper deletes audit entries older than the retention horizon.
type Sweeper struct {
	sink          *audit.Sink
	retentionDays int
	interval      time.Duration
	log           *slog.Logger
}

// NewSweeper creates a retention sweeper.
func NewSweeper(sink *audit.Sink, retentionDays int, interval time.Duration, log *slog.Logger) *Sweeper {
	if interval <= 0 {
		interval = time.Hour
	}
	if log == nil {
		log = slog.Default()
	}
	return &Sweeper{
		sink:          sink,
		retentionDays: retentionDays,
		interval:      interval,
		log:           log.With("component", "sweeper"),
	}
}

// Start runs the sweep loop.
func (s *Sweeper) Start(ctx context.Context) {
	if s.retentionDays <= 0 {
		return // Retention disabled
	}

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	// Initial sweep
	s.sweep(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.sweep(ctx)
		}
	}
}

func (s *Sweeper) sweep(ctx context.Context) {
	if _, err := s.sink.SweepRetention(ctx, s.retentionDays); err != nil {
		s.log.Error("retention sweep failed", "error", err)
	}
}
