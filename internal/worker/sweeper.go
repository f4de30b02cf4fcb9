package worker

import (
	"context"
	"log/slog"
	"time"
)

// RetentionStore is implemented by the event stores.
type RetentionStore interface {
	MarkProcessedBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// Sweeper periodically marks events older than the retention window as
// processed. Polls ignore the flag; it tells archival jobs what is safe
// to move out of the hot table.
type Sweeper struct {
	store     RetentionStore
	logger    *slog.Logger
	interval  time.Duration
	retention time.Duration
	now       func() time.Time
}

func NewSweeper(store RetentionStore, interval, retention time.Duration, logger *slog.Logger) *Sweeper {
	return &Sweeper{
		store:     store,
		logger:    logger,
		interval:  interval,
		retention: retention,
		now:       time.Now,
	}
}

// Start sweeps once, then on every tick until the context is cancelled.
func (s *Sweeper) Start(ctx context.Context) {
	s.logger.Info("retention sweeper started", "interval", s.interval, "retention", s.retention)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.Sweep(ctx)
	for {
		select {
		case <-ctx.Done():
			s.logger.Info("retention sweeper stopping")
			return
		case <-ticker.C:
			s.Sweep(ctx)
		}
	}
}

// Sweep runs one pass and returns how many events it marked.
func (s *Sweeper) Sweep(ctx context.Context) int64 {
	cutoff := s.now().Add(-s.retention)

	n, err := s.store.MarkProcessedBefore(ctx, cutoff)
	if err != nil {
		s.logger.Error("failed to mark expired events", "cutoff", cutoff, "error", err)
		return 0
	}
	if n > 0 {
		s.logger.Info("marked expired events processed", "count", n, "cutoff", cutoff)
	}
	return n
}
