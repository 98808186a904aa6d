package proposal

import (
	"context"
	"log/slog"
	"time"
)

// ExpiryWorker sweeps open proposals and settles the overdue ones. The
// on-access check in Get and RecordDecision catches stragglers between
// sweeps, so the interval trades promptness against load, not correctness.
type ExpiryWorker struct {
	service  *Service
	interval time.Duration
	logger   *slog.Logger
}

// NewExpiryWorker creates a sweeper. A non-positive interval defaults to
// 30 seconds.
func NewExpiryWorker(service *Service, interval time.Duration, logger *slog.Logger) *ExpiryWorker {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &ExpiryWorker{service: service, interval: interval, logger: logger}
}

// Run sweeps until the context is cancelled.
func (w *ExpiryWorker) Run(ctx context.Context) error {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			w.sweep(ctx)
		}
	}
}

func (w *ExpiryWorker) sweep(ctx context.Context) {
	now := w.service.clock()
	for _, state := range []State{StatePending, StateUnderReview} {
		open, err := w.service.List(ctx, ListFilter{State: state})
		if err != nil {
			w.logger.ErrorContext(ctx, "list open proposals", "error", err)
			return
		}
		for _, p := range open {
			if now.Before(p.ExpiresAt) {
				continue
			}
			if _, err := w.service.Expire(ctx, p.ID); err != nil {
				w.logger.ErrorContext(ctx, "expire proposal",
					"proposal_id", p.ID,
					"error", err,
				)
			}
		}
	}
}
