// Package cleanup enforces event retention: transient token_delta rows are
// pruned from the durable log once a grace period has passed, since the
// authoritative agent_message rows carry the same text.
package cleanup

import (
	"context"
	"log/slog"
	"time"
)

// Defaults for the retention loop.
const (
	DefaultGracePeriod = 24 * time.Hour
	DefaultInterval    = time.Hour
)

// Pruner is the slice of the storage adapter the sweeper needs.
type Pruner interface {
	PruneTransientEvents(ctx context.Context, cutoff time.Time) (int64, error)
}

// Service runs the periodic retention sweep. All operations are idempotent.
type Service struct {
	pruner   Pruner
	grace    time.Duration
	interval time.Duration
	logger   *slog.Logger

	cancel context.CancelFunc
	done   chan struct{}
}

// NewService creates a retention sweeper.
func NewService(pruner Pruner, grace, interval time.Duration, logger *slog.Logger) *Service {
	if grace <= 0 {
		grace = DefaultGracePeriod
	}
	if interval <= 0 {
		interval = DefaultInterval
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{pruner: pruner, grace: grace, interval: interval, logger: logger}
}

// Start launches the background sweep loop.
func (s *Service) Start(ctx context.Context) {
	if s.cancel != nil {
		return
	}
	ctx, s.cancel = context.WithCancel(ctx)
	s.done = make(chan struct{})

	go s.run(ctx)

	s.logger.Info("retention sweeper started",
		"grace", s.grace, "interval", s.interval)
}

// Stop signals the loop to exit and waits for it to finish.
func (s *Service) Stop() {
	if s.cancel == nil {
		return
	}
	s.cancel()
	<-s.done
	s.logger.Info("retention sweeper stopped")
}

func (s *Service) run(ctx context.Context) {
	defer close(s.done)

	s.Sweep(ctx)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Sweep(ctx)
		}
	}
}

// Sweep prunes one batch of expired transient events.
func (s *Service) Sweep(ctx context.Context) {
	count, err := s.pruner.PruneTransientEvents(ctx, time.Now().Add(-s.grace))
	if err != nil {
		s.logger.Error("retention sweep failed", "error", err)
		return
	}
	if count > 0 {
		s.logger.Info("retention pruned transient events", "count", count)
	}
}
