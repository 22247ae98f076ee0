package inventory

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// Sweeper reclaims expired holds on a fixed cadence.
type Sweeper struct {
	engine   *Engine
	interval time.Duration
	logger   *zap.Logger
}

// NewSweeper builds a sweeper over the engine.
func NewSweeper(engine *Engine, interval time.Duration, logger *zap.Logger) *Sweeper {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	return &Sweeper{engine: engine, interval: interval, logger: logger}
}

// Run blocks, sweeping once per interval until the context is cancelled.
func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.logger.Info("reservation sweeper started", zap.Duration("interval", s.interval))

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("reservation sweeper stopped")
			return
		case <-ticker.C:
			count, err := s.engine.SweepExpired(ctx, time.Now().UTC())
			if err != nil {
				s.logger.Error("sweep failed", zap.Error(err))
				continue
			}
			if count > 0 {
				s.logger.Info("reclaimed expired reservations", zap.Int("count", count))
			}
		}
	}
}
