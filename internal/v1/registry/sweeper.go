package registry

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/huddlekit/signaling/internal/v1/logging"
)

// Sweeper periodically evicts rooms that have seen no semantic traffic for
// longer than the idle threshold. Immediate deletion on the last departure
// already covers clean exits; the sweeper is the safety net for rooms whose
// transport records outlived their clients.
type Sweeper struct {
	reg      *Registry
	interval time.Duration
	idleFor  time.Duration
}

// NewSweeper creates a sweeper over the given registry.
func NewSweeper(reg *Registry, interval, idleFor time.Duration) *Sweeper {
	return &Sweeper{reg: reg, interval: interval, idleFor: idleFor}
}

// Run blocks, sweeping on every tick until the context is cancelled.
func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	logging.Info(ctx, "Idle sweeper started",
		zap.Duration("interval", s.interval), zap.Duration("idleThreshold", s.idleFor))

	for {
		select {
		case <-ctx.Done():
			logging.Info(ctx, "Idle sweeper stopped")
			return
		case <-ticker.C:
			if swept := s.reg.SweepIdle(s.idleFor); swept > 0 {
				logging.Info(ctx, "Idle sweep evicted rooms", zap.Int("count", swept))
			}
		}
	}
}
