// Package janitor runs the periodic sweep that evicts abandoned rooms.
package janitor

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/huddlehq/huddle/internal/v1/logging"
)

// Sweeper is the registry surface the janitor drives.
type Sweeper interface {
	CleanupAbandonedRooms(maxAge time.Duration) int
}

// Janitor evicts rooms that outlived their maximum age on a fixed cadence.
// Rooms holding participants are never touched; the sweep only reclaims
// leftovers whose sockets died without a clean departure.
type Janitor struct {
	sweeper  Sweeper
	interval time.Duration
	maxAge   time.Duration
}

func New(sweeper Sweeper, interval, maxAge time.Duration) *Janitor {
	return &Janitor{
		sweeper:  sweeper,
		interval: interval,
		maxAge:   maxAge,
	}
}

// Run sweeps on every tick until the context is cancelled. It blocks, so
// callers start it on its own goroutine or in an errgroup.
func (j *Janitor) Run(ctx context.Context) error {
	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	logging.Info(ctx, "Room janitor started",
		zap.Duration("interval", j.interval),
		zap.Duration("maxAge", j.maxAge))

	for {
		select {
		case <-ctx.Done():
			logging.Info(context.Background(), "Room janitor stopped")
			return ctx.Err()
		case <-ticker.C:
			if evicted := j.sweeper.CleanupAbandonedRooms(j.maxAge); evicted > 0 {
				logging.Info(ctx, "Swept abandoned rooms", zap.Int("evicted", evicted))
			}
		}
	}
}
