package session

import (
	"context"
	"time"

	"github.com/go-co-op/gocron/v2"
	"go.uber.org/zap"

	"github.com/zeroremorse/scrimbot/internal/obslog"
)

// StartJanitor registers a periodic sweep that drops sessions idle longer
// than maxIdle. The caller owns the scheduler lifecycle.
func StartJanitor(sched gocron.Scheduler, store Store, maxIdle time.Duration) error {
	if maxIdle <= 0 {
		maxIdle = 30 * time.Minute
	}
	interval := maxIdle / 10
	if interval < time.Minute {
		interval = time.Minute
	}
	_, err := sched.NewJob(
		gocron.DurationJob(interval),
		gocron.NewTask(func() {
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			purged, err := store.PurgeIdle(ctx, maxIdle)
			if err != nil {
				obslog.L().Warn("session sweep failed", zap.Error(err))
				return
			}
			if purged > 0 {
				obslog.L().Info("purged idle sessions", zap.Int("count", purged))
			}
		}),
	)
	return err
}
