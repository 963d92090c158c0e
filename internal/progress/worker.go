package progress

import (
	"context"
	"log/slog"
	"time"
)

const defaultSyncInterval = time.Minute

// Retrier replays parked completion changes.
type Retrier interface {
	RetryPending(ctx context.Context) int
}

// StartSyncWorker runs a background goroutine that periodically retries
// completion changes the service rejected or never received. It stops when
// ctx is cancelled; the returned channel closes once it has exited.
func StartSyncWorker(ctx context.Context, r Retrier, interval time.Duration, logger *slog.Logger) <-chan struct{} {
	if interval <= 0 {
		interval = defaultSyncInterval
	}
	if logger == nil {
		logger = slog.Default()
	}

	done := make(chan struct{})
	ticker := time.NewTicker(interval)
	go func() {
		defer close(done)
		defer ticker.Stop()
		logger.Info("Sync worker started", "interval", interval)

		for {
			select {
			case <-ticker.C:
				if remaining := r.RetryPending(ctx); remaining > 0 {
					logger.Info("Sync worker pass finished with parked changes", "remaining", remaining)
				}
			case <-ctx.Done():
				logger.Info("Sync worker shutting down", "reason", ctx.Err())
				return
			}
		}
	}()
	return done
}
