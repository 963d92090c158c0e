package store

import (
	"context"
	"log/slog"
	"strings"
	"time"
)

const (
	busyMaxRetries = 3
	busyBaseDelay  = 50 * time.Millisecond
)

// isConflictError reports whether err is a SQLite concurrency error
// (SQLITE_BUSY or "database is locked") that is worth retrying.
func isConflictError(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "SQLITE_BUSY") || strings.Contains(msg, "database is locked")
}

// withBusyRetry runs op, retrying with exponential backoff (50ms, 100ms) while
// SQLite reports a lock conflict. Other errors are returned immediately.
func withBusyRetry(ctx context.Context, logger *slog.Logger, name string, op func() error) error {
	var err error
	for i := 0; i < busyMaxRetries; i++ {
		err = op()
		if err == nil || !isConflictError(err) {
			return err
		}
		if i == busyMaxRetries-1 {
			break
		}

		delay := busyBaseDelay * time.Duration(1<<i)
		logger.Debug("SQLite busy, retrying", "op", name, "attempt", i+1, "delay", delay)
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return err
}
