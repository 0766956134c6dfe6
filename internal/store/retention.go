package store

import (
	"context"
	"log/slog"
	"time"
)

// RetentionInterval is how often the retention worker sweeps.
const RetentionInterval = 5 * time.Minute

// PruneCallback is called after each sweep with the cutoff that was applied.
type PruneCallback func(cutoff time.Time)

// RunRetention periodically deletes finished runs older than retention. It
// blocks until ctx is done and always returns nil.
func RunRetention(ctx context.Context, repo Repository, retention, interval time.Duration, onPrune PruneCallback) error {
	if interval <= 0 {
		interval = RetentionInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	slog.Info("Retention worker started", "interval", interval, "retention", retention)

	for {
		select {
		case <-ticker.C:
			pruneRuns(ctx, repo, retention, onPrune)
		case <-ctx.Done():
			slog.Info("Retention worker shutting down", "reason", ctx.Err())
			return nil
		}
	}
}

func pruneRuns(ctx context.Context, repo Repository, retention time.Duration, onPrune PruneCallback) {
	cutoff := time.Now().Add(-retention)
	deleted, err := repo.DeleteRunsBefore(ctx, cutoff)
	if err != nil {
		if ctx.Err() != nil {
			slog.Debug("Retention worker: context canceled during sweep", "error", err)
			return
		}
		slog.Error("Retention worker failed to delete old runs", "error", err)
		return
	}
	if deleted > 0 {
		slog.Info("Retention worker deleted old runs", "count", deleted, "cutoff", cutoff)
	}
	if onPrune != nil {
		onPrune(cutoff)
	}
}
