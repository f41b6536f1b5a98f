package session

import (
	"context"
	"log/slog"
	"time"

	"github.com/ashureev/roa-designer/internal/store"
)

const sweepInterval = 5 * time.Minute

// StartSweeper runs a background goroutine that periodically deletes stored
// sessions idle for longer than ttl. It stops when ctx is done.
func StartSweeper(ctx context.Context, repo store.Repository, ttl time.Duration) {
	startSweeper(ctx, repo, ttl, sweepInterval)
}

func startSweeper(ctx context.Context, repo store.Repository, ttl, interval time.Duration) {
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		slog.Info("Session sweeper started", "interval", interval, "ttl", ttl)

		for {
			select {
			case <-ticker.C:
				sweep(ctx, repo, ttl)
			case <-ctx.Done():
				slog.Info("Session sweeper shutting down", "reason", ctx.Err())
				return
			}
		}
	}()
}

func sweep(ctx context.Context, repo store.Repository, ttl time.Duration) {
	deleted, err := repo.CleanupExpiredSessions(ctx, ttl)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		slog.Error("Session sweeper failed to delete expired sessions", "error", err)
		return
	}
	if deleted > 0 {
		slog.Info("Session sweeper deleted expired sessions", "count", deleted)
	}
}
