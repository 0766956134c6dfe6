// Package store provides run history persistence.
package store

import (
	"context"
	"time"

	"github.com/EmilLidir/spinbot-discord/internal/domain"
)

// Repository defines the interface for persisting runs and their rewards.
type Repository interface {
	// CreateRun records a run that has just started.
	CreateRun(ctx context.Context, run *domain.Run) error

	// FinishRun stores the final counters, status and rewards of a run.
	FinishRun(ctx context.Context, run *domain.Run) error

	// GetRun retrieves a run by ID. It returns nil, nil when no run matches.
	GetRun(ctx context.Context, id string) (*domain.Run, error)

	// ListRuns returns the most recent runs, newest first.
	ListRuns(ctx context.Context, limit int) ([]*domain.Run, error)

	// DeleteRunsBefore removes finished runs that ended before cutoff.
	DeleteRunsBefore(ctx context.Context, cutoff time.Time) (int64, error)

	// Ping verifies database connectivity and returns an error if the database is unreachable.
	Ping(ctx context.Context) error

	// Close closes the database connection.
	Close() error
}
