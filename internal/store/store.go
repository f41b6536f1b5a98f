// Package store provides data persistence interfaces and implementations.
package store

import (
	"context"
	"time"

	"github.com/ashureev/roa-designer/internal/domain"
)

// Repository defines the interface for persisting visitors and their design sessions.
type Repository interface {
	// GetUser retrieves a user by their user ID. It returns nil, nil when absent.
	GetUser(ctx context.Context, userID string) (*domain.User, error)

	// UpsertUser creates or updates a user record.
	UpsertUser(ctx context.Context, user *domain.User) error

	// UpdateLastSeen updates the last_seen_at timestamp for a user.
	UpdateLastSeen(ctx context.Context, userID string, lastSeen time.Time) error

	// GetSession retrieves a stored design session. It returns nil, nil when absent.
	GetSession(ctx context.Context, userID, sessionID string) (*domain.SessionRecord, error)

	// UpsertSession creates or updates a design session.
	UpsertSession(ctx context.Context, rec *domain.SessionRecord) error

	// DeleteSession removes a design session.
	DeleteSession(ctx context.Context, userID, sessionID string) error

	// CleanupExpiredSessions removes sessions not updated within ttl.
	CleanupExpiredSessions(ctx context.Context, ttl time.Duration) (int64, error)

	// Ping verifies database connectivity and returns an error if the database is unreachable.
	Ping(ctx context.Context) error

	// Close closes the database connection.
	Close() error
}
