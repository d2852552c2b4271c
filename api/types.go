package api

import (
	"context"

	"roadmap-api/domain"
)

// Storage abstracts persistence for handlers.
type Storage interface {
	FetchRoadmap(ctx context.Context, userID, enrollmentID string) (domain.Roadmap, error)
	FetchEnrollments(ctx context.Context, userID string) ([]domain.Enrollment, error)
	EnqueueCommands(ctx context.Context, userID string, cmds []domain.Command) error
}

// Authenticator is implemented by types able to extract user IDs from headers.
type Authenticator interface {
	UserIDFromAuthHeader(string) (string, error)
}

// Deduper prevents processing of duplicate commands.
type Deduper interface {
	// AddCommands records each command's idempotency key, namespaced by its
	// entity type, and marks which commands are new. Partial results come
	// back on error so the caller can roll back what was recorded.
	AddCommands(ctx context.Context, userID string, cmds []domain.Command) ([]bool, error)
	// RemoveCommand releases a recorded key, used when downstream processing fails.
	RemoveCommand(ctx context.Context, userID string, cmd domain.Command) error
}
