// Package inbox counts a user's notifications and applies the retention
// policy to in-app notification records.
package inbox

import (
	"context"
	"time"
)

// Repository defines the interface for in-app notification data access.
type Repository interface {
	CountUnread(ctx context.Context, userID string) (int, error)
	MarkAllRead(ctx context.Context, userID string, at time.Time) (int64, error)
	// ArchiveReadBefore archives notifications read before cutoff.
	ArchiveReadBefore(ctx context.Context, userID string, cutoff, at time.Time) (int64, error)
	// DeleteArchivedBefore removes notifications archived before cutoff.
	DeleteArchivedBefore(ctx context.Context, userID string, cutoff time.Time) (int64, error)
}
