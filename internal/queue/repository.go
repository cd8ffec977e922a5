package queue

import (
	"context"
	"time"

	"github.com/bissquit/notification-queue/internal/domain"
)

// DueFilter selects pending items whose scheduled time has come.
type DueFilter struct {
	Cutoff  time.Time
	Channel *domain.Channel
	Limit   int
}

// Repository defines the interface for queue data access.
type Repository interface {
	// Insert stores a new item and fills in ID and CreatedAt.
	Insert(ctx context.Context, item *QueueItem) error
	// CountActiveForUser counts pending and processing items of a user.
	CountActiveForUser(ctx context.Context, userID string) (int, error)
	// FindDue returns pending items with scheduled_for <= cutoff, oldest first.
	FindDue(ctx context.Context, filter DueFilter) ([]*QueueItem, error)
	// FindStaleFailed returns failed items last attempted before cutoff, oldest attempt first.
	FindStaleFailed(ctx context.Context, cutoff time.Time, limit int) ([]*QueueItem, error)
	// FindByUser returns a user's items, latest scheduled first. A nil status means any.
	FindByUser(ctx context.Context, userID string, status *QueueStatus) ([]*QueueItem, error)
	// FindByID returns ErrItemNotFound for unknown ids.
	FindByID(ctx context.Context, id string) (*QueueItem, error)
	// SaveAll writes existing items atomically: either all are written or none.
	SaveAll(ctx context.Context, items []*QueueItem) error
	// GetQueueStats counts items by status.
	GetQueueStats(ctx context.Context) (*QueueStats, error)
}

// Claimer is implemented by stores that can select and lock due items in one
// step, so several dispatcher processes never pick the same item.
type Claimer interface {
	// ClaimDue moves matching pending items to processing and returns them.
	ClaimDue(ctx context.Context, filter DueFilter) ([]*QueueItem, error)
	// RecoverStuck returns processing items claimed before cutoff to pending.
	RecoverStuck(ctx context.Context, cutoff time.Time) (int64, error)
}
