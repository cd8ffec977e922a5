// Package preferences resolves and updates per-user notification delivery preferences.
package preferences

import (
	"context"

	"github.com/bissquit/notification-queue/internal/domain"
)

// Repository defines the interface for preference data access.
type Repository interface {
	// FindByUserID returns ErrPreferenceNotFound when the user has no stored row.
	FindByUserID(ctx context.Context, userID string) (*domain.NotificationPreference, error)
	// Save inserts or replaces the row for pref.UserID.
	Save(ctx context.Context, pref *domain.NotificationPreference) error
}
