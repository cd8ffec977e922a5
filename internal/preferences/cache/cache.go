// Package cache provides a Redis read-through cache for notification preferences.
package cache

import (
	"context"
	"log/slog"
	"time"

	"github.com/bissquit/notification-queue/internal/domain"
	"github.com/bissquit/notification-queue/internal/preferences"
)

const keyPrefix = "notification_preference:"

// Store is the subset of a JSON cache used by Repository.
type Store interface {
	Get(ctx context.Context, key string, dest any) (bool, error)
	Set(ctx context.Context, key string, value any, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
}

// Repository wraps a preferences.Repository with a cache.
// Cache errors are logged and never returned; the wrapped repository stays authoritative.
type Repository struct {
	next  preferences.Repository
	store Store
	ttl   time.Duration
}

// NewRepository creates a caching repository.
func NewRepository(next preferences.Repository, store Store, ttl time.Duration) *Repository {
	return &Repository{
		next:  next,
		store: store,
		ttl:   ttl,
	}
}

// FindByUserID returns the cached preference or loads and caches it.
func (r *Repository) FindByUserID(ctx context.Context, userID string) (*domain.NotificationPreference, error) {
	key := keyPrefix + userID

	var cached domain.NotificationPreference
	hit, err := r.store.Get(ctx, key, &cached)
	if err != nil {
		slog.Warn("preference cache read failed", "user_id", userID, "error", err)
	}
	if hit {
		recordCacheLookup("hit")
		return &cached, nil
	}
	recordCacheLookup("miss")

	pref, err := r.next.FindByUserID(ctx, userID)
	if err != nil {
		return nil, err
	}

	if err := r.store.Set(ctx, key, pref, r.ttl); err != nil {
		slog.Warn("preference cache write failed", "user_id", userID, "error", err)
	}
	return pref, nil
}

// Save writes through and invalidates the cached entry.
func (r *Repository) Save(ctx context.Context, pref *domain.NotificationPreference) error {
	if err := r.next.Save(ctx, pref); err != nil {
		return err
	}
	if err := r.store.Delete(ctx, keyPrefix+pref.UserID); err != nil {
		slog.Warn("preference cache invalidation failed", "user_id", pref.UserID, "error", err)
	}
	return nil
}
