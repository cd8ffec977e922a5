package preferences

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/bissquit/notification-queue/internal/domain"
	"github.com/bissquit/notification-queue/internal/pkg/clock"
)

// Resolver provides preference lookup with safe defaults.
type Resolver struct {
	repo  Repository
	clock clock.Clock
}

// NewResolver creates a new preference resolver.
func NewResolver(repo Repository, clk clock.Clock) *Resolver {
	return &Resolver{
		repo:  repo,
		clock: clk,
	}
}

// Default returns the preference used for users without a stored row.
func Default(userID string) *domain.NotificationPreference {
	return &domain.NotificationPreference{
		UserID:           userID,
		EmailEnabled:     false,
		SMSEnabled:       false,
		Frequency:        domain.FrequencyInstant,
		SubscribedEvents: []domain.NotificationType{},
	}
}

// Resolve returns the stored preference or a transient default. Nothing is persisted.
func (r *Resolver) Resolve(ctx context.Context, userID string) (*domain.NotificationPreference, error) {
	pref, err := r.repo.FindByUserID(ctx, userID)
	if errors.Is(err, ErrPreferenceNotFound) {
		return Default(userID), nil
	}
	if err != nil {
		return nil, fmt.Errorf("find preference: %w", err)
	}
	return pref, nil
}

// GetOrCreate returns the stored preference, persisting a default row first if none exists.
func (r *Resolver) GetOrCreate(ctx context.Context, userID string) (*domain.NotificationPreference, error) {
	pref, err := r.repo.FindByUserID(ctx, userID)
	if err == nil {
		return pref, nil
	}
	if !errors.Is(err, ErrPreferenceNotFound) {
		return nil, fmt.Errorf("find preference: %w", err)
	}

	pref = Default(userID)
	now := r.clock.Now()
	pref.CreatedAt = now
	pref.UpdatedAt = now

	if err := r.repo.Save(ctx, pref); err != nil {
		return nil, fmt.Errorf("create default preference: %w", err)
	}

	slog.Debug("default notification preference created", "user_id", userID)
	return pref, nil
}

// Update merges the present fields of upd into the user's preference.
// The update is validated before anything is read or written.
func (r *Resolver) Update(ctx context.Context, userID string, upd Update) (*domain.NotificationPreference, error) {
	changes, err := upd.parse()
	if err != nil {
		return nil, err
	}

	pref, err := r.repo.FindByUserID(ctx, userID)
	switch {
	case errors.Is(err, ErrPreferenceNotFound):
		pref = Default(userID)
		pref.CreatedAt = r.clock.Now()
	case err != nil:
		return nil, fmt.Errorf("find preference: %w", err)
	}

	changes.apply(pref)
	pref.UpdatedAt = r.clock.Now()

	if err := r.repo.Save(ctx, pref); err != nil {
		return nil, fmt.Errorf("save preference: %w", err)
	}

	return pref, nil
}

// ShouldNotify reports whether a notification of type t may be generated for the
// owner of pref. Non-subscribable types always notify.
func ShouldNotify(pref *domain.NotificationPreference, t domain.NotificationType) bool {
	if !t.Info().Subscribable {
		return true
	}
	if pref == nil || len(pref.SubscribedEvents) == 0 {
		return true
	}
	return pref.IsSubscribedTo(t)
}
