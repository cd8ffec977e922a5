// Package postgres provides PostgreSQL implementation of preferences repository.
package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/bissquit/notification-queue/internal/domain"
	"github.com/bissquit/notification-queue/internal/preferences"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Repository implements preferences.Repository using PostgreSQL.
type Repository struct {
	db *pgxpool.Pool
}

// NewRepository creates a new PostgreSQL repository.
func NewRepository(db *pgxpool.Pool) *Repository {
	return &Repository{db: db}
}

// FindByUserID retrieves the preference row of a user.
func (r *Repository) FindByUserID(ctx context.Context, userID string) (*domain.NotificationPreference, error) {
	query := `
		SELECT user_id, email_enabled, sms_enabled, frequency,
		       quiet_hours_start, quiet_hours_end, subscribed_events,
		       created_at, updated_at
		FROM notification_preferences
		WHERE user_id = $1
	`
	var (
		pref       domain.NotificationPreference
		quietStart *string
		quietEnd   *string
		events     []string
	)
	err := r.db.QueryRow(ctx, query, userID).Scan(
		&pref.UserID,
		&pref.EmailEnabled,
		&pref.SMSEnabled,
		&pref.Frequency,
		&quietStart,
		&quietEnd,
		&events,
		&pref.CreatedAt,
		&pref.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, preferences.ErrPreferenceNotFound
		}
		return nil, fmt.Errorf("get preference: %w", err)
	}

	if pref.QuietHoursStart, err = scanTimeOfDay(quietStart); err != nil {
		return nil, fmt.Errorf("scan quiet_hours_start: %w", err)
	}
	if pref.QuietHoursEnd, err = scanTimeOfDay(quietEnd); err != nil {
		return nil, fmt.Errorf("scan quiet_hours_end: %w", err)
	}

	pref.SubscribedEvents = make([]domain.NotificationType, 0, len(events))
	for _, e := range events {
		pref.SubscribedEvents = append(pref.SubscribedEvents, domain.NotificationType(e))
	}

	return &pref, nil
}

// Save upserts the preference row.
func (r *Repository) Save(ctx context.Context, pref *domain.NotificationPreference) error {
	query := `
		INSERT INTO notification_preferences (
			user_id, email_enabled, sms_enabled, frequency,
			quiet_hours_start, quiet_hours_end, subscribed_events,
			created_at, updated_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, COALESCE($8, NOW()), COALESCE($9, NOW()))
		ON CONFLICT (user_id) DO UPDATE SET
			email_enabled = EXCLUDED.email_enabled,
			sms_enabled = EXCLUDED.sms_enabled,
			frequency = EXCLUDED.frequency,
			quiet_hours_start = EXCLUDED.quiet_hours_start,
			quiet_hours_end = EXCLUDED.quiet_hours_end,
			subscribed_events = EXCLUDED.subscribed_events,
			updated_at = EXCLUDED.updated_at
		RETURNING created_at, updated_at
	`
	events := make([]string, 0, len(pref.SubscribedEvents))
	for _, e := range pref.SubscribedEvents {
		events = append(events, string(e))
	}

	return r.db.QueryRow(ctx, query,
		pref.UserID,
		pref.EmailEnabled,
		pref.SMSEnabled,
		pref.Frequency,
		formatTimeOfDay(pref.QuietHoursStart),
		formatTimeOfDay(pref.QuietHoursEnd),
		events,
		nullTime(pref.CreatedAt),
		nullTime(pref.UpdatedAt),
	).Scan(&pref.CreatedAt, &pref.UpdatedAt)
}
