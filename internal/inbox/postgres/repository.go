// Package postgres provides PostgreSQL implementation of the inbox repository.
package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/bissquit/notification-queue/internal/domain"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Repository implements inbox.Repository using PostgreSQL.
type Repository struct {
	db *pgxpool.Pool
}

// NewRepository creates a new PostgreSQL repository.
func NewRepository(db *pgxpool.Pool) *Repository {
	return &Repository{db: db}
}

// Create stores an in-app notification.
func (r *Repository) Create(ctx context.Context, n *domain.Notification) error {
	query := `
		INSERT INTO notifications (user_id, type, title, message, action_url, is_read, read_at, is_archived, archived_at)
		VALUES ($1, $2, $3, $4, NULLIF($5, ''), $6, $7, $8, $9)
		RETURNING id, created_at
	`
	err := r.db.QueryRow(ctx, query,
		n.UserID,
		n.Type,
		n.Title,
		n.Message,
		n.ActionURL,
		n.IsRead,
		n.ReadAt,
		n.IsArchived,
		n.ArchivedAt,
	).Scan(&n.ID, &n.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert notification: %w", err)
	}
	return nil
}

// CountUnread counts unread, non-archived notifications of a user.
func (r *Repository) CountUnread(ctx context.Context, userID string) (int, error) {
	query := `
		SELECT COUNT(*) FROM notifications
		WHERE user_id = $1 AND NOT is_read AND NOT is_archived
	`
	var count int
	if err := r.db.QueryRow(ctx, query, userID).Scan(&count); err != nil {
		return 0, fmt.Errorf("count unread notifications: %w", err)
	}
	return count, nil
}

// MarkAllRead marks every unread notification of a user read.
func (r *Repository) MarkAllRead(ctx context.Context, userID string, at time.Time) (int64, error) {
	query := `
		UPDATE notifications SET is_read = TRUE, read_at = $2
		WHERE user_id = $1 AND NOT is_read
	`
	result, err := r.db.Exec(ctx, query, userID, at)
	if err != nil {
		return 0, fmt.Errorf("mark notifications read: %w", err)
	}
	return result.RowsAffected(), nil
}

// ArchiveReadBefore archives notifications read before cutoff.
func (r *Repository) ArchiveReadBefore(ctx context.Context, userID string, cutoff, at time.Time) (int64, error) {
	query := `
		UPDATE notifications SET is_archived = TRUE, archived_at = $3
		WHERE user_id = $1 AND is_read AND NOT is_archived AND read_at < $2
	`
	result, err := r.db.Exec(ctx, query, userID, cutoff, at)
	if err != nil {
		return 0, fmt.Errorf("archive read notifications: %w", err)
	}
	return result.RowsAffected(), nil
}

// DeleteArchivedBefore deletes notifications archived before cutoff.
func (r *Repository) DeleteArchivedBefore(ctx context.Context, userID string, cutoff time.Time) (int64, error) {
	query := `
		DELETE FROM notifications
		WHERE user_id = $1 AND is_archived AND archived_at < $2
	`
	result, err := r.db.Exec(ctx, query, userID, cutoff)
	if err != nil {
		return 0, fmt.Errorf("delete archived notifications: %w", err)
	}
	return result.RowsAffected(), nil
}
