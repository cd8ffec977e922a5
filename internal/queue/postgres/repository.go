// Package postgres provides PostgreSQL implementation of the queue repository.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bissquit/notification-queue/internal/queue"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

var columns = []string{
	"id", "user_id", "type", "title", "message", "payload",
	"COALESCE(action_url, '')", "priority", "channel", "status",
	"scheduled_for", "attempts", "max_attempts", "last_attempt_at",
	"COALESCE(error_message, '')", "created_at", "updated_at", "processed_at",
}

// selectColumns renders the item column list, qualified with alias when set.
func selectColumns(alias string) string {
	if alias == "" {
		return strings.Join(columns, ", ")
	}
	qualified := make([]string, len(columns))
	for i, c := range columns {
		if strings.HasPrefix(c, "COALESCE(") {
			qualified[i] = strings.Replace(c, "COALESCE(", "COALESCE("+alias+".", 1)
			continue
		}
		qualified[i] = alias + "." + c
	}
	return strings.Join(qualified, ", ")
}

// Repository implements queue.Repository and queue.Claimer using PostgreSQL.
type Repository struct {
	db *pgxpool.Pool
}

// NewRepository creates a new PostgreSQL repository.
func NewRepository(db *pgxpool.Pool) *Repository {
	return &Repository{db: db}
}

// Insert creates a new queue item.
func (r *Repository) Insert(ctx context.Context, item *queue.QueueItem) error {
	query := `
		INSERT INTO notification_queue (
			user_id, type, title, message, payload, action_url, priority, channel,
			status, scheduled_for, attempts, max_attempts, last_attempt_at, error_message,
			updated_at, processed_at
		)
		VALUES ($1, $2, $3, $4, $5, NULLIF($6, ''), $7, $8, $9, $10, $11, $12, $13, NULLIF($14, ''), $15, $16)
		RETURNING id, created_at
	`
	err := r.db.QueryRow(ctx, query,
		item.UserID,
		item.Type,
		item.Title,
		item.Message,
		item.Payload,
		item.ActionURL,
		item.Priority,
		item.Channel,
		item.Status,
		item.ScheduledFor,
		item.Attempts,
		item.MaxAttempts,
		item.LastAttemptAt,
		item.ErrorMessage,
		item.UpdatedAt,
		item.ProcessedAt,
	).Scan(&item.ID, &item.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert queue item: %w", err)
	}
	return nil
}

// CountActiveForUser counts pending and processing items of a user.
func (r *Repository) CountActiveForUser(ctx context.Context, userID string) (int, error) {
	query := `
		SELECT COUNT(*) FROM notification_queue
		WHERE user_id = $1 AND status IN ('pending', 'processing')
	`
	var count int
	if err := r.db.QueryRow(ctx, query, userID).Scan(&count); err != nil {
		return 0, fmt.Errorf("count active items: %w", err)
	}
	return count, nil
}

// FindDue returns pending items due by the cutoff, oldest first.
func (r *Repository) FindDue(ctx context.Context, filter queue.DueFilter) ([]*queue.QueueItem, error) {
	query := `
		SELECT ` + selectColumns("") + `
		FROM notification_queue
		WHERE status = 'pending'
		  AND scheduled_for <= $1
		  AND ($2::text IS NULL OR channel = $2)
		ORDER BY scheduled_for ASC
		LIMIT $3
	`
	return r.queryItems(ctx, query, filter.Cutoff, channelParam(filter), filter.Limit)
}

// ClaimDue moves due items to processing and returns them. Rows locked by
// another dispatcher are skipped.
func (r *Repository) ClaimDue(ctx context.Context, filter queue.DueFilter) ([]*queue.QueueItem, error) {
	query := `
		UPDATE notification_queue q
		SET status = 'processing', updated_at = $1
		FROM (
			SELECT id FROM notification_queue
			WHERE status = 'pending'
			  AND scheduled_for <= $1
			  AND ($2::text IS NULL OR channel = $2)
			ORDER BY scheduled_for ASC
			LIMIT $3
			FOR UPDATE SKIP LOCKED
		) due
		WHERE q.id = due.id
		RETURNING ` + selectColumns("q")
	return r.queryItems(ctx, query, filter.Cutoff, channelParam(filter), filter.Limit)
}

// RecoverStuck returns items claimed before cutoff to pending.
func (r *Repository) RecoverStuck(ctx context.Context, cutoff time.Time) (int64, error) {
	query := `
		UPDATE notification_queue
		SET status = 'pending', updated_at = NOW()
		WHERE status = 'processing' AND updated_at < $1
	`
	result, err := r.db.Exec(ctx, query, cutoff)
	if err != nil {
		return 0, fmt.Errorf("recover stuck items: %w", err)
	}
	return result.RowsAffected(), nil
}

// FindStaleFailed returns failed items last attempted before cutoff.
func (r *Repository) FindStaleFailed(ctx context.Context, cutoff time.Time, limit int) ([]*queue.QueueItem, error) {
	query := `
		SELECT ` + selectColumns("") + `
		FROM notification_queue
		WHERE status = 'failed' AND last_attempt_at < $1
		ORDER BY last_attempt_at ASC
		LIMIT $2
	`
	return r.queryItems(ctx, query, cutoff, limit)
}

// FindByUser returns a user's items, latest scheduled first.
func (r *Repository) FindByUser(ctx context.Context, userID string, status *queue.QueueStatus) ([]*queue.QueueItem, error) {
	query := `
		SELECT ` + selectColumns("") + `
		FROM notification_queue
		WHERE user_id = $1 AND ($2::text IS NULL OR status = $2)
		ORDER BY scheduled_for DESC
	`
	var statusParam *string
	if status != nil {
		s := string(*status)
		statusParam = &s
	}
	return r.queryItems(ctx, query, userID, statusParam)
}

// FindByID returns a queue item by ID.
func (r *Repository) FindByID(ctx context.Context, id string) (*queue.QueueItem, error) {
	query := `SELECT ` + selectColumns("") + ` FROM notification_queue WHERE id = $1`

	item, err := scanItem(r.db.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) || isInvalidText(err) {
			return nil, queue.ErrItemNotFound
		}
		return nil, fmt.Errorf("get queue item: %w", err)
	}
	return item, nil
}

// SaveAll writes every item in a single transaction.
func (r *Repository) SaveAll(ctx context.Context, items []*queue.QueueItem) error {
	if len(items) == 0 {
		return nil
	}

	tx, err := r.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	query := `
		UPDATE notification_queue SET
			title = $2,
			message = $3,
			payload = $4,
			action_url = NULLIF($5, ''),
			priority = $6,
			channel = $7,
			status = $8,
			scheduled_for = $9,
			attempts = $10,
			max_attempts = $11,
			last_attempt_at = $12,
			error_message = NULLIF($13, ''),
			updated_at = NOW(),
			processed_at = $14
		WHERE id = $1
		RETURNING updated_at
	`

	batch := &pgx.Batch{}
	for _, item := range items {
		batch.Queue(query,
			item.ID,
			item.Title,
			item.Message,
			item.Payload,
			item.ActionURL,
			item.Priority,
			item.Channel,
			item.Status,
			item.ScheduledFor,
			item.Attempts,
			item.MaxAttempts,
			item.LastAttemptAt,
			item.ErrorMessage,
			item.ProcessedAt,
		)
	}

	results := tx.SendBatch(ctx, batch)
	for _, item := range items {
		if err := results.QueryRow().Scan(&item.UpdatedAt); err != nil {
			_ = results.Close()
			if errors.Is(err, pgx.ErrNoRows) {
				return fmt.Errorf("save item %s: %w", item.ID, queue.ErrItemNotFound)
			}
			return fmt.Errorf("save item %s: %w", item.ID, err)
		}
	}
	if err := results.Close(); err != nil {
		return fmt.Errorf("close batch: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}

	return nil
}

// GetQueueStats returns item counts by status.
func (r *Repository) GetQueueStats(ctx context.Context) (*queue.QueueStats, error) {
	query := `
		SELECT
			COUNT(*) FILTER (WHERE status = 'pending'),
			COUNT(*) FILTER (WHERE status = 'processing'),
			COUNT(*) FILTER (WHERE status = 'sent'),
			COUNT(*) FILTER (WHERE status = 'failed'),
			COUNT(*) FILTER (WHERE status = 'cancelled')
		FROM notification_queue
	`
	var stats queue.QueueStats
	err := r.db.QueryRow(ctx, query).Scan(
		&stats.Pending,
		&stats.Processing,
		&stats.Sent,
		&stats.Failed,
		&stats.Cancelled,
	)
	if err != nil {
		return nil, fmt.Errorf("get queue stats: %w", err)
	}
	return &stats, nil
}

func (r *Repository) queryItems(ctx context.Context, query string, args ...any) ([]*queue.QueueItem, error) {
	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query queue items: %w", err)
	}
	defer rows.Close()

	items := make([]*queue.QueueItem, 0)
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, fmt.Errorf("scan queue item: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate queue items: %w", err)
	}
	return items, nil
}

func scanItem(row pgx.Row) (*queue.QueueItem, error) {
	var item queue.QueueItem
	err := row.Scan(
		&item.ID,
		&item.UserID,
		&item.Type,
		&item.Title,
		&item.Message,
		&item.Payload,
		&item.ActionURL,
		&item.Priority,
		&item.Channel,
		&item.Status,
		&item.ScheduledFor,
		&item.Attempts,
		&item.MaxAttempts,
		&item.LastAttemptAt,
		&item.ErrorMessage,
		&item.CreatedAt,
		&item.UpdatedAt,
		&item.ProcessedAt,
	)
	if err != nil {
		return nil, err
	}

	item.ScheduledFor = item.ScheduledFor.UTC()
	item.CreatedAt = item.CreatedAt.UTC()
	item.UpdatedAt = item.UpdatedAt.UTC()
	item.LastAttemptAt = utcPtr(item.LastAttemptAt)
	item.ProcessedAt = utcPtr(item.ProcessedAt)
	return &item, nil
}

func channelParam(filter queue.DueFilter) *string {
	if filter.Channel == nil {
		return nil
	}
	s := string(*filter.Channel)
	return &s
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := t.UTC()
	return &v
}

// isInvalidText reports a malformed UUID literal.
func isInvalidText(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "22P02"
}
