// Package queue provides the notification delivery queue: enqueueing with
// per-user quotas and the periodic dispatch and retry cycle.
package queue

import (
	"maps"
	"time"

	"github.com/bissquit/notification-queue/internal/domain"
)

// QueueStatus represents the status of a queue item.
type QueueStatus string

// Queue statuses.
const (
	QueueStatusPending    QueueStatus = "pending"
	QueueStatusProcessing QueueStatus = "processing"
	QueueStatusSent       QueueStatus = "sent"
	QueueStatusFailed     QueueStatus = "failed"
	QueueStatusCancelled  QueueStatus = "cancelled"
)

// IsValid checks if the status is valid.
func (s QueueStatus) IsValid() bool {
	switch s {
	case QueueStatusPending, QueueStatusProcessing, QueueStatusSent, QueueStatusFailed, QueueStatusCancelled:
		return true
	}
	return false
}

// IsActive reports whether an item in this status counts against the per-user quota.
func (s QueueStatus) IsActive() bool {
	return s == QueueStatusPending || s == QueueStatusProcessing
}

// QueueItem represents a notification in the queue.
type QueueItem struct {
	ID            string
	UserID        string
	Type          domain.NotificationType
	Title         string
	Message       string
	Payload       map[string]any
	ActionURL     string
	Priority      domain.Priority
	Channel       domain.Channel
	Status        QueueStatus
	ScheduledFor  time.Time
	Attempts      int
	MaxAttempts   int
	LastAttemptAt *time.Time
	ErrorMessage  string
	CreatedAt     time.Time
	UpdatedAt     time.Time
	ProcessedAt   *time.Time
}

// ItemView is a read-only snapshot of a queue item handed to callers and publishers.
type ItemView struct {
	ID            string                  `json:"id"`
	UserID        string                  `json:"user_id"`
	Type          domain.NotificationType `json:"type"`
	Title         string                  `json:"title"`
	Message       string                  `json:"message"`
	Payload       map[string]any          `json:"payload,omitempty"`
	ActionURL     string                  `json:"action_url,omitempty"`
	Priority      domain.Priority         `json:"priority"`
	Channel       domain.Channel          `json:"channel"`
	Status        QueueStatus             `json:"status"`
	ScheduledFor  time.Time               `json:"scheduled_for"`
	Attempts      int                     `json:"attempts"`
	MaxAttempts   int                     `json:"max_attempts"`
	LastAttemptAt *time.Time              `json:"last_attempt_at,omitempty"`
	ErrorMessage  string                  `json:"error_message,omitempty"`
	CreatedAt     time.Time               `json:"created_at"`
	ProcessedAt   *time.Time              `json:"processed_at,omitempty"`
}

// View returns a snapshot that shares no mutable state with the item.
func (i *QueueItem) View() ItemView {
	return ItemView{
		ID:            i.ID,
		UserID:        i.UserID,
		Type:          i.Type,
		Title:         i.Title,
		Message:       i.Message,
		Payload:       maps.Clone(i.Payload),
		ActionURL:     i.ActionURL,
		Priority:      i.Priority,
		Channel:       i.Channel,
		Status:        i.Status,
		ScheduledFor:  i.ScheduledFor,
		Attempts:      i.Attempts,
		MaxAttempts:   i.MaxAttempts,
		LastAttemptAt: copyTime(i.LastAttemptAt),
		ErrorMessage:  i.ErrorMessage,
		CreatedAt:     i.CreatedAt,
		ProcessedAt:   copyTime(i.ProcessedAt),
	}
}

func views(items []*QueueItem) []ItemView {
	result := make([]ItemView, 0, len(items))
	for _, item := range items {
		result = append(result, item.View())
	}
	return result
}

func copyTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

// QueueStats contains item counts by status.
type QueueStats struct {
	Pending    int64 `json:"pending"`
	Processing int64 `json:"processing"`
	Sent       int64 `json:"sent"`
	Failed     int64 `json:"failed"`
	Cancelled  int64 `json:"cancelled"`
}
