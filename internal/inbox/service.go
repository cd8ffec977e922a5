package inbox

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/bissquit/notification-queue/internal/pkg/clock"
	"github.com/bissquit/notification-queue/internal/queue"
)

// Config contains retention configuration. Non-positive values disable the step.
type Config struct {
	ReadAfterDays   int
	DeleteAfterDays int
}

// DefaultConfig returns default retention configuration.
func DefaultConfig() Config {
	return Config{
		ReadAfterDays:   30,
		DeleteAfterDays: 90,
	}
}

// QueueCounter reports active queue items of a user.
type QueueCounter interface {
	CountPending(ctx context.Context, userID string) (int, error)
}

// Counts is a user's notification badge.
type Counts struct {
	InternalUnread  int `json:"internal_unread"`
	ExternalPending int `json:"external_pending"`
	Total           int `json:"total"`
}

// RetentionResult reports what the retention policy changed.
type RetentionResult struct {
	Archived int64
	Deleted  int64
}

// Service computes counts and applies retention.
type Service struct {
	config Config
	repo   Repository
	queue  QueueCounter
	clock  clock.Clock
}

// NewService creates a new inbox service.
func NewService(config Config, repo Repository, counter QueueCounter, clk clock.Clock) *Service {
	return &Service{
		config: config,
		repo:   repo,
		queue:  counter,
		clock:  clk,
	}
}

// GetCounts applies retention and returns the user's counts.
func (s *Service) GetCounts(ctx context.Context, userID string) (*Counts, error) {
	if _, err := s.ApplyRetention(ctx, userID); err != nil {
		slog.Warn("retention failed, counting anyway", "user_id", userID, "error", err)
	}

	unread, err := s.repo.CountUnread(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("count unread: %w", err)
	}

	pending := s.countPending(ctx, userID)

	return &Counts{
		InternalUnread:  unread,
		ExternalPending: pending,
		Total:           unread + pending,
	}, nil
}

// MarkAllRead marks every unread notification of the user read and returns fresh counts.
func (s *Service) MarkAllRead(ctx context.Context, userID string) (*Counts, error) {
	marked, err := s.repo.MarkAllRead(ctx, userID, s.clock.Now())
	if err != nil {
		return nil, fmt.Errorf("mark all read: %w", err)
	}

	slog.Debug("notifications marked read", "user_id", userID, "count", marked)
	return s.GetCounts(ctx, userID)
}

// ApplyRetention archives old read notifications and deletes old archived ones.
func (s *Service) ApplyRetention(ctx context.Context, userID string) (RetentionResult, error) {
	var result RetentionResult
	now := s.clock.Now()

	if s.config.ReadAfterDays > 0 {
		cutoff := now.Add(-daysDuration(s.config.ReadAfterDays))
		archived, err := s.repo.ArchiveReadBefore(ctx, userID, cutoff, now)
		if err != nil {
			return result, fmt.Errorf("archive read notifications: %w", err)
		}
		result.Archived = archived
	}

	if s.config.DeleteAfterDays > 0 {
		cutoff := now.Add(-daysDuration(s.config.DeleteAfterDays))
		deleted, err := s.repo.DeleteArchivedBefore(ctx, userID, cutoff)
		if err != nil {
			return result, fmt.Errorf("delete archived notifications: %w", err)
		}
		result.Deleted = deleted
	}

	if result.Archived > 0 || result.Deleted > 0 {
		slog.Info("retention applied",
			"user_id", userID,
			"archived", result.Archived,
			"deleted", result.Deleted,
		)
	}
	return result, nil
}

func (s *Service) countPending(ctx context.Context, userID string) int {
	if s.queue == nil {
		return 0
	}

	pending, err := s.queue.CountPending(ctx, userID)
	if err != nil {
		if !errors.Is(err, queue.ErrQueueDisabled) {
			slog.Warn("failed to count queued notifications", "user_id", userID, "error", err)
		}
		return 0
	}
	return pending
}

func daysDuration(days int) time.Duration {
	return time.Duration(days) * 24 * time.Hour
}
