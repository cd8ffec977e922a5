package queue

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/bissquit/notification-queue/internal/domain"
	"github.com/bissquit/notification-queue/internal/pkg/clock"
	"github.com/bissquit/notification-queue/internal/preferences"
	"github.com/bissquit/notification-queue/internal/schedule"
	"github.com/go-playground/validator/v10"
)

// UserDirectory resolves recipients.
type UserDirectory interface {
	FindByID(ctx context.Context, id string) (*domain.User, error)
}

// PreferenceResolver returns the effective preference of a user.
type PreferenceResolver interface {
	Resolve(ctx context.Context, userID string) (*domain.NotificationPreference, error)
}

// EnqueueRequest is a fully addressed notification.
type EnqueueRequest struct {
	UserID       string                  `validate:"required"`
	Type         domain.NotificationType `validate:"required"`
	Title        string                  `validate:"required,max=255"`
	Message      string                  `validate:"max=4000"`
	Payload      map[string]any
	ActionURL    string          `validate:"omitempty,max=2048"`
	Priority     domain.Priority `validate:"omitempty,oneof=critical high medium low"`
	Channel      domain.Channel  `validate:"required,oneof=email sms in_app"`
	ScheduledFor *time.Time
}

// NotifyRequest is a notification whose channel and delivery time follow the
// recipient's preferences.
type NotifyRequest struct {
	UserID    string
	Type      domain.NotificationType
	Title     string
	Message   string
	Payload   map[string]any
	ActionURL string
	Priority  domain.Priority
}

// Service accepts notifications into the queue.
type Service struct {
	config    Config
	repo      Repository
	users     UserDirectory
	prefs     PreferenceResolver
	scheduler *schedule.Calculator
	clock     clock.Clock
	validator *validator.Validate
}

// NewService creates a new queue service.
func NewService(
	config Config,
	repo Repository,
	users UserDirectory,
	prefs PreferenceResolver,
	scheduler *schedule.Calculator,
	clk clock.Clock,
) *Service {
	return &Service{
		config:    config,
		repo:      repo,
		users:     users,
		prefs:     prefs,
		scheduler: scheduler,
		clock:     clk,
		validator: validator.New(),
	}
}

// Enqueue validates the request, checks the recipient's quota and stores a pending item.
func (s *Service) Enqueue(ctx context.Context, req EnqueueRequest) (*ItemView, error) {
	if !s.config.Enabled {
		recordEnqueueRejected("disabled")
		return nil, ErrQueueDisabled
	}

	if err := s.validator.Struct(req); err != nil {
		recordEnqueueRejected("invalid")
		return nil, fmt.Errorf("%w: %s", ErrInvalidRequest, err.Error())
	}
	if !req.Type.IsValid() {
		recordEnqueueRejected("invalid")
		return nil, fmt.Errorf("%w: unknown notification type %q", ErrInvalidRequest, req.Type)
	}

	if _, err := s.users.FindByID(ctx, req.UserID); err != nil {
		return nil, fmt.Errorf("find user: %w", err)
	}

	// A non-positive MaxPerUser disables the quota.
	if s.config.MaxPerUser > 0 {
		active, err := s.repo.CountActiveForUser(ctx, req.UserID)
		if err != nil {
			return nil, fmt.Errorf("count active items: %w", err)
		}
		if active >= s.config.MaxPerUser {
			recordEnqueueRejected("limit")
			return nil, &LimitExceededError{Limit: s.config.MaxPerUser}
		}
	}

	now := s.clock.Now()
	item := &QueueItem{
		UserID:       req.UserID,
		Type:         req.Type,
		Title:        req.Title,
		Message:      req.Message,
		Payload:      req.Payload,
		ActionURL:    req.ActionURL,
		Priority:     req.Priority,
		Channel:      req.Channel,
		Status:       QueueStatusPending,
		ScheduledFor: now,
		MaxAttempts:  s.config.maxAttempts(),
		UpdatedAt:    now,
	}
	if item.Priority == "" {
		item.Priority = domain.PriorityMedium
	}
	if req.ScheduledFor != nil {
		item.ScheduledFor = req.ScheduledFor.UTC()
	}

	if err := s.repo.Insert(ctx, item); err != nil {
		return nil, fmt.Errorf("insert queue item: %w", err)
	}

	recordEnqueued(string(item.Channel))
	slog.Debug("notification enqueued",
		"item_id", item.ID,
		"user_id", item.UserID,
		"type", item.Type,
		"channel", item.Channel,
		"scheduled_for", item.ScheduledFor,
	)

	view := item.View()
	return &view, nil
}

// EnqueueForUser picks channel and delivery time from the recipient's
// preferences. Unsubscribed types are dropped with ErrNotSubscribed.
func (s *Service) EnqueueForUser(ctx context.Context, req NotifyRequest) (*ItemView, error) {
	if !s.config.Enabled {
		recordEnqueueRejected("disabled")
		return nil, ErrQueueDisabled
	}

	pref, err := s.prefs.Resolve(ctx, req.UserID)
	if err != nil {
		return nil, fmt.Errorf("resolve preference: %w", err)
	}

	if !preferences.ShouldNotify(pref, req.Type) {
		recordEnqueueRejected("unsubscribed")
		return nil, ErrNotSubscribed
	}

	info := req.Type.Info()

	priority := req.Priority
	if priority == "" {
		priority = domain.PriorityMedium
		if info.Priority {
			priority = domain.PriorityHigh
		}
	}

	now := s.clock.Now()
	scheduledFor := now
	if info.Digestible {
		scheduledFor = s.scheduler.CalculateScheduledTime(pref.Frequency, now)
	}
	if priority != domain.PriorityCritical {
		scheduledFor = schedule.DeferForQuietHours(pref, scheduledFor)
	}

	return s.Enqueue(ctx, EnqueueRequest{
		UserID:       req.UserID,
		Type:         req.Type,
		Title:        req.Title,
		Message:      req.Message,
		Payload:      req.Payload,
		ActionURL:    req.ActionURL,
		Priority:     priority,
		Channel:      s.scheduler.DetermineChannel(pref),
		ScheduledFor: &scheduledFor,
	})
}

// ListForUser returns a user's items, latest scheduled first.
func (s *Service) ListForUser(ctx context.Context, userID string, status *QueueStatus) ([]ItemView, error) {
	if status != nil && !status.IsValid() {
		return nil, fmt.Errorf("%w: unknown status %q", ErrInvalidRequest, *status)
	}

	items, err := s.repo.FindByUser(ctx, userID, status)
	if err != nil {
		return nil, fmt.Errorf("find user items: %w", err)
	}
	return views(items), nil
}

// MarkFailed records a delivery failure reported by the external sender.
// Only sent items can fail: a processing item is still owned by the
// dispatcher, whose save would overwrite the report. The retry pass picks
// the item up once the retry interval has passed.
func (s *Service) MarkFailed(ctx context.Context, id, message string) (*ItemView, error) {
	item, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("find queue item: %w", err)
	}

	if item.Status != QueueStatusSent {
		return nil, fmt.Errorf("%w: %s item cannot fail", ErrInvalidTransition, item.Status)
	}

	now := s.clock.Now()
	item.Status = QueueStatusFailed
	item.ErrorMessage = message
	item.LastAttemptAt = &now
	item.ProcessedAt = nil
	item.UpdatedAt = now

	if err := s.repo.SaveAll(ctx, []*QueueItem{item}); err != nil {
		return nil, fmt.Errorf("save queue item: %w", err)
	}

	slog.Info("notification delivery failed",
		"item_id", item.ID,
		"attempts", item.Attempts,
		"max_attempts", item.MaxAttempts,
		"error", message,
	)

	view := item.View()
	return &view, nil
}

// Cancel withdraws a pending or failed item.
func (s *Service) Cancel(ctx context.Context, id string) (*ItemView, error) {
	item, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("find queue item: %w", err)
	}

	if item.Status != QueueStatusPending && item.Status != QueueStatusFailed {
		return nil, fmt.Errorf("%w: %s item cannot be cancelled", ErrInvalidTransition, item.Status)
	}

	item.Status = QueueStatusCancelled
	item.UpdatedAt = s.clock.Now()

	if err := s.repo.SaveAll(ctx, []*QueueItem{item}); err != nil {
		return nil, fmt.Errorf("save queue item: %w", err)
	}

	view := item.View()
	return &view, nil
}

// CountPending returns the number of active items of a user. It satisfies
// the counter used by the inbox.
func (s *Service) CountPending(ctx context.Context, userID string) (int, error) {
	if !s.config.Enabled {
		return 0, ErrQueueDisabled
	}
	count, err := s.repo.CountActiveForUser(ctx, userID)
	if err != nil {
		return 0, fmt.Errorf("count active items: %w", err)
	}
	return count, nil
}
