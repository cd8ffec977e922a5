package queue

import (
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/bissquit/notification-queue/internal/domain"
	"github.com/bissquit/notification-queue/internal/pkg/clock"
	"github.com/bissquit/notification-queue/internal/pkg/ctxlog"
	"golang.org/x/time/rate"
)

// Pass names used in logs and metrics.
const (
	passDispatch = "dispatch"
	passRetry    = "retry"
	passPublish  = "publish"
	passRequeue  = "requeue"
)

// Dispatcher runs the dispatch and retry passes over the queue.
type Dispatcher struct {
	config    Config
	repo      Repository
	clock     clock.Clock
	publisher Publisher
	limiter   *rate.Limiter
}

// NewDispatcher creates a new dispatcher. A nil publisher makes the dispatch
// pass pure bookkeeping.
func NewDispatcher(config Config, repo Repository, clk clock.Clock, publisher Publisher) *Dispatcher {
	limiter := rate.NewLimiter(rate.Inf, 1)
	if config.PublishRateLimit > 0 {
		burst := max(1, int(config.PublishRateLimit))
		limiter = rate.NewLimiter(rate.Limit(config.PublishRateLimit), burst)
	}

	return &Dispatcher{
		config:    config,
		repo:      repo,
		clock:     clk,
		publisher: publisher,
		limiter:   limiter,
	}
}

// ProcessDueNotifications marks up to BatchSize due items as sent and returns them.
func (d *Dispatcher) ProcessDueNotifications(ctx context.Context) ([]ItemView, error) {
	return d.processDue(ctx, nil)
}

// ProcessDueForChannel is ProcessDueNotifications restricted to one channel.
func (d *Dispatcher) ProcessDueForChannel(ctx context.Context, channel domain.Channel) ([]ItemView, error) {
	return d.processDue(ctx, &channel)
}

func (d *Dispatcher) processDue(ctx context.Context, channel *domain.Channel) ([]ItemView, error) {
	if !d.config.Enabled {
		return []ItemView{}, nil
	}

	logger := ctxlog.FromContext(ctx)
	now := d.clock.Now()

	items, err := d.fetchDue(ctx, DueFilter{Cutoff: now, Channel: channel, Limit: d.config.BatchSize})
	if err != nil {
		return nil, fmt.Errorf("fetch due items: %w", err)
	}
	if len(items) == 0 {
		return []ItemView{}, nil
	}

	slices.SortStableFunc(items, func(a, b *QueueItem) int {
		return a.ScheduledFor.Compare(b.ScheduledFor)
	})

	for _, item := range items {
		item.Attempts++
		item.Status = QueueStatusSent
		item.ProcessedAt = timePtr(now)
		item.LastAttemptAt = timePtr(now)
		item.UpdatedAt = now
	}

	saved := d.saveItems(ctx, items, passDispatch)

	result := views(saved)
	requeued := d.publish(ctx, saved)
	if len(requeued) > 0 {
		result = slices.DeleteFunc(result, func(v ItemView) bool {
			return requeued[v.ID]
		})
	}
	for _, v := range result {
		recordDispatched(string(v.Channel))
	}

	logger.Info("due notifications processed",
		"fetched", len(items),
		"saved", len(saved),
		"requeued", len(requeued),
	)

	return result, nil
}

// RetryFailedNotifications resets failed items with attempts left back to
// pending and returns how many were reset.
func (d *Dispatcher) RetryFailedNotifications(ctx context.Context) (int, error) {
	if !d.config.Enabled {
		return 0, nil
	}

	logger := ctxlog.FromContext(ctx)
	now := d.clock.Now()
	cutoff := now.Add(-d.config.RetryInterval)

	items, err := d.repo.FindStaleFailed(ctx, cutoff, d.config.BatchSize)
	if err != nil {
		return 0, fmt.Errorf("fetch failed items: %w", err)
	}
	if len(items) == 0 {
		return 0, nil
	}

	reset := make(map[*QueueItem]bool, len(items))
	for _, item := range items {
		limit := item.MaxAttempts
		if limit <= 0 {
			limit = d.config.maxAttempts()
		}
		if item.Attempts >= limit {
			continue
		}

		item.Status = QueueStatusPending
		item.ScheduledFor = now
		item.LastAttemptAt = nil
		item.ErrorMessage = ""
		item.UpdatedAt = now
		reset[item] = true
	}

	exhausted := len(items) - len(reset)
	recordExhausted(exhausted)

	count := 0
	for _, item := range d.saveItems(ctx, items, passRetry) {
		if reset[item] {
			count++
		}
	}
	recordRetried(count)

	logger.Info("failed notifications retried",
		"fetched", len(items),
		"reset", count,
		"exhausted", exhausted,
	)

	return count, nil
}

// RecoverStuckClaims releases items left processing by a dispatcher that
// died between claim and save. Stores without claims report zero.
func (d *Dispatcher) RecoverStuckClaims(ctx context.Context) (int64, error) {
	claimer, ok := d.repo.(Claimer)
	if !ok || !d.config.Enabled || d.config.StuckTimeout <= 0 {
		return 0, nil
	}

	recovered, err := claimer.RecoverStuck(ctx, d.clock.Now().Add(-d.config.StuckTimeout))
	if err != nil {
		return 0, fmt.Errorf("recover stuck items: %w", err)
	}
	if recovered > 0 {
		ctxlog.FromContext(ctx).Warn("released stuck queue items", "count", recovered)
	}
	return recovered, nil
}

func (d *Dispatcher) fetchDue(ctx context.Context, filter DueFilter) ([]*QueueItem, error) {
	if claimer, ok := d.repo.(Claimer); ok {
		return claimer.ClaimDue(ctx, filter)
	}
	return d.repo.FindDue(ctx, filter)
}

// saveItems writes the batch in one call and, if that fails, item by item.
// It returns the items that were written.
func (d *Dispatcher) saveItems(ctx context.Context, items []*QueueItem, pass string) []*QueueItem {
	logger := ctxlog.FromContext(ctx)

	err := d.repo.SaveAll(ctx, items)
	if err == nil {
		return items
	}

	logger.Warn("bulk save failed, saving items one by one",
		"pass", pass,
		"count", len(items),
		"error", err,
	)

	saved := make([]*QueueItem, 0, len(items))
	for _, item := range items {
		if err := d.repo.SaveAll(ctx, []*QueueItem{item}); err != nil {
			logger.Error("failed to save queue item",
				"pass", pass,
				"item_id", item.ID,
				"error", err,
			)
			recordSaveFailure(pass)
			continue
		}
		saved = append(saved, item)
	}
	return saved
}

// publish hands sent items to the delivery broker. Items the broker rejects
// are marked failed so the retry pass picks them up. If ctx ends mid-batch,
// the items not yet handed off go back to pending with their attempt
// returned; publish reports their ids.
func (d *Dispatcher) publish(ctx context.Context, items []*QueueItem) map[string]bool {
	if d.publisher == nil || len(items) == 0 {
		return nil
	}

	logger := ctxlog.FromContext(ctx)
	var failed, unsent []*QueueItem

	for i, item := range items {
		err := ctx.Err()
		if err == nil {
			// Wait fails only when ctx is done or its deadline comes first.
			err = d.limiter.Wait(ctx)
		}
		if err != nil {
			unsent = items[i:]
			break
		}

		err = d.publisher.Publish(ctx, item.View())
		if err == nil {
			continue
		}
		if ctx.Err() != nil {
			unsent = items[i:]
			break
		}

		logger.Warn("failed to publish notification",
			"item_id", item.ID,
			"channel", item.Channel,
			"error", err,
		)
		recordPublishFailure(string(item.Channel))

		now := d.clock.Now()
		item.Status = QueueStatusFailed
		item.ErrorMessage = "publish: " + err.Error()
		item.ProcessedAt = nil
		item.LastAttemptAt = timePtr(now)
		item.UpdatedAt = now
		if !isRetryable(err) {
			item.Attempts = max(item.Attempts, item.MaxAttempts)
		}
		failed = append(failed, item)
	}

	// ctx may be done here; the outcome must still be recorded.
	saveCtx := context.WithoutCancel(ctx)
	if len(failed) > 0 {
		d.saveItems(saveCtx, failed, passPublish)
	}
	if len(unsent) == 0 {
		return nil
	}

	logger.Warn("dispatch interrupted, returning unpublished items to pending",
		"count", len(unsent),
		"error", context.Cause(ctx),
	)

	now := d.clock.Now()
	for _, item := range unsent {
		item.Status = QueueStatusPending
		item.Attempts = max(0, item.Attempts-1)
		item.ProcessedAt = nil
		item.LastAttemptAt = nil
		item.UpdatedAt = now
	}

	requeued := make(map[string]bool, len(unsent))
	for _, item := range d.saveItems(saveCtx, unsent, passRequeue) {
		requeued[item.ID] = true
	}
	return requeued
}

func timePtr(t time.Time) *time.Time {
	return &t
}
