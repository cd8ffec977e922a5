package queue

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/bissquit/notification-queue/internal/domain"
	"github.com/bissquit/notification-queue/internal/users"
)

// mockRepository implements Repository in memory.
type mockRepository struct {
	mu     sync.Mutex
	items  map[string]*QueueItem
	nextID int

	saveAllCalls int
	// bulkSaveErr fails SaveAll calls with more than one item.
	bulkSaveErr error
	// failSave fails SaveAll for any batch containing these ids.
	failSave map[string]bool
	findErr  error
}

func newMockRepository() *mockRepository {
	return &mockRepository{
		items:    make(map[string]*QueueItem),
		failSave: make(map[string]bool),
	}
}

func cloneItem(item *QueueItem) *QueueItem {
	cp := *item
	cp.Payload = maps.Clone(item.Payload)
	cp.LastAttemptAt = copyTime(item.LastAttemptAt)
	cp.ProcessedAt = copyTime(item.ProcessedAt)
	return &cp
}

// add stores an item as is and returns its id.
func (m *mockRepository) add(item *QueueItem) string {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.nextID++
	if item.ID == "" {
		item.ID = fmt.Sprintf("item-%03d", m.nextID)
	}
	m.items[item.ID] = cloneItem(item)
	return item.ID
}

func (m *mockRepository) get(id string) *QueueItem {
	m.mu.Lock()
	defer m.mu.Unlock()
	return cloneItem(m.items[id])
}

func (m *mockRepository) Insert(_ context.Context, item *QueueItem) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.nextID++
	item.ID = fmt.Sprintf("item-%03d", m.nextID)
	item.CreatedAt = item.UpdatedAt
	m.items[item.ID] = cloneItem(item)
	return nil
}

func (m *mockRepository) CountActiveForUser(_ context.Context, userID string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	count := 0
	for _, item := range m.items {
		if item.UserID == userID && item.Status.IsActive() {
			count++
		}
	}
	return count, nil
}

func (m *mockRepository) FindDue(_ context.Context, filter DueFilter) ([]*QueueItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.findErr != nil {
		return nil, m.findErr
	}

	var result []*QueueItem
	for _, item := range m.items {
		if item.Status != QueueStatusPending || item.ScheduledFor.After(filter.Cutoff) {
			continue
		}
		if filter.Channel != nil && item.Channel != *filter.Channel {
			continue
		}
		result = append(result, cloneItem(item))
	}
	slices.SortFunc(result, func(a, b *QueueItem) int {
		return a.ScheduledFor.Compare(b.ScheduledFor)
	})
	if filter.Limit > 0 && len(result) > filter.Limit {
		result = result[:filter.Limit]
	}
	return result, nil
}

func (m *mockRepository) FindStaleFailed(_ context.Context, cutoff time.Time, limit int) ([]*QueueItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var result []*QueueItem
	for _, item := range m.items {
		if item.Status != QueueStatusFailed || item.LastAttemptAt == nil || !item.LastAttemptAt.Before(cutoff) {
			continue
		}
		result = append(result, cloneItem(item))
	}
	slices.SortFunc(result, func(a, b *QueueItem) int {
		return a.LastAttemptAt.Compare(*b.LastAttemptAt)
	})
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func (m *mockRepository) FindByUser(_ context.Context, userID string, status *QueueStatus) ([]*QueueItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var result []*QueueItem
	for _, item := range m.items {
		if item.UserID != userID || (status != nil && item.Status != *status) {
			continue
		}
		result = append(result, cloneItem(item))
	}
	slices.SortFunc(result, func(a, b *QueueItem) int {
		return b.ScheduledFor.Compare(a.ScheduledFor)
	})
	return result, nil
}

func (m *mockRepository) FindByID(_ context.Context, id string) (*QueueItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	item, ok := m.items[id]
	if !ok {
		return nil, ErrItemNotFound
	}
	return cloneItem(item), nil
}

func (m *mockRepository) SaveAll(_ context.Context, items []*QueueItem) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.saveAllCalls++
	if m.bulkSaveErr != nil && len(items) > 1 {
		return m.bulkSaveErr
	}
	for _, item := range items {
		if m.failSave[item.ID] {
			return fmt.Errorf("save %s: constraint violation", item.ID)
		}
	}
	for _, item := range items {
		m.items[item.ID] = cloneItem(item)
	}
	return nil
}

func (m *mockRepository) GetQueueStats(_ context.Context) (*QueueStats, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	stats := &QueueStats{}
	for _, item := range m.items {
		switch item.Status {
		case QueueStatusPending:
			stats.Pending++
		case QueueStatusProcessing:
			stats.Processing++
		case QueueStatusSent:
			stats.Sent++
		case QueueStatusFailed:
			stats.Failed++
		case QueueStatusCancelled:
			stats.Cancelled++
		}
	}
	return stats, nil
}

// claimingRepository adds the claim step on top of mockRepository.
type claimingRepository struct {
	*mockRepository
	claims     int
	recoveries int
}

func (c *claimingRepository) ClaimDue(ctx context.Context, filter DueFilter) ([]*QueueItem, error) {
	items, err := c.FindDue(ctx, filter)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.claims++
	for _, item := range items {
		item.Status = QueueStatusProcessing
		c.items[item.ID].Status = QueueStatusProcessing
	}
	return items, nil
}

func (c *claimingRepository) RecoverStuck(_ context.Context, cutoff time.Time) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.recoveries++
	var n int64
	for _, item := range c.items {
		if item.Status == QueueStatusProcessing && item.UpdatedAt.Before(cutoff) {
			item.Status = QueueStatusPending
			n++
		}
	}
	return n, nil
}

// mockUsers implements UserDirectory.
type mockUsers struct {
	known map[string]bool
}

func newMockUsers(ids ...string) *mockUsers {
	known := make(map[string]bool, len(ids))
	for _, id := range ids {
		known[id] = true
	}
	return &mockUsers{known: known}
}

func (m *mockUsers) FindByID(_ context.Context, id string) (*domain.User, error) {
	if !m.known[id] {
		return nil, users.ErrUserNotFound
	}
	return &domain.User{ID: id}, nil
}

// mockPreferences implements PreferenceResolver.
type mockPreferences struct {
	prefs map[string]*domain.NotificationPreference
}

func (m *mockPreferences) Resolve(_ context.Context, userID string) (*domain.NotificationPreference, error) {
	if pref, ok := m.prefs[userID]; ok {
		return pref, nil
	}
	return &domain.NotificationPreference{UserID: userID, Frequency: domain.FrequencyInstant}, nil
}

// mockPublisher implements Publisher.
type mockPublisher struct {
	mu        sync.Mutex
	published []ItemView
	failFor   map[string]error
}

func (m *mockPublisher) Publish(_ context.Context, item ItemView) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err, ok := m.failFor[item.ID]; ok {
		return err
	}
	m.published = append(m.published, item)
	return nil
}

func (m *mockPublisher) Close() error {
	return nil
}
