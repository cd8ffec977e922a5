package inbox

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/bissquit/notification-queue/internal/domain"
	"github.com/bissquit/notification-queue/internal/pkg/clock"
	"github.com/bissquit/notification-queue/internal/queue"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testNow = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

// mockRepository implements Repository over a slice.
type mockRepository struct {
	notifications []*domain.Notification
	countErr      error
	archiveErr    error
}

func (m *mockRepository) add(n domain.Notification) {
	m.notifications = append(m.notifications, &n)
}

func (m *mockRepository) CountUnread(_ context.Context, userID string) (int, error) {
	if m.countErr != nil {
		return 0, m.countErr
	}
	count := 0
	for _, n := range m.notifications {
		if n.UserID == userID && !n.IsRead {
			count++
		}
	}
	return count, nil
}

func (m *mockRepository) MarkAllRead(_ context.Context, userID string, at time.Time) (int64, error) {
	var count int64
	for _, n := range m.notifications {
		if n.UserID == userID && !n.IsRead {
			n.IsRead = true
			n.ReadAt = &at
			count++
		}
	}
	return count, nil
}

func (m *mockRepository) ArchiveReadBefore(_ context.Context, userID string, cutoff, at time.Time) (int64, error) {
	if m.archiveErr != nil {
		return 0, m.archiveErr
	}
	var count int64
	for _, n := range m.notifications {
		if n.UserID == userID && n.IsRead && !n.IsArchived && n.ReadAt != nil && n.ReadAt.Before(cutoff) {
			n.IsArchived = true
			n.ArchivedAt = &at
			count++
		}
	}
	return count, nil
}

func (m *mockRepository) DeleteArchivedBefore(_ context.Context, userID string, cutoff time.Time) (int64, error) {
	kept := m.notifications[:0]
	var count int64
	for _, n := range m.notifications {
		if n.UserID == userID && n.IsArchived && n.ArchivedAt != nil && n.ArchivedAt.Before(cutoff) {
			count++
			continue
		}
		kept = append(kept, n)
	}
	m.notifications = kept
	return count, nil
}

// mockCounter implements QueueCounter.
type mockCounter struct {
	count int
	err   error
}

func (m *mockCounter) CountPending(_ context.Context, _ string) (int, error) {
	return m.count, m.err
}

func daysAgo(days int) *time.Time {
	t := testNow.AddDate(0, 0, -days)
	return &t
}

func TestService_GetCounts(t *testing.T) {
	repo := &mockRepository{}
	repo.add(domain.Notification{ID: "1", UserID: "user-1"})
	repo.add(domain.Notification{ID: "2", UserID: "user-1"})
	repo.add(domain.Notification{ID: "3", UserID: "user-1", IsRead: true, ReadAt: daysAgo(1)})
	repo.add(domain.Notification{ID: "4", UserID: "user-2"})

	svc := NewService(DefaultConfig(), repo, &mockCounter{count: 3}, clock.Fixed(testNow))
	counts, err := svc.GetCounts(context.Background(), "user-1")
	require.NoError(t, err)

	assert.Equal(t, 2, counts.InternalUnread)
	assert.Equal(t, 3, counts.ExternalPending)
	assert.Equal(t, 5, counts.Total)
}

func TestService_GetCounts_QueueDegradesToZero(t *testing.T) {
	tests := []struct {
		name    string
		counter QueueCounter
	}{
		{"queue disabled", &mockCounter{count: 7, err: queue.ErrQueueDisabled}},
		{"queue error", &mockCounter{count: 7, err: errors.New("connection refused")}},
		{"no queue", nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo := &mockRepository{}
			repo.add(domain.Notification{ID: "1", UserID: "user-1"})

			svc := NewService(DefaultConfig(), repo, tt.counter, clock.Fixed(testNow))
			counts, err := svc.GetCounts(context.Background(), "user-1")
			require.NoError(t, err)
			assert.Equal(t, 0, counts.ExternalPending)
			assert.Equal(t, 1, counts.Total)
		})
	}
}

func TestService_GetCounts_UnreadError(t *testing.T) {
	repo := &mockRepository{countErr: errors.New("timeout")}
	svc := NewService(DefaultConfig(), repo, &mockCounter{}, clock.Fixed(testNow))

	_, err := svc.GetCounts(context.Background(), "user-1")
	require.ErrorIs(t, err, repo.countErr)
}

func TestService_GetCounts_RetentionFailureStillCounts(t *testing.T) {
	repo := &mockRepository{archiveErr: errors.New("lock timeout")}
	repo.add(domain.Notification{ID: "1", UserID: "user-1"})
	svc := NewService(DefaultConfig(), repo, &mockCounter{}, clock.Fixed(testNow))

	counts, err := svc.GetCounts(context.Background(), "user-1")
	require.NoError(t, err)
	assert.Equal(t, 1, counts.InternalUnread)
}

func TestService_MarkAllRead(t *testing.T) {
	repo := &mockRepository{}
	repo.add(domain.Notification{ID: "1", UserID: "user-1"})
	repo.add(domain.Notification{ID: "2", UserID: "user-1"})
	repo.add(domain.Notification{ID: "3", UserID: "user-2"})

	svc := NewService(DefaultConfig(), repo, &mockCounter{count: 1}, clock.Fixed(testNow))
	counts, err := svc.MarkAllRead(context.Background(), "user-1")
	require.NoError(t, err)

	assert.Equal(t, 0, counts.InternalUnread)
	assert.Equal(t, 1, counts.Total)
	assert.False(t, repo.notifications[2].IsRead, "other users are untouched")
}

func TestService_ApplyRetention(t *testing.T) {
	tests := []struct {
		name             string
		config           Config
		expectedArchived int64
		expectedDeleted  int64
		expectedLeft     int
	}{
		{"both steps", Config{ReadAfterDays: 30, DeleteAfterDays: 90}, 1, 1, 3},
		{"archive only", Config{ReadAfterDays: 30, DeleteAfterDays: 0}, 1, 0, 4},
		{"delete only", Config{ReadAfterDays: 0, DeleteAfterDays: 90}, 0, 1, 3},
		{"disabled", Config{ReadAfterDays: -1, DeleteAfterDays: 0}, 0, 0, 4},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo := &mockRepository{}
			repo.add(domain.Notification{ID: "unread", UserID: "user-1"})
			repo.add(domain.Notification{ID: "recently-read", UserID: "user-1", IsRead: true, ReadAt: daysAgo(5)})
			repo.add(domain.Notification{ID: "long-read", UserID: "user-1", IsRead: true, ReadAt: daysAgo(45)})
			repo.add(domain.Notification{ID: "old-archive", UserID: "user-1", IsRead: true, ReadAt: daysAgo(200), IsArchived: true, ArchivedAt: daysAgo(120)})

			svc := NewService(tt.config, repo, nil, clock.Fixed(testNow))
			result, err := svc.ApplyRetention(context.Background(), "user-1")
			require.NoError(t, err)

			assert.Equal(t, tt.expectedArchived, result.Archived)
			assert.Equal(t, tt.expectedDeleted, result.Deleted)
			assert.Len(t, repo.notifications, tt.expectedLeft, fmt.Sprintf("%+v", result))
		})
	}
}
