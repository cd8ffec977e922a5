//go:build integration

package postgres

import (
	"context"
	"log"
	"os"
	"testing"
	"time"

	"github.com/bissquit/notification-queue/internal/domain"
	"github.com/bissquit/notification-queue/internal/queue"
	"github.com/bissquit/notification-queue/internal/testutil"
	userspostgres "github.com/bissquit/notification-queue/internal/users/postgres"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testDB *pgxpool.Pool

func TestMain(m *testing.M) {
	pool, cleanup, err := testutil.NewMigratedPool(context.Background(), "file://../../../migrations")
	if err != nil {
		log.Fatalf("start database: %v", err)
	}
	testDB = pool

	code := m.Run()
	cleanup()
	os.Exit(code)
}

func resetTables(t *testing.T) {
	t.Helper()
	_, err := testDB.Exec(context.Background(), `TRUNCATE notification_queue, notifications, notification_preferences, users CASCADE`)
	require.NoError(t, err)
}

func createUser(t *testing.T, email string) string {
	t.Helper()
	user := &domain.User{Email: email, Name: "Test"}
	require.NoError(t, userspostgres.NewRepository(testDB).Create(context.Background(), user))
	return user.ID
}

func newItem(userID string, scheduledFor time.Time) *queue.QueueItem {
	return &queue.QueueItem{
		UserID:       userID,
		Type:         domain.NotificationTypeRecipeApproved,
		Title:        "Approved",
		Message:      "Your recipe is live",
		Priority:     domain.PriorityMedium,
		Channel:      domain.ChannelEmail,
		Status:       queue.QueueStatusPending,
		ScheduledFor: scheduledFor,
		MaxAttempts:  3,
		UpdatedAt:    scheduledFor,
	}
}

func TestRepository_InsertAndFind(t *testing.T) {
	resetTables(t)
	ctx := context.Background()
	repo := NewRepository(testDB)
	userID := createUser(t, "insert@example.com")

	now := time.Now().UTC().Truncate(time.Microsecond)
	item := newItem(userID, now)
	item.Payload = map[string]any{"recipe_id": "r-1"}
	item.ActionURL = "https://example.com/r/1"

	require.NoError(t, repo.Insert(ctx, item))
	require.NotEmpty(t, item.ID)
	assert.False(t, item.CreatedAt.IsZero())

	found, err := repo.FindByID(ctx, item.ID)
	require.NoError(t, err)
	assert.Equal(t, userID, found.UserID)
	assert.Equal(t, now, found.ScheduledFor)
	assert.Equal(t, time.UTC, found.ScheduledFor.Location())
	assert.Equal(t, "r-1", found.Payload["recipe_id"])
	assert.Equal(t, "https://example.com/r/1", found.ActionURL)
	assert.Empty(t, found.ErrorMessage)
	assert.Nil(t, found.ProcessedAt)

	_, err = repo.FindByID(ctx, "00000000-0000-0000-0000-000000000000")
	assert.ErrorIs(t, err, queue.ErrItemNotFound)
	_, err = repo.FindByID(ctx, "not-a-uuid")
	assert.ErrorIs(t, err, queue.ErrItemNotFound)
}

func TestRepository_FindDueOrderingAndFilter(t *testing.T) {
	resetTables(t)
	ctx := context.Background()
	repo := NewRepository(testDB)
	userID := createUser(t, "due@example.com")

	now := time.Now().UTC().Truncate(time.Second)
	late := newItem(userID, now.Add(-time.Minute))
	early := newItem(userID, now.Add(-time.Hour))
	sms := newItem(userID, now.Add(-30*time.Minute))
	sms.Channel = domain.ChannelSMS
	future := newItem(userID, now.Add(time.Hour))
	atCutoff := newItem(userID, now)

	for _, item := range []*queue.QueueItem{late, early, sms, future, atCutoff} {
		require.NoError(t, repo.Insert(ctx, item))
	}

	due, err := repo.FindDue(ctx, queue.DueFilter{Cutoff: now, Limit: 10})
	require.NoError(t, err)
	require.Len(t, due, 4)
	assert.Equal(t, early.ID, due[0].ID)
	assert.Equal(t, sms.ID, due[1].ID)
	assert.Equal(t, late.ID, due[2].ID)
	assert.Equal(t, atCutoff.ID, due[3].ID, "cutoff is inclusive")

	limited, err := repo.FindDue(ctx, queue.DueFilter{Cutoff: now, Limit: 2})
	require.NoError(t, err)
	assert.Len(t, limited, 2)

	channel := domain.ChannelSMS
	smsOnly, err := repo.FindDue(ctx, queue.DueFilter{Cutoff: now, Channel: &channel, Limit: 10})
	require.NoError(t, err)
	require.Len(t, smsOnly, 1)
	assert.Equal(t, sms.ID, smsOnly[0].ID)
}

func TestRepository_ClaimDueAndRecover(t *testing.T) {
	resetTables(t)
	ctx := context.Background()
	repo := NewRepository(testDB)
	userID := createUser(t, "claim@example.com")

	now := time.Now().UTC().Truncate(time.Second)
	for i := range 3 {
		require.NoError(t, repo.Insert(ctx, newItem(userID, now.Add(-time.Duration(i+1)*time.Minute))))
	}

	claimed, err := repo.ClaimDue(ctx, queue.DueFilter{Cutoff: now, Limit: 2})
	require.NoError(t, err)
	require.Len(t, claimed, 2)
	for _, item := range claimed {
		assert.Equal(t, queue.QueueStatusProcessing, item.Status)
	}

	again, err := repo.ClaimDue(ctx, queue.DueFilter{Cutoff: now, Limit: 10})
	require.NoError(t, err)
	assert.Len(t, again, 1, "claimed rows are not handed out twice")

	active, err := repo.CountActiveForUser(ctx, userID)
	require.NoError(t, err)
	assert.Equal(t, 3, active, "processing items count toward the quota")

	recovered, err := repo.RecoverStuck(ctx, now.Add(-time.Hour))
	require.NoError(t, err)
	assert.Zero(t, recovered)

	recovered, err = repo.RecoverStuck(ctx, now.Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(3), recovered)

	due, err := repo.FindDue(ctx, queue.DueFilter{Cutoff: now, Limit: 10})
	require.NoError(t, err)
	assert.Len(t, due, 3)
}

func TestRepository_SaveAll(t *testing.T) {
	resetTables(t)
	ctx := context.Background()
	repo := NewRepository(testDB)
	userID := createUser(t, "save@example.com")

	now := time.Now().UTC().Truncate(time.Microsecond)
	first := newItem(userID, now)
	second := newItem(userID, now)
	require.NoError(t, repo.Insert(ctx, first))
	require.NoError(t, repo.Insert(ctx, second))

	first.Status = queue.QueueStatusSent
	first.Attempts = 1
	first.ProcessedAt = &now
	first.LastAttemptAt = &now
	second.Status = queue.QueueStatusFailed
	second.Attempts = 1
	second.ErrorMessage = "publish: broker unavailable"
	second.LastAttemptAt = &now

	require.NoError(t, repo.SaveAll(ctx, []*queue.QueueItem{first, second}))

	sent, err := repo.FindByID(ctx, first.ID)
	require.NoError(t, err)
	assert.Equal(t, queue.QueueStatusSent, sent.Status)
	require.NotNil(t, sent.ProcessedAt)
	assert.Equal(t, now, *sent.ProcessedAt)

	failed, err := repo.FindByID(ctx, second.ID)
	require.NoError(t, err)
	assert.Equal(t, queue.QueueStatusFailed, failed.Status)
	assert.Equal(t, "publish: broker unavailable", failed.ErrorMessage)

	ghost := newItem(userID, now)
	ghost.ID = "00000000-0000-0000-0000-000000000000"
	first.Attempts = 2
	err = repo.SaveAll(ctx, []*queue.QueueItem{first, ghost})
	require.ErrorIs(t, err, queue.ErrItemNotFound)

	unchanged, err := repo.FindByID(ctx, first.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, unchanged.Attempts, "a failed batch writes nothing")
}

func TestRepository_FindStaleFailed(t *testing.T) {
	resetTables(t)
	ctx := context.Background()
	repo := NewRepository(testDB)
	userID := createUser(t, "stale@example.com")

	now := time.Now().UTC().Truncate(time.Second)
	old := now.Add(-10 * time.Minute)
	recent := now.Add(-time.Minute)

	stale := newItem(userID, old)
	fresh := newItem(userID, recent)
	for _, item := range []*queue.QueueItem{stale, fresh} {
		require.NoError(t, repo.Insert(ctx, item))
	}
	stale.Status, stale.LastAttemptAt, stale.Attempts = queue.QueueStatusFailed, &old, 1
	fresh.Status, fresh.LastAttemptAt, fresh.Attempts = queue.QueueStatusFailed, &recent, 1
	require.NoError(t, repo.SaveAll(ctx, []*queue.QueueItem{stale, fresh}))

	found, err := repo.FindStaleFailed(ctx, now.Add(-5*time.Minute), 10)
	require.NoError(t, err)
	require.Len(t, found, 1)
	assert.Equal(t, stale.ID, found[0].ID)
}

func TestRepository_FindByUserAndStats(t *testing.T) {
	resetTables(t)
	ctx := context.Background()
	repo := NewRepository(testDB)
	alice := createUser(t, "alice@example.com")
	bob := createUser(t, "bob@example.com")

	now := time.Now().UTC().Truncate(time.Second)
	a1 := newItem(alice, now.Add(-time.Hour))
	a2 := newItem(alice, now)
	b1 := newItem(bob, now)
	for _, item := range []*queue.QueueItem{a1, a2, b1} {
		require.NoError(t, repo.Insert(ctx, item))
	}
	a1.Status = queue.QueueStatusCancelled
	require.NoError(t, repo.SaveAll(ctx, []*queue.QueueItem{a1}))

	all, err := repo.FindByUser(ctx, alice, nil)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, a2.ID, all[0].ID, "latest scheduled first")

	pending := queue.QueueStatusPending
	onlyPending, err := repo.FindByUser(ctx, alice, &pending)
	require.NoError(t, err)
	require.Len(t, onlyPending, 1)
	assert.Equal(t, a2.ID, onlyPending[0].ID)

	stats, err := repo.GetQueueStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), stats.Pending)
	assert.Equal(t, int64(1), stats.Cancelled)
	assert.Zero(t, stats.Sent)
}
