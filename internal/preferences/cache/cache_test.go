package cache

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/bissquit/notification-queue/internal/domain"
	"github.com/bissquit/notification-queue/internal/preferences"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// memoryStore implements Store with JSON round-trips, like Redis.
type memoryStore struct {
	data   map[string][]byte
	getErr error
	setErr error
}

func newMemoryStore() *memoryStore {
	return &memoryStore{data: make(map[string][]byte)}
}

func (s *memoryStore) Get(_ context.Context, key string, dest any) (bool, error) {
	if s.getErr != nil {
		return false, s.getErr
	}
	raw, ok := s.data[key]
	if !ok {
		return false, nil
	}
	return true, json.Unmarshal(raw, dest)
}

func (s *memoryStore) Set(_ context.Context, key string, value any, _ time.Duration) error {
	if s.setErr != nil {
		return s.setErr
	}
	raw, err := json.Marshal(value)
	if err != nil {
		return err
	}
	s.data[key] = raw
	return nil
}

func (s *memoryStore) Delete(_ context.Context, key string) error {
	delete(s.data, key)
	return nil
}

// countingRepository implements preferences.Repository and counts lookups.
type countingRepository struct {
	prefs map[string]*domain.NotificationPreference
	finds int
}

func (r *countingRepository) FindByUserID(_ context.Context, userID string) (*domain.NotificationPreference, error) {
	r.finds++
	pref, ok := r.prefs[userID]
	if !ok {
		return nil, preferences.ErrPreferenceNotFound
	}
	cp := *pref
	return &cp, nil
}

func (r *countingRepository) Save(_ context.Context, pref *domain.NotificationPreference) error {
	cp := *pref
	r.prefs[pref.UserID] = &cp
	return nil
}

func TestRepository_ReadThrough(t *testing.T) {
	next := &countingRepository{prefs: map[string]*domain.NotificationPreference{
		"user-1": {
			UserID:           "user-1",
			EmailEnabled:     true,
			Frequency:        domain.FrequencyDailyDigest,
			QuietHoursStart:  &domain.TimeOfDay{Hour: 22},
			QuietHoursEnd:    &domain.TimeOfDay{Hour: 6, Minute: 30},
			SubscribedEvents: []domain.NotificationType{domain.NotificationTypeRecipeLiked},
		},
	}}
	repo := NewRepository(next, newMemoryStore(), time.Minute)

	first, err := repo.FindByUserID(context.Background(), "user-1")
	require.NoError(t, err)
	second, err := repo.FindByUserID(context.Background(), "user-1")
	require.NoError(t, err)

	assert.Equal(t, 1, next.finds, "second lookup should be served from cache")
	assert.Equal(t, first, second)
	assert.Equal(t, domain.TimeOfDay{Hour: 6, Minute: 30}, *second.QuietHoursEnd)
}

func TestRepository_SaveInvalidates(t *testing.T) {
	next := &countingRepository{prefs: map[string]*domain.NotificationPreference{
		"user-1": {UserID: "user-1"},
	}}
	repo := NewRepository(next, newMemoryStore(), time.Minute)

	_, err := repo.FindByUserID(context.Background(), "user-1")
	require.NoError(t, err)

	require.NoError(t, repo.Save(context.Background(), &domain.NotificationPreference{UserID: "user-1", SMSEnabled: true}))

	pref, err := repo.FindByUserID(context.Background(), "user-1")
	require.NoError(t, err)
	assert.True(t, pref.SMSEnabled)
	assert.Equal(t, 2, next.finds)
}

func TestRepository_NotFoundIsNotCached(t *testing.T) {
	next := &countingRepository{prefs: map[string]*domain.NotificationPreference{}}
	repo := NewRepository(next, newMemoryStore(), time.Minute)

	_, err := repo.FindByUserID(context.Background(), "ghost")
	require.ErrorIs(t, err, preferences.ErrPreferenceNotFound)
	_, err = repo.FindByUserID(context.Background(), "ghost")
	require.ErrorIs(t, err, preferences.ErrPreferenceNotFound)
	assert.Equal(t, 2, next.finds)
}

func TestRepository_CacheFailureFallsThrough(t *testing.T) {
	next := &countingRepository{prefs: map[string]*domain.NotificationPreference{
		"user-1": {UserID: "user-1", EmailEnabled: true},
	}}
	store := newMemoryStore()
	store.getErr = errors.New("redis down")
	store.setErr = errors.New("redis down")
	repo := NewRepository(next, store, time.Minute)

	pref, err := repo.FindByUserID(context.Background(), "user-1")
	require.NoError(t, err)
	assert.True(t, pref.EmailEnabled)
}
