package postgres

import (
	"time"

	"github.com/bissquit/notification-queue/internal/domain"
)

func scanTimeOfDay(s *string) (*domain.TimeOfDay, error) {
	if s == nil {
		return nil, nil
	}
	t, err := domain.ParseTimeOfDay(*s)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func formatTimeOfDay(t *domain.TimeOfDay) *string {
	if t == nil {
		return nil
	}
	s := t.String()
	return &s
}

func nullTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
