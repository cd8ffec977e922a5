// Package users provides the user directory consulted before enqueueing.
package users

import (
	"context"
	"errors"

	"github.com/bissquit/notification-queue/internal/domain"
)

// Repository errors.
var (
	ErrUserNotFound = errors.New("user not found")
)

// Repository defines the interface for user lookups.
type Repository interface {
	FindByID(ctx context.Context, id string) (*domain.User, error)
}
