package preferences

import "errors"

// Repository errors.
var (
	ErrPreferenceNotFound = errors.New("notification preference not found")
)

// Update errors.
var (
	ErrInvalidTimeFormat = errors.New("invalid time format, expected HH:MM")
	ErrInvalidFrequency  = errors.New("invalid notification frequency")
	ErrInvalidEventType  = errors.New("invalid notification type in subscription list")
)
