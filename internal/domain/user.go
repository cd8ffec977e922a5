package domain

import "time"

// User is a recipient known to the user directory.
type User struct {
	ID        string
	Email     string
	Phone     string
	Name      string
	CreatedAt time.Time
	UpdatedAt time.Time
}
