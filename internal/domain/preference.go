package domain

import (
	"fmt"
	"slices"
	"strconv"
	"strings"
	"time"
)

// TimeOfDay is a wall-clock time without a date, in UTC.
type TimeOfDay struct {
	Hour   int
	Minute int
}

// ParseTimeOfDay parses "HH:MM" or "HH:MM:SS". Seconds are accepted and dropped.
func ParseTimeOfDay(s string) (TimeOfDay, error) {
	parts := strings.Split(strings.TrimSpace(s), ":")
	if len(parts) != 2 && len(parts) != 3 {
		return TimeOfDay{}, fmt.Errorf("time of day %q: expected HH:MM", s)
	}

	limits := []int{23, 59, 59}
	values := make([]int, len(parts))
	for i, p := range parts {
		if len(p) != 2 {
			return TimeOfDay{}, fmt.Errorf("time of day %q: expected two digits per field", s)
		}
		v, err := strconv.Atoi(p)
		if err != nil || v < 0 || v > limits[i] {
			return TimeOfDay{}, fmt.Errorf("time of day %q: field %q out of range", s, p)
		}
		values[i] = v
	}

	return TimeOfDay{Hour: values[0], Minute: values[1]}, nil
}

// String formats the time as HH:MM.
func (t TimeOfDay) String() string {
	return fmt.Sprintf("%02d:%02d", t.Hour, t.Minute)
}

// Minutes returns minutes since midnight.
func (t TimeOfDay) Minutes() int {
	return t.Hour*60 + t.Minute
}

// On returns the instant at this time of day on the UTC date of day.
func (t TimeOfDay) On(day time.Time) time.Time {
	d := day.UTC()
	return time.Date(d.Year(), d.Month(), d.Day(), t.Hour, t.Minute, 0, 0, time.UTC)
}

// NotificationPreference holds per-user delivery settings.
type NotificationPreference struct {
	UserID          string
	EmailEnabled    bool
	SMSEnabled      bool
	Frequency       Frequency
	QuietHoursStart *TimeOfDay
	QuietHoursEnd   *TimeOfDay
	// SubscribedEvents limits subscribable types. Empty means subscribed to all.
	SubscribedEvents []NotificationType
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// IsSubscribedTo reports whether t is in the subscription list.
func (p *NotificationPreference) IsSubscribedTo(t NotificationType) bool {
	return slices.Contains(p.SubscribedEvents, t)
}

// HasQuietHours reports whether both quiet-hour bounds are set.
func (p *NotificationPreference) HasQuietHours() bool {
	return p.QuietHoursStart != nil && p.QuietHoursEnd != nil
}
