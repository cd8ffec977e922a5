// Package schedule computes delivery channels and delivery instants for queued notifications.
package schedule

import (
	"time"

	"github.com/bissquit/notification-queue/internal/domain"
)

// DefaultHour is used for any digest hour outside 0..23.
const DefaultHour = 6

// DigestConfig contains digest slot configuration.
type DigestConfig struct {
	Enabled     bool
	DailyHour   int
	WeeklyDay   time.Weekday
	WeeklyHour  int
	MonthlyDay  int
	MonthlyHour int
}

// DefaultDigestConfig returns default digest configuration.
func DefaultDigestConfig() DigestConfig {
	return DigestConfig{
		Enabled:     true,
		DailyHour:   DefaultHour,
		WeeklyDay:   time.Monday,
		WeeklyHour:  DefaultHour,
		MonthlyDay:  1,
		MonthlyHour: DefaultHour,
	}
}

// Calculator maps preferences to a channel and a delivery instant.
type Calculator struct {
	config DigestConfig
}

// NewCalculator creates a new schedule calculator.
func NewCalculator(config DigestConfig) *Calculator {
	return &Calculator{config: config}
}

// DetermineChannel picks email, then SMS, then in-app.
func (c *Calculator) DetermineChannel(pref *domain.NotificationPreference) domain.Channel {
	switch {
	case pref == nil:
		return domain.ChannelInApp
	case pref.EmailEnabled:
		return domain.ChannelEmail
	case pref.SMSEnabled:
		return domain.ChannelSMS
	default:
		return domain.ChannelInApp
	}
}

// CalculateScheduledTime returns the next instant a notification of the given
// frequency may be delivered. All math is done in UTC.
func (c *Calculator) CalculateScheduledTime(frequency domain.Frequency, now time.Time) time.Time {
	now = now.UTC()

	if !c.config.Enabled {
		return now
	}

	switch frequency {
	case domain.FrequencyDailyDigest:
		return c.nextDaily(now)
	case domain.FrequencyWeeklyDigest:
		return c.nextWeekly(now)
	case domain.FrequencyMonthlyDigest:
		return c.nextMonthly(now)
	default:
		return now
	}
}

func (c *Calculator) nextDaily(now time.Time) time.Time {
	hour := sanitizeHour(c.config.DailyHour)
	candidate := time.Date(now.Year(), now.Month(), now.Day(), hour, 0, 0, 0, time.UTC)
	if !candidate.After(now) {
		candidate = candidate.AddDate(0, 0, 1)
	}
	return candidate
}

func (c *Calculator) nextWeekly(now time.Time) time.Time {
	hour := sanitizeHour(c.config.WeeklyHour)
	day := c.config.WeeklyDay
	if day < time.Sunday || day > time.Saturday {
		day = time.Monday
	}

	// Next-or-same weekday: today counts when the slot is still ahead.
	offset := (int(day) - int(now.Weekday()) + 7) % 7
	candidate := time.Date(now.Year(), now.Month(), now.Day()+offset, hour, 0, 0, 0, time.UTC)
	if !candidate.After(now) {
		candidate = candidate.AddDate(0, 0, 7)
	}
	return candidate
}

// nextMonthly always starts from the following calendar month, even when the
// configured day of the current month is still ahead.
func (c *Calculator) nextMonthly(now time.Time) time.Time {
	hour := sanitizeHour(c.config.MonthlyHour)
	firstOfNext := time.Date(now.Year(), now.Month()+1, 1, 0, 0, 0, 0, time.UTC)

	candidate := c.monthlySlot(firstOfNext, hour)
	if !candidate.After(now) {
		candidate = c.monthlySlot(firstOfNext.AddDate(0, 1, 0), hour)
	}
	return candidate
}

// monthlySlot places the configured day and hour into the month of first.
// Days past the end of the month land on its last day.
func (c *Calculator) monthlySlot(first time.Time, hour int) time.Time {
	day := c.config.MonthlyDay
	if day < 1 || day > 31 {
		day = 1
	}
	if last := daysIn(first); day > last {
		day = last
	}
	return time.Date(first.Year(), first.Month(), day, hour, 0, 0, 0, time.UTC)
}

// InQuietHours reports whether t falls inside the user's quiet-hours window.
// The window is half-open [start, end) and may wrap past midnight.
func InQuietHours(pref *domain.NotificationPreference, t time.Time) bool {
	if pref == nil || !pref.HasQuietHours() {
		return false
	}

	start := pref.QuietHoursStart.Minutes()
	end := pref.QuietHoursEnd.Minutes()
	if start == end {
		return false
	}

	t = t.UTC()
	m := t.Hour()*60 + t.Minute()
	if start < end {
		return m >= start && m < end
	}
	return m >= start || m < end
}

// DeferForQuietHours moves t to the end of the quiet-hours window when t falls inside it.
func DeferForQuietHours(pref *domain.NotificationPreference, t time.Time) time.Time {
	if !InQuietHours(pref, t) {
		return t
	}

	end := pref.QuietHoursEnd.On(t)
	if !end.After(t) {
		end = end.AddDate(0, 0, 1)
	}
	return end
}

func sanitizeHour(hour int) int {
	if hour < 0 || hour > 23 {
		return DefaultHour
	}
	return hour
}

func daysIn(t time.Time) int {
	return time.Date(t.Year(), t.Month()+1, 0, 0, 0, 0, 0, time.UTC).Day()
}
