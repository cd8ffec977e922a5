package config

import (
	"fmt"
	"strings"
	"time"
)

// Queue setting bounds.
const (
	MinBatchSize          = 2
	MaxBatchSize          = 50
	MinRetryInterval      = 5 * time.Minute
	MaxRetryInterval      = 60 * time.Minute
	MinMaxAttempts        = 1
	MaxMaxAttempts        = 10
	MinMaxPerUser         = 1
	MaxMaxPerUser         = 100
	MinProcessingInterval = 5 * time.Minute
	MaxProcessingInterval = 60 * time.Minute

	defaultProcessingInterval = 15 * time.Minute
)

var weekdays = map[string]time.Weekday{
	"sunday":    time.Sunday,
	"monday":    time.Monday,
	"tuesday":   time.Tuesday,
	"wednesday": time.Wednesday,
	"thursday":  time.Thursday,
	"friday":    time.Friday,
	"saturday":  time.Saturday,
}

// Normalize clamps out-of-range settings into range and returns one warning
// per adjusted value.
func (c *Config) Normalize() []string {
	var warnings []string

	q := &c.Queue
	if q.ProcessingInterval <= 0 {
		warnings = append(warnings, fmt.Sprintf("queue.processing_interval %s is not positive, using %s", q.ProcessingInterval, defaultProcessingInterval))
		q.ProcessingInterval = defaultProcessingInterval
	}

	warnings = clampInt(warnings, "queue.batch_size", &q.BatchSize, MinBatchSize, MaxBatchSize)
	warnings = clampInt(warnings, "queue.max_attempts", &q.MaxAttempts, MinMaxAttempts, MaxMaxAttempts)
	warnings = clampInt(warnings, "queue.max_per_user", &q.MaxPerUser, MinMaxPerUser, MaxMaxPerUser)
	warnings = clampDuration(warnings, "queue.retry_interval", &q.RetryInterval, MinRetryInterval, MaxRetryInterval)
	warnings = clampDuration(warnings, "queue.processing_interval", &q.ProcessingInterval, MinProcessingInterval, MaxProcessingInterval)

	if q.PublishRateLimit < 0 {
		warnings = append(warnings, fmt.Sprintf("queue.publish_rate_limit %v is negative, publishing unthrottled", q.PublishRateLimit))
		q.PublishRateLimit = 0
	}

	if _, ok := weekdays[strings.ToLower(c.Digest.WeeklyDay)]; !ok {
		warnings = append(warnings, fmt.Sprintf("digest.weekly_day %q is not a weekday, using monday", c.Digest.WeeklyDay))
		c.Digest.WeeklyDay = "monday"
	}

	return warnings
}

// Weekday returns the configured weekly digest day.
func (d DigestConfig) Weekday() time.Weekday {
	if day, ok := weekdays[strings.ToLower(d.WeeklyDay)]; ok {
		return day
	}
	return time.Monday
}

func clampInt(warnings []string, key string, v *int, lo, hi int) []string {
	clamped := min(max(*v, lo), hi)
	if clamped != *v {
		warnings = append(warnings, fmt.Sprintf("%s %d is out of range [%d, %d], using %d", key, *v, lo, hi, clamped))
		*v = clamped
	}
	return warnings
}

func clampDuration(warnings []string, key string, v *time.Duration, lo, hi time.Duration) []string {
	clamped := min(max(*v, lo), hi)
	if clamped != *v {
		warnings = append(warnings, fmt.Sprintf("%s %s is out of range [%s, %s], using %s", key, *v, lo, hi, clamped))
		*v = clamped
	}
	return warnings
}
