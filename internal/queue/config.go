package queue

import "time"

// Config contains queue configuration.
type Config struct {
	Enabled            bool
	BatchSize          int
	RetryInterval      time.Duration
	MaxAttempts        int
	MaxPerUser         int
	ProcessingInterval time.Duration
	// PublishRateLimit caps hand-off publishing in messages per second. Zero means unlimited.
	PublishRateLimit float64
	// StuckTimeout is how long a claimed item may stay processing before it is released.
	StuckTimeout time.Duration
}

// DefaultConfig returns default queue configuration.
func DefaultConfig() Config {
	return Config{
		Enabled:            true,
		BatchSize:          20,
		RetryInterval:      5 * time.Minute,
		MaxAttempts:        3,
		MaxPerUser:         50,
		ProcessingInterval: 15 * time.Minute,
		PublishRateLimit:   0,
		StuckTimeout:       30 * time.Minute,
	}
}

func (c Config) maxAttempts() int {
	if c.MaxAttempts < 1 {
		return 1
	}
	return c.MaxAttempts
}

func (c Config) processingInterval() time.Duration {
	if c.ProcessingInterval <= 0 {
		return 15 * time.Minute
	}
	return c.ProcessingInterval
}
