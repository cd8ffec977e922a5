// Package config loads service configuration from defaults, an optional YAML
// file and NQ_-prefixed environment variables.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// EnvPrefix prefixes every environment variable. Nested keys are joined with "__",
// e.g. NQ_QUEUE__BATCH_SIZE.
const EnvPrefix = "NQ_"

// Publisher kinds.
const (
	PublisherNone     = "none"
	PublisherRabbitMQ = "rabbitmq"
	PublisherKafka    = "kafka"
)

// Config is the root configuration.
type Config struct {
	Server    ServerConfig    `koanf:"server"`
	Database  DatabaseConfig  `koanf:"database"`
	Redis     RedisConfig     `koanf:"redis"`
	Log       LogConfig       `koanf:"log"`
	Queue     QueueConfig     `koanf:"queue"`
	Digest    DigestConfig    `koanf:"digest"`
	Retention RetentionConfig `koanf:"retention"`
	Publisher PublisherConfig `koanf:"publisher"`
}

// ServerConfig contains ops HTTP server settings.
type ServerConfig struct {
	Host              string        `koanf:"host"`
	Port              string        `koanf:"port"`
	MetricsPort       string        `koanf:"metrics_port"`
	ReadTimeout       time.Duration `koanf:"read_timeout"`
	ReadHeaderTimeout time.Duration `koanf:"read_header_timeout"`
	WriteTimeout      time.Duration `koanf:"write_timeout"`
	IdleTimeout       time.Duration `koanf:"idle_timeout"`
	ShutdownTimeout   time.Duration `koanf:"shutdown_timeout"`
}

// DatabaseConfig contains PostgreSQL settings.
type DatabaseConfig struct {
	URL             string        `koanf:"url"`
	MaxOpenConns    int           `koanf:"max_open_conns"`
	MaxIdleConns    int           `koanf:"max_idle_conns"`
	ConnMaxLifetime time.Duration `koanf:"conn_max_lifetime"`
	ConnectTimeout  time.Duration `koanf:"connect_timeout"`
	ConnectAttempts int           `koanf:"connect_attempts"`
	AutoMigrate     bool          `koanf:"auto_migrate"`
	MigrationsPath  string        `koanf:"migrations_path"`
}

// RedisConfig contains preference cache settings. An empty address disables the cache.
type RedisConfig struct {
	Addr     string        `koanf:"addr"`
	Password string        `koanf:"password"`
	DB       int           `koanf:"db"`
	CacheTTL time.Duration `koanf:"cache_ttl"`
}

// LogConfig contains logger settings.
type LogConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
}

// QueueConfig contains delivery queue settings.
type QueueConfig struct {
	Enabled            bool          `koanf:"enabled"`
	BatchSize          int           `koanf:"batch_size"`
	RetryInterval      time.Duration `koanf:"retry_interval"`
	MaxAttempts        int           `koanf:"max_attempts"`
	MaxPerUser         int           `koanf:"max_per_user"`
	ProcessingInterval time.Duration `koanf:"processing_interval"`
	PublishRateLimit   float64       `koanf:"publish_rate_limit"`
	StuckTimeout       time.Duration `koanf:"stuck_timeout"`
}

// DigestConfig contains digest slot settings. Hours are UTC.
type DigestConfig struct {
	Enabled     bool   `koanf:"enabled"`
	DailyHour   int    `koanf:"daily_hour"`
	WeeklyDay   string `koanf:"weekly_day"`
	WeeklyHour  int    `koanf:"weekly_hour"`
	MonthlyDay  int    `koanf:"monthly_day"`
	MonthlyHour int    `koanf:"monthly_hour"`
}

// RetentionConfig contains in-app notification retention settings.
type RetentionConfig struct {
	ReadAfterDays   int `koanf:"read_after_days"`
	DeleteAfterDays int `koanf:"delete_after_days"`
}

// PublisherConfig selects where processed items are handed off.
type PublisherConfig struct {
	Kind     string         `koanf:"kind"`
	RabbitMQ RabbitMQConfig `koanf:"rabbitmq"`
	Kafka    KafkaConfig    `koanf:"kafka"`
}

// RabbitMQConfig contains AMQP hand-off settings.
type RabbitMQConfig struct {
	URL             string `koanf:"url"`
	Exchange        string `koanf:"exchange"`
	QueuePrefix     string `koanf:"queue_prefix"`
	DeadLetterQueue string `koanf:"dead_letter_queue"`
}

// KafkaConfig contains Kafka hand-off settings.
type KafkaConfig struct {
	Brokers  []string `koanf:"brokers"`
	Topic    string   `koanf:"topic"`
	ClientID string   `koanf:"client_id"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Server: ServerConfig{
			Host:              "0.0.0.0",
			Port:              "8080",
			MetricsPort:       "9090",
			ReadTimeout:       15 * time.Second,
			ReadHeaderTimeout: 5 * time.Second,
			WriteTimeout:      15 * time.Second,
			IdleTimeout:       60 * time.Second,
			ShutdownTimeout:   30 * time.Second,
		},
		Database: DatabaseConfig{
			MaxOpenConns:    10,
			MaxIdleConns:    2,
			ConnMaxLifetime: 30 * time.Minute,
			ConnectTimeout:  30 * time.Second,
			ConnectAttempts: 5,
			AutoMigrate:     false,
			MigrationsPath:  "file://migrations",
		},
		Redis: RedisConfig{
			CacheTTL: 5 * time.Minute,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
		Queue: QueueConfig{
			Enabled:            true,
			BatchSize:          20,
			RetryInterval:      5 * time.Minute,
			MaxAttempts:        3,
			MaxPerUser:         50,
			ProcessingInterval: 15 * time.Minute,
			StuckTimeout:       30 * time.Minute,
		},
		Digest: DigestConfig{
			Enabled:     true,
			DailyHour:   6,
			WeeklyDay:   "monday",
			WeeklyHour:  6,
			MonthlyDay:  1,
			MonthlyHour: 6,
		},
		Retention: RetentionConfig{
			ReadAfterDays:   30,
			DeleteAfterDays: 90,
		},
		Publisher: PublisherConfig{
			Kind: PublisherNone,
			RabbitMQ: RabbitMQConfig{
				Exchange:        "notifications.direct",
				QueuePrefix:     "notifications",
				DeadLetterQueue: "notifications.dlq",
			},
			Kafka: KafkaConfig{
				Topic:    "notifications",
				ClientID: "notification-queue",
			},
		},
	}
}

// Load builds the configuration. A .env file in the working directory is
// applied to the environment first. path may be empty.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	k := koanf.New(".")

	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("load config file %s: %w", path, err)
		}
	}

	if err := k.Load(env.Provider(EnvPrefix, ".", envKey), nil); err != nil {
		return nil, fmt.Errorf("load environment: %w", err)
	}

	cfg := Default()
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	cfg.Publisher.Kafka.Brokers = splitList(cfg.Publisher.Kafka.Brokers)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// envKey maps NQ_QUEUE__BATCH_SIZE to queue.batch_size.
func envKey(s string) string {
	s = strings.TrimPrefix(s, EnvPrefix)
	return strings.ReplaceAll(strings.ToLower(s), "__", ".")
}

// Validate reports settings that cannot be corrected by Normalize.
func (c *Config) Validate() error {
	if c.Database.URL == "" {
		return errors.New("database.url is required")
	}

	switch c.Publisher.Kind {
	case "", PublisherNone:
	case PublisherRabbitMQ:
		if c.Publisher.RabbitMQ.URL == "" {
			return errors.New("publisher.rabbitmq.url is required for the rabbitmq publisher")
		}
	case PublisherKafka:
		if len(c.Publisher.Kafka.Brokers) == 0 {
			return errors.New("publisher.kafka.brokers is required for the kafka publisher")
		}
	default:
		return fmt.Errorf("unknown publisher kind %q", c.Publisher.Kind)
	}
	return nil
}

// ConfigFilePath returns the config file named by NQ_CONFIG_FILE, if any.
func ConfigFilePath() string {
	return os.Getenv(EnvPrefix + "CONFIG_FILE")
}

// splitList accepts both YAML lists and comma-separated environment values.
func splitList(values []string) []string {
	var result []string
	for _, v := range values {
		for _, part := range strings.Split(v, ",") {
			if part = strings.TrimSpace(part); part != "" {
				result = append(result, part)
			}
		}
	}
	return result
}
