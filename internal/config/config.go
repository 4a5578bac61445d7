package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config top-level struct
type Config struct {
	Server      ServerConfig      `yaml:"server"`
	Log         LogConfig         `yaml:"log"`
	Postgres    PostgresConfig    `yaml:"postgres"`
	Redis       RedisConfig       `yaml:"redis"`
	Kafka       KafkaConfig       `yaml:"kafka"`
	RateLimit   RateLimitConfig   `yaml:"ratelimit"`
	Relay       RelayConfig       `yaml:"relay"`
	Consumer    ConsumerConfig    `yaml:"consumer"`
	Transaction TransactionConfig `yaml:"transaction"`
}

type ServerConfig struct {
	Port        int `yaml:"port"`
	MetricsPort int `yaml:"metrics_port"`
}

type LogConfig struct {
	Level string `yaml:"level"`
}

type PostgresConfig struct {
	DSN string `yaml:"dsn"`
}

type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

type KafkaConfig struct {
	Brokers         []string `yaml:"brokers"`
	GroupID         string   `yaml:"group_id"`
	DeadLetterTopic string   `yaml:"dead_letter_topic"`
}

type RateLimitConfig struct {
	RPS   int `yaml:"rps"`
	Burst int `yaml:"burst"`
}

// RelayConfig tunes the outbox poller.
type RelayConfig struct {
	Interval         time.Duration `yaml:"interval"`
	StaleAfter       time.Duration `yaml:"stale_after"`
	MaxClaimsPerTick int           `yaml:"max_claims_per_tick"`
}

// ConsumerConfig tunes redelivery and idempotency retention.
type ConsumerConfig struct {
	MaxDeliveries  int           `yaml:"max_deliveries"`
	InitialBackoff time.Duration `yaml:"initial_backoff"`
	MaxBackoff     time.Duration `yaml:"max_backoff"`
	Retention      time.Duration `yaml:"retention"`
	PurgeInterval  time.Duration `yaml:"purge_interval"`
}

// TransactionConfig bounds transaction and commit retries.
type TransactionConfig struct {
	MaxAttempts      int           `yaml:"max_attempts"`
	MaxCommitRetries int           `yaml:"max_commit_retries"`
	InitialBackoff   time.Duration `yaml:"initial_backoff"`
}

// Load reads yaml file, applies environment overrides and fills defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	cfg.applyEnv()
	cfg.Normalize()
	return &cfg, nil
}

func (c *Config) applyEnv() {
	// override DSN password from env if present
	if pw := os.Getenv("POSTGRES_PASSWORD"); pw != "" {
		c.Postgres.DSN = c.Postgres.DSN + " password=" + pw
	}
	if addr := os.Getenv("REDIS_ADDR"); addr != "" {
		c.Redis.Addr = addr
	}
	if brokers := os.Getenv("KAFKA_BROKERS"); brokers != "" {
		c.Kafka.Brokers = strings.Split(brokers, ",")
	}
}

// Normalize fills zero values with defaults.
func (c *Config) Normalize() {
	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}
	if c.Server.MetricsPort == 0 {
		c.Server.MetricsPort = 9090
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Redis.Addr == "" {
		c.Redis.Addr = "localhost:6379"
	}
	if len(c.Kafka.Brokers) == 0 {
		c.Kafka.Brokers = []string{"localhost:9092"}
	}
	if c.Kafka.GroupID == "" {
		c.Kafka.GroupID = "wallet-events"
	}
	if c.Kafka.DeadLetterTopic == "" {
		c.Kafka.DeadLetterTopic = "events.dlq"
	}
	if c.RateLimit.RPS == 0 {
		c.RateLimit.RPS = 50
	}
	if c.RateLimit.Burst == 0 {
		c.RateLimit.Burst = 100
	}
	if c.Relay.Interval == 0 {
		c.Relay.Interval = 2 * time.Second
	}
	if c.Relay.StaleAfter == 0 {
		c.Relay.StaleAfter = 60 * time.Second
	}
	if c.Relay.MaxClaimsPerTick == 0 {
		c.Relay.MaxClaimsPerTick = 100
	}
	if c.Consumer.MaxDeliveries == 0 {
		c.Consumer.MaxDeliveries = 10
	}
	if c.Consumer.InitialBackoff == 0 {
		c.Consumer.InitialBackoff = 200 * time.Millisecond
	}
	if c.Consumer.MaxBackoff == 0 {
		c.Consumer.MaxBackoff = 30 * time.Second
	}
	if c.Consumer.Retention == 0 {
		c.Consumer.Retention = 30 * 24 * time.Hour
	}
	if c.Consumer.PurgeInterval == 0 {
		c.Consumer.PurgeInterval = time.Hour
	}
	if c.Transaction.MaxAttempts == 0 {
		c.Transaction.MaxAttempts = 3
	}
	if c.Transaction.MaxCommitRetries == 0 {
		c.Transaction.MaxCommitRetries = 3
	}
	if c.Transaction.InitialBackoff == 0 {
		c.Transaction.InitialBackoff = 50 * time.Millisecond
	}
}
