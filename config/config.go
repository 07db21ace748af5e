package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
	"github.com/spf13/viper"

	"github.com/jwalitptl/clinic-ops/pkg/messaging/redis"
	"github.com/jwalitptl/clinic-ops/pkg/worker"
)

// Store drivers.
const (
	StoreDriverMemory   = "memory"
	StoreDriverPostgres = "postgres"
)

type DatabaseConfig struct {
	Host         string `mapstructure:"host" split_words:"true"`
	Port         int    `mapstructure:"port" split_words:"true"`
	User         string `mapstructure:"user" split_words:"true"`
	Password     string `mapstructure:"password" split_words:"true"`
	Name         string `mapstructure:"name" split_words:"true"`
	SSLMode      string `mapstructure:"sslmode" split_words:"true"`
	MaxOpenConns int    `mapstructure:"max_open_conns" split_words:"true"`
	MaxIdleConns int    `mapstructure:"max_idle_conns" split_words:"true"`
}

type ServerConfig struct {
	Port            int           `mapstructure:"port" split_words:"true"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout" split_words:"true"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout" split_words:"true"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" split_words:"true"`
	MaxHeaderBytes  int           `mapstructure:"max_header_bytes" split_words:"true"`
	Mode            string        `mapstructure:"mode" split_words:"true"`
	RequestTimeout  time.Duration `mapstructure:"request_timeout" split_words:"true"`
	MaxBodyBytes    int64         `mapstructure:"max_body_bytes" split_words:"true"`
	AllowedOrigins  []string      `mapstructure:"allowed_origins" split_words:"true"`
	HSTSMaxAge      time.Duration `mapstructure:"hsts_max_age" split_words:"true"`
}

type RedisConfig struct {
	URL          string        `mapstructure:"url" split_words:"true"`
	MaxRetries   int           `mapstructure:"max_retries" split_words:"true"`
	RetryBackoff time.Duration `mapstructure:"retry_backoff" split_words:"true"`
	PoolSize     int           `mapstructure:"pool_size" split_words:"true"`
	MinIdleConns int           `mapstructure:"min_idle_conns" split_words:"true"`
}

// StoreConfig selects the document store backend.
type StoreConfig struct {
	Driver string `mapstructure:"driver" split_words:"true"`
	// ChangeFeed fans commit notifications out over Redis so subscribers in
	// other processes see writes.
	ChangeFeed bool          `mapstructure:"change_feed" split_words:"true"`
	TxRetries  int           `mapstructure:"tx_retries" split_words:"true"`
	CacheTTL   time.Duration `mapstructure:"cache_ttl" split_words:"true"`
}

type JWTConfig struct {
	Secret      string `mapstructure:"secret" split_words:"true"`
	Issuer      string `mapstructure:"issuer" split_words:"true"`
	ExpiryHours int    `mapstructure:"expiry_hours" split_words:"true"`
}

type RateLimitConfig struct {
	Enabled           bool    `mapstructure:"enabled" split_words:"true"`
	RequestsPerSecond float64 `mapstructure:"requests_per_second" split_words:"true"`
	Burst             int     `mapstructure:"burst" split_words:"true"`
}

type OutboxConfig struct {
	BatchSize     int           `mapstructure:"batch_size" split_words:"true"`
	PollInterval  time.Duration `mapstructure:"poll_interval" split_words:"true"`
	RetryAttempts int           `mapstructure:"retry_attempts" split_words:"true"`
	RetryDelay    time.Duration `mapstructure:"retry_delay" split_words:"true"`
	Channel       string        `mapstructure:"channel" split_words:"true"`

	// Retention is how long processed events are kept before cleanup.
	Retention       time.Duration `mapstructure:"retention" split_words:"true"`
	CleanupInterval time.Duration `mapstructure:"cleanup_interval" split_words:"true"`
	HealthPort      int           `mapstructure:"health_port" split_words:"true"`
}

type SMTPConfig struct {
	Enabled  bool   `mapstructure:"enabled" split_words:"true"`
	Host     string `mapstructure:"host" split_words:"true"`
	Port     int    `mapstructure:"port" split_words:"true"`
	Username string `mapstructure:"username" split_words:"true"`
	Password string `mapstructure:"password" split_words:"true"`
	From     string `mapstructure:"from" split_words:"true"`
	// ChargeNurse receives complication alerts.
	ChargeNurse string `mapstructure:"charge_nurse" split_words:"true"`
}

// AuthConfig seeds the first administrator when the staff collection is empty.
type AuthConfig struct {
	BootstrapEmail    string `mapstructure:"bootstrap_email" split_words:"true"`
	BootstrapPassword string `mapstructure:"bootstrap_password" split_words:"true"`
	BootstrapName     string `mapstructure:"bootstrap_name" split_words:"true"`
}

type LogConfig struct {
	Level string `mapstructure:"level" split_words:"true"`
}

type MonitoringConfig struct {
	PrometheusEnabled bool   `mapstructure:"prometheus_enabled" split_words:"true"`
	MetricsPath       string `mapstructure:"metrics_path" split_words:"true"`
	Namespace         string `mapstructure:"namespace" split_words:"true"`
}

type Config struct {
	Server     ServerConfig     `mapstructure:"server" split_words:"true"`
	Database   DatabaseConfig   `mapstructure:"database" split_words:"true"`
	Redis      RedisConfig      `mapstructure:"redis" split_words:"true"`
	Store      StoreConfig      `mapstructure:"store" split_words:"true"`
	JWT        JWTConfig        `mapstructure:"jwt" split_words:"true"`
	RateLimit  RateLimitConfig  `mapstructure:"rate_limit" split_words:"true"`
	Outbox     OutboxConfig     `mapstructure:"outbox" split_words:"true"`
	SMTP       SMTPConfig       `mapstructure:"smtp" split_words:"true"`
	Auth       AuthConfig       `mapstructure:"auth" split_words:"true"`
	Log        LogConfig        `mapstructure:"log" split_words:"true"`
	Monitoring MonitoringConfig `mapstructure:"monitoring" split_words:"true"`
}

// EnvPrefix is the prefix of environment overrides, e.g. CLINIC_DATABASE_HOST.
const EnvPrefix = "clinic"

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", 15*time.Second)
	v.SetDefault("server.write_timeout", 15*time.Second)
	v.SetDefault("server.shutdown_timeout", 10*time.Second)
	v.SetDefault("server.max_header_bytes", 1<<20)
	v.SetDefault("server.mode", "release")
	v.SetDefault("server.request_timeout", 10*time.Second)
	v.SetDefault("server.max_body_bytes", 1<<20)
	v.SetDefault("server.allowed_origins", []string{"*"})
	v.SetDefault("server.hsts_max_age", 8760*time.Hour)

	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.name", "clinic")
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("database.max_open_conns", 25)
	v.SetDefault("database.max_idle_conns", 5)

	v.SetDefault("redis.url", "redis://localhost:6379/0")
	v.SetDefault("redis.max_retries", 3)
	v.SetDefault("redis.retry_backoff", 100*time.Millisecond)
	v.SetDefault("redis.pool_size", 10)
	v.SetDefault("redis.min_idle_conns", 2)

	v.SetDefault("store.driver", StoreDriverMemory)
	v.SetDefault("store.change_feed", false)
	v.SetDefault("store.tx_retries", 5)
	v.SetDefault("store.cache_ttl", 10*time.Minute)

	v.SetDefault("jwt.issuer", "clinic-ops")
	v.SetDefault("jwt.expiry_hours", 12)

	v.SetDefault("rate_limit.enabled", true)
	v.SetDefault("rate_limit.requests_per_second", 20)
	v.SetDefault("rate_limit.burst", 40)

	v.SetDefault("outbox.batch_size", 100)
	v.SetDefault("outbox.poll_interval", 2*time.Second)
	v.SetDefault("outbox.retry_attempts", 3)
	v.SetDefault("outbox.retry_delay", 500*time.Millisecond)
	v.SetDefault("outbox.channel", "clinic.events")
	v.SetDefault("outbox.retention", 7*24*time.Hour)
	v.SetDefault("outbox.cleanup_interval", time.Hour)
	v.SetDefault("outbox.health_port", 8081)

	v.SetDefault("smtp.port", 587)
	v.SetDefault("auth.bootstrap_name", "Administrator")

	v.SetDefault("log.level", "info")

	v.SetDefault("monitoring.prometheus_enabled", true)
	v.SetDefault("monitoring.metrics_path", "/metrics")
	v.SetDefault("monitoring.namespace", "clinic_ops")
}

// LoadConfig reads config.yml from the usual search paths (or CONFIG_FILE)
// and then applies CLINIC_* environment overrides. A missing file is not an
// error; defaults and the environment are enough to boot.
func LoadConfig() (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if file := os.Getenv("CONFIG_FILE"); file != "" {
		v.SetConfigFile(file)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yml")
		v.AddConfigPath(".")           // current directory
		v.AddConfigPath("./config")    // config subdirectory
		v.AddConfigPath("/app")        // container root directory
		v.AddConfigPath("/app/config") // container config directory
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("failed to apply environment overrides: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks settings that would otherwise fail late at runtime.
func (c *Config) Validate() error {
	switch strings.ToLower(c.Store.Driver) {
	case StoreDriverMemory, StoreDriverPostgres:
	default:
		return fmt.Errorf("unsupported store driver %q", c.Store.Driver)
	}
	if c.JWT.Secret == "" {
		return fmt.Errorf("jwt.secret is required")
	}
	if c.Outbox.BatchSize <= 0 || c.Outbox.PollInterval <= 0 {
		return fmt.Errorf("outbox batch_size and poll_interval must be positive")
	}
	if c.Outbox.Retention <= 0 || c.Outbox.CleanupInterval <= 0 {
		return fmt.Errorf("outbox retention and cleanup_interval must be positive")
	}
	return nil
}

// DSN builds a lib/pq connection string.
func (c DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host,
		c.Port,
		c.User,
		c.Password,
		c.Name,
		c.SSLMode,
	)
}

// Add conversion methods to convert config types
func (c *OutboxConfig) ToWorkerConfig() worker.OutboxProcessorConfig {
	return worker.OutboxProcessorConfig{
		BatchSize:     c.BatchSize,
		PollInterval:  c.PollInterval,
		RetryAttempts: c.RetryAttempts,
		RetryDelay:    c.RetryDelay,
		Channel:       c.Channel,
	}
}

func (c *RedisConfig) ToBrokerConfig() redis.Config {
	return redis.Config{
		URL:          c.URL,
		MaxRetries:   c.MaxRetries,
		RetryBackoff: c.RetryBackoff,
		PoolSize:     c.PoolSize,
		MinIdleConns: c.MinIdleConns,
	}
}
