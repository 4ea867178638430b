package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all application configuration
type Config struct {
	App      AppConfig      `mapstructure:"app"`
	Server   ServerConfig   `mapstructure:"server"`
	Database DatabaseConfig `mapstructure:"database"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Kafka    KafkaConfig    `mapstructure:"kafka"`
	OTel     OTelConfig     `mapstructure:"otel"`
	Waitlist WaitlistConfig `mapstructure:"waitlist"`
	Reminder ReminderConfig `mapstructure:"reminder"`
	Backends BackendsConfig `mapstructure:"backends"`
	Admin    AdminConfig    `mapstructure:"admin"`
	Auth     AuthConfig     `mapstructure:"auth"`
}

// AppConfig holds application-level settings
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Environment string `mapstructure:"environment"` // development, staging, production
	Version     string `mapstructure:"version"`
	LogLevel    string `mapstructure:"log_level"`
	Timezone    string `mapstructure:"timezone"`
}

// ServerConfig holds HTTP server settings
type ServerConfig struct {
	Host         string        `mapstructure:"host"`
	Port         int           `mapstructure:"port"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	IdleTimeout  time.Duration `mapstructure:"idle_timeout"`
}

// DatabaseConfig holds PostgreSQL connection settings
type DatabaseConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	User            string        `mapstructure:"user"`
	Password        string        `mapstructure:"password"`
	DBName          string        `mapstructure:"dbname"`
	SSLMode         string        `mapstructure:"sslmode"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `mapstructure:"conn_max_idle_time"`
}

// RedisConfig holds Redis connection settings
type RedisConfig struct {
	Host         string        `mapstructure:"host"`
	Port         int           `mapstructure:"port"`
	Password     string        `mapstructure:"password"`
	DB           int           `mapstructure:"db"`
	PoolSize     int           `mapstructure:"pool_size"`
	MinIdleConns int           `mapstructure:"min_idle_conns"`
	DialTimeout  time.Duration `mapstructure:"dial_timeout"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

// KafkaConfig holds Kafka/Redpanda connection settings
type KafkaConfig struct {
	Brokers           []string `mapstructure:"brokers"`
	ConsumerGroup     string   `mapstructure:"consumer_group"`
	ClientID          string   `mapstructure:"client_id"`
	NotificationTopic string   `mapstructure:"notification_topic"`
}

// OTelConfig holds OpenTelemetry settings
type OTelConfig struct {
	Enabled       bool    `mapstructure:"enabled"`
	ServiceName   string  `mapstructure:"service_name"`
	CollectorAddr string  `mapstructure:"collector_addr"`
	SampleRatio   float64 `mapstructure:"sample_ratio"`
}

// WaitlistConfig tunes the confirmation round and the expiry sweep
type WaitlistConfig struct {
	ConfirmationWindow time.Duration `mapstructure:"confirmation_window"`
	SweepInterval      time.Duration `mapstructure:"sweep_interval"`
	BroadcastMode      string        `mapstructure:"broadcast_mode"` // all, seats
	InvariantMode      string        `mapstructure:"invariant_mode"` // strict, heal
	NotifyTimeout      time.Duration `mapstructure:"notify_timeout"`
}

// ReminderConfig controls the upcoming-workshop reminder job
type ReminderConfig struct {
	Enabled  bool          `mapstructure:"enabled"`
	Interval time.Duration `mapstructure:"interval"`
}

// BackendsConfig selects adapters at startup
type BackendsConfig struct {
	Store    string        `mapstructure:"store"`    // postgres, memory
	Lock     string        `mapstructure:"lock"`     // local, redis
	Notifier string        `mapstructure:"notifier"` // kafka, log
	LockTTL  time.Duration `mapstructure:"lock_ttl"`
}

// AdminConfig lists user ids allowed on admin routes
type AdminConfig struct {
	UserIDs []string `mapstructure:"user_ids"`
}

// AuthConfig selects how callers are identified. With an empty secret the
// X-User-ID header set by the bot gateway is trusted.
type AuthConfig struct {
	JWTSecret string `mapstructure:"jwt_secret"`
}

// Load loads configuration from environment variables and an optional .env file
func Load() (*Config, error) {
	v := viper.New()

	v.SetConfigFile(".env")
	v.SetConfigType("env")

	// .env is optional, environment variables win anyway
	_ = v.ReadInConfig()

	return load(v)
}

func load(v *viper.Viper) (*Config, error) {
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	setDefaults(v)

	cfg := &Config{}
	bindConfig(v, cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	// App defaults
	v.SetDefault("APP_NAME", "workshop-service")
	v.SetDefault("APP_ENVIRONMENT", "development")
	v.SetDefault("APP_VERSION", "1.0.0")
	v.SetDefault("APP_LOG_LEVEL", "info")
	v.SetDefault("APP_TIMEZONE", "UTC")

	// Server defaults
	v.SetDefault("SERVER_HOST", "0.0.0.0")
	v.SetDefault("SERVER_PORT", 8080)
	v.SetDefault("SERVER_READ_TIMEOUT", "30s")
	v.SetDefault("SERVER_WRITE_TIMEOUT", "30s")
	v.SetDefault("SERVER_IDLE_TIMEOUT", "120s")

	// Database defaults
	v.SetDefault("DATABASE_HOST", "localhost")
	v.SetDefault("DATABASE_PORT", 5432)
	v.SetDefault("DATABASE_USER", "postgres")
	v.SetDefault("DATABASE_PASSWORD", "postgres")
	v.SetDefault("DATABASE_DBNAME", "workshops")
	v.SetDefault("DATABASE_SSLMODE", "disable")
	v.SetDefault("DATABASE_MAX_OPEN_CONNS", 25)
	v.SetDefault("DATABASE_MAX_IDLE_CONNS", 5)
	v.SetDefault("DATABASE_CONN_MAX_LIFETIME", "1h")
	v.SetDefault("DATABASE_CONN_MAX_IDLE_TIME", "30m")

	// Redis defaults
	v.SetDefault("REDIS_HOST", "localhost")
	v.SetDefault("REDIS_PORT", 6379)
	v.SetDefault("REDIS_PASSWORD", "")
	v.SetDefault("REDIS_DB", 0)
	v.SetDefault("REDIS_POOL_SIZE", 20)
	v.SetDefault("REDIS_MIN_IDLE_CONNS", 2)
	v.SetDefault("REDIS_DIAL_TIMEOUT", "5s")
	v.SetDefault("REDIS_READ_TIMEOUT", "3s")
	v.SetDefault("REDIS_WRITE_TIMEOUT", "3s")

	// Kafka defaults
	v.SetDefault("KAFKA_BROKERS", "localhost:9092")
	v.SetDefault("KAFKA_CONSUMER_GROUP", "workshop-notification-worker")
	v.SetDefault("KAFKA_CLIENT_ID", "workshop-service")
	v.SetDefault("KAFKA_NOTIFICATION_TOPIC", "workshop.notifications")

	// OTel defaults
	v.SetDefault("OTEL_ENABLED", false)
	v.SetDefault("OTEL_SERVICE_NAME", "workshop-service")
	v.SetDefault("OTEL_COLLECTOR_ADDR", "localhost:4317")
	v.SetDefault("OTEL_SAMPLE_RATIO", 1.0)

	// Waitlist defaults
	v.SetDefault("WAITLIST_CONFIRMATION_WINDOW", "15m")
	v.SetDefault("WAITLIST_SWEEP_INTERVAL", "60s")
	v.SetDefault("WAITLIST_BROADCAST_MODE", "all")
	v.SetDefault("WAITLIST_INVARIANT_MODE", "")
	v.SetDefault("WAITLIST_NOTIFY_TIMEOUT", "5s")

	// Reminder defaults
	v.SetDefault("REMINDER_ENABLED", true)
	v.SetDefault("REMINDER_INTERVAL", "1h")

	// Backend defaults
	v.SetDefault("BACKENDS_STORE", "postgres")
	v.SetDefault("BACKENDS_LOCK", "local")
	v.SetDefault("BACKENDS_NOTIFIER", "kafka")
	v.SetDefault("BACKENDS_LOCK_TTL", "10s")

	v.SetDefault("ADMIN_USER_IDS", "")
	v.SetDefault("AUTH_JWT_SECRET", "")
}

func bindConfig(v *viper.Viper, cfg *Config) {
	// App
	cfg.App.Name = v.GetString("APP_NAME")
	cfg.App.Environment = v.GetString("APP_ENVIRONMENT")
	cfg.App.Version = v.GetString("APP_VERSION")
	cfg.App.LogLevel = v.GetString("APP_LOG_LEVEL")
	cfg.App.Timezone = v.GetString("APP_TIMEZONE")

	// Server
	cfg.Server.Host = v.GetString("SERVER_HOST")
	cfg.Server.Port = v.GetInt("SERVER_PORT")
	cfg.Server.ReadTimeout = v.GetDuration("SERVER_READ_TIMEOUT")
	cfg.Server.WriteTimeout = v.GetDuration("SERVER_WRITE_TIMEOUT")
	cfg.Server.IdleTimeout = v.GetDuration("SERVER_IDLE_TIMEOUT")

	// Database
	cfg.Database.Host = v.GetString("DATABASE_HOST")
	cfg.Database.Port = v.GetInt("DATABASE_PORT")
	cfg.Database.User = v.GetString("DATABASE_USER")
	cfg.Database.Password = v.GetString("DATABASE_PASSWORD")
	cfg.Database.DBName = v.GetString("DATABASE_DBNAME")
	cfg.Database.SSLMode = v.GetString("DATABASE_SSLMODE")
	cfg.Database.MaxOpenConns = v.GetInt("DATABASE_MAX_OPEN_CONNS")
	cfg.Database.MaxIdleConns = v.GetInt("DATABASE_MAX_IDLE_CONNS")
	cfg.Database.ConnMaxLifetime = v.GetDuration("DATABASE_CONN_MAX_LIFETIME")
	cfg.Database.ConnMaxIdleTime = v.GetDuration("DATABASE_CONN_MAX_IDLE_TIME")

	// Redis
	cfg.Redis.Host = v.GetString("REDIS_HOST")
	cfg.Redis.Port = v.GetInt("REDIS_PORT")
	cfg.Redis.Password = v.GetString("REDIS_PASSWORD")
	cfg.Redis.DB = v.GetInt("REDIS_DB")
	cfg.Redis.PoolSize = v.GetInt("REDIS_POOL_SIZE")
	cfg.Redis.MinIdleConns = v.GetInt("REDIS_MIN_IDLE_CONNS")
	cfg.Redis.DialTimeout = v.GetDuration("REDIS_DIAL_TIMEOUT")
	cfg.Redis.ReadTimeout = v.GetDuration("REDIS_READ_TIMEOUT")
	cfg.Redis.WriteTimeout = v.GetDuration("REDIS_WRITE_TIMEOUT")

	// Kafka
	cfg.Kafka.Brokers = splitList(v.GetString("KAFKA_BROKERS"))
	cfg.Kafka.ConsumerGroup = v.GetString("KAFKA_CONSUMER_GROUP")
	cfg.Kafka.ClientID = v.GetString("KAFKA_CLIENT_ID")
	cfg.Kafka.NotificationTopic = v.GetString("KAFKA_NOTIFICATION_TOPIC")

	// OTel
	cfg.OTel.Enabled = v.GetBool("OTEL_ENABLED")
	cfg.OTel.ServiceName = v.GetString("OTEL_SERVICE_NAME")
	cfg.OTel.CollectorAddr = v.GetString("OTEL_COLLECTOR_ADDR")
	cfg.OTel.SampleRatio = v.GetFloat64("OTEL_SAMPLE_RATIO")

	// Waitlist
	cfg.Waitlist.ConfirmationWindow = v.GetDuration("WAITLIST_CONFIRMATION_WINDOW")
	cfg.Waitlist.SweepInterval = v.GetDuration("WAITLIST_SWEEP_INTERVAL")
	cfg.Waitlist.BroadcastMode = strings.ToLower(v.GetString("WAITLIST_BROADCAST_MODE"))
	cfg.Waitlist.InvariantMode = strings.ToLower(v.GetString("WAITLIST_INVARIANT_MODE"))
	cfg.Waitlist.NotifyTimeout = v.GetDuration("WAITLIST_NOTIFY_TIMEOUT")
	if cfg.Waitlist.InvariantMode == "" {
		// strict in development, self-healing everywhere else
		cfg.Waitlist.InvariantMode = "heal"
		if cfg.IsDevelopment() {
			cfg.Waitlist.InvariantMode = "strict"
		}
	}

	// Reminder
	cfg.Reminder.Enabled = v.GetBool("REMINDER_ENABLED")
	cfg.Reminder.Interval = v.GetDuration("REMINDER_INTERVAL")

	// Backends
	cfg.Backends.Store = strings.ToLower(v.GetString("BACKENDS_STORE"))
	cfg.Backends.Lock = strings.ToLower(v.GetString("BACKENDS_LOCK"))
	cfg.Backends.Notifier = strings.ToLower(v.GetString("BACKENDS_NOTIFIER"))
	cfg.Backends.LockTTL = v.GetDuration("BACKENDS_LOCK_TTL")

	cfg.Admin.UserIDs = splitList(v.GetString("ADMIN_USER_IDS"))
	cfg.Auth.JWTSecret = v.GetString("AUTH_JWT_SECRET")
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.App.Name == "" {
		return fmt.Errorf("app name is required")
	}

	if _, err := time.LoadLocation(c.App.Timezone); err != nil {
		return fmt.Errorf("invalid app timezone %q: %w", c.App.Timezone, err)
	}

	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}

	if c.Waitlist.ConfirmationWindow <= 0 {
		return fmt.Errorf("waitlist confirmation window must be positive")
	}

	if c.Waitlist.NotifyTimeout <= 0 {
		return fmt.Errorf("waitlist notify timeout must be positive")
	}

	if c.Waitlist.SweepInterval <= 0 {
		return fmt.Errorf("waitlist sweep interval must be positive")
	}

	switch c.Waitlist.BroadcastMode {
	case "all", "seats":
	default:
		return fmt.Errorf("invalid waitlist broadcast mode: %q", c.Waitlist.BroadcastMode)
	}

	switch c.Waitlist.InvariantMode {
	case "strict", "heal":
	default:
		return fmt.Errorf("invalid waitlist invariant mode: %q", c.Waitlist.InvariantMode)
	}

	if c.Reminder.Enabled && c.Reminder.Interval <= 0 {
		return fmt.Errorf("reminder interval must be positive")
	}

	switch c.Backends.Store {
	case "postgres", "memory":
	default:
		return fmt.Errorf("invalid store backend: %q", c.Backends.Store)
	}

	switch c.Backends.Lock {
	case "local", "redis":
	default:
		return fmt.Errorf("invalid lock backend: %q", c.Backends.Lock)
	}

	switch c.Backends.Notifier {
	case "kafka", "log":
	default:
		return fmt.Errorf("invalid notifier backend: %q", c.Backends.Notifier)
	}

	if c.Backends.Notifier == "kafka" && len(c.Kafka.Brokers) == 0 {
		return fmt.Errorf("kafka brokers are required for the kafka notifier")
	}

	return nil
}

// Location returns the time zone user-facing times are rendered in
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.App.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// IsDevelopment returns true if running in development mode
func (c *Config) IsDevelopment() bool {
	return c.App.Environment == "development"
}

// IsProduction returns true if running in production mode
func (c *Config) IsProduction() bool {
	return c.App.Environment == "production"
}
