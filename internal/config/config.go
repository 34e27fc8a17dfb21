// Package config provides application configuration loading and management.
package config

import (
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds application configuration values loaded from file or environment variables.
type Config struct {
	JWTSecret      string `mapstructure:"JWT_SECRET"`
	Port           string `mapstructure:"PORT"`
	DBHost         string `mapstructure:"DB_HOST"`
	DBPort         string `mapstructure:"DB_PORT"`
	DBUser         string `mapstructure:"DB_USER"`
	DBPassword     string `mapstructure:"DB_PASSWORD"`
	DBName         string `mapstructure:"DB_NAME"`
	DBSSLMode      string `mapstructure:"DB_SSLMODE"`
	DBReadHost     string `mapstructure:"DB_READ_HOST"`
	DBReadPort     string `mapstructure:"DB_READ_PORT"`
	DBReadUser     string `mapstructure:"DB_READ_USER"`
	DBReadPassword string `mapstructure:"DB_READ_PASSWORD"`
	RedisURL       string `mapstructure:"REDIS_URL"`
	AllowedOrigins string `mapstructure:"ALLOWED_ORIGINS"`
	FeatureFlags   string `mapstructure:"FEATURE_FLAGS"`
	Env            string `mapstructure:"APP_ENV"`

	DBMaxOpenConns                int    `mapstructure:"DB_MAX_OPEN_CONNS"`
	DBMaxIdleConns                int    `mapstructure:"DB_MAX_IDLE_CONNS"`
	DBConnMaxLifetimeMinutes      int    `mapstructure:"DB_CONN_MAX_LIFETIME_MINUTES"`
	DBSchemaMode                  string `mapstructure:"DB_SCHEMA_MODE"`
	DBAutoMigrateAllowDestructive bool   `mapstructure:"DB_AUTOMIGRATE_ALLOW_DESTRUCTIVE"`

	// Reservation admission
	SlotCapacity         int `mapstructure:"SLOT_CAPACITY"`
	SellerReservedLimit  int `mapstructure:"SELLER_RESERVED_LIMIT"`
	SlotMinutes          int `mapstructure:"SLOT_MINUTES"`
	LockWaitMillis       int `mapstructure:"LOCK_WAIT_MILLIS"`
	LockTTLMillis        int `mapstructure:"LOCK_TTL_MILLIS"`
	ReservableOpenHour   int `mapstructure:"RESERVABLE_OPEN_HOUR"`
	ReservableCloseHour  int `mapstructure:"RESERVABLE_CLOSE_HOUR"`
	ScheduledLengthMin   int `mapstructure:"SCHEDULED_LENGTH_MINUTES"`
	ReadyWindowMinutes   int `mapstructure:"READY_WINDOW_MINUTES"`
	NoShowGraceMinutes   int `mapstructure:"NO_SHOW_GRACE_MINUTES"`
	NoticeMarkerTTLHours int `mapstructure:"NOTICE_MARKER_TTL_HOURS"`

	// Recording retry policy
	StartRetryMaxAttempts    int    `mapstructure:"RECORDING_START_RETRY_MAX_ATTEMPTS"`
	StartRetryBaseSeconds    int    `mapstructure:"RECORDING_START_RETRY_BASE_SECONDS"`
	StartRetryTTLMinutes     int    `mapstructure:"RECORDING_START_RETRY_TTL_MINUTES"`
	FinalizeRetryMaxAttempts int    `mapstructure:"RECORDING_RETRY_MAX_ATTEMPTS"`
	FinalizeRetryBaseSeconds int    `mapstructure:"RECORDING_RETRY_BASE_SECONDS"`
	FinalizeRetryTTLMinutes  int    `mapstructure:"RECORDING_RETRY_TTL_MINUTES"`
	RetryQueueBatch          int    `mapstructure:"RETRY_QUEUE_BATCH"`
	VodUploadAttempts        int    `mapstructure:"VOD_UPLOAD_ATTEMPTS"`
	VodUploadBackoffMillis   int    `mapstructure:"VOD_UPLOAD_BACKOFF_MILLIS"`
	VodRetentionDays         int    `mapstructure:"VOD_RETENTION_DAYS"`
	ProviderTimeoutSeconds   int    `mapstructure:"PROVIDER_TIMEOUT_SECONDS"`
	AdminVodDir              string `mapstructure:"ADMIN_VOD_DIR"`

	// Background job intervals
	ScheduleSyncSeconds  int `mapstructure:"SCHEDULE_SYNC_SECONDS"`
	FinalizeQueueSeconds int `mapstructure:"FINALIZE_QUEUE_SECONDS"`
	StartQueueSeconds    int `mapstructure:"START_QUEUE_SECONDS"`
	RecoverySeconds      int `mapstructure:"RECOVERY_SECONDS"`
	VodStatsFlushSeconds int `mapstructure:"VOD_STATS_FLUSH_SECONDS"`
	VodPurgeHour         int `mapstructure:"VOD_PURGE_HOUR"`

	TracingEnabled    bool    `mapstructure:"TRACING_ENABLED"`
	TracingExporter   string  `mapstructure:"TRACING_EXPORTER"`
	TracingEndpoint   string  `mapstructure:"TRACING_ENDPOINT"`
	TracingSampleRate float64 `mapstructure:"TRACING_SAMPLE_RATE"`
}

// LoadConfig loads application configuration from file and environment variables.
func LoadConfig() (*Config, error) {
	viper.AddConfigPath(".")
	viper.AddConfigPath("..")
	viper.AddConfigPath("../..")
	viper.SetConfigName("config")
	viper.SetConfigType("yml")
	viper.AutomaticEnv()

	// The base file is optional.
	_ = viper.ReadInConfig()

	env := viper.GetString("APP_ENV")
	if env == "" {
		env = "development"
	}

	if env != "development" && env != "" {
		viper.SetConfigName("config." + env)
		if err := viper.MergeInConfig(); err != nil {
			return nil, fmt.Errorf("required profile-specific config 'config.%s.yml' not found: %w", env, err)
		}
		log.Printf("Loaded profile-specific configuration: config.%s.yml", env)
	}

	setDefaults()

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("unable to decode config into struct: %w", err)
	}
	config.DBSSLMode = strings.ToLower(strings.TrimSpace(config.DBSSLMode))

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &config, nil
}

func setDefaults() {
	viper.SetDefault("PORT", "8375")
	viper.SetDefault("DB_HOST", "localhost")
	viper.SetDefault("DB_PORT", "5432")
	viper.SetDefault("DB_USER", "user")
	viper.SetDefault("DB_PASSWORD", "password")
	viper.SetDefault("DB_NAME", "livecommerce")
	viper.SetDefault("DB_READ_HOST", "")
	viper.SetDefault("DB_READ_PORT", "5432")
	viper.SetDefault("DB_READ_USER", "user")
	viper.SetDefault("DB_READ_PASSWORD", "password")
	viper.SetDefault("DB_MAX_OPEN_CONNS", 25)
	viper.SetDefault("DB_MAX_IDLE_CONNS", 5)
	viper.SetDefault("DB_CONN_MAX_LIFETIME_MINUTES", 5)
	viper.SetDefault("DB_SCHEMA_MODE", "hybrid")
	viper.SetDefault("REDIS_URL", "localhost:6379")
	viper.SetDefault("JWT_SECRET", "your-secret-key-change-in-production")
	viper.SetDefault("ALLOWED_ORIGINS", "http://localhost:5173,http://localhost:3000,http://127.0.0.1:5173")
	viper.SetDefault("FEATURE_FLAGS", "")
	viper.SetDefault("APP_ENV", "development")
	viper.SetDefault("DB_SSLMODE", "disable")

	viper.SetDefault("SLOT_CAPACITY", 3)
	viper.SetDefault("SELLER_RESERVED_LIMIT", 7)
	viper.SetDefault("SLOT_MINUTES", 30)
	viper.SetDefault("LOCK_WAIT_MILLIS", 3000)
	viper.SetDefault("LOCK_TTL_MILLIS", 3000)
	viper.SetDefault("RESERVABLE_OPEN_HOUR", 10)
	viper.SetDefault("RESERVABLE_CLOSE_HOUR", 23)
	viper.SetDefault("SCHEDULED_LENGTH_MINUTES", 30)
	viper.SetDefault("READY_WINDOW_MINUTES", 3)
	viper.SetDefault("NO_SHOW_GRACE_MINUTES", 10)
	viper.SetDefault("NOTICE_MARKER_TTL_HOURS", 2)

	viper.SetDefault("RECORDING_START_RETRY_MAX_ATTEMPTS", 10)
	viper.SetDefault("RECORDING_START_RETRY_BASE_SECONDS", 5)
	viper.SetDefault("RECORDING_START_RETRY_TTL_MINUTES", 30)
	viper.SetDefault("RECORDING_RETRY_MAX_ATTEMPTS", 5)
	viper.SetDefault("RECORDING_RETRY_BASE_SECONDS", 30)
	viper.SetDefault("RECORDING_RETRY_TTL_MINUTES", 360)
	viper.SetDefault("RETRY_QUEUE_BATCH", 20)
	viper.SetDefault("VOD_UPLOAD_ATTEMPTS", 3)
	viper.SetDefault("VOD_UPLOAD_BACKOFF_MILLIS", 1000)
	viper.SetDefault("VOD_RETENTION_DAYS", 3)
	viper.SetDefault("PROVIDER_TIMEOUT_SECONDS", 10)
	viper.SetDefault("ADMIN_VOD_DIR", "./data/admin-vods")

	viper.SetDefault("SCHEDULE_SYNC_SECONDS", 60)
	viper.SetDefault("FINALIZE_QUEUE_SECONDS", 30)
	viper.SetDefault("START_QUEUE_SECONDS", 5)
	viper.SetDefault("RECOVERY_SECONDS", 300)
	viper.SetDefault("VOD_STATS_FLUSH_SECONDS", 10)
	viper.SetDefault("VOD_PURGE_HOUR", 3)

	viper.SetDefault("TRACING_ENABLED", false)
	viper.SetDefault("TRACING_EXPORTER", "stdout")
	viper.SetDefault("TRACING_SAMPLE_RATE", 1.0)
}

// Validate ensures that required configuration values are present and meet security standards.
func (c *Config) Validate() error {
	if c.Port == "" {
		return errors.New("PORT is required")
	}
	if c.JWTSecret == "" {
		return errors.New("JWT_SECRET is required")
	}
	if c.SlotCapacity <= 0 || c.SellerReservedLimit <= 0 || c.SlotMinutes <= 0 {
		return errors.New("SLOT_CAPACITY, SELLER_RESERVED_LIMIT and SLOT_MINUTES must be positive")
	}
	if c.ReservableOpenHour < 0 || c.ReservableCloseHour > 24 || c.ReservableOpenHour >= c.ReservableCloseHour {
		return fmt.Errorf("reservable hours %d-%d are invalid", c.ReservableOpenHour, c.ReservableCloseHour)
	}
	if c.StartRetryMaxAttempts <= 0 || c.FinalizeRetryMaxAttempts <= 0 {
		return errors.New("recording retry attempts must be positive")
	}

	isProduction := c.IsProduction()

	if isProduction {
		if c.JWTSecret == "your-secret-key-change-in-production" {
			return errors.New("JWT_SECRET must be changed from the default value in production")
		}
		if len(c.JWTSecret) < 32 {
			return errors.New("JWT_SECRET must be at least 32 characters in production")
		}
		if c.DBPassword == "password" || c.DBPassword == "" {
			return errors.New("a strong DB_PASSWORD is required in production")
		}
		if c.DBSSLMode == "disable" || c.DBSSLMode == "" {
			return errors.New("DB_SSLMODE must enable SSL in production")
		}
		if c.AllowedOrigins == "*" {
			log.Println("WARNING: ALLOWED_ORIGINS is set to '*' in production. This is insecure.")
		}
	} else if len(c.JWTSecret) < 32 {
		log.Println("WARNING: JWT_SECRET is shorter than 32 characters. Consider using a stronger secret for production.")
	}

	return nil
}

// IsProduction reports whether the service runs with production safeguards.
func (c *Config) IsProduction() bool {
	return c.Env == "production" || c.Env == "prod"
}

// SlotLength is the width of one reservation slot.
func (c *Config) SlotLength() time.Duration {
	return time.Duration(c.SlotMinutes) * time.Minute
}

// LockWait bounds how long admission waits for any single lock.
func (c *Config) LockWait() time.Duration {
	return time.Duration(c.LockWaitMillis) * time.Millisecond
}

// LockTTL is the expiry of cache locks.
func (c *Config) LockTTL() time.Duration {
	return time.Duration(c.LockTTLMillis) * time.Millisecond
}

// RetrySettings bounds one retry queue.
type RetrySettings struct {
	MaxAttempts int
	BaseDelay   time.Duration
	AttemptTTL  time.Duration
}

// StartRetry is the policy for recording starts the provider rejected.
func (c *Config) StartRetry() RetrySettings {
	return RetrySettings{
		MaxAttempts: c.StartRetryMaxAttempts,
		BaseDelay:   seconds(c.StartRetryBaseSeconds),
		AttemptTTL:  minutes(c.StartRetryTTLMinutes),
	}
}

// FinalizeRetry is the policy for recordings not yet ready at the provider.
func (c *Config) FinalizeRetry() RetrySettings {
	return RetrySettings{
		MaxAttempts: c.FinalizeRetryMaxAttempts,
		BaseDelay:   seconds(c.FinalizeRetryBaseSeconds),
		AttemptTTL:  minutes(c.FinalizeRetryTTLMinutes),
	}
}

// Intervals are the tick periods of the background jobs.
type Intervals struct {
	ScheduleSync  time.Duration
	FinalizeQueue time.Duration
	StartQueue    time.Duration
	Recovery      time.Duration
	VodStatsFlush time.Duration
	VodPurgeHour  int
}

// JobIntervals collects the background job periods.
func (c *Config) JobIntervals() Intervals {
	return Intervals{
		ScheduleSync:  seconds(c.ScheduleSyncSeconds),
		FinalizeQueue: seconds(c.FinalizeQueueSeconds),
		StartQueue:    seconds(c.StartQueueSeconds),
		Recovery:      seconds(c.RecoverySeconds),
		VodStatsFlush: seconds(c.VodStatsFlushSeconds),
		VodPurgeHour:  c.VodPurgeHour,
	}
}

func seconds(n int) time.Duration { return time.Duration(n) * time.Second }

func minutes(n int) time.Duration { return time.Duration(n) * time.Minute }
