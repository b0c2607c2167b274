package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all configuration for the application
type Config struct {
	// Database
	DatabaseURL string

	// Server
	Port string
	Env  string

	// Threshold monitor
	Monitor MonitorConfig

	// Delivery engine
	Delivery DeliveryConfig

	// Check payment / reservation
	CheckPayment CheckPaymentConfig

	// Encryption
	EncryptionKey  string
	EncryptionSalt string
}

// MonitorConfig holds threshold monitor scheduling configuration
type MonitorConfig struct {
	FastInterval  time.Duration
	InitialDelay  time.Duration
	TimeBasedCron string
	CleanupCron   string
	StaleDays     int
}

// DeliveryConfig holds delivery engine configuration
type DeliveryConfig struct {
	Enabled         bool
	AutoRetry       bool
	MaxRetries      int
	SchedulerCron   string
	RetryCron       string
	BatchSize       int
	SftpTimeout     time.Duration
	InsecureHostKey bool
}

// CheckPaymentConfig holds check lifecycle configuration
type CheckPaymentConfig struct {
	VoidTimeLimitHours     int
	LowStockAlertThreshold int
	RequireAckBeforeEdi    bool
	UseSeparateTransaction bool
}

// Load reads configuration from environment variables
func Load() (*Config, error) {
	// Load .env file if it exists (ignore error if not found)
	_ = godotenv.Load()

	cfg := &Config{
		DatabaseURL: getEnv("DATABASE_URL", ""),
		Port:        getEnv("PORT", "8080"),
		Env:         getEnv("ENV", "development"),
		Monitor: MonitorConfig{
			FastInterval:  time.Duration(getEnvInt("THRESHOLD_MONITOR_FAST_INTERVAL_MS", 300000)) * time.Millisecond,
			InitialDelay:  time.Duration(getEnvInt("THRESHOLD_MONITOR_INITIAL_DELAY_MS", 60000)) * time.Millisecond,
			TimeBasedCron: getEnv("THRESHOLD_MONITOR_TIME_BASED_CRON", "0 2 * * *"),
			CleanupCron:   getEnv("THRESHOLD_MONITOR_CLEANUP_CRON", "0 3 * * *"),
			StaleDays:     getEnvInt("THRESHOLD_MONITOR_STALE_DAYS", 30),
		},
		Delivery: DeliveryConfig{
			Enabled:         getEnvBool("DELIVERY_ENABLED", true),
			AutoRetry:       getEnvBool("DELIVERY_AUTO_RETRY", true),
			MaxRetries:      getEnvInt("DELIVERY_MAX_RETRIES", 3),
			SchedulerCron:   getEnv("DELIVERY_SCHEDULER_CRON", "*/5 * * * *"),
			RetryCron:       getEnv("DELIVERY_RETRY_CRON", "0 * * * *"),
			BatchSize:       getEnvInt("DELIVERY_BATCH_SIZE", 10),
			SftpTimeout:     time.Duration(getEnvInt("DELIVERY_SFTP_TIMEOUT_SECONDS", 30)) * time.Second,
			InsecureHostKey: getEnvBool("DELIVERY_SFTP_INSECURE_HOST_KEY", false),
		},
		CheckPayment: CheckPaymentConfig{
			VoidTimeLimitHours:     getEnvInt("CHECK_PAYMENT_VOID_TIME_LIMIT_HOURS", 72),
			LowStockAlertThreshold: getEnvInt("CHECK_PAYMENT_LOW_STOCK_ALERT_THRESHOLD", 10),
			RequireAckBeforeEdi:    getEnvBool("CHECK_PAYMENT_REQUIRE_ACK_BEFORE_EDI", false),
			UseSeparateTransaction: getEnvBool("CHECK_RESERVATION_USE_SEPARATE_TRANSACTION", false),
		},
		EncryptionKey:  getEnv("ENCRYPTION_KEY", ""),
		EncryptionSalt: getEnv("ENCRYPTION_SALT", ""),
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) validate() error {
	if c.DatabaseURL == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}
	if c.Delivery.MaxRetries < 1 {
		return fmt.Errorf("DELIVERY_MAX_RETRIES must be at least 1")
	}
	if c.Monitor.StaleDays < 1 {
		return fmt.Errorf("THRESHOLD_MONITOR_STALE_DAYS must be at least 1")
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}
