package config

import (
	"errors"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const (
	EnvDevelopment = "development"
	EnvProduction  = "production"
)

type Config struct {
	Env       string
	Port      int
	APIPrefix string

	Database DatabaseConfig
	Redis    RedisConfig
	JWT      JWTConfig
	CORS     CORSConfig
	Log      LogConfig
	Receipts ReceiptsConfig
	Rollover RolloverConfig
	Events   EventsConfig
	Notify   NotifyConfig
	School   SchoolConfig
}

type DatabaseConfig struct {
	Host         string
	Port         int
	User         string
	Password     string
	Name         string
	SSLMode      string
	MaxOpenConns int
	MaxIdleConns int
	AutoMigrate  bool
}

type RedisConfig struct {
	Enabled  bool
	Host     string
	Port     int
	Password string
	DB       int
}

type JWTConfig struct {
	Secret     string
	Expiration time.Duration
	Issuer     string
}

type CORSConfig struct {
	AllowedOrigins []string
}

type LogConfig struct {
	Level  string
	Format string
}

// ReceiptsConfig controls receipt rendering, storage and the retry queue.
type ReceiptsConfig struct {
	StorageDir      string
	PublicBaseURL   string
	SignedURLSecret string
	SignedURLTTL    time.Duration
	IssueTimeout    time.Duration
	RetryWorkers    int
	RetryAttempts   int
	RetryDelay      time.Duration
	CleanupInterval time.Duration
}

// RolloverConfig tunes the academic year batch.
type RolloverConfig struct {
	Concurrency int
	LockTTL     time.Duration
}

// EventsConfig configures the optional RabbitMQ ledger event publisher.
type EventsConfig struct {
	AMQPURL  string
	Exchange string
	Queue    string
}

// NotifyConfig drives outbound WhatsApp deep links.
type NotifyConfig struct {
	CountryCode string
}

// SchoolConfig carries branding printed on receipts and messages.
type SchoolConfig struct {
	Name    string
	Tagline string
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	v.SetConfigFile(".env")
	v.SetConfigType("env")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !isMissingFile(err) {
			return nil, err
		}
	}

	return fromViper(v), nil
}

func fromViper(v *viper.Viper) *Config {
	cfg := &Config{}

	cfg.Env = v.GetString("ENV")
	cfg.Port = v.GetInt("PORT")
	cfg.APIPrefix = v.GetString("API_PREFIX")

	cfg.Database = DatabaseConfig{
		Host:         v.GetString("DB_HOST"),
		Port:         v.GetInt("DB_PORT"),
		User:         v.GetString("DB_USER"),
		Password:     v.GetString("DB_PASSWORD"),
		Name:         v.GetString("DB_NAME"),
		SSLMode:      v.GetString("DB_SSL_MODE"),
		MaxOpenConns: v.GetInt("DB_MAX_OPEN_CONNS"),
		MaxIdleConns: v.GetInt("DB_MAX_IDLE_CONNS"),
		AutoMigrate:  v.GetBool("DB_AUTO_MIGRATE"),
	}

	cfg.Redis = RedisConfig{
		Enabled:  v.GetBool("REDIS_ENABLED"),
		Host:     v.GetString("REDIS_HOST"),
		Port:     v.GetInt("REDIS_PORT"),
		Password: v.GetString("REDIS_PASSWORD"),
		DB:       v.GetInt("REDIS_DB"),
	}

	cfg.JWT = JWTConfig{
		Secret:     v.GetString("JWT_SECRET"),
		Expiration: parseDuration(v.GetString("JWT_EXPIRATION"), 24*time.Hour),
		Issuer:     v.GetString("JWT_ISSUER"),
	}

	cfg.CORS = CORSConfig{AllowedOrigins: splitAndTrim(v.GetString("ALLOWED_ORIGINS"))}

	cfg.Log = LogConfig{
		Level:  v.GetString("LOG_LEVEL"),
		Format: v.GetString("LOG_FORMAT"),
	}

	cfg.Receipts = ReceiptsConfig{
		StorageDir:      v.GetString("RECEIPTS_STORAGE_DIR"),
		PublicBaseURL:   strings.TrimRight(v.GetString("RECEIPTS_PUBLIC_BASE_URL"), "/"),
		SignedURLSecret: v.GetString("RECEIPTS_SIGNED_URL_SECRET"),
		SignedURLTTL:    parseDuration(v.GetString("RECEIPTS_SIGNED_URL_TTL"), 24*time.Hour),
		IssueTimeout:    parseDuration(v.GetString("RECEIPTS_ISSUE_TIMEOUT"), 5*time.Second),
		RetryWorkers:    v.GetInt("RECEIPTS_RETRY_WORKERS"),
		RetryAttempts:   v.GetInt("RECEIPTS_RETRY_ATTEMPTS"),
		RetryDelay:      parseDuration(v.GetString("RECEIPTS_RETRY_DELAY"), 10*time.Second),
		CleanupInterval: parseDuration(v.GetString("RECEIPTS_CLEANUP_INTERVAL"), time.Hour),
	}

	cfg.Rollover = RolloverConfig{
		Concurrency: v.GetInt("ROLLOVER_CONCURRENCY"),
		LockTTL:     parseDuration(v.GetString("ROLLOVER_LOCK_TTL"), 30*time.Minute),
	}

	cfg.Events = EventsConfig{
		AMQPURL:  v.GetString("AMQP_URL"),
		Exchange: v.GetString("AMQP_EXCHANGE"),
		Queue:    v.GetString("AMQP_QUEUE"),
	}

	cfg.Notify = NotifyConfig{CountryCode: v.GetString("WHATSAPP_COUNTRY_CODE")}

	cfg.School = SchoolConfig{
		Name:    v.GetString("SCHOOL_NAME"),
		Tagline: v.GetString("SCHOOL_TAGLINE"),
	}

	return cfg
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("ENV", EnvDevelopment)
	v.SetDefault("PORT", 8080)
	v.SetDefault("API_PREFIX", "/api/v1")

	v.SetDefault("DB_HOST", "localhost")
	v.SetDefault("DB_PORT", 5432)
	v.SetDefault("DB_USER", "postgres")
	v.SetDefault("DB_PASSWORD", "postgres")
	v.SetDefault("DB_NAME", "school_fee_ledger")
	v.SetDefault("DB_SSL_MODE", "disable")
	v.SetDefault("DB_MAX_OPEN_CONNS", 10)
	v.SetDefault("DB_MAX_IDLE_CONNS", 5)
	v.SetDefault("DB_AUTO_MIGRATE", true)

	v.SetDefault("REDIS_ENABLED", false)
	v.SetDefault("REDIS_HOST", "localhost")
	v.SetDefault("REDIS_PORT", 6379)
	v.SetDefault("REDIS_PASSWORD", "")
	v.SetDefault("REDIS_DB", 0)

	v.SetDefault("JWT_SECRET", "dev_secret")
	v.SetDefault("JWT_EXPIRATION", "24h")
	v.SetDefault("JWT_ISSUER", "sma-fee-ledger")

	v.SetDefault("ALLOWED_ORIGINS", "")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FORMAT", "json")

	v.SetDefault("RECEIPTS_STORAGE_DIR", "./receipts")
	v.SetDefault("RECEIPTS_PUBLIC_BASE_URL", "http://localhost:8080/api/v1")
	v.SetDefault("RECEIPTS_SIGNED_URL_SECRET", "dev_receipts_secret")
	v.SetDefault("RECEIPTS_SIGNED_URL_TTL", "24h")
	v.SetDefault("RECEIPTS_ISSUE_TIMEOUT", "5s")
	v.SetDefault("RECEIPTS_RETRY_WORKERS", 1)
	v.SetDefault("RECEIPTS_RETRY_ATTEMPTS", 5)
	v.SetDefault("RECEIPTS_RETRY_DELAY", "10s")
	v.SetDefault("RECEIPTS_CLEANUP_INTERVAL", "1h")

	v.SetDefault("ROLLOVER_CONCURRENCY", 4)
	v.SetDefault("ROLLOVER_LOCK_TTL", "30m")

	v.SetDefault("AMQP_URL", "")
	v.SetDefault("AMQP_EXCHANGE", "fee-ledger")
	v.SetDefault("AMQP_QUEUE", "fee-ledger-events")

	v.SetDefault("WHATSAPP_COUNTRY_CODE", "91")
	v.SetDefault("SCHOOL_NAME", "GLOBAL INNOVATIVE SCHOOL")
	v.SetDefault("SCHOOL_TAGLINE", "INNOVATE TO LEAD")
}

func isMissingFile(err error) bool {
	return strings.Contains(err.Error(), "no such file or directory")
}

func parseDuration(raw string, fallback time.Duration) time.Duration {
	if raw == "" {
		return fallback
	}

	d, err := time.ParseDuration(raw)
	if err != nil {
		return fallback
	}

	return d
}

func splitAndTrim(raw string) []string {
	if raw == "" {
		return nil
	}

	parts := strings.Split(raw, ",")
	result := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			result = append(result, trimmed)
		}
	}

	return result
}
