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
	Env         string
	MetricsAddr string

	Database    DatabaseConfig
	Redis       RedisConfig
	Log         LogConfig
	Eligibility EligibilityConfig
	Analytics   AnalyticsConfig
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
}

type RedisConfig struct {
	Host     string
	Port     int
	Password string
	DB       int
}

type LogConfig struct {
	Level  string
	Format string
}

// EligibilityConfig tunes curriculum graph caching.
type EligibilityConfig struct {
	CacheEnabled bool
	GraphTTL     time.Duration
}

// AnalyticsConfig governs the checkpointed batch pipeline and its workers.
type AnalyticsConfig struct {
	BatchSize         int
	StoreTimeout      time.Duration
	WorkerConcurrency int
	WorkerRetries     int
	ReportTopN        int
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
		if !errors.As(err, &notFound) {
			return nil, err
		}
	}

	cfg := &Config{}

	cfg.Env = v.GetString("ENV")
	cfg.MetricsAddr = v.GetString("METRICS_ADDR")

	cfg.Database = DatabaseConfig{
		Host:         v.GetString("DB_HOST"),
		Port:         v.GetInt("DB_PORT"),
		User:         v.GetString("DB_USER"),
		Password:     v.GetString("DB_PASSWORD"),
		Name:         v.GetString("DB_NAME"),
		SSLMode:      v.GetString("DB_SSL_MODE"),
		MaxOpenConns: v.GetInt("DB_MAX_OPEN_CONNS"),
		MaxIdleConns: v.GetInt("DB_MAX_IDLE_CONNS"),
	}

	cfg.Redis = RedisConfig{
		Host:     v.GetString("REDIS_HOST"),
		Port:     v.GetInt("REDIS_PORT"),
		Password: v.GetString("REDIS_PASSWORD"),
		DB:       v.GetInt("REDIS_DB"),
	}

	cfg.Log = LogConfig{
		Level:  v.GetString("LOG_LEVEL"),
		Format: v.GetString("LOG_FORMAT"),
	}

	cfg.Eligibility = EligibilityConfig{
		CacheEnabled: v.GetBool("ELIGIBILITY_CACHE_ENABLED"),
		GraphTTL:     parseDuration(v.GetString("ELIGIBILITY_GRAPH_TTL"), 30*time.Minute),
	}

	cfg.Analytics = AnalyticsConfig{
		BatchSize:         v.GetInt("ANALYTICS_BATCH_SIZE"),
		StoreTimeout:      parseDuration(v.GetString("ANALYTICS_STORE_TIMEOUT"), 10*time.Second),
		WorkerConcurrency: v.GetInt("ANALYTICS_WORKER_CONCURRENCY"),
		WorkerRetries:     v.GetInt("ANALYTICS_WORKER_RETRIES"),
		ReportTopN:        v.GetInt("ANALYTICS_REPORT_TOP_N"),
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("ENV", EnvDevelopment)
	v.SetDefault("METRICS_ADDR", ":9090")

	v.SetDefault("DB_HOST", "localhost")
	v.SetDefault("DB_PORT", 5432)
	v.SetDefault("DB_USER", "postgres")
	v.SetDefault("DB_PASSWORD", "postgres")
	v.SetDefault("DB_NAME", "academic_core")
	v.SetDefault("DB_SSL_MODE", "disable")
	v.SetDefault("DB_MAX_OPEN_CONNS", 25)
	v.SetDefault("DB_MAX_IDLE_CONNS", 5)

	v.SetDefault("REDIS_HOST", "localhost")
	v.SetDefault("REDIS_PORT", 6379)
	v.SetDefault("REDIS_DB", 0)

	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FORMAT", "json")

	v.SetDefault("ELIGIBILITY_CACHE_ENABLED", true)
	v.SetDefault("ELIGIBILITY_GRAPH_TTL", "30m")

	v.SetDefault("ANALYTICS_BATCH_SIZE", 200)
	v.SetDefault("ANALYTICS_STORE_TIMEOUT", "10s")
	v.SetDefault("ANALYTICS_WORKER_CONCURRENCY", 2)
	v.SetDefault("ANALYTICS_WORKER_RETRIES", 3)
	v.SetDefault("ANALYTICS_REPORT_TOP_N", 50)
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
