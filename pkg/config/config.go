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

	Database    DatabaseConfig
	Redis       RedisConfig
	JWT         JWTConfig
	CORS        CORSConfig
	Log         LogConfig
	Scheduling  SchedulingConfig
	Matching    MatchingConfig
	Progression ProgressionConfig
	Payments    PaymentsConfig
	Metrics     MetricsConfig
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

type JWTConfig struct {
	Secret     string
	Expiration time.Duration
}

type CORSConfig struct {
	AllowedOrigins []string
}

type LogConfig struct {
	Level  string
	Format string
}

// SchedulingConfig governs availability windows and booking constraints.
type SchedulingConfig struct {
	MinSessionDuration time.Duration
	BookingLeadTime    time.Duration
	SessionBuffer      time.Duration
	HorizonDays        int
	ChartCacheTTL      time.Duration
}

// MatchingConfig tunes free-tier teacher selection.
type MatchingConfig struct {
	MinSupply          int
	AgeWeight          float64
	LanguageWeight     float64
	DistanceWeight     float64
	DefaultLearnerAge  int
	DefaultTeacherAge  int
	MissingDistanceKm  float64
	DomainCacheTTL     time.Duration
}

// ProgressionConfig sets tier/level recomputation defaults.
type ProgressionConfig struct {
	PaidRatingMinimum      float64
	DefaultExpertThreshold int
	DefaultLegendThreshold int
}

// PaymentsConfig bounds pending payment holds.
type PaymentsConfig struct {
	HoldTTL           time.Duration
	SweepInterval     time.Duration
	SweepWorkers      int
	SweepRetries      int
}

// MetricsConfig toggles Prometheus exposure.
type MetricsConfig struct {
	Enabled bool
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
	}

	cfg.Redis = RedisConfig{
		Host:     v.GetString("REDIS_HOST"),
		Port:     v.GetInt("REDIS_PORT"),
		Password: v.GetString("REDIS_PASSWORD"),
		DB:       v.GetInt("REDIS_DB"),
	}

	cfg.JWT = JWTConfig{
		Secret:     v.GetString("JWT_SECRET"),
		Expiration: parseDuration(v.GetString("JWT_EXPIRATION"), 24*time.Hour),
	}

	cfg.CORS = CORSConfig{AllowedOrigins: splitAndTrim(v.GetString("ALLOWED_ORIGINS"))}

	cfg.Log = LogConfig{
		Level:  v.GetString("LOG_LEVEL"),
		Format: v.GetString("LOG_FORMAT"),
	}

	cfg.Scheduling = SchedulingConfig{
		MinSessionDuration: parseDuration(v.GetString("MIN_SESSION_DURATION"), 90*time.Minute),
		BookingLeadTime:    parseDuration(v.GetString("BOOKING_LEAD_TIME"), 30*time.Minute),
		SessionBuffer:      parseDuration(v.GetString("SESSION_BUFFER"), 30*time.Minute),
		HorizonDays:        v.GetInt("AVAILABILITY_HORIZON_DAYS"),
		ChartCacheTTL:      parseDuration(v.GetString("AVAILABILITY_CHART_CACHE_TTL"), 2*time.Minute),
	}

	cfg.Matching = MatchingConfig{
		MinSupply:         v.GetInt("MATCHING_MIN_SUPPLY"),
		AgeWeight:         v.GetFloat64("MATCHING_AGE_WEIGHT"),
		LanguageWeight:    v.GetFloat64("MATCHING_LANGUAGE_WEIGHT"),
		DistanceWeight:    v.GetFloat64("MATCHING_DISTANCE_WEIGHT"),
		DefaultLearnerAge: v.GetInt("MATCHING_DEFAULT_LEARNER_AGE"),
		DefaultTeacherAge: v.GetInt("MATCHING_DEFAULT_TEACHER_AGE"),
		MissingDistanceKm: v.GetFloat64("MATCHING_MISSING_DISTANCE_KM"),
		DomainCacheTTL:    parseDuration(v.GetString("TOPIC_DOMAIN_CACHE_TTL"), time.Hour),
	}

	cfg.Progression = ProgressionConfig{
		PaidRatingMinimum:      v.GetFloat64("PROGRESSION_PAID_RATING_MIN"),
		DefaultExpertThreshold: v.GetInt("PROGRESSION_EXPERT_THRESHOLD"),
		DefaultLegendThreshold: v.GetInt("PROGRESSION_LEGEND_THRESHOLD"),
	}

	cfg.Payments = PaymentsConfig{
		HoldTTL:       parseDuration(v.GetString("PAYMENT_HOLD_TTL"), 15*time.Minute),
		SweepInterval: parseDuration(v.GetString("PAYMENT_SWEEP_INTERVAL"), time.Minute),
		SweepWorkers:  v.GetInt("PAYMENT_SWEEP_WORKERS"),
		SweepRetries:  v.GetInt("PAYMENT_SWEEP_RETRIES"),
	}

	cfg.Metrics = MetricsConfig{Enabled: v.GetBool("ENABLE_METRICS")}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("ENV", EnvDevelopment)
	v.SetDefault("PORT", 8080)
	v.SetDefault("API_PREFIX", "/api/v1")

	v.SetDefault("DB_HOST", "localhost")
	v.SetDefault("DB_PORT", 5432)
	v.SetDefault("DB_USER", "postgres")
	v.SetDefault("DB_PASSWORD", "postgres")
	v.SetDefault("DB_NAME", "mentorlink")
	v.SetDefault("DB_SSL_MODE", "disable")
	v.SetDefault("DB_MAX_OPEN_CONNS", 10)
	v.SetDefault("DB_MAX_IDLE_CONNS", 5)

	v.SetDefault("REDIS_HOST", "localhost")
	v.SetDefault("REDIS_PORT", 6379)
	v.SetDefault("REDIS_PASSWORD", "")
	v.SetDefault("REDIS_DB", 0)

	v.SetDefault("JWT_SECRET", "dev_secret")
	v.SetDefault("JWT_EXPIRATION", "24h")

	v.SetDefault("ALLOWED_ORIGINS", "")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FORMAT", "json")

	v.SetDefault("MIN_SESSION_DURATION", "90m")
	v.SetDefault("BOOKING_LEAD_TIME", "30m")
	v.SetDefault("SESSION_BUFFER", "30m")
	v.SetDefault("AVAILABILITY_HORIZON_DAYS", 7)
	v.SetDefault("AVAILABILITY_CHART_CACHE_TTL", "2m")

	v.SetDefault("MATCHING_MIN_SUPPLY", 1)
	v.SetDefault("MATCHING_AGE_WEIGHT", 1.5)
	v.SetDefault("MATCHING_LANGUAGE_WEIGHT", 0.6)
	v.SetDefault("MATCHING_DISTANCE_WEIGHT", 0.1)
	v.SetDefault("MATCHING_DEFAULT_LEARNER_AGE", 20)
	v.SetDefault("MATCHING_DEFAULT_TEACHER_AGE", 25)
	v.SetDefault("MATCHING_MISSING_DISTANCE_KM", 10000)
	v.SetDefault("TOPIC_DOMAIN_CACHE_TTL", "1h")

	v.SetDefault("PROGRESSION_PAID_RATING_MIN", 4.0)
	v.SetDefault("PROGRESSION_EXPERT_THRESHOLD", 20)
	v.SetDefault("PROGRESSION_LEGEND_THRESHOLD", 1000)

	v.SetDefault("PAYMENT_HOLD_TTL", "15m")
	v.SetDefault("PAYMENT_SWEEP_INTERVAL", "1m")
	v.SetDefault("PAYMENT_SWEEP_WORKERS", 1)
	v.SetDefault("PAYMENT_SWEEP_RETRIES", 3)

	v.SetDefault("ENABLE_METRICS", true)
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
