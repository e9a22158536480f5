package config

import (
	"errors"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	MatchStorePostgres = "postgres"
	MatchStoreRedis    = "redis"
)

// 개발용 기본 서명 키. production 에서는 거부된다
const defaultJWTSecret = "your-secret-key"

var ErrInsecureJWTSecret = errors.New("JWT_SECRET must be set in production")

type Config struct {
	// Server
	Port     string
	Env      string
	LogLevel string

	// Database
	DatabaseURL string

	// Redis (비어 있으면 단일 인스턴스 모드)
	RedisURL   string
	MatchStore string

	// JWT
	JWTSecret     string
	JWTExpiration time.Duration

	// Judge callback
	JudgeToken string

	// CORS
	CORSAllowedOrigins []string

	// Match lifecycle
	MatchDuration   time.Duration
	PressureWindow  time.Duration
	WaitingMatchTTL time.Duration
	ReapInterval    time.Duration

	// Matchmaking
	FreeDailyLimit      int
	RatingWindowMin     int
	RatingWindowMax     int
	RatingWindowSettle  int
	BaseWaitEstimate    time.Duration
	QueueRateLimit      int
	FogOfProgress       bool
	ProblemLookback     time.Duration
	ProblemRatingSpread int

	// Rating settlement retry
	SettleMaxAttempts int
}

func Load() (*Config, error) {
	// .env 파일 로드 (있는 경우)
	_ = godotenv.Load()

	cfg := &Config{
		Port:                getEnv("PORT", "8080"),
		Env:                 getEnv("ENV", "development"),
		LogLevel:            getEnv("LOG_LEVEL", "info"),
		DatabaseURL:         getEnv("DATABASE_URL", ""),
		RedisURL:            getEnv("REDIS_URL", ""),
		MatchStore:          getEnv("MATCH_STORE", MatchStorePostgres),
		JWTSecret:           getEnv("JWT_SECRET", defaultJWTSecret),
		JWTExpiration:       parseDuration(getEnv("JWT_EXPIRATION", "24h"), 24*time.Hour),
		JudgeToken:          getEnv("JUDGE_TOKEN", ""),
		CORSAllowedOrigins:  splitList(getEnv("CORS_ALLOWED_ORIGINS", "http://localhost:3000,http://localhost:5173")),
		MatchDuration:       parseDuration(getEnv("MATCH_DURATION", "40m"), 40*time.Minute),
		PressureWindow:      parseDuration(getEnv("PRESSURE_WINDOW", "5m"), 5*time.Minute),
		WaitingMatchTTL:     parseDuration(getEnv("WAITING_MATCH_TTL", "10m"), 10*time.Minute),
		ReapInterval:        parseDuration(getEnv("REAP_INTERVAL", "30s"), 30*time.Second),
		FreeDailyLimit:      getEnvInt("FREE_DAILY_LIMIT", 5),
		RatingWindowMin:     getEnvInt("RATING_WINDOW_MIN", 100),
		RatingWindowMax:     getEnvInt("RATING_WINDOW_MAX", 400),
		RatingWindowSettle:  getEnvInt("RATING_WINDOW_SETTLE", 30),
		BaseWaitEstimate:    parseDuration(getEnv("BASE_WAIT_ESTIMATE", "30s"), 30*time.Second),
		QueueRateLimit:      getEnvInt("QUEUE_RATE_LIMIT", 10),
		FogOfProgress:       getEnvBool("FOG_OF_PROGRESS", false),
		ProblemLookback:     parseDuration(getEnv("PROBLEM_LOOKBACK", "336h"), 14*24*time.Hour),
		ProblemRatingSpread: getEnvInt("PROBLEM_RATING_SPREAD", 300),
		SettleMaxAttempts:   getEnvInt("SETTLE_MAX_ATTEMPTS", 5),
	}

	if cfg.Env == "production" && cfg.JWTSecret == defaultJWTSecret {
		return nil, ErrInsecureJWTSecret
	}

	return cfg, nil
}

// UseRedis Redis 연동 여부
func (c *Config) UseRedis() bool {
	return c.RedisURL != ""
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	v, err := strconv.Atoi(getEnv(key, ""))
	if err != nil {
		return defaultValue
	}
	return v
}

func getEnvBool(key string, defaultValue bool) bool {
	v, err := strconv.ParseBool(getEnv(key, ""))
	if err != nil {
		return defaultValue
	}
	return v
}

func parseDuration(s string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil {
		return fallback
	}
	return d
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
