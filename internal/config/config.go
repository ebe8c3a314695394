package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/fjod/go_food/internal/repository"
)

type Config struct {
	HTTPPort        string
	Store           string // postgres or memory
	DB              repository.Credentials
	LockTimeout     time.Duration
	RequestTimeout  time.Duration
	ShutdownTimeout time.Duration

	RedisAddr     string
	RedisPassword string

	KafkaBrokers []string
	KafkaTopic   string

	JWTSecret string

	ChapaSecretKey   string
	ChapaBaseURL     string
	ChapaCallbackURL string
	ChapaRateLimit   float64
	VerifyTimeout    time.Duration
	BreakerFailures  uint32
	BreakerOpen      time.Duration

	PublicBaseURL     string
	WebAppURL         string
	MobileAppDeepLink string
	SweepInterval     time.Duration
	SweepAge          time.Duration

	LogJSON  bool
	LogLevel string
}

// Load reads the configuration from the environment.
func Load() (*Config, error) {
	port, err := getInt("DB_PORT", 5432)
	if err != nil {
		return nil, err
	}
	cfg := &Config{
		HTTPPort: getEnv("HTTP_PORT", "8080"),
		Store:    getEnv("STORE", "postgres"),
		DB: repository.Credentials{
			Host:              getEnv("DB_HOST", "localhost"),
			Port:              port,
			User:              getEnv("DB_USER", "postgres"),
			Password:          getEnv("DB_PASSWORD", "postgres"),
			DBName:            getEnv("DB_NAME", "food"),
			MigrationsDirPath: getEnv("MIGRATIONS_PATH", "./internal/repository/migrations"),
		},
		RedisAddr:         os.Getenv("REDIS_ADDR"),
		RedisPassword:     os.Getenv("REDIS_PASSWORD"),
		KafkaBrokers:      splitList(os.Getenv("KAFKA_BROKERS")),
		KafkaTopic:        getEnv("KAFKA_TOPIC", "order-events"),
		JWTSecret:         os.Getenv("JWT_SECRET"),
		ChapaSecretKey:    os.Getenv("CHAPA_SECRET_KEY"),
		ChapaBaseURL:      getEnv("CHAPA_BASE_URL", "https://api.chapa.co"),
		PublicBaseURL:     strings.TrimRight(getEnv("PUBLIC_BASE_URL", "http://localhost:8080"), "/"),
		WebAppURL:         strings.TrimRight(getEnv("WEB_APP_URL", "http://localhost:3000"), "/"),
		MobileAppDeepLink: os.Getenv("MOBILE_APP_DEEP_LINK"),
		LogJSON:           getEnv("LOG_JSON", "false") == "true",
		LogLevel:          getEnv("LOG_LEVEL", "info"),
	}
	cfg.ChapaCallbackURL = getEnv("CHAPA_CALLBACK_URL", cfg.PublicBaseURL+"/payments/webhook")

	durations := []struct {
		dst *time.Duration
		key string
		def time.Duration
	}{
		{&cfg.LockTimeout, "LOCK_TIMEOUT", 3 * time.Second},
		{&cfg.RequestTimeout, "REQUEST_TIMEOUT", 10 * time.Second},
		{&cfg.ShutdownTimeout, "SHUTDOWN_TIMEOUT", 10 * time.Second},
		{&cfg.VerifyTimeout, "VERIFY_TIMEOUT", 5 * time.Second},
		{&cfg.BreakerOpen, "BREAKER_OPEN_TIMEOUT", 30 * time.Second},
		{&cfg.SweepInterval, "SWEEP_INTERVAL", time.Minute},
		{&cfg.SweepAge, "SWEEP_AGE", 10 * time.Minute},
	}
	for _, d := range durations {
		if *d.dst, err = getDuration(d.key, d.def); err != nil {
			return nil, err
		}
	}

	if cfg.ChapaRateLimit, err = getFloat("CHAPA_RATE_LIMIT", 10); err != nil {
		return nil, err
	}
	failures, err := getInt("BREAKER_FAILURES", 5)
	if err != nil {
		return nil, err
	}
	cfg.BreakerFailures = uint32(failures)

	if cfg.Store != "postgres" && cfg.Store != "memory" {
		return nil, fmt.Errorf("invalid STORE %q: want postgres or memory", cfg.Store)
	}
	return cfg, nil
}

// MockPayments reports whether payments run against the local mock gateway.
func (c *Config) MockPayments() bool {
	return c.ChapaSecretKey == ""
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getInt(key string, defaultValue int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return defaultValue, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("invalid %s %q", key, v)
	}
	return n, nil
}

func getFloat(key string, defaultValue float64) (float64, error) {
	v := os.Getenv(key)
	if v == "" {
		return defaultValue, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil || f < 0 {
		return 0, fmt.Errorf("invalid %s %q", key, v)
	}
	return f, nil
}

func getDuration(key string, defaultValue time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return defaultValue, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, v, err)
	}
	return d, nil
}

func splitList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
