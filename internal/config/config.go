package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	// HTTP
	HTTPPort string

	// Postgres
	DBHost     string
	DBPort     string
	DBUser     string
	DBPassword string
	DBName     string
	DBMaxConns int32

	// Redis
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	// Deviation thresholds
	OnRouteThresholdMeters float64
	ReturnDistanceMeters   float64
	YellowAfter            time.Duration
	RedAfter               time.Duration
	GracePeriod            time.Duration
	MaxGraceExtensions     int

	// Sweeper
	SweepInterval time.Duration

	// Notifications
	StaffChannel  string
	NotifyBuffer  int
	NotifyTimeout time.Duration

	// Auth
	AuthCacheTTLSeconds int
	StaffAPIKeys        []string
}

func Load() *Config {
	return &Config{
		HTTPPort:   getEnv("HTTP_PORT", "8002"),
		DBHost:     getEnv("DB_HOST", "localhost"),
		DBPort:     getEnv("DB_PORT", "5432"),
		DBUser:     getEnv("DB_USER", "deviation_user"),
		DBPassword: getEnv("DB_PASSWORD", "deviation_password"),
		DBName:     getEnv("DB_NAME", "route_deviation"),
		DBMaxConns: int32(getEnvInt("DB_MAX_CONNS", 15)),

		RedisAddr:     getEnv("REDIS_ADDR", "localhost:6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisDB:       getEnvInt("REDIS_DB", 0),

		OnRouteThresholdMeters: getEnvFloat("ON_ROUTE_THRESHOLD_M", 200),
		ReturnDistanceMeters:   getEnvFloat("RETURN_DISTANCE_M", 50),
		YellowAfter:            getEnvMinutes("YELLOW_THRESHOLD_MIN", 5),
		RedAfter:               getEnvMinutes("RED_THRESHOLD_MIN", 10),
		GracePeriod:            getEnvMinutes("GRACE_PERIOD_MIN", 15),
		MaxGraceExtensions:     getEnvInt("MAX_GRACE_EXTENSIONS", 3),

		SweepInterval: time.Duration(getEnvInt("SWEEP_INTERVAL_SECONDS", 60)) * time.Second,

		StaffChannel:  getEnv("STAFF_CHANNEL", "staff:deviations"),
		NotifyBuffer:  getEnvInt("NOTIFY_BUFFER_SIZE", 1000),
		NotifyTimeout: time.Duration(getEnvInt("NOTIFY_TIMEOUT_MS", 2000)) * time.Millisecond,

		AuthCacheTTLSeconds: getEnvInt("AUTH_CACHE_TTL_SECONDS", 300),
		StaffAPIKeys:        strings.Split(getEnv("STAFF_API_KEYS", ""), ","),
	}
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

func getEnvFloat(key string, fallback float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return fallback
	}
	return f
}

func getEnvMinutes(key string, fallback int) time.Duration {
	return time.Duration(getEnvInt(key, fallback)) * time.Minute
}
