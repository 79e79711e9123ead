package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	// Server
	Port         string
	JWTSecret    string
	LogLevel     string
	LogFormat    string
	SeedDemoData bool

	// Database (empty URL selects the in-memory store)
	DatabaseURL  string
	StoreTimeout time.Duration

	// Per-driver locking
	LockBackend string // "memory" or "redis"
	LockTTL     time.Duration

	// Redis
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	RedisNotify   bool

	// Firebase Cloud Messaging
	FirebaseCredentialsBase64 string
	FirebaseCredentialsFile   string
	NotifyTimeout             time.Duration

	Engine EngineConfig
}

// EngineConfig holds the server-wide defaults for ping evaluation
type EngineConfig struct {
	StagnationWindow        time.Duration
	StagnationLookback      time.Duration
	StagnationSpeedLimit    int
	MovementToleranceMeters float64
	StagnationMinPings      int
	DefaultRadiusMeters     int
	GeofenceCacheTTL        time.Duration
	MaxFutureSkew           time.Duration
	MaxPastWindow           time.Duration
	BatchMaxItems           int
	BatchConcurrency        int
}

// DefaultEngineConfig returns the defaults used when no env override is set
func DefaultEngineConfig() EngineConfig {
	return EngineConfig{
		StagnationWindow:        30 * time.Minute,
		StagnationLookback:      60 * time.Minute,
		StagnationSpeedLimit:    3,
		MovementToleranceMeters: 50,
		StagnationMinPings:      2,
		DefaultRadiusMeters:     250,
		GeofenceCacheTTL:        5 * time.Second,
		MaxFutureSkew:           2 * time.Minute,
		MaxPastWindow:           24 * time.Hour,
		BatchMaxItems:           500,
		BatchConcurrency:        8,
	}
}

func Load() (*Config, error) {
	// .env is optional
	_ = godotenv.Load()

	defaults := DefaultEngineConfig()

	cfg := &Config{
		Port:         getEnv("PORT", "8080"),
		JWTSecret:    getEnv("APP_JWT_SECRET", ""),
		LogLevel:     getEnv("LOG_LEVEL", "info"),
		LogFormat:    getEnv("LOG_FORMAT", "json"),
		SeedDemoData: getEnvBool("SEED_DEMO_DATA", false),

		DatabaseURL:  getEnv("DATABASE_URL", ""),
		StoreTimeout: getEnvDuration("STORE_TIMEOUT", 5*time.Second),

		LockBackend: getEnv("LOCK_BACKEND", "memory"),
		LockTTL:     getEnvDuration("LOCK_TTL", 15*time.Second),

		RedisAddr:     getEnv("REDIS_ADDR", ""),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisDB:       getEnvInt("REDIS_DB", 0),
		RedisNotify:   getEnvBool("REDIS_NOTIFY", false),

		FirebaseCredentialsBase64: getEnv("FIREBASE_CREDENTIALS_BASE64", ""),
		FirebaseCredentialsFile:   getEnv("FIREBASE_CREDENTIALS_FILE", ""),
		NotifyTimeout:             getEnvDuration("NOTIFY_TIMEOUT", 10*time.Second),

		Engine: EngineConfig{
			StagnationWindow:        getEnvDuration("STAGNATION_WINDOW", defaults.StagnationWindow),
			StagnationLookback:      getEnvDuration("STAGNATION_LOOKBACK", defaults.StagnationLookback),
			StagnationSpeedLimit:    getEnvInt("STAGNATION_SPEED_THRESHOLD", defaults.StagnationSpeedLimit),
			MovementToleranceMeters: getEnvFloat("STAGNATION_MOVEMENT_TOLERANCE_METERS", defaults.MovementToleranceMeters),
			StagnationMinPings:      getEnvInt("STAGNATION_MIN_PINGS", defaults.StagnationMinPings),
			DefaultRadiusMeters:     getEnvInt("GEOFENCE_DEFAULT_RADIUS_METERS", defaults.DefaultRadiusMeters),
			GeofenceCacheTTL:        getEnvDuration("GEOFENCE_CACHE_TTL", defaults.GeofenceCacheTTL),
			MaxFutureSkew:           getEnvDuration("PING_MAX_FUTURE_SKEW", defaults.MaxFutureSkew),
			MaxPastWindow:           getEnvDuration("PING_MAX_PAST_WINDOW", defaults.MaxPastWindow),
			BatchMaxItems:           getEnvInt("BATCH_MAX_ITEMS", defaults.BatchMaxItems),
			BatchConcurrency:        getEnvInt("BATCH_CONCURRENCY", defaults.BatchConcurrency),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects settings the engine cannot run with
func (c *Config) Validate() error {
	var errs []error
	if c.StoreTimeout <= 0 {
		errs = append(errs, errors.New("STORE_TIMEOUT must be positive"))
	}
	if c.LockBackend != "memory" && c.LockBackend != "redis" {
		errs = append(errs, fmt.Errorf("LOCK_BACKEND must be memory or redis, got %q", c.LockBackend))
	}
	if c.LockBackend == "redis" && c.RedisAddr == "" {
		errs = append(errs, errors.New("REDIS_ADDR is required when LOCK_BACKEND=redis"))
	}
	if c.RedisNotify && c.RedisAddr == "" {
		errs = append(errs, errors.New("REDIS_ADDR is required when REDIS_NOTIFY=true"))
	}
	if err := c.Engine.Validate(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

func (e EngineConfig) Validate() error {
	var errs []error
	if e.StagnationWindow <= 0 {
		errs = append(errs, errors.New("STAGNATION_WINDOW must be positive"))
	}
	if e.StagnationLookback < e.StagnationWindow {
		errs = append(errs, errors.New("STAGNATION_LOOKBACK must be at least STAGNATION_WINDOW"))
	}
	if e.StagnationSpeedLimit < 0 {
		errs = append(errs, errors.New("STAGNATION_SPEED_THRESHOLD must not be negative"))
	}
	if e.MovementToleranceMeters <= 0 {
		errs = append(errs, errors.New("STAGNATION_MOVEMENT_TOLERANCE_METERS must be positive"))
	}
	if e.StagnationMinPings < 2 {
		errs = append(errs, errors.New("STAGNATION_MIN_PINGS must be at least 2"))
	}
	if e.DefaultRadiusMeters <= 0 {
		errs = append(errs, errors.New("GEOFENCE_DEFAULT_RADIUS_METERS must be positive"))
	}
	if e.MaxFutureSkew < 0 || e.MaxPastWindow <= 0 {
		errs = append(errs, errors.New("PING_MAX_FUTURE_SKEW and PING_MAX_PAST_WINDOW must be non-negative and positive"))
	}
	if e.BatchMaxItems <= 0 || e.BatchConcurrency <= 0 {
		errs = append(errs, errors.New("BATCH_MAX_ITEMS and BATCH_CONCURRENCY must be positive"))
	}
	return errors.Join(errs...)
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		i, err := strconv.Atoi(value)
		if err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		f, err := strconv.ParseFloat(value, 64)
		if err == nil {
			return f
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		b, err := strconv.ParseBool(value)
		if err == nil {
			return b
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		d, err := time.ParseDuration(value)
		if err == nil {
			return d
		}
	}
	return defaultValue
}
