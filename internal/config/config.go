// Package config loads runtime configuration from the environment,
// following the same .env-then-os.Getenv layering the teacher repo's
// internal/config uses.
package config

import (
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds the full set of tunables for cmd/dispatcherd.
type Config struct {
	// Discovery
	DiscoveryAddr     string
	DiscoveryInterval time.Duration
	DiscoveryTimeout  time.Duration

	// Dispatcher
	InitialBackendWeight uint64
	CallBudget           time.Duration

	// Backend circuit breaker
	BreakerMaxConsecutiveTimeouts int
	BreakerResetTimeout           time.Duration

	// Admin HTTP surface
	AdminAddr           string
	AdminRateLimitRPS   float64
	AdminRateLimitBurst int

	// Live state push
	WSBroadcastInterval time.Duration

	// Logging
	LogLevel string
	LogJSON  bool
}

// Load builds a Config from environment variables, applying
// tier-specific and default .env files the same way the teacher's
// loadEnvironmentConfig does, then falling back to hardcoded defaults.
func Load() Config {
	loadEnvFiles()

	return Config{
		DiscoveryAddr:     getEnv("DISCOVERY_ADDR", "127.0.0.1:7000"),
		DiscoveryInterval: getEnvDuration("DISCOVERY_INTERVAL_SEC", 30*time.Second),
		DiscoveryTimeout:  getEnvDuration("DISCOVERY_TIMEOUT_SEC", 5*time.Second),

		InitialBackendWeight: uint64(getEnvInt("INITIAL_BACKEND_WEIGHT", 1000)),
		CallBudget:           getEnvDuration("CALL_BUDGET_SEC", 2*time.Second),

		BreakerMaxConsecutiveTimeouts: getEnvInt("BREAKER_MAX_CONSECUTIVE_TIMEOUTS", 5),
		BreakerResetTimeout:           getEnvDuration("BREAKER_RESET_TIMEOUT_SEC", 10*time.Second),

		AdminAddr:           getEnv("ADMIN_ADDR", "127.0.0.1:8081"),
		AdminRateLimitRPS:   getEnvFloat("ADMIN_RATE_LIMIT_RPS", 20.0),
		AdminRateLimitBurst: getEnvInt("ADMIN_RATE_LIMIT_BURST", 40),

		WSBroadcastInterval: getEnvDuration("WS_BROADCAST_INTERVAL_SEC", 2*time.Second),

		LogLevel: getEnv("LOG_LEVEL", "info"),
		LogJSON:  getEnvBool("LOG_JSON", true),
	}
}

// loadEnvFiles loads a default .env and, if DISPATCH_TIER is set, a
// tier-specific .env.<tier> after it. Neither file overrides a variable
// that is already set, so the real environment wins over .env, and
// .env wins over .env.<tier>. Missing files are not an error: the
// process falls back to whatever is already in the environment.
func loadEnvFiles() {
	if err := godotenv.Load(); err == nil {
		log.Print("config: loaded .env")
	}

	if tier := getEnv("DISPATCH_TIER", ""); tier != "" {
		if err := godotenv.Load(".env." + tier); err == nil {
			log.Printf("config: loaded .env.%s", tier)
		}
	}
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getEnvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}

func getEnvFloat(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func getEnvBool(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		return v == "1" || strings.EqualFold(v, "true")
	}
	return def
}

func getEnvDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if secs, err := strconv.Atoi(v); err == nil {
			return time.Duration(secs) * time.Second
		}
	}
	return def
}
