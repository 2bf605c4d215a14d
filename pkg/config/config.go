// Package config loads server configuration from the environment, with an
// optional YAML graph profile merged on top.
package config

import (
	"os"
	"strconv"
)

// Config holds server configuration.
type Config struct {
	ListenAddr    string
	GraphID       string
	RootNamespace string

	// Persistence: exactly one of ChainFilePath / SQLitePath is used; the
	// SQLite store wins when both are set.
	ChainFilePath string
	SQLitePath    string

	// SigningSeedHex enables packet signing when set: 64 hex chars feeding
	// the HKDF keyring.
	SigningSeedHex string

	LogLevel string

	// Boundary protections.
	RateRPS    float64
	RateBurst  int
	RedisAddr  string
	JWTSecret  string
	Telemetry  bool
	ProfileYML string
}

// Load reads configuration from environment variables with defaults.
func Load() *Config {
	return &Config{
		ListenAddr:    envOr("DG_LISTEN_ADDR", ":8087"),
		GraphID:       envOr("DG_GRAPH_ID", "decisiongraph-local"),
		RootNamespace: envOr("DG_ROOT_NAMESPACE", "corp"),
		ChainFilePath: os.Getenv("DG_CHAIN_FILE"),
		SQLitePath:    os.Getenv("DG_SQLITE_PATH"),

		SigningSeedHex: os.Getenv("DG_SIGNING_SEED"),
		LogLevel:       envOr("DG_LOG_LEVEL", "INFO"),

		RateRPS:    envFloat("DG_RATE_RPS", 25),
		RateBurst:  envInt("DG_RATE_BURST", 50),
		RedisAddr:  os.Getenv("DG_REDIS_ADDR"),
		JWTSecret:  os.Getenv("DG_JWT_SECRET"),
		Telemetry:  os.Getenv("DG_TELEMETRY") == "true",
		ProfileYML: os.Getenv("DG_PROFILE"),
	}
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func envFloat(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}
