// Package config loads the regulatory monitor's configuration from the
// environment, following the env-file-plus-helpers idiom used across the
// platform's services.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Environment represents the deployment environment.
type Environment string

const (
	Development Environment = "development"
	Testing     Environment = "testing"
	Production  Environment = "production"
)

// Config is the fully resolved configuration for a monitor process.
type Config struct {
	Env Environment

	DatabaseDSN   string
	ListenAddr    string
	LogLevel      string
	LogFormat     string
	SnapshotPath  string
	CheckInterval time.Duration
	MaxQueueSize  int
	WorkerThreads int
	MaxInMemory   int

	// ClusterCacheInvalidation enables cross-process in-memory cache
	// invalidation for the knowledge base via PostgreSQL LISTEN/NOTIFY,
	// for deployments running more than one monitor replica against the
	// same database.
	ClusterCacheInvalidation bool

	SECAPIKey  string
	SECBaseURL string
	FCABaseURL string
	ECBFeedURL string

	CustomFeedPaths []string
}

// Load resolves the deployment environment from REGMONITOR_ENV, loads the
// matching optional `config/<env>.env` file, and builds a Config from the
// process environment.
func Load() (*Config, error) {
	envStr := os.Getenv("REGMONITOR_ENV")
	if envStr == "" {
		envStr = string(Development)
	}
	env, ok := parseEnvironment(envStr)
	if !ok {
		return nil, fmt.Errorf("invalid REGMONITOR_ENV: %s (must be development, testing, or production)", envStr)
	}

	configFile := filepath.Join("config", fmt.Sprintf("%s.env", env))
	if err := godotenv.Load(configFile); err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			fmt.Printf("warning: could not load %s: %v\n", configFile, err)
		}
	}

	cfg := &Config{
		Env:           env,
		DatabaseDSN:   GetEnv("REGMONITOR_DATABASE_DSN", "postgres://localhost:5432/regmonitor?sslmode=disable"),
		ListenAddr:    GetEnv("REGMONITOR_LISTEN_ADDR", ":8090"),
		LogLevel:      GetEnv("REGMONITOR_LOG_LEVEL", "info"),
		LogFormat:     GetEnv("REGMONITOR_LOG_FORMAT", "text"),
		SnapshotPath:  GetEnv("REGMONITOR_SNAPSHOT_PATH", "regulatory_knowledge_base.json"),
		CheckInterval: ParseDurationOrDefault(GetEnv("REGMONITOR_CHECK_INTERVAL", ""), 30*time.Second),
		MaxQueueSize:  GetEnvInt("REGMONITOR_MAX_QUEUE_SIZE", 10000),
		WorkerThreads: GetEnvInt("REGMONITOR_WORKER_THREADS", 4),
		MaxInMemory:   GetEnvInt("REGMONITOR_MAX_IN_MEMORY", 10000),

		ClusterCacheInvalidation: GetEnvBool("REGMONITOR_CLUSTER_CACHE_INVALIDATION", false),

		SECAPIKey:  GetEnv("REGMONITOR_SEC_API_KEY", ""),
		SECBaseURL: GetEnv("REGMONITOR_SEC_BASE_URL", "https://www.sec.gov"),
		FCABaseURL: GetEnv("REGMONITOR_FCA_BASE_URL", "https://www.fca.org.uk"),
		ECBFeedURL: GetEnv("REGMONITOR_ECB_FEED_URL", "https://www.ecb.europa.eu/rss/press.xml"),

		CustomFeedPaths: SplitAndTrimCSV(GetEnv("REGMONITOR_CUSTOM_FEEDS", "")),
	}
	return cfg, nil
}

func parseEnvironment(s string) (Environment, bool) {
	switch Environment(strings.ToLower(s)) {
	case Development, Testing, Production:
		return Environment(strings.ToLower(s)), true
	default:
		return "", false
	}
}

// GetEnv retrieves an environment variable with a default fallback.
func GetEnv(key, defaultValue string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return defaultValue
}

// GetEnvBool retrieves a boolean environment variable. Accepts "true",
// "1", "yes", "y" (case-insensitive) as true.
func GetEnvBool(key string, defaultValue bool) bool {
	val := strings.TrimSpace(os.Getenv(key))
	if val == "" {
		return defaultValue
	}
	lower := strings.ToLower(val)
	return lower == "true" || lower == "1" || lower == "yes" || lower == "y"
}

// GetEnvInt retrieves an integer environment variable, falling back to
// defaultValue if unset or unparsable.
func GetEnvInt(key string, defaultValue int) int {
	val := strings.TrimSpace(os.Getenv(key))
	if val == "" {
		return defaultValue
	}
	parsed, err := strconv.Atoi(val)
	if err != nil {
		return defaultValue
	}
	return parsed
}

// SplitAndTrimCSV splits a CSV string and trims each part, dropping empties.
func SplitAndTrimCSV(raw string) []string {
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

// ParseByteSize parses a size string like "1GB", "512MB" into bytes.
func ParseByteSize(raw string) (int64, error) {
	value := strings.ToLower(strings.TrimSpace(raw))
	if value == "" {
		return 0, fmt.Errorf("empty size")
	}
	suffixes := []struct {
		suffix     string
		multiplier int64
	}{
		{"gib", 1 << 30}, {"gb", 1 << 30}, {"g", 1 << 30},
		{"mib", 1 << 20}, {"mb", 1 << 20}, {"m", 1 << 20},
		{"kib", 1 << 10}, {"kb", 1 << 10}, {"k", 1 << 10},
		{"b", 1},
	}
	for _, s := range suffixes {
		if !strings.HasSuffix(value, s.suffix) {
			continue
		}
		num := strings.TrimSpace(strings.TrimSuffix(value, s.suffix))
		parsed, err := strconv.ParseInt(num, 10, 64)
		if err != nil {
			return 0, err
		}
		if parsed <= 0 {
			return 0, fmt.Errorf("size must be positive")
		}
		return parsed * s.multiplier, nil
	}
	parsed, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return 0, err
	}
	return parsed, nil
}

// ParseDurationOrDefault parses a duration string or returns defaultDuration.
func ParseDurationOrDefault(raw string, defaultDuration time.Duration) time.Duration {
	if raw == "" {
		return defaultDuration
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return defaultDuration
	}
	return parsed
}
