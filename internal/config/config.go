// Package config handles application configuration, loaded entirely from
// environment variables with documented defaults.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all configuration for the application.
type Config struct {
	Server   ServerConfig
	App      AppConfig
	Shards   ShardsConfig
	Counter  CounterConfig
	Rate     RateConfig
	Registry RegistryConfig
}

// ServerConfig holds server-specific configuration.
type ServerConfig struct {
	Host            string
	Port            int
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
}

// Address returns the host:port the server should bind to.
func (s ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// AppConfig holds general application configuration.
type AppConfig struct {
	Env      string
	LogLevel string
}

// IsDevelopment reports whether the app is running in a development-like
// environment.
func (a AppConfig) IsDevelopment() bool {
	env := strings.ToLower(a.Env)
	return env == "development" || env == "dev"
}

// IsProduction reports whether the app is running in a production-like
// environment.
func (a AppConfig) IsProduction() bool {
	env := strings.ToLower(a.Env)
	return env == "production" || env == "prod"
}

// ShardsConfig configures the shard manager and the ring underneath it.
type ShardsConfig struct {
	URLs          []string // redis:// URLs, one per shard
	VirtualNodes  int
	RetryAttempts int
	ShardTimeout  time.Duration
	PoolSize      int
	ProbeInterval time.Duration
}

// CounterConfig configures the write buffer and read cache sitting in
// front of the shard manager. CacheTTL and CacheCapacity default to the
// spec's CACHE_TTL_SECONDS (5s) and CACHE_CAPACITY (1000) values; both
// env vars are also recognized directly as aliases of COUNTER_CACHE_TTL
// and COUNTER_CACHE_CAPACITY.
type CounterConfig struct {
	BatchInterval time.Duration
	CacheTTL      time.Duration
	CacheSweep    time.Duration
	CacheCapacity int
}

// RateConfig configures request rate limiting.
type RateConfig struct {
	Enabled      bool
	Requests     int
	Window       time.Duration
	TrustProxy   bool
	APIKeyHeader string
}

// RegistryConfig configures the durable Postgres-backed shard registry.
// Disabled (DSN == "") by default: it is metadata-only bookkeeping, never
// required for the counter hot path to function.
type RegistryConfig struct {
	DSN string
}

// Enabled reports whether a shard registry connection should be
// established.
func (r RegistryConfig) Enabled() bool {
	return r.DSN != ""
}

// Load builds a Config from environment variables, applying defaults for
// anything unset.
func Load() (*Config, error) {
	cfg := &Config{}

	cfg.Server.Host = getEnvString("SERVER_HOST", "0.0.0.0")
	port, err := getEnvInt("SERVER_PORT", 8080)
	if err != nil {
		return nil, err
	}
	cfg.Server.Port = port

	readTimeout, err := getEnvDuration("SERVER_READ_TIMEOUT", 5*time.Second)
	if err != nil {
		return nil, err
	}
	cfg.Server.ReadTimeout = readTimeout

	writeTimeout, err := getEnvDuration("SERVER_WRITE_TIMEOUT", 10*time.Second)
	if err != nil {
		return nil, err
	}
	cfg.Server.WriteTimeout = writeTimeout

	shutdownTimeout, err := getEnvDuration("SERVER_SHUTDOWN_TIMEOUT", 30*time.Second)
	if err != nil {
		return nil, err
	}
	cfg.Server.ShutdownTimeout = shutdownTimeout

	cfg.App.Env = getEnvString("APP_ENV", "development")
	cfg.App.LogLevel = getEnvString("LOG_LEVEL", "info")

	cfg.Shards.URLs = getEnvStringSlice("SHARD_URLS", []string{"redis://localhost:6379"})
	for _, url := range cfg.Shards.URLs {
		if !strings.HasPrefix(url, "redis://") {
			return nil, fmt.Errorf("config: invalid value for SHARD_URLS: %q must have redis:// prefix", url)
		}
	}

	virtualNodes, err := getEnvIntAlias("SHARD_VIRTUAL_NODES", "VIRTUAL_NODES", 100)
	if err != nil {
		return nil, err
	}
	cfg.Shards.VirtualNodes = virtualNodes

	retryAttempts, err := getEnvInt("SHARD_RETRY_ATTEMPTS", 3)
	if err != nil {
		return nil, err
	}
	cfg.Shards.RetryAttempts = retryAttempts

	shardTimeout, err := getEnvDuration("SHARD_TIMEOUT", 5*time.Second)
	if err != nil {
		return nil, err
	}
	cfg.Shards.ShardTimeout = shardTimeout

	poolSize, err := getEnvInt("SHARD_POOL_SIZE", 10)
	if err != nil {
		return nil, err
	}
	cfg.Shards.PoolSize = poolSize

	probeInterval, err := getEnvDuration("SHARD_PROBE_INTERVAL", 30*time.Second)
	if err != nil {
		return nil, err
	}
	cfg.Shards.ProbeInterval = probeInterval

	batchInterval, err := getEnvDuration("COUNTER_BATCH_INTERVAL", 5*time.Second)
	if err != nil {
		return nil, err
	}
	cfg.Counter.BatchInterval = batchInterval

	cacheTTL, err := getEnvDurationSecondsAlias("COUNTER_CACHE_TTL", "CACHE_TTL_SECONDS", 5*time.Second)
	if err != nil {
		return nil, err
	}
	cfg.Counter.CacheTTL = cacheTTL

	cacheSweep, err := getEnvDuration("COUNTER_CACHE_SWEEP_INTERVAL", cacheTTL)
	if err != nil {
		return nil, err
	}
	cfg.Counter.CacheSweep = cacheSweep

	cacheCapacity, err := getEnvIntAlias("COUNTER_CACHE_CAPACITY", "CACHE_CAPACITY", 1000)
	if err != nil {
		return nil, err
	}
	cfg.Counter.CacheCapacity = cacheCapacity

	rateEnabled, err := getEnvBool("RATE_LIMIT_ENABLED", false)
	if err != nil {
		return nil, err
	}
	cfg.Rate.Enabled = rateEnabled

	rateRequests, err := getEnvInt("RATE_LIMIT_REQUESTS", 100)
	if err != nil {
		return nil, err
	}
	cfg.Rate.Requests = rateRequests

	rateWindow, err := getEnvDuration("RATE_LIMIT_WINDOW", time.Minute)
	if err != nil {
		return nil, err
	}
	cfg.Rate.Window = rateWindow

	rateTrustProxy, err := getEnvBool("RATE_LIMIT_TRUST_PROXY", false)
	if err != nil {
		return nil, err
	}
	cfg.Rate.TrustProxy = rateTrustProxy
	cfg.Rate.APIKeyHeader = getEnvString("RATE_LIMIT_API_KEY_HEADER", "")

	cfg.Registry.DSN = getEnvString("REGISTRY_DSN", "")

	return cfg, nil
}

func getEnvString(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvStringSlice(key string, fallback []string) []string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	if len(out) == 0 {
		return fallback
	}
	return out
}

func getEnvInt(key string, fallback int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("config: invalid value for %s: %w", key, err)
	}
	return n, nil
}

// getEnvIntAlias reads primaryKey, falling back to aliasKey (an older or
// spec-given name for the same setting) before falling back to fallback.
func getEnvIntAlias(primaryKey, aliasKey string, fallback int) (int, error) {
	if v := os.Getenv(primaryKey); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return 0, fmt.Errorf("config: invalid value for %s: %w", primaryKey, err)
		}
		return n, nil
	}
	if v := os.Getenv(aliasKey); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return 0, fmt.Errorf("config: invalid value for %s: %w", aliasKey, err)
		}
		return n, nil
	}
	return fallback, nil
}

func getEnvBool(key string, fallback bool) (bool, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("config: invalid value for %s: %w", key, err)
	}
	return b, nil
}

func getEnvDuration(key string, fallback time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("config: invalid value for %s: %w", key, err)
	}
	return d, nil
}

// getEnvDurationSecondsAlias reads primaryKey as a Go duration string
// (e.g. "5s"), falling back to secondsAliasKey parsed as a plain integer
// number of seconds (the spec's naming convention), before falling back to
// fallback.
func getEnvDurationSecondsAlias(primaryKey, secondsAliasKey string, fallback time.Duration) (time.Duration, error) {
	if v := os.Getenv(primaryKey); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return 0, fmt.Errorf("config: invalid value for %s: %w", primaryKey, err)
		}
		return d, nil
	}
	if v := os.Getenv(secondsAliasKey); v != "" {
		secs, err := strconv.Atoi(v)
		if err != nil {
			return 0, fmt.Errorf("config: invalid value for %s: %w", secondsAliasKey, err)
		}
		return time.Duration(secs) * time.Second, nil
	}
	return fallback, nil
}
