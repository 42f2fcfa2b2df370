package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/kjstillabower/forecast-alert-service/internal/models"
)

// Cache backends accepted by cache.backend / CACHE_BACKEND.
const (
	BackendInMemory  = "in_memory"
	BackendMemcached = "memcached"
	BackendRedis     = "redis"
)

// Config holds service configuration loaded from YAML, an optional .env file and env.
type Config struct {
	ServerPort     string
	AllowedOrigins []string

	ProviderURL         string
	ProviderTimeout     time.Duration
	ProviderMaxRetries  int
	ProviderBackoffBase time.Duration
	ProviderUserAgent   string

	RequestTimeout time.Duration

	CacheBackend       string
	CacheTTL           time.Duration
	CacheSweepInterval time.Duration

	MemcachedAddrs        string
	MemcachedTimeout      time.Duration
	MemcachedMaxIdleConns int

	RedisAddr     string
	RedisPassword string
	RedisDB       int
	RedisTimeout  time.Duration

	Thresholds models.Thresholds

	RateLimitRPS   int
	RateLimitBurst int

	CircuitBreakerEnabled          bool
	CircuitBreakerFailureThreshold int
	CircuitBreakerSuccessThreshold int
	CircuitBreakerTimeout          time.Duration

	ShutdownTimeout               time.Duration
	ShutdownInFlightTimeout       time.Duration
	ShutdownInFlightCheckInterval time.Duration

	OverloadWindow         time.Duration
	OverloadThresholdPct   int
	IdleThresholdReqPerMin int
	IdleWindow             time.Duration
	MinimumLifespan        time.Duration
	DegradedWindow         time.Duration
	DegradedErrorPct       int

	// MonitorLocations are city names warmed on a schedule.
	MonitorLocations   []string
	WarmInterval       time.Duration
	MonitorConcurrency int

	TrackedLocations []string
}

type fileConfig struct {
	Server struct {
		Port           string   `yaml:"port"`
		AllowedOrigins []string `yaml:"allowed_origins"`
	} `yaml:"server"`

	Provider struct {
		URL         string `yaml:"url"`
		Timeout     string `yaml:"timeout"`
		MaxRetries  *int   `yaml:"max_retries"`
		BackoffBase string `yaml:"backoff_base"`
		UserAgent   string `yaml:"user_agent"`
	} `yaml:"provider"`

	Request struct {
		Timeout string `yaml:"timeout"`
	} `yaml:"request"`

	Cache struct {
		Backend       string `yaml:"backend"`
		TTL           string `yaml:"ttl"`
		SweepInterval string `yaml:"sweep_interval"`
		Memcached     struct {
			Addrs        string `yaml:"addrs"`
			Timeout      string `yaml:"timeout"`
			MaxIdleConns int    `yaml:"max_idle_conns"`
		} `yaml:"memcached"`
		Redis struct {
			Addr     string `yaml:"addr"`
			Password string `yaml:"password"`
			DB       int    `yaml:"db"`
			Timeout  string `yaml:"timeout"`
		} `yaml:"redis"`
	} `yaml:"cache"`

	Alerts models.ThresholdOverrides `yaml:"alerts"`

	Reliability struct {
		RateLimitRPS                   int    `yaml:"rate_limit_rps"`
		RateLimitBurst                 int    `yaml:"rate_limit_burst"`
		CircuitBreakerEnabled          bool   `yaml:"circuit_breaker_enabled"`
		CircuitBreakerFailureThreshold int    `yaml:"circuit_breaker_failure_threshold"`
		CircuitBreakerSuccessThreshold int    `yaml:"circuit_breaker_success_threshold"`
		CircuitBreakerTimeout          string `yaml:"circuit_breaker_timeout"`
	} `yaml:"reliability"`

	Shutdown struct {
		Timeout               string `yaml:"timeout"`
		InFlightTimeout       string `yaml:"in_flight_timeout"`
		InFlightCheckInterval string `yaml:"in_flight_check_interval"`
	} `yaml:"shutdown"`

	Lifecycle struct {
		OverloadWindow         string `yaml:"overload_window"`
		OverloadThresholdPct   int    `yaml:"overload_threshold_pct"`
		IdleThresholdReqPerMin int    `yaml:"idle_threshold_req_per_min"`
		IdleWindow             string `yaml:"idle_window"`
		MinimumLifespan        string `yaml:"minimum_lifespan"`
		DegradedWindow         string `yaml:"degraded_window"`
		DegradedErrorPct       int    `yaml:"degraded_error_pct"`
	} `yaml:"lifecycle"`

	Monitor struct {
		Locations    []string `yaml:"locations"`
		WarmInterval string   `yaml:"warm_interval"`
		Concurrency  int      `yaml:"concurrency"`
	} `yaml:"monitor"`

	Metrics struct {
		TrackedLocations []string `yaml:"tracked_locations"`
	} `yaml:"metrics"`
}

// Load reads config/{ENV_NAME}.yaml (default dev) relative to the working directory.
// A .env file in the working directory, when present, is loaded into the environment
// first without overriding variables that are already set.
func Load() (*Config, error) {
	cwd, err := os.Getwd()
	if err != nil {
		return nil, fmt.Errorf("config: get working directory: %w", err)
	}
	if err := godotenv.Load(filepath.Join(cwd, ".env")); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	env := os.Getenv("ENV_NAME")
	if env == "" {
		env = "dev"
	}
	configPath := filepath.Join(cwd, "config", env+".yaml")
	data, err := os.ReadFile(configPath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("config file not found: %s", configPath)
		}
		return nil, fmt.Errorf("read config file: %w", err)
	}

	var fc fileConfig
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return nil, fmt.Errorf("parse config file: %w", err)
	}

	cfg := fromFile(&fc)
	applyEnv(cfg)
	if err := validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func fromFile(fc *fileConfig) *Config {
	cfg := &Config{}

	cfg.ServerPort = stringOr(fc.Server.Port, "8080")
	cfg.AllowedOrigins = fc.Server.AllowedOrigins

	cfg.ProviderURL = stringOr(fc.Provider.URL, "https://api.open-meteo.com/v1/forecast")
	cfg.ProviderTimeout = parseDurationOrZero(fc.Provider.Timeout, 10*time.Second)
	cfg.ProviderMaxRetries = 2
	if fc.Provider.MaxRetries != nil {
		cfg.ProviderMaxRetries = *fc.Provider.MaxRetries
	}
	cfg.ProviderBackoffBase = parseDuration(fc.Provider.BackoffBase, time.Second)
	cfg.ProviderUserAgent = strings.TrimSpace(fc.Provider.UserAgent)

	cfg.RequestTimeout = parseDuration(fc.Request.Timeout, 35*time.Second)

	cfg.CacheBackend = strings.ToLower(stringOr(fc.Cache.Backend, BackendInMemory))
	cfg.CacheTTL = parseDuration(fc.Cache.TTL, 600*time.Second)
	cfg.CacheSweepInterval = parseDurationOrZero(fc.Cache.SweepInterval, time.Minute)
	cfg.MemcachedAddrs = stringOr(fc.Cache.Memcached.Addrs, "localhost:11211")
	cfg.MemcachedTimeout = parseDuration(fc.Cache.Memcached.Timeout, 500*time.Millisecond)
	cfg.MemcachedMaxIdleConns = fc.Cache.Memcached.MaxIdleConns
	if cfg.MemcachedMaxIdleConns <= 0 {
		cfg.MemcachedMaxIdleConns = 2
	}
	cfg.RedisAddr = stringOr(fc.Cache.Redis.Addr, "localhost:6379")
	cfg.RedisPassword = fc.Cache.Redis.Password
	cfg.RedisDB = fc.Cache.Redis.DB
	cfg.RedisTimeout = parseDuration(fc.Cache.Redis.Timeout, 500*time.Millisecond)

	cfg.Thresholds = fc.Alerts.Resolve()

	cfg.RateLimitRPS = fc.Reliability.RateLimitRPS
	if cfg.RateLimitRPS < 0 {
		cfg.RateLimitRPS = 0
	}
	cfg.RateLimitBurst = fc.Reliability.RateLimitBurst
	if cfg.RateLimitRPS > 0 && cfg.RateLimitBurst <= 0 {
		cfg.RateLimitBurst = cfg.RateLimitRPS
	}
	cfg.CircuitBreakerEnabled = fc.Reliability.CircuitBreakerEnabled
	cfg.CircuitBreakerFailureThreshold = intOr(fc.Reliability.CircuitBreakerFailureThreshold, 5)
	cfg.CircuitBreakerSuccessThreshold = intOr(fc.Reliability.CircuitBreakerSuccessThreshold, 2)
	cfg.CircuitBreakerTimeout = parseDuration(fc.Reliability.CircuitBreakerTimeout, 30*time.Second)

	cfg.ShutdownTimeout = parseDuration(fc.Shutdown.Timeout, 30*time.Second)
	cfg.ShutdownInFlightTimeout = parseDuration(fc.Shutdown.InFlightTimeout, 10*time.Second)
	cfg.ShutdownInFlightCheckInterval = parseDuration(fc.Shutdown.InFlightCheckInterval, 100*time.Millisecond)

	cfg.OverloadWindow = parseDuration(fc.Lifecycle.OverloadWindow, 60*time.Second)
	cfg.OverloadThresholdPct = intOr(fc.Lifecycle.OverloadThresholdPct, 80)
	cfg.IdleThresholdReqPerMin = intOr(fc.Lifecycle.IdleThresholdReqPerMin, 1)
	cfg.IdleWindow = parseDuration(fc.Lifecycle.IdleWindow, 5*time.Minute)
	cfg.MinimumLifespan = parseDuration(fc.Lifecycle.MinimumLifespan, 5*time.Minute)
	cfg.DegradedWindow = parseDuration(fc.Lifecycle.DegradedWindow, 60*time.Second)
	cfg.DegradedErrorPct = intOr(fc.Lifecycle.DegradedErrorPct, 50)

	cfg.MonitorLocations = fc.Monitor.Locations
	cfg.WarmInterval = parseDurationOrZero(fc.Monitor.WarmInterval, 0)
	cfg.MonitorConcurrency = intOr(fc.Monitor.Concurrency, 8)

	cfg.TrackedLocations = fc.Metrics.TrackedLocations
	return cfg
}

// applyEnv overrides file values with PORT, CACHE_BACKEND, MEMCACHED_ADDRS,
// REDIS_ADDR, PROVIDER_URL and RATE_LIMIT_RPS when set.
func applyEnv(cfg *Config) {
	if v := strings.TrimSpace(os.Getenv("PORT")); v != "" {
		cfg.ServerPort = v
	}
	if v := strings.TrimSpace(os.Getenv("CACHE_BACKEND")); v != "" {
		cfg.CacheBackend = strings.ToLower(v)
	}
	if v := strings.TrimSpace(os.Getenv("MEMCACHED_ADDRS")); v != "" {
		cfg.MemcachedAddrs = v
	}
	if v := strings.TrimSpace(os.Getenv("REDIS_ADDR")); v != "" {
		cfg.RedisAddr = v
	}
	if v := strings.TrimSpace(os.Getenv("PROVIDER_URL")); v != "" {
		cfg.ProviderURL = v
	}
	if v := strings.TrimSpace(os.Getenv("RATE_LIMIT_RPS")); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			cfg.RateLimitRPS = n
			if n > 0 && cfg.RateLimitBurst <= 0 {
				cfg.RateLimitBurst = n
			}
		}
	}
}

// FetchBudget is the longest a provider fetch can take: every attempt timing out
// plus every backoff delay.
func (c *Config) FetchBudget() time.Duration {
	budget := time.Duration(c.ProviderMaxRetries+1) * c.ProviderTimeout
	for n := 0; n < c.ProviderMaxRetries; n++ {
		budget += c.ProviderBackoffBase << n
	}
	return budget
}

// validate checks loaded values. RequestTimeout is raised above FetchBudget when it
// would cut retries short.
func validate(cfg *Config) error {
	if cfg.ProviderTimeout <= 0 {
		return fmt.Errorf("provider.timeout must be positive")
	}
	if cfg.ProviderMaxRetries < 0 {
		return fmt.Errorf("provider.max_retries must not be negative, got %d", cfg.ProviderMaxRetries)
	}
	if budget := cfg.FetchBudget(); cfg.RequestTimeout <= budget {
		cfg.RequestTimeout = budget + time.Second
	}
	switch cfg.CacheBackend {
	case BackendInMemory, BackendMemcached, BackendRedis:
	default:
		return fmt.Errorf("cache.backend must be in_memory, memcached or redis, got %q", cfg.CacheBackend)
	}
	return nil
}

func stringOr(s, def string) string {
	if s = strings.TrimSpace(s); s == "" {
		return def
	}
	return s
}

func intOr(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}

// parseDuration parses a duration string and returns defaultVal if parsing fails or result is <= 0.
func parseDuration(s string, defaultVal time.Duration) time.Duration {
	d := parseDurationOrZero(s, defaultVal)
	if d <= 0 {
		return defaultVal
	}
	return d
}

// parseDurationOrZero parses a duration string, returning defaultVal on empty string or parse error.
// Zero and negative durations are returned as-is.
func parseDurationOrZero(s string, defaultVal time.Duration) time.Duration {
	s = strings.TrimSpace(s)
	if s == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return defaultVal
	}
	return d
}
