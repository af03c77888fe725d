package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const (
	defaultLocationsURL = "http://dataservice.accuweather.com/locations/v1/cities/autocomplete"
	defaultForecastURL  = "http://dataservice.accuweather.com/forecasts/v1/daily"
)

// Config holds service configuration loaded from YAML, .env and the process environment.
type Config struct {
	ServerPort string

	AccuWeatherAPIKey      string
	LocationsURL           string
	ForecastURL            string
	Language               string
	AccuWeatherTimeout     time.Duration
	UpstreamRateLimitRPS   float64 // 0 disables the outbound limiter
	UpstreamRateLimitBurst int

	CircuitBreakerEnabled             bool
	CircuitBreakerFailureThreshold    int
	CircuitBreakerOpenTimeout         time.Duration
	CircuitBreakerHalfOpenMaxRequests int

	MaxConcurrentCalls int
	QueryMaxLength     int

	SessionBackend        string // "in_memory" or "memcached"
	SessionTTL            time.Duration
	SessionSweepInterval  time.Duration
	MemcachedAddrs        string
	MemcachedTimeout      time.Duration
	MemcachedMaxIdleConns int

	RateLimitRPS   int
	RateLimitBurst int

	RequestTimeout  time.Duration
	ShutdownTimeout time.Duration

	DegradedWindow       time.Duration
	DegradedErrorPct     int
	OverloadWindow       time.Duration
	OverloadThresholdPct int
}

type fileConfig struct {
	Server struct {
		Port string `yaml:"port"`
	} `yaml:"server"`

	AccuWeather struct {
		LocationsURL   string  `yaml:"locations_url"`
		ForecastURL    string  `yaml:"forecast_url"`
		Language       string  `yaml:"language"`
		Timeout        string  `yaml:"timeout"`
		RateLimitRPS   float64 `yaml:"rate_limit_rps"`
		RateLimitBurst int     `yaml:"rate_limit_burst"`
	} `yaml:"accuweather"`

	CircuitBreaker struct {
		Enabled             bool   `yaml:"enabled"`
		FailureThreshold    int    `yaml:"failure_threshold"`
		OpenTimeout         string `yaml:"open_timeout"`
		HalfOpenMaxRequests int    `yaml:"half_open_max_requests"`
	} `yaml:"circuit_breaker"`

	Pipeline struct {
		MaxConcurrentCalls int `yaml:"max_concurrent_calls"`
		QueryMaxLength     int `yaml:"query_max_length"`
	} `yaml:"pipeline"`

	Session struct {
		Backend       string `yaml:"backend"`
		TTL           string `yaml:"ttl"`
		SweepInterval string `yaml:"sweep_interval"`
		Memcached     struct {
			Addrs        string `yaml:"addrs"`
			Timeout      string `yaml:"timeout"`
			MaxIdleConns int    `yaml:"max_idle_conns"`
		} `yaml:"memcached"`
	} `yaml:"session"`

	Reliability struct {
		RateLimitRPS   int `yaml:"rate_limit_rps"`
		RateLimitBurst int `yaml:"rate_limit_burst"`
	} `yaml:"reliability"`

	Request struct {
		Timeout string `yaml:"timeout"`
	} `yaml:"request"`

	Shutdown struct {
		Timeout string `yaml:"timeout"`
	} `yaml:"shutdown"`

	Health struct {
		DegradedWindow       string `yaml:"degraded_window"`
		DegradedErrorPct     int    `yaml:"degraded_error_pct"`
		OverloadWindow       string `yaml:"overload_window"`
		OverloadThresholdPct int    `yaml:"overload_threshold_pct"`
	} `yaml:"health"`
}

type secretsFile struct {
	AccuWeatherAPIKey string `yaml:"accuweather_api_key"`
}

// Load reads configuration from config/{ENV_NAME}.yaml (default dev) and config/secrets.yaml.
// A .env file in the working directory is loaded first; it never overrides variables already set.
// API key comes from ACCUWEATHER_API_KEY env or secrets file. Call from project root.
func Load() (*Config, error) {
	cwd, err := os.Getwd()
	if err != nil {
		return nil, fmt.Errorf("config: get working directory: %w", err)
	}
	if err := godotenv.Load(filepath.Join(cwd, ".env")); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load .env file: %w", err)
	}

	env := os.Getenv("ENV_NAME")
	if env == "" {
		env = "dev"
	}

	configPath := filepath.Join(cwd, "config", env+".yaml")
	data, err := os.ReadFile(configPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config file not found: %s", configPath)
		}
		return nil, fmt.Errorf("read config file: %w", err)
	}

	var fc fileConfig
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return nil, fmt.Errorf("parse config file: %w", err)
	}

	cfg := &Config{}
	cfg.ServerPort = fc.Server.Port
	if cfg.ServerPort == "" {
		cfg.ServerPort = "8080"
	}

	cfg.AccuWeatherAPIKey = os.Getenv("ACCUWEATHER_API_KEY")
	if cfg.AccuWeatherAPIKey == "" {
		secretsPath := filepath.Join(cwd, "config", "secrets.yaml")
		secretsData, err := os.ReadFile(secretsPath)
		if err != nil {
			if !os.IsNotExist(err) {
				return nil, fmt.Errorf("read secrets file: %w", err)
			}
		} else {
			var sec secretsFile
			if err := yaml.Unmarshal(secretsData, &sec); err != nil {
				return nil, fmt.Errorf("parse secrets file: %w", err)
			}
			cfg.AccuWeatherAPIKey = sec.AccuWeatherAPIKey
		}
	}
	if cfg.AccuWeatherAPIKey == "" {
		return nil, fmt.Errorf("ACCUWEATHER_API_KEY required (set env, .env or config/secrets.yaml accuweather_api_key)")
	}

	cfg.LocationsURL = firstNonEmpty(fc.AccuWeather.LocationsURL, defaultLocationsURL)
	cfg.ForecastURL = strings.TrimRight(firstNonEmpty(fc.AccuWeather.ForecastURL, defaultForecastURL), "/")
	cfg.Language = firstNonEmpty(fc.AccuWeather.Language, "ru")
	cfg.AccuWeatherTimeout = parseDurationOrZero(fc.AccuWeather.Timeout, 5*time.Second)
	cfg.UpstreamRateLimitRPS = fc.AccuWeather.RateLimitRPS
	cfg.UpstreamRateLimitBurst = fc.AccuWeather.RateLimitBurst
	if cfg.UpstreamRateLimitBurst <= 0 {
		cfg.UpstreamRateLimitBurst = 1
	}

	cfg.CircuitBreakerEnabled = fc.CircuitBreaker.Enabled
	cfg.CircuitBreakerFailureThreshold = fc.CircuitBreaker.FailureThreshold
	if cfg.CircuitBreakerFailureThreshold <= 0 {
		cfg.CircuitBreakerFailureThreshold = 5
	}
	cfg.CircuitBreakerOpenTimeout = parseDuration(fc.CircuitBreaker.OpenTimeout, 30*time.Second)
	cfg.CircuitBreakerHalfOpenMaxRequests = fc.CircuitBreaker.HalfOpenMaxRequests
	if cfg.CircuitBreakerHalfOpenMaxRequests <= 0 {
		cfg.CircuitBreakerHalfOpenMaxRequests = 1
	}

	cfg.MaxConcurrentCalls = fc.Pipeline.MaxConcurrentCalls
	if cfg.MaxConcurrentCalls <= 0 {
		cfg.MaxConcurrentCalls = 5
	}
	cfg.QueryMaxLength = fc.Pipeline.QueryMaxLength
	if cfg.QueryMaxLength <= 0 {
		cfg.QueryMaxLength = 100
	}

	cfg.SessionBackend = strings.TrimSpace(strings.ToLower(os.Getenv("SESSION_BACKEND")))
	if cfg.SessionBackend == "" {
		cfg.SessionBackend = strings.TrimSpace(strings.ToLower(fc.Session.Backend))
	}
	if cfg.SessionBackend == "" {
		cfg.SessionBackend = "in_memory"
	}
	cfg.SessionTTL = parseDuration(fc.Session.TTL, 30*time.Minute)
	cfg.SessionSweepInterval = parseDuration(fc.Session.SweepInterval, time.Minute)
	cfg.MemcachedAddrs = strings.TrimSpace(os.Getenv("MEMCACHED_ADDRS"))
	if cfg.MemcachedAddrs == "" {
		cfg.MemcachedAddrs = strings.TrimSpace(fc.Session.Memcached.Addrs)
	}
	if cfg.MemcachedAddrs == "" {
		cfg.MemcachedAddrs = "localhost:11211"
	}
	cfg.MemcachedTimeout = parseDuration(fc.Session.Memcached.Timeout, 500*time.Millisecond)
	cfg.MemcachedMaxIdleConns = fc.Session.Memcached.MaxIdleConns
	if cfg.MemcachedMaxIdleConns <= 0 {
		cfg.MemcachedMaxIdleConns = 2
	}

	cfg.RateLimitRPS = fc.Reliability.RateLimitRPS
	if cfg.RateLimitRPS <= 0 {
		cfg.RateLimitRPS = 20
	}
	cfg.RateLimitBurst = fc.Reliability.RateLimitBurst
	if cfg.RateLimitBurst <= 0 {
		cfg.RateLimitBurst = 40
	}

	cfg.RequestTimeout = parseDuration(fc.Request.Timeout, 15*time.Second)
	cfg.ShutdownTimeout = parseDuration(fc.Shutdown.Timeout, 30*time.Second)

	cfg.DegradedWindow = parseDuration(fc.Health.DegradedWindow, 60*time.Second)
	cfg.DegradedErrorPct = fc.Health.DegradedErrorPct
	if cfg.DegradedErrorPct <= 0 {
		cfg.DegradedErrorPct = 50
	}
	cfg.OverloadWindow = parseDuration(fc.Health.OverloadWindow, 60*time.Second)
	cfg.OverloadThresholdPct = fc.Health.OverloadThresholdPct
	if cfg.OverloadThresholdPct <= 0 {
		cfg.OverloadThresholdPct = 80
	}

	if err := validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if s := strings.TrimSpace(v); s != "" {
			return s
		}
	}
	return ""
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
// Returns zero or negative durations as-is (caller should handle fallback).
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

// validate performs post-load validation of configuration values. RequestTimeout is raised
// to cover one upstream call per stage when it is configured below the upstream timeout.
func validate(cfg *Config) error {
	if cfg.AccuWeatherTimeout <= 0 {
		return fmt.Errorf("accuweather.timeout must be positive")
	}
	if cfg.RequestTimeout <= cfg.AccuWeatherTimeout {
		cfg.RequestTimeout = cfg.AccuWeatherTimeout + time.Second
	}
	if cfg.UpstreamRateLimitRPS < 0 {
		return fmt.Errorf("accuweather.rate_limit_rps must not be negative")
	}
	if cfg.DegradedErrorPct > 100 {
		return fmt.Errorf("health.degraded_error_pct must be at most 100, got %d", cfg.DegradedErrorPct)
	}
	if len(cfg.Language) > 10 {
		return fmt.Errorf("accuweather.language looks invalid: %q", cfg.Language)
	}
	switch cfg.SessionBackend {
	case "in_memory", "memcached":
		// valid
	default:
		return fmt.Errorf("session.backend must be in_memory or memcached, got %q", cfg.SessionBackend)
	}
	return nil
}
