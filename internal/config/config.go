package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"os"
	"strconv"
	"strings"
	"time"
)

// Store driver names.
const (
	DriverSQLite = "sqlite"
	DriverRedis  = "redis"
)

const (
	defaultListenAddr      = ":8080"
	defaultDBPath          = "tradeswarm.db"
	defaultStoreDriver     = DriverSQLite
	defaultRedisAddr       = "localhost:6379"
	defaultMaxConcurrent   = 20
	defaultRateLimit       = 10.0
	defaultRateCapacity    = 60
	defaultPollInterval    = 500 * time.Millisecond
	defaultInputTimeout    = 60 * time.Second
	defaultDispatchTimeout = 300 * time.Second
	defaultRetention       = 7 * 24 * time.Hour
	defaultAgents          = 6

	envListenAddr      = "TRADESWARM_LISTEN_ADDR"
	envDBPath          = "TRADESWARM_DB_PATH"
	envLogLevel        = "TRADESWARM_LOG_LEVEL"
	envStoreDriver     = "TRADESWARM_STORE_DRIVER"
	envRedisAddr       = "TRADESWARM_REDIS_ADDR"
	envMaxConcurrent   = "TRADESWARM_MAX_CONCURRENT"
	envRateLimit       = "TRADESWARM_RATE_LIMIT"
	envRateCapacity    = "TRADESWARM_RATE_CAPACITY"
	envPollInterval    = "TRADESWARM_POLL_INTERVAL"
	envInputTimeout    = "TRADESWARM_INPUT_TIMEOUT"
	envDispatchTimeout = "TRADESWARM_DISPATCH_TIMEOUT"
	envRetention       = "TRADESWARM_RETENTION"
	envBackendURL      = "TRADESWARM_BACKEND_URL"
	envAPIKey          = "TRADESWARM_API_KEY"
	envModel           = "TRADESWARM_MODEL"
	envAgents          = "TRADESWARM_AGENTS"
	envAgentProfile    = "TRADESWARM_AGENT_PROFILE"
)

// Config holds application configuration loaded from environment variables.
type Config struct {
	ListenAddr string
	LogLevel   slog.Level

	StoreDriver string
	DBPath      string
	RedisAddr   string

	MaxConcurrent   int
	RateLimit       float64
	RateCapacity    int
	PollInterval    time.Duration
	InputTimeout    time.Duration
	DispatchTimeout time.Duration
	Retention       time.Duration

	// BackendURL selects the chat backend. Empty means the local echo backend.
	BackendURL string
	APIKey     string
	Model      string

	// Agents is how many agents the server registers at startup.
	Agents int
	// AgentProfile optionally points at a JSON agent profile.
	AgentProfile string

	// parseErrs collects values that could not be parsed; Validate reports them.
	parseErrs []error
}

// Load reads configuration from environment variables with sensible defaults.
// Unparseable values keep their default and are reported by Validate.
func Load() Config {
	cfg := Config{
		ListenAddr:      defaultListenAddr,
		LogLevel:        slog.LevelInfo,
		StoreDriver:     defaultStoreDriver,
		DBPath:          defaultDBPath,
		RedisAddr:       defaultRedisAddr,
		MaxConcurrent:   defaultMaxConcurrent,
		RateLimit:       defaultRateLimit,
		RateCapacity:    defaultRateCapacity,
		PollInterval:    defaultPollInterval,
		InputTimeout:    defaultInputTimeout,
		DispatchTimeout: defaultDispatchTimeout,
		Retention:       defaultRetention,
		Agents:          defaultAgents,
	}

	if v := os.Getenv(envListenAddr); v != "" {
		cfg.ListenAddr = v
	}
	if v := os.Getenv(envDBPath); v != "" {
		cfg.DBPath = v
	}
	if v := os.Getenv(envLogLevel); v != "" {
		cfg.LogLevel = parseLogLevel(v)
	}
	if v := os.Getenv(envStoreDriver); v != "" {
		cfg.StoreDriver = strings.ToLower(v)
	}
	if v := os.Getenv(envRedisAddr); v != "" {
		cfg.RedisAddr = v
	}
	cfg.BackendURL = os.Getenv(envBackendURL)
	cfg.APIKey = os.Getenv(envAPIKey)
	cfg.Model = os.Getenv(envModel)
	cfg.AgentProfile = os.Getenv(envAgentProfile)

	cfg.intVar(&cfg.MaxConcurrent, envMaxConcurrent)
	cfg.intVar(&cfg.RateCapacity, envRateCapacity)
	cfg.intVar(&cfg.Agents, envAgents)
	cfg.durationVar(&cfg.PollInterval, envPollInterval)
	cfg.durationVar(&cfg.InputTimeout, envInputTimeout)
	cfg.durationVar(&cfg.DispatchTimeout, envDispatchTimeout)
	cfg.durationVar(&cfg.Retention, envRetention)
	if v := os.Getenv(envRateLimit); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			cfg.parseErrs = append(cfg.parseErrs, fmt.Errorf("%s: %w", envRateLimit, err))
		} else {
			cfg.RateLimit = f
		}
	}

	return cfg
}

// Validate reports every invalid setting.
func (c Config) Validate() error {
	errs := append([]error(nil), c.parseErrs...)

	if c.MaxConcurrent <= 0 {
		errs = append(errs, fmt.Errorf("%s must be positive, got %d", envMaxConcurrent, c.MaxConcurrent))
	}
	if c.RateLimit <= 0 || math.IsNaN(c.RateLimit) || math.IsInf(c.RateLimit, 0) {
		errs = append(errs, fmt.Errorf("%s must be a positive number, got %v", envRateLimit, c.RateLimit))
	}
	if c.RateCapacity < 1 {
		errs = append(errs, fmt.Errorf("%s must be at least 1, got %d", envRateCapacity, c.RateCapacity))
	}
	if c.PollInterval <= 0 {
		errs = append(errs, fmt.Errorf("%s must be positive, got %v", envPollInterval, c.PollInterval))
	}
	if c.InputTimeout < 0 {
		errs = append(errs, fmt.Errorf("%s must not be negative, got %v", envInputTimeout, c.InputTimeout))
	}
	if c.DispatchTimeout < 0 {
		errs = append(errs, fmt.Errorf("%s must not be negative, got %v", envDispatchTimeout, c.DispatchTimeout))
	}
	if c.Agents < 1 {
		errs = append(errs, fmt.Errorf("%s must be at least 1, got %d", envAgents, c.Agents))
	}
	if c.Retention <= 0 {
		errs = append(errs, fmt.Errorf("%s must be positive, got %v", envRetention, c.Retention))
	}

	switch c.StoreDriver {
	case DriverSQLite:
		if c.DBPath == "" {
			errs = append(errs, fmt.Errorf("%s must be set for the sqlite driver", envDBPath))
		}
	case DriverRedis:
		if c.RedisAddr == "" {
			errs = append(errs, fmt.Errorf("%s must be set for the redis driver", envRedisAddr))
		}
	default:
		errs = append(errs, fmt.Errorf("%s must be %q or %q, got %q", envStoreDriver, DriverSQLite, DriverRedis, c.StoreDriver))
	}

	return errors.Join(errs...)
}

func (c *Config) intVar(dst *int, env string) {
	v := os.Getenv(env)
	if v == "" {
		return
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		c.parseErrs = append(c.parseErrs, fmt.Errorf("%s: %w", env, err))
		return
	}
	*dst = n
}

func (c *Config) durationVar(dst *time.Duration, env string) {
	v := os.Getenv(env)
	if v == "" {
		return
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		c.parseErrs = append(c.parseErrs, fmt.Errorf("%s: %w", env, err))
		return
	}
	*dst = d
}

func parseLogLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// NewLogger creates a structured JSON logger writing to w at the configured level.
func NewLogger(w io.Writer, level slog.Level) *slog.Logger {
	return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{
		Level: level,
	}))
}
