package common

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
	"github.com/robfig/cron/v3"
)

// Config represents the application configuration
type Config struct {
	Environment string          `toml:"environment"` // "development" or "production"
	Server      ServerConfig    `toml:"server"`
	Storage     StorageConfig   `toml:"storage"`
	Logging     LoggingConfig   `toml:"logging"`
	Reprocess   ReprocessConfig `toml:"reprocess"`
	WebSocket   WebSocketConfig `toml:"websocket"`
}

type ServerConfig struct {
	Port int    `toml:"port"`
	Host string `toml:"host"`
}

type StorageConfig struct {
	Badger BadgerConfig `toml:"badger"`
}

// BadgerConfig represents BadgerDB-specific configuration
type BadgerConfig struct {
	Path           string `toml:"path"`             // Database directory path
	ResetOnStartup bool   `toml:"reset_on_startup"` // Delete database on startup for clean test runs
}

type LoggingConfig struct {
	Level  string   `toml:"level"`  // "debug", "info", "warn", "error"
	Format string   `toml:"format"` // "json" or "text"
	Output []string `toml:"output"` // "stdout", "file"
}

// ReprocessConfig configures the processing-backend client and the
// status polling loop.
type ReprocessConfig struct {
	BaseURL         string `toml:"base_url"`          // Processing backend base URL
	APIKey          string `toml:"api_key"`           // Backend API key (optional)
	RequestTimeout  string `toml:"request_timeout"`   // e.g. "30s" - per-request HTTP timeout
	RateLimit       int    `toml:"rate_limit"`        // Backend requests per second
	PollInterval    string `toml:"poll_interval"`     // e.g. "5s" - delay between chained status ticks
	MaxPollAttempts int    `toml:"max_poll_attempts"` // Polling budget per tracking session
	SweepSchedule   string `toml:"sweep_schedule"`    // Cron schedule for the handle reconciliation sweep
}

type WebSocketConfig struct {
	ProgressThrottle string `toml:"progress_throttle"` // e.g. "1s" - min interval between progress broadcasts
}

// NewDefaultConfig returns the built-in defaults. Poll cadence and budget
// follow the processing backend's operational envelope: 5s ticks bounded
// at 360 attempts, roughly the 30 minute ceiling of a bulk job.
func NewDefaultConfig() *Config {
	return &Config{
		Environment: "development",
		Server: ServerConfig{
			Port: 8085,
			Host: "localhost",
		},
		Storage: StorageConfig{
			Badger: BadgerConfig{
				Path: "./data",
			},
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
			Output: []string{"stdout", "file"},
		},
		Reprocess: ReprocessConfig{
			BaseURL:         "http://localhost:9090",
			RequestTimeout:  "30s",
			RateLimit:       10,
			PollInterval:    "5s",
			MaxPollAttempts: 360,
			SweepSchedule:   "@every 2m",
		},
		WebSocket: WebSocketConfig{
			ProgressThrottle: "1s",
		},
	}
}

// LoadFromFiles loads configuration from multiple files with priority:
// defaults -> file1 -> file2 -> ... -> env. Later files override earlier
// files; environment variables override all files.
func LoadFromFiles(paths ...string) (*Config, error) {
	config := NewDefaultConfig()

	for i, path := range paths {
		if path == "" {
			continue
		}

		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}

		if err := toml.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s (file %d of %d): %w", path, i+1, len(paths), err)
		}
	}

	applyEnvOverrides(config)

	return config, nil
}

// applyEnvOverrides applies environment variable overrides to config
func applyEnvOverrides(config *Config) {
	if env := os.Getenv("CALLDECK_ENV"); env != "" {
		config.Environment = env
	} else if env := os.Getenv("GO_ENV"); env != "" {
		config.Environment = env
	}

	if port := os.Getenv("CALLDECK_SERVER_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			config.Server.Port = p
		}
	}
	if host := os.Getenv("CALLDECK_SERVER_HOST"); host != "" {
		config.Server.Host = host
	}

	if badgerPath := os.Getenv("CALLDECK_BADGER_PATH"); badgerPath != "" {
		config.Storage.Badger.Path = badgerPath
	}

	if level := os.Getenv("CALLDECK_LOG_LEVEL"); level != "" {
		config.Logging.Level = level
	}
	if format := os.Getenv("CALLDECK_LOG_FORMAT"); format != "" {
		config.Logging.Format = format
	}
	if output := os.Getenv("CALLDECK_LOG_OUTPUT"); output != "" {
		outputs := []string{}
		for _, o := range strings.Split(output, ",") {
			if trimmed := strings.TrimSpace(o); trimmed != "" {
				outputs = append(outputs, trimmed)
			}
		}
		if len(outputs) > 0 {
			config.Logging.Output = outputs
		}
	}

	if baseURL := os.Getenv("CALLDECK_REPROCESS_BASE_URL"); baseURL != "" {
		config.Reprocess.BaseURL = baseURL
	}
	if apiKey := os.Getenv("CALLDECK_REPROCESS_API_KEY"); apiKey != "" {
		config.Reprocess.APIKey = apiKey
	}
	if interval := os.Getenv("CALLDECK_REPROCESS_POLL_INTERVAL"); interval != "" {
		config.Reprocess.PollInterval = interval
	}
	if attempts := os.Getenv("CALLDECK_REPROCESS_MAX_POLL_ATTEMPTS"); attempts != "" {
		if a, err := strconv.Atoi(attempts); err == nil {
			config.Reprocess.MaxPollAttempts = a
		}
	}
}

// ApplyFlagOverrides applies command-line flag overrides (highest priority)
func ApplyFlagOverrides(config *Config, port int, host string) {
	if port > 0 {
		config.Server.Port = port
	}
	if host != "" {
		config.Server.Host = host
	}
}

// PollInterval returns the parsed poll interval, falling back to 5s on
// a missing or malformed value.
func (c *ReprocessConfig) PollIntervalDuration() time.Duration {
	if d, err := time.ParseDuration(c.PollInterval); err == nil && d > 0 {
		return d
	}
	return 5 * time.Second
}

// RequestTimeoutDuration returns the parsed request timeout, falling
// back to 30s.
func (c *ReprocessConfig) RequestTimeoutDuration() time.Duration {
	if d, err := time.ParseDuration(c.RequestTimeout); err == nil && d > 0 {
		return d
	}
	return 30 * time.Second
}

// ProgressThrottleDuration returns the parsed progress throttle interval,
// or zero when throttling is disabled.
func (c *WebSocketConfig) ProgressThrottleDuration() time.Duration {
	if d, err := time.ParseDuration(c.ProgressThrottle); err == nil && d > 0 {
		return d
	}
	return 0
}

// ValidateSweepSchedule validates a cron schedule string. Supports both
// standard cron format and @every interval syntax.
func ValidateSweepSchedule(schedule string) error {
	if schedule == "" {
		return fmt.Errorf("sweep schedule cannot be empty")
	}

	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	if _, err := parser.Parse(schedule); err != nil {
		return fmt.Errorf("invalid sweep schedule %q: %w", schedule, err)
	}

	return nil
}

// IsProduction returns true when running in production mode
func (c *Config) IsProduction() bool {
	return strings.EqualFold(c.Environment, "production")
}
