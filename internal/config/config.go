// Package config loads GrowthGovernor's runtime configuration from the
// environment, an optional .env file and an optional YAML limits file.
//
// Command-line flags take precedence over everything loaded here; the cmd
// package uses these values as flag defaults.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/BTreeMap/GrowthGovernor/internal/dispatch"
	"github.com/BTreeMap/GrowthGovernor/internal/models"
	"github.com/BTreeMap/GrowthGovernor/internal/quota"
	"github.com/BTreeMap/GrowthGovernor/internal/scheduler"
	"github.com/BTreeMap/GrowthGovernor/internal/store"
	"github.com/BTreeMap/GrowthGovernor/internal/util"
)

// Default configuration constants
const (
	// DefaultStateDir is the default directory for GrowthGovernor state data
	DefaultStateDir = "/var/lib/growthgovernor"
	// DefaultDBFileName is the default SQLite database filename
	DefaultDBFileName = "growthgovernor.db"
	// DefaultAPIAddr is the default listen address of the HTTP API
	DefaultAPIAddr = ":8080"
	// DefaultRateLimitWindow and DefaultRateLimitMax bound inbound trigger requests per caller.
	DefaultRateLimitWindow = time.Minute
	DefaultRateLimitMax    = 60
)

// ErrInvalidTarget is returned for a malformed DISPATCH_CONTEXTS entry.
var ErrInvalidTarget = errors.New("invalid dispatch target")

// Config holds environment configuration
type Config struct {
	StateDir       string
	DatabaseURL    string
	DBMaxOpenConns int
	APIAddr        string

	LogLevel  string
	LogFormat string

	QuotaLimitsFile    string
	QuotaTimezone      string
	QuotaRetentionDays int

	RateLimitWindow    time.Duration
	RateLimitMax       int
	RateLimitKeyHeader string
	RateLimitTrustXFF  bool

	RedisAddr     string
	RedisPassword string
	RedisDB       int

	DispatchEnabled  bool
	DispatchContexts string
	DispatchInterval time.Duration
	DispatchPace     time.Duration
	DispatchBatch    int

	MaintenanceCron string
}

// LoadDotEnv loads path (".env" when empty) into the process environment
// without overriding variables that are already set. A missing file is not an error.
func LoadDotEnv(path string) {
	if path == "" {
		path = ".env"
	}
	if err := godotenv.Load(path); err != nil {
		slog.Debug("config.LoadDotEnv: no .env file loaded", "path", path, "error", err)
		return
	}
	slog.Debug("config.LoadDotEnv: loaded .env file", "path", path)
}

// FromEnv reads every configuration key from the environment, applying defaults.
func FromEnv() Config {
	cfg := Config{
		StateDir:       util.GetEnv("GOVERNOR_STATE_DIR", DefaultStateDir),
		DatabaseURL:    util.GetEnv("DATABASE_URL", ""),
		DBMaxOpenConns: util.ParseIntEnv("DB_MAX_OPEN_CONNS", 0),
		APIAddr:        util.GetEnv("API_ADDR", DefaultAPIAddr),

		LogLevel:  util.GetEnv("LOG_LEVEL", "info"),
		LogFormat: util.GetEnv("LOG_FORMAT", "text"),

		QuotaLimitsFile:    util.GetEnv("QUOTA_LIMITS_FILE", ""),
		QuotaTimezone:      util.GetEnv("QUOTA_TIMEZONE", ""),
		QuotaRetentionDays: util.ParseIntEnv("QUOTA_RETENTION_DAYS", quota.DefaultRetentionDays),

		RateLimitWindow:    util.ParseDurationEnv("RATE_LIMIT_WINDOW", DefaultRateLimitWindow),
		RateLimitMax:       util.ParseIntEnv("RATE_LIMIT_MAX", DefaultRateLimitMax),
		RateLimitKeyHeader: util.GetEnv("RATE_LIMIT_KEY_HEADER", ""),
		RateLimitTrustXFF:  util.ParseBoolEnv("RATE_LIMIT_TRUST_XFF", false),

		RedisAddr:     util.GetEnv("REDIS_ADDR", ""),
		RedisPassword: os.Getenv("REDIS_PASSWORD"),
		RedisDB:       util.ParseIntEnv("REDIS_DB", 0),

		DispatchEnabled:  util.ParseBoolEnv("DISPATCH_ENABLED", true),
		DispatchContexts: util.GetEnv("DISPATCH_CONTEXTS", ""),
		DispatchInterval: util.ParseDurationEnv("DISPATCH_INTERVAL", dispatch.DefaultInterval),
		DispatchPace:     util.ParseDurationEnv("DISPATCH_PACE", dispatch.DefaultPace),
		DispatchBatch:    util.ParseIntEnv("DISPATCH_BATCH", dispatch.DefaultBatchSize),

		MaintenanceCron: util.GetEnv("MAINTENANCE_CRON", scheduler.DefaultMaintenanceCron),
	}

	slog.Debug("config.FromEnv: environment loaded",
		"GOVERNOR_STATE_DIR", cfg.StateDir,
		"DATABASE_URL_SET", cfg.DatabaseURL != "",
		"API_ADDR", cfg.APIAddr,
		"QUOTA_LIMITS_FILE", cfg.QuotaLimitsFile,
		"REDIS_ADDR", cfg.RedisAddr,
		"DISPATCH_CONTEXTS", cfg.DispatchContexts,
		"MAINTENANCE_CRON", cfg.MaintenanceCron)
	return cfg
}

// DSN returns DATABASE_URL, or the SQLite file inside the state directory.
func (c Config) DSN() string {
	if c.DatabaseURL != "" {
		return c.DatabaseURL
	}
	return filepath.Join(c.StateDir, DefaultDBFileName)
}

// UsesSQLite reports whether DSN resolves to a SQLite file.
func (c Config) UsesSQLite() bool {
	return store.DetectDSNType(c.DSN()) == "sqlite"
}

// QuotaSettings resolves the ceilings and time zone: built-in defaults, then
// the limits file, then QUOTA_LIMIT_<ACTION> variables. QUOTA_TIMEZONE wins
// over the file's timezone.
func (c Config) QuotaSettings(lookup func(string) (string, bool)) (quota.Limits, *time.Location, error) {
	limits := quota.DefaultLimits()
	loc := time.UTC

	if c.QuotaLimitsFile != "" {
		f, err := quota.LoadLimitsFile(c.QuotaLimitsFile)
		if err != nil {
			return nil, nil, err
		}
		if err := f.Apply(limits); err != nil {
			return nil, nil, err
		}
		fileLoc, err := f.Location()
		if err != nil {
			return nil, nil, err
		}
		if fileLoc != nil {
			loc = fileLoc
		}
	}

	if err := quota.ApplyEnvOverrides(limits, lookup); err != nil {
		return nil, nil, err
	}

	if c.QuotaTimezone != "" {
		tz, err := time.LoadLocation(c.QuotaTimezone)
		if err != nil {
			return nil, nil, fmt.Errorf("QUOTA_TIMEZONE %q: %w", c.QuotaTimezone, err)
		}
		loc = tz
	}
	return limits, loc, nil
}

// ParseTargets parses DISPATCH_CONTEXTS: a comma-separated list of
// "context:channel" pairs. A bare "context" selects every channel.
func ParseTargets(raw string) ([]dispatch.Target, error) {
	var targets []dispatch.Target
	seen := make(map[dispatch.Target]bool)
	add := func(t dispatch.Target) {
		if !seen[t] {
			seen[t] = true
			targets = append(targets, t)
		}
	}

	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		contextName, channel, hasChannel := strings.Cut(part, ":")
		contextName = strings.TrimSpace(contextName)
		if contextName == "" {
			return nil, fmt.Errorf("%w: %q has no context", ErrInvalidTarget, part)
		}
		if !hasChannel {
			for _, ch := range models.AllChannels {
				add(dispatch.Target{Context: contextName, Channel: ch})
			}
			continue
		}
		ch := models.Channel(strings.TrimSpace(channel))
		if !models.IsValidChannel(ch) {
			return nil, fmt.Errorf("%w: unknown channel %q", ErrInvalidTarget, channel)
		}
		add(dispatch.Target{Context: contextName, Channel: ch})
	}
	return targets, nil
}

// ParseLogLevel maps LOG_LEVEL onto a slog level, defaulting to info.
func ParseLogLevel(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
