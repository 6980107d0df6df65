package quota

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
	_ "time/tzdata"

	"github.com/BTreeMap/GrowthGovernor/internal/models"
	"gopkg.in/yaml.v3"
)

// Default daily ceilings per action type, shared by all contexts.
const (
	DefaultProfileVisitLimit      = 80
	DefaultConnectionRequestLimit = 20
	DefaultMessageLimit           = 50
	DefaultHighValueOutreachLimit = 5
)

// EnvLimitPrefix prefixes per-action ceiling overrides, e.g. QUOTA_LIMIT_MESSAGE=40.
const EnvLimitPrefix = "QUOTA_LIMIT_"

// Limits maps each action type to its daily ceiling.
type Limits map[models.ActionType]int

// DefaultLimits returns a fresh copy of the built-in ceilings.
func DefaultLimits() Limits {
	return Limits{
		models.ActionProfileVisit:      DefaultProfileVisitLimit,
		models.ActionConnectionRequest: DefaultConnectionRequestLimit,
		models.ActionMessage:           DefaultMessageLimit,
		models.ActionHighValueOutreach: DefaultHighValueOutreachLimit,
	}
}

// Ceiling returns the configured ceiling and whether the action type is known.
func (l Limits) Ceiling(actionType models.ActionType) (int, bool) {
	n, ok := l[actionType]
	return n, ok
}

func (l Limits) set(actionType string, n int) error {
	at := models.ActionType(strings.ToLower(strings.TrimSpace(actionType)))
	if !models.IsValidActionType(at) {
		return fmt.Errorf("%w: %q", ErrUnknownActionType, actionType)
	}
	if n < 0 {
		return fmt.Errorf("limit for %s must not be negative, got %d", at, n)
	}
	l[at] = n
	return nil
}

// LimitsFile is the YAML document read from QUOTA_LIMITS_FILE.
//
//	timezone: America/Toronto
//	limits:
//	  connection_request: 15
type LimitsFile struct {
	Timezone string         `yaml:"timezone"`
	Limits   map[string]int `yaml:"limits"`
}

// LoadLimitsFile reads and parses a limits file.
func LoadLimitsFile(path string) (*LimitsFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read limits file: %w", err)
	}
	var f LimitsFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse limits file %s: %w", path, err)
	}
	return &f, nil
}

// Apply overlays the file's ceilings onto l.
func (f *LimitsFile) Apply(l Limits) error {
	for action, n := range f.Limits {
		if err := l.set(action, n); err != nil {
			return fmt.Errorf("limits file: %w", err)
		}
	}
	return nil
}

// Location resolves the file's time zone, or nil when none is set.
func (f *LimitsFile) Location() (*time.Location, error) {
	if strings.TrimSpace(f.Timezone) == "" {
		return nil, nil
	}
	loc, err := time.LoadLocation(f.Timezone)
	if err != nil {
		return nil, fmt.Errorf("limits file timezone %q: %w", f.Timezone, err)
	}
	return loc, nil
}

// ApplyEnvOverrides overlays QUOTA_LIMIT_<ACTION> variables onto l. lookup is
// usually os.LookupEnv.
func ApplyEnvOverrides(l Limits, lookup func(string) (string, bool)) error {
	for _, at := range models.AllActionTypes {
		key := EnvLimitPrefix + strings.ToUpper(string(at))
		raw, ok := lookup(key)
		if !ok || strings.TrimSpace(raw) == "" {
			continue
		}
		n, err := strconv.Atoi(strings.TrimSpace(raw))
		if err != nil {
			return fmt.Errorf("%s: invalid integer %q", key, raw)
		}
		if err := l.set(string(at), n); err != nil {
			return fmt.Errorf("%s: %w", key, err)
		}
		slog.Debug("quota.ApplyEnvOverrides: ceiling overridden", "actionType", at, "limit", n)
	}
	return nil
}
