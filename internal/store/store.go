// Package store provides the durable storage backends for GrowthGovernor.
//
// Quota counters and outreach items live here. SQLite serves single-host
// deployments, PostgreSQL serves deployments where several governor instances
// share one database, and InMemoryStore backs tests.
package store

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/BTreeMap/GrowthGovernor/internal/models"
)

// Store is the full set of persistence operations the governor needs.
type Store interface {
	QuotaRepo
	OutreachRepo
	Close() error
}

var (
	// ErrOutreachNotFound is returned when no outreach item has the given id.
	ErrOutreachNotFound = errors.New("outreach item not found")
	// ErrStaleTransition is returned when an item's persisted status no longer
	// permits the requested transition.
	ErrStaleTransition = errors.New("stale outreach transition")
)

// TransitionError describes a guarded update that lost against the persisted status.
type TransitionError struct {
	ID      string
	From    models.OutreachStatus
	To      models.OutreachStatus
	Current models.OutreachStatus
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("outreach %s: cannot move %s -> %s, current status is %s", e.ID, e.From, e.To, e.Current)
}

// Unwrap lets callers match with errors.Is(err, ErrStaleTransition).
func (e *TransitionError) Unwrap() error {
	return ErrStaleTransition
}

// Opts holds configuration for opening a store.
type Opts struct {
	DSN          string
	MaxOpenConns int
}

// Option configures store construction.
type Option func(*Opts)

// WithSQLiteDSN sets the SQLite database file path.
func WithSQLiteDSN(dsn string) Option {
	return func(o *Opts) { o.DSN = dsn }
}

// WithPostgresDSN sets the PostgreSQL connection string.
func WithPostgresDSN(dsn string) Option {
	return func(o *Opts) { o.DSN = dsn }
}

// WithMaxOpenConns overrides the connection pool size.
func WithMaxOpenConns(n int) Option {
	return func(o *Opts) { o.MaxOpenConns = n }
}

// DetectDSNType returns "postgres" for PostgreSQL connection strings and
// "sqlite" for everything else (file paths, file: URIs).
func DetectDSNType(dsn string) string {
	trimmed := strings.TrimSpace(dsn)
	if strings.HasPrefix(trimmed, "postgres://") || strings.HasPrefix(trimmed, "postgresql://") {
		return "postgres"
	}
	if strings.Contains(trimmed, "host=") || strings.Contains(trimmed, "dbname=") {
		return "postgres"
	}
	return "sqlite"
}

// Open picks the backend matching the DSN and returns a migrated store.
func Open(dsn string, opts ...Option) (Store, error) {
	if strings.TrimSpace(dsn) == "" {
		return nil, fmt.Errorf("database DSN not set")
	}
	switch DetectDSNType(dsn) {
	case "postgres":
		slog.Debug("store.Open: using PostgreSQL backend")
		return NewPostgresStore(append([]Option{WithPostgresDSN(dsn)}, opts...)...)
	default:
		slog.Debug("store.Open: using SQLite backend", "path", dsn)
		return NewSQLiteStore(append([]Option{WithSQLiteDSN(dsn)}, opts...)...)
	}
}
