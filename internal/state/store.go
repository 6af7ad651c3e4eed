// Package state archives finished runs and their per-task report rows.
//
// Three drivers share one SQL store: sqlite and postgres are versioned with goose
// migrations, duckdb gets its schema from an embedded script. The target index a
// run was computed from is never stored.
package state

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/leapstack-labs/impalineage/internal/corpus"
	"github.com/leapstack-labs/impalineage/internal/report"
)

var (
	// ErrUnknownDriver is returned by Open for a driver outside the supported set.
	ErrUnknownDriver = errors.New("unknown store driver")
	// ErrNotFound is returned when a run id is not in the archive.
	ErrNotFound = errors.New("run not found")
)

// Driver names a database backend.
type Driver string

const (
	DriverSQLite   Driver = "sqlite"
	DriverPostgres Driver = "postgres"
	DriverDuckDB   Driver = "duckdb"
)

// Drivers lists the supported drivers.
func Drivers() []Driver {
	return []Driver{DriverSQLite, DriverPostgres, DriverDuckDB}
}

// ParseDriver validates a driver name. "postgresql" and "sqlite3" are accepted
// as aliases.
func ParseDriver(s string) (Driver, error) {
	switch d := Driver(strings.ToLower(strings.TrimSpace(s))); d {
	case DriverSQLite, DriverPostgres, DriverDuckDB:
		return d, nil
	case "sqlite3":
		return DriverSQLite, nil
	case "postgresql", "pgx":
		return DriverPostgres, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownDriver, s)
	}
}

// Run is the summary of one archived run.
type Run struct {
	ID         string
	StartedAt  time.Time
	FinishedAt time.Time
	WindowFrom string
	WindowTo   string
	Strategy   string
	Stats      corpus.Stats
	Tasks      int
}

// Duration returns the wall time of the run.
func (r Run) Duration() time.Duration {
	return r.FinishedAt.Sub(r.StartedAt)
}

// Store is the run archive.
type Store interface {
	// SaveRun stores a run and its report rows atomically.
	SaveRun(ctx context.Context, run Run, rows []report.Row) error
	// ListRuns returns the most recent runs first. limit <= 0 returns all runs.
	ListRuns(ctx context.Context, limit int) ([]Run, error)
	// GetRun returns one run or an error wrapping ErrNotFound.
	GetRun(ctx context.Context, id string) (*Run, error)
	// TaskResults returns the rows of a run in their original order.
	TaskResults(ctx context.Context, runID string) ([]report.Row, error)
	Close() error
}

// Open connects to the archive and brings its schema up to date.
func Open(ctx context.Context, driver, dsn string, logger *slog.Logger) (Store, error) {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	d, err := ParseDriver(driver)
	if err != nil {
		return nil, err
	}

	var store *SQLStore
	switch d {
	case DriverSQLite:
		store, err = openSQLite(ctx, dsn, logger)
	case DriverPostgres:
		store, err = openPostgres(ctx, dsn, logger)
	default:
		store, err = openDuckDB(ctx, dsn, logger)
	}
	if err != nil {
		return nil, err
	}
	return store, nil
}
