package state

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"log/slog"

	_ "github.com/jackc/pgx/v5/stdlib" // postgres driver
	_ "github.com/marcboeker/go-duckdb" // duckdb driver
	_ "modernc.org/sqlite"              // SQLite driver (pure Go)
)

//go:embed schema.sql
var duckdbSchema string

var errEmptyDSN = errors.New("store dsn is required")

func openSQLite(ctx context.Context, dsn string, logger *slog.Logger) (*SQLStore, error) {
	if dsn == "" {
		return nil, fmt.Errorf("sqlite: %w", errEmptyDSN)
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite database: %w", err)
	}
	// One connection keeps ":memory:" databases alive and serialises writers.
	db.SetMaxOpenConns(1)
	return finishOpen(ctx, db, DriverSQLite, logger)
}

func openPostgres(ctx context.Context, dsn string, logger *slog.Logger) (*SQLStore, error) {
	if dsn == "" {
		return nil, fmt.Errorf("postgres: %w", errEmptyDSN)
	}
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open postgres database: %w", err)
	}
	return finishOpen(ctx, db, DriverPostgres, logger)
}

// openDuckDB opens a duckdb file, or an in-memory database for an empty dsn.
func openDuckDB(ctx context.Context, dsn string, logger *slog.Logger) (*SQLStore, error) {
	db, err := sql.Open("duckdb", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open duckdb database: %w", err)
	}
	return finishOpen(ctx, db, DriverDuckDB, logger)
}

func finishOpen(ctx context.Context, db *sql.DB, driver Driver, logger *slog.Logger) (*SQLStore, error) {
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping %s database: %w", driver, err)
	}

	if driver == DriverDuckDB {
		if _, err := db.ExecContext(ctx, duckdbSchema); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to initialize schema: %w", err)
		}
	} else if err := Migrate(db, driver); err != nil {
		_ = db.Close()
		return nil, err
	}

	logger.Debug("run archive opened", slog.String("driver", string(driver)))
	return NewSQLStore(db, driver, logger), nil
}
