package config

import (
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/leapstack-labs/impalineage/internal/cli/output"
	"github.com/leapstack-labs/impalineage/internal/lineage"
	"github.com/leapstack-labs/impalineage/internal/report"
	"github.com/leapstack-labs/impalineage/internal/state"
	"github.com/leapstack-labs/impalineage/internal/tasks"
)

// timeLayouts are the accepted forms of query.start_time and query.end_time.
var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02T15:04:05",
	"2006-01-02",
}

// Validate checks settings every command depends on.
func (c *Config) Validate() error {
	var errs []error

	if _, err := ParseLevel(c.Log.Level); err != nil {
		errs = append(errs, fmt.Errorf("log.level: %w", err))
	}
	if f := strings.ToLower(c.Log.Format); f != "text" && f != "json" {
		errs = append(errs, fmt.Errorf("log.format: must be text or json, got %q", c.Log.Format))
	}
	if c.Output != "" && !slices.Contains(output.Modes(), c.Output) {
		errs = append(errs, fmt.Errorf("output: must be one of %s, got %q", strings.Join(output.Modes(), ", "), c.Output))
	}
	if c.Source.Port <= 0 || c.Source.Port > 65535 {
		errs = append(errs, fmt.Errorf("source.port: out of range: %d", c.Source.Port))
	}
	if c.Source.Timeout < 0 {
		errs = append(errs, fmt.Errorf("source.timeout: must not be negative"))
	}
	if c.Source.MaxRetries < 0 {
		errs = append(errs, fmt.Errorf("source.max_retries: must not be negative"))
	}
	if c.Query.BatchSize <= 0 {
		errs = append(errs, fmt.Errorf("query.batch_size: must be positive, got %d", c.Query.BatchSize))
	}
	if _, err := tasks.ParseFormat(c.Tasks.Format); err != nil {
		errs = append(errs, fmt.Errorf("tasks.format: %w", err))
	}
	if _, err := lineage.ParseStrategy(c.Search.Strategy); err != nil {
		errs = append(errs, fmt.Errorf("search.strategy: %w", err))
	}
	if c.Search.Parallelism <= 0 {
		errs = append(errs, fmt.Errorf("search.parallelism: must be positive, got %d", c.Search.Parallelism))
	}
	if _, err := report.ParseFormat(c.Report.Format); err != nil {
		errs = append(errs, fmt.Errorf("report.format: %w", err))
	}
	if c.Store.Driver != "" {
		d, err := state.ParseDriver(c.Store.Driver)
		switch {
		case err != nil:
			errs = append(errs, fmt.Errorf("store.driver: %w", err))
		case c.Store.DSN == "" && d != state.DriverDuckDB:
			errs = append(errs, fmt.Errorf("store.dsn: required for driver %s", d))
		}
	}

	return errors.Join(errs...)
}

// ValidateSource checks the settings needed to read the query history.
func (c *Config) ValidateSource() error {
	var errs []error
	if c.Source.Host == "" {
		errs = append(errs, errors.New("source.host: required"))
	}
	if c.Source.Cluster == "" {
		errs = append(errs, errors.New("source.cluster: required"))
	}

	from, err := parseTime(c.Query.StartTime)
	if err != nil {
		errs = append(errs, fmt.Errorf("query.start_time: %w", err))
	}
	to, err2 := parseTime(c.Query.EndTime)
	if err2 != nil {
		errs = append(errs, fmt.Errorf("query.end_time: %w", err2))
	}
	if err == nil && err2 == nil && !from.Before(to) {
		errs = append(errs, fmt.Errorf("query.start_time: %s is not before query.end_time %s",
			c.Query.StartTime, c.Query.EndTime))
	}
	return errors.Join(errs...)
}

// ValidateTasks checks the settings needed to read the task list.
func (c *Config) ValidateTasks() error {
	if c.Tasks.Path == "" {
		return errors.New("tasks.path: required")
	}
	return nil
}

func parseTime(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, errors.New("required")
	}
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("not an ISO-8601 timestamp: %q", s)
}
