package commands

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/leapstack-labs/impalineage/internal/report"
)

// NewRunCommand creates the run command.
func NewRunCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Trace every task and write the metrics report",
		Long: `Ingest the query history for the configured window, trace the upstream
lineage of every task and write one report row per task.

The report goes to standard output unless --out names a file. When
report.s3.bucket is configured the report is also uploaded, and when a store
is configured the run is archived for the history command.`,
		Example: `  # Trace tasks from a CSV list and print a CSV report
  impalineage run --host cm.example.com --cluster "Cluster 1" \
    --from 2024-01-01 --to 2024-01-02 --tasks tasks.csv

  # Depth-first search, markdown report written to a file
  impalineage run --tasks tasks.yaml --tasks-format yaml --strategy dfs \
    --format markdown --out lineage.md`,
		RunE: runRun,
	}

	addWindowFlags(cmd)
	addSearchFlags(cmd)
	cmd.Flags().String("tasks", "", "Path to the task list")
	cmd.Flags().String("tasks-format", "", "Task list format (default|om|yaml)")
	cmd.Flags().Bool("skip-header", false, "Skip the first line of a CSV task list")
	cmd.Flags().Bool("only-successful", false, "Keep only successful tasks from a legacy task list")
	cmd.Flags().Int("parallelism", 0, "Tasks searched concurrently")
	cmd.Flags().String("format", "", "Report format (csv|json|table|markdown)")
	cmd.Flags().String("out", "", "Report file, - for standard output")
	cmd.Flags().String("store-driver", "", "Run archive driver (sqlite|postgres|duckdb)")
	cmd.Flags().String("store-dsn", "", "Run archive data source name")

	return cmd
}

func runRun(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	cc, err := NewCommandContext(cmd)
	if err != nil {
		return err
	}
	r := cc.Renderer

	format, err := report.ParseFormat(cc.Cfg.Report.Format)
	if err != nil {
		return err
	}
	list, err := cc.OpenTasks()
	if err != nil {
		return err
	}
	source, err := cc.NewSource()
	if err != nil {
		return err
	}
	uploader, err := cc.NewUploader()
	if err != nil {
		return err
	}
	store, err := cc.OpenStore(ctx)
	if err != nil {
		return err
	}
	if store != nil {
		defer func() { _ = store.Close() }()
	}

	eng, err := cc.NewEngine(source, store)
	if err != nil {
		return err
	}

	run, err := eng.Run(ctx, list)
	if run == nil {
		return err
	}
	if err != nil {
		r.Warning(err.Error())
	}
	if run.Stats.Partial {
		r.Warning(fmt.Sprintf("target index is partial: ingestion stopped after %d record(s)", run.Stats.Records))
	}

	var buf bytes.Buffer
	if err := report.Render(&buf, format, run.Rows()); err != nil {
		return fmt.Errorf("failed to render report: %w", err)
	}

	toStdout := cc.Cfg.Report.Output == "" || cc.Cfg.Report.Output == "-"
	if toStdout {
		if _, err := r.Writer().Write(buf.Bytes()); err != nil {
			return err
		}
	} else if err := os.WriteFile(cc.Cfg.Report.Output, buf.Bytes(), 0o644); err != nil { //nolint:gosec // reports are meant to be shared
		return fmt.Errorf("failed to write report: %w", err)
	}

	if uploader != nil {
		location, err := uploader.Upload(context.WithoutCancel(ctx), run.ID, format, buf.Bytes())
		if err != nil {
			return err
		}
		cc.Logger.Info("report uploaded", slog.String("location", location))
		if !toStdout {
			r.Muted("Uploaded " + location)
		}
	}

	for _, res := range run.Incomplete() {
		r.Warning(fmt.Sprintf("task %s: %d missing table(s), %d declared source(s) not reached",
			res.ID, len(res.Missing), len(res.MissingSources())))
	}

	if !toStdout {
		r.Success(fmt.Sprintf("Traced %d task(s) over %d indexed tables, report written to %s",
			len(run.Results), run.Stats.Tables, cc.Cfg.Report.Output))
	}
	return nil
}
