package commands

import (
	"errors"
	"strconv"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/leapstack-labs/impalineage/internal/cli/output"
	"github.com/leapstack-labs/impalineage/internal/report"
	"github.com/leapstack-labs/impalineage/internal/state"
)

// HistoryOptions holds options for the history command.
type HistoryOptions struct {
	Limit int
}

// NewHistoryCommand creates the history command.
func NewHistoryCommand() *cobra.Command {
	opts := &HistoryOptions{}

	cmd := &cobra.Command{
		Use:   "history [run-id]",
		Short: "List archived runs or show the report of one run",
		Long: `Read the run archive configured under store.

Without arguments the most recent runs are listed. Given a run id, the report
rows saved for that run are printed in the configured report format.`,
		Example: `  impalineage history --store-driver sqlite --store-dsn runs.db
  impalineage history 0b9f6c1e-4a55-4c1d-9b7e-3d2f1e0a9c11 --format markdown`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runHistory(cmd, args, opts)
		},
	}

	cmd.Flags().IntVar(&opts.Limit, "limit", 20, "Maximum number of runs to list, 0 for all")
	cmd.Flags().String("format", "", "Report format (csv|json|table|markdown)")
	cmd.Flags().String("store-driver", "", "Run archive driver (sqlite|postgres|duckdb)")
	cmd.Flags().String("store-dsn", "", "Run archive data source name")

	return cmd
}

func runHistory(cmd *cobra.Command, args []string, opts *HistoryOptions) error {
	ctx := cmd.Context()
	cc, err := NewCommandContext(cmd)
	if err != nil {
		return err
	}
	store, err := cc.OpenStore(ctx)
	if err != nil {
		return err
	}
	if store == nil {
		return errors.New("no run archive configured: set store.driver")
	}
	defer func() { _ = store.Close() }()

	if len(args) == 1 {
		if _, err := store.GetRun(ctx, args[0]); err != nil {
			return err
		}
		rows, err := store.TaskResults(ctx, args[0])
		if err != nil {
			return err
		}
		format, err := report.ParseFormat(cc.Cfg.Report.Format)
		if err != nil {
			return err
		}
		return report.Render(cc.Renderer.Writer(), format, rows)
	}

	runs, err := store.ListRuns(ctx, opts.Limit)
	if err != nil {
		return err
	}
	renderRuns(cc.Renderer, runs)
	return nil
}

type runSummary struct {
	ID        string `json:"id"`
	StartedAt string `json:"started_at"`
	Duration  string `json:"duration"`
	From      string `json:"from"`
	To        string `json:"to"`
	Strategy  string `json:"strategy"`
	Tasks     int    `json:"tasks"`
	Tables    int    `json:"tables"`
	Partial   bool   `json:"partial"`
}

func renderRuns(r *output.Renderer, runs []state.Run) {
	summaries := make([]runSummary, 0, len(runs))
	for _, run := range runs {
		summaries = append(summaries, runSummary{
			ID:        run.ID,
			StartedAt: run.StartedAt.Format("2006-01-02 15:04:05"),
			Duration:  run.Duration().String(),
			From:      run.WindowFrom,
			To:        run.WindowTo,
			Strategy:  run.Strategy,
			Tasks:     run.Tasks,
			Tables:    run.Stats.Tables,
			Partial:   run.Stats.Partial,
		})
	}

	if r.EffectiveMode() == output.ModeJSON {
		_ = r.JSON(summaries)
		return
	}
	if len(summaries) == 0 {
		r.Muted("No runs archived yet.")
		return
	}

	t := table.NewWriter()
	t.AppendHeader(table.Row{"Run", "Started", "Duration", "Window", "Strategy", "Tasks", "Tables", "Partial"})
	for _, s := range summaries {
		t.AppendRow(table.Row{
			s.ID, s.StartedAt, s.Duration, s.From + " .. " + s.To, s.Strategy,
			s.Tasks, s.Tables, strconv.FormatBool(s.Partial),
		})
	}
	if r.EffectiveMode() == output.ModeMarkdown {
		r.Println(t.RenderMarkdown())
		return
	}
	t.SetStyle(table.StyleRounded)
	r.Println(t.Render())
}
