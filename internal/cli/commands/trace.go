package commands

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/leapstack-labs/impalineage/internal/cli/output"
	"github.com/leapstack-labs/impalineage/internal/lineage"
	"github.com/leapstack-labs/impalineage/internal/metrics"
	"github.com/leapstack-labs/impalineage/internal/tasks"
)

// TraceOptions holds options for the trace command.
type TraceOptions struct {
	Targets []string
	Sources []string
}

// NewTraceCommand creates the trace command.
func NewTraceCommand() *cobra.Command {
	opts := &TraceOptions{}

	cmd := &cobra.Command{
		Use:   "trace",
		Short: "Show the statement chain that produces tables",
		Long: `Trace one ad-hoc task: resolve the upstream lineage of the given target
tables and print the statements that build them in execution order, with the
metrics of each statement and the rolled-up totals.`,
		Example: `  impalineage trace --from 2024-01-01 --to 2024-01-02 \
    --target dw.sales_daily --source raw.orders`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runTrace(cmd, opts)
		},
	}

	addWindowFlags(cmd)
	addSearchFlags(cmd)
	cmd.Flags().StringSliceVar(&opts.Targets, "target", nil, "Target table to trace (repeatable)")
	cmd.Flags().StringSliceVar(&opts.Sources, "source", nil, "Declared source table (repeatable)")
	_ = cmd.MarkFlagRequired("target")

	return cmd
}

type traceStep struct {
	Level   int               `json:"level"`
	QueryID string            `json:"query_id"`
	Tables  []string          `json:"tables"`
	Sources []string          `json:"sources"`
	Metrics metrics.Aggregate `json:"metrics"`
}

type traceOutput struct {
	Targets        []string          `json:"targets"`
	Steps          []traceStep       `json:"steps"`
	Missing        []string          `json:"missing,omitempty"`
	Excluded       []string          `json:"excluded,omitempty"`
	MissingSources []string          `json:"missing_sources,omitempty"`
	Cycle          []string          `json:"cycle,omitempty"`
	Metrics        metrics.Aggregate `json:"metrics"`
}

func runTrace(cmd *cobra.Command, opts *TraceOptions) error {
	task := tasks.Descriptor{ID: "trace", Targets: normalizeTables(opts.Targets), Sources: normalizeTables(opts.Sources)}
	if len(task.Targets) == 0 {
		return errors.New("at least one --target is required")
	}

	cc, err := NewCommandContext(cmd)
	if err != nil {
		return err
	}
	source, err := cc.NewSource()
	if err != nil {
		return err
	}
	eng, err := cc.NewEngine(source, nil)
	if err != nil {
		return err
	}

	ix, _, err := eng.Ingest(cmd.Context())
	if err != nil {
		return err
	}
	results, err := eng.Search(cmd.Context(), ix, []tasks.Descriptor{task})
	if err != nil {
		return err
	}

	out := buildTrace(results[0])
	r := cc.Renderer
	if r.EffectiveMode() == output.ModeJSON {
		return r.JSON(out)
	}
	renderTrace(r, out)
	return nil
}

func buildTrace(res *lineage.Result) traceOutput {
	chain := res.Chain()
	out := traceOutput{
		Targets:        res.Targets,
		Missing:        res.Missing,
		Excluded:       res.Excluded,
		MissingSources: res.MissingSources(),
		Cycle:          chain.Cycle(),
		Metrics:        res.Metrics,
	}
	for _, step := range chain.Steps() {
		out.Steps = append(out.Steps, traceStep{
			Level:   step.Level,
			QueryID: step.Record.QueryID,
			Tables:  step.Tables,
			Sources: step.Record.Sources,
			Metrics: step.Record.Metrics,
		})
	}
	return out
}

func renderTrace(r *output.Renderer, out traceOutput) {
	r.Header(1, "Lineage of "+strings.Join(out.Targets, ", "))

	if len(out.Steps) == 0 {
		r.Muted("No statement in the window writes these tables.")
	} else {
		t := table.NewWriter()
		t.AppendHeader(table.Row{"Level", "Query", "Writes", "Reads", "Duration s", "Max Mem GB"})
		for _, s := range out.Steps {
			level := strconv.Itoa(s.Level)
			if s.Level < 0 {
				level = "-"
			}
			t.AppendRow(table.Row{
				level, s.QueryID, strings.Join(s.Tables, "\n"), strings.Join(s.Sources, "\n"),
				strconv.FormatFloat(s.Metrics.TotalDurationSec, 'f', -1, 64),
				strconv.FormatFloat(s.Metrics.MaxMemoryGB, 'f', -1, 64),
			})
		}
		if r.EffectiveMode() == output.ModeMarkdown {
			r.Println(t.RenderMarkdown())
		} else {
			t.SetStyle(table.StyleRounded)
			r.Println(t.Render())
		}
	}

	r.Println()
	r.Header(2, "Totals")
	m := out.Metrics
	r.KeyValue("Statements", strconv.Itoa(len(out.Steps)))
	r.KeyValue("Users", strings.Join(m.Users, ", "))
	r.KeyValue("Duration s", fmt.Sprintf("%g (max %g)", m.TotalDurationSec, m.MaxDurationSec))
	r.KeyValue("Admission wait s", fmt.Sprintf("%g (max %g)", m.TotalAdmissionWaitSec, m.MaxAdmissionWaitSec))
	r.KeyValue("Max memory GB", fmt.Sprintf("%g", m.MaxMemoryGB))
	r.KeyValue("Input bytes", strconv.FormatInt(m.TotalInputBytes, 10))
	r.KeyValue("Output bytes", strconv.FormatInt(m.TotalOutputBytes, 10))
	if len(m.ResourcePools) > 0 {
		r.KeyValue("Pools", strings.Join(m.ResourcePools, ", "))
	}

	if len(out.Missing) > 0 {
		r.Warning("missing tables: " + strings.Join(out.Missing, ", "))
	}
	if len(out.MissingSources) > 0 {
		r.Warning("declared sources not reached: " + strings.Join(out.MissingSources, ", "))
	}
	if len(out.Cycle) > 0 {
		r.Warning("statements form a cycle: " + strings.Join(out.Cycle, " -> "))
	}
}

func normalizeTables(in []string) []string {
	var out []string
	for _, t := range in {
		if t = tasks.NormalizeTable(t); t != "" {
			out = append(out, t)
		}
	}
	return out
}
