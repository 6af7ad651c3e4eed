package commands

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leapstack-labs/impalineage/internal/cli/config"
	"github.com/leapstack-labs/impalineage/internal/testutil"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

// loadConfig writes a configuration pointing at the fake cluster manager.
func loadConfig(t *testing.T, dir, extra string) *config.Config {
	t.Helper()
	cm := testutil.NewClusterManager(t, testutil.SalesHistory()...)
	path := writeFile(t, dir, "impalineage.yaml", fmt.Sprintf(`
output: json
source:
  host: %s
  port: %d
  cluster: Cluster 1
  rate_limit: 0
query:
  start_time: "2024-01-01T00:00:00"
  end_time: "2024-01-02T00:00:00"
  batch_size: 2
%s`, cm.Host, cm.Port, extra))

	cfg, err := config.Load(path, nil)
	require.NoError(t, err)
	return cfg
}

func execute(t *testing.T, cmd *cobra.Command, cfg *config.Config, args ...string) (string, string, error) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	if args == nil {
		args = []string{}
	}
	cmd.SetArgs(args)
	ctx := config.WithLogger(config.WithConfig(context.Background(), cfg), testutil.NewTestLogger(t))
	cmd.SetContext(ctx)
	err := cmd.Execute()
	return stdout.String(), stderr.String(), err
}

func TestNewRunCommand(t *testing.T) {
	cmd := NewRunCommand()

	assert.Equal(t, "run", cmd.Use)
	assert.NotEmpty(t, cmd.Short)
	assert.NotEmpty(t, cmd.Example)

	flags := []string{
		"from", "to", "host", "cluster", "tasks", "tasks-format", "strategy",
		"exclude-table", "exclude-keyword", "format", "out", "store-driver", "store-dsn",
	}
	for _, flag := range flags {
		assert.NotNil(t, cmd.Flags().Lookup(flag), "flag %q should exist", flag)
	}
}

func TestNewTraceCommand(t *testing.T) {
	cmd := NewTraceCommand()

	assert.Equal(t, "trace", cmd.Use)
	assert.NotEmpty(t, cmd.Short)
	for _, flag := range []string{"target", "source", "strategy", "from", "to"} {
		assert.NotNil(t, cmd.Flags().Lookup(flag), "flag %q should exist", flag)
	}
}

func TestNewHistoryCommand(t *testing.T) {
	cmd := NewHistoryCommand()

	assert.Equal(t, "history [run-id]", cmd.Use)
	assert.NotNil(t, cmd.Flags().Lookup("limit"))
	require.Error(t, cmd.Args(cmd, []string{"a", "b"}))
}

func TestRunCommand_ReportAndHistory(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "tasks.tsv", "kpi\tmart.kpi\traw.orders\nghost\tdw.sales\tlegacy.feed\n")
	report := filepath.Join(dir, "report.csv")
	cfg := loadConfig(t, dir, fmt.Sprintf(`
tasks:
  path: %s
report:
  format: csv
  output: %s
store:
  driver: sqlite
  dsn: %s
`, filepath.Join(dir, "tasks.tsv"), report, filepath.Join(dir, "runs.db")))

	stdout, stderr, err := execute(t, NewRunCommand(), cfg)
	require.NoError(t, err)
	assert.Contains(t, stdout, "Traced 2 task(s)")
	assert.Contains(t, stderr, "task ghost")

	data, err := os.ReadFile(report)
	require.NoError(t, err)
	assert.Contains(t, string(data), "kpi")
	assert.Contains(t, string(data), "ghost")

	stdout, _, err = execute(t, NewHistoryCommand(), cfg)
	require.NoError(t, err)
	var runs []runSummary
	require.NoError(t, json.Unmarshal([]byte(stdout), &runs))
	require.Len(t, runs, 1)
	assert.Equal(t, 2, runs[0].Tasks)
	assert.Equal(t, "stack", runs[0].Strategy)
	assert.Equal(t, 3, runs[0].Tables)

	stdout, _, err = execute(t, NewHistoryCommand(), cfg, runs[0].ID)
	require.NoError(t, err)
	assert.Equal(t, string(data), stdout)

	_, _, err = execute(t, NewHistoryCommand(), cfg, "no-such-run")
	require.Error(t, err)
}

func TestRunCommand_JSONToStdout(t *testing.T) {
	dir := t.TempDir()
	cfg := loadConfig(t, dir, fmt.Sprintf(`
tasks:
  path: %s
report:
  format: json
`, writeFile(t, dir, "tasks.tsv", "kpi\tmart.kpi\traw.orders\n")))

	stdout, _, err := execute(t, NewRunCommand(), cfg)
	require.NoError(t, err)

	var rows []map[string]any
	require.NoError(t, json.Unmarshal([]byte(stdout), &rows))
	require.Len(t, rows, 1)
	assert.Equal(t, "kpi", rows[0]["id"])
	assert.InDelta(t, 3.5, rows[0]["total_duration_sec"], 1e-9)
	assert.InDelta(t, 3.0, rows[0]["queries"], 1e-9)
}

func TestRunCommand_Validation(t *testing.T) {
	dir := t.TempDir()

	cfg := loadConfig(t, dir, "")
	_, _, err := execute(t, NewRunCommand(), cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "tasks.path")

	cfg = loadConfig(t, dir, fmt.Sprintf("tasks: {path: %s}\n", writeFile(t, dir, "t.tsv", "a\tb.c\t\n")))
	cfg.Source.Host = ""
	_, _, err = execute(t, NewRunCommand(), cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "source.host")
}

func TestIndexCommand(t *testing.T) {
	cfg := loadConfig(t, t.TempDir(), "")

	stdout, _, err := execute(t, NewIndexCommand(), cfg, "--tables")
	require.NoError(t, err)

	var summary indexSummary
	require.NoError(t, json.Unmarshal([]byte(stdout), &summary))
	assert.Equal(t, "2024-01-01T00:00:00", summary.From)
	assert.Equal(t, 4, summary.Stats.Records)
	assert.Equal(t, 3, summary.Stats.Indexed)
	assert.Equal(t, 1, summary.Stats.SkippedAnalysis+summary.Stats.SkippedNoLineage)
	assert.ElementsMatch(t, []string{"stg.orders", "dw.sales", "mart.kpi"}, summary.Tables)
}

func TestIndexCommand_Markdown(t *testing.T) {
	cfg := loadConfig(t, t.TempDir(), "")
	cfg.Output = "markdown"

	stdout, _, err := execute(t, NewIndexCommand(), cfg)
	require.NoError(t, err)
	assert.Contains(t, stdout, "# Target index")
	assert.Contains(t, stdout, "- **Tables**: 3")
}

func TestTraceCommand(t *testing.T) {
	cfg := loadConfig(t, t.TempDir(), "")

	stdout, _, err := execute(t, NewTraceCommand(), cfg, "--target", "MART.KPI", "--source", "raw.orders")
	require.NoError(t, err)

	var out traceOutput
	require.NoError(t, json.Unmarshal([]byte(stdout), &out))
	require.Len(t, out.Steps, 3)
	assert.Equal(t, []string{"q1", "q2", "q4"}, []string{out.Steps[0].QueryID, out.Steps[1].QueryID, out.Steps[2].QueryID})
	assert.Equal(t, []int{0, 1, 2}, []int{out.Steps[0].Level, out.Steps[1].Level, out.Steps[2].Level})
	assert.Equal(t, []string{"stg.items"}, out.Missing)
	assert.Empty(t, out.MissingSources)
	assert.Empty(t, out.Cycle)
	assert.InDelta(t, 3.5, out.Metrics.TotalDurationSec, 1e-9)
}

func TestTraceCommand_RequiresTarget(t *testing.T) {
	cfg := loadConfig(t, t.TempDir(), "")

	_, _, err := execute(t, NewTraceCommand(), cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "target")
}

func TestHistoryCommand_NoStore(t *testing.T) {
	cfg := loadConfig(t, t.TempDir(), "")

	_, _, err := execute(t, NewHistoryCommand(), cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "store.driver")
}
