package report

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leapstack-labs/impalineage/internal/corpus"
	"github.com/leapstack-labs/impalineage/internal/lineage"
	"github.com/leapstack-labs/impalineage/internal/metrics"
	"github.com/leapstack-labs/impalineage/internal/tasks"
	"github.com/leapstack-labs/impalineage/pkg/analyzer"
)

func sampleResult(t *testing.T) *lineage.Result {
	t.Helper()
	ix := corpus.NewIndex(
		corpus.NewRecord("q1", "", analyzer.Result{Sources: []string{"stg.a"}, Targets: []string{"dw.b"}},
			metrics.Statement{DurationSec: 1.5, MemoryGB: 2, InputBytes: 10, OutputBytes: 20, User: "etl", ResourcePool: "root.a", FileFormats: []string{"PARQUET"}}),
		corpus.NewRecord("q2", "", analyzer.Result{Sources: []string{"dw.b", "stg.x"}, Targets: []string{"dw.c"}},
			metrics.Statement{DurationSec: 3, MemoryGB: 0.5, AdmissionWaitSec: 0.25, InputBytes: 5, User: "bi", ResourcePool: "root.b", FileFormats: []string{"TEXT"}}),
	)
	res, err := lineage.Search(ix, tasks.Descriptor{
		ID:      "job,1",
		Targets: []string{"dw.c"},
		Sources: []string{"stg.a", "stg.never"},
	}, lineage.Options{})
	require.NoError(t, err)
	return res
}

func TestFromResult(t *testing.T) {
	row := FromResult(sampleResult(t))

	assert.Equal(t, Row{
		ID:                    "job,1",
		Users:                 []string{"bi", "etl"},
		MaxMemoryGB:           2,
		TotalDurationSec:      4.5,
		MaxDurationSec:        3,
		TotalAdmissionWaitSec: 0.25,
		MaxAdmissionWaitSec:   0.25,
		TotalInputBytes:       15,
		TotalOutputBytes:      20,
		MaxInputBytes:         10,
		MaxOutputBytes:        20,
		FileFormats:           []string{"PARQUET", "TEXT"},
		ResourcePools:         []string{"root.a", "root.b"},
		ResolvedSources:       1,
		MissingSources:        1,
		MissingTables:         1,
		Queries:               2,
	}, row)
}

func TestRender_CSV(t *testing.T) {
	rows := Rows([]*lineage.Result{sampleResult(t)})
	rows = append(rows, Row{ID: "empty"})

	var buf bytes.Buffer
	require.NoError(t, Render(&buf, FormatCSV, rows))

	assert.Equal(t,
		`"job,1",bi#etl,2,4.5,3,0.25,15,20,PARQUET#TEXT,root.a#root.b,1,1,2`+"\n"+
			"empty,,0,0,0,0,0,0,,,0,0,0\n",
		buf.String())
}

func TestRender_JSON(t *testing.T) {
	rows := Rows([]*lineage.Result{sampleResult(t)})

	var buf bytes.Buffer
	require.NoError(t, Render(&buf, FormatJSON, rows))

	var decoded []Row
	require.NoError(t, json.Unmarshal(buf.Bytes(), &decoded))
	assert.Equal(t, rows, decoded)

	buf.Reset()
	require.NoError(t, Render(&buf, FormatJSON, nil))
	assert.Equal(t, "[]\n", buf.String())
}

func TestRender_TableAndMarkdown(t *testing.T) {
	rows := Rows([]*lineage.Result{sampleResult(t)})

	var buf bytes.Buffer
	require.NoError(t, Render(&buf, FormatTable, rows))
	out := buf.String()
	assert.Contains(t, out, "job,1")
	assert.Contains(t, out, "PARQUET, TEXT")
	assert.Contains(t, out, "(1 tasks)")

	buf.Reset()
	require.NoError(t, Render(&buf, FormatMarkdown, rows))
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 3)
	assert.True(t, strings.HasPrefix(lines[0], "| ID |"))
	assert.Contains(t, lines[2], "job,1")

	buf.Reset()
	require.NoError(t, Render(&buf, FormatTable, nil))
	assert.Equal(t, "(0 tasks)\n", buf.String())
}

func TestParseFormat(t *testing.T) {
	tests := []struct {
		in      string
		want    Format
		wantErr bool
	}{
		{in: "", want: FormatCSV},
		{in: "CSV", want: FormatCSV},
		{in: "json", want: FormatJSON},
		{in: "md", want: FormatMarkdown},
		{in: "table", want: FormatTable},
		{in: "xml", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseFormat(tt.in)
			if tt.wantErr {
				require.ErrorIs(t, err, ErrUnknownFormat)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
	assert.Equal(t, "md", FormatMarkdown.Ext())
	assert.Equal(t, "csv", FormatCSV.Ext())
}
