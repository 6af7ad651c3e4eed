package tasks

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leapstack-labs/impalineage/internal/testutil"
)

func collect(src Source) []Descriptor {
	var out []Descriptor
	for src.HasNext() {
		out = append(out, src.Next())
	}
	return out
}

func omLine(id, db, target, state, sources string) string {
	cols := make([]string, 16)
	cols[omJobID] = id
	cols[omTargetDB] = db
	cols[omTargetTable] = target
	cols[omModellingState] = state
	cols[omSourceTables] = sources
	return strings.Join(cols, "\t")
}

func TestRead(t *testing.T) {
	tests := []struct {
		name   string
		format Format
		input  string
		opts   Options
		want   []Descriptor
	}{
		{
			name:   "default format merges rows by id",
			format: FormatDefault,
			input: "job2\tdw.b\tstg.x\n" +
				"job1\tDW.A, dw.c\tstg.s1,stg.s2\n" +
				"\n" +
				"job2\tdw.b2\tstg.y\n" +
				"broken line\n",
			want: []Descriptor{
				{ID: "job2", Targets: []string{"dw.b", "dw.b2"}, Sources: []string{"stg.x", "stg.y"}},
				{ID: "job1", Targets: []string{"dw.a", "dw.c"}, Sources: []string{"stg.s1", "stg.s2"}},
			},
		},
		{
			name:   "default format with header and empty sources",
			format: FormatDefault,
			input:  "id\ttargets\tsources\r\njob1\tdw.a\t\r\n",
			opts:   Options{SkipHeader: true},
			want:   []Descriptor{{ID: "job1", Targets: []string{"dw.a"}}},
		},
		{
			name:   "scheduler export",
			format: FormatOM,
			input: strings.Join([]string{
				omLine("J1", "dw", `"orders(1200)"`, "MODEL_SUCCESS", `"stg.orders,stg.customers"`),
				omLine("J1", "dw", "lines(10)", "model_success", "stg.lines"),
				omLine("J2", "mart", "kpis", "model_failed", "dw.orders"),
				"too\tfew\tcolumns",
			}, "\n"),
			want: []Descriptor{
				{ID: "J1", Targets: []string{"dw.lines", "dw.orders"}, Sources: []string{"stg.customers", "stg.lines", "stg.orders"}},
				{ID: "J2", Targets: []string{"mart.kpis"}, Sources: []string{"dw.orders"}},
			},
		},
		{
			name:   "scheduler export keeps only successful jobs",
			format: FormatOM,
			input: strings.Join([]string{
				omLine("J1", "dw", "orders(1)", "model_success", "stg.orders"),
				omLine("J2", "mart", "kpis", "model_failed", "dw.orders"),
			}, "\n"),
			opts: Options{OnlySuccessful: true},
			want: []Descriptor{
				{ID: "J1", Targets: []string{"dw.orders"}, Sources: []string{"stg.orders"}},
			},
		},
		{
			name:   "yaml",
			format: FormatYAML,
			input: `
- id: nightly
  targets: [dw.Fact]
  sources: [stg.a, stg.b]
- id: ""
  targets: [dw.ignored]
- id: nightly
  targets: [dw.fact2]
`,
			want: []Descriptor{
				{ID: "nightly", Targets: []string{"dw.fact", "dw.fact2"}, Sources: []string{"stg.a", "stg.b"}},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.opts.Logger = testutil.NewTestLogger(t)
			list, err := Read(tt.format, strings.NewReader(tt.input), tt.opts)
			require.NoError(t, err)
			assert.Equal(t, tt.want, collect(list))
			assert.False(t, list.HasNext())
			assert.Equal(t, tt.want, list.All())
		})
	}
}

func TestRead_EmptyYAML(t *testing.T) {
	list, err := Read(FormatYAML, strings.NewReader(""), Options{})
	require.NoError(t, err)
	assert.Zero(t, list.Len())
}

func TestRead_UnknownFormat(t *testing.T) {
	_, err := Read(Format("xml"), strings.NewReader(""), Options{})
	require.ErrorIs(t, err, ErrUnknownFormat)
}

func TestParseFormat(t *testing.T) {
	f, err := ParseFormat("")
	require.NoError(t, err)
	assert.Equal(t, FormatDefault, f)

	f, err = ParseFormat(" OM ")
	require.NoError(t, err)
	assert.Equal(t, FormatOM, f)

	_, err = ParseFormat("csv")
	require.ErrorIs(t, err, ErrUnknownFormat)
}

func TestOpen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tasks.tsv")
	require.NoError(t, os.WriteFile(path, []byte("job1\tdw.a\tstg.a\n"), 0o600))

	list, err := Open(FormatDefault, path, Options{})
	require.NoError(t, err)
	assert.Equal(t, 1, list.Len())

	_, err = Open(FormatDefault, filepath.Join(t.TempDir(), "missing.tsv"), Options{})
	require.Error(t, err)
}

func TestNewList(t *testing.T) {
	list := NewList(
		Descriptor{ID: "a", Targets: []string{"T1"}},
		Descriptor{ID: "a", Sources: []string{" s1 ", ""}},
	)
	assert.Equal(t, []Descriptor{{ID: "a", Targets: []string{"t1"}, Sources: []string{"s1"}}}, list.All())
}
