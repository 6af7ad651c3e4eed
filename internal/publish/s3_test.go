package publish

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leapstack-labs/impalineage/internal/report"
	"github.com/leapstack-labs/impalineage/internal/testutil"
)

type captured struct {
	method      string
	path        string
	contentType string
	auth        string
	body        string
}

func newTestServer(t *testing.T, status int) (*httptest.Server, *captured) {
	t.Helper()
	got := &captured{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		got.method = r.Method
		got.path = r.URL.Path
		got.contentType = r.Header.Get("Content-Type")
		got.auth = r.Header.Get("Authorization")
		got.body = string(body)
		if status != http.StatusOK {
			w.Header().Set("Content-Type", "application/xml")
			w.WriteHeader(status)
			_, _ = io.WriteString(w, `<Error><Code>AccessDenied</Code><Message>denied</Message></Error>`)
			return
		}
		w.Header().Set("ETag", `"abc"`)
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(srv.Close)
	return srv, got
}

func TestUploader_Upload(t *testing.T) {
	srv, got := newTestServer(t, http.StatusOK)

	up, err := New(Config{
		Bucket:          "reports",
		Prefix:          "lineage/daily/",
		Endpoint:        srv.URL,
		AccessKeyID:     "key",
		SecretAccessKey: "secret",
		PathStyle:       true,
		Logger:          testutil.NewTestLogger(t),
	})
	require.NoError(t, err)

	loc, err := up.Upload(context.Background(), "run-1", report.FormatCSV, []byte("a,b\n"))
	require.NoError(t, err)

	assert.Equal(t, "s3://reports/lineage/daily/run-1.csv", loc)
	assert.Equal(t, http.MethodPut, got.method)
	assert.Equal(t, "/reports/lineage/daily/run-1.csv", got.path)
	assert.Equal(t, "text/csv; charset=utf-8", got.contentType)
	assert.Contains(t, got.auth, "Credential=key/")
	assert.Equal(t, "a,b\n", got.body)
}

func TestUploader_UploadFailure(t *testing.T) {
	srv, _ := newTestServer(t, http.StatusForbidden)

	up, err := New(Config{Bucket: "reports", Endpoint: srv.URL, PathStyle: true})
	require.NoError(t, err)

	_, err = up.Upload(context.Background(), "run-1", report.FormatJSON, []byte("[]"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "s3://reports/run-1.json")
}

func TestUploader_Key(t *testing.T) {
	tests := []struct {
		prefix string
		format report.Format
		want   string
	}{
		{prefix: "", format: report.FormatCSV, want: "r.csv"},
		{prefix: "out", format: report.FormatJSON, want: "out/r.json"},
		{prefix: "a/b/", format: report.FormatMarkdown, want: "a/b/r.md"},
		{prefix: "x", format: report.FormatTable, want: "x/r.txt"},
	}
	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			up, err := New(Config{Bucket: "b", Prefix: tt.prefix})
			require.NoError(t, err)
			assert.Equal(t, tt.want, up.Key("r", tt.format))
		})
	}
}

func TestNew_RequiresBucket(t *testing.T) {
	_, err := New(Config{})
	require.Error(t, err)
}
