package testutil

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"testing"
)

// Query is one entry of a fake query list.
type Query struct {
	QueryID        string            `json:"queryId"`
	Statement      string            `json:"statement"`
	User           string            `json:"user,omitempty"`
	DurationMillis float64           `json:"durationMillis,omitempty"`
	Attributes     map[string]string `json:"attributes,omitempty"`
}

// ClusterManager is a fake cluster manager serving a fixed query history over
// the impalaQueries endpoint. Offsets and limits are honoured; the window is not.
type ClusterManager struct {
	Host string
	Port int

	srv      *httptest.Server
	queries  []Query
	mu       sync.Mutex
	requests []url.Values
}

// NewClusterManager starts a fake cluster manager. It is closed with the test.
func NewClusterManager(t testing.TB, queries ...Query) *ClusterManager {
	t.Helper()
	cm := &ClusterManager{queries: queries}
	cm.srv = httptest.NewServer(http.HandlerFunc(cm.serve))
	t.Cleanup(cm.srv.Close)

	u, err := url.Parse(cm.srv.URL)
	if err != nil {
		t.Fatalf("parse server url: %v", err)
	}
	cm.Host = u.Hostname()
	if cm.Port, err = strconv.Atoi(u.Port()); err != nil {
		t.Fatalf("parse server port: %v", err)
	}
	return cm
}

// Requests returns the query strings of the list requests served so far.
func (cm *ClusterManager) Requests() []url.Values {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	return append([]url.Values(nil), cm.requests...)
}

func (cm *ClusterManager) serve(w http.ResponseWriter, r *http.Request) {
	if !strings.HasSuffix(r.URL.Path, "/impalaQueries") {
		http.NotFound(w, r)
		return
	}
	q := r.URL.Query()
	cm.mu.Lock()
	cm.requests = append(cm.requests, q)
	cm.mu.Unlock()

	offset, _ := strconv.Atoi(q.Get("offset"))
	limit, err := strconv.Atoi(q.Get("limit"))
	if err != nil || limit <= 0 {
		limit = len(cm.queries)
	}
	page := []Query{}
	if offset < len(cm.queries) {
		page = cm.queries[offset:min(offset+limit, len(cm.queries))]
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{"queries": page, "warnings": []string{}})
}

// SalesHistory is a small history: raw.orders feeds stg.orders, which together
// with the unknown stg.items feeds dw.sales, which feeds mart.kpi. One ad-hoc
// SELECT carries no lineage.
func SalesHistory() []Query {
	return []Query{
		{QueryID: "q1", Statement: "INSERT INTO stg.orders SELECT * FROM raw.orders", User: "etl", DurationMillis: 1000},
		{QueryID: "q2", Statement: "INSERT INTO dw.sales SELECT o.id FROM stg.orders o JOIN stg.items i ON o.id = i.id", User: "etl", DurationMillis: 2000},
		{QueryID: "q3", Statement: "SELECT 1", User: "bi"},
		{QueryID: "q4", Statement: "INSERT OVERWRITE TABLE mart.kpi SELECT * FROM dw.sales", User: "bi", DurationMillis: 500},
	}
}
