package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/TEN-framework/ten-framework-sub001/pkg/designer"
	"github.com/TEN-framework/ten-framework-sub001/pkg/resolver"
)

var (
	_ resolver.Observer = (*Metrics)(nil)
	_ designer.Recorder = (*Metrics)(nil)
)

func TestNewMetrics(t *testing.T) {
	m := NewMetrics()

	if m == nil {
		t.Fatal("NewMetrics returned nil")
	}
	if m.registry == nil {
		t.Error("Registry is nil")
	}
	if m.ResolverRoundsTotal == nil || m.ResolveDurationSeconds == nil {
		t.Error("resolver metrics are nil")
	}
	if m.RegistryQueriesTotal == nil {
		t.Error("RegistryQueriesTotal is nil")
	}
	if m.GraphMutationsTotal == nil {
		t.Error("GraphMutationsTotal is nil")
	}
	if m.PkgCacheApps == nil {
		t.Error("PkgCacheApps is nil")
	}
}

func TestRecording(t *testing.T) {
	m := NewMetrics()

	m.RecordResolverRound()
	m.RecordResolverRound()
	m.ObserveResolveDuration(250 * time.Millisecond)
	m.RecordRegistryQuery("ok")
	m.RecordRegistryQuery("cached")
	m.RecordRegistryQuery("ok")
	m.RecordGraphMutation("add_node", "ok")
	m.RecordGraphMutation("add_node", "error")
	m.SetCacheApps(3)

	if got := testutil.ToFloat64(m.ResolverRoundsTotal); got != 2 {
		t.Errorf("resolver_rounds_total = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.RegistryQueriesTotal.WithLabelValues("ok")); got != 2 {
		t.Errorf("registry_queries_total{status=ok} = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.GraphMutationsTotal.WithLabelValues("add_node", "error")); got != 1 {
		t.Errorf("graph_mutations_total{add_node,error} = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.PkgCacheApps); got != 3 {
		t.Errorf("pkg_cache_apps = %v, want 3", got)
	}
	if got := testutil.CollectAndCount(m.ResolveDurationSeconds); got != 1 {
		t.Errorf("resolve_duration_seconds series = %d, want 1", got)
	}
}

func TestNilMetrics(t *testing.T) {
	var m *Metrics

	// must not panic
	m.RecordResolverRound()
	m.ObserveResolveDuration(time.Second)
	m.RecordRegistryQuery("error")
	m.RecordGraphMutation("update_graph", "ok")
	m.SetCacheApps(1)
}

func TestMetricsHandler(t *testing.T) {
	m := NewMetrics()

	m.RecordResolverRound()
	m.ObserveResolveDuration(time.Second)
	m.RecordRegistryQuery("ok")
	m.RecordGraphMutation("delete_connection", "ok")
	m.SetCacheApps(1)

	req := httptest.NewRequest("GET", "/metrics", nil)
	w := httptest.NewRecorder()
	m.Handler().ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("Expected status 200, got %d", w.Code)
	}

	body := w.Body.String()
	for _, metric := range []string{
		"resolver_rounds_total",
		"resolve_duration_seconds",
		"registry_queries_total",
		"graph_mutations_total",
		"pkg_cache_apps",
	} {
		if !strings.Contains(body, metric) {
			t.Errorf("Metrics output missing: %s", metric)
		}
	}
}

func TestMetricsIsolation(t *testing.T) {
	a, b := NewMetrics(), NewMetrics()
	a.RecordResolverRound()

	if got := testutil.ToFloat64(b.ResolverRoundsTotal); got != 0 {
		t.Errorf("separate instances share state: %v", got)
	}

	families, err := a.Registry().Gather()
	if err != nil {
		t.Fatalf("Failed to gather metrics: %v", err)
	}
	if len(families) == 0 {
		t.Error("No metrics registered")
	}
}
