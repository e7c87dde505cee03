package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestHandler_nilMetrics(t *testing.T) {
	var m *Metrics
	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)

	m.Handler().ServeHTTP(rr, req)

	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rr.Code)
	}
	if got := rr.Body.String(); !strings.Contains(got, "metrics unavailable") {
		t.Fatalf("expected body to mention metrics unavailable, got %q", got)
	}

	// Recording on nil metrics must not panic.
	m.IncLayerRequest("cartodb", "water", "success")
	m.SetLayerCounts(1, 2)
	m.IncAllClear()
}

func TestHandler_exposesRegisteredMetrics(t *testing.T) {
	m := New()
	m.ObserveHTTPRequest(http.MethodGet, "/readyz", http.StatusOK, 12*time.Millisecond)
	m.IncLayerRequest("cartodb", "food", "cancelled")
	m.ObserveLayerQuery("cartodb", "sql", 300*time.Millisecond)
	m.SetLayerCounts(2, 3)
	m.IncAllClear()

	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)

	m.Handler().ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}

	body := rr.Body.String()
	if !strings.Contains(body, "aqueduct_http_requests_total{method=\"GET\",path=\"/readyz\",status=\"200\"} 1") {
		t.Fatalf("expected labeled request counter to be incremented; body=%s", body)
	}
	if !strings.Contains(body, "aqueduct_layer_requests_total{category=\"food\",outcome=\"cancelled\",provider=\"cartodb\"} 1") {
		t.Fatalf("expected cancelled layer request to be counted; body=%s", body)
	}
	if !strings.Contains(body, "aqueduct_layer_query_duration_seconds_count{provider=\"cartodb\",stage=\"sql\"} 1") {
		t.Fatalf("expected query duration histogram to have one observation; body=%s", body)
	}
	if !strings.Contains(body, "aqueduct_layers_loading 2") || !strings.Contains(body, "aqueduct_layers_rendered 3") {
		t.Fatalf("expected layer gauges to be set; body=%s", body)
	}
	if !strings.Contains(body, "aqueduct_layers_all_clear_total 1") {
		t.Fatalf("expected all-clear counter to be incremented; body=%s", body)
	}
}
