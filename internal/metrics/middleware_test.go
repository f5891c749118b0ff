package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	dto "github.com/prometheus/client_model/go"
)

func TestResponseWriter(t *testing.T) {
	rw := wrapResponseWriter(httptest.NewRecorder())

	if rw.status != http.StatusOK {
		t.Errorf("Expected initial status %d, got %d", http.StatusOK, rw.status)
	}

	rw.WriteHeader(http.StatusConflict)
	rw.WriteHeader(http.StatusInternalServerError)
	if rw.status != http.StatusConflict {
		t.Errorf("Expected status to remain %d, got %d", http.StatusConflict, rw.status)
	}
}

func TestResponseWriterUnwrap(t *testing.T) {
	rec := httptest.NewRecorder()
	rw := wrapResponseWriter(rec)

	if rw.Unwrap() != rec {
		t.Fatal("Unwrap should return the wrapped writer")
	}

	rc := http.NewResponseController(rw)
	if err := rc.Flush(); err != nil {
		t.Errorf("Flush through controller failed: %v", err)
	}
	if !rec.Flushed {
		t.Error("Expected recorder to be flushed")
	}
}

func TestHTTPMiddlewareUsesRoutePattern(t *testing.T) {
	m := New()
	SetGlobal(m)
	defer SetGlobal(nil)

	r := chi.NewRouter()
	r.Use(HTTPMiddleware)
	r.Get("/api/v1/campaigns/{id}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})

	for _, id := range []string{"C-1", "C-2", "temp-abc"} {
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, httptest.NewRequest("GET", "/api/v1/campaigns/"+id, nil))
	}

	counter, err := m.APIRequestsTotal.GetMetricWithLabelValues("GET", "/api/v1/campaigns/{id}", "404")
	if err != nil {
		t.Fatalf("Failed to get counter: %v", err)
	}
	var metric dto.Metric
	if err := counter.Write(&metric); err != nil {
		t.Fatalf("Failed to write metric: %v", err)
	}
	if metric.Counter.GetValue() != 3 {
		t.Errorf("Expected 3 requests under one route label, got %f", metric.Counter.GetValue())
	}

	errCounter, _ := m.APIErrorsTotal.GetMetricWithLabelValues("not_found")
	var errMetric dto.Metric
	errCounter.Write(&errMetric)
	if errMetric.Counter.GetValue() != 3 {
		t.Errorf("Expected 3 not_found errors, got %f", errMetric.Counter.GetValue())
	}
}

func TestHTTPMiddlewareNoMetrics(t *testing.T) {
	SetGlobal(nil)

	wrapped := HTTPMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	rec := httptest.NewRecorder()
	wrapped.ServeHTTP(rec, httptest.NewRequest("GET", "/test", nil))

	if rec.Code != http.StatusOK {
		t.Errorf("Expected status %d, got %d", http.StatusOK, rec.Code)
	}
}

func TestNormalizePathFallback(t *testing.T) {
	tests := []struct {
		path string
		want string
	}{
		{"/api/v1/campaigns/C-998", "/api/v1/campaigns/{id}"},
		{"/api/v1/campaigns/temp-abc/actions", "/api/v1/campaigns/{id}/actions"},
		{"/api/v1/campaigns/550e8400-e29b-41d4-a716-446655440000", "/api/v1/campaigns/{id}"},
		{"/api/v1/designers", "/api/v1/designers"},
	}

	for _, tt := range tests {
		req := httptest.NewRequest("GET", tt.path, nil)
		if got := normalizePath(req); got != tt.want {
			t.Errorf("normalizePath(%q) = %q, want %q", tt.path, got, tt.want)
		}
	}
}

func TestCategorizeStatus(t *testing.T) {
	tests := []struct {
		status   int
		expected string
	}{
		{500, "server_error"},
		{429, "rate_limited"},
		{401, "auth_error"},
		{403, "auth_error"},
		{404, "not_found"},
		{409, "conflict"},
		{400, "bad_request"},
		{422, "client_error"},
		{200, "unknown"},
	}

	for _, tt := range tests {
		if got := categorizeStatus(tt.status); got != tt.expected {
			t.Errorf("categorizeStatus(%d) = %q, expected %q", tt.status, got, tt.expected)
		}
	}
}
