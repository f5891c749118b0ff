package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

func counterValue(t *testing.T, c prometheus.Counter) float64 {
	t.Helper()
	var metric dto.Metric
	if err := c.Write(&metric); err != nil {
		t.Fatalf("Failed to write metric: %v", err)
	}
	return metric.Counter.GetValue()
}

func gaugeValue(t *testing.T, g prometheus.Gauge) float64 {
	t.Helper()
	var metric dto.Metric
	if err := g.Write(&metric); err != nil {
		t.Fatalf("Failed to write metric: %v", err)
	}
	return metric.Gauge.GetValue()
}

func TestNew(t *testing.T) {
	m := New()
	if m == nil {
		t.Fatal("New() returned nil")
	}
	if m.Registry() == nil {
		t.Error("Registry() returned nil")
	}
	if m.ReconciliationsTotal == nil || m.GatewayRequestsTotal == nil || m.StoreCampaigns == nil {
		t.Error("domain metrics not initialized")
	}
	if m.APIRequestsTotal == nil || m.APIRequestDurationSeconds == nil {
		t.Error("API metrics not initialized")
	}
}

func TestGlobalMetrics(t *testing.T) {
	if Global() != nil {
		t.Error("Global() should be nil before SetGlobal")
	}

	m := New()
	SetGlobal(m)
	if Global() != m {
		t.Error("Global() did not return the set metrics")
	}
	SetGlobal(nil)
}

func TestIncReconciliation(t *testing.T) {
	m := New()
	SetGlobal(m)
	defer SetGlobal(nil)

	IncReconciliation("submit_design", "confirmed")
	IncReconciliation("submit_design", "confirmed")
	IncReconciliation("submit_design", "timed_out")

	counter, err := m.ReconciliationsTotal.GetMetricWithLabelValues("submit_design", "confirmed")
	if err != nil {
		t.Fatalf("Failed to get counter: %v", err)
	}
	if v := counterValue(t, counter); v != 2 {
		t.Errorf("Expected counter value 2, got %f", v)
	}
}

func TestObserveGatewayRequest(t *testing.T) {
	m := New()
	SetGlobal(m)
	defer SetGlobal(nil)

	ObserveGatewayRequest("fetch_campaigns", "ok", 120*time.Millisecond)
	ObserveGatewayRequest("fetch_campaigns", "error", time.Second)

	counter, _ := m.GatewayRequestsTotal.GetMetricWithLabelValues("fetch_campaigns", "error")
	if v := counterValue(t, counter); v != 1 {
		t.Errorf("Expected 1 failed request, got %f", v)
	}
}

func TestSetStoreCounts(t *testing.T) {
	m := New()
	SetGlobal(m)
	defer SetGlobal(nil)

	SetStoreCounts(map[string]int{"New": 2, "Approved": 1}, 4)
	SetStoreCounts(map[string]int{"New": 1}, 4)

	if v := gaugeValue(t, m.StoreCampaigns.WithLabelValues("New")); v != 1 {
		t.Errorf("Expected New = 1, got %f", v)
	}
	if v := gaugeValue(t, m.StoreDesigners); v != 4 {
		t.Errorf("Expected designers = 4, got %f", v)
	}

	families, err := m.Registry().Gather()
	if err != nil {
		t.Fatal(err)
	}
	for _, mf := range families {
		if mf.GetName() != "reviewdesk_store_campaigns" {
			continue
		}
		if len(mf.GetMetric()) != 1 {
			t.Errorf("stale status series kept after reset: %d series", len(mf.GetMetric()))
		}
	}
}

func TestInflightGauge(t *testing.T) {
	m := New()
	SetGlobal(m)
	defer SetGlobal(nil)

	SetReconciliationsInflight(3)
	if v := gaugeValue(t, m.ReconciliationsInflight); v != 3 {
		t.Errorf("Expected 3, got %f", v)
	}
}

func TestGlobalNilSafe(t *testing.T) {
	SetGlobal(nil)

	IncReconciliation("approve", "confirmed")
	SetReconciliationsInflight(1)
	IncConvergencePolls()
	ObserveConvergence(time.Second)
	IncRefresh("ok")
	ObserveGatewayRequest("submit", "ok", time.Millisecond)
	SetStoreCounts(map[string]int{"New": 1}, 1)
	IncLogin("success")
	IncEventPublished("upserted", "ok")
	IncAPIErrors("server_error")
}
