package metrics

import (
	"path/filepath"
	"testing"
	"time"

	bolt "go.etcd.io/bbolt"
)

type fakeStoreStats struct {
	byStatus  map[string]int
	designers int
}

func (f *fakeStoreStats) Counts() (map[string]int, int) {
	return f.byStatus, f.designers
}

func openBolt(t *testing.T, path string) *bolt.DB {
	t.Helper()
	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		t.Fatalf("Failed to open database: %v", err)
	}
	return db
}

func TestCollectorPersistence(t *testing.T) {
	path := filepath.Join(t.TempDir(), "metrics.db")
	db := openBolt(t, path)

	m := New()
	c, err := NewCollector(db, m, nil, path, 10*time.Second)
	if err != nil {
		t.Fatalf("Failed to create collector: %v", err)
	}

	m.ReconciliationsTotal.WithLabelValues("approve", "confirmed").Add(2)
	m.LoginsTotal.WithLabelValues("success").Inc()
	m.ConvergencePollsTotal.Add(5) // not persisted

	if err := c.Stop(); err != nil {
		t.Errorf("Failed to stop collector: %v", err)
	}
	db.Close()

	db2 := openBolt(t, path)
	defer db2.Close()

	m2 := New()
	c2, err := NewCollector(db2, m2, nil, path, 10*time.Second)
	if err != nil {
		t.Fatalf("Failed to recreate collector: %v", err)
	}
	defer c2.Stop()

	counter, _ := m2.ReconciliationsTotal.GetMetricWithLabelValues("approve", "confirmed")
	if v := counterValue(t, counter); v != 2 {
		t.Errorf("Expected restored reconciliations = 2, got %f", v)
	}
	logins, _ := m2.LoginsTotal.GetMetricWithLabelValues("success")
	if v := counterValue(t, logins); v != 1 {
		t.Errorf("Expected restored logins = 1, got %f", v)
	}
	if v := counterValue(t, m2.ConvergencePollsTotal); v != 0 {
		t.Errorf("Expected convergence polls not persisted, got %f", v)
	}
}

func TestCollectorSystemMetrics(t *testing.T) {
	path := filepath.Join(t.TempDir(), "metrics.db")
	db := openBolt(t, path)
	defer db.Close()

	m := New()
	stats := &fakeStoreStats{byStatus: map[string]int{"New": 3, "Rejected": 1}, designers: 2}
	c, err := NewCollector(db, m, stats, path, time.Second)
	if err != nil {
		t.Fatal(err)
	}
	defer c.Stop()

	c.collectSystemMetrics()

	if v := gaugeValue(t, m.StoreCampaigns.WithLabelValues("New")); v != 3 {
		t.Errorf("Expected New = 3, got %f", v)
	}
	if v := gaugeValue(t, m.StoreDesigners); v != 2 {
		t.Errorf("Expected designers = 2, got %f", v)
	}
	if v := gaugeValue(t, m.Goroutines); v <= 0 {
		t.Errorf("Expected goroutines > 0, got %f", v)
	}
	if v := gaugeValue(t, m.StorageUsedBytes); v <= 0 {
		t.Errorf("Expected storage size > 0, got %f", v)
	}
}

func TestCollectorStopTwice(t *testing.T) {
	path := filepath.Join(t.TempDir(), "metrics.db")
	db := openBolt(t, path)
	defer db.Close()

	c, err := NewCollector(db, New(), nil, "", 0)
	if err != nil {
		t.Fatal(err)
	}
	if err := c.Stop(); err != nil {
		t.Fatal(err)
	}
	if err := c.Stop(); err != nil {
		t.Fatal(err)
	}
}
