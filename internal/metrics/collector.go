package metrics

import (
	"context"
	"encoding/json"
	"os"
	"runtime"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	bolt "go.etcd.io/bbolt"
)

// StoreStatsProvider reports campaign counts for the store gauges
type StoreStatsProvider interface {
	Counts() (byStatus map[string]int, designers int)
}

var (
	bucketMetrics = []byte("metrics")
	keyCounters   = []byte("counters")
)

// CounterSample is one persisted counter series
type CounterSample struct {
	Labels map[string]string `json:"labels"`
	Value  float64           `json:"value"`
}

// Collector persists counters across restarts and refreshes system gauges
type Collector struct {
	db            *bolt.DB
	metrics       *Metrics
	store         StoreStatsProvider
	storagePath   string
	flushInterval time.Duration
	startTime     time.Time

	persisted map[string]*prometheus.CounterVec

	stopOnce sync.Once
	stopCh   chan struct{}
	wg       sync.WaitGroup
}

// NewCollector creates a new metrics collector
func NewCollector(db *bolt.DB, m *Metrics, store StoreStatsProvider, storagePath string, flushInterval time.Duration) (*Collector, error) {
	if flushInterval == 0 {
		flushInterval = 10 * time.Second
	}

	err := db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketMetrics)
		return err
	})
	if err != nil {
		return nil, err
	}

	c := &Collector{
		db:            db,
		metrics:       m,
		store:         store,
		storagePath:   storagePath,
		flushInterval: flushInterval,
		startTime:     time.Now(),
		persisted: map[string]*prometheus.CounterVec{
			"reviewdesk_reconciliations_total":  m.ReconciliationsTotal,
			"reviewdesk_refresh_total":          m.RefreshTotal,
			"reviewdesk_gateway_requests_total": m.GatewayRequestsTotal,
			"reviewdesk_logins_total":           m.LoginsTotal,
			"reviewdesk_api_errors_total":       m.APIErrorsTotal,
		},
		stopCh: make(chan struct{}),
	}

	if err := c.loadCounters(); err != nil {
		return nil, err
	}

	return c, nil
}

// Start begins the collector background tasks
func (c *Collector) Start(ctx context.Context) {
	c.wg.Add(2)
	go c.persistLoop(ctx)
	go c.updateSystemMetrics(ctx)
}

// Stop stops the collector and persists final values
func (c *Collector) Stop() error {
	c.stopOnce.Do(func() { close(c.stopCh) })
	c.wg.Wait()
	return c.persistCounters()
}

// loadCounters restores persisted counter values from BoltDB
func (c *Collector) loadCounters() error {
	return c.db.View(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(bucketMetrics)
		if bucket == nil {
			return nil
		}

		data := bucket.Get(keyCounters)
		if data == nil {
			return nil
		}

		var saved map[string][]CounterSample
		if err := json.Unmarshal(data, &saved); err != nil {
			return nil // Skip invalid data
		}

		for name, samples := range saved {
			vec, ok := c.persisted[name]
			if !ok {
				continue
			}
			for _, s := range samples {
				counter, err := vec.GetMetricWith(prometheus.Labels(s.Labels))
				if err != nil {
					continue
				}
				counter.Add(s.Value)
			}
		}
		return nil
	})
}

// snapshot reads the current values of persisted counters from the registry
func (c *Collector) snapshot() (map[string][]CounterSample, error) {
	families, err := c.metrics.Registry().Gather()
	if err != nil {
		return nil, err
	}

	out := make(map[string][]CounterSample)
	for _, mf := range families {
		if _, ok := c.persisted[mf.GetName()]; !ok || mf.GetType() != dto.MetricType_COUNTER {
			continue
		}
		for _, metric := range mf.GetMetric() {
			labels := make(map[string]string, len(metric.GetLabel()))
			for _, lp := range metric.GetLabel() {
				labels[lp.GetName()] = lp.GetValue()
			}
			out[mf.GetName()] = append(out[mf.GetName()], CounterSample{
				Labels: labels,
				Value:  metric.GetCounter().GetValue(),
			})
		}
	}
	return out, nil
}

// persistCounters saves counter values to BoltDB
func (c *Collector) persistCounters() error {
	samples, err := c.snapshot()
	if err != nil {
		return err
	}

	data, err := json.Marshal(samples)
	if err != nil {
		return err
	}

	return c.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(bucketMetrics)
		if bucket == nil {
			return nil
		}
		return bucket.Put(keyCounters, data)
	})
}

// persistLoop periodically persists counter values
func (c *Collector) persistLoop(ctx context.Context) {
	defer c.wg.Done()

	ticker := time.NewTicker(c.flushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-c.stopCh:
			return
		case <-ticker.C:
			c.persistCounters()
		}
	}
}

// updateSystemMetrics periodically updates system gauges
func (c *Collector) updateSystemMetrics(ctx context.Context) {
	defer c.wg.Done()

	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-c.stopCh:
			return
		case <-ticker.C:
			c.collectSystemMetrics()
		}
	}
}

// collectSystemMetrics collects current system state
func (c *Collector) collectSystemMetrics() {
	c.metrics.UptimeSeconds.Set(time.Since(c.startTime).Seconds())
	c.metrics.Goroutines.Set(float64(runtime.NumGoroutine()))

	if c.storagePath != "" {
		if info, err := os.Stat(c.storagePath); err == nil {
			c.metrics.StorageUsedBytes.Set(float64(info.Size()))
		}
	}

	if c.store != nil {
		byStatus, designers := c.store.Counts()
		c.metrics.StoreCampaigns.Reset()
		for status, n := range byStatus {
			c.metrics.StoreCampaigns.WithLabelValues(status).Set(float64(n))
		}
		c.metrics.StoreDesigners.Set(float64(designers))
	}
}
