package metrics

import (
	"context"
	"time"

	"github.com/migadu/taskdb/logger"
)

// PoolStats is a point-in-time snapshot of one tier's connection pool.
type PoolStats struct {
	Total int32 `json:"total"`
	Idle  int32 `json:"idle"`
	InUse int32 `json:"in_use"`
	Max   int32 `json:"max"`
}

// StatsProvider is an interface for retrieving per-tier pool statistics
type StatsProvider interface {
	PoolStats() map[string]PoolStats
}

// Collector periodically collects and updates pool metrics
type Collector struct {
	provider StatsProvider
	interval time.Duration
	stopCh   chan struct{}
}

// NewCollector creates a new metrics collector
func NewCollector(provider StatsProvider, interval time.Duration) *Collector {
	if interval == 0 {
		interval = 15 * time.Second // Default to 15 seconds
	}

	return &Collector{
		provider: provider,
		interval: interval,
		stopCh:   make(chan struct{}),
	}
}

// Start begins the metrics collection loop
func (c *Collector) Start(ctx context.Context) {
	// Collect immediately on start
	c.collect()

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	logger.Debug("MetricsCollector started", "interval", c.interval)

	for {
		select {
		case <-ctx.Done():
			logger.Debug("MetricsCollector stopping due to context cancellation")
			return
		case <-c.stopCh:
			logger.Debug("MetricsCollector stopping due to stop signal")
			return
		case <-ticker.C:
			c.collect()
		}
	}
}

// Stop signals the collector to stop
func (c *Collector) Stop() {
	close(c.stopCh)
}

// collect retrieves pool stats and updates the pool gauges
func (c *Collector) collect() {
	for tier, stats := range c.provider.PoolStats() {
		DBPoolTotalConns.WithLabelValues(tier).Set(float64(stats.Total))
		DBPoolIdleConns.WithLabelValues(tier).Set(float64(stats.Idle))
		DBPoolInUseConns.WithLabelValues(tier).Set(float64(stats.InUse))
		DBPoolMaxConns.WithLabelValues(tier).Set(float64(stats.Max))
	}
}
