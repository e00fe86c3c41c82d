package db

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/migadu/taskdb/config"
	"github.com/migadu/taskdb/logger"
	"github.com/migadu/taskdb/pkg/metrics"
)

const (
	defaultProbeTimeout     = 5 * time.Second
	defaultMigrationTimeout = 2 * time.Minute
	rollbackTimeout         = 5 * time.Second
	poolMetricsInterval     = 15 * time.Second
)

// Target is the connection target of one configured tier.
type Target struct {
	Tier   Tier
	URL    string // normalized, password redacted
	Engine Engine
}

// Options tunes a Manager. Zero values select the defaults.
type Options struct {
	ProbeTimeout     time.Duration
	MigrationTimeout time.Duration
}

// Manager owns the tier engines and the active tier. It is safe for
// concurrent use and is meant to be created once per process and injected
// into whatever needs database access.
type Manager struct {
	targets [numTiers]*Target
	active  atomic.Int32
	opts    Options

	stop      chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

// New validates cfg, builds the tier engines and returns a Manager whose
// active tier starts at primary. Engine construction does not dial.
func New(ctx context.Context, cfg *config.DatabaseConfig) (*Manager, error) {
	engines, err := BuildEngines(ctx, cfg)
	if err != nil {
		return nil, err
	}

	probeTimeout, _ := cfg.GetProbeTimeout()
	migrationTimeout, _ := cfg.GetMigrationTimeout()

	m, err := NewWithEngines(engines.Primary, engines.Secondary, engines.Fallback, Options{
		ProbeTimeout:     probeTimeout,
		MigrationTimeout: migrationTimeout,
	})
	if err != nil {
		engines.Close()
		return nil, err
	}
	return m, nil
}

// NewWithEngines builds a Manager from already constructed engines.
// secondary may be nil; primary and fallback are required.
func NewWithEngines(primary, secondary, fallback Engine, opts Options) (*Manager, error) {
	if primary == nil || fallback == nil {
		return nil, fmt.Errorf("%w: primary and fallback engines are required", ErrInvalidConfig)
	}
	if opts.ProbeTimeout <= 0 {
		opts.ProbeTimeout = defaultProbeTimeout
	}
	if opts.MigrationTimeout <= 0 {
		opts.MigrationTimeout = defaultMigrationTimeout
	}

	m := &Manager{
		opts: opts,
		stop: make(chan struct{}),
	}
	for tier, engine := range map[Tier]Engine{TierPrimary: primary, TierSecondary: secondary, TierFallback: fallback} {
		if engine != nil {
			m.targets[tier] = &Target{Tier: tier, URL: engine.URL(), Engine: engine}
		}
	}
	m.active.Store(int32(TierPrimary))
	m.publishActive(TierPrimary)

	return m, nil
}

// ActiveTier returns the tier sessions are currently opened against first.
// The value is advisory and may change at any time.
func (m *Manager) ActiveTier() Tier {
	return Tier(m.active.Load())
}

// Tiers returns the configured tiers in priority order.
func (m *Manager) Tiers() []Tier {
	tiers := make([]Tier, 0, numTiers)
	for i, t := range m.targets {
		if t != nil {
			tiers = append(tiers, Tier(i))
		}
	}
	return tiers
}

// Target returns the connection target of a configured tier.
func (m *Manager) Target(tier Tier) (*Target, error) {
	if !tier.Valid() || m.targets[tier] == nil {
		return nil, fmt.Errorf("%w: %s", ErrTierNotConfigured, tier)
	}
	return m.targets[tier], nil
}

// setActive moves the active tier and logs the transition. reason is
// "promoted" or "demoted" for health checks and "escalated" for sessions.
func (m *Manager) setActive(to Tier, reason string) {
	from := Tier(m.active.Swap(int32(to)))
	if from == to {
		return
	}
	m.publishActive(to)
	if to < from {
		logger.Info("Active database tier "+reason, "component", "TIERED-DB", "from", from, "to", to)
	} else {
		logger.Warn("Active database tier "+reason, "component", "TIERED-DB", "from", from, "to", to)
	}
}

func (m *Manager) publishActive(active Tier) {
	for _, tier := range []Tier{TierPrimary, TierSecondary, TierFallback} {
		v := 0.0
		if tier == active {
			v = 1
		}
		metrics.DBActiveTier.WithLabelValues(tier.String()).Set(v)
	}
}

// PoolStats returns the pool statistics of every configured tier keyed by tier name.
func (m *Manager) PoolStats() map[string]PoolStats {
	stats := make(map[string]PoolStats, numTiers)
	for _, tier := range m.Tiers() {
		stats[tier.String()] = m.targets[tier].Engine.Stats()
	}
	return stats
}

// StartPoolMetrics exports per-tier pool gauges every 15s until ctx is done
// or the Manager is closed.
func (m *Manager) StartPoolMetrics(ctx context.Context) {
	if m.closed() {
		return
	}
	collector := metrics.NewCollector(m, poolMetricsInterval)

	m.wg.Add(2)
	go func() {
		defer m.wg.Done()
		collector.Start(ctx)
	}()
	go func() {
		defer m.wg.Done()
		select {
		case <-m.stop:
			collector.Stop()
		case <-ctx.Done():
		}
	}()
}

// Close stops background loops, waits for them and closes every engine.
func (m *Manager) Close() {
	m.closeOnce.Do(func() {
		close(m.stop)

		logger.Info("Waiting for background goroutines to finish", "component", "TIERED-DB")
		m.wg.Wait()

		for _, t := range m.targets {
			if t != nil {
				t.Engine.Close()
			}
		}
		logger.Info("Database engines closed", "component", "TIERED-DB")
	})
}

func (m *Manager) closed() bool {
	select {
	case <-m.stop:
		return true
	default:
		return false
	}
}
