package db

import (
	"context"
	"time"

	"github.com/migadu/taskdb/logger"
	"github.com/migadu/taskdb/pkg/metrics"
)

// HealthReport is the outcome of probing one tier.
type HealthReport struct {
	Connected bool     `json:"connected"`
	LatencyMS *float64 `json:"latency_ms"`
	Error     *string  `json:"error"`
}

// AggregateHealth is the result of one CheckHealth pass. Mode is the active
// tier after the pass applied its update.
type AggregateHealth struct {
	Mode      Tier                  `json:"mode"`
	Reports   map[Tier]HealthReport `json:"reports"`
	CheckedAt time.Time             `json:"checked_at"`
}

// AnyConnected reports whether at least one tier answered its probe.
func (h AggregateHealth) AnyConnected() bool {
	for _, r := range h.Reports {
		if r.Connected {
			return true
		}
	}
	return false
}

// CheckHealth probes every configured tier in priority order and moves the
// active tier to the best connected one. When no tier answers the active
// tier is left unchanged.
func (m *Manager) CheckHealth(ctx context.Context) AggregateHealth {
	reports := make(map[Tier]HealthReport, numTiers)
	best := TierNone

	for _, tier := range m.Tiers() {
		report := m.probe(ctx, tier)
		reports[tier] = report
		if report.Connected && best == TierNone {
			best = tier
		}
	}

	if best == TierNone {
		logger.Error("Critical: no database tier is reachable", "component", "TIERED-DB",
			"active_tier", m.ActiveTier())
	} else if active := m.ActiveTier(); best != active {
		reason := "demoted"
		if best < active {
			reason = "promoted"
		}
		m.setActive(best, reason)
	}

	return AggregateHealth{
		Mode:      m.ActiveTier(),
		Reports:   reports,
		CheckedAt: time.Now().UTC(),
	}
}

// probe opens a transaction, runs SELECT 1 and rolls back, bounded by the probe timeout.
func (m *Manager) probe(ctx context.Context, tier Tier) HealthReport {
	probeCtx, cancel := context.WithTimeout(ctx, m.opts.ProbeTimeout)
	defer cancel()

	start := time.Now()
	err := probeTier(probeCtx, m.targets[tier].Engine)
	elapsed := time.Since(start)

	if err != nil {
		msg := err.Error()
		metrics.DBTierUp.WithLabelValues(tier.String()).Set(0)
		logger.Debug("Database tier probe failed", "component", "TIERED-DB", "tier", tier, "error", err)
		return HealthReport{Connected: false, Error: &msg}
	}

	latency := float64(elapsed.Microseconds()) / 1000
	metrics.DBTierUp.WithLabelValues(tier.String()).Set(1)
	metrics.DBProbeDuration.WithLabelValues(tier.String()).Observe(elapsed.Seconds())
	return HealthReport{Connected: true, LatencyMS: &latency}
}

func probeTier(ctx context.Context, engine Engine) error {
	tx, err := engine.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(context.WithoutCancel(ctx))

	var one int
	return tx.QueryRow(ctx, "SELECT 1").Scan(&one)
}

// StartHealthChecking runs CheckHealth every interval until ctx is done or
// the Manager is closed. A non-positive interval disables it.
func (m *Manager) StartHealthChecking(ctx context.Context, interval time.Duration) {
	if interval <= 0 || m.closed() {
		return
	}

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()

		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		logger.Info("Started background health checking", "component", "TIERED-DB", "interval", interval)

		for {
			select {
			case <-ctx.Done():
				logger.Info("Stopped background health checking (context done)", "component", "TIERED-DB")
				return
			case <-m.stop:
				logger.Info("Stopped background health checking (close signal)", "component", "TIERED-DB")
				return
			case <-ticker.C:
				m.CheckHealth(ctx)
			}
		}
	}()
}
