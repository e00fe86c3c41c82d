package health

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/migadu/taskdb/db"
	"github.com/migadu/taskdb/logger"
	"github.com/migadu/taskdb/pkg/metrics"
)

type ComponentStatus string

const (
	StatusHealthy     ComponentStatus = "healthy"
	StatusDegraded    ComponentStatus = "degraded"
	StatusUnhealthy   ComponentStatus = "unhealthy"
	StatusUnreachable ComponentStatus = "unreachable"
)

// DefaultDegradedLatency is the primary probe latency above which readiness
// is reported as degraded.
const DefaultDegradedLatency = 250 * time.Millisecond

// Checker runs one health pass over the database tiers.
type Checker interface {
	CheckHealth(ctx context.Context) db.AggregateHealth
}

// Readiness is the banded view of an AggregateHealth.
type Readiness struct {
	Status  ComponentStatus    `json:"status"`
	Reasons []string           `json:"reasons,omitempty"`
	Health  db.AggregateHealth `json:"health"`
}

// Ready reports whether traffic can be served. Degraded is still ready.
func (r Readiness) Ready() bool {
	return r.Status == StatusHealthy || r.Status == StatusDegraded
}

// Classify bands an AggregateHealth:
//   - unhealthy: no tier answered
//   - degraded: serving from the secondary or fallback, or the primary is slower than degradedLatency
//   - healthy: serving from a responsive primary
func Classify(h db.AggregateHealth, degradedLatency time.Duration) Readiness {
	if degradedLatency <= 0 {
		degradedLatency = DefaultDegradedLatency
	}

	r := Readiness{Status: StatusHealthy, Health: h}

	if !h.AnyConnected() {
		r.Status = StatusUnhealthy
		r.Reasons = append(r.Reasons, "no database tier is reachable")
		return r
	}

	if h.Mode != db.TierPrimary {
		r.Status = StatusDegraded
		r.Reasons = append(r.Reasons, fmt.Sprintf("serving from %s tier", h.Mode))
	}

	if primary, ok := h.Reports[db.TierPrimary]; ok && primary.Connected && primary.LatencyMS != nil {
		limit := float64(degradedLatency.Microseconds()) / 1000
		if *primary.LatencyMS > limit {
			r.Status = StatusDegraded
			r.Reasons = append(r.Reasons, fmt.Sprintf("primary latency %.1fms above %.1fms", *primary.LatencyMS, limit))
		}
	}

	return r
}

// Monitor evaluates readiness on demand and remembers the last result.
type Monitor struct {
	checker         Checker
	degradedLatency time.Duration

	mu              sync.RWMutex
	last            *Readiness
	statusCallbacks []func(status ComponentStatus)
}

func NewMonitor(checker Checker, degradedLatency time.Duration) *Monitor {
	return &Monitor{
		checker:         checker,
		degradedLatency: degradedLatency,
	}
}

func (hm *Monitor) AddStatusCallback(callback func(status ComponentStatus)) {
	hm.mu.Lock()
	hm.statusCallbacks = append(hm.statusCallbacks, callback)
	hm.mu.Unlock()
}

// Check runs a health pass, bands it and records the result.
func (hm *Monitor) Check(ctx context.Context) Readiness {
	r := Classify(hm.checker.CheckHealth(ctx), hm.degradedLatency)

	hm.mu.Lock()
	var previous ComponentStatus
	if hm.last != nil {
		previous = hm.last.Status
	}
	hm.last = &r
	callbacks := make([]func(ComponentStatus), len(hm.statusCallbacks))
	copy(callbacks, hm.statusCallbacks)
	hm.mu.Unlock()

	metrics.ReadinessChecks.WithLabelValues(string(r.Status)).Inc()
	metrics.ReadinessStatus.Set(statusValue(r.Status))

	if previous != r.Status {
		if previous == "" {
			logger.Info("Readiness initialized", "component", "HEALTH", "status", r.Status, "mode", r.Health.Mode)
		} else {
			logger.Info("Readiness status changed", "component", "HEALTH", "from", previous, "to", r.Status,
				"mode", r.Health.Mode, "reasons", r.Reasons)
		}
		for _, callback := range callbacks {
			callback(r.Status)
		}
	}

	return r
}

// Last returns the most recent readiness, if any check has run.
func (hm *Monitor) Last() (Readiness, bool) {
	hm.mu.RLock()
	defer hm.mu.RUnlock()
	if hm.last == nil {
		return Readiness{}, false
	}
	return *hm.last, true
}

// statusValue maps a status to the gauge value (0=unreachable, 1=unhealthy, 2=degraded, 3=healthy)
func statusValue(status ComponentStatus) float64 {
	switch status {
	case StatusHealthy:
		return 3
	case StatusDegraded:
		return 2
	case StatusUnhealthy:
		return 1
	default:
		return 0
	}
}
