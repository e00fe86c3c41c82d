package db

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/migadu/taskdb/consts"
	"github.com/migadu/taskdb/logger"
	"github.com/migadu/taskdb/pkg/metrics"
)

// Session is a data-access handle bound to one open transaction on one tier.
// It is owned by a single WithSession call and must not outlive it.
type Session interface {
	Querier
	// Tier reports which backend the session was opened on.
	Tier() Tier
	// ID identifies the session in log lines.
	ID() string
}

type session struct {
	Tx
	tier  Tier
	id    string
	start time.Time
}

func (s *session) Tier() Tier { return s.tier }

func (s *session) ID() string { return s.id }

// SessionFromContext returns the session of an enclosing WithSession call,
// letting nested data-access code join the same unit of work.
func SessionFromContext(ctx context.Context) (Session, bool) {
	s, ok := ctx.Value(consts.SessionContextKey).(Session)
	return s, ok
}

// WithSession opens a session on the best available tier, runs fn with it,
// commits when fn returns nil and rolls back otherwise.
//
// The open attempt starts at the active tier and falls through the remaining
// configured tiers in priority order; a successful open further down the list
// moves the active tier there. When every candidate fails, the error of the
// last one is returned unchanged. Errors returned by fn are returned unchanged
// after a single rollback and never cause another tier to be tried. If fn
// panics the transaction is rolled back and the panic continues.
func (m *Manager) WithSession(ctx context.Context, fn func(ctx context.Context, s Session) error) error {
	s, err := m.open(ctx)
	if err != nil {
		return err
	}
	return m.run(ctx, s, fn)
}

// candidates lists the tiers to try, starting at the active tier.
func (m *Manager) candidates() []Tier {
	start := m.ActiveTier()
	if !start.Valid() {
		start = TierPrimary
	}
	tiers := make([]Tier, 0, numTiers)
	for t := start; t < TierNone; t++ {
		if m.targets[t] != nil {
			tiers = append(tiers, t)
		}
	}
	return tiers
}

// open acquires a transaction, escalating through the candidate tiers.
func (m *Manager) open(ctx context.Context) (*session, error) {
	candidates := m.candidates()

	var lastErr error
	for i, tier := range candidates {
		tx, err := m.targets[tier].Engine.Begin(ctx)
		if err == nil {
			if i > 0 {
				metrics.DBEscalations.WithLabelValues(candidates[0].String(), tier.String()).Inc()
				m.setActive(tier, "escalated")
			}
			s := &session{Tx: tx, tier: tier, id: uuid.NewString(), start: time.Now()}
			logger.Debug("Session opened", "component", "TIERED-DB", "tier", tier, "session", s.id)
			return s, nil
		}

		lastErr = err
		metrics.DBOpenFailures.WithLabelValues(tier.String()).Inc()

		// A caller that went away is not evidence that the tier is down.
		if ctx.Err() != nil {
			logger.Debug("Session open abandoned", "component", "TIERED-DB", "tier", tier, "error", err)
			return nil, err
		}

		if i+1 < len(candidates) {
			logger.Warn("Database tier unavailable, trying next tier", "component", "TIERED-DB",
				"tier", tier, "next_tier", candidates[i+1], "error", err)
		}
	}

	logger.Error("All database tiers exhausted", "component", "TIERED-DB",
		"tier", candidates[len(candidates)-1], "error", lastErr)
	return nil, lastErr
}

// run hands the open session to fn and finishes the transaction.
func (m *Manager) run(ctx context.Context, s *session, fn func(ctx context.Context, s Session) error) error {
	finished := false
	defer func() {
		if !finished {
			// fn panicked
			m.rollback(ctx, s)
		}
	}()

	err := fn(context.WithValue(ctx, consts.SessionContextKey, Session(s)), s)
	finished = true

	if err != nil {
		m.rollback(ctx, s)
		return err
	}

	if err := s.Commit(ctx); err != nil {
		metrics.DBTransactionsTotal.WithLabelValues(s.tier.String(), "commit_error").Inc()
		metrics.DBTransactionDuration.WithLabelValues(s.tier.String()).Observe(time.Since(s.start).Seconds())
		logger.Warn("Session commit failed", "component", "TIERED-DB", "tier", s.tier, "session", s.id, "error", err)
		return err
	}
	metrics.DBTransactionsTotal.WithLabelValues(s.tier.String(), "commit").Inc()
	metrics.DBTransactionDuration.WithLabelValues(s.tier.String()).Observe(time.Since(s.start).Seconds())
	return nil
}

// rollback runs on a context detached from the caller's cancellation so the
// connection is always returned, bounded by rollbackTimeout.
func (m *Manager) rollback(ctx context.Context, s *session) {
	rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), rollbackTimeout)
	defer cancel()

	// We count a rollback attempt even if the rollback itself fails.
	metrics.DBTransactionsTotal.WithLabelValues(s.tier.String(), "rollback").Inc()
	metrics.DBTransactionDuration.WithLabelValues(s.tier.String()).Observe(time.Since(s.start).Seconds())

	if err := s.Rollback(rctx); err != nil && !isTxDone(err) {
		logger.Warn("Session rollback failed", "component", "TIERED-DB", "tier", s.tier, "session", s.id, "error", err)
	}
}
