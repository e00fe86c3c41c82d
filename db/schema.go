package db

import (
	"context"
	"fmt"
	"io/fs"
	"time"

	"github.com/migadu/taskdb/logger"
	"github.com/migadu/taskdb/pkg/metrics"
)

// Schema creates the application's tables on one engine. Apply must be
// idempotent: it runs on every tier at every startup.
type Schema interface {
	Apply(ctx context.Context, engine Engine) error
}

// Statements is a Schema of plain DDL per dialect, run inside one
// transaction. Statements should use CREATE ... IF NOT EXISTS.
type Statements struct {
	Postgres []string
	SQLite   []string
}

func (s Statements) Apply(ctx context.Context, engine Engine) error {
	stmts := s.Postgres
	if engine.Dialect() == DialectSQLite {
		stmts = s.SQLite
	}

	tx, err := engine.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(context.WithoutCancel(ctx))

	for i, stmt := range stmts {
		if _, err := tx.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("schema statement %d: %w", i+1, err)
		}
	}
	return tx.Commit(ctx)
}

// Migrations is a Schema backed by golang-migrate files. FS holds one
// directory per dialect, "postgres" and "sqlite", each with numbered
// *.up.sql / *.down.sql pairs.
type Migrations struct {
	FS fs.FS
}

func (s Migrations) Apply(ctx context.Context, engine Engine) error {
	sub, err := fs.Sub(s.FS, string(engine.Dialect()))
	if err != nil {
		return fmt.Errorf("failed to get %s migrations subdirectory: %w", engine.Dialect(), err)
	}
	return engine.Migrate(ctx, sub)
}

// Initialize applies schema to every configured tier independently, each
// bounded by the migration timeout. Failures are logged and do not stop the
// remaining tiers; a failing fallback is logged at error level since it is
// the last line of defense.
func (m *Manager) Initialize(ctx context.Context, schema Schema) {
	for _, tier := range m.Tiers() {
		target := m.targets[tier]

		tierCtx, cancel := context.WithTimeout(ctx, m.opts.MigrationTimeout)
		start := time.Now()
		err := schema.Apply(tierCtx, target.Engine)
		cancel()

		if err != nil {
			metrics.DBSchemaInit.WithLabelValues(tier.String(), "failure").Inc()
			if tier == TierFallback {
				logger.Error("Schema initialization failed", "component", "TIERED-DB", "tier", tier, "url", target.URL, "error", err)
			} else {
				logger.Warn("Schema initialization failed", "component", "TIERED-DB", "tier", tier, "url", target.URL, "error", err)
			}
			continue
		}

		metrics.DBSchemaInit.WithLabelValues(tier.String(), "success").Inc()
		logger.Info("Schema initialized", "component", "TIERED-DB", "tier", tier, "duration", time.Since(start))
	}
}
