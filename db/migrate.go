package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/migadu/taskdb/logger"
)

// migrationStopGrace bounds how long a cancelled bootstrap waits for the
// in-flight migration to notice GracefulStop.
var migrationStopGrace = 5 * time.Second

// runMigrations applies all pending up migrations. ErrNoChange is success.
func runMigrations(ctx context.Context, m *migrate.Migrate) error {
	stop := func() {
		select {
		case m.GracefulStop <- true:
		default:
		}
	}
	return awaitMigration(ctx, m.Up, stop, migrationStopGrace)
}

// awaitMigration runs up in the background. A done context requests a stop
// and waits at most grace for up to return; a migration still running after
// that is abandoned and the context error is returned.
func awaitMigration(ctx context.Context, up func() error, stop func(), grace time.Duration) error {
	done := make(chan error, 1)
	go func() {
		done <- up()
	}()

	var err error
	select {
	case err = <-done:
	case <-ctx.Done():
		stop()
		select {
		case <-done:
		case <-time.After(grace):
			logger.Warn("Migration did not stop in time, abandoning it", "component", "TIERED-DB", "grace", grace)
		}
		return fmt.Errorf("migration interrupted: %w", ctx.Err())
	}

	if err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to apply migrations: %w", err)
	}
	return nil
}

// migrationLogger routes golang-migrate output through the service logger
type migrationLogger struct {
	tier Tier
}

func (l *migrationLogger) Printf(format string, v ...any) {
	logger.Debug(fmt.Sprintf("[MIGRATE] "+format, v...), "component", "TIERED-DB", "tier", l.tier)
}

func (l *migrationLogger) Verbose() bool {
	return false
}
