package db

import (
	"context"
	"fmt"
	"io/fs"
	"time"

	"github.com/migadu/taskdb/config"
	"github.com/migadu/taskdb/logger"
	"github.com/migadu/taskdb/pkg/metrics"
)

// Dialect names the SQL flavour an engine speaks.
type Dialect string

const (
	DialectPostgres Dialect = "postgres"
	DialectSQLite   Dialect = "sqlite"
)

// PoolStats is a point-in-time snapshot of an engine's connection pool.
type PoolStats = metrics.PoolStats

// Row is the result of QueryRow.
type Row interface {
	Scan(dest ...any) error
}

// Rows is a cursor over a query result. Close is safe to call more than once.
type Rows interface {
	Next() bool
	Scan(dest ...any) error
	Err() error
	Close()
}

// Querier runs statements. Both dialects take positional $1..$n parameters.
type Querier interface {
	Exec(ctx context.Context, sql string, args ...any) (int64, error)
	Query(ctx context.Context, sql string, args ...any) (Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) Row
}

// Tx is an open transaction on one engine.
type Tx interface {
	Querier
	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
}

// Engine is a pooled connection factory for one tier.
type Engine interface {
	// Begin acquires a connection and starts a transaction on it.
	Begin(ctx context.Context) (Tx, error)
	Ping(ctx context.Context) error
	// Migrate applies golang-migrate migrations from fsys to this engine.
	Migrate(ctx context.Context, fsys fs.FS) error
	Dialect() Dialect
	// URL returns the normalized connection URL with the password redacted.
	URL() string
	Stats() PoolStats
	Close()
}

// Engines holds the engines built from a DatabaseConfig. Secondary is nil when
// no secondary tier is configured.
type Engines struct {
	Primary   Engine
	Secondary Engine
	Fallback  Engine
}

// Close closes every engine that was built.
func (e *Engines) Close() {
	for _, engine := range []Engine{e.Primary, e.Secondary, e.Fallback} {
		if engine != nil {
			engine.Close()
		}
	}
}

// engineSettings carries the pool tuning of one tier.
type engineSettings struct {
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
	MaxConnIdleTime time.Duration
	ConnectTimeout  time.Duration
	BusyTimeout     time.Duration
	LogQueries      bool
}

func endpointSettings(endpoint *config.DatabaseEndpointConfig) (engineSettings, error) {
	lifetime, err := endpoint.GetPoolRecycle()
	if err != nil {
		return engineSettings{}, fmt.Errorf("%w: invalid pool_recycle: %v", ErrInvalidConfig, err)
	}
	idle, err := endpoint.GetMaxConnIdleTime()
	if err != nil {
		return engineSettings{}, fmt.Errorf("%w: invalid max_conn_idle_time: %v", ErrInvalidConfig, err)
	}
	connectTimeout, err := endpoint.GetConnectTimeout()
	if err != nil {
		return engineSettings{}, fmt.Errorf("%w: invalid connect_timeout: %v", ErrInvalidConfig, err)
	}
	return engineSettings{
		MaxConns:        int32(endpoint.GetPoolSize() + endpoint.GetMaxOverflow()),
		MinConns:        int32(endpoint.MinConns),
		MaxConnLifetime: lifetime,
		MaxConnIdleTime: idle,
		ConnectTimeout:  connectTimeout,
		LogQueries:      endpoint.LogQueries,
	}, nil
}

// openEngine builds the engine selected by the scheme of a normalized URL.
// Construction does not dial; connectivity problems surface from Begin.
func openEngine(ctx context.Context, tier Tier, normalized string, settings engineSettings) (Engine, error) {
	scheme, rest, err := splitURL(normalized)
	if err != nil {
		return nil, err
	}
	switch scheme {
	case SchemePostgres:
		return newPostgresEngine(ctx, tier, "postgresql://"+rest, settings)
	case SchemeSQLite:
		return newSQLiteEngine(tier, sqlitePath(rest), settings)
	default:
		return nil, fmt.Errorf("%w: %w %q", ErrInvalidConfig, ErrUnsupportedScheme, scheme)
	}
}

// BuildEngines creates the primary, optional secondary and fallback engines.
// Any construction failure closes what was already built and is returned
// wrapped in ErrInvalidConfig.
func BuildEngines(ctx context.Context, cfg *config.DatabaseConfig) (*Engines, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	engines := &Engines{}

	primarySettings, err := endpointSettings(cfg.Primary)
	if err != nil {
		return nil, err
	}
	engines.Primary, err = openEngine(ctx, TierPrimary, NormalizeURL(cfg.Primary.URL), primarySettings)
	if err != nil {
		return nil, fmt.Errorf("primary tier: %w", err)
	}

	if cfg.HasSecondary() {
		secondarySettings, err := endpointSettings(cfg.Secondary)
		if err != nil {
			engines.Close()
			return nil, err
		}
		engines.Secondary, err = openEngine(ctx, TierSecondary, NormalizeURL(cfg.Secondary.URL), secondarySettings)
		if err != nil {
			engines.Close()
			return nil, fmt.Errorf("secondary tier: %w", err)
		}
	}

	busyTimeout, err := cfg.Fallback.GetBusyTimeout()
	if err != nil {
		engines.Close()
		return nil, fmt.Errorf("%w: invalid busy_timeout: %v", ErrInvalidConfig, err)
	}
	engines.Fallback, err = openEngine(ctx, TierFallback, FallbackURL(cfg.Fallback.GetPath()), engineSettings{BusyTimeout: busyTimeout})
	if err != nil {
		engines.Close()
		return nil, fmt.Errorf("fallback tier: %w", err)
	}

	logger.Info("Database engines created", "component", "TIERED-DB",
		"primary", engines.Primary.URL(),
		"secondary", cfg.HasSecondary(),
		"fallback", engines.Fallback.URL())

	return engines, nil
}
