package db

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"net"
	"net/url"
	"time"

	"github.com/golang-migrate/migrate/v4"
	pgxv5 "github.com/golang-migrate/migrate/v4/database/pgx/v5"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/migadu/taskdb/logger"
)

// postgresEngine is a pgxpool-backed engine for the network tiers.
type postgresEngine struct {
	tier Tier
	url  string
	pool *pgxpool.Pool
}

// withDefaultSSLMode adds sslmode when the URL does not carry one:
// "disable" for loopback hosts, "require" for everything else.
func withDefaultSSLMode(connString string) (string, error) {
	u, err := url.Parse(connString)
	if err != nil {
		return "", fmt.Errorf("%w: unable to parse connection string: %v", ErrInvalidConfig, err)
	}
	q := u.Query()
	if q.Get("sslmode") != "" {
		return connString, nil
	}
	if isLoopbackHost(u.Hostname()) {
		q.Set("sslmode", "disable")
	} else {
		q.Set("sslmode", "require")
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func isLoopbackHost(host string) bool {
	if host == "" || host == "localhost" {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}

func newPostgresEngine(ctx context.Context, tier Tier, connString string, settings engineSettings) (Engine, error) {
	connString, err := withDefaultSSLMode(connString)
	if err != nil {
		return nil, err
	}

	config, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, fmt.Errorf("%w: unable to parse connection string: %v", ErrInvalidConfig, err)
	}

	if settings.LogQueries {
		config.ConnConfig.Tracer = &queryTracer{tier: tier}
	}

	// Apply pool configuration
	if settings.MaxConns > 0 {
		config.MaxConns = settings.MaxConns
	}
	config.MinConns = settings.MinConns
	if settings.MaxConnLifetime > 0 {
		config.MaxConnLifetime = settings.MaxConnLifetime
	}
	if settings.MaxConnIdleTime > 0 {
		config.MaxConnIdleTime = settings.MaxConnIdleTime
	}
	if settings.ConnectTimeout > 0 && config.ConnConfig.ConnectTimeout == 0 {
		config.ConnConfig.ConnectTimeout = settings.ConnectTimeout
	}

	// Pre-ping on checkout: a dead connection is discarded and the pool dials another.
	config.PrepareConn = func(ctx context.Context, conn *pgx.Conn) (bool, error) {
		return conn.Ping(ctx) == nil, nil
	}

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to create connection pool: %v", ErrInvalidConfig, err)
	}

	e := &postgresEngine{
		tier: tier,
		url:  RedactURL(SchemePostgres + connString[len("postgresql"):]),
		pool: pool,
	}

	logger.Info("Database pool created", "component", "TIERED-DB", "tier", tier,
		"url", e.url, "max_conns", config.MaxConns, "min_conns", config.MinConns,
		"max_lifetime", config.MaxConnLifetime, "max_idle", config.MaxConnIdleTime,
		"connect_timeout", config.ConnConfig.ConnectTimeout)

	return e, nil
}

func (e *postgresEngine) Begin(ctx context.Context) (Tx, error) {
	tx, err := e.pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	return &postgresTx{tx: tx}, nil
}

func (e *postgresEngine) Ping(ctx context.Context) error {
	return e.pool.Ping(ctx)
}

func (e *postgresEngine) Dialect() Dialect { return DialectPostgres }

func (e *postgresEngine) URL() string { return e.url }

func (e *postgresEngine) Stats() PoolStats {
	stats := e.pool.Stat()
	return PoolStats{
		Total: stats.TotalConns(),
		Idle:  stats.IdleConns(),
		InUse: stats.AcquiredConns(),
		Max:   stats.MaxConns(),
	}
}

func (e *postgresEngine) Close() {
	e.pool.Close()
}

// Migrate runs the migrations over a dedicated database/sql handle, since the
// migrate driver closes the handle it is given.
func (e *postgresEngine) Migrate(ctx context.Context, fsys fs.FS) error {
	sqlDB := stdlib.OpenDB(*e.pool.Config().ConnConfig.Copy())
	defer sqlDB.Close()

	if err := sqlDB.PingContext(ctx); err != nil {
		return fmt.Errorf("failed to ping database: %w", err)
	}

	sourceDriver, err := iofs.New(fsys, ".")
	if err != nil {
		return fmt.Errorf("failed to create migration source driver: %w", err)
	}

	dbDriver, err := pgxv5.WithInstance(sqlDB, &pgxv5.Config{})
	if err != nil {
		return fmt.Errorf("failed to create migration db driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", sourceDriver, "pgx5", dbDriver)
	if err != nil {
		return fmt.Errorf("failed to create migrate instance: %w", err)
	}
	defer m.Close()

	m.Log = &migrationLogger{tier: e.tier}
	return runMigrations(ctx, m)
}

// postgresTx adapts pgx.Tx to Tx.
type postgresTx struct {
	tx pgx.Tx
}

func (t *postgresTx) Exec(ctx context.Context, sql string, args ...any) (int64, error) {
	tag, err := t.tx.Exec(ctx, sql, args...)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func (t *postgresTx) Query(ctx context.Context, sql string, args ...any) (Rows, error) {
	return t.tx.Query(ctx, sql, args...)
}

func (t *postgresTx) QueryRow(ctx context.Context, sql string, args ...any) Row {
	return t.tx.QueryRow(ctx, sql, args...)
}

func (t *postgresTx) Commit(ctx context.Context) error {
	return t.tx.Commit(ctx)
}

func (t *postgresTx) Rollback(ctx context.Context) error {
	return t.tx.Rollback(ctx)
}

// queryTracer logs every query at debug level when log_queries is enabled.
type queryTracer struct {
	tier Tier
}

type queryStartKey struct{}

type queryStart struct {
	sql   string
	start time.Time
}

func (t *queryTracer) TraceQueryStart(ctx context.Context, _ *pgx.Conn, data pgx.TraceQueryStartData) context.Context {
	return context.WithValue(ctx, queryStartKey{}, queryStart{sql: data.SQL, start: time.Now()})
}

func (t *queryTracer) TraceQueryEnd(ctx context.Context, _ *pgx.Conn, data pgx.TraceQueryEndData) {
	qs, ok := ctx.Value(queryStartKey{}).(queryStart)
	if !ok {
		return
	}
	if data.Err != nil && !errors.Is(data.Err, pgx.ErrNoRows) {
		logger.Debug("Query failed", "component", "TIERED-DB", "tier", t.tier,
			"sql", qs.sql, "duration", time.Since(qs.start), "error", data.Err)
		return
	}
	logger.Debug("Query", "component", "TIERED-DB", "tier", t.tier,
		"sql", qs.sql, "duration", time.Since(qs.start), "rows", data.CommandTag.RowsAffected())
}
