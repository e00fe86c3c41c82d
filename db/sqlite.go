package db

import (
	"context"
	"database/sql"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/golang-migrate/migrate/v4"
	migratesqlite "github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/migadu/taskdb/logger"
	_ "modernc.org/sqlite"
)

// sqliteEngine is the embedded fallback engine. It keeps no idle connections,
// so every session opens the file afresh and nothing is pooled across sessions.
type sqliteEngine struct {
	tier Tier
	path string
	dsn  string
	db   *sql.DB
}

// sqliteDSN adds the per-connection pragmas to a database file path.
// Transactions begin IMMEDIATE so concurrent writers queue on busy_timeout
// instead of failing a read-to-write lock upgrade with SQLITE_BUSY.
func sqliteDSN(path string, busyTimeout time.Duration) string {
	if busyTimeout <= 0 {
		busyTimeout = 5 * time.Second
	}
	q := url.Values{}
	q.Add("_pragma", fmt.Sprintf("busy_timeout(%d)", busyTimeout.Milliseconds()))
	q.Add("_pragma", "journal_mode(WAL)")
	q.Add("_pragma", "foreign_keys(1)")
	q.Set("_txlock", "immediate")
	return path + "?" + q.Encode()
}

func newSQLiteEngine(tier Tier, path string, settings engineSettings) (Engine, error) {
	if path == "" {
		return nil, fmt.Errorf("%w: empty sqlite path", ErrInvalidConfig)
	}

	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("%w: failed to create directory for %s: %v", ErrInvalidConfig, path, err)
		}
	}

	dsn := sqliteDSN(path, settings.BusyTimeout)
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to open sqlite database: %v", ErrInvalidConfig, err)
	}
	sqlDB.SetMaxIdleConns(0)

	e := &sqliteEngine{
		tier: tier,
		path: path,
		dsn:  dsn,
		db:   sqlDB,
	}

	logger.Info("Database file engine created", "component", "TIERED-DB", "tier", tier, "path", path)
	return e, nil
}

func (e *sqliteEngine) Begin(ctx context.Context) (Tx, error) {
	tx, err := e.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	return &sqliteTx{tx: tx}, nil
}

func (e *sqliteEngine) Ping(ctx context.Context) error {
	return e.db.PingContext(ctx)
}

func (e *sqliteEngine) Dialect() Dialect { return DialectSQLite }

func (e *sqliteEngine) URL() string { return FallbackURL(e.path) }

func (e *sqliteEngine) Stats() PoolStats {
	stats := e.db.Stats()
	return PoolStats{
		Total: int32(stats.OpenConnections),
		Idle:  int32(stats.Idle),
		InUse: int32(stats.InUse),
		Max:   int32(stats.MaxOpenConnections),
	}
}

func (e *sqliteEngine) Close() {
	if err := e.db.Close(); err != nil {
		logger.Warn("Failed to close database file", "component", "TIERED-DB", "tier", e.tier, "error", err)
	}
}

// Migrate runs the migrations over a dedicated handle, since the migrate
// driver closes the handle it is given.
func (e *sqliteEngine) Migrate(ctx context.Context, fsys fs.FS) error {
	sqlDB, err := sql.Open("sqlite", e.dsn)
	if err != nil {
		return fmt.Errorf("failed to open sql.DB for migrations: %w", err)
	}
	defer sqlDB.Close()

	if err := sqlDB.PingContext(ctx); err != nil {
		return fmt.Errorf("failed to open database file: %w", err)
	}

	sourceDriver, err := iofs.New(fsys, ".")
	if err != nil {
		return fmt.Errorf("failed to create migration source driver: %w", err)
	}

	dbDriver, err := migratesqlite.WithInstance(sqlDB, &migratesqlite.Config{})
	if err != nil {
		return fmt.Errorf("failed to create migration db driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", sourceDriver, "sqlite", dbDriver)
	if err != nil {
		return fmt.Errorf("failed to create migrate instance: %w", err)
	}
	defer m.Close()

	m.Log = &migrationLogger{tier: e.tier}
	return runMigrations(ctx, m)
}

// sqliteTx adapts database/sql to Tx. Statements are written with $n
// placeholders and rebound to SQLite's numbered ?n form.
type sqliteTx struct {
	tx *sql.Tx
}

func (t *sqliteTx) Exec(ctx context.Context, query string, args ...any) (int64, error) {
	res, err := t.tx.ExecContext(ctx, rebind(query), args...)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (t *sqliteTx) Query(ctx context.Context, query string, args ...any) (Rows, error) {
	rows, err := t.tx.QueryContext(ctx, rebind(query), args...)
	if err != nil {
		return nil, err
	}
	return &sqliteRows{Rows: rows}, nil
}

func (t *sqliteTx) QueryRow(ctx context.Context, query string, args ...any) Row {
	return t.tx.QueryRowContext(ctx, rebind(query), args...)
}

func (t *sqliteTx) Commit(context.Context) error {
	return t.tx.Commit()
}

func (t *sqliteTx) Rollback(context.Context) error {
	return t.tx.Rollback()
}

type sqliteRows struct {
	*sql.Rows
}

func (r *sqliteRows) Close() {
	_ = r.Rows.Close()
}

// rebind turns $n placeholders outside quoted text into ?n.
func rebind(query string) string {
	if !strings.Contains(query, "$") {
		return query
	}
	var b strings.Builder
	b.Grow(len(query))
	var quote byte
	for i := 0; i < len(query); i++ {
		c := query[i]
		switch {
		case quote != 0:
			if c == quote {
				quote = 0
			}
		case c == '\'' || c == '"':
			quote = c
		case c == '$' && i+1 < len(query) && query[i+1] >= '0' && query[i+1] <= '9':
			c = '?'
		}
		b.WriteByte(c)
	}
	return b.String()
}
