package db

import (
	"context"
	"errors"
	"log/slog"
	"path/filepath"
	"sync"
	"testing"
	"testing/fstest"
	"time"

	"github.com/migadu/taskdb/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// recordingSchema records which engines it was applied to and fails on some.
type recordingSchema struct {
	mu      sync.Mutex
	applied []Engine
	failOn  map[Engine]error
}

func (s *recordingSchema) Apply(ctx context.Context, engine Engine) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := ctx.Deadline(); !ok {
		return errors.New("schema applied without a deadline")
	}
	if err := s.failOn[engine]; err != nil {
		return err
	}
	s.applied = append(s.applied, engine)
	return nil
}

func TestInitializeUnreachableSecondary(t *testing.T) {
	logs := captureLogs(t)

	primary, secondary, fallback := newFakeEngine(), newFakeEngine(), newFakeEngine()
	m := newFakeManager(t, primary, secondary, fallback)

	schema := &recordingSchema{failOn: map[Engine]error{secondary: errors.New("connection refused")}}
	m.Initialize(context.Background(), schema)

	assert.Equal(t, []Engine{primary, fallback}, schema.applied)
	assert.Len(t, logs.at(slog.LevelWarn, "secondary"), 1)
	assert.Empty(t, logs.at(slog.LevelError, ""))
	assert.Len(t, logs.at(slog.LevelInfo, "primary"), 1)
	assert.Len(t, logs.at(slog.LevelInfo, "fallback"), 1)
}

func TestInitializeFallbackFailureLogsError(t *testing.T) {
	logs := captureLogs(t)

	primary, fallback := newFakeEngine(), newFakeEngine()
	m := newFakeManager(t, primary, nil, fallback)

	schema := &recordingSchema{failOn: map[Engine]error{fallback: errors.New("read-only file system")}}
	m.Initialize(context.Background(), schema)

	assert.Equal(t, []Engine{primary}, schema.applied)
	assert.Len(t, logs.at(slog.LevelError, "fallback"), 1)
}

func TestInitializeMigrationTimeoutPerTier(t *testing.T) {
	primary, fallback := newFakeEngine(), newFakeEngine()
	m, err := NewWithEngines(primary, nil, fallback, Options{MigrationTimeout: time.Minute})
	require.NoError(t, err)
	defer m.Close()

	var deadlines []time.Time
	m.Initialize(context.Background(), schemaFunc(func(ctx context.Context, engine Engine) error {
		d, ok := ctx.Deadline()
		require.True(t, ok)
		deadlines = append(deadlines, d)
		return nil
	}))

	require.Len(t, deadlines, 2)
	for _, d := range deadlines {
		assert.WithinDuration(t, time.Now().Add(time.Minute), d, 5*time.Second)
	}
}

type schemaFunc func(ctx context.Context, engine Engine) error

func (f schemaFunc) Apply(ctx context.Context, engine Engine) error { return f(ctx, engine) }

func TestStatementsPicksDialect(t *testing.T) {
	primary := newFakeEngine()
	stmts := Statements{
		Postgres: []string{"CREATE TABLE IF NOT EXISTS a (id BIGSERIAL PRIMARY KEY)"},
		SQLite:   []string{"CREATE TABLE IF NOT EXISTS a (id INTEGER PRIMARY KEY)"},
	}

	require.NoError(t, stmts.Apply(context.Background(), primary))
	_, commits, _ := primary.counts()
	assert.Equal(t, 1, commits)
}

func TestStatementsRealSQLite(t *testing.T) {
	ctx := context.Background()
	engine, err := newSQLiteEngine(TierFallback, filepath.Join(t.TempDir(), "x.db"), engineSettings{})
	require.NoError(t, err)
	defer engine.Close()

	stmts := Statements{SQLite: []string{
		`CREATE TABLE IF NOT EXISTS projects (id INTEGER PRIMARY KEY, name TEXT NOT NULL UNIQUE)`,
		`CREATE INDEX IF NOT EXISTS idx_projects_name ON projects (name)`,
	}}
	require.NoError(t, stmts.Apply(ctx, engine))
	require.NoError(t, stmts.Apply(ctx, engine), "statements must be idempotent")

	bad := Statements{SQLite: []string{`CREATE TABLE broken (`}}
	err = bad.Apply(ctx, engine)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "schema statement 1")
}

func TestMigrationsRealSQLite(t *testing.T) {
	ctx := context.Background()
	engine, err := newSQLiteEngine(TierFallback, filepath.Join(t.TempDir(), "x.db"), engineSettings{})
	require.NoError(t, err)
	defer engine.Close()

	fsys := fstest.MapFS{
		"sqlite/000001_projects.up.sql":   {Data: []byte(`CREATE TABLE projects (id INTEGER PRIMARY KEY, name TEXT NOT NULL);`)},
		"sqlite/000001_projects.down.sql": {Data: []byte(`DROP TABLE projects;`)},
		"postgres/000001_projects.up.sql": {Data: []byte(`CREATE TABLE projects (id BIGSERIAL PRIMARY KEY, name TEXT NOT NULL);`)},
	}
	schema := Migrations{FS: fsys}

	require.NoError(t, schema.Apply(ctx, engine))
	require.NoError(t, schema.Apply(ctx, engine), "already applied migrations are not an error")

	tx, err := engine.Begin(ctx)
	require.NoError(t, err)
	defer tx.Rollback(ctx)
	n, err := tx.Exec(ctx, "INSERT INTO projects (name) VALUES ($1)", "apollo")
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)
}

func TestInitializeRealSQLiteTiers(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	cfg := &config.DatabaseConfig{
		Primary:   &config.DatabaseEndpointConfig{URL: FallbackURL(filepath.Join(dir, "primary.db"))},
		Secondary: &config.DatabaseEndpointConfig{URL: "postgresql://app@127.0.0.1:1/tasks?connect_timeout=1"},
		Fallback:  config.FallbackConfig{Path: filepath.Join(dir, "fallback.db")},
	}
	m, err := New(ctx, cfg)
	require.NoError(t, err)
	t.Cleanup(m.Close)

	logs := captureLogs(t)
	m.Initialize(ctx, Statements{
		Postgres: []string{`CREATE TABLE IF NOT EXISTS t (id BIGSERIAL PRIMARY KEY)`},
		SQLite:   []string{`CREATE TABLE IF NOT EXISTS t (id INTEGER PRIMARY KEY)`},
	})

	assert.Len(t, logs.at(slog.LevelWarn, "secondary"), 1)
	assert.Len(t, logs.at(slog.LevelInfo, "primary"), 1)
	assert.Len(t, logs.at(slog.LevelInfo, "fallback"), 1)
}
