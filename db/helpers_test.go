package db

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"sync"
	"testing"

	"github.com/migadu/taskdb/logger"
)

func intPtr(v int) *int { return &v }

// fakeEngine is an in-memory Engine with injectable failures.
type fakeEngine struct {
	dialect Dialect

	mu         sync.Mutex
	beginErr   error
	commitErr  error
	migrateErr error
	begins     int
	commits    int
	rollbacks  int
	migrations int
	closed     int

	// ctx.Err() seen by each Rollback
	rollbackCtxErrs []error
}

func newFakeEngine() *fakeEngine {
	return &fakeEngine{dialect: DialectPostgres}
}

func (e *fakeEngine) setBeginErr(err error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.beginErr = err
}

func (e *fakeEngine) Begin(ctx context.Context) (Tx, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.begins++
	if e.beginErr != nil {
		return nil, e.beginErr
	}
	return &fakeTx{engine: e}, nil
}

func (e *fakeEngine) Ping(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.beginErr
}

func (e *fakeEngine) Migrate(ctx context.Context, fsys fs.FS) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.migrations++
	return e.migrateErr
}

func (e *fakeEngine) Dialect() Dialect { return e.dialect }

func (e *fakeEngine) URL() string { return "fake://" + string(e.dialect) }

func (e *fakeEngine) Stats() PoolStats {
	e.mu.Lock()
	defer e.mu.Unlock()
	return PoolStats{Total: int32(e.begins), Max: 30}
}

func (e *fakeEngine) Close() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.closed++
}

func (e *fakeEngine) counts() (begins, commits, rollbacks int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.begins, e.commits, e.rollbacks
}

func (e *fakeEngine) rollbackErrs() []error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]error(nil), e.rollbackCtxErrs...)
}

type fakeTx struct {
	engine *fakeEngine
}

func (t *fakeTx) Exec(ctx context.Context, sql string, args ...any) (int64, error) {
	return 1, nil
}

func (t *fakeTx) Query(ctx context.Context, sql string, args ...any) (Rows, error) {
	return nil, errors.New("fake engine does not support Query")
}

func (t *fakeTx) QueryRow(ctx context.Context, sql string, args ...any) Row {
	return fakeRow{}
}

func (t *fakeTx) Commit(ctx context.Context) error {
	t.engine.mu.Lock()
	defer t.engine.mu.Unlock()
	t.engine.commits++
	return t.engine.commitErr
}

func (t *fakeTx) Rollback(ctx context.Context) error {
	t.engine.mu.Lock()
	defer t.engine.mu.Unlock()
	t.engine.rollbacks++
	t.engine.rollbackCtxErrs = append(t.engine.rollbackCtxErrs, ctx.Err())
	return nil
}

// fakeRow answers SELECT 1.
type fakeRow struct{}

func (fakeRow) Scan(dest ...any) error {
	for _, d := range dest {
		p, ok := d.(*int)
		if !ok {
			return fmt.Errorf("unsupported scan destination %T", d)
		}
		*p = 1
	}
	return nil
}

// newFakeManager builds a Manager over fake engines. secondary may be nil.
func newFakeManager(t *testing.T, primary, secondary, fallback *fakeEngine) *Manager {
	t.Helper()
	var sec Engine
	if secondary != nil {
		sec = secondary
	}
	m, err := NewWithEngines(primary, sec, fallback, Options{})
	if err != nil {
		t.Fatalf("NewWithEngines: %v", err)
	}
	t.Cleanup(m.Close)
	return m
}

// logCapture records every log record emitted through the logger package.
type logCapture struct {
	mu      sync.Mutex
	records []slog.Record
}

func captureLogs(t *testing.T) *logCapture {
	t.Helper()
	c := &logCapture{}
	prev := logger.SetLogger(slog.New(c))
	t.Cleanup(func() { logger.SetLogger(prev) })
	return c
}

func (c *logCapture) Enabled(context.Context, slog.Level) bool { return true }

func (c *logCapture) Handle(_ context.Context, r slog.Record) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.records = append(c.records, r.Clone())
	return nil
}

func (c *logCapture) WithAttrs([]slog.Attr) slog.Handler { return c }

func (c *logCapture) WithGroup(string) slog.Handler { return c }

// at returns the records logged at level, optionally filtered by their tier attribute.
func (c *logCapture) at(level slog.Level, tier string) []slog.Record {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []slog.Record
	for _, r := range c.records {
		if r.Level != level {
			continue
		}
		if tier != "" && recordAttr(r, "tier") != tier {
			continue
		}
		out = append(out, r)
	}
	return out
}

func recordAttr(r slog.Record, key string) string {
	var value string
	r.Attrs(func(a slog.Attr) bool {
		if a.Key == key {
			value = a.Value.String()
			return false
		}
		return true
	})
	return value
}
