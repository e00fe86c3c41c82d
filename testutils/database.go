package testutils

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/BurntSushi/toml"
	"github.com/migadu/taskdb/config"
	"github.com/migadu/taskdb/db"
	"github.com/stretchr/testify/require"
)

// TestConfig represents minimal test configuration
type TestConfig struct {
	Database struct {
		URL string `toml:"url"`
	} `toml:"database"`
}

// TestDatabase wraps a Manager backed by a live PostgreSQL primary
type TestDatabase struct {
	*db.Manager
	Config *TestConfig
}

// NewSQLiteManager builds a Manager whose primary and fallback are SQLite
// files in a temporary directory and applies schema to both. The Manager is
// closed when the test ends.
func NewSQLiteManager(t *testing.T, schema db.Schema) *db.Manager {
	t.Helper()
	dir := t.TempDir()

	cfg := &config.DatabaseConfig{
		Primary:  &config.DatabaseEndpointConfig{URL: db.FallbackURL(filepath.Join(dir, "primary.db"))},
		Fallback: config.FallbackConfig{Path: filepath.Join(dir, "fallback.db")},
	}

	m, err := db.New(context.Background(), cfg)
	require.NoError(t, err, "Failed to build SQLite test manager")
	t.Cleanup(m.Close)

	if schema != nil {
		m.Initialize(context.Background(), schema)
	}
	return m
}

// SetupTestDatabase creates a Manager using local PostgreSQL from config-test.toml as
// primary and a temporary SQLite file as fallback, and applies schema to both.
func SetupTestDatabase(t *testing.T, schema db.Schema) *TestDatabase {
	t.Helper()
	if testing.Short() {
		t.Skip("Skipping database integration test in short mode")
	}

	configPath, err := findTestConfig()
	if err != nil {
		t.Skipf("Skipping database integration test: %v", err)
	}

	var cfg TestConfig
	_, err = toml.DecodeFile(configPath, &cfg)
	require.NoError(t, err, "Failed to load test config. Please check config-test.toml syntax")
	require.NotEmpty(t, cfg.Database.URL, "config-test.toml must set database.url")

	ctx := context.Background()
	m, err := db.New(ctx, &config.DatabaseConfig{
		Primary:  &config.DatabaseEndpointConfig{URL: cfg.Database.URL, ConnectTimeout: "2s"},
		Fallback: config.FallbackConfig{Path: filepath.Join(t.TempDir(), "fallback.db")},
	})
	require.NoError(t, err)
	t.Cleanup(m.Close)

	primary, err := m.Target(db.TierPrimary)
	require.NoError(t, err)
	require.NoError(t, primary.Engine.Ping(ctx), "Failed to connect to test database %s. Please ensure PostgreSQL is running", primary.URL)

	if schema != nil {
		m.Initialize(ctx, schema)
	}

	return &TestDatabase{
		Manager: m,
		Config:  &cfg,
	}
}

// findTestConfig walks up the directory tree to find config-test.toml
func findTestConfig() (string, error) {
	dir, err := os.Getwd()
	if err != nil {
		return "", err
	}

	for {
		configPath := filepath.Join(dir, "config-test.toml")
		if _, err := os.Stat(configPath); err == nil {
			return configPath, nil
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}

	return "", fmt.Errorf("config-test.toml not found in current directory or any parent directory")
}

// TruncateAllTables cleans all task store data from the primary.
func (td *TestDatabase) TruncateAllTables(t *testing.T) {
	t.Helper()
	ctx := context.Background()

	primary, err := td.Target(db.TierPrimary)
	require.NoError(t, err)

	tx, err := primary.Engine.Begin(ctx)
	require.NoError(t, err)
	defer tx.Rollback(ctx)

	// Dependency order
	for _, table := range []string{"tasks", "sprints", "projects"} {
		_, err := tx.Exec(ctx, fmt.Sprintf("TRUNCATE TABLE %s RESTART IDENTITY CASCADE", table))
		require.NoError(t, err)
	}
	require.NoError(t, tx.Commit(ctx))
}
