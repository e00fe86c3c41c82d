package schema

import (
	"context"
	"testing"

	"github.com/migadu/taskdb/db"
	"github.com/migadu/taskdb/testutils"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMigrationsApplyToPostgres(t *testing.T) {
	td := testutils.SetupTestDatabase(t, Migrations())
	td.TruncateAllTables(t)
	defer td.TruncateAllTables(t)

	// Idempotent on a migrated database.
	td.Initialize(context.Background(), Migrations())

	var taskID int64
	err := td.WithSession(context.Background(), func(ctx context.Context, s db.Session) error {
		require.Equal(t, db.TierPrimary, s.Tier())

		var projectID int64
		if err := s.QueryRow(ctx, "INSERT INTO projects (name) VALUES ($1) RETURNING id", "apollo").Scan(&projectID); err != nil {
			return err
		}
		return s.QueryRow(ctx, "INSERT INTO tasks (project_id, title, priority) VALUES ($1, $2, $3) RETURNING id",
			projectID, "write tests", 2).Scan(&taskID)
	})
	require.NoError(t, err)
	assert.Positive(t, taskID)

	var status string
	var priority int
	err = td.WithSession(context.Background(), func(ctx context.Context, s db.Session) error {
		return s.QueryRow(ctx, "SELECT status, priority FROM tasks WHERE id = $1", taskID).Scan(&status, &priority)
	})
	require.NoError(t, err)
	assert.Equal(t, "todo", status)
	assert.Equal(t, 2, priority)

	health := td.CheckHealth(context.Background())
	assert.Equal(t, db.TierPrimary, health.Mode)
	assert.True(t, health.Reports[db.TierPrimary].Connected)
}

func TestSQLiteManagerTaskLifecycle(t *testing.T) {
	m := testutils.NewSQLiteManager(t, Migrations())

	err := m.WithSession(context.Background(), func(ctx context.Context, s db.Session) error {
		if _, err := s.Exec(ctx, "INSERT INTO projects (name) VALUES ($1)", "gemini"); err != nil {
			return err
		}
		_, err := s.Exec(ctx, "INSERT INTO tasks (project_id, title) SELECT id, $1 FROM projects WHERE name = $2", "ship it", "gemini")
		return err
	})
	require.NoError(t, err)

	var titles []string
	err = m.WithSession(context.Background(), func(ctx context.Context, s db.Session) error {
		rows, err := s.Query(ctx, "SELECT t.title FROM tasks t JOIN projects p ON p.id = t.project_id WHERE p.name = $1", "gemini")
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			var title string
			if err := rows.Scan(&title); err != nil {
				return err
			}
			titles = append(titles, title)
		}
		return rows.Err()
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"ship it"}, titles)
}
