// Package testutils provides database helpers shared by the taskdb test suites.
//
// Key components:
//   - NewSQLiteManager: a tiered Manager whose primary and fallback are
//     SQLite files under t.TempDir(), with a schema applied
//   - SetupTestDatabase: a Manager whose primary is the live PostgreSQL
//     described by config-test.toml; skipped in -short mode or when the
//     file is missing
//
// Example usage:
//
//	import "github.com/migadu/taskdb/testutils"
//
//	func TestMyFunction(t *testing.T) {
//		m := testutils.NewSQLiteManager(t, schema.Migrations())
//		// Use m.WithSession in your tests...
//	}
package testutils
