package db

import (
	"fmt"
	"net/url"
	"strings"
)

// Driver-qualified URL schemes. The suffix selects the engine implementation.
const (
	SchemePostgres = "postgresql+pgx"
	SchemeSQLite   = "sqlite+modernc"
)

var (
	postgresAliases = []string{"postgresql://", "postgres://"}
	sqliteAliases   = []string{SchemeSQLite + "://", "sqlite3://", "sqlite://"}
)

// NormalizeURL rewrites a plain relational URL to the pgx-driven scheme.
// "postgresql://" and the legacy "postgres://" become "postgresql+pgx://";
// the rest of the string is kept verbatim. Any other input is returned
// unchanged, so NormalizeURL(NormalizeURL(u)) == NormalizeURL(u).
func NormalizeURL(raw string) string {
	for _, alias := range postgresAliases {
		if strings.HasPrefix(raw, alias) {
			return SchemePostgres + "://" + raw[len(alias):]
		}
	}
	return raw
}

// FallbackURL builds the URL of the embedded fallback store from a file path.
//
//	data.db          -> sqlite+modernc:///data.db
//	/var/lib/x.db    -> sqlite+modernc:////var/lib/x.db
//	sqlite:///x.db   -> sqlite+modernc:///x.db
func FallbackURL(path string) string {
	for _, alias := range sqliteAliases {
		if strings.HasPrefix(path, alias) {
			return SchemeSQLite + "://" + path[len(alias):]
		}
	}
	return SchemeSQLite + ":///" + path
}

// splitURL separates a normalized URL into its scheme and the remainder after "://".
func splitURL(normalized string) (scheme, rest string, err error) {
	scheme, rest, ok := strings.Cut(normalized, "://")
	if !ok || scheme == "" {
		return "", "", fmt.Errorf("%w: missing scheme in database url", ErrInvalidConfig)
	}
	return scheme, rest, nil
}

// sqlitePath extracts the file path from the part of a sqlite URL after "://".
// The URL has an empty authority, so one slash is dropped: "/data.db" is the
// relative path data.db and "//var/x.db" is the absolute path /var/x.db.
func sqlitePath(rest string) string {
	path, _, _ := strings.Cut(rest, "?")
	return strings.TrimPrefix(path, "/")
}

// RedactURL hides the password of a connection URL for logging.
func RedactURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return raw
	}
	return u.Redacted()
}
