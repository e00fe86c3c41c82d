package consts

// ContextKey is a custom type for context keys to avoid collisions between packages.
type ContextKey string

const (
	// SessionContextKey carries the open session of an enclosing WithSession
	// call so nested data-access code can join the same unit of work instead
	// of opening a second session, possibly on another tier.
	SessionContextKey = ContextKey("taskdb_session")
)
