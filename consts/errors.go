package consts

import "errors"

var (
	// ErrInvalidConfig marks malformed or missing connection configuration.
	// It is fatal at startup and never retried.
	ErrInvalidConfig = errors.New("invalid database configuration")

	ErrUnsupportedScheme = errors.New("unsupported database url scheme")
	ErrTierNotConfigured = errors.New("database tier not configured")
)
