package db

import (
	"database/sql"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/migadu/taskdb/consts"
)

// Sentinel errors for database operations
var (
	// ErrInvalidConfig indicates malformed or missing connection settings. It is fatal at startup.
	ErrInvalidConfig = consts.ErrInvalidConfig

	// ErrUnsupportedScheme indicates a connection URL whose scheme has no engine
	ErrUnsupportedScheme = consts.ErrUnsupportedScheme

	// ErrTierNotConfigured indicates a lookup of a tier the manager was built without
	ErrTierNotConfigured = consts.ErrTierNotConfigured
)

// IsNoRows reports whether err is the "no rows" error of either dialect.
func IsNoRows(err error) bool {
	return errors.Is(err, pgx.ErrNoRows) || errors.Is(err, sql.ErrNoRows)
}

// isTxDone reports whether err only says the transaction was already finished.
func isTxDone(err error) bool {
	return errors.Is(err, pgx.ErrTxClosed) || errors.Is(err, sql.ErrTxDone)
}
