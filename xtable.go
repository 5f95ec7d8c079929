package xtable

import (
	"context"
	"database/sql"
)

// Querier is implemented by *sql.DB, *sql.Tx, *sql.Conn, *Session and any
// wrapper that can execute a query returning rows.
type Querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

// Execer is implemented by *sql.DB, *sql.Tx, *sql.Conn, *Session and any
// wrapper that can execute a statement that does not return rows.
type Execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// Source owns the location of a database and hands out sessions on it.
//
// Open returns a new Session that the caller must Close. Default returns the
// cached session shared by callers that never open their own; it is created
// on first use and released by Close.
type Source interface {
	Open(ctx context.Context) (*Session, error)
	Default(ctx context.Context) (*Session, error)
	Path() string
	// SetSchema attaches the Database whose tables and setup scripts the
	// sessions of this source use.
	SetSchema(db *Database)
	Close() error
}

var (
	_ Querier = (*Session)(nil)
	_ Execer  = (*Session)(nil)
	_ Source  = (*DataSource)(nil)
	_ Source  = (*MemorySource)(nil)
)
