package xtable

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/jmoiron/sqlx"
)

// Exec executes a statement that does not return rows (INSERT, UPDATE, DELETE, DDL).
//
// It forwards to the underlying [Execer]. With a *Session the statement goes
// through named binding, the session's statement cache and its auto-commit
// rules; with a plain *sql.DB, *sql.Tx or *sql.Conn it runs as written.
//
// Example:
//
//	res, err := xtable.Exec(ctx, session, `INSERT INTO person (name, age) VALUES (?, ?)`, "Ana", 30)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	id, _ := res.LastInsertId()
func Exec(ctx context.Context, e Execer, query string, args ...any) (sql.Result, error) {
	return e.ExecContext(ctx, query, args...)
}

type stmtKind uint8

const (
	kindOther stmtKind = iota
	kindWrite
	kindBegin
	kindCommit
	kindRollback
)

// classify looks at the leading keyword of query.
func classify(query string) stmtKind {
	word, rest := leadingWord(query)
	switch word {
	case "INSERT", "UPDATE", "DELETE", "REPLACE":
		return kindWrite
	case "BEGIN":
		return kindBegin
	case "COMMIT", "END":
		return kindCommit
	case "ROLLBACK":
		// ROLLBACK TO <savepoint> keeps the transaction open.
		if next, _ := leadingWord(rest); next == "TO" {
			return kindOther
		}
		if next, after := leadingWord(rest); next == "TRANSACTION" {
			if n, _ := leadingWord(after); n == "TO" {
				return kindOther
			}
		}
		return kindRollback
	}
	return kindOther
}

// leadingWord returns the first keyword of s in upper case, skipping blanks
// and comments, and the text after it.
func leadingWord(s string) (string, string) {
	for {
		s = strings.TrimLeft(s, " \t\r\n;")
		if strings.HasPrefix(s, "--") {
			i := strings.IndexByte(s, '\n')
			if i < 0 {
				return "", ""
			}
			s = s[i+1:]
			continue
		}
		if strings.HasPrefix(s, "/*") {
			i := strings.Index(s[2:], "*/")
			if i < 0 {
				return "", ""
			}
			s = s[i+4:]
			continue
		}
		break
	}
	end := 0
	for end < len(s) && isWordByte(s[end]) {
		end++
	}
	return strings.ToUpper(s[:end]), s[end:]
}

func isWordByte(c byte) bool {
	return c == '_' || ('a' <= c && c <= 'z') || ('A' <= c && c <= 'Z')
}

// fail reports a rejected statement to the logger and wraps it.
func (s *Session) fail(query string, args []any, err error) error {
	s.log.Error("query failed", "query", query, "args", args, "error", err)
	return &QueryError{Query: query, Args: args, Err: err}
}

// txExec runs a transaction-control statement directly on the connection
// and tracks the transaction flag shared with doubles.
func (s *Session) txExec(ctx context.Context, kind stmtKind, query string) (sql.Result, error) {
	res, err := s.link.conn.ExecContext(ctx, query)
	if err != nil {
		return nil, s.fail(query, nil, err)
	}
	switch kind {
	case kindBegin:
		s.link.inTx = true
	case kindCommit, kindRollback:
		s.link.inTx = false
	}
	return res, nil
}

// implicitBegin opens a transaction before a write when auto-commit is off.
func (s *Session) implicitBegin(ctx context.Context, kind stmtKind) error {
	if kind != kindWrite || s.autoCommit || s.link.inTx {
		return nil
	}
	_, err := s.txExec(ctx, kindBegin, "BEGIN")
	return err
}

// settle commits a pending transaction in auto-commit mode.
func (s *Session) settle(ctx context.Context) error {
	if !s.autoCommit || s.bulk || !s.link.inTx || s.link.closed {
		return nil
	}
	_, err := s.txExec(ctx, kindCommit, "COMMIT")
	return err
}

// prepare rebinds query for this session and returns its cached statement.
func (s *Session) prepare(ctx context.Context, query string, args []any) (*sql.Stmt, string, []any, stmtKind, error) {
	if err := s.check(); err != nil {
		return nil, "", nil, kindOther, err
	}
	q, params, err := Rebind(query, s.ph, args...)
	if err != nil {
		return nil, query, args, kindOther, s.fail(query, args, err)
	}
	kind := classify(q)
	if kind == kindBegin || kind == kindCommit || kind == kindRollback {
		return nil, q, params, kind, nil
	}
	if err := s.implicitBegin(ctx, kind); err != nil {
		return nil, q, params, kind, err
	}
	st, err := s.stmts.prepare(ctx, s.link.conn, q)
	if err != nil {
		return nil, q, params, kind, s.fail(q, params, err)
	}
	return st, q, params, kind, nil
}

// ExecContext runs a statement that returns no rows.
//
// Arguments are positional unless a single struct or map[string]any is
// passed for a query with :name parameters. On success in auto-commit mode
// a pending transaction is committed. Failures are logged and returned as
// *QueryError.
func (s *Session) ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error) {
	st, q, params, kind, err := s.prepare(ctx, query, args)
	if err != nil {
		return nil, err
	}
	if st == nil {
		if len(params) > 0 {
			return nil, s.fail(q, params, errors.New("transaction statements take no arguments"))
		}
		return s.txExec(ctx, kind, q)
	}
	res, err := st.ExecContext(ctx, params...)
	if err != nil {
		s.stmts.forget(q)
		return nil, s.fail(q, params, err)
	}
	if err := s.settle(ctx); err != nil {
		return nil, err
	}
	return res, nil
}

// Exec is ExecContext.
func (s *Session) Exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return s.ExecContext(ctx, query, args...)
}

// QueryContext runs a statement that returns rows. The caller closes the
// rows. Nothing is committed until the next statement, Commit or Close.
func (s *Session) QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	st, q, params, _, err := s.prepare(ctx, query, args)
	if err != nil {
		return nil, err
	}
	if st == nil {
		return nil, s.fail(q, params, errors.New("transaction statements return no rows; use Exec"))
	}
	rows, err := st.QueryContext(ctx, params...)
	if err != nil {
		s.stmts.forget(q)
		return nil, s.fail(q, params, err)
	}
	return rows, nil
}

// Query is QueryContext.
func (s *Session) Query(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	return s.QueryContext(ctx, query, args...)
}

// ExecScript runs a script of semicolon separated statements as is, without
// arguments or statement caching.
func (s *Session) ExecScript(ctx context.Context, script string) error {
	if err := s.check(); err != nil {
		return err
	}
	if _, err := s.link.conn.ExecContext(ctx, script); err != nil {
		return s.fail(script, nil, err)
	}
	return s.settle(ctx)
}

// ExecFile runs the script stored in the file at path.
func (s *Session) ExecFile(ctx context.Context, path string) error {
	b, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("xtable: read script: %w", err)
	}
	return s.ExecScript(ctx, string(b))
}

var errStop = errors.New("stop")

// each runs query and calls fn with every row fetched as []any, until fn
// returns errStop or another error.
func (s *Session) each(ctx context.Context, query string, args []any, fn func(values []any, columns []string) error) (err error) {
	rows, err := s.QueryContext(ctx, query, args...)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := rows.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}()
	cols, err := rows.Columns()
	if err != nil {
		return err
	}
	for rows.Next() {
		values, err := sqlx.SliceScan(rows)
		if err != nil {
			return s.fail(query, args, err)
		}
		if err := fn(values, cols); err != nil {
			if errors.Is(err, errStop) {
				return nil
			}
			return err
		}
	}
	if err := rows.Err(); err != nil {
		return s.fail(query, args, err)
	}
	return nil
}

// fetch is each followed by the auto-commit rule.
func (s *Session) fetch(ctx context.Context, query string, args []any, fn func(values []any, columns []string) error) error {
	if err := s.each(ctx, query, args, fn); err != nil {
		return err
	}
	return s.settle(ctx)
}

// Select runs query and returns every row as a Record.
func (s *Session) Select(ctx context.Context, query string, args ...any) ([]Record, error) {
	out := []Record{}
	err := s.fetch(ctx, query, args, func(values []any, columns []string) error {
		out = append(out, RowToRecord(values, columns))
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// SelectRow returns the first row of query. ok is false when there is none.
func (s *Session) SelectRow(ctx context.Context, query string, args ...any) (rec Record, ok bool, err error) {
	err = s.fetch(ctx, query, args, func(values []any, columns []string) error {
		rec, ok = RowToRecord(values, columns), true
		return errStop
	})
	return rec, ok, err
}

// SelectScalar returns the first column of the first row of query, or
// sql.ErrNoRows.
func (s *Session) SelectScalar(ctx context.Context, query string, args ...any) (any, error) {
	rec, ok, err := s.SelectRow(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, sql.ErrNoRows
	}
	return rec.Index(0), nil
}
