package xtable

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"io"
	"testing"
)

// fakeStore answers the statements of a fakeConn. Either hook may be nil.
type fakeStore struct {
	query func(query string, args []driver.NamedValue) (cols []string, rows [][]driver.Value, err error)
	exec  func(query string, args []driver.NamedValue) (driver.Result, error)
}

type fakeConnector struct{ store fakeStore }

func (c *fakeConnector) Connect(context.Context) (driver.Conn, error) {
	return &fakeConn{store: c.store}, nil
}
func (c *fakeConnector) Driver() driver.Driver { return fakeDriver{} }

type fakeDriver struct{}

func (fakeDriver) Open(string) (driver.Conn, error) {
	return nil, errors.New("fakeDriver: open through sql.OpenDB")
}

// fakeConn has no statements of its own, so database/sql runs queries
// through QueryContext and ExecContext directly.
type fakeConn struct{ store fakeStore }

func (c *fakeConn) Prepare(string) (driver.Stmt, error) { return nil, driver.ErrSkip }
func (c *fakeConn) Close() error                        { return nil }
func (c *fakeConn) Begin() (driver.Tx, error)           { return nil, driver.ErrSkip }

func (c *fakeConn) QueryContext(_ context.Context, query string, args []driver.NamedValue) (driver.Rows, error) {
	if c.store.query == nil {
		return nil, errors.New("fakeConn: no query hook")
	}
	cols, data, err := c.store.query(query, args)
	if err != nil {
		return nil, err
	}
	return &fakeRows{cols: cols, data: data}, nil
}

func (c *fakeConn) ExecContext(_ context.Context, query string, args []driver.NamedValue) (driver.Result, error) {
	if c.store.exec == nil {
		return nil, errors.New("fakeConn: no exec hook")
	}
	return c.store.exec(query, args)
}

type fakeRows struct {
	cols []string
	data [][]driver.Value
	next error // returned by the first Next when set
	i    int
}

func (r *fakeRows) Columns() []string { return append([]string(nil), r.cols...) }
func (r *fakeRows) Close() error      { return nil }

func (r *fakeRows) Next(dest []driver.Value) error {
	if r.next != nil {
		return r.next
	}
	if r.i >= len(r.data) {
		return io.EOF
	}
	row := r.data[r.i]
	for i := range dest {
		dest[i] = nil
		if i < len(row) {
			dest[i] = row[i]
		}
	}
	r.i++
	return nil
}

type fakeResult struct {
	lastID int64
	rows   int64
}

func (r fakeResult) LastInsertId() (int64, error) { return r.lastID, nil }
func (r fakeResult) RowsAffected() (int64, error) { return r.rows, nil }

// rowsOf returns a query hook that always answers with cols and data.
func rowsOf(cols []string, data ...[]driver.Value) func(string, []driver.NamedValue) ([]string, [][]driver.Value, error) {
	return func(string, []driver.NamedValue) ([]string, [][]driver.Value, error) {
		return cols, data, nil
	}
}

func openFake(t *testing.T, store fakeStore) *sql.DB {
	t.Helper()
	db := sql.OpenDB(&fakeConnector{store: store})
	t.Cleanup(func() { _ = db.Close() })
	return db
}

// brokenNextConnector serves rows whose first Next fails.
type brokenNextConnector struct{ err error }

func (c brokenNextConnector) Connect(context.Context) (driver.Conn, error) {
	return brokenNextConn(c), nil
}
func (brokenNextConnector) Driver() driver.Driver { return fakeDriver{} }

type brokenNextConn struct{ err error }

func (brokenNextConn) Prepare(string) (driver.Stmt, error) { return nil, driver.ErrSkip }
func (brokenNextConn) Close() error                        { return nil }
func (brokenNextConn) Begin() (driver.Tx, error)           { return nil, driver.ErrSkip }
func (c brokenNextConn) QueryContext(context.Context, string, []driver.NamedValue) (driver.Rows, error) {
	return &fakeRows{cols: []string{"age"}, next: c.err}, nil
}
