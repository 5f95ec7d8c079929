package xtable

import (
	"context"
	"database/sql"
)

// Get executes the SQL query and scans the first row into a value of type T.
//
// It returns [sql.ErrNoRows] if the query yields no rows and does not enforce
// "exactly one row" beyond the first; if more rows exist, they are ignored.
// You should use LIMIT 1 (or an equivalent WHERE clause) when you require
// at-most-one row.
//
// T may be a struct (supports `db` tags and ,inline), a primitive, or any type
// implementing [sql.Scanner]. Column mapping prefers `db:"name"` tags;
// otherwise it matches case-insensitive field names.
//
// Extra columns are ignored and missing columns keep zero values. Scan plans
// are cached per (type, column set) in the package [Mapper] and shared with
// the row marshaler of tables.
//
// Example:
//
//	type Person struct {
//	    ID   int64  `db:"ID"`
//	    Name string `db:"name"`
//	}
//
//	ctx := context.Background()
//	p, err := xtable.Get[Person](ctx, session, `SELECT ID, name FROM person WHERE ID = ?`, 42)
//	if err != nil {
//	    if errors.Is(err, sql.ErrNoRows) {
//	        // handle not found
//	    } else {
//	        // handle other errors
//	    }
//	}
//	fmt.Println(p.Name)
func Get[T any](ctx context.Context, q Querier, query string, args ...any) (out T, err error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return out, err
	}
	// Ensure Close error is propagated if no earlier error occurred.
	defer func() {
		if cerr := rows.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}()

	if !rows.Next() {
		if ne := rows.Err(); ne != nil {
			return out, ne
		}
		return out, sql.ErrNoRows
	}

	m := getMapper() // lazy, thread-safe
	v, scanErr := scanWithMapper[T](m, rows)
	if scanErr != nil {
		return out, scanErr
	}
	return v, nil
}
