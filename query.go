package xtable

import (
	"context"
)

// Query executes the SQL query and scans all result rows into a slice of T.
//
// T may be a struct (supports `db` tags and ,inline), a primitive, or any type
// implementing [sql.Scanner]. Column mapping prefers `db:"name"` tags;
// otherwise it matches case-insensitive field names.
//
// Extra columns are ignored and missing columns keep zero values. With a
// *Session as q, :name parameters and the session's statement cache apply.
//
// Example:
//
//	type Person struct {
//	    ID   int64  `db:"ID"`
//	    Name string `db:"name"`
//	}
//
//	ctx := context.Background()
//	people, err := xtable.Query[Person](ctx, session, `SELECT ID, name FROM person ORDER BY ID`)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	for _, p := range people {
//	    fmt.Println(p.ID, p.Name)
//	}
func Query[T any](ctx context.Context, q Querier, query string, args ...any) (out []T, err error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	// Propagate rows.Close() error if nothing else failed.
	defer func() {
		if cerr := rows.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}()

	m := getMapper() // lazy, thread-safe
	for rows.Next() {
		v, scanErr := scanWithMapper[T](m, rows)
		if scanErr != nil {
			return nil, scanErr
		}
		out = append(out, v)
	}
	if ne := rows.Err(); ne != nil {
		return nil, ne
	}
	return out, nil
}
