package xtable

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"testing"
)

type person struct {
	ID   int64  `db:"ID"`
	Name string `db:"name"`
	Age  int    `db:"age"`
}

func TestGet_Person(t *testing.T) {
	db := openFake(t, fakeStore{query: rowsOf(
		[]string{`"ID"`, "`NAME`", "[age]"},
		[]driver.Value{int64(7), []byte("Ana"), int64(30)},
	)})

	got, err := Get[person](context.Background(), db, "SELECT ID, name, age FROM person")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got != (person{ID: 7, Name: "Ana", Age: 30}) {
		t.Fatalf("got %+v", got)
	}
}

func TestGet_FirstRowOnly(t *testing.T) {
	db := openFake(t, fakeStore{query: rowsOf(
		[]string{"age"},
		[]driver.Value{int64(30)},
		[]driver.Value{int64(41)},
	)})

	got, err := Get[int](context.Background(), db, "SELECT age FROM person")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got != 30 {
		t.Fatalf("got %d, want the first row", got)
	}
}

func TestGet_QueryError(t *testing.T) {
	boom := errors.New("no such table: person")
	db := openFake(t, fakeStore{query: func(string, []driver.NamedValue) ([]string, [][]driver.Value, error) {
		return nil, nil, boom
	}})

	if _, err := Get[int64](context.Background(), db, "SELECT ID FROM person"); !errors.Is(err, boom) {
		t.Fatalf("want %v, got %v", boom, err)
	}
}

func TestGet_NoRows(t *testing.T) {
	db := openFake(t, fakeStore{query: rowsOf([]string{"ID"})})

	if _, err := Get[int64](context.Background(), db, "SELECT ID FROM person WHERE 0"); !errors.Is(err, sql.ErrNoRows) {
		t.Fatalf("want sql.ErrNoRows, got %v", err)
	}
}

func TestGet_NextError(t *testing.T) {
	db := sql.OpenDB(brokenNextConnector{err: errors.New("disk I/O error")})
	defer func() { _ = db.Close() }()

	_, err := Get[person](context.Background(), db, "SELECT age FROM person")
	if err == nil || err.Error() != "disk I/O error" {
		t.Fatalf("want disk I/O error, got %v", err)
	}
}

func TestGet_TooManyColumnsForScalar(t *testing.T) {
	db := openFake(t, fakeStore{query: rowsOf(
		[]string{"ID", "age"},
		[]driver.Value{int64(1), int64(30)},
	)})

	if _, err := Get[int64](context.Background(), db, "SELECT ID, age FROM person"); err == nil {
		t.Fatal("two columns into an int64 should fail")
	}
}

func TestGet_SharesPackageMapper(t *testing.T) {
	before := getMapper()
	db := openFake(t, fakeStore{query: rowsOf([]string{"n"}, []driver.Value{int64(1)})})

	if _, err := Get[int64](context.Background(), db, "SELECT 1 AS n"); err != nil {
		t.Fatalf("Get: %v", err)
	}
	if after := getMapper(); after == nil || after != before {
		t.Fatal("package mapper changed across Get")
	}
}
