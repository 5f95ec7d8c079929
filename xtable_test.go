package xtable

import (
	"bytes"
	"context"
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

const personSchema = `CREATE TABLE person (ID INTEGER PRIMARY KEY, name TEXT, age INTEGER)`

func quietLogger() *slog.Logger { return slog.New(slog.DiscardHandler) }

// captureLogger logs every level as text into the returned buffer.
func captureLogger() (*slog.Logger, *bytes.Buffer) {
	var buf bytes.Buffer
	return slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug})), &buf
}

// newPeople declares a file database with the person table in a temporary
// directory.
func newPeople(t *testing.T, opts ...Option) (*Database, *Table) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "people.db")
	base := []Option{WithSetupScript(personSchema), WithLogger(quietLogger())}
	db, err := New(path, append(base, opts...)...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	people := db.AddTable("person", []string{"ID", "name", "age"}, Identity("ID"), Prototype(person{}))
	return db, people
}

func openSessionT(t *testing.T, db *Database) *Session {
	t.Helper()
	s, err := db.Open(context.Background())
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func countRows(t *testing.T, s *Session, table string) int64 {
	t.Helper()
	n, err := s.SelectScalar(context.Background(), "SELECT count(*) FROM "+table)
	require.NoError(t, err)
	return n.(int64)
}
