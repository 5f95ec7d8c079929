package xtable

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"
)

// MemorySource serves a database file from memory. On the first Open the
// file's schema and rows are copied into a private in-memory database; every
// session of the source then works on that copy, and nothing is written back
// to the file.
//
// The sessions share one connection and so one transaction, like doubles of
// a session: a write made through one is visible to the others at once, and
// none of them waits on another's lock. A session's Close commits a pending
// transaction in auto-commit mode and otherwise leaves it open; Close on the
// source rolls back whatever is still pending.
//
// When the file is missing or empty the copy starts empty and the schema's
// setup runs on the first session instead.
type MemorySource struct {
	file *DataSource

	mu     sync.Mutex
	uri    string
	link   *link
	closed bool

	def sharedSession
}

// NewMemorySource returns a source that loads the database at path into
// memory.
func NewMemorySource(path string, opts ...SourceOption) *MemorySource {
	return &MemorySource{file: NewDataSource(path, opts...)}
}

// Path returns the path of the database file.
func (m *MemorySource) Path() string { return m.file.Path() }

// URI returns the name of the in-memory copy, empty before the first Open.
func (m *MemorySource) URI() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.uri
}

// SetSchema sets the Database whose setup and settings new sessions use.
func (m *MemorySource) SetSchema(db *Database) { m.file.SetSchema(db) }

// Open returns a new session on the in-memory copy.
func (m *MemorySource) Open(ctx context.Context) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, ErrConnectionClosed
	}
	setup := false
	if m.link == nil {
		var err error
		if setup, err = m.load(ctx); err != nil {
			return nil, err
		}
	}

	schema := m.file.getSchema()
	s := newSession(m.link, false, configFor(schema))
	if setup {
		if err := m.file.setup(ctx, s, schema); err != nil {
			err = joinClose(err, s)
			err = errors.Join(err, m.link.close())
			m.link, m.uri = nil, ""
			return nil, err
		}
	}
	return s, nil
}

// Default returns the session shared by callers without their own.
func (m *MemorySource) Default(ctx context.Context) (*Session, error) {
	return m.def.get(ctx, m.Open)
}

// Close releases the default session, rolls back a pending transaction and
// drops the in-memory copy. Sessions still open report ErrConnectionClosed.
func (m *MemorySource) Close() error {
	err := m.def.close()
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return err
	}
	m.closed = true
	if m.link == nil {
		return err
	}
	if m.link.inTx && !m.link.closed {
		_, rerr := m.link.conn.ExecContext(context.Background(), "ROLLBACK")
		m.link.inTx = false
		err = errors.Join(err, rerr)
	}
	return errors.Join(err, m.link.close())
}

// load creates the in-memory database and copies the file into it. It
// reports whether the file was missing or empty, in which case nothing is
// copied.
func (m *MemorySource) load(ctx context.Context) (bool, error) {
	setup, err := needsSetup(m.file.path)
	if err != nil {
		return false, err
	}
	uri := "file:mem-" + uuid.NewString() + "?mode=memory"
	pool, err := sql.Open(m.file.driver, uri)
	if err != nil {
		return false, err
	}
	pool.SetMaxOpenConns(1)
	conn, err := pool.Conn(ctx)
	if err != nil {
		return false, errors.Join(err, pool.Close())
	}
	if !setup {
		m.file.log.Info("loading database into memory", "path", m.file.path, "uri", uri)
		if err := copyDatabase(ctx, conn, m.file.path); err != nil {
			return false, errors.Join(err, conn.Close(), pool.Close())
		}
	}
	m.uri, m.link = uri, &link{conn: conn, pool: pool}
	return setup, nil
}

type schemaObject struct {
	kind, name, sql string
}

// copyDatabase copies the tables, rows, indexes, views and triggers of the
// database file at path into the main database of conn.
func copyDatabase(ctx context.Context, conn *sql.Conn, path string) (err error) {
	if _, err := conn.ExecContext(ctx, "ATTACH DATABASE ? AS src", path); err != nil {
		return fmt.Errorf("xtable: attach %s: %w", path, err)
	}
	defer func() {
		if _, derr := conn.ExecContext(context.Background(), "DETACH DATABASE src"); derr != nil && err == nil {
			err = derr
		}
	}()

	objs, err := sourceObjects(ctx, conn)
	if err != nil {
		return err
	}

	if _, err := conn.ExecContext(ctx, "BEGIN"); err != nil {
		return err
	}
	if err := copyObjects(ctx, conn, objs); err != nil {
		_, rerr := conn.ExecContext(context.Background(), "ROLLBACK")
		return errors.Join(err, rerr)
	}
	_, err = conn.ExecContext(ctx, "COMMIT")
	return err
}

// sourceObjects lists the schema objects of src, tables first.
func sourceObjects(ctx context.Context, conn *sql.Conn) ([]schemaObject, error) {
	rows, err := conn.QueryContext(ctx, `SELECT type, name, sql FROM src.sqlite_master
		WHERE sql IS NOT NULL AND name NOT LIKE 'sqlite_%'
		ORDER BY CASE type WHEN 'table' THEN 0 WHEN 'index' THEN 1 WHEN 'view' THEN 2 ELSE 3 END, rowid`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var objs []schemaObject
	for rows.Next() {
		var o schemaObject
		if err := rows.Scan(&o.kind, &o.name, &o.sql); err != nil {
			return nil, err
		}
		objs = append(objs, o)
	}
	return objs, rows.Err()
}

func copyObjects(ctx context.Context, conn *sql.Conn, objs []schemaObject) error {
	for _, o := range objs {
		if o.kind != "table" {
			continue
		}
		if _, err := conn.ExecContext(ctx, o.sql); err != nil {
			return fmt.Errorf("xtable: copy table %s: %w", o.name, err)
		}
		if strings.HasPrefix(strings.ToUpper(strings.TrimSpace(o.sql)), "CREATE VIRTUAL") {
			continue
		}
		q := fmt.Sprintf(`INSERT INTO main.%s SELECT * FROM src.%s`, quoteIdent(o.name), quoteIdent(o.name))
		if _, err := conn.ExecContext(ctx, q); err != nil {
			return fmt.Errorf("xtable: copy rows of %s: %w", o.name, err)
		}
	}

	var seq int
	if err := conn.QueryRowContext(ctx,
		`SELECT count(*) FROM src.sqlite_master WHERE name = 'sqlite_sequence'`).Scan(&seq); err != nil {
		return err
	}
	if seq > 0 {
		if _, err := conn.ExecContext(ctx, `DELETE FROM main.sqlite_sequence`); err != nil {
			return err
		}
		if _, err := conn.ExecContext(ctx,
			`INSERT INTO main.sqlite_sequence (name, seq) SELECT name, seq FROM src.sqlite_sequence`); err != nil {
			return err
		}
	}

	for _, o := range objs {
		if o.kind == "table" {
			continue
		}
		if _, err := conn.ExecContext(ctx, o.sql); err != nil {
			return fmt.Errorf("xtable: copy %s %s: %w", o.kind, o.name, err)
		}
	}
	return nil
}

func quoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}
