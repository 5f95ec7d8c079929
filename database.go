package xtable

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"maps"
	"slices"
	"sync"
)

// MemoryPath is the path of a private in-memory database.
const MemoryPath = ":memory:"

// Database declares the tables and setup scripts of one database and owns
// the Source sessions are opened from. Declarations are safe for concurrent
// use; the sessions it hands out are not.
//
//	db, err := xtable.New("~/data/people.db",
//	    xtable.WithSetupScript(`CREATE TABLE person (ID INTEGER PRIMARY KEY, name TEXT, age INTEGER)`),
//	)
//	person := db.AddTable("person", []string{"ID", "name", "age"},
//	    xtable.Identity("ID"), xtable.Prototype(Person{}))
//	id, err := person.Insert(ctx, "Ana", 30)
type Database struct {
	mu      sync.RWMutex
	tables  map[string]*Table
	scripts []string
	files   []string

	autoCommit    bool
	strict        bool
	expandPath    bool
	driver        string
	ph            Placeholder
	stmtCacheSize int
	log           *slog.Logger
	src           Source
	fragments     []Fragment
}

// Option configures a Database.
type Option func(*Database)

// WithSetupScript adds SQL run when the database is created.
func WithSetupScript(script string) Option {
	return func(db *Database) {
		if script != "" {
			db.scripts = append(db.scripts, script)
		}
	}
}

// WithSetupFile adds a file of SQL run when the database is created. Setup
// files run before setup scripts.
func WithSetupFile(path string) Option {
	return func(db *Database) {
		if path != "" {
			db.files = append(db.files, path)
		}
	}
}

// WithAutoCommit sets the auto-commit mode of new sessions. Default true.
func WithAutoCommit(on bool) Option {
	return func(db *Database) { db.autoCommit = on }
}

// WithExpandPath controls expansion of a leading "~" in the path. Default true.
func WithExpandPath(on bool) Option {
	return func(db *Database) { db.expandPath = on }
}

// WithStrictMode makes AddTable and AddFields warn about column names that
// cannot serve as field names.
func WithStrictMode(on bool) Option {
	return func(db *Database) { db.strict = on }
}

// WithLogger sets the logger for query failures and setup events. Default
// slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(db *Database) {
		if l != nil {
			db.log = l
		}
	}
}

// WithSource replaces the DataSource New would create for the path.
func WithSource(src Source) Option {
	return func(db *Database) { db.src = src }
}

// WithDriver sets the database/sql driver name. Default "sqlite".
func WithDriver(name string) Option {
	return func(db *Database) {
		if name != "" {
			db.driver = name
		}
	}
}

// WithPlaceholder sets the placeholder style statements are rewritten to.
func WithPlaceholder(ph Placeholder) Option {
	return func(db *Database) { db.ph = ph }
}

// WithStmtCacheSize bounds the prepared statements each session keeps.
func WithStmtCacheSize(n int) Option {
	return func(db *Database) { db.stmtCacheSize = n }
}

// WithFragments applies schema fragments in the given order after the other
// options. Their setup files and scripts follow those of the options.
func WithFragments(frags ...Fragment) Option {
	return func(db *Database) { db.fragments = append(db.fragments, frags...) }
}

// New declares a database at path. An empty path means MemoryPath. Nothing
// is opened until the first session is requested.
func New(path string, opts ...Option) (*Database, error) {
	if path == "" {
		path = MemoryPath
	}
	db := &Database{
		tables:     make(map[string]*Table),
		autoCommit: true,
		expandPath: true,
		driver:     DefaultDriver,
		log:        slog.Default(),
	}
	for _, o := range opts {
		o(db)
	}
	if db.src == nil {
		db.src = NewDataSource(path,
			SourceDriver(db.driver),
			SourceExpandPath(db.expandPath),
			SourceLogger(db.log),
		)
	}
	db.src.SetSchema(db)
	for _, f := range db.fragments {
		if err := f.Apply(db); err != nil {
			return nil, err
		}
	}
	return db, nil
}

// AddTable declares a table and registers it by name, replacing an earlier
// declaration of the same name. The returned *Table can be refined further.
func (db *Database) AddTable(name string, columns []string, opts ...TableOption) *Table {
	t := newTable(db, name, columns, db.strict, db.log)
	db.register(name, t)
	for _, o := range opts {
		o(t)
	}
	return t
}

func (db *Database) register(name string, t *Table) {
	db.mu.Lock()
	db.tables[name] = t
	db.mu.Unlock()
}

// Table returns the table registered under name or alias.
func (db *Database) Table(name string) (*Table, error) {
	db.mu.RLock()
	t, ok := db.tables[name]
	db.mu.RUnlock()
	if !ok {
		return nil, &UnknownAttributeError{Name: name}
	}
	return t, nil
}

// Tables returns the registered tables by name, aliases included.
func (db *Database) Tables() map[string]*Table {
	db.mu.RLock()
	defer db.mu.RUnlock()
	return maps.Clone(db.tables)
}

// TableNames returns the registered names in sorted order.
func (db *Database) TableNames() []string {
	db.mu.RLock()
	defer db.mu.RUnlock()
	return slices.Sorted(maps.Keys(db.tables))
}

// AddScript appends a setup script.
func (db *Database) AddScript(script string) *Database {
	db.mu.Lock()
	db.scripts = append(db.scripts, script)
	db.mu.Unlock()
	return db
}

// AddFile appends a setup file.
func (db *Database) AddFile(path string) *Database {
	db.mu.Lock()
	db.files = append(db.files, path)
	db.mu.Unlock()
	return db
}

// SetupScripts returns the setup scripts in registration order.
func (db *Database) SetupScripts() []string {
	db.mu.RLock()
	defer db.mu.RUnlock()
	return slices.Clone(db.scripts)
}

// SetupFiles returns the setup files in registration order.
func (db *Database) SetupFiles() []string {
	db.mu.RLock()
	defer db.mu.RUnlock()
	return slices.Clone(db.files)
}

// AutoCommit reports whether new sessions start in auto-commit mode.
func (db *Database) AutoCommit() bool { return db.autoCommit }

// StrictMode reports whether AddTable warns about unusable column names.
func (db *Database) StrictMode() bool { return db.strict }

func (db *Database) Logger() *slog.Logger { return db.log }

// Source returns the source sessions are opened from.
func (db *Database) Source() Source { return db.src }

// Path returns the location of the database after path expansion.
func (db *Database) Path() string { return db.src.Path() }

// Open returns a new session. The caller closes it.
func (db *Database) Open(ctx context.Context) (*Session, error) {
	return db.src.Open(ctx)
}

// Default returns the shared default session, creating it on first use.
// Close releases it.
func (db *Database) Default(ctx context.Context) (*Session, error) {
	return db.src.Default(ctx)
}

// WithSession opens a session, calls fn with it and closes it however fn
// returns, panics included. A close error is joined to fn's error.
//
//	err := db.WithSession(ctx, func(s *xtable.Session) error {
//	    person, err := s.Table("person")
//	    if err != nil {
//	        return err
//	    }
//	    _, err = person.Insert(ctx, "Ana", 30)
//	    return err
//	})
func (db *Database) WithSession(ctx context.Context, fn func(s *Session) error) (err error) {
	s, err := db.Open(ctx)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := s.Close(); cerr != nil {
			err = errors.Join(err, cerr)
		}
	}()
	return fn(s)
}

// Close releases the default session and the source.
func (db *Database) Close() error {
	return db.src.Close()
}

// Exec runs a statement on the default session.
func (db *Database) Exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	s, err := db.Default(ctx)
	if err != nil {
		return nil, err
	}
	return s.ExecContext(ctx, query, args...)
}

// ExecScript runs a script on the default session.
func (db *Database) ExecScript(ctx context.Context, script string) error {
	s, err := db.Default(ctx)
	if err != nil {
		return err
	}
	return s.ExecScript(ctx, script)
}

// ExecFile runs a script file on the default session.
func (db *Database) ExecFile(ctx context.Context, path string) error {
	s, err := db.Default(ctx)
	if err != nil {
		return err
	}
	return s.ExecFile(ctx, path)
}

// Select runs a query on the default session.
func (db *Database) Select(ctx context.Context, query string, args ...any) ([]Record, error) {
	s, err := db.Default(ctx)
	if err != nil {
		return nil, err
	}
	return s.Select(ctx, query, args...)
}

// SelectScalar runs a query on the default session and returns the first
// column of the first row.
func (db *Database) SelectScalar(ctx context.Context, query string, args ...any) (any, error) {
	s, err := db.Default(ctx)
	if err != nil {
		return nil, err
	}
	return s.SelectScalar(ctx, query, args...)
}
