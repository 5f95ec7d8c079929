package xtable

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	_ "modernc.org/sqlite"
)

// DefaultDriver is the database/sql driver sources open by default.
const DefaultDriver = "sqlite"

// sharedSession holds the lazily created default session of a source. It
// is created at most once and closed at most once.
type sharedSession struct {
	mu     sync.Mutex
	s      *Session
	closed bool
}

func (d *sharedSession) get(ctx context.Context, open func(context.Context) (*Session, error)) (*Session, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return nil, ErrConnectionClosed
	}
	if d.s == nil {
		s, err := open(ctx)
		if err != nil {
			return nil, err
		}
		d.s = s
	}
	return d.s, nil
}

// close marks the holder closed and closes the session, if one was made.
func (d *sharedSession) close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return nil
	}
	d.closed = true
	if d.s == nil {
		return nil
	}
	return d.s.Close()
}

// DataSource opens sessions on a database file. Every session gets its own
// connection.
//
// A session opened on a database that does not exist yet, or exists but is
// empty, first runs the setup files and then the setup scripts of the schema
// Database, in registration order. A MemoryPath database is always new.
type DataSource struct {
	path   string
	driver string
	expand bool
	log    *slog.Logger
	logSet bool

	mu      sync.Mutex
	schema  *Database
	scripts map[string]string // setup file contents by path

	def sharedSession
}

// SourceOption configures a DataSource or MemorySource.
type SourceOption func(*DataSource)

// SourceDriver sets the database/sql driver name. Default DefaultDriver.
func SourceDriver(name string) SourceOption {
	return func(d *DataSource) {
		if name != "" {
			d.driver = name
		}
	}
}

// SourceExpandPath controls expansion of a leading "~". Default true.
func SourceExpandPath(on bool) SourceOption {
	return func(d *DataSource) { d.expand = on }
}

// SourceLogger sets the logger for setup events.
func SourceLogger(l *slog.Logger) SourceOption {
	return func(d *DataSource) {
		if l != nil {
			d.log, d.logSet = l, true
		}
	}
}

// NewDataSource returns a source for the database at path.
func NewDataSource(path string, opts ...SourceOption) *DataSource {
	d := &DataSource{
		driver:  DefaultDriver,
		expand:  true,
		log:     slog.Default(),
		scripts: make(map[string]string),
	}
	for _, o := range opts {
		o(d)
	}
	if path == "" {
		path = MemoryPath
	}
	if d.expand {
		path = expandHome(path)
	}
	d.path = path
	return d
}

// expandHome replaces a leading "~" with the home directory. Paths it cannot
// expand are returned unchanged.
func expandHome(path string) string {
	if path != "~" && !strings.HasPrefix(path, "~/") && !strings.HasPrefix(path, `~\`) {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, path[1:])
}

// Path returns the database path after home expansion.
func (d *DataSource) Path() string { return d.path }

// SetSchema attaches db. Without SourceLogger the source logs to db's
// logger.
func (d *DataSource) SetSchema(db *Database) {
	d.mu.Lock()
	d.schema = db
	if db != nil && !d.logSet {
		d.log = db.log
	}
	d.mu.Unlock()
}

func (d *DataSource) getSchema() *Database {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.schema
}

// Open returns a new session, setting the database up first when it is new.
func (d *DataSource) Open(ctx context.Context) (*Session, error) {
	setup, err := needsSetup(d.path)
	if err != nil {
		return nil, err
	}
	pool, err := sql.Open(d.driver, d.path)
	if err != nil {
		return nil, err
	}
	pool.SetMaxOpenConns(1)
	schema := d.getSchema()
	s, err := openSession(ctx, pool, true, configFor(schema))
	if err != nil {
		return nil, err
	}
	if setup {
		if err := d.setup(ctx, s, schema); err != nil {
			return nil, joinClose(err, s)
		}
	}
	return s, nil
}

// Default returns the session shared by callers without their own.
func (d *DataSource) Default(ctx context.Context) (*Session, error) {
	return d.def.get(ctx, d.Open)
}

// Close releases the default session. Sessions returned by Open stay open.
func (d *DataSource) Close() error {
	return d.def.close()
}

// setup runs the setup files, then the setup scripts, of schema on s. A
// failure leaves whatever ran before it in place.
func (d *DataSource) setup(ctx context.Context, s *Session, schema *Database) error {
	d.log.Warn("setup required", "path", d.path)
	if schema == nil {
		return nil
	}
	for _, f := range schema.SetupFiles() {
		d.log.Debug("executing setup file", "file", f)
		text, err := d.readScript(f)
		if err != nil {
			return err
		}
		if err := s.ExecScript(ctx, text); err != nil {
			return err
		}
	}
	for _, script := range schema.SetupScripts() {
		if err := s.ExecScript(ctx, script); err != nil {
			return err
		}
	}
	return nil
}

// readScript returns the contents of a setup file, reading it once.
func (d *DataSource) readScript(path string) (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if text, ok := d.scripts[path]; ok {
		return text, nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("xtable: read setup file: %w", err)
	}
	d.scripts[path] = string(b)
	return string(b), nil
}

// needsSetup reports whether path names a database that is in memory,
// missing or empty.
func needsSetup(path string) (bool, error) {
	if isMemoryPath(path) {
		return true, nil
	}
	fi, err := os.Stat(fileOf(path))
	switch {
	case os.IsNotExist(err):
		return true, nil
	case err != nil:
		return false, err
	}
	return fi.Size() == 0, nil
}

func isMemoryPath(path string) bool {
	return path == "" || path == MemoryPath ||
		strings.HasPrefix(path, "file::memory:") ||
		(strings.HasPrefix(path, "file:") && strings.Contains(path, "mode=memory"))
}

// fileOf strips the "file:" scheme and query of a URI filename.
func fileOf(path string) string {
	if !strings.HasPrefix(path, "file:") {
		return path
	}
	path = strings.TrimPrefix(path, "file:")
	if i := strings.IndexByte(path, '?'); i >= 0 {
		path = path[:i]
	}
	return path
}

func joinClose(err error, s *Session) error {
	return errors.Join(err, s.Close())
}
