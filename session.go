package xtable

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"strconv"
)

// link is the connection shared by a session and its doubles. The
// transaction flag lives here so that a commit on one is seen by all.
type link struct {
	conn   *sql.Conn
	pool   *sql.DB // closed with the connection; nil when caller-owned
	inTx   bool
	closed bool
}

func (l *link) close() error {
	if l.closed {
		return nil
	}
	l.closed = true
	err := l.conn.Close()
	if l.pool != nil {
		err = errors.Join(err, l.pool.Close())
	}
	return err
}

// Session is a live connection to a database plus its own prepared
// statements. It is not safe for concurrent use; open one session per
// goroutine instead.
//
// Sessions start in auto-commit mode unless their Database says otherwise.
// In auto-commit mode every successful statement commits a pending
// transaction. With auto-commit off, the first INSERT, UPDATE, DELETE or
// REPLACE opens a transaction that stays open until Commit or Rollback.
type Session struct {
	link       *link
	stmts      *stmtCache
	schema     *Database
	log        *slog.Logger
	ph         Placeholder
	autoCommit bool
	bulk       bool
	origin     bool
	closed     bool
	bindings   map[string]*Binding
}

type sessionConfig struct {
	schema        *Database
	log           *slog.Logger
	ph            Placeholder
	autoCommit    bool
	stmtCacheSize int
}

// SessionOption configures a Session created by Attach or Double.
type SessionOption func(*sessionConfig)

// SessionAutoCommit sets the initial auto-commit mode.
func SessionAutoCommit(on bool) SessionOption {
	return func(c *sessionConfig) { c.autoCommit = on }
}

// SessionLogger sets the logger that receives query failures.
func SessionLogger(l *slog.Logger) SessionOption {
	return func(c *sessionConfig) {
		if l != nil {
			c.log = l
		}
	}
}

// SessionSchema sets the Database used to resolve table names.
func SessionSchema(db *Database) SessionOption {
	return func(c *sessionConfig) { c.schema = db }
}

// SessionPlaceholder sets the placeholder style statements are rewritten to.
func SessionPlaceholder(ph Placeholder) SessionOption {
	return func(c *sessionConfig) { c.ph = ph }
}

// SessionStmtCacheSize bounds the number of prepared statements kept open.
func SessionStmtCacheSize(n int) SessionOption {
	return func(c *sessionConfig) { c.stmtCacheSize = n }
}

// configFor derives session defaults from db, which may be nil.
func configFor(db *Database) sessionConfig {
	cfg := sessionConfig{log: slog.Default(), autoCommit: true}
	if db != nil {
		cfg.schema = db
		cfg.log = db.log
		cfg.ph = db.ph
		cfg.autoCommit = db.autoCommit
		cfg.stmtCacheSize = db.stmtCacheSize
	}
	return cfg
}

// openSession pins one connection of pool. When owned is set the pool is
// closed together with the session.
func openSession(ctx context.Context, pool *sql.DB, owned bool, cfg sessionConfig) (*Session, error) {
	conn, err := pool.Conn(ctx)
	if err != nil {
		if owned {
			err = errors.Join(err, pool.Close())
		}
		return nil, err
	}
	l := &link{conn: conn}
	if owned {
		l.pool = pool
	}
	return newSession(l, true, cfg), nil
}

func newSession(l *link, origin bool, cfg sessionConfig) *Session {
	return &Session{
		link:       l,
		stmts:      newStmtCache(cfg.stmtCacheSize),
		schema:     cfg.schema,
		log:        cfg.log,
		ph:         cfg.ph,
		autoCommit: cfg.autoCommit,
		origin:     origin,
		bindings:   make(map[string]*Binding),
	}
}

// Attach opens a session on one connection of a caller-owned pool. Closing
// the session returns the connection to the pool but leaves the pool open.
//
//	pool, _ := sql.Open("sqlite", "file:app.db")
//	s, err := xtable.Attach(ctx, pool, xtable.SessionSchema(db))
func Attach(ctx context.Context, pool *sql.DB, opts ...SessionOption) (*Session, error) {
	cfg := configFor(nil)
	for _, o := range opts {
		o(&cfg)
	}
	return openSession(ctx, pool, false, cfg)
}

// Double returns a second session on the same connection with its own
// statement cache. Use it to run queries while iterating the rows of
// another. Both sessions share transaction state.
//
// Closing the double releases only its statements. Closing the session
// Double was called on closes the connection for both.
func (s *Session) Double(opts ...SessionOption) (*Session, error) {
	if err := s.check(); err != nil {
		return nil, err
	}
	cfg := sessionConfig{
		schema:        s.schema,
		log:           s.log,
		ph:            s.ph,
		autoCommit:    s.autoCommit,
		stmtCacheSize: s.stmts.cache.MaxEntries,
	}
	for _, o := range opts {
		o(&cfg)
	}
	return newSession(s.link, false, cfg), nil
}

// IsOpen reports whether the session can still run statements.
func (s *Session) IsOpen() bool { return !s.closed && !s.link.closed }

// AutoCommit reports whether a successful write commits at once.
func (s *Session) AutoCommit() bool { return s.autoCommit }

// SetAutoCommit switches auto-commit. A pending transaction is left as is
// until the next statement, Commit or Close.
func (s *Session) SetAutoCommit(on bool) { s.autoCommit = on }

// InTransaction reports whether a transaction is pending on the connection.
func (s *Session) InTransaction() bool { return s.link.inTx }

// Schema returns the Database the session resolves tables against, or nil.
func (s *Session) Schema() *Database { return s.schema }

func (s *Session) check() error {
	if s.closed || s.link.closed {
		return ErrConnectionClosed
	}
	return nil
}

// Table returns the binding of the named table (or alias) to this session.
// Bindings are cached for the lifetime of the session.
func (s *Session) Table(name string) (*Binding, error) {
	if err := s.check(); err != nil {
		return nil, err
	}
	if b, ok := s.bindings[name]; ok {
		return b, nil
	}
	if s.schema == nil {
		return nil, &UnknownAttributeError{Name: name}
	}
	t, err := s.schema.Table(name)
	if err != nil {
		return nil, err
	}
	b := t.In(s)
	s.bindings[name] = b
	return b, nil
}

// Begin starts a transaction. Beginning while one is pending fails the
// way the store reports it.
func (s *Session) Begin(ctx context.Context) error {
	if err := s.check(); err != nil {
		return err
	}
	_, err := s.txExec(ctx, kindBegin, "BEGIN")
	return err
}

// Commit commits the pending transaction, if any.
func (s *Session) Commit(ctx context.Context) error {
	if err := s.check(); err != nil {
		return err
	}
	if !s.link.inTx {
		return nil
	}
	_, err := s.txExec(ctx, kindCommit, "COMMIT")
	return err
}

// Rollback discards the pending transaction. Without one it only logs.
func (s *Session) Rollback(ctx context.Context) error {
	if err := s.check(); err != nil {
		return err
	}
	if !s.link.inTx {
		s.log.Debug("rollback without active transaction")
		return nil
	}
	_, err := s.txExec(ctx, kindRollback, "ROLLBACK")
	return err
}

// Close ends the session. A pending transaction is committed in
// auto-commit mode and rolled back otherwise; a double only commits.
// Close is idempotent.
func (s *Session) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	clear(s.bindings)

	var errs []error
	if !s.link.closed && s.link.inTx {
		ctx := context.Background()
		switch {
		case s.autoCommit:
			_, err := s.txExec(ctx, kindCommit, "COMMIT")
			errs = append(errs, err)
		case s.origin:
			_, err := s.txExec(ctx, kindRollback, "ROLLBACK")
			errs = append(errs, err)
		}
	}
	errs = append(errs, s.stmts.close())
	if s.origin {
		errs = append(errs, s.link.close())
	}
	return errors.Join(errs...)
}

// BulkOptions tunes BulkMode.
type BulkOptions struct {
	CacheSize   int    // pages, or negative KiB; default 80000000
	JournalMode string // default "OFF"
}

// BulkMode switches the connection to settings meant for large imports and
// stops auto-commit from committing after each statement, so a transaction
// opened with Begin spans every statement until Commit or NormalMode.
func (s *Session) BulkMode(ctx context.Context, o BulkOptions) error {
	if o.CacheSize == 0 {
		o.CacheSize = 80000000
	}
	if o.JournalMode == "" {
		o.JournalMode = "OFF"
	}
	pragmas := []string{
		"PRAGMA cache_size=" + strconv.Itoa(o.CacheSize),
		"PRAGMA temp_store=MEMORY",
		"PRAGMA locking_mode=EXCLUSIVE",
		"PRAGMA journal_mode=" + o.JournalMode,
	}
	for _, p := range pragmas {
		if _, err := s.ExecContext(ctx, p); err != nil {
			return err
		}
	}
	s.bulk = true
	return nil
}

// NormalMode reverts BulkMode and commits what bulk mode held back.
func (s *Session) NormalMode(ctx context.Context) error {
	s.bulk = false
	if err := s.settle(ctx); err != nil {
		return err
	}
	pragmas := []string{
		"PRAGMA cache_size=2000",
		"PRAGMA locking_mode=NORMAL",
		"PRAGMA journal_mode=DELETE",
		"PRAGMA temp_store=DEFAULT",
	}
	for _, p := range pragmas {
		if _, err := s.ExecContext(ctx, p); err != nil {
			return err
		}
	}
	return nil
}

// Vacuum rebuilds the database file.
func (s *Session) Vacuum(ctx context.Context) error {
	_, err := s.ExecContext(ctx, "VACUUM")
	return err
}
