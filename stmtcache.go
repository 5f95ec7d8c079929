package xtable

import (
	"context"
	"database/sql"
	"errors"

	"github.com/golang/groupcache/lru"
)

const defaultStmtCacheSize = 64

// stmtCache keeps the prepared statements of one session, keyed by query
// text. Evicted statements are closed.
type stmtCache struct {
	cache *lru.Cache
	errs  []error
}

func newStmtCache(size int) *stmtCache {
	if size <= 0 {
		size = defaultStmtCacheSize
	}
	c := &stmtCache{cache: lru.New(size)}
	c.cache.OnEvicted = func(_ lru.Key, v any) {
		if err := v.(*sql.Stmt).Close(); err != nil {
			c.errs = append(c.errs, err)
		}
	}
	return c
}

// prepare returns the cached statement for query, preparing it on conn when
// it is not cached yet.
func (c *stmtCache) prepare(ctx context.Context, conn *sql.Conn, query string) (*sql.Stmt, error) {
	if v, ok := c.cache.Get(query); ok {
		return v.(*sql.Stmt), nil
	}
	st, err := conn.PrepareContext(ctx, query)
	if err != nil {
		return nil, err
	}
	c.cache.Add(query, st)
	return st, nil
}

// forget closes and drops the statement for query, if any.
func (c *stmtCache) forget(query string) {
	c.cache.Remove(query)
}

func (c *stmtCache) len() int { return c.cache.Len() }

// close closes every cached statement and returns the close errors,
// including those of earlier evictions.
func (c *stmtCache) close() error {
	c.cache.Clear()
	err := errors.Join(c.errs...)
	c.errs = nil
	return err
}
