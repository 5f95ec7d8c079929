package xtable

import (
	"context"
	"database/sql"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func memConn(t *testing.T) *sql.Conn {
	t.Helper()
	pool, err := sql.Open(DefaultDriver, MemoryPath)
	require.NoError(t, err)
	conn, err := pool.Conn(context.Background())
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = conn.Close()
		_ = pool.Close()
	})
	return conn
}

func TestStmtCache(t *testing.T) {
	ctx := context.Background()
	conn := memConn(t)

	c := newStmtCache(0)
	assert.Equal(t, defaultStmtCacheSize, c.cache.MaxEntries)

	a, err := c.prepare(ctx, conn, "SELECT 1")
	require.NoError(t, err)
	again, err := c.prepare(ctx, conn, "SELECT 1")
	require.NoError(t, err)
	assert.Same(t, a, again)

	_, err = c.prepare(ctx, conn, "SELECT 2")
	require.NoError(t, err)
	assert.Equal(t, 2, c.len())

	c.forget("SELECT 1")
	c.forget("SELECT 3")
	assert.Equal(t, 1, c.len())
	var n int
	assert.Error(t, a.QueryRowContext(ctx).Scan(&n), "forgotten statements are closed")

	require.NoError(t, c.close())
	assert.Equal(t, 0, c.len())
}

func TestStmtCache_Evicts(t *testing.T) {
	ctx := context.Background()
	conn := memConn(t)

	c := newStmtCache(2)
	first, err := c.prepare(ctx, conn, "SELECT 1")
	require.NoError(t, err)
	for _, q := range []string{"SELECT 2", "SELECT 3"} {
		_, err := c.prepare(ctx, conn, q)
		require.NoError(t, err)
	}
	assert.Equal(t, 2, c.len())
	_, err = first.ExecContext(ctx)
	assert.Error(t, err)
	require.NoError(t, c.close())
}
