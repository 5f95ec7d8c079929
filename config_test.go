package xtable

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "people.db")
	cfg, err := LoadConfig(strings.NewReader(fmt.Sprintf(`
path: %q
auto_commit: false
strict_mode: true
stmt_cache_size: 8
setup_scripts:
  - %s
fragments:
  - name: people
    tables:
      - name: person
        columns: [ID, name, age]
        identity: [ID]
`, path, personSchema)))
	require.NoError(t, err)
	require.NotNil(t, cfg.AutoCommit)
	assert.False(t, *cfg.AutoCommit)
	assert.Nil(t, cfg.ExpandPath)
	assert.Equal(t, 8, cfg.StmtCacheSize)

	db, err := NewFromConfig(cfg, WithLogger(quietLogger()))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	assert.Equal(t, path, db.Path())
	assert.False(t, db.AutoCommit())
	assert.True(t, db.StrictMode())
	assert.Equal(t, []string{personSchema}, db.SetupScripts())

	person, err := db.Table("person")
	require.NoError(t, err)
	assert.Equal(t, []string{"ID"}, person.Identity())

	s := openSessionT(t, db)
	assert.False(t, s.AutoCommit())
	_, err = person.In(s).Insert(context.Background(), "Ana", 30)
	require.NoError(t, err)
	assert.True(t, s.InTransaction())
}

func TestLoadConfig_Errors(t *testing.T) {
	cfg, err := LoadConfig(strings.NewReader(""))
	require.NoError(t, err)
	assert.Equal(t, Config{}, cfg)
	assert.Empty(t, cfg.Options())

	_, err = LoadConfig(strings.NewReader("path: a.db\ncache: 3\n"))
	assert.Error(t, err)

	_, err = LoadConfigFile(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestLoadConfigFile_Memory(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "xtable.yaml")
	require.NoError(t, os.WriteFile(file, []byte(fmt.Sprintf("path: %q\nmemory: true\nexpand_path: false\n",
		filepath.Join(dir, "people.db"))), 0o600))

	cfg, err := LoadConfigFile(file)
	require.NoError(t, err)
	db, err := NewFromConfig(cfg, WithSetupScript(personSchema), WithLogger(quietLogger()))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	require.IsType(t, &MemorySource{}, db.Source())
	assert.Equal(t, int64(0), countRows(t, openSessionT(t, db), "person"))
	_, err = os.Stat(filepath.Join(dir, "people.db"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}
