package main

import (
	"bytes"
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jingkaihe/skillkit/pkg/plugins"
)

func TestDBStatusAndRollback(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "skillkit.db")

	store, err := plugins.OpenRecordStore(ctx, path)
	require.NoError(t, err)
	require.NoError(t, store.Close())

	var out bytes.Buffer
	require.NoError(t, printDBStatus(ctx, &out, path))
	assert.Contains(t, out.String(), "[x] 20261019120000 - Create plugin_installs table")
	assert.Contains(t, out.String(), "Applied: 1/1 migrations")

	rolled, err := rollbackDB(ctx, path)
	require.NoError(t, err)
	require.NotNil(t, rolled)
	assert.Equal(t, int64(20261019120000), rolled.Version)

	out.Reset()
	require.NoError(t, printDBStatus(ctx, &out, path))
	assert.Contains(t, out.String(), "[ ] 20261019120000")
	assert.Contains(t, out.String(), "Applied: 0/1 migrations")

	rolled, err = rollbackDB(ctx, path)
	require.NoError(t, err)
	assert.Nil(t, rolled)

	// The record store migrates the database again.
	store, err = plugins.OpenRecordStore(ctx, path)
	require.NoError(t, err)
	require.NoError(t, store.Close())
}

func TestDBPath(t *testing.T) {
	v := newTestViper(t)
	v.Set("db_path", "/tmp/custom.db")
	path, err := dbPath(v)
	require.NoError(t, err)
	assert.Equal(t, "/tmp/custom.db", path)

	t.Setenv("SKILLKIT_BASE_PATH", "/base")
	v.Set("db_path", "")
	path, err = dbPath(v)
	require.NoError(t, err)
	assert.Equal(t, "/base/skillkit.db", path)
}
