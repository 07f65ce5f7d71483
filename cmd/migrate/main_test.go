package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNextVersion(t *testing.T) {
	dir := t.TempDir()

	v, err := nextVersion(dir)
	require.NoError(t, err)
	assert.Equal(t, 1, v)

	for _, name := range []string{"000001_create_runs.up.sql", "000001_create_runs.down.sql", "000003_add_index.up.sql", "README.md"} {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), nil, 0o644))
	}
	v, err = nextVersion(dir)
	require.NoError(t, err)
	assert.Equal(t, 4, v)
}

func TestCreateCommand(t *testing.T) {
	migrationsDir = t.TempDir()
	t.Cleanup(func() { migrationsDir = "migrations" })

	require.NoError(t, runCreate(createCmd, []string{"add account index"}))

	_, err := os.Stat(filepath.Join(migrationsDir, "000001_add_account_index.up.sql"))
	assert.NoError(t, err)
	_, err = os.Stat(filepath.Join(migrationsDir, "000001_add_account_index.down.sql"))
	assert.NoError(t, err)
}
