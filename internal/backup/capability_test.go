package backup

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCapability_SelectGrants(t *testing.T) {
	c := NewDirectoryCapability()
	dir := t.TempDir()

	require.NoError(t, c.Select(dir))

	got, err := c.Check()
	require.NoError(t, err)
	assert.Equal(t, dir, got)
	assert.False(t, c.neverGranted())
}

func TestCapability_CheckBeforeSelect(t *testing.T) {
	c := NewDirectoryCapability()

	_, err := c.Check()
	assert.ErrorIs(t, err, ErrPermissionRevoked)
	assert.True(t, c.neverGranted())
}

func TestCapability_SelectMissingDir(t *testing.T) {
	c := NewDirectoryCapability()

	err := c.Select(filepath.Join(t.TempDir(), "missing"))
	assert.ErrorIs(t, err, ErrPermissionRevoked)
	assert.True(t, c.neverGranted())
}

func TestCapability_SelectFile(t *testing.T) {
	c := NewDirectoryCapability()
	file := filepath.Join(t.TempDir(), "plain.txt")
	require.NoError(t, os.WriteFile(file, []byte("x"), 0o644))

	assert.ErrorIs(t, c.Select(file), ErrPermissionRevoked)
}

func TestCapability_CheckRevokesWhenDirRemoved(t *testing.T) {
	c := NewDirectoryCapability()
	dir := filepath.Join(t.TempDir(), "backups")
	require.NoError(t, os.Mkdir(dir, 0o755))
	require.NoError(t, c.Select(dir))

	require.NoError(t, os.RemoveAll(dir))

	_, err := c.Check()
	assert.ErrorIs(t, err, ErrPermissionRevoked)

	// Recreating the directory does not restore the grant; only Select does.
	require.NoError(t, os.Mkdir(dir, 0o755))
	_, err = c.Check()
	assert.ErrorIs(t, err, ErrPermissionRevoked)

	require.NoError(t, c.Select(dir))
	_, err = c.Check()
	assert.NoError(t, err)
}

func TestCapability_Revoke(t *testing.T) {
	c := NewDirectoryCapability()
	dir := t.TempDir()
	require.NoError(t, c.Select(dir))

	c.Revoke()

	_, err := c.Check()
	assert.ErrorIs(t, err, ErrPermissionRevoked)
	assert.Equal(t, dir, c.Dir(), "the selected directory is remembered after revocation")
	assert.False(t, c.neverGranted())
}

func TestCapability_ProbeLeavesNoFiles(t *testing.T) {
	c := NewDirectoryCapability()
	dir := t.TempDir()
	require.NoError(t, c.Select(dir))
	_, err := c.Check()
	require.NoError(t, err)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}
