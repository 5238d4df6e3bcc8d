package backup

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocalSink_WritesFile(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	c := NewDirectoryCapability()
	require.NoError(t, c.Select(dir))

	sink := NewLocalSink(c, dir, nil, nil)
	require.NoError(t, sink.Deliver(ctx, "posvault_backup_shop-1_a.json", []byte(`{"ok":true}`)))

	data, err := os.ReadFile(filepath.Join(dir, "posvault_backup_shop-1_a.json"))
	require.NoError(t, err)
	assert.JSONEq(t, `{"ok":true}`, string(data))
}

func TestLocalSink_SelectsConfiguredDirOnFirstUse(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	c := NewDirectoryCapability()

	sink := NewLocalSink(c, dir, nil, nil)
	require.NoError(t, sink.Deliver(ctx, "b.json", []byte("{}")))

	assert.Equal(t, dir, c.Dir())
	assert.FileExists(t, filepath.Join(dir, "b.json"))
}

func TestLocalSink_SwitchesToNewlyConfiguredDir(t *testing.T) {
	ctx := context.Background()
	dirA, dirB := t.TempDir(), t.TempDir()
	c := NewDirectoryCapability()
	require.NoError(t, c.Select(dirA))

	sink := NewLocalSink(c, dirB, nil, nil)
	require.NoError(t, sink.Deliver(ctx, "b.json", []byte("{}")))

	assert.Equal(t, dirB, c.Dir())
	assert.FileExists(t, filepath.Join(dirB, "b.json"))
	assert.NoFileExists(t, filepath.Join(dirA, "b.json"))
}

func TestLocalSink_UnusableNewDirDoesNotWriteOldOne(t *testing.T) {
	ctx := context.Background()
	dirA := t.TempDir()
	downloads := filepath.Join(t.TempDir(), "downloads")
	c := NewDirectoryCapability()
	require.NoError(t, c.Select(dirA))

	sink := NewLocalSink(c, filepath.Join(t.TempDir(), "missing"), DirDownloader{Dir: downloads}, nil)
	require.NoError(t, sink.Deliver(ctx, "b.json", []byte("{}")))

	assert.NoFileExists(t, filepath.Join(dirA, "b.json"))
	assert.FileExists(t, filepath.Join(downloads, "b.json"))
}

func TestLocalSink_RevokedFallsBackToDownload(t *testing.T) {
	ctx := context.Background()
	dir := filepath.Join(t.TempDir(), "backups")
	require.NoError(t, os.Mkdir(dir, 0o755))
	downloads := filepath.Join(t.TempDir(), "downloads")

	c := NewDirectoryCapability()
	require.NoError(t, c.Select(dir))
	require.NoError(t, os.RemoveAll(dir))

	sink := NewLocalSink(c, dir, DirDownloader{Dir: downloads}, nil)
	err := sink.Deliver(ctx, "b.json", []byte("{}"))
	require.NoError(t, err, "a fallback download counts as a delivery")

	assert.FileExists(t, filepath.Join(downloads, "b.json"))
	assert.NoDirExists(t, dir)
}

func TestLocalSink_RevokedWithoutFallbackFails(t *testing.T) {
	ctx := context.Background()
	c := NewDirectoryCapability()
	require.NoError(t, c.Select(t.TempDir()))
	c.Revoke()

	sink := NewLocalSink(c, "", nil, nil)
	err := sink.Deliver(ctx, "b.json", []byte("{}"))

	var se *SinkError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, "local", se.Sink)
	assert.ErrorIs(t, err, ErrSinkUnreachable)
	assert.ErrorIs(t, err, ErrPermissionRevoked)
}

func TestLocalSink_ListNewestFirst(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	c := NewDirectoryCapability()
	require.NoError(t, c.Select(dir))

	older := filepath.Join(dir, "posvault_backup_shop-1_1.json")
	newer := filepath.Join(dir, "posvault_backup_shop-1_2.json")
	require.NoError(t, os.WriteFile(older, []byte("{}"), 0o644))
	require.NoError(t, os.WriteFile(newer, []byte("{}"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("x"), 0o644))

	base := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, os.Chtimes(older, base, base))
	require.NoError(t, os.Chtimes(newer, base.Add(time.Hour), base.Add(time.Hour)))

	sink := NewLocalSink(c, dir, nil, nil)
	entries, err := sink.List(ctx)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "posvault_backup_shop-1_2.json", entries[0].Name)
	assert.Equal(t, "posvault_backup_shop-1_1.json", entries[1].Name)
	assert.Equal(t, int64(2), entries[0].Size)

	data, err := sink.Fetch(ctx, entries[1].Name)
	require.NoError(t, err)
	assert.Equal(t, "{}", string(data))
}
