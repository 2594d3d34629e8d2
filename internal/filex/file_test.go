package filex

import (
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func chdir(t *testing.T, dir string) func() {
	t.Helper()
	old, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	return func() { _ = os.Chdir(old) }
}

func TestEnsureDir_CreatesDirectoryInCWD(t *testing.T) {
	tmp := t.TempDir()
	defer chdir(t, tmp)()

	got, err := EnsureDir("media")
	require.NoError(t, err)

	want, err := filepath.EvalSymlinks(tmp)
	require.NoError(t, err)
	gotReal, err := filepath.EvalSymlinks(got)
	require.NoError(t, err)
	require.Equal(t, filepath.Join(want, "media"), gotReal)

	fi, err := os.Stat(got)
	require.NoError(t, err)
	require.True(t, fi.IsDir(), "should create a directory")

	if runtime.GOOS != "windows" {
		perm := fi.Mode().Perm()
		require.Equal(t, os.FileMode(0o700), perm&0o700)
	}
}

func TestEnsureDir_Idempotent(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "a", "b")

	first, err := EnsureDir(dir)
	require.NoError(t, err)
	second, err := EnsureDir(dir)
	require.NoError(t, err)

	require.Equal(t, first, second)
}

func TestEnsureDir_FailsIfFileWithSameNameExists(t *testing.T) {
	path := filepath.Join(t.TempDir(), "media")
	require.NoError(t, os.WriteFile(path, []byte("x"), 0o660))

	_, err := EnsureDir(path)
	require.Error(t, err, "should fail when a file exists with the same name")
}

func TestCopyInto(t *testing.T) {
	src := filepath.Join(t.TempDir(), "clip.mp4")
	require.NoError(t, os.WriteFile(src, []byte("frames"), 0o600))
	dir := t.TempDir()

	a, err := CopyInto(dir, src)
	require.NoError(t, err)
	b, err := CopyInto(dir, src)
	require.NoError(t, err)

	assert.NotEqual(t, a, b, "every copy gets its own name")
	assert.Equal(t, dir, filepath.Dir(a))
	assert.Equal(t, ".mp4", filepath.Ext(a))

	data, err := os.ReadFile(a)
	require.NoError(t, err)
	assert.Equal(t, "frames", string(data))
}

func TestCopyInto_Errors(t *testing.T) {
	dir := t.TempDir()

	_, err := CopyInto(dir, filepath.Join(dir, "missing.mp4"))
	assert.ErrorIs(t, err, os.ErrNotExist)

	_, err = CopyInto(dir, t.TempDir())
	assert.Error(t, err)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries, "no partial copies left behind")
}

func TestRemoveIfExists(t *testing.T) {
	path := filepath.Join(t.TempDir(), "f")
	require.NoError(t, os.WriteFile(path, nil, 0o600))

	require.NoError(t, RemoveIfExists(path))
	require.NoError(t, RemoveIfExists(path))
	require.NoError(t, RemoveIfExists(""))

	_, err := os.Stat(path)
	assert.ErrorIs(t, err, os.ErrNotExist)
}
