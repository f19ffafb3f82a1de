package fs

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocalFS(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "sub")
	lfs := LocalFS{}

	require.NoError(t, lfs.MkdirAll(dir, 0o755))

	path := filepath.Join(dir, "a.bin")
	f, err := lfs.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o644)
	require.NoError(t, err)

	_, err = f.WriteAt([]byte("world"), 6)
	require.NoError(t, err)
	_, err = f.WriteAt([]byte("hello "), 0)
	require.NoError(t, err)
	require.NoError(t, f.Sync())
	require.NoError(t, f.Close())

	data, err := ReadFile(lfs, path)
	require.NoError(t, err)
	assert.Equal(t, "hello world", string(data))

	assert.True(t, Exists(lfs, path))
	require.NoError(t, RemoveIfExists(lfs, path))
	require.NoError(t, RemoveIfExists(lfs, path))
	assert.False(t, Exists(lfs, path))
}

func TestWriteFileAtomic(t *testing.T) {
	path := filepath.Join(t.TempDir(), "words")

	require.NoError(t, WriteFileAtomic(Default, path, []byte("v1")))
	require.NoError(t, WriteFileAtomic(Default, path, []byte("v2")))

	data, err := ReadFile(Default, path)
	require.NoError(t, err)
	assert.Equal(t, "v2", string(data))
	assert.False(t, Exists(Default, path+".tmp"))
}

func TestWriteFileAtomic_FailureKeepsOldContent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "words")
	require.NoError(t, WriteFileAtomic(Default, path, []byte("stable")))

	ffs := NewFaultyFS(nil)
	ffs.AddRule(".tmp", Fault{FailAfterBytes: 2})

	err := WriteFileAtomic(ffs, path, []byte("replacement"))
	require.ErrorIs(t, err, ErrInjected)

	data, err := ReadFile(Default, path)
	require.NoError(t, err)
	assert.Equal(t, "stable", string(data))
}

func TestFaultyFS_Rules(t *testing.T) {
	dir := t.TempDir()
	ffs := NewFaultyFS(LocalFS{})
	ffs.AddRule("bad", Fault{FailAfterBytes: 4, FailOnSync: true})

	good, err := ffs.OpenFile(filepath.Join(dir, "good"), os.O_CREATE|os.O_RDWR, 0o644)
	require.NoError(t, err)
	_, err = good.Write([]byte("plenty of bytes"))
	assert.NoError(t, err)
	assert.NoError(t, good.Sync())
	require.NoError(t, good.Close())

	bad, err := ffs.OpenFile(filepath.Join(dir, "bad"), os.O_CREATE|os.O_RDWR, 0o644)
	require.NoError(t, err)
	n, err := bad.Write([]byte("1234"))
	assert.NoError(t, err)
	assert.Equal(t, 4, n)
	_, err = bad.WriteAt([]byte("5"), 4)
	assert.ErrorIs(t, err, ErrInjected)
	assert.ErrorIs(t, bad.Sync(), ErrInjected)
	require.NoError(t, bad.Close())

	ffs.ClearRules()
	assert.NoError(t, ffs.Rename(filepath.Join(dir, "bad"), filepath.Join(dir, "bad2")))
}

func TestFaultyFS_FailOnRename(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "x$")
	require.NoError(t, WriteFileAtomic(Default, src, []byte("x")))

	ffs := NewFaultyFS(nil)
	ffs.AddRule("$", Fault{FailAfterBytes: -1, FailOnRename: true})

	assert.ErrorIs(t, ffs.Rename(src, filepath.Join(dir, "x")), ErrInjected)
	assert.True(t, Exists(Default, src))
}
