package file

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFindByExt(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "nested"), 0o755))
	for _, name := range []string{"top.wav", "B.MP3", "notes.txt", "nested/deep.opus"} {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte("x"), 0o644))
	}
	exts := map[string]bool{".wav": true, ".mp3": true, ".opus": true}

	flat, err := FindByExt(dir, false, exts)
	require.NoError(t, err)
	assert.Equal(t, []string{
		filepath.Join(dir, "B.MP3"),
		filepath.Join(dir, "top.wav"),
	}, flat)

	deep, err := FindByExt(dir, true, exts)
	require.NoError(t, err)
	assert.Equal(t, []string{
		filepath.Join(dir, "B.MP3"),
		filepath.Join(dir, "nested", "deep.opus"),
		filepath.Join(dir, "top.wav"),
	}, deep)
}

func TestFindByExt_FollowsFileSymlinks(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(t.TempDir(), "real.wav")
	require.NoError(t, os.WriteFile(src, []byte("x"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "top.wav"), []byte("x"), 0o644))
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "nested"), 0o755))
	if err := os.Symlink(src, filepath.Join(dir, "linked.wav")); err != nil {
		t.Skipf("symlinks unsupported: %v", err)
	}
	require.NoError(t, os.Symlink(src, filepath.Join(dir, "nested", "deep.wav")))
	require.NoError(t, os.Symlink(filepath.Join(dir, "gone.wav"), filepath.Join(dir, "dangling.wav")))
	exts := map[string]bool{".wav": true}

	flat, err := FindByExt(dir, false, exts)
	require.NoError(t, err)
	assert.Equal(t, []string{
		filepath.Join(dir, "linked.wav"),
		filepath.Join(dir, "top.wav"),
	}, flat)

	deep, err := FindByExt(dir, true, exts)
	require.NoError(t, err)
	assert.Equal(t, []string{
		filepath.Join(dir, "linked.wav"),
		filepath.Join(dir, "nested", "deep.wav"),
		filepath.Join(dir, "top.wav"),
	}, deep)
}

func TestFindByExt_MissingDir(t *testing.T) {
	_, err := FindByExt(filepath.Join(t.TempDir(), "nope"), false, map[string]bool{".wav": true})
	assert.Error(t, err)
}

func TestWriteAtomic_ReplacesContent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sub", "record.json")

	require.NoError(t, WriteAtomic(path, []byte("first")))
	require.NoError(t, WriteAtomic(path, []byte("second")))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "second", string(data))

	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	assert.Len(t, entries, 1, "temp files must not linger")
}

func TestReplaceExt(t *testing.T) {
	assert.Equal(t, filepath.Join("a", "input.wav"), ReplaceExt(filepath.Join("a", "input.mp3"), "wav"))
	assert.Equal(t, filepath.Join("a", "input.wav"), ReplaceExt(filepath.Join("a", "input"), ".wav"))
	assert.Equal(t, "", ReplaceExt("", ".wav"))
}
