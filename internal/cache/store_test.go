package cache_test

import (
	"archive/tar"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ulikunitz/xz"

	"workflowci/internal/cache"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func TestStoreSaveAndRestore(t *testing.T) {

	t.Run("round trip", func(t *testing.T) {
		// given
		store := cache.NewStore(t.TempDir())
		src := t.TempDir()
		writeFile(t, filepath.Join(src, "target", "debug", "deps", "libfoo.rlib"), "rlib")
		writeFile(t, filepath.Join(src, ".cargo", "registry", "index", "config.json"), "{}")

		// when
		require.NoError(t, store.Save("deps-abc", src, []string{"target", ".cargo/registry", "missing"}))
		dst := t.TempDir()
		hit, err := store.Restore("deps-abc", dst)

		// then
		require.NoError(t, err)
		assert.True(t, hit)
		assert.True(t, store.Has("deps-abc"))
		data, err := os.ReadFile(filepath.Join(dst, "target", "debug", "deps", "libfoo.rlib"))
		require.NoError(t, err)
		assert.Equal(t, "rlib", string(data))
		_, err = os.Stat(filepath.Join(dst, ".cargo", "registry", "index", "config.json"))
		assert.NoError(t, err)
	})

	t.Run("miss", func(t *testing.T) {
		store := cache.NewStore(t.TempDir())

		hit, err := store.Restore("nothing-here", t.TempDir())

		require.NoError(t, err)
		assert.False(t, hit)
		assert.False(t, store.Has("nothing-here"))
	})

	t.Run("invalid key", func(t *testing.T) {
		store := cache.NewStore(t.TempDir())

		err := store.Save("../escape", t.TempDir(), nil)

		require.ErrorIs(t, err, cache.ErrInvalidKey)
	})
}

func TestStorePrune(t *testing.T) {
	// given
	dir := t.TempDir()
	store := cache.NewStore(dir)
	src := t.TempDir()
	writeFile(t, filepath.Join(src, "target", "a"), "a")
	require.NoError(t, store.Save("old", src, []string{"target"}))
	require.NoError(t, store.Save("new", src, []string{"target"}))
	past := time.Now().Add(-48 * time.Hour)
	require.NoError(t, os.Chtimes(filepath.Join(dir, "old.tar.xz"), past, past))

	// when
	removed, err := store.Prune(24 * time.Hour)

	// then
	require.NoError(t, err)
	assert.Equal(t, 1, removed)
	assert.False(t, store.Has("old"))
	assert.True(t, store.Has("new"))
}

type entry struct {
	name, link, body string
}

// writeArchive stores a hand-built archive under key.
func writeArchive(t *testing.T, dir, key string, entries []entry) {
	t.Helper()
	f, err := os.Create(filepath.Join(dir, key+".tar.xz"))
	require.NoError(t, err)
	defer f.Close()
	xw, err := xz.NewWriter(f)
	require.NoError(t, err)
	tw := tar.NewWriter(xw)
	for _, e := range entries {
		hdr := &tar.Header{Name: e.name, Mode: 0o644, Typeflag: tar.TypeReg, Size: int64(len(e.body))}
		if e.link != "" {
			hdr = &tar.Header{Name: e.name, Mode: 0o777, Typeflag: tar.TypeSymlink, Linkname: e.link}
		}
		require.NoError(t, tw.WriteHeader(hdr))
		if e.link == "" {
			_, err := tw.Write([]byte(e.body))
			require.NoError(t, err)
		}
	}
	require.NoError(t, tw.Close())
	require.NoError(t, xw.Close())
}

func TestRestoreRefusesEscapes(t *testing.T) {

	t.Run("symlink to absolute path outside root", func(t *testing.T) {
		// given
		dir := t.TempDir()
		outside := t.TempDir()
		writeArchive(t, dir, "evil", []entry{
			{name: "target", link: outside},
			{name: "target/pwned", body: "x"},
		})

		// when
		_, err := cache.NewStore(dir).Restore("evil", t.TempDir())

		// then
		require.ErrorIs(t, err, cache.ErrUnsafePath)
		_, statErr := os.Stat(filepath.Join(outside, "pwned"))
		assert.True(t, os.IsNotExist(statErr))
	})

	t.Run("relative symlink climbing out", func(t *testing.T) {
		dir := t.TempDir()
		writeArchive(t, dir, "evil", []entry{{name: "target", link: "../../etc"}})

		_, err := cache.NewStore(dir).Restore("evil", t.TempDir())

		require.ErrorIs(t, err, cache.ErrUnsafePath)
	})

	t.Run("dot-dot entry name", func(t *testing.T) {
		dir := t.TempDir()
		writeArchive(t, dir, "evil", []entry{{name: "../pwned", body: "x"}})

		_, err := cache.NewStore(dir).Restore("evil", t.TempDir())

		require.ErrorIs(t, err, cache.ErrUnsafePath)
	})

	t.Run("symlink already in root pointing outside", func(t *testing.T) {
		dir := t.TempDir()
		root := t.TempDir()
		outside := t.TempDir()
		require.NoError(t, os.Symlink(outside, filepath.Join(root, "target")))
		writeArchive(t, dir, "evil", []entry{{name: "target/pwned", body: "x"}})

		_, err := cache.NewStore(dir).Restore("evil", root)

		require.ErrorIs(t, err, cache.ErrUnsafePath)
		_, statErr := os.Stat(filepath.Join(outside, "pwned"))
		assert.True(t, os.IsNotExist(statErr))
	})

	t.Run("symlink inside root is kept", func(t *testing.T) {
		dir := t.TempDir()
		root := t.TempDir()
		writeArchive(t, dir, "ok", []entry{
			{name: "target/debug/real", body: "bin"},
			{name: "target/debug/alias", link: "real"},
		})

		hit, err := cache.NewStore(dir).Restore("ok", root)

		require.NoError(t, err)
		assert.True(t, hit)
		data, err := os.ReadFile(filepath.Join(root, "target", "debug", "alias"))
		require.NoError(t, err)
		assert.Equal(t, "bin", string(data))
	})
}
