package context

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"selkie/internal/ignore"
)

func newTestIndex(t *testing.T, root string, maxFileSize int64) *Index {
	t.Helper()
	rules := ignore.New(root)
	require.NoError(t, rules.Load())
	return NewIndex(root, rules, maxFileSize)
}

func writeFile(t *testing.T, root, rel, content string) string {
	t.Helper()
	abs := filepath.Join(root, filepath.FromSlash(rel))
	require.NoError(t, os.MkdirAll(filepath.Dir(abs), 0o755))
	require.NoError(t, os.WriteFile(abs, []byte(content), 0o644))
	return abs
}

func TestScanDeterministic(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "main.go", "package main\n")
	writeFile(t, root, "internal/util.go", "package internal\n")
	writeFile(t, root, "README.md", "# demo\n")

	ix := newTestIndex(t, root, 0)
	require.NoError(t, ix.Scan(context.Background()))
	first := ix.Snapshot()

	require.NoError(t, ix.Scan(context.Background()))
	second := ix.Snapshot()

	require.Len(t, first.Entries, 3)
	require.Len(t, second.Entries, len(first.Entries))
	for i := range first.Entries {
		assert.Equal(t, first.Entries[i].Path, second.Entries[i].Path)
		assert.Equal(t, first.Entries[i].Signature, second.Entries[i].Signature)
	}

	// Lexical order by relative path.
	assert.Equal(t, "README.md", first.Entries[0].Path)
	assert.Equal(t, "internal/util.go", first.Entries[1].Path)
	assert.Equal(t, "main.go", first.Entries[2].Path)
}

func TestScanAppliesIgnoreRules(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, ".gitignore", "*.log\n")
	writeFile(t, root, "app.go", "package app\n")
	writeFile(t, root, "debug.log", "noise\n")
	writeFile(t, root, "node_modules/pkg/index.js", "module.exports = {}\n")
	writeFile(t, root, ".git/config", "[core]\n")

	ix := newTestIndex(t, root, 0)
	require.NoError(t, ix.Scan(context.Background()))

	paths := make([]string, 0)
	for _, e := range ix.Snapshot().Entries {
		paths = append(paths, e.Path)
	}
	assert.Contains(t, paths, "app.go")
	assert.Contains(t, paths, ".gitignore")
	assert.NotContains(t, paths, "debug.log")
	assert.NotContains(t, paths, "node_modules/pkg/index.js")
	assert.NotContains(t, paths, ".git/config")
}

func TestSignatureTracksContentNotTimestamp(t *testing.T) {
	root := t.TempDir()
	abs := writeFile(t, root, "stable.txt", "same content\n")

	ix := newTestIndex(t, root, 0)
	require.NoError(t, ix.Scan(context.Background()))
	before, ok := ix.Lookup("stable.txt")
	require.True(t, ok)
	require.NotEmpty(t, before.Signature)

	// Rewrite identical bytes so only the timestamp moves.
	require.NoError(t, os.WriteFile(abs, []byte("same content\n"), 0o644))
	require.NoError(t, ix.Scan(context.Background()))
	after, ok := ix.Lookup("stable.txt")
	require.True(t, ok)
	assert.Equal(t, before.Signature, after.Signature)

	require.NoError(t, os.WriteFile(abs, []byte("changed content\n"), 0o644))
	require.NoError(t, ix.Scan(context.Background()))
	changed, ok := ix.Lookup("stable.txt")
	require.True(t, ok)
	assert.NotEqual(t, before.Signature, changed.Signature)
}

func TestOversizedFilesFlaggedNotHashed(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "small.txt", "ok")
	writeFile(t, root, "big.txt", "this one exceeds the limit")

	ix := newTestIndex(t, root, 10)
	require.NoError(t, ix.Scan(context.Background()))

	small, ok := ix.Lookup("small.txt")
	require.True(t, ok)
	assert.False(t, small.Oversized)
	assert.NotEmpty(t, small.Signature)

	big, ok := ix.Lookup("big.txt")
	require.True(t, ok)
	assert.True(t, big.Oversized)
	assert.Empty(t, big.Signature)
}

func TestScanUnreadableRootFails(t *testing.T) {
	ix := newTestIndex(t, t.TempDir(), 0)
	ix.root = filepath.Join(ix.root, "does-not-exist")
	assert.Error(t, ix.Scan(context.Background()))
}

func TestRefreshPath(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "a.txt", "alpha\n")

	ix := newTestIndex(t, root, 0)
	require.NoError(t, ix.Scan(context.Background()))
	require.Equal(t, 1, ix.Len())

	t.Run("new file appears", func(t *testing.T) {
		writeFile(t, root, "b.txt", "beta\n")
		require.NoError(t, ix.RefreshPath("b.txt"))

		entry, ok := ix.Lookup("b.txt")
		require.True(t, ok)
		assert.NotEmpty(t, entry.Signature)

		snap := ix.Snapshot()
		require.Len(t, snap.Entries, 2)
		assert.Equal(t, "a.txt", snap.Entries[0].Path)
		assert.Equal(t, "b.txt", snap.Entries[1].Path)
	})

	t.Run("changed file rehashed", func(t *testing.T) {
		before, ok := ix.Lookup("a.txt")
		require.True(t, ok)

		writeFile(t, root, "a.txt", "alpha v2\n")
		require.NoError(t, ix.RefreshPath("a.txt"))

		after, ok := ix.Lookup("a.txt")
		require.True(t, ok)
		assert.NotEqual(t, before.Signature, after.Signature)
	})

	t.Run("deleted file drops out", func(t *testing.T) {
		require.NoError(t, os.Remove(filepath.Join(root, "b.txt")))
		require.NoError(t, ix.RefreshPath("b.txt"))

		_, ok := ix.Lookup("b.txt")
		assert.False(t, ok)
	})

	t.Run("snapshot taken before refresh is unchanged", func(t *testing.T) {
		snap := ix.Snapshot()
		count := len(snap.Entries)

		writeFile(t, root, "c.txt", "gamma\n")
		require.NoError(t, ix.RefreshPath("c.txt"))

		assert.Len(t, snap.Entries, count)
	})
}

func TestSignatureOf(t *testing.T) {
	sig := SignatureOf([]byte("hello"))
	assert.Len(t, sig, 64)
	assert.Equal(t, sig, SignatureOf([]byte("hello")))
	assert.NotEqual(t, sig, SignatureOf([]byte("hello!")))
}
