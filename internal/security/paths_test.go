package security

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGuardResolve(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "a.txt"), []byte("x"), 0644))

	g, err := NewGuard(root)
	require.NoError(t, err)

	t.Run("relative path inside root", func(t *testing.T) {
		resolved, err := g.Resolve("a.txt")
		require.NoError(t, err)
		assert.Equal(t, filepath.Join(g.Root(), "a.txt"), resolved)
	})

	t.Run("nested new file resolves under root", func(t *testing.T) {
		resolved, err := g.Resolve("sub/dir/new.txt")
		require.NoError(t, err)
		assert.Equal(t, filepath.Join(g.Root(), "sub", "dir", "new.txt"), resolved)
	})

	t.Run("traversal rejected", func(t *testing.T) {
		_, err := g.Resolve("../../etc/passwd")
		assert.ErrorIs(t, err, ErrPathEscape)
	})

	t.Run("dotdot hidden mid-path rejected", func(t *testing.T) {
		_, err := g.Resolve("sub/../../outside.txt")
		assert.ErrorIs(t, err, ErrPathEscape)
	})

	t.Run("absolute path outside root rejected", func(t *testing.T) {
		_, err := g.Resolve("/etc/passwd")
		assert.ErrorIs(t, err, ErrPathEscape)
	})

	t.Run("absolute path inside root allowed", func(t *testing.T) {
		resolved, err := g.Resolve(filepath.Join(g.Root(), "a.txt"))
		require.NoError(t, err)
		assert.Equal(t, filepath.Join(g.Root(), "a.txt"), resolved)
	})

	t.Run("null byte rejected", func(t *testing.T) {
		_, err := g.Resolve("a\x00.txt")
		assert.Error(t, err)
	})

	t.Run("empty path rejected", func(t *testing.T) {
		_, err := g.Resolve("")
		assert.Error(t, err)
	})
}

func TestGuardSymlinkEscape(t *testing.T) {
	root := t.TempDir()
	outside := t.TempDir()

	link := filepath.Join(root, "leak")
	if err := os.Symlink(outside, link); err != nil {
		t.Skipf("symlinks unavailable: %v", err)
	}

	g, err := NewGuard(root)
	require.NoError(t, err)

	_, err = g.Resolve("leak/secrets.txt")
	assert.ErrorIs(t, err, ErrPathEscape)
}

func TestGuardSensitivePatterns(t *testing.T) {
	root := t.TempDir()
	g, err := NewGuard(root)
	require.NoError(t, err)

	for _, target := range []string{
		".ssh/authorized_keys",
		"config/.env",
		"keys/id_rsa",
		".git/config",
		"home/.aws/credentials",
	} {
		t.Run(target, func(t *testing.T) {
			_, err := g.Resolve(target)
			assert.ErrorIs(t, err, ErrSensitivePath)
		})
	}

	t.Run("ordinary dotfile passes", func(t *testing.T) {
		_, err := g.Resolve(".gitignore")
		assert.NoError(t, err)
	})
}

func TestGuardRel(t *testing.T) {
	root := t.TempDir()
	g, err := NewGuard(root)
	require.NoError(t, err)

	assert.Equal(t, "sub/a.txt", filepath.ToSlash(g.Rel(filepath.Join(g.Root(), "sub", "a.txt"))))
}
