package context

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"selkie/internal/cache"
)

func newTestAssembler(t *testing.T) (*Assembler, *cache.ContentCache) {
	t.Helper()
	c := cache.New(1 << 24)
	t.Cleanup(c.Close)
	return NewAssembler(c, NewEstimator(), 4), c
}

func scanSnapshot(t *testing.T, root string) *Snapshot {
	t.Helper()
	ix := newTestIndex(t, root, 1<<20)
	require.NoError(t, ix.Scan(context.Background()))
	return ix.Snapshot()
}

func setMTime(t *testing.T, path string, when time.Time) {
	t.Helper()
	require.NoError(t, os.Chtimes(path, when, when))
}

func assembledPaths(result *AssembledContext) []string {
	paths := make([]string, 0, len(result.Files))
	for _, f := range result.Files {
		paths = append(paths, f.Path)
	}
	return paths
}

func skipReasons(result *AssembledContext) map[string]string {
	reasons := make(map[string]string, len(result.Skipped))
	for _, s := range result.Skipped {
		reasons[s.Path] = s.Reason
	}
	return reasons
}

func TestAssemblePriorityOrder(t *testing.T) {
	root := t.TempDir()
	base := time.Now().Add(-24 * time.Hour)

	old := writeFile(t, root, "old.txt", "old content here\n")
	mid := writeFile(t, root, "mid.txt", "mid content here\n")
	recent := writeFile(t, root, "recent.txt", "recent content here\n")
	userA := writeFile(t, root, "pkg/a.txt", "user file a\n")
	userZ := writeFile(t, root, "pkg/z.txt", "user file z\n")

	setMTime(t, old, base)
	setMTime(t, mid, base.Add(1*time.Hour))
	setMTime(t, recent, base.Add(2*time.Hour))
	setMTime(t, userA, base)
	setMTime(t, userZ, base)

	a, _ := newTestAssembler(t)
	snap := scanSnapshot(t, root)

	result, err := a.Assemble(context.Background(), snap, Request{
		UserPaths: []string{"pkg/z.txt", "pkg/a.txt"},
	})
	require.NoError(t, err)

	// User-referenced files first in the order given, then the rest by
	// most recent modification.
	assert.Equal(t, []string{
		"pkg/z.txt", "pkg/a.txt", "recent.txt", "mid.txt", "old.txt",
	}, assembledPaths(result))
	assert.Empty(t, result.Skipped)
}

func TestAssembleLexicalTieBreak(t *testing.T) {
	root := t.TempDir()
	when := time.Now().Add(-time.Hour).Truncate(time.Second)
	for _, name := range []string{"c.txt", "a.txt", "b.txt"} {
		setMTime(t, writeFile(t, root, name, "same instant\n"), when)
	}

	a, _ := newTestAssembler(t)
	result, err := a.Assemble(context.Background(), scanSnapshot(t, root), Request{})
	require.NoError(t, err)
	assert.Equal(t, []string{"a.txt", "b.txt", "c.txt"}, assembledPaths(result))
}

func TestAssembleTokenBudgetSkipsNotAborts(t *testing.T) {
	root := t.TempDir()
	base := time.Now().Add(-time.Hour)

	bigContent := make([]byte, 2000)
	for i := range bigContent {
		bigContent[i] = 'x'
	}
	big := writeFile(t, root, "big.txt", string(bigContent))
	small := writeFile(t, root, "small.txt", "tiny\n")
	setMTime(t, big, base.Add(time.Minute)) // big is considered first
	setMTime(t, small, base)

	est := NewEstimator()
	smallTokens := est.ForFile("small.txt", "", []byte("tiny\n"))
	bigTokens := est.ForFile("big.txt", "", bigContent)
	require.Greater(t, bigTokens, smallTokens)

	a, _ := newTestAssembler(t)
	result, err := a.Assemble(context.Background(), scanSnapshot(t, root), Request{
		TokenBudget: bigTokens - 1,
	})
	require.NoError(t, err)

	assert.Equal(t, []string{"small.txt"}, assembledPaths(result))
	assert.Equal(t, SkipOverBudget, skipReasons(result)["big.txt"])
	assert.LessOrEqual(t, result.TotalTokens, bigTokens-1)
}

func TestAssembleFileBudget(t *testing.T) {
	root := t.TempDir()
	base := time.Now().Add(-time.Hour)
	for i, name := range []string{"one.txt", "two.txt", "three.txt"} {
		setMTime(t, writeFile(t, root, name, "content\n"), base.Add(time.Duration(-i)*time.Minute))
	}

	a, _ := newTestAssembler(t)
	result, err := a.Assemble(context.Background(), scanSnapshot(t, root), Request{FileBudget: 2})
	require.NoError(t, err)
	assert.Len(t, result.Files, 2)
}

func TestAssembleUnknownUserPathRecorded(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "real.txt", "exists\n")

	a, _ := newTestAssembler(t)
	result, err := a.Assemble(context.Background(), scanSnapshot(t, root), Request{
		UserPaths: []string{"missing.txt", "real.txt"},
	})
	require.NoError(t, err)

	assert.Equal(t, SkipNotIndexed, skipReasons(result)["missing.txt"])
	assert.Contains(t, assembledPaths(result), "real.txt")
}

func TestAssembleOversizedSkipped(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "huge.txt", string(make([]byte, 200)))
	writeFile(t, root, "ok.txt", "fits\n")

	ix := newTestIndex(t, root, 100)
	require.NoError(t, ix.Scan(context.Background()))

	a, _ := newTestAssembler(t)
	result, err := a.Assemble(context.Background(), ix.Snapshot(), Request{})
	require.NoError(t, err)

	assert.Equal(t, []string{"ok.txt"}, assembledPaths(result))
	assert.Equal(t, SkipOversized, skipReasons(result)["huge.txt"])
}

func TestAssembleChangedFileSkipped(t *testing.T) {
	root := t.TempDir()
	abs := writeFile(t, root, "moving.txt", "version one\n")

	a, _ := newTestAssembler(t)
	snap := scanSnapshot(t, root)

	// Mutate after the scan so the snapshot signature is stale.
	require.NoError(t, os.WriteFile(abs, []byte("version two, longer\n"), 0o644))

	result, err := a.Assemble(context.Background(), snap, Request{})
	require.NoError(t, err)
	assert.Empty(t, result.Files)
	assert.Equal(t, SkipChanged, skipReasons(result)["moving.txt"])
}

func TestAssembleWarmCacheServesSecondPass(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "warm.txt", "cache me\n")

	a, c := newTestAssembler(t)
	snap := scanSnapshot(t, root)

	first, err := a.Assemble(context.Background(), snap, Request{})
	require.NoError(t, err)
	require.Len(t, first.Files, 1)

	second, err := a.Assemble(context.Background(), snap, Request{})
	require.NoError(t, err)
	require.Len(t, second.Files, 1)
	assert.Equal(t, first.Files[0].Content, second.Files[0].Content)
	assert.Equal(t, first.Files[0].Tokens, second.Files[0].Tokens)
	assert.Greater(t, c.Stats().Hits, uint64(0))
}

func TestAssembleCancelled(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "a.txt", "content\n")

	a, _ := newTestAssembler(t)
	snap := scanSnapshot(t, root)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := a.Assemble(ctx, snap, Request{})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestAssembleEmptySnapshot(t *testing.T) {
	a, _ := newTestAssembler(t)
	result, err := a.Assemble(context.Background(), scanSnapshot(t, t.TempDir()), Request{})
	require.NoError(t, err)
	assert.Empty(t, result.Files)
	assert.Zero(t, result.TotalTokens)
}

func TestAssembleIgnoredFilesNeverIncluded(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, ".gitignore", "secret/\n")
	writeFile(t, root, "secret/token.txt", "do not include\n")
	writeFile(t, root, "open.txt", "include me\n")

	a, _ := newTestAssembler(t)
	result, err := a.Assemble(context.Background(), scanSnapshot(t, root), Request{})
	require.NoError(t, err)

	paths := assembledPaths(result)
	assert.Contains(t, paths, "open.txt")
	assert.NotContains(t, paths, "secret/token.txt")
}
