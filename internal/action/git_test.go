package action

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"selkie/internal/proc"
	"selkie/internal/security"
)

// newGitRepo prepares an initialized repository and an executor rooted in
// it. Global git config is shut out so host settings cannot leak in.
func newGitRepo(t *testing.T) (*Executor, *security.Guard) {
	t.Helper()
	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git not installed")
	}

	guard, err := security.NewGuard(t.TempDir())
	require.NoError(t, err)
	t.Setenv("HOME", guard.Root())
	t.Setenv("GIT_CONFIG_NOSYSTEM", "1")

	for _, args := range [][]string{
		{"init", "-q"},
		{"config", "user.email", "dev@example.com"},
		{"config", "user.name", "Dev"},
	} {
		cmd := exec.Command("git", args...)
		cmd.Dir = guard.Root()
		out, err := cmd.CombinedOutput()
		require.NoError(t, err, "git %v: %s", args, out)
	}

	ex := NewExecutor(guard, proc.NewRunner(nil))
	ex.BeginTurn()
	return ex, guard
}

func TestGitStatusRuns(t *testing.T) {
	ex, _ := newGitRepo(t)

	res := ex.Execute(context.Background(), Block{Kind: KindGit, Target: "status"})

	require.True(t, res.OK, res.Output)
	assert.Equal(t, 0, res.ExitCode)
	assert.NotEmpty(t, res.Output)
}

func TestGitAddCommitLogFlow(t *testing.T) {
	ex, _ := newGitRepo(t)
	ctx := context.Background()

	write := ex.Execute(ctx, Block{Kind: KindFileWrite, Target: "hello.txt", Body: "hello\n"})
	require.True(t, write.OK, write.Output)

	add := ex.Execute(ctx, Block{Kind: KindGit, Target: "add ."})
	require.True(t, add.OK, add.Output)

	commit := ex.Execute(ctx, Block{Kind: KindGit, Target: `commit -m "add hello"`})
	require.True(t, commit.OK, commit.Output)

	log := ex.Execute(ctx, Block{Kind: KindGit, Target: "log --oneline"})
	require.True(t, log.OK, log.Output)
	assert.Contains(t, log.Output, "add hello")
}

func TestGitDiffShowsChanges(t *testing.T) {
	ex, guard := newGitRepo(t)
	ctx := context.Background()

	require.True(t, ex.Execute(ctx, Block{Kind: KindFileWrite, Target: "a.txt", Body: "hello\n"}).OK)
	require.True(t, ex.Execute(ctx, Block{Kind: KindGit, Target: "add ."}).OK)
	require.True(t, ex.Execute(ctx, Block{Kind: KindGit, Target: `commit -m "initial"`}).OK)

	require.NoError(t, os.WriteFile(filepath.Join(guard.Root(), "a.txt"), []byte("changed\n"), 0o644))

	diff := ex.Execute(ctx, Block{Kind: KindGit, Target: "diff"})
	require.True(t, diff.OK, diff.Output)
	assert.Contains(t, diff.Output, "changed")
}

func TestGitFailedSubcommandIsResultNotError(t *testing.T) {
	ex, _ := newGitRepo(t)

	// log in a repo without commits exits non-zero but is still a result.
	res := ex.Execute(context.Background(), Block{Kind: KindGit, Target: "log"})

	assert.False(t, res.OK)
	assert.NotEqual(t, 0, res.ExitCode)
	assert.Empty(t, res.ErrorKind)
}

func TestGitSubcommandsOutsideAllowListRejected(t *testing.T) {
	ex, _ := newGitRepo(t)
	ctx := context.Background()

	for _, target := range []string{"push origin main", "reset --hard HEAD~1", "checkout -b evil", "rebase main"} {
		res := ex.Execute(ctx, Block{Kind: KindGit, Target: target})
		assert.False(t, res.OK, target)
		assert.Equal(t, ErrorKindUnsupported, res.ErrorKind, target)
	}
}

func TestGitRunnerRejectsEmptyAndMalformed(t *testing.T) {
	g := NewGitRunner(t.TempDir())
	ctx := context.Background()

	_, _, err := g.Run(ctx, "")
	assert.ErrorIs(t, err, ErrUnsupportedGit)

	_, _, err = g.Run(ctx, `commit -m "unclosed`)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unbalanced quote")
}

func TestSplitArgs(t *testing.T) {
	cases := []struct {
		in   string
		want []string
	}{
		{"status", []string{"status"}},
		{"log --oneline -5", []string{"log", "--oneline", "-5"}},
		{`commit -m "two words"`, []string{"commit", "-m", "two words"}},
		{`log --author='A B'`, []string{"log", "--author=A B"}},
		{`commit -m ""`, []string{"commit", "-m", ""}},
		{"  add   .  ", []string{"add", "."}},
	}
	for _, tc := range cases {
		got, err := splitArgs(tc.in)
		require.NoError(t, err, tc.in)
		assert.Equal(t, tc.want, got, tc.in)
	}
}
