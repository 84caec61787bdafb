package action

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"selkie/internal/proc"
)

// gitAllowList limits git to read-mostly and low-risk subcommands. The
// model never gets push, reset, or anything history-rewriting.
var gitAllowList = map[string]bool{
	"status": true,
	"diff":   true,
	"log":    true,
	"commit": true,
	"add":    true,
}

// GitRunner executes allow-listed git subcommands in the project root.
// Commands run as argv directly, never through a shell.
type GitRunner struct {
	root    string
	timeout time.Duration
	maxOut  int
}

// NewGitRunner creates a GitRunner for root.
func NewGitRunner(root string) *GitRunner {
	return &GitRunner{
		root:    root,
		timeout: proc.DefaultTimeout,
		maxOut:  proc.MaxOutputChars,
	}
}

// SetTimeout changes the per-invocation deadline.
func (g *GitRunner) SetTimeout(d time.Duration) {
	if d > 0 {
		g.timeout = d
	}
}

// Run parses and executes one git command line, e.g. `status` or
// `commit -m "message"`. Subcommands outside the allow-list fail with
// ErrUnsupportedGit before anything executes.
func (g *GitRunner) Run(ctx context.Context, target string) (string, int, error) {
	args, err := splitArgs(target)
	if err != nil {
		return "", 0, err
	}
	if len(args) == 0 {
		return "", 0, fmt.Errorf("%w: empty git command", ErrUnsupportedGit)
	}
	if !gitAllowList[args[0]] {
		return "", 0, fmt.Errorf("%w: %q", ErrUnsupportedGit, args[0])
	}

	cctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	cmd := exec.CommandContext(cctx, "git", args...)
	cmd.Dir = g.root
	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out

	runErr := cmd.Run()
	output := out.String()
	if len(output) > g.maxOut {
		total := len(output)
		output = output[:g.maxOut] +
			fmt.Sprintf("\n... (output truncated: showing %d of %d characters)", g.maxOut, total)
	}

	if cctx.Err() != nil {
		return output, -1, fmt.Errorf("git %s: %w", args[0], cctx.Err())
	}
	if runErr != nil {
		var exitErr *exec.ExitError
		if errors.As(runErr, &exitErr) {
			return output, exitErr.ExitCode(), nil
		}
		return output, -1, runErr
	}
	return output, 0, nil
}

// splitArgs splits a command line into argv, honoring single and double
// quotes so commit messages with spaces survive.
func splitArgs(s string) ([]string, error) {
	var args []string
	var cur strings.Builder
	var quote byte
	inToken := false

	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case quote != 0:
			if c == quote {
				quote = 0
			} else {
				cur.WriteByte(c)
			}
		case c == '"' || c == '\'':
			quote = c
			inToken = true
		case c == ' ' || c == '\t':
			if inToken {
				args = append(args, cur.String())
				cur.Reset()
				inToken = false
			}
		default:
			cur.WriteByte(c)
			inToken = true
		}
	}
	if quote != 0 {
		return nil, fmt.Errorf("unbalanced quote in %q", s)
	}
	if inToken {
		args = append(args, cur.String())
	}
	return args, nil
}
