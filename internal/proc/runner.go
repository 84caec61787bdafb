package proc

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"syscall"
	"time"

	"selkie/internal/logging"
	"selkie/internal/security"
)

const (
	// DefaultTimeout bounds a command that did not ask for its own limit.
	DefaultTimeout = 30 * time.Second
	// MaxOutputChars caps combined stdout and stderr kept from one command.
	MaxOutputChars = 30000

	killGrace = 5 * time.Second
)

// ErrTimeout reports a command that exceeded its deadline and was killed.
var ErrTimeout = errors.New("command timed out")

// SafeEnvVars is the allowlist of environment variables passed to
// commands, so API keys and other secrets in the parent environment
// never leak into child processes.
var SafeEnvVars = []string{
	"PATH",
	"HOME",
	"USER",
	"SHELL",
	"TERM",
	"LANG",
	"LC_ALL",
	"LC_CTYPE",
	"TMPDIR",
	"TMP",
	"TEMP",
	"EDITOR",
	"VISUAL",
	"PAGER",
	"XDG_CONFIG_HOME",
	"XDG_DATA_HOME",
	"XDG_CACHE_HOME",
	"XDG_RUNTIME_DIR",
	// Go-specific
	"GOPATH",
	"GOROOT",
	"GOPROXY",
	"GOPRIVATE",
	"GOFLAGS",
	// Node/npm
	"NODE_PATH",
	"NPM_CONFIG_PREFIX",
	// Python
	"PYTHONPATH",
	"VIRTUAL_ENV",
	// Git
	"GIT_AUTHOR_NAME",
	"GIT_AUTHOR_EMAIL",
	"GIT_COMMITTER_NAME",
	"GIT_COMMITTER_EMAIL",
}

// Result carries what a finished command produced.
type Result struct {
	Output    string
	ExitCode  int
	Duration  time.Duration
	Truncated bool
}

// Runner executes shell commands under the deny-list policy. A non-zero
// exit is reported through Result.ExitCode, not as an error; errors mean
// the command was blocked, failed to start, timed out, or was cancelled.
type Runner struct {
	checker   *security.CommandChecker
	timeout   time.Duration
	maxOutput int
}

// NewRunner creates a Runner with the default timeout and output cap.
func NewRunner(checker *security.CommandChecker) *Runner {
	if checker == nil {
		checker = security.DefaultCommandChecker()
	}
	return &Runner{
		checker:   checker,
		timeout:   DefaultTimeout,
		maxOutput: MaxOutputChars,
	}
}

// SetTimeout changes the default per-command timeout.
func (r *Runner) SetTimeout(d time.Duration) {
	if d > 0 {
		r.timeout = d
	}
}

// SetMaxOutput changes the output cap.
func (r *Runner) SetMaxOutput(n int) {
	if n > 0 {
		r.maxOutput = n
	}
}

// Run executes command through bash in dir. A non-positive timeout uses
// the runner default. The whole process group is killed on deadline:
// SIGTERM first, SIGKILL after a grace period.
func (r *Runner) Run(ctx context.Context, command, dir string, timeout time.Duration) (Result, error) {
	if err := r.checker.Check(command); err != nil {
		return Result{}, err
	}
	if timeout <= 0 {
		timeout = r.timeout
	}

	execCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.Command("bash", "-c", command)
	cmd.Dir = dir
	cmd.Env = buildSafeEnv()
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	start := time.Now()
	if err := cmd.Start(); err != nil {
		return Result{}, fmt.Errorf("start command: %w", err)
	}

	done := make(chan error, 1)
	go func() { done <- cmd.Wait() }()

	var waitErr error
	timedOut := false
	select {
	case waitErr = <-done:
	case <-execCtx.Done():
		timedOut = true
		signalGroup(cmd, syscall.SIGTERM)
		select {
		case waitErr = <-done:
		case <-time.After(killGrace):
			signalGroup(cmd, syscall.SIGKILL)
			waitErr = <-done
		}
	}

	result := Result{Duration: time.Since(start)}
	result.Output, result.Truncated = r.combineOutput(stdout.String(), stderr.String())

	if timedOut {
		result.ExitCode = -1
		if ctx.Err() != nil {
			return result, ctx.Err()
		}
		logging.Warn("command killed on timeout", "timeout", timeout, "command", command)
		return result, fmt.Errorf("%w after %s", ErrTimeout, timeout)
	}

	if waitErr != nil {
		var exitErr *exec.ExitError
		if errors.As(waitErr, &exitErr) {
			result.ExitCode = exitErr.ExitCode()
			return result, nil
		}
		return result, waitErr
	}
	return result, nil
}

// signalGroup signals the whole process group so children spawned by the
// shell do not outlive it.
func signalGroup(cmd *exec.Cmd, sig syscall.Signal) {
	if cmd.Process == nil {
		return
	}
	_ = syscall.Kill(-cmd.Process.Pid, sig)
}

func (r *Runner) combineOutput(stdoutStr, stderrStr string) (string, bool) {
	var output strings.Builder
	output.WriteString(stdoutStr)
	if len(stderrStr) > 0 {
		if output.Len() > 0 {
			output.WriteString("\n")
		}
		output.WriteString("STDERR:\n")
		output.WriteString(stderrStr)
	}

	result := output.String()
	if len(result) > r.maxOutput {
		total := len(result)
		result = result[:r.maxOutput] +
			fmt.Sprintf("\n... (output truncated: showing %d of %d characters)", r.maxOutput, total)
		return result, true
	}
	if result == "" {
		result = "(no output)"
	}
	return result, false
}

// buildSafeEnv creates the sanitized environment for command execution.
// Only allowlisted variables pass through.
func buildSafeEnv() []string {
	env := make([]string, 0, len(SafeEnvVars))
	for _, key := range SafeEnvVars {
		if val := os.Getenv(key); val != "" {
			env = append(env, key+"="+val)
		}
	}
	hasPath := false
	for _, e := range env {
		if strings.HasPrefix(e, "PATH=") {
			hasPath = true
			break
		}
	}
	if !hasPath {
		env = append(env, "PATH=/usr/local/bin:/usr/bin:/bin")
	}
	return env
}
