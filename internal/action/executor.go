package action

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/sergi/go-diff/diffmatchpatch"

	"selkie/internal/logging"
	"selkie/internal/proc"
	"selkie/internal/security"
)

// Executor applies parsed action blocks to one project root. Blocks run
// strictly in emission order; every branch returns a Result even on
// failure, so one bad block never aborts the rest of a turn.
type Executor struct {
	guard   *security.Guard
	fs      FileSystem
	runner  *proc.Runner
	git     *GitRunner
	backups bool

	writesThisTurn map[string]int
}

// ExecutorOption configures an Executor.
type ExecutorOption func(*Executor)

// WithFileSystem substitutes the disk implementation (e.g. SFTP).
func WithFileSystem(fs FileSystem) ExecutorOption {
	return func(e *Executor) { e.fs = fs }
}

// WithBackups toggles the .backup / .deleted copies kept before
// overwrites and deletions.
func WithBackups(enabled bool) ExecutorOption {
	return func(e *Executor) { e.backups = enabled }
}

// WithGitRunner substitutes the git runner.
func WithGitRunner(g *GitRunner) ExecutorOption {
	return func(e *Executor) { e.git = g }
}

// NewExecutor creates an Executor confined to guard's root.
func NewExecutor(guard *security.Guard, runner *proc.Runner, opts ...ExecutorOption) *Executor {
	e := &Executor{
		guard:          guard,
		fs:             LocalFS{},
		runner:         runner,
		backups:        true,
		writesThisTurn: make(map[string]int),
	}
	e.git = NewGitRunner(guard.Root())
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// BeginTurn resets per-turn bookkeeping. Within one turn a later write
// to the same target legitimately overwrites an earlier one; the repeat
// is logged and noted on the result, never silently swallowed.
func (e *Executor) BeginTurn() {
	e.writesThisTurn = make(map[string]int)
}

// Execute applies one block and returns its Result.
func (e *Executor) Execute(ctx context.Context, block Block) Result {
	start := time.Now()

	var res Result
	switch block.Kind {
	case KindFileWrite:
		res = e.fileWrite(block)
	case KindFileRead:
		res = e.fileRead(block)
	case KindFileDelete:
		res = e.fileDelete(block)
	case KindCommand:
		res = e.command(ctx, block)
	case KindGit:
		res = e.gitOp(ctx, block)
	default:
		res = failure(fmt.Errorf("unknown action kind %q", block.Kind))
	}

	res.Duration = time.Since(start)
	if !res.OK {
		logging.Warn("action failed",
			"kind", string(block.Kind), "target", block.Target, "errorKind", res.ErrorKind)
	}
	return res
}

func (e *Executor) fileWrite(block Block) Result {
	abs, err := e.resolveTarget(block.Target)
	if err != nil {
		return failure(err)
	}

	var notes []string
	if n := e.writesThisTurn[abs]; n > 0 {
		notes = append(notes, fmt.Sprintf("overwrote content written earlier this turn (write #%d)", n+1))
		logging.Info("repeat write within turn", "path", block.Target, "count", n+1)
	}

	var oldContent []byte
	existed := false
	if _, serr := e.fs.Stat(abs); serr == nil {
		existed = true
		oldContent, _ = e.fs.Read(abs)
		if e.backups {
			if berr := e.fs.Copy(abs, abs+".backup"); berr != nil {
				return failure(fmt.Errorf("backup %s: %w", block.Target, berr))
			}
		}
	}
	if err := e.fs.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
		return failure(fmt.Errorf("create parents for %s: %w", block.Target, err))
	}
	if err := e.fs.WriteAtomic(abs, []byte(block.Body), 0o644); err != nil {
		return failure(fmt.Errorf("write %s: %w", block.Target, err))
	}
	e.writesThisTurn[abs]++

	status := fmt.Sprintf("Created new file: %s (%d bytes)", block.Target, len(block.Body))
	if existed {
		added, removed := diffStats(string(oldContent), block.Body)
		status = fmt.Sprintf("Updated file: %s (%d bytes, +%d -%d lines)",
			block.Target, len(block.Body), added, removed)
	}
	return Result{OK: true, Output: status, Notes: notes}
}

// diffStats counts inserted and removed lines between two versions.
func diffStats(oldContent, newContent string) (added, removed int) {
	dmp := diffmatchpatch.New()
	diffs := dmp.DiffMain(oldContent, newContent, true)
	diffs = dmp.DiffCleanupSemantic(diffs)
	for _, d := range diffs {
		switch d.Type {
		case diffmatchpatch.DiffInsert:
			added += strings.Count(d.Text, "\n") + 1
		case diffmatchpatch.DiffDelete:
			removed += strings.Count(d.Text, "\n") + 1
		}
	}
	return added, removed
}

func (e *Executor) fileRead(block Block) Result {
	abs, err := e.resolveTarget(block.Target)
	if err != nil {
		return failure(err)
	}

	data, err := e.fs.Read(abs)
	if err != nil {
		if os.IsNotExist(err) {
			return failure(fmt.Errorf("%w: %s", ErrNotFound, block.Target))
		}
		return failure(fmt.Errorf("read %s: %w", block.Target, err))
	}
	return Result{OK: true, Output: string(data)}
}

func (e *Executor) fileDelete(block Block) Result {
	abs, err := e.resolveTarget(block.Target)
	if err != nil {
		return failure(err)
	}

	if _, serr := e.fs.Stat(abs); serr != nil {
		if os.IsNotExist(serr) {
			// Idempotent: deleting a missing file is success.
			return Result{OK: true, Output: fmt.Sprintf("File already absent: %s", block.Target)}
		}
		return failure(fmt.Errorf("stat %s: %w", block.Target, serr))
	}

	if e.backups {
		if berr := e.fs.Copy(abs, abs+".deleted"); berr != nil {
			return failure(fmt.Errorf("backup before delete %s: %w", block.Target, berr))
		}
	}
	if err := e.fs.Remove(abs); err != nil {
		return failure(fmt.Errorf("delete %s: %w", block.Target, err))
	}
	return Result{OK: true, Output: fmt.Sprintf("File deleted: %s", block.Target)}
}

func (e *Executor) command(ctx context.Context, block Block) Result {
	if strings.TrimSpace(block.Target) == "" {
		return failure(errors.New("empty command"))
	}

	dir := e.guard.Root()
	if block.Dir != "" {
		abs, err := e.guard.Resolve(block.Dir)
		if err != nil {
			return failure(err)
		}
		dir = abs
	}

	timeout := time.Duration(block.TimeoutMs) * time.Millisecond
	result, err := e.runner.Run(ctx, block.Target, dir, timeout)
	if err != nil {
		res := failure(err)
		if result.Output != "" {
			res.Output = result.Output + "\n" + err.Error()
		}
		res.ExitCode = result.ExitCode
		return res
	}
	return Result{
		OK:       result.ExitCode == 0,
		Output:   result.Output,
		ExitCode: result.ExitCode,
	}
}

func (e *Executor) gitOp(ctx context.Context, block Block) Result {
	out, exitCode, err := e.git.Run(ctx, block.Target)
	if err != nil {
		res := failure(err)
		if out != "" {
			res.Output = out + "\n" + err.Error()
		}
		res.ExitCode = exitCode
		return res
	}
	return Result{OK: exitCode == 0, Output: out, ExitCode: exitCode}
}

func (e *Executor) resolveTarget(target string) (string, error) {
	if strings.TrimSpace(target) == "" {
		return "", errors.New("empty target path")
	}
	return e.guard.Resolve(target)
}

func failure(err error) Result {
	return Result{OK: false, Output: err.Error(), ErrorKind: classify(err)}
}

// classify maps an error to the closed result taxonomy.
func classify(err error) string {
	switch {
	case errors.Is(err, security.ErrPathEscape):
		return ErrorKindPathEscape
	case errors.Is(err, ErrNotFound) || os.IsNotExist(err):
		return ErrorKindNotFound
	case errors.Is(err, proc.ErrTimeout):
		return ErrorKindTimeout
	case errors.Is(err, ErrUnsupportedGit),
		errors.Is(err, security.ErrBlockedCommand),
		errors.Is(err, security.ErrSensitivePath):
		return ErrorKindUnsupported
	default:
		return ErrorKindIO
	}
}
