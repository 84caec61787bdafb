package engine

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sync"
	"time"

	"github.com/google/uuid"

	"selkie/internal/action"
	"selkie/internal/audit"
	"selkie/internal/cache"
	"selkie/internal/client"
	"selkie/internal/config"
	filectx "selkie/internal/context"
	"selkie/internal/ignore"
	"selkie/internal/logging"
	"selkie/internal/proc"
	"selkie/internal/security"
)

// ErrTurnInProgress reports a RunTurn call while another turn is running.
// The engine executes one turn at a time.
var ErrTurnInProgress = errors.New("a turn is already running")

// Engine orchestrates one project session: it owns the file index, the
// content cache, the context assembler, and the action executor, and
// drives the model client through complete turns.
type Engine struct {
	root string
	cfg  *config.Config

	index     *filectx.Index
	cache     *cache.ContentCache
	assembler *filectx.Assembler
	executor  *action.Executor
	client    client.Client
	audit     *audit.Log

	mu       sync.Mutex
	running  bool
	lastTurn map[string]bool // paths sent to the model in the most recent turn
}

// Option adjusts engine construction.
type Option func(*settings)

type settings struct {
	fs    action.FileSystem
	audit *audit.Log
}

// WithFileSystem routes file actions through fs instead of the local
// disk. Path confinement still applies.
func WithFileSystem(fs action.FileSystem) Option {
	return func(s *settings) { s.fs = fs }
}

// WithAudit records turn and action entries to log. The caller keeps
// ownership and closes it.
func WithAudit(log *audit.Log) Option {
	return func(s *settings) { s.audit = log }
}

// New builds an engine rooted at the given project directory. The client
// is required; the engine closes it on Close.
func New(root string, cfg *config.Config, cl client.Client, opts ...Option) (*Engine, error) {
	if cl == nil {
		return nil, errors.New("model client required")
	}
	if cfg == nil {
		cfg = config.DefaultConfig()
	}

	absRoot, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolving project root: %w", err)
	}
	info, err := os.Stat(absRoot)
	if err != nil {
		return nil, fmt.Errorf("project root: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("project root %s is not a directory", absRoot)
	}

	var st settings
	for _, opt := range opts {
		opt(&st)
	}

	guard, err := security.NewGuard(absRoot)
	if err != nil {
		return nil, err
	}

	rules := ignore.New(absRoot)
	if err := rules.Load(); err != nil {
		logging.Warn("loading ignore rules", "error", err)
	}

	var copts []cache.Option
	if cfg.Cache.Disk {
		dir := cfg.Cache.Dir
		if dir == "" {
			dir = defaultStoreDir(absRoot)
		}
		if dir != "" {
			store, err := cache.OpenStore(dir, cfg.Cache.Budget)
			if err != nil {
				logging.Warn("disk cache unavailable, running memory-only", "dir", dir, "error", err)
			} else {
				copts = append(copts, cache.WithStore(store))
			}
		}
	}
	contentCache := cache.New(cfg.Cache.Budget, copts...)

	parallel := cfg.Context.Parallelism
	if parallel <= 0 {
		parallel = runtime.GOMAXPROCS(0)
	}

	runner := proc.NewRunner(security.NewCommandChecker())
	if cfg.Executor.CommandTimeout > 0 {
		runner.SetTimeout(cfg.Executor.CommandTimeout)
	}
	if cfg.Executor.MaxOutputChars > 0 {
		runner.SetMaxOutput(cfg.Executor.MaxOutputChars)
	}

	execOpts := []action.ExecutorOption{
		action.WithBackups(cfg.Executor.Backups),
	}
	if st.fs != nil {
		execOpts = append(execOpts, action.WithFileSystem(st.fs))
	}

	return &Engine{
		root:      absRoot,
		cfg:       cfg,
		index:     filectx.NewIndex(absRoot, rules, cfg.Context.MaxFileSize),
		cache:     contentCache,
		assembler: filectx.NewAssembler(contentCache, filectx.NewEstimator(), parallel),
		executor:  action.NewExecutor(guard, runner, execOpts...),
		client:    cl,
		audit:     st.audit,
	}, nil
}

// Root returns the absolute project root.
func (e *Engine) Root() string { return e.root }

// Scan walks the project tree and rebuilds the file index. RunTurn scans
// lazily on first use; callers wanting an eager scan call this.
func (e *Engine) Scan(ctx context.Context) error {
	return e.index.Scan(ctx)
}

// Close releases the cache and the model client.
func (e *Engine) Close() error {
	e.cache.Close()
	return e.client.Close()
}

// RunTurn executes one complete turn: assemble context, stream the model
// reply, parse and execute action blocks in emission order, and finish
// with a TurnRecord.
//
// The returned channel must be drained until it closes. Events arrive in
// order; the final event is always EventTurnComplete carrying the record,
// preceded by EventTurnCancelled when ctx was cancelled. Cancellation
// stops fragment consumption and abandons not-yet-started actions; the
// action in flight always runs to completion.
func (e *Engine) RunTurn(ctx context.Context, req TurnRequest) <-chan Event {
	events := make(chan Event, 16)
	go e.runTurn(ctx, req, events)
	return events
}

func (e *Engine) runTurn(ctx context.Context, req TurnRequest, events chan<- Event) {
	defer close(events)

	record := &TurnRecord{
		ID:        uuid.New().String(),
		Model:     e.client.Model(),
		StartedAt: time.Now(),
	}

	e.mu.Lock()
	if e.running {
		e.mu.Unlock()
		record.Err = ErrTurnInProgress
		e.finish(record, events, false)
		return
	}
	e.running = true
	e.mu.Unlock()
	defer func() {
		e.mu.Lock()
		e.running = false
		e.mu.Unlock()
	}()

	logging.Debug("turn started", "turn_id", record.ID, "model", record.Model)

	asm, err := e.assemble(ctx, req.UserPaths)
	if err != nil {
		if cancelledErr(err) {
			e.finish(record, events, true)
			return
		}
		record.Err = err
		e.finish(record, events, false)
		return
	}
	record.ContextTokens = asm.TotalTokens
	record.ContextFiles = len(asm.Files)
	e.rememberAssembly(asm)

	stream, err := e.client.Stream(ctx, client.Request{
		System:  systemPrompt(),
		History: req.History,
		Message: userMessage(asm, req.Message),
	})
	if err != nil {
		if cancelledErr(err) {
			e.finish(record, events, true)
			return
		}
		record.Err = err
		e.finish(record, events, false)
		return
	}

	parser := action.NewStreamParser()
	e.executor.BeginTurn()

	cancelled := false
consume:
	for {
		select {
		case <-ctx.Done():
			cancelled = true
			break consume
		case chunk, ok := <-stream.Chunks:
			if !ok {
				break consume
			}
			if chunk.Err != nil {
				// Transport failure surfaced as-is; retries already
				// happened inside the client.
				record.Err = chunk.Err
				break consume
			}
			if chunk.InputTokens > 0 {
				record.InputTokens = chunk.InputTokens
			}
			if chunk.OutputTokens > 0 {
				record.OutputTokens = chunk.OutputTokens
			}
			if !e.dispatch(ctx, parser.Feed(chunk.Text), record, events) {
				cancelled = true
				break consume
			}
			if chunk.Done {
				break consume
			}
		}
	}

	// A closing stream and a done ctx can land in the same select; ctx
	// state, not the winning arm, decides whether the turn was cancelled.
	if ctx.Err() != nil {
		cancelled = true
		if cancelledErr(record.Err) {
			record.Err = nil
		}
	}

	if !cancelled && record.Err == nil {
		// Close flushes any unterminated block back as literal text.
		e.dispatch(ctx, parser.Close(), record, events)
	}
	for _, w := range parser.Warnings() {
		record.Warnings = append(record.Warnings, warningString(w))
	}

	// The client goroutine unblocks on ctx or its own final chunk; wait
	// so the turn never leaves a producer behind.
	<-stream.Done

	e.finish(record, events, cancelled)
}

// dispatch emits parser events, executing blocks as they appear. It
// returns false when cancellation abandoned the remainder of the batch.
func (e *Engine) dispatch(ctx context.Context, evs []action.Event, record *TurnRecord, events chan<- Event) bool {
	for _, ev := range evs {
		if ev.Block == nil {
			if ev.Text == "" {
				continue
			}
			record.Spans = append(record.Spans, Span{Text: ev.Text})
			events <- Event{Type: EventTextChunk, Text: ev.Text}
			continue
		}

		// Cancellation is observed between blocks only; a block that
		// started executing always completes.
		if ctx.Err() != nil {
			return false
		}

		block := ev.Block
		events <- Event{Type: EventActionStarted, Block: block}
		res := e.executor.Execute(ctx, *block)
		e.afterAction(block, &res)
		record.Spans = append(record.Spans, Span{Block: block, Result: &res})
		events <- Event{Type: EventActionCompleted, Block: block, Result: &res}
		e.auditAction(record.ID, block, &res)
	}
	return true
}

// afterAction refreshes index and cache state for files the turn itself
// changed, so the next assembly sees the new content.
func (e *Engine) afterAction(block *action.Block, res *action.Result) {
	if !res.OK {
		return
	}
	switch block.Kind {
	case action.KindFileWrite, action.KindFileDelete:
		e.Invalidate(block.Target)
	}
}

func (e *Engine) finish(record *TurnRecord, events chan<- Event, cancelled bool) {
	record.FinishedAt = time.Now()
	record.Cancelled = cancelled

	if cancelled {
		events <- Event{Type: EventTurnCancelled}
	}
	e.auditTurn(record)

	logging.Debug("turn finished", "turn_id", record.ID,
		"spans", len(record.Spans), "cancelled", cancelled, "error", record.Err)

	events <- Event{Type: EventTurnComplete, Record: record}
}

func (e *Engine) assemble(ctx context.Context, userPaths []string) (*filectx.AssembledContext, error) {
	if e.index.Len() == 0 {
		if err := e.index.Scan(ctx); err != nil {
			return nil, fmt.Errorf("scanning project: %w", err)
		}
	}
	return e.assembler.Assemble(ctx, e.index.Snapshot(), filectx.Request{
		TokenBudget: e.cfg.Context.MaxTokens,
		FileBudget:  e.cfg.Context.MaxFiles,
		UserPaths:   userPaths,
	})
}

func (e *Engine) rememberAssembly(asm *filectx.AssembledContext) {
	included := make(map[string]bool, len(asm.Files))
	for _, f := range asm.Files {
		included[f.Path] = true
	}
	e.mu.Lock()
	e.lastTurn = included
	e.mu.Unlock()
}

// Prime assembles context without running a turn. It warms the cache and
// records the selection, so ContextSummary afterwards shows exactly what
// a turn run now would send.
func (e *Engine) Prime(ctx context.Context, userPaths []string) ([]FileSummary, error) {
	asm, err := e.assemble(ctx, userPaths)
	if err != nil {
		return nil, err
	}
	e.rememberAssembly(asm)
	return e.ContextSummary(), nil
}

// ContextSummary lists every indexed file with its cached token count and
// whether the most recent turn sent it to the model.
func (e *Engine) ContextSummary() []FileSummary {
	snap := e.index.Snapshot()

	e.mu.Lock()
	last := e.lastTurn
	e.mu.Unlock()

	out := make([]FileSummary, 0, len(snap.Entries))
	for _, entry := range snap.Entries {
		fs := FileSummary{Path: entry.Path, IncludedInLastTurn: last[entry.Path]}
		if entry.Signature != "" {
			if tokens, ok := e.cache.Peek(cache.Key{Path: entry.Path, Signature: entry.Signature}); ok {
				fs.Tokens = tokens
				fs.Cached = true
			}
		}
		out = append(out, fs)
	}
	return out
}

// Invalidate drops cached renditions of one root-relative path and
// re-examines it in the index.
func (e *Engine) Invalidate(path string) {
	rel := filepath.ToSlash(path)
	e.cache.RemovePath(rel)
	if err := e.index.RefreshPath(rel); err != nil {
		logging.Warn("index refresh failed", "path", rel, "error", err)
	}
}

// InvalidateAll clears the cache and rescans the whole tree.
func (e *Engine) InvalidateAll(ctx context.Context) error {
	e.cache.Clear()
	return e.index.Scan(ctx)
}

// CacheStats exposes content cache effectiveness counters.
func (e *Engine) CacheStats() cache.Stats {
	return e.cache.Stats()
}

func (e *Engine) auditTurn(record *TurnRecord) {
	if !e.audit.Enabled() {
		return
	}

	ok := record.Err == nil && !record.Cancelled
	kind := ""
	detail := fmt.Sprintf("%d spans, %d actions, %d context files, %d warnings",
		len(record.Spans), len(record.Actions()), record.ContextFiles, len(record.Warnings))
	switch {
	case record.Cancelled:
		kind = "cancelled"
	case record.Err != nil:
		kind = "error"
		detail = record.Err.Error()
	}

	entry := audit.NewTurnEntry("", record.ID).Complete(ok, kind, detail, record.Duration())
	if err := e.audit.Append(entry); err != nil {
		logging.Warn("audit append failed", "error", err)
	}
}

func (e *Engine) auditAction(turnID string, block *action.Block, res *action.Result) {
	if !e.audit.Enabled() {
		return
	}

	entry := audit.NewActionEntry("", turnID, string(block.Kind), block.Target).
		Complete(res.OK, res.ErrorKind, res.Output, res.Duration)
	if err := e.audit.Append(entry); err != nil {
		logging.Warn("audit append failed", "error", err)
	}
}

func warningString(w action.Warning) string {
	if w.Kind == "" {
		return w.Message
	}
	if w.Target != "" {
		return fmt.Sprintf("%s %s: %s", w.Kind, w.Target, w.Message)
	}
	return fmt.Sprintf("%s: %s", w.Kind, w.Message)
}

func cancelledErr(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

// defaultStoreDir places the disk cache under the user cache dir, keyed
// by a hash of the project root so distinct projects never share entries.
func defaultStoreDir(root string) string {
	base, err := os.UserCacheDir()
	if err != nil {
		return ""
	}
	sum := sha256.Sum256([]byte(root))
	return filepath.Join(base, "selkie", hex.EncodeToString(sum[:])[:12])
}
