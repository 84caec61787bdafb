package context

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sort"
	"time"

	"golang.org/x/sync/errgroup"

	"selkie/internal/cache"
	"selkie/internal/logging"
)

// Skip reasons recorded when a candidate file is left out of the
// assembled context.
const (
	SkipNotIndexed = "not-indexed"
	SkipReadError  = "read-error"
	SkipOversized  = "oversized"
	SkipOverBudget = "over-token-budget"
	SkipChanged    = "changed-since-scan"
)

// errStale marks a file whose content no longer matches the signature the
// snapshot recorded. The entry is skipped; the next scan picks it up.
var errStale = errors.New("content changed since scan")

// Request bounds one assembly.
type Request struct {
	TokenBudget int      // <= 0 means unbounded
	FileBudget  int      // <= 0 means unbounded
	UserPaths   []string // root-relative paths the user referenced, highest priority
}

// AssembledFile is one file admitted into the context window.
type AssembledFile struct {
	Path      string
	Content   []byte
	Tokens    int
	Signature string
}

// SkippedFile records a candidate that was considered and left out.
type SkippedFile struct {
	Path   string
	Reason string
}

// AssembledContext is the result of one assembly pass. Files appear in
// priority order: user-referenced paths first, then the rest by most
// recent modification, lexical on ties.
type AssembledContext struct {
	Files       []AssembledFile
	Skipped     []SkippedFile
	TotalTokens int
	TakenAt     time.Time
}

// Assembler fills a token and file budget from an index snapshot, reading
// cold files through the content cache with bounded parallelism.
type Assembler struct {
	cache     *cache.ContentCache
	estimator *Estimator
	parallel  int
}

// NewAssembler creates an Assembler. parallel bounds concurrent cold
// reads; values below one fall back to one.
func NewAssembler(c *cache.ContentCache, est *Estimator, parallel int) *Assembler {
	if parallel < 1 {
		parallel = 1
	}
	return &Assembler{cache: c, estimator: est, parallel: parallel}
}

// Assemble selects files from snap under the request budgets. A candidate
// that does not fit the remaining token budget is skipped, not fatal;
// selection continues with smaller files. Only cancellation aborts.
//
// Loads run in priority-ordered windows sized to the worker pool, so the
// call blocks only on files selection actually considers: once the file
// budget is full no further candidate is read.
func (a *Assembler) Assemble(ctx context.Context, snap *Snapshot, req Request) (*AssembledContext, error) {
	result := &AssembledContext{TakenAt: time.Now()}

	candidates := a.orderCandidates(snap, req.UserPaths, result)

	type loaded struct {
		content []byte
		tokens  int
		err     error
	}

	window := a.parallel * 4
	for start := 0; start < len(candidates); start += window {
		if req.FileBudget > 0 && len(result.Files) >= req.FileBudget {
			break
		}
		end := start + window
		if end > len(candidates) {
			end = len(candidates)
		}
		batch := candidates[start:end]
		loads := make([]loaded, len(batch))

		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(a.parallel)
		for i := range batch {
			i := i
			g.Go(func() error {
				if err := gctx.Err(); err != nil {
					return err
				}
				content, tokens, err := a.load(batch[i])
				loads[i] = loaded{content: content, tokens: tokens, err: err}
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return nil, err
		}

		for i, entry := range batch {
			if req.FileBudget > 0 && len(result.Files) >= req.FileBudget {
				break
			}
			lr := loads[i]
			if lr.err != nil {
				reason := SkipReadError
				if errors.Is(lr.err, errStale) {
					reason = SkipChanged
				}
				result.Skipped = append(result.Skipped, SkippedFile{Path: entry.Path, Reason: reason})
				continue
			}
			if req.TokenBudget > 0 && result.TotalTokens+lr.tokens > req.TokenBudget {
				result.Skipped = append(result.Skipped, SkippedFile{Path: entry.Path, Reason: SkipOverBudget})
				continue
			}
			result.Files = append(result.Files, AssembledFile{
				Path:      entry.Path,
				Content:   lr.content,
				Tokens:    lr.tokens,
				Signature: entry.Signature,
			})
			result.TotalTokens += lr.tokens
		}
	}

	logging.Debug("context assembled",
		"files", len(result.Files),
		"tokens", result.TotalTokens,
		"skipped", len(result.Skipped))
	return result, nil
}

// orderCandidates builds the priority-ordered candidate list and records
// skips that are decidable from the snapshot alone.
func (a *Assembler) orderCandidates(snap *Snapshot, userPaths []string, result *AssembledContext) []FileEntry {
	byPath := make(map[string]FileEntry, len(snap.Entries))
	for _, e := range snap.Entries {
		byPath[e.Path] = e
	}

	seen := make(map[string]bool)
	var ordered []FileEntry

	admit := func(e FileEntry) bool {
		if e.Err != nil {
			result.Skipped = append(result.Skipped, SkippedFile{Path: e.Path, Reason: SkipReadError})
			return false
		}
		if e.Oversized {
			result.Skipped = append(result.Skipped, SkippedFile{Path: e.Path, Reason: SkipOversized})
			return false
		}
		return true
	}

	for _, p := range userPaths {
		p = filepath.ToSlash(p)
		if seen[p] {
			continue
		}
		seen[p] = true
		e, ok := byPath[p]
		if !ok {
			result.Skipped = append(result.Skipped, SkippedFile{Path: p, Reason: SkipNotIndexed})
			continue
		}
		if admit(e) {
			ordered = append(ordered, e)
		}
	}

	rest := make([]FileEntry, 0, len(snap.Entries))
	for _, e := range snap.Entries {
		if !seen[e.Path] {
			rest = append(rest, e)
		}
	}
	sort.SliceStable(rest, func(i, j int) bool {
		if !rest[i].ModTime.Equal(rest[j].ModTime) {
			return rest[i].ModTime.After(rest[j].ModTime)
		}
		return rest[i].Path < rest[j].Path
	})
	for _, e := range rest {
		if admit(e) {
			ordered = append(ordered, e)
		}
	}
	return ordered
}

// load fetches one file through the cache. On a cold read the content is
// hashed again; bytes that no longer match the snapshot signature are
// never cached under that key.
func (a *Assembler) load(entry FileEntry) ([]byte, int, error) {
	key := cache.Key{Path: entry.Path, Signature: entry.Signature}
	return a.cache.GetOrCompute(key, func() ([]byte, int, error) {
		data, err := os.ReadFile(entry.AbsPath)
		if err != nil {
			return nil, 0, err
		}
		if SignatureOf(data) != entry.Signature {
			return nil, 0, errStale
		}
		tokens := a.estimator.ForFile(entry.Path, entry.Signature, data)
		return data, tokens, nil
	})
}
