package context

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"selkie/internal/ignore"
	"selkie/internal/logging"
)

// FileEntry describes one file as of the last scan. Entries are rebuilt
// wholesale on every scan, never mutated in place.
type FileEntry struct {
	Path       string // root-relative, slash-separated
	AbsPath    string
	Signature  string // sha256 hex of content; empty when unread
	SizeBytes  int64
	ModTime    time.Time
	LastSeenAt time.Time
	Oversized  bool
	Err        error // per-entry scan failure; the scan itself continued
}

// Index tracks the files under one project root. It is an explicit handle:
// multiple roots can coexist in a process, each with its own Index.
type Index struct {
	root        string
	rules       *ignore.Rules
	maxFileSize int64

	mu        sync.RWMutex
	entries   []FileEntry
	byPath    map[string]int
	scannedAt time.Time
}

// Snapshot is an immutable view of the index taken at one point in time.
// Assembly works against a Snapshot so later scans never race it.
type Snapshot struct {
	Root    string
	TakenAt time.Time
	Entries []FileEntry // lexical path order
}

// NewIndex creates an Index for root. Files larger than maxFileSize are
// indexed but flagged oversized and never hashed or loaded.
func NewIndex(root string, rules *ignore.Rules, maxFileSize int64) *Index {
	return &Index{
		root:        root,
		rules:       rules,
		maxFileSize: maxFileSize,
		byPath:      make(map[string]int),
	}
}

// Root returns the project root this index scans.
func (ix *Index) Root() string { return ix.root }

// Scan rebuilds the index from the filesystem. An unreadable root fails
// the scan; unreadable subtrees become per-entry errors and the scan
// continues. Content signatures are computed in parallel across a pool
// sized to available parallelism.
func (ix *Index) Scan(ctx context.Context) error {
	if _, err := os.ReadDir(ix.root); err != nil {
		return fmt.Errorf("scan root %q: %w", ix.root, err)
	}

	now := time.Now()
	var entries []FileEntry

	walkErr := filepath.WalkDir(ix.root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if path == ix.root {
				return err
			}
			entries = append(entries, FileEntry{
				Path:       ix.rel(path),
				AbsPath:    path,
				LastSeenAt: now,
				Err:        err,
			})
			if d != nil && d.IsDir() {
				return fs.SkipDir
			}
			return nil
		}

		if d.IsDir() {
			if path != ix.root && ix.rules.Matches(path, true) {
				return fs.SkipDir
			}
			return nil
		}
		if !d.Type().IsRegular() {
			return nil
		}
		if ix.rules.Matches(path, false) {
			return nil
		}

		info, ierr := d.Info()
		if ierr != nil {
			entries = append(entries, FileEntry{
				Path:       ix.rel(path),
				AbsPath:    path,
				LastSeenAt: now,
				Err:        ierr,
			})
			return nil
		}

		entry := FileEntry{
			Path:       ix.rel(path),
			AbsPath:    path,
			SizeBytes:  info.Size(),
			ModTime:    info.ModTime(),
			LastSeenAt: now,
		}
		if ix.maxFileSize > 0 && info.Size() > ix.maxFileSize {
			entry.Oversized = true
		}
		entries = append(entries, entry)
		return nil
	})
	if walkErr != nil {
		return fmt.Errorf("scan root %q: %w", ix.root, walkErr)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(runtime.GOMAXPROCS(0))
	for i := range entries {
		if entries[i].Err != nil || entries[i].Oversized {
			continue
		}
		i := i
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			sig, err := hashFile(entries[i].AbsPath)
			if err != nil {
				// File vanished or turned unreadable mid-scan.
				entries[i].Err = err
				return nil
			}
			entries[i].Signature = sig
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	sort.Slice(entries, func(a, b int) bool { return entries[a].Path < entries[b].Path })

	byPath := make(map[string]int, len(entries))
	for i, e := range entries {
		byPath[e.Path] = i
	}

	ix.mu.Lock()
	ix.entries = entries
	ix.byPath = byPath
	ix.scannedAt = now
	ix.mu.Unlock()

	logging.Debug("index scanned", "root", ix.root, "files", len(entries))
	return nil
}

// Snapshot returns an immutable copy of the current entries.
func (ix *Index) Snapshot() *Snapshot {
	ix.mu.RLock()
	defer ix.mu.RUnlock()

	entries := make([]FileEntry, len(ix.entries))
	copy(entries, ix.entries)
	return &Snapshot{Root: ix.root, TakenAt: ix.scannedAt, Entries: entries}
}

// Lookup finds an entry by root-relative path.
func (ix *Index) Lookup(rel string) (FileEntry, bool) {
	ix.mu.RLock()
	defer ix.mu.RUnlock()

	i, ok := ix.byPath[filepath.ToSlash(rel)]
	if !ok {
		return FileEntry{}, false
	}
	return ix.entries[i], true
}

// Len returns the number of indexed files.
func (ix *Index) Len() int {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return len(ix.entries)
}

// ScannedAt returns when the last full scan completed.
func (ix *Index) ScannedAt() time.Time {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return ix.scannedAt
}

// RefreshPath re-examines a single path after an external change
// notification. A deleted or newly ignored file drops out of the index; a
// new or changed one is re-hashed. The entries slice is replaced, not
// patched, so snapshots taken earlier stay coherent.
func (ix *Index) RefreshPath(rel string) error {
	rel = filepath.ToSlash(rel)
	abs := filepath.Join(ix.root, filepath.FromSlash(rel))

	info, statErr := os.Stat(abs)
	remove := false
	switch {
	case os.IsNotExist(statErr):
		remove = true
	case statErr != nil:
		return statErr
	case info.IsDir(), !info.Mode().IsRegular(), ix.rules.Matches(abs, false):
		remove = true
	}

	ix.mu.Lock()
	defer ix.mu.Unlock()

	idx, exists := ix.byPath[rel]

	if remove {
		if !exists {
			return nil
		}
		entries := make([]FileEntry, 0, len(ix.entries)-1)
		entries = append(entries, ix.entries[:idx]...)
		entries = append(entries, ix.entries[idx+1:]...)
		ix.swapLocked(entries)
		return nil
	}

	entry := FileEntry{
		Path:       rel,
		AbsPath:    abs,
		SizeBytes:  info.Size(),
		ModTime:    info.ModTime(),
		LastSeenAt: time.Now(),
	}
	if ix.maxFileSize > 0 && info.Size() > ix.maxFileSize {
		entry.Oversized = true
	} else {
		sig, err := hashFile(abs)
		if err != nil {
			entry.Err = err
		} else {
			entry.Signature = sig
		}
	}

	entries := make([]FileEntry, len(ix.entries))
	copy(entries, ix.entries)
	if exists {
		entries[idx] = entry
	} else {
		entries = append(entries, entry)
		sort.Slice(entries, func(a, b int) bool { return entries[a].Path < entries[b].Path })
	}
	ix.swapLocked(entries)
	return nil
}

func (ix *Index) swapLocked(entries []FileEntry) {
	byPath := make(map[string]int, len(entries))
	for i, e := range entries {
		byPath[e.Path] = i
	}
	ix.entries = entries
	ix.byPath = byPath
}

func (ix *Index) rel(path string) string {
	rel, err := filepath.Rel(ix.root, path)
	if err != nil {
		return filepath.ToSlash(path)
	}
	return filepath.ToSlash(rel)
}

// SignatureOf computes the content signature used throughout the engine.
func SignatureOf(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

func hashFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
