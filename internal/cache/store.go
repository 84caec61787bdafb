package cache

import (
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"selkie/internal/fileutil"
	"selkie/internal/logging"
)

// StoredMeta mirrors the JSON sidecar written next to each blob.
type StoredMeta struct {
	Path           string    `json:"path"`
	Signature      string    `json:"signature"`
	Tokens         int       `json:"tokens"`
	RawSize        int64     `json:"raw_size"`
	CompressedSize int64     `json:"compressed_size"`
	StoredAt       time.Time `json:"stored_at"`
	AccessedAt     time.Time `json:"accessed_at"`
}

// Store persists compressed cache entries under a directory so a restart
// does not start cold. Blobs are sharded by the first two signature hex
// chars; each blob has a JSON sidecar carrying its metadata.
type Store struct {
	dir    string
	budget int64 // raw (decompressed) bytes; <= 0 means unbounded

	mu    sync.Mutex
	index map[Key]StoredMeta
	total int64
}

// OpenStore opens or creates a store at dir and loads its index from the
// sidecars. Sidecars without a blob are swept away.
func OpenStore(dir string, budget int64) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("open cache store: %w", err)
	}

	s := &Store{dir: dir, budget: budget, index: make(map[Key]StoredMeta)}

	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() || !strings.HasSuffix(path, ".json") {
			return err
		}
		data, rerr := os.ReadFile(path)
		if rerr != nil {
			return nil
		}
		var meta StoredMeta
		if json.Unmarshal(data, &meta) != nil || meta.Signature == "" {
			_ = os.Remove(path)
			return nil
		}
		key := Key{Path: meta.Path, Signature: meta.Signature}
		if _, serr := os.Stat(s.blobPath(key)); serr != nil {
			_ = os.Remove(path)
			return nil
		}
		s.index[key] = meta
		s.total += meta.RawSize
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("open cache store: %w", err)
	}

	s.mu.Lock()
	s.evictLocked()
	s.mu.Unlock()

	logging.Debug("cache store opened", "dir", dir, "entries", len(s.index))
	return s, nil
}

// Save persists a compressed blob and its sidecar, then evicts
// oldest-accessed entries if the store is over budget.
func (s *Store) Save(key Key, compressed []byte, tokens int, rawSize int64) error {
	blob := s.blobPath(key)
	if err := os.MkdirAll(filepath.Dir(blob), 0o755); err != nil {
		return err
	}
	if err := fileutil.AtomicWrite(blob, compressed, 0o644); err != nil {
		return err
	}

	now := time.Now()
	meta := StoredMeta{
		Path:           key.Path,
		Signature:      key.Signature,
		Tokens:         tokens,
		RawSize:        rawSize,
		CompressedSize: int64(len(compressed)),
		StoredAt:       now,
		AccessedAt:     now,
	}
	if err := s.writeMeta(key, meta); err != nil {
		return err
	}

	s.mu.Lock()
	if old, ok := s.index[key]; ok {
		s.total -= old.RawSize
	}
	s.index[key] = meta
	s.total += rawSize
	s.evictLocked()
	s.mu.Unlock()
	return nil
}

// Load returns the compressed blob and metadata for key. A missing blob
// drops the index entry and reports not found.
func (s *Store) Load(key Key) ([]byte, StoredMeta, bool) {
	s.mu.Lock()
	meta, ok := s.index[key]
	s.mu.Unlock()
	if !ok {
		return nil, StoredMeta{}, false
	}

	data, err := os.ReadFile(s.blobPath(key))
	if err != nil {
		s.mu.Lock()
		if cur, still := s.index[key]; still {
			s.total -= cur.RawSize
			delete(s.index, key)
		}
		s.mu.Unlock()
		return nil, StoredMeta{}, false
	}

	meta.AccessedAt = time.Now()
	s.mu.Lock()
	s.index[key] = meta
	s.mu.Unlock()
	if err := s.writeMeta(key, meta); err != nil {
		logging.Debug("cache store touch failed", "path", key.Path, "error", err)
	}
	return data, meta, true
}

// DeletePath removes every stored entry for path, across signatures.
func (s *Store) DeletePath(path string) error {
	s.mu.Lock()
	var victims []Key
	for key := range s.index {
		if key.Path == path {
			victims = append(victims, key)
		}
	}
	for _, key := range victims {
		s.total -= s.index[key].RawSize
		delete(s.index, key)
	}
	s.mu.Unlock()

	var firstErr error
	for _, key := range victims {
		if err := s.removeFiles(key); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// Clear removes the whole store directory and recreates it empty.
func (s *Store) Clear() error {
	s.mu.Lock()
	s.index = make(map[Key]StoredMeta)
	s.total = 0
	s.mu.Unlock()

	if err := os.RemoveAll(s.dir); err != nil {
		return err
	}
	return os.MkdirAll(s.dir, 0o755)
}

// Len returns the number of stored entries.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.index)
}

// TotalRawBytes returns the decompressed size the store accounts for.
func (s *Store) TotalRawBytes() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.total
}

func (s *Store) evictLocked() {
	for s.budget > 0 && s.total > s.budget && len(s.index) > 0 {
		var oldest Key
		var oldestAt time.Time
		first := true
		for key, meta := range s.index {
			if first || meta.AccessedAt.Before(oldestAt) {
				oldest = key
				oldestAt = meta.AccessedAt
				first = false
			}
		}
		s.total -= s.index[oldest].RawSize
		delete(s.index, oldest)
		if err := s.removeFiles(oldest); err != nil {
			logging.Debug("cache store evict failed", "path", oldest.Path, "error", err)
		}
	}
}

func (s *Store) removeFiles(key Key) error {
	blob := s.blobPath(key)
	err := os.Remove(blob)
	if merr := os.Remove(blob + ".json"); err == nil {
		err = merr
	}
	if os.IsNotExist(err) {
		return nil
	}
	return err
}

func (s *Store) writeMeta(key Key, meta StoredMeta) error {
	data, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return err
	}
	return fileutil.AtomicWrite(s.blobPath(key)+".json", data, 0o644)
}

// blobPath shards by signature prefix so one directory never holds every
// entry: <dir>/<sig[:2]>/<base>_<sig[:8]>.zst
func (s *Store) blobPath(key Key) string {
	sig := key.Signature
	shard, short := sig, sig
	if len(sig) >= 2 {
		shard = sig[:2]
	}
	if len(sig) >= 8 {
		short = sig[:8]
	}
	base := sanitizeName(filepath.Base(key.Path))
	return filepath.Join(s.dir, shard, base+"_"+short+".zst")
}

func sanitizeName(name string) string {
	var b strings.Builder
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9',
			r == '.', r == '-', r == '_':
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}
	if b.Len() == 0 {
		return "file"
	}
	return b.String()
}
