package cache

import (
	"container/list"
	"sync"
	"sync/atomic"
	"time"

	"github.com/klauspost/compress/zstd"
	"golang.org/x/sync/singleflight"

	"selkie/internal/logging"
)

// Key identifies one cached rendition of a file. The signature is the
// sha256 of the content, so a changed file never collides with its own
// stale entry.
type Key struct {
	Path      string
	Signature string
}

func (k Key) String() string {
	return k.Path + "\x00" + k.Signature
}

// Stats is a point-in-time view of cache effectiveness.
type Stats struct {
	Hits      uint64
	Misses    uint64
	DiskHits  uint64
	Evictions uint64
	Entries   int
	RawBytes  int64
}

type centry struct {
	key        Key
	compressed []byte
	tokens     int
	rawSize    int
	storedAt   time.Time
	accessedAt time.Time
	element    *list.Element
}

// ContentCache holds compressed file content keyed by (path, signature).
// Entries are evicted least-recently-accessed-first once the sum of
// decompressed sizes exceeds the budget. The cache never computes or
// refreshes anything on its own; callers populate it through Put or
// GetOrCompute.
type ContentCache struct {
	budget int64 // decompressed bytes; <= 0 means unbounded
	store  *Store

	mu       sync.Mutex
	entries  map[Key]*centry
	evict    *list.List // front = most recently accessed
	rawBytes int64

	hits      atomic.Uint64
	misses    atomic.Uint64
	diskHits  atomic.Uint64
	evictions atomic.Uint64

	group singleflight.Group
	enc   *zstd.Encoder
	dec   *zstd.Decoder
}

// Option configures a ContentCache.
type Option func(*ContentCache)

// WithStore attaches a disk store. Puts write through to it and misses
// fall back to it before reporting a miss.
func WithStore(s *Store) Option {
	return func(c *ContentCache) { c.store = s }
}

// New creates a ContentCache bounded by budget decompressed bytes.
func New(budget int64, opts ...Option) *ContentCache {
	enc, _ := zstd.NewWriter(nil, zstd.WithEncoderConcurrency(1))
	dec, _ := zstd.NewReader(nil, zstd.WithDecoderConcurrency(1))
	c := &ContentCache{
		budget:  budget,
		entries: make(map[Key]*centry),
		evict:   list.New(),
		enc:     enc,
		dec:     dec,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Close releases the compressor state. The cache must not be used after.
func (c *ContentCache) Close() {
	_ = c.enc.Close()
	c.dec.Close()
}

// Get returns the decompressed content and token count for key. A miss is
// an ordinary (nil, 0, false) return, not an error.
func (c *ContentCache) Get(key Key) ([]byte, int, bool) {
	c.mu.Lock()
	e, ok := c.entries[key]
	var compressed []byte
	var tokens int
	if ok {
		e.accessedAt = time.Now()
		c.evict.MoveToFront(e.element)
		compressed = e.compressed
		tokens = e.tokens
	}
	c.mu.Unlock()

	if ok {
		data, err := c.dec.DecodeAll(compressed, nil)
		if err != nil {
			logging.Warn("cache entry corrupt, dropping", "path", key.Path, "error", err)
			c.deleteKey(key)
		} else {
			c.hits.Add(1)
			return data, tokens, true
		}
	}

	if c.store != nil {
		if compressed, meta, found := c.store.Load(key); found {
			if data, err := c.dec.DecodeAll(compressed, nil); err == nil {
				c.insert(key, compressed, meta.Tokens, int(meta.RawSize))
				c.diskHits.Add(1)
				return data, meta.Tokens, true
			}
		}
	}

	c.misses.Add(1)
	return nil, 0, false
}

// Peek reports residency and token count for key without decompressing,
// promoting, or consulting the disk store. Listings use it so a summary
// pass does not churn the LRU order.
func (c *ContentCache) Peek(key Key) (int, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if e, ok := c.entries[key]; ok {
		return e.tokens, true
	}
	return 0, false
}

// Put stores content under key, replacing any previous entry for the same
// key. Content larger than the whole budget is not cached.
func (c *ContentCache) Put(key Key, content []byte, tokens int) {
	compressed := c.enc.EncodeAll(content, nil)
	c.insert(key, compressed, tokens, len(content))

	if c.store != nil {
		if err := c.store.Save(key, compressed, tokens, int64(len(content))); err != nil {
			logging.Warn("cache store save failed", "path", key.Path, "error", err)
		}
	}
}

// GetOrCompute returns the cached content for key, computing and caching
// it on a miss. Concurrent callers for the same key share one compute.
func (c *ContentCache) GetOrCompute(key Key, compute func() ([]byte, int, error)) ([]byte, int, error) {
	if data, tokens, ok := c.Get(key); ok {
		return data, tokens, nil
	}

	type result struct {
		data   []byte
		tokens int
	}
	v, err, _ := c.group.Do(key.String(), func() (interface{}, error) {
		// A concurrent caller may have settled the key while we queued.
		if data, tokens, ok := c.Get(key); ok {
			return result{data, tokens}, nil
		}
		data, tokens, err := compute()
		if err != nil {
			return nil, err
		}
		c.Put(key, data, tokens)
		return result{data, tokens}, nil
	})
	if err != nil {
		return nil, 0, err
	}
	r := v.(result)
	return r.data, r.tokens, nil
}

// RemovePath drops every entry for path, across all signatures. Returns
// the number of in-memory entries removed.
func (c *ContentCache) RemovePath(path string) int {
	c.mu.Lock()
	removed := 0
	for key, e := range c.entries {
		if key.Path == path {
			c.removeLocked(e)
			removed++
		}
	}
	c.mu.Unlock()

	if c.store != nil {
		if err := c.store.DeletePath(path); err != nil {
			logging.Warn("cache store delete failed", "path", path, "error", err)
		}
	}
	return removed
}

// Clear drops every entry, in memory and on disk.
func (c *ContentCache) Clear() {
	c.mu.Lock()
	c.entries = make(map[Key]*centry)
	c.evict = list.New()
	c.rawBytes = 0
	c.mu.Unlock()

	if c.store != nil {
		if err := c.store.Clear(); err != nil {
			logging.Warn("cache store clear failed", "error", err)
		}
	}
}

// Stats returns current counters and occupancy.
func (c *ContentCache) Stats() Stats {
	c.mu.Lock()
	entries := len(c.entries)
	rawBytes := c.rawBytes
	c.mu.Unlock()

	return Stats{
		Hits:      c.hits.Load(),
		Misses:    c.misses.Load(),
		DiskHits:  c.diskHits.Load(),
		Evictions: c.evictions.Load(),
		Entries:   entries,
		RawBytes:  rawBytes,
	}
}

// Len returns the number of in-memory entries.
func (c *ContentCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

func (c *ContentCache) insert(key Key, compressed []byte, tokens, rawSize int) {
	if c.budget > 0 && int64(rawSize) > c.budget {
		return
	}

	now := time.Now()
	c.mu.Lock()
	defer c.mu.Unlock()

	if e, ok := c.entries[key]; ok {
		c.rawBytes += int64(rawSize) - int64(e.rawSize)
		e.compressed = compressed
		e.tokens = tokens
		e.rawSize = rawSize
		e.storedAt = now
		e.accessedAt = now
		c.evict.MoveToFront(e.element)
	} else {
		e := &centry{
			key:        key,
			compressed: compressed,
			tokens:     tokens,
			rawSize:    rawSize,
			storedAt:   now,
			accessedAt: now,
		}
		e.element = c.evict.PushFront(e)
		c.entries[key] = e
		c.rawBytes += int64(rawSize)
	}

	for c.budget > 0 && c.rawBytes > c.budget {
		elem := c.evict.Back()
		if elem == nil {
			break
		}
		c.removeLocked(elem.Value.(*centry))
		c.evictions.Add(1)
	}
}

func (c *ContentCache) deleteKey(key Key) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if e, ok := c.entries[key]; ok {
		c.removeLocked(e)
	}
}

func (c *ContentCache) removeLocked(e *centry) {
	c.evict.Remove(e.element)
	delete(c.entries, e.key)
	c.rawBytes -= int64(e.rawSize)
}
